package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// requestReadTimeout bounds how long a client may take to send its line.
const requestReadTimeout = 2 * time.Second

// Handler applies one intent and reports the resulting session snapshot.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Serve answers one request per connection until ctx is cancelled or the
// listener is closed. In-flight handlers finish before Serve returns.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	var wg sync.WaitGroup

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return fmt.Errorf("accept IPC connection: %w", err)
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			defer c.Close()
			_ = writeMessage(c, serveConn(ctx, c, handler))
		}(conn)
	}
}

func serveConn(ctx context.Context, c net.Conn, handler Handler) (resp Response) {
	_ = c.SetReadDeadline(time.Now().Add(requestReadTimeout))
	line, err := readMessage(c)
	if err != nil {
		return Response{Error: fmt.Sprintf("read request: %v", err)}
	}
	_ = c.SetReadDeadline(time.Time{})

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Response{Error: fmt.Sprintf("decode request: %v", err)}
	}
	if strings.TrimSpace(req.Command) == "" {
		return Response{Error: ErrEmptyCommand.Error()}
	}

	defer func() {
		if r := recover(); r != nil {
			resp = Response{Error: fmt.Sprintf("handle %q: panic: %v", req.Command, r)}
		}
	}()
	return handler.Handle(ctx, req)
}
