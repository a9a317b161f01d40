package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ErrAlreadyRunning means another session owner answers on the socket.
var ErrAlreadyRunning = errors.New("silencevoice session already running")

// SocketName is the socket file created under XDG_RUNTIME_DIR.
const SocketName = "silencevoice.sock"

// RuntimeSocketPath resolves the session socket path.
func RuntimeSocketPath() (string, error) {
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", errors.New("XDG_RUNTIME_DIR is not set")
	}
	return filepath.Join(runtimeDir, SocketName), nil
}

// AcquireOptions tune how a stale socket is detected and replaced.
type AcquireOptions struct {
	// ProbeTimeout bounds the status roundtrip used to detect a live owner.
	ProbeTimeout time.Duration
	// Retries is how many stale removals are attempted before giving up.
	Retries int
	// OnStale is called with the path after a dead owner's socket was removed.
	OnStale func(path string)
}

// Owner is the single session owner's claim on the socket path.
type Owner struct {
	net.Listener
	path string
	once sync.Once
}

// Path returns the socket file path.
func (o *Owner) Path() string { return o.path }

// Release closes the listener and unlinks the socket file. It is safe to
// call more than once.
func (o *Owner) Release() error {
	var err error
	o.once.Do(func() {
		_ = o.Listener.Close()
		if rmErr := os.Remove(o.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = fmt.Errorf("remove socket %s: %w", o.path, rmErr)
		}
	})
	return err
}

// Acquire claims path for this process. A socket that answers a status probe
// belongs to a live owner and yields ErrAlreadyRunning; one that refuses
// connections is removed and the listen is retried. An inconclusive probe
// never unlinks the file.
func Acquire(ctx context.Context, path string, opts AcquireOptions) (*Owner, error) {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 180 * time.Millisecond
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure runtime socket dir: %w", err)
	}

	for attempt := 0; ; attempt++ {
		listener, err := net.Listen("unix", path)
		if err == nil {
			_ = os.Chmod(path, 0o600)
			return &Owner{Listener: listener, path: path}, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen unix %s: %w", path, err)
		}
		if attempt >= opts.Retries+1 {
			return nil, fmt.Errorf("failed to acquire socket %s after %d retries", path, opts.Retries)
		}

		alive, probeErr := Probe(ctx, path, opts.ProbeTimeout)
		if alive {
			return nil, ErrAlreadyRunning
		}
		if probeErr != nil {
			return nil, fmt.Errorf("probe existing socket %s: %w", path, probeErr)
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
		}
		if opts.OnStale != nil {
			opts.OnStale(path)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(25*(attempt+1)) * time.Millisecond):
		}
	}
}
