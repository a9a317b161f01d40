package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxMessageBytes bounds one newline-delimited message in either direction.
const maxMessageBytes = 64 << 10

// ErrMessageTooLarge is returned when a peer sends a line over maxMessageBytes.
var ErrMessageTooLarge = errors.New("ipc message too large")

// writeMessage encodes v as one JSON line.
func writeMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(data) >= maxMessageBytes {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// readMessage returns the next line, newline included.
func readMessage(r io.Reader) ([]byte, error) {
	line, err := bufio.NewReader(io.LimitReader(r, maxMessageBytes)).ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) >= maxMessageBytes {
			return nil, ErrMessageTooLarge
		}
		return nil, err
	}
	return line, nil
}
