package speech

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/silencevoice/silencevoice/internal/audio"
)

// CommandPlayer pipes encoded audio into an external player's stdin.
type CommandPlayer struct {
	Argv []string
}

// PlayEncoded runs the player and waits for it to exit.
func (p CommandPlayer) PlayEncoded(ctx context.Context, data []byte) error {
	_, err := runCommandWithInput(ctx, p.Argv, data)
	return err
}

// PCMPlayer plays decoded samples.
type PCMPlayer interface {
	PlayPCM(ctx context.Context, pcm audio.PCM) error
}

// PulsePlayer plays PCM on the default Pulse sink.
type PulsePlayer struct{}

func (PulsePlayer) PlayPCM(ctx context.Context, pcm audio.PCM) error {
	return audio.Play(ctx, pcm, "silencevoice speech")
}

// runCommandWithInput executes argv with input on stdin and returns stdout.
func runCommandWithInput(ctx context.Context, argv []string, input []byte) ([]byte, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("command argv cannot be empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("run %s: %w: %s", argv[0], err, detail)
		}
		return nil, fmt.Errorf("run %s: %w", argv[0], err)
	}
	return stdout.Bytes(), nil
}
