package speech

import (
	"context"
	"fmt"

	"github.com/silencevoice/silencevoice/internal/audio"
)

// Local synthesizes with an on-device engine that writes WAV to stdout
// (espeak-ng --stdout by default) and plays the samples through Pulse.
type Local struct {
	Argv   []string
	Player PCMPlayer
}

// NewLocal builds the local provider.
func NewLocal(argv []string, player PCMPlayer) *Local {
	if player == nil {
		player = PulsePlayer{}
	}
	return &Local{Argv: argv, Player: player}
}

func (l *Local) Name() string { return "local" }

// Speak feeds text to the engine on stdin.
func (l *Local) Speak(ctx context.Context, text string) error {
	out, err := runCommandWithInput(ctx, l.Argv, []byte(text))
	if err != nil {
		return fmt.Errorf("local synthesis: %w", err)
	}
	pcm, err := audio.DecodeWAV(out)
	if err != nil {
		return fmt.Errorf("decode local synthesis: %w", err)
	}
	return l.Player.PlayPCM(ctx, pcm)
}
