package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/silencevoice/silencevoice/internal/ipc"
)

// Handle serves IPC intents for the active session owner.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch strings.ToLower(strings.TrimSpace(req.Command)) {
	case "status":
		return response(c.State(), "status", nil)
	case "start":
		state, err := c.StartRecording(ctx)
		return response(state, "recording", err)
	case "stop":
		state, err := c.StopRecording(ctx)
		return response(state, "processing", err)
	case "toggle":
		if c.State().Recording {
			state, err := c.StopRecording(ctx)
			return response(state, "processing", err)
		}
		state, err := c.StartRecording(ctx)
		return response(state, "recording", err)
	case "speak":
		state, err := c.RequestSpeak(ctx)
		return response(state, "speaking", err)
	case "say":
		phrase, err := c.resolvePhrase(req.Text, req.Literal)
		if err != nil {
			return response(c.State(), "", err)
		}
		state, err := c.SelectCannedPhrase(ctx, phrase)
		return response(state, "speaking: "+phrase, err)
	case "autospeak":
		return c.handleAutoSpeak(ctx, req.Text)
	case "phrases":
		return response(c.State(), FormatPhrases(c.phrases), nil)
	default:
		return response(c.State(), "", fmt.Errorf("unknown command: %s", req.Command))
	}
}

func (c *Controller) handleAutoSpeak(ctx context.Context, value string) ipc.Response {
	var (
		state State
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "toggle":
		state, err = c.ToggleAutoSpeak(ctx)
	case "on", "true", "1":
		state, err = c.SetAutoSpeak(ctx, true)
	case "off", "false", "0":
		state, err = c.SetAutoSpeak(ctx, false)
	default:
		return response(c.State(), "", fmt.Errorf("invalid autospeak value %q (want on, off, or toggle)", value))
	}
	message := "auto-speak off"
	if state.AutoSpeak {
		message = "auto-speak on"
	}
	return response(state, message, err)
}

// resolvePhrase accepts a 1-based catalogue index or literal phrase text.
func (c *Controller) resolvePhrase(raw string, literal bool) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("say requires a phrase or its number")
	}
	if literal {
		return raw, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 1 || n > len(c.phrases) {
			return "", fmt.Errorf("phrase number %d out of range (1-%d); use `say --text %d` to speak the number", n, len(c.phrases), n)
		}
		return c.phrases[n-1], nil
	}
	return raw, nil
}

// FormatPhrases renders the catalogue as numbered lines.
func FormatPhrases(phrases []string) string {
	var b strings.Builder
	for i, phrase := range phrases {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, phrase)
	}
	return b.String()
}

func response(state State, message string, err error) ipc.Response {
	resp := ipc.Response{
		OK:            err == nil,
		State:         string(state.Phase),
		Transcription: state.Transcription,
		AutoSpeak:     state.AutoSpeak,
		Recording:     state.Recording,
		Processing:    state.Processing,
	}
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Message = message
	return resp
}
