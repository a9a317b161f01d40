package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/silencevoice/silencevoice/internal/version"
)

const maxAudioBytes = 16 << 20

// AudioPlayer plays an encoded audio stream such as MP3.
type AudioPlayer interface {
	PlayEncoded(ctx context.Context, audio []byte) error
}

// Remote asks the synthesis proxy for MP3 audio and hands it to a player.
type Remote struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
	Player  AudioPlayer
}

// NewRemote builds the remote provider.
func NewRemote(url string, timeout time.Duration, player AudioPlayer) *Remote {
	return &Remote{
		URL:     strings.TrimSpace(url),
		Client:  &http.Client{},
		Timeout: timeout,
		Player:  player,
	}
}

func (r *Remote) Name() string { return "remote" }

// Speak fails on any non-2xx status or an empty audio body.
func (r *Remote) Speak(ctx context.Context, text string) error {
	audio, err := r.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	if r.Player == nil {
		return fmt.Errorf("no audio player configured")
	}
	return r.Player.PlayEncoded(ctx, audio)
}

// Synthesize fetches the encoded audio for text.
func (r *Remote) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if r.URL == "" {
		return nil, fmt.Errorf("remote synthesis url is empty")
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("encode synthesis request: %w", err)
	}

	reqCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("synthesis returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("read synthesis audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("synthesis returned empty audio")
	}
	return audio, nil
}
