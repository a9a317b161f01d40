// Package tts serves the speech synthesis proxy backed by ElevenLabs.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/silencevoice/silencevoice/internal/version"
)

const (
	// CredentialEnv names the environment variable holding the upstream key.
	CredentialEnv = "ELEVENLABS_API_KEY"

	DefaultBaseURL = "https://api.elevenlabs.io"
	DefaultVoiceID = "pNInz6obpgDQGcFmaJgB"
	DefaultModelID = "eleven_multilingual_v2"

	maxUpstreamBytes = 16 << 20
)

// ErrMissingCredential means the proxy has no upstream key configured.
var ErrMissingCredential = errors.New("ElevenLabs API key not configured on server")

// UpstreamError is a non-2xx answer from ElevenLabs. Details holds the
// upstream JSON body, or the raw text when it was not JSON.
type UpstreamError struct {
	Status  int
	Message string
	Details json.RawMessage
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("elevenlabs returned HTTP %d: %s", e.Status, e.Message)
}

// VoiceSettings tunes the synthesized voice.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

// ElevenLabs calls the text-to-speech endpoint for one fixed voice.
type ElevenLabs struct {
	APIKey   string
	BaseURL  string
	VoiceID  string
	ModelID  string
	Settings VoiceSettings
	HTTP     *http.Client
}

// NewElevenLabs builds a client with the fixed voice and model.
func NewElevenLabs(apiKey string) *ElevenLabs {
	return &ElevenLabs{
		APIKey:   strings.TrimSpace(apiKey),
		BaseURL:  DefaultBaseURL,
		VoiceID:  DefaultVoiceID,
		ModelID:  DefaultModelID,
		Settings: VoiceSettings{Stability: 0.5, SimilarityBoost: 0.5},
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Synthesize returns MP3 audio for text.
func (c *ElevenLabs) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if c.APIKey == "" {
		return nil, ErrMissingCredential
	}

	payload, err := json.Marshal(synthesisRequest{Text: text, ModelID: c.ModelID, VoiceSettings: c.Settings})
	if err != nil {
		return nil, fmt.Errorf("encode synthesis request: %w", err)
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + "/v1/text-to-speech/" + c.VoiceID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("xi-api-key", c.APIKey)

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call elevenlabs: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBytes))
	if err != nil {
		return nil, fmt.Errorf("read elevenlabs response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newUpstreamError(resp.StatusCode, body)
	}
	return body, nil
}

func newUpstreamError(status int, body []byte) *UpstreamError {
	upstream := &UpstreamError{Status: status, Message: "ElevenLabs API Error"}
	if json.Valid(body) {
		upstream.Details = json.RawMessage(body)
		var shaped struct {
			Detail struct {
				Message string `json:"message"`
			} `json:"detail"`
		}
		if json.Unmarshal(body, &shaped) == nil && shaped.Detail.Message != "" {
			upstream.Message = shaped.Detail.Message
		}
		return upstream
	}
	raw, _ := json.Marshal(strings.TrimSpace(string(body)))
	upstream.Details = raw
	return upstream
}
