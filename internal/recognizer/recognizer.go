// Package recognizer uploads clips to the visual speech recognition backend.
package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/silencevoice/silencevoice/internal/logging"
	"github.com/silencevoice/silencevoice/internal/recorder"
	"github.com/silencevoice/silencevoice/internal/version"
)

const (
	// DefaultTimeout bounds one recognition round trip.
	DefaultTimeout = 60 * time.Second

	processPath  = "/process-video"
	formField    = "video"
	formFilename = "recording.webm"

	maxResponseBytes = 1 << 20
)

// ErrTimeout is returned when the backend did not answer within the timeout.
var ErrTimeout = errors.New("recognition timed out")

// BackendError is a non-2xx answer from the backend.
type BackendError struct {
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("recognition backend returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("recognition backend returned HTTP %d: %s", e.Status, e.Message)
}

// IsTimeout reports whether err is a recognition timeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// Transcription is a successful recognition result.
type Transcription struct {
	Text      string
	RawOutput string
	Changes   []string
	Latency   time.Duration
}

type response struct {
	CorrectedText *string         `json:"corrected_text"`
	RawOutput     string          `json:"raw_output"`
	ListOfChanges json.RawMessage `json:"list_of_changes"`
}

// Dispatcher posts clips to {baseURL}/process-video.
type Dispatcher struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// New builds a dispatcher. A nil client uses a dedicated http.Client; the
// per-request timeout is always applied through the request context.
func New(baseURL string, client *http.Client, logger *slog.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Transport: &http.Transport{
			MaxIdleConns:        2,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		}}
	}
	return &Dispatcher{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  client,
		logger:  logging.OrDiscard(logger),
	}
}

// Endpoint is the full recognition URL.
func (d *Dispatcher) Endpoint() string {
	return d.baseURL + processPath
}

// Recognize uploads clip and waits up to timeout for the transcription.
// There is no retry.
func (d *Dispatcher) Recognize(ctx context.Context, clip recorder.Clip, timeout time.Duration) (Transcription, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	body, contentType, err := encodeClip(clip)
	if err != nil {
		return Transcription{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.Endpoint(), body)
	if err != nil {
		return Transcription{}, fmt.Errorf("build recognition request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	started := time.Now()
	d.logger.Info("recognition request",
		"clip", clip.ID,
		"clip_bytes", len(clip.Data),
		"clip_size", humanize.Bytes(uint64(len(clip.Data))),
		"endpoint", d.Endpoint(),
		"timeout_ms", timeout.Milliseconds(),
	)

	resp, err := d.client.Do(req)
	if err != nil {
		return Transcription{}, d.classify(ctx, reqCtx, err, started)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Transcription{}, d.classify(ctx, reqCtx, fmt.Errorf("read recognition response: %w", err), started)
	}
	latency := time.Since(started)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		backendErr := &BackendError{Status: resp.StatusCode, Message: errorMessage(payload)}
		d.logger.Warn("recognition backend error",
			"clip", clip.ID,
			"status", resp.StatusCode,
			"message", backendErr.Message,
			"latency_ms", latency.Milliseconds(),
		)
		return Transcription{}, backendErr
	}

	var decoded response
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Transcription{}, fmt.Errorf("decode recognition response: %w", err)
	}

	result := Transcription{
		RawOutput: decoded.RawOutput,
		Changes:   decodeChanges(decoded.ListOfChanges),
		Latency:   latency,
	}
	if decoded.CorrectedText != nil {
		result.Text = *decoded.CorrectedText
	}

	d.logger.Info("recognition complete",
		"clip", clip.ID,
		"status", resp.StatusCode,
		"latency_ms", latency.Milliseconds(),
		"text_length", len(result.Text),
		"raw_output", result.RawOutput,
		"changes", len(result.Changes),
	)
	return result, nil
}

// classify maps transport failures; an expired request context becomes
// ErrTimeout while a cancelled parent passes through untouched.
func (d *Dispatcher) classify(parent, reqCtx context.Context, err error, started time.Time) error {
	elapsed := time.Since(started)
	if parent.Err() != nil {
		return fmt.Errorf("recognition aborted: %w", parent.Err())
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		d.logger.Warn("recognition timed out", "elapsed_ms", elapsed.Milliseconds())
		return fmt.Errorf("%w after %s", ErrTimeout, elapsed.Round(time.Millisecond))
	}
	d.logger.Warn("recognition request failed", "error", err.Error(), "elapsed_ms", elapsed.Milliseconds())
	return fmt.Errorf("send recognition request: %w", err)
}

func encodeClip(clip recorder.Clip) (io.Reader, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	mediaType := clip.MediaType
	if mediaType == "" {
		mediaType = "video/webm"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, formField, formFilename))
	header.Set("Content-Type", mediaType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(clip.Data); err != nil {
		return nil, "", fmt.Errorf("write clip: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &body, writer.FormDataContentType(), nil
}

// errorMessage pulls a human message from common JSON error shapes:
// {"detail": "..."}, {"detail": {"message": "..."}}, {"message": "..."}, {"error": "..."}.
func errorMessage(payload []byte) string {
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(payload, &shape); err != nil {
		return ""
	}
	for _, key := range []string{"detail", "message", "error"} {
		raw, ok := shape[key]
		if !ok {
			continue
		}
		var text string
		if json.Unmarshal(raw, &text) == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &nested) == nil && strings.TrimSpace(nested.Message) != "" {
			return strings.TrimSpace(nested.Message)
		}
	}
	return ""
}

// decodeChanges accepts list_of_changes as either a list of strings or a
// single newline-separated string.
func decodeChanges(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return list
	}
	var text string
	if json.Unmarshal(raw, &text) == nil {
		out := make([]string, 0)
		for _, line := range strings.Split(text, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, line)
			}
		}
		return out
	}
	return nil
}
