package recognizer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/silencevoice/silencevoice/internal/version"
)

// Health issues GET {baseURL}/ and expects a 2xx answer.
func (d *Dispatcher) Health(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, d.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("recognition backend unreachable at %s: %w", d.baseURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("recognition backend health returned HTTP %d", resp.StatusCode)
	}
	return nil
}
