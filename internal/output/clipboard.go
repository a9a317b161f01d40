// Package output copies finished transcriptions to the system clipboard.
package output

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	cb "github.com/atotto/clipboard"
	"github.com/silencevoice/silencevoice/internal/config"
	"github.com/silencevoice/silencevoice/internal/logging"
)

// Committer writes transcriptions to the clipboard when enabled.
type Committer struct {
	enable bool
	write  func(string) error
	logger *slog.Logger
}

// NewCommitter constructs a clipboard committer from runtime config.
func NewCommitter(cfg config.ClipboardConfig, logger *slog.Logger) *Committer {
	return &Committer{enable: cfg.Enable, write: cb.WriteAll, logger: logging.OrDiscard(logger)}
}

// Enabled reports whether commits reach the clipboard.
func (c *Committer) Enabled() bool { return c != nil && c.enable }

// Commit copies text to the clipboard. Blank text is skipped.
func (c *Committer) Commit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if !c.Enabled() || text == "" {
		return nil
	}

	commitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- c.write(text) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("set clipboard: %w", err)
		}
		c.logger.Debug("clipboard set", "text_length", len(text))
		return nil
	case <-commitCtx.Done():
		return fmt.Errorf("set clipboard: %w", commitCtx.Err())
	}
}
