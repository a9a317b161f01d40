// Package speech speaks text through an ordered list of synthesis providers.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/silencevoice/silencevoice/internal/logging"
)

// Provider synthesizes and plays text. Speak blocks until playback finished.
type Provider interface {
	Name() string
	Speak(ctx context.Context, text string) error
}

// Attempt records one provider try.
type Attempt struct {
	Provider string
	Err      error
	Elapsed  time.Duration
}

// Outcome summarizes one chain run. Provider is empty when nothing played.
type Outcome struct {
	Provider string
	Attempts []Attempt
}

// Spoken reports whether any provider played the text.
func (o Outcome) Spoken() bool { return o.Provider != "" }

// Err joins every attempt error when nothing played.
func (o Outcome) Err() error {
	if o.Spoken() {
		return nil
	}
	errs := make([]error, 0, len(o.Attempts))
	for _, attempt := range o.Attempts {
		if attempt.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", attempt.Provider, attempt.Err))
		}
	}
	return errors.Join(errs...)
}

// Chain tries providers in order and stops at the first success.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain builds a chain; nil providers are skipped.
func NewChain(logger *slog.Logger, providers ...Provider) *Chain {
	kept := make([]Provider, 0, len(providers))
	for _, provider := range providers {
		if provider != nil {
			kept = append(kept, provider)
		}
	}
	return &Chain{providers: kept, logger: logging.OrDiscard(logger)}
}

// Providers returns provider names in try order.
func (c *Chain) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for _, provider := range c.providers {
		names = append(names, provider.Name())
	}
	return names
}

// Speak never surfaces errors to the caller; failures are logged and
// recorded in the outcome. Blank text is ignored.
func (c *Chain) Speak(ctx context.Context, text string) Outcome {
	text = strings.TrimSpace(text)
	if text == "" {
		return Outcome{}
	}

	var outcome Outcome
	for _, provider := range c.providers {
		if ctx.Err() != nil {
			break
		}
		started := time.Now()
		err := provider.Speak(ctx, text)
		attempt := Attempt{Provider: provider.Name(), Err: err, Elapsed: time.Since(started)}
		outcome.Attempts = append(outcome.Attempts, attempt)

		if err == nil {
			outcome.Provider = provider.Name()
			c.logger.Info("speech played",
				"provider", attempt.Provider,
				"text_length", len(text),
				"elapsed_ms", attempt.Elapsed.Milliseconds(),
				"attempts", len(outcome.Attempts),
			)
			return outcome
		}
		c.logger.Warn("speech provider failed",
			"provider", attempt.Provider,
			"error", err.Error(),
			"elapsed_ms", attempt.Elapsed.Milliseconds(),
		)
	}

	if err := outcome.Err(); err != nil {
		c.logger.Error("speech failed on every provider", "error", err.Error())
	}
	return outcome
}
