// Package indicator handles desktop notifications and audio cues for session state.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/silencevoice/silencevoice/internal/audio"
	"github.com/silencevoice/silencevoice/internal/config"
)

// Controller is the session-facing indicator contract.
type Controller interface {
	ShowRecording(context.Context)
	ShowProcessing(context.Context)
	ShowTranscription(context.Context, string)
	ShowError(context.Context, string)
	CueStop(context.Context)
	CueComplete(context.Context)
	CueError(context.Context)
	Hide(context.Context)
}

// Nop is a Controller that does nothing.
type Nop struct{}

func (Nop) ShowRecording(context.Context)             {}
func (Nop) ShowProcessing(context.Context)            {}
func (Nop) ShowTranscription(context.Context, string) {}
func (Nop) ShowError(context.Context, string)         {}
func (Nop) CueStop(context.Context)                   {}
func (Nop) CueComplete(context.Context)               {}
func (Nop) CueError(context.Context)                  {}
func (Nop) Hide(context.Context)                      {}

// Desktop routes indicator output to freedesktop notifications and plays
// synthesized cues through Pulse.
type Desktop struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages
	play     func(context.Context, audio.PCM) error

	mu                    sync.Mutex
	desktopNotificationID uint32
	soundMu               sync.Mutex
	cues                  sync.WaitGroup
}

// NewDesktop creates an indicator controller from config.
func NewDesktop(cfg config.IndicatorConfig, logger *slog.Logger) *Desktop {
	return &Desktop{
		cfg:      cfg,
		logger:   logger,
		messages: defaultMessages,
		play: func(ctx context.Context, pcm audio.PCM) error {
			return audio.Play(ctx, pcm, "silencevoice cue")
		},
	}
}

// New picks the configured backend.
func New(cfg config.IndicatorConfig, logger *slog.Logger) Controller {
	notifications := cfg.Enable && !strings.EqualFold(strings.TrimSpace(cfg.Backend), "none")
	if !notifications && !cfg.SoundEnable {
		return Nop{}
	}
	return NewDesktop(cfg, logger)
}

// ShowRecording signals recording start and emits the start cue.
func (d *Desktop) ShowRecording(ctx context.Context) {
	d.playCue(cueStart)
	d.show(ctx, urgencyNormal, 300000, d.messages.recording)
}

// ShowProcessing signals that a clip is with the recognition backend.
func (d *Desktop) ShowProcessing(ctx context.Context) {
	d.show(ctx, urgencyNormal, 300000, d.messages.processing)
}

// ShowTranscription briefly surfaces a finished transcription.
func (d *Desktop) ShowTranscription(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		text = d.messages.empty
	}
	d.show(ctx, urgencyLow, 4000, text)
}

// ShowError displays an error-state message.
func (d *Desktop) ShowError(ctx context.Context, text string) {
	if text == "" {
		text = d.messages.errorText
	}
	timeout := d.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = 1200
	}
	d.show(ctx, urgencyCritical, timeout, text)
}

// CueStop emits the stop cue.
func (d *Desktop) CueStop(context.Context) { d.playCue(cueStop) }

// CueComplete emits the recognition-complete cue.
func (d *Desktop) CueComplete(context.Context) { d.playCue(cueComplete) }

// CueError emits the failure cue.
func (d *Desktop) CueError(context.Context) { d.playCue(cueError) }

// Hide dismisses the active notification.
func (d *Desktop) Hide(ctx context.Context) {
	if !d.notificationsEnabled() {
		return
	}
	d.run(ctx, d.dismissDesktop)
}

// Wait blocks until queued cues finished playing.
func (d *Desktop) Wait() { d.cues.Wait() }

func (d *Desktop) notificationsEnabled() bool {
	return d.cfg.Enable && strings.EqualFold(strings.TrimSpace(d.cfg.Backend), "desktop")
}

func (d *Desktop) show(ctx context.Context, level urgency, timeoutMS int, text string) {
	if !d.notificationsEnabled() {
		return
	}
	d.run(ctx, func(ctx context.Context) error {
		return d.notifyDesktop(ctx, notification{Summary: text, Urgency: level, TimeoutMS: timeoutMS})
	})
}

// notifyDesktop sends a replaceable desktop notification and stores its ID.
func (d *Desktop) notifyDesktop(ctx context.Context, n notification) error {
	d.mu.Lock()
	n.ReplaceID = d.desktopNotificationID
	d.mu.Unlock()

	n.AppName = strings.TrimSpace(d.cfg.DesktopAppName)
	if n.AppName == "" {
		n.AppName = "silencevoice"
	}

	id, err := desktopNotify(ctx, n)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.desktopNotificationID = id
	d.mu.Unlock()
	return nil
}

// dismissDesktop closes the current notification ID when present.
func (d *Desktop) dismissDesktop(ctx context.Context) error {
	d.mu.Lock()
	id := d.desktopNotificationID
	d.desktopNotificationID = 0
	d.mu.Unlock()

	if id == 0 {
		return nil
	}
	return desktopDismiss(ctx, id)
}

// run executes an indicator operation with a bounded timeout.
func (d *Desktop) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		d.log("indicator dispatch failed", err)
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (d *Desktop) playCue(kind cueKind) {
	if !d.cfg.SoundEnable {
		return
	}
	d.cues.Add(1)
	go func() {
		defer d.cues.Done()
		d.soundMu.Lock()
		defer d.soundMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := emitCue(ctx, kind, d.play); err != nil {
			d.log("indicator audio cue failed", err)
		}
	}()
}

// log emits debug-only indicator failures to the runtime logger.
func (d *Desktop) log(message string, err error) {
	if d.logger == nil || err == nil {
		return
	}
	d.logger.Debug(message, "error", err.Error())
}
