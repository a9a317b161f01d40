// Package session owns one capture session: a single event loop applies user
// intents and platform completions to the session State in arrival order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/silencevoice/silencevoice/internal/capture"
	"github.com/silencevoice/silencevoice/internal/fsm"
	"github.com/silencevoice/silencevoice/internal/indicator"
	"github.com/silencevoice/silencevoice/internal/logging"
	"github.com/silencevoice/silencevoice/internal/recognizer"
	"github.com/silencevoice/silencevoice/internal/recorder"
	"github.com/silencevoice/silencevoice/internal/speech"
)

var (
	// ErrClosed is returned for intents submitted after teardown.
	ErrClosed = errors.New("session closed")
	// ErrBusy rejects startRecording while recording or processing.
	ErrBusy = errors.New("recording or processing already in progress")
	// ErrNotRecording rejects stopRecording when nothing is being recorded.
	ErrNotRecording = errors.New("not recording")
	// ErrNoStream rejects startRecording when no capture stream is bound.
	ErrNoStream = errors.New("no camera stream")
	// ErrNothingToSpeak rejects requestSpeak with an empty transcription.
	ErrNothingToSpeak = errors.New("nothing to speak")
)

// Messages written to the transcription when a cycle fails.
const (
	MessageTimeout   = "Error: Recognition timed out. Please try recording again."
	MessageGeneric   = "Error: Unable to process video. Make sure the backend is running."
	MessageEmptyClip = "Error: No video was recorded. Please try again."
)

const speechQueueSize = 32

// State is the observable session snapshot.
type State struct {
	Phase         fsm.State `json:"phase"`
	Recording     bool      `json:"recording"`
	Processing    bool      `json:"processing"`
	Transcription string    `json:"transcription"`
	AutoSpeak     bool      `json:"auto_speak"`
	StreamReady   bool      `json:"stream_ready"`
	CaptureError  string    `json:"capture_error,omitempty"`
	Cycle         int       `json:"cycle"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Recognizer turns a clip into text.
type Recognizer interface {
	Recognize(ctx context.Context, clip recorder.Clip, timeout time.Duration) (recognizer.Transcription, error)
}

// Speaker plays text. It must absorb its own failures.
type Speaker interface {
	Speak(ctx context.Context, text string) speech.Outcome
}

// Committer receives every non-empty recognized transcription.
type Committer interface {
	Commit(ctx context.Context, text string) error
}

// Observer is notified with a snapshot after every state change. Observe
// runs on the event loop and must not block.
type Observer interface {
	Observe(State)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(State)

func (f ObserverFunc) Observe(s State) { f(s) }

// Options wire the controller's collaborators.
type Options struct {
	Binder           *capture.Binder
	Recorder         *recorder.Recorder
	Recognizer       Recognizer
	RecognizeTimeout time.Duration
	Speaker          Speaker
	Committer        Committer
	Indicator        indicator.Controller
	Observers        []Observer
	Phrases          []string
	AutoSpeak        bool
	ClipDumpDir      string
	Logger           *slog.Logger
}

type eventKind int

const (
	evStart eventKind = iota + 1
	evStop
	evSay
	evSpeak
	evAutoSpeak
	evClip
	evRecognized
)

type event struct {
	kind eventKind

	text      string
	autoSpeak *bool

	cycle  int
	clip   recorder.Clip
	clipOK bool
	result recognizer.Transcription
	err    error

	reply chan reply
}

type reply struct {
	state   State
	message string
	err     error
}

// Controller runs the session event loop.
type Controller struct {
	binder    *capture.Binder
	rec       *recorder.Recorder
	recognize Recognizer
	timeout   time.Duration
	speaker   Speaker
	commit    Committer
	indicator indicator.Controller
	observers []Observer
	phrases   []string
	dumpDir   string
	logger    *slog.Logger

	events  chan event
	done    chan struct{}
	running atomic.Bool

	mu       sync.RWMutex
	snapshot State

	// Owned by the loop goroutine.
	state     State
	stream    *capture.Stream
	recCancel context.CancelFunc
	speechQ   chan string
	wg        sync.WaitGroup
}

// NewController builds a controller; nil collaborators get inert defaults.
func NewController(opts Options) *Controller {
	logger := logging.OrDiscard(opts.Logger)
	rec := opts.Recorder
	if rec == nil {
		rec = recorder.New("", logger)
	}
	ind := opts.Indicator
	if ind == nil {
		ind = indicator.Nop{}
	}
	timeout := opts.RecognizeTimeout
	if timeout <= 0 {
		timeout = recognizer.DefaultTimeout
	}

	initial := State{Phase: fsm.StateIdle, AutoSpeak: opts.AutoSpeak, UpdatedAt: time.Now()}
	return &Controller{
		binder:    opts.Binder,
		rec:       rec,
		recognize: opts.Recognizer,
		timeout:   timeout,
		speaker:   opts.Speaker,
		commit:    opts.Committer,
		indicator: ind,
		observers: append([]Observer(nil), opts.Observers...),
		phrases:   append([]string(nil), opts.Phrases...),
		dumpDir:   opts.ClipDumpDir,
		logger:    logger,
		events:    make(chan event),
		done:      make(chan struct{}),
		snapshot:  initial,
		state:     initial,
		speechQ:   make(chan string, speechQueueSize),
	}
}

// State returns the latest published snapshot.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Phrases returns the canned phrase catalogue.
func (c *Controller) Phrases() []string {
	return append([]string(nil), c.phrases...)
}

// Done is closed once Run has torn the session down.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Run binds the capture stream and processes events until ctx is cancelled.
// A capture failure does not stop the loop: canned phrases keep working.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("session controller already running")
	}
	defer close(c.done)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.bindStream(runCtx)
	c.publish()

	c.wg.Add(1)
	go c.speechWorker(runCtx)

	for {
		select {
		case <-runCtx.Done():
			c.teardown()
			return nil
		case ev := <-c.events:
			r := c.dispatch(runCtx, ev)
			c.publish()
			if ev.reply != nil {
				r.state = c.state
				ev.reply <- r
			}
		}
	}
}

// StartRecording begins a new recording cycle.
func (c *Controller) StartRecording(ctx context.Context) (State, error) {
	r, err := c.submit(ctx, event{kind: evStart})
	return r.state, err
}

// StopRecording finalizes the current cycle and dispatches recognition.
func (c *Controller) StopRecording(ctx context.Context) (State, error) {
	r, err := c.submit(ctx, event{kind: evStop})
	return r.state, err
}

// SelectCannedPhrase shows text and speaks it immediately.
func (c *Controller) SelectCannedPhrase(ctx context.Context, text string) (State, error) {
	r, err := c.submit(ctx, event{kind: evSay, text: text})
	return r.state, err
}

// RequestSpeak speaks the current transcription.
func (c *Controller) RequestSpeak(ctx context.Context) (State, error) {
	r, err := c.submit(ctx, event{kind: evSpeak})
	return r.state, err
}

// ToggleAutoSpeak flips auto-speak.
func (c *Controller) ToggleAutoSpeak(ctx context.Context) (State, error) {
	r, err := c.submit(ctx, event{kind: evAutoSpeak})
	return r.state, err
}

// SetAutoSpeak forces auto-speak on or off.
func (c *Controller) SetAutoSpeak(ctx context.Context, on bool) (State, error) {
	r, err := c.submit(ctx, event{kind: evAutoSpeak, autoSpeak: &on})
	return r.state, err
}

func (c *Controller) submit(ctx context.Context, ev event) (reply, error) {
	ev.reply = make(chan reply, 1)
	select {
	case c.events <- ev:
	case <-c.done:
		return reply{state: c.State()}, ErrClosed
	case <-ctx.Done():
		return reply{state: c.State()}, ctx.Err()
	}
	// The loop always answers an accepted event before it can exit.
	r := <-ev.reply
	return r, r.err
}

// post delivers an internal completion event unless the loop is gone.
func (c *Controller) post(ctx context.Context, ev event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	case <-c.done:
	}
}

func (c *Controller) dispatch(ctx context.Context, ev event) reply {
	switch ev.kind {
	case evStart:
		return c.startRecording(ctx)
	case evStop:
		return c.stopRecording(ctx)
	case evSay:
		return c.selectCannedPhrase(ev.text)
	case evSpeak:
		return c.requestSpeak()
	case evAutoSpeak:
		return c.setAutoSpeak(ev.autoSpeak)
	case evClip:
		c.clipFinalized(ctx, ev)
	case evRecognized:
		c.recognitionFinished(ctx, ev)
	default:
		c.logger.Error("unknown session event", "kind", int(ev.kind))
	}
	return reply{}
}

func (c *Controller) bindStream(ctx context.Context) {
	if c.binder == nil {
		c.state.CaptureError = capture.UserMessage(capture.ErrDeviceUnavailable)
		return
	}
	stream, err := c.binder.Acquire(ctx)
	if err != nil {
		c.state.CaptureError = capture.UserMessage(err)
		c.logger.Error("capture stream unavailable", "error", err.Error())
		c.indicator.ShowError(ctx, c.state.CaptureError)
		return
	}
	c.stream = stream
	c.state.StreamReady = true
	c.state.CaptureError = ""
}

func (c *Controller) startRecording(ctx context.Context) reply {
	if c.state.Recording || c.state.Processing {
		return reply{err: ErrBusy}
	}
	if c.stream == nil {
		if c.state.CaptureError != "" {
			return reply{err: fmt.Errorf("%w: %s", ErrNoStream, c.state.CaptureError)}
		}
		return reply{err: ErrNoStream}
	}

	if err := c.rec.Begin(ctx, c.stream); err != nil {
		c.logger.Error("begin recording failed", "error", err.Error())
		c.indicator.ShowError(ctx, "Unable to start recording")
		return reply{err: fmt.Errorf("begin recording: %w", err)}
	}

	c.transition(fsm.EventStart)
	c.state.Cycle++
	c.state.Recording = true
	c.indicator.ShowRecording(ctx)
	c.logger.Info("recording started", "cycle", c.state.Cycle)
	return reply{message: "recording"}
}

func (c *Controller) stopRecording(ctx context.Context) reply {
	if !c.state.Recording {
		return reply{err: ErrNotRecording}
	}

	clips, ok := c.rec.End()
	c.state.Recording = false
	if !ok {
		c.fail(ctx, MessageEmptyClip, ErrNotRecording)
		return reply{err: ErrNotRecording}
	}

	c.transition(fsm.EventStop)
	c.state.Processing = true
	c.indicator.CueStop(ctx)
	c.indicator.ShowProcessing(ctx)

	cycle := c.state.Cycle
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case clip, ok := <-clips:
			c.post(ctx, event{kind: evClip, cycle: cycle, clip: clip, clipOK: ok})
		case <-ctx.Done():
		}
	}()
	c.logger.Info("recording stopped", "cycle", cycle)
	return reply{message: "processing"}
}

func (c *Controller) clipFinalized(ctx context.Context, ev event) {
	if ev.cycle != c.state.Cycle || !c.state.Processing {
		c.logger.Debug("stale clip discarded", "cycle", ev.cycle)
		return
	}
	if !ev.clipOK || ev.clip.Empty() {
		err := c.rec.Err()
		if err == nil {
			err = errors.New("empty clip")
		}
		c.fail(ctx, MessageEmptyClip, err)
		return
	}
	if c.recognize == nil {
		c.fail(ctx, MessageGeneric, errors.New("no recognizer configured"))
		return
	}

	c.dumpClip(ev.clip)

	recCtx, cancel := context.WithCancel(ctx)
	c.recCancel = cancel
	cycle := ev.cycle
	clip := ev.clip
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		result, err := c.recognize.Recognize(recCtx, clip, c.timeout)
		c.post(ctx, event{kind: evRecognized, cycle: cycle, result: result, err: err})
	}()
}

func (c *Controller) recognitionFinished(ctx context.Context, ev event) {
	if ev.cycle != c.state.Cycle || !c.state.Processing {
		c.logger.Debug("stale recognition result discarded", "cycle", ev.cycle)
		return
	}
	if c.recCancel != nil {
		c.recCancel()
		c.recCancel = nil
	}

	if ev.err != nil {
		c.fail(ctx, UserMessage(ev.err), ev.err)
		return
	}

	text := ev.result.Text
	c.state.Transcription = text
	c.transition(fsm.EventRecognized)
	c.indicator.CueComplete(ctx)
	c.indicator.ShowTranscription(ctx, text)
	c.logger.Info("recognition applied",
		"cycle", ev.cycle,
		"text_length", len(text),
		"latency_ms", ev.result.Latency.Milliseconds(),
	)

	if strings.TrimSpace(text) != "" {
		c.commitAsync(ctx, text)
		if c.state.AutoSpeak {
			c.enqueueSpeech(text)
		}
	}
	c.state.Processing = false
}

func (c *Controller) fail(ctx context.Context, message string, err error) {
	c.state.Transcription = message
	c.transition(fsm.EventFail)
	c.transition(fsm.EventReset)
	c.indicator.CueError(ctx)
	c.indicator.ShowError(ctx, message)
	if err != nil {
		c.logger.Error("session cycle failed", "cycle", c.state.Cycle, "error", err.Error())
	}
	c.state.Processing = false
}

func (c *Controller) selectCannedPhrase(text string) reply {
	text = strings.TrimSpace(text)
	if text == "" {
		return reply{err: errors.New("phrase text is empty")}
	}
	c.state.Transcription = text
	c.enqueueSpeech(text)
	return reply{message: "speaking"}
}

func (c *Controller) requestSpeak() reply {
	if strings.TrimSpace(c.state.Transcription) == "" {
		return reply{err: ErrNothingToSpeak}
	}
	c.enqueueSpeech(c.state.Transcription)
	return reply{message: "speaking"}
}

func (c *Controller) setAutoSpeak(value *bool) reply {
	if value == nil {
		c.state.AutoSpeak = !c.state.AutoSpeak
	} else {
		c.state.AutoSpeak = *value
	}
	if c.state.AutoSpeak {
		return reply{message: "auto-speak on"}
	}
	return reply{message: "auto-speak off"}
}

func (c *Controller) commitAsync(ctx context.Context, text string) {
	if c.commit == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.commit.Commit(ctx, text); err != nil {
			c.logger.Warn("transcription commit failed", "error", err.Error())
		}
	}()
}

func (c *Controller) enqueueSpeech(text string) {
	if c.speaker == nil {
		return
	}
	select {
	case c.speechQ <- text:
	default:
		c.logger.Warn("speech queue full; dropping utterance", "text_length", len(text))
	}
}

// speechWorker plays queued utterances one at a time in FIFO order.
func (c *Controller) speechWorker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-c.speechQ:
			if c.speaker != nil {
				c.speaker.Speak(ctx, text)
			}
		}
	}
}

func (c *Controller) teardown() {
	c.rec.Abort()
	if c.recCancel != nil {
		c.recCancel()
		c.recCancel = nil
	}
	c.wg.Wait()

	if c.stream != nil {
		if err := c.stream.Release(); err != nil {
			c.logger.Warn("release capture stream failed", "error", err.Error())
		}
	}

	c.transition(fsm.EventClose)
	c.state.Recording = false
	c.state.Processing = false
	c.state.StreamReady = false
	c.publish()

	hideCtx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
	defer cancel()
	c.indicator.Hide(hideCtx)
	c.logger.Info("session closed", "cycles", c.state.Cycle)
}

func (c *Controller) transition(event fsm.Event) {
	next, err := fsm.Transition(c.state.Phase, event)
	if err != nil {
		c.logger.Debug("phase transition rejected", "phase", c.state.Phase, "event", event, "error", err.Error())
		return
	}
	c.state.Phase = next
}

func (c *Controller) publish() {
	c.state.UpdatedAt = time.Now()
	snapshot := c.state

	c.mu.Lock()
	c.snapshot = snapshot
	c.mu.Unlock()

	for _, observer := range c.observers {
		observer.Observe(snapshot)
	}
}

// UserMessage maps a recognition failure to the transcription text.
func UserMessage(err error) string {
	var backendErr *recognizer.BackendError
	switch {
	case recognizer.IsTimeout(err):
		return MessageTimeout
	case errors.As(err, &backendErr) && backendErr.Message != "":
		return "Error: " + backendErr.Message
	default:
		return MessageGeneric
	}
}
