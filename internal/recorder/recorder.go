// Package recorder turns a capture stream's fragment sequence into one clip
// per recording session.
package recorder

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/silencevoice/silencevoice/internal/capture"
	"github.com/silencevoice/silencevoice/internal/logging"
)

type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateFinalizing State = "finalizing"
)

// ErrBusy is returned by Begin when a recording session is already active.
var ErrBusy = errors.New("recorder busy")

// Source is the part of a capture stream the recorder borrows. Record must
// not invoke sink before it returns.
type Source interface {
	Record(ctx context.Context, mimeType string, sink func([]byte)) (capture.Recording, error)
}

// Clip is one finalized recording. Data is owned by the clip.
type Clip struct {
	ID        string
	Data      []byte
	MediaType string
	Fragments int
	Duration  time.Duration
}

// Empty reports whether the clip carries no media bytes.
func (c Clip) Empty() bool { return len(c.Data) == 0 }

// Recorder runs Idle -> Recording -> Finalizing -> Idle.
type Recorder struct {
	mimeType string
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	gen       uint64
	fragments [][]byte
	dropped   int
	active    capture.Recording
	startedAt time.Time
	err       error

	// finalizing tracks End goroutines still stopping the platform recorder.
	finalizing sync.WaitGroup
}

// New returns a recorder that requests mimeType (e.g. "video/webm;codecs=vp8")
// from the stream and tags clips with its container type.
func New(mimeType string, logger *slog.Logger) *Recorder {
	return &Recorder{mimeType: mimeType, logger: logging.OrDiscard(logger), state: StateIdle}
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the platform error from the most recent finalize, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Begin clears any previous fragments and starts recording from src.
func (r *Recorder) Begin(ctx context.Context, src Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle {
		return ErrBusy
	}

	r.gen++
	gen := r.gen
	r.fragments = nil
	r.dropped = 0
	r.err = nil

	active, err := src.Record(ctx, r.mimeType, func(fragment []byte) {
		r.appendFragment(gen, fragment)
	})
	if err != nil {
		return err
	}

	r.active = active
	r.state = StateRecording
	r.startedAt = time.Now()
	r.logger.Debug("recording begun", "mime_type", r.mimeType)
	return nil
}

// DataAvailable appends a fragment to the active session. Empty fragments
// and fragments arriving while idle are discarded.
func (r *Recorder) DataAvailable(fragment []byte) {
	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()
	r.appendFragment(gen, fragment)
}

func (r *Recorder) appendFragment(gen uint64, fragment []byte) {
	if len(fragment) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen || r.state == StateIdle {
		return
	}
	r.fragments = append(r.fragments, append([]byte(nil), fragment...))
}

// End stops the active session. The returned channel yields the assembled
// clip once and is then closed; it closes without a value when the session
// was aborted or the platform produced nothing. ok is false when idle.
func (r *Recorder) End() (clips <-chan Clip, ok bool) {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return nil, false
	}
	r.state = StateFinalizing
	gen := r.gen
	active := r.active
	startedAt := r.startedAt
	r.finalizing.Add(1)
	r.mu.Unlock()

	out := make(chan Clip, 1)
	go func() {
		defer r.finalizing.Done()
		defer close(out)

		var stopErr error
		if active != nil {
			stopErr = active.Stop()
		}

		r.mu.Lock()
		if r.gen != gen {
			r.mu.Unlock()
			return
		}
		clip := Clip{
			ID:        uuid.NewString(),
			MediaType: containerType(r.mimeType),
			Fragments: len(r.fragments),
			Duration:  time.Since(startedAt),
		}
		clip.Data = concat(r.fragments)
		r.fragments = nil
		r.active = nil
		r.state = StateIdle
		r.err = stopErr
		r.mu.Unlock()

		if stopErr != nil {
			r.logger.Warn("platform recorder stop failed", "error", stopErr.Error(), "clip_bytes", len(clip.Data))
			if clip.Empty() {
				return
			}
		}

		r.logger.Info("clip finalized",
			"clip", clip.ID,
			"clip_bytes", len(clip.Data),
			"clip_size", humanize.Bytes(uint64(len(clip.Data))),
			"fragments", clip.Fragments,
			"duration_ms", clip.Duration.Milliseconds(),
		)
		out <- clip
	}()
	return out, true
}

// Abort discards the active session without producing a clip. It returns
// only after any in-flight finalize has stopped the platform recorder.
func (r *Recorder) Abort() {
	defer r.finalizing.Wait()

	r.mu.Lock()
	if r.state == StateIdle {
		r.mu.Unlock()
		return
	}
	wasRecording := r.state == StateRecording
	active := r.active
	r.gen++
	r.fragments = nil
	r.active = nil
	r.state = StateIdle
	r.mu.Unlock()

	if wasRecording && active != nil {
		if err := active.Stop(); err != nil {
			r.logger.Debug("stop aborted recording", "error", err.Error())
		}
	}
	r.logger.Info("recording aborted")
}

func concat(fragments [][]byte) []byte {
	total := 0
	for _, f := range fragments {
		total += len(f)
	}
	out := make([]byte, 0, total)
	for _, f := range fragments {
		out = append(out, f...)
	}
	return out
}

// containerType strips codec parameters: "video/webm;codecs=vp8" -> "video/webm".
func containerType(mimeType string) string {
	container, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(container))
}
