// Package capture acquires and releases the live camera/microphone stream.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/silencevoice/silencevoice/internal/config"
	"github.com/silencevoice/silencevoice/internal/logging"
)

var (
	// ErrPermissionDenied means the OS refused access to the camera.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrDeviceUnavailable means no usable camera/microphone could be opened.
	ErrDeviceUnavailable = errors.New("camera unavailable")
	// ErrReleased is returned when recording from a stream after Release.
	ErrReleased = errors.New("capture stream released")
)

// Constraints are the requested stream properties. Width and Height are
// ideals; the driver may negotiate something else.
type Constraints struct {
	VideoDevice   string
	Width         int
	Height        int
	Facing        string
	Audio         bool
	AudioInput    string
	AudioFallback string
}

// ConstraintsFromConfig maps the capture config section to Constraints.
func ConstraintsFromConfig(cfg config.CaptureConfig) Constraints {
	return Constraints{
		VideoDevice:   cfg.VideoDevice,
		Width:         cfg.Width,
		Height:        cfg.Height,
		Facing:        cfg.Facing,
		Audio:         cfg.Audio,
		AudioInput:    cfg.AudioInput,
		AudioFallback: cfg.AudioFallback,
	}
}

// Settings describe what the driver actually opened.
type Settings struct {
	VideoDevice string
	Width       int
	Height      int
	AudioSource string
}

// Driver opens platform capture devices.
type Driver interface {
	Open(ctx context.Context, c Constraints) (Device, error)
}

// Device is an opened camera/microphone pair.
type Device interface {
	Settings() Settings
	// Record starts encoding into mimeType and calls sink for every fragment.
	Record(ctx context.Context, mimeType string, sink func([]byte)) (Recording, error)
	Close() error
}

// Recording is an in-progress encode. Stop returns after the final fragment
// has been passed to the sink.
type Recording interface {
	Stop() error
}

// Binder acquires capture streams for the session.
type Binder struct {
	driver      Driver
	constraints Constraints
	logger      *slog.Logger
}

func NewBinder(driver Driver, constraints Constraints, logger *slog.Logger) *Binder {
	return &Binder{driver: driver, constraints: constraints, logger: logging.OrDiscard(logger)}
}

// Acquire opens the camera and microphone. There is no retry; callers surface
// the failure and stop.
func (b *Binder) Acquire(ctx context.Context) (*Stream, error) {
	device, err := b.driver.Open(ctx, b.constraints)
	if err != nil {
		if !errors.Is(err, ErrPermissionDenied) && !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		b.logger.Error("capture acquire failed", "error", err.Error(), "permission_denied", errors.Is(err, ErrPermissionDenied))
		return nil, err
	}

	stream := &Stream{
		id:         uuid.NewString(),
		device:     device,
		acquiredAt: time.Now(),
		logger:     b.logger,
	}
	settings := device.Settings()
	b.logger.Info("capture stream acquired",
		"stream", stream.id,
		"video_device", settings.VideoDevice,
		"width", settings.Width,
		"height", settings.Height,
		"requested_width", b.constraints.Width,
		"requested_height", b.constraints.Height,
		"audio_source", settings.AudioSource,
	)
	return stream, nil
}

// Stream is the live source owned by one session and lent to the recorder.
type Stream struct {
	id         string
	device     Device
	acquiredAt time.Time
	logger     *slog.Logger

	released   atomic.Bool
	once       sync.Once
	releaseErr error
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Settings() Settings { return s.device.Settings() }

// Released reports whether Release has run.
func (s *Stream) Released() bool { return s.released.Load() }

// Record starts a platform recording on the stream.
func (s *Stream) Record(ctx context.Context, mimeType string, sink func([]byte)) (Recording, error) {
	if s.released.Load() {
		return nil, ErrReleased
	}
	return s.device.Record(ctx, mimeType, sink)
}

// Release stops every track. Safe to call more than once.
func (s *Stream) Release() error {
	s.once.Do(func() {
		s.released.Store(true)
		s.releaseErr = s.device.Close()
		s.logger.Info("capture stream released",
			"stream", s.id,
			"held_ms", time.Since(s.acquiredAt).Milliseconds(),
		)
	})
	return s.releaseErr
}

// IsPermissionDenied reports whether err came from a refused camera permission.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// UserMessage is the stable text shown when acquisition fails.
func UserMessage(err error) string {
	if IsPermissionDenied(err) {
		return "Unable to access camera. Please grant camera permissions."
	}
	return "Camera unavailable. Check that a camera is connected and not in use."
}
