package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/silencevoice/silencevoice/internal/capture"
	"github.com/silencevoice/silencevoice/internal/capture/capturetest"
	"github.com/silencevoice/silencevoice/internal/fsm"
	"github.com/silencevoice/silencevoice/internal/recognizer"
	"github.com/silencevoice/silencevoice/internal/recorder"
	"github.com/silencevoice/silencevoice/internal/speech"
	"github.com/stretchr/testify/require"
)

type fakeRecognizer struct {
	mu    sync.Mutex
	clips []string
	calls atomic.Int32
	fn    func(ctx context.Context, clip recorder.Clip) (recognizer.Transcription, error)
}

func (f *fakeRecognizer) Recognize(ctx context.Context, clip recorder.Clip, _ time.Duration) (recognizer.Transcription, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.clips = append(f.clips, string(clip.Data))
	f.mu.Unlock()
	if f.fn == nil {
		return recognizer.Transcription{}, nil
	}
	return f.fn(ctx, clip)
}

func (f *fakeRecognizer) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.clips...)
}

func recognizes(text string) *fakeRecognizer {
	return &fakeRecognizer{fn: func(context.Context, recorder.Clip) (recognizer.Transcription, error) {
		return recognizer.Transcription{Text: text}, nil
	}}
}

type fakeSpeaker struct {
	mu        sync.Mutex
	texts     []string
	hold      chan struct{}
	active    atomic.Int32
	maxActive atomic.Int32
}

func (s *fakeSpeaker) Speak(ctx context.Context, text string) speech.Outcome {
	n := s.active.Add(1)
	for {
		peak := s.maxActive.Load()
		if n <= peak || s.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}
	if s.hold != nil {
		select {
		case <-s.hold:
		case <-ctx.Done():
		}
	}
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	s.active.Add(-1)
	return speech.Outcome{Provider: "fake"}
}

func (s *fakeSpeaker) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type fakeCommitter struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeCommitter) Commit(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeCommitter) committed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type harness struct {
	ctrl    *Controller
	driver  *capturetest.FakeDriver
	speaker *fakeSpeaker
	cancel  context.CancelFunc
	runErr  chan error
}

func startHarness(t *testing.T, driver *capturetest.FakeDriver, opts Options) *harness {
	t.Helper()
	if driver == nil {
		driver = &capturetest.FakeDriver{}
	}
	speaker, _ := opts.Speaker.(*fakeSpeaker)
	if opts.Speaker == nil {
		speaker = &fakeSpeaker{}
		opts.Speaker = speaker
	}
	opts.Binder = capture.NewBinder(driver, capture.Constraints{Width: 1280, Height: 720, Audio: true}, nil)
	if opts.Recorder == nil {
		opts.Recorder = recorder.New("video/webm;codecs=vp8", nil)
	}

	ctrl := NewController(opts)
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{ctrl: ctrl, driver: driver, speaker: speaker, cancel: cancel, runErr: make(chan error, 1)}
	go func() { h.runErr <- ctrl.Run(ctx) }()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.ctrl.Done()
}

func (h *harness) record(t *testing.T, fragments ...string) {
	t.Helper()
	_, err := h.ctrl.StartRecording(context.Background())
	require.NoError(t, err)
	for _, f := range fragments {
		h.driver.Device().Emit([]byte(f))
	}
	_, err = h.ctrl.StopRecording(context.Background())
	require.NoError(t, err)
}

func waitFor(t *testing.T, ctrl *Controller, cond func(State) bool) State {
	t.Helper()
	require.Eventually(t, func() bool { return cond(ctrl.State()) }, 2*time.Second, 5*time.Millisecond)
	return ctrl.State()
}

func idleAfter(cycle int) func(State) bool {
	return func(s State) bool { return s.Cycle == cycle && !s.Processing && !s.Recording }
}

func TestRecognitionSuccessSetsTranscriptionAndSpeaks(t *testing.T) {
	rec := recognizes("hello")
	committer := &fakeCommitter{}
	h := startHarness(t, nil, Options{Recognizer: rec, Committer: committer, AutoSpeak: true})

	h.record(t, "ab", "cd")
	state := waitFor(t, h.ctrl, idleAfter(1))

	require.Equal(t, "hello", state.Transcription)
	require.Equal(t, fsm.StateIdle, state.Phase)
	require.Equal(t, []string{"abcd"}, rec.seen())
	require.Eventually(t, func() bool { return len(h.speaker.spoken()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"hello"}, h.speaker.spoken())
	require.Eventually(t, func() bool { return len(committer.committed()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestAutoSpeakOffStaysSilent(t *testing.T) {
	h := startHarness(t, nil, Options{Recognizer: recognizes("quiet please"), AutoSpeak: false})

	h.record(t, "x")
	state := waitFor(t, h.ctrl, idleAfter(1))
	require.Equal(t, "quiet please", state.Transcription)

	time.Sleep(30 * time.Millisecond)
	require.Empty(t, h.speaker.spoken())
}

func TestEmptyRecognizedTextIsNotSpoken(t *testing.T) {
	for _, text := range []string{"", "  \n"} {
		committer := &fakeCommitter{}
		h := startHarness(t, nil, Options{Recognizer: recognizes(text), Committer: committer, AutoSpeak: true})

		h.record(t, "x")
		state := waitFor(t, h.ctrl, idleAfter(1))
		require.Equal(t, text, state.Transcription)

		time.Sleep(30 * time.Millisecond)
		require.Empty(t, h.speaker.spoken())
		require.Empty(t, committer.committed())
	}
}

func TestRecognizedTextIsStoredAsReceived(t *testing.T) {
	h := startHarness(t, nil, Options{Recognizer: recognizes(" Hello there. "), AutoSpeak: true})

	h.record(t, "x")
	state := waitFor(t, h.ctrl, idleAfter(1))
	require.Equal(t, " Hello there. ", state.Transcription)
	require.Eventually(t, func() bool { return len(h.speaker.spoken()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRecognitionFailureMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "timeout", err: fmt.Errorf("%w after 60s", recognizer.ErrTimeout), want: MessageTimeout},
		{name: "backend message", err: &recognizer.BackendError{Status: 500, Message: "model crashed"}, want: "Error: model crashed"},
		{name: "backend without message", err: &recognizer.BackendError{Status: 502}, want: MessageGeneric},
		{name: "transport", err: errors.New("connection refused"), want: MessageGeneric},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := &fakeRecognizer{fn: func(context.Context, recorder.Clip) (recognizer.Transcription, error) {
				return recognizer.Transcription{}, tc.err
			}}
			h := startHarness(t, nil, Options{Recognizer: rec, AutoSpeak: true})

			h.record(t, "x")
			state := waitFor(t, h.ctrl, idleAfter(1))
			require.Equal(t, tc.want, state.Transcription)
			require.Equal(t, fsm.StateIdle, state.Phase)
			require.Empty(t, h.speaker.spoken())
		})
	}
}

func TestStartWhileProcessingIsRejected(t *testing.T) {
	release := make(chan struct{})
	rec := &fakeRecognizer{fn: func(ctx context.Context, _ recorder.Clip) (recognizer.Transcription, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return recognizer.Transcription{Text: "done"}, nil
	}}
	h := startHarness(t, nil, Options{Recognizer: rec})

	h.record(t, "x")
	waitFor(t, h.ctrl, func(s State) bool { return s.Processing })

	state, err := h.ctrl.StartRecording(context.Background())
	require.ErrorIs(t, err, ErrBusy)
	require.True(t, state.Processing)
	require.False(t, state.Recording)
	require.Equal(t, 1, state.Cycle)

	close(release)
	state = waitFor(t, h.ctrl, idleAfter(1))
	require.Equal(t, "done", state.Transcription)
}

func TestStartWhileRecordingIsRejected(t *testing.T) {
	h := startHarness(t, nil, Options{Recognizer: recognizes("x")})

	_, err := h.ctrl.StartRecording(context.Background())
	require.NoError(t, err)
	state, err := h.ctrl.StartRecording(context.Background())
	require.ErrorIs(t, err, ErrBusy)
	require.True(t, state.Recording)
	require.Equal(t, 1, state.Cycle)
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	h := startHarness(t, nil, Options{Recognizer: recognizes("x")})
	before := waitFor(t, h.ctrl, func(s State) bool { return s.StreamReady })

	state, err := h.ctrl.StopRecording(context.Background())
	require.ErrorIs(t, err, ErrNotRecording)
	require.False(t, state.Recording)
	require.False(t, state.Processing)
	require.Equal(t, before.Transcription, state.Transcription)
	require.Equal(t, before.Cycle, state.Cycle)
}

func TestFragmentsDoNotLeakAcrossCycles(t *testing.T) {
	rec := recognizes("ok")
	h := startHarness(t, nil, Options{Recognizer: rec})

	h.record(t, "one-a", "one-b")
	waitFor(t, h.ctrl, idleAfter(1))
	h.record(t, "two")
	waitFor(t, h.ctrl, idleAfter(2))

	require.Equal(t, []string{"one-aone-b", "two"}, rec.seen())
	require.Equal(t, []string{"video/webm;codecs=vp8", "video/webm;codecs=vp8"}, h.driver.Device().MimeTypes())
}

func TestEmptyClipSkipsBackend(t *testing.T) {
	rec := recognizes("unused")
	h := startHarness(t, nil, Options{Recognizer: rec})

	h.record(t)
	state := waitFor(t, h.ctrl, idleAfter(1))
	require.Equal(t, MessageEmptyClip, state.Transcription)
	require.Zero(t, rec.calls.Load())
}

func TestCannedPhraseSpeaksWithoutCamera(t *testing.T) {
	driver := &capturetest.FakeDriver{OpenErr: capture.ErrPermissionDenied}
	h := startHarness(t, driver, Options{Recognizer: recognizes("x")})

	state := waitFor(t, h.ctrl, func(s State) bool { return s.CaptureError != "" })
	require.Equal(t, "Unable to access camera. Please grant camera permissions.", state.CaptureError)
	require.False(t, state.StreamReady)

	state, err := h.ctrl.SelectCannedPhrase(context.Background(), "Thank you")
	require.NoError(t, err)
	require.Equal(t, "Thank you", state.Transcription)
	require.Eventually(t, func() bool { return len(h.speaker.spoken()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"Thank you"}, h.speaker.spoken())
}

func TestCaptureFailureRejectsRecording(t *testing.T) {
	driver := &capturetest.FakeDriver{OpenErr: errors.New("no video node")}
	h := startHarness(t, driver, Options{Recognizer: recognizes("x")})

	_, err := h.ctrl.StartRecording(context.Background())
	require.ErrorIs(t, err, ErrNoStream)
	require.Contains(t, err.Error(), "Camera unavailable")
	require.Equal(t, 1, driver.Opens())
}

func TestCannedPhraseDuringProcessingIsOverwrittenByResult(t *testing.T) {
	release := make(chan struct{})
	rec := &fakeRecognizer{fn: func(ctx context.Context, _ recorder.Clip) (recognizer.Transcription, error) {
		<-release
		return recognizer.Transcription{Text: "recognized"}, nil
	}}
	h := startHarness(t, nil, Options{Recognizer: rec})

	h.record(t, "x")
	waitFor(t, h.ctrl, func(s State) bool { return s.Processing })

	state, err := h.ctrl.SelectCannedPhrase(context.Background(), "Please wait")
	require.NoError(t, err)
	require.Equal(t, "Please wait", state.Transcription)
	require.True(t, state.Processing)

	close(release)
	state = waitFor(t, h.ctrl, idleAfter(1))
	require.Equal(t, "recognized", state.Transcription)
}

func TestRequestSpeak(t *testing.T) {
	h := startHarness(t, nil, Options{})

	_, err := h.ctrl.RequestSpeak(context.Background())
	require.ErrorIs(t, err, ErrNothingToSpeak)

	_, err = h.ctrl.SelectCannedPhrase(context.Background(), "Hello")
	require.NoError(t, err)
	_, err = h.ctrl.RequestSpeak(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(h.speaker.spoken()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"Hello", "Hello"}, h.speaker.spoken())
}

func TestToggleAutoSpeak(t *testing.T) {
	h := startHarness(t, nil, Options{AutoSpeak: true})

	state, err := h.ctrl.ToggleAutoSpeak(context.Background())
	require.NoError(t, err)
	require.False(t, state.AutoSpeak)

	state, err = h.ctrl.ToggleAutoSpeak(context.Background())
	require.NoError(t, err)
	require.True(t, state.AutoSpeak)

	state, err = h.ctrl.SetAutoSpeak(context.Background(), false)
	require.NoError(t, err)
	require.False(t, state.AutoSpeak)
}

func TestSpeechIsSerializedInOrder(t *testing.T) {
	speaker := &fakeSpeaker{hold: make(chan struct{})}
	h := startHarness(t, nil, Options{Speaker: speaker})

	for _, phrase := range []string{"Yes", "No", "Goodbye"} {
		_, err := h.ctrl.SelectCannedPhrase(context.Background(), phrase)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		speaker.hold <- struct{}{}
	}

	require.Eventually(t, func() bool { return len(speaker.spoken()) == 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"Yes", "No", "Goodbye"}, speaker.spoken())
	require.Equal(t, int32(1), speaker.maxActive.Load())
}

func TestTeardownReleasesStreamOnceAndCancelsRecognition(t *testing.T) {
	cancelled := make(chan struct{})
	rec := &fakeRecognizer{fn: func(ctx context.Context, _ recorder.Clip) (recognizer.Transcription, error) {
		<-ctx.Done()
		close(cancelled)
		return recognizer.Transcription{}, ctx.Err()
	}}
	h := startHarness(t, nil, Options{Recognizer: rec})

	h.record(t, "x")
	waitFor(t, h.ctrl, func(s State) bool { return s.Processing })
	require.Eventually(t, func() bool { return rec.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	h.stop()
	require.NoError(t, <-h.runErr)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("recognition was not cancelled")
	}

	state := h.ctrl.State()
	require.Equal(t, fsm.StateClosed, state.Phase)
	require.False(t, state.Processing)
	require.Equal(t, 1, h.driver.Device().Closes())

	_, err := h.ctrl.StartRecording(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	_, err = h.ctrl.SelectCannedPhrase(context.Background(), "Hello")
	require.ErrorIs(t, err, ErrClosed)
}

func TestTeardownWhileRecordingAbortsClip(t *testing.T) {
	rec := recognizes("unused")
	h := startHarness(t, nil, Options{Recognizer: rec})

	_, err := h.ctrl.StartRecording(context.Background())
	require.NoError(t, err)
	h.driver.Device().Emit([]byte("partial"))

	h.stop()
	require.Zero(t, rec.calls.Load())
	require.Equal(t, 1, h.driver.Device().Closes())
	require.False(t, h.ctrl.State().Recording)
}

func TestRunTwiceIsRejected(t *testing.T) {
	h := startHarness(t, nil, Options{})
	waitFor(t, h.ctrl, func(s State) bool { return s.StreamReady })
	require.Error(t, h.ctrl.Run(context.Background()))
}

func TestObserversSeeProcessingBracket(t *testing.T) {
	var (
		mu     sync.Mutex
		phases []bool
	)
	observer := ObserverFunc(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		if len(phases) == 0 || phases[len(phases)-1] != s.Processing {
			phases = append(phases, s.Processing)
		}
	})
	h := startHarness(t, nil, Options{Recognizer: recognizes("hi"), Observers: []Observer{observer}})

	h.record(t, "x")
	waitFor(t, h.ctrl, idleAfter(1))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []bool{false, true, false}, phases)
}

func TestClipDumpWritesDebugFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "debug")
	h := startHarness(t, nil, Options{Recognizer: recognizes("ok"), ClipDumpDir: dir})

	h.record(t, "webm-data")
	waitFor(t, h.ctrl, idleAfter(1))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.Equal(t, "webm-data", string(data))
}

func TestUserMessage(t *testing.T) {
	require.Equal(t, MessageTimeout, UserMessage(recognizer.ErrTimeout))
	require.Equal(t, "Error: bad clip", UserMessage(fmt.Errorf("wrapped: %w", &recognizer.BackendError{Status: 422, Message: "bad clip"})))
	require.Equal(t, MessageGeneric, UserMessage(errors.New("boom")))
}
