package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/silencevoice/silencevoice/internal/audio"
	"github.com/silencevoice/silencevoice/internal/config"
	"github.com/silencevoice/silencevoice/internal/logging"
)

const stopGrace = 5 * time.Second

// FFmpegDriver opens a V4L2 camera plus a Pulse microphone and records them
// through an ffmpeg subprocess that writes WebM to stdout.
type FFmpegDriver struct {
	Argv          []string
	FragmentBytes int
	// SelectAudio resolves the microphone; defaults to audio.SelectSource.
	SelectAudio func(ctx context.Context, preferred, fallback string) (audio.Selection, error)
	// VideoGlob lists candidate camera nodes for VideoDevice "default".
	VideoGlob string

	logger *slog.Logger
}

func NewFFmpegDriver(cfg config.CaptureConfig, logger *slog.Logger) *FFmpegDriver {
	return &FFmpegDriver{
		Argv:          append([]string(nil), cfg.FFmpeg.Argv...),
		FragmentBytes: cfg.FragmentBytes,
		SelectAudio:   audio.SelectSource,
		VideoGlob:     "/dev/video*",
		logger:        logging.OrDiscard(logger),
	}
}

func (d *FFmpegDriver) Open(ctx context.Context, c Constraints) (Device, error) {
	if len(d.Argv) == 0 {
		return nil, fmt.Errorf("%w: ffmpeg command is empty", ErrDeviceUnavailable)
	}
	if _, err := exec.LookPath(d.Argv[0]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	node, file, err := d.openVideo(c.VideoDevice)
	if err != nil {
		return nil, err
	}

	settings := Settings{VideoDevice: node, Width: c.Width, Height: c.Height}
	if c.Audio {
		selectAudio := d.SelectAudio
		if selectAudio == nil {
			selectAudio = audio.SelectSource
		}
		selection, err := selectAudio(ctx, c.AudioInput, c.AudioFallback)
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("%w: select microphone: %w", ErrDeviceUnavailable, err)
		}
		if selection.Warning != "" {
			d.logger.Warn("microphone fallback", "warning", selection.Warning)
		}
		settings.AudioSource = selection.Source.ID
	}

	if !strings.EqualFold(c.Facing, "user") {
		d.logger.Debug("facing mode is advisory for v4l2 devices", "facing", c.Facing)
	}

	return &ffmpegDevice{
		argv:          d.Argv,
		fragmentBytes: max(d.FragmentBytes, 1),
		settings:      settings,
		hold:          file,
		logger:        d.logger,
	}, nil
}

// ProbeVideo reports which camera node Open would use, without holding it.
func (d *FFmpegDriver) ProbeVideo(device string) (string, error) {
	node, file, err := d.openVideo(device)
	if err != nil {
		return "", err
	}
	_ = file.Close()
	return node, nil
}

// VideoNodes lists candidate camera nodes in index order.
func (d *FFmpegDriver) VideoNodes() []string {
	matches, _ := filepath.Glob(d.VideoGlob)
	sort.Slice(matches, func(i, j int) bool { return videoIndex(matches[i]) < videoIndex(matches[j]) })
	return matches
}

// openVideo opens the configured camera node, or the first one that opens
// when the device is "default". The handle is held until Close.
func (d *FFmpegDriver) openVideo(device string) (string, *os.File, error) {
	candidates := []string{device}
	if device == "" || device == "default" {
		candidates = d.VideoNodes()
	}
	if len(candidates) == 0 {
		return "", nil, fmt.Errorf("%w: no video devices found", ErrDeviceUnavailable)
	}

	var firstErr error
	for _, node := range candidates {
		file, err := os.OpenFile(node, os.O_RDWR, 0)
		if err == nil {
			return node, file, nil
		}
		if firstErr == nil || errors.Is(err, fs.ErrPermission) {
			firstErr = classifyOpenError(node, err)
		}
	}
	return "", nil, firstErr
}

func classifyOpenError(node string, err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EPERM):
		return fmt.Errorf("%w: open %s: %w", ErrPermissionDenied, node, err)
	default:
		return fmt.Errorf("%w: open %s: %w", ErrDeviceUnavailable, node, err)
	}
}

func videoIndex(path string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(path), "video"))
	if err != nil {
		return 1 << 30
	}
	return n
}

type ffmpegDevice struct {
	argv          []string
	fragmentBytes int
	settings      Settings
	hold          io.Closer
	logger        *slog.Logger
}

func (d *ffmpegDevice) Settings() Settings { return d.settings }

func (d *ffmpegDevice) Close() error {
	if d.hold == nil {
		return nil
	}
	return d.hold.Close()
}

func (d *ffmpegDevice) Record(ctx context.Context, mimeType string, sink func([]byte)) (Recording, error) {
	args, err := encoderArgs(d.settings, mimeType)
	if err != nil {
		return nil, err
	}
	argv := append(append([]string(nil), d.argv...), args...)
	cmd := exec.Command(argv[0], argv[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	d.logger.Debug("ffmpeg recording started", "argv", argv)

	rec := &ffmpegRecording{
		cmd:    cmd,
		stdin:  stdin,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	go rec.pump(stdout, d.fragmentBytes, sink)
	go func() {
		select {
		case <-ctx.Done():
			_ = rec.Stop()
		case <-rec.done:
		}
	}()
	return rec, nil
}

// encoderArgs builds the ffmpeg input/output arguments for one recording.
func encoderArgs(s Settings, mimeType string) ([]string, error) {
	container, codecs := splitMimeType(mimeType)
	if container != "video/webm" {
		return nil, fmt.Errorf("unsupported recording container %q", container)
	}

	videoCodec := []string{"-c:v", "libvpx", "-deadline", "realtime", "-cpu-used", "8", "-b:v", "1M"}
	if strings.Contains(codecs, "vp9") {
		videoCodec = []string{"-c:v", "libvpx-vp9", "-deadline", "realtime", "-row-mt", "1", "-b:v", "1M"}
	}

	args := []string{"-hide_banner", "-loglevel", "error",
		"-f", "v4l2", "-video_size", fmt.Sprintf("%dx%d", s.Width, s.Height), "-i", s.VideoDevice,
	}
	if s.AudioSource != "" {
		args = append(args, "-f", "pulse", "-i", s.AudioSource)
	}
	args = append(args, videoCodec...)
	if s.AudioSource != "" {
		args = append(args, "-c:a", "libopus", "-b:a", "64k")
	}
	args = append(args, "-f", "webm", "-cluster_time_limit", "1000", "pipe:1")
	return args, nil
}

// splitMimeType separates "video/webm;codecs=vp8" into its container and codec list.
func splitMimeType(mimeType string) (string, string) {
	container, params, _ := strings.Cut(mimeType, ";")
	container = strings.ToLower(strings.TrimSpace(container))
	_, codecs, _ := strings.Cut(params, "codecs=")
	return container, strings.ToLower(strings.Trim(strings.TrimSpace(codecs), `"`))
}

type ffmpegRecording struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer
	done   chan struct{}

	once    sync.Once
	stopErr error
}

// pump forwards stdout to sink in fragments of at least size bytes; the tail
// is flushed on EOF.
func (r *ffmpegRecording) pump(stdout io.Reader, size int, sink func([]byte)) {
	defer close(r.done)

	pending := make([]byte, 0, size)
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			if len(pending) >= size {
				sink(pending)
				pending = make([]byte, 0, size)
			}
		}
		if err != nil {
			break
		}
	}
	if len(pending) > 0 {
		sink(pending)
	}
}

func (r *ffmpegRecording) Stop() error {
	r.once.Do(func() {
		// "q" asks ffmpeg to finish the container cleanly.
		_, _ = io.WriteString(r.stdin, "q")
		_ = r.stdin.Close()

		select {
		case <-r.done:
		case <-time.After(stopGrace):
			_ = r.cmd.Process.Kill()
			<-r.done
		}

		if err := r.cmd.Wait(); err != nil {
			if tail := strings.TrimSpace(r.stderr.String()); tail != "" {
				r.stopErr = fmt.Errorf("ffmpeg exited: %w (%s)", err, tail)
			} else {
				r.stopErr = fmt.Errorf("ffmpeg exited: %w", err)
			}
		}
	})
	return r.stopErr
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
