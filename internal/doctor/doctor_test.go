package doctor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/silencevoice/silencevoice/internal/capture"
	"github.com/silencevoice/silencevoice/internal/config"
	"github.com/silencevoice/silencevoice/internal/health"
	"github.com/silencevoice/silencevoice/internal/tts"
	"github.com/stretchr/testify/require"
)

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "ok"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	require.Contains(t, report.String(), "[OK] one: ok")
	require.Contains(t, report.String(), "[FAIL] two: bad")
}

func TestReportOptionalFailureWarnsOnly(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "ok"},
		{Name: "proxy", Pass: false, Optional: true, Message: "down"},
	}}

	require.True(t, report.OK())
	require.Equal(t, "[OK] one: ok\n[WARN] proxy: down", report.String())
}

func TestCheckCommandEmpty(t *testing.T) {
	check := checkCommand(nil, "speech.player_cmd")
	require.False(t, check.Pass)
	require.Equal(t, "speech.player_cmd", check.Name)
	require.Contains(t, check.Message, "empty")
}

func TestCheckCommandFound(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fake-bin"), []byte("#!/usr/bin/env sh\nexit 0\n"), 0o755))
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))

	check := checkCommand([]string{"fake-bin", "--arg"}, "speech.local_cmd")
	require.True(t, check.Pass)
	require.Equal(t, "speech.local_cmd", check.Name)
	require.Contains(t, check.Message, "speech.local_cmd command is available")
}

func TestCheckCommandMissing(t *testing.T) {
	check := checkCommand([]string{"definitely-missing-silencevoice-bin"}, "capture.ffmpeg_cmd")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "not found in PATH")
}

type stubProber struct {
	node string
	err  error
}

func (s stubProber) ProbeVideo(string) (string, error) { return s.node, s.err }

func TestCheckCamera(t *testing.T) {
	check := checkCamera(stubProber{node: "/dev/video0"}, "default")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "/dev/video0")

	check = checkCamera(stubProber{err: capture.ErrPermissionDenied}, "default")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "grant camera permissions")

	check = checkCamera(stubProber{err: errors.Join(capture.ErrDeviceUnavailable, errors.New("busy"))}, "/dev/video4")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "busy")
}

func TestCheckRecognizerReady(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	check := checkRecognizer(context.Background(), server.URL)
	require.True(t, check.Pass)
	require.Contains(t, check.Message, server.URL+"/process-video")
}

func TestCheckRecognizerFailureStatusCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	check := checkRecognizer(context.Background(), server.URL)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "503")
}

func TestCheckRecognizerEmptyBaseURL(t *testing.T) {
	check := checkRecognizer(context.Background(), "  ")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "base_url is empty")
}

func TestCheckSynthesisProxyUsesHealthz(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	check := checkSynthesisProxy(context.Background(), server.URL+"/api/tts")
	require.True(t, check.Pass)
	require.Equal(t, []string{"/healthz"}, paths)
}

func TestCheckSynthesisProxyUnreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	check := checkSynthesisProxy(context.Background(), "http://"+addr+"/api/tts")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "local speech will be used")

	check = checkSynthesisProxy(context.Background(), "not a url")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "invalid url")
}

func TestCheckGRPCHealthServing(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := health.NewServer(nil, health.ServiceTTS)
	server.SetServing(health.ServiceTTS, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, listener) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	check := checkGRPCHealth(context.Background(), listener.Addr().String())
	require.True(t, check.Pass, check.Message)
	require.Contains(t, check.Message, "SERVING")

	check = checkGRPCHealth(context.Background(), "")
	require.False(t, check.Pass)
	require.Equal(t, "disabled", check.Message)
}

func TestCheckEnvPresentNeverPrintsValue(t *testing.T) {
	t.Setenv(tts.CredentialEnv, "sk-secret-value")
	check := checkEnvPresent(tts.CredentialEnv)
	require.True(t, check.Pass)
	require.NotContains(t, check.Message, "sk-secret-value")

	t.Setenv(tts.CredentialEnv, "")
	check = checkEnvPresent(tts.CredentialEnv)
	require.False(t, check.Pass)
}

func TestRunReportsEveryCheck(t *testing.T) {
	binDir := t.TempDir()
	for _, name := range []string{"fake-ffmpeg", "fake-player", "fake-espeak"} {
		require.NoError(t, os.WriteFile(filepath.Join(binDir, name), []byte("#!/usr/bin/env sh\nexit 0\n"), 0o755))
	}
	t.Setenv("PATH", binDir+":"+os.Getenv("PATH"))
	t.Setenv(tts.CredentialEnv, "")

	recognizerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(recognizerSrv.Close)

	cameraNode := filepath.Join(t.TempDir(), "video0")
	require.NoError(t, os.WriteFile(cameraNode, nil, 0o600))

	cfg := config.Default()
	cfg.Capture.FFmpeg = config.CommandConfig{Raw: "fake-ffmpeg", Argv: []string{"fake-ffmpeg"}}
	cfg.Capture.VideoDevice = cameraNode
	cfg.Capture.Audio = false
	cfg.Speech.Player = config.CommandConfig{Raw: "fake-player", Argv: []string{"fake-player"}}
	cfg.Speech.Local = config.CommandConfig{Raw: "fake-espeak", Argv: []string{"fake-espeak"}}
	cfg.Speech.TTSURL = "http://127.0.0.1:1/api/tts"
	cfg.TTSServer.GRPCHealth = ""
	cfg.Recognizer.BaseURL = recognizerSrv.URL

	report := Run(context.Background(), config.Loaded{Path: "/tmp/config.jsonc", Config: cfg})
	require.True(t, report.OK(), report.String())

	names := make([]string, 0, len(report.Checks))
	for _, check := range report.Checks {
		names = append(names, check.Name)
	}
	require.Equal(t, []string{
		"config",
		"capture.ffmpeg_cmd",
		"capture.camera",
		"recognizer",
		"speech.player_cmd",
		"speech.local_cmd",
		"speech.tts_url",
		"tts_server.grpc_health",
		tts.CredentialEnv,
	}, names)
	require.True(t, strings.Contains(report.String(), "[WARN] speech.tts_url"))
}
