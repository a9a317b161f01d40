// Package doctor runs readiness diagnostics for capture, recognition, and speech.
package doctor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/silencevoice/silencevoice/internal/audio"
	"github.com/silencevoice/silencevoice/internal/capture"
	"github.com/silencevoice/silencevoice/internal/config"
	"github.com/silencevoice/silencevoice/internal/health"
	"github.com/silencevoice/silencevoice/internal/recognizer"
	"github.com/silencevoice/silencevoice/internal/tts"
)

// Check is one doctor assertion result. Optional checks never fail the report.
type Check struct {
	Name     string
	Pass     bool
	Optional bool
	Message  string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all required checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass && !check.Optional {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		switch {
		case !check.Pass && check.Optional:
			status = "WARN"
		case !check.Pass:
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{}

	checks = append(checks, Check{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	})

	c := cfg.Config
	checks = append(checks, checkCommand(c.Capture.FFmpeg.Argv, "capture.ffmpeg_cmd"))
	checks = append(checks, checkCamera(capture.NewFFmpegDriver(c.Capture, nil), c.Capture.VideoDevice))
	if c.Capture.Audio {
		checks = append(checks, checkMicrophone(ctx, c.Capture))
	}
	checks = append(checks, checkRecognizer(ctx, c.Recognizer.BaseURL))

	checks = append(checks, optional(checkCommand(c.Speech.Player.Argv, "speech.player_cmd")))
	checks = append(checks, checkCommand(c.Speech.Local.Argv, "speech.local_cmd"))
	checks = append(checks, optional(checkSynthesisProxy(ctx, c.Speech.TTSURL)))
	checks = append(checks, optional(checkGRPCHealth(ctx, c.TTSServer.GRPCHealth)))
	checks = append(checks, optional(checkEnvPresent(tts.CredentialEnv)))

	return Report{Checks: checks}
}

func optional(check Check) Check {
	check.Optional = true
	return check
}

// checkEnvPresent reports whether a secret is set without revealing it.
func checkEnvPresent(name string) Check {
	if strings.TrimSpace(os.Getenv(name)) == "" {
		return Check{Name: name, Pass: false, Message: "not set; `serve` will answer 500 for synthesis"}
	}
	return Check{Name: name, Pass: true, Message: "set"}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	check := checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
	check.Name = name
	return check
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

type videoProber interface {
	ProbeVideo(device string) (string, error)
}

// checkCamera opens and immediately closes the camera node.
func checkCamera(prober videoProber, device string) Check {
	node, err := prober.ProbeVideo(device)
	if err != nil {
		return Check{Name: "capture.camera", Pass: false, Message: fmt.Sprintf("%s (%v)", capture.UserMessage(err), err)}
	}
	return Check{Name: "capture.camera", Pass: true, Message: fmt.Sprintf("opened %s", node)}
}

// checkMicrophone runs live source selection to surface fallback issues.
func checkMicrophone(ctx context.Context, cfg config.CaptureConfig) Check {
	selection, err := audio.SelectSource(ctx, cfg.AudioInput, cfg.AudioFallback)
	if err != nil {
		return Check{Name: "capture.microphone", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Source.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "capture.microphone", Pass: true, Message: message}
}

// checkRecognizer probes the recognition backend root.
func checkRecognizer(ctx context.Context, baseURL string) Check {
	if strings.TrimSpace(baseURL) == "" {
		return Check{Name: "recognizer", Pass: false, Message: "recognizer.base_url is empty"}
	}
	dispatcher := recognizer.New(baseURL, &http.Client{}, nil)
	if err := dispatcher.Health(ctx, 2*time.Second); err != nil {
		return Check{Name: "recognizer", Pass: false, Message: err.Error()}
	}
	return Check{Name: "recognizer", Pass: true, Message: fmt.Sprintf("reachable; clips go to %s", dispatcher.Endpoint())}
}

// checkSynthesisProxy probes /healthz next to the configured synthesis URL.
func checkSynthesisProxy(ctx context.Context, ttsURL string) Check {
	parsed, err := url.Parse(strings.TrimSpace(ttsURL))
	if err != nil || parsed.Host == "" {
		return Check{Name: "speech.tts_url", Pass: false, Message: fmt.Sprintf("invalid url %q", ttsURL)}
	}
	healthURL := parsed.Scheme + "://" + parsed.Host + "/healthz"

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, healthURL, nil)
	if err != nil {
		return Check{Name: "speech.tts_url", Pass: false, Message: err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Check{Name: "speech.tts_url", Pass: false, Message: fmt.Sprintf("unreachable (%v); local speech will be used", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 256))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Check{Name: "speech.tts_url", Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, healthURL)}
	}
	return Check{Name: "speech.tts_url", Pass: true, Message: fmt.Sprintf("ready at %s", healthURL)}
}

// checkGRPCHealth asks the proxy's gRPC health endpoint for the synthesis service.
func checkGRPCHealth(ctx context.Context, addr string) Check {
	if strings.TrimSpace(addr) == "" {
		return Check{Name: "tts_server.grpc_health", Pass: false, Message: "disabled"}
	}
	status, err := health.Probe(ctx, addr, health.ServiceTTS, time.Second)
	if err != nil {
		return Check{Name: "tts_server.grpc_health", Pass: false, Message: err.Error()}
	}
	return Check{Name: "tts_server.grpc_health", Pass: status == "SERVING", Message: fmt.Sprintf("%s reports %s", health.ServiceTTS, status)}
}
