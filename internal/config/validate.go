package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if err := validateHTTPURL("recognizer.base_url", cfg.Recognizer.BaseURL); err != nil {
		return nil, err
	}
	if cfg.Recognizer.TimeoutMS <= 0 {
		return nil, fmt.Errorf("recognizer.timeout_ms must be > 0")
	}

	if strings.TrimSpace(cfg.Capture.VideoDevice) == "" {
		return nil, fmt.Errorf("capture.video_device must not be empty")
	}
	if cfg.Capture.Width <= 0 || cfg.Capture.Height <= 0 {
		return nil, fmt.Errorf("capture.width and capture.height must be > 0")
	}
	switch strings.ToLower(cfg.Capture.Facing) {
	case "user", "environment":
	default:
		return nil, fmt.Errorf("capture.facing must be one of: user, environment")
	}
	if cfg.Capture.FragmentBytes <= 0 {
		return nil, fmt.Errorf("capture.fragment_bytes must be > 0")
	}
	if len(cfg.Capture.FFmpeg.Argv) == 0 {
		return nil, fmt.Errorf("capture.ffmpeg_cmd must not be empty")
	}

	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(cfg.Recorder.MimeType)), "video/") {
		return nil, fmt.Errorf("recorder.mime_type must be a video/* media type")
	}

	if err := validateHTTPURL("speech.tts_url", cfg.Speech.TTSURL); err != nil {
		return nil, err
	}
	if cfg.Speech.TimeoutMS <= 0 {
		return nil, fmt.Errorf("speech.timeout_ms must be > 0")
	}
	if len(cfg.Speech.Player.Argv) == 0 {
		return nil, fmt.Errorf("speech.player_cmd must not be empty")
	}
	if len(cfg.Speech.Local.Argv) == 0 {
		return nil, fmt.Errorf("speech.local_cmd must not be empty")
	}

	if strings.TrimSpace(cfg.TTSServer.Listen) == "" {
		return nil, fmt.Errorf("tts_server.listen must not be empty")
	}
	if cfg.TTSServer.RateLimitPerMinute < 0 {
		return nil, fmt.Errorf("tts_server.rate_limit_per_minute must be >= 0")
	}
	if len(cfg.TTSServer.AllowedOrigins) == 0 {
		warnings = append(warnings, Warning{Message: "tts_server.allowed_origins is empty; browsers will be refused by CORS"})
	}

	if len(cfg.Phrases) == 0 {
		warnings = append(warnings, Warning{Message: "phrases is empty; canned phrase selection is disabled"})
	}
	seen := make(map[string]struct{}, len(cfg.Phrases))
	for _, phrase := range cfg.Phrases {
		key := strings.ToLower(phrase)
		if _, dup := seen[key]; dup {
			warnings = append(warnings, Warning{Message: fmt.Sprintf("phrase %q is listed more than once", phrase)})
			continue
		}
		seen[key] = struct{}{}
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Indicator.Backend))
	if backend != "desktop" && backend != "none" {
		return nil, fmt.Errorf("indicator.backend must be one of: desktop, none")
	}
	if backend == "desktop" && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.backend=desktop")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}

	return warnings, nil
}

func validateHTTPURL(key, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%s must not be empty", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", key)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", key)
	}
	return nil
}
