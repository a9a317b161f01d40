package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	warnings, err := Validate(Default())
	require.NoError(t, err)
	require.Empty(t, warnings)
}

func TestDefaultCarriesCannedPhrases(t *testing.T) {
	cfg := Default()
	require.Equal(t, DefaultPhrases, cfg.Phrases)
	require.True(t, cfg.Speech.AutoSpeak)
	require.Equal(t, "http://localhost:8000", cfg.Recognizer.BaseURL)
	require.Equal(t, "video/webm;codecs=vp8", cfg.Recorder.MimeType)
	require.Equal(t, 60_000, cfg.Recognizer.TimeoutMS)

	cfg.Phrases[0] = "mutated"
	require.Equal(t, "Thank you", DefaultPhrases[0])
}

func TestParseJSONCOverridesSections(t *testing.T) {
	input := `
{
  // recognition backend
  "recognizer": {
    "base_url": "https://vsr.example.com",
    "timeout_ms": 5000,
  },
  "capture": {
    "video_device": "/dev/video2",
    "width": 640,
    "height": 480,
    "audio": false,
    "ffmpeg_cmd": "/opt/ffmpeg/bin/ffmpeg -nostdin",
  },
  "speech": {
    "auto_speak": false,
    "local_cmd": "espeak-ng -v en-us --stdout",
  },
  "tts_server": {
    "allowed_origins": "http://localhost:3000, https://app.example.com",
    "rate_limit_per_minute": 0,
  },
  "session": {"state_allowed_origins": ["https://display.example"]},
  "phrases": ["Yes", "  ", "No"],
  "indicator": {"backend": "none", "sound_enable": false},
  "clipboard": {"enable": true},
  "debug": {"clip_dump": true},
}
`
	cfg, warnings, err := Parse(input, Default())
	require.NoError(t, err)
	require.Empty(t, warnings)

	require.Equal(t, "https://vsr.example.com", cfg.Recognizer.BaseURL)
	require.Equal(t, 5000, cfg.Recognizer.TimeoutMS)
	require.Equal(t, "/dev/video2", cfg.Capture.VideoDevice)
	require.Equal(t, 640, cfg.Capture.Width)
	require.Equal(t, 480, cfg.Capture.Height)
	require.False(t, cfg.Capture.Audio)
	require.Equal(t, []string{"/opt/ffmpeg/bin/ffmpeg", "-nostdin"}, cfg.Capture.FFmpeg.Argv)
	require.False(t, cfg.Speech.AutoSpeak)
	require.Equal(t, []string{"espeak-ng", "-v", "en-us", "--stdout"}, cfg.Speech.Local.Argv)
	require.Equal(t, []string{"http://localhost:3000", "https://app.example.com"}, cfg.TTSServer.AllowedOrigins)
	require.Equal(t, 0, cfg.TTSServer.RateLimitPerMinute)
	require.Equal(t, []string{"https://display.example"}, cfg.Session.StateAllowedOrigins)
	require.Equal(t, Default().Session.StateListen, cfg.Session.StateListen)
	require.Equal(t, []string{"Yes", "No"}, cfg.Phrases)
	require.Equal(t, "none", cfg.Indicator.Backend)
	require.True(t, cfg.Clipboard.Enable)
	require.True(t, cfg.Debug.ClipDump)

	// untouched sections keep defaults
	require.Equal(t, Default().Speech.TTSURL, cfg.Speech.TTSURL)
	require.Equal(t, Default().Session, cfg.Session)
}

func TestParseEmptyContentReturnsBase(t *testing.T) {
	cfg, warnings, err := Parse("   \n", Default())
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, Default(), cfg)
}

func TestParseUnknownKeyFails(t *testing.T) {
	_, _, err := Parse(`{"recognizer": {"grpc": "x"}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown field")
}

func TestParseReportsLineAndColumn(t *testing.T) {
	input := "{\n  \"recognizer\": {\n    \"timeout_ms\": \"soon\"\n  }\n}"
	_, _, err := Parse(input, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 3")
}

func TestParseRejectsMultipleValues(t *testing.T) {
	_, _, err := Parse(`{} {}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "multiple JSON values")
}

func TestParseInvalidCommand(t *testing.T) {
	_, _, err := Parse(`{"speech": {"player_cmd": "ffplay \"oops"}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid speech.player_cmd")
}

func TestNormalizeJSONC(t *testing.T) {
	input := `
{
  // line comment
  "items": [
    "one", /* block comment */
    "two",
  ],
  "text": "keeps // and /* inside */ strings, ]",
  "nested": {
    "enabled": true,
  },
}
`
	normalized, err := normalizeJSONC(input)
	require.NoError(t, err)
	require.NotContains(t, normalized, "// line")
	require.NotContains(t, normalized, "block comment")
	require.Contains(t, normalized, `"keeps // and /* inside */ strings, ]"`)
	require.Equal(t, strings.Count(input, "\n"), strings.Count(normalized, "\n"))

	compact := strings.Join(strings.Fields(normalized), "")
	require.NotContains(t, compact, ",]")
	require.NotContains(t, compact, ",}")
}

func TestNormalizeJSONCUnterminatedBlockComment(t *testing.T) {
	_, err := normalizeJSONC(`{ /* never closed }`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unterminated block comment")
}

func TestValidateRejectsInvalidFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "empty base url", mutate: func(c *Config) { c.Recognizer.BaseURL = "" }, wantErr: "recognizer.base_url must not be empty"},
		{name: "bad scheme", mutate: func(c *Config) { c.Recognizer.BaseURL = "ftp://host" }, wantErr: "http or https"},
		{name: "no host", mutate: func(c *Config) { c.Recognizer.BaseURL = "http://" }, wantErr: "must include a host"},
		{name: "timeout", mutate: func(c *Config) { c.Recognizer.TimeoutMS = 0 }, wantErr: "recognizer.timeout_ms"},
		{name: "dimensions", mutate: func(c *Config) { c.Capture.Width = 0 }, wantErr: "capture.width"},
		{name: "facing", mutate: func(c *Config) { c.Capture.Facing = "sideways" }, wantErr: "capture.facing"},
		{name: "fragment", mutate: func(c *Config) { c.Capture.FragmentBytes = -1 }, wantErr: "capture.fragment_bytes"},
		{name: "ffmpeg", mutate: func(c *Config) { c.Capture.FFmpeg = CommandConfig{} }, wantErr: "capture.ffmpeg_cmd"},
		{name: "mime", mutate: func(c *Config) { c.Recorder.MimeType = "audio/ogg" }, wantErr: "recorder.mime_type"},
		{name: "tts url", mutate: func(c *Config) { c.Speech.TTSURL = "localhost:3000" }, wantErr: "speech.tts_url"},
		{name: "player", mutate: func(c *Config) { c.Speech.Player = CommandConfig{} }, wantErr: "speech.player_cmd"},
		{name: "local", mutate: func(c *Config) { c.Speech.Local = CommandConfig{} }, wantErr: "speech.local_cmd"},
		{name: "listen", mutate: func(c *Config) { c.TTSServer.Listen = " " }, wantErr: "tts_server.listen"},
		{name: "rate", mutate: func(c *Config) { c.TTSServer.RateLimitPerMinute = -1 }, wantErr: "rate_limit_per_minute"},
		{name: "backend", mutate: func(c *Config) { c.Indicator.Backend = "hypr" }, wantErr: "indicator.backend"},
		{name: "app name", mutate: func(c *Config) { c.Indicator.DesktopAppName = "" }, wantErr: "desktop_app_name"},
		{name: "error timeout", mutate: func(c *Config) { c.Indicator.ErrorTimeoutMS = -5 }, wantErr: "error_timeout_ms"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			_, err := Validate(cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateWarnsOnPhraseIssues(t *testing.T) {
	cfg := Default()
	cfg.Phrases = []string{"Yes", "yes"}
	warnings, err := Validate(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "more than once")

	cfg.Phrases = nil
	warnings, err = Validate(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "canned phrase selection is disabled")
}

func TestResolvePathPrecedence(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	explicit := "/tmp/custom.jsonc"
	resolved, err := ResolvePath(explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, resolved)

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(xdg, "silencevoice", "config.jsonc"), resolved)

	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".config", "silencevoice", "config.jsonc"), resolved)
}

func TestResolvePathEnvAndHomeExpansion(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	t.Setenv(EnvConfigPath, "~/sv/alt.jsonc")
	resolved, err := ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "sv", "alt.jsonc"), resolved)

	resolved, err = ResolvePath("  ~/flag.jsonc ")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "flag.jsonc"), resolved)

	resolved, err = ResolvePath("~other/x.jsonc")
	require.NoError(t, err)
	require.Equal(t, "~other/x.jsonc", resolved)
}

func TestLoadMissingConfigUsesDefaultsWithWarning(t *testing.T) {
	t.Setenv(EnvRecognizerURL, "")
	t.Setenv(EnvTTSURL, "")
	path := filepath.Join(t.TempDir(), "missing.jsonc")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, loaded.Path)
	require.False(t, loaded.Exists)
	require.Equal(t, Default(), loaded.Config)
	require.NotEmpty(t, loaded.Warnings)
	require.Contains(t, loaded.Warnings[0].Message, "not found")
}

func TestLoadExistingConfigAppliesEnvOverride(t *testing.T) {
	t.Setenv(EnvRecognizerURL, "http://gpu-box:8000")
	t.Setenv(EnvTTSURL, "")
	path := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"recognizer": {"base_url": "http://ignored:1"}}`), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, "http://gpu-box:8000", loaded.Config.Recognizer.BaseURL)
}

func TestLoadRejectsInvalidEnvOverride(t *testing.T) {
	t.Setenv(EnvRecognizerURL, "not a url")
	_, err := Load(filepath.Join(t.TempDir(), "missing.jsonc"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "environment override")
}

func TestLoadParseErrorIncludesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"nope": true}`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), path)
}

func TestApplyEnvLeavesConfigWhenUnset(t *testing.T) {
	cfg, changed := ApplyEnv(Default(), func(string) (string, bool) { return "", false })
	require.False(t, changed)
	require.Equal(t, Default(), cfg)
}
