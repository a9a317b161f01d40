// Package config resolves, parses, validates, and defaults silencevoice configuration.
package config

import "time"

// Config is the fully materialized runtime configuration.
type Config struct {
	Recognizer RecognizerConfig
	Capture    CaptureConfig
	Recorder   RecorderConfig
	Speech     SpeechConfig
	TTSServer  TTSServerConfig
	Session    SessionConfig
	Phrases    []string
	Indicator  IndicatorConfig
	Clipboard  ClipboardConfig
	Debug      DebugConfig
}

// RecognizerConfig locates the visual speech recognition backend.
type RecognizerConfig struct {
	BaseURL   string
	TimeoutMS int
}

// Timeout is the hard limit for one recognition request.
func (r RecognizerConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

// CaptureConfig describes the camera/microphone constraints requested at acquisition.
type CaptureConfig struct {
	VideoDevice   string
	Width         int
	Height        int
	Facing        string
	Audio         bool
	AudioInput    string
	AudioFallback string
	FFmpeg        CommandConfig
	FragmentBytes int
}

// RecorderConfig controls the requested encoding for recorded clips.
type RecorderConfig struct {
	MimeType string
}

// SpeechConfig controls the playback chain and its providers.
type SpeechConfig struct {
	AutoSpeak bool
	TTSURL    string
	TimeoutMS int
	Player    CommandConfig
	Local     CommandConfig
}

// Timeout bounds one remote synthesis request.
func (s SpeechConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// TTSServerConfig controls the synthesis proxy started by `serve`.
type TTSServerConfig struct {
	Listen             string
	GRPCHealth         string
	AllowedOrigins     []string
	RateLimitPerMinute int
}

// SessionConfig controls the session owner process.
type SessionConfig struct {
	StateListen string
	// StateAllowedOrigins lists browser origins allowed to read the state
	// feed besides pages served from the feed's own host.
	StateAllowedOrigins []string
}

// IndicatorConfig controls desktop notification and audio cue behavior.
type IndicatorConfig struct {
	Enable         bool
	Backend        string
	DesktopAppName string
	SoundEnable    bool
	ErrorTimeoutMS int
}

// ClipboardConfig controls copying successful transcripts to the clipboard.
type ClipboardConfig struct {
	Enable bool
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	ClipDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
