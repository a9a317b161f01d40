package config

const (
	DefaultRecognizerURL = "http://localhost:8000"
	DefaultMimeType      = "video/webm;codecs=vp8"
)

// DefaultPhrases is the canned phrase catalogue offered when none is configured.
var DefaultPhrases = []string{
	"Thank you",
	"Can you help me?",
	"I need assistance",
	"Please wait",
	"Yes",
	"No",
	"Hello",
	"Goodbye",
}

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	ffmpeg := "ffmpeg"
	player := "ffplay -nodisp -autoexit -loglevel error -i pipe:0"
	local := "espeak-ng --stdout"

	return Config{
		Recognizer: RecognizerConfig{
			BaseURL:   DefaultRecognizerURL,
			TimeoutMS: 60000,
		},
		Capture: CaptureConfig{
			VideoDevice:   "default",
			Width:         1280,
			Height:        720,
			Facing:        "user",
			Audio:         true,
			AudioInput:    "default",
			AudioFallback: "default",
			FFmpeg:        CommandConfig{Raw: ffmpeg, Argv: mustParseArgv(ffmpeg)},
			FragmentBytes: 16 * 1024,
		},
		Recorder: RecorderConfig{MimeType: DefaultMimeType},
		Speech: SpeechConfig{
			AutoSpeak: true,
			TTSURL:    "http://127.0.0.1:3000/api/tts",
			TimeoutMS: 15000,
			Player:    CommandConfig{Raw: player, Argv: mustParseArgv(player)},
			Local:     CommandConfig{Raw: local, Argv: mustParseArgv(local)},
		},
		TTSServer: TTSServerConfig{
			Listen:             "127.0.0.1:3000",
			GRPCHealth:         "127.0.0.1:3001",
			AllowedOrigins:     []string{"*"},
			RateLimitPerMinute: 60,
		},
		Session: SessionConfig{StateListen: "127.0.0.1:3002"},
		Phrases: append([]string(nil), DefaultPhrases...),
		Indicator: IndicatorConfig{
			Enable:         true,
			Backend:        "desktop",
			DesktopAppName: "silencevoice",
			SoundEnable:    true,
			ErrorTimeoutMS: 2400,
		},
	}
}
