package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type fileConfig struct {
	Recognizer *fileRecognizer `json:"recognizer"`
	Capture    *fileCapture    `json:"capture"`
	Recorder   *fileRecorder   `json:"recorder"`
	Speech     *fileSpeech     `json:"speech"`
	TTSServer  *fileTTSServer  `json:"tts_server"`
	Session    *fileSession    `json:"session"`
	Phrases    *[]string       `json:"phrases"`
	Indicator  *fileIndicator  `json:"indicator"`
	Clipboard  *fileClipboard  `json:"clipboard"`
	Debug      *fileDebug      `json:"debug"`
}

type fileRecognizer struct {
	BaseURL   *string `json:"base_url"`
	TimeoutMS *int    `json:"timeout_ms"`
}

type fileCapture struct {
	VideoDevice   *string `json:"video_device"`
	Width         *int    `json:"width"`
	Height        *int    `json:"height"`
	Facing        *string `json:"facing"`
	Audio         *bool   `json:"audio"`
	AudioInput    *string `json:"audio_input"`
	AudioFallback *string `json:"audio_fallback"`
	FFmpegCmd     *string `json:"ffmpeg_cmd"`
	FragmentBytes *int    `json:"fragment_bytes"`
}

type fileRecorder struct {
	MimeType *string `json:"mime_type"`
}

type fileSpeech struct {
	AutoSpeak *bool   `json:"auto_speak"`
	TTSURL    *string `json:"tts_url"`
	TimeoutMS *int    `json:"timeout_ms"`
	PlayerCmd *string `json:"player_cmd"`
	LocalCmd  *string `json:"local_cmd"`
}

type fileTTSServer struct {
	Listen             *string         `json:"listen"`
	GRPCHealth         *string         `json:"grpc_health"`
	AllowedOrigins     *fileStringList `json:"allowed_origins"`
	RateLimitPerMinute *int            `json:"rate_limit_per_minute"`
}

type fileSession struct {
	StateListen         *string         `json:"state_listen"`
	StateAllowedOrigins *fileStringList `json:"state_allowed_origins"`
}

type fileIndicator struct {
	Enable         *bool   `json:"enable"`
	Backend        *string `json:"backend"`
	DesktopAppName *string `json:"desktop_app_name"`
	SoundEnable    *bool   `json:"sound_enable"`
	ErrorTimeoutMS *int    `json:"error_timeout_ms"`
}

type fileClipboard struct {
	Enable *bool `json:"enable"`
}

type fileDebug struct {
	ClipDump *bool `json:"clip_dump"`
}

// fileStringList accepts either a JSON array or a comma-delimited string.
type fileStringList []string

func (l *fileStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("expected string array or comma-delimited string")
	}
	out := make([]string, 0)
	for _, part := range strings.Split(single, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*l = out
	return nil
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload fileConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapDecodeError(normalized, err)
	}
	var extra struct{}
	if err := decoder.Decode(&extra); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("multiple JSON values are not allowed")
		}
		return Config{}, nil, wrapDecodeError(normalized, err)
	}

	cfg := base
	if err := payload.applyTo(&cfg); err != nil {
		return Config{}, nil, err
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func (p fileConfig) applyTo(cfg *Config) error {
	if r := p.Recognizer; r != nil {
		setString(&cfg.Recognizer.BaseURL, r.BaseURL)
		setInt(&cfg.Recognizer.TimeoutMS, r.TimeoutMS)
	}

	if c := p.Capture; c != nil {
		setString(&cfg.Capture.VideoDevice, c.VideoDevice)
		setInt(&cfg.Capture.Width, c.Width)
		setInt(&cfg.Capture.Height, c.Height)
		setString(&cfg.Capture.Facing, c.Facing)
		setBool(&cfg.Capture.Audio, c.Audio)
		setString(&cfg.Capture.AudioInput, c.AudioInput)
		setString(&cfg.Capture.AudioFallback, c.AudioFallback)
		setInt(&cfg.Capture.FragmentBytes, c.FragmentBytes)
		if err := setCommand(&cfg.Capture.FFmpeg, c.FFmpegCmd, "capture.ffmpeg_cmd"); err != nil {
			return err
		}
	}

	if r := p.Recorder; r != nil {
		setString(&cfg.Recorder.MimeType, r.MimeType)
	}

	if s := p.Speech; s != nil {
		setBool(&cfg.Speech.AutoSpeak, s.AutoSpeak)
		setString(&cfg.Speech.TTSURL, s.TTSURL)
		setInt(&cfg.Speech.TimeoutMS, s.TimeoutMS)
		if err := setCommand(&cfg.Speech.Player, s.PlayerCmd, "speech.player_cmd"); err != nil {
			return err
		}
		if err := setCommand(&cfg.Speech.Local, s.LocalCmd, "speech.local_cmd"); err != nil {
			return err
		}
	}

	if t := p.TTSServer; t != nil {
		setString(&cfg.TTSServer.Listen, t.Listen)
		setString(&cfg.TTSServer.GRPCHealth, t.GRPCHealth)
		setInt(&cfg.TTSServer.RateLimitPerMinute, t.RateLimitPerMinute)
		if t.AllowedOrigins != nil {
			cfg.TTSServer.AllowedOrigins = append([]string(nil), (*t.AllowedOrigins)...)
		}
	}

	if s := p.Session; s != nil {
		setString(&cfg.Session.StateListen, s.StateListen)
		if s.StateAllowedOrigins != nil {
			cfg.Session.StateAllowedOrigins = append([]string(nil), (*s.StateAllowedOrigins)...)
		}
	}

	if p.Phrases != nil {
		cfg.Phrases = cfg.Phrases[:0]
		for _, phrase := range *p.Phrases {
			if phrase = strings.TrimSpace(phrase); phrase != "" {
				cfg.Phrases = append(cfg.Phrases, phrase)
			}
		}
	}

	if i := p.Indicator; i != nil {
		setBool(&cfg.Indicator.Enable, i.Enable)
		setString(&cfg.Indicator.Backend, i.Backend)
		setString(&cfg.Indicator.DesktopAppName, i.DesktopAppName)
		setBool(&cfg.Indicator.SoundEnable, i.SoundEnable)
		setInt(&cfg.Indicator.ErrorTimeoutMS, i.ErrorTimeoutMS)
	}

	if p.Clipboard != nil {
		setBool(&cfg.Clipboard.Enable, p.Clipboard.Enable)
	}
	if p.Debug != nil {
		setBool(&cfg.Debug.ClipDump, p.Debug.ClipDump)
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setCommand(dst *CommandConfig, raw *string, key string) error {
	if raw == nil {
		return nil
	}
	argv, err := parseArgv(*raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = CommandConfig{Raw: *raw, Argv: argv}
	return nil
}

// normalizeJSONC blanks out comments and drops trailing commas in one pass.
// Blanked comments keep their newlines so decode offsets still map to source lines.
func normalizeJSONC(content string) (string, error) {
	out := make([]byte, 0, len(content))

	const (
		code = iota
		str
		lineComment
		blockComment
	)
	mode := code
	escaped := false
	pendingComma := -1 // index in out of a comma that may be trailing

	for i := 0; i < len(content); i++ {
		ch := content[i]
		switch mode {
		case str:
			out = append(out, ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				mode = code
			}
			continue
		case lineComment:
			if ch == '\n' || ch == '\r' {
				mode = code
				out = append(out, ch)
			} else {
				out = append(out, ' ')
			}
			continue
		case blockComment:
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				out = append(out, ' ', ' ')
				i++
				mode = code
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out = append(out, ch)
			} else {
				out = append(out, ' ')
			}
			continue
		}

		if ch == '/' && i+1 < len(content) && (content[i+1] == '/' || content[i+1] == '*') {
			if content[i+1] == '/' {
				mode = lineComment
			} else {
				mode = blockComment
			}
			out = append(out, ' ', ' ')
			i++
			continue
		}

		switch {
		case ch == '}' || ch == ']':
			if pendingComma >= 0 {
				out[pendingComma] = ' '
			}
			pendingComma = -1
		case ch == ',':
			pendingComma = len(out)
		case ch == '"':
			mode = str
			pendingComma = -1
		case !isJSONWhitespace(ch):
			pendingComma = -1
		}
		out = append(out, ch)
	}

	if mode == blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}
	return string(out), nil
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func wrapDecodeError(content string, err error) error {
	var offset int64 = -1
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		offset = typeErr.Offset
	}
	if offset < 0 {
		return err
	}
	line, col := offsetToLineCol(content, offset)
	return fmt.Errorf("line %d column %d: %w", line, col, err)
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}
	limit := min(int(offset), len(content))

	line, col := 1, 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
