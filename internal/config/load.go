package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Environment overrides applied after the file is parsed.
const (
	EnvRecognizerURL = "SILENCEVOICE_API_URL"
	EnvTTSURL        = "SILENCEVOICE_TTS_URL"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves, reads, parses, and validates the runtime configuration.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{Path: resolvedPath, Config: Default()}
	content, err := os.ReadFile(resolvedPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		loaded.Warnings = append(loaded.Warnings, Warning{
			Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
		})
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
	default:
		cfg, warnings, err := Parse(string(content), loaded.Config)
		if err != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
		}
		loaded.Config = cfg
		loaded.Warnings = append(loaded.Warnings, warnings...)
		loaded.Exists = true
	}

	overridden, changed := ApplyEnv(loaded.Config, os.LookupEnv)
	if changed {
		if _, err := Validate(overridden); err != nil {
			return Loaded{}, fmt.Errorf("environment override: %w", err)
		}
		loaded.Config = overridden
	}

	return loaded, nil
}

// ApplyEnv layers environment overrides on top of cfg.
func ApplyEnv(cfg Config, lookup func(string) (string, bool)) (Config, bool) {
	changed := false
	if v, ok := lookup(EnvRecognizerURL); ok && strings.TrimSpace(v) != "" {
		cfg.Recognizer.BaseURL = strings.TrimSpace(v)
		changed = true
	}
	if v, ok := lookup(EnvTTSURL); ok && strings.TrimSpace(v) != "" {
		cfg.Speech.TTSURL = strings.TrimSpace(v)
		changed = true
	}
	return cfg, changed
}

// Parse reads JSONC configuration content on top of base.
func Parse(content string, base Config) (Config, []Warning, error) {
	if strings.TrimSpace(content) == "" {
		warnings, err := Validate(base)
		if err != nil {
			return Config{}, nil, err
		}
		return base, warnings, nil
	}
	return parseJSONC(content, base)
}
