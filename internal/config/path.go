package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// EnvConfigPath names a config file when --config is not given.
const EnvConfigPath = "SILENCEVOICE_CONFIG"

const (
	configDirName  = "silencevoice"
	configFileName = "config.jsonc"
)

// ResolvePath picks the config file: --config, then $SILENCEVOICE_CONFIG,
// then $XDG_CONFIG_HOME, then ~/.config. A leading "~/" is expanded.
func ResolvePath(explicit string) (string, error) {
	for _, candidate := range []string{explicit, os.Getenv(EnvConfigPath)} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			return expandHome(candidate)
		}
	}

	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, configDirName, configFileName), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for config fallback")
	}
	return filepath.Join(home, ".config", configDirName, configFileName), nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for ~ in config path")
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
