package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/silencevoice/silencevoice/internal/recorder"
)

// dumpClip writes the clip under the debug directory when enabled.
func (c *Controller) dumpClip(clip recorder.Clip) {
	if c.dumpDir == "" {
		return
	}
	path, err := writeDebugClip(c.dumpDir, clip)
	if err != nil {
		c.logger.Warn("unable to write debug clip", "error", err.Error())
		return
	}
	c.logger.Debug("debug clip written", "path", path, "clip", clip.ID)
}

func writeDebugClip(dir string, clip recorder.Clip) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create debug dir: %w", err)
	}
	timestamp := time.Now().Format("20060102-150405.000")
	path := filepath.Join(dir, fmt.Sprintf("clip-%s-%s.webm", timestamp, clip.ID))
	if err := os.WriteFile(path, clip.Data, 0o600); err != nil {
		return "", fmt.Errorf("write debug clip %q: %w", path, err)
	}
	return path, nil
}
