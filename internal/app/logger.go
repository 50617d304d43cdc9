package app

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// newLogger builds the daemon logger from config. Zero values fall back to
// info/text; anything else must be a known level and format. The CLI layer
// validates its strings up front, so an unknown value here is a wiring bug
// and surfaces as an error instead of a silent default.
func newLogger(cfg *Config, outW io.Writer) (*slog.Logger, error) {
	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	switch cfg.LogFormat {
	case "json":
		return slog.New(slog.NewJSONHandler(outW, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(outW, opts)), nil
	default:
		return nil, fmt.Errorf("log format %q: must be \"text\" or \"json\"", cfg.LogFormat)
	}
}
