package app

import (
	"errors"
	"time"
)

// Config holds everything an App instance needs to run.
type Config struct {
	// DataDir is the daemon's state directory: the registry database and
	// the content-addressed object store live under it.
	DataDir string
	// NodesPath optionally points at an .hcl file or directory of node
	// definitions registered at startup.
	NodesPath string
	// Listen is the control API address. Empty disables the API.
	Listen string

	LogFormat string
	LogLevel  string

	Workers        int
	Debounce       time.Duration
	ProcessTimeout time.Duration
	// SyncWrites forces fsync on every registry commit.
	SyncWrites bool
}

// NewConfig validates a Config and applies nothing else; defaults belong to
// the components themselves.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("DataDir is a required configuration field and cannot be empty")
	}
	return &cfg, nil
}
