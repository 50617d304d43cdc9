// Package cli parses command-line arguments into an app.Config.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vk/livegrid/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated Config, a
// boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	flagSet := flag.NewFlagSet("livegrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
livegrid - a reactive incremental-build daemon.

Usage:
  livegrid [options] [NODES_PATH]

Arguments:
  NODES_PATH
    Path to a single .hcl node definition file or a directory of them,
    registered at startup.

Options:
`)
		flagSet.PrintDefaults()
	}

	dataDirFlag := flagSet.String("data-dir", "livegrid-data", "Directory for the registry database and content store.")
	nodesFlag := flagSet.String("nodes", "", "Path to node definition file or directory.")
	listenFlag := flagSet.String("listen", ":8477", "Control API listen address. Empty disables the API.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	workersFlag := flagSet.Int("workers", 4, "Number of concurrent rebuild workers per propagation pass.")
	debounceFlag := flagSet.Duration("debounce", 100*time.Millisecond, "Change-event coalescing window per source node.")
	timeoutFlag := flagSet.Duration("process-timeout", 30*time.Second, "Upper bound for a single processor invocation.")
	syncFlag := flagSet.Bool("sync-writes", false, "Force fsync on every registry commit.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	nodesPath := *nodesFlag
	if nodesPath == "" && flagSet.NArg() > 0 {
		nodesPath = flagSet.Arg(0)
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	if *workersFlag <= 0 {
		return nil, false, &ExitError{Code: 2, Message: "invalid workers: must be positive"}
	}

	config, err := app.NewConfig(app.Config{
		DataDir:        *dataDirFlag,
		NodesPath:      nodesPath,
		Listen:         *listenFlag,
		LogFormat:      logFormat,
		LogLevel:       logLevel,
		Workers:        *workersFlag,
		Debounce:       *debounceFlag,
		ProcessTimeout: *timeoutFlag,
		SyncWrites:     *syncFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	return config, false, nil
}
