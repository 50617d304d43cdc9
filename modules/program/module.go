// Package program implements the "program" node type: a script or command
// is executed with the resolved inputs exported as LG_* environment
// variables, and each declared output is read back from a file of the same
// name written into $LG_OUTPUT_DIR.
package program

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/vk/livegrid/internal/processor"
)

// Module implements the processor.Module interface for this package.
type Module struct{}

// Register registers the program processor with the engine.
func (m *Module) Register(r *processor.Registry) {
	r.Register("program", &Processor{})
}

// Processor executes external programs. The subprocess is bound to the
// request context, so the scheduler's per-invocation timeout kills it.
type Processor struct{}

type programConfig struct {
	script     string
	args       []string
	workingDir string
	env        map[string]string
}

func parseConfig(config map[string]any) (*programConfig, error) {
	cfg := &programConfig{env: make(map[string]string)}

	raw, ok := config["script"]
	if !ok {
		return nil, fmt.Errorf("missing required attribute \"script\"")
	}
	if cfg.script, ok = raw.(string); !ok || cfg.script == "" {
		return nil, fmt.Errorf("attribute \"script\" must be a non-empty string")
	}
	if raw, ok := config["args"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("attribute \"args\" must be a list of strings")
		}
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("attribute \"args\" must be a list of strings")
			}
			cfg.args = append(cfg.args, s)
		}
	}
	if raw, ok := config["working_dir"]; ok {
		if cfg.workingDir, ok = raw.(string); !ok {
			return nil, fmt.Errorf("attribute \"working_dir\" must be a string")
		}
	}
	if raw, ok := config["environment"]; ok {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("attribute \"environment\" must be a map of strings")
		}
		for k, v := range m {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("environment value for %q must be a string", k)
			}
			cfg.env[k] = s
		}
	}
	return cfg, nil
}

// Validate checks the config shape; the script's existence is checked at
// run time so registrations can precede deployment of the script.
func (p *Processor) Validate(config map[string]any) error {
	if _, err := parseConfig(config); err != nil {
		return &processor.SchemaError{Type: "program", Reason: err.Error()}
	}
	return nil
}

// envValue renders an input for the environment: strings pass through,
// everything else becomes JSON.
func envValue(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Process runs the configured program and collects its outputs.
func (p *Processor) Process(ctx context.Context, req processor.Request) (map[string][]byte, error) {
	cfg, err := parseConfig(req.Config)
	if err != nil {
		return nil, processor.Fail(req.NodeID, err)
	}

	outDir, err := os.MkdirTemp("", "livegrid-out-*")
	if err != nil {
		return nil, processor.Retryable(req.NodeID, err)
	}
	defer os.RemoveAll(outDir)

	cmd := exec.CommandContext(ctx, cfg.script, cfg.args...)
	cmd.Dir = cfg.workingDir
	cmd.Env = os.Environ()
	for k, v := range cfg.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	for name, value := range req.Inputs {
		rendered, err := envValue(value)
		if err != nil {
			return nil, processor.Fail(req.NodeID, fmt.Errorf("input %q: %w", name, err))
		}
		cmd.Env = append(cmd.Env, "LG_"+strings.ToUpper(name)+"="+rendered)
	}
	cmd.Env = append(cmd.Env, "LG_OUTPUT_DIR="+outDir)

	combined, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, processor.Fail(req.NodeID,
				fmt.Errorf("%s exited with %d: %s", cfg.script, exitErr.ExitCode(), strings.TrimSpace(string(combined))))
		}
		// Spawn failures (missing binary, permissions) may resolve on retry
		// after a deploy finishes.
		return nil, processor.Retryable(req.NodeID, err)
	}

	outputs := make(map[string][]byte, len(req.Outputs))
	for _, name := range req.Outputs {
		data, err := os.ReadFile(filepath.Join(outDir, name))
		if err != nil {
			return nil, processor.Fail(req.NodeID,
				fmt.Errorf("program did not produce output %q in $LG_OUTPUT_DIR", name))
		}
		outputs[name] = data
	}
	return outputs, nil
}
