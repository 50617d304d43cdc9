package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	var out bytes.Buffer
	cfg, exit, err := Parse(nil, &out)
	require.NoError(t, err)
	require.False(t, exit)

	assert.Equal(t, "livegrid-data", cfg.DataDir)
	assert.Equal(t, ":8477", cfg.Listen)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 100*time.Millisecond, cfg.Debounce)
	assert.Equal(t, 30*time.Second, cfg.ProcessTimeout)
}

func TestParsePositionalNodesPath(t *testing.T) {
	var out bytes.Buffer
	cfg, _, err := Parse([]string{"./nodes"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "./nodes", cfg.NodesPath)
}

func TestParseFlagWinsOverPositional(t *testing.T) {
	var out bytes.Buffer
	cfg, _, err := Parse([]string{"-nodes", "./a", "./b"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "./a", cfg.NodesPath)
}

func TestParseRejectsBadValues(t *testing.T) {
	cases := [][]string{
		{"-log-format", "xml"},
		{"-log-level", "loud"},
		{"-workers", "0"},
	}
	for _, args := range cases {
		var out bytes.Buffer
		_, _, err := Parse(args, &out)
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr, "%v", args)
		assert.Equal(t, 2, exitErr.Code)
	}
}

func TestParseHelp(t *testing.T) {
	var out bytes.Buffer
	cfg, exit, err := Parse([]string{"-h"}, &out)
	require.NoError(t, err)
	assert.True(t, exit)
	assert.Nil(t, cfg)
	assert.Contains(t, out.String(), "livegrid")
}
