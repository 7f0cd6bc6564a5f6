package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags_Defaults(t *testing.T) {
	t.Setenv("QUAKESTREAM_CONFIG", "")

	cfg, err := parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Empty(t, cfg.ConfigPath)
	assert.Empty(t, cfg.LogLevel)
	assert.Empty(t, cfg.LogFormat)
	assert.False(t, cfg.ShowVersion)
	assert.False(t, cfg.Validate)
}

func TestParseFlags_Values(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quakestream.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min_magnitude: 3\n"), 0o600))

	cfg, err := parseFlags([]string{"-config", path, "-log-level", "DEBUG", "-log-format", "text", "-validate"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, path, cfg.ConfigPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.True(t, cfg.Validate)
}

func TestParseFlags_ConfigFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))
	t.Setenv("QUAKESTREAM_CONFIG", path)

	cfg, err := parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, path, cfg.ConfigPath)
}

func TestParseFlags_Errors(t *testing.T) {
	t.Setenv("QUAKESTREAM_CONFIG", "")

	tests := map[string][]string{
		"missing config file": {"-config", "/nonexistent/quakestream.yaml"},
		"bad log level":       {"-log-level", "trace"},
		"bad log format":      {"-log-format", "xml"},
		"unknown flag":        {"-nope"},
		"positional args":     {"serve"},
	}

	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseFlags(args, &bytes.Buffer{})
			assert.Error(t, err)
		})
	}
}

func TestParseFlags_VersionSkipsValidation(t *testing.T) {
	cfg, err := parseFlags([]string{"-v", "-config", "/nonexistent"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.True(t, cfg.ShowVersion)
}

func TestParseFlags_Help(t *testing.T) {
	var out bytes.Buffer
	_, err := parseFlags([]string{"-h"}, &out)
	assert.ErrorIs(t, err, flag.ErrHelp)
	assert.Contains(t, out.String(), "real-time earthquake feed")
	assert.Contains(t, out.String(), "-log-level")
}
