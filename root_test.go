package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alipan-go/alipan-go/internal/config"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests set
// globals after saving the old values and restore them in t.Cleanup.

func saveGlobals(t *testing.T) {
	t.Helper()

	oldCfg := cfg
	oldConfigPath := flagConfigPath
	oldJSON := flagJSON
	oldVerbose := flagVerbose
	oldQuiet := flagQuiet

	t.Cleanup(func() {
		cfg = oldCfg
		flagConfigPath = oldConfigPath
		flagJSON = oldJSON
		flagVerbose = oldVerbose
		flagQuiet = oldQuiet
	})
}

func TestBuildLogger_Default(t *testing.T) {
	saveGlobals(t)

	cfg = config.Defaults()
	flagVerbose = false
	flagQuiet = false

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_VerboseWinsOverConfig(t *testing.T) {
	saveGlobals(t)

	cfg = config.Defaults()
	cfg.Logging.LogLevel = "error"
	flagVerbose = true

	logger := buildLogger()

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_Quiet(t *testing.T) {
	saveGlobals(t)

	cfg = config.Defaults()
	flagQuiet = true

	logger := buildLogger()

	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
}

func TestLoadConfig_ExplicitPath(t *testing.T) {
	saveGlobals(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[transfers]\nparallel_chunks = 9\n"), 0o600))

	flagConfigPath = path

	require.NoError(t, loadConfig())
	assert.Equal(t, 9, cfg.Transfers.ParallelChunks)
	assert.Equal(t, config.DefaultParallelFiles, cfg.Transfers.ParallelFiles)
}

func TestLoadConfig_InvalidFileFails(t *testing.T) {
	saveGlobals(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlog_level = \"loud\"\n"), 0o600))

	flagConfigPath = path

	assert.Error(t, loadConfig())
}

func TestNewRootCmd_RegistersSubcommands(t *testing.T) {
	saveGlobals(t)

	cmd := newRootCmd()

	want := []string{"auth", "whoami", "ls", "get", "put", "mkdir", "rm", "mv", "stat", "sync", "share", "serve"}

	got := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		got[sub.Name()] = true
	}

	for _, name := range want {
		assert.True(t, got[name], "missing subcommand %q", name)
	}
}

func TestCleanRemotePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"docs", "/docs"},
		{"/docs/", "/docs"},
		{"docs//notes/../a.txt", "/docs/a.txt"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanRemotePath(tt.in), "input %q", tt.in)
	}
}
