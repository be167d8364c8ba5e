package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alipan-go/alipan-go/internal/alipan"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[transfers]
parallel_chunks = 10
chunk_size = "16 MiB"

[encrypt]
method = "chacha20"
password = "hunter2"

[logging]
log_level = "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Transfers.ParallelChunks)
	assert.Equal(t, "16 MiB", cfg.Transfers.ChunkSize)
	assert.Equal(t, DefaultParallelFiles, cfg.Transfers.ParallelFiles)
	assert.Equal(t, "chacha20", cfg.Encrypt.Method)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, DefaultLogFormat, cfg.Logging.LogFormat)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[transfers]
paralel_chunks = 10
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown keys")
	assert.Contains(t, err.Error(), "paralel_chunks")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"zero chunk workers",
			"[transfers]\nparallel_chunks = 0\n",
			"parallel_chunks",
		},
		{
			"bad chunk size",
			"[transfers]\nchunk_size = \"eight megs\"\n",
			"chunk_size",
		},
		{
			"unknown cipher",
			"[encrypt]\nmethod = \"rot13\"\n",
			"encrypt.method",
		},
		{
			"cipher without password",
			"[encrypt]\nmethod = \"aes256cbc\"\n",
			"encrypt.password",
		},
		{
			"bad log level",
			"[logging]\nlog_level = \"verbose\"\n",
			"log_level",
		},
		{
			"bad debounce",
			"[sync]\nwatch_debounce = \"soon\"\n",
			"watch_debounce",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"0", 0},
		{"1024", 1024},
		{"10 KB", 10_000},
		{"10 KiB", 10_240},
		{"8 MiB", 8 << 20},
		{"1.5 GiB", 3 << 29},
		{"2GB", 2_000_000_000},
		{"100B", 100},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSize_Invalid(t *testing.T) {
	for _, in := range []string{"abc", "-5", "-1 MiB", "12 XB"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseSize(in)
			assert.Error(t, err)
		})
	}
}

func TestSession_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	in := &alipan.Session{
		RefreshToken: "rt",
		AccessToken:  "at",
		UserID:       "u1",
		DriveID:      "d1",
	}
	require.NoError(t, SaveSession(path, in))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out, err := LoadSession(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestLoadSession_Missing(t *testing.T) {
	_, err := LoadSession(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestLoadSession_NoRefreshToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"access_token":"at"}`), 0o600))

	_, err := LoadSession(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no refresh token")
}
