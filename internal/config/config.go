// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for alipan-go. Settings follow a
// three-layer override chain (defaults -> config file -> CLI flags).
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Transfers TransfersConfig `toml:"transfers"`
	Encrypt   EncryptConfig   `toml:"encrypt"`
	Sync      SyncConfig      `toml:"sync"`
	Logging   LoggingConfig   `toml:"logging"`
	Network   NetworkConfig   `toml:"network"`
}

// TransfersConfig controls parallel workers, chunk sizes, and bandwidth
// limits. parallel_chunks bounds concurrent chunk workers within one
// download; parallel_files bounds how many files transfer at once.
type TransfersConfig struct {
	ParallelChunks int    `toml:"parallel_chunks"`
	ParallelFiles  int    `toml:"parallel_files"`
	ChunkSize      string `toml:"chunk_size"`
	BandwidthLimit string `toml:"bandwidth_limit"`
}

// EncryptConfig controls transparent encryption of uploaded content.
// Method is one of "none", "simple", "chacha20", "aes256cbc".
type EncryptConfig struct {
	Method   string `toml:"method"`
	Password string `toml:"password"`
}

// SyncConfig controls the one-way sync engine.
type SyncConfig struct {
	WatchDebounce string `toml:"watch_debounce"`
	DryRun        bool   `toml:"dry_run"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	UserAgent   string `toml:"user_agent"`
	DataTimeout string `toml:"data_timeout"`
}
