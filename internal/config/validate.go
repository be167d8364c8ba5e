package config

import (
	"fmt"
	"time"
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validLogFormats = map[string]bool{"text": true, "json": true}

var validEncryptMethods = map[string]bool{
	"": true, "none": true, "no": true,
	"simple": true, "chacha20": true, "aes256cbc": true, "aes-256-cbc": true,
}

// Validate checks the configuration for invalid values. Called by Load;
// exported so CLI overrides can be re-checked after they are applied.
func (c *Config) Validate() error {
	if c.Transfers.ParallelChunks < 1 {
		return fmt.Errorf("transfers.parallel_chunks must be at least 1, got %d", c.Transfers.ParallelChunks)
	}

	if c.Transfers.ParallelFiles < 1 {
		return fmt.Errorf("transfers.parallel_files must be at least 1, got %d", c.Transfers.ParallelFiles)
	}

	if n, err := ParseSize(c.Transfers.ChunkSize); err != nil {
		return fmt.Errorf("transfers.chunk_size: %w", err)
	} else if n < 1 {
		return fmt.Errorf("transfers.chunk_size must be positive, got %q", c.Transfers.ChunkSize)
	}

	if _, err := ParseSize(c.Transfers.BandwidthLimit); err != nil {
		return fmt.Errorf("transfers.bandwidth_limit: %w", err)
	}

	if !validEncryptMethods[c.Encrypt.Method] {
		return fmt.Errorf("encrypt.method must be none, simple, chacha20 or aes256cbc, got %q", c.Encrypt.Method)
	}

	if c.Encrypt.Method != "" && c.Encrypt.Method != "none" && c.Encrypt.Method != "no" && c.Encrypt.Password == "" {
		return fmt.Errorf("encrypt.password is required when encrypt.method is %q", c.Encrypt.Method)
	}

	if _, err := time.ParseDuration(c.Sync.WatchDebounce); err != nil {
		return fmt.Errorf("sync.watch_debounce: %w", err)
	}

	if !validLogLevels[c.Logging.LogLevel] {
		return fmt.Errorf("logging.log_level must be debug, info, warn or error, got %q", c.Logging.LogLevel)
	}

	if !validLogFormats[c.Logging.LogFormat] {
		return fmt.Errorf("logging.log_format must be text or json, got %q", c.Logging.LogFormat)
	}

	if _, err := time.ParseDuration(c.Network.DataTimeout); err != nil {
		return fmt.Errorf("network.data_timeout: %w", err)
	}

	return nil
}
