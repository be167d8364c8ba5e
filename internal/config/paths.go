package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const appDirName = "alipan-go"

// Dir returns the configuration directory, typically
// ~/.config/alipan-go on Linux. It is created if missing.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolving config dir: %w", err)
	}

	dir := filepath.Join(base, appDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("config: creating %s: %w", dir, err)
	}

	return dir, nil
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, "config.toml"), nil
}

// SessionPath returns the credentials file location.
func SessionPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, "session.json"), nil
}

// ShareStorePath returns the share-link database location.
func ShareStorePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, "shares.db"), nil
}
