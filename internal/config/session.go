package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/alipan-go/alipan-go/internal/alipan"
)

// ErrNoSession indicates no credentials file exists yet; the user has to
// run "alipan-go auth" first.
var ErrNoSession = errors.New("config: no session, run \"alipan-go auth\" first")

// LoadSession reads the credentials file.
func LoadSession(path string) (*alipan.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoSession
		}

		return nil, fmt.Errorf("config: reading session: %w", err)
	}

	var s alipan.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("config: parsing session %s: %w", path, err)
	}

	if s.RefreshToken == "" {
		return nil, fmt.Errorf("config: session %s has no refresh token", path)
	}

	return &s, nil
}

// SaveSession writes the credentials file with owner-only permissions.
// The write is atomic: a temp file in the same directory, fsynced, then
// renamed over the target.
func SaveSession(path string, s *alipan.Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encoding session: %w", err)
	}

	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("config: creating temp session file: %w", err)
	}
	tmpName := tmp.Name()

	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("config: setting session permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: writing session: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("config: syncing session: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: closing session: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("config: replacing session: %w", err)
	}

	return nil
}
