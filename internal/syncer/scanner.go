// Package syncer implements one-way sync of a local directory tree to a
// drive folder: missing or changed files are uploaded, remote leftovers
// are removed. Paths are compared in NFC form so macOS and Linux agree
// on what a name is.
package syncer

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/alipan-go/alipan-go/internal/transfer"
)

// LocalEntry is one file or directory under the sync root.
type LocalEntry struct {
	RelPath string // slash-separated, NFC normalized, no leading slash
	AbsPath string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// ScanLocal walks the tree under root and returns its entries sorted in
// walk order (parents before children). Symlinks and in-flight partial
// downloads are skipped.
func ScanLocal(root string) ([]LocalEntry, error) {
	var entries []LocalEntry

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if path == root {
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		if !d.IsDir() && strings.HasSuffix(d.Name(), transfer.PartialSuffix) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		entry := LocalEntry{
			RelPath: NormalizePath(filepath.ToSlash(rel)),
			AbsPath: path,
			IsDir:   d.IsDir(),
		}

		if !d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}

			entry.Size = info.Size()
			entry.ModTime = info.ModTime()
		}

		entries = append(entries, entry)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("syncer: scanning %s: %w", root, err)
	}

	return entries, nil
}

// NormalizePath returns the NFC form of a slash-separated path.
func NormalizePath(p string) string {
	return norm.NFC.String(p)
}
