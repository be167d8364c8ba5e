package syncer

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanLocal_WalkOrderAndMetadata(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs", "img"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "b.txt"), []byte("world!"), 0o644))

	entries, err := ScanLocal(root)
	require.NoError(t, err)

	byPath := make(map[string]LocalEntry, len(entries))

	var paths []string
	for _, e := range entries {
		byPath[e.RelPath] = e
		paths = append(paths, e.RelPath)
	}

	assert.Equal(t, []string{"a.txt", "docs", "docs/b.txt", "docs/img"}, paths, "parents precede children")

	a := byPath["a.txt"]
	assert.False(t, a.IsDir)
	assert.Equal(t, int64(5), a.Size)
	assert.WithinDuration(t, time.Now(), a.ModTime, time.Minute)

	assert.True(t, byPath["docs"].IsDir)
	assert.Equal(t, int64(6), byPath["docs/b.txt"].Size)
}

func TestScanLocal_SkipsPartialsAndSymlinks(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "real.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "half.bin.partial"), []byte("y"), 0o644))

	if runtime.GOOS != "windows" {
		require.NoError(t, os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "link.txt")))
	}

	entries, err := ScanLocal(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "real.txt", entries[0].RelPath)
}

func TestScanLocal_NormalizesToNFC(t *testing.T) {
	root := t.TempDir()

	// NFD spelling on disk.
	name := "café.txt"
	require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644))

	entries, err := ScanLocal(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "café.txt", entries[0].RelPath)
}

func TestScanLocal_MissingRoot(t *testing.T) {
	_, err := ScanLocal(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
