package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alipan-go/alipan-go/internal/alipan"
)

func localFile(rel string, size int64, mtime time.Time) LocalEntry {
	return LocalEntry{RelPath: rel, AbsPath: "/local/" + rel, Size: size, ModTime: mtime}
}

func localDir(rel string) LocalEntry {
	return LocalEntry{RelPath: rel, AbsPath: "/local/" + rel, IsDir: true}
}

func remoteFile(path string, size int64, updated time.Time) *alipan.File {
	return &alipan.File{
		FileID:    "id:" + path,
		Name:      path[1:],
		Type:      alipan.TypeFile,
		Size:      size,
		UpdatedAt: updated,
		Path:      path,
	}
}

func remoteDir(path string) *alipan.File {
	return &alipan.File{FileID: "id:" + path, Type: alipan.TypeFolder, Path: path}
}

func uploadPaths(p *Plan) []string {
	out := make([]string, len(p.Uploads))
	for i, u := range p.Uploads {
		out[i] = u.RelPath
	}

	return out
}

func deletePaths(p *Plan) []string {
	out := make([]string, len(p.Deletes))
	for i, d := range p.Deletes {
		out[i] = d.Path
	}

	return out
}

func TestBuildPlan_UploadMissingDeleteOrphan(t *testing.T) {
	now := time.Now()

	// Local has a and b; remote has b and c. a uploads, c goes, b stays.
	local := []LocalEntry{
		localFile("a.txt", 10, now),
		localFile("b.txt", 20, now.Add(-time.Hour)),
	}
	remote := []*alipan.File{
		remoteFile("/b.txt", 20, now),
		remoteFile("/c.txt", 30, now),
	}

	plan := BuildPlan(local, remote)
	assert.Equal(t, []string{"a.txt"}, uploadPaths(plan))
	assert.Equal(t, []string{"/c.txt"}, deletePaths(plan))
	assert.Empty(t, plan.Mkdirs)
}

func TestBuildPlan_SizeDifferenceUploads(t *testing.T) {
	now := time.Now()

	local := []LocalEntry{localFile("a.txt", 11, now.Add(-time.Hour))}
	remote := []*alipan.File{remoteFile("/a.txt", 10, now)}

	plan := BuildPlan(local, remote)
	assert.Equal(t, []string{"a.txt"}, uploadPaths(plan))
}

func TestBuildPlan_NewerLocalMtimeUploads(t *testing.T) {
	now := time.Now()

	local := []LocalEntry{localFile("a.txt", 10, now)}
	remote := []*alipan.File{remoteFile("/a.txt", 10, now.Add(-time.Hour))}

	plan := BuildPlan(local, remote)
	assert.Equal(t, []string{"a.txt"}, uploadPaths(plan))
}

func TestBuildPlan_UnchangedFileSkipped(t *testing.T) {
	now := time.Now()

	local := []LocalEntry{localFile("a.txt", 10, now)}
	remote := []*alipan.File{remoteFile("/a.txt", 10, now)}

	plan := BuildPlan(local, remote)
	assert.True(t, plan.Empty(), "matching size with mtime within slack is up to date")
}

func TestBuildPlan_MkdirsForMissingFolders(t *testing.T) {
	local := []LocalEntry{
		localDir("docs"),
		localDir("docs/img"),
		localFile("docs/img/a.png", 5, time.Now()),
	}

	plan := BuildPlan(local, nil)
	assert.Equal(t, []string{"docs", "docs/img"}, plan.Mkdirs, "parents before children")
	assert.Equal(t, []string{"docs/img/a.png"}, uploadPaths(plan))
}

func TestBuildPlan_OrphanFolderDeletedOnce(t *testing.T) {
	remote := []*alipan.File{
		remoteDir("/old"),
		remoteFile("/old/a.txt", 1, time.Now()),
		remoteDir("/old/sub"),
		remoteFile("/old/sub/b.txt", 2, time.Now()),
	}

	plan := BuildPlan(nil, remote)
	assert.Equal(t, []string{"/old"}, deletePaths(plan), "deleting the folder covers its contents")
}

func TestBuildPlan_TypeFlipReplaces(t *testing.T) {
	// Locally a directory, remotely a file of the same name.
	local := []LocalEntry{localDir("thing")}
	remote := []*alipan.File{remoteFile("/thing", 10, time.Now())}

	plan := BuildPlan(local, remote)
	assert.Equal(t, []string{"thing"}, plan.Mkdirs)
	assert.Equal(t, []string{"/thing"}, deletePaths(plan))
}

func TestBuildPlan_NFCPathsCompareEqual(t *testing.T) {
	now := time.Now()

	// "é" as NFD locally (e + combining accent), NFC remotely.
	local := []LocalEntry{localFile(NormalizePath("café.txt"), 10, now)}
	remote := []*alipan.File{remoteFile("/café.txt", 10, now)}

	plan := BuildPlan(local, remote)
	assert.True(t, plan.Empty(), "NFD and NFC spellings are the same file")
}

func TestBuildPlan_DeletesChildrenFirst(t *testing.T) {
	remote := []*alipan.File{
		remoteFile("/loose.txt", 1, time.Now()),
		remoteDir("/kept"),
		remoteFile("/kept/orphan.txt", 1, time.Now()),
	}

	// The folder survives (it exists locally); only its orphaned child
	// and the loose file go, deepest first.
	local := []LocalEntry{localDir("kept")}

	plan := BuildPlan(local, remote)
	require.Equal(t, []string{"/kept/orphan.txt", "/loose.txt"}, deletePaths(plan))
}
