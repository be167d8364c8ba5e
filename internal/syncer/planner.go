package syncer

import (
	"sort"
	"strings"
	"time"

	"github.com/alipan-go/alipan-go/internal/alipan"
)

// mtimeSlack absorbs filesystem timestamp granularity differences
// between local disks and the remote.
const mtimeSlack = time.Second

// Plan lists the operations that make the remote match the local tree.
// Mkdirs are ordered parents first, Deletes children first.
type Plan struct {
	Mkdirs  []string     // relative folder paths to create
	Uploads []LocalEntry // files to upload
	Deletes []*alipan.File
}

// Empty reports whether the plan has no work.
func (p *Plan) Empty() bool {
	return len(p.Mkdirs) == 0 && len(p.Uploads) == 0 && len(p.Deletes) == 0
}

// BuildPlan diffs the local tree against the remote listing. remote
// entries must carry drive-relative Paths (as ListRecursive returns).
//
// A file uploads when it is missing remotely, its size differs, or its
// local mtime is newer than the remote's by more than the slack. Remote
// entries without a local counterpart are deleted; deleting a folder
// implicitly removes its contents, so only the topmost orphan is listed.
func BuildPlan(local []LocalEntry, remote []*alipan.File) *Plan {
	remoteByPath := make(map[string]*alipan.File, len(remote))
	for _, rf := range remote {
		remoteByPath[NormalizePath(strings.TrimPrefix(rf.Path, "/"))] = rf
	}

	localByPath := make(map[string]LocalEntry, len(local))
	for _, le := range local {
		localByPath[le.RelPath] = le
	}

	plan := &Plan{}

	for _, le := range local {
		rf, ok := remoteByPath[le.RelPath]

		switch {
		case le.IsDir:
			if !ok || !rf.IsDir() {
				plan.Mkdirs = append(plan.Mkdirs, le.RelPath)
			}
		case !ok || rf.IsDir():
			plan.Uploads = append(plan.Uploads, le)
		case rf.Size != le.Size:
			plan.Uploads = append(plan.Uploads, le)
		case le.ModTime.After(rf.UpdatedAt.Add(mtimeSlack)):
			plan.Uploads = append(plan.Uploads, le)
		}
	}

	for _, rf := range remote {
		rel := NormalizePath(strings.TrimPrefix(rf.Path, "/"))

		le, ok := localByPath[rel]
		if ok && le.IsDir == rf.IsDir() {
			continue
		}

		// Skip entries whose ancestor is already being deleted.
		if hasDeletedAncestor(plan.Deletes, rf.Path) {
			continue
		}

		plan.Deletes = append(plan.Deletes, rf)
	}

	// Parents before children for mkdir, children before parents for
	// delete ordering stability in dry-run output.
	sort.Strings(plan.Mkdirs)
	sort.Slice(plan.Deletes, func(i, j int) bool {
		return depth(plan.Deletes[i].Path) > depth(plan.Deletes[j].Path)
	})

	return plan
}

func hasDeletedAncestor(deletes []*alipan.File, path string) bool {
	for _, d := range deletes {
		if d.IsDir() && strings.HasPrefix(path, d.Path+"/") {
			return true
		}
	}

	return false
}

func depth(path string) int {
	return strings.Count(path, "/")
}
