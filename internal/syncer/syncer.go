package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/alipan-go/alipan-go/internal/alipan"
	"github.com/alipan-go/alipan-go/internal/transfer"
)

// Syncer applies one-way sync plans against the drive.
type Syncer struct {
	client   *alipan.Client
	uploader *transfer.Uploader
	logger   *slog.Logger
	dryRun   bool
}

// New creates a Syncer.
func New(client *alipan.Client, uploader *transfer.Uploader, logger *slog.Logger, dryRun bool) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Syncer{client: client, uploader: uploader, logger: logger, dryRun: dryRun}
}

// Sync makes the drive folder at remoteRoot mirror the local tree at
// localRoot and returns the executed (or, in dry-run, the proposed)
// plan. Deletes run first so replaced entries free their names, then
// folders, then uploads.
func (s *Syncer) Sync(ctx context.Context, localRoot, remoteRoot string) (*Plan, error) {
	local, err := ScanLocal(localRoot)
	if err != nil {
		return nil, err
	}

	root, remote, err := s.listRemote(ctx, remoteRoot)
	if err != nil {
		return nil, err
	}

	plan := BuildPlan(local, remote)

	s.logger.Info("sync plan",
		slog.Int("mkdirs", len(plan.Mkdirs)),
		slog.Int("uploads", len(plan.Uploads)),
		slog.Int("deletes", len(plan.Deletes)),
		slog.Bool("dry_run", s.dryRun),
	)

	if s.dryRun || plan.Empty() {
		return plan, nil
	}

	if err := s.applyDeletes(ctx, plan); err != nil {
		return plan, err
	}

	dirIDs := s.indexFolders(root, remote, plan)

	if err := s.applyMkdirs(ctx, plan, dirIDs); err != nil {
		return plan, err
	}

	if err := s.applyUploads(ctx, plan, dirIDs); err != nil {
		return plan, err
	}

	return plan, nil
}

// listRemote resolves the remote root folder, creating it if missing,
// and returns its recursive listing.
func (s *Syncer) listRemote(ctx context.Context, remoteRoot string) (*alipan.File, []*alipan.File, error) {
	var (
		root *alipan.File
		err  error
	)

	if s.dryRun {
		root, err = s.client.GetByPath(ctx, remoteRoot)
	} else {
		root, err = s.client.MakedirPath(ctx, remoteRoot)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("syncer: resolving remote root %s: %w", remoteRoot, err)
	}

	remote, err := s.client.ListRecursive(ctx, root.FileID)
	if err != nil {
		return nil, nil, fmt.Errorf("syncer: listing remote root %s: %w", remoteRoot, err)
	}

	return root, remote, nil
}

func (s *Syncer) applyDeletes(ctx context.Context, plan *Plan) error {
	for _, rf := range plan.Deletes {
		s.logger.Info("removing remote entry", slog.String("path", rf.Path))
	}

	ids := make([]string, len(plan.Deletes))
	for i, rf := range plan.Deletes {
		ids[i] = rf.FileID
	}

	if len(ids) == 0 {
		return nil
	}

	return s.client.Remove(ctx, ids...)
}

// indexFolders seeds the relative-path to folder-ID map from the
// surviving remote listing.
func (s *Syncer) indexFolders(root *alipan.File, remote []*alipan.File, plan *Plan) map[string]string {
	deleted := make(map[string]bool, len(plan.Deletes))
	for _, rf := range plan.Deletes {
		deleted[rf.FileID] = true
	}

	dirIDs := map[string]string{"": root.FileID}

	for _, rf := range remote {
		if rf.IsDir() && !deleted[rf.FileID] {
			dirIDs[NormalizePath(strings.TrimPrefix(rf.Path, "/"))] = rf.FileID
		}
	}

	return dirIDs
}

func (s *Syncer) applyMkdirs(ctx context.Context, plan *Plan, dirIDs map[string]string) error {
	for _, rel := range plan.Mkdirs {
		parentID, ok := dirIDs[parentOf(rel)]
		if !ok {
			return fmt.Errorf("syncer: no folder ID for parent of %s", rel)
		}

		s.logger.Info("creating remote folder", slog.String("path", rel))

		created, err := s.client.Makedir(ctx, parentID, path.Base(rel))
		if err != nil {
			return fmt.Errorf("syncer: creating folder %s: %w", rel, err)
		}

		dirIDs[rel] = created.FileID
	}

	return nil
}

func (s *Syncer) applyUploads(ctx context.Context, plan *Plan, dirIDs map[string]string) error {
	items := make([]transfer.UploadItem, 0, len(plan.Uploads))

	for _, le := range plan.Uploads {
		parentID, ok := dirIDs[parentOf(le.RelPath)]
		if !ok {
			return fmt.Errorf("syncer: no folder ID for parent of %s", le.RelPath)
		}

		items = append(items, transfer.UploadItem{
			LocalPath:    le.AbsPath,
			ParentFileID: parentID,
			Name:         path.Base(le.RelPath),
		})
	}

	if len(items) == 0 {
		return nil
	}

	return s.uploader.UploadAll(ctx, items)
}

func parentOf(rel string) string {
	parent := path.Dir(rel)
	if parent == "." {
		return ""
	}

	return parent
}
