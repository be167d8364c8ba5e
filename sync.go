package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alipan-go/alipan-go/internal/config"
	"github.com/alipan-go/alipan-go/internal/syncer"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <local-dir> <remote-dir>",
		Short: "One-way sync a local directory to Alipan",
		Long: `Mirror a local directory to a remote folder. Local is the source of
truth: missing and changed files are uploaded, remote entries with no
local counterpart are moved to the recycle bin.

Use --dry-run to preview the plan without changing anything. Use
--watch to keep running and re-sync after local changes settle.`,
		Args: cobra.ExactArgs(2),
		RunE: runSync,
	}

	cmd.Flags().Bool("dry-run", false, "preview sync actions without executing")
	cmd.Flags().Bool("watch", false, "keep watching the local directory and re-sync on changes")

	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	localRoot, remoteRoot := args[0], cleanRemotePath(args[1])
	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return err
	}

	watch, err := cmd.Flags().GetBool("watch")
	if err != nil {
		return err
	}

	if dryRun && watch {
		return fmt.Errorf("--dry-run and --watch are mutually exclusive")
	}

	client, err := newAPIClient(logger)
	if err != nil {
		return err
	}

	uploader, err := newUploader(client, logger)
	if err != nil {
		return err
	}

	s := syncer.New(client, uploader, logger, dryRun || cfg.Sync.DryRun)

	if !watch {
		plan, err := s.Sync(ctx, localRoot, remoteRoot)
		if err != nil {
			return err
		}

		reportPlan(plan, dryRun || cfg.Sync.DryRun)

		return nil
	}

	debounce, err := time.ParseDuration(cfg.Sync.WatchDebounce)
	if err != nil || debounce <= 0 {
		debounce, _ = time.ParseDuration(config.DefaultWatchDebounce)
	}

	statusf("Watching %s (debounce %s). Press Ctrl-C to stop.\n", localRoot, debounce)

	return syncer.Watch(ctx, localRoot, debounce, logger, func(runCtx context.Context) error {
		plan, err := s.Sync(runCtx, localRoot, remoteRoot)
		if err != nil {
			return err
		}

		reportPlan(plan, false)

		return nil
	})
}

// reportPlan summarizes what a sync cycle did (or would do).
func reportPlan(plan *syncer.Plan, dryRun bool) {
	if plan.Empty() {
		statusf("Already in sync.\n")
		return
	}

	verb := "Synced"
	if dryRun {
		verb = "Would sync"

		for _, dir := range plan.Mkdirs {
			statusf("  mkdir  %s\n", dir)
		}

		for _, up := range plan.Uploads {
			statusf("  upload %s (%s)\n", up.RelPath, formatSize(up.Size))
		}

		for _, del := range plan.Deletes {
			statusf("  delete %s\n", del.Path)
		}
	}

	statusf("%s: %d folder(s), %d upload(s), %d delete(s)\n",
		verb, len(plan.Mkdirs), len(plan.Uploads), len(plan.Deletes))
}
