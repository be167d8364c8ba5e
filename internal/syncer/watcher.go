package syncer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch runs fn once immediately, then again after every burst of
// filesystem changes under root, debounced by the given interval. New
// subdirectories are picked up as they appear. Watch blocks until the
// context is canceled; a failing fn run is logged and watching
// continues.
func Watch(ctx context.Context, root string, debounce time.Duration, logger *slog.Logger, fn func(context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("syncer: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watchTree(watcher, root); err != nil {
		return err
	}

	run := func() {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			logger.Error("sync run failed", slog.String("error", err.Error()))
		}
	}

	run()

	// The timer is parked until the first event arrives.
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Op.Has(fsnotify.Create) {
				// Newly created directories need their own watch.
				if err := watchTree(watcher, event.Name); err != nil {
					logger.Warn("watching new path", slog.String("path", event.Name), slog.String("error", err.Error()))
				}
			}

			logger.Debug("filesystem event", slog.String("op", event.Op.String()), slog.String("path", event.Name))
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			run()
		}
	}
}

// watchTree registers path and every directory below it. Non-directory
// paths are ignored.
func watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// The entry may have vanished between event and walk.
			return nil //nolint:nilerr
		}

		if !d.IsDir() {
			return nil
		}

		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("syncer: watching %s: %w", path, err)
		}

		return nil
	})
}
