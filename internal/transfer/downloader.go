package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/alipan-go/alipan-go/internal/alipan"
	"github.com/alipan-go/alipan-go/internal/crypto"
)

// PartialSuffix is appended to in-flight download files. The bytes on
// disk are always a valid prefix of the final content, so the file's
// size doubles as the resume offset.
const PartialSuffix = ".partial"

// DefaultChunkSize is the download chunk size when none is configured.
const DefaultChunkSize = 8 << 20

// DownloadOptions configures a Downloader.
type DownloadOptions struct {
	ChunkSize      int64
	ParallelChunks int

	// Password enables transparent decryption. Files that do not carry
	// an encryption header are downloaded as-is.
	Password string

	Limiter  *BandwidthLimiter
	Progress Progress
}

// Downloader fetches remote files to local paths in concurrent chunks,
// resuming partial downloads and transparently decrypting content
// uploaded with a matching password.
type Downloader struct {
	client *alipan.Client
	http   *http.Client
	logger *slog.Logger
	opts   DownloadOptions
}

// NewDownloader creates a Downloader. httpClient is used for the ranged
// content requests and may be nil for http.DefaultClient.
func NewDownloader(client *alipan.Client, httpClient *http.Client, logger *slog.Logger, opts DownloadOptions) *Downloader {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	if opts.ChunkSize < 1 {
		opts.ChunkSize = DefaultChunkSize
	}

	if opts.ParallelChunks < 1 {
		opts.ParallelChunks = 1
	}

	return &Downloader{client: client, http: httpClient, logger: logger, opts: opts}
}

// Download fetches one remote file to destPath. Content is written to
// destPath + PartialSuffix and renamed into place once complete. An
// existing partial file is resumed from its size. On cancellation or
// failure the partial is truncated to the longest contiguous completed
// prefix and left behind for the next attempt.
func (d *Downloader) Download(ctx context.Context, file *alipan.File, destPath string) error {
	taskID := newTaskID()

	rr := d.newRangeReader(ctx, file)

	keys, err := d.parseHead(ctx, rr)
	if err != nil {
		return fmt.Errorf("transfer: probing %s: %w", file.Name, err)
	}

	// Logical size is what lands on disk: the plaintext length for
	// encrypted content, the raw size otherwise.
	size := file.Size
	if keys != nil {
		size = keys.OrigLen
	}

	d.opts.Progress.emit(Event{TaskID: taskID, Path: destPath, State: StateStarted, Total: size})

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return d.fail(taskID, destPath, size, fmt.Errorf("transfer: creating directory: %w", err))
	}

	partialPath := destPath + PartialSuffix

	out, resume, err := openPartial(partialPath)
	if err != nil {
		return d.fail(taskID, destPath, size, err)
	}

	if resume > size {
		// Stale partial from different content. Start over.
		if err := out.Truncate(0); err != nil {
			out.Close()
			return d.fail(taskID, destPath, size, fmt.Errorf("transfer: resetting partial: %w", err))
		}

		resume = 0
	}

	if resume > 0 {
		d.logger.Info("resuming download",
			slog.String("path", destPath),
			slog.Int64("resume_offset", resume),
			slog.Int64("size", size),
		)
	}

	written := atomic.Int64{}
	written.Store(resume)

	chunks := planChunks(resume, size, d.opts.ChunkSize)

	tracker := newPrefixTracker(len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.ParallelChunks)

	for _, chunk := range chunks {
		g.Go(func() error {
			data, err := d.fetchChunk(gctx, rr, keys, chunk)
			if err != nil {
				return err
			}

			if _, err := out.WriteAt(data, chunk.Off); err != nil {
				return fmt.Errorf("transfer: writing chunk %d: %w", chunk.Index, err)
			}

			tracker.complete(chunk.Index)

			d.opts.Progress.emit(Event{
				TaskID: taskID,
				Path:   destPath,
				State:  StateRunning,
				Bytes:  written.Add(chunk.Len),
				Total:  size,
			})

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		d.abort(out, resume, chunks, tracker)

		if errors.Is(err, context.Canceled) {
			d.opts.Progress.emit(Event{TaskID: taskID, Path: destPath, State: StatePaused, Bytes: written.Load(), Total: size})

			return fmt.Errorf("transfer: download paused: %w", err)
		}

		out.Close()

		d.opts.Progress.emit(Event{TaskID: taskID, Path: destPath, State: StateFailed, Bytes: written.Load(), Total: size, Err: err})

		return err
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return d.fail(taskID, destPath, size, fmt.Errorf("transfer: syncing %s: %w", partialPath, err))
	}

	if err := out.Close(); err != nil {
		return d.fail(taskID, destPath, size, fmt.Errorf("transfer: closing %s: %w", partialPath, err))
	}

	if err := os.Rename(partialPath, destPath); err != nil {
		return d.fail(taskID, destPath, size, fmt.Errorf("transfer: finalizing %s: %w", destPath, err))
	}

	if !file.UpdatedAt.IsZero() {
		if err := os.Chtimes(destPath, file.UpdatedAt, file.UpdatedAt); err != nil {
			d.logger.Warn("setting file times", slog.String("path", destPath), slog.String("error", err.Error()))
		}
	}

	d.opts.Progress.emit(Event{TaskID: taskID, Path: destPath, State: StateDone, Bytes: size, Total: size})

	return nil
}

// newRangeReader builds the shared range reader for one file, wiring
// URL refresh back to the API client.
func (d *Downloader) newRangeReader(_ context.Context, file *alipan.File) *RangeReader {
	source := func(ctx context.Context) (*alipan.DownloadURL, error) {
		return d.client.GetDownloadURL(ctx, file.FileID)
	}

	return NewRangeReader(d.http, source, file.Size, d.opts.Limiter, d.logger)
}

// parseHead probes the first bytes for an encryption header. Returns nil
// keys when the content is plain or no password is configured.
func (d *Downloader) parseHead(ctx context.Context, rr *RangeReader) (*crypto.FileKeys, error) {
	if d.opts.Password == "" || rr.Size() < crypto.TotalHeadLen {
		return nil, nil
	}

	head, err := rr.ReadRange(ctx, 0, crypto.TotalHeadLen)
	if err != nil {
		return nil, err
	}

	return crypto.ParseHead([]byte(d.opts.Password), head)
}

// fetchChunk reads one chunk of logical content, decrypting when keys
// are present.
func (d *Downloader) fetchChunk(ctx context.Context, rr *RangeReader, keys *crypto.FileKeys, chunk Chunk) ([]byte, error) {
	if keys == nil {
		return rr.ReadRange(ctx, chunk.Off, chunk.Len)
	}

	fetch := func(off, n int64) ([]byte, error) {
		return rr.ReadRange(ctx, off+int64(keys.HeadLen), n)
	}

	return keys.DecryptRange(fetch, chunk.Off, chunk.Len)
}

// abort truncates the partial file to the longest contiguous completed
// prefix so its size stays a valid resume offset, then closes it.
func (d *Downloader) abort(out *os.File, resume int64, chunks []Chunk, tracker *prefixTracker) {
	prefix := tracker.prefixEnd(resume, chunks)

	if err := out.Truncate(prefix); err != nil {
		d.logger.Warn("truncating partial file", slog.String("error", err.Error()))
	}

	if err := out.Sync(); err != nil {
		d.logger.Warn("syncing partial file", slog.String("error", err.Error()))
	}

	out.Close()
}

func (d *Downloader) fail(taskID, path string, total int64, err error) error {
	d.opts.Progress.emit(Event{TaskID: taskID, Path: path, State: StateFailed, Total: total, Err: err})

	return err
}

// openPartial opens or creates the partial file and returns its size,
// which is the resume offset.
func openPartial(path string) (*os.File, int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("transfer: opening partial file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("transfer: inspecting partial file: %w", err)
	}

	return f, info.Size(), nil
}

// prefixTracker records which chunks finished so an interrupted download
// can be trimmed back to a contiguous prefix.
type prefixTracker struct {
	mu   sync.Mutex
	done []bool
}

func newPrefixTracker(n int) *prefixTracker {
	return &prefixTracker{done: make([]bool, n)}
}

func (t *prefixTracker) complete(index int) {
	t.mu.Lock()
	t.done[index] = true
	t.mu.Unlock()
}

// prefixEnd returns the end offset of the longest run of completed
// chunks starting at the resume offset.
func (t *prefixTracker) prefixEnd(resume int64, chunks []Chunk) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	end := resume
	for i, chunk := range chunks {
		if !t.done[i] {
			break
		}

		end = chunk.End()
	}

	return end
}
