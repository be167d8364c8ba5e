package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alipan-go/alipan-go/internal/alipan"
	"github.com/alipan-go/alipan-go/internal/crypto"
)

// partURLRetries is how many times one part is retried after its
// pre-signed URL expires.
const partURLRetries = 2

// UploadOptions configures an Uploader.
type UploadOptions struct {
	ParallelFiles int

	// PartSize overrides the upload part size. Zero selects the default
	// sizing, which grows until the file fits the remote's part cap.
	PartSize int64

	// Method and Password enable transparent encryption of uploaded
	// content. MethodNone uploads plaintext and unlocks rapid upload.
	Method   crypto.Method
	Password string

	Limiter  *BandwidthLimiter
	Progress Progress
}

// UploadItem is one file to upload: a local path and its remote target.
type UploadItem struct {
	LocalPath    string
	ParentFileID string
	Name         string
}

// Uploader sends local files to the drive. Distinct files upload
// concurrently; parts within one file upload strictly in order, as the
// remote requires. Plaintext uploads are first offered for server-side
// dedup (rapid upload) so matching content transfers no bytes.
type Uploader struct {
	client *alipan.Client
	logger *slog.Logger
	opts   UploadOptions
}

// NewUploader creates an Uploader.
func NewUploader(client *alipan.Client, logger *slog.Logger, opts UploadOptions) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.ParallelFiles < 1 {
		opts.ParallelFiles = 1
	}

	return &Uploader{client: client, logger: logger, opts: opts}
}

// UploadAll uploads the given items with bounded file-level concurrency.
// One file's failure does not stop the others; the joined errors are
// returned after everything settles.
func (u *Uploader) UploadAll(ctx context.Context, items []UploadItem) error {
	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	g.SetLimit(u.opts.ParallelFiles)

	for _, item := range items {
		g.Go(func() error {
			// Failures are collected, not propagated, so one bad file
			// cannot cancel its siblings. User cancellation still stops
			// everything through ctx.
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if _, err := u.UploadFile(ctx, item.LocalPath, item.ParentFileID, item.Name); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", item.LocalPath, err))
				mu.Unlock()
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// UploadFile uploads one local file into the folder parentFileID under
// the given name and returns the created remote file.
func (u *Uploader) UploadFile(ctx context.Context, localPath, parentFileID, name string) (*alipan.File, error) {
	taskID := newTaskID()

	src, err := os.Open(localPath)
	if err != nil {
		return nil, u.fail(taskID, localPath, 0, fmt.Errorf("transfer: opening %s: %w", localPath, err))
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return nil, u.fail(taskID, localPath, 0, fmt.Errorf("transfer: inspecting %s: %w", localPath, err))
	}

	size := info.Size()

	// Encrypted content is spooled to a temp file first: part retries
	// need re-readable bytes, and the cipher stream is one-shot.
	payload, payloadSize, cleanup, err := u.preparePayload(src, size)
	if err != nil {
		return nil, u.fail(taskID, localPath, size, err)
	}
	defer cleanup()

	u.opts.Progress.emit(Event{TaskID: taskID, Path: localPath, State: StateStarted, Total: payloadSize})

	session, remote, err := u.negotiate(ctx, src, size, payloadSize, parentFileID, name)
	if err != nil {
		return nil, u.fail(taskID, localPath, payloadSize, err)
	}

	if remote != nil {
		u.logger.Info("rapid upload succeeded",
			slog.String("path", localPath),
			slog.String("file_id", remote.FileID),
		)
		u.opts.Progress.emit(Event{TaskID: taskID, Path: localPath, State: StateDone, Bytes: payloadSize, Total: payloadSize})

		return remote, nil
	}

	remote, err = u.uploadParts(ctx, taskID, localPath, session, payload, payloadSize)
	if err != nil {
		return nil, u.fail(taskID, localPath, payloadSize, err)
	}

	u.opts.Progress.emit(Event{TaskID: taskID, Path: localPath, State: StateDone, Bytes: payloadSize, Total: payloadSize})

	return remote, nil
}

// preparePayload returns the bytes that actually go over the wire. For
// plaintext uploads that is the source file itself; for encrypted
// uploads the cipher stream is written to an unlinked temp file.
func (u *Uploader) preparePayload(src *os.File, size int64) (io.ReaderAt, int64, func(), error) {
	if u.opts.Method == crypto.MethodNone {
		return src, size, func() {}, nil
	}

	enc, err := crypto.NewEncryptReader([]byte(u.opts.Password), u.opts.Method, src, size)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("transfer: preparing cipher stream: %w", err)
	}

	tmp, err := os.CreateTemp("", "alipan-upload-*")
	if err != nil {
		return nil, 0, nil, fmt.Errorf("transfer: creating spool file: %w", err)
	}

	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	n, err := io.Copy(tmp, enc)
	if err != nil {
		cleanup()
		return nil, 0, nil, fmt.Errorf("transfer: encrypting to spool: %w", err)
	}

	if n != enc.Len() {
		cleanup()
		return nil, 0, nil, fmt.Errorf("transfer: cipher stream wrote %d bytes, want %d", n, enc.Len())
	}

	return tmp, n, cleanup, nil
}

// negotiate opens the upload session. For plaintext content it runs the
// rapid-upload handshake first: a cheap 1 KiB pre-hash probe, then the
// full content hash plus possession proof when the server has seen the
// prefix before. Returns a non-nil remote file when the content was
// deduplicated without transferring bytes.
func (u *Uploader) negotiate(ctx context.Context, src *os.File, size, payloadSize int64, parentFileID, name string) (*alipan.UploadSession, *alipan.File, error) {
	partSize := u.partSize(payloadSize)

	req := &alipan.CreateFileRequest{
		ParentFileID: parentFileID,
		Name:         name,
		Size:         payloadSize,
		PartCount:    partCountFor(payloadSize, partSize),
	}

	// Encrypted payloads are never rapid-uploadable: the cipher text is
	// salted fresh every run, so the server cannot have seen it.
	if u.opts.Method == crypto.MethodNone && size > 0 {
		preHash, err := PreHash(io.NewSectionReader(src, 0, size))
		if err != nil {
			return nil, nil, err
		}

		req.PreHash = preHash
	}

	session, err := u.client.CreateFile(ctx, req)
	if err == nil {
		return session, nil, nil
	}

	if !errors.Is(err, alipan.ErrPreHashMatched) {
		return nil, nil, err
	}

	// The server knows this prefix. Offer the full hash and proof.
	contentHash, err := ContentHash(io.NewSectionReader(src, 0, size))
	if err != nil {
		return nil, nil, err
	}

	proofCode, err := ProofCode(src, size, u.client.Session().AccessToken)
	if err != nil {
		return nil, nil, err
	}

	req.PreHash = ""
	req.ContentHash = contentHash
	req.ProofCode = proofCode

	session, err = u.client.CreateFile(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	if session.RapidUpload {
		return nil, &alipan.File{
			FileID:       session.FileID,
			ParentFileID: parentFileID,
			Name:         name,
			Type:         alipan.TypeFile,
			Size:         size,
			ContentHash:  contentHash,
		}, nil
	}

	// Hash offered but content unknown after all. Plain chunked upload.
	return session, nil, nil
}

// uploadParts streams the payload part by part, in order, refreshing
// expired part URLs as needed, then completes the session.
func (u *Uploader) uploadParts(ctx context.Context, taskID, localPath string, session *alipan.UploadSession, payload io.ReaderAt, payloadSize int64) (*alipan.File, error) {
	partSize := u.partSize(payloadSize)

	var sent int64

	for i, part := range session.Parts {
		off := int64(i) * partSize

		length := partSize
		if off+length > payloadSize {
			length = payloadSize - off
		}

		if length < 0 {
			length = 0
		}

		if err := u.uploadOnePart(ctx, session, part, payload, off, length); err != nil {
			return nil, fmt.Errorf("transfer: part %d of %s: %w", part.PartNumber, localPath, err)
		}

		sent += length
		u.opts.Progress.emit(Event{
			TaskID: taskID,
			Path:   localPath,
			State:  StateRunning,
			Bytes:  sent,
			Total:  payloadSize,
		})
	}

	remote, err := u.client.CompleteUpload(ctx, session.FileID, session.UploadID)
	if err != nil {
		return nil, err
	}

	return remote, nil
}

// uploadOnePart sends one part, re-requesting its URL when expired.
// Section readers make the part re-readable, so a retry replays the
// exact same bytes.
func (u *Uploader) uploadOnePart(ctx context.Context, session *alipan.UploadSession, part alipan.UploadPart, payload io.ReaderAt, off, length int64) error {
	for attempt := 0; ; attempt++ {
		body := u.opts.Limiter.WrapReader(ctx, io.NewSectionReader(payload, off, length))

		err := u.client.UploadPart(ctx, part, body, length)
		if err == nil {
			return nil
		}

		if !errors.Is(err, alipan.ErrURLExpired) || attempt >= partURLRetries {
			return err
		}

		u.logger.Info("part URL expired, refreshing", slog.Int("part", part.PartNumber))

		fresh, refreshErr := u.client.RefreshUploadParts(ctx, session.FileID, session.UploadID, []int{part.PartNumber})
		if refreshErr != nil {
			return refreshErr
		}

		if len(fresh) != 1 {
			return fmt.Errorf("transfer: refreshing part %d: got %d URLs", part.PartNumber, len(fresh))
		}

		part = fresh[0]
	}
}

func (u *Uploader) partSize(payloadSize int64) int64 {
	if u.opts.PartSize > 0 {
		return u.opts.PartSize
	}

	return partSizeFor(payloadSize)
}

func (u *Uploader) fail(taskID, path string, total int64, err error) error {
	u.opts.Progress.emit(Event{TaskID: taskID, Path: path, State: StateFailed, Total: total, Err: err})

	return err
}
