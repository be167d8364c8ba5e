package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/alipan-go/alipan-go/internal/alipan"
)

// Range request retry constants.
const (
	rangeMaxRetries  = 5
	rangeBaseBackoff = 500 * time.Millisecond
	rangeMaxBackoff  = 30 * time.Second

	// urlExpirySlack refreshes pre-signed URLs slightly before their
	// stated expiry so long transfers never race the deadline.
	urlExpirySlack = 30 * time.Second

	refererURL = "https://www.aliyundrive.com/"
)

// ErrRangeNotSatisfied indicates the server rejected the byte range.
var ErrRangeNotSatisfied = errors.New("transfer: requested range not satisfiable")

// errRangeIgnored indicates the server answered a partial-range request
// with 200 and the full body. Retrying cannot help; failing here keeps a
// misbehaving server from corrupting chunk offsets.
var errRangeIgnored = errors.New("transfer: server ignored range request")

// URLSource returns a live pre-signed URL for the remote content.
// Called lazily and again whenever the current URL expires.
type URLSource func(ctx context.Context) (*alipan.DownloadURL, error)

// RangeReader exposes remote content of known size as a range-addressable
// stream. Concurrent ReadRange calls are safe; workers of one download
// share a single RangeReader so URL refreshes happen once, not per worker.
type RangeReader struct {
	client  *http.Client
	source  URLSource
	size    int64
	limiter *BandwidthLimiter
	logger  *slog.Logger

	mu sync.Mutex
	du *alipan.DownloadURL

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewRangeReader creates a reader over remote content of the given size.
// limiter may be nil for unlimited bandwidth.
func NewRangeReader(client *http.Client, source URLSource, size int64, limiter *BandwidthLimiter, logger *slog.Logger) *RangeReader {
	if client == nil {
		client = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &RangeReader{
		client:    client,
		source:    source,
		size:      size,
		limiter:   limiter,
		logger:    logger,
		sleepFunc: sleepCtx,
	}
}

// Size returns the total remote content length in bytes.
func (r *RangeReader) Size() int64 {
	return r.size
}

// currentURL returns the cached pre-signed URL, fetching a fresh one when
// none is cached or the cached one is at or near its expiry.
func (r *RangeReader) currentURL(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.du != nil && !r.du.Expired(time.Now().Add(urlExpirySlack)) {
		return r.du.URL, nil
	}

	du, err := r.source(ctx)
	if err != nil {
		return "", fmt.Errorf("transfer: fetching download URL: %w", err)
	}

	r.du = du

	return du.URL, nil
}

// invalidateURL drops the cached URL unless another worker already
// replaced it.
func (r *RangeReader) invalidateURL(stale string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.du != nil && r.du.URL == stale {
		r.du = nil
	}
}

// ReadRange returns exactly n bytes starting at off. Requests past the
// end of the content are clamped; off at or beyond the end returns
// io.EOF. A short response from the server counts as a failed attempt,
// never as a short success. Expired URLs are refreshed transparently.
func (r *RangeReader) ReadRange(ctx context.Context, off, n int64) ([]byte, error) {
	if off < 0 || n < 0 {
		return nil, fmt.Errorf("transfer: invalid range [%d, +%d)", off, n)
	}

	if off >= r.size {
		return nil, io.EOF
	}

	if off+n > r.size {
		n = r.size - off
	}

	if n == 0 {
		return nil, nil
	}

	if err := r.limiter.Wait(ctx, int(n)); err != nil {
		return nil, err
	}

	var attempt int
	for {
		data, err := r.fetchOnce(ctx, off, n)
		if err == nil {
			return data, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if !retryableRange(err) || attempt >= rangeMaxRetries {
			return nil, err
		}

		backoff := rangeBackoff(attempt)
		r.logger.Warn("retrying range request",
			slog.Int64("off", off),
			slog.Int64("len", n),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		if sleepErr := r.sleepFunc(ctx, backoff); sleepErr != nil {
			return nil, sleepErr
		}

		attempt++
	}
}

// retryableRange reports whether a range failure is worth another attempt.
func retryableRange(err error) bool {
	return !errors.Is(err, ErrRangeNotSatisfied) && !errors.Is(err, errRangeIgnored)
}

// fetchOnce performs a single ranged GET.
func (r *RangeReader) fetchOnce(ctx context.Context, off, n int64) ([]byte, error) {
	resp, err := r.openRange(ctx, fmt.Sprintf("bytes=%d-%d", off, off+n-1))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// A 200 carries the body from offset zero regardless of the request;
	// accepting it for an inner range would mislabel the leading bytes
	// as [off, off+n).
	if resp.StatusCode == http.StatusOK && (off != 0 || n != r.size) {
		return nil, fmt.Errorf("%w: want [%d, %d), got full content", errRangeIgnored, off, off+n)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, n))
	if err != nil {
		return nil, fmt.Errorf("transfer: reading range body: %w", err)
	}

	if int64(len(data)) != n {
		return nil, fmt.Errorf("transfer: short range response: got %d of %d bytes", len(data), n)
	}

	return data, nil
}

// openRange issues one GET with the given Range header and classifies the
// response status. The caller owns resp.Body on success.
func (r *RangeReader) openRange(ctx context.Context, rangeSpec string) (*http.Response, error) {
	url, err := r.currentURL(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transfer: creating range request: %w", err)
	}

	req.Header.Set("Range", rangeSpec)
	req.Header.Set("Referer", refererURL)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transfer: range request: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusPartialContent, http.StatusOK:
		return resp, nil
	case http.StatusForbidden, http.StatusGone:
		resp.Body.Close()
		// Pre-signed URL expired; drop it so the retry fetches a fresh one.
		r.invalidateURL(url)

		return nil, fmt.Errorf("transfer: range request: URL expired (HTTP %d)", resp.StatusCode)
	case http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()

		return nil, ErrRangeNotSatisfied
	default:
		resp.Body.Close()

		return nil, fmt.Errorf("transfer: range request: HTTP %d", resp.StatusCode)
	}
}

// openStreamAt opens a streaming body from off to the end of the content.
func (r *RangeReader) openStreamAt(ctx context.Context, off int64) (io.ReadCloser, error) {
	resp, err := r.openRange(ctx, fmt.Sprintf("bytes=%d-", off))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusOK && off != 0 {
		resp.Body.Close()

		return nil, fmt.Errorf("%w: want stream from %d, got full content", errRangeIgnored, off)
	}

	return resp.Body, nil
}

// Section returns an io.ReadSeeker view of the content, suitable for
// http.ServeContent and sequential consumers. Sequential reads share one
// streaming response body instead of issuing a request per call; seeking
// away drops the stream and the next read reopens at the new position.
// Callers should Close a Section when done to release the open body. Each
// Section keeps its own position; the underlying RangeReader is shared.
func (r *RangeReader) Section(ctx context.Context) *SectionReader {
	return &SectionReader{r: r, ctx: ctx}
}

// SectionReader adapts a RangeReader to io.ReadSeeker.
type SectionReader struct {
	r   *RangeReader
	ctx context.Context
	pos int64

	body    io.ReadCloser // open streaming body, nil between streams
	stream  io.Reader     // body wrapped by the bandwidth limiter
	bodyPos int64         // offset of the next byte the stream yields
}

func (s *SectionReader) Read(p []byte) (int, error) {
	if s.pos >= s.r.size {
		return 0, io.EOF
	}

	if s.body == nil || s.bodyPos != s.pos {
		if err := s.openStream(); err != nil {
			return 0, err
		}
	}

	n, err := s.stream.Read(p)
	s.pos += int64(n)
	s.bodyPos += int64(n)

	if err == nil {
		return n, nil
	}

	s.closeStream()

	if errors.Is(err, io.EOF) {
		if n > 0 || s.pos >= s.r.size {
			return n, nil
		}

		return 0, io.ErrUnexpectedEOF
	}

	// Deliver what arrived; the next read reopens the stream at pos.
	if n > 0 {
		return n, nil
	}

	return 0, err
}

// openStream establishes a streaming body at the current position,
// retrying transient failures the same way ReadRange does.
func (s *SectionReader) openStream() error {
	s.closeStream()

	var attempt int
	for {
		body, err := s.r.openStreamAt(s.ctx, s.pos)
		if err == nil {
			s.body = body
			s.stream = s.r.limiter.WrapReader(s.ctx, body)
			s.bodyPos = s.pos

			return nil
		}

		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}

		if !retryableRange(err) || attempt >= rangeMaxRetries {
			return err
		}

		if sleepErr := s.r.sleepFunc(s.ctx, rangeBackoff(attempt)); sleepErr != nil {
			return sleepErr
		}

		attempt++
	}
}

func (s *SectionReader) closeStream() {
	if s.body != nil {
		s.body.Close()
		s.body = nil
		s.stream = nil
	}
}

// Close releases the open streaming body, if any.
func (s *SectionReader) Close() error {
	s.closeStream()

	return nil
}

func (s *SectionReader) Seek(offset int64, whence int) (int64, error) {
	var abs int64

	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = s.pos + offset
	case io.SeekEnd:
		abs = s.r.size + offset
	default:
		return 0, fmt.Errorf("transfer: invalid seek whence %d", whence)
	}

	if abs < 0 {
		return 0, fmt.Errorf("transfer: negative seek position %d", abs)
	}

	s.pos = abs

	return abs, nil
}

// rangeBackoff computes exponential backoff with ±25% jitter.
func rangeBackoff(attempt int) time.Duration {
	backoff := float64(rangeBaseBackoff) * math.Pow(2, float64(attempt))
	if backoff > float64(rangeMaxBackoff) {
		backoff = float64(rangeMaxBackoff)
	}

	jitter := backoff * 0.25 * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// sleepCtx waits for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
