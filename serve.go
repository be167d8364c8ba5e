package main

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alipan-go/alipan-go/internal/alipan"
	"github.com/alipan-go/alipan-go/internal/crypto"
	"github.com/alipan-go/alipan-go/internal/transfer"
)

const (
	serveDefaultAddr     = "127.0.0.1:8264"
	serveHeaderTimeout   = 10 * time.Second
	serveShutdownTimeout = 5 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [remote-dir]",
		Short: "Serve a remote folder over HTTP",
		Long: `Expose a remote folder as a read-only HTTP file server. Range requests
are honored, so media players can seek without downloading whole files.
Encrypted content is decrypted transparently when a password is
configured.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runServe,
	}

	cmd.Flags().String("addr", serveDefaultAddr, "listen address")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	remoteRoot := "/"
	if len(args) > 0 {
		remoteRoot = args[0]
	}

	addr, err := cmd.Flags().GetString("addr")
	if err != nil {
		return err
	}

	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	client, err := newAPIClient(logger)
	if err != nil {
		return err
	}

	// Fail fast on a bad root instead of 404ing every request.
	if _, err := client.GetByPath(ctx, cleanRemotePath(remoteRoot)); err != nil {
		return fmt.Errorf("resolving %q: %w", remoteRoot, err)
	}

	_, limiter, err := transferSettings(logger)
	if err != nil {
		return err
	}

	fs := &fileServer{
		client:   client,
		http:     dataHTTPClient(),
		limiter:  limiter,
		password: cfg.Encrypt.Password,
		root:     cleanRemotePath(remoteRoot),
		logger:   logger,
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           fs,
		ReadHeaderTimeout: serveHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", "error", err)
		}
	}()

	statusf("Serving %s on http://%s\n", fs.root, addr)
	logger.Info("http server listening", slog.String("addr", addr), slog.String("root", fs.root))

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// fileServer serves a remote subtree read-only over HTTP.
type fileServer struct {
	client   *alipan.Client
	http     *http.Client
	limiter  *transfer.BandwidthLimiter
	password string
	root     string
	logger   *slog.Logger
}

func (fs *fileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	remotePath := path.Join(fs.root, cleanRemotePath(r.URL.Path))

	file, err := fs.client.GetByPath(r.Context(), remotePath)
	if err != nil {
		if errors.Is(err, alipan.ErrNotFound) {
			http.NotFound(w, r)
			return
		}

		fs.logger.Error("resolve failed", slog.String("path", remotePath), "error", err)
		http.Error(w, "upstream error", http.StatusBadGateway)

		return
	}

	if file.IsDir() {
		// Relative links in the listing only resolve under a trailing slash.
		if !strings.HasSuffix(r.URL.Path, "/") {
			http.Redirect(w, r, r.URL.Path+"/", http.StatusMovedPermanently)
			return
		}

		fs.serveListing(w, r, remotePath, file)

		return
	}

	fs.serveFile(w, r, file)
}

// serveListing renders a minimal HTML index for a folder.
func (fs *fileServer) serveListing(w http.ResponseWriter, r *http.Request, remotePath string, dir *alipan.File) {
	files, err := fs.client.List(r.Context(), dir.FileID)
	if err != nil {
		fs.logger.Error("list failed", slog.String("path", remotePath), "error", err)
		http.Error(w, "upstream error", http.StatusBadGateway)

		return
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].IsDir() != files[j].IsDir() {
			return files[i].IsDir()
		}

		return files[i].Name < files[j].Name
	})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	var b strings.Builder

	fmt.Fprintf(&b, "<!doctype html><title>%s</title><h1>%s</h1><ul>\n",
		html.EscapeString(remotePath), html.EscapeString(remotePath))

	if remotePath != fs.root {
		b.WriteString("<li><a href=\"..\">..</a></li>\n")
	}

	for _, f := range files {
		name := f.Name
		if f.IsDir() {
			name += "/"
		}

		fmt.Fprintf(&b, "<li><a href=\"%s\">%s</a></li>\n",
			url.PathEscape(f.Name), html.EscapeString(name))
	}

	b.WriteString("</ul>\n")

	_, _ = io.WriteString(w, b.String())
}

// serveFile streams file content with range support. Encrypted files are
// decrypted on the fly and presented at their plaintext length.
func (fs *fileServer) serveFile(w http.ResponseWriter, r *http.Request, file *alipan.File) {
	source := func(ctx context.Context) (*alipan.DownloadURL, error) {
		return fs.client.GetDownloadURL(ctx, file.FileID)
	}

	rr := transfer.NewRangeReader(fs.http, source, file.Size, fs.limiter, fs.logger)

	keys, err := fs.parseHead(r.Context(), rr)
	if err != nil {
		fs.logger.Error("head probe failed", slog.String("name", file.Name), "error", err)
		http.Error(w, "upstream error", http.StatusBadGateway)

		return
	}

	var content io.ReadSeeker

	if keys == nil {
		section := rr.Section(r.Context())
		defer section.Close()

		content = section
	} else {
		content = &decryptSeeker{ctx: r.Context(), rr: rr, keys: keys, size: keys.OrigLen}
	}

	http.ServeContent(w, r, file.Name, file.UpdatedAt, content)
}

// parseHead probes the first bytes for an encryption header. Nil keys
// means the content is served verbatim.
func (fs *fileServer) parseHead(ctx context.Context, rr *transfer.RangeReader) (*crypto.FileKeys, error) {
	if fs.password == "" || rr.Size() < crypto.TotalHeadLen {
		return nil, nil
	}

	head, err := rr.ReadRange(ctx, 0, crypto.TotalHeadLen)
	if err != nil {
		return nil, err
	}

	return crypto.ParseHead([]byte(fs.password), head)
}

// decryptReadAhead is how much plaintext decryptSeeker decrypts per
// upstream fetch. ServeContent copies in ~32 KiB slices; without
// read-ahead every slice would cost one ranged request.
const decryptReadAhead = 1 << 20

// decryptSeeker presents the plaintext of an encrypted remote file as an
// io.ReadSeeker for http.ServeContent. Offsets are plaintext-relative.
// Reads are served from a decrypted read-ahead buffer, so sequential
// consumption and seeks within the buffer issue no extra requests.
type decryptSeeker struct {
	ctx  context.Context
	rr   *transfer.RangeReader
	keys *crypto.FileKeys
	size int64
	pos  int64

	buf    []byte // decrypted read-ahead window
	bufOff int64  // plaintext offset of buf[0]
}

func (d *decryptSeeker) Read(p []byte) (int, error) {
	if d.pos >= d.size {
		return 0, io.EOF
	}

	if d.pos < d.bufOff || d.pos >= d.bufOff+int64(len(d.buf)) {
		if err := d.fill(); err != nil {
			return 0, err
		}
	}

	n := copy(p, d.buf[d.pos-d.bufOff:])
	d.pos += int64(n)

	return n, nil
}

// fill decrypts the next read-ahead window starting at the current position.
func (d *decryptSeeker) fill() error {
	n := int64(decryptReadAhead)
	if remaining := d.size - d.pos; n > remaining {
		n = remaining
	}

	fetch := func(off, m int64) ([]byte, error) {
		return d.rr.ReadRange(d.ctx, off+int64(d.keys.HeadLen), m)
	}

	data, err := d.keys.DecryptRange(fetch, d.pos, n)
	if err != nil {
		return err
	}

	d.buf = data
	d.bufOff = d.pos

	return nil
}

func (d *decryptSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64

	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = d.pos + offset
	case io.SeekEnd:
		abs = d.size + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}

	if abs < 0 {
		return 0, errors.New("negative seek position")
	}

	d.pos = abs

	return abs, nil
}
