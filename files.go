package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alipan-go/alipan-go/internal/alipan"
	"github.com/alipan-go/alipan-go/internal/crypto"
	"github.com/alipan-go/alipan-go/internal/transfer"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List files and folders",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote-path> [local-path]",
		Short: "Download a file (resumable, decrypts transparently)",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runGet,
	}
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-path>... [remote-dir]",
		Short: "Upload files (rapid upload when possible)",
		Long: `Upload one or more local files to a remote folder.

With a single argument the file lands in the drive root. With multiple
arguments the last one names the remote folder, which is created if it
does not exist. Plaintext uploads attempt rapid upload (server-side
dedup by content hash) before transferring any bytes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runPut,
	}
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder (recursive)",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkdir,
	}
}

func newRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <path>...",
		Short: "Move files or folders to the recycle bin",
		Long: `Move files or folders to the Alipan recycle bin. They can be restored
from the web interface.

Folder deletion is recursive. Use --recursive (-r) to confirm intent
when deleting folders.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRm,
	}

	cmd.Flags().BoolP("recursive", "r", false, "confirm recursive folder deletion")

	return cmd
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <path> <new-name>",
		Short: "Rename a file or folder in place",
		Args:  cobra.ExactArgs(2),
		RunE:  runMv,
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Display file or folder metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

// cleanRemotePath normalizes a remote path to a rooted, cleaned form.
// "" and "/" both mean the drive root.
func cleanRemotePath(p string) string {
	return path.Clean("/" + strings.Trim(p, "/"))
}

func runLs(cmd *cobra.Command, args []string) error {
	remotePath := "/"
	if len(args) > 0 {
		remotePath = args[0]
	}

	ctx := cmd.Context()
	logger := buildLogger()

	client, err := newAPIClient(logger)
	if err != nil {
		return err
	}

	target, err := client.GetByPath(ctx, cleanRemotePath(remotePath))
	if err != nil {
		return fmt.Errorf("resolving %q: %w", remotePath, err)
	}

	var files []*alipan.File
	if target.IsDir() {
		files, err = client.List(ctx, target.FileID)
		if err != nil {
			return fmt.Errorf("listing %q: %w", remotePath, err)
		}
	} else {
		files = []*alipan.File{target}
	}

	if flagJSON {
		return printFilesJSON(files)
	}

	printFilesTable(files)

	return nil
}

// lsJSONItem is the JSON output schema for a single item in ls output.
type lsJSONItem struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	IsFolder    bool   `json:"is_folder"`
	UpdatedAt   string `json:"updated_at"`
	FileID      string `json:"file_id"`
	ContentHash string `json:"content_hash,omitempty"`
}

func printFilesJSON(files []*alipan.File) error {
	out := make([]lsJSONItem, 0, len(files))
	for _, f := range files {
		out = append(out, lsJSONItem{
			Name:        f.Name,
			Size:        f.Size,
			IsFolder:    f.IsDir(),
			UpdatedAt:   f.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			FileID:      f.FileID,
			ContentHash: f.ContentHash,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printFilesTable(files []*alipan.File) {
	// Folders first, then alphabetical.
	sort.Slice(files, func(i, j int) bool {
		if files[i].IsDir() != files[j].IsDir() {
			return files[i].IsDir()
		}

		return files[i].Name < files[j].Name
	})

	headers := []string{"NAME", "SIZE", "MODIFIED"}
	rows := make([][]string, 0, len(files))

	for _, f := range files {
		name := f.Name
		size := formatSize(f.Size)

		if f.IsDir() {
			name += "/"
			size = "-"
		}

		rows = append(rows, []string{name, size, formatTime(f.UpdatedAt)})
	}

	printTable(os.Stdout, headers, rows)
}

func runGet(cmd *cobra.Command, args []string) error {
	remotePath := args[0]
	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	client, err := newAPIClient(logger)
	if err != nil {
		return err
	}

	file, err := client.GetByPath(ctx, cleanRemotePath(remotePath))
	if err != nil {
		return fmt.Errorf("resolving %q: %w", remotePath, err)
	}

	if file.IsDir() {
		return fmt.Errorf("%q is a folder, not a file", remotePath)
	}

	localPath := file.Name
	if len(args) > 1 {
		localPath = args[1]
	}

	chunkSize, limiter, err := transferSettings(logger)
	if err != nil {
		return err
	}

	downloader := transfer.NewDownloader(client, dataHTTPClient(), logger, transfer.DownloadOptions{
		ChunkSize:      chunkSize,
		ParallelChunks: cfg.Transfers.ParallelChunks,
		Password:       cfg.Encrypt.Password,
		Limiter:        limiter,
		Progress:       newProgressFunc(),
	})

	if err := downloader.Download(ctx, file, localPath); err != nil {
		// A paused download keeps its .partial file; tell the user how
		// to pick it back up.
		if _, statErr := os.Stat(localPath + transfer.PartialSuffix); statErr == nil {
			statusf("Partial download saved: %s\n", localPath+transfer.PartialSuffix)
			statusf("Re-run the same command to resume.\n")
		}

		return err
	}

	statusf("Downloaded %s (%s)\n", localPath, formatSize(fileSizeOf(localPath)))

	return nil
}

// fileSizeOf returns the size of a local file, or -1 when unknown.
func fileSizeOf(p string) int64 {
	fi, err := os.Stat(p)
	if err != nil {
		return -1
	}

	return fi.Size()
}

func runPut(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	locals := args
	remoteDir := "/"

	// With two or more arguments the last one is the remote folder,
	// unless it exists locally (uploading several files to root).
	if len(args) > 1 {
		if _, err := os.Stat(args[len(args)-1]); err != nil {
			locals = args[:len(args)-1]
			remoteDir = args[len(args)-1]
		}
	}

	client, err := newAPIClient(logger)
	if err != nil {
		return err
	}

	parent, err := client.MakedirPath(ctx, cleanRemotePath(remoteDir))
	if err != nil {
		return fmt.Errorf("preparing remote folder %q: %w", remoteDir, err)
	}

	uploader, err := newUploader(client, logger)
	if err != nil {
		return err
	}

	items := make([]transfer.UploadItem, 0, len(locals))
	for _, local := range locals {
		fi, err := os.Stat(local)
		if err != nil {
			return err
		}

		if fi.IsDir() {
			return fmt.Errorf("%q is a directory; use \"alipan-go sync\" for trees", local)
		}

		items = append(items, transfer.UploadItem{
			LocalPath:    local,
			ParentFileID: parent.FileID,
			Name:         filepath.Base(local),
		})
	}

	if err := uploader.UploadAll(ctx, items); err != nil {
		return err
	}

	statusf("Uploaded %d file(s) to %s\n", len(items), cleanRemotePath(remoteDir))

	return nil
}

// newUploader builds an Uploader from the loaded config.
func newUploader(client *alipan.Client, logger *slog.Logger) (*transfer.Uploader, error) {
	method, err := crypto.ParseMethod(cfg.Encrypt.Method)
	if err != nil {
		return nil, err
	}

	_, limiter, err := transferSettings(logger)
	if err != nil {
		return nil, err
	}

	return transfer.NewUploader(client, logger, transfer.UploadOptions{
		ParallelFiles: cfg.Transfers.ParallelFiles,
		Method:        method,
		Password:      cfg.Encrypt.Password,
		Limiter:       limiter,
		Progress:      newProgressFunc(),
	}), nil
}

func runMkdir(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	client, err := newAPIClient(logger)
	if err != nil {
		return err
	}

	dir, err := client.MakedirPath(ctx, cleanRemotePath(args[0]))
	if err != nil {
		return fmt.Errorf("creating %q: %w", args[0], err)
	}

	statusf("Created %s\n", cleanRemotePath(args[0]))
	logger.Debug("mkdir complete", "file_id", dir.FileID)

	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	recursive, err := cmd.Flags().GetBool("recursive")
	if err != nil {
		return err
	}

	client, err := newAPIClient(logger)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(args))

	for _, arg := range args {
		file, err := client.GetByPath(ctx, cleanRemotePath(arg))
		if err != nil {
			return fmt.Errorf("resolving %q: %w", arg, err)
		}

		if file.IsDir() && !recursive {
			return fmt.Errorf("%q is a folder; pass --recursive to delete it and its contents", arg)
		}

		if file.FileID == alipan.RootFileID {
			return errors.New("refusing to delete the drive root")
		}

		ids = append(ids, file.FileID)
	}

	if err := client.Remove(ctx, ids...); err != nil {
		return err
	}

	statusf("Moved %d item(s) to the recycle bin\n", len(ids))

	return nil
}

func runMv(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	newName := args[1]
	if strings.ContainsRune(newName, '/') {
		return fmt.Errorf("new name %q must not contain a slash; mv renames in place", newName)
	}

	client, err := newAPIClient(logger)
	if err != nil {
		return err
	}

	file, err := client.GetByPath(ctx, cleanRemotePath(args[0]))
	if err != nil {
		return fmt.Errorf("resolving %q: %w", args[0], err)
	}

	if _, err := client.Rename(ctx, file.FileID, newName); err != nil {
		return fmt.Errorf("renaming %q: %w", args[0], err)
	}

	statusf("Renamed %s to %s\n", cleanRemotePath(args[0]), newName)

	return nil
}

func runStat(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	client, err := newAPIClient(logger)
	if err != nil {
		return err
	}

	file, err := client.GetByPath(ctx, cleanRemotePath(args[0]))
	if err != nil {
		return fmt.Errorf("resolving %q: %w", args[0], err)
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(file)
	}

	kind := "file"
	if file.IsDir() {
		kind = "folder"
	}

	fmt.Printf("Name:      %s\n", file.Name)
	fmt.Printf("Type:      %s\n", kind)
	fmt.Printf("File ID:   %s\n", file.FileID)
	fmt.Printf("Parent ID: %s\n", file.ParentFileID)

	if !file.IsDir() {
		fmt.Printf("Size:      %s (%d bytes)\n", formatSize(file.Size), file.Size)

		if file.ContentHash != "" {
			fmt.Printf("SHA-1:     %s\n", file.ContentHash)
		}
	}

	if !file.CreatedAt.IsZero() {
		fmt.Printf("Created:   %s\n", file.CreatedAt.Local().Format(time.RFC3339))
	}

	if !file.UpdatedAt.IsZero() {
		fmt.Printf("Modified:  %s\n", file.UpdatedAt.Local().Format(time.RFC3339))
	}

	return nil
}
