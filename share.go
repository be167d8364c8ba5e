package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alipan-go/alipan-go/internal/config"
	"github.com/alipan-go/alipan-go/internal/sharestore"
)

func newShareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share",
		Short: "Create and manage share links",
	}

	create := &cobra.Command{
		Use:   "create <path>...",
		Short: "Create a share link for one or more files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runShareCreate,
	}
	create.Flags().String("password", "", "extraction password for the link")
	create.Flags().Duration("expires-in", 0, "lifetime of the link (0 = never expires)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List share links",
		Long: `List share links from the local database. With --remote, fetch the
account's published links from the API first and fold them in, picking
up links created on other machines.`,
		Args: cobra.NoArgs,
		RunE: runShareList,
	}
	list.Flags().Bool("remote", false, "refresh the local database from the API first")

	cancel := &cobra.Command{
		Use:   "cancel <share-id>",
		Short: "Cancel a share link",
		Args:  cobra.ExactArgs(1),
		RunE:  runShareCancel,
	}

	cmd.AddCommand(create, list, cancel)

	return cmd
}

// openShareStore opens the local share database under the config dir.
func openShareStore(cmd *cobra.Command, logger *slog.Logger) (*sharestore.Store, error) {
	dbPath, err := config.ShareStorePath()
	if err != nil {
		return nil, err
	}

	return sharestore.Open(cmd.Context(), dbPath, logger)
}

func runShareCreate(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	password, err := cmd.Flags().GetString("password")
	if err != nil {
		return err
	}

	expiresIn, err := cmd.Flags().GetDuration("expires-in")
	if err != nil {
		return err
	}

	var expiration time.Time
	if expiresIn > 0 {
		expiration = time.Now().Add(expiresIn)
	}

	client, err := newAPIClient(logger)
	if err != nil {
		return err
	}

	fileIDs := make([]string, 0, len(args))

	for _, arg := range args {
		file, err := client.GetByPath(ctx, cleanRemotePath(arg))
		if err != nil {
			return fmt.Errorf("resolving %q: %w", arg, err)
		}

		fileIDs = append(fileIDs, file.FileID)
	}

	link, err := client.CreateShare(ctx, fileIDs, password, expiration)
	if err != nil {
		return fmt.Errorf("creating share: %w", err)
	}

	store, err := openShareStore(cmd, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Save(ctx, link); err != nil {
		return fmt.Errorf("saving share locally: %w", err)
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(link)
	}

	fmt.Printf("Share URL: %s\n", link.ShareURL)

	if link.SharePwd != "" {
		fmt.Printf("Password:  %s\n", link.SharePwd)
	}

	if !link.Expiration.IsZero() {
		fmt.Printf("Expires:   %s\n", link.Expiration.Local().Format(time.RFC3339))
	}

	return nil
}

func runShareList(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	remote, err := cmd.Flags().GetBool("remote")
	if err != nil {
		return err
	}

	store, err := openShareStore(cmd, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if remote {
		client, err := newAPIClient(logger)
		if err != nil {
			return err
		}

		published, err := client.ListShares(ctx)
		if err != nil {
			return fmt.Errorf("fetching published shares: %w", err)
		}

		for _, link := range published {
			if err := store.Save(ctx, link); err != nil {
				return fmt.Errorf("saving share %s: %w", link.ShareID, err)
			}
		}
	}

	// Drop links that expired since the last run.
	if _, err := store.PruneExpired(ctx, time.Now()); err != nil {
		return err
	}

	links, err := store.List(ctx)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(links)
	}

	headers := []string{"SHARE ID", "NAME", "URL", "EXPIRES"}
	rows := make([][]string, 0, len(links))

	for _, link := range links {
		expires := "never"
		if !link.Expiration.IsZero() {
			expires = formatTime(link.Expiration)
		}

		rows = append(rows, []string{link.ShareID, link.ShareName, link.ShareURL, expires})
	}

	printTable(os.Stdout, headers, rows)

	return nil
}

func runShareCancel(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := cmd.Context()
	shareID := args[0]

	client, err := newAPIClient(logger)
	if err != nil {
		return err
	}

	if err := client.CancelShare(ctx, shareID); err != nil {
		return fmt.Errorf("cancelling share %s: %w", shareID, err)
	}

	store, err := openShareStore(cmd, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// The link may have been created from another machine; a missing
	// local record is not an error.
	if err := store.Delete(ctx, shareID); err != nil && !errors.Is(err, sharestore.ErrShareNotFound) {
		return err
	}

	statusf("Cancelled share %s\n", shareID)

	return nil
}
