package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/alipan-go/alipan-go/internal/alipan"
	"github.com/alipan-go/alipan-go/internal/config"
)

func newAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth <refresh-token>",
		Short: "Save a refresh token and verify it against the API",
		Long: `Save an Alipan refresh token and exchange it for an access token.

Obtain the refresh token from the Alipan web client (localStorage key
"token", field "refresh_token"). The token rotates on every refresh, so
the saved copy is updated automatically as the client runs.`,
		Args: cobra.ExactArgs(1),
		RunE: runAuth,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated user and drive quota",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func runAuth(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	sessionPath, err := config.SessionPath()
	if err != nil {
		return err
	}

	client := alipan.NewClient(&alipan.Session{RefreshToken: args[0]}, logger,
		alipan.WithHTTPClient(&http.Client{Timeout: apiClientTimeout}),
		alipan.WithUserAgent(cfg.Network.UserAgent),
		alipan.WithSessionCallback(func(s *alipan.Session) error {
			return config.SaveSession(sessionPath, s)
		}),
	)

	// Refresh validates the token and persists the rotated session via
	// the callback above.
	if err := client.Refresh(ctx); err != nil {
		return fmt.Errorf("verifying refresh token: %w", err)
	}

	session := client.Session()

	logger.Info("authenticated",
		"user_id", session.UserID,
		"drive_id", session.DriveID,
	)
	statusf("Authenticated as %s (drive %s).\n", displayName(&session), session.DriveID)

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Nickname  string `json:"nickname"`
	DriveID   string `json:"drive_id"`
	UsedSize  int64  `json:"used_size"`
	TotalSize int64  `json:"total_size"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	client, err := newAPIClient(logger)
	if err != nil {
		return err
	}

	space, err := client.GetSpace(ctx)
	if err != nil {
		return fmt.Errorf("fetching drive quota: %w", err)
	}

	session := client.Session()

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(whoamiOutput{
			UserID:    session.UserID,
			UserName:  session.UserName,
			Nickname:  session.Nickname,
			DriveID:   session.DriveID,
			UsedSize:  space.UsedSize,
			TotalSize: space.TotalSize,
		})
	}

	fmt.Printf("User:  %s (%s)\n", displayName(&session), session.UserID)
	fmt.Printf("Drive: %s\n", session.DriveID)
	fmt.Printf("Quota: %s / %s\n", formatSize(space.UsedSize), formatSize(space.TotalSize))

	return nil
}

// displayName prefers the nickname, falling back to the account name.
func displayName(s *alipan.Session) string {
	if s.Nickname != "" {
		return s.Nickname
	}

	return s.UserName
}
