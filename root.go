package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alipan-go/alipan-go/internal/alipan"
	"github.com/alipan-go/alipan-go/internal/config"
	"github.com/alipan-go/alipan-go/internal/transfer"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// cfg holds the effective configuration loaded by PersistentPreRunE.
// Available to all subcommands after the root pre-run phase completes.
var cfg config.Config

// apiClientTimeout bounds metadata API calls. Content transfers use a
// separate client with the configured data timeout (see dataHTTPClient).
const apiClientTimeout = 30 * time.Second

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "alipan-go",
		Short:   "Alipan (aliyundrive) CLI client",
		Long:    "A CLI client for Alipan with resumable transfers, transparent encryption, and one-way sync.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newAuthCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newMvCmd())
	cmd.AddCommand(newStatCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newShareCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// loadConfig resolves the config file path and loads settings into cfg.
// A missing config file yields defaults, so every command works out of
// the box.
func loadConfig() error {
	path := flagConfigPath
	if path == "" {
		var err error

		path, err = config.DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("resolving config path: %w", err)
		}
	}

	loaded, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg = loaded

	return nil
}

// buildLogger creates an slog.Logger configured by the loaded config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	switch cfg.Logging.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Logging.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newAPIClient loads the saved session and builds an authenticated API
// client that persists rotated refresh tokens back to disk.
func newAPIClient(logger *slog.Logger) (*alipan.Client, error) {
	sessionPath, err := config.SessionPath()
	if err != nil {
		return nil, err
	}

	session, err := config.LoadSession(sessionPath)
	if err != nil {
		return nil, err
	}

	client := alipan.NewClient(session, logger,
		alipan.WithHTTPClient(&http.Client{Timeout: apiClientTimeout}),
		alipan.WithUserAgent(cfg.Network.UserAgent),
		alipan.WithSessionCallback(func(s *alipan.Session) error {
			return config.SaveSession(sessionPath, s)
		}),
	)

	return client, nil
}

// dataHTTPClient returns the HTTP client used for chunk downloads and
// part uploads. Its timeout bounds a single ranged request, not the whole
// transfer.
func dataHTTPClient() *http.Client {
	timeout, err := time.ParseDuration(cfg.Network.DataTimeout)
	if err != nil || timeout <= 0 {
		timeout, _ = time.ParseDuration(config.DefaultDataTimeout)
	}

	return &http.Client{Timeout: timeout}
}

// transferSettings resolves chunk size and bandwidth limiter from config.
func transferSettings(logger *slog.Logger) (int64, *transfer.BandwidthLimiter, error) {
	chunkSize, err := config.ParseSize(cfg.Transfers.ChunkSize)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid chunk_size: %w", err)
	}

	limiter, err := transfer.NewBandwidthLimiter(cfg.Transfers.BandwidthLimit, logger)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid bandwidth_limit: %w", err)
	}

	return chunkSize, limiter, nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
