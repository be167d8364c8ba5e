// Package sharestore persists published share links in an embedded
// SQLite database so they can be listed and revoked later without
// round-tripping to the API.
package sharestore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/alipan-go/alipan-go/internal/alipan"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrShareNotFound indicates the share ID is not in the store.
var ErrShareNotFound = errors.New("sharestore: share not found")

// Store is a SQLite-backed share-link store. Use ":memory:" as the path
// in tests.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the database at dbPath, applying pending migrations.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sharestore: opening %s: %w", dbPath, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sharestore: setting WAL mode: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sharestore: enabling foreign keys: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// runMigrations applies all pending schema migrations. Uses the goose
// v3 Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("sharestore: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("sharestore: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("sharestore: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or replaces a share link.
func (s *Store) Save(ctx context.Context, link *alipan.SharedLink) error {
	fileIDs, err := json.Marshal(link.FileIDs)
	if err != nil {
		return fmt.Errorf("sharestore: encoding file IDs: %w", err)
	}

	var expiration sql.NullString
	if !link.Expiration.IsZero() {
		expiration = sql.NullString{String: link.Expiration.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO shares (share_id, share_url, name, password, file_ids, expiration, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		link.ShareID, link.ShareURL, link.ShareName, link.SharePwd,
		string(fileIDs), expiration, link.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("sharestore: saving share %s: %w", link.ShareID, err)
	}

	return nil
}

// List returns all stored share links, newest first.
func (s *Store) List(ctx context.Context) ([]*alipan.SharedLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT share_id, share_url, name, password, file_ids, expiration, created_at
		FROM shares ORDER BY created_at DESC, share_id`)
	if err != nil {
		return nil, fmt.Errorf("sharestore: listing shares: %w", err)
	}
	defer rows.Close()

	var links []*alipan.SharedLink

	for rows.Next() {
		link, err := scanShare(rows)
		if err != nil {
			return nil, err
		}

		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sharestore: listing shares: %w", err)
	}

	return links, nil
}

// Get returns one share link by ID.
func (s *Store) Get(ctx context.Context, shareID string) (*alipan.SharedLink, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT share_id, share_url, name, password, file_ids, expiration, created_at
		FROM shares WHERE share_id = ?`, shareID)

	link, err := scanShare(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrShareNotFound
	}

	return link, err
}

// Delete removes a share link from the store.
func (s *Store) Delete(ctx context.Context, shareID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM shares WHERE share_id = ?`, shareID)
	if err != nil {
		return fmt.Errorf("sharestore: deleting share %s: %w", shareID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sharestore: deleting share %s: %w", shareID, err)
	}

	if n == 0 {
		return ErrShareNotFound
	}

	return nil
}

// PruneExpired removes links whose expiration has passed and returns
// how many were dropped.
func (s *Store) PruneExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM shares WHERE expiration IS NOT NULL AND expiration < ?`,
		now.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("sharestore: pruning expired shares: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sharestore: pruning expired shares: %w", err)
	}

	return n, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanShare(row scanner) (*alipan.SharedLink, error) {
	var (
		link       alipan.SharedLink
		fileIDs    string
		expiration sql.NullString
		createdAt  string
	)

	if err := row.Scan(&link.ShareID, &link.ShareURL, &link.ShareName, &link.SharePwd,
		&fileIDs, &expiration, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("sharestore: scanning share: %w", err)
	}

	if err := json.Unmarshal([]byte(fileIDs), &link.FileIDs); err != nil {
		return nil, fmt.Errorf("sharestore: decoding file IDs: %w", err)
	}

	if expiration.Valid {
		t, err := time.Parse(time.RFC3339, expiration.String)
		if err != nil {
			return nil, fmt.Errorf("sharestore: parsing expiration: %w", err)
		}

		link.Expiration = t
	}

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("sharestore: parsing created_at: %w", err)
	}

	link.CreatedAt = t

	return &link, nil
}
