// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides bookmark persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// The UNIQUE index on (owner_id, source_message_id) is what closes the
// check-then-act race on concurrent bookmark creation.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS bookmarks (
			id                   TEXT PRIMARY KEY,
			owner_id             TEXT NOT NULL,
			community_id         TEXT NOT NULL,
			source_channel_id    TEXT NOT NULL,
			source_message_id    TEXT NOT NULL,
			delivered_message_id TEXT,
			created_at           TEXT NOT NULL,

			UNIQUE(owner_id, source_message_id)
		);

		CREATE INDEX IF NOT EXISTS idx_bookmarks_owner ON bookmarks(owner_id);
		CREATE INDEX IF NOT EXISTS idx_bookmarks_owner_community ON bookmarks(owner_id, community_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateBookmark inserts a new bookmark.
// If a bookmark already exists for the same owner and source message,
// it returns ErrDuplicateBookmark.
func (s *SQLiteStore) CreateBookmark(ctx context.Context, bookmark *Bookmark) error {
	query := `
		INSERT INTO bookmarks (id, owner_id, community_id, source_channel_id, source_message_id, delivered_message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		bookmark.ID,
		bookmark.OwnerID,
		bookmark.CommunityID,
		bookmark.SourceChannelID,
		bookmark.SourceMessageID,
		nullString(bookmark.DeliveredMessageID),
		bookmark.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateBookmark
		}
		return fmt.Errorf("inserting bookmark: %w", err)
	}

	s.logger.Debug("created bookmark", "id", bookmark.ID, "owner", bookmark.OwnerID)
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for nil or empty string pointers, otherwise the value
func nullString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

// GetBookmark retrieves a bookmark by ID.
// Returns ErrNotFound if the bookmark doesn't exist.
func (s *SQLiteStore) GetBookmark(ctx context.Context, id string) (*Bookmark, error) {
	query := `
		SELECT id, owner_id, community_id, source_channel_id, source_message_id, delivered_message_id, created_at
		FROM bookmarks
		WHERE id = ?
	`
	return s.scanBookmark(s.db.QueryRowContext(ctx, query, id))
}

// GetBookmarkByOwnerAndMessage retrieves a bookmark by its owner and source
// message. This uses the uniqueness index, so at most one row can match.
// Returns ErrNotFound if no bookmark exists for the pair.
func (s *SQLiteStore) GetBookmarkByOwnerAndMessage(ctx context.Context, ownerID, messageID string) (*Bookmark, error) {
	query := `
		SELECT id, owner_id, community_id, source_channel_id, source_message_id, delivered_message_id, created_at
		FROM bookmarks
		WHERE owner_id = ? AND source_message_id = ?
	`
	return s.scanBookmark(s.db.QueryRowContext(ctx, query, ownerID, messageID))
}

func (s *SQLiteStore) scanBookmark(row *sql.Row) (*Bookmark, error) {
	var b Bookmark
	var createdAtStr string
	var delivered sql.NullString

	err := row.Scan(
		&b.ID,
		&b.OwnerID,
		&b.CommunityID,
		&b.SourceChannelID,
		&b.SourceMessageID,
		&delivered,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning bookmark: %w", err)
	}

	b.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if delivered.Valid {
		b.DeliveredMessageID = &delivered.String
	}

	return &b, nil
}

// SetDeliveredMessage records the delivered private copy for a bookmark.
// Returns ErrNotFound if the bookmark no longer exists (it may have been
// removed while delivery was in flight).
func (s *SQLiteStore) SetDeliveredMessage(ctx context.Context, id, deliveredID string) error {
	query := `UPDATE bookmarks SET delivered_message_id = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, deliveredID, id)
	if err != nil {
		return fmt.Errorf("updating bookmark: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("recorded delivered message", "id", id, "delivered_message_id", deliveredID)
	return nil
}

// DeleteBookmark removes a bookmark by ID. Deleting a bookmark that does not
// exist is a no-op, so concurrent removals of the same ID are harmless.
func (s *SQLiteStore) DeleteBookmark(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM bookmarks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting bookmark: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		s.logger.Debug("deleted bookmark", "id", id)
	}
	return nil
}

// DeleteBookmarksForOwner removes every bookmark held by an owner, optionally
// scoped to a single community. Returns the number of bookmarks removed.
func (s *SQLiteStore) DeleteBookmarksForOwner(ctx context.Context, ownerID, communityID string) (int64, error) {
	var result sql.Result
	var err error

	if communityID == "" {
		result, err = s.db.ExecContext(ctx, `DELETE FROM bookmarks WHERE owner_id = ?`, ownerID)
	} else {
		result, err = s.db.ExecContext(ctx, `DELETE FROM bookmarks WHERE owner_id = ? AND community_id = ?`, ownerID, communityID)
	}
	if err != nil {
		return 0, fmt.Errorf("deleting bookmarks for owner: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected > 0 {
		s.logger.Debug("deleted owner bookmarks", "owner", ownerID, "community", communityID, "count", rowsAffected)
	}
	return rowsAffected, nil
}

// ListBookmarks returns every persisted bookmark, oldest first.
func (s *SQLiteStore) ListBookmarks(ctx context.Context) ([]*Bookmark, error) {
	query := `
		SELECT id, owner_id, community_id, source_channel_id, source_message_id, delivered_message_id, created_at
		FROM bookmarks
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying bookmarks: %w", err)
	}
	defer rows.Close()

	var bookmarks []*Bookmark
	for rows.Next() {
		var b Bookmark
		var createdAtStr string
		var delivered sql.NullString

		if err := rows.Scan(&b.ID, &b.OwnerID, &b.CommunityID, &b.SourceChannelID, &b.SourceMessageID, &delivered, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning bookmark row: %w", err)
		}

		b.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if delivered.Valid {
			b.DeliveredMessageID = &delivered.String
		}
		bookmarks = append(bookmarks, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bookmark rows: %w", err)
	}
	return bookmarks, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
