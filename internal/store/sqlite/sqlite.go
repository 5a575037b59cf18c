package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/spacerelay/internal/store"
)

// Schema creates the journal tables if they are missing.
const Schema = `
CREATE TABLE IF NOT EXISTS presence (
	space      TEXT NOT NULL,
	uuid       TEXT NOT NULL,
	data       BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (space, uuid)
);

CREATE TABLE IF NOT EXISTS journal (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	space      TEXT NOT NULL,
	kind       TEXT NOT NULL,
	user_uuid  TEXT NOT NULL,
	origin     TEXT NOT NULL DEFAULT '',
	payload    BLOB,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_journal_space ON journal(space, id);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New opens the database at dbPath and applies Schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to seed data alongside the schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection; it also keeps :memory: shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== PresenceStore implementation ====

// PutUser inserts or replaces a user record.
func (s *SQLiteStore) PutUser(ctx context.Context, space, uuid string, data []byte) error {
	query := `
		INSERT INTO presence (space, uuid, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(space, uuid) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, space, uuid, data, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert presence: %w", err)
	}
	return nil
}

// GetUser retrieves a user record.
func (s *SQLiteStore) GetUser(ctx context.Context, space, uuid string) (*store.PresenceRecord, error) {
	query := `
		SELECT space, uuid, data, updated_at
		FROM presence
		WHERE space = ? AND uuid = ?
	`
	var rec store.PresenceRecord
	err := s.db.QueryRowContext(ctx, query, space, uuid).Scan(&rec.Space, &rec.UUID, &rec.Data, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("presence %s/%s: %w", space, uuid, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query presence: %w", err)
	}
	return &rec, nil
}

// DeleteUser removes a user record.
func (s *SQLiteStore) DeleteUser(ctx context.Context, space, uuid string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM presence WHERE space = ? AND uuid = ?`, space, uuid)
	if err != nil {
		return false, fmt.Errorf("delete presence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListUsers returns every user of a space ordered by uuid.
func (s *SQLiteStore) ListUsers(ctx context.Context, space string) ([]*store.PresenceRecord, error) {
	query := `
		SELECT space, uuid, data, updated_at
		FROM presence
		WHERE space = ?
		ORDER BY uuid
	`
	rows, err := s.db.QueryContext(ctx, query, space)
	if err != nil {
		return nil, fmt.Errorf("query presence: %w", err)
	}
	defer rows.Close()

	var out []*store.PresenceRecord
	for rows.Next() {
		var rec store.PresenceRecord
		if err := rows.Scan(&rec.Space, &rec.UUID, &rec.Data, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan presence: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// ListSpaces returns the names of every non-empty space.
func (s *SQLiteStore) ListSpaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT space FROM presence ORDER BY space`)
	if err != nil {
		return nil, fmt.Errorf("query spaces: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan space: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// ==== JournalStore implementation ====

// AppendEntry stores a mutation and fills in its ID and timestamp.
func (s *SQLiteStore) AppendEntry(ctx context.Context, entry *store.JournalEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO journal (space, kind, user_uuid, origin, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query, entry.Space, entry.Kind, entry.UserUUID, entry.Origin, entry.Payload, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

// ListEntries returns journal entries of a space after afterID, oldest first.
func (s *SQLiteStore) ListEntries(ctx context.Context, space string, afterID int64, limit int) ([]*store.JournalEntry, error) {
	query := `
		SELECT id, space, kind, user_uuid, origin, payload, created_at
		FROM journal
		WHERE space = ? AND id > ?
		ORDER BY id
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, space, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []*store.JournalEntry
	for rows.Next() {
		var e store.JournalEntry
		if err := rows.Scan(&e.ID, &e.Space, &e.Kind, &e.UserUUID, &e.Origin, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
