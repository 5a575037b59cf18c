package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// PresenceRecord is the last known state of one user in one space.
// Data is the JSON encoding of the full user.
type PresenceRecord struct {
	Space     string
	UUID      string
	Data      []byte
	UpdatedAt time.Time
}

// JournalEntry is one mutation accepted from a relay.
type JournalEntry struct {
	ID        int64
	Space     string
	Kind      string
	UserUUID  string
	Origin    string
	Payload   []byte
	CreatedAt time.Time
}

// PresenceStore keeps the net directory of every space.
type PresenceStore interface {
	// PutUser inserts or replaces a user record.
	PutUser(ctx context.Context, space, uuid string, data []byte) error
	// GetUser returns ErrNotFound when the user is absent.
	GetUser(ctx context.Context, space, uuid string) (*PresenceRecord, error)
	// DeleteUser reports whether a record was removed.
	DeleteUser(ctx context.Context, space, uuid string) (bool, error)
	// ListUsers returns the users of a space ordered by uuid.
	ListUsers(ctx context.Context, space string) ([]*PresenceRecord, error)
	// ListSpaces returns every space holding at least one user.
	ListSpaces(ctx context.Context) ([]string, error)
}

// JournalStore is the append-only mutation log.
type JournalStore interface {
	AppendEntry(ctx context.Context, entry *JournalEntry) error
	// ListEntries returns entries of a space with ID > afterID, oldest first.
	ListEntries(ctx context.Context, space string, afterID int64, limit int) ([]*JournalEntry, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	PresenceStore
	JournalStore
	Close() error
}
