// Package journal is a backend link that keeps the canonical directory in a
// local SQLite journal. It lets a single relay survive restarts and replays
// stored users into spaces as they are created.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/spacerelay/internal/backend"
	"github.com/vovakirdan/spacerelay/internal/core"
	"github.com/vovakirdan/spacerelay/internal/proto"
	"github.com/vovakirdan/spacerelay/internal/store"
)

// Backend implements core.BackendConnection and core.SpaceTracker.
type Backend struct {
	store  store.Store
	origin string
	log    zerolog.Logger

	// mu serializes the read-modify-write of partial updates.
	mu      sync.Mutex
	applier core.RemoteApplier
}

var (
	_ core.BackendConnection = (*Backend)(nil)
	_ core.SpaceTracker      = (*Backend)(nil)
)

// New builds a journal backend over st. origin tags every entry.
func New(st store.Store, origin string, logger *zerolog.Logger) *Backend {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "journal").Logger()
	}
	return &Backend{store: st, origin: origin, log: l}
}

// Bind sets the hub that receives replayed users.
func (b *Backend) Bind(a core.RemoteApplier) {
	b.mu.Lock()
	b.applier = a
	b.mu.Unlock()
}

// Write records msg and folds it into the stored directory.
func (b *Backend) Write(ctx context.Context, msg *core.BackMessage) error {
	m := msg.Message
	payload, err := json.Marshal(proto.SpaceMessageFromCore(m))
	if err != nil {
		return fmt.Errorf("encode journal payload: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.store.AppendEntry(ctx, &store.JournalEntry{
		Space:    m.SpaceName(),
		Kind:     core.MessageKind(m),
		UserUUID: m.UserUUID(),
		Origin:   b.origin,
		Payload:  payload,
	}); err != nil {
		return err
	}

	var prev *core.SpaceUser
	if _, isUpdate := m.(*core.UpdateSpaceUser); isUpdate {
		rec, err := b.store.GetUser(ctx, m.SpaceName(), m.UserUUID())
		switch {
		case errors.Is(err, store.ErrNotFound):
			b.log.Debug().Str("space", m.SpaceName()).Str("user", m.UserUUID()).Msg("update for unknown user not stored")
			return nil
		case err != nil:
			return err
		}
		if prev, err = backend.DecodeUser(rec.Data); err != nil {
			return err
		}
	}

	next := backend.Fold(prev, m)
	if next == nil {
		_, err := b.store.DeleteUser(ctx, m.SpaceName(), m.UserUUID())
		return err
	}
	data, err := backend.EncodeUser(next)
	if err != nil {
		return err
	}
	return b.store.PutUser(ctx, m.SpaceName(), next.UUID, data)
}

// WatchSpace replays every stored user of space into the hub.
func (b *Backend) WatchSpace(ctx context.Context, space string) error {
	b.mu.Lock()
	applier := b.applier
	b.mu.Unlock()
	if applier == nil {
		return nil
	}

	records, err := b.store.ListUsers(ctx, space)
	if err != nil {
		return err
	}
	for _, rec := range records {
		u, err := backend.DecodeUser(rec.Data)
		if err != nil {
			b.log.Warn().Err(err).Str("space", space).Str("user", rec.UUID).Msg("skipping undecodable journal record")
			continue
		}
		if err := applier.ApplyRemote(ctx, &core.AddSpaceUser{Space: space, User: u}); err != nil {
			return fmt.Errorf("replay %s: %w", space, err)
		}
	}
	b.log.Debug().Str("space", space).Int("users", len(records)).Msg("space hydrated")
	return nil
}

// UnwatchSpace keeps stored state; the journal outlives local spaces.
func (b *Backend) UnwatchSpace(context.Context, string) error { return nil }

// StoredSpaces lists every space with at least one stored user.
func (b *Backend) StoredSpaces(ctx context.Context) ([]string, error) {
	return b.store.ListSpaces(ctx)
}

// History returns journaled mutations of space with ID > afterID, oldest first.
func (b *Backend) History(ctx context.Context, space string, afterID int64, limit int) ([]*store.JournalEntry, error) {
	return b.store.ListEntries(ctx, space, afterID, limit)
}

// Close closes the underlying store.
func (b *Backend) Close() error {
	return b.store.Close()
}
