package core

import (
	"context"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/spacerelay/internal/metrics"
)

// Space mirrors the canonical user directory of one named space and fans
// presence events out to the watchers attached to it.
//
// A Space is not safe for concurrent use. The hub shard that owns it runs
// every operation on a single goroutine.
type Space struct {
	Name   string
	BackID int

	backend  BackendConnection
	users    map[string]*SpaceUser
	watchers map[string]Watcher
	log      zerolog.Logger
}

// NewSpace creates a space with its first watcher attached.
func NewSpace(name string, backend BackendConnection, backID int, watcher Watcher, logger *zerolog.Logger) *Space {
	if backend == nil {
		backend = DiscardBackend{}
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("space", name).Logger()
	}
	s := &Space{
		Name:     name,
		BackID:   backID,
		backend:  backend,
		users:    make(map[string]*SpaceUser),
		watchers: make(map[string]Watcher),
		log:      l,
	}
	if watcher != nil {
		s.watchers[watcher.ID()] = watcher
	}
	s.log.Debug().Int("back_id", backID).Msg("space created")
	return s
}

// AddWatcher attaches w, replacing any watcher with the same id.
func (s *Space) AddWatcher(w Watcher) {
	s.watchers[w.ID()] = w
}

// RemoveWatcher detaches the watcher and forgets its filters for this space.
// Returns false if it was not attached.
func (s *Space) RemoveWatcher(id string) bool {
	w, ok := s.watchers[id]
	if !ok {
		return false
	}
	delete(s.watchers, id)
	w.SpaceFilters().DropSpace(s.Name)
	return true
}

// Watcher returns the attached watcher with the given id.
func (s *Space) Watcher(id string) (Watcher, bool) {
	w, ok := s.watchers[id]
	return w, ok
}

// AddUser forwards the add upstream, then applies it locally.
func (s *Space) AddUser(ctx context.Context, user *SpaceUser) {
	s.forward(ctx, &AddSpaceUser{Space: s.Name, User: user.Clone()})
	s.LocalAddUser(user)
}

// LocalAddUser stores user (last write wins) and notifies watchers.
func (s *Space) LocalAddUser(user *SpaceUser) {
	s.users[user.UUID] = user.Clone()
	s.log.Debug().Str("user", user.UUID).Msg("space user added")

	s.notifyAll(&AddSpaceUser{Space: s.Name, User: user.Clone()}, nil)
}

// UpdateUser forwards the partial update upstream, then applies it locally.
func (s *Space) UpdateUser(ctx context.Context, user *PartialSpaceUser) {
	s.forward(ctx, &UpdateSpaceUser{Space: s.Name, User: user})
	s.LocalUpdateUser(user)
}

// LocalUpdateUser merges the present fields of user into the stored record.
// Unknown UUIDs are ignored and produce no notification.
func (s *Space) LocalUpdateUser(user *PartialSpaceUser) {
	stored, ok := s.users[user.UUID]
	if !ok {
		return
	}
	user.ApplyTo(stored)
	s.log.Debug().Str("user", user.UUID).Msg("space user updated")

	s.notifyAll(&UpdateSpaceUser{Space: s.Name, User: user}, nil)
}

// RemoveUser forwards the removal upstream, then applies it locally.
func (s *Space) RemoveUser(ctx context.Context, uuid string) {
	s.forward(ctx, &RemoveSpaceUser{Space: s.Name, UUID: uuid})
	s.LocalRemoveUser(uuid)
}

// LocalRemoveUser deletes uuid and notifies watchers. Filters are evaluated
// against the record as it was before removal.
func (s *Space) LocalRemoveUser(uuid string) {
	user := s.users[uuid]
	delete(s.users, uuid)
	s.log.Debug().Str("user", uuid).Msg("space user removed")

	s.notifyAll(&RemoveSpaceUser{Space: s.Name, UUID: uuid}, user)
}

// Apply runs a backend-originated message through the local entry points.
func (s *Space) Apply(msg SpaceMessage) {
	switch m := msg.(type) {
	case *AddSpaceUser:
		s.LocalAddUser(m.User)
	case *UpdateSpaceUser:
		s.LocalUpdateUser(m.User)
	case *RemoveSpaceUser:
		s.LocalRemoveUser(m.UUID)
	}
	metrics.Mutations.WithLabelValues(MessageKind(msg), "remote").Inc()
}

func (s *Space) forward(ctx context.Context, msg SpaceMessage) {
	metrics.Mutations.WithLabelValues(MessageKind(msg), "local").Inc()
	if err := s.backend.Write(ctx, &BackMessage{Message: msg}); err != nil {
		metrics.ForwardErrors.Inc()
		s.log.Warn().Err(err).Str("user", msg.UserUUID()).Str("kind", MessageKind(msg)).Msg("forward to backend failed")
		return
	}
	s.log.Debug().Str("user", msg.UserUUID()).Str("kind", MessageKind(msg)).Msg("space message sent")
}

func (s *Space) notifyAll(msg SpaceMessage, user *SpaceUser) {
	kind := MessageKind(msg)
	for _, w := range s.watchers {
		if !s.isWatcherTargeted(w, msg, user) {
			continue
		}
		w.Emit(&SubMessage{Message: msg})
		metrics.FanoutEvents.WithLabelValues(kind).Inc()
	}
}

// notifyMe sends msg to a single watcher.
func (s *Space) notifyMe(w Watcher, msg SpaceMessage) {
	w.Emit(&SubMessage{Message: msg})
}

func (s *Space) isWatcherTargeted(w Watcher, msg SpaceMessage, user *SpaceUser) bool {
	filters := w.SpaceFilters().ForSpace(s.Name)
	if len(filters) == 0 {
		return true
	}

	target := user
	if target == nil {
		switch msg.(type) {
		case *AddSpaceUser, *UpdateSpaceUser:
			target = s.users[msg.UserUUID()]
		}
	}
	if target == nil {
		return false
	}
	for _, f := range filters {
		if Evaluate(f, target) {
			return true
		}
	}
	return false
}

// Filter returns the users passing filter, ordered by UUID.
func (s *Space) Filter(filter SpaceFilter) []*SpaceUser {
	out := make([]*SpaceUser, 0, len(s.users))
	for _, u := range s.users {
		if Evaluate(filter, u) {
			out = append(out, u)
		}
	}
	sortUsers(out)
	return out
}

// Users returns copies of every user, ordered by UUID.
func (s *Space) Users() []*SpaceUser {
	out := make([]*SpaceUser, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.Clone())
	}
	sortUsers(out)
	return out
}

// User returns a copy of the stored record for uuid.
func (s *Space) User(uuid string) (*SpaceUser, bool) {
	u, ok := s.users[uuid]
	if !ok {
		return nil, false
	}
	return u.Clone(), true
}

func (s *Space) all() []*SpaceUser {
	out := make([]*SpaceUser, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sortUsers(out)
	return out
}

// HandleAddFilter moves w from the unfiltered view to the view of filter
// and records the filter on the watcher.
func (s *Space) HandleAddFilter(w Watcher, filter SpaceFilter) {
	s.log.Debug().Str("filter", filter.Name).Str("watcher", w.ID()).Msg("space filter added")
	s.delta(w, s.all(), s.Filter(filter))
	w.SpaceFilters().Add(filter)
}

// HandleUpdateFilter moves w from the view of its existing filter with the
// same name to the view of filter. Without an existing filter nothing happens.
func (s *Space) HandleUpdateFilter(w Watcher, filter SpaceFilter) bool {
	old, ok := w.SpaceFilters().Find(s.Name, filter.Name)
	if !ok {
		return false
	}
	s.log.Debug().Str("filter", filter.Name).Str("watcher", w.ID()).Msg("space filter updated")
	s.delta(w, s.Filter(old), s.Filter(filter))
	w.SpaceFilters().Replace(filter)
	return true
}

// HandleRemoveFilter moves w from the view of filter back to the unfiltered view.
func (s *Space) HandleRemoveFilter(w Watcher, filter SpaceFilter) {
	s.log.Debug().Str("filter", filter.Name).Str("watcher", w.ID()).Msg("space filter removed")
	s.delta(w, s.Filter(filter), s.all())
	w.SpaceFilters().Remove(s.Name, filter.Name)
}

// delta sends w the adds and removes that turn oldData into newData.
// Users are compared by UUID only.
func (s *Space) delta(w Watcher, oldData, newData []*SpaceUser) {
	oldSet := make(map[string]struct{}, len(oldData))
	for _, u := range oldData {
		oldSet[u.UUID] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(newData))
	for _, u := range newData {
		newSet[u.UUID] = struct{}{}
	}

	added := 0
	for _, u := range newData {
		if _, ok := oldSet[u.UUID]; ok {
			continue
		}
		s.notifyMe(w, &AddSpaceUser{Space: s.Name, User: u.Clone()})
		added++
	}
	removed := 0
	for _, u := range oldData {
		if _, ok := newSet[u.UUID]; ok {
			continue
		}
		s.notifyMe(w, &RemoveSpaceUser{Space: s.Name, UUID: u.UUID})
		removed++
	}
	metrics.DeltaEvents.WithLabelValues(KindAddUser).Add(float64(added))
	metrics.DeltaEvents.WithLabelValues(KindRemoveUser).Add(float64(removed))

	s.log.Debug().
		Str("watcher", w.ID()).
		Int("added", added).
		Int("removed", removed).
		Msg("space filter calculated")
}

// IsEmpty reports whether the user directory is empty. Attached watchers are
// not considered.
func (s *Space) IsEmpty() bool {
	return len(s.users) == 0
}

// UserCount returns the directory size.
func (s *Space) UserCount() int { return len(s.users) }

// WatcherCount returns the number of attached watchers.
func (s *Space) WatcherCount() int { return len(s.watchers) }

// SpaceInfo is a point-in-time summary used by the dump API.
type SpaceInfo struct {
	Name     string
	BackID   int
	Users    int
	Watchers int
}

// Info summarizes the space.
func (s *Space) Info() SpaceInfo {
	return SpaceInfo{
		Name:     s.Name,
		BackID:   s.BackID,
		Users:    len(s.users),
		Watchers: len(s.watchers),
	}
}

func sortUsers(users []*SpaceUser) {
	slices.SortFunc(users, func(a, b *SpaceUser) int {
		return strings.Compare(a.UUID, b.UUID)
	})
}
