package core

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/spacerelay/internal/metrics"
)

// HubConfig tunes the hub.
type HubConfig struct {
	// Shards is the number of goroutines owning spaces. Each space is owned by
	// exactly one shard, picked by hashing its name.
	Shards int
	// BackID identifies the backend this relay forwards to.
	BackID int
	// KeepWatchedSpaces keeps a space alive while watchers are attached even
	// if its user directory is empty. Off by default: spaces are disposed as
	// soon as their last user leaves.
	KeepWatchedSpaces bool
}

// Hub routes watcher commands and backend messages to the shard owning each
// space.
type Hub struct {
	cfg     HubConfig
	backend BackendConnection
	tracker SpaceTracker
	log     zerolog.Logger

	shards  []*shard
	stopped chan struct{}
	runOnce sync.Once
}

type shard struct {
	hub    *Hub
	ops    chan func(ctx context.Context)
	spaces map[string]*Space
}

// NewHub creates a hub forwarding local mutations to backend.
// If backend also implements SpaceTracker it is told about space creation
// and disposal.
func NewHub(cfg HubConfig, backend BackendConnection, logger *zerolog.Logger) *Hub {
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	if backend == nil {
		backend = DiscardBackend{}
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "hub").Logger()
	}

	h := &Hub{
		cfg:     cfg,
		backend: backend,
		log:     l,
		stopped: make(chan struct{}),
	}
	if tracker, ok := backend.(SpaceTracker); ok {
		h.tracker = tracker
	}
	h.shards = make([]*shard, cfg.Shards)
	for i := range h.shards {
		h.shards[i] = &shard{
			hub:    h,
			ops:    make(chan func(context.Context), 256),
			spaces: make(map[string]*Space),
		}
	}
	return h
}

// Run processes shard operations until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range h.shards {
		wg.Add(1)
		go func(s *shard) {
			defer wg.Done()
			s.run(ctx)
		}(s)
	}
	wg.Wait()
	h.runOnce.Do(func() { close(h.stopped) })
}

func (s *shard) run(ctx context.Context) {
	for {
		select {
		case op := <-s.ops:
			op(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) shardFor(space string) *shard {
	return h.shards[xxhash.Sum64String(space)%uint64(len(h.shards))]
}

func (h *Hub) submit(ctx context.Context, space string, op func(context.Context)) error {
	select {
	case h.shardFor(space).ops <- op:
		return nil
	case <-h.stopped:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterClient starts forwarding the client's commands into the hub.
func (h *Hub) RegisterClient(c *Client) {
	metrics.Watchers.Inc()
	go h.pump(c)
}

// UnregisterClient stops the client's command pump and detaches it from every
// space it watches.
func (h *Hub) UnregisterClient(c *Client) {
	c.close()
}

func (h *Hub) pump(c *Client) {
	defer metrics.Watchers.Dec()
	ctx := context.Background()
	for {
		select {
		case cmd := <-c.Commands:
			if cmd == nil {
				continue
			}
			if cmd.Kind == CommandWatchSpace {
				// Recorded before the op runs so a disconnect that overtakes
				// the queued watch still detaches from the space.
				c.watch(cmd.Space)
			}
			if err := h.Dispatch(ctx, c, cmd); err != nil {
				return
			}
		case <-c.Done():
			// Detach ops land on each shard queue behind every command this
			// pump already submitted for c.
			for _, name := range c.WatchedSpaces() {
				if err := h.submit(ctx, name, func(ctx context.Context) {
					h.shardFor(name).detach(ctx, c, name)
				}); err != nil {
					return
				}
			}
			return
		case <-h.stopped:
			return
		}
	}
}

// Dispatch routes one command from c to the shard owning its space.
func (h *Hub) Dispatch(ctx context.Context, c *Client, cmd *Command) error {
	return h.submit(ctx, cmd.Space, func(ctx context.Context) {
		h.shardFor(cmd.Space).handle(ctx, c, cmd)
	})
}

// ApplyRemote applies a backend-originated message to the local space, if
// this relay holds one. It is never forwarded upstream.
func (h *Hub) ApplyRemote(ctx context.Context, msg SpaceMessage) error {
	name := msg.SpaceName()
	return h.submit(ctx, name, func(ctx context.Context) {
		s := h.shardFor(name)
		space, ok := s.spaces[name]
		if !ok {
			h.log.Debug().Str("space", name).Str("kind", MessageKind(msg)).Msg("remote message for unknown space dropped")
			return
		}
		space.Apply(msg)
		if _, removal := msg.(*RemoveSpaceUser); removal {
			s.disposeIfEmpty(ctx, space)
		}
	})
}

// Spaces lists every live space, ordered by name.
func (h *Hub) Spaces(ctx context.Context) ([]SpaceInfo, error) {
	var out []SpaceInfo
	for _, s := range h.shards {
		reply := make(chan []SpaceInfo, 1)
		op := func(context.Context) {
			infos := make([]SpaceInfo, 0, len(s.spaces))
			for _, space := range s.spaces {
				infos = append(infos, space.Info())
			}
			reply <- infos
		}
		select {
		case s.ops <- op:
		case <-h.stopped:
			return nil, ErrHubStopped
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		select {
		case infos := <-reply:
			out = append(out, infos...)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	slices.SortFunc(out, func(a, b SpaceInfo) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// SpaceUsers returns the summary and directory of one space.
func (h *Hub) SpaceUsers(ctx context.Context, name string) (SpaceInfo, []*SpaceUser, error) {
	type result struct {
		info  SpaceInfo
		users []*SpaceUser
		ok    bool
	}
	reply := make(chan result, 1)
	if err := h.submit(ctx, name, func(context.Context) {
		space, ok := h.shardFor(name).spaces[name]
		if !ok {
			reply <- result{}
			return
		}
		reply <- result{info: space.Info(), users: space.Users(), ok: true}
	}); err != nil {
		return SpaceInfo{}, nil, err
	}
	select {
	case r := <-reply:
		if !r.ok {
			return SpaceInfo{}, nil, ErrSpaceNotFound
		}
		return r.info, r.users, nil
	case <-ctx.Done():
		return SpaceInfo{}, nil, ctx.Err()
	}
}

func (s *shard) handle(ctx context.Context, c *Client, cmd *Command) {
	h := s.hub
	if cmd.Kind == CommandWatchSpace {
		s.watch(ctx, c, cmd.Space)
		return
	}

	space, ok := s.spaces[cmd.Space]
	if !ok && cmd.Kind == CommandUnwatchSpace && c.Watching(cmd.Space) {
		// space was disposed under this watcher
		s.detach(ctx, c, cmd.Space)
		c.push(Event{Kind: EventUnwatched, Space: cmd.Space})
		return
	}
	if !ok {
		c.Fail(coreError(ErrCodeSpaceNotFound, ErrSpaceNotFound.Error()))
		return
	}
	if _, attached := space.Watcher(c.ID()); !attached {
		c.Fail(coreError(ErrCodeNotWatching, ErrNotWatching.Error()))
		return
	}

	switch cmd.Kind {
	case CommandUnwatchSpace:
		s.detach(ctx, c, cmd.Space)
		c.push(Event{Kind: EventUnwatched, Space: cmd.Space})
	case CommandAddUser:
		space.AddUser(ctx, cmd.User)
	case CommandUpdateUser:
		space.UpdateUser(ctx, cmd.Partial)
	case CommandRemoveUser:
		space.RemoveUser(ctx, cmd.UUID)
		s.disposeIfEmpty(ctx, space)
	case CommandAddFilter:
		if space.HandleUpdateFilter(c, cmd.Filter) {
			return
		}
		space.HandleAddFilter(c, cmd.Filter)
	case CommandUpdateFilter:
		space.HandleUpdateFilter(c, cmd.Filter)
	case CommandRemoveFilter:
		filter, ok := c.SpaceFilters().Find(cmd.Space, cmd.Filter.Name)
		if !ok {
			return
		}
		space.HandleRemoveFilter(c, filter)
	default:
		h.log.Warn().Int("kind", int(cmd.Kind)).Msg("unknown command")
	}
}

func (s *shard) watch(ctx context.Context, c *Client, name string) {
	h := s.hub
	if space, ok := s.spaces[name]; ok {
		space.AddWatcher(c)
	} else {
		s.spaces[name] = NewSpace(name, h.backend, h.cfg.BackID, c, &h.log)
		metrics.Spaces.Inc()
		if h.tracker != nil {
			// Hydration replays through ApplyRemote, which needs this shard
			// free, so it must not run inline.
			go func() {
				if err := h.tracker.WatchSpace(ctx, name); err != nil {
					h.log.Warn().Err(err).Str("space", name).Msg("watch space upstream failed")
				}
			}()
		}
	}
	c.watch(name)
	c.push(Event{Kind: EventWatching, Space: name})
}

func (s *shard) detach(ctx context.Context, c *Client, name string) {
	c.unwatch(name)
	space, ok := s.spaces[name]
	if !ok {
		return
	}
	space.RemoveWatcher(c.ID())
	s.disposeIfEmpty(ctx, space)
}

func (s *shard) disposeIfEmpty(ctx context.Context, space *Space) {
	h := s.hub
	if !space.IsEmpty() {
		return
	}
	if h.cfg.KeepWatchedSpaces && space.WatcherCount() > 0 {
		return
	}
	if space.WatcherCount() > 0 {
		h.log.Warn().Str("space", space.Name).Int("watchers", space.WatcherCount()).Msg("disposing space with watchers still attached")
	}
	delete(s.spaces, space.Name)
	metrics.Spaces.Dec()
	h.log.Debug().Str("space", space.Name).Msg("space disposed")

	if h.tracker != nil {
		name := space.Name
		go func() {
			if err := h.tracker.UnwatchSpace(ctx, name); err != nil {
				h.log.Warn().Err(err).Str("space", name).Msg("unwatch space upstream failed")
			}
		}()
	}
}
