// Package redislink shares spaces between relay instances through Redis.
// Each space has a pub/sub channel carrying mutations and a hash holding its
// current users, which is replayed when a relay starts watching the space.
//
// The hash is read once the subscription is confirmed and replayed from the
// same goroutine that applies channel messages. Messages published between the
// subscription and the read are applied again on top of the snapshot, which
// converges because every mutation overwrites.
package redislink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/spacerelay/internal/backend"
	"github.com/vovakirdan/spacerelay/internal/core"
	"github.com/vovakirdan/spacerelay/internal/proto"
)

var ErrClosed = errors.New("redis link closed")

// Config configures the link.
type Config struct {
	URL        string
	Prefix     string
	InstanceID string
	BackID     int
}

// Link implements core.BackendConnection and core.SpaceTracker.
type Link struct {
	cfg    Config
	client *redis.Client
	sub    *redis.PubSub
	log    zerolog.Logger

	// snapshot reads the presence hash of a space.
	snapshot func(ctx context.Context, key string) (map[string]string, error)

	errs chan error
	done chan struct{}
	once sync.Once

	mu      sync.RWMutex
	applier core.RemoteApplier
}

var (
	_ core.BackendConnection = (*Link)(nil)
	_ core.SpaceTracker      = (*Link)(nil)
)

// New connects to Redis.
// URL should be in the format: redis://host:port or redis://:password@host:port
func New(ctx context.Context, cfg Config, logger *zerolog.Logger) (*Link, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	l := newLink(client, cfg, logger)
	l.log.Info().Str("addr", opts.Addr).Msg("connected to redis")
	return l, nil
}

func newLink(client *redis.Client, cfg Config, logger *zerolog.Logger) *Link {
	if cfg.Prefix == "" {
		cfg.Prefix = "spacerelay"
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "redislink").Logger()
	}
	return &Link{
		cfg:    cfg,
		client: client,
		// No channels yet: one is added per watched space.
		sub:    client.Subscribe(context.Background()),
		log:    l,
		snapshot: func(ctx context.Context, key string) (map[string]string, error) {
			return client.HGetAll(ctx, key).Result()
		},
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}
}

func (l *Link) channel(space string) string { return l.cfg.Prefix + ":space:" + space }

func (l *Link) presenceKey(space string) string { return l.cfg.Prefix + ":presence:" + space }

func (l *Link) spaceFromChannel(ch string) (string, bool) {
	return strings.CutPrefix(ch, l.cfg.Prefix+":space:")
}

// Bind sets the hub that receives messages from other relays.
func (l *Link) Bind(a core.RemoteApplier) {
	l.mu.Lock()
	l.applier = a
	l.mu.Unlock()
}

// Errors reports the fault that stopped the link, at most once.
func (l *Link) Errors() <-chan error { return l.errs }

// Run dispatches subscribed messages until ctx is cancelled. It also hydrates
// every space whose subscription gets confirmed.
func (l *Link) Run(ctx context.Context) {
	ch := l.sub.ChannelWithSubscriptions()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case m, ok := <-ch:
			if !ok {
				select {
				case <-l.done:
				default:
					select {
					case l.errs <- errors.New("redis subscription closed"):
					default:
					}
				}
				return
			}
			l.dispatch(ctx, m)
		}
	}
}

func (l *Link) dispatch(ctx context.Context, v any) {
	switch m := v.(type) {
	case *redis.Subscription:
		if m.Kind != "subscribe" {
			return
		}
		if space, ok := l.spaceFromChannel(m.Channel); ok {
			if err := l.hydrate(ctx, space); err != nil {
				l.log.Error().Err(err).Str("space", space).Msg("hydrate space")
			}
		}
	case *redis.Message:
		l.handle(ctx, m.Channel, []byte(m.Payload))
	}
}

func (l *Link) handle(ctx context.Context, channel string, payload []byte) {
	space, ok := l.spaceFromChannel(channel)
	if !ok {
		return
	}
	var env proto.BackEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		l.log.Error().Err(err).Str("channel", channel).Msg("failed to unmarshal envelope")
		return
	}
	if env.Origin == l.cfg.InstanceID {
		return
	}
	msg, err := env.DecodeMessage()
	if err != nil {
		l.log.Warn().Err(err).Str("space", space).Msg("invalid envelope")
		return
	}
	if msg.SpaceName() != space {
		l.log.Warn().Str("channel", channel).Str("space", msg.SpaceName()).Msg("envelope space does not match channel")
		return
	}
	l.apply(ctx, msg)
}

func (l *Link) apply(ctx context.Context, msg core.SpaceMessage) {
	l.mu.RLock()
	applier := l.applier
	l.mu.RUnlock()
	if applier == nil {
		return
	}
	if err := applier.ApplyRemote(ctx, msg); err != nil {
		l.log.Warn().Err(err).Str("space", msg.SpaceName()).Msg("apply remote message")
	}
}

// Write stores the mutation in the space hash and publishes it.
func (l *Link) Write(ctx context.Context, msg *core.BackMessage) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}

	m := msg.Message
	space, uuid := m.SpaceName(), m.UserUUID()
	env, err := json.Marshal(proto.NewMessageEnvelope(l.cfg.InstanceID, l.cfg.BackID, m))
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	var prev *core.SpaceUser
	if _, isUpdate := m.(*core.UpdateSpaceUser); isUpdate {
		data, err := l.client.HGet(ctx, l.presenceKey(space), uuid).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("read presence: %w", err)
		default:
			if prev, err = backend.DecodeUser(data); err != nil {
				return err
			}
		}
	}
	next := backend.Fold(prev, m)

	var data []byte
	if next != nil {
		if data, err = backend.EncodeUser(next); err != nil {
			return err
		}
	}

	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if next != nil {
			pipe.HSet(ctx, l.presenceKey(space), uuid, data)
		} else {
			pipe.HDel(ctx, l.presenceKey(space), uuid)
		}
		pipe.Publish(ctx, l.channel(space), env)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// WatchSpace subscribes to the space channel. Stored users are replayed by
// Run once Redis confirms the subscription.
func (l *Link) WatchSpace(ctx context.Context, space string) error {
	if err := l.sub.Subscribe(ctx, l.channel(space)); err != nil {
		return fmt.Errorf("subscribe %s: %w", space, err)
	}
	return nil
}

func (l *Link) hydrate(ctx context.Context, space string) error {
	stored, err := l.snapshot(ctx, l.presenceKey(space))
	if err != nil {
		return fmt.Errorf("read presence %s: %w", space, err)
	}
	uuids := make([]string, 0, len(stored))
	for uuid := range stored {
		uuids = append(uuids, uuid)
	}
	slices.Sort(uuids)
	for _, uuid := range uuids {
		u, err := backend.DecodeUser([]byte(stored[uuid]))
		if err != nil {
			l.log.Warn().Err(err).Str("space", space).Str("user", uuid).Msg("skipping undecodable presence")
			continue
		}
		l.apply(ctx, &core.AddSpaceUser{Space: space, User: u})
	}
	l.log.Debug().Str("space", space).Int("users", len(uuids)).Msg("space hydrated")
	return nil
}

// UnwatchSpace stops receiving messages for space.
func (l *Link) UnwatchSpace(ctx context.Context, space string) error {
	if err := l.sub.Unsubscribe(ctx, l.channel(space)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", space, err)
	}
	return nil
}

// Close shuts down the subscription and the client.
func (l *Link) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = errors.Join(l.sub.Close(), l.client.Close())
	})
	return err
}
