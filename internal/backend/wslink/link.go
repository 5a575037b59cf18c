// Package wslink connects the relay to a backend over a websocket carrying
// JSON envelopes.
package wslink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/spacerelay/internal/auth"
	"github.com/vovakirdan/spacerelay/internal/core"
	"github.com/vovakirdan/spacerelay/internal/proto"
)

var ErrClosed = errors.New("backend link closed")

// Config configures the link.
type Config struct {
	URL        string
	InstanceID string
	BackID     int
	// JWT signs the bearer token sent on dial. Nil sends no token.
	JWT          *auth.JWTConfig
	DialTimeout  time.Duration
	QueueSize    int
	MaxReadBytes int64
}

// Link implements core.BackendConnection and core.SpaceTracker.
// Outgoing envelopes are written by a single goroutine in enqueue order.
type Link struct {
	cfg  Config
	conn *websocket.Conn
	log  zerolog.Logger

	out  chan proto.BackEnvelope
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

// Dial connects to the backend.
func Dial(ctx context.Context, cfg Config, logger *zerolog.Logger) (*Link, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	header := http.Header{}
	if cfg.JWT != nil {
		token, err := auth.GenerateToken(cfg.JWT, cfg.InstanceID, cfg.BackID)
		if err != nil {
			return nil, fmt.Errorf("link token: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, cfg.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dial backend %s: %w", cfg.URL, err)
	}
	if cfg.MaxReadBytes > 0 {
		conn.SetReadLimit(cfg.MaxReadBytes)
	}

	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "wslink").Str("url", cfg.URL).Logger()
	}
	return &Link{
		cfg:  cfg,
		conn: conn,
		log:  l,
		out:  make(chan proto.BackEnvelope, cfg.QueueSize),
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}, nil
}

// Bind sets the hub that receives backend messages.
func (l *Link) Bind(a core.RemoteApplier) {
	l.mu.Lock()
	l.applier = a
	l.mu.Unlock()
}

// Errors reports the fault that stopped the link, at most once.
func (l *Link) Errors() <-chan error { return l.errs }

// Run pumps envelopes in both directions until ctx is cancelled or the
// connection fails.
func (l *Link) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- l.writeLoop(ctx) }()
	go func() { errCh <- l.readLoop(ctx) }()

	err := <-errCh
	cancel()
	<-errCh

	l.Close()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
		l.log.Error().Err(err).Msg("backend link failed")
		select {
		case l.errs <- err:
		default:
		}
	}
}

func (l *Link) writeLoop(ctx context.Context) error {
	for {
		select {
		case env := <-l.out:
			if err := wsjson.Write(ctx, l.conn, env); err != nil {
				return fmt.Errorf("write envelope: %w", err)
			}
		case <-l.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Link) readLoop(ctx context.Context) error {
	for {
		var env proto.BackEnvelope
		if err := wsjson.Read(ctx, l.conn, &env); err != nil {
			if s := websocket.CloseStatus(err); s == websocket.StatusNormalClosure || s == websocket.StatusGoingAway {
				return ErrClosed
			}
			return fmt.Errorf("read envelope: %w", err)
		}
		l.handle(ctx, &env)
	}
}

func (l *Link) handle(ctx context.Context, env *proto.BackEnvelope) {
	if env.Type != proto.BackTypeMessage {
		l.log.Debug().Str("type", env.Type).Msg("ignoring backend envelope")
		return
	}
	if env.Origin != "" && env.Origin == l.cfg.InstanceID {
		return
	}
	msg, err := env.DecodeMessage()
	if err != nil {
		l.log.Warn().Err(err).Str("space", env.Space).Msg("invalid backend message")
		return
	}

	l.mu.RLock()
	applier := l.applier
	l.mu.RUnlock()
	if applier == nil {
		l.log.Warn().Str("space", msg.SpaceName()).Msg("backend message before bind dropped")
		return
	}
	if err := applier.ApplyRemote(ctx, msg); err != nil {
		l.log.Warn().Err(err).Str("space", msg.SpaceName()).Msg("apply backend message")
	}
}

func (l *Link) enqueue(ctx context.Context, env proto.BackEnvelope) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.out <- env:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Write queues a forwarded mutation.
func (l *Link) Write(ctx context.Context, msg *core.BackMessage) error {
	return l.enqueue(ctx, proto.NewMessageEnvelope(l.cfg.InstanceID, l.cfg.BackID, msg.Message))
}

// WatchSpace asks the backend to stream, and replay, the users of space.
func (l *Link) WatchSpace(ctx context.Context, space string) error {
	return l.enqueue(ctx, proto.BackEnvelope{Type: proto.BackTypeWatch, Origin: l.cfg.InstanceID, BackID: l.cfg.BackID, Space: space})
}

// UnwatchSpace tells the backend this relay no longer holds space.
func (l *Link) UnwatchSpace(ctx context.Context, space string) error {
	return l.enqueue(ctx, proto.BackEnvelope{Type: proto.BackTypeUnwatch, Origin: l.cfg.InstanceID, BackID: l.cfg.BackID, Space: space})
}

// Close shuts the connection down. Queued envelopes not yet written are lost.
func (l *Link) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.conn.Close(websocket.StatusNormalClosure, "relay shutting down")
	})
	return err
}
