package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/spacerelay/internal/config"
	"github.com/vovakirdan/spacerelay/internal/core"
	"github.com/vovakirdan/spacerelay/internal/metrics"
	"github.com/vovakirdan/spacerelay/internal/proto"
)

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub             *core.Hub
	log             *zerolog.Logger
	maxMessageBytes int64
	batchInterval   time.Duration
	maxQueuedEvents int
	clientRateLimit int
}

var errSlowConsumer = websocket.CloseError{Code: websocket.StatusPolicyViolation, Reason: "slow consumer"}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		hub:             hub,
		log:             logger,
		maxMessageBytes: cfg.MaxMessageBytes,
		batchInterval:   cfg.BatchInterval,
		maxQueuedEvents: cfg.MaxQueuedEvents,
		clientRateLimit: cfg.ClientRateLimit,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.maxMessageBytes > 0 {
		conn.SetReadLimit(h.maxMessageBytes)
	}

	client, err := h.handshake(ctx, conn)
	if err != nil {
		h.closeWith(conn, err)
		return
	}
	client.SetOutboxLimit(h.maxQueuedEvents)
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	pending := 2
	select {
	case err = <-errCh:
		pending--
	case <-client.Overflowed():
		h.log.Warn().Str("watcher", client.ID()).Msg("watcher outbox overflowed, disconnecting")
		h.closeWith(conn, errSlowConsumer)
	}
	cancel() // stop the remaining goroutines
	for ; pending > 0; pending-- {
		<-errCh
	}

	h.closeWith(conn, err)
}

func (h *WSHandler) closeWith(conn *websocket.Conn, err error) {
	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s > 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// readFrame reads one inbound envelope. A nil envelope with a nil error means
// the frame was not valid JSON and has already been reported.
func readFrame(ctx context.Context, conn *websocket.Conn, report func(*proto.Error) error) (*proto.Inbound, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	var inbound proto.Inbound
	if err := json.Unmarshal(data, &inbound); err != nil {
		return nil, report(invalidMessage("malformed frame"))
	}
	return &inbound, nil
}

// handshake waits for a valid hello and answers with the assigned watcher id.
func (h *WSHandler) handshake(ctx context.Context, conn *websocket.Conn) (*core.Client, error) {
	report := func(e *proto.Error) error {
		return wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeError, Error: e})
	}

	for {
		inbound, err := readFrame(ctx, conn, report)
		if err != nil {
			return nil, err
		}
		if inbound == nil {
			continue
		}
		if inbound.Type != proto.InboundTypeHello {
			if err := report(badRequest("hello required")); err != nil {
				return nil, err
			}
			continue
		}

		var hello proto.HelloData
		if err := json.Unmarshal(inbound.Data, &hello); err != nil {
			if err := report(invalidMessage(err.Error())); err != nil {
				return nil, err
			}
			continue
		}
		if hello.Protocol != 0 && hello.Protocol != proto.ProtocolVersion {
			if err := report(&proto.Error{Code: core.ErrCodeUnsupportedVersion, Msg: "unsupported protocol version"}); err != nil {
				return nil, err
			}
			continue
		}

		name := hello.Name
		if name == "" {
			name = hello.User
		}
		client := core.NewClient(uuid.NewString(), name)
		h.log.Debug().Str("watcher", client.ID()).Str("name", client.Name).Msg("watcher connected")

		ready := proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventReady,
			Data:  proto.EventReadyData{Watcher: client.ID(), Name: client.Name, Protocol: proto.ProtocolVersion},
		}
		if err := wsjson.Write(ctx, conn, ready); err != nil {
			return nil, err
		}
		return client, nil
	}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newRateLimiter(h.clientRateLimit)
	fail := func(e *proto.Error) error {
		client.Fail(&core.CoreError{Code: e.Code, Message: e.Msg})
		return nil
	}

	for {
		inbound, err := readFrame(ctx, conn, fail)
		if err != nil {
			return err
		}
		if inbound == nil {
			continue
		}
		if !limiter.allow() {
			client.Fail(&core.CoreError{Code: core.ErrCodeRateLimited, Message: "too many messages"})
			continue
		}

		cmd, protoErr := inboundToCommand(*inbound)
		if protoErr != nil {
			h.log.Debug().Str("watcher", client.ID()).Str("type", inbound.Type).Str("code", protoErr.Code).Msg("rejected inbound")
			fail(protoErr)
			continue
		}

		select {
		case client.Commands <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	var timer *time.Timer
	if h.batchInterval > 0 {
		timer = time.NewTimer(h.batchInterval)
		timer.Stop()
		defer timer.Stop()
	}

	for {
		select {
		case <-client.Ready():
		case <-ctx.Done():
			return ctx.Err()
		}

		// Let more events pile up so they leave as one batch.
		if timer != nil {
			timer.Reset(h.batchInterval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		events := client.Drain()
		if len(events) == 0 {
			continue
		}
		metrics.BatchSize.Observe(float64(len(events)))
		for _, out := range outboundFromEvents(events) {
			if err := wsjson.Write(ctx, conn, out); err != nil {
				h.log.Error().Err(err).Str("watcher", client.ID()).Msg("write ws event")
				return err
			}
		}
	}
}
