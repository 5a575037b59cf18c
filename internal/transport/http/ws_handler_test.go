package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/spacerelay/internal/config"
	"github.com/vovakirdan/spacerelay/internal/core"
	"github.com/vovakirdan/spacerelay/internal/proto"
)

type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func (f frame) batch(t *testing.T) []proto.SpaceMessage {
	t.Helper()
	var b proto.Batch
	if err := json.Unmarshal(f.Data, &b); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	return b.Messages
}

func startTestServer(t *testing.T, mutate func(*config.Config)) *httptest.Server {
	t.Helper()

	logger := zerolog.Nop()
	hub := core.NewHub(core.HubConfig{Shards: 2}, nil, &logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	cfg := config.Default()
	cfg.BatchInterval = 5 * time.Millisecond
	cfg.ClientRateLimit = 0
	if mutate != nil {
		mutate(&cfg)
	}

	server := NewServer(hub, &cfg, nil, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	return ts
}

type wsClient struct {
	t    *testing.T
	ctx  context.Context
	conn *websocket.Conn
	id   string
}

func dial(t *testing.T, ts *httptest.Server) *wsClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return &wsClient{t: t, ctx: ctx, conn: conn}
}

func (c *wsClient) send(typ string, data any) {
	c.t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		c.t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(c.ctx, c.conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		c.t.Fatalf("send %s: %v", typ, err)
	}
}

func (c *wsClient) read() frame {
	c.t.Helper()
	var f frame
	if err := wsjson.Read(c.ctx, c.conn, &f); err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return f
}

// until reads frames until match accepts one.
func (c *wsClient) until(match func(frame) bool) frame {
	c.t.Helper()
	for {
		if f := c.read(); match(f) {
			return f
		}
	}
}

func (c *wsClient) hello(user string) {
	c.t.Helper()
	c.send(proto.InboundTypeHello, proto.HelloData{User: user, Protocol: proto.ProtocolVersion})
	f := c.read()
	if f.Type != proto.OutboundTypeEvent || f.Event != proto.EventReady {
		c.t.Fatalf("expected ready event, got %+v", f)
	}
	var ready proto.EventReadyData
	if err := json.Unmarshal(f.Data, &ready); err != nil {
		c.t.Fatalf("decode ready: %v", err)
	}
	if ready.Watcher == "" || ready.Name != user {
		c.t.Fatalf("unexpected ready payload %+v", ready)
	}
	c.id = ready.Watcher
}

func (c *wsClient) watch(space string) {
	c.t.Helper()
	c.send(proto.InboundTypeWatch, proto.SpaceData{Space: space})
	c.until(func(f frame) bool { return f.Type == proto.OutboundTypeEvent && f.Event == proto.EventWatching })
}

func isBatch(f frame) bool { return f.Type == proto.OutboundTypeBatch }

func isError(f frame) bool { return f.Type == proto.OutboundTypeError }

func TestHealthEndpoint(t *testing.T) {
	ts := startTestServer(t, nil)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestWebSocketFanout(t *testing.T) {
	ts := startTestServer(t, nil)

	a := dial(t, ts)
	b := dial(t, ts)
	a.hello("alice-device")
	b.hello("bob-device")
	if a.id == b.id {
		t.Fatalf("watchers must get distinct ids")
	}
	a.watch("room1")
	b.watch("room1")

	a.send(proto.InboundTypeAddUser, proto.AddUser{Space: "room1", User: &proto.User{UUID: "u1", Name: "alice"}})

	for _, c := range []*wsClient{a, b} {
		msgs := c.until(isBatch).batch(t)
		if len(msgs) != 1 || msgs[0].AddUser == nil || msgs[0].AddUser.User.Name != "alice" {
			t.Fatalf("unexpected batch %+v", msgs)
		}
	}

	name := "alicia"
	b.send(proto.InboundTypeUpdateUser, proto.UpdateUser{Space: "room1", User: &proto.PartialUser{UUID: "u1", Name: &name}})
	msgs := a.until(isBatch).batch(t)
	if len(msgs) != 1 || msgs[0].UpdateUser == nil || *msgs[0].UpdateUser.User.Name != "alicia" {
		t.Fatalf("unexpected update batch %+v", msgs)
	}
	if msgs[0].UpdateUser.User.Color != nil {
		t.Fatalf("absent fields must stay absent on the wire")
	}
}

func TestWebSocketFilterDelta(t *testing.T) {
	ts := startTestServer(t, nil)

	a := dial(t, ts)
	a.hello("viewer")
	a.watch("room1")

	a.send(proto.InboundTypeAddUser, proto.AddUser{Space: "room1", User: &proto.User{UUID: "u1", Name: "alice"}})
	a.send(proto.InboundTypeAddUser, proto.AddUser{Space: "room1", User: &proto.User{UUID: "u2", Name: "bob"}})

	seen := 0
	for seen < 2 {
		seen += len(a.until(isBatch).batch(t))
	}

	a.send(proto.InboundTypeAddFilter, proto.Filter{Space: "room1", Name: "f", ContainsName: &proto.ContainsName{Value: "ali"}})
	msgs := a.until(isBatch).batch(t)
	if len(msgs) != 1 || msgs[0].RemoveUser == nil || msgs[0].RemoveUser.UserUUID != "u2" {
		t.Fatalf("expected synthetic removal of bob, got %+v", msgs)
	}

	a.send(proto.InboundTypeRemoveFilter, proto.Filter{Space: "room1", Name: "f"})
	msgs = a.until(isBatch).batch(t)
	if len(msgs) != 1 || msgs[0].AddUser == nil || msgs[0].AddUser.User.UUID != "u2" {
		t.Fatalf("expected synthetic add of bob, got %+v", msgs)
	}
}

func TestWebSocketErrors(t *testing.T) {
	ts := startTestServer(t, nil)

	c := dial(t, ts)
	c.send(proto.InboundTypeWatch, proto.SpaceData{Space: "room1"})
	if f := c.read(); !isError(f) || f.Error.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected hello required error, got %+v", f)
	}
	c.hello("late")

	c.send(proto.InboundTypeAddUser, proto.AddUser{Space: "nowhere", User: &proto.User{UUID: "u1", Name: "x"}})
	if f := c.until(isError); f.Error.Code != core.ErrCodeSpaceNotFound {
		t.Fatalf("expected space_not_found, got %+v", f.Error)
	}

	c.send(proto.InboundTypeAddUser, proto.AddUser{Space: "room1"})
	if f := c.until(isError); f.Error.Code != core.ErrCodeBadRequest {
		t.Fatalf("expected bad_request for missing user, got %+v", f.Error)
	}

	c.send("shout", map[string]string{})
	if f := c.until(isError); f.Error.Code != core.ErrCodeInvalidMessage {
		t.Fatalf("expected invalid_message, got %+v", f.Error)
	}

	if err := c.conn.Write(c.ctx, websocket.MessageText, []byte("{broken")); err != nil {
		t.Fatalf("write raw: %v", err)
	}
	if f := c.until(isError); f.Error.Code != core.ErrCodeInvalidMessage {
		t.Fatalf("expected invalid_message for malformed frame, got %+v", f.Error)
	}

	// The connection survives every error above.
	c.watch("room1")
}

func TestProtocolVersionMismatch(t *testing.T) {
	ts := startTestServer(t, nil)

	c := dial(t, ts)
	c.send(proto.InboundTypeHello, proto.HelloData{User: "alice", Protocol: proto.ProtocolVersion + 1})

	f := c.read()
	if !isError(f) || f.Error == nil || f.Error.Code != core.ErrCodeUnsupportedVersion {
		t.Fatalf("expected unsupported_version error, got %+v", f)
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	ts := startTestServer(t, func(cfg *config.Config) { cfg.ClientRateLimit = 1 })

	c := dial(t, ts)
	c.hello("spammer")
	for i := 0; i < 5; i++ {
		c.send(proto.InboundTypeWatch, proto.SpaceData{Space: "room1"})
	}

	if f := c.until(isError); f.Error.Code != core.ErrCodeRateLimited {
		t.Fatalf("expected rate_limited, got %+v", f.Error)
	}
}

func TestWebSocketSlowConsumerIsDisconnected(t *testing.T) {
	ts := startTestServer(t, func(cfg *config.Config) {
		cfg.MaxQueuedEvents = 1
		cfg.BatchInterval = 500 * time.Millisecond
	})

	c := dial(t, ts)
	c.hello("slow")
	// Each malformed frame queues one error; the second overflows the outbox
	// before the writer's batch interval elapses.
	for i := 0; i < 2; i++ {
		if err := c.conn.Write(c.ctx, websocket.MessageText, []byte("not json")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	var f frame
	err := wsjson.Read(c.ctx, c.conn, &f)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got frame %+v err %v", f, err)
	}
}
