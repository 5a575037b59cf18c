package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

// recorder is a Watcher that keeps every emitted message.
type recorder struct {
	id      string
	filters FilterSet
	msgs    []*SubMessage
}

func newRecorder(id string) *recorder { return &recorder{id: id} }

func (r *recorder) ID() string               { return r.id }
func (r *recorder) Emit(msg *SubMessage)     { r.msgs = append(r.msgs, msg) }
func (r *recorder) SpaceFilters() *FilterSet { return &r.filters }

func (r *recorder) reset() { r.msgs = nil }

// uuids returns the user UUIDs of the recorded messages of the given kind.
func (r *recorder) uuids(kind string) []string {
	var out []string
	for _, m := range r.msgs {
		if MessageKind(m.Message) == kind {
			out = append(out, m.Message.UserUUID())
		}
	}
	return out
}

// fakeBackend records writes and can be told to fail.
type fakeBackend struct {
	mu      sync.Mutex
	written []*BackMessage
	err     error
}

func (b *fakeBackend) Write(_ context.Context, msg *BackMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.written = append(b.written, msg)
	return b.err
}

func (b *fakeBackend) messages() []*BackMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*BackMessage(nil), b.written...)
}

func user(id, name string) *SpaceUser {
	return &SpaceUser{UUID: id, Name: name}
}

func containsName(space, name, value string) SpaceFilter {
	return SpaceFilter{Name: name, Space: space, Predicate: ContainsName{Value: value}}
}

func strPtr(s string) *string { return &s }

// events buffers what a client drained so tests can consume one at a time.
type events struct {
	c       *Client
	pending []Event
}

func watch(c *Client) *events { return &events{c: c} }

func (e *events) next(wait time.Duration) (Event, bool) {
	if len(e.pending) == 0 {
		select {
		case <-e.c.Ready():
			e.pending = e.c.Drain()
		case <-time.After(wait):
		}
	}
	if len(e.pending) == 0 {
		return Event{}, false
	}
	ev := e.pending[0]
	e.pending = e.pending[1:]
	return ev, true
}

func mustEvent(t *testing.T, e *events, kind EventKind) Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev, ok := e.next(10 * time.Millisecond)
		if ok && ev.Kind == kind {
			return ev
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return Event{}
}

func mustNoEvent(t *testing.T, e *events, wait time.Duration) {
	t.Helper()

	if ev, ok := e.next(wait); ok {
		t.Fatalf("unexpected event: %+v", ev)
	}
}
