package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func startHub(t *testing.T, cfg HubConfig, backend BackendConnection) *Hub {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	hub := NewHub(cfg, backend, nil)
	go hub.Run(ctx)
	return hub
}

func TestHubWatchAddUpdateRemove(t *testing.T) {
	back := &fakeBackend{}
	hub := startHub(t, HubConfig{Shards: 4}, back)

	alice := NewClient("a", "alice")
	bob := NewClient("b", "bob")
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)
	aliceEvents, bobEvents := watch(alice), watch(bob)

	alice.Commands <- &Command{Kind: CommandWatchSpace, Space: "room1"}
	mustEvent(t, aliceEvents, EventWatching)
	bob.Commands <- &Command{Kind: CommandWatchSpace, Space: "room1"}
	mustEvent(t, bobEvents, EventWatching)

	alice.Commands <- &Command{Kind: CommandAddUser, Space: "room1", User: user("u1", "x")}
	ev := mustEvent(t, bobEvents, EventSpaceMessage)
	if add, ok := ev.Message.Message.(*AddSpaceUser); !ok || add.User.UUID != "u1" {
		t.Fatalf("expected add for u1, got %+v", ev.Message.Message)
	}

	alice.Commands <- &Command{Kind: CommandUpdateUser, Space: "room1", Partial: &PartialSpaceUser{UUID: "u1", Name: strPtr("y")}}
	ev = mustEvent(t, bobEvents, EventSpaceMessage)
	if upd, ok := ev.Message.Message.(*UpdateSpaceUser); !ok || *upd.User.Name != "y" {
		t.Fatalf("expected update to y, got %+v", ev.Message.Message)
	}

	info, users, err := hub.SpaceUsers(context.Background(), "room1")
	if err != nil {
		t.Fatalf("space users: %v", err)
	}
	if info.Watchers != 2 || len(users) != 1 || users[0].Name != "y" {
		t.Fatalf("unexpected space state: %+v %+v", info, users)
	}

	alice.Commands <- &Command{Kind: CommandRemoveUser, Space: "room1", UUID: "u1"}
	ev = mustEvent(t, bobEvents, EventSpaceMessage)
	if _, ok := ev.Message.Message.(*RemoveSpaceUser); !ok {
		t.Fatalf("expected remove, got %+v", ev.Message.Message)
	}

	if n := len(back.messages()); n != 3 {
		t.Fatalf("expected 3 forwarded messages, got %d", n)
	}
}

func TestHubDisposesSpaceWhenLastUserLeaves(t *testing.T) {
	hub := startHub(t, HubConfig{}, nil)

	alice := NewClient("a", "alice")
	hub.RegisterClient(alice)
	events := watch(alice)

	alice.Commands <- &Command{Kind: CommandWatchSpace, Space: "room1"}
	mustEvent(t, events, EventWatching)
	alice.Commands <- &Command{Kind: CommandAddUser, Space: "room1", User: user("u1", "x")}
	alice.Commands <- &Command{Kind: CommandRemoveUser, Space: "room1", UUID: "u1"}
	mustEvent(t, events, EventSpaceMessage)
	mustEvent(t, events, EventSpaceMessage)

	if _, _, err := hub.SpaceUsers(context.Background(), "room1"); !errors.Is(err, ErrSpaceNotFound) {
		t.Fatalf("expected space disposed, got %v", err)
	}

	alice.Commands <- &Command{Kind: CommandAddUser, Space: "room1", User: user("u2", "y")}
	ev := mustEvent(t, events, EventError)
	if ev.Error.Code != ErrCodeSpaceNotFound {
		t.Fatalf("expected space_not_found, got %+v", ev.Error)
	}

	alice.Commands <- &Command{Kind: CommandUnwatchSpace, Space: "room1"}
	mustEvent(t, events, EventUnwatched)
	if alice.Watching("room1") {
		t.Fatalf("expected stale watch cleared")
	}
}

func TestHubKeepWatchedSpaces(t *testing.T) {
	hub := startHub(t, HubConfig{KeepWatchedSpaces: true}, nil)

	alice := NewClient("a", "alice")
	hub.RegisterClient(alice)
	events := watch(alice)

	alice.Commands <- &Command{Kind: CommandWatchSpace, Space: "room1"}
	mustEvent(t, events, EventWatching)
	alice.Commands <- &Command{Kind: CommandAddUser, Space: "room1", User: user("u1", "x")}
	alice.Commands <- &Command{Kind: CommandRemoveUser, Space: "room1", UUID: "u1"}
	mustEvent(t, events, EventSpaceMessage)
	mustEvent(t, events, EventSpaceMessage)

	info, _, err := hub.SpaceUsers(context.Background(), "room1")
	if err != nil {
		t.Fatalf("expected space kept, got %v", err)
	}
	if info.Users != 0 || info.Watchers != 1 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestHubMutationWithoutWatchProducesError(t *testing.T) {
	hub := startHub(t, HubConfig{}, nil)

	alice := NewClient("a", "alice")
	bob := NewClient("b", "bob")
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)
	aliceEvents, bobEvents := watch(alice), watch(bob)

	alice.Commands <- &Command{Kind: CommandWatchSpace, Space: "room1"}
	mustEvent(t, aliceEvents, EventWatching)

	bob.Commands <- &Command{Kind: CommandAddUser, Space: "room1", User: user("u1", "x")}
	ev := mustEvent(t, bobEvents, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeNotWatching {
		t.Fatalf("expected not_watching, got %+v", ev)
	}
	mustNoEvent(t, aliceEvents, 50*time.Millisecond)
}

func TestHubFilterCommandsProduceDelta(t *testing.T) {
	hub := startHub(t, HubConfig{Shards: 2}, nil)

	w1 := NewClient("w1", "")
	w2 := NewClient("w2", "")
	hub.RegisterClient(w1)
	hub.RegisterClient(w2)
	e1, e2 := watch(w1), watch(w2)

	w1.Commands <- &Command{Kind: CommandWatchSpace, Space: "room1"}
	mustEvent(t, e1, EventWatching)
	w2.Commands <- &Command{Kind: CommandWatchSpace, Space: "room1"}
	mustEvent(t, e2, EventWatching)

	w1.Commands <- &Command{Kind: CommandAddUser, Space: "room1", User: user("u1", "alice")}
	w1.Commands <- &Command{Kind: CommandAddUser, Space: "room1", User: user("u2", "bob")}
	mustEvent(t, e1, EventSpaceMessage)
	mustEvent(t, e1, EventSpaceMessage)
	mustEvent(t, e2, EventSpaceMessage)
	mustEvent(t, e2, EventSpaceMessage)

	w1.Commands <- &Command{Kind: CommandAddFilter, Space: "room1", Filter: containsName("room1", "f", "a")}
	ev := mustEvent(t, e1, EventSpaceMessage)
	if rm, ok := ev.Message.Message.(*RemoveSpaceUser); !ok || rm.UUID != "u2" {
		t.Fatalf("expected u2 hidden, got %+v", ev.Message.Message)
	}

	w1.Commands <- &Command{Kind: CommandUpdateFilter, Space: "room1", Filter: containsName("room1", "f", "b")}
	first := mustEvent(t, e1, EventSpaceMessage)
	second := mustEvent(t, e1, EventSpaceMessage)
	if add, ok := first.Message.Message.(*AddSpaceUser); !ok || add.User.UUID != "u2" {
		t.Fatalf("expected u2 added, got %+v", first.Message.Message)
	}
	if rm, ok := second.Message.Message.(*RemoveSpaceUser); !ok || rm.UUID != "u1" {
		t.Fatalf("expected u1 removed, got %+v", second.Message.Message)
	}

	w1.Commands <- &Command{Kind: CommandRemoveFilter, Space: "room1", Filter: SpaceFilter{Name: "f", Space: "room1"}}
	ev = mustEvent(t, e1, EventSpaceMessage)
	if add, ok := ev.Message.Message.(*AddSpaceUser); !ok || add.User.UUID != "u1" {
		t.Fatalf("expected u1 back, got %+v", ev.Message.Message)
	}

	mustNoEvent(t, e2, 50*time.Millisecond)
}

func TestHubApplyRemoteIsNotForwarded(t *testing.T) {
	back := &fakeBackend{}
	hub := startHub(t, HubConfig{}, back)

	alice := NewClient("a", "alice")
	hub.RegisterClient(alice)
	events := watch(alice)
	alice.Commands <- &Command{Kind: CommandWatchSpace, Space: "room1"}
	mustEvent(t, events, EventWatching)

	ctx := context.Background()
	if err := hub.ApplyRemote(ctx, &AddSpaceUser{Space: "room1", User: user("u9", "remote")}); err != nil {
		t.Fatalf("apply remote: %v", err)
	}
	ev := mustEvent(t, events, EventSpaceMessage)
	if ev.Message.Message.UserUUID() != "u9" {
		t.Fatalf("unexpected message %+v", ev.Message.Message)
	}

	// Unknown space: dropped silently.
	if err := hub.ApplyRemote(ctx, &AddSpaceUser{Space: "elsewhere", User: user("u8", "x")}); err != nil {
		t.Fatalf("apply remote: %v", err)
	}
	spaces, err := hub.Spaces(ctx)
	if err != nil {
		t.Fatalf("spaces: %v", err)
	}
	if len(spaces) != 1 || spaces[0].Name != "room1" {
		t.Fatalf("unexpected spaces %+v", spaces)
	}
	if n := len(back.messages()); n != 0 {
		t.Fatalf("remote messages must not be forwarded, got %d", n)
	}
}

func TestHubUnregisterDetachesClient(t *testing.T) {
	hub := startHub(t, HubConfig{KeepWatchedSpaces: true}, nil)

	alice := NewClient("a", "alice")
	bob := NewClient("b", "bob")
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)
	aliceEvents, bobEvents := watch(alice), watch(bob)

	alice.Commands <- &Command{Kind: CommandWatchSpace, Space: "room1"}
	mustEvent(t, aliceEvents, EventWatching)
	bob.Commands <- &Command{Kind: CommandWatchSpace, Space: "room1"}
	mustEvent(t, bobEvents, EventWatching)
	alice.Commands <- &Command{Kind: CommandAddUser, Space: "room1", User: user("u1", "x")}
	mustEvent(t, bobEvents, EventSpaceMessage)

	hub.UnregisterClient(bob)

	deadline := time.Now().Add(2 * time.Second)
	for {
		info, _, err := hub.SpaceUsers(context.Background(), "room1")
		if err != nil {
			t.Fatalf("space users: %v", err)
		}
		if info.Watchers == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("bob still attached: %+v", info)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitQueued(t *testing.T, s *shard, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for len(s.ops) < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d queued ops, got %d", n, len(s.ops))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubDisconnectBeforeQueuedWatchRuns(t *testing.T) {
	hub := NewHub(HubConfig{Shards: 1, KeepWatchedSpaces: true}, nil, nil)

	alice := NewClient("a", "alice")
	hub.RegisterClient(alice)
	alice.Commands <- &Command{Kind: CommandWatchSpace, Space: "room1"}
	waitQueued(t, hub.shards[0], 1)

	hub.UnregisterClient(alice)
	waitQueued(t, hub.shards[0], 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go hub.Run(ctx)

	spaces, err := hub.Spaces(ctx)
	if err != nil {
		t.Fatalf("spaces: %v", err)
	}
	for _, info := range spaces {
		if info.Watchers != 0 {
			t.Fatalf("disconnected watcher still attached: %+v", info)
		}
	}
	if alice.Watching("room1") {
		t.Fatalf("expected room1 cleared from the client")
	}
}

type trackingBackend struct {
	fakeBackend
	mu        sync.Mutex
	watched   []string
	unwatched []string
}

func (b *trackingBackend) WatchSpace(_ context.Context, space string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watched = append(b.watched, space)
	return nil
}

func (b *trackingBackend) UnwatchSpace(_ context.Context, space string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unwatched = append(b.unwatched, space)
	return nil
}

func (b *trackingBackend) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watched), len(b.unwatched)
}

func TestHubTellsTrackerAboutSpaceLifecycle(t *testing.T) {
	back := &trackingBackend{}
	hub := startHub(t, HubConfig{}, back)

	alice := NewClient("a", "alice")
	hub.RegisterClient(alice)
	events := watch(alice)

	alice.Commands <- &Command{Kind: CommandWatchSpace, Space: "room1"}
	mustEvent(t, events, EventWatching)
	alice.Commands <- &Command{Kind: CommandUnwatchSpace, Space: "room1"}
	mustEvent(t, events, EventUnwatched)

	deadline := time.Now().Add(2 * time.Second)
	for {
		w, u := back.counts()
		if w == 1 && u == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected one watch and one unwatch, got %d/%d", w, u)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
