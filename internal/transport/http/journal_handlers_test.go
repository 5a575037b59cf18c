package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/spacerelay/internal/backend/journal"
	"github.com/vovakirdan/spacerelay/internal/config"
	"github.com/vovakirdan/spacerelay/internal/core"
	"github.com/vovakirdan/spacerelay/internal/store/sqlite"
)

func startJournalServer(t *testing.T) (*httptest.Server, *journal.Backend) {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	back := journal.New(st, "relay-a", nil)
	t.Cleanup(func() { back.Close() })

	logger := zerolog.Nop()
	cfg := config.Default()
	hub := core.NewHub(core.HubConfig{}, back, &logger)
	server := NewServer(hub, &cfg, back, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	return ts, back
}

func TestJournalHistory(t *testing.T) {
	ts, back := startJournalServer(t)
	ctx := context.Background()
	for _, msg := range []core.SpaceMessage{
		&core.AddSpaceUser{Space: "room1", User: &core.SpaceUser{UUID: "u1", Name: "alice"}},
		&core.AddSpaceUser{Space: "room1", User: &core.SpaceUser{UUID: "u2", Name: "bob"}},
		&core.RemoveSpaceUser{Space: "room1", UUID: "u1"},
		&core.AddSpaceUser{Space: "room2", User: &core.SpaceUser{UUID: "u3", Name: "carol"}},
	} {
		if err := back.Write(ctx, &core.BackMessage{Message: msg}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	var spaces struct {
		Spaces []string `json:"spaces"`
	}
	if status := getJSON(t, ts.URL+"/api/journal/spaces", &spaces); status != http.StatusOK {
		t.Fatalf("unexpected status %d", status)
	}
	if len(spaces.Spaces) != 2 || spaces.Spaces[0] != "room1" || spaces.Spaces[1] != "room2" {
		t.Fatalf("unexpected stored spaces %+v", spaces.Spaces)
	}

	var page struct {
		Entries []JournalEntryResponse `json:"entries"`
	}
	if status := getJSON(t, ts.URL+"/api/journal/spaces/room1?limit=2", &page); status != http.StatusOK {
		t.Fatalf("unexpected status %d", status)
	}
	if len(page.Entries) != 2 || page.Entries[0].UserUUID != "u1" || page.Entries[0].Kind != core.KindAddUser {
		t.Fatalf("unexpected first page %+v", page.Entries)
	}
	if page.Entries[0].Origin != "relay-a" || len(page.Entries[0].Message) == 0 {
		t.Fatalf("expected origin and message on entry %+v", page.Entries[0])
	}

	next := ts.URL + "/api/journal/spaces/room1?after=" + strconv.FormatInt(page.Entries[1].ID, 10)
	if status := getJSON(t, next, &page); status != http.StatusOK {
		t.Fatalf("unexpected status %d", status)
	}
	if len(page.Entries) != 1 || page.Entries[0].Kind != core.KindRemoveUser {
		t.Fatalf("unexpected second page %+v", page.Entries)
	}

	if status := getJSON(t, ts.URL+"/api/journal/spaces/room1?limit=nope", nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", status)
	}
}
