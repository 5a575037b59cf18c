package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/spacerelay/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second
	return &cfg
}

func runBriefly(t *testing.T, cfg *config.Config) {
	t.Helper()
	logger := zerolog.Nop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := New(ctx, cfg, &logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("app did not stop")
	}
}

func TestRunWithoutBackend(t *testing.T) {
	runBriefly(t, testConfig(t))
}

func TestRunWithJournal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend.Kind = config.BackendJournal
	cfg.Backend.JournalPath = filepath.Join(t.TempDir(), "journal.db")
	runBriefly(t, cfg)
}

func TestUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend.Kind = "carrier-pigeon"
	logger := zerolog.Nop()
	if _, err := New(context.Background(), cfg, &logger); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestJournalRoutesFollowBackend(t *testing.T) {
	logger := zerolog.Nop()
	get := func(a *App) int {
		rec := httptest.NewRecorder()
		a.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/journal/spaces", nil))
		return rec.Code
	}

	cfg := testConfig(t)
	cfg.Backend.Kind = config.BackendJournal
	cfg.Backend.JournalPath = filepath.Join(t.TempDir(), "journal.db")
	withJournal, err := New(context.Background(), cfg, &logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(withJournal.cleanup)
	if code := get(withJournal); code != http.StatusOK {
		t.Fatalf("expected journal routes, got %d", code)
	}

	plain, err := New(context.Background(), testConfig(t), &logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if code := get(plain); code != http.StatusNotFound {
		t.Fatalf("expected no journal routes without a journal backend, got %d", code)
	}
}
