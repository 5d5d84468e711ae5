package syncengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adotepet/syncengine/analytics"
	"github.com/adotepet/syncengine/config"
	"github.com/adotepet/syncengine/localstore"
	"github.com/adotepet/syncengine/queue"
)

func testConfig(t *testing.T, ingestURL string) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.StorePath = filepath.Join(t.TempDir(), "sync.db")
	cfg.IngestURL = ingestURL
	cfg.QueuePollInterval = 20 * time.Millisecond
	cfg.AnalyticsPollInterval = 20 * time.Millisecond
	cfg.LogLevel = "error"
	return cfg
}

func TestEngineLifecycle(t *testing.T) {
	engine, err := New(Options{Config: testConfig(t, "http://127.0.0.1:0")})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := engine.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := engine.Init(); err == nil {
		t.Error("second Init should be rejected")
	}

	if engine.SessionID() == "" {
		t.Error("expected a session id")
	}

	if err := engine.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Errorf("second Close should be a no-op: %v", err)
	}
	if err := engine.Init(); err == nil {
		t.Error("Init after Close should be rejected")
	}
}

func TestEngineRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.BatchSize = -1

	if _, err := New(Options{Config: cfg}); err == nil {
		t.Fatal("expected New to reject an invalid config")
	}
}

func TestEngineSessionIDsDiffer(t *testing.T) {
	a, err := New(Options{Config: testConfig(t, "http://127.0.0.1:0")})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	b, err := New(Options{Config: testConfig(t, "http://127.0.0.1:0")})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if a.SessionID() == b.SessionID() {
		t.Error("two engines must not share a session id")
	}
}

func TestEngineReplaysOfflineActionAfterRestore(t *testing.T) {
	ctx := context.Background()

	var delivered atomic.Int32
	handlers := map[string]queue.Handler{
		localstore.ActionCreateAppointment: func(ctx context.Context, payload json.RawMessage) error {
			delivered.Add(1)
			return nil
		},
	}

	engine, err := New(Options{
		Config:   testConfig(t, "http://127.0.0.1:0"),
		Handlers: handlers,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := engine.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer engine.Close()

	engine.Network().SetOnline(false)
	engine.Queue().Enqueue(ctx, localstore.ActionCreateAppointment, map[string]string{"pet_id": "pet-5"})

	if n := engine.PendingActions(ctx); n != 1 {
		t.Fatalf("expected 1 pending action for the badge, got %d", n)
	}
	time.Sleep(60 * time.Millisecond)
	if delivered.Load() != 0 {
		t.Fatal("nothing should be delivered while offline")
	}

	engine.Network().SetOnline(true)

	waitFor(t, func() bool { return delivered.Load() == 1 }, "replay after restore")
	waitFor(t, func() bool { return engine.PendingActions(ctx) == 0 }, "badge count to clear")
}

func TestEngineDeliversAnalytics(t *testing.T) {
	ctx := context.Background()

	var batches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		batches.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	engine, err := New(Options{Config: testConfig(t, server.URL)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := engine.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer engine.Close()

	engine.Analytics().TrackPageView(ctx, "home")
	engine.Analytics().TrackSearch(ctx, "siamese", 4)

	waitFor(t, func() bool { return engine.Analytics().UnsentCount(ctx) == 0 }, "analytics delivery")
	if batches.Load() == 0 {
		t.Error("expected at least one batch at the ingest endpoint")
	}
}

func TestEngineCloseFlushesPendingEvents(t *testing.T) {
	ctx := context.Background()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	cfg := testConfig(t, server.URL)
	cfg.AnalyticsPollInterval = time.Hour // only the shutdown flush can send

	engine, err := New(Options{Config: cfg})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := engine.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// Track while offline so neither the poll nor the opportunistic kick
	// can deliver; only the shutdown flush is left.
	engine.Network().SetOnline(false)
	engine.Analytics().Track(ctx, "app_background", analytics.EventData{})

	if err := engine.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if hits.Load() == 0 {
		t.Error("expected the shutdown flush to reach the ingest endpoint")
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
