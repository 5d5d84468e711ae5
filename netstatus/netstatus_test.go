package netstatus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestMonitor(t *testing.T, window time.Duration) *Monitor {
	t.Helper()
	return New(nil, Config{TransitionWindow: window}, nil)
}

func TestStartsOnline(t *testing.T) {
	m := newTestMonitor(t, time.Second)

	if !m.IsOnline() {
		t.Error("expected a fresh monitor to report online")
	}
	if m.JustWentOnline() || m.JustWentOffline() {
		t.Error("expected no transition flags before any transition")
	}
}

func TestTransitionFlags(t *testing.T) {
	m := newTestMonitor(t, 100*time.Millisecond)

	m.SetOnline(false)
	if m.IsOnline() {
		t.Error("expected offline after SetOnline(false)")
	}
	if !m.JustWentOffline() {
		t.Error("expected JustWentOffline right after the transition")
	}
	if m.JustWentOnline() {
		t.Error("JustWentOnline should not be raised on an offline transition")
	}

	m.SetOnline(true)
	if !m.JustWentOnline() {
		t.Error("expected JustWentOnline right after the transition")
	}

	// The flag reverts on its own once the window passes.
	time.Sleep(150 * time.Millisecond)
	if m.JustWentOnline() {
		t.Error("expected JustWentOnline to revert after the window")
	}
	if !m.IsOnline() {
		t.Error("IsOnline must not revert with the flag")
	}
}

func TestRepeatedObservationsIgnored(t *testing.T) {
	m := newTestMonitor(t, time.Second)
	ch := m.Subscribe()

	m.SetOnline(true) // already online, not a transition
	select {
	case <-ch:
		t.Fatal("repeated online observation must not signal subscribers")
	default:
	}
}

func TestSubscribeSignalsOnRestore(t *testing.T) {
	m := newTestMonitor(t, time.Second)
	ch := m.Subscribe()

	m.SetOnline(false)
	select {
	case <-ch:
		t.Fatal("offline transition must not signal subscribers")
	default:
	}

	m.SetOnline(true)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected a signal on the offline-to-online transition")
	}
}

func TestSubscribeDoesNotBlockOnSlowSubscriber(t *testing.T) {
	m := newTestMonitor(t, time.Second)
	_ = m.Subscribe() // never drained

	// Two full offline/online cycles; the second send hits a full buffer
	// and must be dropped, not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.SetOnline(false)
		m.SetOnline(true)
		m.SetOnline(false)
		m.SetOnline(true)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SetOnline blocked on an undrained subscriber")
	}
}

func TestHTTPProbe(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	probe := &HTTPProbe{URL: server.URL}
	if !probe.Check(context.Background()) {
		t.Error("expected probe to report reachable")
	}
	if hits.Load() == 0 {
		t.Error("expected the probe to hit the server")
	}

	server.Close()
	if probe.Check(context.Background()) {
		t.Error("expected probe to report unreachable after server close")
	}
}

func TestProbeLoopDrivesState(t *testing.T) {
	var reachable atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !reachable.Load() {
			// Simulate an unreachable backend by hijacking and dropping
			// the connection.
			if hj, ok := w.(http.Hijacker); ok {
				conn, _, err := hj.Hijack()
				if err == nil {
					_ = conn.Close()
				}
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	m := New(&HTTPProbe{URL: server.URL}, Config{
		ProbeInterval:    10 * time.Millisecond,
		TransitionWindow: time.Second,
	}, nil)
	m.Start()
	defer m.Stop()

	waitFor(t, func() bool { return !m.IsOnline() }, "monitor to observe offline")

	reachable.Store(true)
	waitFor(t, func() bool { return m.IsOnline() }, "monitor to observe online")
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
