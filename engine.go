package syncengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/adotepet/syncengine/analytics"
	"github.com/adotepet/syncengine/config"
	"github.com/adotepet/syncengine/localstore"
	"github.com/adotepet/syncengine/logging"
	"github.com/adotepet/syncengine/netstatus"
	"github.com/adotepet/syncengine/queue"
)

// flushGrace is how long Close waits for the fire-and-forget shutdown
// flush before tearing the process down anyway.
const flushGrace = 250 * time.Millisecond

// Options configures a new Engine.
type Options struct {
	// Config supplies the engine tuning. Nil means config.Default().
	Config *config.Config

	// Handlers maps queued action types to the backend mutations that
	// replay them.
	Handlers map[string]queue.Handler

	// Probe overrides the reachability check. Nil with a configured
	// ProbeURL builds an HTTP probe; nil without one leaves connectivity
	// entirely to SetOnline pushes from the host.
	Probe netstatus.Probe

	// Logger overrides the logger built from the config.
	Logger *logrus.Logger
}

// Engine owns the offline queue, the analytics recorder, and their shared
// store and connectivity signal. Construct one per process, call Init to
// start the background loops, and Close on teardown.
type Engine struct {
	config    *config.Config
	logger    *logrus.Logger
	sessionID string

	store    *localstore.Store
	status   *netstatus.Monitor
	queue    *queue.Queue
	recorder *analytics.Recorder

	mu      sync.Mutex
	started bool
	closed  bool
}

// New wires an Engine from the options. No I/O happens until Init.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	}

	probe := opts.Probe
	if probe == nil && cfg.ProbeURL != "" {
		probe = &netstatus.HTTPProbe{URL: cfg.ProbeURL}
	}

	// The session id lives exactly as long as this Engine; it is never
	// persisted, so a restart starts a new session.
	sessionID := uuid.NewString()

	store := localstore.New(cfg.StorePath, logger)
	status := netstatus.New(probe, netstatus.Config{
		ProbeInterval:    cfg.ProbeInterval,
		TransitionWindow: cfg.TransitionWindow,
	}, logger)

	q := queue.New(store, status, opts.Handlers, queue.Config{
		MaxRetries:   cfg.MaxRetries,
		PollInterval: cfg.QueuePollInterval,
	}, logger)

	recorder := analytics.New(store, status, sessionID, analytics.Config{
		IngestURL:    cfg.IngestURL,
		BatchSize:    cfg.BatchSize,
		PollInterval: cfg.AnalyticsPollInterval,
		Retention:    cfg.Retention,
	}, logger)

	return &Engine{
		config:    cfg,
		logger:    logger,
		sessionID: sessionID,
		store:     store,
		status:    status,
		queue:     q,
		recorder:  recorder,
	}, nil
}

// Init opens the store and starts the probe and sync loops. Idempotent
// in effect: a second call is rejected rather than doubling the loops.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("engine is closed")
	}
	if e.started {
		return fmt.Errorf("engine already initialized")
	}

	// Warm the store up front so the first enqueue doesn't pay for it.
	// An unavailable store is logged, not fatal: the engine runs
	// fail-open without durability.
	if !e.store.Ready() {
		e.logger.WithField("path", e.config.StorePath).Warn("store unavailable, running without durability")
	}

	e.status.Start()
	e.queue.Start()
	e.recorder.Start()
	e.started = true

	e.logger.WithField("session_id", e.sessionID).Info("sync engine started")
	return nil
}

// Close stops the loops, fires the best-effort analytics flush, and
// closes the store. In-flight sync passes run to completion first.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.started {
		e.queue.Stop()
		e.recorder.Stop()
		e.status.Stop()
	}

	// Send-and-forget: give the flush a moment to get the request out,
	// then move on regardless.
	if e.recorder.Flush(context.Background()) {
		time.Sleep(flushGrace)
	}

	if err := e.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	e.logger.Info("sync engine stopped")
	return nil
}

// Queue returns the offline action queue.
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}

// Analytics returns the telemetry recorder.
func (e *Engine) Analytics() *analytics.Recorder {
	return e.recorder
}

// Network returns the connectivity monitor, which the host application
// feeds with platform connectivity events via SetOnline.
func (e *Engine) Network() *netstatus.Monitor {
	return e.status
}

// SessionID returns the per-process session correlator.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// PendingActions returns how many queued mutations await replay; it backs
// the "N actions pending" badge in the UI.
func (e *Engine) PendingActions(ctx context.Context) int {
	return e.queue.PendingCount(ctx)
}
