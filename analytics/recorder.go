// Package analytics buffers telemetry events locally and delivers them to
// the ingestion endpoint in batches.
//
// Track persists the event immediately and returns; no caller ever waits
// on the network or sees an error. A background sync pass posts unsent
// events in fixed-size batches: a batch that lands marks every event in it
// as sent, a batch that fails is simply left for the next pass. Delivered
// events older than the retention window are swept after each pass.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/adotepet/syncengine/localstore"
	"github.com/adotepet/syncengine/netstatus"
	"github.com/adotepet/syncengine/schedule"
)

// Config holds recorder tuning.
type Config struct {
	// IngestURL is the batch ingestion endpoint.
	IngestURL string

	// BatchSize is how many events go into one POST.
	BatchSize int

	// PollInterval is the cadence of the periodic sync pass. Telemetry is
	// not urgent, so this is long.
	PollInterval time.Duration

	// Retention is how long delivered events stay on device before the
	// sweep removes them.
	Retention time.Duration

	// HTTPClient overrides the transport used for batch delivery.
	HTTPClient *http.Client
}

// DefaultConfig returns the stock tuning: 50-event batches on a
// five-minute poll, 30-day retention.
func DefaultConfig() Config {
	return Config{
		BatchSize:    50,
		PollInterval: 5 * time.Minute,
		Retention:    30 * 24 * time.Hour,
	}
}

// EventData carries the optional subject references and free-form
// metadata attached to a tracked event.
type EventData struct {
	PetID    string
	OngID    string
	Metadata map[string]any
}

// Recorder is the durable telemetry buffer.
type Recorder struct {
	store     *localstore.Store
	status    *netstatus.Monitor
	sessionID string
	config    Config
	client    *http.Client
	logger    *logrus.Entry

	gate    schedule.Gate
	trigger *schedule.Trigger
}

// New creates a Recorder. sessionID correlates events from one running
// instance; pass "" to have one generated. If logger is nil, a default
// stderr logger is used.
func New(store *localstore.Store, status *netstatus.Monitor, sessionID string, config Config, logger *logrus.Logger) *Recorder {
	if logger == nil {
		logger = logrus.New()
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	defaults := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	r := &Recorder{
		store:     store,
		status:    status,
		sessionID: sessionID,
		config:    config,
		client:    client,
		logger:    logger.WithField("component", "analytics"),
	}
	r.trigger = schedule.New("analytics", config.PollInterval, status.Subscribe(), r.Sync, logger)
	return r
}

// SessionID returns the session correlator for this instance.
func (r *Recorder) SessionID() string {
	return r.sessionID
}

// Start launches the background sync loop.
func (r *Recorder) Start() {
	r.trigger.Start()
}

// Stop shuts the loop down. An in-flight pass runs to completion.
func (r *Recorder) Stop() {
	r.trigger.Stop()
}

// Track persists a telemetry event and returns immediately. When already
// online, a sync pass is kicked off opportunistically; the caller never
// waits on it.
func (r *Recorder) Track(ctx context.Context, eventType string, data EventData) {
	online := r.status.IsOnline()

	event := &localstore.AnalyticsEvent{
		ID:              uuid.NewString(),
		Type:            eventType,
		Category:        categoryFor(eventType),
		PetID:           data.PetID,
		OngID:           data.OngID,
		Metadata:        data.Metadata,
		SessionID:       r.sessionID,
		Timestamp:       time.Now(),
		CapturedOffline: !online,
	}

	r.store.PutEvent(ctx, event)
	r.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": eventType,
		"category":   event.Category,
	}).Debug("event recorded")

	if online {
		r.trigger.Kick()
	}
}

// TrackPageView records a screen navigation.
func (r *Recorder) TrackPageView(ctx context.Context, screen string) {
	r.Track(ctx, EventPageView, EventData{
		Metadata: map[string]any{"screen": screen},
	})
}

// TrackSearch records a search and how many results it returned.
func (r *Recorder) TrackSearch(ctx context.Context, query string, resultCount int) {
	r.Track(ctx, EventSearch, EventData{
		Metadata: map[string]any{
			"query":        query,
			"result_count": resultCount,
		},
	})
}

// TrackFilter records the filters applied to a listing.
func (r *Recorder) TrackFilter(ctx context.Context, filters map[string]any) {
	r.Track(ctx, EventFilterApplied, EventData{
		Metadata: map[string]any{"filters": filters},
	})
}

// Sync runs one delivery pass. It is a no-op unless the store is ready,
// the network is online, and no other pass is in flight. After the pass
// the retention sweep runs regardless of delivery outcome.
func (r *Recorder) Sync(ctx context.Context) {
	if !r.gate.TryAcquire() {
		return
	}
	defer r.gate.Release()

	if !r.store.Ready() || !r.status.IsOnline() {
		return
	}

	events := r.store.UnsentEvents(ctx)
	if len(events) > 0 {
		r.logger.WithField("unsent", len(events)).Debug("starting delivery pass")
		for start := 0; start < len(events); start += r.config.BatchSize {
			end := start + r.config.BatchSize
			if end > len(events) {
				end = len(events)
			}
			batch := events[start:end]

			if err := r.postBatch(ctx, batch); err != nil {
				// No per-event retry: the whole batch stays unsent and
				// rides along on the next pass. Later batches still get
				// their shot.
				r.logger.WithError(err).WithField("batch_size", len(batch)).Warn("batch delivery failed")
				continue
			}

			for _, event := range batch {
				r.store.MarkEventSent(ctx, event.ID)
			}
			r.logger.WithField("batch_size", len(batch)).Info("batch delivered")
		}
	}

	r.Cleanup(ctx)
}

// postBatch sends one batch to the ingestion endpoint. Any non-2xx
// response or transport error counts as a failed batch.
func (r *Recorder) postBatch(ctx context.Context, batch []*localstore.AnalyticsEvent) error {
	body, err := json.Marshal(map[string]any{"events": batch})
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.IngestURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ingest endpoint returned %s", resp.Status)
	}
	return nil
}

// Cleanup sweeps delivered events older than the retention window.
// Best-effort; a sweep that cannot run changes nothing.
func (r *Recorder) Cleanup(ctx context.Context) {
	cutoff := time.Now().Add(-r.config.Retention)
	if deleted := r.store.DeleteSentEventsBefore(ctx, cutoff); deleted > 0 {
		r.logger.WithField("deleted", deleted).Debug("swept delivered events")
	}
}

// Flush fires one last best-effort delivery of everything still unsent,
// for use during process teardown. The send happens on its own goroutine
// with a short timeout and the response is never read; events are not
// marked sent, so anything that did land is simply resent next launch.
// Returns whether a send was fired at all.
func (r *Recorder) Flush(ctx context.Context) bool {
	events := r.store.UnsentEvents(ctx)
	if len(events) == 0 {
		return false
	}

	r.logger.WithField("unsent", len(events)).Debug("firing shutdown flush")
	go func() {
		body, err := json.Marshal(map[string]any{"events": events})
		if err != nil {
			return
		}

		flushCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(flushCtx, http.MethodPost, r.config.IngestURL, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return
		}
		_ = resp.Body.Close()
	}()
	return true
}

// UnsentCount returns how many events await delivery.
func (r *Recorder) UnsentCount(ctx context.Context) int {
	return r.store.UnsentEventCount(ctx)
}
