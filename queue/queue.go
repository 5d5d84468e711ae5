// Package queue replays user-initiated mutations that were captured while
// the app was offline (or that simply haven't been delivered yet).
//
// Enqueue persists the action locally and returns immediately; from the
// caller's perspective it never fails. A background sync pass replays
// pending actions through their registered handlers once the store is
// ready and the network is up. Delivery is at-least-once with a flat
// retry cap and no backoff: a handler failure puts the action back to
// pending, and the action is dropped outright after the cap is reached.
// One bad action never blocks the rest of the queue.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/adotepet/syncengine/localstore"
	"github.com/adotepet/syncengine/netstatus"
	"github.com/adotepet/syncengine/schedule"
)

// Handler performs the backend mutation for one action type. A nil return
// means the mutation was delivered; any error counts as a failed attempt.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Config holds queue tuning.
type Config struct {
	// MaxRetries is how many failed attempts an action gets before it is
	// dropped.
	MaxRetries int

	// PollInterval is the cadence of the periodic sync pass. User-facing
	// mutations are urgent, so this is short.
	PollInterval time.Duration
}

// DefaultConfig returns the stock tuning: three attempts, two-second poll.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		PollInterval: 2 * time.Second,
	}
}

// Queue is the durable offline action queue.
type Queue struct {
	store    *localstore.Store
	status   *netstatus.Monitor
	handlers map[string]Handler
	config   Config
	logger   *logrus.Entry

	gate    schedule.Gate
	trigger *schedule.Trigger
}

// New creates a Queue. handlers maps action types to their backend
// mutations; a pending action whose type has no handler goes through the
// permanent-failure path and is eventually dropped.
//
// If logger is nil, a default stderr logger is used.
func New(store *localstore.Store, status *netstatus.Monitor, handlers map[string]Handler, config Config, logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logrus.New()
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultConfig().MaxRetries
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}

	registry := make(map[string]Handler, len(handlers))
	for actionType, handler := range handlers {
		registry[actionType] = handler
	}

	q := &Queue{
		store:    store,
		status:   status,
		handlers: registry,
		config:   config,
		logger:   logger.WithField("component", "queue"),
	}
	q.trigger = schedule.New("queue", config.PollInterval, status.Subscribe(), q.Sync, logger)
	return q
}

// Start launches the background sync loop.
func (q *Queue) Start() {
	q.trigger.Start()
}

// Stop shuts the loop down. An in-flight pass runs to completion.
func (q *Queue) Stop() {
	q.trigger.Stop()
}

// Enqueue persists a new action and returns its id. The payload is
// marshaled to JSON; anything that goes wrong is absorbed and logged, so
// the UI path never sees an error. When already online, a sync pass is
// kicked off opportunistically.
func (q *Queue) Enqueue(ctx context.Context, actionType string, payload any) string {
	action := &localstore.QueuedAction{
		ID:         uuid.NewString(),
		Type:       actionType,
		EnqueuedAt: time.Now(),
		Status:     localstore.StatusPending,
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			q.logger.WithError(err).WithField("action_type", actionType).Warn("failed to marshal action payload")
		} else {
			action.Payload = data
		}
	}

	q.store.PutAction(ctx, action)
	q.logger.WithFields(logrus.Fields{
		"action_id":   action.ID,
		"action_type": actionType,
	}).Debug("action enqueued")

	if q.status.IsOnline() {
		q.trigger.Kick()
	}
	return action.ID
}

// Sync runs one replay pass. It is a no-op unless the store is ready, the
// network is online, and no other pass is in flight.
func (q *Queue) Sync(ctx context.Context) {
	if !q.gate.TryAcquire() {
		return
	}
	defer q.gate.Release()

	if !q.store.Ready() || !q.status.IsOnline() {
		return
	}

	// A processing row at this point was claimed by a pass that never
	// recorded an outcome (crash or shutdown mid-handler). Put it back in
	// line so it is retried instead of stranded.
	if recovered := q.store.RecoverStaleActions(ctx); recovered > 0 {
		q.logger.WithField("recovered", recovered).Warn("returned interrupted actions to pending")
	}

	pending := q.store.PendingActions(ctx)
	if len(pending) == 0 {
		return
	}

	q.logger.WithField("pending", len(pending)).Debug("starting replay pass")
	for _, action := range pending {
		// Each action succeeds or fails on its own; the pass keeps going
		// either way, even if connectivity drops mid-pass.
		q.process(ctx, action)
	}
}

// process replays a single action.
func (q *Queue) process(ctx context.Context, action *localstore.QueuedAction) {
	// Bookkeeping runs on a context that survives loop shutdown. If the
	// pass is canceled mid-handler, the outcome must still be recorded or
	// the action stays claimed until the next recovery.
	bookCtx := context.WithoutCancel(ctx)

	// Claim the record. Losing the rev check means another writer touched
	// it since we read; leave it for the next pass.
	action.Status = localstore.StatusProcessing
	if !q.store.UpdateAction(bookCtx, action) {
		q.logger.WithField("action_id", action.ID).Debug("action changed underfoot, skipping")
		return
	}

	var err error
	if handler, ok := q.handlers[action.Type]; ok {
		err = handler(ctx, action.Payload)
	} else {
		err = fmt.Errorf("no handler registered for action type %q", action.Type)
	}

	if err == nil {
		q.store.DeleteAction(bookCtx, action.ID)
		q.logger.WithFields(logrus.Fields{
			"action_id":   action.ID,
			"action_type": action.Type,
		}).Info("action delivered")
		return
	}

	action.RetryCount++
	action.LastError = err.Error()

	if action.RetryCount >= q.config.MaxRetries {
		// Out of attempts. Dropped for good rather than parked as failed.
		q.store.DeleteAction(bookCtx, action.ID)
		q.logger.WithFields(logrus.Fields{
			"action_id":   action.ID,
			"action_type": action.Type,
			"attempts":    action.RetryCount,
		}).WithError(err).Warn("action dropped after exhausting retries")
		return
	}

	action.Status = localstore.StatusPending
	q.store.UpdateAction(bookCtx, action)
	q.logger.WithFields(logrus.Fields{
		"action_id": action.ID,
		"attempt":   action.RetryCount,
	}).WithError(err).Warn("action failed, will retry")
}

// PendingCount returns how many actions await replay. This feeds the
// "N actions pending" badge.
func (q *Queue) PendingCount(ctx context.Context) int {
	return q.store.PendingActionCount(ctx)
}
