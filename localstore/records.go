package localstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action statuses. An action starts pending, is marked processing while its
// handler runs, and either completes (row deleted) or returns to pending
// for a later retry. The failed status is transient: an action that runs
// out of retries is deleted, never parked as failed.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusFailed     = "failed"
	StatusCompleted  = "completed"
)

// Action types form a closed set. Anything outside it goes through the
// permanent-failure path in the queue rather than erroring.
const (
	ActionCreateAppointment = "create-appointment"
	ActionUpdateAppointment = "update-appointment"
	ActionAddFavorite       = "add-favorite"
	ActionRemoveFavorite    = "remove-favorite"
	ActionCreateDonation    = "create-donation"
)

// QueuedAction is a durably persisted user mutation awaiting replay.
type QueuedAction struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
	Status     string          `json:"status"`
	LastError  string          `json:"last_error,omitempty"`

	// Rev is bumped on every successful update. Updates carry the rev they
	// read; a stale update affects zero rows and the writer skips the
	// record instead of clobbering a concurrent change.
	Rev int64 `json:"rev"`
}

// Validate checks the fields the store requires to persist an action.
func (a *QueuedAction) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if a.Type == "" {
		return fmt.Errorf("type is required")
	}
	if a.Status == "" {
		return fmt.Errorf("status is required")
	}
	if a.EnqueuedAt.IsZero() {
		return fmt.Errorf("enqueued_at is required")
	}
	if a.RetryCount < 0 {
		return fmt.Errorf("retry_count must not be negative (got %d)", a.RetryCount)
	}
	return nil
}

// AnalyticsEvent is a durably persisted telemetry record awaiting batch
// delivery. Sent is monotonic: once true it never reverts.
type AnalyticsEvent struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Category        string         `json:"category"`
	PetID           string         `json:"pet_id,omitempty"`
	OngID           string         `json:"ong_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	SessionID       string         `json:"session_id"`
	Timestamp       time.Time      `json:"timestamp"`
	CapturedOffline bool           `json:"captured_offline"`
	Sent            bool           `json:"sent"`
}

// Validate checks the fields the store requires to persist an event.
func (e *AnalyticsEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}
	if e.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}
