// Package telemetry carries moderation and security events to the log pipeline (OTel logs) and the
// ledger stream (Kafka). Emission is best-effort and never blocks a request.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Source is stamped on every event this service emits.
const Source = "account-lifecycle"

// Event is one moderation or security event.
type Event struct {
	ID string `json:"id"`
	// EventType is "<category>.<name>", e.g. moderation.suspend or security.password_mismatch.
	EventType string          `json:"eventType"`
	Source    string          `json:"source"`
	AccountID string          `json:"accountId,omitempty"`
	ActorID   string          `json:"actorId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// EventEmitter emits telemetry events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}

// Multi fans an event out to every non-nil emitter and joins their errors.
func Multi(emitters ...EventEmitter) EventEmitter {
	var out multi
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

type multi []EventEmitter

func (m multi) Emit(ctx context.Context, event *Event) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
