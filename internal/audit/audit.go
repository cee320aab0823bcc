// Package audit is the append-only event log every lifecycle action is written to.
package audit

import (
	"context"
	"log"
	"time"
)

// Action names recorded by the service.
const (
	ActionLogin              = "login"
	ActionLogout             = "logout"
	ActionSessionExpired     = "session_expired"
	ActionCashoutInitiated   = "cashout_initiated"
	ActionWebhookReceived    = "webhook_received"
	ActionPaymentApproved    = "payment_approved"
	ActionPaymentCompleted   = "payment_completed"
	ActionPaymentFailed      = "payment_failed"
	ActionStatusChanged      = "payment_status_changed"
	ActionPaymentUnmatched   = "payment_unmatched"
	ActionTransitionRejected = "payment_transition_rejected"
	ActionPaymentExpired     = "payment_expired"
)

// Event is one audit record.
type Event struct {
	Time      time.Time      `json:"time"`
	Action    string         `json:"action"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Payload   map[string]any `json:"payload"`
}

// Sink persists audit events somewhere.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// Logger writes audit events. Best-effort: failures never reach the caller.
type Logger interface {
	Log(ctx context.Context, ev Event)
}

// Recorder fans an event out to every sink, logging sink failures.
type Recorder struct {
	sinks []Sink
	now   func() time.Time
}

// NewRecorder returns a Recorder over sinks; nil sinks are skipped.
func NewRecorder(sinks ...Sink) *Recorder {
	r := &Recorder{now: func() time.Time { return time.Now().UTC() }}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

// Log stamps ev (when unset) and writes it to every sink.
func (r *Recorder) Log(ctx context.Context, ev Event) {
	if r == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = r.now()
	}
	if ev.Payload == nil {
		ev.Payload = map[string]any{}
	}
	for _, s := range r.sinks {
		if err := s.Record(ctx, ev); err != nil {
			log.Printf("audit: failed to record %s: %v", ev.Action, err)
		}
	}
}
