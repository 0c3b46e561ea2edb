package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertFiring records a single threshold crossing for a rule.
// Immutable once created; consumed by the dispatcher and history sink.
type AlertFiring struct {
	ID          string       `json:"id"`
	RuleID      string       `json:"rule_id"`
	RuleName    string       `json:"rule_name"`
	FiredAt     time.Time    `json:"fired_at"`
	WindowStart time.Time    `json:"window_start"`
	WindowEnd   time.Time    `json:"window_end"`
	Count       uint64       `json:"count"`
	Threshold   uint64       `json:"threshold"`
	Channels    []ChannelRef `json:"channels"`

	// SampleEvents holds a bounded number of event IDs that contributed
	// to the window, for operator context in notifications.
	SampleEvents []string `json:"sample_events,omitempty"`
}

// NewFiringID returns a unique identifier for a firing.
func NewFiringID() string {
	return uuid.New().String()
}

// AttemptStatus describes the outcome of one channel delivery attempt.
type AttemptStatus string

const (
	AttemptDelivered AttemptStatus = "delivered"
	AttemptFailed    AttemptStatus = "failed"
	AttemptExhausted AttemptStatus = "exhausted"
	AttemptSkipped   AttemptStatus = "skipped" // suppressed by idempotency check
	AttemptCancelled AttemptStatus = "cancelled"
)

// DeliveryAttempt is one entry in the append-only delivery audit trail.
type DeliveryAttempt struct {
	FiringID  string        `json:"firing_id"`
	RuleID    string        `json:"rule_id"`
	Channel   ChannelRef    `json:"channel"`
	AttemptNo int           `json:"attempt_no"`
	Status    AttemptStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
	At        time.Time     `json:"at"`
}
