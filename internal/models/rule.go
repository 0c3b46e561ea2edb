package models

import (
	"errors"
	"time"
)

// ChannelRef names a configured notification channel bound to a rule.
type ChannelRef string

// AlertRule defines a threshold condition over the event stream:
// fire when at least ThresholdCount events at or above LevelFilter
// (optionally restricted to Sources) arrive within WindowDuration.
type AlertRule struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	LevelFilter    Level         `json:"level_filter"`
	Sources        []string      `json:"sources,omitempty"`
	ThresholdCount uint64        `json:"threshold_count"`
	WindowDuration time.Duration `json:"window_duration"`
	Cooldown       time.Duration `json:"cooldown"`
	Channels       []ChannelRef  `json:"channels"`
	Enabled        bool          `json:"enabled"`
}

// Rule validation errors
var (
	ErrEmptyRuleID      = errors.New("rule ID cannot be empty")
	ErrEmptyRuleName    = errors.New("rule name cannot be empty")
	ErrZeroThreshold    = errors.New("threshold count must be at least 1")
	ErrInvalidWindow    = errors.New("window duration must be positive")
	ErrNegativeCooldown = errors.New("cooldown cannot be negative")
	ErrNoChannels       = errors.New("rule must reference at least one channel")
)

// Validate checks that the rule is well formed.
func (r *AlertRule) Validate() error {
	if r.ID == "" {
		return ErrEmptyRuleID
	}
	if r.Name == "" {
		return ErrEmptyRuleName
	}
	if !r.LevelFilter.IsValid() {
		return ErrInvalidLevel
	}
	if r.ThresholdCount == 0 {
		return ErrZeroThreshold
	}
	if r.WindowDuration <= 0 {
		return ErrInvalidWindow
	}
	if r.Cooldown < 0 {
		return ErrNegativeCooldown
	}
	if len(r.Channels) == 0 {
		return ErrNoChannels
	}
	return nil
}

// Matches reports whether the event qualifies for this rule.
// The level filter uses minimum-severity semantics; an empty source
// list matches every source.
func (r *AlertRule) Matches(e *LogEvent) bool {
	if !e.Level.AtLeast(r.LevelFilter) {
		return false
	}
	if len(r.Sources) == 0 {
		return true
	}
	for _, s := range r.Sources {
		if s == e.Source {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the rule. Registry snapshots hand out
// clones so callers can never mutate published state.
func (r *AlertRule) Clone() *AlertRule {
	c := *r
	if r.Sources != nil {
		c.Sources = append([]string(nil), r.Sources...)
	}
	if r.Channels != nil {
		c.Channels = append([]ChannelRef(nil), r.Channels...)
	}
	return &c
}
