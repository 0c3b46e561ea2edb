package models

import (
	"errors"
	"testing"
	"time"
)

func validRule() *AlertRule {
	return &AlertRule{
		ID:             "rule-1",
		Name:           "error burst",
		LevelFilter:    LevelError,
		ThresholdCount: 10,
		WindowDuration: 5 * time.Minute,
		Cooldown:       10 * time.Minute,
		Channels:       []ChannelRef{"ops-slack"},
		Enabled:        true,
	}
}

func TestAlertRuleValidate(t *testing.T) {
	if err := validRule().Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*AlertRule)
		wantErr error
	}{
		{"empty id", func(r *AlertRule) { r.ID = "" }, ErrEmptyRuleID},
		{"empty name", func(r *AlertRule) { r.Name = "" }, ErrEmptyRuleName},
		{"zero threshold", func(r *AlertRule) { r.ThresholdCount = 0 }, ErrZeroThreshold},
		{"zero window", func(r *AlertRule) { r.WindowDuration = 0 }, ErrInvalidWindow},
		{"negative cooldown", func(r *AlertRule) { r.Cooldown = -time.Second }, ErrNegativeCooldown},
		{"no channels", func(r *AlertRule) { r.Channels = nil }, ErrNoChannels},
		{"bad level", func(r *AlertRule) { r.LevelFilter = "LOUD" }, ErrInvalidLevel},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := validRule()
			tc.mutate(r)
			if err := r.Validate(); !errors.Is(err, tc.wantErr) {
				t.Errorf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestAlertRuleMatches(t *testing.T) {
	rule := validRule()

	event := &LogEvent{Level: LevelError, Source: "api"}
	if !rule.Matches(event) {
		t.Error("ERROR event should match ERROR filter")
	}

	event.Level = LevelWarn
	if rule.Matches(event) {
		t.Error("WARN event should not match ERROR filter")
	}

	// minimum-severity semantics
	rule.LevelFilter = LevelWarn
	event.Level = LevelError
	if !rule.Matches(event) {
		t.Error("ERROR event should match WARN filter")
	}

	// source filter
	rule.Sources = []string{"billing"}
	if rule.Matches(event) {
		t.Error("event from api should not match billing-only rule")
	}
	event.Source = "billing"
	if !rule.Matches(event) {
		t.Error("event from billing should match billing-only rule")
	}
}

func TestAlertRuleClone(t *testing.T) {
	rule := validRule()
	rule.Sources = []string{"api"}

	clone := rule.Clone()
	clone.Sources[0] = "other"
	clone.Channels[0] = "other-channel"
	clone.ThresholdCount = 99

	if rule.Sources[0] != "api" {
		t.Error("clone shares Sources backing array")
	}
	if rule.Channels[0] != "ops-slack" {
		t.Error("clone shares Channels backing array")
	}
	if rule.ThresholdCount != 10 {
		t.Error("clone shares scalar state")
	}
}
