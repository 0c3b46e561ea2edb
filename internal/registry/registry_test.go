package registry

import (
	"errors"
	"testing"
	"time"

	"sentinel/internal/models"
)

func testRule(id string) *models.AlertRule {
	return &models.AlertRule{
		ID:             id,
		Name:           "rule " + id,
		LevelFilter:    models.LevelError,
		ThresholdCount: 5,
		WindowDuration: time.Minute,
		Cooldown:       time.Minute,
		Channels:       []models.ChannelRef{"ops"},
		Enabled:        true,
	}
}

func TestRegistryCRUD(t *testing.T) {
	reg := New()

	if err := reg.Create(testRule("a")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := reg.Create(testRule("a")); !errors.Is(err, ErrRuleExists) {
		t.Errorf("duplicate create: got %v, want ErrRuleExists", err)
	}

	rule, err := reg.Get("a")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if rule.Name != "rule a" {
		t.Errorf("unexpected rule name %q", rule.Name)
	}

	updated := testRule("a")
	updated.ThresholdCount = 42
	if err := reg.Update(updated); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	rule, _ = reg.Get("a")
	if rule.ThresholdCount != 42 {
		t.Errorf("update not visible: threshold %d", rule.ThresholdCount)
	}

	if err := reg.Update(testRule("missing")); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("update missing: got %v, want ErrRuleNotFound", err)
	}

	if err := reg.Delete("a"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := reg.Get("a"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("get after delete: got %v, want ErrRuleNotFound", err)
	}
}

func TestSnapshotImmutability(t *testing.T) {
	reg := New()
	if err := reg.Create(testRule("a")); err != nil {
		t.Fatal(err)
	}

	snap := reg.Snapshot()
	v1 := snap.Version()

	updated := testRule("a")
	updated.ThresholdCount = 99
	if err := reg.Update(updated); err != nil {
		t.Fatal(err)
	}

	// The old snapshot must keep serving the old rule.
	old, ok := snap.Get("a")
	if !ok || old.ThresholdCount != 5 {
		t.Errorf("old snapshot mutated: %+v", old)
	}

	fresh := reg.Snapshot()
	if fresh.Version() <= v1 {
		t.Errorf("version did not advance: %d -> %d", v1, fresh.Version())
	}
	current, _ := fresh.Get("a")
	if current.ThresholdCount != 99 {
		t.Errorf("new snapshot missing update: %+v", current)
	}
}

func TestSubscribeNotifications(t *testing.T) {
	reg := New()

	var changes []Change
	reg.Subscribe(func(c Change) { changes = append(changes, c) })

	reg.Create(testRule("a"))
	reg.SetEnabled("a", false)
	reg.SetEnabled("a", false) // no-op, no notification
	reg.SetEnabled("a", true)
	reg.Delete("a")

	want := []ChangeType{ChangeCreated, ChangeDisabled, ChangeEnabled, ChangeDeleted}
	if len(changes) != len(want) {
		t.Fatalf("got %d changes, want %d: %+v", len(changes), len(want), changes)
	}
	for i, ct := range want {
		if changes[i].Type != ct {
			t.Errorf("change %d: got %s, want %s", i, changes[i].Type, ct)
		}
		if changes[i].RuleID != "a" {
			t.Errorf("change %d: rule id %q", i, changes[i].RuleID)
		}
	}
}

func TestListReturnsCopies(t *testing.T) {
	reg := New()
	reg.Create(testRule("a"))

	rules := reg.List()
	if len(rules) != 1 {
		t.Fatalf("got %d rules", len(rules))
	}
	rules[0].ThresholdCount = 1000

	rule, _ := reg.Get("a")
	if rule.ThresholdCount != 5 {
		t.Error("List leaked mutable registry state")
	}
}
