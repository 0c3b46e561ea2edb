package engine

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"sentinel/internal/models"
	"sentinel/internal/registry"
)

// fakeClock is a controllable clock for deterministic window tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// collector gathers emitted firings.
type collector struct {
	mu      sync.Mutex
	firings []*models.AlertFiring
}

func (c *collector) emit(f *models.AlertFiring) {
	c.mu.Lock()
	c.firings = append(c.firings, f)
	c.mu.Unlock()
}

func (c *collector) all() []*models.AlertFiring {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.AlertFiring, len(c.firings))
	copy(out, c.firings)
	return out
}

func engineRule(threshold uint64, window, cooldown time.Duration) *models.AlertRule {
	return &models.AlertRule{
		ID:             "rule-1",
		Name:           "error burst",
		LevelFilter:    models.LevelError,
		ThresholdCount: threshold,
		WindowDuration: window,
		Cooldown:       cooldown,
		Channels:       []models.ChannelRef{"ops"},
		Enabled:        true,
	}
}

func newTestEngine(t *testing.T, rule *models.AlertRule) (*Aggregator, *registry.Registry, *fakeClock, *collector) {
	t.Helper()

	reg := registry.New()
	if err := reg.Create(rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	clock := newFakeClock()
	col := &collector{}
	agg := NewAggregator(reg, NewArbiter(), Config{
		Buckets: 12,
		Now:     clock.Now,
	}, col.emit)

	return agg, reg, clock, col
}

func errorEvent(id string) *models.LogEvent {
	return &models.LogEvent{
		ID:        id,
		Timestamp: time.Now(),
		Level:     models.LevelError,
		Source:    "api",
		Message:   "boom",
	}
}

func TestEdgeFiresExactlyOnce(t *testing.T) {
	agg, _, _, col := newTestEngine(t, engineRule(3, time.Minute, 10*time.Minute))

	// Keep injecting past the threshold: a rule fires on the crossing,
	// not on every event above it.
	for i := 0; i < 5; i++ {
		agg.Ingest(errorEvent(fmt.Sprintf("e%d", i)))
	}

	firings := col.all()
	if len(firings) != 1 {
		t.Fatalf("got %d firings, want exactly 1", len(firings))
	}
	if firings[0].Count != 3 {
		t.Errorf("firing count: got %d, want 3", firings[0].Count)
	}
	if firings[0].RuleID != "rule-1" {
		t.Errorf("firing rule: got %q", firings[0].RuleID)
	}
	if len(firings[0].SampleEvents) == 0 {
		t.Error("expected sample events on the firing")
	}
}

func TestLevelFilterIgnoresNonMatching(t *testing.T) {
	agg, _, _, col := newTestEngine(t, engineRule(2, time.Minute, time.Minute))

	for i := 0; i < 5; i++ {
		agg.Ingest(&models.LogEvent{
			ID: fmt.Sprintf("i%d", i), Timestamp: time.Now(),
			Level: models.LevelInfo, Source: "api", Message: "fine",
		})
	}

	if got := len(col.all()); got != 0 {
		t.Fatalf("INFO events fired an ERROR rule: %d firings", got)
	}
	if _, _, err := agg.EvaluateRule("rule-1"); !errors.Is(err, ErrUnknownRule) {
		t.Errorf("expected no state for unmatched rule, got %v", err)
	}
}

func TestEvaluateRule(t *testing.T) {
	agg, _, _, _ := newTestEngine(t, engineRule(3, time.Minute, time.Minute))

	agg.Ingest(errorEvent("e1"))
	agg.Ingest(errorEvent("e2"))

	count, breached, err := agg.EvaluateRule("rule-1")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if count != 2 || breached {
		t.Errorf("got count=%d breached=%v, want 2/false", count, breached)
	}

	agg.Ingest(errorEvent("e3"))
	count, breached, err = agg.EvaluateRule("rule-1")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if count != 3 || !breached {
		t.Errorf("got count=%d breached=%v, want 3/true", count, breached)
	}
}

func TestConcurrentCrossingSingleFiring(t *testing.T) {
	agg, _, _, col := newTestEngine(t, engineRule(100, time.Minute, time.Hour))

	// Parallel writers together cross the threshold. The per-rule lock
	// linearizes increment-then-check, so exactly one writer observes
	// the crossing.
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 30; i++ {
				agg.Ingest(errorEvent(fmt.Sprintf("g%d-e%d", g, i)))
			}
		}(g)
	}
	wg.Wait()

	if got := len(col.all()); got != 1 {
		t.Fatalf("concurrent crossing produced %d firings, want exactly 1", got)
	}
}

func TestCooldownSuppressesAndRefires(t *testing.T) {
	// 10 ERROR events in 5m, cooldown 10m.
	agg, _, clock, col := newTestEngine(t, engineRule(10, 5*time.Minute, 10*time.Minute))

	for i := 0; i < 10; i++ {
		agg.Ingest(errorEvent(fmt.Sprintf("burst-%d", i)))
	}

	firings := col.all()
	if len(firings) != 1 {
		t.Fatalf("burst: got %d firings, want 1", len(firings))
	}
	if firings[0].Count != 10 {
		t.Errorf("burst firing count: got %d, want 10", firings[0].Count)
	}

	// An 11th event before cooldown expiry produces nothing new.
	agg.Ingest(errorEvent("extra"))
	if got := len(col.all()); got != 1 {
		t.Fatalf("extra event during cooldown: got %d firings, want 1", got)
	}

	// Sustained incident: steady traffic keeps the window at or above
	// threshold through cooldown expiry.
	for i := 0; i < 22; i++ {
		clock.Advance(30 * time.Second)
		agg.Ingest(errorEvent(fmt.Sprintf("steady-%d", i)))
	}

	firings = col.all()
	if len(firings) != 2 {
		t.Fatalf("sustained incident: got %d firings, want 2", len(firings))
	}
}

func TestSweepRefiresWithoutTraffic(t *testing.T) {
	agg, _, clock, col := newTestEngine(t, engineRule(3, 5*time.Minute, 30*time.Second))

	for i := 0; i < 3; i++ {
		agg.Ingest(errorEvent(fmt.Sprintf("e%d", i)))
	}
	if got := len(col.all()); got != 1 {
		t.Fatalf("got %d firings, want 1", got)
	}

	// No new traffic; cooldown expires while the window still holds
	// the original events. The sweep must settle the state machine.
	clock.Advance(31 * time.Second)
	agg.Sweep()

	if got := len(col.all()); got != 2 {
		t.Fatalf("after sweep: got %d firings, want 2", got)
	}
}

func TestSweepSettlesToIdleAfterExpiry(t *testing.T) {
	agg, _, clock, col := newTestEngine(t, engineRule(3, time.Minute, 30*time.Second))

	for i := 0; i < 3; i++ {
		agg.Ingest(errorEvent(fmt.Sprintf("e%d", i)))
	}

	// Events expire before cooldown ends; the sweep returns the rule
	// to idle instead of refiring.
	clock.Advance(2 * time.Minute)
	agg.Sweep()

	if got := len(col.all()); got != 1 {
		t.Fatalf("after expiry sweep: got %d firings, want 1", got)
	}

	// A new burst fires as a fresh edge.
	for i := 0; i < 3; i++ {
		agg.Ingest(errorEvent(fmt.Sprintf("n%d", i)))
	}
	if got := len(col.all()); got != 2 {
		t.Fatalf("new burst: got %d firings, want 2", got)
	}
}

func TestDisableDiscardsState(t *testing.T) {
	agg, reg, _, col := newTestEngine(t, engineRule(3, time.Minute, time.Minute))

	agg.Ingest(errorEvent("e1"))
	agg.Ingest(errorEvent("e2"))

	if err := reg.SetEnabled("rule-1", false); err != nil {
		t.Fatal(err)
	}
	if _, _, err := agg.EvaluateRule("rule-1"); !errors.Is(err, ErrUnknownRule) {
		t.Fatalf("state not discarded on disable: %v", err)
	}

	// Re-enabling starts counting from zero.
	if err := reg.SetEnabled("rule-1", true); err != nil {
		t.Fatal(err)
	}
	agg.Ingest(errorEvent("e3"))
	agg.Ingest(errorEvent("e4"))

	count, breached, err := agg.EvaluateRule("rule-1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 || breached {
		t.Errorf("after re-enable: count=%d breached=%v, want 2/false", count, breached)
	}
	if got := len(col.all()); got != 0 {
		t.Errorf("unexpected firings: %d", got)
	}
}

func TestDeleteThenRecreateStartsFresh(t *testing.T) {
	rule := engineRule(3, time.Minute, time.Minute)
	agg, reg, _, col := newTestEngine(t, rule)

	agg.Ingest(errorEvent("e1"))
	agg.Ingest(errorEvent("e2"))

	if err := reg.Delete("rule-1"); err != nil {
		t.Fatal(err)
	}
	if err := reg.Create(rule.Clone()); err != nil {
		t.Fatal(err)
	}

	// No state resurrection: the recreated rule needs a full burst.
	agg.Ingest(errorEvent("e3"))
	if got := len(col.all()); got != 0 {
		t.Fatalf("resurrected state fired: %d firings", got)
	}

	agg.Ingest(errorEvent("e4"))
	agg.Ingest(errorEvent("e5"))
	if got := len(col.all()); got != 1 {
		t.Fatalf("fresh burst: got %d firings, want 1", got)
	}
}

func TestRuleUpdateAppliesAtNextRotation(t *testing.T) {
	agg, reg, clock, _ := newTestEngine(t, engineRule(10, time.Minute, time.Minute))

	for i := 0; i < 4; i++ {
		agg.Ingest(errorEvent(fmt.Sprintf("e%d", i)))
	}

	updated := engineRule(3, time.Minute, time.Minute)
	if err := reg.Update(updated); err != nil {
		t.Fatal(err)
	}

	// The in-flight bucket keeps its snapshot.
	_, breached, err := agg.EvaluateRule("rule-1")
	if err != nil {
		t.Fatal(err)
	}
	if breached {
		t.Error("update visible before bucket rotation")
	}

	// After a bucket boundary the new threshold applies.
	clock.Advance(6 * time.Second) // bucket width is 5s at 12 buckets
	agg.Sweep()

	count, breached, err := agg.EvaluateRule("rule-1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 4 || !breached {
		t.Errorf("after rotation: count=%d breached=%v, want 4/true", count, breached)
	}
}

func TestReorderWithinBucketWidth(t *testing.T) {
	agg, _, clock, _ := newTestEngine(t, engineRule(100, time.Minute, time.Minute))

	// Events whose own timestamps are shuffled still count the same:
	// bucket placement uses arrival time, and arrival-time jitter
	// within one bucket width lands in the same live window.
	base := time.Now()
	stamps := []time.Duration{3 * time.Second, 0, 2 * time.Second, time.Second}
	for i, off := range stamps {
		agg.Ingest(&models.LogEvent{
			ID: fmt.Sprintf("o%d", i), Timestamp: base.Add(off),
			Level: models.LevelError, Source: "api", Message: "x",
		})
		clock.Advance(time.Second)
	}

	count, _, err := agg.EvaluateRule("rule-1")
	if err != nil {
		t.Fatal(err)
	}
	if count != uint64(len(stamps)) {
		t.Errorf("reordered arrivals: count=%d, want %d", count, len(stamps))
	}
}
