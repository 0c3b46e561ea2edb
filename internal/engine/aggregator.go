package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"sentinel/internal/logger"
	"sentinel/internal/metrics"
	"sentinel/internal/models"
	"sentinel/internal/registry"
)

// ErrUnknownRule is returned by EvaluateRule for rules the aggregator
// holds no state for.
var ErrUnknownRule = errors.New("no window state for rule")

// EmitFunc receives firings decided by the arbiter. It must not block:
// dispatch runs off the ingest path.
type EmitFunc func(*models.AlertFiring)

// Config tunes the aggregator.
type Config struct {
	// Buckets is the number of sub-buckets per rule window.
	Buckets int
	// SweepInterval overrides the derived sweep cadence when positive.
	SweepInterval time.Duration
	// Now injects a clock for deterministic tests.
	Now func() time.Time
}

// ruleState is the unit of mutual exclusion: one lock per rule id, so
// unrelated rules never block each other and the increment-then-check
// sequence for one rule is atomic.
type ruleState struct {
	mu      sync.Mutex
	rule    *models.AlertRule
	win     *window
	pending *models.AlertRule // updated rule, applied at next bucket rotation
}

// Aggregator converts the event stream into trigger candidates per
// rule, maintaining a bucketed sliding count for every enabled rule.
type Aggregator struct {
	reg     *registry.Registry
	arbiter *Arbiter
	emit    EmitFunc
	buckets int
	sweep   time.Duration
	now     func() time.Time

	mu     sync.RWMutex // guards the states map only, never held across rule work
	states map[string]*ruleState
}

// NewAggregator creates an aggregator evaluating against reg and
// emitting firings through emit. It registers itself for registry
// change notifications so deleted or disabled rules drop their state.
func NewAggregator(reg *registry.Registry, arbiter *Arbiter, cfg Config, emit EmitFunc) *Aggregator {
	if cfg.Buckets < 10 {
		cfg.Buckets = 12
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	a := &Aggregator{
		reg:     reg,
		arbiter: arbiter,
		emit:    emit,
		buckets: cfg.Buckets,
		sweep:   cfg.SweepInterval,
		now:     cfg.Now,
		states:  make(map[string]*ruleState),
	}
	reg.Subscribe(a.onRuleChange)
	return a
}

// Ingest counts the event for every enabled rule it matches and runs
// edge detection. O(1) amortized per rule: bucket rotation is lazy.
// Safe for concurrent use; distinct rules never contend.
func (a *Aggregator) Ingest(event *models.LogEvent) {
	snap := a.reg.Snapshot()
	now := a.now()

	for _, rule := range snap.Rules() {
		if !rule.Enabled || !rule.Matches(event) {
			continue
		}
		a.ingestRule(rule, event, now)
	}
}

func (a *Aggregator) ingestRule(rule *models.AlertRule, event *models.LogEvent, now time.Time) {
	st := a.state(rule, now)

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.win.check(now); err != nil {
		a.resetLocked(st, now, err)
	}

	if rotated := st.win.rotate(now); rotated > 0 && st.pending != nil {
		a.applyPendingLocked(st, now)
	}

	before := st.win.total(now)
	st.win.add(now, event.ID)
	after := before + 1

	metrics.EngineEventsMatched.WithLabelValues(st.rule.ID).Inc()

	threshold := st.rule.ThresholdCount
	if before < threshold && after >= threshold {
		// Edge: the transition from below to at-or-above threshold.
		if fire, kind := a.arbiter.Offer(st.rule, after, now); fire {
			a.emitLocked(st, after, now, kind)
		} else {
			metrics.EngineSuppressedTotal.WithLabelValues(st.rule.ID).Inc()
		}
		return
	}

	// No edge; give the arbiter a chance to re-fire or settle after
	// cooldown expiry.
	if fire, kind := a.arbiter.Tick(st.rule, after, now); fire {
		a.emitLocked(st, after, now, kind)
	}
}

// EvaluateRule returns the current aggregate count for a rule and
// whether it meets the threshold.
func (a *Aggregator) EvaluateRule(ruleID string) (uint64, bool, error) {
	a.mu.RLock()
	st, ok := a.states[ruleID]
	a.mu.RUnlock()
	if !ok {
		return 0, false, ErrUnknownRule
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	count := st.win.total(a.now())
	return count, count >= st.rule.ThresholdCount, nil
}

// Run drives the periodic sweep until the context is cancelled. The
// sweep catches transitions caused purely by bucket expiry under zero
// traffic; for count thresholds it is a correctness safeguard that
// settles cooldown expiry and applies pending rule updates.
func (a *Aggregator) Run(ctx context.Context) {
	log := logger.WithComponent("aggregator")

	ticker := time.NewTicker(a.sweepInterval())
	defer ticker.Stop()

	log.Info().Dur("interval", a.sweepInterval()).Msg("sweep started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sweep stopped")
			return
		case <-ticker.C:
			a.Sweep()
			ticker.Reset(a.sweepInterval())
		}
	}
}

// Sweep runs one evaluation pass over all rule states.
func (a *Aggregator) Sweep() {
	start := time.Now()
	now := a.now()
	snap := a.reg.Snapshot()

	a.mu.RLock()
	states := make(map[string]*ruleState, len(a.states))
	for id, st := range a.states {
		states[id] = st
	}
	a.mu.RUnlock()

	for id, st := range states {
		if rule, ok := snap.Get(id); !ok || !rule.Enabled {
			// Stale state for a rule deleted or disabled since the
			// last change notification.
			a.dropState(id)
			continue
		}

		st.mu.Lock()
		if err := st.win.check(now); err != nil {
			a.resetLocked(st, now, err)
			st.mu.Unlock()
			continue
		}
		if rotated := st.win.rotate(now); rotated > 0 && st.pending != nil {
			a.applyPendingLocked(st, now)
		}
		count := st.win.total(now)
		if fire, kind := a.arbiter.Tick(st.rule, count, now); fire {
			a.emitLocked(st, count, now, kind)
		}
		st.mu.Unlock()
	}

	metrics.EngineSweepDuration.Observe(time.Since(start).Seconds())
}

// state returns the rule's window state, creating it on first match.
func (a *Aggregator) state(rule *models.AlertRule, now time.Time) *ruleState {
	a.mu.RLock()
	st, ok := a.states[rule.ID]
	a.mu.RUnlock()
	if ok {
		return st
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok = a.states[rule.ID]; ok {
		return st
	}
	st = &ruleState{
		rule: rule.Clone(),
		win:  newWindow(rule.WindowDuration, a.buckets, now),
	}
	a.states[rule.ID] = st
	return st
}

// onRuleChange reacts to registry mutations. Deleting or disabling a
// rule discards its window state; re-creating the same id later starts
// a fresh window. Updates take effect at the next bucket rotation so
// in-flight buckets keep their snapshot.
func (a *Aggregator) onRuleChange(change registry.Change) {
	switch change.Type {
	case registry.ChangeDeleted, registry.ChangeDisabled:
		a.dropState(change.RuleID)
	case registry.ChangeUpdated:
		a.mu.RLock()
		st, ok := a.states[change.RuleID]
		a.mu.RUnlock()
		if !ok {
			return
		}
		if rule, found := a.reg.Snapshot().Get(change.RuleID); found {
			st.mu.Lock()
			st.pending = rule.Clone()
			st.mu.Unlock()
		}
	}
}

func (a *Aggregator) dropState(ruleID string) {
	a.mu.Lock()
	_, existed := a.states[ruleID]
	delete(a.states, ruleID)
	a.mu.Unlock()

	a.arbiter.Drop(ruleID)
	if existed {
		lg := logger.WithComponent("aggregator")
		lg.Debug().
			Str("rule_id", ruleID).
			Msg("window state discarded")
	}
}

// applyPendingLocked installs an updated rule snapshot. If the window
// duration changed the old buckets no longer line up, so counting
// restarts; otherwise live counts carry over.
func (a *Aggregator) applyPendingLocked(st *ruleState, now time.Time) {
	updated := st.pending
	st.pending = nil
	if updated.WindowDuration != st.rule.WindowDuration {
		st.win = newWindow(updated.WindowDuration, a.buckets, now)
	}
	st.rule = updated
}

// resetLocked recovers from corrupted window state: the rule restarts
// with a fresh window and the incident is reported, never swallowed.
func (a *Aggregator) resetLocked(st *ruleState, now time.Time, err error) {
	lg := logger.WithComponent("aggregator")
	lg.Error().
		Err(err).
		Str("rule_id", st.rule.ID).
		Msg("window state reset")
	metrics.EngineWindowResets.WithLabelValues(st.rule.ID).Inc()
	st.win.resetAt(now)
}

func (a *Aggregator) emitLocked(st *ruleState, count uint64, now time.Time, kind FiringKind) {
	winStart, winEnd := st.win.bounds(now)
	firing := &models.AlertFiring{
		ID:           models.NewFiringID(),
		RuleID:       st.rule.ID,
		RuleName:     st.rule.Name,
		FiredAt:      now,
		WindowStart:  winStart,
		WindowEnd:    winEnd,
		Count:        count,
		Threshold:    st.rule.ThresholdCount,
		Channels:     append([]models.ChannelRef(nil), st.rule.Channels...),
		SampleEvents: st.win.sampleIDs(now),
	}

	metrics.EngineFiringsTotal.WithLabelValues(st.rule.ID, string(kind)).Inc()
	lg := logger.WithComponent("aggregator")
	lg.Info().
		Str("rule_id", st.rule.ID).
		Str("firing_id", firing.ID).
		Uint64("count", count).
		Str("kind", string(kind)).
		Msg("alert firing")

	a.emit(firing)
}

func (a *Aggregator) sweepInterval() time.Duration {
	if a.sweep > 0 {
		return a.sweep
	}

	// Interval at most the smallest configured window divided by the
	// bucket count, clamped to a sane range.
	interval := 10 * time.Second
	for _, rule := range a.reg.Snapshot().Rules() {
		if !rule.Enabled {
			continue
		}
		if d := rule.WindowDuration / time.Duration(a.buckets); d < interval {
			interval = d
		}
	}
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return interval
}
