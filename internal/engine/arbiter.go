package engine

import (
	"sync"
	"time"

	"sentinel/internal/models"
)

// FiringKind distinguishes a fresh threshold crossing from a re-fire
// after cooldown expiry during a sustained incident.
type FiringKind string

const (
	FiringEdge   FiringKind = "edge"
	FiringRefire FiringKind = "refire"
)

// phase is the arbiter's per-rule state. FIRING is instantaneous (a
// firing is emitted exactly once and the rule immediately enters
// cooldown), so only the resting states are stored.
type phase int

const (
	phaseIdle phase = iota
	phaseCooldown
)

type ruleFSM struct {
	phase         phase
	cooldownUntil time.Time
	suppressed    uint64
}

// Arbiter rate-limits firings per rule with a cooldown and deduplicates
// concurrent edge detections. All transitions for one rule happen under
// the aggregator's per-rule lock, so the increment-then-check sequence
// is atomic and two racing ingests can never both fire.
type Arbiter struct {
	mu    sync.Mutex
	rules map[string]*ruleFSM
}

// NewArbiter creates an arbiter with no per-rule state.
func NewArbiter() *Arbiter {
	return &Arbiter{rules: make(map[string]*ruleFSM)}
}

// Offer presents an edge detection (count crossed threshold from below).
// Returns whether to emit a firing and its kind.
func (a *Arbiter) Offer(rule *models.AlertRule, count uint64, now time.Time) (bool, FiringKind) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fsm := a.fsmLocked(rule.ID)
	switch fsm.phase {
	case phaseIdle:
		a.enterCooldownLocked(fsm, rule, now)
		return true, FiringEdge

	case phaseCooldown:
		if now.Before(fsm.cooldownUntil) {
			fsm.suppressed++
			return false, ""
		}
		// Cooldown expired and the condition holds again.
		a.enterCooldownLocked(fsm, rule, now)
		return true, FiringRefire
	}
	return false, ""
}

// Tick evaluates time-based transitions for a rule: when cooldown
// expires it either re-fires (count still at or above threshold) or
// returns the rule to idle. Called from the aggregator's ingest path
// and the periodic sweep, always under the rule's lock.
func (a *Arbiter) Tick(rule *models.AlertRule, count uint64, now time.Time) (bool, FiringKind) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fsm, ok := a.rules[rule.ID]
	if !ok || fsm.phase != phaseCooldown || now.Before(fsm.cooldownUntil) {
		return false, ""
	}

	if count >= rule.ThresholdCount {
		a.enterCooldownLocked(fsm, rule, now)
		return true, FiringRefire
	}

	fsm.phase = phaseIdle
	fsm.cooldownUntil = time.Time{}
	return false, ""
}

// Suppressed returns how many edges were swallowed by cooldown for a rule.
func (a *Arbiter) Suppressed(ruleID string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if fsm, ok := a.rules[ruleID]; ok {
		return fsm.suppressed
	}
	return 0
}

// Drop discards the state machine for a rule (delete/disable).
func (a *Arbiter) Drop(ruleID string) {
	a.mu.Lock()
	delete(a.rules, ruleID)
	a.mu.Unlock()
}

func (a *Arbiter) fsmLocked(ruleID string) *ruleFSM {
	fsm, ok := a.rules[ruleID]
	if !ok {
		fsm = &ruleFSM{}
		a.rules[ruleID] = fsm
	}
	return fsm
}

func (a *Arbiter) enterCooldownLocked(fsm *ruleFSM, rule *models.AlertRule, now time.Time) {
	if rule.Cooldown <= 0 {
		// No cooldown configured: every edge fires, but edges only
		// occur on crossings so saturation still cannot spam.
		fsm.phase = phaseIdle
		fsm.cooldownUntil = time.Time{}
		return
	}
	fsm.phase = phaseCooldown
	fsm.cooldownUntil = now.Add(rule.Cooldown)
}
