package registry

import (
	"errors"
	"sync"
	"sync/atomic"

	"sentinel/internal/logger"
	"sentinel/internal/models"
)

// Registry errors
var (
	ErrRuleExists   = errors.New("rule already exists")
	ErrRuleNotFound = errors.New("rule not found")
)

// ChangeType classifies a rule mutation.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeUpdated  ChangeType = "updated"
	ChangeDeleted  ChangeType = "deleted"
	ChangeEnabled  ChangeType = "enabled"
	ChangeDisabled ChangeType = "disabled"
)

// Change describes a single rule mutation, delivered to subscribers
// after the new snapshot has been published.
type Change struct {
	Type    ChangeType
	RuleID  string
	Version uint64
}

// Snapshot is an immutable view of the rule set. The aggregator always
// evaluates against the snapshot current at ingest time, so in-flight
// evaluation is never disrupted by concurrent edits.
type Snapshot struct {
	version uint64
	rules   map[string]*models.AlertRule
}

// Version returns the snapshot's monotonically increasing version.
func (s *Snapshot) Version() uint64 { return s.version }

// Get returns the rule with the given id, if present.
func (s *Snapshot) Get(id string) (*models.AlertRule, bool) {
	r, ok := s.rules[id]
	return r, ok
}

// Rules returns all rules in the snapshot.
func (s *Snapshot) Rules() []*models.AlertRule {
	out := make([]*models.AlertRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out
}

// Registry holds the current rule set. Mutations publish a fresh
// immutable snapshot via atomic pointer swap; readers never block.
type Registry struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[Snapshot]
	version uint64
	subs    []func(Change)
	subsMu  sync.RWMutex
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{}
	r.current.Store(&Snapshot{rules: map[string]*models.AlertRule{}})
	return r
}

// Snapshot returns the current immutable rule snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Subscribe registers a callback invoked after every mutation.
// Callbacks run on the mutating goroutine and must not block.
func (r *Registry) Subscribe(fn func(Change)) {
	r.subsMu.Lock()
	r.subs = append(r.subs, fn)
	r.subsMu.Unlock()
}

// Create adds a new rule. Re-creating a previously deleted id starts
// fresh; subscribers are responsible for discarding any stale state.
func (r *Registry) Create(rule *models.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	snap := r.current.Load()
	if _, ok := snap.rules[rule.ID]; ok {
		r.mu.Unlock()
		return ErrRuleExists
	}
	version := r.publishLocked(snap, rule.Clone(), "")
	r.mu.Unlock()

	r.notify(Change{Type: ChangeCreated, RuleID: rule.ID, Version: version})
	lg := logger.WithComponent("registry")
	lg.Info().
		Str("rule_id", rule.ID).
		Uint64("version", version).
		Msg("rule created")
	return nil
}

// Update replaces an existing rule atomically.
func (r *Registry) Update(rule *models.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	snap := r.current.Load()
	if _, ok := snap.rules[rule.ID]; !ok {
		r.mu.Unlock()
		return ErrRuleNotFound
	}
	version := r.publishLocked(snap, rule.Clone(), "")
	r.mu.Unlock()

	r.notify(Change{Type: ChangeUpdated, RuleID: rule.ID, Version: version})
	lg := logger.WithComponent("registry")
	lg.Info().
		Str("rule_id", rule.ID).
		Uint64("version", version).
		Msg("rule updated")
	return nil
}

// Delete removes a rule. Window state for the rule is discarded by
// the aggregator on notification.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	snap := r.current.Load()
	if _, ok := snap.rules[id]; !ok {
		r.mu.Unlock()
		return ErrRuleNotFound
	}
	version := r.publishLocked(snap, nil, id)
	r.mu.Unlock()

	r.notify(Change{Type: ChangeDeleted, RuleID: id, Version: version})
	lg := logger.WithComponent("registry")
	lg.Info().
		Str("rule_id", id).
		Uint64("version", version).
		Msg("rule deleted")
	return nil
}

// SetEnabled flips a rule's enabled flag.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	snap := r.current.Load()
	existing, ok := snap.rules[id]
	if !ok {
		r.mu.Unlock()
		return ErrRuleNotFound
	}
	if existing.Enabled == enabled {
		r.mu.Unlock()
		return nil
	}
	updated := existing.Clone()
	updated.Enabled = enabled
	version := r.publishLocked(snap, updated, "")
	r.mu.Unlock()

	change := Change{Type: ChangeDisabled, RuleID: id, Version: version}
	if enabled {
		change.Type = ChangeEnabled
	}
	r.notify(change)
	lg := logger.WithComponent("registry")
	lg.Info().
		Str("rule_id", id).
		Bool("enabled", enabled).
		Msg("rule toggled")
	return nil
}

// Get returns a copy of the rule with the given id.
func (r *Registry) Get(id string) (*models.AlertRule, error) {
	rule, ok := r.Snapshot().Get(id)
	if !ok {
		return nil, ErrRuleNotFound
	}
	return rule.Clone(), nil
}

// List returns copies of all rules in the current snapshot.
func (r *Registry) List() []*models.AlertRule {
	snap := r.Snapshot()
	out := make([]*models.AlertRule, 0, len(snap.rules))
	for _, rule := range snap.rules {
		out = append(out, rule.Clone())
	}
	return out
}

// publishLocked builds and stores the next snapshot. Either upsert is
// non-nil (create/update) or deleteID is set. Caller holds r.mu.
func (r *Registry) publishLocked(prev *Snapshot, upsert *models.AlertRule, deleteID string) uint64 {
	next := make(map[string]*models.AlertRule, len(prev.rules)+1)
	for id, rule := range prev.rules {
		if id == deleteID {
			continue
		}
		next[id] = rule
	}
	if upsert != nil {
		next[upsert.ID] = upsert
	}

	r.version++
	r.current.Store(&Snapshot{version: r.version, rules: next})
	return r.version
}

func (r *Registry) notify(change Change) {
	r.subsMu.RLock()
	subs := r.subs
	r.subsMu.RUnlock()
	for _, fn := range subs {
		fn(change)
	}
}
