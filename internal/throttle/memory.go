package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/models"
)

// MemoryStore keeps throttle state in process. Each rule has its own lock,
// so checks for different rules never contend.
type MemoryStore struct {
	mu    sync.Mutex
	rules map[string]*ruleWindow
}

type ruleWindow struct {
	mu    sync.Mutex
	sends []time.Time
	last  time.Time
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[string]*ruleWindow)}
}

// window returns the state for a rule, creating it on first use
func (s *MemoryStore) window(ruleID string) *ruleWindow {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.rules[ruleID]
	if !ok {
		w = &ruleWindow{}
		s.rules[ruleID] = w
	}
	return w
}

// CheckAndReserve prunes the rule's windows, applies limits and records now on success
func (s *MemoryStore) CheckAndReserve(ctx context.Context, ruleID string, limits Limits, now time.Time) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	w := s.window(ruleID)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.sends = prune(w.sends, now.Add(-dayWindow))

	d := evaluate(w.sends, w.last, limits, now)
	if !d.Allowed {
		return d, nil
	}

	w.sends = append(w.sends, now)
	w.last = now
	return d, nil
}

// State returns a copy of the rule's pruned windows
func (s *MemoryStore) State(ctx context.Context, ruleID string, now time.Time) (models.ThrottleState, error) {
	w := s.window(ruleID)
	w.mu.Lock()
	defer w.mu.Unlock()

	sends := make([]time.Time, len(w.sends))
	copy(sends, w.sends)
	return stateFrom(ruleID, sends, w.last, now), nil
}
