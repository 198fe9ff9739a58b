package playbook

import (
	"context"
	"sync"
	"time"

	"github.com/c360/autoflow/errors"
	"github.com/c360/autoflow/trigger"
)

// Store persists playbook triggers. Claim is the single gate onto the
// cooldown window: it must atomically verify the window is closed and
// advance LastTriggeredAt/TriggerCount, so that of N concurrent claimants
// exactly one succeeds.
type Store interface {
	List(ctx context.Context) ([]*trigger.PlaybookTrigger, error)
	Get(ctx context.Context, id string) (*trigger.PlaybookTrigger, error)
	Put(ctx context.Context, t *trigger.PlaybookTrigger) error
	Delete(ctx context.Context, id string) error

	// Claim atomically marks the trigger as fired at the given instant.
	// Returns ErrCooldownActive when the window is still open and
	// ErrTriggerDisabled when the trigger is disabled.
	Claim(ctx context.Context, id string, now time.Time) (*trigger.PlaybookTrigger, error)

	// Release undoes a claim after a failed invocation, restoring the
	// previous LastTriggeredAt and decrementing TriggerCount.
	Release(ctx context.Context, id string, previousFired *time.Time) error
}

// MemoryStore is an in-process Store for tests and single-node deployments.
type MemoryStore struct {
	mu       sync.Mutex
	triggers map[string]*trigger.PlaybookTrigger
}

// NewMemoryStore creates an empty in-memory trigger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{triggers: make(map[string]*trigger.PlaybookTrigger)}
}

// List returns copies of all stored triggers.
func (s *MemoryStore) List(_ context.Context) ([]*trigger.PlaybookTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*trigger.PlaybookTrigger, 0, len(s.triggers))
	for _, t := range s.triggers {
		copied := *t
		out = append(out, &copied)
	}
	return out, nil
}

// Get returns a copy of one trigger.
func (s *MemoryStore) Get(_ context.Context, id string) (*trigger.PlaybookTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.triggers[id]
	if !ok {
		return nil, errors.ErrTriggerNotFound
	}
	copied := *t
	return &copied, nil
}

// Put stores a trigger, replacing any existing one with the same ID.
func (s *MemoryStore) Put(_ context.Context, t *trigger.PlaybookTrigger) error {
	if t == nil || t.ID == "" {
		return errors.ErrInvalidConfig
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *t
	s.triggers[t.ID] = &copied
	return nil
}

// Delete removes a trigger.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.triggers[id]; !ok {
		return errors.ErrTriggerNotFound
	}
	delete(s.triggers, id)
	return nil
}

// Claim implements the atomic cooldown gate under the store mutex.
func (s *MemoryStore) Claim(_ context.Context, id string, now time.Time) (*trigger.PlaybookTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.triggers[id]
	if !ok {
		return nil, errors.ErrTriggerNotFound
	}
	if !t.IsEnabled {
		return nil, errors.ErrTriggerDisabled
	}
	if t.InCooldown(now) {
		return nil, errors.ErrCooldownActive
	}

	fired := now
	t.LastTriggeredAt = &fired
	t.TriggerCount++

	copied := *t
	return &copied, nil
}

// Release restores the pre-claim fire record after a failed invocation.
func (s *MemoryStore) Release(_ context.Context, id string, previousFired *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.triggers[id]
	if !ok {
		return errors.ErrTriggerNotFound
	}

	t.LastTriggeredAt = previousFired
	if t.TriggerCount > 0 {
		t.TriggerCount--
	}
	return nil
}
