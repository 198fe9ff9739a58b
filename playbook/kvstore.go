package playbook

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/c360/autoflow/errors"
	"github.com/c360/autoflow/natsclient"
	"github.com/c360/autoflow/trigger"
)

// KV is the revision-aware key-value surface the KVStore needs. It is
// satisfied by natsclient.KVStore; UpdateWithRetry must re-read on a stale
// revision and surface natsclient.ErrMaxRetriesExceeded when contention
// never resolves.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, revision uint64, err error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	UpdateWithRetry(ctx context.Context, key string, updateFn func(current []byte) ([]byte, error)) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// KVStore persists triggers in a NATS KV bucket, one key per trigger ID.
// Claim uses revision-checked updates so that concurrent dispatchers racing
// on the same trigger resolve to exactly one winner.
type KVStore struct {
	kv     KV
	logger *slog.Logger
}

// NewKVStore creates a KV-backed trigger store.
func NewKVStore(kv KV, logger *slog.Logger) *KVStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &KVStore{
		kv:     kv,
		logger: logger.With("component", "trigger-store"),
	}
}

// List loads every stored trigger, skipping entries that fail to decode.
func (s *KVStore) List(ctx context.Context) ([]*trigger.PlaybookTrigger, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, natsclient.ErrKeyNotFound) {
			return nil, nil // empty bucket
		}
		return nil, errors.WrapTransient(err, "KVStore", "List", "list trigger keys")
	}

	out := make([]*trigger.PlaybookTrigger, 0, len(keys))
	for _, key := range keys {
		value, _, err := s.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, natsclient.ErrKeyNotFound) {
				continue // deleted between Keys and Get
			}
			return nil, errors.WrapTransient(err, "KVStore", "List", "load trigger "+key)
		}

		var t trigger.PlaybookTrigger
		if err := json.Unmarshal(value, &t); err != nil {
			s.logger.Warn("Skipping undecodable trigger", "key", key, "error", err)
			continue
		}
		out = append(out, &t)
	}
	return out, nil
}

// Get loads one trigger by ID.
func (s *KVStore) Get(ctx context.Context, id string) (*trigger.PlaybookTrigger, error) {
	value, _, err := s.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, natsclient.ErrKeyNotFound) {
			return nil, errors.ErrTriggerNotFound
		}
		return nil, errors.WrapTransient(err, "KVStore", "Get", "load trigger "+id)
	}

	var t trigger.PlaybookTrigger
	if err := json.Unmarshal(value, &t); err != nil {
		return nil, errors.WrapInvalid(err, "KVStore", "Get", "decode trigger "+id)
	}
	return &t, nil
}

// Put stores a trigger without a revision check (last writer wins); trigger
// definitions are edited by one administrative writer, unlike fire records.
func (s *KVStore) Put(ctx context.Context, t *trigger.PlaybookTrigger) error {
	if t == nil || t.ID == "" {
		return errors.ErrInvalidConfig
	}
	value, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "KVStore", "Put", "encode trigger")
	}
	if _, err := s.kv.Put(ctx, t.ID, value); err != nil {
		return errors.WrapTransient(err, "KVStore", "Put", "store trigger "+t.ID)
	}
	return nil
}

// Delete removes a trigger.
func (s *KVStore) Delete(ctx context.Context, id string) error {
	if err := s.kv.Delete(ctx, id); err != nil {
		if errors.Is(err, natsclient.ErrKeyNotFound) {
			return errors.ErrTriggerNotFound
		}
		return errors.WrapTransient(err, "KVStore", "Delete", "delete trigger "+id)
	}
	return nil
}

// Claim marks the trigger fired via a revision-checked update. Losing a
// revision race re-reads the entry inside the KV retry loop; if the winner
// opened the cooldown window the claim resolves to ErrCooldownActive.
func (s *KVStore) Claim(ctx context.Context, id string, now time.Time) (*trigger.PlaybookTrigger, error) {
	var claimed *trigger.PlaybookTrigger

	err := s.kv.UpdateWithRetry(ctx, id, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, errors.ErrTriggerNotFound
		}

		var t trigger.PlaybookTrigger
		if err := json.Unmarshal(current, &t); err != nil {
			return nil, errors.WrapInvalid(err, "KVStore", "Claim", "decode trigger "+id)
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

		value, err := json.Marshal(&t)
		if err != nil {
			return nil, errors.Wrap(err, "KVStore", "Claim", "encode trigger "+id)
		}
		claimed = &t
		return value, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, natsclient.ErrMaxRetriesExceeded):
			s.logger.Debug("Claim contention never resolved", "trigger_id", id)
			return nil, errors.ErrCooldownConflict
		case errors.Is(err, errors.ErrTriggerNotFound):
			return nil, errors.ErrTriggerNotFound
		case errors.Is(err, errors.ErrTriggerDisabled):
			return nil, errors.ErrTriggerDisabled
		case errors.Is(err, errors.ErrCooldownActive):
			return nil, errors.ErrCooldownActive
		default:
			return nil, errors.WrapTransient(err, "KVStore", "Claim", "claim trigger "+id)
		}
	}
	return claimed, nil
}

// Release restores the pre-claim fire record after a failed invocation.
// Best effort: a conflicting concurrent edit wins over the rollback.
func (s *KVStore) Release(ctx context.Context, id string, previousFired *time.Time) error {
	err := s.kv.UpdateWithRetry(ctx, id, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, errors.ErrTriggerNotFound
		}

		var t trigger.PlaybookTrigger
		if err := json.Unmarshal(current, &t); err != nil {
			return nil, errors.WrapInvalid(err, "KVStore", "Release", "decode trigger "+id)
		}

		t.LastTriggeredAt = previousFired
		if t.TriggerCount > 0 {
			t.TriggerCount--
		}
		return json.Marshal(&t)
	})
	if err != nil {
		if errors.Is(err, errors.ErrTriggerNotFound) {
			return errors.ErrTriggerNotFound
		}
		return errors.WrapTransient(err, "KVStore", "Release", "release trigger "+id)
	}
	return nil
}
