package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/autoflow/errors"
	"github.com/c360/autoflow/metric"
	"github.com/c360/autoflow/natsclient"
	"github.com/c360/autoflow/pkg/cache"
	"github.com/c360/autoflow/rule"
)

// ruleCacheKey caches the full rule set under one key; rule sets are small
// and evaluated together, so per-rule caching buys nothing.
const ruleCacheKey = "all-rules"

// KV is the revision-aware key-value surface the rule store needs,
// satisfied by natsclient.KVStore.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, revision uint64, err error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	UpdateWithRetry(ctx context.Context, key string, updateFn func(current []byte) ([]byte, error)) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Watcher is implemented by KV backends that can stream key changes.
type Watcher interface {
	Watch(ctx context.Context, pattern string) (jetstream.KeyWatcher, error)
}

// RuleStore loads automation rules from a KV bucket through a TTL cache.
// Cache hits and misses feed the aggregator so health reporting can flag a
// cold cache.
type RuleStore struct {
	kv         KV
	cache      cache.Cache[[]*rule.AutomationRule]
	aggregator *metric.Aggregator
	logger     *slog.Logger
}

// NewRuleStore creates a rule store. A nil cache disables caching.
func NewRuleStore(kv KV, c cache.Cache[[]*rule.AutomationRule], aggregator *metric.Aggregator, logger *slog.Logger) *RuleStore {
	if c == nil {
		c = cache.NewNoop[[]*rule.AutomationRule]()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleStore{
		kv:         kv,
		cache:      c,
		aggregator: aggregator,
		logger:     logger.With("component", "rule-store"),
	}
}

// List returns all stored rules, served from cache when fresh.
func (s *RuleStore) List(ctx context.Context) ([]*rule.AutomationRule, error) {
	if cached, ok := s.cache.Get(ruleCacheKey); ok {
		if s.aggregator != nil {
			s.aggregator.RecordCacheHit()
		}
		return cached, nil
	}
	if s.aggregator != nil {
		s.aggregator.RecordCacheMiss()
	}

	rules, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	s.cache.Set(ruleCacheKey, rules)
	return rules, nil
}

func (s *RuleStore) loadAll(ctx context.Context) ([]*rule.AutomationRule, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "RuleStore", "loadAll", "list rule keys")
	}

	rules := make([]*rule.AutomationRule, 0, len(keys))
	for _, key := range keys {
		value, _, err := s.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, natsclient.ErrKeyNotFound) {
				continue
			}
			return nil, errors.WrapTransient(err, "RuleStore", "loadAll", "load rule "+key)
		}

		if err := rule.ValidateDocument(value); err != nil {
			s.logger.Warn("Skipping structurally invalid rule", "key", key, "error", err)
			continue
		}

		var r rule.AutomationRule
		if err := json.Unmarshal(value, &r); err != nil {
			s.logger.Warn("Skipping undecodable rule", "key", key, "error", err)
			continue
		}
		rules = append(rules, &r)
	}
	return rules, nil
}

// Get loads one rule by ID, bypassing the cache.
func (s *RuleStore) Get(ctx context.Context, id string) (*rule.AutomationRule, error) {
	value, _, err := s.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, natsclient.ErrKeyNotFound) {
			return nil, errors.WrapInvalid(
				fmt.Errorf("rule %s not found", id),
				"RuleStore", "Get", "load rule")
		}
		return nil, errors.WrapTransient(err, "RuleStore", "Get", "load rule "+id)
	}

	var r rule.AutomationRule
	if err := json.Unmarshal(value, &r); err != nil {
		return nil, errors.WrapInvalid(err, "RuleStore", "Get", "decode rule "+id)
	}
	return &r, nil
}

// Put validates and stores a rule, invalidating the cache.
func (s *RuleStore) Put(ctx context.Context, r *rule.AutomationRule) error {
	if result := rule.ValidateRule(r); !result.Valid {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidRule, result.Errors),
			"RuleStore", "Put", "validate rule")
	}

	value, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "RuleStore", "Put", "encode rule")
	}
	if err := rule.ValidateDocument(value); err != nil {
		return err
	}
	if _, err := s.kv.Put(ctx, r.ID, value); err != nil {
		return errors.WrapTransient(err, "RuleStore", "Put", "store rule "+r.ID)
	}

	s.cache.Delete(ruleCacheKey)
	return nil
}

// Delete removes a rule and invalidates the cache.
func (s *RuleStore) Delete(ctx context.Context, id string) error {
	if err := s.kv.Delete(ctx, id); err != nil {
		if errors.Is(err, natsclient.ErrKeyNotFound) {
			return errors.ErrKeyNotFound
		}
		return errors.WrapTransient(err, "RuleStore", "Delete", "delete rule "+id)
	}
	s.cache.Delete(ruleCacheKey)
	return nil
}

// RecordExecution bumps a rule's execution_count and last_executed_at after
// a fire. A stats race loser re-reads the fresh revision and retries inside
// the KV layer.
func (s *RuleStore) RecordExecution(ctx context.Context, id string, at time.Time) error {
	err := s.kv.UpdateWithRetry(ctx, id, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, errors.ErrKeyNotFound
		}

		var r rule.AutomationRule
		if err := json.Unmarshal(current, &r); err != nil {
			return nil, errors.WrapInvalid(err, "RuleStore", "RecordExecution", "decode rule "+id)
		}

		executed := at
		r.ExecutionCount++
		r.LastExecutedAt = &executed
		return json.Marshal(&r)
	})
	if err != nil {
		if errors.Is(err, errors.ErrKeyNotFound) {
			return errors.ErrKeyNotFound
		}
		return errors.WrapTransient(err, "RuleStore", "RecordExecution", "update rule "+id)
	}
	return nil
}

// WatchInvalidate drops the cached rule set whenever a rule key changes, so
// edits propagate ahead of the cache TTL. The returned stop function ends
// the watch; backends without watch support get ErrWatchUnsupported and the
// cache falls back to TTL expiry alone.
func (s *RuleStore) WatchInvalidate(ctx context.Context) (func(), error) {
	kw, ok := s.kv.(Watcher)
	if !ok {
		return nil, errors.ErrWatchUnsupported
	}

	watcher, err := kw.Watch(ctx, ">")
	if err != nil {
		return nil, errors.WrapTransient(err, "RuleStore", "WatchInvalidate", "watch rule bucket")
	}

	go func() {
		for entry := range watcher.Updates() {
			if entry == nil {
				continue // initial replay marker
			}
			s.cache.Delete(ruleCacheKey)
			s.logger.Debug("Rule change observed, cache invalidated", "key", entry.Key())
		}
	}()

	return func() {
		if err := watcher.Stop(); err != nil {
			s.logger.Warn("Rule watcher stop failed", "error", err)
		}
	}, nil
}
