package natsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/autoflow/pkg/retry"
)

// Well-known KV errors. Conflict errors mark lost compare-and-swap races
// and are the intended retry signal for claim loops.
var (
	ErrKeyNotFound        = errors.New("kv: key not found")
	ErrKeyExists          = errors.New("kv: key already exists")
	ErrRevisionMismatch   = errors.New("kv: revision mismatch (concurrent update)")
	ErrMaxRetriesExceeded = errors.New("kv: max retries exceeded")
)

// IsNotFoundError checks if an error indicates a missing key.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyNotFound) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "key not found") || strings.Contains(msg, "10037")
}

// IsConflictError checks if an error indicates a lost CAS race (key exists
// or wrong revision).
func IsConflictError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRevisionMismatch) || errors.Is(err, ErrKeyExists) ||
		errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") ||
		strings.Contains(msg, "10071") ||
		strings.Contains(msg, "key exists") ||
		strings.Contains(msg, "10058")
}

// KVOptions configures KV operation behavior.
type KVOptions struct {
	MaxRetries   int           // additional CAS attempts after the first
	RetryDelay   time.Duration // initial delay between retries
	Timeout      time.Duration // per-operation timeout
	MaxValueSize int           // reject values larger than this
}

// DefaultKVOptions returns defaults tuned for contended trigger claims.
func DefaultKVOptions() KVOptions {
	return KVOptions{
		MaxRetries:   10,
		RetryDelay:   10 * time.Millisecond,
		Timeout:      5 * time.Second,
		MaxValueSize: 1024 * 1024,
	}
}

// KVStore provides revision-aware KV operations over a JetStream bucket.
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  *slog.Logger
}

// NewKVStore wraps a bucket with CAS-aware operations.
func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &KVStore{
		bucket:  bucket,
		options: options,
		logger:  c.logger,
	}
}

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Get retrieves a value with its revision for CAS operations.
func (kv *KVStore) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsNotFoundError(err) {
			return nil, 0, ErrKeyNotFound
		}
		return nil, 0, fmt.Errorf("kv get %s: %w", key, err)
	}
	return entry.Value(), entry.Revision(), nil
}

// Put creates or updates a key without a revision check (last writer wins).
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}
	return rev, nil
}

// Create only creates if the key doesn't exist.
func (kv *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Create(ctx, key, value)
	if err != nil {
		if IsConflictError(err) {
			return 0, ErrKeyExists
		}
		return 0, fmt.Errorf("kv create %s: %w", key, err)
	}
	return rev, nil
}

// Update performs a CAS update with an explicit revision.
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Update(ctx, key, value, revision)
	if err != nil {
		if IsConflictError(err) {
			return 0, ErrRevisionMismatch
		}
		return 0, fmt.Errorf("kv update %s: %w", key, err)
	}
	return rev, nil
}

// Delete removes a key from the bucket.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil {
		if IsNotFoundError(err) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// Keys lists all keys in the bucket. An empty bucket maps to ErrKeyNotFound
// in the underlying client; callers see an empty slice instead.
func (kv *KVStore) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	keys, err := kv.bucket.Keys(ctx)
	if err != nil {
		if IsNotFoundError(err) || errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv keys: %w", err)
	}
	return keys, nil
}

// Watch creates a watcher for key changes. No timeout is applied since the
// watcher is long-lived.
func (kv *KVStore) Watch(ctx context.Context, pattern string) (jetstream.KeyWatcher, error) {
	watcher, err := kv.bucket.Watch(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("kv watch %s: %w", pattern, err)
	}
	return watcher, nil
}

func (kv *KVStore) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  kv.options.MaxRetries + 1,
		InitialDelay: kv.options.RetryDelay,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// UpdateWithRetry performs a read-modify-write cycle with automatic retry
// on CAS conflicts. A missing key is treated as an empty value and created.
func (kv *KVStore) UpdateWithRetry(ctx context.Context, key string,
	updateFn func(current []byte) ([]byte, error)) error {

	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	err := retry.Do(ctx, kv.retryConfig(), func() error {
		current, revision, err := kv.Get(ctx, key)
		if err != nil && !errors.Is(err, ErrKeyNotFound) {
			return fmt.Errorf("kv get during update: %w", err)
		}

		newValue, err := updateFn(current)
		if err != nil {
			return retry.NonRetryable(fmt.Errorf("update function: %w", err))
		}
		if kv.options.MaxValueSize > 0 && len(newValue) > kv.options.MaxValueSize {
			return retry.NonRetryable(fmt.Errorf("value size %d exceeds maximum %d",
				len(newValue), kv.options.MaxValueSize))
		}

		if revision == 0 {
			if _, err := kv.Create(ctx, key, newValue); err != nil {
				if IsConflictError(err) {
					kv.logger.Debug("KV create conflict, retrying", "key", key)
					return err
				}
				return fmt.Errorf("kv create during update: %w", err)
			}
			return nil
		}

		if _, err := kv.Update(ctx, key, newValue, revision); err != nil {
			if IsConflictError(err) {
				kv.logger.Debug("KV update conflict, retrying", "key", key)
				return err
			}
			return fmt.Errorf("kv update during update: %w", err)
		}
		return nil
	})

	if err != nil && IsConflictError(err) {
		return ErrMaxRetriesExceeded
	}
	return err
}
