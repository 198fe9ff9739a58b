package playbook

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/autoflow/errors"
	"github.com/c360/autoflow/natsclient"
	"github.com/c360/autoflow/trigger"
)

type fakeEntry struct {
	value    []byte
	revision uint64
}

// fakeKV mimics JetStream KV revision semantics in memory.
type fakeKV struct {
	mu      sync.Mutex
	data    map[string]fakeEntry
	nextRev uint64
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]fakeEntry)}
}

func (f *fakeKV) Get(_ context.Context, key string) ([]byte, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.data[key]
	if !ok {
		return nil, 0, natsclient.ErrKeyNotFound
	}
	return append([]byte(nil), entry.value...), entry.revision, nil
}

func (f *fakeKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRev++
	f.data[key] = fakeEntry{value: append([]byte(nil), value...), revision: f.nextRev}
	return f.nextRev, nil
}

func (f *fakeKV) UpdateWithRetry(_ context.Context, key string, updateFn func(current []byte) ([]byte, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var current []byte
	if entry, ok := f.data[key]; ok {
		current = append([]byte(nil), entry.value...)
	}

	newValue, err := updateFn(current)
	if err != nil {
		return err
	}

	f.nextRev++
	f.data[key] = fakeEntry{value: append([]byte(nil), newValue...), revision: f.nextRev}
	return nil
}

func (f *fakeKV) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; !ok {
		return natsclient.ErrKeyNotFound
	}
	delete(f.data, key)
	return nil
}

func (f *fakeKV) Keys(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func newKVStoreWithTrigger(t *testing.T, trig *trigger.PlaybookTrigger) (*KVStore, *fakeKV) {
	t.Helper()
	kv := newFakeKV()
	store := NewKVStore(kv, nil)
	require.NoError(t, store.Put(context.Background(), trig))
	return store, kv
}

func TestKVStoreRoundTrip(t *testing.T) {
	store, _ := newKVStoreWithTrigger(t, phishingTrigger(30))

	got, err := store.Get(context.Background(), "trig-phish")
	require.NoError(t, err)
	assert.Equal(t, "pb-remediate", got.PlaybookID)
	assert.True(t, got.IsEnabled)

	all, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestKVStoreGetMissing(t *testing.T) {
	store := NewKVStore(newFakeKV(), nil)
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, errors.ErrTriggerNotFound)
}

func TestKVStoreListSkipsCorruptEntries(t *testing.T) {
	store, kv := newKVStoreWithTrigger(t, phishingTrigger(30))
	_, err := kv.Put(context.Background(), "corrupt", []byte("{not json"))
	require.NoError(t, err)

	all, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestKVStoreClaim(t *testing.T) {
	store, _ := newKVStoreWithTrigger(t, phishingTrigger(30))

	now := time.Now().UTC()
	claimed, err := store.Claim(context.Background(), "trig-phish", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), claimed.TriggerCount)
	require.NotNil(t, claimed.LastTriggeredAt)
	assert.WithinDuration(t, now, *claimed.LastTriggeredAt, time.Second)

	// Second claim inside the window fails.
	_, err = store.Claim(context.Background(), "trig-phish", now.Add(time.Minute))
	assert.ErrorIs(t, err, errors.ErrCooldownActive)
}

func TestKVStoreClaimDisabled(t *testing.T) {
	trig := phishingTrigger(30)
	trig.IsEnabled = false
	store, _ := newKVStoreWithTrigger(t, trig)

	_, err := store.Claim(context.Background(), "trig-phish", time.Now())
	assert.ErrorIs(t, err, errors.ErrTriggerDisabled)
}

func TestKVStoreClaimMissing(t *testing.T) {
	store := NewKVStore(newFakeKV(), nil)
	_, err := store.Claim(context.Background(), "nope", time.Now())
	assert.ErrorIs(t, err, errors.ErrTriggerNotFound)
}

func TestKVStoreConcurrentClaimsSingleWinner(t *testing.T) {
	store, _ := newKVStoreWithTrigger(t, phishingTrigger(60))

	now := time.Now().UTC()
	const workers = 20
	var wg sync.WaitGroup
	var wins, cooldowns atomic.Int64

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Claim(context.Background(), "trig-phish", now)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, errors.ErrCooldownActive) || errors.Is(err, errors.ErrCooldownConflict):
				cooldowns.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load(), "revision check admits exactly one claimant")
	assert.Equal(t, int64(workers-1), cooldowns.Load())
}

func TestKVStoreRelease(t *testing.T) {
	store, _ := newKVStoreWithTrigger(t, phishingTrigger(30))

	now := time.Now().UTC()
	claimed, err := store.Claim(context.Background(), "trig-phish", now)
	require.NoError(t, err)
	require.Equal(t, int64(1), claimed.TriggerCount)

	require.NoError(t, store.Release(context.Background(), "trig-phish", nil))

	restored, err := store.Get(context.Background(), "trig-phish")
	require.NoError(t, err)
	assert.Nil(t, restored.LastTriggeredAt)
	assert.Zero(t, restored.TriggerCount)

	// Claimable again right away.
	_, err = store.Claim(context.Background(), "trig-phish", now)
	assert.NoError(t, err)
}

func TestKVStoreDelete(t *testing.T) {
	store, _ := newKVStoreWithTrigger(t, phishingTrigger(30))

	require.NoError(t, store.Delete(context.Background(), "trig-phish"))
	assert.ErrorIs(t, store.Delete(context.Background(), "trig-phish"), errors.ErrTriggerNotFound)
}

func TestKVStoreStoredShapeIsStable(t *testing.T) {
	_, kv := newKVStoreWithTrigger(t, phishingTrigger(30))

	raw, _, err := kv.Get(context.Background(), "trig-phish")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "event", doc["trigger_type"])
	assert.Equal(t, "pb-remediate", doc["playbook_id"])
}
