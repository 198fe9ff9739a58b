package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/autoflow/action"
	"github.com/c360/autoflow/config"
	"github.com/c360/autoflow/event"
	"github.com/c360/autoflow/health"
	"github.com/c360/autoflow/metric"
	"github.com/c360/autoflow/natsclient"
	"github.com/c360/autoflow/pkg/cache"
	"github.com/c360/autoflow/playbook"
	"github.com/c360/autoflow/rule"
	"github.com/c360/autoflow/trigger"
)

type kvEntry struct {
	value    []byte
	revision uint64
}

type memKV struct {
	mu      sync.Mutex
	data    map[string]kvEntry
	nextRev uint64
	watcher *memWatcher
}

// memWatcher is an in-memory stand-in for a JetStream key watcher.
type memWatcher struct {
	ch   chan jetstream.KeyValueEntry
	once sync.Once
}

func (w *memWatcher) Updates() <-chan jetstream.KeyValueEntry { return w.ch }

func (w *memWatcher) Stop() error {
	w.once.Do(func() { close(w.ch) })
	return nil
}

type memKVEntry string

func (e memKVEntry) Bucket() string                  { return "rules" }
func (e memKVEntry) Key() string                     { return string(e) }
func (e memKVEntry) Value() []byte                   { return nil }
func (e memKVEntry) Revision() uint64                { return 0 }
func (e memKVEntry) Created() time.Time              { return time.Time{} }
func (e memKVEntry) Delta() uint64                   { return 0 }
func (e memKVEntry) Operation() jetstream.KeyValueOp { return jetstream.KeyValuePut }

func newMemKV() *memKV { return &memKV{data: make(map[string]kvEntry)} }

func (f *memKV) Get(_ context.Context, key string) ([]byte, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.data[key]
	if !ok {
		return nil, 0, natsclient.ErrKeyNotFound
	}
	return append([]byte(nil), e.value...), e.revision, nil
}

func (f *memKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRev++
	f.data[key] = kvEntry{value: append([]byte(nil), value...), revision: f.nextRev}
	return f.nextRev, nil
}

func (f *memKV) UpdateWithRetry(_ context.Context, key string, updateFn func(current []byte) ([]byte, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var current []byte
	if e, ok := f.data[key]; ok {
		current = append([]byte(nil), e.value...)
	}

	newValue, err := updateFn(current)
	if err != nil {
		return err
	}

	f.nextRev++
	f.data[key] = kvEntry{value: append([]byte(nil), newValue...), revision: f.nextRev}
	return nil
}

func (f *memKV) Watch(_ context.Context, _ string) (jetstream.KeyWatcher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watcher = &memWatcher{ch: make(chan jetstream.KeyValueEntry, 8)}
	return f.watcher, nil
}

func (f *memKV) notify(key string) {
	f.mu.Lock()
	w := f.watcher
	f.mu.Unlock()
	if w != nil {
		w.ch <- memKVEntry(key)
	}
}

func (f *memKV) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; !ok {
		return natsclient.ErrKeyNotFound
	}
	delete(f.data, key)
	return nil
}

func (f *memKV) Keys(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		keys = append(keys, k)
	}
	return keys, nil
}

type recordingExecutor struct {
	mu    sync.Mutex
	calls []string
}

func (x *recordingExecutor) Execute(_ context.Context, playbookID string, _ map[string]any) (*playbook.ExecutionResult, error) {
	x.mu.Lock()
	x.calls = append(x.calls, playbookID)
	x.mu.Unlock()
	return &playbook.ExecutionResult{Success: true, ExecutionID: "exec-1"}, nil
}

type engineFixture struct {
	engine     *Engine
	ruleKV     *memKV
	triggers   *playbook.MemoryStore
	executor   *recordingExecutor
	aggregator *metric.Aggregator
	registry   *action.Registry
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()

	cfg := config.Default()
	cfg.RateLimit.Enabled = false

	ruleKV := newMemKV()
	aggregator := metric.NewAggregator(nil)
	ruleCache := cache.NewTTL[[]*rule.AutomationRule](time.Minute)
	t.Cleanup(ruleCache.Close)

	rules := NewRuleStore(ruleKV, ruleCache, aggregator, nil)

	triggers := playbook.NewMemoryStore()
	executor := &recordingExecutor{}
	dispatcher := playbook.NewDispatcher(triggers, executor, nil)

	registry := action.NewRegistry()
	actions := action.NewExecutor(registry, nil)

	eng := New(cfg, natsclient.NewClient(natsclient.DefaultConfig(), nil),
		rules, dispatcher, actions, aggregator, nil, health.NewMonitor(), nil)

	return &engineFixture{
		engine:     eng,
		ruleKV:     ruleKV,
		triggers:   triggers,
		executor:   executor,
		aggregator: aggregator,
		registry:   registry,
	}
}

func (f *engineFixture) addRule(t *testing.T, r *rule.AutomationRule) {
	t.Helper()
	value, err := json.Marshal(r)
	require.NoError(t, err)
	_, err = f.ruleKV.Put(context.Background(), r.ID, value)
	require.NoError(t, err)
}

func completionRule(id string) *rule.AutomationRule {
	return &rule.AutomationRule{
		ID:                id,
		RuleName:          "notify on high completion",
		TriggerEventTypes: []string{"campaign_completed"},
		Conditions: rule.Conditions{
			Logic: rule.LogicAnd,
			Rules: []rule.Condition{
				{Field: "payload.completion_rate", Operator: rule.OpGreaterEq, Value: 90},
			},
		},
		Actions:   []rule.Action{{ActionType: "notify_slack"}},
		IsEnabled: true,
	}
}

func TestProcessEventMatchesRuleAndRunsActions(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, completionRule("rule-1"))

	var executed []string
	f.registry.Register("notify_slack", action.HandlerFunc(
		func(_ context.Context, _ rule.Action, e *event.SystemEvent) (map[string]any, error) {
			executed = append(executed, e.EventType)
			return map[string]any{"ok": true}, nil
		}))

	evt := event.New("campaign_completed", "awareness", event.PriorityMedium, "campaigns",
		map[string]any{"completion_rate": 95.0})

	result, err := f.engine.ProcessEvent(context.Background(), evt)
	require.NoError(t, err)

	assert.Equal(t, 1, result.MatchedRules)
	require.Len(t, result.ActionResults, 1)
	assert.True(t, result.ActionResults[0].Success)
	assert.Equal(t, []string{"campaign_completed"}, executed)

	// Per-rule stats advanced in the store.
	stored, err := f.engine.rules.Get(context.Background(), "rule-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ExecutionCount)
	assert.NotNil(t, stored.LastExecutedAt)
}

func TestProcessEventScopesRulesToTenant(t *testing.T) {
	f := newFixture(t)

	mine := completionRule("rule-acme")
	mine.TenantID = "acme"
	f.addRule(t, mine)
	other := completionRule("rule-globex")
	other.TenantID = "globex"
	f.addRule(t, other)
	global := completionRule("rule-global")
	f.addRule(t, global)

	f.registry.Register("notify_slack", action.HandlerFunc(
		func(_ context.Context, _ rule.Action, _ *event.SystemEvent) (map[string]any, error) {
			return nil, nil
		}))

	evt := event.New("campaign_completed", "awareness", event.PriorityMedium, "campaigns",
		map[string]any{"completion_rate": 95.0})
	evt.TenantID = "acme"

	result, err := f.engine.ProcessEvent(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, 2, result.MatchedRules, "own tenant's rule and the global rule fire, the other tenant's does not")
}

func TestProcessEventNoMatch(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, completionRule("rule-1"))

	evt := event.New("campaign_completed", "awareness", event.PriorityMedium, "campaigns",
		map[string]any{"completion_rate": 50.0})

	result, err := f.engine.ProcessEvent(context.Background(), evt)
	require.NoError(t, err)
	assert.Zero(t, result.MatchedRules)
	assert.Empty(t, result.ActionResults)
}

func TestProcessEventInvalidEvent(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.ProcessEvent(context.Background(), &event.SystemEvent{})
	require.Error(t, err)
	assert.Equal(t, uint64(1), f.aggregator.GetMetrics().FailedEvents)
}

func TestProcessEventDispatchesTriggers(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.triggers.Put(context.Background(), &trigger.PlaybookTrigger{
		ID:          "trig-1",
		TriggerType: trigger.TypeEvent,
		Config:      trigger.Config{EventTypes: []string{"incident_created"}},
		PlaybookID:  "pb-containment",
		IsEnabled:   true,
	}))

	evt := event.New("incident_created", "security", event.PriorityCritical, "incidents",
		map[string]any{"severity": "high"})

	result, err := f.engine.ProcessEvent(context.Background(), evt)
	require.NoError(t, err)

	require.NotNil(t, result.Dispatch)
	assert.Equal(t, 1, result.Dispatch.CheckedTriggers)
	require.Len(t, result.Dispatch.TriggeredPlaybooks, 1)
	assert.Equal(t, []string{"pb-containment"}, f.executor.calls)
}

func TestProcessEventRecordsAggregatorCounters(t *testing.T) {
	f := newFixture(t)

	evt := event.New("policy_updated", "compliance", event.PriorityLow, "policies", nil)
	_, err := f.engine.ProcessEvent(context.Background(), evt)
	require.NoError(t, err)

	s := f.aggregator.GetMetrics()
	assert.Equal(t, uint64(1), s.TotalEvents)
	assert.Equal(t, uint64(1), s.EventsByCategory["compliance"])
	assert.Equal(t, uint64(1), s.EventsByPriority["low"])
}

func TestRuleListIsCached(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, completionRule("rule-1"))

	ctx := context.Background()
	_, err := f.engine.rules.List(ctx)
	require.NoError(t, err)
	_, err = f.engine.rules.List(ctx)
	require.NoError(t, err)

	s := f.aggregator.GetMetrics()
	assert.Equal(t, uint64(1), s.CacheMisses)
	assert.Equal(t, uint64(1), s.CacheHits)
}

func TestRuleStorePutInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, completionRule("rule-1"))

	ctx := context.Background()
	first, err := f.engine.rules.List(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	require.NoError(t, f.engine.rules.Put(ctx, completionRule("rule-2")))

	second, err := f.engine.rules.List(ctx)
	require.NoError(t, err)
	assert.Len(t, second, 2, "cache invalidated on write")
}

func TestRuleStorePutRejectsInvalidRule(t *testing.T) {
	f := newFixture(t)
	err := f.engine.rules.Put(context.Background(), &rule.AutomationRule{ID: "bad"})
	assert.Error(t, err)
}

func TestRuleStorePutRejectsOutOfRangePriority(t *testing.T) {
	f := newFixture(t)

	r := completionRule("rule-1")
	r.Priority = 500
	err := f.engine.rules.Put(context.Background(), r)
	require.Error(t, err, "schema bounds priority to 0-100")
}

func TestRuleListSkipsStructurallyInvalidDocuments(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, completionRule("rule-1"))

	// Stored by an older writer, missing required fields.
	_, err := f.ruleKV.Put(context.Background(), "rule-broken",
		[]byte(`{"id":"rule-broken","rule_name":"half written"}`))
	require.NoError(t, err)

	rules, err := f.engine.rules.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestRuleWatchInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, completionRule("rule-1"))

	ctx := context.Background()
	stop, err := f.engine.rules.WatchInvalidate(ctx)
	require.NoError(t, err)
	defer stop()

	first, err := f.engine.rules.List(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	f.addRule(t, completionRule("rule-2"))
	f.ruleKV.notify("rule-2")

	require.Eventually(t, func() bool {
		rules, err := f.engine.rules.List(ctx)
		return err == nil && len(rules) == 2
	}, time.Second, 10*time.Millisecond, "watched change drops the cached rule set")
}

func TestStartRequiresConnection(t *testing.T) {
	f := newFixture(t)
	err := f.engine.Start(context.Background())
	assert.Error(t, err, "unconnected NATS client cannot subscribe")
	assert.False(t, f.engine.started.Load())
}

func TestEngineHealthAggregates(t *testing.T) {
	f := newFixture(t)
	f.engine.refreshHealth()

	status := f.engine.Health()
	// NATS is down in unit tests, so aggregate is unhealthy.
	assert.True(t, status.IsUnhealthy())

	sub := status.SubStatuses
	names := make([]string, 0, len(sub))
	for _, s := range sub {
		names = append(names, s.Component)
	}
	assert.Contains(t, names, "nats")
	assert.Contains(t, names, "metrics")
}
