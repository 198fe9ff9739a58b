// Package engine wires event ingress, rule matching, action execution, and
// playbook dispatch into one supervised lifecycle.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/c360/autoflow/action"
	"github.com/c360/autoflow/config"
	"github.com/c360/autoflow/errors"
	"github.com/c360/autoflow/event"
	"github.com/c360/autoflow/health"
	"github.com/c360/autoflow/metric"
	"github.com/c360/autoflow/natsclient"
	"github.com/c360/autoflow/playbook"
	"github.com/c360/autoflow/rule"
)

// Engine status values mirrored to the engine_status gauge.
const (
	statusStopped  = 0
	statusStarting = 1
	statusRunning  = 2
	statusStopping = 3
)

// healthInterval is how often the background loop refreshes subsystem
// health in the monitor.
const healthInterval = 10 * time.Second

// ProcessResult summarizes one event's trip through both evaluation paths.
type ProcessResult struct {
	EventID       string                `json:"event_id"`
	MatchedRules  int                   `json:"matched_rules"`
	ActionResults []action.Result       `json:"action_results,omitempty"`
	Dispatch      *playbook.CheckResult `json:"dispatch,omitempty"`
}

// Engine subscribes to the event subject and runs every event through the
// rule path (match, execute actions) and the trigger path (dispatch
// playbooks). It owns the aggregator and health monitor for both paths.
type Engine struct {
	cfg        *config.Config
	nats       *natsclient.Client
	rules      *RuleStore
	dispatcher *playbook.Dispatcher
	actions    *action.Executor
	aggregator *metric.Aggregator
	metrics    *metric.Metrics
	monitor    *health.Monitor
	logger     *slog.Logger

	limiter       *rate.Limiter
	sub           *nats.Subscription
	stopRuleWatch func()

	started  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
}

// New creates an engine from its collaborators. metrics may be nil when
// Prometheus export is disabled.
func New(
	cfg *config.Config,
	natsClient *natsclient.Client,
	rules *RuleStore,
	dispatcher *playbook.Dispatcher,
	actions *action.Executor,
	aggregator *metric.Aggregator,
	metrics *metric.Metrics,
	monitor *health.Monitor,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:        cfg,
		nats:       natsClient,
		rules:      rules,
		dispatcher: dispatcher,
		actions:    actions,
		aggregator: aggregator,
		metrics:    metrics,
		monitor:    monitor,
		logger:     logger.With("component", "engine"),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}

	if cfg.RateLimit.Enabled {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.EventsPerSecond), cfg.RateLimit.Burst)
	}
	return e
}

// Start subscribes to the event subject, begins watching the rule bucket,
// and launches the health loop.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}
	e.setStatus(statusStarting)

	sub, err := e.nats.QueueSubscribe(e.cfg.Engine.EventSubject, e.cfg.Engine.QueueGroup, e.handleMessage)
	if err != nil {
		e.started.Store(false)
		e.setStatus(statusStopped)
		return errors.Wrap(err, "Engine", "Start", "subscribe to "+e.cfg.Engine.EventSubject)
	}
	e.sub = sub

	if stop, err := e.rules.WatchInvalidate(ctx); err != nil {
		e.logger.Debug("Rule watch unavailable, cache relies on TTL", "error", err)
	} else {
		e.stopRuleWatch = stop
	}

	go e.healthLoop()

	e.setStatus(statusRunning)
	e.logger.Info("Engine started",
		"event_subject", e.cfg.Engine.EventSubject,
		"queue_group", e.cfg.Engine.QueueGroup)
	return nil
}

// Stop drains the subscription and stops the health loop.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.started.CompareAndSwap(true, false) {
		return errors.ErrNotStarted
	}
	e.setStatus(statusStopping)
	close(e.shutdown)

	if e.stopRuleWatch != nil {
		e.stopRuleWatch()
		e.stopRuleWatch = nil
	}

	if e.sub != nil {
		if err := e.sub.Drain(); err != nil {
			e.logger.Warn("Subscription drain failed", "error", err)
		}
		e.sub = nil
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		e.logger.Warn("Shutdown timed out waiting for health loop")
	}

	e.setStatus(statusStopped)
	e.logger.Info("Engine stopped")
	return nil
}

func (e *Engine) setStatus(status int) {
	if e.metrics != nil {
		e.metrics.EngineStatus.WithLabelValues("engine").Set(float64(status))
	}
}

// handleMessage is the NATS ingress path: decode, throttle, process.
func (e *Engine) handleMessage(msg *nats.Msg) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic processing event", "subject", msg.Subject, "panic", r)
			e.aggregator.RecordFailure()
		}
	}()

	var evt event.SystemEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		e.logger.Warn("Dropping undecodable event", "subject", msg.Subject, "error", err)
		e.aggregator.RecordFailure()
		return
	}

	if e.limiter != nil && !e.limiter.Allow() {
		e.aggregator.RecordThrottle()
		e.logger.Debug("Event throttled", "event_type", evt.EventType)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Executor.Timeout+10*time.Second)
	defer cancel()

	if _, err := e.ProcessEvent(ctx, &evt); err != nil {
		e.logger.Warn("Event processing failed",
			"event_type", evt.EventType,
			"event_id", evt.ID,
			"error", err)
	}
}

// ProcessEvent runs one event through rule matching and trigger dispatch.
// Rule-path failures for one rule never block other rules; only a rule or
// trigger listing failure fails the whole event.
func (e *Engine) ProcessEvent(ctx context.Context, evt *event.SystemEvent) (*ProcessResult, error) {
	start := time.Now()

	if err := evt.Validate(); err != nil {
		e.aggregator.RecordFailure()
		return nil, err
	}

	result := &ProcessResult{EventID: evt.ID}

	rules, err := e.rules.List(ctx)
	if err != nil {
		e.aggregator.RecordFailure()
		return nil, errors.Wrap(err, "Engine", "ProcessEvent", "load rules")
	}

	for _, r := range rules {
		// Tenant-scoped rules only see their own tenant's events; rules
		// without a tenant are global, same as the trigger sweep.
		if evt.TenantID != "" && r.TenantID != "" && r.TenantID != evt.TenantID {
			continue
		}
		if !rule.Matches(r, evt) {
			continue
		}
		result.MatchedRules++
		if e.metrics != nil {
			e.metrics.RecordRuleMatched(r.ID)
		}

		actionResult := e.actions.Run(ctx, r.Actions, evt)
		result.ActionResults = append(result.ActionResults, actionResult)
		if e.metrics != nil {
			for _, outcome := range actionResult.Outcomes {
				e.metrics.RecordActionExecuted(outcome.ActionType, outcome.Success)
			}
		}

		if err := e.rules.RecordExecution(ctx, r.ID, start); err != nil {
			e.logger.Warn("Failed to record rule execution", "rule_id", r.ID, "error", err)
		}
	}

	dispatch, err := e.dispatcher.CheckTriggers(ctx, evt.EventType, evt.Payload, evt.TenantID)
	if err != nil {
		e.aggregator.RecordFailure()
		return nil, errors.Wrap(err, "Engine", "ProcessEvent", "check triggers")
	}
	result.Dispatch = dispatch

	if e.metrics != nil {
		for range dispatch.TriggeredPlaybooks {
			e.metrics.RecordPlaybookDispatched("event")
		}
		e.metrics.RecordEventProcessed("success")
	}

	e.aggregator.RecordEvent(evt.EventCategory, string(evt.Priority), time.Since(start))

	e.logger.Debug("Event processed",
		"event_type", evt.EventType,
		"event_id", evt.ID,
		"matched_rules", result.MatchedRules,
		"triggered_playbooks", len(dispatch.TriggeredPlaybooks),
		"duration_ms", time.Since(start).Milliseconds())

	return result, nil
}

// CheckTriggers exposes the dispatcher's trigger sweep to the HTTP gateway.
func (e *Engine) CheckTriggers(ctx context.Context, eventType string, eventData map[string]any, tenantID string) (*playbook.CheckResult, error) {
	return e.dispatcher.CheckTriggers(ctx, eventType, eventData, tenantID)
}

// Health returns the aggregate health over all engine subsystems.
func (e *Engine) Health() health.Status {
	return e.monitor.AggregateHealth("autoflow")
}

// healthLoop refreshes subsystem health until shutdown.
func (e *Engine) healthLoop() {
	defer close(e.done)

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	e.refreshHealth()
	for {
		select {
		case <-e.shutdown:
			return
		case <-ticker.C:
			e.refreshHealth()
		}
	}
}

func (e *Engine) refreshHealth() {
	if e.nats.IsConnected() {
		e.monitor.UpdateHealthy("nats",
			fmt.Sprintf("connected (%d reconnects)", e.nats.Reconnects()))
	} else {
		e.monitor.UpdateUnhealthy("nats", "disconnected")
	}
	if e.metrics != nil {
		e.metrics.RecordNATSStatus(e.nats.IsConnected())
	}

	report := e.aggregator.GetHealthMetrics()
	status := health.Status{
		Component: "metrics",
		Healthy:   report.Status == health.StateHealthy,
		Status:    report.Status,
		Message:   "Engine metrics within thresholds",
		Issues:    report.Issues,
		Timestamp: time.Now(),
	}
	if report.Status != health.StateHealthy {
		status.Message = "Engine metrics exceed thresholds"
	}
	e.monitor.Update("metrics", status)

	if e.metrics != nil {
		value := 2.0
		switch report.Status {
		case health.StateDegraded:
			value = 1.0
		case health.StateUnhealthy:
			value = 0.0
		}
		e.metrics.RecordHealth("metrics", value)
	}
}
