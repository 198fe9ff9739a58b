package playbook

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/autoflow/errors"
	"github.com/c360/autoflow/trigger"
)

// Fired records one successful playbook dispatch.
type Fired struct {
	TriggerID   string `json:"trigger_id"`
	PlaybookID  string `json:"playbook_id"`
	ExecutionID string `json:"execution_id,omitempty"`
}

// CheckResult is the outcome of one trigger sweep for an event.
type CheckResult struct {
	Success            bool    `json:"success"`
	TriggeredPlaybooks []Fired `json:"triggered_playbooks"`
	CheckedTriggers    int     `json:"checked_triggers"`
}

// Dispatcher sweeps stored triggers for each incoming event, claims the
// cooldown window for matches, and invokes the bound playbooks. The claim
// happens before invocation so a crash mid-invoke loses at most one run
// instead of double-firing; a failed invocation releases the claim.
type Dispatcher struct {
	store    Store
	executor Executor
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher over the given store and executor.
func NewDispatcher(store Store, executor Executor, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:    store,
		executor: executor,
		logger:   logger.With("component", "playbook-dispatcher"),
		now:      time.Now,
	}
}

// CheckTriggers evaluates the enabled triggers against the event and fires
// the playbooks of qualifying ones. A non-empty tenantID restricts the sweep
// to that tenant's triggers. Only a trigger listing failure is fatal;
// per-trigger claim losses and invocation failures are logged and skipped so
// one bad trigger never blocks the rest of the sweep.
func (d *Dispatcher) CheckTriggers(ctx context.Context, eventType string, eventData map[string]any, tenantID string) (*CheckResult, error) {
	triggers, err := d.store.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Dispatcher", "CheckTriggers", "list triggers")
	}

	eligible := triggers[:0]
	for _, t := range triggers {
		if !t.IsEnabled {
			continue
		}
		if tenantID != "" && t.TenantID != "" && t.TenantID != tenantID {
			continue
		}
		eligible = append(eligible, t)
	}

	result := &CheckResult{
		Success:            true,
		TriggeredPlaybooks: []Fired{},
		CheckedTriggers:    len(eligible),
	}

	for _, t := range eligible {
		if !trigger.ShouldFire(t, eventType, eventData) {
			continue
		}

		fired, ok := d.fire(ctx, t, map[string]any{
			"trigger_id": t.ID,
			"event_type": eventType,
			"event_data": eventData,
		})
		if ok {
			result.TriggeredPlaybooks = append(result.TriggeredPlaybooks, fired)
		}
	}

	return result, nil
}

// FireScheduled runs a schedule trigger on behalf of an external scheduler.
// The cooldown gate still applies, so an overlapping scheduler tick cannot
// double-fire.
func (d *Dispatcher) FireScheduled(ctx context.Context, triggerID string, contextData map[string]any) (*Fired, error) {
	t, err := d.store.Get(ctx, triggerID)
	if err != nil {
		return nil, errors.Wrap(err, "Dispatcher", "FireScheduled", "load trigger")
	}
	if t.TriggerType != trigger.TypeSchedule {
		return nil, errors.WrapInvalid(
			errors.New("trigger is not schedule-typed"),
			"Dispatcher", "FireScheduled", "validate trigger "+triggerID)
	}
	if !t.IsEnabled {
		return nil, errors.ErrTriggerDisabled
	}

	if contextData == nil {
		contextData = map[string]any{}
	}
	contextData["trigger_id"] = t.ID
	contextData["schedule"] = t.Config.Schedule

	fired, ok := d.fire(ctx, t, contextData)
	if !ok {
		return nil, errors.ErrPlaybookFailed
	}
	return &fired, nil
}

// fire claims the cooldown window and invokes the playbook, releasing the
// claim if the invocation fails.
func (d *Dispatcher) fire(ctx context.Context, t *trigger.PlaybookTrigger, contextData map[string]any) (Fired, bool) {
	previousFired := t.LastTriggeredAt

	claimed, err := d.store.Claim(ctx, t.ID, d.now())
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrCooldownActive), errors.Is(err, errors.ErrCooldownConflict):
			d.logger.Debug("Trigger in cooldown, skipping",
				"trigger_id", t.ID,
				"playbook_id", t.PlaybookID)
		case errors.Is(err, errors.ErrTriggerDisabled), errors.Is(err, errors.ErrTriggerNotFound):
			d.logger.Debug("Trigger unavailable, skipping", "trigger_id", t.ID, "reason", err)
		default:
			d.logger.Warn("Cooldown claim failed",
				"trigger_id", t.ID,
				"error", err)
		}
		return Fired{}, false
	}

	execResult, err := d.executor.Execute(ctx, claimed.PlaybookID, contextData)
	if err != nil || !execResult.Success {
		d.logger.Warn("Playbook invocation failed, releasing cooldown claim",
			"trigger_id", claimed.ID,
			"playbook_id", claimed.PlaybookID,
			"error", err)
		if relErr := d.store.Release(ctx, claimed.ID, previousFired); relErr != nil {
			d.logger.Error("Failed to release cooldown claim",
				"trigger_id", claimed.ID,
				"error", relErr)
		}
		return Fired{}, false
	}

	d.logger.Info("Playbook dispatched",
		"trigger_id", claimed.ID,
		"playbook_id", claimed.PlaybookID,
		"execution_id", execResult.ExecutionID,
		"trigger_count", claimed.TriggerCount)

	return Fired{
		TriggerID:   claimed.ID,
		PlaybookID:  claimed.PlaybookID,
		ExecutionID: execResult.ExecutionID,
	}, true
}
