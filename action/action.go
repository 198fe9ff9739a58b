// Package action runs a matched rule's ordered action list through
// registered handlers, collecting per-action outcomes for audit.
package action

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/autoflow/event"
	"github.com/c360/autoflow/rule"
)

// Handler executes one action type. Implementations are the pluggable
// side-effecting collaborators (email, chat, tasks); the engine only
// orchestrates them.
type Handler interface {
	Execute(ctx context.Context, act rule.Action, e *event.SystemEvent) (map[string]any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, act rule.Action, e *event.SystemEvent) (map[string]any, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, act rule.Action, e *event.SystemEvent) (map[string]any, error) {
	return f(ctx, act, e)
}

// Registry maps action types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to an action type, replacing any existing binding.
func (r *Registry) Register(actionType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = h
}

// Get returns the handler for an action type.
func (r *Registry) Get(actionType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[actionType]
	return h, ok
}

// Types returns the registered action types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// Outcome records one action attempt. EventID and ExecutedAt give audit
// traceability back to the triggering event.
type Outcome struct {
	ActionType string         `json:"action_type"`
	Success    bool           `json:"success"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	EventID    string         `json:"event_id,omitempty"`
	ExecutedAt time.Time      `json:"executed_at"`
	Duration   time.Duration  `json:"duration_ns"`
}

// Result is the overall record of one rule firing.
type Result struct {
	Success  bool      `json:"success"`
	Outcomes []Outcome `json:"results"`
}

// Executor runs action lists sequentially against a handler registry.
type Executor struct {
	registry *Registry
	logger   *slog.Logger
}

// NewExecutor creates an action executor.
func NewExecutor(registry *Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		logger:   logger.With("component", "action-executor"),
	}
}

// Run executes every action strictly in list order. A failing action does
// not halt the remainder; each action is attempted exactly once and overall
// success is the conjunction of per-action outcomes. Handler failures are
// caught here and never propagate past the executor.
func (x *Executor) Run(ctx context.Context, actions []rule.Action, e *event.SystemEvent) Result {
	result := Result{
		Success:  true,
		Outcomes: make([]Outcome, 0, len(actions)),
	}

	eventID := ""
	if e != nil {
		eventID = e.ID
	}

	for _, act := range actions {
		outcome := x.runOne(ctx, act, e)
		outcome.EventID = eventID

		if !outcome.Success {
			result.Success = false
			x.logger.Warn("Action failed",
				"action_type", act.ActionType,
				"event_id", eventID,
				"error", outcome.Error)
		}

		result.Outcomes = append(result.Outcomes, outcome)
	}

	return result
}

// runOne attempts a single action, converting panics and missing handlers
// into failed outcomes.
func (x *Executor) runOne(ctx context.Context, act rule.Action, e *event.SystemEvent) (outcome Outcome) {
	start := time.Now()
	outcome = Outcome{
		ActionType: act.ActionType,
		ExecutedAt: start.UTC(),
	}

	defer func() {
		outcome.Duration = time.Since(start)
		if r := recover(); r != nil {
			outcome.Success = false
			outcome.Result = nil
			outcome.Error = fmt.Sprintf("handler panic: %v", r)
		}
	}()

	handler, ok := x.registry.Get(act.ActionType)
	if !ok {
		outcome.Error = fmt.Sprintf("no handler registered for action type %q", act.ActionType)
		return outcome
	}

	payload, err := handler.Execute(ctx, act, e)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Success = true
	outcome.Result = payload
	return outcome
}
