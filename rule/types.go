// Package rule implements automation rule types, the condition evaluation
// grammar, and the rule matching semantics of the engine.
package rule

import "time"

// Condition operators supported by the evaluator
const (
	OpEqual       = "eq"
	OpNotEqual    = "neq"
	OpGreaterThan = "gt"
	OpGreaterEq   = "gte"
	OpLessThan    = "lt"
	OpLessEq      = "lte"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpStartsWith  = "starts_with"
	OpEndsWith    = "ends_with"
	OpIn          = "in"
	OpNotIn       = "not_in"
	OpIsNull      = "is_null"
	OpIsNotNull   = "is_not_null"
)

// Logic combinators for condition sets
const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

// ExecutionMode controls when a matched rule's actions run.
type ExecutionMode string

// Supported execution modes
const (
	ExecutionImmediate ExecutionMode = "immediate"
	ExecutionScheduled ExecutionMode = "scheduled"
	ExecutionDelayed   ExecutionMode = "delayed"
)

// Condition is one field/operator/value comparison against an event.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// Conditions is a boolean expression over event fields. An empty rule list
// evaluates to true regardless of logic (vacuous truth).
type Conditions struct {
	Logic string      `json:"logic"`
	Rules []Condition `json:"rules"`
}

// Action is one effect to produce when a rule fires. Config is opaque to
// the engine and interpreted by the handler registered for ActionType.
type Action struct {
	ActionType string         `json:"action_type"`
	Config     map[string]any `json:"config,omitempty"`
}

// AutomationRule is a standing policy: when one of the trigger event types
// occurs and the conditions hold, run the actions in order.
type AutomationRule struct {
	ID                string        `json:"id"`
	TenantID          string        `json:"tenant_id,omitempty"`
	RuleName          string        `json:"rule_name"`
	TriggerEventTypes []string      `json:"trigger_event_types"`
	Conditions        Conditions    `json:"conditions"`
	Actions           []Action      `json:"actions"`
	Priority          int           `json:"priority"`
	ExecutionMode     ExecutionMode `json:"execution_mode,omitempty"`
	IsEnabled         bool          `json:"is_enabled"`
	ExecutionCount    int64         `json:"execution_count"`
	LastExecutedAt    *time.Time    `json:"last_executed_at,omitempty"`
}

// HandlesEventType reports whether the rule subscribes to the event type.
func (r *AutomationRule) HandlesEventType(eventType string) bool {
	for _, t := range r.TriggerEventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}
