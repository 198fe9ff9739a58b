// Package trigger defines playbook triggers and the evaluation that decides
// whether an incoming event should dispatch a playbook.
package trigger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Type discriminates how a trigger is evaluated.
type Type string

// Supported trigger types
const (
	TypeEvent     Type = "event"
	TypeThreshold Type = "threshold"
	TypeSchedule  Type = "schedule"
)

// Valid reports whether the trigger type is supported.
func (t Type) Valid() bool {
	switch t {
	case TypeEvent, TypeThreshold, TypeSchedule:
		return true
	}
	return false
}

// Condition operators accepted in event trigger configs
const (
	CondEquals      = "equals"
	CondContains    = "contains"
	CondGreaterThan = "greater_than"
	CondLessThan    = "less_than"
)

// Condition is one field check inside an event trigger config. All listed
// conditions must hold (AND semantics).
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// Config carries the type-specific trigger pattern. Event triggers use
// EventTypes and Conditions; threshold triggers use Metric/Operator/Value;
// schedule triggers carry a Schedule expression fired by an external
// scheduler, never by event arrival.
type Config struct {
	EventTypes []string    `json:"event_types,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
	Metric     string      `json:"metric,omitempty"`
	Operator   string      `json:"operator,omitempty"`
	Value      any         `json:"value,omitempty"`
	Schedule   string      `json:"schedule,omitempty"`
}

// PlaybookTrigger binds an event, threshold, or schedule pattern to a
// playbook. LastTriggeredAt and TriggerCount are updated atomically by the
// dispatcher's store on each successful fire.
type PlaybookTrigger struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id,omitempty"`
	TriggerType     Type       `json:"trigger_type"`
	Config          Config     `json:"trigger_config"`
	PlaybookID      string     `json:"playbook_id"`
	IsEnabled       bool       `json:"is_enabled"`
	CooldownMinutes int        `json:"cooldown_minutes"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	TriggerCount    int64      `json:"trigger_count"`
}

// InCooldown reports whether the trigger's cooldown window is still open at
// the given instant. A trigger that has never fired, or has no cooldown, is
// never in cooldown.
func (t *PlaybookTrigger) InCooldown(now time.Time) bool {
	if t.LastTriggeredAt == nil || t.CooldownMinutes <= 0 {
		return false
	}
	cooldownEnd := t.LastTriggeredAt.Add(time.Duration(t.CooldownMinutes) * time.Minute)
	return now.Before(cooldownEnd)
}

// CooldownRemaining returns how long until the window closes, or zero.
func (t *PlaybookTrigger) CooldownRemaining(now time.Time) time.Duration {
	if !t.InCooldown(now) {
		return 0
	}
	cooldownEnd := t.LastTriggeredAt.Add(time.Duration(t.CooldownMinutes) * time.Minute)
	return cooldownEnd.Sub(now)
}

// ShouldFire decides, per trigger type, whether a playbook should run for
// the incoming event. The cooldown gate is applied by the dispatcher, not
// here. Malformed configs degrade to false.
func ShouldFire(t *PlaybookTrigger, eventType string, eventData map[string]any) bool {
	if t == nil {
		return false
	}

	switch t.TriggerType {
	case TypeEvent:
		return fireForEvent(t.Config, eventType, eventData)
	case TypeThreshold:
		return fireForThreshold(t.Config, eventData)
	case TypeSchedule:
		// Schedule triggers are fired by an external time-based
		// collaborator, never from the event path.
		return false
	default:
		return false
	}
}

func fireForEvent(cfg Config, eventType string, eventData map[string]any) bool {
	matched := false
	for _, et := range cfg.EventTypes {
		if et == eventType {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	for _, cond := range cfg.Conditions {
		if !evaluateCondition(cond, eventData) {
			return false
		}
	}
	return true
}

func evaluateCondition(cond Condition, eventData map[string]any) bool {
	value, found := resolve(eventData, cond.Field)
	if !found {
		return false
	}

	switch cond.Operator {
	case CondEquals:
		return asString(value) == asString(cond.Value)
	case CondContains:
		return strings.Contains(asString(value), asString(cond.Value))
	case CondGreaterThan:
		a, aOK := asNumber(value)
		b, bOK := asNumber(cond.Value)
		return aOK && bOK && a > b
	case CondLessThan:
		a, aOK := asNumber(value)
		b, bOK := asNumber(cond.Value)
		return aOK && bOK && a < b
	default:
		return false
	}
}

func fireForThreshold(cfg Config, eventData map[string]any) bool {
	raw, ok := eventData[cfg.Metric]
	if !ok {
		return false
	}

	metric, ok := asNumber(raw)
	if !ok {
		return false
	}
	threshold, ok := asNumber(cfg.Value)
	if !ok {
		return false
	}

	switch cfg.Operator {
	case ">":
		return metric > threshold
	case ">=":
		return metric >= threshold
	case "<":
		return metric < threshold
	case "<=":
		return metric <= threshold
	case "==":
		return metric == threshold
	case "!=":
		return metric != threshold
	default:
		return false
	}
}

// resolve walks a dotted field path through nested maps.
func resolve(data map[string]any, field string) (any, bool) {
	if data == nil || field == "" {
		return nil, false
	}

	var current any = data
	for _, segment := range strings.Split(field, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func asNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
