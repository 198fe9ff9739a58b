package rule

import "github.com/c360/autoflow/event"

// Matches decides whether a rule fires for an event. It is a pure predicate:
// disabled rules never match, the event type must be one the rule subscribes
// to, and the condition set must hold.
func Matches(r *AutomationRule, e *event.SystemEvent) bool {
	if r == nil || e == nil {
		return false
	}

	if !r.IsEnabled {
		return false
	}

	if !r.HandlesEventType(e.EventType) {
		return false
	}

	return Evaluate(r.Conditions, e)
}
