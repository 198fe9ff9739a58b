// Package event defines the SystemEvent record consumed by the automation
// engine and the field resolution used by condition evaluation.
package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360/autoflow/errors"
)

// Priority classifies how urgent an event is.
type Priority string

// Supported event priorities
const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether the priority is one of the supported values.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// SystemEvent is an immutable fact about something that happened in the
// platform. Producers create it once; the engine only reads it.
type SystemEvent struct {
	ID            string         `json:"id"`
	EventType     string         `json:"event_type"`
	EventCategory string         `json:"event_category"`
	Priority      Priority       `json:"priority"`
	SourceModule  string         `json:"source_module"`
	EntityType    string         `json:"entity_type,omitempty"`
	EntityID      string         `json:"entity_id,omitempty"`
	TenantID      string         `json:"tenant_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// New creates a SystemEvent with a generated id and creation timestamp.
func New(eventType, category string, priority Priority, sourceModule string, payload map[string]any) *SystemEvent {
	return &SystemEvent{
		ID:            uuid.NewString(),
		EventType:     eventType,
		EventCategory: category,
		Priority:      priority,
		SourceModule:  sourceModule,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	}
}

// Validate checks the structural requirements for an ingested event.
func (e *SystemEvent) Validate() error {
	if e.EventType == "" {
		return errors.WrapInvalid(
			fmt.Errorf("event_type is required"),
			"SystemEvent", "Validate", "check event_type")
	}
	if e.EventCategory == "" {
		return errors.WrapInvalid(
			fmt.Errorf("event_category is required"),
			"SystemEvent", "Validate", "check event_category")
	}
	if !e.Priority.Valid() {
		return errors.WrapInvalid(
			fmt.Errorf("unknown priority %q", e.Priority),
			"SystemEvent", "Validate", "check priority")
	}
	return nil
}

// Field resolves a dotted path against the event. Top-level segments map to
// the event's own fields; paths under "payload" descend into the structured
// payload. The second return value distinguishes an absent field (false)
// from a field present with a null value (true, nil).
func (e *SystemEvent) Field(path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	segments := strings.Split(path, ".")
	head, rest := segments[0], segments[1:]

	if len(rest) == 0 {
		switch head {
		case "id":
			return e.ID, true
		case "event_type":
			return e.EventType, true
		case "event_category":
			return e.EventCategory, true
		case "priority":
			return string(e.Priority), true
		case "source_module":
			return e.SourceModule, true
		case "entity_type":
			return e.EntityType, true
		case "entity_id":
			return e.EntityID, true
		case "tenant_id":
			return e.TenantID, true
		}
	}

	switch head {
	case "payload":
		if len(rest) == 0 {
			return e.Payload, true
		}
		return Resolve(e.Payload, rest)
	default:
		// Bare payload paths without the "payload." prefix are also
		// accepted, matching how operators author rule fields.
		return Resolve(e.Payload, segments)
	}
}

// Resolve walks a structured value by path segments. Intermediate segments
// must resolve to objects; anything else terminates the walk as absent.
func Resolve(root map[string]any, segments []string) (any, bool) {
	if root == nil {
		return nil, false
	}

	var current any = root
	for _, segment := range segments {
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
