package rule

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/autoflow/errors"
)

// ValidationResult collects every problem found in a rule so the authoring
// surface can report them all at once instead of failing on the first.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// ValidateRule checks the authoring-time requirements for a rule. It never
// returns an error; problems are reported through the result.
func ValidateRule(r *AutomationRule) ValidationResult {
	var problems []string

	if r == nil {
		return ValidationResult{Valid: false, Errors: []string{"rule is required"}}
	}

	if r.RuleName == "" {
		problems = append(problems, "rule_name is required")
	}

	if len(r.TriggerEventTypes) == 0 {
		problems = append(problems, "at least one trigger event type is required")
	}

	if len(r.Actions) == 0 {
		problems = append(problems, "at least one action is required")
	}
	for i, action := range r.Actions {
		if action.ActionType == "" {
			problems = append(problems, fmt.Sprintf("actions[%d] missing action_type", i))
		}
	}

	for i, cond := range r.Conditions.Rules {
		if cond.Field == "" {
			problems = append(problems, fmt.Sprintf("conditions.rules[%d] missing field", i))
		}
		if cond.Operator == "" {
			problems = append(problems, fmt.Sprintf("conditions.rules[%d] missing operator", i))
		}
	}

	return ValidationResult{Valid: len(problems) == 0, Errors: problems}
}

// documentSchema structurally validates raw rule documents before decoding.
// Semantic checks (operator set, action types) remain in ValidateRule.
const documentSchema = `{
	"type": "object",
	"required": ["rule_name", "trigger_event_types", "actions"],
	"properties": {
		"id": {"type": "string"},
		"tenant_id": {"type": "string"},
		"rule_name": {"type": "string"},
		"trigger_event_types": {
			"type": "array",
			"items": {"type": "string"}
		},
		"conditions": {
			"type": "object",
			"properties": {
				"logic": {"type": "string"},
				"rules": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"field": {"type": "string"},
							"operator": {"type": "string"}
						}
					}
				}
			}
		},
		"actions": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"action_type": {"type": "string"},
					"config": {"type": "object"}
				}
			}
		},
		"priority": {"type": "integer", "minimum": 0, "maximum": 100},
		"execution_mode": {"type": "string", "enum": ["immediate", "scheduled", "delayed"]},
		"is_enabled": {"type": "boolean"}
	}
}`

var schemaLoader = gojsonschema.NewStringLoader(documentSchema)

// ValidateDocument checks a raw JSON rule document against the structural
// schema. Used by the loader before decoding stored rules.
func ValidateDocument(raw []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return errors.WrapInvalid(err, "Rule", "ValidateDocument", "run schema validation")
	}

	if !result.Valid() {
		msg := "rule document invalid"
		for _, desc := range result.Errors() {
			msg = fmt.Sprintf("%s; %s", msg, desc)
		}
		return errors.WrapInvalid(fmt.Errorf("%s", msg), "Rule", "ValidateDocument", "check schema")
	}

	return nil
}
