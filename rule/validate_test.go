package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRuleValid(t *testing.T) {
	result := ValidateRule(campaignRule())
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateRuleCollectsAllProblems(t *testing.T) {
	r := &AutomationRule{
		Conditions: Conditions{
			Logic: LogicAnd,
			Rules: []Condition{
				{Operator: OpEqual, Value: 1}, // missing field
				{Field: "payload.x"},          // missing operator
			},
		},
		Actions: []Action{{}}, // missing action_type
	}

	result := ValidateRule(r)
	require.False(t, result.Valid)

	// All problems surfaced at once for the editor
	assert.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors, "rule_name is required")
	assert.Contains(t, result.Errors, "at least one trigger event type is required")
	assert.Contains(t, result.Errors, "actions[0] missing action_type")
	assert.Contains(t, result.Errors, "conditions.rules[0] missing field")
	assert.Contains(t, result.Errors, "conditions.rules[1] missing operator")
}

func TestValidateRuleNil(t *testing.T) {
	result := ValidateRule(nil)
	assert.False(t, result.Valid)
}

func TestValidateRuleNoActions(t *testing.T) {
	r := campaignRule()
	r.Actions = nil

	result := ValidateRule(r)
	require.False(t, result.Valid)
	assert.Contains(t, result.Errors, "at least one action is required")
}

func TestValidateDocument(t *testing.T) {
	valid := []byte(`{
		"rule_name": "escalate critical risk",
		"trigger_event_types": ["risk_score_changed"],
		"conditions": {"logic": "AND", "rules": [{"field": "payload.score", "operator": "gt", "value": 80}]},
		"actions": [{"action_type": "create_task"}],
		"priority": 50,
		"is_enabled": true
	}`)
	assert.NoError(t, ValidateDocument(valid))
}

func TestValidateDocumentRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing required fields", `{"rule_name": "x"}`},
		{"wrong type for trigger_event_types", `{"rule_name": "x", "trigger_event_types": "not-an-array", "actions": []}`},
		{"priority out of range", `{"rule_name": "x", "trigger_event_types": ["a"], "actions": [], "priority": 200}`},
		{"bad execution_mode", `{"rule_name": "x", "trigger_event_types": ["a"], "actions": [], "execution_mode": "eventually"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, ValidateDocument([]byte(tt.doc)))
		})
	}
}
