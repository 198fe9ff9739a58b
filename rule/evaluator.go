package rule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/autoflow/event"
)

// EvaluateCondition evaluates a single condition against an event. It never
// returns an error: malformed conditions, unresolvable fields, and unknown
// operators all degrade to false so a bad rule silently does not fire.
func EvaluateCondition(cond Condition, e *event.SystemEvent) bool {
	if e == nil || cond.Field == "" {
		return false
	}

	value, found := e.Field(cond.Field)

	switch cond.Operator {
	case OpIsNull:
		return !found || value == nil
	case OpIsNotNull:
		return found && value != nil
	case OpEqual:
		// An absent field compares equal to a null literal only
		if !found {
			return cond.Value == nil
		}
		return looseEqual(value, cond.Value)
	case OpNotEqual:
		if !found {
			return cond.Value != nil
		}
		return !looseEqual(value, cond.Value)
	}

	// Remaining operators treat an absent field as non-matching
	if !found {
		return false
	}

	switch cond.Operator {
	case OpGreaterThan, OpGreaterEq, OpLessThan, OpLessEq:
		return compareNumeric(cond.Operator, value, cond.Value)
	case OpContains:
		return strings.Contains(toString(value), toString(cond.Value))
	case OpNotContains:
		return !strings.Contains(toString(value), toString(cond.Value))
	case OpStartsWith:
		return strings.HasPrefix(toString(value), toString(cond.Value))
	case OpEndsWith:
		return strings.HasSuffix(toString(value), toString(cond.Value))
	case OpIn:
		return inSet(value, cond.Value)
	case OpNotIn:
		return !inSet(value, cond.Value)
	default:
		// Unknown operator fails closed
		return false
	}
}

// Evaluate applies a condition set with AND/OR combination semantics. An
// empty rule list passes for either combinator.
func Evaluate(conditions Conditions, e *event.SystemEvent) bool {
	if len(conditions.Rules) == 0 {
		return true
	}

	switch strings.ToUpper(conditions.Logic) {
	case LogicOr:
		for _, cond := range conditions.Rules {
			if EvaluateCondition(cond, e) {
				return true
			}
		}
		return false
	default:
		// AND, including unspecified logic
		for _, cond := range conditions.Rules {
			if !EvaluateCondition(cond, e) {
				return false
			}
		}
		return true
	}
}

// looseEqual compares two values numerically when both sides coerce to
// numbers, otherwise by coerced string. Two nils are equal.
func looseEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	aNum, aOK := toNumber(a)
	bNum, bOK := toNumber(b)
	if aOK && bOK {
		return aNum == bNum
	}

	return toString(a) == toString(b)
}

// compareNumeric coerces both sides to numbers; a side that does not coerce
// makes the comparison false.
func compareNumeric(op string, a, b any) bool {
	aNum, aOK := toNumber(a)
	bNum, bOK := toNumber(b)
	if !aOK || !bOK {
		return false
	}

	switch op {
	case OpGreaterThan:
		return aNum > bNum
	case OpGreaterEq:
		return aNum >= bNum
	case OpLessThan:
		return aNum < bNum
	case OpLessEq:
		return aNum <= bNum
	default:
		return false
	}
}

// inSet tests string-based membership. The literal may be an array or a
// comma-separated string.
func inSet(value, literal any) bool {
	needle := toString(value)

	switch set := literal.(type) {
	case []any:
		for _, item := range set {
			if toString(item) == needle {
				return true
			}
		}
	case []string:
		for _, item := range set {
			if item == needle {
				return true
			}
		}
	case string:
		for _, item := range strings.Split(set, ",") {
			if strings.TrimSpace(item) == needle {
				return true
			}
		}
	}

	return false
}

// toNumber coerces a value to float64. Numeric strings and booleans coerce;
// anything else does not.
func toNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
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

// toString coerces a value to its string form. Nil becomes the empty string.
func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
