package condition

import (
	"fmt"
	"reflect"
	"strings"
)

// evaluateOperator compares an actual snapshot value with the expected
// value. An error means the operands are incompatible with the operator.
func evaluateOperator(op Operator, actual, expected interface{}) (bool, error) {
	switch op {
	case OpEquals:
		return evaluateEqual(actual, expected), nil

	case OpNotEquals:
		return !evaluateEqual(actual, expected), nil

	case OpGreaterThan:
		a, b, err := toNumeric(actual, expected)
		return err == nil && a > b, err

	case OpGreaterOrEqual:
		a, b, err := toNumeric(actual, expected)
		return err == nil && a >= b, err

	case OpLessThan:
		a, b, err := toNumeric(actual, expected)
		return err == nil && a < b, err

	case OpLessOrEqual:
		a, b, err := toNumeric(actual, expected)
		return err == nil && a <= b, err

	case OpIn:
		return evaluateIn(actual, expected)

	case OpContains:
		return evaluateContains(actual, expected)

	default:
		return false, fmt.Errorf("unknown operator: %q", op)
	}
}

// evaluateEqual compares numerically when both sides are numbers, so that
// an int from YAML equals a float64 from JSON.
func evaluateEqual(actual, expected interface{}) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}

	actualNum, actualErr := convertToFloat64(actual)
	expectedNum, expectedErr := convertToFloat64(expected)
	if actualErr == nil && expectedErr == nil {
		return actualNum == expectedNum
	}

	return reflect.DeepEqual(actual, expected)
}

func evaluateIn(actual, expected interface{}) (bool, error) {
	list := reflect.ValueOf(expected)
	if !isList(expected) {
		return false, fmt.Errorf("in operator requires a list value, got %T", expected)
	}

	for i := 0; i < list.Len(); i++ {
		if evaluateEqual(actual, list.Index(i).Interface()) {
			return true, nil
		}
	}
	return false, nil
}

// evaluateContains is a substring match on strings and an element match on
// lists.
func evaluateContains(actual, expected interface{}) (bool, error) {
	if s, ok := actual.(string); ok {
		sub, ok := expected.(string)
		if !ok {
			return false, fmt.Errorf("contains on a string requires a string value, got %T", expected)
		}
		return strings.Contains(s, sub), nil
	}

	if !isList(actual) {
		return false, fmt.Errorf("contains requires a string or list field, got %T", actual)
	}

	list := reflect.ValueOf(actual)
	for i := 0; i < list.Len(); i++ {
		if evaluateEqual(list.Index(i).Interface(), expected) {
			return true, nil
		}
	}
	return false, nil
}

func toNumeric(actual, expected interface{}) (float64, float64, error) {
	actualNum, err := convertToFloat64(actual)
	if err != nil {
		return 0, 0, fmt.Errorf("field value is not numeric: %w", err)
	}

	expectedNum, err := convertToFloat64(expected)
	if err != nil {
		return 0, 0, fmt.Errorf("condition value is not numeric: %w", err)
	}

	return actualNum, expectedNum, nil
}

func convertToFloat64(v interface{}) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int8:
		return float64(val), nil
	case int16:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint:
		return float64(val), nil
	case uint8:
		return float64(val), nil
	case uint16:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", v)
	}
}

func isNumeric(v interface{}) bool {
	_, err := convertToFloat64(v)
	return err == nil
}

func isList(v interface{}) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func isOrdering(op Operator) bool {
	switch op {
	case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual:
		return true
	}
	return false
}
