package condition

import (
	"errors"
	"fmt"
)

// Evaluate evaluates a condition tree against snapshot attributes.
// A nil tree always matches with an empty trace.
func Evaluate(root *Node, attrs map[string]interface{}) (bool, []LeafResult) {
	if root == nil {
		return true, nil
	}

	e := &evaluation{attrs: attrs}
	matched := e.node(root, "$")
	return matched, e.trace
}

type evaluation struct {
	attrs map[string]interface{}
	trace []LeafResult
}

func (e *evaluation) node(n *Node, path string) bool {
	switch n.Kind() {
	case KindLeaf:
		return e.leaf(n, path)

	case KindAllOf:
		// Short-circuit on first false.
		for i, child := range n.AllOf {
			if !e.node(child, childPath(path, KindAllOf, i)) {
				return false
			}
		}
		return true

	case KindAnyOf:
		// Short-circuit on first true.
		for i, child := range n.AnyOf {
			if e.node(child, childPath(path, KindAnyOf, i)) {
				return true
			}
		}
		return false

	case KindNoneOf:
		for i, child := range n.NoneOf {
			if e.node(child, childPath(path, KindNoneOf, i)) {
				return false
			}
		}
		return true

	default:
		e.trace = append(e.trace, LeafResult{
			Path:   path,
			Status: LeafInvalid,
			Reason: "node must be a leaf or exactly one of all_of, any_of, none_of",
		})
		return false
	}
}

func (e *evaluation) leaf(n *Node, path string) bool {
	op := n.Operator.Normalize()
	result := LeafResult{
		Path:     path,
		Field:    n.Field,
		Operator: op,
		Expected: n.Value,
	}

	if n.Field == "" {
		result.Status = LeafInvalid
		result.Reason = "field is empty"
		e.trace = append(e.trace, result)
		return false
	}
	if !op.Valid() {
		result.Status = LeafInvalid
		result.Reason = fmt.Sprintf("unknown operator %q", n.Operator)
		e.trace = append(e.trace, result)
		return false
	}

	actual, ok := lookupField(e.attrs, n.Field)
	if !ok {
		result.Status = LeafMissingField
		result.Reason = "field not present in snapshot"
		e.trace = append(e.trace, result)
		return false
	}
	result.Actual = actual

	matched, err := evaluateOperator(op, actual, n.Value)
	switch {
	case err != nil:
		result.Status = LeafInvalid
		result.Reason = err.Error()
	case matched:
		result.Matched = true
		result.Status = LeafMatched
	default:
		result.Status = LeafNotMatched
	}

	e.trace = append(e.trace, result)
	return result.Matched
}

func childPath(parent string, kind Kind, i int) string {
	if parent == "$" {
		return fmt.Sprintf("%s[%d]", kind, i)
	}
	return fmt.Sprintf("%s.%s[%d]", parent, kind, i)
}

// Validate checks a tree for structural problems. It reports the first
// malformed node or leaf. Evaluate tolerates the same problems, but
// policies are validated before they can be activated.
func Validate(root *Node) error {
	if root == nil {
		return nil
	}
	return validateNode(root, "$")
}

func validateNode(n *Node, path string) error {
	switch n.Kind() {
	case KindLeaf:
		if n.Field == "" {
			return NewConditionError(path, "field is empty")
		}
		op := n.Operator.Normalize()
		if !op.Valid() {
			return NewConditionError(path, fmt.Sprintf("unknown operator %q", n.Operator))
		}
		if op == OpIn && !isList(n.Value) {
			return NewConditionError(path, "in operator requires a list value")
		}
		if isOrdering(op) && !isNumeric(n.Value) {
			return NewConditionError(path, fmt.Sprintf("%s requires a numeric value", op))
		}
		return nil

	case KindAllOf, KindAnyOf, KindNoneOf:
		kind := n.Kind()
		for i, child := range n.Children() {
			if err := validateNode(child, childPath(path, kind, i)); err != nil {
				return err
			}
		}
		return nil

	default:
		return NewConditionError(path, "node must be a leaf or exactly one of all_of, any_of, none_of")
	}
}

// ErrMalformed is wrapped by every ConditionError.
var ErrMalformed = errors.New("malformed condition")

// ConditionError locates a structural problem in a tree.
type ConditionError struct {
	Path   string
	Reason string
}

// Error implements the error interface.
func (e *ConditionError) Error() string {
	return fmt.Sprintf("condition %s: %s", e.Path, e.Reason)
}

// Unwrap returns ErrMalformed.
func (e *ConditionError) Unwrap() error {
	return ErrMalformed
}

// NewConditionError creates a new condition error.
func NewConditionError(path, reason string) *ConditionError {
	return &ConditionError{Path: path, Reason: reason}
}
