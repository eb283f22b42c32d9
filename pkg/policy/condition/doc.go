// Package condition evaluates declarative condition trees against entity
// snapshots.
//
// A tree is built from two kinds of node: leaf predicates of the form
// {field, operator, value} and the combinators all_of, any_of and none_of.
// Evaluation is pure and deterministic. It never fails for a well-formed
// tree: a leaf that references a missing field does not match, and a leaf
// whose operator cannot be applied to its operands is recorded as invalid
// and treated as non-matching.
//
// Combinators short-circuit. The returned trace lists only the leaves that
// were actually evaluated, in evaluation order, so a reader of an execution
// record can see exactly why a policy did or did not match.
//
// Example:
//
//	tree := condition.AllOf(
//	    condition.Leaf("odometer", condition.OpGreaterOrEqual, 5000),
//	    condition.Leaf("status", condition.OpNotEquals, "retired"),
//	)
//	matched, trace := condition.Evaluate(tree, snapshot.Attributes)
package condition
