package condition

import "fmt"

// Operator is a leaf comparison operator.
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "not_equals"
	OpGreaterThan    Operator = "greater_than"
	OpGreaterOrEqual Operator = "greater_or_equal"
	OpLessThan       Operator = "less_than"
	OpLessOrEqual    Operator = "less_or_equal"
	OpIn             Operator = "in"
	OpContains       Operator = "contains"
)

// operatorAliases maps the symbolic spellings accepted in policy files.
var operatorAliases = map[Operator]Operator{
	"==": OpEquals,
	"!=": OpNotEquals,
	">":  OpGreaterThan,
	">=": OpGreaterOrEqual,
	"<":  OpLessThan,
	"<=": OpLessOrEqual,
}

// Normalize resolves symbolic aliases to the canonical operator name.
func (o Operator) Normalize() Operator {
	if canonical, ok := operatorAliases[o]; ok {
		return canonical
	}
	return o
}

// Valid reports whether the operator is supported.
func (o Operator) Valid() bool {
	switch o.Normalize() {
	case OpEquals, OpNotEquals, OpGreaterThan, OpGreaterOrEqual,
		OpLessThan, OpLessOrEqual, OpIn, OpContains:
		return true
	}
	return false
}

// Kind classifies a node.
type Kind string

const (
	KindLeaf    Kind = "leaf"
	KindAllOf   Kind = "all_of"
	KindAnyOf   Kind = "any_of"
	KindNoneOf  Kind = "none_of"
	KindInvalid Kind = "invalid"
)

// Node is one node of a condition tree. Exactly one of the leaf fields
// (Field/Operator/Value) or one combinator list is set.
type Node struct {
	Field    string      `json:"field,omitempty" yaml:"field,omitempty"`
	Operator Operator    `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    interface{} `json:"value,omitempty" yaml:"value,omitempty"`

	AllOf  []*Node `json:"all_of,omitempty" yaml:"all_of,omitempty"`
	AnyOf  []*Node `json:"any_of,omitempty" yaml:"any_of,omitempty"`
	NoneOf []*Node `json:"none_of,omitempty" yaml:"none_of,omitempty"`
}

// Kind returns the node's variant.
func (n *Node) Kind() Kind {
	if n == nil {
		return KindInvalid
	}

	isLeaf := n.Field != "" || n.Operator != ""
	groups := 0
	kind := KindInvalid
	if n.AllOf != nil {
		groups++
		kind = KindAllOf
	}
	if n.AnyOf != nil {
		groups++
		kind = KindAnyOf
	}
	if n.NoneOf != nil {
		groups++
		kind = KindNoneOf
	}

	switch {
	case isLeaf && groups == 0:
		return KindLeaf
	case !isLeaf && groups == 1:
		return kind
	default:
		return KindInvalid
	}
}

// Children returns the child list of a combinator node.
func (n *Node) Children() []*Node {
	switch n.Kind() {
	case KindAllOf:
		return n.AllOf
	case KindAnyOf:
		return n.AnyOf
	case KindNoneOf:
		return n.NoneOf
	}
	return nil
}

// Leaf builds a leaf predicate.
func Leaf(field string, op Operator, value interface{}) *Node {
	return &Node{Field: field, Operator: op, Value: value}
}

// AllOf builds an all_of combinator.
func AllOf(children ...*Node) *Node {
	return &Node{AllOf: nonNil(children)}
}

// AnyOf builds an any_of combinator.
func AnyOf(children ...*Node) *Node {
	return &Node{AnyOf: nonNil(children)}
}

// NoneOf builds a none_of combinator.
func NoneOf(children ...*Node) *Node {
	return &Node{NoneOf: nonNil(children)}
}

func nonNil(children []*Node) []*Node {
	if children == nil {
		return []*Node{}
	}
	return children
}

// LeafStatus is the outcome of evaluating one leaf.
type LeafStatus string

const (
	LeafMatched      LeafStatus = "matched"
	LeafNotMatched   LeafStatus = "not_matched"
	LeafMissingField LeafStatus = "missing_field"
	LeafInvalid      LeafStatus = "invalid"
)

// LeafResult records the evaluation of a single leaf.
type LeafResult struct {
	// Path locates the leaf in the tree, e.g. "all_of[1].any_of[0]".
	Path     string      `json:"path"`
	Field    string      `json:"field,omitempty"`
	Operator Operator    `json:"operator,omitempty"`
	Expected interface{} `json:"expected,omitempty"`
	Actual   interface{} `json:"actual,omitempty"`
	Matched  bool        `json:"matched"`
	Status   LeafStatus  `json:"status"`
	Reason   string      `json:"reason,omitempty"`
}

// Invalid reports whether the leaf was malformed.
func (r LeafResult) Invalid() bool {
	return r.Status == LeafInvalid
}

// String renders the leaf for logs and CLI output.
func (r LeafResult) String() string {
	s := fmt.Sprintf("%s: %s %s %v => %s", r.Path, r.Field, r.Operator, r.Expected, r.Status)
	if r.Reason != "" {
		s += " (" + r.Reason + ")"
	}
	return s
}
