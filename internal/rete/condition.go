package rete

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Operator is a leaf predicate operator.
type Operator string

const (
	OpEq         Operator = "=="
	OpNe         Operator = "!="
	OpGt         Operator = ">"
	OpLt         Operator = "<"
	OpGte        Operator = ">="
	OpLte        Operator = "<="
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
	OpRegex      Operator = "regex"
	OpExists     Operator = "exists"
	OpNotExists  Operator = "not_exists"
)

var operators = map[Operator]struct{}{
	OpEq: {}, OpNe: {}, OpGt: {}, OpLt: {}, OpGte: {}, OpLte: {},
	OpIn: {}, OpNotIn: {}, OpContains: {}, OpStartsWith: {}, OpEndsWith: {},
	OpRegex: {}, OpExists: {}, OpNotExists: {},
}

// Operators returns every supported operator in declaration order.
func Operators() []Operator {
	return []Operator{
		OpEq, OpNe, OpGt, OpLt, OpGte, OpLte, OpIn, OpNotIn,
		OpContains, OpStartsWith, OpEndsWith, OpRegex, OpExists, OpNotExists,
	}
}

func (o Operator) Valid() bool {
	_, ok := operators[o]
	return ok
}

// GroupOp combines child results.
type GroupOp string

const (
	And GroupOp = "AND"
	Or  GroupOp = "OR"
)

func (g GroupOp) Valid() bool { return g == And || g == Or }

// NodeKind tags a Condition as a group or a leaf.
type NodeKind uint8

const (
	NodeLeaf NodeKind = iota
	NodeGroup
)

// Leaf is a single field/operator/value predicate.
type Leaf struct {
	Field string
	Op    Operator
	Value Value
}

func (l Leaf) String() string {
	if l.Op == OpExists || l.Op == OpNotExists {
		return l.Field + " " + string(l.Op)
	}
	return fmt.Sprintf("%s %s %s", l.Field, l.Op, l.Value)
}

// Condition is a node of a rule's condition tree: either a Group or a Leaf.
type Condition struct {
	Kind     NodeKind
	Op       GroupOp
	Children []Condition
	Leaf     Leaf
}

func NewLeaf(field string, op Operator, value Value) Condition {
	return Condition{Kind: NodeLeaf, Leaf: Leaf{Field: field, Op: op, Value: value}}
}

func AllOf(children ...Condition) Condition {
	return Condition{Kind: NodeGroup, Op: And, Children: children}
}

func AnyOf(children ...Condition) Condition {
	return Condition{Kind: NodeGroup, Op: Or, Children: children}
}

func (c Condition) IsGroup() bool { return c.Kind == NodeGroup }

// Fields returns the distinct leaf fields referenced by the tree, in first-seen order.
func (c Condition) Fields() []string {
	seen := make(map[string]struct{})
	var out []string
	var walk func(Condition)
	walk = func(n Condition) {
		if n.Kind == NodeLeaf {
			if _, ok := seen[n.Leaf.Field]; !ok {
				seen[n.Leaf.Field] = struct{}{}
				out = append(out, n.Leaf.Field)
			}
			return
		}
		for _, child := range n.Children {
			walk(child)
		}
	}
	walk(c)
	return out
}

func (c Condition) String() string {
	if c.Kind == NodeLeaf {
		return c.Leaf.String()
	}
	parts := make([]string, len(c.Children))
	for i, child := range c.Children {
		parts[i] = child.String()
	}
	return "(" + strings.Join(parts, " "+string(c.Op)+" ") + ")"
}

type conditionJSON struct {
	Type     string          `json:"type"`
	Op       string          `json:"op"`
	Children []Condition     `json:"children,omitempty"`
	Field    string          `json:"field,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
}

func (c Condition) MarshalJSON() ([]byte, error) {
	if c.Kind == NodeGroup {
		children := c.Children
		if children == nil {
			children = []Condition{}
		}
		return json.Marshal(struct {
			Type     string      `json:"type"`
			Op       GroupOp     `json:"op"`
			Children []Condition `json:"children"`
		}{"group", c.Op, children})
	}
	return json.Marshal(struct {
		Type  string   `json:"type"`
		Field string   `json:"field"`
		Op    Operator `json:"op"`
		Value Value    `json:"value"`
	}{"condition", c.Leaf.Field, c.Leaf.Op, c.Leaf.Value})
}

// UnmarshalJSON decodes the serialized tree. Structural checks beyond the shape
// (operators, literal types, regex) happen in ValidateCondition.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw conditionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	nodeType := strings.ToLower(raw.Type)
	if nodeType == "" {
		if raw.Field != "" {
			nodeType = "condition"
		} else {
			nodeType = "group"
		}
	}

	switch nodeType {
	case "group":
		children := raw.Children
		if children == nil {
			children = []Condition{}
		}
		*c = Condition{Kind: NodeGroup, Op: GroupOp(strings.ToUpper(raw.Op)), Children: children}
	case "condition", "leaf":
		var v Value
		if len(raw.Value) > 0 {
			if err := v.UnmarshalJSON(raw.Value); err != nil {
				return fmt.Errorf("field %q: %w", raw.Field, err)
			}
		}
		*c = NewLeaf(raw.Field, Operator(strings.ToLower(raw.Op)), v)
	default:
		return fmt.Errorf("unknown condition node type %q", raw.Type)
	}
	return nil
}

// ParseCondition decodes a condition tree from its JSON form.
func ParseCondition(data []byte) (Condition, error) {
	var c Condition
	if err := json.Unmarshal(data, &c); err != nil {
		return Condition{}, err
	}
	return c, nil
}
