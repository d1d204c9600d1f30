package rete

import (
	"fmt"
	"regexp"
	"strings"
)

// Predicate is a validated leaf ready for evaluation. Regex patterns and numeric
// literals are prepared once here, never at match time.
type Predicate struct {
	leaf Leaf
	re   *regexp.Regexp
	num  float64
}

// CompilePredicate validates a leaf and prepares it for evaluation.
func CompilePredicate(l Leaf) (*Predicate, error) {
	if strings.TrimSpace(l.Field) == "" {
		return nil, fmt.Errorf("condition has an empty field")
	}
	if !l.Op.Valid() {
		return nil, fmt.Errorf("unknown operator %q on field %q", l.Op, l.Field)
	}

	p := &Predicate{leaf: l}
	lit := l.Value

	switch l.Op {
	case OpGt, OpLt, OpGte, OpLte:
		n, ok := lit.toNumber()
		if !ok {
			return nil, fmt.Errorf("operator %s on field %q needs a numeric literal, got %s", l.Op, l.Field, lit.Kind())
		}
		p.num = n
	case OpIn, OpNotIn:
		if lit.Kind() != KindArray {
			return nil, fmt.Errorf("operator %s on field %q needs an array literal, got %s", l.Op, l.Field, lit.Kind())
		}
		for i, item := range lit.Items() {
			if !item.IsScalar() {
				return nil, fmt.Errorf("operator %s on field %q: element %d is not a scalar", l.Op, l.Field, i)
			}
		}
	case OpContains:
		if !lit.IsScalar() || lit.IsNull() {
			return nil, fmt.Errorf("operator contains on field %q needs a scalar literal, got %s", l.Field, lit.Kind())
		}
	case OpStartsWith, OpEndsWith:
		if lit.Kind() != KindString {
			return nil, fmt.Errorf("operator %s on field %q needs a string literal, got %s", l.Op, l.Field, lit.Kind())
		}
	case OpRegex:
		pattern, ok := lit.AsString()
		if !ok {
			return nil, fmt.Errorf("operator regex on field %q needs a string pattern, got %s", l.Field, lit.Kind())
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex on field %q: %w", l.Field, err)
		}
		p.re = re
	case OpExists, OpNotExists:
		p.leaf.Value = Null()
	}

	return p, nil
}

func (p *Predicate) Leaf() Leaf { return p.leaf }

// Evaluate computes the predicate against a fact. It never panics and
// resolves undefined or ill-typed comparisons to false.
func (p *Predicate) Evaluate(f Fact) bool {
	v, present := f.Get(p.leaf.Field)

	switch p.leaf.Op {
	case OpExists:
		return present
	case OpNotExists:
		return !present
	}
	if !present || v.IsNull() {
		return false
	}

	lit := p.leaf.Value
	switch p.leaf.Op {
	case OpEq:
		return Equal(v, lit)
	case OpNe:
		return !Equal(v, lit)
	case OpGt, OpLt, OpGte, OpLte:
		n, ok := v.toNumber()
		if !ok {
			return false
		}
		return compareNumbers(p.leaf.Op, n, p.num)
	case OpIn:
		return v.IsScalar() && member(v, lit)
	case OpNotIn:
		return v.IsScalar() && !member(v, lit)
	case OpContains:
		if s, ok := v.AsString(); ok {
			sub, ok := lit.AsString()
			return ok && strings.Contains(s, sub)
		}
		if v.Kind() == KindArray {
			return member(lit, v)
		}
		return false
	case OpStartsWith:
		s, ok := v.AsString()
		prefix, _ := lit.AsString()
		return ok && strings.HasPrefix(s, prefix)
	case OpEndsWith:
		s, ok := v.AsString()
		suffix, _ := lit.AsString()
		return ok && strings.HasSuffix(s, suffix)
	case OpRegex:
		s, ok := v.text()
		return ok && p.re != nil && p.re.MatchString(s)
	}
	return false
}

func compareNumbers(op Operator, a, b float64) bool {
	switch op {
	case OpGt:
		return a > b
	case OpLt:
		return a < b
	case OpGte:
		return a >= b
	case OpLte:
		return a <= b
	}
	return false
}

func member(needle, haystack Value) bool {
	for _, item := range haystack.Items() {
		if Equal(needle, item) {
			return true
		}
	}
	return false
}
