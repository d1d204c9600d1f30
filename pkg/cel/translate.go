package cel

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"fluxrules/internal/rete"
)

// numericPattern matches the strings rule evaluation coerces to numbers.
const numericPattern = `^[-+]?([0-9]+\.?[0-9]*|\.[0-9]+)([eE][-+]?[0-9]+)?$`

// Translate renders a condition tree as a boolean CEL expression over the
// variable `fact`. The rendering never raises evaluation errors: missing
// fields, nulls and ill-typed values make the leaf false, and numeric
// strings compare as numbers.
func Translate(c rete.Condition) (string, error) {
	if c.Kind == rete.NodeLeaf {
		return translateLeaf(c.Leaf)
	}

	if !c.Op.Valid() {
		return "", fmt.Errorf("unknown group operator %q", c.Op)
	}
	if len(c.Children) == 0 {
		if c.Op == rete.And {
			return "true", nil
		}
		return "false", nil
	}

	parts := make([]string, len(c.Children))
	for i, child := range c.Children {
		expr, err := Translate(child)
		if err != nil {
			return "", err
		}
		parts[i] = expr
	}
	if len(parts) == 1 {
		return parts[0], nil
	}

	sep := " && "
	if c.Op == rete.Or {
		sep = " || "
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func translateLeaf(l rete.Leaf) (string, error) {
	if l.Field == "" {
		return "", fmt.Errorf("condition field is empty")
	}
	if !l.Op.Valid() {
		return "", fmt.Errorf("unknown operator %q on field %q", l.Op, l.Field)
	}

	name := quote(l.Field)
	x := "fact[" + name + "]"
	present := name + " in fact"

	switch l.Op {
	case rete.OpExists:
		return present, nil
	case rete.OpNotExists:
		return "!(" + present + ")", nil
	}

	pred, err := leafPredicate(x, l)
	if err != nil {
		return "", err
	}
	if pred == "false" {
		return pred, nil
	}
	return fmt.Sprintf("(%s && %s != null && %s)", present, x, pred), nil
}

// leafPredicate renders the comparison for a present, non-null value.
func leafPredicate(x string, l rete.Leaf) (string, error) {
	lit := l.Value

	switch l.Op {
	case rete.OpEq:
		return equals(x, lit), nil
	case rete.OpNe:
		return "!(" + equals(x, lit) + ")", nil

	case rete.OpGt, rete.OpLt, rete.OpGte, rete.OpLte:
		n, ok := lit.Numeric()
		if !ok {
			return "", fmt.Errorf("operator %s on field %q needs a numeric value", l.Op, l.Field)
		}
		return numeric(x, string(l.Op)+" "+number(n)), nil

	case rete.OpIn, rete.OpNotIn:
		if lit.Kind() != rete.KindArray {
			return "", fmt.Errorf("operator %s on field %q needs an array value", l.Op, l.Field)
		}
		alternatives := make([]string, 0, len(lit.Items()))
		for _, item := range lit.Items() {
			if eq := equals(x, item); eq != "false" {
				alternatives = append(alternatives, eq)
			}
		}
		member := "false"
		if len(alternatives) > 0 {
			member = strings.Join(alternatives, " || ")
		}
		if l.Op == rete.OpIn {
			if member == "false" {
				return "false", nil
			}
			return fmt.Sprintf("type(%s) != list && (%s)", x, member), nil
		}
		return fmt.Sprintf("type(%s) != list && !(%s)", x, member), nil

	case rete.OpContains:
		if s, ok := lit.AsString(); ok {
			return fmt.Sprintf("(type(%[1]s) == string ? %[1]s.contains(%[2]s) : type(%[1]s) == list && %[2]s in %[1]s)",
				x, quote(s)), nil
		}
		if lit.IsNull() || !lit.IsScalar() {
			return "", fmt.Errorf("operator contains on field %q needs a scalar value", l.Field)
		}
		return fmt.Sprintf("type(%[1]s) == list && %[2]s in %[1]s", x, literal(lit)), nil

	case rete.OpStartsWith, rete.OpEndsWith:
		s, ok := lit.AsString()
		if !ok {
			return "", fmt.Errorf("operator %s on field %q needs a string value", l.Op, l.Field)
		}
		method := "startsWith"
		if l.Op == rete.OpEndsWith {
			method = "endsWith"
		}
		return fmt.Sprintf("type(%[1]s) == string && %[1]s.%[2]s(%[3]s)", x, method, quote(s)), nil

	case rete.OpRegex:
		s, ok := lit.AsString()
		if !ok {
			return "", fmt.Errorf("operator regex on field %q needs a string pattern", l.Field)
		}
		re := quote(s)
		return fmt.Sprintf("(type(%[1]s) == string ? %[1]s.matches(%[2]s) : (type(%[1]s) == double || type(%[1]s) == bool) && string(%[1]s).matches(%[2]s))",
			x, re), nil
	}

	return "", fmt.Errorf("unsupported operator %q", l.Op)
}

// equals mirrors rule equality: numbers compare numerically against numbers
// and numeric strings, everything else compares structurally.
func equals(x string, lit rete.Value) string {
	switch lit.Kind() {
	case rete.KindNull:
		return "false"
	case rete.KindNumber:
		n, _ := lit.AsNumber()
		return numeric(x, "== "+number(n))
	case rete.KindString:
		s, _ := lit.AsString()
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return fmt.Sprintf("(type(%[1]s) == double ? %[1]s == %[2]s : %[1]s == %[3]s)", x, number(f), quote(s))
		}
		return x + " == " + quote(s)
	default:
		return x + " == " + literal(lit)
	}
}

// numeric applies a comparison to the value read as a number.
func numeric(x, cmp string) string {
	return fmt.Sprintf("(type(%[1]s) == double ? %[1]s %[2]s : type(%[1]s) == string && %[1]s.matches(%[3]s) && double(%[1]s) %[2]s)",
		x, cmp, quote(numericPattern))
}

func literal(v rete.Value) string {
	switch v.Kind() {
	case rete.KindNumber:
		n, _ := v.AsNumber()
		return number(n)
	case rete.KindString:
		s, _ := v.AsString()
		return quote(s)
	case rete.KindBool:
		b, _ := v.AsBool()
		return strconv.FormatBool(b)
	case rete.KindArray:
		items := make([]string, len(v.Items()))
		for i, item := range v.Items() {
			items[i] = literal(item)
		}
		return "[" + strings.Join(items, ", ") + "]"
	default:
		return "null"
	}
}

// number renders a CEL double literal.
func number(n float64) string {
	switch {
	case math.IsNaN(n):
		return `double("NaN")`
	case math.IsInf(n, 1):
		return `double("Infinity")`
	case math.IsInf(n, -1):
		return `double("-Infinity")`
	}
	s := strconv.FormatFloat(n, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEIN") {
		s += ".0"
	}
	return s
}

func quote(s string) string {
	return strconv.Quote(s)
}
