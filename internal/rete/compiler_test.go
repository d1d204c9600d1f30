package rete

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "fluxrules/pkg/errors"
)

type actionSet map[string]bool

func (s actionSet) Has(name string) bool { return s[name] }

func rule(id string, priority int, group string, cond Condition, action string) Rule {
	return Rule{
		ID:        id,
		Name:      "rule " + id,
		Group:     group,
		Priority:  priority,
		Enabled:   true,
		Condition: cond,
		Action:    Action{Name: action},
	}
}

func bigAmount() Condition { return NewLeaf("amount", OpGt, Number(10000)) }

func TestCompileSharesIdenticalLeaves(t *testing.T) {
	const n = 25
	rules := make([]Rule, 0, n)
	for i := 0; i < n; i++ {
		cond := AllOf(bigAmount(), NewLeaf("merchant", OpEq, String(fmt.Sprintf("m%d", i))))
		rules = append(rules, rule(fmt.Sprintf("R%02d", i), i, "", cond, "flag"))
	}

	net, err := Compile(rules)
	require.NoError(t, err)

	stats := net.Stats()
	assert.Equal(t, n+1, stats.AlphaNodes, "one shared amount node plus one merchant node per rule")
	assert.Equal(t, n, stats.BetaNodes)
	assert.Equal(t, n, stats.TerminalNodes)
	assert.Equal(t, n-1, stats.SharedAlphaRefs)

	shared := net.Alphas()[0]
	assert.Equal(t, LeafKey(bigAmount().Leaf), shared.Key)
	assert.Len(t, shared.Dependents, n)

	res, err := net.Evaluate(MustFact(map[string]interface{}{"amount": 20000, "merchant": "m3"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"R03"}, res.RuleIDs())
	assert.Equal(t, n+1, res.Stats.AlphaEvaluations, "shared predicate evaluated once")
}

func TestCompileSharesSubtrees(t *testing.T) {
	us := NewLeaf("country", OpEq, String("US"))
	sub := AllOf(bigAmount(), us)

	net, err := Compile([]Rule{
		rule("A", 1, "", AnyOf(sub, NewLeaf("vip", OpEq, Bool(true))), "flag"),
		rule("B", 1, "", sub, "flag"),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, net.Stats().BetaNodes)
	assert.Equal(t, 1, net.Stats().SharedBetaRefs)

	termB, ok := net.Terminal("B")
	require.True(t, ok)
	assert.Equal(t, RefBeta, termB.Root.Kind)
	assert.Equal(t, []int{0, 1}, net.Dependents(termB.Root))
}

func TestCompileSkipsDisabledRules(t *testing.T) {
	disabled := rule("OFF", 1, "", NewLeaf("amount", OpRegex, String("(")), "flag")
	disabled.Enabled = false

	net, err := Compile([]Rule{rule("ON", 1, "", bigAmount(), "flag"), disabled})
	require.NoError(t, err)
	assert.Equal(t, 1, net.Stats().TerminalNodes)
	_, ok := net.Terminal("OFF")
	assert.False(t, ok)
}

func TestCompileFailsAtomically(t *testing.T) {
	tests := []struct {
		name   string
		bad    Rule
		opts   []CompileOption
		reason string
	}{
		{"unknown operator", rule("BAD", 1, "", NewLeaf("amount", Operator("approx"), Number(1)), "flag"), nil, "unknown operator"},
		{"ill typed literal", rule("BAD", 1, "", NewLeaf("amount", OpLt, String("many")), "flag"), nil, "numeric literal"},
		{"bad regex", rule("BAD", 1, "", AllOf(bigAmount(), NewLeaf("email", OpRegex, String("[a-"))), "flag"), nil, "invalid regex"},
		{"bad group op", rule("BAD", 1, "", Condition{Kind: NodeGroup, Op: "XOR"}, "flag"), nil, "unknown group operator"},
		{"unresolved action", rule("BAD", 1, "", bigAmount(), "teleport"), []CompileOption{WithActionResolver(actionSet{"flag": true})}, "unknown action"},
		{"duplicate id", rule("GOOD", 1, "", bigAmount(), "flag"), nil, "duplicate rule id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := []Rule{rule("GOOD", 5, "", bigAmount(), "flag"), tt.bad}

			net, err := Compile(rules, tt.opts...)
			require.Error(t, err)
			assert.Nil(t, net)
			assert.True(t, apperrors.IsRuleValidation(err))
			assert.Equal(t, tt.bad.ID, apperrors.RuleID(err))
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	rules := []Rule{
		rule("R1", 10, "fraud", AllOf(bigAmount(), NewLeaf("country", OpEq, String("US"))), "flag"),
		rule("R2", 5, "fraud", bigAmount(), "alert"),
		rule("R3", 5, "", AnyOf(NewLeaf("email", OpEndsWith, String(".ru")), bigAmount()), "alert"),
	}

	first, err := Compile(rules)
	require.NoError(t, err)
	second, err := Compile(rules)
	require.NoError(t, err)

	assert.Equal(t, first.Stats(), second.Stats())
	fact := MustFact(map[string]interface{}{"amount": 50000, "country": "US"})
	r1, err := first.Evaluate(fact)
	require.NoError(t, err)
	r2, err := second.Evaluate(fact)
	require.NoError(t, err)
	assert.Equal(t, r1.RuleIDs(), r2.RuleIDs())
	assert.Equal(t, r1.Stats.AlphaEvaluations, r2.Stats.AlphaEvaluations)
}

func TestValidateRule(t *testing.T) {
	resolver := actionSet{"flag": true}

	assert.NoError(t, ValidateRule(rule("R1", 1, "", bigAmount(), "flag"), resolver))

	disabled := rule("R2", 1, "", NewLeaf("amount", OpGt, String("x")), "flag")
	disabled.Enabled = false
	err := ValidateRule(disabled, resolver)
	require.Error(t, err, "disabled rules are still validated before save")
	assert.Equal(t, "R2", apperrors.RuleID(err))

	assert.Error(t, ValidateRule(rule("", 1, "", bigAmount(), "flag"), resolver))
	assert.Error(t, ValidateRule(rule("R3", 1, "", bigAmount(), ""), resolver))
}
