package rete

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "fluxrules/pkg/errors"
)

func fraudRules() []Rule {
	return []Rule{
		rule("R1", 10, "fraud", AllOf(bigAmount(), NewLeaf("country", OpEq, String("US"))), "flag"),
		rule("R2", 5, "fraud", bigAmount(), "alert"),
	}
}

func TestEvaluateEndToEnd(t *testing.T) {
	net, err := Compile(fraudRules())
	require.NoError(t, err)

	tests := []struct {
		name string
		fact map[string]interface{}
		want []string
	}{
		{"both match", map[string]interface{}{"amount": 15000, "country": "US"}, []string{"R1", "R2"}},
		{"below threshold", map[string]interface{}{"amount": 5000, "country": "US"}, []string{}},
		{"other country", map[string]interface{}{"amount": 20000, "country": "CA"}, []string{"R2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := net.Evaluate(MustFact(tt.fact))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.RuleIDs())
		})
	}
}

func TestEvaluatePriorityOrdering(t *testing.T) {
	net, err := Compile([]Rule{
		rule("A", 5, "", bigAmount(), "flag"),
		rule("B", 10, "", bigAmount(), "flag"),
		rule("C", 1, "", bigAmount(), "flag"),
	})
	require.NoError(t, err)

	res, err := net.Evaluate(MustFact(map[string]interface{}{"amount": 99999}))
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A", "C"}, res.RuleIDs())
	assert.Equal(t, 1, res.Stats.AlphaEvaluations)
}

func TestEvaluateTieBreaks(t *testing.T) {
	net, err := Compile([]Rule{
		rule("r3", 7, "b", bigAmount(), "flag"),
		rule("r2", 7, "a", bigAmount(), "flag"),
		rule("r1", 7, "b", bigAmount(), "flag"),
		rule("r0", 7, "", bigAmount(), "flag"),
	})
	require.NoError(t, err)

	res, err := net.Evaluate(MustFact(map[string]interface{}{"amount": 10001}))
	require.NoError(t, err)
	assert.Equal(t, []string{"r0", "r2", "r1", "r3"}, res.RuleIDs())
}

func TestEvaluateExplanations(t *testing.T) {
	net, err := Compile([]Rule{
		rule("AND", 2, "", AllOf(bigAmount(), NewLeaf("country", OpEq, String("US"))), "flag"),
		rule("OR", 1, "", AnyOf(
			NewLeaf("country", OpEq, String("CA")),
			NewLeaf("email", OpExists, Null()),
			bigAmount(),
		), "flag"),
	})
	require.NoError(t, err)

	res, err := net.Evaluate(MustFact(map[string]interface{}{"amount": 15000, "country": "US", "email": "a@b.c"}))
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)

	andExpl := res.Matches[0].Explanations
	require.Len(t, andExpl, 2)
	assert.Equal(t, "amount=15000 > 10000", andExpl[0].String())
	assert.Equal(t, `country="US" == "US"`, andExpl[1].String())

	orExpl := res.Matches[1].Explanations
	require.Len(t, orExpl, 1, "only the first satisfying branch of an OR")
	assert.Equal(t, "email exists", orExpl[0].String())
}

func TestEvaluateShortCircuit(t *testing.T) {
	net, err := Compile([]Rule{
		rule("R", 1, "", AllOf(
			NewLeaf("country", OpEq, String("US")),
			bigAmount(),
			NewLeaf("email", OpEndsWith, String(".ru")),
		), "flag"),
	})
	require.NoError(t, err)

	res, err := net.Evaluate(MustFact(map[string]interface{}{"country": "CA", "amount": 20000}))
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
	assert.Equal(t, 1, res.Stats.AlphaEvaluations)
	assert.Equal(t, 1, res.Stats.BetaEvaluations)
}

func TestEvaluateEmptyGroups(t *testing.T) {
	net, err := Compile([]Rule{
		rule("ALWAYS", 1, "", AllOf(), "flag"),
		rule("NEVER", 1, "", AnyOf(), "flag"),
	})
	require.NoError(t, err)

	res, err := net.Evaluate(MustFact(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"ALWAYS"}, res.RuleIDs())
	assert.Empty(t, res.Matches[0].Explanations)
}

func TestEvaluateRulesSubset(t *testing.T) {
	net, err := Compile(fraudRules())
	require.NoError(t, err)

	fact := MustFact(map[string]interface{}{"amount": 15000, "country": "US"})

	res, err := net.EvaluateRules(fact, []string{"R2", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"R2"}, res.RuleIDs())

	res, err = net.EvaluateRules(fact, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"R1", "R2"}, res.RuleIDs())
}

func TestEvaluateInvariantViolationAbortsOnlyThatCall(t *testing.T) {
	net, err := Compile(fraudRules())
	require.NoError(t, err)

	broken := *net
	broken.terminals = append([]Terminal(nil), net.terminals...)
	broken.terminals[0].Root = NodeRef{Kind: RefBeta, Index: 42}

	fact := MustFact(map[string]interface{}{"amount": 15000, "country": "US"})
	res, err := broken.Evaluate(fact)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, apperrors.ErrInternal.Code, err.(*apperrors.Error).Code)

	res, err = net.Evaluate(fact)
	require.NoError(t, err)
	assert.Equal(t, []string{"R1", "R2"}, res.RuleIDs())
}

func TestEvaluateConcurrent(t *testing.T) {
	net, err := Compile(fraudRules())
	require.NoError(t, err)

	fact := MustFact(map[string]interface{}{"amount": 15000, "country": "US"})
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := net.Evaluate(fact)
			assert.NoError(t, err)
			assert.Equal(t, []string{"R1", "R2"}, res.RuleIDs())
		}()
	}
	wg.Wait()
}

func TestEmptyNetwork(t *testing.T) {
	res, err := EmptyNetwork().Evaluate(MustFact(map[string]interface{}{"a": 1}))
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
}
