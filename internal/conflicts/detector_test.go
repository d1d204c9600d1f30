package conflicts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fluxrules/internal/rete"
)

func amountEq(v float64) rete.Condition {
	return rete.NewLeaf("amount", rete.OpEq, rete.Number(v))
}

func rule(id, group string, priority int, enabled bool, cond rete.Condition) rete.Rule {
	return rete.Rule{
		ID:        id,
		Name:      id,
		Group:     group,
		Priority:  priority,
		Enabled:   enabled,
		Condition: cond,
		Action:    rete.Action{Name: "log_event"},
	}
}

func TestDetect_DuplicateConditions(t *testing.T) {
	rules := []rete.Rule{
		rule("r1", "", 1, true, amountEq(100)),
		rule("r2", "", 2, true, amountEq(100)),
		rule("r3", "", 3, true, amountEq(200)),
	}

	report := Detect(rules)

	require.Len(t, report.DuplicateConditions, 1)
	dup := report.DuplicateConditions[0]
	assert.Equal(t, "r1", dup.RuleA)
	assert.Equal(t, "r2", dup.RuleB)
	assert.Equal(t, "amount == 100", dup.Condition)
	assert.Empty(t, report.PriorityCollisions)
}

func TestDetect_DuplicatesReportedAsAllPairs(t *testing.T) {
	rules := []rete.Rule{
		rule("c", "", 1, true, amountEq(1)),
		rule("a", "", 2, true, amountEq(1)),
		rule("b", "", 3, true, amountEq(1)),
	}

	report := Detect(rules)

	require.Len(t, report.DuplicateConditions, 3)
	assert.Equal(t, []Pair{
		{A: "a", B: "b", Type: TypeDuplicateCondition},
		{A: "a", B: "c", Type: TypeDuplicateCondition},
		{A: "b", B: "c", Type: TypeDuplicateCondition},
	}, report.Pairs())
}

func TestDetect_ChildOrderMatters(t *testing.T) {
	x := rete.NewLeaf("x", rete.OpExists, rete.Null())
	y := rete.NewLeaf("y", rete.OpExists, rete.Null())
	rules := []rete.Rule{
		rule("r1", "g", 1, true, rete.AllOf(x, y)),
		rule("r2", "g", 2, true, rete.AllOf(y, x)),
	}

	assert.Empty(t, Detect(rules).DuplicateConditions)
}

func TestDetect_PriorityCollisions(t *testing.T) {
	rules := []rete.Rule{
		rule("r1", "fraud", 7, true, amountEq(1)),
		rule("r2", "fraud", 7, true, amountEq(2)),
		rule("r3", "fraud", 7, false, amountEq(3)),
		rule("r4", "fraud", 8, true, amountEq(4)),
	}

	report := Detect(rules)

	require.Len(t, report.PriorityCollisions, 1)
	c := report.PriorityCollisions[0]
	assert.Equal(t, "fraud", c.Group)
	assert.Equal(t, 7, c.Priority)
	assert.Equal(t, []string{"r1", "r2"}, c.RuleIDs)
}

func TestDetect_CollisionSetIsComplete(t *testing.T) {
	rules := []rete.Rule{
		rule("r3", "", 5, true, amountEq(3)),
		rule("r1", "", 5, true, amountEq(1)),
		rule("r2", "", 5, true, amountEq(2)),
	}

	report := Detect(rules)

	require.Len(t, report.PriorityCollisions, 1)
	assert.Equal(t, "default", report.PriorityCollisions[0].Group)
	assert.Equal(t, []string{"r1", "r2", "r3"}, report.PriorityCollisions[0].RuleIDs)
	assert.Len(t, report.Pairs(), 3)
}

func TestDetect_NullGroupMatchesDefaultSentinel(t *testing.T) {
	rules := []rete.Rule{
		rule("r1", "", 5, true, amountEq(1)),
		rule("r2", "default", 5, true, amountEq(2)),
	}

	report := Detect(rules)

	require.Len(t, report.PriorityCollisions, 1)
	assert.Equal(t, []string{"r1", "r2"}, report.PriorityCollisions[0].RuleIDs)
}

func TestDetect_DisabledRulesExcluded(t *testing.T) {
	rules := []rete.Rule{
		rule("r1", "g", 1, true, amountEq(1)),
		rule("r2", "g", 1, false, amountEq(1)),
	}

	report := Detect(rules)

	assert.True(t, report.Empty())
	assert.Equal(t, 0, report.Total())
}

func TestDetect_Deterministic(t *testing.T) {
	rules := []rete.Rule{
		rule("b", "g2", 1, true, amountEq(1)),
		rule("a", "g1", 1, true, amountEq(1)),
		rule("d", "g1", 1, true, amountEq(2)),
		rule("c", "g2", 1, true, amountEq(3)),
	}

	first := Detect(rules)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Detect(rules))
	}
	require.Len(t, first.PriorityCollisions, 2)
	assert.Equal(t, "g1", first.PriorityCollisions[0].Group)
	assert.Equal(t, "g2", first.PriorityCollisions[1].Group)
}

func TestCheckCandidate(t *testing.T) {
	active := []rete.Rule{
		rule("r1", "fraud", 7, true, amountEq(100)),
		rule("r2", "fraud", 3, true, amountEq(300)),
		rule("r3", "fraud", 4, true, amountEq(400)),
		rule("r4", "fraud", 4, true, amountEq(500)),
	}

	tests := []struct {
		name       string
		candidate  rete.Rule
		duplicates int
		collisions int
	}{
		{
			name:       "duplicate and collision",
			candidate:  rule("new", "fraud", 7, true, amountEq(100)),
			duplicates: 1,
			collisions: 1,
		},
		{
			name:      "no conflicts",
			candidate: rule("new", "fraud", 9, true, amountEq(999)),
		},
		{
			name:      "update of itself is not a conflict",
			candidate: rule("r1", "fraud", 7, true, amountEq(100)),
		},
		{
			name:      "disabled candidate",
			candidate: rule("new", "fraud", 7, false, amountEq(100)),
		},
		{
			name:       "existing collisions between others are not reported",
			candidate:  rule("new", "other", 1, true, amountEq(1)),
			duplicates: 0,
			collisions: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := CheckCandidate(active, tt.candidate)
			assert.Len(t, report.DuplicateConditions, tt.duplicates)
			assert.Len(t, report.PriorityCollisions, tt.collisions)
		})
	}
}

func TestReport_Descriptions(t *testing.T) {
	report := Detect([]rete.Rule{
		rule("r1", "fraud", 7, true, amountEq(100)),
		rule("r2", "fraud", 7, true, amountEq(100)),
	})

	lines := report.Descriptions()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "r1 and r2")
	assert.Contains(t, lines[1], `group "fraud"`)
}
