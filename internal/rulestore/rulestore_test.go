package rulestore

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"fluxrules/internal/logger"
	"fluxrules/internal/rete"
)

const rulesYAML = `
rules:
  - id: R1
    name: High value
    group: fraud
    priority: 10
    enabled: true
    condition:
      type: group
      op: AND
      children:
        - {type: condition, field: amount, op: ">", value: 10000}
        - {type: condition, field: country, op: in, value: [NG, RU]}
    action:
      name: flag_for_review
      params:
        queue: manual
  - id: R2
    priority: 1
    enabled: false
    condition: {type: condition, field: email, op: exists}
    action: log_event
`

func TestMemorySource(t *testing.T) {
	rule := rete.Rule{ID: "R1", Enabled: true}
	src := NewMemory(rule)

	rules, err := src.LoadRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)

	rules[0].ID = "mutated"
	again, err := src.LoadRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "R1", again[0].ID)

	src.Set(nil)
	again, err = src.LoadRules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.LoadRules(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseRulesYAML(t *testing.T) {
	rules, err := ParseRules([]byte(rulesYAML))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	r1 := rules[0]
	assert.Equal(t, "R1", r1.ID)
	assert.Equal(t, "fraud", r1.Group)
	assert.Equal(t, 10, r1.Priority)
	assert.True(t, r1.Enabled)
	assert.Equal(t, "flag_for_review", r1.Action.Name)
	assert.Equal(t, "manual", r1.Action.Params["queue"])
	require.True(t, r1.Condition.IsGroup())
	require.Len(t, r1.Condition.Children, 2)

	amount := r1.Condition.Children[0].Leaf
	assert.Equal(t, rete.OpGt, amount.Op)
	n, ok := amount.Value.AsNumber()
	require.True(t, ok)
	assert.Equal(t, 10000.0, n)

	r2 := rules[1]
	assert.False(t, r2.Enabled)
	assert.Equal(t, "log_event", r2.Action.Name)
	assert.Equal(t, rete.OpExists, r2.Condition.Leaf.Op)
}

func TestParseRulesShapes(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		want    int
		wantErr bool
	}{
		{"empty document", "", 0, false},
		{"mapping without rules", "version: 1\n", 0, false},
		{"bare list", "- id: A\n  enabled: true\n  condition: {field: x, op: exists}\n  action: no_action\n", 1, false},
		{"json document", `{"rules":[{"id":"A","enabled":true,"condition":{"field":"x","op":"exists"},"action":"no_action"}]}`, 1, false},
		{"rules not a list", "rules: nope\n", 0, true},
		{"scalar document", "42\n", 0, true},
		{"broken yaml", "rules: [\n", 0, true},
		{"bad condition node", "- id: A\n  condition: {type: blob}\n  action: x\n", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := ParseRules([]byte(tt.doc))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, rules, tt.want)
		})
	}
}

func TestParseRulesDefaults(t *testing.T) {
	rules, err := ParseRules([]byte("- id: A\n  priority: 1\n  condition: {field: x, op: exists}\n  action: no_action\n" +
		"- id: 7\n  enabled: false\n  condition: {field: x, op: exists}\n  action: no_action\n"))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, "A", rules[0].ID)
	assert.True(t, rules[0].Enabled)
	assert.Equal(t, "7", rules[1].ID)
	assert.False(t, rules[1].Enabled)
}

func TestParseRulesNamesBadEntry(t *testing.T) {
	_, err := ParseRules([]byte("- id: A\n  condition: {field: x, op: exists}\n  action: no_action\n" +
		"- id: [1, 2]\n  condition: {field: x, op: exists}\n  action: no_action\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule #2")
	assert.Contains(t, err.Error(), "rule id must be a string or a number")
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0o600))

	src := NewFileSource(path)
	assert.Equal(t, "file", src.Name())

	rules, err := src.LoadRules(context.Background())
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	_, err = NewFileSource(filepath.Join(t.TempDir(), "missing.yaml")).LoadRules(context.Background())
	assert.Error(t, err)
}

func TestWatcherDebouncesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	w := NewWatcher(path, 50*time.Millisecond, logger.NopLogger())
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func(context.Context) error {
			calls.Add(1)
			return nil
		})
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0o600))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o600))

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestMongoDocumentToRule(t *testing.T) {
	condition, err := bson.Marshal(bson.D{
		{Key: "type", Value: "group"},
		{Key: "op", Value: "OR"},
		{Key: "children", Value: bson.A{
			bson.D{{Key: "field", Value: "amount"}, {Key: "op", Value: ">="}, {Key: "value", Value: int32(500)}},
			bson.D{{Key: "field", Value: "score"}, {Key: "op", Value: "<"}, {Key: "value", Value: 0.25}},
			bson.D{{Key: "field", Value: "tier"}, {Key: "op", Value: "in"}, {Key: "value", Value: bson.A{"gold", int64(3)}}},
		}},
	})
	require.NoError(t, err)

	params, err := bson.Marshal(bson.D{{Key: "url", Value: "http://hooks.local"}})
	require.NoError(t, err)

	doc := ruleDocument{
		ID:           "M1",
		Name:         "mongo rule",
		Priority:     3,
		Enabled:      true,
		Condition:    condition,
		Action:       "call_webhook",
		ActionParams: params,
	}

	rule, err := doc.toRule()
	require.NoError(t, err)

	assert.Equal(t, "M1", rule.ID)
	assert.Equal(t, "call_webhook", rule.Action.Name)
	assert.Equal(t, "http://hooks.local", rule.Action.Params["url"])

	require.Len(t, rule.Condition.Children, 3)
	n, ok := rule.Condition.Children[0].Leaf.Value.AsNumber()
	require.True(t, ok)
	assert.Equal(t, 500.0, n)
	n, ok = rule.Condition.Children[1].Leaf.Value.AsNumber()
	require.True(t, ok)
	assert.Equal(t, 0.25, n)

	tiers := rule.Condition.Children[2].Leaf.Value.Items()
	require.Len(t, tiers, 2)
	n, ok = tiers[1].AsNumber()
	require.True(t, ok)
	assert.Equal(t, 3.0, n)
}
