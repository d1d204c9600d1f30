package rete

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fraudCondition = `{
  "type": "group",
  "op": "and",
  "children": [
    {"type": "condition", "field": "amount", "op": ">", "value": 10000},
    {"type": "group", "op": "OR", "children": [
      {"type": "condition", "field": "country", "op": "IN", "value": ["US", "CA"]},
      {"type": "condition", "field": "email", "op": "exists"}
    ]}
  ]
}`

func TestParseCondition(t *testing.T) {
	c, err := ParseCondition([]byte(fraudCondition))
	require.NoError(t, err)

	require.True(t, c.IsGroup())
	assert.Equal(t, And, c.Op)
	require.Len(t, c.Children, 2)

	leaf := c.Children[0].Leaf
	assert.Equal(t, "amount", leaf.Field)
	assert.Equal(t, OpGt, leaf.Op)
	n, ok := leaf.Value.AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 10000.0, n)

	inner := c.Children[1]
	assert.Equal(t, Or, inner.Op)
	assert.Equal(t, OpIn, inner.Children[0].Leaf.Op)
	assert.True(t, inner.Children[1].Leaf.Value.IsNull())

	assert.Equal(t, []string{"amount", "country", "email"}, c.Fields())
	assert.Equal(t, `(amount > 10000 AND (country in ["US", "CA"] OR email exists))`, c.String())
}

func TestConditionJSONRoundTripKeepsKey(t *testing.T) {
	c, err := ParseCondition([]byte(fraudCondition))
	require.NoError(t, err)

	data, err := json.Marshal(c)
	require.NoError(t, err)
	back, err := ParseCondition(data)
	require.NoError(t, err)

	assert.Equal(t, CanonicalKey(c), CanonicalKey(back))
}

func TestParseConditionRejectsUnknownType(t *testing.T) {
	_, err := ParseCondition([]byte(`{"type": "not", "children": []}`))
	assert.Error(t, err)
}

func TestRuleJSONActionForms(t *testing.T) {
	var byName Rule
	require.NoError(t, json.Unmarshal([]byte(`{"id": "R1", "priority": 3, "enabled": true,
		"condition": {"field": "amount", "op": ">", "value": 1}, "action": "flag"}`), &byName))
	assert.Equal(t, Action{Name: "flag"}, byName.Action)
	assert.Equal(t, NodeLeaf, byName.Condition.Kind)

	var withParams Rule
	require.NoError(t, json.Unmarshal([]byte(`{"id": "R2", "condition": {"type": "group", "op": "AND", "children": []},
		"action": {"name": "send_alert", "params": {"channel": "fraud"}}}`), &withParams))
	assert.Equal(t, "send_alert", withParams.Action.Name)
	assert.Equal(t, "fraud", withParams.Action.Params["channel"])
	assert.True(t, withParams.Condition.IsGroup())
	assert.Empty(t, withParams.Condition.Children)
}

func TestRuleJSONDefaults(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		id      string
		enabled bool
	}{
		{"enabled omitted", `{"id": "R1", "condition": {"field": "x", "op": "exists"}, "action": "flag"}`, "R1", true},
		{"enabled false", `{"id": "R2", "enabled": false, "condition": {"field": "x", "op": "exists"}, "action": "flag"}`, "R2", false},
		{"enabled null", `{"id": "R3", "enabled": null, "condition": {"field": "x", "op": "exists"}, "action": "flag"}`, "R3", true},
		{"numeric id", `{"id": 42, "condition": {"field": "x", "op": "exists"}, "action": "flag"}`, "42", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Rule
			require.NoError(t, json.Unmarshal([]byte(tt.doc), &r))
			assert.Equal(t, tt.id, r.ID)
			assert.Equal(t, tt.enabled, r.Enabled)
			assert.Equal(t, "flag", r.Action.Name)
		})
	}

	var r Rule
	assert.Error(t, json.Unmarshal([]byte(`{"id": true, "action": "flag"}`), &r))
}
