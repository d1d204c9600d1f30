package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactEnvelopeBuilder(t *testing.T) {
	env := NewFactEnvelopeBuilder().
		WithID("fact-1").
		WithSource("payments").
		WithPayload(map[string]interface{}{"amount": 15000}).
		WithTraceID("trace-1").
		Build()

	assert.Equal(t, "fact-1", env.ID)
	assert.Equal(t, "trace-1", env.Metadata.TraceID)
	assert.False(t, env.Timestamp.IsZero())
	require.NoError(t, ValidateFactEnvelope(env))
}

func TestValidateFactEnvelope(t *testing.T) {
	tests := []struct {
		name  string
		env   *FactEnvelope
		field string
	}{
		{name: "nil", env: nil, field: "envelope"},
		{name: "missing id", env: &FactEnvelope{Payload: map[string]interface{}{}}, field: "id"},
		{name: "missing payload", env: &FactEnvelope{ID: "x"}, field: "payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFactEnvelope(tt.env)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestBuilderWithField(t *testing.T) {
	b := NewFactEnvelopeBuilder().WithID("f").WithField("country", "US").WithField("amount", 12000)
	first := b.Build()
	assert.Equal(t, map[string]interface{}{"country": "US", "amount": 12000}, first.Payload)

	second := b.WithID("g").Build()
	assert.Equal(t, "f", first.ID)
	assert.Equal(t, "g", second.ID)
}

func TestValidateRuleChangeEvent(t *testing.T) {
	var vErr *ValidationError
	require.ErrorAs(t, ValidateRuleChangeEvent(&RuleChangeEvent{}), &vErr)
	assert.Equal(t, "event_type", vErr.Field)
	assert.NoError(t, ValidateRuleChangeEvent(&RuleChangeEvent{EventType: "rule_updated"}))
}

func TestEvaluationInfoJSON(t *testing.T) {
	env := NewFactEnvelopeBuilder().
		WithID("f").
		WithTimestamp(time.Unix(0, 0).UTC()).
		WithEvaluation(&EvaluationInfo{Version: 3, RuleIDs: []string{"R1", "R2"}}).
		Build()

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	eval := decoded["metadata"].(map[string]interface{})["evaluation"].(map[string]interface{})
	assert.Equal(t, float64(3), eval["version"])
	assert.Equal(t, []interface{}{"R1", "R2"}, eval["rule_ids"])
}
