package models

import "time"

// FactEnvelopeBuilder assembles envelopes for producers and tests.
type FactEnvelopeBuilder struct {
	env FactEnvelope
}

func NewFactEnvelopeBuilder() *FactEnvelopeBuilder {
	return &FactEnvelopeBuilder{env: FactEnvelope{Payload: map[string]interface{}{}}}
}

func (b *FactEnvelopeBuilder) WithID(id string) *FactEnvelopeBuilder {
	b.env.ID = id
	return b
}

func (b *FactEnvelopeBuilder) WithSource(source string) *FactEnvelopeBuilder {
	b.env.Source = source
	return b
}

func (b *FactEnvelopeBuilder) WithTimestamp(ts time.Time) *FactEnvelopeBuilder {
	b.env.Timestamp = ts
	return b
}

// WithPayload replaces the fact fields.
func (b *FactEnvelopeBuilder) WithPayload(fields map[string]interface{}) *FactEnvelopeBuilder {
	b.env.Payload = fields
	return b
}

// WithField sets a single fact field.
func (b *FactEnvelopeBuilder) WithField(name string, value interface{}) *FactEnvelopeBuilder {
	if b.env.Payload == nil {
		b.env.Payload = map[string]interface{}{}
	}
	b.env.Payload[name] = value
	return b
}

func (b *FactEnvelopeBuilder) WithTraceID(traceID string) *FactEnvelopeBuilder {
	b.env.Metadata.TraceID = traceID
	return b
}

func (b *FactEnvelopeBuilder) WithEvaluation(info *EvaluationInfo) *FactEnvelopeBuilder {
	b.env.Metadata.Evaluation = info
	return b
}

// Build returns a copy of the envelope, stamped with the current time when
// no timestamp was set.
func (b *FactEnvelopeBuilder) Build() *FactEnvelope {
	env := b.env
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	return &env
}
