package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fluxrules/internal/broker"
	"fluxrules/pkg/models"
	"fluxrules/pkg/retry"
)

type published struct {
	topic string
	key   string
	env   *models.FactEnvelope
}

type fakePublisher struct {
	mu       sync.Mutex
	sent     []published
	err      error
	failures int // fail this many calls before succeeding; ignored when err is set
	attempts int
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.err != nil {
		return p.err
	}
	if p.failures > 0 {
		p.failures--
		return errors.New("leader not available")
	}
	env, _ := payload.(*models.FactEnvelope)
	p.sent = append(p.sent, published{topic: topic, key: key, env: env})
	return nil
}

func envelopeMessage(t *testing.T, id string, payload map[string]interface{}) broker.Message {
	t.Helper()
	env := models.NewFactEnvelopeBuilder().WithID(id).WithSource("payments").WithPayload(payload).Build()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return broker.Message{Topic: "facts", Key: id, Value: data}
}

func fatal(err error) bool {
	var f retry.FatalError
	return errors.As(err, &f) && f.IsFatal()
}

func TestFactHandlerPublishesEvaluation(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, fraudRules()...)
	pub := &fakePublisher{}
	h := NewFactHandler(f.svc, pub, "evaluated-facts", nil)

	msg := envelopeMessage(t, "fact-1", map[string]interface{}{"amount": 15000, "country": "US"})
	require.NoError(t, h.Handle(context.Background(), msg))

	require.Len(t, pub.sent, 1)
	out := pub.sent[0]
	assert.Equal(t, "evaluated-facts", out.topic)
	assert.Equal(t, "fact-1", out.key)
	require.NotNil(t, out.env.Metadata.Evaluation)

	info := out.env.Metadata.Evaluation
	assert.Equal(t, []string{"R1", "R2"}, info.RuleIDs)
	assert.Equal(t, uint64(1), info.Version)
	assert.False(t, info.DryRun)
	require.Len(t, info.Dispatch, 2)
	assert.Equal(t, "flag", info.Dispatch[0].Action)
	assert.Equal(t, []string{"flag:R1", "alert:R2"}, f.calls.get())
}

func TestFactHandlerNoMatchStillForwards(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, fraudRules()...)
	pub := &fakePublisher{}
	h := NewFactHandler(f.svc, pub, "evaluated-facts", nil)

	require.NoError(t, h.Handle(context.Background(), envelopeMessage(t, "fact-2", map[string]interface{}{"amount": 10})))

	require.Len(t, pub.sent, 1)
	assert.Empty(t, pub.sent[0].env.Metadata.Evaluation.RuleIDs)
	assert.Empty(t, f.calls.get())
}

func TestFactHandlerRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, fraudRules()...)
	pub := &fakePublisher{}
	h := NewFactHandler(f.svc, pub, "evaluated-facts", nil)

	tests := map[string]broker.Message{
		"not json":      {Value: []byte("not json")},
		"missing id":    envelopeMessage(t, "", map[string]interface{}{"amount": 1}),
		"no payload":    {Value: []byte(`{"id":"fact-3"}`)},
		"nested object": envelopeMessage(t, "fact-4", map[string]interface{}{"card": map[string]interface{}{"bin": "4111"}}),
	}
	for name, msg := range tests {
		t.Run(name, func(t *testing.T) {
			err := h.Handle(context.Background(), msg)
			require.Error(t, err)
			assert.True(t, fatal(err))
		})
	}
	assert.Empty(t, pub.sent)
}

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2}
}

func TestFactHandlerPublishFailureGoesToDLQ(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, fraudRules()...)
	pub := &fakePublisher{err: errors.New("broker down")}
	h := NewFactHandler(f.svc, pub, "evaluated-facts", nil).WithPublishRetry(fastRetry())

	err := h.Handle(context.Background(), envelopeMessage(t, "fact-5", map[string]interface{}{"amount": 20000}))
	require.Error(t, err)
	assert.True(t, fatal(err))
	assert.ErrorContains(t, err, "broker down")
	assert.Equal(t, 3, pub.attempts)
	assert.Equal(t, []string{"alert:R2"}, f.calls.get())
}

func TestFactHandlerPublishRetryDoesNotRedispatch(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, fraudRules()...)
	pub := &fakePublisher{failures: 2}
	h := NewFactHandler(f.svc, pub, "evaluated-facts", nil).WithPublishRetry(fastRetry())

	require.NoError(t, h.Handle(context.Background(), envelopeMessage(t, "fact-7", map[string]interface{}{"amount": 20000})))
	assert.Equal(t, 3, pub.attempts)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, []string{"alert:R2"}, f.calls.get())
}

func TestFactHandlerUnderConsumerRetry(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, fraudRules()...)
	pub := &fakePublisher{err: errors.New("broker down")}
	h := NewFactHandler(f.svc, pub, "evaluated-facts", nil).WithPublishRetry(fastRetry())
	msg := envelopeMessage(t, "fact-8", map[string]interface{}{"amount": 20000})

	err := retry.Do(context.Background(), fastRetry(), func() error {
		return h.Handle(context.Background(), msg)
	})
	require.Error(t, err)
	assert.Equal(t, []string{"alert:R2"}, f.calls.get())
}

func TestFactHandlerWithoutOutputTopic(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, fraudRules()...)
	pub := &fakePublisher{}
	h := NewFactHandler(f.svc, pub, "", nil)

	require.NoError(t, h.Handle(context.Background(), envelopeMessage(t, "fact-6", map[string]interface{}{"amount": 20000})))
	assert.Empty(t, pub.sent)
	assert.Equal(t, []string{"alert:R2"}, f.calls.get())
}
