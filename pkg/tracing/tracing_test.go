package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"fluxrules/internal/config"
	"fluxrules/pkg/logging"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func TestKafkaHeadersRoundTrip(t *testing.T) {
	installRecorder(t)

	ctx, span := StartSpan(context.Background(), "produce")
	defer span.End()

	ctx = logging.WithFactID(logging.WithTraceID(ctx, "req-1"), "fact-7")

	headers := MessageHeaders(ctx)
	require.Len(t, headers, 3)
	assert.Equal(t, "traceparent", headers[0].Key)

	consumed, child := StartConsumeSpan(context.Background(), kafka.Message{Topic: "facts", Headers: headers})
	defer child.End()
	assert.Equal(t, TraceID(ctx), TraceID(consumed))
	assert.Equal(t, "req-1", logging.GetTraceID(consumed))
	assert.Equal(t, "fact-7", logging.GetFactID(consumed))
}

func TestMessageHeadersWithoutContext(t *testing.T) {
	installRecorder(t)
	assert.Empty(t, MessageHeaders(context.Background()))
}

func TestCarrierOverwritesExistingHeader(t *testing.T) {
	c := &headerCarrier{headers: []kafka.Header{{Key: "a", Value: []byte("1")}}}
	c.Set("a", "2")
	c.Set("b", "3")

	assert.Equal(t, "2", c.Get("a"))
	assert.Equal(t, "3", c.Get("b"))
	assert.ElementsMatch(t, []string{"a", "b"}, c.Keys())
}

func TestTraceIDWithoutSpan(t *testing.T) {
	assert.Equal(t, "", TraceID(context.Background()))
}

func TestRecordError(t *testing.T) {
	recorder := installRecorder(t)

	_, span := StartSpan(context.Background(), "reload")
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)
}

func TestInitDisabled(t *testing.T) {
	tp, err := Init(config.TracingConfig{Enabled: false}, "")
	require.NoError(t, err)
	assert.NotNil(t, tp.Tracer("x"))
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(config.SamplerConfig{Type: "always_off"}).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(config.SamplerConfig{Type: "bogus"}).Description())
	assert.Contains(t, sampler(config.SamplerConfig{Type: "parentbased_traceidratio", Param: 0.25}).Description(), "0.25")
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}
