package tracing

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fluxrules/internal/constants"
	"fluxrules/pkg/logging"
)

// MessageHeaders builds the headers of an outgoing record: the W3C trace
// context plus the trace and fact ids carried in ctx for log correlation.
func MessageHeaders(ctx context.Context) []kafka.Header {
	carrier := &headerCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	if traceID := logging.GetTraceID(ctx); traceID != "" {
		carrier.Set(constants.HeaderTraceID, traceID)
	}
	if factID := logging.GetFactID(ctx); factID != "" {
		carrier.Set(constants.HeaderFactID, factID)
	}
	return carrier.headers
}

// StartConsumeSpan continues the producer's trace for m and restores the
// logging ids found in its headers.
func StartConsumeSpan(ctx context.Context, m kafka.Message) (context.Context, trace.Span) {
	carrier := &headerCarrier{headers: m.Headers}
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)

	if traceID := carrier.Get(constants.HeaderTraceID); traceID != "" {
		ctx = logging.WithTraceID(ctx, traceID)
	}
	if factID := carrier.Get(constants.HeaderFactID); factID != "" {
		ctx = logging.WithFactID(ctx, factID)
	}

	return GetTracer(constants.TracerName+"-kafka").Start(ctx, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", m.Topic),
			attribute.Int("messaging.kafka.partition", m.Partition),
			attribute.Int64("messaging.kafka.offset", m.Offset),
		),
	)
}

// headerCarrier adapts record headers to propagation.TextMapCarrier.
type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, len(c.headers))
	for i, h := range c.headers {
		keys[i] = h.Key
	}
	return keys
}
