package tracing

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const kafkaTracerName = "fwupdate/pkg/tracing/kafka"

// InjectTraceContext appends the current span context to headers.
func InjectTraceContext(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := &headerCarrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.headers
}

// ExtractTraceContext returns ctx with the remote span context carried in
// headers, if any.
func ExtractTraceContext(ctx context.Context, headers []kafka.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, &headerCarrier{headers: headers})
}

// StartConsumerSpan continues the producer's trace for one fetched message.
func StartConsumerSpan(ctx context.Context, m kafka.Message) (context.Context, trace.Span) {
	ctx = ExtractTraceContext(ctx, m.Headers)
	return otel.Tracer(kafkaTracerName).Start(ctx, m.Topic+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", m.Topic),
			attribute.Int("messaging.kafka.destination.partition", m.Partition),
			attribute.Int64("messaging.kafka.message.offset", m.Offset),
		),
	)
}

// headerCarrier adapts kafka headers to propagation.TextMapCarrier. Set
// appends, so it needs a pointer receiver.
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
