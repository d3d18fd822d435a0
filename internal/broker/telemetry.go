package broker

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// brokerTracer spans one inbound message's decode->dispatch path.
var brokerTracer = otel.Tracer("github.com/jdp1ps/svp-harvester-go/broker")

// brokerMetrics counts messages processed, split by outcome, giving the
// pool's ack/drop posture an observable surface without the core having
// to expose its internals to a caller.
var brokerMetrics struct {
	messages metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/jdp1ps/svp-harvester-go/broker")
	brokerMetrics.messages, _ = m.Int64Counter("harvester.broker_messages",
		metric.WithDescription("Inbound broker messages processed, by outcome"),
		metric.WithUnit("{message}"),
	)
}

func startMessageSpan(ctx context.Context, subject string) (context.Context, trace.Span) {
	return brokerTracer.Start(ctx, "broker.handle_message",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("broker.subject", subject)),
	)
}

func endMessageSpan(ctx context.Context, span trace.Span, outcome string, err error) {
	brokerMetrics.messages.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
