package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jdp1ps/svp-harvester-go/internal/types"
)

// orchestratorTracer is the OTel tracer for per-adapter harvesting spans.
// It uses the global provider, a no-op until the process wires a real one.
var orchestratorTracer = otel.Tracer("github.com/jdp1ps/svp-harvester-go/orchestrator")

// orchestratorMetrics holds the event-count instruments emitted reference
// events and failed harvesting runs are measured against.
var orchestratorMetrics struct {
	events   metric.Int64Counter
	failures metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/jdp1ps/svp-harvester-go/orchestrator")
	orchestratorMetrics.events, _ = m.Int64Counter("harvester.reference_events",
		metric.WithDescription("ReferenceEvents emitted, by harvester and event_type"),
		metric.WithUnit("{event}"),
	)
	orchestratorMetrics.failures, _ = m.Int64Counter("harvester.harvesting_failures",
		metric.WithDescription("Harvesting runs that transitioned to failed"),
		metric.WithUnit("{harvesting}"),
	)
}

func startAdapterSpan(ctx context.Context, harvesterName string) (context.Context, trace.Span) {
	return orchestratorTracer.Start(ctx, "orchestrator.run_adapter",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("harvester.name", harvesterName)),
	)
}

func endAdapterSpan(span trace.Span, failed bool) {
	if failed {
		span.SetStatus(codes.Error, "harvesting failed")
		orchestratorMetrics.failures.Add(context.Background(), 1)
	}
	span.End()
}

func recordReferenceEvent(ctx context.Context, harvesterName string, ev types.ReferenceEvent) {
	orchestratorMetrics.events.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("harvester.name", harvesterName),
			attribute.String("event_type", string(ev.Type)),
		),
	)
}
