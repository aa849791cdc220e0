package adapter

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/shmspace/api"
	"github.com/srediag/shmspace/pkg/shm"
)

const instrumentationName = "github.com/srediag/shmspace/adapter"

// TracedSpace wraps a space so every allocation produces a span and is
// counted by outcome.
type TracedSpace struct {
	api.Space

	tracer      trace.Tracer
	allocations metric.Int64Counter
	sizes       metric.Int64Histogram
}

// NewTraced wraps s with tracer and meter instances from tp and mp.
func NewTraced(s api.Space, tp trace.TracerProvider, mp metric.MeterProvider) (*TracedSpace, error) {
	meter := mp.Meter(instrumentationName)
	allocations, err := meter.Int64Counter("shmspace.allocations",
		metric.WithDescription("Block allocation requests by outcome."))
	if err != nil {
		return nil, err
	}
	sizes, err := meter.Int64Histogram("shmspace.block.size",
		metric.WithDescription("Requested block sizes."),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	return &TracedSpace{
		Space:       s,
		tracer:      tp.Tracer(instrumentationName),
		allocations: allocations,
		sizes:       sizes,
	}, nil
}

// Allocate traces the underlying Allocate.
func (t *TracedSpace) Allocate(ctx context.Context, id uint32, size int) (shm.Block, error) {
	ctx, span := t.tracer.Start(ctx, "shmspace.Allocate", trace.WithAttributes(
		attribute.Int64("shmspace.block.id", int64(id)),
		attribute.Int("shmspace.block.size", size),
	))
	defer span.End()
	b, err := t.Space.Allocate(ctx, id, size)
	t.record(ctx, span, size, b, err)
	return b, err
}

// AllocateNamed traces the underlying AllocateNamed.
func (t *TracedSpace) AllocateNamed(ctx context.Context, name string, size int) (shm.Block, error) {
	ctx, span := t.tracer.Start(ctx, "shmspace.AllocateNamed", trace.WithAttributes(
		attribute.String("shmspace.block.name", name),
		attribute.Int("shmspace.block.size", size),
	))
	defer span.End()
	b, err := t.Space.AllocateNamed(ctx, name, size)
	t.record(ctx, span, size, b, err)
	return b, err
}

func (t *TracedSpace) record(ctx context.Context, span trace.Span, size int, b shm.Block, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(
			attribute.Int("shmspace.block.page", b.Page()),
			attribute.Int("shmspace.block.offset", b.Offset()),
		)
	}
	t.allocations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	t.sizes.Record(ctx, int64(size))
}
