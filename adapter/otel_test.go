package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/shmspace/pkg/shm"
)

func TestTracedSpace(t *testing.T) {
	ctx := context.Background()
	s := openSpace(t)
	ts, err := NewTraced(s, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	require.NoError(t, err)

	a, err := ts.AllocateNamed(ctx, "traced", 16)
	require.NoError(t, err)
	b, err := s.AllocateNamed(ctx, "traced", 16)
	require.NoError(t, err)
	assert.Equal(t, b.Offset(), a.Offset())

	_, err = ts.AllocateNamed(ctx, "traced", 32)
	assert.ErrorIs(t, err, shm.ErrInconsistentSize)

	_, err = ts.Allocate(ctx, 7, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, ts.PageCount())
	assert.NoError(t, ts.Verify())
}
