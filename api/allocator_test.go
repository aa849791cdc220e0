package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/srediag/shmspace/api"
	"github.com/srediag/shmspace/pkg/channel"
	"github.com/srediag/shmspace/pkg/shm"
)

func openSpace(t *testing.T) api.Space {
	t.Helper()
	cfg := shm.DefaultConfig()
	cfg.Mapper = shm.NewMemoryMapper()
	s, err := shm.Open(context.Background(), channel.FromString("api"), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSpaceThroughInterfaces(t *testing.T) {
	ctx := context.Background()
	s := openSpace(t)

	b, err := s.AllocateNamed(ctx, "x", 16)
	require.NoError(t, err)
	mem, err := s.GetAddress(b.Page(), b.Offset(), b.Len())
	require.NoError(t, err)
	require.Len(t, mem, 16)
	require.Equal(t, 1, s.PageCount())

	var v api.Verifier = s
	require.NoError(t, v.Verify())

	var p api.LockProber = s
	require.NoError(t, p.ProbeLock(ctx, time.Second))
}
