//go:build linux

package shm

import (
	"context"
	"fmt"
	"io/fs"
	"math"
	"os"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireDevShm(t *testing.T) {
	t.Helper()
	if _, err := os.Stat(DevShmDir); err != nil {
		t.Skipf("%s not available: %v", DevShmDir, err)
	}
}

func TestMapRegionCreateAndReopen(t *testing.T) {
	requireDevShm(t)
	ctx := context.Background()
	name := fmt.Sprintf("shmspace_test_%d_reopen", os.Getpid())
	t.Cleanup(func() { _ = RemoveRegion(ctx, name) })

	r1, err := MapRegion(ctx, MapOptions{Name: name, Size: 4096, Create: true})
	require.NoError(t, err)
	assert.True(t, r1.Created)
	assert.Len(t, r1.Addr, 4096)
	for _, b := range r1.Addr {
		require.Equal(t, byte(0), b)
	}
	r1.Addr[100] = 42

	r2, err := MapRegion(ctx, MapOptions{Name: name, Size: 4096, Create: true})
	require.NoError(t, err)
	assert.False(t, r2.Created)
	assert.Equal(t, byte(42), r2.Addr[100])

	r2.Addr[200] = 7
	assert.Equal(t, byte(7), r1.Addr[200])

	require.NoError(t, UnmapRegion(ctx, r1))
	require.NoError(t, UnmapRegion(ctx, r2))

	r3, err := MapRegion(ctx, MapOptions{Name: name, Size: 4096})
	require.NoError(t, err)
	assert.Equal(t, byte(42), r3.Addr[100])
	require.NoError(t, UnmapRegion(ctx, r3))
}

func TestMapRegionMissingWithoutCreate(t *testing.T) {
	requireDevShm(t)
	_, err := MapRegion(context.Background(), MapOptions{Name: fmt.Sprintf("shmspace_test_%d_missing", os.Getpid()), Size: 4096})
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMapRegionSizeMismatch(t *testing.T) {
	requireDevShm(t)
	ctx := context.Background()
	name := fmt.Sprintf("shmspace_test_%d_size", os.Getpid())
	t.Cleanup(func() { _ = RemoveRegion(ctx, name) })

	r, err := MapRegion(ctx, MapOptions{Name: name, Size: 4096, Create: true})
	require.NoError(t, err)
	defer UnmapRegion(ctx, r) //nolint:errcheck // test cleanup

	_, err = MapRegion(ctx, MapOptions{Name: name, Size: 8192, Create: true})
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestRemoveRegion(t *testing.T) {
	requireDevShm(t)
	ctx := context.Background()
	name := fmt.Sprintf("shmspace_test_%d_remove", os.Getpid())

	r, err := MapRegion(ctx, MapOptions{Name: name, Size: 4096, Create: true})
	require.NoError(t, err)
	require.NoError(t, UnmapRegion(ctx, r))
	require.NoError(t, RemoveRegion(ctx, name))
	assert.ErrorIs(t, RemoveRegion(ctx, name), fs.ErrNotExist)
}

func TestCanCreateOnDevShm(t *testing.T) {
	requireDevShm(t)
	// just on /dev/shm, other paths always return true
	assert.True(t, canCreateOnDevShm(math.MaxUint64, "sdffafds"))
	stat, err := disk.Usage(DevShmDir)
	require.NoError(t, err)
	assert.True(t, canCreateOnDevShm(stat.Free/2, "/dev/shm/xxx"))
	assert.False(t, canCreateOnDevShm(math.MaxUint64, "/dev/shm/yyy"))
}
