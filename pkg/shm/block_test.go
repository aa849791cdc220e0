package shm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/shmspace/pkg/channel"
)

func TestBlockAccessors(t *testing.T) {
	ctx := context.Background()
	s := openMem(t, NewMemoryMapper(), channel.FromHash("block"))
	b, err := s.Allocate(ctx, 3, 12)
	require.NoError(t, err)

	assert.Equal(t, 0, b.Page())
	assert.Equal(t, 64, b.Offset())
	assert.Equal(t, 12, b.Len())
	assert.Equal(t, "block(page=0 offset=64 len=12)", b.String())

	require.NoError(t, b.StoreUint32(2, 9))
	v, err := b.LoadUint32(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), v)

	swapped, err := b.CompareAndSwapUint32(2, 9, 10)
	require.NoError(t, err)
	assert.True(t, swapped)
	swapped, err = b.CompareAndSwapUint32(2, 9, 11)
	require.NoError(t, err)
	assert.False(t, swapped)

	mem, err := b.Bytes()
	require.NoError(t, err)
	assert.Equal(t, byte(10), mem[8])

	_, err = b.LoadUint32(3)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.ErrorIs(t, b.StoreUint32(-1, 0), ErrOutOfRange)

	var zero Block
	assert.False(t, zero.Valid())
	_, err = zero.Bytes()
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBlockCheckMagic(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryMapper()
	ch := channel.FromHash("magic")
	s1 := openMem(t, m, ch)
	s2 := openMem(t, m, ch)

	b1, err := s1.AllocateNamed(ctx, "queue", 16)
	require.NoError(t, err)
	b2, err := s2.AllocateNamed(ctx, "queue", 16)
	require.NoError(t, err)

	require.NoError(t, b1.CheckMagic(0xC0FFEE))
	require.NoError(t, b2.CheckMagic(0xC0FFEE))
	require.NoError(t, b1.CheckMagic(0xC0FFEE))
	assert.ErrorIs(t, b2.CheckMagic(0xBEEF), ErrInvalidLayout)
	assert.ErrorIs(t, b1.CheckMagic(0), ErrInvalidArgument)

	v, err := b2.LoadUint32(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xC0FFEE), v)

	short, err := s1.Allocate(ctx, 77, 2)
	require.NoError(t, err)
	assert.ErrorIs(t, short.CheckMagic(1), ErrOutOfRange)
}
