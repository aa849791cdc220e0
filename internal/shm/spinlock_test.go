package shm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpinlockMutualExclusion(t *testing.T) {
	mem := make([]byte, 64)
	word, err := Word(mem, 8)
	require.NoError(t, err)

	// Each goroutine builds its own lock value over the same word, the way
	// independent participants do over a mapped page.
	var (
		wg      sync.WaitGroup
		counter int
	)
	const workers, rounds = 8, 2000
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := NewSpinlock(word)
			for j := 0; j < rounds; j++ {
				l.Lock()
				counter++
				l.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, workers*rounds, counter)
	assert.False(t, NewSpinlock(word).Held())
}

func TestSpinlockTryLock(t *testing.T) {
	mem := make([]byte, 8)
	word, err := Word(mem, 0)
	require.NoError(t, err)

	l := NewSpinlock(word)
	assert.True(t, l.TryLock())
	assert.True(t, l.Held())
	assert.False(t, l.TryLock())
	l.Unlock()
	assert.Equal(t, uint32(0), AtomicLoadUint32(word))
	assert.True(t, l.TryLock())
	l.Unlock()
}

func TestWordBounds(t *testing.T) {
	mem := make([]byte, 16)
	_, err := Word(mem, 12)
	assert.NoError(t, err)
	_, err = Word(mem, 13)
	assert.Error(t, err)
	_, err = Word(mem, -4)
	assert.Error(t, err)
	_, err = Word(mem, 2)
	assert.Error(t, err)
}

func TestAtomicHelpers(t *testing.T) {
	mem := make([]byte, 8)
	word, err := Word(mem, 4)
	require.NoError(t, err)

	AtomicStoreUint32(word, 7)
	assert.Equal(t, uint32(7), AtomicLoadUint32(word))
	assert.False(t, AtomicCompareAndSwapUint32(word, 0, 9))
	assert.True(t, AtomicCompareAndSwapUint32(word, 7, 9))
	assert.Equal(t, byte(9), mem[4])
}
