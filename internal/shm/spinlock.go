package shm

import "runtime"

// spinsPerYield bounds how long a waiter spins before letting other
// goroutines of its process run. The waiter never blocks.
const spinsPerYield = 128

// Spinlock is a test-and-test-and-set lock over one word of shared memory.
// 0 means unlocked, 1 means locked. It is not reentrant and has no owner: a
// participant that dies while holding it stalls every other participant.
type Spinlock struct {
	word *uint32
}

// NewSpinlock returns a lock backed by word.
func NewSpinlock(word *uint32) Spinlock {
	return Spinlock{word: word}
}

// Lock busy-waits until the lock is acquired. The word is only read while it
// is observed held, and the compare-and-swap is attempted once it reads 0.
func (l Spinlock) Lock() {
	for {
		for spins := 1; AtomicLoadUint32(l.word) != 0; spins++ {
			if spins%spinsPerYield == 0 {
				runtime.Gosched()
			}
		}
		if AtomicCompareAndSwapUint32(l.word, 0, 1) {
			return
		}
	}
}

// TryLock acquires the lock if it is free and reports whether it did.
func (l Spinlock) TryLock() bool {
	return AtomicLoadUint32(l.word) == 0 && AtomicCompareAndSwapUint32(l.word, 0, 1)
}

// Unlock releases the lock.
func (l Spinlock) Unlock() {
	AtomicStoreUint32(l.word, 0)
}

// Held reports whether the lock word is currently set.
func (l Spinlock) Held() bool {
	return AtomicLoadUint32(l.word) != 0
}

// Word returns the underlying lock word.
func (l Spinlock) Word() *uint32 {
	return l.word
}
