package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// WordSize is the size of one shared 32-bit word.
const WordSize = 4

// Word returns the 32-bit word at off inside mem. The word must lie entirely
// inside mem and be 4-byte aligned so that atomic access is valid on every
// architecture.
func Word(mem []byte, off int) (*uint32, error) {
	if off < 0 || off+WordSize > len(mem) {
		return nil, fmt.Errorf("word at %d outside %d-byte region", off, len(mem))
	}
	p := unsafe.Pointer(&mem[off])
	if uintptr(p)%WordSize != 0 {
		return nil, fmt.Errorf("word at %d is not 4-byte aligned", off)
	}
	return (*uint32)(p), nil
}

// AtomicLoadUint32 loads a uint32 from shared memory atomically.
func AtomicLoadUint32(addr *uint32) uint32 {
	return atomic.LoadUint32(addr)
}

// AtomicStoreUint32 stores a uint32 to shared memory atomically.
func AtomicStoreUint32(addr *uint32, val uint32) {
	atomic.StoreUint32(addr, val)
}

// AtomicCompareAndSwapUint32 atomically compares and swaps a uint32 in shared memory.
func AtomicCompareAndSwapUint32(addr *uint32, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(addr, old, new)
}
