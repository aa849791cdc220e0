package shm

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
	"unsafe"

	ishm "github.com/srediag/shmspace/internal/shm"
)

// MemoryMapper keeps named regions in process memory. Every Open of the same
// name returns a view of the same bytes, so several spaces in one process
// behave like independent participants over shared memory.
type MemoryMapper struct {
	mu      sync.Mutex
	regions map[string][]byte
}

// NewMemoryMapper returns an empty MemoryMapper.
func NewMemoryMapper() *MemoryMapper {
	return &MemoryMapper{regions: make(map[string][]byte)}
}

// Open implements Mapper.
func (m *MemoryMapper) Open(ctx context.Context, name string, size int, create bool) (Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("map %s: invalid size %d", name, size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.regions[name]
	switch {
	case ok && len(mem) != size:
		return nil, fmt.Errorf("map %s: have %d bytes, want %d: %w", name, len(mem), size, ishm.ErrSizeMismatch)
	case !ok && !create:
		return nil, fmt.Errorf("open %s: %w", name, fs.ErrNotExist)
	case !ok:
		mem = alignedBytes(size)
		m.regions[name] = mem
	}
	return &memoryRegion{name: name, mem: mem}, nil
}

// Remove implements Mapper.
func (m *MemoryMapper) Remove(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regions[name]; !ok {
		return fmt.Errorf("remove %s: %w", name, fs.ErrNotExist)
	}
	delete(m.regions, name)
	return nil
}

// Len returns the number of regions held.
func (m *MemoryMapper) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regions)
}

// alignedBytes returns zeroed memory whose first byte is 8-byte aligned.
func alignedBytes(size int) []byte {
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
}

type memoryRegion struct {
	name string
	mem  []byte
}

func (r *memoryRegion) Name() string  { return r.name }
func (r *memoryRegion) Bytes() []byte { return r.mem }
func (r *memoryRegion) Close() error  { return nil }
