package shm

import (
	"context"

	ishm "github.com/srediag/shmspace/internal/shm"
)

// Region is one mapped, named shared memory region.
type Region interface {
	Name() string
	// Bytes returns the mapping. It stays valid until Close.
	Bytes() []byte
	// Close releases the mapping without erasing the region.
	Close() error
}

// Mapper creates or opens named, zero-initialized regions.
//
// Open with create set returns the existing region unchanged if one with the
// same name exists. Without create it fails with an error matching
// fs.ErrNotExist when the region is absent. An existing region of another
// size fails with an error matching internal ErrSizeMismatch.
type Mapper interface {
	Open(ctx context.Context, name string, size int, create bool) (Region, error)
	Remove(ctx context.Context, name string) error
}

// DefaultMapper returns the mapper backed by the platform's named shared
// memory (files under /dev/shm on Linux).
func DefaultMapper() Mapper {
	return platformMapper{}
}

type platformMapper struct{}

func (platformMapper) Open(ctx context.Context, name string, size int, create bool) (Region, error) {
	r, err := ishm.MapRegion(ctx, ishm.MapOptions{Name: name, Size: size, Create: create})
	if err != nil {
		return nil, err
	}
	return &platformRegion{r: r}, nil
}

func (platformMapper) Remove(ctx context.Context, name string) error {
	return ishm.RemoveRegion(ctx, name)
}

type platformRegion struct {
	r *ishm.MappedRegion
}

func (p *platformRegion) Name() string  { return p.r.Name }
func (p *platformRegion) Bytes() []byte { return p.r.Addr }

func (p *platformRegion) Close() error {
	return ishm.UnmapRegion(context.Background(), p.r)
}
