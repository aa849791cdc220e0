//go:build !linux

package shm

import (
	"context"
)

// MapRegion is not implemented outside Linux; use an in-process mapper instead.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	return nil, ErrUnsupported
}

// UnmapRegion is not implemented outside Linux.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	return ErrUnsupported
}

// RemoveRegion is not implemented outside Linux.
func RemoveRegion(ctx context.Context, name string) error {
	return ErrUnsupported
}
