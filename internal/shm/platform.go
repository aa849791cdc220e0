// Package shm contains platform-specific helpers for named shared memory regions.
package shm

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// DevShmDir is where named regions live on Linux.
const DevShmDir = "/dev/shm"

var (
	// ErrUnsupported is returned on platforms without a named region implementation.
	ErrUnsupported = errors.New("shm: named regions are not supported on this platform")
	// ErrSizeMismatch is returned when an existing region has a different size than requested.
	ErrSizeMismatch = errors.New("shm: existing region size mismatch")
	// ErrNoSpace is returned when /dev/shm cannot hold a new region.
	ErrNoSpace = errors.New("shm: not enough space left on /dev/shm")
)

// MappedRegion represents a memory-mapped shared region.
type MappedRegion struct {
	Addr []byte
	Name string
	// Created reports whether this call created the backing object.
	Created bool

	fd int
}

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	Name   string
	Size   int
	Create bool
}

// RegionPath returns the backing path of a region name.
func RegionPath(name string) string {
	return filepath.Join(DevShmDir, name)
}

// canCreateOnDevShm reports whether size bytes fit in the tmpfs behind /dev/shm.
// Paths outside /dev/shm are not checked.
func canCreateOnDevShm(size uint64, path string) bool {
	if !strings.HasPrefix(path, DevShmDir) {
		return true
	}
	stat, err := disk.Usage(DevShmDir)
	if err != nil {
		return true
	}
	return stat.Free >= size
}
