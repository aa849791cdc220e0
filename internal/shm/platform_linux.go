//go:build linux

package shm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"golang.org/x/sys/unix"
)

// MapRegion maps or creates a shared memory region (Linux implementation).
//
// A freshly created region is zero-filled by ftruncate. An existing region is
// mapped unchanged; if it was left empty by a racing creator it is sized here.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("map %s: invalid size %d", opts.Name, opts.Size)
	}
	shmPath := RegionPath(opts.Name)
	fd, err := unix.Open(shmPath, unix.O_RDWR|unix.O_CLOEXEC, 0600)
	created := false
	if errors.Is(err, unix.ENOENT) && opts.Create {
		if !canCreateOnDevShm(uint64(opts.Size), shmPath) {
			return nil, fmt.Errorf("map %s: %w", opts.Name, ErrNoSpace)
		}
		fd, err = unix.Open(shmPath, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0600)
		created = true
	}
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, fmt.Errorf("open %s: %w", shmPath, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("open %s: %w", shmPath, err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("fstat: %w", err)
	}
	switch {
	case st.Size == 0:
		if err := unix.Ftruncate(fd, int64(opts.Size)); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("ftruncate: %w", err)
		}
	case st.Size != int64(opts.Size):
		_ = unix.Close(fd)
		return nil, fmt.Errorf("map %s: have %d bytes, want %d: %w", opts.Name, st.Size, opts.Size, ErrSizeMismatch)
	}

	addr, err := unix.Mmap(fd, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &MappedRegion{
		Addr:    addr,
		Name:    opts.Name,
		Created: created,
		fd:      fd,
	}, nil
}

// UnmapRegion unmaps and closes the shared memory region (Linux implementation).
// The backing object is left in place for later participants.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	if err := unix.Munmap(region.Addr); err != nil && !errors.Is(err, unix.EINVAL) {
		return fmt.Errorf("munmap: %w", err)
	}
	region.Addr = nil
	if err := unix.Close(region.fd); err != nil {
		return fmt.Errorf("close fd %d: %w", region.fd, err)
	}
	return nil
}

// RemoveRegion unlinks the named region. Existing mappings stay valid.
func RemoveRegion(ctx context.Context, name string) error {
	if err := unix.Unlink(RegionPath(name)); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return fmt.Errorf("unlink %s: %w", name, fs.ErrNotExist)
		}
		return fmt.Errorf("unlink %s: %w", name, err)
	}
	return nil
}
