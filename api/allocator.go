// Package api defines public API contracts for shmspace.
package api

import (
	"context"
	"io"
	"time"

	"github.com/srediag/shmspace/pkg/shm"
)

// Allocator hands out shared blocks by id. Every participant asking for the
// same id receives the same page and offset.
type Allocator interface {
	Allocate(ctx context.Context, id uint32, size int) (shm.Block, error)
	AllocateNamed(ctx context.Context, name string, size int) (shm.Block, error)
	GetAddress(pageIndex, offset, length int) ([]byte, error)
	PageCount() int
	io.Closer
}

// Verifier checks the on-page structures of a space.
type Verifier interface {
	Verify() error
}

// LockProber reports whether the cross-process allocation lock can be taken.
type LockProber interface {
	ProbeLock(ctx context.Context, timeout time.Duration) error
}

// Space is everything a *shm.Space offers to adapters.
type Space interface {
	Allocator
	Verifier
	LockProber
}

var _ Space = (*shm.Space)(nil)
