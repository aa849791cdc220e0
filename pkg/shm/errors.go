package shm

import "errors"

var (
	// ErrInvalidLayout is returned when a page header or table does not match
	// the expected layout, including a magic that belongs to another space.
	ErrInvalidLayout = errors.New("shm: invalid shared memory layout")

	// ErrOutOfRoom is returned by the page allocator when a page cannot hold a
	// request. Space.Allocate only surfaces it when MaxPages is reached.
	ErrOutOfRoom = errors.New("shm: out of room")

	// ErrInvalidArgument is returned for a zero id, a negative or oversized
	// length, or a bad alignment.
	ErrInvalidArgument = errors.New("shm: invalid argument")

	// ErrInconsistentSize is returned when an id is requested again with a
	// different length than this process saw before.
	ErrInconsistentSize = errors.New("shm: inconsistent block size")

	// ErrOutOfRange is returned when an address lies outside the mapped pages.
	ErrOutOfRange = errors.New("shm: address out of range")

	// ErrDisposed is returned by every operation after Close.
	ErrDisposed = errors.New("shm: space is closed")

	// ErrTimeout is returned by SpinUntil when the condition never held.
	ErrTimeout = errors.New("shm: wait timed out")

	// ErrLockHeld is returned by ProbeLock when the base lock stayed held.
	ErrLockHeld = errors.New("shm: base page lock is held")
)
