package shm

import (
	"fmt"

	ishm "github.com/srediag/shmspace/internal/shm"
)

// Block is a (page, offset, length) reference into a Space. It does not own
// memory: every access resolves the address through the space again, so a
// block of a closed space reports ErrDisposed instead of touching unmapped
// memory.
type Block struct {
	space  *Space
	page   int
	offset int
	length int
}

// Page returns the page index of the block.
func (b Block) Page() int { return b.page }

// Offset returns the byte offset of the block inside its page.
func (b Block) Offset() int { return b.offset }

// Len returns the block length.
func (b Block) Len() int { return b.length }

// Valid reports whether the block belongs to an open space.
func (b Block) Valid() bool {
	return b.space != nil && !b.space.closed.Load()
}

// Bytes returns the live mapped bytes of the block.
func (b Block) Bytes() ([]byte, error) {
	if b.space == nil {
		return nil, fmt.Errorf("%w: zero block", ErrInvalidArgument)
	}
	return b.space.GetAddress(b.page, b.offset, b.length)
}

func (b Block) word(i int) (*uint32, error) {
	if i < 0 || (i+1)*ishm.WordSize > b.length {
		return nil, fmt.Errorf("%w: word %d of %d-byte block", ErrOutOfRange, i, b.length)
	}
	mem, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	w, err := ishm.Word(mem, i*ishm.WordSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return w, nil
}

// LoadUint32 atomically loads the i-th 32-bit word of the block.
func (b Block) LoadUint32(i int) (uint32, error) {
	w, err := b.word(i)
	if err != nil {
		return 0, err
	}
	return ishm.AtomicLoadUint32(w), nil
}

// StoreUint32 atomically stores v into the i-th 32-bit word of the block.
func (b Block) StoreUint32(i int, v uint32) error {
	w, err := b.word(i)
	if err != nil {
		return err
	}
	ishm.AtomicStoreUint32(w, v)
	return nil
}

// CompareAndSwapUint32 atomically swaps the i-th word from old to new.
func (b Block) CompareAndSwapUint32(i int, old, new uint32) (bool, error) {
	w, err := b.word(i)
	if err != nil {
		return false, err
	}
	return ishm.AtomicCompareAndSwapUint32(w, old, new), nil
}

// CheckMagic tags the block with value on first use and verifies the tag on
// later calls, so participants can agree on what a block holds. The first
// word is set to value if it is zero; any other value fails with
// ErrInvalidLayout.
func (b Block) CheckMagic(value uint32) error {
	if value == 0 {
		return fmt.Errorf("%w: magic 0", ErrInvalidArgument)
	}
	w, err := b.word(0)
	if err != nil {
		return err
	}
	if ishm.AtomicCompareAndSwapUint32(w, 0, value) {
		return nil
	}
	if cur := ishm.AtomicLoadUint32(w); cur != value {
		return fmt.Errorf("%w: block %d:%d tagged %#08x, want %#08x", ErrInvalidLayout, b.page, b.offset, cur, value)
	}
	return nil
}

func (b Block) String() string {
	return fmt.Sprintf("block(page=%d offset=%d len=%d)", b.page, b.offset, b.length)
}
