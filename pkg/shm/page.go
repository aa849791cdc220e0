package shm

import (
	"fmt"
	"math"
	"unsafe"

	ishm "github.com/srediag/shmspace/internal/shm"
)

// Page layout, all words little-endian uint32 accessed atomically:
//
//	header: magic | lock | cursor | tableOffset
//	node:   next  | (id, offset) * TableSize
//
// The first node sits right after the header. Later nodes are placed after the
// data block whose allocation ran out of slots.
const (
	// TableSize is the number of (id, offset) slots of one allocation table node.
	TableSize = 5

	pageMagicOffset       = 0
	pageLockOffset        = 4
	pageCursorOffset      = 8
	pageTableOffsetOffset = 12
	pageHeaderSize        = 16

	nodeNextOffset    = 0
	nodeEntriesOffset = 4
	nodeEntrySize     = 8
	tableNodeSize     = nodeEntriesOffset + TableSize*nodeEntrySize

	maxPageSize = math.MaxInt32
)

func alignUp(v uint64, alignment uint32) uint64 {
	a := uint64(alignment)
	return (v + a - 1) / a * a
}

// firstDataOffset is where the first block of a fresh page goes.
func firstDataOffset(alignment uint32) uint64 {
	return alignUp(pageHeaderSize+tableNodeSize, alignment)
}

// tableNode is a view of one allocation table node inside a page.
type tableNode []byte

func (n tableNode) word(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&n[off]))
}

func (n tableNode) nextNode() uint32 {
	return ishm.AtomicLoadUint32(n.word(nodeNextOffset))
}

func (n tableNode) linkNext(off uint32) {
	ishm.AtomicStoreUint32(n.word(nodeNextOffset), off)
}

// entry reads slot i. The id is read first: a non-zero id guarantees the
// offset written before it is visible.
func (n tableNode) entry(i int) (id, offset uint32) {
	base := nodeEntriesOffset + i*nodeEntrySize
	id = ishm.AtomicLoadUint32(n.word(base))
	offset = ishm.AtomicLoadUint32(n.word(base + 4))
	return id, offset
}

func (n tableNode) setEntry(i int, id, offset uint32) {
	base := nodeEntriesOffset + i*nodeEntrySize
	ishm.AtomicStoreUint32(n.word(base+4), offset)
	ishm.AtomicStoreUint32(n.word(base), id)
}

// pageHeader is a snapshot of the header words.
type pageHeader struct {
	Magic       uint32
	Lock        uint32
	Cursor      uint32
	TableOffset uint32
}

// tableEntry is one used slot, as reported by entries.
type tableEntry struct {
	Node   uint32
	Slot   int
	ID     uint32
	Offset uint32
}

// pageAllocator manages the header and allocation tables of one page.
type pageAllocator struct {
	mem         []byte
	size        uint32
	lock        ishm.Spinlock
	magic       *uint32
	cursor      *uint32
	tableOffset *uint32
}

func newPageAllocator(mem []byte) (*pageAllocator, error) {
	if len(mem) < pageHeaderSize+tableNodeSize || len(mem)%ishm.WordSize != 0 || int64(len(mem)) > maxPageSize {
		return nil, fmt.Errorf("%w: page of %d bytes", ErrInvalidArgument, len(mem))
	}
	p := &pageAllocator{mem: mem, size: uint32(len(mem))}
	words := []struct {
		off int
		dst **uint32
	}{
		{pageMagicOffset, &p.magic},
		{pageCursorOffset, &p.cursor},
		{pageTableOffsetOffset, &p.tableOffset},
	}
	for _, w := range words {
		ptr, err := ishm.Word(mem, w.off)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
		}
		*w.dst = ptr
	}
	lockWord, err := ishm.Word(mem, pageLockOffset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	p.lock = ishm.NewSpinlock(lockWord)
	return p, nil
}

func (p *pageAllocator) lockPage() {
	p.lock.Lock()
}

func (p *pageAllocator) unlockPage() {
	p.lock.Unlock()
}

func (p *pageAllocator) header() pageHeader {
	return pageHeader{
		Magic:       ishm.AtomicLoadUint32(p.magic),
		Lock:        ishm.AtomicLoadUint32(p.lock.Word()),
		Cursor:      ishm.AtomicLoadUint32(p.cursor),
		TableOffset: ishm.AtomicLoadUint32(p.tableOffset),
	}
}

// tryInit writes the header if nobody did yet and reports whether this call
// did. The caller must hold the page lock.
func (p *pageAllocator) tryInit(magic uint32) (bool, error) {
	if cur := ishm.AtomicLoadUint32(p.magic); cur != 0 {
		if cur != magic {
			return false, fmt.Errorf("%w: page magic %#08x, want %#08x", ErrInvalidLayout, cur, magic)
		}
		return false, nil
	}
	if ishm.AtomicLoadUint32(p.cursor) != 0 || ishm.AtomicLoadUint32(p.tableOffset) != 0 {
		return false, fmt.Errorf("%w: page has allocations but no magic", ErrInvalidLayout)
	}
	ishm.AtomicStoreUint32(p.tableOffset, pageHeaderSize)
	ishm.AtomicStoreUint32(p.cursor, pageHeaderSize+tableNodeSize)
	ishm.AtomicStoreUint32(p.magic, magic)
	return true, nil
}

// node returns the table node at off after checking it lies inside the page.
func (p *pageAllocator) node(off uint32) (tableNode, error) {
	if off < pageHeaderSize || off%ishm.WordSize != 0 || uint64(off)+tableNodeSize > uint64(p.size) {
		return nil, fmt.Errorf("%w: table node at %d in %d-byte page", ErrInvalidLayout, off, p.size)
	}
	return tableNode(p.mem[off : off+tableNodeSize : off+tableNodeSize]), nil
}

// forEachNode walks the table chain until fn returns false or the chain ends.
func (p *pageAllocator) forEachNode(fn func(off uint32, n tableNode) bool) error {
	limit := p.size/tableNodeSize + 1
	off := ishm.AtomicLoadUint32(p.tableOffset)
	for visited := uint32(0); off != 0; visited++ {
		if visited >= limit {
			return fmt.Errorf("%w: table chain does not terminate", ErrInvalidLayout)
		}
		n, err := p.node(off)
		if err != nil {
			return err
		}
		if !fn(off, n) {
			return nil
		}
		off = n.nextNode()
	}
	return nil
}

// tryFindAllocated looks id up without taking the page lock. Committed entries
// never change, so a racing reader at worst misses an entry being written.
// The stored block length is not recorded and cannot be checked here.
func (p *pageAllocator) tryFindAllocated(id uint32) (uint32, bool, error) {
	var (
		offset uint32
		found  bool
	)
	err := p.forEachNode(func(_ uint32, n tableNode) bool {
		for i := 0; i < TableSize; i++ {
			eid, eoff := n.entry(i)
			switch {
			case eid == 0:
				return false
			case eid == id:
				offset, found = eoff, true
				return false
			}
		}
		return true
	})
	return offset, found, err
}

// tryAllocate reserves length bytes for id at the next aligned offset and
// records it in the first free table slot, appending a new node after the data
// when every slot is taken. It returns ErrOutOfRoom when the page cannot hold
// the request. The caller must hold the lock serializing allocations.
func (p *pageAllocator) tryAllocate(id, length, alignment uint32) (uint32, error) {
	dataOffset := alignUp(uint64(ishm.AtomicLoadUint32(p.cursor)), alignment)
	dataEnd := dataOffset + uint64(length)
	if dataEnd > uint64(p.size) {
		return 0, ErrOutOfRoom
	}

	var (
		slotNode tableNode
		slot     = -1
		last     tableNode
	)
	err := p.forEachNode(func(_ uint32, n tableNode) bool {
		for i := 0; i < TableSize; i++ {
			if eid, _ := n.entry(i); eid == 0 {
				slotNode, slot = n, i
				return false
			}
		}
		last = n
		return true
	})
	if err != nil {
		return 0, err
	}
	// The cursor moves before the entry is published, so a lock-free reader
	// that sees an entry also sees a cursor past it.
	if slot >= 0 {
		ishm.AtomicStoreUint32(p.cursor, uint32(dataEnd))
		slotNode.setEntry(slot, id, uint32(dataOffset))
		return uint32(dataOffset), nil
	}
	if last == nil {
		return 0, fmt.Errorf("%w: page has no allocation table", ErrInvalidLayout)
	}

	nodeOffset := alignUp(dataEnd, ishm.WordSize)
	if nodeOffset+tableNodeSize > uint64(p.size) {
		return 0, ErrOutOfRoom
	}
	n, err := p.node(uint32(nodeOffset))
	if err != nil {
		return 0, err
	}
	ishm.AtomicStoreUint32(p.cursor, uint32(nodeOffset+tableNodeSize))
	n.setEntry(0, id, uint32(dataOffset))
	last.linkNext(uint32(nodeOffset))
	return uint32(dataOffset), nil
}

// entries lists every used slot in chain order along with the node count.
func (p *pageAllocator) entries() ([]tableEntry, int, error) {
	var (
		out   []tableEntry
		nodes int
	)
	err := p.forEachNode(func(off uint32, n tableNode) bool {
		nodes++
		for i := 0; i < TableSize; i++ {
			id, eoff := n.entry(i)
			if id == 0 {
				continue
			}
			out = append(out, tableEntry{Node: off, Slot: i, ID: id, Offset: eoff})
		}
		return true
	})
	return out, nodes, err
}
