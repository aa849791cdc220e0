package shm

import (
	"context"
	"fmt"
	"io"

	"github.com/Workiva/go-datastructures/bitarray"
	"github.com/valyala/bytebufferpool"

	ishm "github.com/srediag/shmspace/internal/shm"
)

// PageStats describes one page as seen by this process.
type PageStats struct {
	Index      int
	Name       string
	Magic      uint32
	Locked     bool
	Cursor     uint32
	TableNodes int
	Blocks     int
	// Free is the number of bytes left after the cursor.
	Free int
}

// Stats describes a space.
type Stats struct {
	Channel  string
	Magic    uint32
	PageSize int
	Pages    []PageStats
}

// Blocks returns the number of blocks across all pages.
func (st Stats) Blocks() int {
	n := 0
	for _, p := range st.Pages {
		n += p.Blocks
	}
	return n
}

// Stats maps pages created by other participants and reports every page.
func (s *Space) Stats(ctx context.Context) (Stats, error) {
	if s.closed.Load() {
		return Stats{}, ErrDisposed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return Stats{}, ErrDisposed
	}
	if err := s.syncPagesLocked(ctx); err != nil {
		return Stats{}, err
	}
	st := Stats{Channel: s.channel.ID(), Magic: s.magic, PageSize: s.cfg.PageSize}
	for _, p := range s.pages {
		h := p.alloc.header()
		entries, nodes, err := p.alloc.entries()
		if err != nil {
			return Stats{}, fmt.Errorf("page %d: %w", p.index, err)
		}
		free := s.cfg.PageSize - int(h.Cursor)
		if free < 0 {
			free = 0
		}
		st.Pages = append(st.Pages, PageStats{
			Index:      p.index,
			Name:       p.region.Name(),
			Magic:      h.Magic,
			Locked:     h.Lock != 0,
			Cursor:     h.Cursor,
			TableNodes: nodes,
			Blocks:     len(entries),
			Free:       free,
		})
	}
	return st, nil
}

// Verify checks the layout of every mapped page without taking any shared
// lock: header magic and cursor bounds, table node bounds and termination,
// slot ordering, entry bounds, and that no id is registered twice.
func (s *Space) Verify() error {
	if s.closed.Load() {
		return ErrDisposed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrDisposed
	}
	seen := bitarray.NewSparseBitArray()
	for _, p := range s.pages {
		if err := s.verifyPage(p, seen); err != nil {
			return fmt.Errorf("page %d: %w", p.index, err)
		}
	}
	return nil
}

func (s *Space) verifyPage(p *page, seen bitarray.BitArray) error {
	h := p.alloc.header()
	if h.Magic != s.magic {
		return fmt.Errorf("%w: magic %#08x, want %#08x", ErrInvalidLayout, h.Magic, s.magic)
	}
	if h.Cursor < pageHeaderSize+tableNodeSize || h.Cursor > p.alloc.size {
		return fmt.Errorf("%w: cursor %d outside [%d, %d]", ErrInvalidLayout, h.Cursor, pageHeaderSize+tableNodeSize, p.alloc.size)
	}
	if h.TableOffset != pageHeaderSize {
		return fmt.Errorf("%w: first table node at %d", ErrInvalidLayout, h.TableOffset)
	}

	// Slots fill in order and a node is linked only once its predecessor is
	// full, so a free slot followed by a used slot or node is corruption
	// unless re-reading shows a writer filled it meanwhile.
	type hole struct {
		n    tableNode
		slot int
	}
	var (
		verr  error
		holes []hole
	)
	check := func(id, eoff uint32) error {
		if eoff < pageHeaderSize+tableNodeSize || eoff > ishm.AtomicLoadUint32(p.alloc.cursor) {
			return fmt.Errorf("%w: block %d at %d outside the allocated area", ErrInvalidLayout, id, eoff)
		}
		dup, err := seen.GetBit(uint64(id))
		if err != nil {
			return err
		}
		if dup {
			return fmt.Errorf("%w: block id %d registered twice", ErrInvalidLayout, id)
		}
		return seen.SetBit(uint64(id))
	}
	fillHoles := func(what string) error {
		for _, h := range holes {
			id, eoff := h.n.entry(h.slot)
			if id == 0 {
				return fmt.Errorf("%w: %s after free slot %d", ErrInvalidLayout, what, h.slot)
			}
			if err := check(id, eoff); err != nil {
				return err
			}
		}
		holes = holes[:0]
		return nil
	}
	err := p.alloc.forEachNode(func(off uint32, n tableNode) bool {
		if len(holes) > 0 {
			if verr = fillHoles(fmt.Sprintf("node %d", off)); verr != nil {
				return false
			}
		}
		cursor := ishm.AtomicLoadUint32(p.alloc.cursor)
		if off+tableNodeSize > cursor {
			verr = fmt.Errorf("%w: node %d beyond cursor %d", ErrInvalidLayout, off, cursor)
			return false
		}
		for i := 0; i < TableSize; i++ {
			id, eoff := n.entry(i)
			if id == 0 {
				holes = append(holes, hole{n, i})
				continue
			}
			if len(holes) > 0 {
				if verr = fillHoles(fmt.Sprintf("node %d slot %d used", off, i)); verr != nil {
					return false
				}
			}
			if verr = check(id, eoff); verr != nil {
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}
	return verr
}

// Dump writes a human readable listing of every mapped page and its blocks.
func (s *Space) Dump(w io.Writer) error {
	if s.closed.Load() {
		return ErrDisposed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrDisposed
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	fmt.Fprintf(buf, "channel %s magic %#08x page size %d pages %d\n", s.channel, s.magic, s.cfg.PageSize, len(s.pages))
	for _, p := range s.pages {
		h := p.alloc.header()
		fmt.Fprintf(buf, "page %d %s magic %#08x lock %d cursor %d table %d\n",
			p.index, p.region.Name(), h.Magic, h.Lock, h.Cursor, h.TableOffset)
		entries, _, err := p.alloc.entries()
		if err != nil {
			fmt.Fprintf(buf, "  error: %v\n", err)
			continue
		}
		for _, e := range entries {
			fmt.Fprintf(buf, "  node %5d slot %d id %#08x offset %d\n", e.Node, e.Slot, e.ID, e.Offset)
		}
	}
	_, err := w.Write(buf.B)
	return err
}
