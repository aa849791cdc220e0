package shm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	ishm "github.com/srediag/shmspace/internal/shm"
	"github.com/srediag/shmspace/pkg/channel"
)

// page is one mapped region of a space.
type page struct {
	index  int
	region Region
	alloc  *pageAllocator
}

// Space is an ordered, growable list of pages shared with every process that
// opens the same channel. Page 0 also hosts the lock that serializes
// allocation decisions for the whole space.
//
// A Space is safe for concurrent use; all of its methods are guarded by one
// mutex, which is unrelated to the lock shared with other processes.
type Space struct {
	mu      sync.Mutex
	cfg     Config
	channel channel.Channel
	magic   uint32
	pages   []*page
	cache   cmap.ConcurrentMap[uint32, Block]
	closed  atomic.Bool
	log     *logger
}

// MagicOf derives the space magic of ch.
func MagicOf(ch channel.Channel) uint32 {
	return nonZero(channel.Checksum(ch.ID()))
}

// BlockID derives the block id used by AllocateNamed.
func BlockID(name string) uint32 {
	return nonZero(channel.Checksum(name))
}

func nonZero(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	return v
}

func shardID(id uint32) uint32 {
	return id
}

// Open creates or opens page 0 of ch and initializes it if this process is
// the first to touch it. The returned space starts with one page; pages
// created by other participants are mapped on demand.
func Open(ctx context.Context, ch channel.Channel, cfg Config) (*Space, error) {
	if ch.IsZero() {
		return nil, fmt.Errorf("%w: empty channel", ErrInvalidArgument)
	}
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	magic := cfg.Magic
	if magic == 0 {
		magic = MagicOf(ch)
	}
	s := &Space{
		cfg:     cfg,
		channel: ch,
		magic:   magic,
		cache:   cmap.NewWithCustomShardingFunction[uint32, Block](shardID),
		log:     internalLogger,
	}
	p, err := s.openPage(ctx, 0, true)
	if err != nil {
		return nil, err
	}
	s.pages = append(s.pages, p)
	s.cfg.Metrics.setPages(ch.ID(), 1)
	return s, nil
}

// Remove unlinks every page region of ch. Spaces that still map them keep
// working; later opens start from empty pages. It returns the number of
// regions removed.
func Remove(ctx context.Context, ch channel.Channel, cfg Config) (int, error) {
	if cfg.Mapper == nil {
		cfg.Mapper = DefaultMapper()
	}
	for i := 0; ; i++ {
		err := cfg.Mapper.Remove(ctx, ch.SubID(strconv.Itoa(i)))
		if errors.Is(err, fs.ErrNotExist) {
			return i, nil
		}
		if err != nil {
			return i, err
		}
	}
}

func (s *Space) openPage(ctx context.Context, index int, create bool) (*page, error) {
	name := s.channel.SubID(strconv.Itoa(index))
	region, err := s.cfg.Mapper.Open(ctx, name, s.cfg.PageSize, create)
	if err != nil {
		if errors.Is(err, ishm.ErrSizeMismatch) {
			return nil, fmt.Errorf("%w: page %s: %v", ErrInvalidLayout, name, err)
		}
		return nil, fmt.Errorf("open page %s: %w", name, err)
	}
	alloc, err := newPageAllocator(region.Bytes())
	if err != nil {
		_ = region.Close()
		return nil, fmt.Errorf("page %s: %w", name, err)
	}

	alloc.lockPage()
	first, err := alloc.tryInit(s.magic)
	alloc.unlockPage()
	if err != nil {
		s.log.errorf("page %s rejected: %v", name, err)
		if cerr := region.Close(); cerr != nil {
			s.log.warnf("page %s close failed: %v", name, cerr)
		}
		return nil, fmt.Errorf("page %s: %w", name, err)
	}
	if first {
		s.log.debugf("page %s initialised with magic %#08x", name, s.magic)
	}
	return &page{index: index, region: region, alloc: alloc}, nil
}

// syncPagesLocked maps the pages other participants created after this
// space last looked.
func (s *Space) syncPagesLocked(ctx context.Context) error {
	for {
		p, err := s.openPage(ctx, len(s.pages), false)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		s.pages = append(s.pages, p)
		s.cfg.Metrics.setPages(s.channel.ID(), len(s.pages))
		s.log.debugf("channel %s: mapped existing page %d", s.channel, p.index)
	}
}

// addPageLocked creates the next page of the space. The caller holds s.mu and
// the base page lock.
func (s *Space) addPageLocked(ctx context.Context) (*page, error) {
	if s.cfg.MaxPages > 0 && len(s.pages) >= s.cfg.MaxPages {
		return nil, fmt.Errorf("%w: channel %s reached %d pages", ErrOutOfRoom, s.channel, s.cfg.MaxPages)
	}
	p, err := s.openPage(ctx, len(s.pages), true)
	if err != nil {
		return nil, err
	}
	s.pages = append(s.pages, p)
	s.cfg.Metrics.observePageAdded(s.channel.ID())
	s.cfg.Metrics.setPages(s.channel.ID(), len(s.pages))
	s.log.infof("channel %s: added page %d", s.channel, p.index)
	return p, nil
}

// Allocate returns the block registered under id, creating it with size bytes
// at the configured alignment if no participant has created it yet.
func (s *Space) Allocate(ctx context.Context, id uint32, size int) (Block, error) {
	return s.AllocateAligned(ctx, id, size, s.cfg.Alignment)
}

// AllocateNamed is Allocate with the id derived from name by BlockID.
func (s *Space) AllocateNamed(ctx context.Context, name string, size int) (Block, error) {
	return s.Allocate(ctx, BlockID(name), size)
}

// AllocateAligned is Allocate with an explicit power-of-two alignment for a
// newly created block. An existing block is returned where it already lives.
func (s *Space) AllocateAligned(ctx context.Context, id uint32, size, alignment int) (Block, error) {
	b, outcome, err := s.allocate(ctx, id, size, alignment)
	if err != nil {
		outcome = OutcomeError
	}
	s.cfg.Metrics.observeAllocation(s.channel.ID(), outcome)
	return b, err
}

func (s *Space) allocate(ctx context.Context, id uint32, size, alignment int) (Block, string, error) {
	if s.closed.Load() {
		return Block{}, "", ErrDisposed
	}
	if id == 0 {
		return Block{}, "", fmt.Errorf("%w: block id 0", ErrInvalidArgument)
	}
	if alignment <= 0 || alignment&(alignment-1) != 0 || alignment > s.cfg.PageSize {
		return Block{}, "", fmt.Errorf("%w: alignment %d", ErrInvalidArgument, alignment)
	}
	if size < 0 || size > s.cfg.PageSize {
		return Block{}, "", fmt.Errorf("%w: size %d with page size %d", ErrInvalidArgument, size, s.cfg.PageSize)
	}
	if room := int64(s.cfg.PageSize) - int64(firstDataOffset(uint32(alignment))); int64(size) > room {
		return Block{}, "", fmt.Errorf("%w: size %d exceeds the %d bytes a page can hold", ErrInvalidArgument, size, room)
	}
	if b, ok, err := s.lookupCache(id, size); ok || err != nil {
		return b, OutcomeCached, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return Block{}, "", ErrDisposed
	}
	// Another goroutine may have resolved id while we waited.
	if b, ok, err := s.lookupCache(id, size); ok || err != nil {
		return b, OutcomeCached, err
	}

	base := s.pages[0].alloc
	start := time.Now()
	base.lockPage()
	s.cfg.Metrics.observeLockWait(time.Since(start))
	defer base.unlockPage()

	if err := s.syncPagesLocked(ctx); err != nil {
		return Block{}, "", err
	}
	for _, p := range s.pages {
		off, found, err := p.alloc.tryFindAllocated(id)
		if err != nil {
			return Block{}, "", fmt.Errorf("page %d: %w", p.index, err)
		}
		if found {
			b := s.remember(id, p.index, off, size)
			s.log.tracef("channel %s: block %d found at %d:%d", s.channel, id, p.index, off)
			return b, OutcomeFound, nil
		}
	}

	tail := s.pages[len(s.pages)-1]
	for {
		off, err := tail.alloc.tryAllocate(id, uint32(size), uint32(alignment))
		if err == nil {
			b := s.remember(id, tail.index, off, size)
			s.log.tracef("channel %s: block %d allocated at %d:%d", s.channel, id, tail.index, off)
			return b, OutcomeAllocated, nil
		}
		if !errors.Is(err, ErrOutOfRoom) {
			return Block{}, "", fmt.Errorf("page %d: %w", tail.index, err)
		}
		if tail, err = s.addPageLocked(ctx); err != nil {
			return Block{}, "", err
		}
		off, found, err := tail.alloc.tryFindAllocated(id)
		if err != nil {
			return Block{}, "", fmt.Errorf("page %d: %w", tail.index, err)
		}
		if found {
			return s.remember(id, tail.index, off, size), OutcomeFound, nil
		}
	}
}

// lookupCache consults the ids this process already resolved. It is a fast
// path only; other processes never see it.
func (s *Space) lookupCache(id uint32, size int) (Block, bool, error) {
	b, ok := s.cache.Get(id)
	if !ok {
		return Block{}, false, nil
	}
	if b.length != size {
		return Block{}, false, fmt.Errorf("%w: block %d has %d bytes, requested %d", ErrInconsistentSize, id, b.length, size)
	}
	return b, true, nil
}

func (s *Space) remember(id uint32, pageIndex int, offset uint32, size int) Block {
	b := Block{space: s, page: pageIndex, offset: int(offset), length: size}
	s.cache.Set(id, b)
	return b
}

// GetAddress returns the mapped bytes [offset, offset+length) of page pageIndex.
func (s *Space) GetAddress(pageIndex, offset, length int) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrDisposed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil, ErrDisposed
	}
	if pageIndex < 0 || pageIndex >= len(s.pages) {
		return nil, fmt.Errorf("%w: page %d of %d", ErrOutOfRange, pageIndex, len(s.pages))
	}
	if offset < 0 || length < 0 || offset > s.cfg.PageSize || length > s.cfg.PageSize-offset {
		return nil, fmt.Errorf("%w: [%d, %d+%d) in %d-byte page", ErrOutOfRange, offset, offset, length, s.cfg.PageSize)
	}
	end := offset + length
	return s.pages[pageIndex].region.Bytes()[offset:end:end], nil
}

// PageCount returns the number of pages mapped by this space.
func (s *Space) PageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}

// Channel returns the channel the space was opened on.
func (s *Space) Channel() channel.Channel {
	return s.channel
}

// Magic returns the magic written on every page.
func (s *Space) Magic() uint32 {
	return s.magic
}

// PageSize returns the size of each page.
func (s *Space) PageSize() int {
	return s.cfg.PageSize
}

// ProbeLock waits up to timeout for the base page lock to be observed free,
// without acquiring it. A participant that died inside the critical section
// leaves the lock held forever; ProbeLock reports that as ErrLockHeld.
func (s *Space) ProbeLock(ctx context.Context, timeout time.Duration) error {
	if s.closed.Load() {
		return ErrDisposed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrDisposed
	}
	lock := s.pages[0].alloc.lock
	err := SpinUntil(ctx, func() bool { return !lock.Held() }, timeout)
	if errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: channel %s after %s", ErrLockHeld, s.channel, timeout)
	}
	return err
}

// Close unmaps every page. The regions and their content stay in place.
// Blocks of a closed space report ErrDisposed.
func (s *Space) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, p := range s.pages {
		if err := p.region.Close(); err != nil {
			s.log.warnf("channel %s: close page %d: %v", s.channel, p.index, err)
			errs = append(errs, err)
		}
	}
	s.pages = nil
	s.cache.Clear()
	s.cfg.Metrics.setPages(s.channel.ID(), 0)
	return errors.Join(errs...)
}
