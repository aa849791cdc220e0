package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"github.com/srediag/shmspace/pkg/shm"
)

func runAlloc(ctx context.Context, args []string, out io.Writer) error {
	var sf spaceFlags
	fs := flag.NewFlagSet("alloc", flag.ContinueOnError)
	sf.register(fs)
	name := fs.String("name", "", "block name")
	id := fs.Uint("id", 0, "block id; used when -name is empty")
	size := fs.Int("size", 8, "block size in bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" && *id == 0 {
		return fmt.Errorf("alloc: one of -name or -id is required")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openSpace(ctx, &sf, cfg)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck // process exits right after

	var b shm.Block
	if *name != "" {
		b, err = s.AllocateNamed(ctx, *name, *size)
	} else {
		b, err = s.Allocate(ctx, uint32(*id), *size)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s %s\n", s.Channel(), b)
	return err
}

func runInspect(ctx context.Context, args []string, out io.Writer) error {
	var sf spaceFlags
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	sf.register(fs)
	summary := fs.Bool("summary", false, "print page counters only")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openSpace(ctx, &sf, cfg)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck // read only

	if !*summary {
		return s.Dump(out)
	}
	st, err := s.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "channel %s magic %#08x pages %d blocks %d\n", st.Channel, st.Magic, len(st.Pages), st.Blocks())
	for _, p := range st.Pages {
		fmt.Fprintf(out, "page %d cursor %d free %d nodes %d blocks %d locked %t\n",
			p.Index, p.Cursor, p.Free, p.TableNodes, p.Blocks, p.Locked)
	}
	return nil
}

func runVerify(ctx context.Context, args []string, out io.Writer) error {
	var sf spaceFlags
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	sf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openSpace(ctx, &sf, cfg)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck // read only

	// Verify only looks at mapped pages; Stats maps the rest first.
	if _, err := s.Stats(ctx); err != nil {
		return err
	}
	if err := s.Verify(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s: ok, %d pages\n", s.Channel(), s.PageCount())
	return err
}

func runStress(ctx context.Context, args []string, out io.Writer) error {
	var sf spaceFlags
	fs := flag.NewFlagSet("stress", flag.ContinueOnError)
	sf.register(fs)
	workers := fs.Int("workers", 8, "concurrent spaces")
	blocks := fs.Int("blocks", 1000, "distinct block ids")
	size := fs.Int("size", 24, "block size in bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	spaces := make([]*shm.Space, *workers)
	for i := range spaces {
		if spaces[i], err = openSpace(ctx, &sf, cfg); err != nil {
			return err
		}
		defer spaces[i].Close() //nolint:errcheck // process exits right after
	}

	pool, err := ants.NewPool(*workers)
	if err != nil {
		return err
	}
	defer pool.Release()

	// Each id is asked for by every space; all of them must agree.
	results := make([][]shm.Block, *workers)
	for i := range results {
		results[i] = make([]shm.Block, *blocks)
	}
	var (
		wg       sync.WaitGroup
		failures atomic.Int64
		errOnce  sync.Once
		firstErr error
	)
	for w := range spaces {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			for id := 0; id < *blocks; id++ {
				b, err := spaces[w].Allocate(ctx, uint32(id+1), *size)
				if err != nil {
					failures.Add(1)
					errOnce.Do(func() { firstErr = err })
					return
				}
				results[w][id] = b
			}
		}); err != nil {
			wg.Done()
			return err
		}
	}
	wg.Wait()
	if n := failures.Load(); n > 0 {
		return fmt.Errorf("stress: %d workers failed: %w", n, firstErr)
	}

	for id := 0; id < *blocks; id++ {
		want := results[0][id]
		for w := 1; w < *workers; w++ {
			got := results[w][id]
			if got.Page() != want.Page() || got.Offset() != want.Offset() {
				return fmt.Errorf("stress: id %d resolved to %s and %s", id+1, want, got)
			}
		}
	}
	if err := spaces[0].Verify(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s: %d workers agreed on %d blocks over %d pages\n",
		spaces[0].Channel(), *workers, *blocks, spaces[0].PageCount())
	return err
}

func runRemove(ctx context.Context, args []string, out io.Writer) error {
	var sf spaceFlags
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	sf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ch, err := sf.resolve()
	if err != nil {
		return err
	}
	n, err := shm.Remove(ctx, ch, cfg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s: removed %d pages\n", ch, n)
	return err
}
