// Command shmspace creates, inspects and exercises shared spaces from the
// command line.
//
//	shmspace alloc   -channel NAME -name BLOCK -size N
//	shmspace inspect -channel NAME
//	shmspace verify  -channel NAME
//	shmspace stress  -channel NAME -workers N -blocks N -size N
//	shmspace remove  -channel NAME
//	shmspace serve   -channel NAME -addr :9464
//
// Page size, alignment and page limit come from SHMSPACE_PAGE_SIZE,
// SHMSPACE_ALIGNMENT and SHMSPACE_MAX_PAGES.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/srediag/shmspace/pkg/channel"
	"github.com/srediag/shmspace/pkg/shm"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, args []string, out io.Writer) error
}

var commands = []command{
	{"alloc", "allocate (or look up) a named block", runAlloc},
	{"inspect", "print every page and allocation", runInspect},
	{"verify", "check the page structures", runVerify},
	{"stress", "allocate concurrently from many spaces and verify", runStress},
	{"remove", "unlink every page of a channel", runRemove},
	{"serve", "serve health probes and metrics for a channel", runServe},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "shmspace:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(os.Stderr)
		return errors.New("missing command")
	}
	for _, c := range commands {
		if c.name == args[0] {
			return c.run(ctx, args[1:], out)
		}
	}
	usage(os.Stderr)
	return fmt.Errorf("unknown command %q", args[0])
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: shmspace <command> [flags]")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-8s %s\n", c.name, c.usage)
	}
}

type spaceFlags struct {
	channel string
	raw     bool
}

func (f *spaceFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.channel, "channel", "", "channel seed; hashed into the region name")
	fs.BoolVar(&f.raw, "raw", false, "use -channel as the region name prefix verbatim")
}

func (f *spaceFlags) resolve() (channel.Channel, error) {
	switch {
	case f.channel == "":
		return channel.FromExecutablePath()
	case f.raw:
		return channel.FromString(f.channel), nil
	default:
		return channel.FromHash(f.channel), nil
	}
}

func loadConfig() (shm.Config, error) {
	cfg := shm.DefaultConfig()
	if err := shm.LoadConfigFromEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, shm.VerifyConfig(cfg)
}

func openSpace(ctx context.Context, f *spaceFlags, cfg shm.Config) (*shm.Space, error) {
	ch, err := f.resolve()
	if err != nil {
		return nil, err
	}
	return shm.Open(ctx, ch, cfg)
}
