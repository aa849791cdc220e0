package shm

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/srediag/shmspace/pkg/channel"
)

const (
	helperRoleEnv = "SHMSPACE_TEST_HELPER_ROLE"
	helperSeedEnv = "SHMSPACE_TEST_HELPER_SEED"

	handoffRounds  = 100
	handoffTimeout = 10 * time.Second
	protocolMagic  = 0x5EED
)

func TestMain(m *testing.M) {
	if os.Getenv(helperRoleEnv) == "remote" {
		if err := handoff(context.Background(), os.Getenv(helperSeedEnv), false); err != nil {
			fmt.Fprintln(os.Stderr, "remote:", err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func handoffChannel(seed string) channel.Channel {
	return channel.FromHash(seed).Sub("mem")
}

// handoff plays one side of a ping-pong over two 4-byte blocks "A" and "B".
// The remote side announces itself with B=1 and then answers every A=1 with
// A=0, B=2; the local side waits for the announcement and then sets A=1 and
// waits for B=2, resetting B to 1, for every round.
func handoff(ctx context.Context, seed string, local bool) error {
	s, err := Open(ctx, handoffChannel(seed), DefaultConfig())
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck // test helper

	proto, err := s.AllocateNamed(ctx, "proto", 4)
	if err != nil {
		return err
	}
	if err := proto.CheckMagic(protocolMagic); err != nil {
		return err
	}
	a, err := s.AllocateNamed(ctx, "A", 4)
	if err != nil {
		return err
	}
	b, err := s.AllocateNamed(ctx, "B", 4)
	if err != nil {
		return err
	}
	waitFor := func(blk Block, want uint32) error {
		return SpinUntil(ctx, func() bool {
			v, err := blk.LoadUint32(0)
			return err == nil && v == want
		}, handoffTimeout)
	}

	if !local {
		if err := b.StoreUint32(0, 1); err != nil {
			return err
		}
		for i := 0; i < handoffRounds; i++ {
			if err := waitFor(a, 1); err != nil {
				return fmt.Errorf("round %d: %w", i, err)
			}
			if err := a.StoreUint32(0, 0); err != nil {
				return err
			}
			if err := b.StoreUint32(0, 2); err != nil {
				return err
			}
		}
		return nil
	}

	if err := waitFor(b, 1); err != nil {
		return fmt.Errorf("announcement: %w", err)
	}
	for i := 0; i < handoffRounds; i++ {
		if err := a.StoreUint32(0, 1); err != nil {
			return err
		}
		if err := waitFor(b, 2); err != nil {
			return fmt.Errorf("round %d: %w", i, err)
		}
		if err := b.StoreUint32(0, 1); err != nil {
			return err
		}
	}
	return s.Verify()
}

func TestCrossProcessHandoff(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("named regions are only implemented on linux")
	}
	if _, err := os.Stat("/dev/shm"); err != nil {
		t.Skipf("/dev/shm not available: %v", err)
	}
	ctx := context.Background()
	seed := fmt.Sprintf("handoff-%d-%d", os.Getpid(), time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = Remove(ctx, handoffChannel(seed), DefaultConfig())
	})

	cmd := exec.Command(os.Args[0], "-test.run=^$")
	cmd.Env = append(os.Environ(), helperRoleEnv+"=remote", helperSeedEnv+"="+seed)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	require.NoError(t, cmd.Start())

	localErr := handoff(ctx, seed, true)
	waitErr := cmd.Wait()
	require.NoError(t, localErr)
	require.NoError(t, waitErr)
}

func TestCrossProcessMagicCollision(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("named regions are only implemented on linux")
	}
	if _, err := os.Stat("/dev/shm"); err != nil {
		t.Skipf("/dev/shm not available: %v", err)
	}
	ctx := context.Background()
	ch := channel.FromHash(fmt.Sprintf("collision-%d-%d", os.Getpid(), time.Now().UnixNano()))
	t.Cleanup(func() { _, _ = Remove(ctx, ch, DefaultConfig()) })

	cfg := DefaultConfig()
	cfg.Magic = 0xAAAA
	s, err := Open(ctx, ch, cfg)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck // test cleanup

	cfg.Magic = 0xBBBB
	_, err = Open(ctx, ch, cfg)
	require.ErrorIs(t, err, ErrInvalidLayout)
	require.NoError(t, s.Verify())
}
