package shm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const fastSpins = 1000

var errNotYet = errors.New("condition not met")

// SpinUntil returns once cond reports true. It polls in a tight loop first and
// then backs off exponentially up to 1ms between polls. It fails with
// ErrTimeout after timeout, or with the context error; a timeout <= 0 waits
// until ctx is done.
func SpinUntil(ctx context.Context, cond func() bool, timeout time.Duration) error {
	for i := 0; i < fastSpins; i++ {
		if cond() {
			return nil
		}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Microsecond
	b.MaxInterval = time.Millisecond
	b.MaxElapsedTime = 0
	if timeout > 0 {
		b.MaxElapsedTime = timeout
	}
	err := backoff.Retry(func() error {
		if cond() {
			return nil
		}
		return errNotYet
	}, backoff.WithContext(b, ctx))
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}
