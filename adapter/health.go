package adapter

import (
	"context"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/shmspace/api"
)

// DefaultLockTimeout bounds how long the liveness probe waits for the
// allocation lock.
const DefaultLockTimeout = time.Second

// HealthTarget is what the health handler probes.
type HealthTarget interface {
	api.LockProber
	api.Verifier
}

// LockCheck fails when the allocation lock stays held for timeout, which is
// what a participant that died inside the critical section looks like.
func LockCheck(p api.LockProber, timeout time.Duration) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*timeout)
		defer cancel()
		return p.ProbeLock(ctx, timeout)
	}
}

// LayoutCheck fails when the page structures are inconsistent.
func LayoutCheck(v api.Verifier) healthcheck.Check {
	return func() error {
		return v.Verify()
	}
}

// NewHealthHandler serves /live from the lock probe and /ready from the layout
// check. With a non-nil registry the check results are also exported as
// gauges under the shmspace namespace.
func NewHealthHandler(t HealthTarget, lockTimeout time.Duration, reg prometheus.Registerer) healthcheck.Handler {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	var h healthcheck.Handler
	if reg != nil {
		h = healthcheck.NewMetricsHandler(reg, "shmspace")
	} else {
		h = healthcheck.NewHandler()
	}
	h.AddLivenessCheck("allocation-lock", LockCheck(t, lockTimeout))
	h.AddReadinessCheck("layout", LayoutCheck(t))
	return h
}
