package shm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "shmspace"

// Allocation outcomes recorded by Metrics.
const (
	OutcomeCached    = "cached"
	OutcomeFound     = "found"
	OutcomeAllocated = "allocated"
	OutcomeError     = "error"
)

// Metrics collects allocation statistics of every space sharing it.
// A nil *Metrics records nothing.
type Metrics struct {
	allocations *prometheus.CounterVec
	pagesAdded  *prometheus.CounterVec
	pages       *prometheus.GaugeVec
	lockWait    prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg if it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "allocations_total",
			Help:      "Block allocation requests by channel and outcome.",
		}, []string{"channel", "outcome"}),
		pagesAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pages_added_total",
			Help:      "Pages created by this process.",
		}, []string{"channel"}),
		pages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pages",
			Help:      "Pages currently mapped by this process.",
		}, []string{"channel"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "base_lock_wait_seconds",
			Help:      "Time spent spinning on the base page lock.",
			Buckets:   prometheus.ExponentialBuckets(1e-7, 4, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.allocations, m.pagesAdded, m.pages, m.lockWait)
	}
	return m
}

func (m *Metrics) observeAllocation(channel, outcome string) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) observePageAdded(channel string) {
	if m == nil {
		return
	}
	m.pagesAdded.WithLabelValues(channel).Inc()
}

func (m *Metrics) setPages(channel string, n int) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(channel).Set(float64(n))
}

func (m *Metrics) observeLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}
