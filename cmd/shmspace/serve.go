package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srediag/shmspace/adapter"
	"github.com/srediag/shmspace/pkg/shm"
)

func runServe(ctx context.Context, args []string, out io.Writer) error {
	var sf spaceFlags
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	sf.register(fs)
	addr := fs.String("addr", ":9464", "listen address")
	lockTimeout := fs.Duration("lock-timeout", adapter.DefaultLockTimeout, "liveness lock probe timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	cfg.Metrics = shm.NewMetrics(reg)

	s, err := openSpace(ctx, &sf, cfg)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck // shutting down

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newServeMux(s, *lockTimeout, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	fmt.Fprintf(out, "%s: serving /live /ready /metrics on %s\n", s.Channel(), *addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newServeMux(s *shm.Space, lockTimeout time.Duration, reg *prometheus.Registry) *http.ServeMux {
	health := adapter.NewHealthHandler(s, lockTimeout, reg)
	mux := http.NewServeMux()
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}
