package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guarzo/qualityapi/modules/api"
)

const defaultWatchInterval = time.Minute

// metricsHandler exposes the client counters plus the Go runtime collectors.
func metricsHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	api.RegisterCollectors(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func runWatch(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "watch")
	interval := fs.Duration("interval", defaultWatchInterval, "time between polls")
	metricsAddr := fs.String("metrics-addr", "", "serve /metrics on this address, e.g. :9102")
	count := fs.Int("count", 0, "stop after this many polls (0 runs until interrupted)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *interval <= 0 {
		return fmt.Errorf("watch: --interval must be positive")
	}

	fmt.Fprintln(a.stderr, banner())

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			a.log.Info().Str("addr", *metricsAddr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for polls := 1; ; polls++ {
		a.poll(ctx)
		if *count > 0 && polls >= *count {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// poll logs one overview. Failures are logged and the loop keeps going; a failed renewal
// leaves the session empty and the next poll tries the renewal cookie again.
func (a *app) poll(ctx context.Context) {
	ov, err := a.dashboard.Overview(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.log.Error().Err(err).Msg("overview failed")
		}
		return
	}
	a.log.Info().
		Int("universe", ov.Cards.Universe).
		Int("open", ov.Cards.Open).
		Int("closed", ov.Cards.Closed).
		Int("closed_pct", ov.Percentages.Closed).
		Int("duplicate_keys", ov.Duplicates.Keys).
		Int("changed", ov.Changes.ChangedCount).
		Msg("overview")
}
