package main

import (
	"context"
	"net/http"

	"github.com/hashicorp/go-hclog"

	"github.com/subagentrun/subagent/telemetry"
)

// serveMetrics starts the Bus's Prometheus handler on addr in the
// background when telemetry is enabled in the config's global
// settings, and returns a func that shuts the listener down. Returns a
// no-op shutdown func when addr is empty.
func serveMetrics(addr string, bus *telemetry.Bus, logger hclog.Logger) func(context.Context) error {
	if addr == "" {
		return func(context.Context) error { return nil }
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", bus.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server exited", "error", err)
		}
	}()
	logger.Info("metrics server listening", "addr", addr)

	return srv.Shutdown
}
