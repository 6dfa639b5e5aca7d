// Package metrics exposes the server's operational counters. The
// counters are always maintained (they are plain atomics under the
// prometheus client's hood); a scrape endpoint is only served when the
// supervisor is configured with --metrics-addr.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every counter/gauge the engine and supervisor update.
type Metrics struct {
	Registry *prometheus.Registry

	ConnectionsAccepted prometheus.Counter
	ConnectionsActive    prometheus.Gauge
	ConnectionsLimited   prometheus.Counter
	PixelsWritten        prometheus.Counter
	CommandsTotal        *prometheus.CounterVec
	ShardPanics          prometheus.Counter
}

// New constructs a fresh, independent registry (never the global
// default one, so multiple Metrics instances can coexist in tests).
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wellenbrecher_connections_accepted_total",
			Help: "Total TCP connections accepted across all shards.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wellenbrecher_connections_active",
			Help: "Currently open connections across all shards.",
		}),
		ConnectionsLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wellenbrecher_connections_limited_total",
			Help: "Connections rejected by the per-IP admission controller.",
		}),
		PixelsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wellenbrecher_pixels_written_total",
			Help: "Total successful PX write commands applied to the canvas.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wellenbrecher_commands_total",
			Help: "Total commands processed, by kind.",
		}, []string{"kind"}),
		ShardPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wellenbrecher_shard_panics_total",
			Help: "Shard event loops that terminated due to a recovered panic.",
		}),
	}

	reg.MustRegister(
		m.ConnectionsAccepted,
		m.ConnectionsActive,
		m.ConnectionsLimited,
		m.PixelsWritten,
		m.CommandsTotal,
		m.ShardPanics,
	)
	return m
}

// Server optionally serves m's registry as Prometheus text exposition on
// addr. A zero-value addr means metrics stay in-process only.
type Server struct {
	httpServer *http.Server
}

// Serve starts listening on addr; it returns immediately, running the
// HTTP server in a background goroutine. Shutdown gracefully stops it.
func Serve(addr string, m *Metrics) (*Server, error) {
	if addr == "" {
		return nil, errors.New("metrics: empty address")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return nil, err
	case <-time.After(50 * time.Millisecond):
		return &Server{httpServer: srv}, nil
	}
}

// Shutdown stops the metrics HTTP server, waiting up to the given
// context's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
