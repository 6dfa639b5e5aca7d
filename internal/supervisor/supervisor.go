// Package supervisor wires together configuration, the canvas, the
// metrics endpoint and the worker shards, and owns the process-wide
// startup and shutdown order: parse config, open/create the canvas,
// start metrics (if configured), spawn one shard per thread, then wait
// for a shutdown signal and drain every shard before unmapping the
// canvas (without unlinking it — the region outlives the process so a
// viewer or the next server instance can still attach).
package supervisor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/bits0rcerer/wellenbrecher/internal/canvas"
	"github.com/bits0rcerer/wellenbrecher/internal/config"
	"github.com/bits0rcerer/wellenbrecher/internal/engine"
	"github.com/bits0rcerer/wellenbrecher/internal/ipguard"
	"github.com/bits0rcerer/wellenbrecher/internal/logging"
	"github.com/bits0rcerer/wellenbrecher/internal/metrics"
	"github.com/bits0rcerer/wellenbrecher/internal/shard"
)

// DrainDeadline bounds how long a shutdown waits for in-flight
// connections to close on their own before they are force-closed.
const DrainDeadline = 2 * time.Second

// Supervisor owns every long-lived resource for one server process.
type Supervisor struct {
	cfg *config.Config
	log logging.Logger

	canvas        *canvas.Canvas
	metrics       *metrics.Metrics
	metricsServer *metrics.Server
	guard         *ipguard.Guard
	uids          *engine.UIDAllocator

	shards []*shard.Shard
}

// New performs every startup step except actually serving: parses
// nothing itself (cfg is already loaded by the caller), opens or
// creates the canvas region, and starts the metrics endpoint if
// configured.
func New(cfg *config.Config, log logging.Logger) (*Supervisor, error) {
	if log == nil {
		log = logging.Nop()
	}

	cv, err := canvas.Open(cfg.CanvasFileLink, cfg.Width, cfg.Height)
	if err != nil {
		return nil, fmt.Errorf("supervisor: open canvas: %w", err)
	}
	log.Info(fmt.Sprintf("canvas ready: %dx%d at %s", cfg.Width, cfg.Height, cfg.CanvasFileLink))

	s := &Supervisor{
		cfg:     cfg,
		log:     log,
		canvas:  cv,
		metrics: metrics.New(),
		guard:   ipguard.New(cfg.ConnectionsPerIP),
		uids:    engine.NewUIDAllocator(),
	}

	if cfg.MetricsAddr != "" {
		srv, err := metrics.Serve(cfg.MetricsAddr, s.metrics)
		if err != nil {
			cv.Close()
			return nil, fmt.Errorf("supervisor: start metrics: %w", err)
		}
		s.metricsServer = srv
		log.Info("metrics listening on " + cfg.MetricsAddr)
	}

	return s, nil
}

// Run spawns one shard per configured thread (0 meaning one per
// logical CPU), serves until ctx is canceled, then drains every shard
// and tears down the metrics endpoint and canvas mapping in reverse
// order. It returns the first shard error encountered, if any, after
// every shard has finished shutting down.
func (s *Supervisor) Run(ctx context.Context) error {
	threads := s.cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	pin := threads <= runtime.NumCPU()
	for i := 0; i < threads; i++ {
		cpu := -1
		if pin {
			cpu = i % runtime.NumCPU()
		}
		sh, err := shard.New(shard.Config{
			ID:            i,
			CPU:           cpu,
			ListenNetwork: "tcp",
			ListenAddr:    addr,
			Canvas:        s.canvas,
			Guard:         s.guard,
			UIDs:          s.uids,
			Metrics:       s.metrics,
			Log:           s.log,
			MaxWriteBuf:   engine.DefaultMaxWriteBuf,
			IdleTimeout:   s.cfg.IdleTimeout,
		})
		if err != nil {
			s.stopShards(s.shards)
			s.teardown()
			return fmt.Errorf("supervisor: spawn shard %d: %w", i, err)
		}
		s.shards = append(s.shards, sh)
	}
	s.log.Info(fmt.Sprintf("listening on %s across %d shard(s)", addr, threads))

	var wg sync.WaitGroup
	errCh := make(chan error, len(s.shards))
	for _, sh := range s.shards {
		wg.Add(1)
		go func(sh *shard.Shard) {
			defer wg.Done()
			if err := sh.Run(ctx); err != nil {
				errCh <- err
			}
		}(sh)
	}

	<-ctx.Done()
	s.log.Info("shutdown requested, draining shards")
	s.stopShards(s.shards)
	wg.Wait()
	close(errCh)

	s.teardown()

	var first error
	for err := range errCh {
		if first == nil {
			first = err
		} else {
			s.log.Error("additional shard error during shutdown: ", err)
		}
	}
	return first
}

func (s *Supervisor) stopShards(shards []*shard.Shard) {
	for _, sh := range shards {
		sh.Stop(DrainDeadline)
	}
}

func (s *Supervisor) teardown() {
	if s.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), DrainDeadline)
		defer cancel()
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			s.log.Warn("metrics server shutdown: ", err)
		}
	}
	if err := s.canvas.Close(); err != nil {
		s.log.Warn("canvas close: ", err)
	}
}
