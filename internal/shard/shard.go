// Package shard owns one worker's lifecycle: binding its share of the
// SO_REUSEPORT listening socket, optionally pinning its OS thread to a
// CPU, and driving the chosen engine.Worker implementation to
// completion.
package shard

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/bits0rcerer/wellenbrecher/internal/canvas"
	"github.com/bits0rcerer/wellenbrecher/internal/engine"
	"github.com/bits0rcerer/wellenbrecher/internal/ipguard"
	"github.com/bits0rcerer/wellenbrecher/internal/logging"
	"github.com/bits0rcerer/wellenbrecher/internal/metrics"
)

// Config describes one shard's identity and shared resources. Canvas,
// Guard, UIDs and Metrics are shared across every shard in the process;
// only the listening socket and (optionally) the pinned CPU are
// per-shard.
type Config struct {
	ID  int
	CPU int // -1: no pinning

	ListenNetwork string // "tcp" or "tcp4"/"tcp6"
	ListenAddr    string

	Canvas  *canvas.Canvas
	Guard   *ipguard.Guard
	UIDs    *engine.UIDAllocator
	Metrics *metrics.Metrics
	Log     logging.Logger

	MaxLineLen  int
	MaxWriteBuf int
	IdleTimeout time.Duration
}

// Shard runs one worker from its own dedicated listening socket (bound
// with SO_REUSEPORT so the kernel load-balances accepts across shards)
// through to a clean shutdown.
type Shard struct {
	cfg      Config
	listener net.Listener
	worker   engine.Worker
}

// New binds this shard's listening socket and constructs the platform
// worker, but does not start serving; call Run for that.
func New(cfg Config) (*Shard, error) {
	if cfg.Log == nil {
		cfg.Log = logging.Nop()
	}
	network := cfg.ListenNetwork
	if network == "" {
		network = "tcp"
	}

	ln, err := listenReusePort(network, cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("shard %d: listen: %w", cfg.ID, err)
	}

	workerCfg := engine.Config{
		ShardID:     cfg.ID,
		Canvas:      cfg.Canvas,
		Guard:       cfg.Guard,
		UIDs:        cfg.UIDs,
		Metrics:     cfg.Metrics,
		Log:         cfg.Log.WithFields(logging.Fields{"shard": cfg.ID}),
		MaxLineLen:  cfg.MaxLineLen,
		MaxWriteBuf: cfg.MaxWriteBuf,
		IdleTimeout: cfg.IdleTimeout,
	}

	w, err := newWorker(workerCfg, ln)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("shard %d: %w", cfg.ID, err)
	}

	return &Shard{cfg: cfg, listener: ln, worker: w}, nil
}

// Run pins the calling goroutine's OS thread to the configured CPU (if
// any) and serves until ctx is canceled or Stop is called. A panicking
// connection handler is already recovered inside the worker; a panic
// that escapes Run itself (e.g. during setup) is caught here so one
// shard's failure never takes down the others, and is reported via the
// ShardPanics metric rather than restarted (an operator-visible dead
// shard, not a silent respawn loop).
func (s *Shard) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.ShardPanics.Inc()
			}
			s.cfg.Log.Error(fmt.Sprintf("shard %d: panic, shard is now dead: %v", s.cfg.ID, r))
			err = fmt.Errorf("shard %d: panic: %v", s.cfg.ID, r)
		}
	}()

	if err := pinCPU(s.cfg.CPU); err != nil {
		s.cfg.Log.Warn(fmt.Sprintf("shard %d: cpu pinning failed, continuing unpinned: %v", s.cfg.ID, err))
	}

	return s.worker.Serve(ctx)
}

// Stop requests a graceful drain of this shard's worker.
func (s *Shard) Stop(drainDeadline time.Duration) {
	s.worker.Stop(drainDeadline)
}
