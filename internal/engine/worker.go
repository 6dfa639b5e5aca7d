// Package engine implements the per-shard I/O engine: the
// completion-driven (or, portably, goroutine-driven) loop that services
// accepted sockets, feeding bytes through internal/protocol and applying
// commands to internal/canvas.
//
// Two implementations share the Worker interface: an io_uring-backed
// engine (Linux only, engine_uring_linux.go) built directly on raw
// io_uring syscalls for the throughput a pixel-flooding workload
// demands, and a portable engine (poll.go) built on the standard net
// package, kept because a readiness-based substrate is a legitimate
// alternative and because it gives the rest of the module a transport
// runnable anywhere.
package engine

import (
	"context"
	"time"

	"github.com/bits0rcerer/wellenbrecher/internal/canvas"
	"github.com/bits0rcerer/wellenbrecher/internal/ipguard"
	"github.com/bits0rcerer/wellenbrecher/internal/logging"
	"github.com/bits0rcerer/wellenbrecher/internal/metrics"
)

// Config bundles everything a Worker needs to service connections for
// one shard. The listener is supplied separately, to the worker's
// constructor: each shard binds its own socket on the shared port
// (SO_REUSEPORT).
type Config struct {
	ShardID int

	Canvas  *canvas.Canvas
	Guard   *ipguard.Guard
	UIDs    *UIDAllocator
	Metrics *metrics.Metrics
	Log     logging.Logger

	MaxLineLen  int
	MaxWriteBuf int // backpressure cap (e.g. 64 KiB)
	IdleTimeout time.Duration
}

// DefaultMaxWriteBuf is the example backpressure cap.
const DefaultMaxWriteBuf = 64 * 1024

// Worker drives one shard's connections to completion.
type Worker interface {
	// Serve runs the event loop until ctx is canceled or Stop is called.
	// It blocks until every owned connection has reached Closed and been
	// reclaimed (graceful drain).
	Serve(ctx context.Context) error

	// Stop requests a graceful drain: stop accepting, let in-flight
	// commands finish, close sockets within the given deadline.
	Stop(drainDeadline time.Duration)
}
