//go:build linux

package shard

import (
	"net"

	"github.com/bits0rcerer/wellenbrecher/internal/engine"
)

// newWorker picks the io_uring engine on Linux, the throughput target
// the whole ring/shard/affinity design exists for.
func newWorker(cfg engine.Config, ln net.Listener) (engine.Worker, error) {
	return engine.NewUringWorker(cfg, ln)
}
