//go:build !linux

package shard

import (
	"net"

	"github.com/bits0rcerer/wellenbrecher/internal/engine"
)

// newWorker falls back to the portable net-based engine outside Linux.
func newWorker(cfg engine.Config, ln net.Listener) (engine.Worker, error) {
	return engine.NewPollWorker(cfg, ln), nil
}
