//go:build !unix

package shard

import (
	"context"
	"net"
)

// listenReusePort falls back to a plain listener on platforms without
// SO_REUSEPORT; with more than one shard, the second shard's bind to the
// same address fails and shard.New returns that error.
func listenReusePort(network, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(context.Background(), network, addr)
}
