package shard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListenReusePortBindsASocket(t *testing.T) {
	ln, err := listenReusePort("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	require.NotEmpty(t, ln.Addr().String())
}

func TestPinCPUNegativeIsNoop(t *testing.T) {
	require.NoError(t, pinCPU(-1))
}
