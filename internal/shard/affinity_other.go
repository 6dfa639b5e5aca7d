//go:build !linux

package shard

// pinCPU is a no-op outside Linux; CPU affinity has no portable
// equivalent the standard library or this project's dependencies
// expose, so non-Linux shards simply run wherever the Go scheduler
// places them.
func pinCPU(cpu int) error {
	return nil
}
