//go:build !linux

package canvas

import "fmt"

// Open on non-Linux platforms falls back to a process-local, non-shared
// region: any shared-memory viewer/streamer integration is a Linux-only
// external collaborator (it relies on the exact mmap layout this
// package produces), so outside Linux the server still runs correctly
// for TCP clients but nothing else can attach to path.
func Open(path string, width, height uint32) (*Canvas, error) {
	return OpenMemory(width, height)
}

// Unlink always returns an error on platforms where Open never creates a
// named file.
func Unlink(path string) error {
	return fmt.Errorf("canvas: unlink not supported on this platform")
}
