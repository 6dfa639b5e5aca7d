package canvas

// OpenMemory creates a fresh, zeroed, process-local canvas of the given
// dimensions backed by a plain heap buffer. Used by the portable engine
// in environments with no shared-memory viewer attached, and by tests:
// atomic access semantics are identical to the mmap-backed Canvas since
// both are plain byte slices.
func OpenMemory(width, height uint32) (*Canvas, error) {
	size := RegionSize(width, height)
	mem := make([]byte, size)
	return attachFromBytes(mem, width, height, true)
}
