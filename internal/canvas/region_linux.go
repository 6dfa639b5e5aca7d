//go:build linux

package canvas

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Open attaches to (creating if necessary) a named shared-memory region
// at path, sized for a width x height canvas. If the file already
// exists and its size and header match, the existing contents are kept
// (attach); if they do not match, Open returns *IncompatibleCanvasError
// and leaves the file as it is. If the file does not exist it is
// created, truncated to size, zeroed by the kernel (fresh POSIX files
// read as zero), and a new header is written.
//
// The mapping is MAP_SHARED so writes are visible to any other process
// (a viewer, a video source) mapping the same path.
func Open(path string, width, height uint32) (*Canvas, error) {
	size := RegionSize(width, height)

	fresh := false
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if os.IsNotExist(err) {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return nil, fmt.Errorf("canvas: create %s: %w", path, err)
		}
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("canvas: truncate %s: %w", path, err)
		}
		fresh = true
	} else if err != nil {
		return nil, fmt.Errorf("canvas: open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("canvas: stat %s: %w", path, err)
	}
	if !fresh && fi.Size() != size {
		f.Close()
		return nil, &IncompatibleCanvasError{Reason: fmt.Sprintf("existing file size %d, want %d", fi.Size(), size)}
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("canvas: mmap %s: %w", path, err)
	}

	cv, err := attachFromBytes(mem, width, height, fresh)
	if err != nil {
		unix.Munmap(mem)
		f.Close()
		return nil, err
	}
	cv.closer = func() error {
		err := unix.Munmap(mem)
		cerr := f.Close()
		if err != nil {
			return err
		}
		return cerr
	}
	return cv, nil
}

// Unlink removes the named region. It only removes the directory entry;
// processes that still have it mapped keep their mapping (standard
// POSIX unlink-while-open semantics), matching the administrative
// "unlink" operation.
func Unlink(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("canvas: unlink %s: %w", path, err)
	}
	return nil
}
