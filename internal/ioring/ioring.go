// Package ioring is a minimal Go wrapper around the Linux io_uring
// interface: a submission queue (SQ) and completion queue (CQ), both
// mmap'd rings shared with the kernel, driven by the io_uring_setup and
// io_uring_enter syscalls (io_uring_register is not called).
//
// This mirrors the raw-syscall approach used for the same interface
// elsewhere in the reference corpus (mmap'd SQ/CQ rings obtained via
// unix.Syscall6 against the io_uring syscall numbers, rather than a
// cgo binding to liburing): golang.org/x/sys/unix supplies the mmap,
// close and syscall plumbing; everything io_uring-specific is the
// kernel ABI reimplemented directly against that plumbing.
package ioring

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux syscall numbers (amd64) for the io_uring family. There is no
// libc wrapper, so these are invoked directly via unix.Syscall6.
const (
	sysIoUringSetup    = 425
	sysIoUringEnter    = 426
	sysIoUringRegister = 427
)

// Opcodes used by this engine: accept, read, write, close.
const (
	OpNop    = 0
	OpRead   = 22 // IORING_OP_READ
	OpWrite  = 23 // IORING_OP_WRITE
	OpAccept = 13 // IORING_OP_ACCEPT
	OpClose  = 19 // IORING_OP_CLOSE
)

// Setup flags and SQE flags actually exercised here.
const (
	setupClamp = 1 << 4 // IORING_SETUP_CLAMP

	enterGetEvents = 1 << 0 // IORING_ENTER_GETEVENTS

	// acceptMultishot arms a single SQE that yields one CQE per
	// incoming connection until canceled ("multi-shot accept").
	acceptMultishot = 1 << 0 // IORING_ACCEPT_MULTISHOT
)

// mmap offsets for the three regions a ring exposes (fixed ABI
// constants, independent of queue depth).
const (
	offSQRing = 0x00000000
	offCQRing = 0x08000000
	offSQEs   = 0x10000000
)

// params mirrors struct io_uring_params from the kernel UAPI header.
type params struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCPU  uint32
	sqThreadIdle uint32
	features     uint32
	wqFd         uint32
	resv         [3]uint32
	sqOff        sqRingOffsets
	cqOff        cqRingOffsets
}

type sqRingOffsets struct {
	head, tail, ringMask, ringEntries, flags, dropped, array, resv1 uint32
	resv2                                                           uint64
}

type cqRingOffsets struct {
	head, tail, ringMask, ringEntries, overflow, cqes, flags, resv1 uint32
	resv2                                                           uint64
}

// SQE mirrors struct io_uring_sqe (64 bytes). Only the fields this
// engine's opcodes need are named individually; the rest is padding.
type SQE struct {
	Opcode      uint8
	Flags       uint8
	IoPrio      uint16
	FD          int32
	Off         uint64
	Addr        uint64
	Len         uint32
	RWFlagsOr   uint32 // union: rw_flags / accept_flags / etc.
	UserData    uint64
	BufIndex    uint16
	Personality uint16
	SpliceFDIn  int32
	_pad        [2]uint64
}

// CQE mirrors struct io_uring_cqe (16 bytes).
type CQE struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

// Ring is one io_uring instance: one submission queue, one completion
// queue, shared with the kernel via mmap.
type Ring struct {
	fd int

	sqMem, cqMem, sqeMem []byte

	sqHead, sqTail, sqMask, sqRingEntries *uint32
	sqFlags                               *uint32
	sqArray                               []uint32
	sqes                                  []SQE

	cqHead, cqTail, cqMask *uint32
	cqes                   []CQE

	mu        sync.Mutex
	sqeCursor uint32 // next local SQE slot to fill before submit
}

// Setup creates a ring with the given submission queue depth (the
// completion queue is sized double, matching the reference transport's
// "CQ should be at least as large as SQ" note).
func Setup(entries uint32) (*Ring, error) {
	var p params
	p.flags = setupClamp

	fd, _, errno := unix.Syscall6(sysIoUringSetup, uintptr(entries), uintptr(unsafe.Pointer(&p)), 0, 0, 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("ioring: io_uring_setup: %w", errno)
	}

	r := &Ring{fd: int(fd)}

	sqRingSize := int(p.sqOff.array) + int(p.sqEntries)*4
	cqRingSize := int(p.cqOff.cqes) + int(p.cqEntries)*int(unsafe.Sizeof(CQE{}))
	sqesSize := int(p.sqEntries) * int(unsafe.Sizeof(SQE{}))

	sqMem, err := unix.Mmap(r.fd, offSQRing, sqRingSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Close(r.fd)
		return nil, fmt.Errorf("ioring: mmap sq ring: %w", err)
	}
	cqMem, err := unix.Mmap(r.fd, offCQRing, cqRingSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Munmap(sqMem)
		unix.Close(r.fd)
		return nil, fmt.Errorf("ioring: mmap cq ring: %w", err)
	}
	sqeMem, err := unix.Mmap(r.fd, offSQEs, sqesSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Munmap(sqMem)
		unix.Munmap(cqMem)
		unix.Close(r.fd)
		return nil, fmt.Errorf("ioring: mmap sqes: %w", err)
	}

	r.sqMem, r.cqMem, r.sqeMem = sqMem, cqMem, sqeMem

	r.sqHead = ptrAt[uint32](sqMem, p.sqOff.head)
	r.sqTail = ptrAt[uint32](sqMem, p.sqOff.tail)
	r.sqMask = ptrAt[uint32](sqMem, p.sqOff.ringMask)
	r.sqRingEntries = ptrAt[uint32](sqMem, p.sqOff.ringEntries)
	r.sqFlags = ptrAt[uint32](sqMem, p.sqOff.flags)
	r.sqArray = sliceAt[uint32](sqMem, p.sqOff.array, int(p.sqEntries))

	r.cqHead = ptrAt[uint32](cqMem, p.cqOff.head)
	r.cqTail = ptrAt[uint32](cqMem, p.cqOff.tail)
	r.cqMask = ptrAt[uint32](cqMem, p.cqOff.ringMask)
	r.cqes = sliceAt[CQE](cqMem, p.cqOff.cqes, int(p.cqEntries))

	r.sqes = sliceAt[SQE](sqeMem, 0, int(p.sqEntries))

	return r, nil
}

// ptrAt reinterprets mem[offset:] as a *T.
func ptrAt[T any](mem []byte, offset uint32) *T {
	return (*T)(unsafe.Pointer(&mem[offset]))
}

// sliceAt reinterprets mem[offset:] as a []T of the given length.
func sliceAt[T any](mem []byte, offset uint32, n int) []T {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&mem[offset])), n)
}

// PrepareMultishotAccept arms a repeating accept SQE on listenFD,
// tagged with userData so completions can be told apart from other
// operation classes: a multi-shot accept is armed on the shared listen
// fd; each completion yields a new socket.
func (r *Ring) PrepareMultishotAccept(listenFD int, userData uint64) error {
	return r.push(SQE{
		Opcode:   OpAccept,
		IoPrio:   acceptMultishot, // the kernel reads accept modifiers from ioprio
		FD:       int32(listenFD),
		UserData: userData,
	})
}

// PrepareRead arms a read of up to len(buf) bytes from fd.
func (r *Ring) PrepareRead(fd int, buf []byte, userData uint64) error {
	return r.push(SQE{
		Opcode:   OpRead,
		FD:       int32(fd),
		Addr:     uint64(uintptr(unsafe.Pointer(&buf[0]))),
		Len:      uint32(len(buf)),
		UserData: userData,
	})
}

// PrepareWrite arms a write of buf to fd.
func (r *Ring) PrepareWrite(fd int, buf []byte, userData uint64) error {
	return r.push(SQE{
		Opcode:   OpWrite,
		FD:       int32(fd),
		Addr:     uint64(uintptr(unsafe.Pointer(&buf[0]))),
		Len:      uint32(len(buf)),
		UserData: userData,
	})
}

// PrepareClose arms a close of fd.
func (r *Ring) PrepareClose(fd int, userData uint64) error {
	return r.push(SQE{
		Opcode:   OpClose,
		FD:       int32(fd),
		UserData: userData,
	})
}

// push writes sqe into the next free submission slot and links it into
// the visible SQ array. The caller batches several push calls then
// calls SubmitAndWait once, amortizing the io_uring_enter syscall.
func (r *Ring) push(sqe SQE) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	mask := atomic.LoadUint32(r.sqMask)
	entries := atomic.LoadUint32(r.sqRingEntries)
	tail := atomic.LoadUint32(r.sqTail)
	if tail-atomic.LoadUint32(r.sqHead) >= entries {
		return fmt.Errorf("ioring: submission queue full")
	}

	idx := tail & mask
	r.sqes[idx] = sqe
	r.sqArray[idx] = idx
	atomic.StoreUint32(r.sqTail, tail+1)
	return nil
}

// SubmitAndWait submits every pending SQE and blocks until at least
// minComplete completions are available.
func (r *Ring) SubmitAndWait(minComplete uint32) (int, error) {
	toSubmit := atomic.LoadUint32(r.sqTail) - atomic.LoadUint32(r.sqHead)
	n, _, errno := unix.Syscall6(sysIoUringEnter,
		uintptr(r.fd), uintptr(toSubmit), uintptr(minComplete),
		uintptr(enterGetEvents), 0, 0)
	if errno != 0 {
		return 0, fmt.Errorf("ioring: io_uring_enter: %w", errno)
	}
	return int(n), nil
}

// PopCompletions appends every currently-available completion to dst
// and advances the completion ring head, so a worker can drain a full
// burst in one pass before re-waiting.
func (r *Ring) PopCompletions(dst []CQE) []CQE {
	head := atomic.LoadUint32(r.cqHead)
	tail := atomic.LoadUint32(r.cqTail)
	mask := atomic.LoadUint32(r.cqMask)

	for head != tail {
		dst = append(dst, r.cqes[head&mask])
		head++
	}
	atomic.StoreUint32(r.cqHead, head)
	return dst
}

// Close tears down the ring's mappings and file descriptor.
func (r *Ring) Close() error {
	var firstErr error
	for _, m := range [][]byte{r.sqeMem, r.cqMem, r.sqMem} {
		if m == nil {
			continue
		}
		if err := unix.Munmap(m); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := unix.Close(r.fd); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
