//go:build linux

package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bits0rcerer/wellenbrecher/internal/ioring"
	"github.com/bits0rcerer/wellenbrecher/internal/logging"
	"github.com/bits0rcerer/wellenbrecher/internal/protocol"
)

// user-data tagging: the low 32 bits identify the connection slot (or
// 0 for the shared multishot accept SQE), the high bits the operation
// class, so a completion can be routed without a side lookup table
// keyed by anything other than an array index.
const (
	tagAccept uint64 = 1 << 60
	tagRead   uint64 = 2 << 60
	tagWrite  uint64 = 3 << 60
	tagClose  uint64 = 4 << 60

	tagMask = 0x0fffffffffffffff
	tagOp   = 0xf000000000000000
)

// uringConn is one connection's state machine (Accepting -> Reading ->
// Processing -> Writing -> Closing -> Dead), tracked by a slot index in
// UringWorker.slots rather than by pointer so a completion for an
// already-closed slot is simply a map miss, not a dangling reference.
type uringConn struct {
	fd      int
	uid     uint32
	ip      string
	scanner *protocol.Scanner

	readBuf    []byte
	writeBuf   []byte
	closing    bool
	lastActive time.Time
}

// UringWorker is the Linux completion-queue engine:
// a single ring per shard, a multishot accept SQE on the shared
// SO_REUSEPORT listener, and batched read/write submission driven from
// one goroutine so the canvas and protocol code run without any
// per-connection locking beyond what internal/canvas already does for
// cross-shard writes.
type UringWorker struct {
	cfg      Config
	listener net.Listener
	listenFD int

	ring *ioring.Ring

	mu       sync.Mutex
	slots    map[uint32]*uringConn
	nextSlot uint32
	draining bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewUringWorker builds a Worker backed by io_uring. listener must wrap
// a TCP socket bound with SO_REUSEPORT by its shard; its raw file
// descriptor is duplicated for the ring's multishot accept.
func NewUringWorker(cfg Config, listener net.Listener) (*UringWorker, error) {
	if cfg.MaxWriteBuf <= 0 {
		cfg.MaxWriteBuf = DefaultMaxWriteBuf
	}
	if cfg.MaxLineLen <= 0 {
		cfg.MaxLineLen = protocol.MaxLineLen
	}

	fd, err := listenerFD(listener)
	if err != nil {
		return nil, fmt.Errorf("engine: uring: %w", err)
	}

	ring, err := ioring.Setup(4096)
	if err != nil {
		return nil, fmt.Errorf("engine: uring: %w", err)
	}

	return &UringWorker{
		cfg:      cfg,
		listener: listener,
		listenFD: fd,
		ring:     ring,
		slots:    make(map[uint32]*uringConn),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

func listenerFD(l net.Listener) (int, error) {
	sc, ok := l.(syscallConner)
	if !ok {
		return 0, fmt.Errorf("listener does not expose a raw file descriptor")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	var ctrlErr error
	err = raw.Control(func(p uintptr) {
		fd = int(p)
		dup, e := unix.Dup(fd)
		if e != nil {
			ctrlErr = e
			return
		}
		fd = dup
	})
	if err != nil {
		return 0, err
	}
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}

type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}

// Serve implements Worker. It runs a single loop: arm the multishot
// accept, then repeatedly submit pending SQEs and drain whatever
// completions are ready, dispatching each by its tagged opcode.
func (w *UringWorker) Serve(ctx context.Context) error {
	log := w.cfg.Log
	if log == nil {
		log = logging.Nop()
	}
	defer close(w.doneCh)

	if err := w.ring.PrepareMultishotAccept(w.listenFD, tagAccept); err != nil {
		return fmt.Errorf("engine: uring: arm accept: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			w.Stop(2 * time.Second)
		case <-w.stopCh:
		}
	}()

	if w.cfg.IdleTimeout > 0 {
		go w.sweepIdle(w.cfg.IdleTimeout)
	}

	cqes := make([]ioring.CQE, 0, 256)
	for {
		w.mu.Lock()
		draining := w.draining
		empty := len(w.slots) == 0
		w.mu.Unlock()
		if draining && empty {
			return nil
		}

		n, err := w.ring.SubmitAndWait(1)
		if err != nil {
			if draining {
				return nil
			}
			log.Warn("uring: submit/wait failed: ", err)
			continue
		}
		if n == 0 {
			continue
		}

		cqes = w.ring.PopCompletions(cqes[:0])
		for _, c := range cqes {
			w.handleCompletion(c, log)
		}
	}
}

// Stop implements Worker: stop arming further accepts and close every
// tracked connection's file descriptor within the deadline, unblocking
// Serve's loop once the ring has no outstanding work.
func (w *UringWorker) Stop(drainDeadline time.Duration) {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.draining = true
		w.mu.Unlock()
		close(w.stopCh)

		if drainDeadline <= 0 {
			w.closeAll()
			return
		}
		time.AfterFunc(drainDeadline, w.closeAll)
	})
}

func (w *UringWorker) closeAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for slot, c := range w.slots {
		unix.Close(c.fd)
		w.cfg.Guard.Release(c.ip)
		delete(w.slots, slot)
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.ConnectionsActive.Dec()
		}
	}
}

func (w *UringWorker) handleCompletion(c ioring.CQE, log logging.Logger) {
	switch c.UserData & tagOp {
	case tagAccept:
		w.handleAccept(c, log)
	case tagRead:
		w.handleRead(uint32(c.UserData&tagMask), c.Res, log)
	case tagWrite:
		w.handleWriteDone(uint32(c.UserData&tagMask), c.Res, log)
	case tagClose:
		// fd already released from bookkeeping when the close was queued.
	}
}

func (w *UringWorker) handleAccept(c ioring.CQE, log logging.Logger) {
	if c.Res < 0 {
		if !w.isDraining() {
			log.Warn("uring: accept completion error: ", unix.Errno(-c.Res))
		}
		return
	}
	fd := int(c.Res)

	if w.cfg.Metrics != nil {
		w.cfg.Metrics.ConnectionsAccepted.Inc()
	}

	ip := peerIP(fd)
	if !w.cfg.Guard.Allow(ip) {
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.ConnectionsLimited.Inc()
		}
		msg := protocol.AppendError(nil, ErrConnectionLimit.Error())
		unix.Write(fd, msg)
		unix.Close(fd)
		return
	}

	uid, err := w.cfg.UIDs.Next()
	if err != nil {
		log.Error("uid space exhausted, refusing new connection: ", err)
		w.cfg.Guard.Release(ip)
		unix.Close(fd)
		return
	}

	w.mu.Lock()
	slot := w.nextSlot
	w.nextSlot++
	conn := &uringConn{
		fd:         fd,
		uid:        uid,
		ip:         ip,
		scanner:    protocol.NewScanner(w.cfg.MaxLineLen),
		readBuf:    make([]byte, 8*1024),
		lastActive: time.Now(),
	}
	w.slots[slot] = conn
	w.mu.Unlock()

	if w.cfg.Metrics != nil {
		w.cfg.Metrics.ConnectionsActive.Inc()
	}

	if err := w.ring.PrepareRead(fd, conn.readBuf, tagRead|uint64(slot)); err != nil {
		log.Error("uring: arm read failed: ", err)
		w.closeSlot(slot)
	}
}

func (w *UringWorker) handleRead(slot uint32, res int32, log logging.Logger) {
	conn := w.slot(slot)
	if conn == nil {
		return
	}

	if res == 0 {
		log.Debug(ErrPeerClosed)
		w.closeSlot(slot)
		return
	}
	if res < 0 {
		w.closeSlot(slot)
		return
	}
	conn.lastActive = time.Now()

	cmds, err := conn.scanner.Feed(conn.readBuf[:res], nil)
	if err != nil {
		w.closeWithDiagnostic(slot, conn, err)
		return
	}

	var out []byte
	for _, cmd := range cmds {
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.CommandsTotal.WithLabelValues(kindName(cmd.Kind)).Inc()
		}

		var applyErr error
		out, applyErr = Apply(w.cfg.Canvas, conn.uid, cmd, out)
		if applyErr != nil {
			w.closeWithDiagnostic(slot, conn, applyErr)
			return
		}
		if cmd.Kind == protocol.KindSetPixel && w.cfg.Metrics != nil {
			w.cfg.Metrics.PixelsWritten.Inc()
		}
	}

	if len(out) > w.cfg.MaxWriteBuf {
		w.closeWithDiagnostic(slot, conn, ErrOverloaded)
		return
	}

	if len(out) > 0 {
		conn.writeBuf = out
		if err := w.ring.PrepareWrite(conn.fd, conn.writeBuf, tagWrite|uint64(slot)); err != nil {
			log.Error("uring: arm write failed: ", err)
			w.closeSlot(slot)
			return
		}
		return
	}

	// Nothing to write: re-arm the read immediately.
	if err := w.ring.PrepareRead(conn.fd, conn.readBuf, tagRead|uint64(slot)); err != nil {
		log.Error("uring: re-arm read failed: ", err)
		w.closeSlot(slot)
	}
}

func (w *UringWorker) handleWriteDone(slot uint32, res int32, log logging.Logger) {
	conn := w.slot(slot)
	if conn == nil {
		return
	}
	if res < 0 {
		w.closeSlot(slot)
		return
	}
	if conn.closing {
		w.closeSlot(slot)
		return
	}
	if err := w.ring.PrepareRead(conn.fd, conn.readBuf, tagRead|uint64(slot)); err != nil {
		log.Error("uring: re-arm read after write failed: ", err)
		w.closeSlot(slot)
	}
}

// closeWithDiagnostic mirrors poll.go's policy: a BadCommandError
// gets a diagnostic line before close, LineTooLong/Overloaded close
// silently, everything else (chiefly OutOfBounds) gets its error text
// written back before close.
func (w *UringWorker) closeWithDiagnostic(slot uint32, conn *uringConn, err error) {
	var bad *protocol.BadCommandError
	switch {
	case errors.As(err, &bad):
		conn.writeBuf = protocol.AppendError(nil, bad.Reason)
	case errors.Is(err, protocol.ErrLineTooLong), errors.Is(err, ErrOverloaded), errors.Is(err, ErrIdleTimeout):
		conn.writeBuf = nil
	default:
		conn.writeBuf = protocol.AppendError(nil, err.Error())
	}

	conn.closing = true
	if len(conn.writeBuf) > 0 {
		if werr := w.ring.PrepareWrite(conn.fd, conn.writeBuf, tagWrite|uint64(slot)); werr == nil {
			return
		}
	}
	w.closeSlot(slot)
}

func (w *UringWorker) slot(i uint32) *uringConn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.slots[i]
}

func (w *UringWorker) closeSlot(i uint32) {
	w.mu.Lock()
	conn, ok := w.slots[i]
	if ok {
		delete(w.slots, i)
	}
	w.mu.Unlock()
	if !ok {
		return
	}

	unix.Close(conn.fd)
	w.cfg.Guard.Release(conn.ip)
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.ConnectionsActive.Dec()
	}
}

// sweepIdle periodically force-closes connections that haven't
// completed a read within idleTimeout, mirroring poll.go's per-read
// SetReadDeadline policy: the uring engine has no per-read deadline
// primitive wired into internal/ioring, so it tracks each connection's
// last activity and closes it out of band instead.
func (w *UringWorker) sweepIdle(idleTimeout time.Duration) {
	interval := idleTimeout / 4
	if interval <= 0 {
		interval = idleTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			var idle []uint32
			w.mu.Lock()
			for slot, conn := range w.slots {
				if now.Sub(conn.lastActive) >= idleTimeout {
					idle = append(idle, slot)
				}
			}
			w.mu.Unlock()
			for _, slot := range idle {
				if conn := w.slot(slot); conn != nil {
					w.closeWithDiagnostic(slot, conn, ErrIdleTimeout)
				}
			}
		}
	}
}

func (w *UringWorker) isDraining() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draining
}

// peerIP reads the remote address off an accepted fd via getpeername,
// since the connection never passes through the net package.
func peerIP(fd int) string {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return ""
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String()
	case *unix.SockaddrInet6:
		return net.IP(a.Addr[:]).String()
	default:
		return ""
	}
}
