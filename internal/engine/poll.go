package engine

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/bits0rcerer/wellenbrecher/internal/logging"
	"github.com/bits0rcerer/wellenbrecher/internal/protocol"
)

// PollWorker is the portable Worker: one goroutine per accepted
// connection, driven by blocking reads/writes on a shared listener.
// Functionally it implements the exact same per-connection state
// machine (admission check, streaming parse, synchronous
// canvas apply, backpressure, drain-on-close); only the substrate
// (goroutines + blocking syscalls instead of a single-threaded
// completion-queue loop) differs.
type PollWorker struct {
	cfg Config

	listener net.Listener

	mu       sync.Mutex
	conns    map[*pollConn]struct{}
	draining bool

	stopOnce sync.Once
	stopCh   chan struct{}

	drainDeadline time.Duration
}

// NewPollWorker builds a Worker that Accepts from an already-bound
// listener (internal/shard is responsible for SO_REUSEPORT binding so
// every shard can share one port).
func NewPollWorker(cfg Config, listener net.Listener) *PollWorker {
	if cfg.MaxWriteBuf <= 0 {
		cfg.MaxWriteBuf = DefaultMaxWriteBuf
	}
	if cfg.MaxLineLen <= 0 {
		cfg.MaxLineLen = protocol.MaxLineLen
	}
	return &PollWorker{
		cfg:           cfg,
		listener:      listener,
		conns:         make(map[*pollConn]struct{}),
		stopCh:        make(chan struct{}),
		drainDeadline: 2 * time.Second,
	}
}

type pollConn struct {
	net.Conn
	uid     uint32
	ip      string
	scanner *protocol.Scanner
}

// Serve implements Worker.
func (w *PollWorker) Serve(ctx context.Context) error {
	log := w.cfg.Log
	if log == nil {
		log = logging.Nop()
	}

	go func() {
		select {
		case <-ctx.Done():
			w.Stop(w.drainDeadline)
		case <-w.stopCh:
		}
	}()

	var wg sync.WaitGroup
	for {
		conn, err := w.listener.Accept()
		if err != nil {
			w.mu.Lock()
			draining := w.draining
			w.mu.Unlock()
			if draining {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			log.Warn("accept failed: ", err)
			continue
		}

		if w.cfg.Metrics != nil {
			w.cfg.Metrics.ConnectionsAccepted.Inc()
		}

		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		if !w.cfg.Guard.Allow(host) {
			if w.cfg.Metrics != nil {
				w.cfg.Metrics.ConnectionsLimited.Inc()
			}
			writeAndClose(conn, protocol.AppendError(nil, ErrConnectionLimit.Error()))
			continue
		}

		uid, err := w.cfg.UIDs.Next()
		if err != nil {
			log.Error("uid space exhausted, refusing new connection: ", err)
			w.cfg.Guard.Release(host)
			conn.Close()
			continue
		}

		pc := &pollConn{
			Conn:    conn,
			uid:     uid,
			ip:      host,
			scanner: protocol.NewScanner(w.cfg.MaxLineLen),
		}

		w.mu.Lock()
		w.conns[pc] = struct{}{}
		w.mu.Unlock()
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.ConnectionsActive.Inc()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			w.serveConn(pc)
		}()
	}

	wg.Wait()
	return nil
}

// Stop implements Worker: stop accepting and let serveConn goroutines
// drain on their own (each honors a write deadline on close).
func (w *PollWorker) Stop(drainDeadline time.Duration) {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.draining = true
		w.drainDeadline = drainDeadline
		w.mu.Unlock()
		w.listener.Close()
		close(w.stopCh)

		if drainDeadline <= 0 {
			w.forceCloseAll()
			return
		}
		time.AfterFunc(drainDeadline, w.forceCloseAll)
	})
}

// forceCloseAll closes every still-open connection, unblocking their
// Read() calls so serveConn goroutines return and Serve's wg.Wait()
// completes, even if a peer never closes on its own.
func (w *PollWorker) forceCloseAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for c := range w.conns {
		c.Close()
	}
}

func (w *PollWorker) serveConn(pc *pollConn) {
	log := w.cfg.Log
	if log == nil {
		log = logging.Nop()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic handling connection, recovering: ", r)
		}
		pc.Close()
		w.cfg.Guard.Release(pc.ip)
		w.mu.Lock()
		delete(w.conns, pc)
		w.mu.Unlock()
		if w.cfg.Metrics != nil {
			w.cfg.Metrics.ConnectionsActive.Dec()
		}
	}()

	buf := make([]byte, 8*1024)
	cmdBuf := make([]protocol.Command, 0, 16)

	for {
		if w.cfg.IdleTimeout > 0 {
			pc.SetReadDeadline(time.Now().Add(w.cfg.IdleTimeout))
		}

		n, err := pc.Read(buf)
		if n > 0 {
			var parseErr error
			cmdBuf, parseErr = w.cfg.feedAndApply(pc, buf[:n], cmdBuf[:0])
			if parseErr != nil {
				w.closeWithDiagnostic(pc, parseErr)
				return
			}
		}
		if err != nil {
			if isTimeout(err) {
				w.closeWithDiagnostic(pc, ErrIdleTimeout)
				return
			}
			if errors.Is(err, io.EOF) {
				log.Debug(ErrPeerClosed)
				return
			}
			return
		}
	}
}

// feedAndApply parses whatever bytes were just read and applies each
// resulting command, writing responses (subject to the backpressure
// cap) as it goes.
func (c *Config) feedAndApply(pc *pollConn, data []byte, cmds []protocol.Command) ([]protocol.Command, error) {
	cmds, err := pc.scanner.Feed(data, cmds)
	if err != nil {
		return cmds, err
	}

	var out []byte
	for _, cmd := range cmds {
		if c.Metrics != nil {
			c.Metrics.CommandsTotal.WithLabelValues(kindName(cmd.Kind)).Inc()
		}

		var applyErr error
		out, applyErr = Apply(c.Canvas, pc.uid, cmd, out[:0])
		if applyErr != nil {
			return cmds, applyErr
		}
		if cmd.Kind == protocol.KindSetPixel && c.Metrics != nil {
			c.Metrics.PixelsWritten.Inc()
		}

		if len(out) == 0 {
			continue
		}
		if len(out) > c.MaxWriteBuf {
			return cmds, ErrOverloaded
		}
		if _, werr := pc.Write(out); werr != nil {
			return cmds, werr
		}
	}
	return cmds, nil
}

func (w *PollWorker) closeWithDiagnostic(pc *pollConn, err error) {
	var bad *protocol.BadCommandError
	switch {
	case errors.As(err, &bad):
		writeAndClose(pc, protocol.AppendError(nil, bad.Reason))
	case errors.Is(err, protocol.ErrLineTooLong),
		errors.Is(err, ErrOverloaded),
		errors.Is(err, ErrIdleTimeout):
		pc.Close()
	default:
		// OutOfBounds and any other canvas/protocol error: diagnostic
		// then close, matching the BadCommand/OutOfBounds policy.
		writeAndClose(pc, protocol.AppendError(nil, err.Error()))
	}
}

func writeAndClose(c net.Conn, msg []byte) {
	c.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if len(msg) > 0 {
		c.Write(msg)
	}
	c.Close()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func kindName(k protocol.Kind) string {
	switch k {
	case protocol.KindHelp:
		return "help"
	case protocol.KindSize:
		return "size"
	case protocol.KindGetPixel:
		return "get_pixel"
	case protocol.KindSetPixel:
		return "set_pixel"
	default:
		return "unknown"
	}
}

