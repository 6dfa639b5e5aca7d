package engine

import "errors"

// Sentinel errors for per-connection close reasons that aren't already
// typed by internal/protocol or internal/canvas.
var (
	// ErrConnectionLimit: the per-IP admission controller refused this
	// connection. Its text is the diagnostic written before close
	// ("ERROR connection limit").
	ErrConnectionLimit = errors.New("connection limit")

	// ErrOverloaded: the connection's write buffer grew past its cap
	// because the peer reads slower than the server produces responses.
	// Closed after a best-effort drain, no diagnostic (the peer is
	// presumably not reading anyway).
	ErrOverloaded = errors.New("engine: write buffer overloaded")

	// ErrIdleTimeout: no read completed for the configured idle window.
	ErrIdleTimeout = errors.New("engine: idle timeout")

	// ErrPeerClosed: the remote end closed the connection; not an error
	// condition, just a close reason, logged at debug level.
	ErrPeerClosed = errors.New("engine: peer closed connection")
)
