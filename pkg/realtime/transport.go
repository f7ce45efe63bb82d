// Package realtime implements a crash-safe connection manager for real-time
// messaging transports: automatic reconnection with exponential backoff, a
// bounded offline event queue replayed in order after reconnect, and a
// panic-isolated event dispatcher. The manager owns the connection lifecycle;
// the physical wire protocol lives behind the Transport interface.
package realtime

import (
	"context"
)

// Transport is the physical connection beneath a Manager. Implementations
// own the wire protocol and the read loop; they report inbound events and
// connection loss through the registered callbacks.
type Transport interface {
	// Connect establishes the physical connection using the supplied
	// credential. A credential rejected by the remote side must be reported
	// as pkg/errors.ErrAuthRejected so the manager never retries it.
	Connect(ctx context.Context, credential string) error

	// Send delivers one named event. Valid only while connected; transport
	// failures are returned, never panicked.
	Send(event string, payload []byte) error

	// Ping sends a liveness probe. Pong arrival is reported via OnPong.
	Ping() error

	// Close tears down the physical connection. Closing a closed transport
	// is a no-op.
	Close() error

	// SetCallbacks registers the manager's callbacks. Called once, before
	// the first Connect.
	SetCallbacks(cb Callbacks)
}

// Callbacks are the transport-to-manager notification channels.
type Callbacks struct {
	// OnEvent is invoked for every inbound named event.
	OnEvent func(event string, payload []byte)

	// OnDisconnect is invoked when the physical connection is lost. A nil
	// error means the server closed the connection cleanly; the manager
	// does not reconnect in that case.
	OnDisconnect func(err error)

	// OnPong is invoked when a pong answers an earlier Ping.
	OnPong func()
}
