package protocol

import (
	"errors"
	"time"
)

// ReadBudget bounds how long a single Read call may keep dispatching.
const ReadBudget = 250 * time.Millisecond

var (
	// ErrNotListening means no server socket could be bound.
	ErrNotListening = errors.New("protocol: not listening")
	// ErrNotConnected means no child is connected, so the packet was not sent.
	ErrNotConnected = errors.New("protocol: no connection")
)

// Channel is the message channel between the supervisor and its child.
// All methods are called from the event loop.
type Channel interface {
	// Listen makes sure the server side is accepting connections.
	Listen() error
	// Listening reports whether the server side is open.
	Listening() bool
	// Port is the bound port, or 0.
	Port() int
	// Connected reports whether a child connection is open.
	Connected() bool
	// Read hands pending packets to dispatch for at most ReadBudget and
	// reports whether more data may still be waiting.
	Read(dispatch func(Packet)) (more bool)
	// Send writes one packet to the connected child.
	Send(code Code, msg string) error
	// CloseConn drops the child connection but keeps listening.
	CloseConn()
	// Close drops the connection and the listener.
	Close() error
}
