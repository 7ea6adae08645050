package tcp

import (
	"net"
)

// State is the lifecycle stage of a connection.
// A connection moves Connecting -> Active -> Disconnecting -> Closed and never goes back.
type State int32

// Connection states
const (
	Connecting State = iota
	Active
	Disconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Disconnecting:
		return "disconnecting"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Conn is a live duplex byte stream owned by a server
type Conn interface {
	// ID is unique within the server which accepted the connection
	ID() uint64
	RemoteAddr() net.Addr
	State() State

	// Write sends b to the peer, it is safe to call from any goroutine
	Write(b []byte) error
	// Send is Write reporting success as a bool, errors are logged
	Send(b []byte) bool
	// Stop disconnects actively, OnDisconnect fires once the connection is released.
	// Calling Stop more than once is harmless.
	Stop()
}

// ConnHandler receives the events of a single connection.
// Both methods are called on the goroutine serving that connection,
// OnReceive never after OnDisconnect.
type ConnHandler interface {
	OnReceive(conn Conn, b []byte)
	OnDisconnect(conn Conn)
}

// Handler represents application server over tcp
type Handler interface {
	ConnHandler

	// OnConnect fires before any other event of conn
	OnConnect(conn Conn)
	// OnConnectFailed reports an accept error, the server keeps accepting
	OnConnectFailed(err error)
	// OnServerStop fires exactly once, after every connection is disconnected
	// or when the server could not bind
	OnServerStop()
}

// Server is a listener which serves connections in background
type Server interface {
	// Start binds and returns the bind error, it does not block while serving
	Start() error
	// Stop begins shutdown, Done is closed once it finished
	Stop()
	Done() <-chan struct{}
}
