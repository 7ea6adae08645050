package tcp

import (
	"github.com/jzj1993/socketserver/interface/tcp"
)

// HandlerFuncs adapts plain functions to tcp.Handler, nil fields are ignored
type HandlerFuncs struct {
	Connect       func(conn tcp.Conn)
	ConnectFailed func(err error)
	Receive       func(conn tcp.Conn, b []byte)
	Disconnect    func(conn tcp.Conn)
	ServerStop    func()
}

var _ tcp.Handler = (*HandlerFuncs)(nil)

// OnConnect calls h.Connect
func (h *HandlerFuncs) OnConnect(conn tcp.Conn) {
	if h.Connect != nil {
		h.Connect(conn)
	}
}

// OnConnectFailed calls h.ConnectFailed
func (h *HandlerFuncs) OnConnectFailed(err error) {
	if h.ConnectFailed != nil {
		h.ConnectFailed(err)
	}
}

// OnReceive calls h.Receive
func (h *HandlerFuncs) OnReceive(conn tcp.Conn, b []byte) {
	if h.Receive != nil {
		h.Receive(conn, b)
	}
}

// OnDisconnect calls h.Disconnect
func (h *HandlerFuncs) OnDisconnect(conn tcp.Conn) {
	if h.Disconnect != nil {
		h.Disconnect(conn)
	}
}

// OnServerStop calls h.ServerStop
func (h *HandlerFuncs) OnServerStop() {
	if h.ServerStop != nil {
		h.ServerStop()
	}
}
