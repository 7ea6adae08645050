package tcp

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/jzj1993/socketserver/interface/tcp"
)

// recorder is a tcp.Handler which logs every event in order
type recorder struct {
	mu       sync.Mutex
	events   []string
	received map[uint64]*bytes.Buffer

	reply []byte

	connected    chan tcp.Conn
	disconnected chan tcp.Conn
	stopped      chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		received:     make(map[uint64]*bytes.Buffer),
		connected:    make(chan tcp.Conn, 16),
		disconnected: make(chan tcp.Conn, 16),
		stopped:      make(chan struct{}, 4),
	}
}

func (r *recorder) log(format string, args ...interface{}) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *recorder) OnConnect(conn tcp.Conn) {
	r.log("connect %d", conn.ID())
	r.connected <- conn
}

func (r *recorder) OnConnectFailed(err error) {
	r.log("connect failed")
}

func (r *recorder) OnReceive(conn tcp.Conn, b []byte) {
	r.mu.Lock()
	buf, ok := r.received[conn.ID()]
	if !ok {
		buf = &bytes.Buffer{}
		r.received[conn.ID()] = buf
	}
	buf.Write(b)
	r.mu.Unlock()
	r.log("receive %d", conn.ID())
	if r.reply != nil {
		conn.Send(r.reply)
	}
}

func (r *recorder) OnDisconnect(conn tcp.Conn) {
	r.log("disconnect %d", conn.ID())
	r.disconnected <- conn
}

func (r *recorder) OnServerStop() {
	r.log("server stop")
	r.stopped <- struct{}{}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) receivedFrom(id uint64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buf, ok := r.received[id]; ok {
		return buf.String()
	}
	return ""
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.snapshot() {
		if e == event {
			n++
		}
	}
	return n
}

func indexOf(events []string, event string) int {
	for i, e := range events {
		if e == event {
			return i
		}
	}
	return -1
}
