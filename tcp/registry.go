package tcp

import (
	"sync"
	"sync/atomic"

	"github.com/jzj1993/socketserver/interface/tcp"
)

// Registry is the set of live connections of a server, safe for concurrent use
type Registry struct {
	conns sync.Map
	count int64
}

// Add registers conn, adding the same ID twice has no effect
func (r *Registry) Add(conn tcp.Conn) {
	if _, loaded := r.conns.LoadOrStore(conn.ID(), conn); !loaded {
		atomic.AddInt64(&r.count, 1)
	}
}

// Remove deregisters conn and reports whether it was present.
// Only one of several concurrent calls for the same conn returns true.
func (r *Registry) Remove(conn tcp.Conn) bool {
	if _, ok := r.conns.LoadAndDelete(conn.ID()); ok {
		atomic.AddInt64(&r.count, -1)
		return true
	}
	return false
}

// Get finds a registered connection by ID
func (r *Registry) Get(id uint64) (tcp.Conn, bool) {
	v, ok := r.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(tcp.Conn), true
}

// Len returns the number of registered connections
func (r *Registry) Len() int {
	return int(atomic.LoadInt64(&r.count))
}

// ForEach visits registered connections until consumer returns false
func (r *Registry) ForEach(consumer func(conn tcp.Conn) bool) {
	r.conns.Range(func(key, value interface{}) bool {
		return consumer(value.(tcp.Conn))
	})
}

// Clear removes every connection and returns how many were removed
func (r *Registry) Clear() int {
	removed := 0
	r.ForEach(func(conn tcp.Conn) bool {
		if r.Remove(conn) {
			removed++
		}
		return true
	})
	return removed
}
