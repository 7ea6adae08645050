package gnet

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jzj1993/socketserver/interface/tcp"
	"github.com/jzj1993/socketserver/lib/logger"
	libatomic "github.com/jzj1993/socketserver/lib/sync/atomic"
	tcpserver "github.com/jzj1993/socketserver/tcp"
	"github.com/panjf2000/gnet/v2"
)

// ErrServerStarted is returned by Start on a server which was already started
var ErrServerStarted = tcpserver.ErrServerStarted

// GnetServer serves tcp.Handler from gnet event loops instead of a goroutine per connection.
// Events of one connection are still delivered one at a time, in order.
type GnetServer struct {
	gnet.BuiltinEventEngine

	cfg       *tcpserver.Config
	handler   tcp.Handler
	multicore bool

	started  libatomic.Boolean
	stopping libatomic.Boolean

	mu     sync.Mutex
	eng    gnet.Engine
	booted bool
	ready  chan struct{}

	conns  tcpserver.Registry
	nextID uint64
	done   chan struct{}
}

var _ tcp.Server = (*GnetServer)(nil)

// NewGnetServer creates a server, nothing is bound until Start
func NewGnetServer(cfg *tcpserver.Config, handler tcp.Handler, multicore bool) *GnetServer {
	return &GnetServer{
		cfg:       cfg,
		handler:   handler,
		multicore: multicore,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (s *GnetServer) options() []gnet.Option {
	opts := []gnet.Option{
		gnet.WithMulticore(s.multicore),
		gnet.WithReusePort(s.cfg.ReusePort),
		gnet.WithLogger(logger.Sugared()),
	}
	if s.cfg.KeepAlive > 0 {
		opts = append(opts, gnet.WithTCPKeepAlive(s.cfg.KeepAlive))
	}
	if s.cfg.ReadBufferSize > 0 {
		opts = append(opts, gnet.WithReadBufferCap(s.cfg.ReadBufferSize))
	}
	return opts
}

// Start runs the event loops in background and returns once they are
// booted, or the error which prevented it. OnServerStop fires in both cases.
func (s *GnetServer) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrServerStarted
	}
	runErr := make(chan error, 1)
	go func() {
		defer close(s.done)
		err := gnet.Run(s, "tcp://"+s.cfg.Address, s.options()...)
		if err != nil {
			logger.Errorf("start server failed: %v", err)
		}
		runErr <- err
		s.conns.Clear()
		s.fireServerStop()
	}()
	select {
	case <-s.ready:
		return nil
	case err := <-runErr:
		if err == nil {
			err = errors.New("gnet engine exited before boot")
		}
		return err
	}
}

// Stop shuts the engine down without waiting, OnServerStop fires once every
// connection is closed. Calling Stop more than once is harmless.
func (s *GnetServer) Stop() {
	if !s.stopping.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	eng, booted := s.eng, s.booted
	s.mu.Unlock()
	if !booted {
		// OnBoot sees the stopping flag
		return
	}
	// eng.Stop waits for the event loops, which may be the caller
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(s.cfg))
		defer cancel()
		if err := eng.Stop(ctx); err != nil {
			logger.Warnf("stop gnet engine: %v", err)
		}
	}()
}

// Done is closed after OnServerStop returned
func (s *GnetServer) Done() <-chan struct{} {
	return s.done
}

// Conns returns the number of live connections
func (s *GnetServer) Conns() int {
	return s.conns.Len()
}

// Conn finds a live connection by ID
func (s *GnetServer) Conn(id uint64) (tcp.Conn, bool) {
	return s.conns.Get(id)
}

func (s *GnetServer) OnBoot(eng gnet.Engine) (action gnet.Action) {
	s.mu.Lock()
	s.eng = eng
	s.booted = true
	s.mu.Unlock()
	logger.Infof("bind: %s, start listening...", s.cfg.Address)
	close(s.ready)
	if s.stopping.Get() {
		return gnet.Shutdown
	}
	return
}

func (s *GnetServer) OnOpen(c gnet.Conn) (out []byte, action gnet.Action) {
	client := &conn{
		id:   atomic.AddUint64(&s.nextID, 1),
		c:    c,
		addr: c.RemoteAddr(),
	}
	client.setState(tcp.Active)
	c.SetContext(client)
	s.conns.Add(client)
	logger.Infof("accept link %s", client.addr)
	safely("OnConnect", func() { s.handler.OnConnect(client) })
	return
}

func (s *GnetServer) OnClose(c gnet.Conn, err error) (action gnet.Action) {
	client, ok := c.Context().(*conn)
	if !ok {
		return
	}
	if err != nil {
		logger.Infof("error occurred on connection=%s, %v", client.addr, err)
	}
	client.setState(tcp.Closed)
	s.conns.Remove(client)
	safely("OnDisconnect", func() { s.handler.OnDisconnect(client) })
	return
}

func (s *GnetServer) OnTraffic(c gnet.Conn) (action gnet.Action) {
	client := c.Context().(*conn)
	buf, err := c.Next(-1)
	if err != nil {
		logger.Infof("read from %s failed: %v", client.addr, err)
		return gnet.Close
	}
	if len(buf) == 0 {
		return gnet.None
	}
	// buf is only valid until the next read
	b := make([]byte, len(buf))
	copy(b, buf)
	if !safely("OnReceive", func() { s.handler.OnReceive(client, b) }) {
		// a panicking handler only costs its own connection
		return gnet.Close
	}
	return gnet.None
}

func (s *GnetServer) fireServerStop() {
	safely("OnServerStop", s.handler.OnServerStop)
	logger.Info("server stopped")
}

// safely runs an application callback on an event loop, a panic is logged
// and reported as false instead of killing the engine
func safely(name string, fn func()) (ok bool) {
	defer func() {
		if err := recover(); err != nil {
			logger.Errorf("%s panic: %v", name, err)
			ok = false
		}
	}()
	fn()
	return true
}

func shutdownTimeout(cfg *tcpserver.Config) time.Duration {
	if cfg.ShutdownTimeout <= 0 {
		return tcpserver.DefaultShutdownTimeout
	}
	return cfg.ShutdownTimeout
}

// conn exposes a gnet connection as tcp.Conn
type conn struct {
	id      uint64
	c       gnet.Conn
	addr    net.Addr
	state   int32
	stopped libatomic.Boolean
}

var _ tcp.Conn = (*conn)(nil)

func (c *conn) ID() uint64 {
	return c.id
}

func (c *conn) RemoteAddr() net.Addr {
	return c.addr
}

func (c *conn) State() tcp.State {
	return tcp.State(atomic.LoadInt32(&c.state))
}

func (c *conn) setState(s tcp.State) {
	atomic.StoreInt32(&c.state, int32(s))
}

// Write queues b on the connection's event loop, safe from any goroutine
func (c *conn) Write(b []byte) error {
	if c.State() != tcp.Active || c.stopped.Get() {
		return tcpserver.ErrClosed
	}
	if len(b) == 0 {
		return nil
	}
	buf := make([]byte, len(b))
	copy(buf, b)
	return c.c.AsyncWrite(buf, nil)
}

func (c *conn) Send(b []byte) bool {
	if err := c.Write(b); err != nil {
		logger.Warnf("send to %s failed: %v", c.addr, err)
		return false
	}
	return true
}

func (c *conn) Stop() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	atomic.CompareAndSwapInt32(&c.state, int32(tcp.Active), int32(tcp.Disconnecting))
	if err := c.c.Close(); err != nil {
		logger.Debugf("close %s: %v", c.addr, err)
	}
}
