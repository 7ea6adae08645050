package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	gatomic "sync/atomic"
	"time"

	"github.com/jzj1993/socketserver/interface/tcp"
	"github.com/jzj1993/socketserver/lib/logger"
	"github.com/jzj1993/socketserver/lib/sync/atomic"
)

const (
	// DefaultPollInterval is how long an idle receive loop waits before re-checking for stop
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultReadBufferSize bounds the bytes delivered by a single OnReceive
	DefaultReadBufferSize = 4096
)

// ErrClosed is returned by Write once the connection released its socket
var ErrClosed = errors.New("connection closed")

// Options tunes a Transceiver, zero values fall back to defaults
type Options struct {
	PollInterval   time.Duration
	ReadBufferSize int
	// WriteTimeout bounds a single Write, 0 means no deadline
	WriteTimeout time.Duration
	// KeepAlive enables TCP keep-alive with the given period, 0 leaves the OS default
	KeepAlive time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}
	return o
}

// Transceiver owns one accepted connection. It polls the socket on its own
// goroutine, delivering whatever bytes arrived to the ConnHandler, and lets
// any goroutine write to the peer.
type Transceiver struct {
	id      uint64
	addr    net.Addr
	handler tcp.ConnHandler
	opts    Options

	// raw is never reassigned, used by the receive loop and for interrupts
	raw net.Conn

	// mu serializes writes, out is nil once the socket is released
	mu  sync.Mutex
	out net.Conn

	state   int32
	started atomic.Boolean
	stopped atomic.Boolean

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ tcp.Conn = (*Transceiver)(nil)

// NewTransceiver wraps conn. Events go to handler once Start is called.
// ctx cancellation stops the transceiver like Stop does.
func NewTransceiver(ctx context.Context, id uint64, conn net.Conn, handler tcp.ConnHandler, opts Options) *Transceiver {
	c := &Transceiver{
		id:      id,
		addr:    conn.RemoteAddr(),
		handler: handler,
		opts:    opts.withDefaults(),
		raw:     conn,
		out:     conn,
		state:   int32(tcp.Connecting),
		done:    make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	return c
}

// ID returns the identifier given by the server
func (c *Transceiver) ID() uint64 {
	return c.id
}

// RemoteAddr returns the peer address captured when the connection was accepted
func (c *Transceiver) RemoteAddr() net.Addr {
	return c.addr
}

// State returns the current lifecycle stage
func (c *Transceiver) State() tcp.State {
	return tcp.State(gatomic.LoadInt32(&c.state))
}

func (c *Transceiver) setState(s tcp.State) {
	gatomic.StoreInt32(&c.state, int32(s))
}

// Done is closed after OnDisconnect returned
func (c *Transceiver) Done() <-chan struct{} {
	return c.done
}

// Start launches the receive loop. Only the first call has effect.
func (c *Transceiver) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.serve()
}

// Stop asks the receive loop to finish and interrupts a pending read.
// It may be called from any goroutine, any number of times.
func (c *Transceiver) Stop() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	c.cancel()
	_ = c.raw.SetReadDeadline(time.Now())
	if cr, ok := c.raw.(interface{ CloseRead() error }); ok {
		_ = cr.CloseRead()
	}
}

// Write sends b to the peer. Writes are serialized, a failed write
// disconnects the connection.
func (c *Transceiver) Write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out == nil {
		return ErrClosed
	}
	if len(b) == 0 {
		return nil
	}
	if c.opts.WriteTimeout > 0 {
		_ = c.out.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	if _, err := c.out.Write(b); err != nil {
		c.Stop()
		return fmt.Errorf("write to %s: %w", c.addr, err)
	}
	return nil
}

// Send writes b and reports whether it succeeded
func (c *Transceiver) Send(b []byte) bool {
	if err := c.Write(b); err != nil {
		logger.Warnf("send failed: %v", err)
		return false
	}
	return true
}

// open prepares the socket for polling
func (c *Transceiver) open() error {
	// the receive loop relies on read deadlines
	if err := c.raw.SetReadDeadline(time.Time{}); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}
	if tc, ok := c.raw.(*net.TCPConn); ok && c.opts.KeepAlive > 0 {
		if err := tc.SetKeepAlive(true); err != nil {
			return fmt.Errorf("enable keep-alive: %w", err)
		}
		if err := tc.SetKeepAlivePeriod(c.opts.KeepAlive); err != nil {
			return fmt.Errorf("set keep-alive period: %w", err)
		}
	}
	// a connection stopped before it opened goes straight to Disconnecting
	if !c.stopped.Get() {
		c.setState(tcp.Active)
	}
	return nil
}

func (c *Transceiver) serve() {
	defer c.teardown()
	defer func() {
		if err := recover(); err != nil {
			logger.Errorf("connection %s: handler panic: %v", c.addr, err)
		}
	}()

	if err := c.open(); err != nil {
		logger.Warnf("connection %s: open failed: %v", c.addr, err)
		return
	}
	buf := make([]byte, c.opts.ReadBufferSize)
	for c.ctx.Err() == nil {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.opts.PollInterval))
		n, err := c.raw.Read(buf)
		if n > 0 {
			b := make([]byte, n)
			copy(b, buf[:n])
			c.handler.OnReceive(c, b)
		}
		if err == nil {
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			// nothing available within this interval
			continue
		}
		switch {
		case c.ctx.Err() != nil:
		case errors.Is(err, io.EOF):
			logger.Debugf("connection %s: closed by peer", c.addr)
		default:
			logger.Infof("connection %s: read failed: %v", c.addr, err)
		}
		return
	}
}

// teardown runs exactly once, on the receive loop goroutine
func (c *Transceiver) teardown() {
	defer close(c.done)
	c.setState(tcp.Disconnecting)
	c.stopped.Set(true)
	c.cancel()

	// wait for an in-flight Write, later ones see ErrClosed
	c.mu.Lock()
	c.out = nil
	c.mu.Unlock()
	if err := c.raw.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Warnf("connection %s: close failed: %v", c.addr, err)
	}

	defer c.setState(tcp.Closed)
	defer func() {
		if err := recover(); err != nil {
			logger.Errorf("connection %s: disconnect handler panic: %v", c.addr, err)
		}
	}()
	c.handler.OnDisconnect(c)
}
