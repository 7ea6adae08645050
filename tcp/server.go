package tcp

/**
 * A tcp server
 */

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jzj1993/socketserver/interface/tcp"
	"github.com/jzj1993/socketserver/lib/logger"
	libatomic "github.com/jzj1993/socketserver/lib/sync/atomic"
	"github.com/jzj1993/socketserver/lib/sync/wait"
)

const (
	// DefaultShutdownTimeout bounds how long a stopping server waits for its connections
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultWriteTimeout bounds a single write on an accepted connection
	DefaultWriteTimeout = 10 * time.Second

	acceptRetryDelay = 5 * time.Millisecond
)

var (
	// ErrServerStarted is returned by Start on a server which was already started
	ErrServerStarted = errors.New("server already started")
)

// Config stores tcp server properties
type Config struct {
	Address         string
	PollInterval    time.Duration
	ReadBufferSize  int
	WriteTimeout    time.Duration
	KeepAlive       time.Duration
	ShutdownTimeout time.Duration
	ReusePort       bool
}

func (cfg *Config) options() Options {
	opts := Options{
		PollInterval:   cfg.PollInterval,
		ReadBufferSize: cfg.ReadBufferSize,
		WriteTimeout:   cfg.WriteTimeout,
		KeepAlive:      cfg.KeepAlive,
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	return opts
}

func (cfg *Config) shutdownTimeout() time.Duration {
	if cfg.ShutdownTimeout <= 0 {
		return DefaultShutdownTimeout
	}
	return cfg.ShutdownTimeout
}

// Listen binds the address described by cfg
func Listen(ctx context.Context, cfg *Config) (net.Listener, error) {
	lc := net.ListenConfig{}
	if cfg.ReusePort {
		lc.Control = reusePortControl
	}
	listener, err := lc.Listen(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Address, err)
	}
	return listener, nil
}

var _ tcp.Server = (*Server)(nil)

// Server accepts connections on its own goroutine and serves each of them
// with a Transceiver
type Server struct {
	cfg     *Config
	handler tcp.Handler
	listen  func(ctx context.Context, cfg *Config) (net.Listener, error)

	started libatomic.Boolean
	running libatomic.Boolean

	mu       sync.Mutex
	listener net.Listener

	conns    Registry
	nextID   uint64
	waitDone wait.Wait

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewServer creates a server, nothing is bound until Start
func NewServer(cfg *Config, handler tcp.Handler) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		handler: handler,
		listen:  Listen,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// MakeServer creates a server listening on port of all interfaces
func MakeServer(port int, handler tcp.Handler) *Server {
	return NewServer(&Config{Address: fmt.Sprintf(":%d", port)}, handler)
}

// Start binds the address and accepts connections in background.
// The bind error is returned, and OnServerStop fires even when binding failed.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrServerStarted
	}
	s.running.Set(true)
	bound := make(chan error, 1)
	go s.serve(bound)
	return <-bound
}

// Stop closes the listener, the accept goroutine then disconnects every
// connection and fires OnServerStop. Calling Stop more than once is harmless.
func (s *Server) Stop() {
	s.running.Set(false)
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		// listener.Accept() will return err immediately
		_ = listener.Close()
	}
}

// Done is closed after OnServerStop returned
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Running tells whether the server is accepting connections
func (s *Server) Running() bool {
	return s.running.Get()
}

// Addr returns the bound address, nil before binding
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Conns returns the number of live connections
func (s *Server) Conns() int {
	return s.conns.Len()
}

// Conn finds a live connection by ID
func (s *Server) Conn(id uint64) (tcp.Conn, bool) {
	return s.conns.Get(id)
}

func (s *Server) serve(bound chan<- error) {
	defer close(s.done)
	defer s.fireServerStop()

	listener, err := s.listen(s.ctx, s.cfg)
	if err != nil {
		s.running.Set(false)
		logger.Errorf("start server failed: %v", err)
		bound <- err
		return
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	bound <- nil
	logger.Info(fmt.Sprintf("bind: %s, start listening...", listener.Addr()))

	s.acceptLoop(listener)
	s.shutdown(listener)
}

func (s *Server) acceptLoop(listener net.Listener) {
	for s.running.Get() {
		conn, err := listener.Accept()
		if err != nil {
			if !s.running.Get() || errors.Is(err, net.ErrClosed) {
				return
			}
			// learn from net/http/serve.go#Serve()
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logger.Infof("accept occurs temporary error: %v, retry in 5ms", err)
			} else {
				logger.Warnf("accept failed: %v", err)
			}
			s.safely("OnConnectFailed", func() { s.handler.OnConnectFailed(err) })
			time.Sleep(acceptRetryDelay)
			continue
		}
		s.accept(conn)
	}
}

func (s *Server) accept(conn net.Conn) {
	id := atomic.AddUint64(&s.nextID, 1)
	client := NewTransceiver(s.ctx, id, conn, (*registryHook)(s), s.cfg.options())
	s.conns.Add(client)
	s.waitDone.Add(1)
	logger.Infof("accept link %s", conn.RemoteAddr())
	s.safely("OnConnect", func() { s.handler.OnConnect(client) })
	client.Start()
}

func (s *Server) shutdown(listener net.Listener) {
	defer func() {
		if err := recover(); err != nil {
			logger.Errorf("shutdown: %v", err)
		}
	}()
	logger.Info("shutting down...")
	s.running.Set(false)
	if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Warnf("close listener: %v", err)
	}

	s.conns.ForEach(func(conn tcp.Conn) bool {
		conn.Stop()
		return true
	})
	timeout := s.cfg.shutdownTimeout()
	if s.waitDone.WaitWithTimeout(timeout) {
		logger.Warnf("%d connections still closing after %s", s.conns.Len(), timeout)
	}
	s.conns.Clear()
	s.cancel()
}

func (s *Server) fireServerStop() {
	s.safely("OnServerStop", s.handler.OnServerStop)
	logger.Info("server stopped")
}

// safely runs an application callback, a panic is logged instead of killing the accept goroutine
func (s *Server) safely(name string, fn func()) {
	defer func() {
		if err := recover(); err != nil {
			logger.Errorf("%s panic: %v", name, err)
		}
	}()
	fn()
}

// registryHook forwards connection events and keeps the registry in sync
type registryHook Server

func (h *registryHook) OnReceive(conn tcp.Conn, b []byte) {
	h.handler.OnReceive(conn, b)
}

func (h *registryHook) OnDisconnect(conn tcp.Conn) {
	defer h.waitDone.Done()
	h.conns.Remove(conn)
	h.handler.OnDisconnect(conn)
}

// ListenAndServeWithSignal binds port and handle requests, blocking until receive stop signal
func ListenAndServeWithSignal(cfg *Config, handler tcp.Handler) error {
	return ServeWithSignal(NewServer(cfg, handler))
}

// ServeWithSignal starts server and blocks until it stopped, a stop signal
// stops it gracefully
func ServeWithSignal(server tcp.Server) error {
	if err := server.Start(); err != nil {
		if !errors.Is(err, ErrServerStarted) {
			<-server.Done()
		}
		return err
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	select {
	case sig := <-sigCh:
		logger.Infof("get exit signal %s", sig)
		server.Stop()
	case <-server.Done():
	}
	<-server.Done()
	return nil
}
