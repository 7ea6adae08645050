package tcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jzj1993/socketserver/interface/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var demoReply = []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x06, 0x31, 0x33, 0x38, 0x30, 0x33, 0x35, 0x31, 0x30, 0x30, 0x30, 0x31, 0x00, 0x01, 0x3D}

func startServer(t *testing.T, h tcp.Handler) *Server {
	t.Helper()
	server := NewServer(&Config{
		Address:         "127.0.0.1:0",
		PollInterval:    20 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
	}, h)
	require.NoError(t, server.Start())
	t.Cleanup(func() {
		server.Stop()
		<-server.Done()
	})
	return server
}

func waitServerDone(t *testing.T, s *Server) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestListenAndServe(t *testing.T) {
	rec := newRecorder()
	rec.reply = demoReply
	server := startServer(t, rec)

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, len(demoReply))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, demoReply, got)

	c := <-rec.connected
	require.Eventually(t, func() bool {
		return rec.receivedFrom(c.ID()) == "ping"
	}, time.Second, 5*time.Millisecond)
	events := rec.snapshot()
	assert.Equal(t, "connect 1", events[0])
	assert.Less(t, indexOf(events, "connect 1"), indexOf(events, "receive 1"))
}

func TestEchoRoundTrip(t *testing.T) {
	echo := &HandlerFuncs{
		Receive: func(conn tcp.Conn, b []byte) {
			conn.Send(b)
		},
	}
	server := startServer(t, echo)

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	payload := make([]byte, 64*1024)
	rand.Read(payload)
	go func() {
		_, _ = conn.Write(payload)
	}()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	got := make([]byte, len(payload))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got))
}

func TestPushFromOtherGoroutine(t *testing.T) {
	rec := newRecorder()
	server := startServer(t, rec)

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	c := <-rec.connected
	pushed, ok := server.Conn(c.ID())
	require.True(t, ok)
	assert.Equal(t, conn.LocalAddr().String(), pushed.RemoteAddr().String())
	assert.True(t, pushed.Send([]byte("hello ")))
	assert.True(t, pushed.Send([]byte("world")))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := make([]byte, len("hello world"))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestPeerCloseWithoutData(t *testing.T) {
	rec := newRecorder()
	server := startServer(t, rec)

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	c := <-rec.connected
	begin := time.Now()
	require.NoError(t, conn.Close())

	select {
	case d := <-rec.disconnected:
		assert.Equal(t, c.ID(), d.ID())
	case <-time.After(time.Second):
		t.Fatal("disconnect not observed")
	}
	assert.Less(t, time.Since(begin), 500*time.Millisecond)
	assert.Equal(t, []string{"connect 1", "disconnect 1"}, rec.snapshot())
	require.Eventually(t, func() bool { return server.Conns() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStopWithActiveConns(t *testing.T) {
	rec := newRecorder()
	server := startServer(t, rec)

	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", server.Addr().String())
		require.NoError(t, err)
		defer conn.Close()
		<-rec.connected
	}
	require.Equal(t, 3, server.Conns())

	server.Stop()
	server.Stop()
	waitServerDone(t, server)

	events := rec.snapshot()
	stopAt := indexOf(events, "server stop")
	require.Equal(t, len(events)-1, stopAt)
	for id := 1; id <= 3; id++ {
		name := "disconnect " + string(rune('0'+id))
		assert.Equal(t, 1, rec.count(name))
		assert.Less(t, indexOf(events, name), stopAt)
	}
	assert.Equal(t, 0, server.Conns())
	assert.Equal(t, 1, rec.count("server stop"))
	assert.False(t, server.Running())

	server.Stop()
	assert.Equal(t, 1, rec.count("server stop"))
}

func TestBindPortInUse(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	rec := newRecorder()
	server := NewServer(&Config{Address: occupied.Addr().String()}, rec)
	err = server.Start()
	assert.Error(t, err)
	waitServerDone(t, server)
	assert.Equal(t, []string{"server stop"}, rec.snapshot())
	assert.Nil(t, server.Addr())
	assert.False(t, server.Running())
}

func TestStartTwice(t *testing.T) {
	server := startServer(t, newRecorder())
	assert.ErrorIs(t, server.Start(), ErrServerStarted)
}

// flakyListener fails the first accepts before delegating
type flakyListener struct {
	net.Listener
	failures int32
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if atomic.AddInt32(&l.failures, -1) >= 0 {
		return nil, errors.New("too many open files")
	}
	return l.Listener.Accept()
}

func TestConnectFailedKeepsAccepting(t *testing.T) {
	rec := newRecorder()
	server := NewServer(&Config{Address: "127.0.0.1:0", PollInterval: 20 * time.Millisecond}, rec)
	server.listen = func(ctx context.Context, cfg *Config) (net.Listener, error) {
		l, err := Listen(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &flakyListener{Listener: l, failures: 2}, nil
	}
	require.NoError(t, server.Start())

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	<-rec.connected

	assert.Equal(t, 2, rec.count("connect failed"))
	server.Stop()
	waitServerDone(t, server)
	assert.Equal(t, 1, rec.count("server stop"))
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "accept timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// timeoutListener times out the first accepts before delegating
type timeoutListener struct {
	net.Listener
	timeouts int32
}

func (l *timeoutListener) Accept() (net.Conn, error) {
	if atomic.AddInt32(&l.timeouts, -1) >= 0 {
		return nil, timeoutError{}
	}
	return l.Listener.Accept()
}

func TestAcceptTimeoutReportsConnectFailed(t *testing.T) {
	rec := newRecorder()
	server := NewServer(&Config{Address: "127.0.0.1:0", PollInterval: 20 * time.Millisecond}, rec)
	server.listen = func(ctx context.Context, cfg *Config) (net.Listener, error) {
		l, err := Listen(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &timeoutListener{Listener: l, timeouts: 3}, nil
	}
	require.NoError(t, server.Start())

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	<-rec.connected

	assert.Equal(t, 3, rec.count("connect failed"))
	events := rec.snapshot()
	assert.Less(t, indexOf(events, "connect failed"), indexOf(events, "connect 1"))
	server.Stop()
	waitServerDone(t, server)
	assert.Equal(t, 1, rec.count("server stop"))
}

func TestSendRacingStop(t *testing.T) {
	rec := newRecorder()
	server := startServer(t, rec)

	client, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	go func() {
		_, _ = io.Copy(io.Discard, client)
	}()
	conn := <-rec.connected

	const senders, rounds = 8, 200
	var sent, refused int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < rounds; j++ {
				if conn.Send([]byte("payload")) {
					atomic.AddInt64(&sent, 1)
				} else {
					atomic.AddInt64(&refused, 1)
				}
			}
		}()
	}
	close(start)
	go conn.Stop()
	go server.Stop()
	wg.Wait()
	waitServerDone(t, server)

	assert.Equal(t, int64(senders*rounds), sent+refused)
	assert.Equal(t, 1, rec.count(fmt.Sprintf("disconnect %d", conn.ID())))
	assert.Equal(t, 1, rec.count("server stop"))
	assert.Equal(t, tcp.Closed, conn.State())
	assert.ErrorIs(t, conn.Write([]byte("late")), ErrClosed)
	assert.False(t, conn.Send([]byte("late")))
	assert.Equal(t, 0, server.Conns())
}
