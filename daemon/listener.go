package daemon

import (
	"context"
	"io"
	"net"
	"sync/atomic"
)

// InMemoryListener is a net.Listener whose connections are net.Pipe pairs, tests use
// DialContext to reach the daemon without opening a socket.
type InMemoryListener struct {
	closed   chan struct{}
	connCh   chan net.Conn
	isClosed atomic.Bool
}

func NewInMemoryListener() *InMemoryListener {
	return &InMemoryListener{
		connCh: make(chan net.Conn),
		closed: make(chan struct{}),
	}
}

// ServeConn hands the server side of a connection to Accept()
func (l *InMemoryListener) ServeConn(conn net.Conn) error {
	if l.isClosed.Load() {
		return net.ErrClosed
	}

	select {
	case l.connCh <- conn:
		return nil
	case <-l.closed:
		return net.ErrClosed
	}
}

// DialContext returns the client side of a new connection to the listener. It has the
// signature of http.Transport.DialContext and websocket.Dialer.NetDialContext.
func (l *InMemoryListener) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	server, client := net.Pipe()

	select {
	case l.connCh <- server:
		return client, nil
	case <-l.closed:
		_ = client.Close()
		_ = server.Close()
		return nil, net.ErrClosed
	case <-ctx.Done():
		_ = client.Close()
		_ = server.Close()
		return nil, ctx.Err()
	}
}

func (l *InMemoryListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.connCh:
		return c, nil
	case <-l.closed:
		return nil, io.EOF
	}
}

func (l *InMemoryListener) Close() error {
	if !l.isClosed.CompareAndSwap(false, true) {
		return nil
	}
	close(l.closed)
	return nil
}

func (l *InMemoryListener) Addr() net.Addr {
	return memAddr("memory-listener")
}

type memAddr string

func (a memAddr) Network() string { return string(a) }
func (a memAddr) String() string  { return string(a) }
