package daemon_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kapetan-io/dappq/daemon"
	"github.com/kapetan-io/dappq/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryListener(t *testing.T) {
	listener := daemon.NewInMemoryListener()
	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = fmt.Fprintf(w, "Hello, %s!", r.URL.Path[1:])
		}),
	}
	go func() { _ = server.Serve(listener) }()
	defer func() { _ = server.Close() }()

	clientCount := 3
	var wg sync.WaitGroup
	for i := 0; i < clientCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			// Each client gets its own net.Pipe
			serverConn, clientConn := net.Pipe()
			_ = listener.ServeConn(serverConn)

			// Custom DialContext returns the clientConn for this request
			dialOnce := sync.Once{}

			client := &http.Client{
				Transport: &http.Transport{
					DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
						var c net.Conn
						dialOnce.Do(func() { c = clientConn })
						return c, nil
					},
					DisableKeepAlives: true,
				},
				Timeout: 2 * time.Second,
			}

			url := fmt.Sprintf("http://inmemory/client%d", id)
			resp, err := client.Get(url)
			if err != nil {
				t.Errorf("client %d error: %v", id, err)
				return
			}
			defer func() { _ = resp.Body.Close() }()
			body, _ := io.ReadAll(resp.Body)
			expected := fmt.Sprintf("Hello, client%d!", id)
			if !strings.Contains(string(body), expected) {
				t.Errorf("client %d got unexpected body: %q", id, body)
			}
		}(i)
	}
	wg.Wait()
	_ = listener.Close()
}

func TestInMemoryListenerClosed(t *testing.T) {
	listener := daemon.NewInMemoryListener()
	require.NoError(t, listener.Close())
	require.NoError(t, listener.Close())

	_, err := listener.Accept()
	assert.ErrorIs(t, err, io.EOF)

	_, err = listener.DialContext(context.Background(), "", "")
	assert.ErrorIs(t, err, net.ErrClosed)

	server, client := net.Pipe()
	defer func() { _ = client.Close() }()
	defer func() { _ = server.Close() }()
	assert.ErrorIs(t, listener.ServeConn(server), net.ErrClosed)
	assert.Equal(t, "memory-listener", listener.Addr().String())
}

func TestDaemonInMemoryListener(t *testing.T) {
	ctx := context.Background()

	// Create daemon with InMemoryListener enabled
	d, err := daemon.NewDaemon(ctx, daemon.Config{
		InMemoryListener: true,
	})
	require.NoError(t, err)
	defer func() { _ = d.Shutdown(ctx) }()

	{
		client, err := d.Client()
		require.NoError(t, err)

		var resp transport.StatsResponse
		require.NoError(t, client.RequestsStats(ctx, &resp))
		assert.Equal(t, 0, resp.Total)

		// Should work a second time also
		require.NoError(t, client.RequestsStats(ctx, &resp))
		assert.Empty(t, resp.Queue)
	}

	// The client is cached
	{
		first, err := d.Client()
		require.NoError(t, err)
		assert.Same(t, first, d.MustClient())

		var resp transport.CurrentResponse
		require.NoError(t, first.RequestsCurrent(ctx, &resp))
		assert.False(t, resp.Found)
	}
}
