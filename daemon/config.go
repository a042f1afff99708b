package daemon

import (
	"crypto/tls"
	"log/slog"

	"github.com/duh-rpc/duh-go"
	"github.com/kapetan-io/dappq"
	"github.com/kapetan-io/dappq/internal"
	"github.com/kapetan-io/dappq/transport"
	"github.com/kapetan-io/tackle/set"
)

const DefaultListenAddress = "localhost:2319"

type Config struct {
	// See ServiceConfig for a list of possible options
	dappq.ServiceConfig
	// TLS is the TLS config used for public server and clients
	TLS *duh.TLSConfig
	// ListenAddress is the address:port that dappq will listen on for public HTTP requests
	ListenAddress string
	// InMemoryListener serves HTTP on a daemon.InMemoryListener instead of a TCP socket,
	// intended for tests.
	InMemoryListener bool

	// MaxRequestSize is the maximum size in bytes read from a single RPC request body or
	// a single peer session message. The default size is 1MB.
	MaxRequestSize int64
}

func (c *Config) ClientTLS() *tls.Config {
	if c.TLS != nil {
		return c.TLS.ClientTLS
	}
	return nil
}

func (c *Config) ServerTLS() *tls.Config {
	if c.TLS != nil {
		return c.TLS.ServerTLS
	}
	return nil
}

func (c *Config) SetDefaults() {
	set.Default(&c.Log, slog.Default())
	set.Default(&c.ListenAddress, DefaultListenAddress)
	set.Default(&c.MaxWaitingRequests, internal.DefaultMaxWaitingRequests)
	set.Default(&c.NotifyBufferSize, internal.DefaultNotifyBufferSize)
	set.Default(&c.MaxRequestSize, int64(transport.DefaultMaxRequestSize))
}
