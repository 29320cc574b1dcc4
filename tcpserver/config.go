package tcpserver

import (
	"net"

	"github.com/cyberinferno/go-tcpsession/logger"
	"github.com/cyberinferno/go-tcpsession/tcpsession"
)

// KeyFunc derives the session table key from a peer address.
type KeyFunc func(addr net.Addr) string

// KeyByAddr keys sessions by host:port, so every connection gets its own
// entry.
func KeyByAddr(addr net.Addr) string {
	return addr.String()
}

// KeyByHost keys sessions by host only. A second connection from the same
// host replaces the first in the table.
func KeyByHost(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}

	return host
}

// Config holds settings for a Server. Session is applied to every adopted
// session.
type Config struct {
	// Name identifies the server in log entries.
	Name string
	// Host is the interface to bind; empty binds all interfaces.
	Host string
	// ReusePort sets SO_REUSEPORT on the listening socket where supported.
	ReusePort bool
	// KeyFunc derives table keys; nil means KeyByAddr.
	KeyFunc KeyFunc
	// Session is the per-session configuration for adopted connections.
	Session tcpsession.Config
	// Logger receives diagnostic output; nil disables logging. Sessions
	// without their own logger inherit it.
	Logger logger.Logger
}

// DefaultConfig returns a Config binding all interfaces, keyed by host:port,
// with tcpsession.DefaultConfig for sessions.
func DefaultConfig() Config {
	return Config{
		Name:    "tcp",
		KeyFunc: KeyByAddr,
		Session: tcpsession.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "tcp"
	}

	if c.KeyFunc == nil {
		c.KeyFunc = KeyByAddr
	}

	if c.Logger == nil {
		c.Logger = logger.NewNopLogger()
	}

	if c.Session.Logger == nil {
		c.Session.Logger = c.Logger
	}

	return c
}
