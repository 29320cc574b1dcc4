package tcpsession

import (
	"time"

	"github.com/cyberinferno/go-tcpsession/logger"
)

// DefaultReadChunkSize is the number of bytes requested from the socket per
// read when Config.ReadChunkSize is not set.
const DefaultReadChunkSize = 1024

// Config holds per-session settings. Nothing here is shared between sessions.
type Config struct {
	// ReadChunkSize is the maximum number of bytes read per read call.
	ReadChunkSize int
	// SendDelay is waited before every write. It throttles; it does not
	// affect ordering.
	SendDelay time.Duration
	// ConnectTimeout bounds an outbound connection attempt; 0 means no timeout.
	ConnectTimeout time.Duration
	// WriteTimeout bounds a single write; 0 means no timeout.
	WriteTimeout time.Duration
	// MaxBufferSize caps the accumulation buffer; 0 means unbounded. Exceeding
	// it ends the session with a TransportError wrapping ErrBufferOverflow.
	MaxBufferSize int
	// Logger receives diagnostic output; nil disables logging.
	Logger logger.Logger
}

// DefaultConfig returns a Config with ReadChunkSize 1024, no send delay, a
// 10s connect timeout, no write timeout and an unbounded buffer.
func DefaultConfig() Config {
	return Config{
		ReadChunkSize:  DefaultReadChunkSize,
		SendDelay:      0,
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   0,
		MaxBufferSize:  0,
	}
}

func (c Config) withDefaults() Config {
	if c.ReadChunkSize <= 0 {
		c.ReadChunkSize = DefaultReadChunkSize
	}

	if c.SendDelay < 0 {
		c.SendDelay = 0
	}

	if c.Logger == nil {
		c.Logger = logger.NewNopLogger()
	}

	return c
}
