package tcpsession

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionUsed is returned by Connect on a session that has already
	// been connected or adopted. Sessions are never reused; create a new one.
	ErrSessionUsed = errors.New("session already used")

	// ErrBufferOverflow is the cause of the TransportError reported when the
	// accumulation buffer grows past Config.MaxBufferSize without a frame
	// completing.
	ErrBufferOverflow = errors.New("accumulation buffer overflow")
)

// ConnectionError reports that a transport connection could not be
// established.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError reports a read or write failure on an established
// connection. Op is "read", "write" or "send".
type TransportError struct {
	Addr string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BindError reports that a listening socket could not be bound.
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind port %d: %v", e.Port, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }
