// Package presence keeps a directory of connected peers. A Tracker feeds it
// from a tcpserver's state events; the directory itself lives in a Store,
// either in process memory or in Redis when several nodes share it.
package presence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Get for an address with no entry.
var ErrNotFound = errors.New("presence entry not found")

// Entry describes one connected peer.
type Entry struct {
	// Addr is the registry key of the peer's session.
	Addr string `json:"addr"`
	// Node names the server process holding the connection.
	Node string `json:"node"`
	// ConnectedAt is when the server adopted the connection.
	ConnectedAt time.Time `json:"connected_at"`
}

// Store is a directory of connected peers keyed by address. Implementations
// must be safe for concurrent use.
type Store interface {
	// Put records entry under entry.Addr, replacing any previous entry.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - entry: The peer to record
	//
	// Returns:
	//   - An error if the store could not be written
	Put(ctx context.Context, entry Entry) error

	// Remove deletes the entry for addr. Removing a missing entry is not an
	// error.
	Remove(ctx context.Context, addr string) error

	// Get returns the entry for addr, or ErrNotFound.
	Get(ctx context.Context, addr string) (Entry, error)

	// Count returns the number of entries.
	Count(ctx context.Context) (int, error)
}
