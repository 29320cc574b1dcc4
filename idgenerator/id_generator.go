// Package idgenerator hands out process-unique numeric ids. Sessions use them
// as a short correlation key in log entries.
package idgenerator

import "sync/atomic"

// IdGenerator generates monotonically increasing uint32 ids in a
// concurrency-safe manner. The first Id returns startValue+1.
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator creates an IdGenerator whose first Id is startValue+1.
//
// Parameters:
//   - startValue: The value to initialize the counter to
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next id. Wraps around to 0 after the maximum uint32.
func (g *IdGenerator) Id() uint32 {
	return g.id.Add(1)
}
