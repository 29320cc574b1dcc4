// Package framing defines how a session decides that the bytes accumulated
// since the last completed frame form a complete message. Detectors are pure
// predicates; they own no state and are evaluated against the same buffer for
// both the text and the binary path on every read cycle.
package framing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strings"
)

// LengthHeaderSize is the size of the little-endian length header consumed by
// LengthPrefixed.
const LengthHeaderSize = 4

// ErrFrameTooLarge is returned by EncodeLengthPrefixed for payloads whose
// length does not fit the 32-bit header.
var ErrFrameTooLarge = errors.New("payload exceeds 4 GiB length header")

// Detector decides whether accumulated bytes form a complete frame. Both
// predicates see the whole accumulation buffer and are not mutually exclusive.
// Implementations must be safe for concurrent use because a single detector is
// shared by every session of a server.
type Detector interface {
	// IsTextComplete reports whether the buffer, interpreted as text, is a
	// complete message.
	//
	// Parameters:
	//   - text: The accumulated bytes decoded as a string
	//
	// Returns:
	//   - true if a "message" event should fire for text
	IsTextComplete(text string) bool

	// IsBinaryComplete reports whether the raw buffer is a complete data frame.
	//
	// Parameters:
	//   - data: The accumulated bytes; must not be retained or modified
	//
	// Returns:
	//   - true if a "data" event should fire for data
	IsBinaryComplete(data []byte) bool
}

// Funcs adapts a pair of functions to Detector. A nil function never reports
// completion.
type Funcs struct {
	Text   func(text string) bool
	Binary func(data []byte) bool
}

// IsTextComplete implements Detector.
func (f Funcs) IsTextComplete(text string) bool {
	if f.Text == nil {
		return false
	}

	return f.Text(text)
}

// IsBinaryComplete implements Detector.
func (f Funcs) IsBinaryComplete(data []byte) bool {
	if f.Binary == nil {
		return false
	}

	return f.Binary(data)
}

// Never returns a Detector that never reports completion. Bytes keep
// accumulating until the connection ends.
func Never() Detector {
	return Funcs{}
}

// LineDetector returns a Detector whose text path completes when the buffer
// ends with a newline. The binary path never completes.
func LineDetector() Detector {
	return Funcs{
		Text: func(text string) bool {
			return strings.HasSuffix(text, "\n")
		},
	}
}

// Delimiter returns a Detector whose text and binary paths both complete when
// the buffer ends with sep. An empty sep never completes.
//
// Parameters:
//   - sep: The frame terminator
//
// Returns:
//   - A Detector that fires both paths on the same cycle
func Delimiter(sep []byte) Detector {
	terminator := append([]byte(nil), sep...)
	return Funcs{
		Text: func(text string) bool {
			return len(terminator) > 0 && strings.HasSuffix(text, string(terminator))
		},
		Binary: func(data []byte) bool {
			return len(terminator) > 0 && bytes.HasSuffix(data, terminator)
		},
	}
}

// LengthPrefixed returns a Detector whose binary path completes when the
// buffer holds exactly one frame: a 4-byte little-endian length header
// followed by that many payload bytes. The text path never completes.
//
// Because the whole buffer is cleared after a frame fires, a peer that writes
// two frames back to back in a single read cycle produces a buffer longer than
// one frame which never completes. Use it with peers that wait for a reply
// between frames.
func LengthPrefixed() Detector {
	return Funcs{
		Binary: func(data []byte) bool {
			if len(data) < LengthHeaderSize {
				return false
			}

			n := binary.LittleEndian.Uint32(data[:LengthHeaderSize])
			return uint64(len(data)-LengthHeaderSize) == uint64(n)
		},
	}
}

// EncodeLengthPrefixed prepends the little-endian length header expected by
// LengthPrefixed to payload.
//
// Parameters:
//   - payload: The frame body, at most math.MaxUint32 bytes
//
// Returns:
//   - A new slice containing the header followed by payload
//   - ErrFrameTooLarge if payload does not fit the header
func EncodeLengthPrefixed(payload []byte) ([]byte, error) {
	if err := checkFrameLength(len(payload)); err != nil {
		return nil, err
	}

	out := make([]byte, LengthHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(len(payload)))
	copy(out[LengthHeaderSize:], payload)
	return out, nil
}

func checkFrameLength(n int) error {
	if uint64(n) > math.MaxUint32 {
		return ErrFrameTooLarge
	}

	return nil
}
