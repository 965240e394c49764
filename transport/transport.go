// Package transport provides the byte-level connection used by the link layer.
//
// The link layer runs a fixed-period tick and must never park on a socket, so
// reads here are bounded by a short window and writes by a deadline.
package transport

import (
	"errors"
	"time"
)

var ErrTransportClosed = errors.New("transport: closed")

// Stream abstracts one live connection to the remote device.
//
// Thread safety: implementations must allow Close to be called concurrently
// with an in-flight ReadAvailable or Write; the blocked call then returns an error.
type Stream interface {
	// ReadAvailable appends to dst whatever bytes arrive within window, reading at
	// most limit bytes. A window that expires with nothing read is not an error.
	ReadAvailable(dst []byte, window time.Duration, limit int) ([]byte, error)

	// Write transmits payload in full or returns an error. A partial write leaves
	// the stream unusable.
	Write(payload []byte, deadline time.Time) error

	// Close terminates the stream. Safe to call more than once.
	Close() error

	// RemoteAddr returns the remote endpoint address (for logging/debugging).
	RemoteAddr() string
}
