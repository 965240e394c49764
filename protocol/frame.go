package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// DefaultMaxFrameSize is a safety limit to avoid unbounded allocations on malformed input.
// A single compressed camera frame is well under this.
const DefaultMaxFrameSize = 16 << 20 // 16 MiB

// HeaderSize is the length prefix size in bytes.
const HeaderSize = 4

var (
	// ErrFraming reports a malformed length prefix or payload on the wire.
	// It is fatal for the connection that produced it.
	ErrFraming        = errors.New("protocol: framing error")
	ErrFrameTooLarge  = fmt.Errorf("%w: frame too large", ErrFraming)
	ErrInvalidTimeout = errors.New("protocol: invalid timeout")
	ErrNoDeadline     = errors.New("protocol: reader/writer does not support deadlines")
)

type deadlineReader interface{ SetReadDeadline(time.Time) error }
type deadlineWriter interface{ SetWriteDeadline(time.Time) error }

// Framer reads and writes length-prefixed frames.
//
// Framing is required because TCP is a byte stream; it does not preserve message boundaries.
type Framer struct {
	r          *bufio.Reader
	w          *bufio.Writer
	maxPayload int
	readDL     deadlineReader
	writeDL    deadlineWriter
}

// NewConnFramer is a convenience for the common client/device case.
// It enables ReadWithTimeout/WriteWithTimeout.
func NewConnFramer(conn net.Conn) *Framer { return NewFramer(conn, conn) }

// NewFramer wraps r/w with buffering and enables optional per-call timeouts if r/w
// supports deadlines (typically net.Conn).
func NewFramer(r io.Reader, w io.Writer) *Framer {
	var readDL deadlineReader
	if v, ok := r.(deadlineReader); ok {
		readDL = v
	}
	var writeDL deadlineWriter
	if v, ok := w.(deadlineWriter); ok {
		writeDL = v
	}

	return &Framer{
		r:          bufio.NewReader(r),
		w:          bufio.NewWriter(w),
		maxPayload: DefaultMaxFrameSize,
		readDL:     readDL,
		writeDL:    writeDL,
	}
}

// SetMaxPayload sets the maximum permitted payload size.
// If you set this too large, a peer can force large allocations.
func (f *Framer) SetMaxPayload(n int) { f.maxPayload = n }

func (f *Framer) Read() ([]byte, error) { return readFrameMax(f.r, f.maxPayload) }

// ReadWithTimeout reads one frame but fails if the read does not complete within timeout.
// This requires the underlying reader to support deadlines (typically net.Conn).
func (f *Framer) ReadWithTimeout(timeout time.Duration) ([]byte, error) {
	if timeout < 0 {
		return nil, ErrInvalidTimeout
	}
	if timeout == 0 {
		return f.Read()
	}
	return f.ReadWithDeadline(time.Now().Add(timeout))
}

// ReadWithDeadline reads one frame but fails if the read does not complete by the deadline.
//
// Note: this sets a deadline on the underlying connection and clears it afterwards.
func (f *Framer) ReadWithDeadline(deadline time.Time) ([]byte, error) {
	if deadline.IsZero() {
		return f.Read()
	}
	if f.readDL == nil {
		return nil, ErrNoDeadline
	}
	if err := f.readDL.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	defer f.readDL.SetReadDeadline(time.Time{})
	return f.Read()
}

// Write writes one frame.
func (f *Framer) Write(payload []byte) error {
	if err := writeFrame(f.w, payload); err != nil {
		return err
	}
	return f.w.Flush()
}

// WriteWithTimeout writes one frame but fails if the write does not complete within timeout.
func (f *Framer) WriteWithTimeout(payload []byte, timeout time.Duration) error {
	if timeout < 0 {
		return ErrInvalidTimeout
	}
	if timeout == 0 {
		return f.Write(payload)
	}
	return f.WriteWithDeadline(payload, time.Now().Add(timeout))
}

// WriteWithDeadline writes one frame but fails if the write does not complete by the deadline.
//
// Note: this sets a deadline on the underlying connection and clears it afterwards.
func (f *Framer) WriteWithDeadline(payload []byte, deadline time.Time) error {
	if deadline.IsZero() {
		return f.Write(payload)
	}
	if f.writeDL == nil {
		return ErrNoDeadline
	}
	if err := f.writeDL.SetWriteDeadline(deadline); err != nil {
		return err
	}
	defer f.writeDL.SetWriteDeadline(time.Time{})
	return f.Write(payload)
}

// Frame format:
//
//	[4 bytes frameLen BE][frameLen bytes payload]
//
// io.ReadFull is the "state machine". A clean io.EOF before the header is returned
// as-is (peer closed between frames); running out of bytes anywhere after that is a
// framing error.
func readFrameMax(r io.Reader, maxPayload int) ([]byte, error) {
	if maxPayload <= 0 {
		return nil, ErrFrameTooLarge
	}

	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated length prefix: %w", ErrFraming, err)
		}
		return nil, err
	}
	ln, ok := lenFromU32(binary.BigEndian.Uint32(hdr[:]))
	if !ok || ln > maxPayload {
		return nil, ErrFrameTooLarge
	}
	if ln == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, ln)
	if n, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated payload (%d of %d bytes): %w", ErrFraming, n, ln, io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	return payload, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return ErrFrameTooLarge
	}
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// SplitEnvelope slices one length-prefixed payload off the front of data.
// It has the shape of a bufio.SplitFunc so partially received envelopes can be
// accumulated across reads: advance == 0 with a nil token means "need more bytes".
// At EOF, leftover bytes that do not form a complete envelope are a framing error.
func SplitEnvelope(maxPayload int) bufio.SplitFunc {
	return func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		if len(data) < HeaderSize {
			if atEOF && len(data) > 0 {
				return 0, nil, fmt.Errorf("%w: truncated length prefix (%d bytes)", ErrFraming, len(data))
			}
			return 0, nil, nil
		}
		ln, ok := lenFromU32(binary.BigEndian.Uint32(data[:HeaderSize]))
		if !ok || ln > maxPayload {
			return 0, nil, ErrFrameTooLarge
		}
		total := HeaderSize + ln
		if len(data) < total {
			if atEOF {
				return 0, nil, fmt.Errorf("%w: truncated payload (%d of %d bytes)", ErrFraming, len(data)-HeaderSize, ln)
			}
			return 0, nil, nil
		}
		return total, data[HeaderSize:total], nil
	}
}

func lenFromU32(u uint32) (int, bool) {
	// On 32-bit platforms, converting a uint32 greater than MaxInt wraps and can go negative.
	if uint64(u) > uint64(maxInt) {
		return 0, false
	}
	return int(u), true
}

const maxInt = int(^uint(0) >> 1)
