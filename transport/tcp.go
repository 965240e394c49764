package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const (
	readChunkSize    = 32 << 10
	defaultKeepAlive = 5 * time.Second
)

// Conn implements Stream over TCP.
//
// Thread safety: separate mutexes for read and write operations; Close may be
// called from any goroutine and unblocks both.
type Conn struct {
	conn    net.Conn
	buf     []byte
	readMu  sync.Mutex
	writeMu sync.Mutex
	closed  bool
	closeMu sync.Mutex
}

// NewConn wraps an existing connection.
func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn: conn,
		buf:  make([]byte, readChunkSize),
	}
}

func (c *Conn) isClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closed
}

// ReadAvailable reads what the peer has already sent, waiting at most window.
func (c *Conn) ReadAvailable(dst []byte, window time.Duration, limit int) ([]byte, error) {
	if c.isClosed() {
		return dst, ErrTransportClosed
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	if err := c.conn.SetReadDeadline(time.Now().Add(window)); err != nil {
		return dst, err
	}
	read := 0
	for read < limit {
		chunk := c.buf
		if rest := limit - read; rest < len(chunk) {
			chunk = chunk[:rest]
		}
		n, err := c.conn.Read(chunk)
		dst = append(dst, chunk[:n]...)
		read += n
		if err != nil {
			if isTimeout(err) {
				return dst, nil
			}
			return dst, err
		}
	}
	return dst, nil
}

// Write sends one complete payload.
func (c *Conn) Write(payload []byte, deadline time.Time) error {
	if c.isClosed() {
		return ErrTransportClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	n, err := c.conn.Write(payload)
	if err != nil {
		if n > 0 {
			return fmt.Errorf("partial write (%d of %d bytes): %w", n, len(payload), err)
		}
		return err
	}
	if n != len(payload) {
		return fmt.Errorf("partial write (%d of %d bytes): %w", n, len(payload), io.ErrShortWrite)
	}
	return nil
}

// Close terminates the connection.
func (c *Conn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// RemoteAddr returns the remote address.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// DialOptions tune the outgoing TCP connection.
type DialOptions struct {
	Timeout time.Duration
	// UserTimeout bounds how long written data may stay unacknowledged before the
	// kernel drops the connection. Linux only; zero leaves the system default.
	UserTimeout time.Duration
	KeepAlive   time.Duration
}

// Dial establishes a TCP connection and returns it as a *Conn.
func Dial(ctx context.Context, network, addr string, opts DialOptions) (*Conn, error) {
	if opts.KeepAlive == 0 {
		opts.KeepAlive = defaultKeepAlive
	}
	d := net.Dialer{
		Timeout:   opts.Timeout,
		KeepAlive: opts.KeepAlive,
		Control:   socketControl(opts.UserTimeout),
	}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return NewConn(conn), nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
