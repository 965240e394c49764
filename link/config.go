package link

import (
	"context"
	"log/slog"
	"time"

	"visionlink/endpoint"
	"visionlink/loop"
	"visionlink/protocol"
	"visionlink/transport"
)

// ---------------------------------------------------------------------------
// Timing
// ---------------------------------------------------------------------------

const (
	DefaultReconnectCooldown = 500 * time.Millisecond
	DefaultIdleTimeout       = 500 * time.Millisecond
	DefaultTickInterval      = 10 * time.Millisecond

	defaultDialTimeout  = 2 * time.Second
	defaultWriteTimeout = 500 * time.Millisecond
	defaultReadWindow   = time.Millisecond
)

// ---------------------------------------------------------------------------
// Limits
// ---------------------------------------------------------------------------

const (
	defaultMaxReadPerTick = 4 << 20 // 4 MiB
	defaultMaxInbound     = 4096
)

// DialFunc opens a stream to addr. Injected to keep Manager testable.
type DialFunc func(ctx context.Context, addr string) (transport.Stream, error)

// Options configures a Manager. Zero values take the defaults above.
type Options struct {
	Endpoint endpoint.Endpoint

	// ReconnectCooldown is the minimum spacing between a close (or a failed
	// attempt) and the next connection attempt.
	ReconnectCooldown time.Duration
	// IdleTimeout evicts a connection that delivered no bytes for this long.
	IdleTimeout  time.Duration
	TickInterval time.Duration

	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	ReadWindow     time.Duration
	MaxReadPerTick int
	MaxFrameSize   int
	// MaxInbound caps undelivered inbound messages; the oldest is dropped first.
	MaxInbound int

	// Known filters inbound messages at ingest; unknown type URLs are dropped.
	Known func(typeURL string) bool
	Dial  DialFunc

	Logger *slog.Logger
}

// applyDefaults fills zero-valued fields with sensible defaults.
func (o *Options) applyDefaults() {
	if o.ReconnectCooldown <= 0 {
		o.ReconnectCooldown = DefaultReconnectCooldown
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.ReadWindow <= 0 {
		o.ReadWindow = defaultReadWindow
	}
	if o.MaxReadPerTick <= 0 {
		o.MaxReadPerTick = defaultMaxReadPerTick
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if o.MaxInbound <= 0 {
		o.MaxInbound = defaultMaxInbound
	}
	if o.Known == nil {
		o.Known = protocol.Known
	}
	if o.Dial == nil {
		o.Dial = tcpDialer(o.DialTimeout, o.WriteTimeout)
	}
	o.Logger = loop.Discard(o.Logger)
}

func tcpDialer(timeout, userTimeout time.Duration) DialFunc {
	return func(ctx context.Context, addr string) (transport.Stream, error) {
		return transport.Dial(ctx, "tcp", addr, transport.DialOptions{
			Timeout:     timeout,
			UserTimeout: userTimeout,
		})
	}
}
