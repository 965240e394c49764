// Package link owns the single long-lived connection to the vision device.
//
// A Manager runs one periodic worker that detects dead sockets, reconnects
// under a cooldown, evicts idle peers, flushes the outbound queue and drains
// received envelopes into the inbound queue. Callers only ever touch the
// queues, so no public method blocks on the network.
package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"visionlink/endpoint"
	"visionlink/loop"
	"visionlink/metrics"
	"visionlink/protocol"
	"visionlink/transport"
)

var (
	ErrAlreadyRunning = errors.New("link: already running")
	// ErrConnect wraps connection attempt failures. It never escapes a tick; it
	// only appears in logs.
	ErrConnect = errors.New("link: connect failed")
)

// State is the lifecycle of the managed connection.
type State int32

const (
	StateAbsent State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "ABSENT"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type Manager struct {
	opts Options
	log  *slog.Logger

	connMu   sync.Mutex // protects endpoint and live
	endpoint endpoint.Endpoint
	live     *session // nil when absent or invalidated by SetEndpoint

	inbound  queue[protocol.TypedMessage]
	outbound queue[protocol.Body]

	state      atomic.Int32
	generation atomic.Uint64
	running    atomic.Bool

	// Owned by the worker goroutine.
	cur      *session
	split    bufio.SplitFunc
	nextDial time.Time
}

// session is one OPEN connection.
type session struct {
	stream   transport.Stream
	addr     string
	rbuf     []byte
	lastRead time.Time
}

func New(opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{
		opts:     opts,
		log:      opts.Logger,
		endpoint: opts.Endpoint,
		split:    protocol.SplitEnvelope(opts.MaxFrameSize),
	}
}

// SetEndpoint changes the target device. An open connection is closed right
// away; the worker reconnects to the new endpoint once the cooldown allows.
func (m *Manager) SetEndpoint(e endpoint.Endpoint) {
	m.connMu.Lock()
	if e == m.endpoint {
		m.connMu.Unlock()
		return
	}
	m.endpoint = e
	live := m.live
	m.live = nil
	m.connMu.Unlock()

	if live != nil {
		_ = live.stream.Close()
	}
	m.log.Info("link: endpoint changed", "endpoint", e)
}

func (m *Manager) Endpoint() endpoint.Endpoint {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.endpoint
}

func (m *Manager) State() State { return State(m.state.Load()) }

// Generation increments on every successful connect.
func (m *Manager) Generation() uint64 { return m.generation.Load() }

// Enqueue appends body to the outbound queue. It never blocks and succeeds
// without a live connection; queued messages are discarded if the connection
// they would have gone out on is torn down first.
func (m *Manager) Enqueue(body protocol.Body) {
	if body == nil {
		return
	}
	m.outbound.push(body)
	metrics.QueueDepth.WithLabelValues("outbound").Set(float64(m.outbound.len()))
}

// Poll removes and returns the oldest inbound message satisfying pred.
func (m *Manager) Poll(pred func(protocol.TypedMessage) bool) (protocol.TypedMessage, bool) {
	msg, ok := m.inbound.takeFirst(pred)
	if ok {
		metrics.QueueDepth.WithLabelValues("inbound").Set(float64(m.inbound.len()))
	}
	return msg, ok
}

// Pending returns the current inbound and outbound queue lengths.
func (m *Manager) Pending() (inbound, outbound int) {
	return m.inbound.len(), m.outbound.len()
}

// Run drives the connection until ctx is cancelled, then closes it.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.Store(false)

	loop.Run(ctx, "link", m.opts.TickInterval, m.log, m.tick)
	if m.cur != nil {
		m.teardown(metrics.ReasonShutdown, nil)
	}
	return nil
}

func (m *Manager) tick(ctx context.Context) error {
	m.connMu.Lock()
	invalidated := m.cur != nil && m.live != m.cur
	ep := m.endpoint
	m.connMu.Unlock()

	if invalidated {
		m.teardown(metrics.ReasonEndpoint, nil)
	}
	if m.cur != nil {
		m.service(m.cur)
		return nil
	}
	m.connect(ctx, ep)
	return nil
}

// service reads, idles out and writes one open session.
func (m *Manager) service(s *session) {
	before := len(s.rbuf)
	buf, rerr := s.stream.ReadAvailable(s.rbuf, m.opts.ReadWindow, m.opts.MaxReadPerTick)
	s.rbuf = buf
	n := len(buf) - before
	now := time.Now()
	if n > 0 {
		s.lastRead = now
		metrics.BytesReceivedTotal.Add(float64(n))
	}

	// Decode whatever arrived before a read error; leftovers at EOF are a framing error.
	if err := m.drainEnvelopes(s, rerr != nil); err != nil {
		m.teardown(metrics.ReasonFraming, err)
		return
	}
	if rerr != nil {
		reason := metrics.ReasonIOError
		if errors.Is(rerr, io.EOF) {
			reason = metrics.ReasonPeer
		}
		m.teardown(reason, rerr)
		return
	}

	if n == 0 && now.Sub(s.lastRead) > m.opts.IdleTimeout {
		m.teardown(metrics.ReasonIdle, fmt.Errorf("no data for %v", now.Sub(s.lastRead).Round(time.Millisecond)))
		return
	}

	m.flush(s)
}

func (m *Manager) drainEnvelopes(s *session, atEOF bool) error {
	data := s.rbuf
	off := 0
	defer func() {
		if off > 0 {
			rest := copy(data, data[off:])
			s.rbuf = data[:rest]
		}
	}()

	for off < len(data) || atEOF {
		adv, tok, err := m.split(data[off:], atEOF)
		if err != nil {
			metrics.IncDropped("framing")
			return err
		}
		if adv == 0 {
			return nil
		}
		off += adv

		msg, err := protocol.DecodePayload(tok)
		if err != nil {
			metrics.IncDropped("framing")
			return err
		}
		m.ingest(msg)
	}
	return nil
}

func (m *Manager) ingest(msg protocol.TypedMessage) {
	if !m.opts.Known(msg.TypeURL) {
		m.log.Debug("link: dropping unknown message", "type", msg.TypeURL)
		metrics.IncDropped("unknown_type")
		return
	}
	metrics.MessagesReceivedTotal.WithLabelValues(msg.TypeURL).Inc()
	if dropped := m.inbound.pushCapped(msg, m.opts.MaxInbound); dropped > 0 {
		m.log.Warn("link: inbound queue full, dropped oldest", "dropped", dropped, "limit", m.opts.MaxInbound)
		metrics.MessagesDroppedTotal.WithLabelValues("inbound_full").Add(float64(dropped))
	}
	metrics.QueueDepth.WithLabelValues("inbound").Set(float64(m.inbound.len()))
}

// flush writes queued messages in enqueue order, stopping at the first write
// error. The failed message is lost with the connection.
func (m *Manager) flush(s *session) {
	for {
		body, ok := m.outbound.pop()
		if !ok {
			break
		}
		env, err := protocol.Encode(body)
		if err != nil {
			m.log.Warn("link: dropping unencodable message", "type", body.TypeURL(), "error", err)
			metrics.IncDropped("encode")
			continue
		}
		if err := s.stream.Write(env, time.Now().Add(m.opts.WriteTimeout)); err != nil {
			m.teardown(metrics.ReasonIOError, fmt.Errorf("write %s: %w", body.TypeURL(), err))
			return
		}
		metrics.MessagesSentTotal.WithLabelValues(body.TypeURL()).Inc()
		metrics.BytesSentTotal.Add(float64(len(env)))
	}
	metrics.QueueDepth.WithLabelValues("outbound").Set(0)
}

// teardown closes the current session and opens a cooldown window.
func (m *Manager) teardown(reason string, cause error) {
	s := m.cur
	m.cur = nil
	_ = s.stream.Close()

	m.connMu.Lock()
	if m.live == s {
		m.live = nil
	} else if reason != metrics.ReasonShutdown {
		reason = metrics.ReasonEndpoint
	}
	m.connMu.Unlock()

	discarded := m.outbound.clear()
	m.nextDial = time.Now().Add(m.opts.ReconnectCooldown)
	m.setState(StateAbsent)
	metrics.IncDisconnect(reason)
	metrics.QueueDepth.WithLabelValues("outbound").Set(0)

	attrs := []any{"addr", s.addr, "reason", reason, "discarded", discarded}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	switch reason {
	case metrics.ReasonEndpoint, metrics.ReasonShutdown:
		m.log.Info("link: disconnected", attrs...)
	default:
		m.log.Warn("link: disconnected", attrs...)
	}
}

// connect makes at most one attempt, after waiting out the cooldown.
func (m *Manager) connect(ctx context.Context, ep endpoint.Endpoint) {
	if ep.Inert() {
		return
	}
	if wait := time.Until(m.nextDial); wait > 0 {
		if !loop.Sleep(ctx, wait) {
			return
		}
		// The endpoint may have moved while we slept.
		ep = m.Endpoint()
		if ep.Inert() {
			return
		}
	}

	m.setState(StateConnecting)
	metrics.ConnectAttemptsTotal.Inc()
	addr := ep.Address()
	stream, err := m.opts.Dial(ctx, addr)
	if err != nil {
		m.nextDial = time.Now().Add(m.opts.ReconnectCooldown)
		m.setState(StateAbsent)
		metrics.ConnectFailuresTotal.Inc()
		m.log.Warn("link: connect failed", "endpoint", ep, "retry_in", m.opts.ReconnectCooldown,
			"error", fmt.Errorf("%w: %w", ErrConnect, err))
		return
	}

	s := &session{stream: stream, addr: addr, lastRead: time.Now()}
	m.connMu.Lock()
	if m.endpoint != ep {
		m.connMu.Unlock()
		_ = stream.Close()
		m.nextDial = time.Now().Add(m.opts.ReconnectCooldown)
		m.setState(StateAbsent)
		m.log.Info("link: endpoint changed during connect, discarding", "addr", addr)
		return
	}
	m.live = s
	m.connMu.Unlock()

	m.cur = s
	m.generation.Add(1)
	m.setState(StateOpen)
	m.log.Info("link: connected", "addr", addr, "generation", m.generation.Load())
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
	metrics.ConnectionState.Set(float64(s))
}
