// Package stream pulls video frames off the link and fans them out to
// subscribers, and tells the device which feed to send.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"visionlink/loop"
	"visionlink/metrics"
	"visionlink/protocol"
)

const DefaultTickInterval = 10 * time.Millisecond

var ErrAlreadyRunning = errors.New("stream: already running")

// FrameLink is the part of link.Router the requester needs.
type FrameLink interface {
	Send(body protocol.Body)
	NextFrame() (protocol.Frame, bool, error)
	// Generation increments on every new connection.
	Generation() uint64
	Connected() bool
}

// Handler consumes one frame. It runs on the requester's goroutine and must
// not block for long.
type Handler func(protocol.Frame)

type RequesterOptions struct {
	// Source is the initial feed. It is not sent until SetSource is called.
	Source       protocol.Source
	TickInterval time.Duration
	Logger       *slog.Logger
}

func (o *RequesterOptions) applyDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if !o.Source.Valid() {
		o.Source = protocol.SourcePlain
	}
	o.Logger = loop.Discard(o.Logger)
}

// Requester is the frame request loop.
type Requester struct {
	link FrameLink
	opts RequesterOptions
	log  *slog.Logger

	mu       sync.Mutex
	source   protocol.Source
	pending  bool   // a select is owed to the device
	selected bool   // SetSource was called at least once
	sentOn   uint64 // generation the last select went out on

	subMu  sync.Mutex
	subs   []*Subscription
	nextID uint64

	running atomic.Bool
}

func NewRequester(link FrameLink, opts RequesterOptions) *Requester {
	opts.applyDefaults()
	return &Requester{
		link:   link,
		opts:   opts,
		log:    opts.Logger,
		source: opts.Source,
	}
}

// SetSource records the wanted feed. The device is told once, on the next tick.
func (r *Requester) SetSource(s protocol.Source) {
	if !s.Valid() {
		r.log.Warn("stream: ignoring invalid source", "source", s)
		return
	}
	r.mu.Lock()
	r.source = s
	r.pending = true
	r.selected = true
	r.mu.Unlock()
}

func (r *Requester) Source() protocol.Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.source
}

// Toggle switches to the other feed and returns it.
func (r *Requester) Toggle() protocol.Source {
	r.mu.Lock()
	r.source = r.source.Other()
	r.pending = true
	r.selected = true
	s := r.source
	r.mu.Unlock()
	return s
}

// SendSignal forwards an operator command to the device.
func (r *Requester) SendSignal(kind protocol.SignalKind) {
	r.link.Send(&protocol.Signal{Kind: kind})
}

// Subscribe adds h after every existing handler.
func (r *Requester) Subscribe(h Handler) *Subscription {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.nextID++
	sub := &Subscription{r: r, id: r.nextID, h: h}
	// Copy on write so dispatch can iterate a snapshot without the lock.
	subs := make([]*Subscription, len(r.subs), len(r.subs)+1)
	copy(subs, r.subs)
	r.subs = append(subs, sub)
	return sub
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	r  *Requester
	id uint64
	h  Handler
}

// Unsubscribe removes the handler. Safe to call more than once, and from
// inside a handler.
func (s *Subscription) Unsubscribe() {
	r := s.r
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for i, sub := range r.subs {
		if sub.id != s.id {
			continue
		}
		subs := make([]*Subscription, 0, len(r.subs)-1)
		subs = append(subs, r.subs[:i]...)
		r.subs = append(subs, r.subs[i+1:]...)
		return
	}
}

// Subscribers returns the number of registered handlers.
func (r *Requester) Subscribers() int {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	return len(r.subs)
}

// Run drives the request loop until ctx is cancelled.
func (r *Requester) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer r.running.Store(false)

	loop.Run(ctx, "stream", r.opts.TickInterval, r.log, r.tick)
	return nil
}

func (r *Requester) tick(context.Context) error {
	r.sendSelect()

	f, ok, err := r.link.NextFrame()
	if err != nil {
		// Already counted and logged by the router; the bad frame is gone.
		return nil
	}
	if ok {
		r.dispatch(f)
	}
	return nil
}

// sendSelect sends the wanted source once per change. A new connection
// after an explicit select gets the select again, since queued messages die
// with the connection they were meant for.
func (r *Requester) sendSelect() {
	r.mu.Lock()
	gen := r.link.Generation()
	if !r.pending && !(r.selected && gen > r.sentOn) {
		r.mu.Unlock()
		return
	}
	src := r.source
	r.pending = false
	// Sent while disconnected, the select rides the next connection.
	r.sentOn = gen
	if !r.link.Connected() {
		r.sentOn = gen + 1
	}
	r.mu.Unlock()

	r.link.Send(&protocol.SelectSource{Source: src})
	metrics.SourceSelectsTotal.WithLabelValues(src.String()).Inc()
	r.log.Debug("stream: source selected", "source", src, "generation", gen)
}

func (r *Requester) dispatch(f protocol.Frame) {
	r.subMu.Lock()
	subs := r.subs
	r.subMu.Unlock()

	for _, sub := range subs {
		r.deliver(sub, f)
	}
	metrics.FramesDispatchedTotal.Inc()
}

func (r *Requester) deliver(sub *Subscription, f protocol.Frame) {
	defer func() {
		if p := recover(); p != nil {
			metrics.SubscriberPanicsTotal.Inc()
			r.log.Warn("stream: subscriber panicked", "subscriber", sub.id, "error", fmt.Errorf("%v", p))
		}
	}()
	sub.h(f)
}
