package link

import (
	"log/slog"

	"visionlink/loop"
	"visionlink/metrics"
	"visionlink/protocol"
)

// Router is the typed view over a Manager: send typed bodies, receive typed
// bodies. It owns no state of its own.
type Router struct {
	m   *Manager
	log *slog.Logger
}

func NewRouter(m *Manager, logger *slog.Logger) *Router {
	return &Router{m: m, log: loop.Discard(logger)}
}

// Send enqueues body for the next flush. It never blocks.
func (r *Router) Send(body protocol.Body) { r.m.Enqueue(body) }

// TakeNext removes the oldest received message with the given type URL,
// leaving messages of every other type in place.
func (r *Router) TakeNext(typeURL string) (protocol.TypedMessage, bool) {
	return r.m.Poll(func(msg protocol.TypedMessage) bool { return msg.Is(typeURL) })
}

// Generation reports the connection generation of the underlying Manager.
func (r *Router) Generation() uint64 { return r.m.Generation() }

// State reports the connection state of the underlying Manager.
func (r *Router) State() State { return r.m.State() }

// Connected reports whether a connection is currently open.
func (r *Router) Connected() bool { return r.m.State() == StateOpen }

// Next takes the oldest message of T's type and decodes it. A body that does
// not decode is dropped and reported as protocol.ErrProtocol; the next call
// moves on to the following message.
func Next[T any, P interface {
	*T
	protocol.Body
}](r *Router) (T, bool, error) {
	var v T
	p := P(&v)
	msg, ok := r.TakeNext(p.TypeURL())
	if !ok {
		return v, false, nil
	}
	if err := msg.Unpack(p); err != nil {
		metrics.ProtocolErrorsTotal.Inc()
		r.log.Warn("link: dropping malformed message", "type", msg.TypeURL, "error", err)
		var zero T
		return zero, false, err
	}
	return v, true, nil
}

// NextFrame is Next for protocol.Frame.
func (r *Router) NextFrame() (protocol.Frame, bool, error) {
	return Next[protocol.Frame](r)
}
