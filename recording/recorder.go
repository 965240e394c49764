// Package recording turns the live frame stream into a video file.
//
// A Recorder moves IDLE -> RECORDING -> DRAINING -> IDLE. Frames are admitted
// without blocking while RECORDING and encoded by the recorder's own worker,
// one per tick. Stop is deferred to the worker, which drains everything
// still pending before closing the sink exactly once.
package recording

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"visionlink/loop"
	"visionlink/metrics"
	"visionlink/protocol"
)

const DefaultTickInterval = 10 * time.Millisecond

var (
	// ErrSink reports an open, encode or close failure of the output sink.
	ErrSink = errors.New("recording: sink failure")
	// ErrDecode reports a frame that could not be turned into an image. Only
	// that frame is lost.
	ErrDecode = errors.New("recording: frame decode failed")

	ErrAlreadyRunning = errors.New("recording: already running")
)

type State int32

const (
	StateIdle State = iota
	StateRecording
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRecording:
		return "RECORDING"
	case StateDraining:
		return "DRAINING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Session identifies one recording.
type Session struct {
	ID      uuid.UUID
	Started time.Time
}

// Encoder is the video sink of one session. Encode is called in frame order;
// Close flushes the container and is called exactly once.
type Encoder interface {
	Encode(img image.Image) error
	Close() error
}

type (
	OpenFunc   func(s Session) (Encoder, error)
	DecodeFunc func(f protocol.Frame) (image.Image, error)
)

type Options struct {
	Open   OpenFunc
	Decode DecodeFunc // defaults to DecodeFrame
	Logger *slog.Logger
	// OnError observes every reported failure. Called with the recorder lock
	// held; it must not call back into the Recorder.
	OnError      func(error)
	TickInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.Decode == nil {
		o.Decode = DecodeFrame
	}
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	o.Logger = loop.Discard(o.Logger)
}

type Recorder struct {
	opts Options
	log  *slog.Logger

	// mu serializes Start, Stop and the tick.
	mu             sync.Mutex
	state          State
	closeRequested bool
	sink           Encoder
	session        Session

	// pendMu guards admission only, so HandleFrame never waits on an encode.
	pendMu    sync.Mutex
	accepting bool
	pending   []protocol.Frame

	behind  atomic.Int64
	stateV  atomic.Int32
	changes chan struct{}
	running atomic.Bool
}

func New(opts Options) *Recorder {
	opts.applyDefaults()
	return &Recorder{
		opts:    opts,
		log:     opts.Logger,
		changes: make(chan struct{}, 1),
	}
}

// Start opens a new session. It does nothing unless the recorder is IDLE.
// An open failure leaves it IDLE and is returned as ErrSink.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle {
		return nil
	}
	if r.opts.Open == nil {
		return fmt.Errorf("%w: no sink configured", ErrSink)
	}

	s := Session{ID: uuid.New(), Started: time.Now()}
	sink, err := r.opts.Open(s)
	if err != nil {
		metrics.RecordingSessionsTotal.WithLabelValues(metrics.SessionOpenError).Inc()
		err = fmt.Errorf("%w: open: %w", ErrSink, err)
		r.report(err)
		return err
	}

	r.sink = sink
	r.session = s
	r.closeRequested = false
	r.pendMu.Lock()
	r.pending = nil
	r.accepting = true
	r.pendMu.Unlock()
	r.behind.Store(0)
	r.setState(StateRecording)
	r.log.Info("recording: started", "session", s.ID)
	return nil
}

// Stop asks the worker to finish the session. Frames already admitted are
// still encoded; new frames are refused from here on.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateIdle || r.closeRequested {
		return
	}
	r.closeRequested = true
	r.pendMu.Lock()
	r.accepting = false
	r.pendMu.Unlock()
	r.notify()
	r.log.Info("recording: stop requested", "session", r.session.ID, "behind", r.behind.Load())
}

// HandleFrame admits f to the current session. Meant to be subscribed to the
// frame request loop.
func (r *Recorder) HandleFrame(f protocol.Frame) {
	r.pendMu.Lock()
	if !r.accepting {
		r.pendMu.Unlock()
		return
	}
	r.pending = append(r.pending, f)
	r.pendMu.Unlock()

	metrics.RecordingFramesTotal.WithLabelValues(metrics.FrameAdmitted).Inc()
	metrics.RecordingFramesBehind.Set(float64(r.behind.Add(1)))
	r.notify()
}

func (r *Recorder) State() State { return State(r.stateV.Load()) }

// IsRecording reports whether frames are currently admitted.
func (r *Recorder) IsRecording() bool {
	r.pendMu.Lock()
	defer r.pendMu.Unlock()
	return r.accepting
}

// Behind returns how many admitted frames have not been encoded yet.
func (r *Recorder) Behind() int { return int(r.behind.Load()) }

// Session returns the active session, if any.
func (r *Recorder) Session() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session, r.state != StateIdle
}

// Changes delivers a coalesced notification whenever State or Behind moves.
func (r *Recorder) Changes() <-chan struct{} { return r.changes }

// Run drives encoding until ctx is cancelled. A session still open at that
// point is drained and closed before Run returns.
func (r *Recorder) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer r.running.Store(false)

	loop.Run(ctx, "recording", r.opts.TickInterval, r.log, r.tick)

	r.Stop()
	return r.tick(context.Background())
}

func (r *Recorder) tick(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateIdle:
		return nil
	case StateRecording:
		if !r.closeRequested {
			r.encodeNext()
			return nil
		}
		r.setState(StateDraining)
	}

	for r.state == StateDraining && r.encodeNext() {
	}
	if r.state == StateDraining {
		r.finish()
	}
	return nil
}

// encodeNext encodes the oldest pending frame. It reports false when there
// was nothing to encode or the session was abandoned.
func (r *Recorder) encodeNext() bool {
	r.pendMu.Lock()
	if len(r.pending) == 0 {
		r.pendMu.Unlock()
		return false
	}
	f := r.pending[0]
	r.pending[0] = protocol.Frame{}
	r.pending = r.pending[1:]
	r.pendMu.Unlock()
	metrics.RecordingFramesBehind.Set(float64(r.behind.Add(-1)))
	r.notify()

	img, err := r.opts.Decode(f)
	if err != nil {
		metrics.RecordingFramesTotal.WithLabelValues(metrics.FrameDecodeError).Inc()
		r.report(fmt.Errorf("%w: %w", ErrDecode, err))
		return true
	}
	if err := r.sink.Encode(img); err != nil {
		r.abandon(err)
		return false
	}
	metrics.RecordingFramesTotal.WithLabelValues(metrics.FrameEncoded).Inc()
	return true
}

// abandon ends a session whose sink failed to encode. The sink is still
// closed, and any queued frames are thrown away.
func (r *Recorder) abandon(cause error) {
	err := fmt.Errorf("%w: encode: %w", ErrSink, cause)
	if cerr := r.sink.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("%w: close: %w", ErrSink, cerr))
	}
	r.report(err)
	discarded := r.reset()
	metrics.RecordingSessionsTotal.WithLabelValues(metrics.SessionAbandoned).Inc()
	metrics.RecordingFramesTotal.WithLabelValues(metrics.FrameDiscarded).Add(float64(discarded))
}

func (r *Recorder) finish() {
	if err := r.sink.Close(); err != nil {
		r.report(fmt.Errorf("%w: close: %w", ErrSink, err))
	} else {
		r.log.Info("recording: finished", "session", r.session.ID)
	}
	r.reset()
	metrics.RecordingSessionsTotal.WithLabelValues(metrics.SessionCompleted).Inc()
}

// reset returns to IDLE and reports how many pending frames were dropped.
func (r *Recorder) reset() int {
	r.sink = nil
	r.session = Session{}
	r.closeRequested = false
	r.pendMu.Lock()
	r.accepting = false
	discarded := len(r.pending)
	r.pending = nil
	r.pendMu.Unlock()
	r.behind.Store(0)
	metrics.RecordingFramesBehind.Set(0)
	r.setState(StateIdle)
	return discarded
}

func (r *Recorder) setState(s State) {
	r.state = s
	r.stateV.Store(int32(s))
	r.notify()
}

func (r *Recorder) notify() {
	select {
	case r.changes <- struct{}{}:
	default:
	}
}

func (r *Recorder) report(err error) {
	r.log.Warn("recording: error", "session", r.session.ID, "error", err)
	if r.opts.OnError != nil {
		r.opts.OnError(err)
	}
}
