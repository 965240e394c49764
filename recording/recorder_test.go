package recording

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"visionlink/protocol"
)

// fakeSink records the order of calls it receives.
type fakeSink struct {
	mu        sync.Mutex
	calls     []string
	encodeErr error
	closeErr  error
}

func (s *fakeSink) Encode(img image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.encodeErr != nil {
		return s.encodeErr
	}
	s.calls = append(s.calls, "encode")
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "close")
	return s.closeErr
}

func (s *fakeSink) log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type fakeOpener struct {
	mu    sync.Mutex
	sinks []*fakeSink
	err   error
	next  func() *fakeSink
}

func (o *fakeOpener) open(Session) (Encoder, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	s := &fakeSink{}
	if o.next != nil {
		s = o.next()
	}
	o.sinks = append(o.sinks, s)
	return s, nil
}

func passDecode(protocol.Frame) (image.Image, error) {
	return image.NewGray(image.Rect(0, 0, 1, 1)), nil
}

func newTestRecorder(o *fakeOpener, onErr func(error)) *Recorder {
	return New(Options{Open: o.open, Decode: passDecode, OnError: onErr})
}

func tickN(r *Recorder, n int) {
	for i := 0; i < n; i++ {
		_ = r.tick(context.Background())
	}
}

func TestRecorder_DoubleStartOpensOneSink(t *testing.T) {
	o := &fakeOpener{}
	r := newTestRecorder(o, nil)

	require.NoError(t, r.Start())
	require.NoError(t, r.Start())
	r.Stop()
	tickN(r, 2)

	require.Len(t, o.sinks, 1)
	assert.Equal(t, []string{"close"}, o.sinks[0].log())
	assert.Equal(t, StateIdle, r.State())
}

func TestRecorder_PendingFramesEncodedBeforeClose(t *testing.T) {
	o := &fakeOpener{}
	r := newTestRecorder(o, nil)

	require.NoError(t, r.Start())
	for i := 0; i < 5; i++ {
		r.HandleFrame(protocol.Frame{Image: []byte{byte(i)}})
	}
	assert.Equal(t, 5, r.Behind())
	r.Stop()
	assert.False(t, r.IsRecording())

	// Frames after Stop are refused.
	r.HandleFrame(protocol.Frame{})
	tickN(r, 1)

	require.Len(t, o.sinks, 1)
	assert.Equal(t, []string{"encode", "encode", "encode", "encode", "encode", "close"}, o.sinks[0].log())
	assert.Zero(t, r.Behind())
	assert.Equal(t, StateIdle, r.State())
}

func TestRecorder_OneFramePerTickWhileRecording(t *testing.T) {
	o := &fakeOpener{}
	r := newTestRecorder(o, nil)

	require.NoError(t, r.Start())
	for i := 0; i < 3; i++ {
		r.HandleFrame(protocol.Frame{})
	}
	tickN(r, 1)
	assert.Equal(t, 2, r.Behind())
	tickN(r, 2)
	assert.Zero(t, r.Behind())
	assert.Equal(t, StateRecording, r.State())
	assert.Equal(t, []string{"encode", "encode", "encode"}, o.sinks[0].log())
}

func TestRecorder_FramesIgnoredWhileIdle(t *testing.T) {
	o := &fakeOpener{}
	r := newTestRecorder(o, nil)

	r.HandleFrame(protocol.Frame{})
	assert.Zero(t, r.Behind())
	assert.False(t, r.IsRecording())

	r.Stop()
	tickN(r, 3)
	assert.Empty(t, o.sinks)
}

func TestRecorder_OpenFailureStaysIdle(t *testing.T) {
	var reported []error
	o := &fakeOpener{err: errors.New("disk full")}
	r := newTestRecorder(o, func(err error) { reported = append(reported, err) })

	err := r.Start()
	require.ErrorIs(t, err, ErrSink)
	assert.Equal(t, StateIdle, r.State())
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], ErrSink)

	// Not retried on its own.
	tickN(r, 5)
	assert.Empty(t, o.sinks)
}

func TestRecorder_DecodeErrorSkipsFrame(t *testing.T) {
	var reported []error
	o := &fakeOpener{}
	r := New(Options{
		Open: o.open,
		Decode: func(f protocol.Frame) (image.Image, error) {
			if len(f.Image) == 0 {
				return nil, errors.New("corrupt")
			}
			return passDecode(f)
		},
		OnError: func(err error) { reported = append(reported, err) },
	})

	require.NoError(t, r.Start())
	r.HandleFrame(protocol.Frame{Image: []byte{1}})
	r.HandleFrame(protocol.Frame{})
	r.HandleFrame(protocol.Frame{Image: []byte{3}})
	r.Stop()
	tickN(r, 1)

	assert.Equal(t, []string{"encode", "encode", "close"}, o.sinks[0].log())
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], ErrDecode)
}

func TestRecorder_SinkErrorAbandonsSession(t *testing.T) {
	var reported []error
	o := &fakeOpener{next: func() *fakeSink {
		return &fakeSink{encodeErr: errors.New("pipe closed"), closeErr: errors.New("exit 1")}
	}}
	r := newTestRecorder(o, func(err error) { reported = append(reported, err) })

	require.NoError(t, r.Start())
	r.HandleFrame(protocol.Frame{})
	r.HandleFrame(protocol.Frame{})
	tickN(r, 1)

	assert.Equal(t, StateIdle, r.State())
	assert.Zero(t, r.Behind())
	assert.False(t, r.IsRecording())
	assert.Equal(t, []string{"close"}, o.sinks[0].log())
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], ErrSink)
	assert.ErrorContains(t, reported[0], "pipe closed")
	assert.ErrorContains(t, reported[0], "exit 1")

	// A new session can start afterwards.
	o.next = nil
	require.NoError(t, r.Start())
	assert.Len(t, o.sinks, 2)
}

func TestRecorder_CloseErrorIsReportedOnce(t *testing.T) {
	var reported []error
	o := &fakeOpener{next: func() *fakeSink { return &fakeSink{closeErr: errors.New("trailer")} }}
	r := newTestRecorder(o, func(err error) { reported = append(reported, err) })

	require.NoError(t, r.Start())
	r.Stop()
	tickN(r, 3)

	assert.Equal(t, []string{"close"}, o.sinks[0].log())
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], ErrSink)
	assert.Equal(t, StateIdle, r.State())
}

func TestRecorder_StartDuringDrainIsNoop(t *testing.T) {
	o := &fakeOpener{}
	r := newTestRecorder(o, nil)

	require.NoError(t, r.Start())
	r.Stop()
	require.NoError(t, r.Start())
	tickN(r, 1)

	assert.Len(t, o.sinks, 1)
	require.NoError(t, r.Start())
	assert.Len(t, o.sinks, 2)
	assert.Equal(t, StateRecording, r.State())
}

func TestRecorder_ChangesNotifies(t *testing.T) {
	r := newTestRecorder(&fakeOpener{}, nil)
	require.NoError(t, r.Start())

	select {
	case <-r.Changes():
	default:
		t.Fatal("no change notification after Start")
	}

	sess, ok := r.Session()
	require.True(t, ok)
	assert.NotEqual(t, [16]byte{}, [16]byte(sess.ID))
}

func TestRecorder_RunDrainsOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	o := &fakeOpener{}
	r := New(Options{Open: o.open, Decode: passDecode, TickInterval: time.Hour})
	require.NoError(t, r.Start())
	for i := 0; i < 3; i++ {
		r.HandleFrame(protocol.Frame{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, StateIdle, r.State())
	log := o.sinks[0].log()
	require.NotEmpty(t, log)
	assert.Equal(t, "close", log[len(log)-1])
	assert.Len(t, log, 4)
}
