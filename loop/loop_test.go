package loop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestRun_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		Run(ctx, "test", time.Millisecond, nil, func(context.Context) error {
			ticks.Add(1)
			return nil
		})
	}()

	assert.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_SurvivesErrorsAndPanics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks atomic.Int64
	go Run(ctx, "flaky", time.Millisecond, nil, func(context.Context) error {
		n := ticks.Add(1)
		switch n % 3 {
		case 0:
			panic("boom")
		case 1:
			return errors.New("tick failed")
		}
		return nil
	})

	assert.Eventually(t, func() bool { return ticks.Load() >= 10 }, 2*time.Second, time.Millisecond)
}

func TestRun_NoTickAfterCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	Run(ctx, "cancelled", time.Millisecond, nil, func(context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called)
}

func TestSleep(t *testing.T) {
	assert.True(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.False(t, Sleep(ctx, time.Hour))
	assert.Less(t, time.Since(start), time.Second)
}
