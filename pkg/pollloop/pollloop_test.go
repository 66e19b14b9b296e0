package pollloop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoop_RunsImmediatelyThenOnInterval(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := New(WithPollInterval(10 * time.Millisecond))
	done := make(chan struct{})
	go func() {
		l.Run(ctx, func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		}, nil)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()
	<-done

	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestLoop_ErrorDoesNotStopLoop(t *testing.T) {
	var calls int32
	var errs int32
	ctx, cancel := context.WithCancel(context.Background())

	l := New(WithPollInterval(5 * time.Millisecond))
	done := make(chan struct{})
	go func() {
		l.Run(ctx, func(context.Context) error {
			n := atomic.AddInt32(&calls, 1)
			if n%2 == 0 {
				return assert.AnError
			}
			return nil
		}, func(error) {
			atomic.AddInt32(&errs, 1)
		})
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	assert.Greater(t, atomic.LoadInt32(&calls), int32(2))
	assert.Greater(t, atomic.LoadInt32(&errs), int32(0))
}
