package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPoolRunsSubmittedJobs(t *testing.T) {
	p := NewPool(2, zaptest.NewLogger(t))

	var count atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		p.Submit(func(context.Context) {
			defer wg.Done()
			count.Add(1)
		})
	}
	wg.Wait()
	p.Stop()

	assert.Equal(t, int64(10), count.Load())
}

func TestPoolStopDrainsQueuedJobs(t *testing.T) {
	// One worker so the second job must sit in the queue while the
	// first runs; Stop must still execute it.
	p := NewPool(1, zaptest.NewLogger(t))

	started := make(chan struct{})
	release := make(chan struct{})
	var ran atomic.Bool

	p.Submit(func(context.Context) {
		close(started)
		<-release
	})
	<-started
	p.Submit(func(context.Context) { ran.Store(true) })

	close(release)
	p.Stop()

	assert.True(t, ran.Load())
}

func TestPoolRecoversFromPanic(t *testing.T) {
	p := NewPool(1, zaptest.NewLogger(t))

	p.Submit(func(context.Context) { panic("boom") })

	done := make(chan struct{})
	p.Submit(func(context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not survive a panicking job")
	}
	p.Stop()
}

func TestPoolDefaultsToOneWorker(t *testing.T) {
	p := NewPool(0, zaptest.NewLogger(t))

	done := make(chan struct{})
	p.Submit(func(context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran")
	}
	p.Stop()
	require.NotNil(t, p)
}
