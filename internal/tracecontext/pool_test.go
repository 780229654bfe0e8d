package tracecontext

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_GeneralBounds(t *testing.T) {
	p := NewGeneralPool(WithPoolLogger(discard()))
	defer p.Close()

	min, max := p.Bounds()
	assert.Equal(t, Processors(), min)
	assert.Equal(t, 2*Processors(), max)
	assert.Equal(t, min, p.Workers())
}

func TestPool_CancellationHasOneWorker(t *testing.T) {
	p := NewCancellationPool(WithPoolLogger(discard()))
	defer p.Close()

	min, max := p.Bounds()
	assert.Equal(t, 1, min)
	assert.Equal(t, 1, max)
	assert.Equal(t, 1, p.Workers())
}

func TestPool_GrowsToMaxAndNoFurther(t *testing.T) {
	p := NewPool("test", 2, 4, WithIdleTimeout(20*time.Millisecond), WithPoolLogger(discard()))
	defer p.Close()

	gate := make(chan struct{})
	var (
		running atomic.Int32
		peak    atomic.Int32
		wg      sync.WaitGroup
	)
	task := func() {
		defer wg.Done()
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-gate
		running.Add(-1)
	}

	for i := 0; i < 4; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(task))
	}
	assert.Equal(t, 4, p.Workers())

	// A fifth submission blocks until a worker frees up.
	submitted := make(chan struct{})
	wg.Add(1)
	go func() {
		p.Submit(task)
		close(submitted)
	}()
	select {
	case <-submitted:
		t.Fatal("submit should block while all workers are busy")
	case <-time.After(30 * time.Millisecond):
	}

	close(gate)
	<-submitted
	wg.Wait()
	assert.Equal(t, int32(4), peak.Load())

	assert.Eventually(t, func() bool { return p.Workers() == 2 }, time.Second, 5*time.Millisecond,
		"extra workers exit when idle")
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p := NewPool("test", 1, 1, WithPoolLogger(discard()))
	p.Close()
	p.Close()

	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
	assert.Equal(t, 0, p.Workers())
}

func TestPool_SurvivesPanickingTask(t *testing.T) {
	p := NewPool("test", 1, 1, WithPoolLogger(discard()))
	defer p.Close()

	require.NoError(t, p.Submit(func() { panic("boom") }))

	done := make(chan struct{})
	require.NoError(t, p.Submit(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive panic")
	}
}

func TestPool_CloseWaitsForRunningTasks(t *testing.T) {
	p := NewPool("test", 1, 2, WithPoolLogger(discard()))

	var finished atomic.Bool
	require.NoError(t, p.Submit(func() {
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	}))
	p.Close()
	assert.True(t, finished.Load())
}
