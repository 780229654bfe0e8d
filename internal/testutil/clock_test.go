package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock_StartsAtZero(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, int64(0), clock.Now())
	assert.Equal(t, int64(1), clock.Current())
}

func TestDeterministicClock_SetAndStep(t *testing.T) {
	clock := NewDeterministicClock()
	clock.Set(100)
	clock.SetStep(150)

	assert.Equal(t, int64(100), clock.Now())
	assert.Equal(t, int64(250), clock.Now())
	assert.Equal(t, int64(400), clock.Now())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClock()
	clock.SetStep(10)
	clock.Now()
	clock.Now()
	assert.Equal(t, int64(20), clock.Current())

	clock.Reset()
	assert.Equal(t, int64(0), clock.Now())
	assert.Equal(t, int64(1), clock.Now())
}

func TestDeterministicClock_ConcurrentNowIsUnique(t *testing.T) {
	clock := NewDeterministicClock()
	const goroutines = 50
	const calls = 100

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				v := clock.Now()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*calls)
	assert.Equal(t, int64(goroutines*calls), clock.Current())
}
