package tracecontext

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// defaultIdle is how long a worker above the minimum waits for work before
// exiting.
const defaultIdle = 2 * time.Second

// Pool runs submitted tasks on between min and max worker goroutines.
//
// min workers run for the pool's lifetime. When a task cannot be handed to
// an idle worker, an extra worker is started as long as fewer than max are
// running; extras exit after sitting idle.
//
// Thread-safety: all methods are safe for concurrent use.
type Pool struct {
	name     string
	min, max int
	idle     time.Duration
	logger   *slog.Logger

	tasks   chan func()
	extra   *semaphore.Weighted
	workers atomic.Int32
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithIdleTimeout sets how long extra workers linger.
func WithIdleTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.idle = d }
}

// WithPoolLogger sets the pool's logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool starts a pool with min permanent and at most max workers.
func NewPool(name string, min, max int, opts ...PoolOption) *Pool {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	p := &Pool{
		name:   name,
		min:    min,
		max:    max,
		idle:   defaultIdle,
		logger: slog.Default(),
		tasks:  make(chan func()),
		extra:  semaphore.NewWeighted(int64(max - min)),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("pool", name))

	for i := 0; i < min; i++ {
		p.start(nil, false)
	}
	return p
}

// Processors returns P, the processor count the general pool is sized by.
func Processors() int {
	return runtime.GOMAXPROCS(0)
}

// NewGeneralPool returns the pool for background store maintenance,
// bounded to [P, 2P] workers.
func NewGeneralPool(opts ...PoolOption) *Pool {
	p := Processors()
	return NewPool("general", p, 2*p, opts...)
}

// NewCancellationPool returns the single-worker pool reserved for
// cancellation.
func NewCancellationPool(opts ...PoolOption) *Pool {
	return NewPool("cancellation", 1, 1, opts...)
}

// Bounds returns the pool's minimum and maximum worker counts.
func (p *Pool) Bounds() (min, max int) {
	return p.min, p.max
}

// Workers returns the number of running workers.
func (p *Pool) Workers() int {
	return int(p.workers.Load())
}

// Submit schedules task. It hands the task to an idle worker, starts an
// extra worker when below max, or otherwise blocks until a worker is free.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return fmt.Errorf("%w: %s", ErrPoolClosed, p.name)
	}

	select {
	case p.tasks <- task:
		return nil
	default:
	}

	if p.extra.TryAcquire(1) {
		p.start(task, true)
		return nil
	}

	p.tasks <- task
	return nil
}

func (p *Pool) start(first func(), extra bool) {
	p.wg.Add(1)
	p.workers.Add(1)
	go p.work(first, extra)
}

func (p *Pool) work(first func(), extra bool) {
	defer p.wg.Done()
	defer p.workers.Add(-1)
	if extra {
		defer p.extra.Release(1)
	}

	if first != nil {
		p.run(first)
	}

	if !extra {
		for task := range p.tasks {
			p.run(task)
		}
		return
	}

	timer := time.NewTimer(p.idle)
	defer timer.Stop()
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(task)
			timer.Reset(p.idle)
		case <-timer.C:
			return
		}
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", slog.Any("panic", r))
		}
	}()
	task()
}

// Close stops accepting tasks and waits for running ones to finish. It is
// safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
