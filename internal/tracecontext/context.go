package tracecontext

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/tracer/internal/largepage"
	"github.com/roach88/tracer/internal/tracestore"
)

const (
	contextHeaderSize = 64
	contextSlotSize   = 8
	contextAlign      = 64
)

var contextMagic = [4]byte{'T', 'C', 'T', 'X'}

// State bits mirrored into the context's placement buffer.
const (
	stateLoaded uint32 = 1 << iota
	stateFailed
	stateCancelled
)

// Per-store load status.
const (
	storePending uint32 = iota
	storeLoaded
	storeFailed
)

// SizeOfContext returns the placement buffer size Initialize needs for a
// context over n stores.
func SizeOfContext(n int) tracestore.Size {
	return tracestore.Size{Bytes: contextHeaderSize + n*contextSlotSize, Align: contextAlign}
}

// Option configures a Context.
type Option func(*Context)

// WithClock replaces the default clock.
func WithClock(c *Clock) Option {
	return func(ctx *Context) { ctx.clock = c }
}

// WithLogger sets the context's logger.
func WithLogger(l *slog.Logger) Option {
	return func(ctx *Context) { ctx.logger = l }
}

// Context owns a session's stores, clock and pools and coordinates
// readiness and shutdown.
type Context struct {
	buf     []byte
	session *Session
	stores  *tracestore.Stores
	general *Pool
	cancel  *Pool
	clock   *Clock
	logger  *slog.Logger

	ctx      context.Context
	cancelFn context.CancelFunc

	loaded  chan struct{}
	loadErr error

	stateMu sync.Mutex

	appendMu  sync.Mutex
	drained   *sync.Cond
	inflight  int
	cancelled atomic.Bool

	// region backs the placement buffers when the context was built by
	// Open. Released last in Close.
	region *largepage.Region

	closeOnce sync.Once
	closeErr  error
}

// Initialize constructs the context over buf, binds the stores to the
// general pool and starts loading every store on it. It returns without
// waiting for loading to complete; observe Loaded or call Wait.
//
// On success the context owns stores and both pools and releases them in
// Close.
func Initialize(buf []byte, session *Session, stores *tracestore.Stores, general, cancellation *Pool, opts ...Option) (*Context, error) {
	all := stores.All()
	need := SizeOfContext(len(all))
	if len(buf) < need.Bytes {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrBufferTooSmall, len(buf), need.Bytes)
	}

	c := &Context{
		buf:     buf[:need.Bytes],
		session: session,
		stores:  stores,
		general: general,
		cancel:  cancellation,
		logger:  slog.Default(),
		loaded:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = NewClock(10_000_000)
	}
	c.drained = sync.NewCond(&c.appendMu)
	c.ctx, c.cancelFn = context.WithCancel(context.Background())

	clear(c.buf)
	copy(c.buf[0:4], contextMagic[:])
	le := binary.LittleEndian
	le.PutUint16(c.buf[4:], 1)
	le.PutUint16(c.buf[6:], uint16(len(all)))
	le.PutUint64(c.buf[16:], uint64(c.clock.Frequency()))

	stores.SetSubmitter(general)
	c.startLoading(all)
	return c, nil
}

func (c *Context) startLoading(all []*tracestore.Store) {
	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	fail := func(i int, err error) {
		c.setSlot(i, storeFailed)
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	go func() {
		readonly := c.stores.Readonly()
		for i, st := range all {
			wg.Add(1)
			err := c.general.Submit(func() {
				defer wg.Done()
				var err error
				if readonly {
					err = st.Load()
				} else {
					err = st.Create()
				}
				if err != nil {
					fail(i, err)
					return
				}
				c.setSlot(i, storeLoaded)
			})
			if err != nil {
				fail(i, fmt.Errorf("schedule %s: %w", st.Name(), err))
				wg.Done()
			}
		}

		wg.Wait()
		c.loadErr = firstErr
		state := stateLoaded
		if firstErr != nil {
			state |= stateFailed
			c.logger.Error("loading failed", slog.Any("error", firstErr))
		} else {
			c.logger.Debug("loading complete", slog.Int("stores", len(all)))
		}
		c.setState(state)
		close(c.loaded)
	}()
}

func (c *Context) setSlot(i int, status uint32) {
	binary.LittleEndian.PutUint32(c.buf[contextHeaderSize+i*contextSlotSize:], status)
}

func (c *Context) setState(bits uint32) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	off := c.buf[8:12]
	binary.LittleEndian.PutUint32(off, binary.LittleEndian.Uint32(off)|bits)
}

// state returns the bits mirrored in the placement buffer.
func (c *Context) state() uint32 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return binary.LittleEndian.Uint32(c.buf[8:12])
}

func (c *Context) Session() *Session          { return c.session }
func (c *Context) Stores() *tracestore.Stores { return c.stores }
func (c *Context) Clock() *Clock              { return c.clock }
func (c *Context) Logger() *slog.Logger       { return c.logger }

// Done is closed when the context is cancelled.
func (c *Context) Done() <-chan struct{} { return c.ctx.Done() }

// Loaded is the one-shot loading-complete signal.
func (c *Context) Loaded() <-chan struct{} { return c.loaded }

// Wait blocks until loading completes or ctx ends, returning the first
// store load error.
func (c *Context) Wait(ctx context.Context) error {
	select {
	case <-c.loaded:
		return c.loadErr
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrLoadTimeout, ctx.Err())
	}
}

// WaitTimeout is Wait bounded by d.
func (c *Context) WaitTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return c.Wait(ctx)
}

// Ready reports whether loading completed successfully.
func (c *Context) Ready() bool {
	select {
	case <-c.loaded:
		return c.loadErr == nil
	default:
		return false
	}
}

// BeginAppend registers an in-flight append. Every successful call must be
// paired with EndAppend. Cancel waits for registered appends to end.
func (c *Context) BeginAppend() error {
	if !c.Ready() {
		return ErrNotReady
	}
	c.appendMu.Lock()
	defer c.appendMu.Unlock()
	if c.cancelled.Load() {
		return ErrCancelled
	}
	c.inflight++
	return nil
}

// EndAppend ends an append started with BeginAppend.
func (c *Context) EndAppend() {
	c.appendMu.Lock()
	c.inflight--
	if c.inflight == 0 {
		c.drained.Broadcast()
	}
	c.appendMu.Unlock()
}

// Cancelled reports whether Cancel has been requested.
func (c *Context) Cancelled() bool {
	return c.cancelled.Load()
}

// Cancel requests shutdown on the cancellation pool and returns once every
// in-flight append has finished. Further appends fail with ErrCancelled.
func (c *Context) Cancel() {
	done := make(chan struct{})
	err := c.cancel.Submit(func() {
		defer close(done)
		c.cancelNow()
	})
	if err != nil {
		c.cancelNow()
		return
	}
	<-done
}

func (c *Context) cancelNow() {
	if !c.cancelled.Swap(true) {
		c.setState(stateCancelled)
		c.cancelFn()
		c.logger.Debug("context cancelled")
	}
	c.appendMu.Lock()
	for c.inflight > 0 {
		c.drained.Wait()
	}
	c.appendMu.Unlock()
}

// Close cancels, waits up to timeout for loading to complete and then
// closes the stores and both pools. When the wait fails nothing is released,
// since a pool worker may still be mapping store memory, and the error is
// returned.
func (c *Context) Close(timeout time.Duration) error {
	c.closeOnce.Do(func() {
		c.Cancel()
		if err := c.WaitTimeout(timeout); err != nil && !c.isLoaded() {
			c.closeErr = err
			c.logger.Warn("skipping release, loading still in progress", slog.Any("error", err))
			return
		}
		c.closeErr = c.stores.Close()
		c.general.Close()
		c.cancel.Close()
		if c.region != nil {
			c.region.Release()
		}
	})
	return c.closeErr
}

func (c *Context) isLoaded() bool {
	return c.state()&stateLoaded != 0
}
