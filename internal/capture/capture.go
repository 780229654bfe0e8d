package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/maypok86/otter/v2"

	"github.com/roach88/tracer/internal/config"
	"github.com/roach88/tracer/internal/tracecontext"
	"github.com/roach88/tracer/internal/tracestore"
)

// Option configures a Capturer.
type Option func(*Capturer)

// WithSampler sets the resource counter source. The default is NopSampler.
func WithSampler(s Sampler) Option {
	return func(c *Capturer) { c.sampler = s }
}

// WithMetrics sets where capture outcomes are counted.
func WithMetrics(m *Metrics) Option {
	return func(c *Capturer) { c.metrics = m }
}

// WithLogger sets the logger. The default is the context's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Capturer) { c.logger = l }
}

// Capturer appends signals to a trace context's Event store.
type Capturer struct {
	tc        *tracecontext.Context
	events    *tracestore.Store
	functions *tracestore.Store
	names     *tracestore.Store

	sampler Sampler
	enabled categorySet
	seen    *otter.Cache[uint32, struct{}]
	metrics *Metrics
	logger  *slog.Logger

	dropped atomic.Uint64
}

// New returns a Capturer writing into tc. Categories disabled in cfg are
// never sampled. Function and Name records are emitted the first time an
// identity is seen; cacheSize bounds how many identities are remembered.
func New(tc *tracecontext.Context, cfg config.TracingConfig, cacheSize int, opts ...Option) (*Capturer, error) {
	stores := tc.Stores()
	if stores.Readonly() {
		return nil, tracestore.ErrReadonly
	}
	events, err := stores.Get(tracestore.StoreEvent)
	if err != nil {
		return nil, err
	}
	functions, _ := stores.Get(tracestore.StoreFunction)
	names, _ := stores.Get(tracestore.StoreName)

	if cacheSize < 1 {
		cacheSize = config.DefaultNameCacheSize
	}
	seen, err := otter.New(&otter.Options[uint32, struct{}]{MaximumSize: cacheSize})
	if err != nil {
		return nil, fmt.Errorf("create identity cache: %w", err)
	}

	c := &Capturer{
		tc:        tc,
		events:    events,
		functions: functions,
		names:     names,
		sampler:   NopSampler{},
		seen:      seen,
		logger:    tc.Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	c.enabled.bits.Store(uint32(CategoriesFrom(cfg)))
	return c, nil
}

// Enabled returns the categories still being sampled.
func (c *Capturer) Enabled() Category {
	return c.enabled.load()
}

// Dropped returns how many events could not be appended.
func (c *Capturer) Dropped() uint64 {
	return c.dropped.Load()
}

// Capture records sig and returns the address of its Event record.
//
// The previous record's Elapsed and deltas are backpatched once the new
// record has a slot, so a dropped event leaves the store exactly as it was.
func (c *Capturer) Capture(sig Signal) (tracestore.Address, error) {
	if err := c.tc.BeginAppend(); err != nil {
		return tracestore.Address{}, err
	}
	defer c.tc.EndAppend()

	rec := tracestore.EventRecord{
		Timestamp: c.tc.Clock().Now(),
		Traits:    sig.traits(),
		ThreadID:  sig.ThreadID,
	}
	if sig.Identity != nil {
		sig.Identity.apply(&rec)
	}
	mask := c.sample(&rec.Counters)

	prevSlot, hasPrev := c.events.Prev()
	var prev tracestore.EventRecord
	if hasPrev {
		prev = tracestore.UnmarshalEventRecord(prevSlot)
		prev.Elapsed = uint32(rec.Timestamp - prev.Timestamp)
		if prev.Traits.IsLine() && rec.Traits.IsLine() && prev.Traits.LineOrDepth() > rec.Traits.LineOrDepth() {
			rec.Traits = rec.Traits.WithReverseJump()
		}
		prev.Deltas = deltas(mask, &prev.Counters, &rec.Counters)
	}

	var buf [tracestore.EventRecordSize]byte
	rec.MarshalTo(buf[:])
	addr, err := c.events.Append(buf[:], rec.Timestamp)
	if err != nil {
		c.drop(c.events, err)
		return tracestore.Address{}, fmt.Errorf("%w: %w", ErrEventDropped, err)
	}
	c.metrics.appended.WithLabelValues(c.events.Name()).Inc()

	if hasPrev {
		prev.Backpatch(prevSlot)
	}
	if sig.Identity != nil {
		c.recordIdentity(sig.Identity, rec.Timestamp)
	}
	return addr, nil
}

// sample fills the counters of every enabled category and returns the
// categories that were sampled successfully.
func (c *Capturer) sample(out *tracestore.Counters) Category {
	mask := c.enabled.load()

	if mask&CategoryMemory != 0 {
		ws, pf, cm, err := c.sampler.Memory()
		if err != nil {
			mask &^= c.disable(CategoryMemory, err)
		} else {
			out.WorkingSetSize, out.PageFaultCount, out.CommittedSize = ws, pf, cm
		}
	}
	if mask&CategoryIO != 0 {
		r, w, err := c.sampler.IO()
		if err != nil {
			mask &^= c.disable(CategoryIO, err)
		} else {
			out.ReadTransferCount, out.WriteTransferCount = r, w
		}
	}
	if mask&CategoryHandles != 0 {
		h, err := c.sampler.Handles()
		if err != nil {
			mask &^= c.disable(CategoryHandles, err)
		} else {
			out.HandleCount = h
		}
	}
	return mask
}

func (c *Capturer) disable(cat Category, err error) Category {
	if c.enabled.disable(cat) {
		c.logger.Warn("counter category disabled", slog.String("category", cat.String()), slog.Any("error", err))
		c.metrics.disabled.WithLabelValues(cat.String()).Inc()
	}
	return cat
}

// deltas returns next minus prev for each category in mask.
func deltas(mask Category, prev, next *tracestore.Counters) tracestore.Deltas {
	var d tracestore.Deltas
	if mask&CategoryMemory != 0 {
		d.WorkingSet = int64(next.WorkingSetSize - prev.WorkingSetSize)
		d.PageFault = int64(next.PageFaultCount - prev.PageFaultCount)
		d.Committed = int64(next.CommittedSize - prev.CommittedSize)
	}
	if mask&CategoryIO != 0 {
		d.ReadTransfer = int64(next.ReadTransferCount - prev.ReadTransferCount)
		d.WriteTransfer = int64(next.WriteTransferCount - prev.WriteTransferCount)
	}
	if mask&CategoryHandles != 0 {
		d.Handle = int64(next.HandleCount - prev.HandleCount)
	}
	return d
}

func (c *Capturer) drop(st *tracestore.Store, err error) {
	c.dropped.Add(1)
	c.metrics.dropped.WithLabelValues(st.Name()).Inc()
	level := slog.LevelDebug
	if errors.Is(err, tracestore.ErrAddressSpaceExhausted) {
		level = slog.LevelWarn
	}
	c.logger.Log(context.Background(), level, "record dropped", slog.String("store", st.Name()), slog.Any("error", err))
}

// recordIdentity appends the Function and Name records for id the first
// time it is seen. Failures drop those records only.
func (c *Capturer) recordIdentity(id *Identity, ts int64) {
	if c.functions == nil {
		return
	}
	if _, ok := c.seen.GetIfPresent(id.FunctionHash); ok {
		return
	}
	c.seen.Set(id.FunctionHash, struct{}{})

	var fbuf [tracestore.FunctionRecordSize]byte
	fr := id.functionRecord()
	fr.MarshalTo(fbuf[:])
	if _, err := c.functions.Append(fbuf[:], ts); err != nil {
		c.drop(c.functions, err)
	} else {
		c.metrics.appended.WithLabelValues(c.functions.Name()).Inc()
	}

	if c.names == nil {
		return
	}
	var nbuf [tracestore.NameRecordSize]byte
	for _, nr := range id.nameRecords() {
		nr.MarshalTo(nbuf[:])
		if _, err := c.names.Append(nbuf[:], ts); err != nil {
			c.drop(c.names, err)
			continue
		}
		c.metrics.appended.WithLabelValues(c.names.Name()).Inc()
	}
}
