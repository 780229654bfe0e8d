package tracecontext

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/tracer/internal/config"
	"github.com/roach88/tracer/internal/largepage"
	"github.com/roach88/tracer/internal/tracestore"
)

// Params describes a session to open with Open.
type Params struct {
	Dir      string
	Geometry tracestore.Geometry
	Flags    tracestore.Flags

	// ClockFrequency defaults to config.DefaultClockFrequency.
	ClockFrequency int64

	// Ticks replaces the monotonic tick source when set.
	Ticks TickSource

	// Backing defaults to tracestore.OpenFile.
	Backing tracestore.BackingFactory

	Logger *slog.Logger
}

// ParamsFromConfig fills Params from configuration.
func ParamsFromConfig(dir string, cfg *config.Config, flags tracestore.Flags) Params {
	return Params{
		Dir: dir,
		Geometry: tracestore.Geometry{
			SegmentSize:     cfg.Stores.SegmentSize,
			MaxSegments:     cfg.Stores.MaxSegments,
			PremapThreshold: cfg.Stores.PremapThreshold,
		},
		Flags:          flags,
		ClockFrequency: cfg.Tracing.ClockFrequency,
	}
}

// Open runs the whole two-phase bring-up for the default store set with
// every placement buffer carved from one large-page region, and waits up
// to timeout for loading to complete.
func Open(p Params, timeout time.Duration) (*Context, error) {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Backing == nil {
		p.Backing = tracestore.OpenFile
	}
	if p.ClockFrequency == 0 {
		p.ClockFrequency = config.DefaultClockFrequency
	}

	descs := tracestore.Descriptors()
	sessionSize := SizeOfSession(p.Dir)
	storesSize := tracestore.SizeOfStores(descs)
	contextSize := SizeOfContext(len(descs))

	storesOff := largepage.AlignUp(sessionSize.Bytes, storesSize.Align)
	contextOff := largepage.AlignUp(storesOff+storesSize.Bytes, contextSize.Align)
	region, err := largepage.Alloc(contextOff + contextSize.Bytes)
	if err != nil {
		return nil, err
	}
	buf := region.Bytes

	session, err := InitializeSession(buf[:storesOff], p.Dir, p.Flags)
	if err != nil {
		region.Release()
		return nil, err
	}
	stores, err := tracestore.InitializeStores(buf[storesOff:contextOff], p.Dir, descs, p.Geometry, p.Flags,
		tracestore.WithBacking(p.Backing), tracestore.WithLogger(p.Logger))
	if err != nil {
		region.Release()
		return nil, err
	}

	general := NewGeneralPool(WithPoolLogger(p.Logger))
	cancellation := NewCancellationPool(WithPoolLogger(p.Logger))

	clock := NewClock(p.ClockFrequency)
	if p.Ticks != nil {
		clock = NewClockWithSource(p.ClockFrequency, p.Ticks)
	}
	c, err := Initialize(buf[contextOff:], session, stores, general, cancellation,
		WithClock(clock), WithLogger(p.Logger))
	if err != nil {
		general.Close()
		cancellation.Close()
		region.Release()
		return nil, err
	}
	c.region = region

	if err := c.WaitTimeout(timeout); err != nil {
		if cerr := c.Close(timeout); cerr != nil {
			p.Logger.Warn("close after failed open", slog.Any("error", cerr))
		}
		return nil, fmt.Errorf("open session %s: %w", p.Dir, err)
	}
	return c, nil
}
