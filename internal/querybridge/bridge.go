package querybridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/tracer/internal/capability"
	"github.com/roach88/tracer/internal/config"
	"github.com/roach88/tracer/internal/largepage"
	"github.com/roach88/tracer/internal/tracecontext"
	"github.com/roach88/tracer/internal/tracestore"
)

// Option configures Load.
type Option func(*options)

type options struct {
	backing tracestore.BackingFactory
	logger  *slog.Logger
}

// WithBacking replaces the file backing used to map stores.
func WithBacking(f tracestore.BackingFactory) Option {
	return func(o *options) { o.backing = f }
}

// WithLogger sets the bridge's logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Db is one connection's view of a trace session.
type Db struct {
	host    Host
	logger  *slog.Logger
	timeout time.Duration

	caps       *capability.Capabilities
	alloc      *capability.Allocator
	dir        string
	sessionBuf []byte
	session    *tracecontext.Session
	region     *largepage.Region
	stores     *tracestore.Stores
	general    *tracecontext.Pool
	cancel     *tracecontext.Pool
	contextBuf []byte
	tc         *tracecontext.Context

	tables    []*Table
	functions []Function
	resident  bool

	releaseOnce sync.Once
	releaseErr  error
}

// Load brings up a Db for host. ctx bounds only the loading-complete wait
// of step 7; the wait is additionally bounded by cfg.Bridge.LoadTimeout.
func Load(ctx context.Context, host Host, loader capability.Loader, cfg *config.Config, opts ...Option) (*Db, error) {
	o := &options{backing: tracestore.OpenFile, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	db := &Db{host: host, logger: o.logger, timeout: cfg.Bridge.LoadTimeout}
	if err := db.load(ctx, loader, cfg, o); err != nil {
		db.logger.Error("bridge load failed", slog.Any("error", err))
		if uerr := db.unwind(); uerr != nil {
			db.logger.Warn("bridge unwind incomplete", slog.Any("error", uerr))
		}
		return nil, err
	}

	db.resident = true
	db.logger.Info("bridge loaded",
		slog.String("dir", db.dir),
		slog.String("session", db.session.ID.String()),
		slog.Int("tables", len(db.tables)),
		slog.Int("functions", len(db.functions)))
	return db, nil
}

func (db *Db) load(ctx context.Context, loader capability.Loader, cfg *config.Config, o *options) error {
	caps, err := capability.Resolve(loader)
	if err != nil {
		return stepError(StepCapabilities, err, "")
	}
	db.caps = caps

	db.alloc = caps.NewAllocator(cfg.Bridge.MaxHeapBytes)
	if db.alloc == nil {
		return &LoadError{Code: CodeNoMem, Step: StepAllocator, Message: "allocator unavailable"}
	}

	name, err := db.host.DbFilename()
	if err != nil {
		return stepError(StepDirectory, err, "")
	}
	if name == "" {
		return stepError(StepDirectory, ErrNoDatabaseFile, "")
	}
	db.dir = filepath.Dir(name)

	size := tracecontext.SizeOfSession(db.dir)
	if db.sessionBuf, err = db.alloc.Alloc(size.Bytes); err != nil {
		return stepError(StepSession, err, "")
	}
	if db.session, err = tracecontext.InitializeSession(db.sessionBuf, db.dir, tracestore.Readonly); err != nil {
		return stepError(StepSession, err, "")
	}

	descs := tracestore.Descriptors()
	storesSize := tracestore.SizeOfStores(descs)
	if db.region, err = largepage.Alloc(storesSize.Bytes); err != nil {
		return &LoadError{Code: CodeNoMem, Step: StepStores, Message: "reserve store buffer", Err: err}
	}
	geometry := tracestore.Geometry{
		SegmentSize:     cfg.Stores.SegmentSize,
		MaxSegments:     cfg.Stores.MaxSegments,
		PremapThreshold: cfg.Stores.PremapThreshold,
	}
	db.stores, err = tracestore.InitializeStores(db.region.Bytes, db.dir, descs, geometry, tracestore.Readonly,
		tracestore.WithBacking(o.backing), tracestore.WithLogger(db.logger))
	if err != nil {
		return stepError(StepStores, err, "")
	}

	db.general = tracecontext.NewGeneralPool(tracecontext.WithPoolLogger(db.logger))
	db.cancel = tracecontext.NewCancellationPool(tracecontext.WithPoolLogger(db.logger))

	ctxSize := tracecontext.SizeOfContext(len(descs))
	if db.contextBuf, err = db.alloc.Alloc(ctxSize.Bytes); err != nil {
		return stepError(StepContext, err, "")
	}
	db.tc, err = tracecontext.Initialize(db.contextBuf, db.session, db.stores, db.general, db.cancel,
		tracecontext.WithClock(tracecontext.NewClock(cfg.Tracing.ClockFrequency)),
		tracecontext.WithLogger(db.logger))
	if err != nil {
		return stepError(StepContext, err, "")
	}
	waitCtx, cancel := context.WithTimeout(ctx, db.timeout)
	err = db.tc.Wait(waitCtx)
	cancel()
	if err != nil {
		return stepError(StepContext, err, "wait for loading complete")
	}

	if err := db.createTables(); err != nil {
		return err
	}
	return db.createFunctions()
}

// createTables checks every store's schema before registering any table, so
// a mismatch leaves the host without tables.
func (db *Db) createTables() error {
	all := db.stores.All()
	for _, st := range all {
		want := st.Schema()
		if st.ID() == tracestore.StoreMetadataInfo {
			want = tracestore.MetadataInfoSchema
		}
		if got := st.DiskSchema(); got != want {
			return stepError(StepTables, ErrSchemaMismatch, "store %s has schema %q, want %q", st.Name(), got, want)
		}
	}

	for _, st := range all {
		t := newTable(st)
		if err := db.host.CreateModule(t); err != nil {
			return stepError(StepTables, err, "create table %s", t.Name)
		}
		db.tables = append(db.tables, t)
	}
	return nil
}

func (db *Db) createFunctions() error {
	fns, err := newFunctionSet(db.tc.Clock(), db.stores).declare(db.caps)
	if err != nil {
		return stepError(StepFunctions, err, "")
	}
	for _, fn := range fns {
		if err := db.host.OverloadFunction(fn.Name, fn.NArgs); err != nil {
			return stepError(StepFunctions, err, "overload %s/%d", fn.Name, fn.NArgs)
		}
		if err := db.host.CreateFunction(fn); err != nil {
			return stepError(StepFunctions, err, "create %s", fn.Name)
		}
		db.functions = append(db.functions, fn)
	}
	return nil
}

// unwind releases whatever load acquired, newest first.
func (db *Db) unwind() error {
	var errs []error

	if db.tc != nil {
		select {
		case <-db.tc.Loaded():
		case <-time.After(db.timeout):
			return fmt.Errorf("%w: session memory left allocated", tracecontext.ErrLoadTimeout)
		}
		// The context owns the stores and both pools from here on.
		if err := db.tc.Close(db.timeout); err != nil {
			errs = append(errs, err)
		}
		db.tc = nil
	} else {
		if db.stores != nil {
			if err := db.stores.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if db.cancel != nil {
			db.cancel.Close()
		}
		if db.general != nil {
			db.general.Close()
		}
	}
	db.stores, db.general, db.cancel = nil, nil, nil

	if db.alloc != nil {
		db.alloc.Free(db.contextBuf)
	}
	db.contextBuf = nil
	if err := db.region.Release(); err != nil {
		errs = append(errs, err)
	}
	db.region = nil
	if db.alloc != nil {
		db.alloc.Free(db.sessionBuf)
	}
	db.sessionBuf = nil
	db.session = nil

	return errors.Join(errs...)
}

// Release tears the Db down. Host tables registered by Load must no longer
// be reachable.
func (db *Db) Release() error {
	db.releaseOnce.Do(func() {
		db.resident = false
		db.releaseErr = db.unwind()
	})
	return db.releaseErr
}

func (db *Db) Dir() string                    { return db.dir }
func (db *Db) Resident() bool                 { return db.resident }
func (db *Db) Session() *tracecontext.Session { return db.session }
func (db *Db) Context() *tracecontext.Context { return db.tc }
func (db *Db) Tables() []*Table               { return db.tables }
func (db *Db) Functions() []Function          { return db.functions }
