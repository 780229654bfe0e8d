package sqlitehost

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/tracer/internal/capability"
	"github.com/roach88/tracer/internal/config"
	"github.com/roach88/tracer/internal/querybridge"
)

// DefaultDatabaseFile is the database file name the CLI opens inside a
// session directory.
const DefaultDatabaseFile = "trace.sqlite"

// Option configures Register.
type Option func(*registration)

type registration struct {
	loader capability.Loader
	logger *slog.Logger
	bridge []querybridge.Option
}

// WithLoader replaces the default capability registry.
func WithLoader(l capability.Loader) Option {
	return func(r *registration) { r.loader = l }
}

// WithLogger sets the logger used by the hook and the bridge.
func WithLogger(l *slog.Logger) Option {
	return func(r *registration) { r.logger = l }
}

// WithBridgeOptions passes options through to querybridge.Load.
func WithBridgeOptions(opts ...querybridge.Option) Option {
	return func(r *registration) { r.bridge = append(r.bridge, opts...) }
}

var (
	residentMu sync.Mutex
	resident   []*querybridge.Db
)

// Register installs a database/sql driver named driverName that loads the
// query bridge into every new connection. A connection whose load fails is
// refused with the load error.
func Register(driverName string, cfg *config.Config, opts ...Option) {
	r := &registration{loader: capability.DefaultRegistry(), logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	bridgeOpts := append([]querybridge.Option{querybridge.WithLogger(r.logger)}, r.bridge...)

	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			db, err := querybridge.Load(context.Background(), NewHost(conn), r.loader, cfg, bridgeOpts...)
			if err != nil {
				r.logger.Error("query bridge refused connection",
					slog.Int("result_code", querybridge.ResultCode(err)),
					slog.Any("error", err))
				return err
			}
			residentMu.Lock()
			resident = append(resident, db)
			residentMu.Unlock()
			r.logger.Debug("query bridge resident", slog.Int("result_code", querybridge.ResultOKLoadPermanently))
			return nil
		},
	})
}

// Open opens path with driverName, which must have been registered with
// Register, and checks that the bridge loaded. The pool is limited to one
// connection so the session is mapped once.
func Open(driverName, path string) (*sql.DB, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
