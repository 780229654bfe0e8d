package sqlitehost

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tracer/internal/config"
	"github.com/roach88/tracer/internal/tracecontext"
	"github.com/roach88/tracer/internal/tracestore"
)

var driverSeq atomic.Int32

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func uniqueDriver(t *testing.T, cfg *config.Config) string {
	t.Helper()
	name := fmt.Sprintf("tracer_test_%d", driverSeq.Add(1))
	Register(name, cfg, WithLogger(discard()))
	return name
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Tracing.ClockFrequency = 1_000_000
	cfg.Bridge.LoadTimeout = 5 * time.Second
	return cfg
}

func writeSession(t *testing.T, dir string) {
	t.Helper()
	tc, err := tracecontext.Open(tracecontext.Params{
		Dir:      dir,
		Geometry: tracestore.Geometry{SegmentSize: os.Getpagesize(), MaxSegments: 8},
		Logger:   discard(),
	}, 5*time.Second)
	require.NoError(t, err)

	ev, err := tc.Stores().Get(tracestore.StoreEvent)
	require.NoError(t, err)
	for i, ts := range []int64{100, 250, 400} {
		r := tracestore.EventRecord{
			Timestamp:    ts,
			Traits:       tracestore.NewEventTraits(tracestore.KindLine, uint32(5-i)),
			FullNameHash: 9,
			Counters:     tracestore.Counters{WorkingSetSize: uint64(1000 * (i + 1))},
		}
		if i < 2 {
			r.Elapsed = 150
			r.Deltas.WorkingSet = 1000
		}
		var b [tracestore.EventRecordSize]byte
		r.MarshalTo(b[:])
		_, err := ev.Append(b[:], ts)
		require.NoError(t, err)
	}

	names, err := tc.Stores().Get(tracestore.StoreName)
	require.NoError(t, err)
	nr := tracestore.NameRecord{Hash: 9, Kind: tracestore.NameFullName, Text: "app.main"}
	var b [tracestore.NameRecordSize]byte
	nr.MarshalTo(b[:])
	_, err = names.Append(b[:], 0)
	require.NoError(t, err)

	require.NoError(t, tc.Close(5*time.Second))
}

func TestOpen_QueriesStores(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir)

	db, err := Open(uniqueDriver(t, testConfig()), filepath.Join(dir, DefaultDatabaseFile))
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM Event").Scan(&n))
	assert.Equal(t, 3, n)

	var name string
	require.NoError(t, db.QueryRow("SELECT name_of(FullNameHash) FROM Event LIMIT 1").Scan(&name))
	assert.Equal(t, "app.main", name)

	var kind string
	require.NoError(t, db.QueryRow("SELECT event_kind(Traits) FROM Event LIMIT 1").Scan(&kind))
	assert.Equal(t, "line", kind)

	var us float64
	require.NoError(t, db.QueryRow("SELECT elapsed_us(Elapsed) FROM Event").Scan(&us))
	assert.InDelta(t, 300.0, us, 1e-9)

	var delta int64
	require.NoError(t, db.QueryRow("SELECT delta_sum(WorkingSetDelta) FROM Event").Scan(&delta))
	assert.Equal(t, int64(2000), delta)

	var ms float64
	require.NoError(t, db.QueryRow("SELECT ticks_to_ms(Timestamp) FROM Event ORDER BY Timestamp DESC LIMIT 1").Scan(&ms))
	assert.InDelta(t, 0.4, ms, 1e-9)

	var records int
	require.NoError(t, db.QueryRow("SELECT NumberOfRecords FROM MetadataInfo WHERE StoreName = 'Event'").Scan(&records))
	assert.Equal(t, 3, records)
}

func TestOpen_RefusesDirectoryWithoutStores(t *testing.T) {
	_, err := Open(uniqueDriver(t, testConfig()), filepath.Join(t.TempDir(), DefaultDatabaseFile))
	assert.Error(t, err)
}

func TestHost_CreateFunctionRequiresDeclaration(t *testing.T) {
	h := &Host{declared: map[string]int{}}
	require.NoError(t, h.OverloadFunction("f", 1))
	assert.Error(t, h.OverloadFunction("f", 2))
}
