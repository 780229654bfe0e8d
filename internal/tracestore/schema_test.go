package tracestore

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
)

func TestMetadataInfoSchemaMatchesColumns(t *testing.T) {
	assert.Equal(t, MetadataInfoSchema, MetadataInfoDescriptor.Schema())
}

func TestSchemas_Golden(t *testing.T) {
	var b strings.Builder
	for _, d := range Descriptors() {
		b.WriteString(d.Schema())
		b.WriteString(";\n")
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "schemas", []byte(b.String()))
}

func TestEventColumns_Project(t *testing.T) {
	r := eventAt(250, KindLine, 3)
	r.Traits = r.Traits.WithReverseJump()
	r.Deltas.Handle = -2
	var slot [EventRecordSize]byte
	r.MarshalTo(slot[:])

	values := map[string]any{}
	for _, c := range EventDescriptor.Columns {
		values[c.Name] = c.Value(slot[:])
	}
	assert.Equal(t, int64(250), values["Timestamp"])
	assert.Equal(t, "line", values["Kind"])
	assert.Equal(t, int64(3), values["LineOrDepth"])
	assert.Equal(t, int64(1), values["ReverseJump"])
	assert.Equal(t, int64(-2), values["HandleDelta"])
	assert.Equal(t, int64(7), values["ThreadId"])
}

func TestNameColumns_Project(t *testing.T) {
	var slot [NameRecordSize]byte
	(&NameRecord{Hash: 5, Kind: NameModule, Text: "json.decoder"}).MarshalTo(slot[:])

	cols := NameDescriptor.Columns
	assert.Equal(t, int64(5), cols[0].Value(slot[:]))
	assert.Equal(t, "module", cols[1].Value(slot[:]))
	assert.Equal(t, int64(0), cols[2].Value(slot[:]))
	assert.Equal(t, "json.decoder", cols[3].Value(slot[:]))
}
