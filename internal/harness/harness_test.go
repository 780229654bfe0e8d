package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tracer/internal/tracestore"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestScenarios_Golden(t *testing.T) {
	for _, name := range []string{"line_reverse_jump", "sticky_counters", "call_line_return"} {
		t.Run(name, func(t *testing.T) {
			result, err := RunWithGolden(t, loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "assertion failures: %v", result.Errors)
		})
	}
}

func TestRun_LineScenario(t *testing.T) {
	result, err := Run(loadTestScenario(t, "line_reverse_jump"), t.TempDir())
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)
	require.Len(t, result.Records, 3)

	assert.Equal(t, uint32(150), result.Records[0].Elapsed)
	assert.False(t, result.Records[0].ReverseJump)
	assert.True(t, result.Records[1].ReverseJump)
	assert.Equal(t, uint32(150), result.Records[1].Elapsed)
	assert.False(t, result.Records[2].ReverseJump)
	assert.Zero(t, result.Records[2].Elapsed)
	assert.Equal(t, "app.main", result.Records[2].Function)
}

func TestRun_Exhaustion(t *testing.T) {
	result, err := Run(loadTestScenario(t, "exhaustion"), t.TempDir())
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, 2, result.Dropped)
	assert.Len(t, result.Records, 26)
}

func TestRun_FailingAssertionsAreReported(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong
description: "expects the wrong values"
signals:
  - {kind: line, at: 1, line: 2}
  - {kind: line, at: 4, line: 1}
assertions:
  - type: field
    record: 0
    field: Elapsed
    expect: 2
  - type: record_count
    store: Event
    count: 5
  - type: field
    field: NoSuchColumn
    expect: 1
  - type: record_count
    store: Missing
  - type: disabled
    categories: [memory]
`))
	require.NoError(t, err)

	result, err := Run(s, t.TempDir())
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "Event[0].Elapsed = 3, expected 2")
	assert.Contains(t, result.Errors[1], "has 2 records, expected 5")
}

func TestParseScenario_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown field", "name: x\ndescription: d\nsignal: []\n", "failed to parse YAML"},
		{"no signals", "name: x\ndescription: d\nassertions: [{type: dropped}]\n", "signals list is required"},
		{"bad kind", "name: x\ndescription: d\nsignals: [{kind: jump}]\nassertions: [{type: dropped}]\n", "unknown event kind"},
		{"unknown function", "name: x\ndescription: d\nsignals: [{kind: call, function: f}]\nassertions: [{type: dropped}]\n", "unknown function"},
		{"bad category", "name: x\ndescription: d\ncounters: [cpu]\nsignals: [{kind: call}]\nassertions: [{type: dropped}]\n", "unknown category"},
		{"field without expect", "name: x\ndescription: d\nsignals: [{kind: call}]\nassertions: [{type: field, field: Elapsed}]\n", "expect is required"},
		{"unknown assertion", "name: x\ndescription: d\nsignals: [{kind: call}]\nassertions: [{type: vibes}]\n", "unknown assertion type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSnapshot_Format(t *testing.T) {
	r := &Result{
		Records: []RecordView{{
			Timestamp: 7, Elapsed: 2, Kind: tracestore.KindException, LineOrDepth: 3, Thread: 1,
			Deltas: tracestore.Deltas{Handle: -1},
		}},
		Names:    []NameView{{Kind: tracestore.NameModule, Text: "m"}},
		Disabled: []string{"memory", "handles"},
	}
	want := "scenario: s\ndropped: 0\ndisabled: memory,handles\nrecords:\n" +
		"  0 t=7 elapsed=2 exception=3 reverse=false thread=1 fn=- deltas=0,0,0,0,0,-1\n" +
		"names:\n  module m\n"
	assert.Equal(t, want, string(Snapshot("s", r)))
}
