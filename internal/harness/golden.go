package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders result as stable text for golden comparison. Hashes are
// left out; functions appear by full name.
func Snapshot(name string, result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	fmt.Fprintf(&b, "dropped: %d\n", result.Dropped)
	disabled := "none"
	if len(result.Disabled) > 0 {
		disabled = strings.Join(result.Disabled, ",")
	}
	fmt.Fprintf(&b, "disabled: %s\n", disabled)

	b.WriteString("records:\n")
	for i, r := range result.Records {
		d := r.Deltas
		fmt.Fprintf(&b, "  %d t=%d elapsed=%d %s=%d reverse=%t thread=%d fn=%s deltas=%d,%d,%d,%d,%d,%d\n",
			i, r.Timestamp, r.Elapsed, r.Kind, r.LineOrDepth, r.ReverseJump, r.Thread, orDash(r.Function),
			d.WorkingSet, d.PageFault, d.Committed, d.ReadTransfer, d.WriteTransfer, d.Handle)
	}

	b.WriteString("names:\n")
	for _, n := range result.Names {
		fmt.Fprintf(&b, "  %s %s\n", n.Kind, n.Text)
	}
	return []byte(b.String())
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// RunWithGolden runs scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, t.TempDir())
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, Snapshot(scenario.Name, result))
	return result, nil
}
