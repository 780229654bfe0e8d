package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tracer/internal/testutil"
	"github.com/roach88/tracer/internal/tracestore"
)

// Scenario is a scripted sequence of trace signals with assertions on the
// resulting stores.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Counters lists the sampled categories: memory, io, handles.
	// Empty means no counters are sampled.
	Counters []string `yaml:"counters,omitempty"`

	// Failures scripts sampler failures.
	Failures []SampleFailure `yaml:"failures,omitempty"`

	// Geometry overrides the store geometry. Defaults to one page per
	// segment and 8 segments.
	Geometry *GeometrySpec `yaml:"geometry,omitempty"`

	// Functions declares the identities signals refer to by key.
	Functions map[string]FunctionSpec `yaml:"functions,omitempty"`

	// Signals are captured in order.
	Signals []SignalSpec `yaml:"signals"`

	// Assertions validate the stores after the last signal.
	Assertions []Assertion `yaml:"assertions"`
}

// SampleFailure makes one sampler call of a category fail (1-based).
type SampleFailure struct {
	Category string `yaml:"category"`
	Call     int    `yaml:"call"`
}

// GeometrySpec is a store geometry.
type GeometrySpec struct {
	SegmentSize int `yaml:"segment_size"`
	MaxSegments int `yaml:"max_segments"`
}

// FunctionSpec describes one function identity.
type FunctionSpec struct {
	Path      string `yaml:"path"`
	Module    string `yaml:"module,omitempty"`
	Class     string `yaml:"class,omitempty"`
	Name      string `yaml:"name"`
	FirstLine uint16 `yaml:"first_line,omitempty"`
	Lines     uint16 `yaml:"lines,omitempty"`
	CodeLines uint16 `yaml:"code_lines,omitempty"`
}

// SignalSpec is one raw signal.
type SignalSpec struct {
	// Kind is call, return, line or exception.
	Kind string `yaml:"kind"`

	// At pins the signal's timestamp in ticks. Without it the clock
	// advances by one tick per signal.
	At *int64 `yaml:"at,omitempty"`

	// Function is a key of Scenario.Functions, or empty.
	Function string `yaml:"function,omitempty"`

	Line      uint32 `yaml:"line,omitempty"`
	Depth     uint32 `yaml:"depth,omitempty"`
	Thread    uint32 `yaml:"thread,omitempty"`
	CFunction bool   `yaml:"c_function,omitempty"`
}

// Assertion validates the final stores.
type Assertion struct {
	// Type is one of record_count, field, dropped, disabled.
	Type string `yaml:"type"`

	// Store names the store (used by record_count and field). Defaults
	// to Event.
	Store string `yaml:"store,omitempty"`

	// Record is the 0-based record index (used by field).
	Record int `yaml:"record,omitempty"`

	// Field is a column name of the store's table (used by field).
	Field string `yaml:"field,omitempty"`

	// Expect is the expected column value (used by field). Booleans
	// compare as 0 and 1.
	Expect any `yaml:"expect,omitempty"`

	// Count is the expected number (used by record_count and dropped).
	Count int `yaml:"count,omitempty"`

	// Categories are the expected disabled categories (used by disabled).
	Categories []string `yaml:"categories,omitempty"`
}

// Assertion type constants.
const (
	AssertRecordCount = "record_count"
	AssertField       = "field"
	AssertDropped     = "dropped"
	AssertDisabled    = "disabled"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Signals) == 0 {
		return fmt.Errorf("signals list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, c := range s.Counters {
		if !validCategory(c) {
			return fmt.Errorf("counters: unknown category %q", c)
		}
	}
	for i, f := range s.Failures {
		if !validCategory(f.Category) {
			return fmt.Errorf("failures[%d]: unknown category %q", i, f.Category)
		}
		if f.Call < 1 {
			return fmt.Errorf("failures[%d]: call must be at least 1", i)
		}
	}

	for i, sig := range s.Signals {
		if _, err := tracestore.ParseEventKind(sig.Kind); err != nil {
			return fmt.Errorf("signals[%d]: %w", i, err)
		}
		if sig.Function != "" {
			if _, ok := s.Functions[sig.Function]; !ok {
				return fmt.Errorf("signals[%d]: unknown function %q", i, sig.Function)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validCategory(c string) bool {
	switch c {
	case testutil.Memory, testutil.IO, testutil.Handles:
		return true
	}
	return false
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRecordCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for record_count", index)
		}
	case AssertField:
		if a.Field == "" {
			return fmt.Errorf("assertions[%d]: field is required for field", index)
		}
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for field", index)
		}
		if a.Record < 0 {
			return fmt.Errorf("assertions[%d]: record must be non-negative", index)
		}
	case AssertDropped:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for dropped", index)
		}
	case AssertDisabled:
		for _, c := range a.Categories {
			if !validCategory(c) {
				return fmt.Errorf("assertions[%d]: unknown category %q", index, c)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
