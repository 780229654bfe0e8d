package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Default sizes. DefaultSegmentSize matches the common large-page size so a
// segment can be backed by a single huge page where the OS allows it.
const (
	DefaultSegmentSize     = 2 << 20
	DefaultMaxSegments     = 4096
	DefaultPremapThreshold = 0.5
	DefaultNameCacheSize   = 16384
	DefaultClockFrequency  = 10_000_000
	DefaultLoadTimeout     = 30 * time.Second
	DefaultMaxHeapBytes    = 64 << 20
)

// Config holds all configuration for a tracing session or a query bridge.
type Config struct {
	Paths   PathsConfig   `yaml:"paths"`
	Stores  StoresConfig  `yaml:"stores"`
	Tracing TracingConfig `yaml:"tracing"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Log     LogConfig     `yaml:"log"`
}

// PathsConfig locates session data.
type PathsConfig struct {
	// BaseDirectory is the default parent for new session directories.
	BaseDirectory string `yaml:"base_directory"`
}

// StoresConfig controls trace store geometry.
type StoresConfig struct {
	// SegmentSize is the size in bytes of one mapped segment. Must be a
	// multiple of the OS page size.
	SegmentSize int `yaml:"segment_size"`

	// MaxSegments bounds the reserved logical address range of a store.
	// Allocation fails with an exhaustion error once it is used up.
	MaxSegments int `yaml:"max_segments"`

	// PremapThreshold is the fill ratio of the current segment at which the
	// next segment is mapped in the background. Zero disables premapping.
	PremapThreshold float64 `yaml:"premap_threshold"`

	// NameCacheSize bounds the set of function identities capture remembers
	// having written to the Function and Name stores.
	NameCacheSize int `yaml:"name_cache_size"`
}

// TracingConfig selects which resource counters capture samples.
type TracingConfig struct {
	Memory         bool  `yaml:"memory"`
	IoCounters     bool  `yaml:"io_counters"`
	HandleCount    bool  `yaml:"handle_count"`
	ClockFrequency int64 `yaml:"clock_frequency"`
}

// BridgeConfig holds query bridge settings.
type BridgeConfig struct {
	// LoadTimeout bounds the wait on the loading-complete signal during
	// error unwind and teardown.
	LoadTimeout time.Duration `yaml:"load_timeout"`

	// MaxHeapBytes caps the bridge's private allocator.
	MaxHeapBytes int64 `yaml:"max_heap_bytes"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with all default values.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Paths: PathsConfig{
			BaseDirectory: filepath.Join(homeDir, ".tracer", "sessions"),
		},
		Stores: StoresConfig{
			SegmentSize:     DefaultSegmentSize,
			MaxSegments:     DefaultMaxSegments,
			PremapThreshold: DefaultPremapThreshold,
			NameCacheSize:   DefaultNameCacheSize,
		},
		Tracing: TracingConfig{
			Memory:         true,
			IoCounters:     true,
			HandleCount:    true,
			ClockFrequency: DefaultClockFrequency,
		},
		Bridge: BridgeConfig{
			LoadTimeout:  DefaultLoadTimeout,
			MaxHeapBytes: DefaultMaxHeapBytes,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML config file, validates it against the embedded CUE
// schema and overlays it on Default(). An empty path returns Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := validateSchema(path, data); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks constraints the schema cannot express.
func (c *Config) Validate() error {
	page := os.Getpagesize()
	if c.Stores.SegmentSize <= 0 || c.Stores.SegmentSize%page != 0 {
		return &ValidationError{
			Path:    "stores.segment_size",
			Message: fmt.Sprintf("%d is not a positive multiple of the page size (%d)", c.Stores.SegmentSize, page),
		}
	}
	if c.Stores.MaxSegments <= 0 {
		return &ValidationError{Path: "stores.max_segments", Message: "must be at least 1"}
	}
	if c.Stores.PremapThreshold < 0 || c.Stores.PremapThreshold > 1 {
		return &ValidationError{Path: "stores.premap_threshold", Message: "must be within [0, 1]"}
	}
	if c.Tracing.ClockFrequency <= 0 {
		return &ValidationError{Path: "tracing.clock_frequency", Message: "must be positive"}
	}
	if c.Bridge.LoadTimeout <= 0 {
		return &ValidationError{Path: "bridge.load_timeout", Message: "must be positive"}
	}
	return nil
}

// ValidationError reports a configuration value that failed validation.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Path, e.Message)
}

// validateSchema unifies the YAML document with #Config. Definitions are
// closed, so unknown keys are rejected along with out-of-range values.
func validateSchema(filename string, data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return fmt.Errorf("parse config %s: %w", filename, err)
	}

	value := ctx.BuildFile(file)
	if err := value.Err(); err != nil {
		return fmt.Errorf("build config %s: %w", filename, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Path: filename, Message: cueerrors.Details(err, nil)}
	}
	return nil
}
