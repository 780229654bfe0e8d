package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_EmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := writeConfig(t, `
stores:
  segment_size: 65536
  max_segments: 8
tracing:
  handle_count: false
bridge:
  load_timeout: 5s
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 65536, cfg.Stores.SegmentSize)
	assert.Equal(t, 8, cfg.Stores.MaxSegments)
	assert.False(t, cfg.Tracing.HandleCount)
	assert.True(t, cfg.Tracing.Memory, "unspecified keys keep defaults")
	assert.Equal(t, 5*time.Second, cfg.Bridge.LoadTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_RejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, `
stores:
  segmnet_size: 65536
`)

	_, err := Load(path)
	require.Error(t, err)

	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestLoad_RejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"tiny segment", "stores:\n  segment_size: 100\n"},
		{"threshold above one", "stores:\n  premap_threshold: 1.5\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"bad duration", "bridge:\n  load_timeout: soon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
		})
	}
}

func TestValidate_SegmentSizeMustBePageMultiple(t *testing.T) {
	cfg := Default()
	cfg.Stores.SegmentSize = os.Getpagesize() + 1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stores.segment_size")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
