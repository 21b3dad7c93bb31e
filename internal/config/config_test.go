package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threshcam/internal/processing/threshold"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, threshold.DefaultParams(), cfg.Filter.Params())
	assert.Equal(t, []string{SinkWindow}, cfg.Sinks)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threshcam.yaml")
	data := []byte(`
source:
  type: synthetic
  synthetic:
    width: 320
    height: 240
    interval: 10ms
    limit: 50
filter:
  backend: opencv
  block_size: 15
  offset: 3.5
  direction: binary
sinks: [stream, discard]
stream:
  addr: "127.0.0.1:9000"
pipeline:
  latest: true
  frame_budget: 20ms
log:
  level: debug
  json: true
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, SourceSynthetic, cfg.Source.Type)
	assert.Equal(t, 320, cfg.Source.Synthetic.Width)
	assert.Equal(t, 10*time.Millisecond, cfg.Source.Synthetic.Interval)
	assert.Equal(t, uint64(50), cfg.Source.Synthetic.Limit)

	assert.Equal(t, BackendOpenCV, cfg.Filter.Backend)
	assert.Equal(t, threshold.Params{BlockSize: 15, Offset: 3.5, Direction: threshold.Binary, MaxValue: 255}, cfg.Filter.Params())

	assert.Equal(t, []string{SinkStream, SinkDiscard}, cfg.Sinks)
	assert.Equal(t, "127.0.0.1:9000", cfg.Stream.Addr)
	assert.True(t, cfg.Pipeline.Latest)
	assert.Equal(t, 20*time.Millisecond, cfg.Pipeline.FrameBudget)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)

	// untouched sections keep their defaults
	assert.Equal(t, "0", cfg.Source.Camera.Device)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsBadDirection(t *testing.T) {
	_, err := Parse([]byte("filter:\n  direction: sideways\n"))
	assert.ErrorIs(t, err, threshold.ErrInvalidParameter)
}

func TestValidateReportsParameter(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		parameter string
	}{
		{"unknown source", func(c *Config) { c.Source.Type = "scanner" }, "source.type"},
		{"files without pattern", func(c *Config) { c.Source.Type = SourceFiles }, "source.files.pattern"},
		{"zmq without endpoint", func(c *Config) { c.Source.Type = SourceZMQ; c.Source.ZMQ.Endpoint = "" }, "source.zmq.endpoint"},
		{"unknown backend", func(c *Config) { c.Filter.Backend = "cuda" }, "filter.backend"},
		{"even block", func(c *Config) { c.Filter.BlockSize = 20 }, "filter"},
		{"zero max value", func(c *Config) { c.Filter.MaxValue = 0 }, "filter.max_value"},
		{"max value overflow", func(c *Config) { c.Filter.MaxValue = 256 }, "filter.max_value"},
		{"no sinks", func(c *Config) { c.Sinks = nil }, "sinks"},
		{"unknown sink", func(c *Config) { c.Sinks = []string{"printer"} }, "sinks"},
		{"stream without addr", func(c *Config) { c.Sinks = []string{SinkStream}; c.Stream.Addr = "" }, "stream.addr"},
		{"zero shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }, "shutdown_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.parameter, ve.Parameter)
		})
	}
}

func TestValidateKeepsThresholdSentinel(t *testing.T) {
	for _, block := range []int{2, 4} {
		cfg := Default()
		cfg.Filter.BlockSize = block

		err := cfg.Validate()
		assert.ErrorIs(t, err, threshold.ErrInvalidParameter, "block %d", block)

		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "filter", ve.Parameter)
	}

	_, err := Parse([]byte("filter:\n  block_size: 2\n"))
	assert.ErrorIs(t, err, threshold.ErrInvalidParameter)
}

func TestSetSinks(t *testing.T) {
	cfg := Default()
	cfg.SetSinks(" stream, ,snapshots ")
	assert.Equal(t, []string{SinkStream, SinkSnapshots}, cfg.Sinks)
	assert.True(t, cfg.HasSink(SinkSnapshots))
	assert.False(t, cfg.HasSink(SinkWindow))
}
