package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"threshcam/internal/processing/threshold"
)

const (
	SourceCamera    = "camera"
	SourceFiles     = "files"
	SourceSynthetic = "synthetic"
	SourceZMQ       = "zmq"

	SinkWindow    = "window"
	SinkSnapshots = "snapshots"
	SinkStream    = "stream"
	SinkDiscard   = "discard"

	BackendNative = "native"
	BackendOpenCV = "opencv"
)

// Config is the complete threshcam configuration
type Config struct {
	Source          SourceConfig    `yaml:"source"`
	Filter          FilterConfig    `yaml:"filter"`
	Overlay         bool            `yaml:"overlay"`
	Sinks           []string        `yaml:"sinks"`
	Window          WindowConfig    `yaml:"window"`
	Snapshots       SnapshotsConfig `yaml:"snapshots"`
	Stream          StreamConfig    `yaml:"stream"`
	Pipeline        PipelineConfig  `yaml:"pipeline"`
	Log             LogConfig       `yaml:"log"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
}

type SourceConfig struct {
	Type      string          `yaml:"type"` // camera, files, synthetic, zmq
	Camera    CameraConfig    `yaml:"camera"`
	Files     FilesConfig     `yaml:"files"`
	Synthetic SyntheticConfig `yaml:"synthetic"`
	ZMQ       ZMQConfig       `yaml:"zmq"`
}

type CameraConfig struct {
	Device        string `yaml:"device"` // index or video file path
	Width         int    `yaml:"width"`
	Height        int    `yaml:"height"`
	FPS           int    `yaml:"fps"`
	MaxEmptyReads int    `yaml:"max_empty_reads"`
}

type FilesConfig struct {
	Pattern  string        `yaml:"pattern"`
	Interval time.Duration `yaml:"interval"`
	Loop     bool          `yaml:"loop"`
}

type SyntheticConfig struct {
	Width    int           `yaml:"width"`
	Height   int           `yaml:"height"`
	Interval time.Duration `yaml:"interval"`
	Limit    uint64        `yaml:"limit"` // 0 runs forever
}

type ZMQConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type FilterConfig struct {
	Backend   string              `yaml:"backend"` // native, opencv
	BlockSize int                 `yaml:"block_size"`
	Offset    float64             `yaml:"offset"`
	Direction threshold.Direction `yaml:"direction"`
	MaxValue  int                 `yaml:"max_value"`
}

type WindowConfig struct {
	Title  string `yaml:"title"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

type SnapshotsConfig struct {
	Dir   string `yaml:"dir"`
	Every int    `yaml:"every"`
}

type StreamConfig struct {
	Addr  string `yaml:"addr"`
	Every int    `yaml:"every"`
}

type PipelineConfig struct {
	Latest      bool          `yaml:"latest"`
	FrameBudget time.Duration `yaml:"frame_budget"`
	LogEvery    int           `yaml:"log_every"`
	PoolSize    int           `yaml:"pool_size"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default mirrors the camera app's stock settings.
func Default() *Config {
	p := threshold.DefaultParams()
	return &Config{
		Source: SourceConfig{
			Type: SourceCamera,
			Camera: CameraConfig{
				Device:        "0",
				Width:         640,
				Height:        480,
				FPS:           30,
				MaxEmptyReads: 30,
			},
			Synthetic: SyntheticConfig{
				Width:    640,
				Height:   480,
				Interval: 33 * time.Millisecond,
			},
			ZMQ: ZMQConfig{
				Endpoint:     "tcp://127.0.0.1:5555",
				PollInterval: 200 * time.Millisecond,
			},
		},
		Filter: FilterConfig{
			Backend:   BackendNative,
			BlockSize: p.BlockSize,
			Offset:    p.Offset,
			Direction: p.Direction,
			MaxValue:  int(p.MaxValue),
		},
		Overlay: true,
		Sinks:   []string{SinkWindow},
		Window: WindowConfig{
			Title:  "threshcam",
			Width:  640,
			Height: 480,
		},
		Snapshots: SnapshotsConfig{
			Dir:   "snapshots",
			Every: 30,
		},
		Stream: StreamConfig{
			Addr:  ":8089",
			Every: 1,
		},
		Pipeline: PipelineConfig{
			FrameBudget: 33 * time.Millisecond,
			// Per-frame compute time is logged at info for every 100th
			// frame; set log_every to 1 to log each one.
			LogEvery: 100,
			PoolSize:    4,
		},
		Log: LogConfig{
			Level: "info",
		},
		ShutdownTimeout: 5 * time.Second,
	}
}

// Load reads a YAML file over the defaults and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Params converts the filter section. MaxValue is range-checked by Validate.
func (f FilterConfig) Params() threshold.Params {
	return threshold.Params{
		BlockSize: f.BlockSize,
		Offset:    f.Offset,
		Direction: f.Direction,
		MaxValue:  uint8(f.MaxValue),
	}
}

// SetSinks replaces the sink list from a comma separated flag value.
func (c *Config) SetSinks(list string) {
	c.Sinks = c.Sinks[:0]
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s != "" {
			c.Sinks = append(c.Sinks, s)
		}
	}
}

func (c *Config) HasSink(name string) bool {
	for _, s := range c.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

func (c *Config) Validate() error {
	switch c.Source.Type {
	case SourceCamera:
		if c.Source.Camera.Device == "" {
			return NewValidationError("source.camera.device", c.Source.Camera.Device, "device is required")
		}
	case SourceFiles:
		if c.Source.Files.Pattern == "" {
			return NewValidationError("source.files.pattern", c.Source.Files.Pattern, "pattern is required")
		}
	case SourceSynthetic:
		if c.Source.Synthetic.Width <= 0 || c.Source.Synthetic.Height <= 0 {
			return NewValidationError("source.synthetic", fmt.Sprintf("%dx%d", c.Source.Synthetic.Width, c.Source.Synthetic.Height), "dimensions must be positive")
		}
	case SourceZMQ:
		if c.Source.ZMQ.Endpoint == "" {
			return NewValidationError("source.zmq.endpoint", c.Source.ZMQ.Endpoint, "endpoint is required")
		}
	default:
		return NewValidationError("source.type", c.Source.Type, "unknown source")
	}

	switch c.Filter.Backend {
	case BackendNative, BackendOpenCV:
	default:
		return NewValidationError("filter.backend", c.Filter.Backend, "unknown backend")
	}
	if c.Filter.MaxValue < 1 || c.Filter.MaxValue > 255 {
		return NewValidationError("filter.max_value", c.Filter.MaxValue, "value must be in [1, 255]")
	}
	if err := c.Filter.Params().Validate(); err != nil {
		return WrapValidationError("filter", c.Filter.Params(), err)
	}

	if len(c.Sinks) == 0 {
		return NewValidationError("sinks", c.Sinks, "at least one sink is required")
	}
	for _, s := range c.Sinks {
		switch s {
		case SinkWindow, SinkDiscard:
		case SinkSnapshots:
			if c.Snapshots.Dir == "" {
				return NewValidationError("snapshots.dir", c.Snapshots.Dir, "directory is required")
			}
		case SinkStream:
			if c.Stream.Addr == "" {
				return NewValidationError("stream.addr", c.Stream.Addr, "address is required")
			}
		default:
			return NewValidationError("sinks", s, "unknown sink")
		}
	}

	if c.Pipeline.FrameBudget < 0 {
		return NewValidationError("pipeline.frame_budget", c.Pipeline.FrameBudget, "value below minimum")
	}
	if c.Pipeline.PoolSize < 0 {
		return NewValidationError("pipeline.pool_size", c.Pipeline.PoolSize, "value below minimum")
	}
	if c.ShutdownTimeout <= 0 {
		return NewValidationError("shutdown_timeout", c.ShutdownTimeout, "value must be positive")
	}
	return nil
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Parameter string
	Value     interface{}
	Message   string
	// Err is the underlying cause, when the check was delegated.
	Err error
}

func NewValidationError(parameter string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Parameter: parameter,
		Value:     value,
		Message:   message,
	}
}

// WrapValidationError keeps err reachable through errors.Is and errors.As.
func WrapValidationError(parameter string, value interface{}, err error) *ValidationError {
	return &ValidationError{
		Parameter: parameter,
		Value:     value,
		Message:   err.Error(),
		Err:       err,
	}
}

func (ve *ValidationError) Unwrap() error {
	return ve.Err
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for parameter '%s' with value '%v': %s",
		ve.Parameter, ve.Value, ve.Message)
}
