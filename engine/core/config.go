package core

import (
	"bytes"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

type EngineConfig struct {
	Name   string `toml:"name"`
	Frames int    `toml:"frames"`
	// Output is the path the testbed writes its readback image to.
	Output string `toml:"output"`
	// Layouts is a directory of *.layout.toml files watched for changes.
	Layouts string `toml:"layouts"`
	// Workers is the number of goroutines recording command lists per frame.
	Workers int `toml:"workers"`
}

type RendererConfig struct {
	// Backend is "soft" or "vulkan".
	Backend        string `toml:"backend"`
	Debug          bool   `toml:"debug"`
	FramesInFlight int    `toml:"frames_in_flight"`
	Validation     bool   `toml:"validation"`
}

// HeapConfig holds descriptor heap capacities, in descriptors.
type HeapConfig struct {
	CbvSrvUav       uint32 `toml:"cbv_srv_uav"`
	Sampler         uint32 `toml:"sampler"`
	RTV             uint32 `toml:"rtv"`
	DSV             uint32 `toml:"dsv"`
	GPUCbvSrvUav    uint32 `toml:"gpu_cbv_srv_uav"`
	GPUSampler      uint32 `toml:"gpu_sampler"`
	DescriptorPools uint32 `toml:"descriptor_pools"`
}

type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Log      LoggerConfig   `toml:"log"`
	Renderer RendererConfig `toml:"renderer"`
	Heaps    HeapConfig     `toml:"heaps"`
}

func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Name:    "rei",
			Frames:  3,
			Output:  "testbed.bmp",
			Workers: 2,
		},
		Log: LoggerConfig{
			Level:        "info",
			ReportCaller: true,
		},
		Renderer: RendererConfig{
			Backend:        "soft",
			Debug:          false,
			FramesInFlight: 2,
		},
		Heaps: HeapConfig{
			CbvSrvUav:       8192,
			Sampler:         2048,
			RTV:             512,
			DSV:             512,
			GPUCbvSrvUav:    8192,
			GPUSampler:      2048,
			DescriptorPools: 256,
		},
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig. Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Renderer.Backend {
	case "soft", "vulkan":
	default:
		return errors.Wrapf(ErrInvalidArgument, "unknown renderer backend %q", c.Renderer.Backend)
	}
	if c.Renderer.FramesInFlight < 1 {
		return errors.Wrapf(ErrInvalidArgument, "frames_in_flight must be at least 1, got %d", c.Renderer.FramesInFlight)
	}
	if c.Engine.Frames < 0 || c.Engine.Workers < 0 {
		return errors.Wrap(ErrInvalidArgument, "frames and workers must not be negative")
	}
	if c.Heaps.CbvSrvUav == 0 || c.Heaps.Sampler == 0 || c.Heaps.GPUCbvSrvUav == 0 || c.Heaps.GPUSampler == 0 {
		return errors.Wrap(ErrInvalidArgument, "descriptor heap capacities must be non zero")
	}
	return nil
}
