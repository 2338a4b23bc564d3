package renderer

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/heap"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

type Config struct {
	// Backend is "soft" or "vulkan". Ignored when Device is set.
	Backend        string
	AppName        string
	Debug          bool
	Validation     bool
	FramesInFlight int
	Heaps          core.HeapConfig
	Logger         *core.Logger
	Device         backend.Device
}

// ConfigFrom maps the engine configuration onto a renderer configuration.
func ConfigFrom(cfg *core.Config, logger *core.Logger) Config {
	return Config{
		Backend:        cfg.Renderer.Backend,
		AppName:        cfg.Engine.Name,
		Debug:          cfg.Renderer.Debug,
		Validation:     cfg.Renderer.Validation,
		FramesInFlight: cfg.Renderer.FramesInFlight,
		Heaps:          cfg.Heaps,
		Logger:         logger,
	}
}

type Renderer struct {
	id     uuid.UUID
	cfg    Config
	logger *core.Logger
	assert core.Asserter
	device backend.Device
	heaps  *heap.Manager
	props  metadata.DeviceProperties

	buffers    *core.Arena[*Buffer]
	textures   *core.Arena[*Texture]
	samplers   *core.Arena[*Sampler]
	signatures *core.Arena[*RootSignature]
	pipelines  *core.Arena[*Pipeline]
	tables     *core.Arena[*DescriptorTableArray]
}

func New(cfg Config) (*Renderer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = core.NopLogger()
	}
	if cfg.FramesInFlight < 1 {
		cfg.FramesInFlight = 1
	}
	if cfg.Heaps == (core.HeapConfig{}) {
		cfg.Heaps = core.DefaultConfig().Heaps
	}

	device, err := newDevice(&cfg, logger)
	if err != nil {
		logger.LogError("failed to create render device: %s", err.Error())
		return nil, err
	}

	r := &Renderer{
		id:         uuid.New(),
		cfg:        cfg,
		logger:     logger.Component("renderer"),
		device:     device,
		props:      device.Properties(),
		buffers:    core.NewArena[*Buffer](64),
		textures:   core.NewArena[*Texture](64),
		samplers:   core.NewArena[*Sampler](16),
		signatures: core.NewArena[*RootSignature](16),
		pipelines:  core.NewArena[*Pipeline](16),
		tables:     core.NewArena[*DescriptorTableArray](16),
	}
	r.assert = core.Asserter{Debug: cfg.Debug, Logger: r.logger}

	r.heaps, err = heap.NewManager(cfg.Heaps, logger.Component("heap"), device.CreateDescriptorHeap)
	if err != nil {
		device.Destroy()
		return nil, errors.Wrap(err, "creating descriptor heaps")
	}

	r.logger.LogInfo("renderer %s created on %s (%s)", r.id, device.Name(), r.props.DeviceName)
	return r, nil
}

func (r *Renderer) ID() uuid.UUID {
	return r.id
}

func (r *Renderer) Logger() *core.Logger {
	return r.logger
}

func (r *Renderer) Device() backend.Device {
	return r.device
}

func (r *Renderer) Heaps() *heap.Manager {
	return r.heaps
}

func (r *Renderer) DeviceProperties() metadata.DeviceProperties {
	return r.props
}

func (r *Renderer) FramesInFlight() int {
	return r.cfg.FramesInFlight
}

func (r *Renderer) WaitIdle() error {
	return r.device.WaitIdle()
}

// Destroy releases every object still alive, then the device.
func (r *Renderer) Destroy() {
	if r.device == nil {
		return
	}
	if err := r.device.WaitIdle(); err != nil {
		r.logger.LogWarn("wait idle on shutdown: %s", err.Error())
	}

	r.tables.Each(func(_ core.Handle, t *DescriptorTableArray) {
		r.logger.LogWarn("descriptor table array (slot %d) was not removed", t.slot)
		r.RemoveDescriptorTableArray(t)
	})
	r.pipelines.Each(func(_ core.Handle, p *Pipeline) {
		r.logger.LogWarn("pipeline was not removed")
		r.RemovePipeline(p)
	})
	r.signatures.Each(func(_ core.Handle, s *RootSignature) {
		r.logger.LogWarn("root signature was not removed")
		r.RemoveRootSignature(s)
	})
	r.textures.Each(func(_ core.Handle, t *Texture) {
		r.logger.LogWarn("texture %q was not removed", t.name)
		t.destroy()
	})
	r.buffers.Each(func(_ core.Handle, b *Buffer) {
		r.logger.LogWarn("buffer %q was not removed", b.name)
		b.destroy()
	})
	r.samplers.Each(func(_ core.Handle, s *Sampler) {
		r.logger.LogWarn("sampler was not removed")
		s.destroy()
	})

	r.heaps.Destroy()
	r.device.Destroy()
	r.device = nil
	r.logger.LogInfo("renderer %s destroyed", r.id)
}

// WaitForFences blocks until every submitted fence signals or ctx is done.
// Fences that were never submitted are skipped.
func (r *Renderer) WaitForFences(ctx context.Context, fences ...*Fence) error {
	for _, f := range fences {
		if !f.submitted {
			continue
		}
		if err := f.native.Wait(ctx); err != nil {
			return errors.Wrap(err, "waiting for fence")
		}
	}
	return nil
}

func debugName(kind string, name string) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("%s-%s", kind, uuid.NewString()[:8])
}
