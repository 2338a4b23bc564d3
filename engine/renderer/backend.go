package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/soft"
	"github.com/spaghettifunk/rei/engine/renderer/vulkan"
)

type RendererType uint8

const (
	Soft RendererType = iota
	Vulkan
)

func ParseRendererType(name string) (RendererType, error) {
	switch name {
	case "", "soft":
		return Soft, nil
	case "vulkan":
		return Vulkan, nil
	}
	return Soft, errors.Wrapf(core.ErrInvalidArgument, "unknown renderer backend %q", name)
}

func (t RendererType) String() string {
	if t == Vulkan {
		return "vulkan"
	}
	return "soft"
}

func newDevice(cfg *Config, logger *core.Logger) (backend.Device, error) {
	if cfg.Device != nil {
		return cfg.Device, nil
	}
	t, err := ParseRendererType(cfg.Backend)
	if err != nil {
		return nil, err
	}
	switch t {
	case Vulkan:
		return vulkan.New(vulkan.Config{
			AppName:        cfg.AppName,
			Validation:     cfg.Validation,
			MaxDescriptors: cfg.Heaps.DescriptorPools,
		}, logger.Component("vulkan"))
	default:
		return soft.New(logger.Component("soft")), nil
	}
}
