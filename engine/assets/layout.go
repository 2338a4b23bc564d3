package assets

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

const LayoutExt = ".layout.toml"

type layoutFile struct {
	Name                string              `toml:"name"`
	Pipeline            string              `toml:"pipeline"`
	StaticSamplerSlot   *uint32             `toml:"static_sampler_slot"`
	StaticSamplerStages []string            `toml:"static_sampler_stages"`
	Tables              []tableEntry        `toml:"table"`
	PushConstants       []pushConstantEntry `toml:"push_constant"`
}

type tableEntry struct {
	Slot     uint32         `toml:"slot"`
	Stages   []string       `toml:"stages"`
	Bindings []bindingEntry `toml:"binding"`
}

type bindingEntry struct {
	Type     string `toml:"type"`
	Binding  uint32 `toml:"binding"`
	Register uint32 `toml:"register"`
	Count    uint32 `toml:"count"`
}

type pushConstantEntry struct {
	Slot     uint32   `toml:"slot"`
	Stages   []string `toml:"stages"`
	Offset   uint32   `toml:"offset"`
	Size     uint32   `toml:"size"`
	Register uint32   `toml:"register"`
}

// IsLayoutFile reports whether path names a layout file.
func IsLayoutFile(path string) bool {
	return strings.HasSuffix(path, LayoutExt)
}

// layoutName is the file name without the layout extension.
func layoutName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), LayoutExt)
}

// ParseLayout decodes a layout file. Static sampler objects cannot be
// described in TOML; only their slot and stages are read, the samplers
// themselves are attached by the caller.
func ParseLayout(data []byte) (*renderer.RootSignatureDesc, error) {
	var f layoutFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Wrap(err, "decoding layout")
	}

	desc := &renderer.RootSignatureDesc{Name: f.Name}
	switch f.Pipeline {
	case "graphics":
		desc.PipelineType = metadata.PipelineTypeGraphics
	case "compute":
		desc.PipelineType = metadata.PipelineTypeCompute
	default:
		return nil, errors.Wrapf(core.ErrInvalidSignature, "unknown pipeline type %q", f.Pipeline)
	}

	for i, t := range f.Tables {
		stages, ok := metadata.ParseShaderStages(t.Stages)
		if !ok {
			return nil, errors.Wrapf(core.ErrInvalidSignature, "table %d: unknown stage in %v", i, t.Stages)
		}
		layout := metadata.DescriptorTableLayout{
			Slot:       metadata.DescriptorTableSlot(t.Slot),
			StageFlags: stages,
			Bindings:   make([]metadata.DescriptorBinding, 0, len(t.Bindings)),
		}
		for _, b := range t.Bindings {
			typ, ok := metadata.ParseDescriptorType(b.Type)
			if !ok {
				return nil, errors.Wrapf(core.ErrInvalidSignature, "table %d binding %d: unknown descriptor type %q", i, b.Binding, b.Type)
			}
			count := b.Count
			if count == 0 {
				count = 1
			}
			layout.Bindings = append(layout.Bindings, metadata.DescriptorBinding{
				DescriptorType:  typ,
				Binding:         b.Binding,
				Register:        b.Register,
				DescriptorCount: count,
			})
		}
		desc.Tables = append(desc.Tables, layout)
	}

	for i, p := range f.PushConstants {
		stages, ok := metadata.ParseShaderStages(p.Stages)
		if !ok {
			return nil, errors.Wrapf(core.ErrInvalidSignature, "push constant %d: unknown stage in %v", i, p.Stages)
		}
		desc.PushConstants = append(desc.PushConstants, metadata.PushConstantRange{
			Slot:       p.Slot,
			StageFlags: stages,
			Offset:     p.Offset,
			Size:       p.Size,
			Register:   p.Register,
		})
	}

	if f.StaticSamplerSlot != nil {
		stages, ok := metadata.ParseShaderStages(f.StaticSamplerStages)
		if !ok {
			return nil, errors.Wrapf(core.ErrInvalidSignature, "unknown static sampler stage in %v", f.StaticSamplerStages)
		}
		desc.StaticSamplerSlot = metadata.DescriptorTableSlot(*f.StaticSamplerSlot)
		desc.StaticSamplerStages = stages
	}
	return desc, nil
}

// LoadLayout reads and parses one layout file. The layout is named after the
// file when the file does not name it.
func LoadLayout(path string) (*renderer.RootSignatureDesc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading layout %s", path)
	}
	desc, err := ParseLayout(data)
	if err != nil {
		return nil, errors.Wrapf(err, "layout %s", path)
	}
	if desc.Name == "" {
		desc.Name = layoutName(path)
	}
	return desc, nil
}
