package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

// StaticSamplerBinding binds immutable samplers to a register of the static
// sampler slot.
type StaticSamplerBinding struct {
	Binding  uint32
	Register uint32
	Samplers []*Sampler
}

type RootSignatureDesc struct {
	PipelineType        metadata.PipelineType
	Tables              []metadata.DescriptorTableLayout
	PushConstants       []metadata.PushConstantRange
	StaticSamplerSlot   metadata.DescriptorTableSlot
	StaticSamplerStages metadata.ShaderStage
	StaticSamplers      []StaticSamplerBinding
	Name                string
}

// BuildSignatureLayout validates desc and computes the root parameter layout.
// It has no side effects, so a failing description leaves nothing behind.
func BuildSignatureLayout(desc *RootSignatureDesc, caps metadata.DeviceCapabilities) (*backend.SignatureLayout, error) {
	if desc.PipelineType == metadata.PipelineTypeUndefined {
		return nil, errors.Wrap(core.ErrInvalidSignature, "pipeline type is undefined")
	}
	if uint32(len(desc.Tables)) > metadata.DescriptorTableSlotCount {
		return nil, errors.Wrapf(core.ErrSignatureBudget, "%d table layouts, at most %d slots",
			len(desc.Tables), metadata.DescriptorTableSlotCount)
	}
	maxDWORDs := caps.MaxRootSignatureDWORDs
	if maxDWORDs == 0 {
		maxDWORDs = metadata.MaxRootSignatureDWORDs
	}

	layout := &backend.SignatureLayout{
		PipelineType:        desc.PipelineType,
		StaticSamplerSlot:   uint32(desc.StaticSamplerSlot),
		StaticSamplerStages: desc.StaticSamplerStages,
	}
	for i := range layout.PushConstantRootIndex {
		layout.PushConstantRootIndex[i] = metadata.InvalidIndex
	}
	for i := range layout.Slots {
		layout.Slots[i].ViewRootIndex = metadata.InvalidIndex
		layout.Slots[i].SamplerRootIndex = metadata.InvalidIndex
	}
	hasStatic := len(desc.StaticSamplers) > 0
	if hasStatic && uint32(desc.StaticSamplerSlot) >= metadata.DescriptorTableSlotCount {
		return nil, errors.Wrapf(core.ErrInvalidSignature, "static sampler slot %d out of range", desc.StaticSamplerSlot)
	}

	for _, table := range desc.Tables {
		slot := uint32(table.Slot)
		if slot >= metadata.DescriptorTableSlotCount {
			return nil, errors.Wrapf(core.ErrInvalidSignature, "table slot %d out of range", slot)
		}
		if hasStatic && slot == uint32(desc.StaticSamplerSlot) {
			return nil, errors.Wrapf(core.ErrInvalidSignature, "slot %d is used by static samplers", slot)
		}
		sl := &layout.Slots[slot]
		if sl.Used {
			return nil, errors.Wrapf(core.ErrInvalidSignature, "slot %d declared twice", slot)
		}
		sl.Used = true
		sl.StageFlags = table.StageFlags
		sl.Bindings = append([]metadata.DescriptorBinding(nil), table.Bindings...)

		var unfolded uint32
		for _, b := range table.Bindings {
			if b.DescriptorType == metadata.DescriptorTypeUndefined || b.DescriptorType == metadata.DescriptorTypeRootConstant {
				return nil, errors.Wrapf(core.ErrInvalidSignature, "slot %d binding %d has unsupported type %s",
					slot, b.Binding, b.DescriptorType)
			}
			count := metadata.Max(b.DescriptorCount, 1)
			info := backend.DescriptorInfo{
				Type:              b.DescriptorType,
				Sampler:           b.DescriptorType.IsSampler(),
				Binding:           b.Binding,
				Register:          b.Register,
				FirstArrayElement: unfolded,
				ArraySize:         count,
			}
			if info.Sampler {
				info.Offset = sl.SamplerCount
				sl.SamplerCount += count
			} else {
				info.Offset = sl.ViewCount
				sl.ViewCount += count
			}
			unfolded += count
			sl.Descriptors = append(sl.Descriptors, info)
		}
		if sl.ViewCount > metadata.MaxResourceTableSize || sl.SamplerCount > metadata.MaxResourceTableSize {
			return nil, errors.Wrapf(core.ErrSignatureBudget, "slot %d holds %d views and %d samplers, at most %d each",
				slot, sl.ViewCount, sl.SamplerCount, metadata.MaxResourceTableSize)
		}
		if sl.ViewCount > 0 {
			sl.ViewRootIndex = uint32(len(layout.Parameters))
			layout.Parameters = append(layout.Parameters, backend.RootParameter{
				Type: backend.RootParameterTable, Slot: slot, StageFlags: table.StageFlags, Range: -1,
			})
			layout.DWORDs++
		}
		if sl.SamplerCount > 0 {
			sl.SamplerRootIndex = uint32(len(layout.Parameters))
			layout.Parameters = append(layout.Parameters, backend.RootParameter{
				Type: backend.RootParameterTable, Slot: slot, Sampler: true, StageFlags: table.StageFlags, Range: -1,
			})
			layout.DWORDs++
		}
		layout.MaxUsedSlots = metadata.Max(layout.MaxUsedSlots, slot+1)
	}

	for i, pc := range desc.PushConstants {
		if pc.Size == 0 || pc.Size%4 != 0 || pc.Offset%4 != 0 {
			return nil, errors.Wrapf(core.ErrInvalidSignature, "push constant range %d: offset %d size %d must be multiples of 4",
				i, pc.Offset, pc.Size)
		}
		root := uint32(len(layout.Parameters))
		stages := pc.StageFlags
		if desc.PipelineType == metadata.PipelineTypeCompute {
			stages = metadata.ShaderStageComp
		}
		for s := 0; s < metadata.ShaderStageCount; s++ {
			if stages&(1<<uint(s)) == 0 {
				continue
			}
			idx := s
			if metadata.ShaderStage(1<<uint(s)) == metadata.ShaderStageComp {
				idx = metadata.ShaderStageCount - 1
			}
			if layout.PushConstantRootIndex[idx] != metadata.InvalidIndex {
				return nil, errors.Wrapf(core.ErrDuplicateStage, "stage %#x has two push constant ranges", 1<<uint(s))
			}
			layout.PushConstantRootIndex[idx] = root
		}
		layout.PushConstants = append(layout.PushConstants, pc)
		layout.Parameters = append(layout.Parameters, backend.RootParameter{
			Type:           backend.RootParameterConstants,
			StageFlags:     stages,
			Num32BitValues: pc.Size / 4,
			Register:       pc.Register,
			Offset:         pc.Offset,
			Range:          i,
		})
		layout.DWORDs += pc.Size / 4
	}
	if layout.DWORDs > maxDWORDs {
		return nil, errors.Wrapf(core.ErrSignatureBudget, "root signature costs %d DWORDs, limit is %d", layout.DWORDs, maxDWORDs)
	}

	if hasStatic {
		for _, ss := range desc.StaticSamplers {
			if len(ss.Samplers) == 0 {
				return nil, errors.Wrapf(core.ErrInvalidSignature, "static sampler binding %d has no samplers", ss.Binding)
			}
			natives := make([]interface{}, len(ss.Samplers))
			for i, s := range ss.Samplers {
				if s == nil || s.native == nil {
					return nil, errors.Wrapf(core.ErrInvalidSignature, "static sampler binding %d element %d is nil", ss.Binding, i)
				}
				natives[i] = s.native
			}
			layout.StaticSamplers = append(layout.StaticSamplers, backend.StaticSampler{
				Binding: ss.Binding, Register: ss.Register, Samplers: natives,
			})
		}
		layout.MaxUsedSlots = metadata.Max(layout.MaxUsedSlots, uint32(desc.StaticSamplerSlot)+1)
	}
	return layout, nil
}

type RootSignature struct {
	refCounted
	r        *Renderer
	handle   core.Handle
	name     string
	layout   *backend.SignatureLayout
	native   interface{}
	samplers []*Sampler
}

func (r *Renderer) AddRootSignature(desc RootSignatureDesc) (*RootSignature, error) {
	layout, err := BuildSignatureLayout(&desc, r.props.Capabilities)
	if err != nil {
		r.logger.LogError("root signature %q rejected: %s", desc.Name, err.Error())
		return nil, err
	}
	native, err := r.device.CreateRootSignature(layout)
	if err != nil {
		return nil, errors.Wrapf(err, "creating root signature %q", desc.Name)
	}

	s := &RootSignature{r: r, name: debugName("signature", desc.Name), layout: layout, native: native}
	s.init(s.destroy)
	for _, ss := range desc.StaticSamplers {
		for _, sampler := range ss.Samplers {
			sampler.retain()
			s.samplers = append(s.samplers, sampler)
		}
	}
	r.device.SetName(native, s.name)
	s.handle = r.signatures.Acquire(s)
	r.logger.LogDebug("root signature %q: %d parameters, %d DWORDs, %d slots",
		s.name, len(layout.Parameters), layout.DWORDs, layout.MaxUsedSlots)
	return s, nil
}

func (s *RootSignature) Layout() *backend.SignatureLayout {
	return s.layout
}

func (s *RootSignature) PipelineType() metadata.PipelineType {
	return s.layout.PipelineType
}

func (s *RootSignature) Name() string {
	return s.name
}

// DescriptorIndex returns the descriptor index of element 0 of binding in
// slot, for use in DescriptorData.
func (s *RootSignature) DescriptorIndex(slot metadata.DescriptorTableSlot, binding uint32) (uint32, bool) {
	if uint32(slot) >= metadata.DescriptorTableSlotCount {
		return 0, false
	}
	info, ok := s.layout.Slots[slot].Lookup(binding)
	return info.FirstArrayElement, ok
}

func (s *RootSignature) destroy() {
	if s.native == nil {
		return
	}
	s.r.device.DestroyRootSignature(s.native)
	s.native = nil
	for _, sampler := range s.samplers {
		sampler.release()
	}
	s.samplers = nil
	_ = s.r.signatures.Release(s.handle)
}

// RemoveRootSignature drops the owner reference. Pipelines and table arrays
// built on the signature keep it alive.
func (r *Renderer) RemoveRootSignature(s *RootSignature) error {
	if s == nil {
		return nil
	}
	return s.drop(r.assert, "root signature "+s.name)
}
