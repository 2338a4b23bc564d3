package soft

import (
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

// MaxVaryings is the number of floats passed from vertex to fragment stage.
const MaxVaryings = 8

type Varyings [MaxVaryings]float32

type VertexInput struct {
	VertexIndex   uint32
	InstanceIndex uint32
}

type VertexOutput struct {
	// Position is in clip space.
	Position [4]float32
	Varyings Varyings
}

type FragmentInput struct {
	// X and Y are pixel coordinates, Z the interpolated depth.
	X, Y     uint32
	Z        float32
	Varyings Varyings
}

type ComputeInput struct {
	Group  [3]uint32
	Thread [3]uint32
	Global [3]uint32
}

// Shader programs of the software device. They go in backend.ShaderDesc.Program.
type (
	VertexFunc   func(ctx *ShaderContext, in VertexInput) VertexOutput
	FragmentFunc func(ctx *ShaderContext, in FragmentInput) [4]float32
	ComputeFunc  func(ctx *ShaderContext, in ComputeInput)
)

// ShaderContext resolves resources through the tables bound on the command
// list, the way a shader reads them through its root signature.
type ShaderContext struct {
	st     *execState
	kind   metadata.PipelineType
	stage  metadata.ShaderStage
	vertex VertexInput
}

func (c *ShaderContext) layout() *backend.SignatureLayout {
	if sig := c.st.signatures[c.kind]; sig != nil {
		return sig.layout
	}
	return nil
}

// view finds element of binding in slot.
func (c *ShaderContext) view(slot metadata.DescriptorTableSlot, binding, element uint32) (backend.View, bool) {
	layout := c.layout()
	if layout == nil || uint32(slot) >= metadata.DescriptorTableSlotCount {
		return backend.View{}, false
	}
	if len(layout.StaticSamplers) > 0 && uint32(slot) == layout.StaticSamplerSlot {
		for _, ss := range layout.StaticSamplers {
			if ss.Binding == binding && int(element) < len(ss.Samplers) {
				return backend.View{Kind: backend.ViewSampler, Sampler: ss.Samplers[element]}, true
			}
		}
		return backend.View{}, false
	}
	info, ok := layout.Slots[slot].Lookup(binding)
	if !ok || element >= info.ArraySize {
		return backend.View{}, false
	}
	bind := c.st.tables[c.kind][slot]
	if bind == nil {
		return backend.View{}, false
	}
	if info.Sampler {
		if c.st.samplerHeap == nil {
			return backend.View{}, false
		}
		return c.st.samplerHeap.get(bind.SamplerIndex + info.Offset + element)
	}
	if c.st.viewHeap == nil {
		return backend.View{}, false
	}
	return c.st.viewHeap.get(bind.ViewIndex + info.Offset + element)
}

// Buffer returns the bytes visible through a buffer descriptor. Writes to a
// read write view land in the buffer.
func (c *ShaderContext) Buffer(slot metadata.DescriptorTableSlot, binding, element uint32) []byte {
	v, ok := c.view(slot, binding, element)
	if !ok {
		return nil
	}
	b, ok := v.Buffer.(*buffer)
	if !ok || b.data == nil {
		return nil
	}
	if v.Kind == backend.ViewCBV {
		end := v.Offset + v.Size
		if v.Size == 0 || end > uint64(len(b.data)) {
			end = uint64(len(b.data))
		}
		return b.data[v.Offset:end]
	}
	stride := v.StructStride
	switch {
	case v.Raw || stride == 0 && v.Format == metadata.FormatUndefined:
		stride = 4
	case stride == 0:
		stride = uint64(v.Format.BytesPerPixel())
	}
	start := v.FirstElement * stride
	end := start + v.ElementCount*stride
	if end > uint64(len(b.data)) || v.ElementCount == 0 {
		end = uint64(len(b.data))
	}
	if start > end {
		return nil
	}
	return b.data[start:end]
}

// Load reads a texel through a texture descriptor, honoring its component
// mapping.
func (c *ShaderContext) Load(slot metadata.DescriptorTableSlot, binding, element, x, y uint32) [4]float32 {
	v, ok := c.view(slot, binding, element)
	if !ok {
		return [4]float32{}
	}
	t, ok := v.Texture.(*texture)
	if !ok || t.subresources == nil {
		return [4]float32{}
	}
	return swizzle(t.load(v.MipSlice, v.ArraySlice, x, y, 0), v.Mapping)
}

// Store writes a texel through a read write texture descriptor.
func (c *ShaderContext) Store(slot metadata.DescriptorTableSlot, binding, element, x, y uint32, value [4]float32) {
	v, ok := c.view(slot, binding, element)
	if !ok || v.Kind != backend.ViewUAV {
		return
	}
	if t, ok := v.Texture.(*texture); ok && t.subresources != nil {
		t.store(v.MipSlice, v.ArraySlice, x, y, 0, value)
	}
}

// Sample filters a texture with a sampler, both looked up by binding.
func (c *ShaderContext) Sample(texSlot metadata.DescriptorTableSlot, texBinding uint32, samplerSlot metadata.DescriptorTableSlot, samplerBinding uint32, u, v float32) [4]float32 {
	tv, ok := c.view(texSlot, texBinding, 0)
	if !ok {
		return [4]float32{}
	}
	sv, ok := c.view(samplerSlot, samplerBinding, 0)
	if !ok {
		return [4]float32{}
	}
	t, ok := tv.Texture.(*texture)
	if !ok || t.subresources == nil {
		return [4]float32{}
	}
	s, ok := sv.Sampler.(*sampler)
	if !ok {
		return [4]float32{}
	}
	return swizzle(sample(t, tv.ArraySlice, &s.desc, u, v), tv.Mapping)
}

// PushConstants returns the push constant block visible to the running stage.
func (c *ShaderContext) PushConstants() []byte {
	layout := c.layout()
	if layout == nil {
		return nil
	}
	_, root, ok := layout.PushConstantRange(c.stage)
	if !ok {
		return nil
	}
	return c.st.push[c.kind][layout.Parameters[root].Range]
}

// Attribute decodes the vertex attribute at location for the current vertex.
func (c *ShaderContext) Attribute(location uint32) [4]float32 {
	p := c.st.pipeline
	if p == nil {
		return [4]float32{}
	}
	for _, a := range p.desc.VertexAttribs {
		if a.Location != location {
			continue
		}
		if int(a.Binding) >= len(c.st.vertexBuffers) {
			return [4]float32{}
		}
		vb := c.st.vertexBuffers[a.Binding]
		index := c.vertex.VertexIndex
		if a.Instance {
			index = c.vertex.InstanceIndex
		}
		off := vb.offset + uint64(index)*uint64(vb.stride) + uint64(a.Offset)
		size := uint64(a.Format.BytesPerPixel())
		if vb.buffer == nil || off+size > uint64(len(vb.buffer.data)) {
			return [4]float32{}
		}
		return decode(a.Format, vb.buffer.data[off:off+size])
	}
	return [4]float32{}
}
