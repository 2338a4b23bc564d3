package renderer

import (
	"encoding/binary"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
	"github.com/spaghettifunk/rei/engine/renderer/soft"
)

func uniformSignature(t *testing.T, r *Renderer) *RootSignature {
	t.Helper()
	sig, err := r.AddRootSignature(RootSignatureDesc{
		PipelineType: metadata.PipelineTypeGraphics,
		Tables: []metadata.DescriptorTableLayout{{
			Slot:       0,
			StageFlags: metadata.ShaderStageFrag,
			Bindings: []metadata.DescriptorBinding{
				{DescriptorType: metadata.DescriptorTypeUniformBuffer, Binding: 0, DescriptorCount: 1},
			},
		}},
		Name: "uniform-color",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.RemoveRootSignature(sig) })
	return sig
}

var uniformColor = soft.FragmentFunc(func(ctx *soft.ShaderContext, _ soft.FragmentInput) [4]float32 {
	b := ctx.Buffer(0, 0, 0)
	if len(b) < 16 {
		return [4]float32{}
	}
	return [4]float32{getFloat(b, 0), getFloat(b, 1), getFloat(b, 2), getFloat(b, 3)}
})

func colorPipeline(t *testing.T, r *Renderer, sig *RootSignature) *Pipeline {
	t.Helper()
	p, err := r.AddPipeline(PipelineDesc{
		Type:         metadata.PipelineTypeGraphics,
		Signature:    sig,
		Shaders:      graphicsShaders(uniformColor),
		ColorFormats: []metadata.Format{metadata.FormatR8G8B8A8Unorm},
		Topology:     metadata.PrimitiveTopoTriList,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.RemovePipeline(p) })
	return p
}

func colorBuffer(t *testing.T, r *Renderer, c [4]float32) *Buffer {
	t.Helper()
	b, err := r.AddBuffer(metadata.BufferDesc{
		Size:        16,
		MemoryUsage: metadata.ResourceMemoryUsageCPUToGPU,
		Descriptors: metadata.DescriptorTypeUniformBuffer,
	})
	require.NoError(t, err)
	mem, err := b.Map()
	require.NoError(t, err)
	putFloats(mem, c[0], c[1], c[2], c[3])
	b.Unmap()
	return b
}

func TestBindPipelineTwiceEmitsOneBind(t *testing.T) {
	h := newHarness(t, core.HeapConfig{})
	sig := uniformSignature(t, h.r)
	p := colorPipeline(t, h.r, sig)

	h.submit(t, func(cmd *Cmd) {
		require.NoError(t, cmd.BindPipeline(p))
		require.NoError(t, cmd.BindPipeline(p))

		stats := cmd.native.(*soft.CommandList).Stats()
		assert.Equal(t, 1, stats.PipelineBinds)
		assert.Equal(t, 1, stats.SignatureBinds)
		assert.Equal(t, 1, stats.HeapBinds)
		assert.Equal(t, 1, cmd.Stats().PipelineBinds)
	})
}

func TestSecondPipelineOnSameSignatureSkipsSignatureBind(t *testing.T) {
	h := newHarness(t, core.HeapConfig{})
	sig := uniformSignature(t, h.r)
	a := colorPipeline(t, h.r, sig)
	b := colorPipeline(t, h.r, sig)

	h.submit(t, func(cmd *Cmd) {
		require.NoError(t, cmd.BindPipeline(a))
		require.NoError(t, cmd.BindPipeline(b))
		require.NoError(t, cmd.BindPipeline(a))

		stats := cmd.native.(*soft.CommandList).Stats()
		assert.Equal(t, 3, stats.PipelineBinds)
		assert.Equal(t, 1, stats.SignatureBinds)
	})
}

func TestBindTableWithOtherSignatureFails(t *testing.T) {
	h := newHarness(t, core.HeapConfig{})
	sig := uniformSignature(t, h.r)
	other := uniformSignature(t, h.r)
	p := colorPipeline(t, h.r, sig)

	arr, err := h.r.AddDescriptorTableArray(other, 0, 1)
	require.NoError(t, err)
	defer h.r.RemoveDescriptorTableArray(arr)

	h.submit(t, func(cmd *Cmd) {
		require.NoError(t, cmd.BindPipeline(p))
		err := cmd.BindDescriptorTable(0, arr)
		require.Error(t, err)
		assert.True(t, errors.Is(err, core.ErrSignatureMismatch))
		assert.Equal(t, 0, cmd.native.(*soft.CommandList).Stats().TableBinds)
	})
}

// Four tables of one array, each drawn into its own pixel.
func TestTableArrayTablesAreIndependent(t *testing.T) {
	h := newHarness(t, core.HeapConfig{})
	sig := uniformSignature(t, h.r)
	p := colorPipeline(t, h.r, sig)
	rt := h.renderTarget(t, 4, 1, metadata.FormatR8G8B8A8Unorm)

	colors := [][4]float32{{1, 0, 0, 1}, {0, 1, 0, 1}, {0, 0, 1, 1}, {1, 1, 1, 1}}
	buffers := make([]*Buffer, len(colors))
	for i, c := range colors {
		buffers[i] = colorBuffer(t, h.r, c)
	}

	const maxTables = 4
	arr, err := h.r.AddDescriptorTableArray(sig, 0, maxTables)
	require.NoError(t, err)
	assert.Equal(t, uint32(maxTables), arr.ViewRange().Count)
	assert.False(t, arr.SamplerRange().Valid())

	// Table 2 is written twice; only its own slot changes.
	updates := []DescriptorData{
		{TableIndex: 0, Type: metadata.DescriptorTypeUniformBuffer, Buffers: buffers[0:1]},
		{TableIndex: 1, Type: metadata.DescriptorTypeUniformBuffer, Buffers: buffers[1:2]},
		{TableIndex: 2, Type: metadata.DescriptorTypeUniformBuffer, Buffers: buffers[0:1]},
		{TableIndex: 3, Type: metadata.DescriptorTypeUniformBuffer, Buffers: buffers[3:4]},
		{TableIndex: 2, Type: metadata.DescriptorTypeUniformBuffer, Buffers: buffers[2:3]},
	}
	require.NoError(t, h.r.UpdateDescriptorTableArray(arr, updates))
	assert.Equal(t, int32(2), buffers[0].RefCount(), "owner plus table 0, table 2 let go")
	assert.Equal(t, int32(2), buffers[2].RefCount())

	h.submit(t, func(cmd *Cmd) {
		require.NoError(t, cmd.BindRenderTargets([]RenderTargetBinding{{Texture: rt}}, nil, clearLoad()))
		require.NoError(t, cmd.BindPipeline(p))
		for i := uint32(0); i < maxTables; i++ {
			cmd.SetViewport(float32(i), 0, 1, 1, 0, 1)
			require.NoError(t, cmd.BindDescriptorTable(i, arr))
			cmd.Draw(3, 0)
		}
		assert.Equal(t, maxTables, cmd.native.(*soft.CommandList).Stats().TableBinds)
	})

	pixels := h.readback(t, rt)
	assert.Equal(t, []byte{255, 0, 0, 255}, pixels[0:4])
	assert.Equal(t, []byte{0, 255, 0, 255}, pixels[4:8])
	assert.Equal(t, []byte{0, 0, 255, 255}, pixels[8:12])
	assert.Equal(t, []byte{255, 255, 255, 255}, pixels[12:16])

	require.NoError(t, h.r.RemoveDescriptorTableArray(arr))
	for _, b := range buffers {
		assert.Equal(t, int32(1), b.RefCount())
		require.NoError(t, h.r.RemoveBuffer(b))
	}
	assert.Equal(t, uint32(0), h.r.Heaps().GPUView().Used())
}

func TestRemovedBufferStaysAliveWhileReferenced(t *testing.T) {
	h := newHarness(t, core.HeapConfig{})
	sig := uniformSignature(t, h.r)
	b := colorBuffer(t, h.r, [4]float32{1, 0, 0, 1})
	cpu := h.r.Heaps().CPU(metadata.HeapKindCbvSrvUav)
	used := cpu.Used()

	arr, err := h.r.AddDescriptorTableArray(sig, 0, 2)
	require.NoError(t, err)
	require.NoError(t, h.r.UpdateDescriptorTableArray(arr, []DescriptorData{
		{TableIndex: 1, Type: metadata.DescriptorTypeUniformBuffer, Buffers: []*Buffer{b}},
	}))

	require.NoError(t, h.r.RemoveBuffer(b))
	assert.Equal(t, int32(1), b.RefCount())
	assert.Equal(t, used, cpu.Used(), "views stay until the table array lets go")
	assert.Error(t, h.r.RemoveBuffer(b))

	require.NoError(t, h.r.RemoveDescriptorTableArray(arr))
	assert.Equal(t, used-1, cpu.Used())
	assert.Nil(t, b.Native())
}

func TestUpdateWithDestroyedResourceIsRejected(t *testing.T) {
	h := newHarness(t, core.HeapConfig{})
	sig := uniformSignature(t, h.r)

	dead := colorBuffer(t, h.r, [4]float32{1, 0, 0, 1})
	deadViews := dead.Views()
	require.NoError(t, h.r.RemoveBuffer(dead))
	assert.Equal(t, int32(0), dead.RefCount())
	assert.False(t, dead.Views().Valid())

	// The freed slot goes to the next buffer.
	other := colorBuffer(t, h.r, [4]float32{0, 0, 1, 1})
	defer h.r.RemoveBuffer(other)
	assert.Equal(t, deadViews.Index, other.Views().Index)

	arr, err := h.r.AddDescriptorTableArray(sig, 0, 1)
	require.NoError(t, err)
	defer h.r.RemoveDescriptorTableArray(arr)

	err = h.r.UpdateDescriptorTableArray(arr, []DescriptorData{
		{Type: metadata.DescriptorTypeUniformBuffer, Buffers: []*Buffer{dead}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrStaleDescriptor))
	assert.Equal(t, int32(0), dead.RefCount())
	assert.Equal(t, int32(1), other.RefCount())

	sampler, err := h.r.AddSampler(metadata.SamplerDesc{})
	require.NoError(t, err)
	require.NoError(t, h.r.RemoveSampler(sampler))
	assert.False(t, sampler.live())
}

func TestDebugModePanicsOnDestroyedBufferUpdate(t *testing.T) {
	r, err := New(Config{Backend: "soft", Debug: true})
	require.NoError(t, err)
	defer r.Destroy()

	sig, err := r.AddRootSignature(RootSignatureDesc{
		PipelineType: metadata.PipelineTypeGraphics,
		Tables: []metadata.DescriptorTableLayout{{
			StageFlags: metadata.ShaderStageFrag,
			Bindings:   []metadata.DescriptorBinding{binding(metadata.DescriptorTypeUniformBuffer, 0, 1)},
		}},
	})
	require.NoError(t, err)
	defer r.RemoveRootSignature(sig)
	b, err := r.AddBuffer(metadata.BufferDesc{Size: 16, MemoryUsage: metadata.ResourceMemoryUsageCPUToGPU, Descriptors: metadata.DescriptorTypeUniformBuffer})
	require.NoError(t, err)
	require.NoError(t, r.RemoveBuffer(b))
	arr, err := r.AddDescriptorTableArray(sig, 0, 1)
	require.NoError(t, err)
	defer r.RemoveDescriptorTableArray(arr)

	assert.Panics(t, func() {
		_ = r.UpdateDescriptorTableArray(arr, []DescriptorData{
			{Type: metadata.DescriptorTypeUniformBuffer, Buffers: []*Buffer{b}},
		})
	})
}

func TestInvalidUpdatesAreSkipped(t *testing.T) {
	h := newHarness(t, core.HeapConfig{})
	sig := uniformSignature(t, h.r)
	good := colorBuffer(t, h.r, [4]float32{0, 1, 0, 1})
	defer h.r.RemoveBuffer(good)
	plain, err := h.r.AddBuffer(metadata.BufferDesc{Size: 64, MemoryUsage: metadata.ResourceMemoryUsageGPUOnly})
	require.NoError(t, err)
	defer h.r.RemoveBuffer(plain)

	arr, err := h.r.AddDescriptorTableArray(sig, 0, 2)
	require.NoError(t, err)
	defer h.r.RemoveDescriptorTableArray(arr)

	err = h.r.UpdateDescriptorTableArray(arr, []DescriptorData{
		{TableIndex: 5, Type: metadata.DescriptorTypeUniformBuffer, Buffers: []*Buffer{good}},
		{TableIndex: 0, Type: metadata.DescriptorTypeBuffer, Buffers: []*Buffer{good}},
		{TableIndex: 0, DescriptorIndex: 3, Type: metadata.DescriptorTypeUniformBuffer, Buffers: []*Buffer{good}},
		{TableIndex: 0, Type: metadata.DescriptorTypeUniformBuffer, Buffers: []*Buffer{plain}},
		{TableIndex: 0, Type: metadata.DescriptorTypeUniformBuffer},
		{TableIndex: 1, Type: metadata.DescriptorTypeUniformBuffer, Buffers: []*Buffer{good}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidUpdate))
	assert.Equal(t, int32(2), good.RefCount(), "the valid update is still applied")
}

func TestInlineUniformRange(t *testing.T) {
	h := newHarness(t, core.HeapConfig{})
	sig := uniformSignature(t, h.r)
	p := colorPipeline(t, h.r, sig)
	rt := h.renderTarget(t, 1, 1, metadata.FormatR8G8B8A8Unorm)

	b, err := h.r.AddBuffer(metadata.BufferDesc{
		Size:        512,
		MemoryUsage: metadata.ResourceMemoryUsageCPUToGPU,
		Descriptors: metadata.DescriptorTypeUniformBuffer,
	})
	require.NoError(t, err)
	defer h.r.RemoveBuffer(b)
	mem, err := b.Map()
	require.NoError(t, err)
	putFloats(mem, 1, 0, 0, 1)
	putFloats(mem[256:], 0, 0, 1, 1)

	arr, err := h.r.AddDescriptorTableArray(sig, 0, 1)
	require.NoError(t, err)
	defer h.r.RemoveDescriptorTableArray(arr)
	require.NoError(t, h.r.UpdateDescriptorTableArray(arr, []DescriptorData{{
		Type:    metadata.DescriptorTypeUniformBuffer,
		Buffers: []*Buffer{b},
		Offsets: []uint64{256},
		Sizes:   []uint64{16},
	}}))

	h.submit(t, func(cmd *Cmd) {
		require.NoError(t, cmd.BindRenderTargets([]RenderTargetBinding{{Texture: rt}}, nil, clearLoad()))
		require.NoError(t, cmd.BindPipeline(p))
		require.NoError(t, cmd.BindDescriptorTable(0, arr))
		cmd.Draw(3, 0)
	})
	assert.Equal(t, []byte{0, 0, 255, 255}, h.readback(t, rt))
}

func TestOverBudgetSignatureLeavesNothingBehind(t *testing.T) {
	h := newHarness(t, core.HeapConfig{})
	before := h.r.signatures.Len()

	table := metadata.DescriptorTableLayout{
		Slot:       0,
		StageFlags: metadata.ShaderStageFrag,
		Bindings:   []metadata.DescriptorBinding{{DescriptorType: metadata.DescriptorTypeTexture, DescriptorCount: 1}},
	}
	_, err := h.r.AddRootSignature(RootSignatureDesc{
		PipelineType:  metadata.PipelineTypeGraphics,
		Tables:        []metadata.DescriptorTableLayout{table},
		PushConstants: []metadata.PushConstantRange{{StageFlags: metadata.ShaderStageVert, Size: 256}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrSignatureBudget))
	assert.Equal(t, before, h.r.signatures.Len())
	assert.Equal(t, uint32(0), h.r.Heaps().GPUView().Used())
	assert.Equal(t, uint32(0), h.r.Heaps().GPUSampler().Used())
}

func TestTableArraySamplerFailureReturnsViewRange(t *testing.T) {
	heaps := core.DefaultConfig().Heaps
	heaps.GPUSampler = 32
	h := newHarness(t, heaps)

	sig, err := h.r.AddRootSignature(RootSignatureDesc{
		PipelineType: metadata.PipelineTypeGraphics,
		Tables: []metadata.DescriptorTableLayout{{
			Slot:       0,
			StageFlags: metadata.ShaderStageFrag,
			Bindings: []metadata.DescriptorBinding{
				{DescriptorType: metadata.DescriptorTypeTexture, Binding: 0},
				{DescriptorType: metadata.DescriptorTypeSampler, Binding: 1},
			},
		}},
	})
	require.NoError(t, err)
	defer h.r.RemoveRootSignature(sig)

	_, err = h.r.AddDescriptorTableArray(sig, 0, 64)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrHeapExhausted))
	assert.Equal(t, uint32(0), h.r.Heaps().GPUView().Used())
	assert.Equal(t, uint32(0), h.r.Heaps().GPUSampler().Used())

	arr, err := h.r.AddDescriptorTableArray(sig, 0, 32)
	require.NoError(t, err)
	assert.Equal(t, uint32(32), h.r.Heaps().GPUView().Used())
	require.NoError(t, h.r.RemoveDescriptorTableArray(arr))
}

func TestBufferRoundTrip(t *testing.T) {
	h := newHarness(t, core.HeapConfig{})
	const size = 32768

	upload, err := h.r.AddBuffer(metadata.BufferDesc{Size: size, MemoryUsage: metadata.ResourceMemoryUsageCPUOnly, Name: "upload"})
	require.NoError(t, err)
	defer h.r.RemoveBuffer(upload)
	gpu, err := h.r.AddBuffer(metadata.BufferDesc{Size: size, MemoryUsage: metadata.ResourceMemoryUsageGPUOnly, Name: "gpu"})
	require.NoError(t, err)
	defer h.r.RemoveBuffer(gpu)
	readback, err := h.r.AddBuffer(metadata.BufferDesc{Size: size, MemoryUsage: metadata.ResourceMemoryUsageGPUToCPU, Name: "readback"})
	require.NoError(t, err)
	defer h.r.RemoveBuffer(readback)

	_, err = gpu.Map()
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNotMappable))

	mem, err := upload.Map()
	require.NoError(t, err)
	for i := 0; i < size/4; i++ {
		binary.LittleEndian.PutUint32(mem[4*i:], uint32(i+1))
	}
	upload.Unmap()

	h.submit(t, func(cmd *Cmd) {
		require.NoError(t, cmd.CopyBuffer(gpu, 0, upload, 0, size/2))
		require.NoError(t, cmd.CopyBuffer(gpu, size/4, upload, size/4, size/2))
		require.NoError(t, cmd.CopyBuffer(gpu, size/2, upload, size/2, size/2))
		cmd.ResourceBarrier([]BufferBarrier{{Buffer: gpu, NewState: metadata.ResourceStateCopySource}}, nil)
		require.NoError(t, cmd.CopyBuffer(readback, 0, gpu, 0, size))
	})

	out, err := readback.Map()
	require.NoError(t, err)
	defer readback.Unmap()
	for i := 0; i < size/4; i++ {
		require.Equal(t, uint32(i+1), binary.LittleEndian.Uint32(out[4*i:]), "element %d", i)
	}
}

func TestSwizzledTextureSample(t *testing.T) {
	h := newHarness(t, core.HeapConfig{})
	texels := []byte{
		10, 20, 30, 40,
		50, 60, 70, 80,
		90, 100, 110, 120,
		130, 140, 150, 160,
	}
	tex, err := h.r.AddTexture(metadata.TextureDesc{
		Width:       4,
		Height:      1,
		Format:      metadata.FormatR8G8B8A8Unorm,
		Descriptors: metadata.DescriptorTypeTexture,
		ComponentMapping: [4]metadata.ComponentMapping{
			metadata.ComponentMappingB, metadata.ComponentMappingG, metadata.ComponentMappingR, metadata.ComponentMappingA,
		},
	})
	require.NoError(t, err)
	defer h.r.RemoveTexture(tex)

	upload, err := h.r.AddBuffer(metadata.BufferDesc{Size: uint64(len(texels)), MemoryUsage: metadata.ResourceMemoryUsageCPUOnly})
	require.NoError(t, err)
	defer h.r.RemoveBuffer(upload)
	mem, err := upload.Map()
	require.NoError(t, err)
	copy(mem, texels)

	point, err := h.r.AddSampler(metadata.SamplerDesc{
		MinFilter: metadata.FilterNearest,
		MagFilter: metadata.FilterNearest,
		AddressU:  metadata.AddressModeClampToEdge,
		AddressV:  metadata.AddressModeClampToEdge,
	})
	require.NoError(t, err)
	defer h.r.RemoveSampler(point)

	sig, err := h.r.AddRootSignature(RootSignatureDesc{
		PipelineType: metadata.PipelineTypeGraphics,
		Tables: []metadata.DescriptorTableLayout{{
			Slot:       0,
			StageFlags: metadata.ShaderStageFrag,
			Bindings: []metadata.DescriptorBinding{
				{DescriptorType: metadata.DescriptorTypeTexture, Binding: 0},
				{DescriptorType: metadata.DescriptorTypeSampler, Binding: 1},
			},
		}},
	})
	require.NoError(t, err)
	defer h.r.RemoveRootSignature(sig)

	passthrough := soft.FragmentFunc(func(ctx *soft.ShaderContext, in soft.FragmentInput) [4]float32 {
		return ctx.Sample(0, 0, 0, 1, (float32(in.X)+0.5)/4, 0.5)
	})
	p, err := h.r.AddPipeline(PipelineDesc{
		Type:         metadata.PipelineTypeGraphics,
		Signature:    sig,
		Shaders:      graphicsShaders(passthrough),
		ColorFormats: []metadata.Format{metadata.FormatR8G8B8A8Unorm},
		Topology:     metadata.PrimitiveTopoTriList,
	})
	require.NoError(t, err)
	defer h.r.RemovePipeline(p)

	arr, err := h.r.AddDescriptorTableArray(sig, 0, 1)
	require.NoError(t, err)
	defer h.r.RemoveDescriptorTableArray(arr)
	samplerIndex, ok := sig.DescriptorIndex(0, 1)
	require.True(t, ok)
	require.NoError(t, h.r.UpdateDescriptorTableArray(arr, []DescriptorData{
		{Type: metadata.DescriptorTypeTexture, Textures: []*Texture{tex}},
		{DescriptorIndex: samplerIndex, Type: metadata.DescriptorTypeSampler, Samplers: []*Sampler{point}},
	}))

	rt := h.renderTarget(t, 4, 1, metadata.FormatR8G8B8A8Unorm)
	h.submit(t, func(cmd *Cmd) {
		require.NoError(t, cmd.CopyBufferToTexture(tex, upload, metadata.SubresourceDesc{}))
		require.NoError(t, cmd.BindRenderTargets([]RenderTargetBinding{{Texture: rt}}, nil, clearLoad()))
		require.NoError(t, cmd.BindPipeline(p))
		require.NoError(t, cmd.BindDescriptorTable(0, arr))
		cmd.Draw(3, 0)
	})

	assert.Equal(t, []byte{
		30, 20, 10, 40,
		70, 60, 50, 80,
		110, 100, 90, 120,
		150, 140, 130, 160,
	}, h.readback(t, rt))
}

func TestOcclusionQuery(t *testing.T) {
	h := newHarness(t, core.HeapConfig{})
	const size = 16

	color := h.renderTarget(t, size, size, metadata.FormatR8G8B8A8Unorm)
	depth := h.renderTarget(t, size, size, metadata.FormatD32Sfloat)

	// Front triangle covers the lower left half, back triangle the whole target.
	vertices := []float32{
		-1, -1, 0.2, 1, -1, 0.2, -1, 1, 0.2,
		-1, -1, 0.8, 3, -1, 0.8, -1, 3, 0.8,
	}
	vb, err := h.r.AddBuffer(metadata.BufferDesc{
		Size:        uint64(len(vertices) * 4),
		MemoryUsage: metadata.ResourceMemoryUsageCPUToGPU,
		Descriptors: metadata.DescriptorTypeVertexBuffer,
	})
	require.NoError(t, err)
	defer h.r.RemoveBuffer(vb)
	mem, err := vb.Map()
	require.NoError(t, err)
	putFloats(mem, vertices...)

	sig, err := h.r.AddRootSignature(RootSignatureDesc{PipelineType: metadata.PipelineTypeGraphics})
	require.NoError(t, err)
	defer h.r.RemoveRootSignature(sig)

	position := soft.VertexFunc(func(ctx *soft.ShaderContext, _ soft.VertexInput) soft.VertexOutput {
		pos := ctx.Attribute(0)
		return soft.VertexOutput{Position: [4]float32{pos[0], pos[1], pos[2], 1}}
	})
	white := soft.FragmentFunc(func(*soft.ShaderContext, soft.FragmentInput) [4]float32 {
		return [4]float32{1, 1, 1, 1}
	})
	p, err := h.r.AddPipeline(PipelineDesc{
		Type:      metadata.PipelineTypeGraphics,
		Signature: sig,
		Shaders: []backend.ShaderDesc{
			{Stage: metadata.ShaderStageVert, Program: position},
			{Stage: metadata.ShaderStageFrag, Program: white},
		},
		VertexAttribs:      []metadata.VertexAttrib{{Format: metadata.FormatR32G32B32Sfloat, Location: 0}},
		Depth:              metadata.DepthStateDesc{DepthTestEnable: true, DepthWriteEnable: true, DepthCompare: metadata.CompareLess},
		ColorFormats:       []metadata.Format{metadata.FormatR8G8B8A8Unorm},
		DepthStencilFormat: metadata.FormatD32Sfloat,
		Topology:           metadata.PrimitiveTopoTriList,
	})
	require.NoError(t, err)
	defer h.r.RemovePipeline(p)

	queries, err := h.r.AddQueryPool(metadata.QueryPoolDesc{Type: metadata.QueryTypeOcclusion, Count: 2})
	require.NoError(t, err)
	defer h.r.RemoveQueryPool(queries)
	results, err := h.r.AddBuffer(metadata.BufferDesc{Size: 16, MemoryUsage: metadata.ResourceMemoryUsageGPUToCPU})
	require.NoError(t, err)
	defer h.r.RemoveBuffer(results)

	targets := []RenderTargetBinding{{Texture: color}}
	h.submit(t, func(cmd *Cmd) {
		cmd.ResetQueryPool(queries, 0, 2)
		require.NoError(t, cmd.BindRenderTargets(targets, &RenderTargetBinding{Texture: depth}, clearLoad()))
		require.NoError(t, cmd.BindPipeline(p))
		require.NoError(t, cmd.BindVertexBuffers([]*Buffer{vb}, []uint32{12}, nil))
		cmd.Draw(3, 0)
		cmd.BeginQuery(queries, 0)
		cmd.Draw(3, 3)
		cmd.EndQuery(queries, 0)

		require.NoError(t, cmd.BindRenderTargets(targets, &RenderTargetBinding{Texture: depth}, clearLoad()))
		cmd.BeginQuery(queries, 1)
		cmd.Draw(3, 3)
		cmd.EndQuery(queries, 1)
		require.NoError(t, cmd.ResolveQuery(queries, 0, 2, results, 0))
	})

	out, err := results.Map()
	require.NoError(t, err)
	occluded := binary.LittleEndian.Uint64(out[0:])
	unoccluded := binary.LittleEndian.Uint64(out[8:])
	assert.Equal(t, uint64(size*size), unoccluded)
	assert.Greater(t, occluded, uint64(0))
	assert.Less(t, occluded, unoccluded)
}

func TestCommandStateMachine(t *testing.T) {
	h := newHarness(t, core.HeapConfig{})
	cmd, err := h.pool.AddCmd(false)
	require.NoError(t, err)
	assert.Equal(t, COMMAND_BUFFER_STATE_READY, cmd.State)

	assert.Error(t, cmd.End())
	require.NoError(t, cmd.Begin())
	assert.Equal(t, COMMAND_BUFFER_STATE_RECORDING, cmd.State)
	assert.Error(t, cmd.Begin())
	require.NoError(t, cmd.End())
	assert.Equal(t, COMMAND_BUFFER_STATE_RECORDING_ENDED, cmd.State)

	require.NoError(t, h.queue.Submit([]*Cmd{cmd}, nil))
	assert.Equal(t, COMMAND_BUFFER_STATE_SUBMITTED, cmd.State)
	require.NoError(t, h.pool.Reset())
	assert.Equal(t, COMMAND_BUFFER_STATE_READY, cmd.State)

	list := cmd.native
	h.pool.RemoveCmd(cmd)
	assert.Equal(t, COMMAND_BUFFER_STATE_NOT_ALLOCATED, cmd.State)
	again, err := h.pool.AddCmd(false)
	require.NoError(t, err)
	assert.Same(t, list, again.native, "removed command lists are recycled")
	h.pool.RemoveCmd(again)
}

func TestCmdPoolRecycle(t *testing.T) {
	h := newHarness(t, core.HeapConfig{})
	a, err := h.pool.AddCmd(false)
	require.NoError(t, err)
	b, err := h.pool.AddCmd(false)
	require.NoError(t, err)
	require.NoError(t, a.Begin())
	require.NoError(t, a.End())

	require.NoError(t, h.pool.Recycle())
	assert.Equal(t, COMMAND_BUFFER_STATE_NOT_ALLOCATED, a.State)
	assert.Equal(t, COMMAND_BUFFER_STATE_NOT_ALLOCATED, b.State)
	assert.Empty(t, h.pool.live)

	c, err := h.pool.AddCmd(false)
	require.NoError(t, err)
	require.NoError(t, c.Begin())
	require.NoError(t, c.End())
	h.pool.RemoveCmd(c)
}

func pushColorSignature(t *testing.T, r *Renderer) *RootSignature {
	t.Helper()
	sig, err := r.AddRootSignature(RootSignatureDesc{
		PipelineType:  metadata.PipelineTypeGraphics,
		PushConstants: []metadata.PushConstantRange{{StageFlags: metadata.ShaderStageFrag, Size: 16}},
		Name:          "push-color",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.RemoveRootSignature(sig) })
	return sig
}

var pushColor = soft.FragmentFunc(func(ctx *soft.ShaderContext, _ soft.FragmentInput) [4]float32 {
	b := ctx.PushConstants()
	if len(b) < 16 {
		return [4]float32{}
	}
	return [4]float32{getFloat(b, 0), getFloat(b, 1), getFloat(b, 2), getFloat(b, 3)}
})

func floats(values ...float32) []byte {
	b := make([]byte, 4*len(values))
	putFloats(b, values...)
	return b
}

func TestBindPushConstants(t *testing.T) {
	h := newHarness(t, core.HeapConfig{})
	sig := pushColorSignature(t, h.r)
	p, err := h.r.AddPipeline(PipelineDesc{
		Type:         metadata.PipelineTypeGraphics,
		Signature:    sig,
		Shaders:      graphicsShaders(pushColor),
		ColorFormats: []metadata.Format{metadata.FormatR8G8B8A8Unorm},
		Topology:     metadata.PrimitiveTopoTriList,
	})
	require.NoError(t, err)
	defer h.r.RemovePipeline(p)
	rt := h.renderTarget(t, 2, 1, metadata.FormatR8G8B8A8Unorm)

	h.submit(t, func(cmd *Cmd) {
		require.NoError(t, cmd.BindRenderTargets([]RenderTargetBinding{{Texture: rt}}, nil, clearLoad()))
		require.NoError(t, cmd.BindPipeline(p))

		require.NoError(t, cmd.BindPushConstants(sig, metadata.ShaderStageFrag, 0, floats(1, 0, 0, 1)))
		cmd.SetViewport(0, 0, 1, 1, 0, 1)
		cmd.Draw(3, 0)

		// Only green and blue change; red and alpha keep their values.
		require.NoError(t, cmd.BindPushConstants(sig, metadata.ShaderStageFrag, 4, floats(0, 1)))
		require.NoError(t, cmd.BindPushConstants(sig, metadata.ShaderStageFrag, 4, floats(0, 1)))
		cmd.SetViewport(1, 0, 1, 1, 0, 1)
		cmd.Draw(3, 0)

		assert.Equal(t, 3, cmd.Stats().PushConstants, "identical pushes are not cached")
		assert.Equal(t, 3, cmd.native.(*soft.CommandList).Stats().PushConstants)
	})

	pixels := h.readback(t, rt)
	assert.Equal(t, []byte{255, 0, 0, 255, 255, 0, 255, 255}, pixels[0:8])
}

func TestBindPushConstantsRejects(t *testing.T) {
	h := newHarness(t, core.HeapConfig{})
	sig := pushColorSignature(t, h.r)
	other := pushColorSignature(t, h.r)
	p, err := h.r.AddPipeline(PipelineDesc{
		Type:         metadata.PipelineTypeGraphics,
		Signature:    sig,
		Shaders:      graphicsShaders(pushColor),
		ColorFormats: []metadata.Format{metadata.FormatR8G8B8A8Unorm},
		Topology:     metadata.PrimitiveTopoTriList,
	})
	require.NoError(t, err)
	defer h.r.RemovePipeline(p)

	h.submit(t, func(cmd *Cmd) {
		require.NoError(t, cmd.BindPipeline(p))

		err := cmd.BindPushConstants(sig, metadata.ShaderStageVert, 0, floats(1))
		assert.True(t, errors.Is(err, core.ErrInvalidArgument), "no range for the vertex stage")

		err = cmd.BindPushConstants(sig, metadata.ShaderStageFrag, 8, floats(1, 1, 1))
		assert.True(t, errors.Is(err, core.ErrInvalidArgument), "past the end of the range")

		err = cmd.BindPushConstants(sig, metadata.ShaderStageFrag, 2, floats(1))
		assert.True(t, errors.Is(err, core.ErrInvalidArgument), "unaligned offset")

		err = cmd.BindPushConstants(other, metadata.ShaderStageFrag, 0, floats(1))
		assert.True(t, errors.Is(err, core.ErrSignatureMismatch))

		err = cmd.BindPushConstants(nil, metadata.ShaderStageFrag, 0, floats(1))
		assert.True(t, errors.Is(err, core.ErrInvalidArgument))

		assert.Equal(t, 0, cmd.Stats().PushConstants)
	})
}
