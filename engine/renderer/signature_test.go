package renderer

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

func binding(t metadata.DescriptorType, b, count uint32) metadata.DescriptorBinding {
	return metadata.DescriptorBinding{DescriptorType: t, Binding: b, Register: b, DescriptorCount: count}
}

func TestBuildSignatureLayout(t *testing.T) {
	desc := &RootSignatureDesc{
		PipelineType: metadata.PipelineTypeGraphics,
		Tables: []metadata.DescriptorTableLayout{
			{
				Slot:       2,
				StageFlags: metadata.ShaderStageFrag,
				Bindings: []metadata.DescriptorBinding{
					binding(metadata.DescriptorTypeUniformBuffer, 0, 1),
					binding(metadata.DescriptorTypeSampler, 1, 2),
					binding(metadata.DescriptorTypeTexture, 2, 4),
				},
			},
			{
				Slot:       0,
				StageFlags: metadata.ShaderStageVert,
				Bindings:   []metadata.DescriptorBinding{binding(metadata.DescriptorTypeBuffer, 0, 0)},
			},
		},
		PushConstants: []metadata.PushConstantRange{
			{StageFlags: metadata.ShaderStageVert | metadata.ShaderStageFrag, Size: 16},
		},
	}
	layout, err := BuildSignatureLayout(desc, metadata.DefaultCapabilities())
	require.NoError(t, err)

	s := layout.Slots[2]
	assert.True(t, s.Used)
	assert.Equal(t, uint32(5), s.ViewCount)
	assert.Equal(t, uint32(2), s.SamplerCount)
	require.Len(t, s.Descriptors, 3)
	assert.Equal(t, backend.DescriptorInfo{
		Type: metadata.DescriptorTypeTexture, Binding: 2, Register: 2, FirstArrayElement: 3, ArraySize: 4, Offset: 1,
	}, s.Descriptors[2])
	assert.Equal(t, uint32(0), s.Descriptors[1].Offset)
	assert.True(t, s.Descriptors[1].Sampler)
	assert.Equal(t, uint32(0), s.ViewRootIndex)
	assert.Equal(t, uint32(1), s.SamplerRootIndex)

	assert.Equal(t, uint32(1), layout.Slots[0].ViewCount, "a zero count is one descriptor")
	assert.Equal(t, uint32(2), layout.Slots[0].ViewRootIndex)
	assert.Equal(t, metadata.InvalidIndex, layout.Slots[0].SamplerRootIndex)
	assert.False(t, layout.Slots[1].Used)
	assert.Equal(t, uint32(3), layout.MaxUsedSlots)

	require.Len(t, layout.Parameters, 4)
	assert.Equal(t, backend.RootParameterConstants, layout.Parameters[3].Type)
	assert.Equal(t, uint32(4), layout.Parameters[3].Num32BitValues)
	assert.Equal(t, uint32(3+4), layout.DWORDs)

	_, root, ok := layout.PushConstantRange(metadata.ShaderStageFrag)
	require.True(t, ok)
	assert.Equal(t, uint32(3), root)
	_, _, ok = layout.PushConstantRange(metadata.ShaderStageGeom)
	assert.False(t, ok)
}

func TestBuildComputeSignaturePushConstants(t *testing.T) {
	layout, err := BuildSignatureLayout(&RootSignatureDesc{
		PipelineType:  metadata.PipelineTypeCompute,
		PushConstants: []metadata.PushConstantRange{{StageFlags: metadata.ShaderStageComp, Size: 8}},
	}, metadata.DefaultCapabilities())
	require.NoError(t, err)
	assert.Equal(t, uint32(0), layout.PushConstantRootIndex[metadata.ShaderStageCount-1])
	_, root, ok := layout.PushConstantRange(metadata.ShaderStageComp)
	require.True(t, ok)
	assert.Equal(t, uint32(0), root)
}

func TestBuildSignatureLayoutRejects(t *testing.T) {
	caps := metadata.DefaultCapabilities()
	tex := []metadata.DescriptorBinding{binding(metadata.DescriptorTypeTexture, 0, 1)}

	nine := make([]metadata.DescriptorTableLayout, 9)
	for i := range nine {
		nine[i] = metadata.DescriptorTableLayout{Slot: metadata.DescriptorTableSlot(i % 8), Bindings: tex}
	}

	tests := []struct {
		name string
		desc RootSignatureDesc
		want error
	}{
		{"undefined pipeline type", RootSignatureDesc{}, core.ErrInvalidSignature},
		{"too many tables", RootSignatureDesc{PipelineType: metadata.PipelineTypeGraphics, Tables: nine}, core.ErrSignatureBudget},
		{"slot out of range", RootSignatureDesc{
			PipelineType: metadata.PipelineTypeGraphics,
			Tables:       []metadata.DescriptorTableLayout{{Slot: 8, Bindings: tex}},
		}, core.ErrInvalidSignature},
		{"duplicate slot", RootSignatureDesc{
			PipelineType: metadata.PipelineTypeGraphics,
			Tables:       []metadata.DescriptorTableLayout{{Slot: 1, Bindings: tex}, {Slot: 1, Bindings: tex}},
		}, core.ErrInvalidSignature},
		{"table too large", RootSignatureDesc{
			PipelineType: metadata.PipelineTypeGraphics,
			Tables: []metadata.DescriptorTableLayout{{Bindings: []metadata.DescriptorBinding{
				binding(metadata.DescriptorTypeTexture, 0, 20),
				binding(metadata.DescriptorTypeBuffer, 1, 13),
			}}},
		}, core.ErrSignatureBudget},
		{"root constant binding", RootSignatureDesc{
			PipelineType: metadata.PipelineTypeGraphics,
			Tables:       []metadata.DescriptorTableLayout{{Bindings: []metadata.DescriptorBinding{binding(metadata.DescriptorTypeRootConstant, 0, 1)}}},
		}, core.ErrInvalidSignature},
		{"push constant size", RootSignatureDesc{
			PipelineType:  metadata.PipelineTypeGraphics,
			PushConstants: []metadata.PushConstantRange{{StageFlags: metadata.ShaderStageVert, Size: 6}},
		}, core.ErrInvalidSignature},
		{"stage in two ranges", RootSignatureDesc{
			PipelineType: metadata.PipelineTypeGraphics,
			PushConstants: []metadata.PushConstantRange{
				{StageFlags: metadata.ShaderStageVert, Size: 4},
				{StageFlags: metadata.ShaderStageVert | metadata.ShaderStageFrag, Size: 4},
			},
		}, core.ErrDuplicateStage},
		{"over budget", RootSignatureDesc{
			PipelineType:  metadata.PipelineTypeGraphics,
			Tables:        []metadata.DescriptorTableLayout{{Bindings: tex}},
			PushConstants: []metadata.PushConstantRange{{StageFlags: metadata.ShaderStageVert, Size: 256}},
		}, core.ErrSignatureBudget},
		{"static sampler slot taken", RootSignatureDesc{
			PipelineType:      metadata.PipelineTypeGraphics,
			Tables:            []metadata.DescriptorTableLayout{{Slot: 3, Bindings: tex}},
			StaticSamplerSlot: 3,
			StaticSamplers:    []StaticSamplerBinding{{Samplers: []*Sampler{{native: struct{}{}}}}},
		}, core.ErrInvalidSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildSignatureLayout(&tt.desc, caps)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestStaticSamplersAreRetained(t *testing.T) {
	h := newHarness(t, core.HeapConfig{})
	s, err := h.r.AddSampler(metadata.SamplerDesc{MagFilter: metadata.FilterLinear})
	require.NoError(t, err)

	sig, err := h.r.AddRootSignature(RootSignatureDesc{
		PipelineType:        metadata.PipelineTypeGraphics,
		StaticSamplerSlot:   7,
		StaticSamplerStages: metadata.ShaderStageFrag,
		StaticSamplers:      []StaticSamplerBinding{{Binding: 0, Samplers: []*Sampler{s}}},
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(8), sig.Layout().MaxUsedSlots)
	require.Len(t, sig.Layout().StaticSamplers, 1)

	require.NoError(t, h.r.RemoveSampler(s))
	assert.Equal(t, int32(1), s.RefCount())
	require.NoError(t, h.r.RemoveRootSignature(sig))
	assert.Nil(t, s.Native())
}
