package backend

import "github.com/spaghettifunk/rei/engine/renderer/metadata"

type RootParameterType int

const (
	RootParameterTable RootParameterType = iota
	RootParameterConstants
)

type RootParameter struct {
	Type       RootParameterType
	Slot       uint32
	Sampler    bool
	StageFlags metadata.ShaderStage
	// Constants only.
	Num32BitValues uint32
	Register       uint32
	Offset         uint32
	// Range indexes SignatureLayout.PushConstants.
	Range int
}

// SlotLayout is the compiled form of one descriptor table slot.
type SlotLayout struct {
	Used             bool
	StageFlags       metadata.ShaderStage
	Bindings         []metadata.DescriptorBinding
	Descriptors      []DescriptorInfo
	ViewCount        uint32
	SamplerCount     uint32
	ViewRootIndex    uint32
	SamplerRootIndex uint32
}

// Lookup finds the first descriptor of binding.
func (s *SlotLayout) Lookup(binding uint32) (DescriptorInfo, bool) {
	for _, d := range s.Descriptors {
		if d.Binding == binding {
			return d, true
		}
	}
	return DescriptorInfo{}, false
}

type StaticSampler struct {
	Binding  uint32
	Register uint32
	Samplers []interface{}
}

// SignatureLayout is the backend independent result of compiling a root
// signature description.
type SignatureLayout struct {
	PipelineType          metadata.PipelineType
	Slots                 [metadata.DescriptorTableSlotCount]SlotLayout
	Parameters            []RootParameter
	PushConstants         []metadata.PushConstantRange
	PushConstantRootIndex [metadata.ShaderStageCount]uint32
	StaticSamplerSlot     uint32
	StaticSamplerStages   metadata.ShaderStage
	StaticSamplers        []StaticSampler
	MaxUsedSlots          uint32
	DWORDs                uint32
}

// PushConstantRange returns the range registered for stage.
func (l *SignatureLayout) PushConstantRange(stage metadata.ShaderStage) (metadata.PushConstantRange, uint32, bool) {
	idx := stage.Index()
	if stage == metadata.ShaderStageComp || l.PipelineType == metadata.PipelineTypeCompute {
		idx = metadata.ShaderStageCount - 1
	}
	if idx < 0 {
		return metadata.PushConstantRange{}, 0, false
	}
	root := l.PushConstantRootIndex[idx]
	if root == metadata.InvalidIndex {
		return metadata.PushConstantRange{}, 0, false
	}
	return l.PushConstants[l.Parameters[root].Range], root, true
}

type ShaderDesc struct {
	Stage      metadata.ShaderStage
	Code       []byte
	EntryPoint string
	// Program is a backend specific compiled form, used by backends without a
	// bytecode format.
	Program interface{}
}

type PipelineDesc struct {
	Type               metadata.PipelineType
	Layout             *SignatureLayout
	Shaders            []ShaderDesc
	VertexAttribs      []metadata.VertexAttrib
	Rasterizer         metadata.RasterizerStateDesc
	Depth              metadata.DepthStateDesc
	Blend              metadata.BlendStateDesc
	ColorFormats       []metadata.Format
	DepthStencilFormat metadata.Format
	SampleCount        metadata.SampleCount
	Topology           metadata.PrimitiveTopology
	PatchControlPoints uint32
	NumThreadsPerGroup [3]uint32
}
