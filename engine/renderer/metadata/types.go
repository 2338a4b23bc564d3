package metadata

/** @brief Descriptor kinds. Bit flags so a resource can request several views at once. */
type DescriptorType uint32

const (
	DescriptorTypeUndefined DescriptorType = 0
	DescriptorTypeSampler   DescriptorType = 0x01
	/** @brief Read only texture (SRV). */
	DescriptorTypeTexture DescriptorType = DescriptorTypeSampler << 1
	/** @brief Read write texture (UAV). */
	DescriptorTypeRWTexture DescriptorType = DescriptorTypeTexture << 1
	/** @brief Read only buffer (SRV). */
	DescriptorTypeBuffer    DescriptorType = DescriptorTypeRWTexture << 1
	DescriptorTypeBufferRaw DescriptorType = DescriptorTypeBuffer | (DescriptorTypeBuffer << 1)
	/** @brief Read write buffer (UAV). */
	DescriptorTypeRWBuffer    DescriptorType = DescriptorTypeBuffer << 2
	DescriptorTypeRWBufferRaw DescriptorType = DescriptorTypeRWBuffer | (DescriptorTypeRWBuffer << 1)
	/** @brief Uniform buffer (CBV). */
	DescriptorTypeUniformBuffer        DescriptorType = DescriptorTypeRWBuffer << 2
	DescriptorTypeUniformBufferDynamic DescriptorType = DescriptorTypeUniformBuffer | (DescriptorTypeUniformBuffer << 1)
	DescriptorTypeStorageBufferDynamic DescriptorType = DescriptorTypeUniformBuffer << 2
	DescriptorTypeVertexBuffer         DescriptorType = DescriptorTypeStorageBufferDynamic << 1
	DescriptorTypeIndexBuffer          DescriptorType = DescriptorTypeVertexBuffer << 1
	DescriptorTypeIndirectBuffer       DescriptorType = DescriptorTypeIndexBuffer << 1
	/** @brief Push constant / root constant. */
	DescriptorTypeRootConstant DescriptorType = DescriptorTypeIndirectBuffer << 1
	/** @brief Cubemap SRV. */
	DescriptorTypeTextureCube DescriptorType = DescriptorTypeTexture | (DescriptorTypeRootConstant << 1)
	/** @brief Render target view per mip. */
	DescriptorTypeRenderTarget DescriptorType = DescriptorTypeRootConstant << 2
	/** @brief RTV / DSV per array slice. */
	DescriptorTypeRenderTargetArraySlices DescriptorType = DescriptorTypeRenderTarget << 1
	/** @brief RTV / DSV per depth slice. */
	DescriptorTypeRenderTargetDepthSlices DescriptorType = DescriptorTypeRenderTargetArraySlices << 1
	DescriptorTypeCopyDst                 DescriptorType = DescriptorTypeRenderTargetDepthSlices << 1
	DescriptorTypeCopySrc                 DescriptorType = DescriptorTypeCopyDst << 1
	DescriptorTypeInputAttachment         DescriptorType = DescriptorTypeCopySrc << 1
	DescriptorTypeTexelBuffer             DescriptorType = DescriptorTypeInputAttachment << 1
	DescriptorTypeRWTexelBuffer           DescriptorType = DescriptorTypeTexelBuffer << 1
)

// Has reports whether every bit of flag is set.
func (d DescriptorType) Has(flag DescriptorType) bool {
	return d&flag == flag
}

// IsSampler reports whether the descriptor lives in a sampler heap.
func (d DescriptorType) IsSampler() bool {
	return d == DescriptorTypeSampler
}

func (d DescriptorType) String() string {
	switch d {
	case DescriptorTypeUndefined:
		return "undefined"
	case DescriptorTypeSampler:
		return "sampler"
	case DescriptorTypeTexture:
		return "texture"
	case DescriptorTypeRWTexture:
		return "rw_texture"
	case DescriptorTypeBuffer:
		return "buffer"
	case DescriptorTypeBufferRaw:
		return "buffer_raw"
	case DescriptorTypeRWBuffer:
		return "rw_buffer"
	case DescriptorTypeRWBufferRaw:
		return "rw_buffer_raw"
	case DescriptorTypeUniformBuffer:
		return "uniform_buffer"
	case DescriptorTypeUniformBufferDynamic:
		return "uniform_buffer_dynamic"
	case DescriptorTypeTextureCube:
		return "texture_cube"
	case DescriptorTypeTexelBuffer:
		return "texel_buffer"
	case DescriptorTypeRWTexelBuffer:
		return "rw_texel_buffer"
	case DescriptorTypeRootConstant:
		return "root_constant"
	}
	return "combined"
}

// ParseDescriptorType maps the names used in layout files.
func ParseDescriptorType(name string) (DescriptorType, bool) {
	switch name {
	case "sampler":
		return DescriptorTypeSampler, true
	case "texture":
		return DescriptorTypeTexture, true
	case "rw_texture":
		return DescriptorTypeRWTexture, true
	case "buffer":
		return DescriptorTypeBuffer, true
	case "buffer_raw":
		return DescriptorTypeBufferRaw, true
	case "rw_buffer":
		return DescriptorTypeRWBuffer, true
	case "rw_buffer_raw":
		return DescriptorTypeRWBufferRaw, true
	case "uniform_buffer":
		return DescriptorTypeUniformBuffer, true
	case "uniform_buffer_dynamic":
		return DescriptorTypeUniformBufferDynamic, true
	case "texture_cube":
		return DescriptorTypeTextureCube, true
	case "texel_buffer":
		return DescriptorTypeTexelBuffer, true
	case "rw_texel_buffer":
		return DescriptorTypeRWTexelBuffer, true
	}
	return DescriptorTypeUndefined, false
}

/** @brief Where a resource's memory lives. */
type ResourceMemoryUsage int

const (
	ResourceMemoryUsageUnknown ResourceMemoryUsage = iota
	/** @brief Device only, never mapped. */
	ResourceMemoryUsageGPUOnly
	/** @brief Host visible staging memory. */
	ResourceMemoryUsageCPUOnly
	/** @brief Frequent host writes, device reads. */
	ResourceMemoryUsageCPUToGPU
	/** @brief Device writes, host readback. */
	ResourceMemoryUsageGPUToCPU
)

// HostVisible reports whether memory of this usage may be mapped.
func (m ResourceMemoryUsage) HostVisible() bool {
	return m == ResourceMemoryUsageCPUOnly || m == ResourceMemoryUsageCPUToGPU || m == ResourceMemoryUsageGPUToCPU
}

type ResourceState uint32

const (
	ResourceStateUndefined                 ResourceState = 0
	ResourceStateVertexAndConstantBuffer   ResourceState = 0x1
	ResourceStateIndexBuffer               ResourceState = 0x2
	ResourceStateRenderTarget              ResourceState = 0x4
	ResourceStateUnorderedAccess           ResourceState = 0x8
	ResourceStateDepthWrite                ResourceState = 0x10
	ResourceStateDepthRead                 ResourceState = 0x20
	ResourceStateNonPixelShaderResource    ResourceState = 0x40
	ResourceStatePixelShaderResource       ResourceState = 0x80
	ResourceStateShaderResource            ResourceState = 0x40 | 0x80
	ResourceStateStreamOut                 ResourceState = 0x100
	ResourceStateIndirectArgument          ResourceState = 0x200
	ResourceStateCopyDest                  ResourceState = 0x400
	ResourceStateCopySource                ResourceState = 0x800
	ResourceStateResolveDest               ResourceState = 0x1000
	ResourceStateResolveSource             ResourceState = 0x2000
	ResourceStateGenericRead               ResourceState = ResourceStateVertexAndConstantBuffer | ResourceStateIndexBuffer | ResourceStateShaderResource | ResourceStateIndirectArgument | ResourceStateCopySource
	ResourceStatePresent                   ResourceState = 0x4000
	ResourceStateCommon                    ResourceState = 0x8000
)

/** @brief Shader stage bits. */
type ShaderStage uint32

const (
	ShaderStageNone ShaderStage = 0
	ShaderStageVert ShaderStage = 0x01
	ShaderStageTesc ShaderStage = 0x02
	ShaderStageTese ShaderStage = 0x04
	ShaderStageGeom ShaderStage = 0x08
	ShaderStageFrag ShaderStage = 0x10
	ShaderStageComp ShaderStage = 0x20

	ShaderStageAllGraphics = ShaderStageVert | ShaderStageTesc | ShaderStageTese | ShaderStageGeom | ShaderStageFrag
	ShaderStageCount       = 6
)

// Index returns the bit position of the lowest set stage, or -1.
func (s ShaderStage) Index() int {
	for i := 0; i < ShaderStageCount; i++ {
		if s&(1<<uint(i)) != 0 {
			return i
		}
	}
	return -1
}

func ParseShaderStages(names []string) (ShaderStage, bool) {
	var out ShaderStage
	for _, n := range names {
		switch n {
		case "vert", "vertex":
			out |= ShaderStageVert
		case "tesc":
			out |= ShaderStageTesc
		case "tese":
			out |= ShaderStageTese
		case "geom":
			out |= ShaderStageGeom
		case "frag", "fragment", "pixel":
			out |= ShaderStageFrag
		case "comp", "compute":
			out |= ShaderStageComp
		case "all_graphics":
			out |= ShaderStageAllGraphics
		default:
			return 0, false
		}
	}
	return out, true
}

type PipelineType int

const (
	PipelineTypeUndefined PipelineType = iota
	PipelineTypeCompute
	PipelineTypeGraphics
)

type QueryType int

const (
	QueryTypeTimestamp QueryType = iota
	QueryTypePipelineStatistics
	QueryTypeOcclusion
	QueryTypeBinaryOcclusion
)

type FenceStatus int

const (
	FenceStatusComplete FenceStatus = iota
	FenceStatusIncomplete
	FenceStatusNotSubmitted
)

func (f FenceStatus) String() string {
	switch f {
	case FenceStatusComplete:
		return "complete"
	case FenceStatusIncomplete:
		return "incomplete"
	}
	return "not_submitted"
}

type CmdPoolType int

const (
	CmdPoolDirect CmdPoolType = iota
	CmdPoolBundle
	CmdPoolCopy
	CmdPoolCompute
)

type QueuePriority int

const (
	QueuePriorityNormal QueuePriority = iota
	QueuePriorityHigh
	QueuePriorityGlobalRealtime
)

type FilterType int

const (
	FilterNearest FilterType = iota
	FilterLinear
)

type AddressMode int

const (
	AddressModeMirror AddressMode = iota
	AddressModeRepeat
	AddressModeClampToEdge
	AddressModeClampToBorder
)

type MipmapMode int

const (
	MipmapModeNearest MipmapMode = iota
	MipmapModeLinear
)

type CompareMode int

const (
	CompareNever CompareMode = iota
	CompareLess
	CompareEqual
	CompareLEqual
	CompareGreater
	CompareNotEqual
	CompareGEqual
	CompareAlways
)

// Test evaluates a op b.
func (c CompareMode) Test(a, b float32) bool {
	switch c {
	case CompareNever:
		return false
	case CompareLess:
		return a < b
	case CompareEqual:
		return a == b
	case CompareLEqual:
		return a <= b
	case CompareGreater:
		return a > b
	case CompareNotEqual:
		return a != b
	case CompareGEqual:
		return a >= b
	}
	return true
}

/** @brief Per channel swizzle. Values match the Vulkan component swizzle enum. */
type ComponentMapping uint8

const (
	ComponentMappingDefault ComponentMapping = iota
	ComponentMappingZero
	ComponentMappingOne
	ComponentMappingR
	ComponentMappingG
	ComponentMappingB
	ComponentMappingA
)

type IndexType int

const (
	IndexTypeUint32 IndexType = iota
	IndexTypeUint16
)

func (i IndexType) Size() uint64 {
	if i == IndexTypeUint16 {
		return 2
	}
	return 4
}

type PrimitiveTopology int

const (
	PrimitiveTopoPointList PrimitiveTopology = iota
	PrimitiveTopoLineList
	PrimitiveTopoLineStrip
	PrimitiveTopoTriList
	PrimitiveTopoTriStrip
	PrimitiveTopoPatchList
)

type CullMode int

const (
	CullModeNone CullMode = iota
	CullModeBack
	CullModeFront
	CullModeBoth
)

type FrontFace int

const (
	FrontFaceCCW FrontFace = iota
	FrontFaceCW
)

type LoadActionType int

const (
	LoadActionDontCare LoadActionType = iota
	LoadActionLoad
	LoadActionClear
)

type BufferCreationFlags uint32

const (
	BufferCreationFlagNone BufferCreationFlags = 0x01
	/** @brief The buffer allocates its own memory. */
	BufferCreationFlagOwnMemory BufferCreationFlags = 0x02
	/** @brief The buffer stays mapped for its whole lifetime. */
	BufferCreationFlagPersistentMap BufferCreationFlags = 0x04
	BufferCreationFlagESRAM         BufferCreationFlags = 0x08
	/** @brief Skip descriptor view creation. */
	BufferCreationFlagNoDescriptorViewCreation BufferCreationFlags = 0x10
)

type TextureCreationFlags uint32

const (
	TextureCreationFlagNone      TextureCreationFlags = 0
	TextureCreationFlagOwnMemory TextureCreationFlags = 0x01
	TextureCreationFlagExport    TextureCreationFlags = 0x02
	TextureCreationFlagImport    TextureCreationFlags = 0x08
	TextureCreationFlagForce2D   TextureCreationFlags = 0x80
	TextureCreationFlagForce3D   TextureCreationFlags = 0x100
)

type SampleCount uint32

const (
	SampleCount1  SampleCount = 1
	SampleCount2  SampleCount = 2
	SampleCount4  SampleCount = 4
	SampleCount8  SampleCount = 8
	SampleCount16 SampleCount = 16
)

/** @brief Descriptor heap kinds. */
type HeapKind int

const (
	HeapKindCbvSrvUav HeapKind = iota
	HeapKindSampler
	HeapKindRTV
	HeapKindDSV
	HeapKindCount
)

func (h HeapKind) String() string {
	switch h {
	case HeapKindCbvSrvUav:
		return "cbv_srv_uav"
	case HeapKindSampler:
		return "sampler"
	case HeapKindRTV:
		return "rtv"
	case HeapKindDSV:
		return "dsv"
	}
	return "unknown"
}
