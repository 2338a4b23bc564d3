package metadata

/**
 * @brief Describes a buffer to create.
 */
type BufferDesc struct {
	/** @brief Size in bytes. */
	Size        uint64
	MemoryUsage ResourceMemoryUsage
	Flags       BufferCreationFlags
	/** @brief Initial state. Derived from the memory usage when undefined. */
	StartState   ResourceState
	IndexType    IndexType
	VertexStride uint32
	/** @brief First element visible to SRV/UAV views. */
	FirstElement uint64
	/** @brief Number of elements visible to SRV/UAV views. Derived from Size when zero. */
	ElementCount uint64
	/** @brief Element size for structured views. Zero means raw or typed. */
	StructStride uint64
	/** @brief Format of typed views. */
	Format Format
	/** @brief Requested descriptor views (uniform, buffer, rw buffer...). */
	Descriptors DescriptorType
	Name        string
}

/**
 * @brief Describes a texture to create.
 */
type TextureDesc struct {
	Flags       TextureCreationFlags
	Width       uint32
	Height      uint32
	Depth       uint32
	ArraySize   uint32
	MipLevels   uint32
	SampleCount SampleCount
	Format      Format
	ClearValue  ClearValue
	/** @brief Requested views (texture, rw texture, render target...). */
	Descriptors DescriptorType
	/** @brief A native image to wrap. The texture then never frees it. */
	Native      interface{}
	Name        string
	HostVisible bool
	/** @brief Channel swizzle applied by shader resource views. */
	ComponentMapping [4]ComponentMapping
}

/**
 * @brief Describes a sampler to create.
 */
type SamplerDesc struct {
	MinFilter     FilterType
	MagFilter     FilterType
	MipmapMode    MipmapMode
	AddressU      AddressMode
	AddressV      AddressMode
	AddressW      AddressMode
	CompareFunc   CompareMode
	MipLodBias    float32
	MaxAnisotropy float32
}

/** @brief A binding inside a descriptor table. */
type DescriptorBinding struct {
	DescriptorType  DescriptorType
	Binding         uint32
	Register        uint32
	DescriptorCount uint32
}

/** @brief The contents of one descriptor table slot. */
type DescriptorTableLayout struct {
	Slot       DescriptorTableSlot
	StageFlags ShaderStage
	Bindings   []DescriptorBinding
}

/** @brief A push constant range. Size and offset are in bytes. */
type PushConstantRange struct {
	Slot       uint32
	StageFlags ShaderStage
	Offset     uint32
	Size       uint32
	Register   uint32
}

type QueueDesc struct {
	Priority QueuePriority
	Type     CmdPoolType
}

type QueryPoolDesc struct {
	Type  QueryType
	Count uint32
}

type Region3D struct {
	X, Y, Z uint32
	W, H, D uint32
}

/** @brief Locates texel data inside a buffer for buffer/texture copies. */
type SubresourceDesc struct {
	BufferOffset uint64
	RowPitch     uint32
	SlicePitch   uint32
	ArrayLayer   uint32
	MipLevel     uint32
	Region       Region3D
}

type ClearValue struct {
	R, G, B, A float32
	Depth      float32
	Stencil    uint32
}

type LoadActionsDesc struct {
	ClearColorValues  [MaxRenderTargetAttachments]ClearValue
	LoadActionsColor  [MaxRenderTargetAttachments]LoadActionType
	ClearDepth        ClearValue
	LoadActionDepth   LoadActionType
	LoadActionStencil LoadActionType
}

type RasterizerStateDesc struct {
	CullMode                CullMode
	FrontFace               FrontFace
	Wireframe               bool
	MultiSample             bool
	Scissor                 bool
	DepthBiasConstantFactor float32
	DepthBiasSlopeFactor    float32
}

type DepthStateDesc struct {
	DepthTestEnable  bool
	DepthWriteEnable bool
	DepthCompare     CompareMode
}

type BlendStateDesc struct {
	Enable bool
	// WriteMask uses bit 0..3 for R, G, B, A. Zero writes all channels.
	WriteMask uint8
}

type VertexAttrib struct {
	Format   Format
	Binding  uint32
	Location uint32
	Offset   uint32
	Instance bool
}

type DeviceCapabilities struct {
	UniformBufferAlignment          uint64
	UploadBufferTextureAlignment    uint64
	UploadBufferTextureRowAlignment uint64
	MaxVertexInputBindings          uint32
	MaxRootSignatureDWORDs          uint32
	MaxBoundDescriptorSets          uint32
	TimestampPeriod                 float64
}

type DeviceProperties struct {
	VendorID     string
	ModelID      string
	DeviceName   string
	Capabilities DeviceCapabilities
}

// DefaultCapabilities is what a device reports when it imposes no stricter limits.
func DefaultCapabilities() DeviceCapabilities {
	return DeviceCapabilities{
		UniformBufferAlignment:          UniformBufferAlignment,
		UploadBufferTextureAlignment:    UploadTextureAlignment,
		UploadBufferTextureRowAlignment: UploadTextureRowAlign,
		MaxVertexInputBindings:          MaxVertexBindings,
		MaxRootSignatureDWORDs:          MaxRootSignatureDWORDs,
		MaxBoundDescriptorSets:          DescriptorTableSlotCount,
		TimestampPeriod:                 1,
	}
}
