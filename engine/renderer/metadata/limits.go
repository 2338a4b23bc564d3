package metadata

const (
	/** @brief Number of descriptor table slots a root signature exposes. */
	DescriptorTableSlotCount uint32 = 8
	/** @brief Maximum number of descriptors of one kind in a single table. */
	MaxResourceTableSize uint32 = 32
	/** @brief Root signature cost limit, in 32 bit values. */
	MaxRootSignatureDWORDs uint32 = 64
	MaxRenderTargetAttachments    = 8
	MaxVertexBindings             = 15
	MaxShaderStageCount           = 5
	/** @brief Default constant buffer placement alignment. */
	UniformBufferAlignment uint64 = 256
	/** @brief Buffer sizes are multiples of this. */
	ResourceBufferAlignment uint64 = 4
	UploadTextureAlignment  uint64 = 16
	UploadTextureRowAlign   uint64 = 1
	/** @brief Descriptor heaps are managed in words of this many slots. */
	DescriptorHeapWordBits = 32
)

// DescriptorTableSlot selects one of the DescriptorTableSlotCount binding sets.
type DescriptorTableSlot uint32

// InvalidIndex marks an unused root parameter index.
const InvalidIndex = ^uint32(0)
