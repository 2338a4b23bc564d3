package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

func TestDescriptorTypeMapping(t *testing.T) {
	tests := []struct {
		in   metadata.DescriptorType
		want vk.DescriptorType
	}{
		{metadata.DescriptorTypeSampler, vk.DescriptorTypeSampler},
		{metadata.DescriptorTypeTexture, vk.DescriptorTypeSampledImage},
		{metadata.DescriptorTypeTextureCube, vk.DescriptorTypeSampledImage},
		{metadata.DescriptorTypeRWTexture, vk.DescriptorTypeStorageImage},
		{metadata.DescriptorTypeBufferRaw, vk.DescriptorTypeStorageBuffer},
		{metadata.DescriptorTypeRWBuffer, vk.DescriptorTypeStorageBuffer},
		{metadata.DescriptorTypeUniformBuffer, vk.DescriptorTypeUniformBuffer},
		{metadata.DescriptorTypeUniformBufferDynamic, vk.DescriptorTypeUniformBufferDynamic},
		{metadata.DescriptorTypeTexelBuffer, vk.DescriptorTypeUniformTexelBuffer},
		{metadata.DescriptorTypeRWTexelBuffer, vk.DescriptorTypeStorageTexelBuffer},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			got, ok := vkDescriptorType(tt.in)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := vkDescriptorType(metadata.DescriptorTypeVertexBuffer)
	assert.False(t, ok)
}

func TestAcceptsView(t *testing.T) {
	buf := &VulkanBuffer{}
	img := &VulkanImage{}
	assert.True(t, acceptsView(metadata.DescriptorTypeUniformBuffer, &backend.View{Kind: backend.ViewCBV, Buffer: buf}))
	assert.True(t, acceptsView(metadata.DescriptorTypeTexture, &backend.View{Kind: backend.ViewSRV, Texture: img}))
	assert.True(t, acceptsView(metadata.DescriptorTypeRWBuffer, &backend.View{Kind: backend.ViewUAV, Buffer: buf}))

	assert.False(t, acceptsView(metadata.DescriptorTypeTexture, &backend.View{Kind: backend.ViewSRV, Buffer: buf}))
	assert.False(t, acceptsView(metadata.DescriptorTypeSampler, &backend.View{Kind: backend.ViewSRV, Texture: img}))
	assert.False(t, acceptsView(metadata.DescriptorTypeRWTexture, &backend.View{Kind: backend.ViewSRV, Texture: img}))
}

func TestBufferRange(t *testing.T) {
	offset, size := bufferRange(&backend.View{Kind: backend.ViewCBV, Size: 256})
	assert.EqualValues(t, 0, offset)
	assert.EqualValues(t, 256, size)

	offset, size = bufferRange(&backend.View{Kind: backend.ViewSRV, Size: 1024, FirstElement: 4, ElementCount: 8, StructStride: 16})
	assert.EqualValues(t, 64, offset)
	assert.EqualValues(t, 128, size)

	offset, size = bufferRange(&backend.View{Kind: backend.ViewUAV, Size: 1024, FirstElement: 2, ElementCount: 10, Raw: true})
	assert.EqualValues(t, 8, offset)
	assert.EqualValues(t, 40, size)

	// Typed views use the texel size.
	offset, size = bufferRange(&backend.View{Kind: backend.ViewSRV, Size: 64, ElementCount: 4, Format: metadata.FormatR32G32Sfloat})
	assert.EqualValues(t, 0, offset)
	assert.EqualValues(t, 32, size)

	// A window past the end is clamped.
	_, size = bufferRange(&backend.View{Kind: backend.ViewSRV, Size: 64, FirstElement: 8, ElementCount: 100, Raw: true})
	assert.EqualValues(t, 32, size)
}

func TestStateLayout(t *testing.T) {
	assert.Equal(t, vk.ImageLayoutGeneral, stateLayout(metadata.ResourceStateUnorderedAccess))
	assert.Equal(t, vk.ImageLayoutColorAttachmentOptimal, stateLayout(metadata.ResourceStateRenderTarget))
	assert.Equal(t, vk.ImageLayoutDepthStencilAttachmentOptimal, stateLayout(metadata.ResourceStateDepthWrite))
	assert.Equal(t, vk.ImageLayoutTransferDstOptimal, stateLayout(metadata.ResourceStateCopyDest))
	assert.Equal(t, vk.ImageLayoutTransferSrcOptimal, stateLayout(metadata.ResourceStateCopySource))
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, stateLayout(metadata.ResourceStateShaderResource))
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, stateLayout(metadata.ResourceStatePixelShaderResource))
	assert.Equal(t, vk.ImageLayoutGeneral, stateLayout(metadata.ResourceStateCommon))
}

func TestStateAccess(t *testing.T) {
	access, stages := stateAccess(metadata.ResourceStateCopyDest)
	assert.Equal(t, vk.AccessFlags(vk.AccessTransferWriteBit), access)
	assert.Equal(t, transferStage, stages)

	access, stages = stateAccess(metadata.ResourceStateUndefined)
	assert.Zero(t, access)
	assert.Zero(t, stages)

	access, _ = stateAccess(metadata.ResourceStateIndexBuffer | metadata.ResourceStateShaderResource)
	assert.NotZero(t, access&vk.AccessFlags(vk.AccessIndexReadBit))
	assert.NotZero(t, access&vk.AccessFlags(vk.AccessShaderReadBit))
}

func TestLoadOp(t *testing.T) {
	assert.Equal(t, vk.AttachmentLoadOpLoad, loadOp(metadata.LoadActionLoad))
	assert.Equal(t, vk.AttachmentLoadOpClear, loadOp(metadata.LoadActionClear))
	assert.Equal(t, vk.AttachmentLoadOpDontCare, loadOp(metadata.LoadActionDontCare))
}

func TestMemoryFlags(t *testing.T) {
	gpu := memoryFlags(metadata.ResourceMemoryUsageGPUOnly)
	require.NotEmpty(t, gpu)
	assert.Equal(t, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit), gpu[0])

	for _, usage := range []metadata.ResourceMemoryUsage{
		metadata.ResourceMemoryUsageCPUOnly,
		metadata.ResourceMemoryUsageCPUToGPU,
		metadata.ResourceMemoryUsageGPUToCPU,
	} {
		for _, flags := range memoryFlags(usage) {
			assert.NotZero(t, flags&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit), "usage %d", usage)
		}
	}
}

func TestVkFormatUsesDetectedDepthStencil(t *testing.T) {
	d := &Device{context: &VulkanContext{Device: &VulkanDevice{DepthStencilFormat: vk.FormatD32SfloatS8Uint}}}
	assert.Equal(t, vk.FormatD32SfloatS8Uint, d.vkFormat(metadata.FormatD24UnormS8Uint))
	assert.Equal(t, vk.FormatR8g8b8a8Unorm, d.vkFormat(metadata.FormatR8G8B8A8Unorm))
	assert.Equal(t, vk.FormatD32Sfloat, d.vkFormat(metadata.FormatD32Sfloat))
}

func TestBufferImageCopy(t *testing.T) {
	img := &VulkanImage{
		Width: 64, Height: 32, Depth: 1, MipLevels: 3, ArrayLayers: 2,
		format: metadata.FormatR8G8B8A8Unorm,
		aspect: vk.ImageAspectFlags(vk.ImageAspectColorBit),
	}
	region := bufferImageCopy(img, &metadata.SubresourceDesc{BufferOffset: 512, MipLevel: 1, ArrayLayer: 1, RowPitch: 256})
	assert.EqualValues(t, 512, region.BufferOffset)
	assert.EqualValues(t, 64, region.BufferRowLength)
	assert.EqualValues(t, 0, region.BufferImageHeight)
	assert.Equal(t, uint32(1), region.ImageSubresource.MipLevel)
	assert.Equal(t, uint32(1), region.ImageSubresource.BaseArrayLayer)
	assert.Equal(t, vk.Extent3D{Width: 32, Height: 16, Depth: 1}, region.ImageExtent)

	depth := &VulkanImage{
		Width: 8, Height: 8, Depth: 1, MipLevels: 1, ArrayLayers: 1,
		format: metadata.FormatD24UnormS8Uint,
		aspect: vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit),
	}
	region = bufferImageCopy(depth, &metadata.SubresourceDesc{Region: metadata.Region3D{X: 2, Y: 2, W: 4, H: 4}})
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), region.ImageSubresource.AspectMask)
	assert.Equal(t, vk.Offset3D{X: 2, Y: 2}, region.ImageOffset)
	assert.Equal(t, vk.Extent3D{Width: 4, Height: 4, Depth: 1}, region.ImageExtent)
}

func TestVertexBindings(t *testing.T) {
	d := &Device{context: &VulkanContext{Device: &VulkanDevice{}}}
	bindings, attributes := d.vertexBindings([]metadata.VertexAttrib{
		{Format: metadata.FormatR32G32B32Sfloat, Binding: 0, Location: 0, Offset: 0},
		{Format: metadata.FormatR32G32Sfloat, Binding: 0, Location: 1, Offset: 12},
		{Format: metadata.FormatR32G32B32A32Sfloat, Binding: 1, Location: 2, Offset: 0, Instance: true},
	})
	require.Len(t, bindings, 2)
	require.Len(t, attributes, 3)
	assert.EqualValues(t, 20, bindings[0].Stride)
	assert.Equal(t, vk.VertexInputRateVertex, bindings[0].InputRate)
	assert.EqualValues(t, 16, bindings[1].Stride)
	assert.Equal(t, vk.VertexInputRateInstance, bindings[1].InputRate)
}

func TestStageFlags(t *testing.T) {
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageComputeBit), stageFlags(metadata.ShaderStageNone, metadata.PipelineTypeCompute))
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageAllGraphics), stageFlags(metadata.ShaderStageNone, metadata.PipelineTypeGraphics))
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageVertexBit|vk.ShaderStageFragmentBit),
		stageFlags(metadata.ShaderStageVert|metadata.ShaderStageFrag, metadata.PipelineTypeGraphics))
}

func TestCheck(t *testing.T) {
	assert.NoError(t, check(vk.Success, "vkTest"))
	assert.NoError(t, check(vk.Incomplete, "vkTest"))
	err := check(vk.ErrorOutOfDeviceMemory, "vkAllocateMemory")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNative)
	assert.Contains(t, err.Error(), "vkAllocateMemory")
}

func TestVulkanSafeStrings(t *testing.T) {
	in := []string{"VK_KHR_a", "VK_KHR_b\x00", ""}
	out := VulkanSafeStrings(in)
	assert.Equal(t, []string{"VK_KHR_a\x00", "VK_KHR_b\x00", "\x00"}, out)
	assert.Equal(t, "VK_KHR_a", in[0])
}

func TestShaderViewType(t *testing.T) {
	assert.Equal(t, vk.ImageViewType2d, (&VulkanImage{}).shaderViewType(1, false))
	assert.Equal(t, vk.ImageViewType2dArray, (&VulkanImage{}).shaderViewType(4, false))
	assert.Equal(t, vk.ImageViewTypeCube, (&VulkanImage{cube: true}).shaderViewType(6, false))
	assert.Equal(t, vk.ImageViewTypeCubeArray, (&VulkanImage{cube: true}).shaderViewType(12, false))
	assert.Equal(t, vk.ImageViewType2dArray, (&VulkanImage{cube: true}).shaderViewType(6, true))
	assert.Equal(t, vk.ImageViewType3d, (&VulkanImage{is3D: true}).shaderViewType(1, false))
}

func TestLockPoolSerializesGroups(t *testing.T) {
	pool := NewVulkanLockPool()
	counter := 0
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			_ = pool.SafeCall(MemoryManagement, func() error {
				counter++
				return nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Equal(t, 8, counter)
	assert.Same(t, pool.queueLock(0, 1), pool.queueLock(0, 1))
	assert.NotSame(t, pool.queueLock(0, 1), pool.queueLock(0, 2))
}
