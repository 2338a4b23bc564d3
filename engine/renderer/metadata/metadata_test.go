package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint64(256), AlignUp(uint64(1), UniformBufferAlignment))
	assert.Equal(t, uint64(256), AlignUp(uint64(256), UniformBufferAlignment))
	assert.Equal(t, uint32(64), AlignUp(uint32(33), 32))
	assert.Equal(t, 7, AlignUp(7, 0))
}

func TestSubresourceIndex(t *testing.T) {
	assert.Equal(t, uint32(0), SubresourceIndex(0, 0, 0, 4, 6))
	assert.Equal(t, uint32(2+3*4), SubresourceIndex(2, 3, 0, 4, 6))
	assert.Equal(t, uint32(1+0*4+1*4*6), SubresourceIndex(1, 0, 1, 4, 6))
	assert.Equal(t, uint32(1), MipExtent(4, 5))
	assert.Equal(t, uint32(2), MipExtent(8, 2))
}

func TestDescriptorTypeBits(t *testing.T) {
	assert.True(t, DescriptorTypeBufferRaw.Has(DescriptorTypeBuffer))
	assert.True(t, DescriptorTypeRWBufferRaw.Has(DescriptorTypeRWBuffer))
	assert.False(t, DescriptorTypeBuffer.Has(DescriptorTypeBufferRaw))
	assert.Equal(t, DescriptorType(128), DescriptorTypeUniformBuffer)

	dt, ok := ParseDescriptorType("rw_buffer_raw")
	assert.True(t, ok)
	assert.Equal(t, DescriptorTypeRWBufferRaw, dt)
	_, ok = ParseDescriptorType("nope")
	assert.False(t, ok)
}

func TestShaderStages(t *testing.T) {
	s, ok := ParseShaderStages([]string{"vert", "frag"})
	assert.True(t, ok)
	assert.Equal(t, ShaderStageVert|ShaderStageFrag, s)
	assert.Equal(t, 0, s.Index())
	assert.Equal(t, 5, ShaderStageComp.Index())
	assert.Equal(t, -1, ShaderStageNone.Index())
}

func TestFormats(t *testing.T) {
	assert.Equal(t, uint32(4), FormatR8G8B8A8Unorm.BytesPerPixel())
	assert.Equal(t, 4, FormatB8G8R8A8Unorm.Channels())
	assert.True(t, FormatD24UnormS8Uint.HasStencil())
	assert.True(t, FormatD32Sfloat.IsDepth())
	assert.False(t, FormatR32Uint.IsDepth())
	assert.True(t, ResourceMemoryUsageGPUToCPU.HostVisible())
	assert.False(t, ResourceMemoryUsageGPUOnly.HostVisible())
}
