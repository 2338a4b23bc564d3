package backend

import (
	"github.com/spaghettifunk/rei/engine/renderer/heap"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

// CommandList records native commands. Redundant state is filtered by the
// renderer before it reaches a CommandList.
type CommandList interface {
	Begin() error
	End() error

	SetDescriptorHeaps(view, sampler *heap.Heap)
	SetRootSignature(pipelineType metadata.PipelineType, signature interface{})
	BindPipeline(pipeline interface{})
	SetRootTable(bind TableBind)
	PushConstants(pipelineType metadata.PipelineType, signature interface{}, param RootParameter, offset uint32, data []byte)

	BindRenderTargets(colors []Attachment, depth *Attachment, load *metadata.LoadActionsDesc)
	SetViewport(x, y, width, height, minDepth, maxDepth float32)
	SetScissor(x, y, width, height uint32)
	BindVertexBuffers(buffers []interface{}, strides []uint32, offsets []uint64)
	BindIndexBuffer(buffer interface{}, indexType metadata.IndexType, offset uint64)
	Draw(vertexCount, firstVertex, instanceCount, firstInstance uint32)
	DrawIndexed(indexCount, firstIndex, instanceCount uint32, vertexOffset int32, firstInstance uint32)
	Dispatch(x, y, z uint32)

	CopyBuffer(dst interface{}, dstOffset uint64, src interface{}, srcOffset, size uint64)
	CopyBufferToTexture(dst interface{}, src interface{}, sub metadata.SubresourceDesc)
	CopyTextureToBuffer(dst interface{}, src interface{}, sub metadata.SubresourceDesc)
	ResourceBarrier(buffers []BufferBarrier, textures []TextureBarrier)

	ResetQueryPool(pool interface{}, start, count uint32)
	BeginQuery(pool interface{}, index uint32)
	EndQuery(pool interface{}, index uint32)
	ResolveQuery(pool interface{}, start, count uint32, dst interface{}, dstOffset uint64)

	BeginDebugMarker(r, g, b float32, name string)
	EndDebugMarker()
	AddDebugMarker(r, g, b float32, name string)
}
