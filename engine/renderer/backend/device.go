package backend

import (
	"context"

	"github.com/spaghettifunk/rei/engine/renderer/heap"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

// Device is implemented by every native backend. Native objects are opaque to
// the renderer and are handed back to the device that created them.
type Device interface {
	Name() string
	Properties() metadata.DeviceProperties

	// CreateDescriptorHeap matches heap.BackingFunc.
	CreateDescriptorHeap(desc heap.Desc) (heap.Backing, uint32, error)
	// WriteDescriptor creates a native view in a staging heap slot.
	WriteDescriptor(h *heap.Heap, index uint32, view View) error
	ClearDescriptor(h *heap.Heap, index uint32)

	CreateBuffer(desc *metadata.BufferDesc, state metadata.ResourceState) (interface{}, error)
	MapBuffer(buffer interface{}) ([]byte, error)
	UnmapBuffer(buffer interface{})
	DestroyBuffer(buffer interface{})

	CreateTexture(desc *metadata.TextureDesc) (interface{}, error)
	DestroyTexture(texture interface{})
	CreateSampler(desc *metadata.SamplerDesc) (interface{}, error)
	DestroySampler(sampler interface{})
	SetName(object interface{}, name string)

	CreateRootSignature(layout *SignatureLayout) (interface{}, error)
	DestroyRootSignature(signature interface{})
	CreatePipeline(desc *PipelineDesc, signature interface{}) (interface{}, error)
	DestroyPipeline(pipeline interface{})

	CreateTableArray(signature interface{}, layout *SignatureLayout, slot, maxTables uint32) (interface{}, error)
	UpdateTableArray(table *TableArray, writes []TableWrite) error
	DestroyTableArray(table interface{})

	CreateQueue(desc metadata.QueueDesc) (Queue, error)
	CreateCommandPool(queue Queue, transient bool) (CommandPool, error)
	CreateFence() (Fence, error)
	CreateQueryPool(desc metadata.QueryPoolDesc) (interface{}, error)
	DestroyQueryPool(pool interface{})

	WaitIdle() error
	Destroy()
}

type Queue interface {
	Submit(lists []CommandList, signal Fence) error
	WaitIdle() error
	// TimestampFrequency is in ticks per second.
	TimestampFrequency() float64
	Destroy()
}

type CommandPool interface {
	Reset() error
	Allocate(secondary bool) (CommandList, error)
	Free(list CommandList)
	Destroy()
}

type Fence interface {
	Status() metadata.FenceStatus
	// Wait blocks until the fence signals or ctx is done.
	Wait(ctx context.Context) error
	Destroy()
}
