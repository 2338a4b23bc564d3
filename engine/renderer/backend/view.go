package backend

import (
	"github.com/spaghettifunk/rei/engine/renderer/heap"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

type ViewKind int

const (
	ViewCBV ViewKind = iota
	ViewSRV
	ViewUAV
	ViewRTV
	ViewDSV
	ViewSampler
)

func (v ViewKind) String() string {
	switch v {
	case ViewCBV:
		return "cbv"
	case ViewSRV:
		return "srv"
	case ViewUAV:
		return "uav"
	case ViewRTV:
		return "rtv"
	case ViewDSV:
		return "dsv"
	}
	return "sampler"
}

// View describes a descriptor. Exactly one of Buffer, Texture or Sampler is set.
type View struct {
	Kind    ViewKind
	Buffer  interface{}
	Texture interface{}
	Sampler interface{}

	// Buffer views.
	Offset       uint64
	Size         uint64
	FirstElement uint64
	ElementCount uint64
	StructStride uint64
	Raw          bool
	Format       metadata.Format

	// Texture views.
	MipSlice   uint32
	ArraySlice uint32
	ArraySize  uint32
	Mapping    [4]metadata.ComponentMapping
}

// DescriptorInfo describes one descriptor of a table once arrays are unfolded.
type DescriptorInfo struct {
	Type     metadata.DescriptorType
	Sampler  bool
	Binding  uint32
	Register uint32
	// FirstArrayElement is the unfolded index of element 0 of the binding.
	FirstArrayElement uint32
	ArraySize         uint32
	// Offset of element 0 inside the view or sampler part of the table.
	Offset uint32
}

// TableArray is what a device needs to update a descriptor table array.
type TableArray struct {
	Native        interface{}
	Slot          uint32
	MaxTables     uint32
	ViewHeap      *heap.Heap
	SamplerHeap   *heap.Heap
	ViewBase      uint32
	SamplerBase   uint32
	ViewStride    uint32
	SamplerStride uint32
}

// TableWrite copies one descriptor into one table of an array.
type TableWrite struct {
	TableIndex   uint32
	Descriptor   DescriptorInfo
	ArrayElement uint32
	// Dst is the absolute slot in the shader visible heap.
	Dst uint32
	// Src is the staging heap slot holding the view. When SrcHeap is nil,
	// Inline describes a view to create directly in the destination.
	SrcHeap *heap.Heap
	Src     uint32
	Inline  *View
}

// TableBind carries everything any backend needs to bind one table.
type TableBind struct {
	PipelineType     metadata.PipelineType
	Signature        interface{}
	Slot             uint32
	ViewRootIndex    uint32
	SamplerRootIndex uint32
	// Zero when the table has no descriptors of that kind.
	ViewHandle    uint64
	SamplerHandle uint64
	ViewIndex     uint32
	SamplerIndex  uint32
	Table         interface{}
	TableIndex    uint32
}

// Attachment is a render target or depth target binding.
type Attachment struct {
	Texture interface{}
	Heap    *heap.Heap
	Index   uint32
	Mip     uint32
	Slice   uint32
}

type BufferBarrier struct {
	Buffer     interface{}
	StartState metadata.ResourceState
	EndState   metadata.ResourceState
}

type TextureBarrier struct {
	Texture    interface{}
	StartState metadata.ResourceState
	EndState   metadata.ResourceState
}
