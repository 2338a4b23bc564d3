package vulkan

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

// Allocation is a block of device memory bound to one buffer or image.
type Allocation struct {
	Memory      vk.DeviceMemory
	Offset      vk.DeviceSize
	Size        vk.DeviceSize
	HostVisible bool
}

// Allocator hands out device memory for resources.
type Allocator interface {
	Allocate(req vk.MemoryRequirements, usage metadata.ResourceMemoryUsage) (*Allocation, error)
	Free(a *Allocation)
	// Live is the number of allocations not yet freed.
	Live() int64
}

// DedicatedAllocator gives every resource its own vkAllocateMemory block.
type DedicatedAllocator struct {
	context *VulkanContext
	live    atomic.Int64
}

func NewDedicatedAllocator(context *VulkanContext) *DedicatedAllocator {
	return &DedicatedAllocator{context: context}
}

// memoryFlags lists property flag sets to try for a usage, best first.
func memoryFlags(usage metadata.ResourceMemoryUsage) []vk.MemoryPropertyFlags {
	const (
		local    = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
		visible  = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)
		coherent = vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit)
		cached   = vk.MemoryPropertyFlags(vk.MemoryPropertyHostCachedBit)
	)
	switch usage {
	case metadata.ResourceMemoryUsageCPUOnly:
		return []vk.MemoryPropertyFlags{visible | coherent}
	case metadata.ResourceMemoryUsageCPUToGPU:
		return []vk.MemoryPropertyFlags{local | visible | coherent, visible | coherent}
	case metadata.ResourceMemoryUsageGPUToCPU:
		return []vk.MemoryPropertyFlags{visible | coherent | cached, visible | coherent}
	}
	return []vk.MemoryPropertyFlags{local, 0}
}

func (a *DedicatedAllocator) Allocate(req vk.MemoryRequirements, usage metadata.ResourceMemoryUsage) (*Allocation, error) {
	var (
		index uint32
		err   error
	)
	for _, flags := range memoryFlags(usage) {
		if index, err = a.context.FindMemoryIndex(req.MemoryTypeBits, flags); err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: index,
	}
	var memory vk.DeviceMemory
	if err := a.context.locks.SafeCall(MemoryManagement, func() error {
		return check(vk.AllocateMemory(a.context.Device.LogicalDevice, &allocInfo, a.context.Allocator, &memory), "vkAllocateMemory")
	}); err != nil {
		return nil, err
	}
	a.live.Add(1)
	return &Allocation{Memory: memory, Size: req.Size, HostVisible: usage.HostVisible()}, nil
}

func (a *DedicatedAllocator) Free(alloc *Allocation) {
	if alloc == nil || alloc.Memory == nil {
		return
	}
	_ = a.context.locks.SafeCall(MemoryManagement, func() error {
		vk.FreeMemory(a.context.Device.LogicalDevice, alloc.Memory, a.context.Allocator)
		return nil
	})
	alloc.Memory = nil
	a.live.Add(-1)
}

func (a *DedicatedAllocator) Live() int64 {
	return a.live.Load()
}

type VulkanBuffer struct {
	Handle vk.Buffer
	Usage  vk.BufferUsageFlags
	alloc  *Allocation
	size   uint64
	mapped []byte

	mu    sync.Mutex
	views []*nativeView
}

// track records a texel view so destroying the buffer destroys it too.
func (b *VulkanBuffer) track(v *nativeView) *nativeView {
	b.mu.Lock()
	b.views = append(b.views, v)
	b.mu.Unlock()
	return v
}

func bufferUsage(desc *metadata.BufferDesc) vk.BufferUsageFlags {
	usage := vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit)
	d := desc.Descriptors
	if d.Has(metadata.DescriptorTypeUniformBuffer) {
		usage |= vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit)
	}
	if d.Has(metadata.DescriptorTypeBuffer) || d.Has(metadata.DescriptorTypeRWBuffer) || d.Has(metadata.DescriptorTypeStorageBufferDynamic) {
		usage |= vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	}
	if d.Has(metadata.DescriptorTypeVertexBuffer) {
		usage |= vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	}
	if d.Has(metadata.DescriptorTypeIndexBuffer) {
		usage |= vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit)
	}
	if d.Has(metadata.DescriptorTypeIndirectBuffer) {
		usage |= vk.BufferUsageFlags(vk.BufferUsageIndirectBufferBit)
	}
	if d.Has(metadata.DescriptorTypeTexelBuffer) {
		usage |= vk.BufferUsageFlags(vk.BufferUsageUniformTexelBufferBit)
	}
	if d.Has(metadata.DescriptorTypeRWTexelBuffer) {
		usage |= vk.BufferUsageFlags(vk.BufferUsageStorageTexelBufferBit)
	}
	return usage
}

func (d *Device) CreateBuffer(desc *metadata.BufferDesc, state metadata.ResourceState) (interface{}, error) {
	if desc.Size == 0 {
		return nil, errors.Wrap(core.ErrInvalidArgument, "zero sized buffer")
	}
	b := &VulkanBuffer{Usage: bufferUsage(desc), size: desc.Size}
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       b.Usage,
		SharingMode: vk.SharingModeExclusive,
	}
	if err := check(vk.CreateBuffer(d.device(), &bufferInfo, d.context.Allocator, &b.Handle), "vkCreateBuffer"); err != nil {
		return nil, err
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device(), b.Handle, &req)
	req.Deref()

	alloc, err := d.allocator.Allocate(req, desc.MemoryUsage)
	if err != nil {
		vk.DestroyBuffer(d.device(), b.Handle, d.context.Allocator)
		return nil, errors.Wrapf(err, "allocating %d bytes for buffer %q", req.Size, desc.Name)
	}
	b.alloc = alloc
	if err := check(vk.BindBufferMemory(d.device(), b.Handle, alloc.Memory, alloc.Offset), "vkBindBufferMemory"); err != nil {
		d.DestroyBuffer(b)
		return nil, err
	}
	return b, nil
}

func (d *Device) MapBuffer(buf interface{}) ([]byte, error) {
	b, ok := buf.(*VulkanBuffer)
	if !ok {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "not a vulkan buffer: %T", buf)
	}
	if !b.alloc.HostVisible {
		return nil, errors.Wrap(core.ErrNotMappable, d.nameOf(b))
	}
	if b.mapped != nil {
		return b.mapped, nil
	}
	var ptr unsafe.Pointer
	if err := check(vk.MapMemory(d.device(), b.alloc.Memory, b.alloc.Offset, vk.DeviceSize(b.size), 0, &ptr), "vkMapMemory"); err != nil {
		return nil, err
	}
	b.mapped = unsafe.Slice((*byte)(ptr), b.size)
	return b.mapped, nil
}

func (d *Device) UnmapBuffer(buf interface{}) {
	b, ok := buf.(*VulkanBuffer)
	if !ok || b.mapped == nil {
		return
	}
	vk.UnmapMemory(d.device(), b.alloc.Memory)
	b.mapped = nil
}

func (d *Device) DestroyBuffer(buf interface{}) {
	b, ok := buf.(*VulkanBuffer)
	if !ok || b.Handle == nil {
		return
	}
	d.UnmapBuffer(b)
	b.mu.Lock()
	for _, v := range b.views {
		d.releaseView(v)
	}
	b.views = nil
	b.mu.Unlock()
	vk.DestroyBuffer(d.device(), b.Handle, d.context.Allocator)
	b.Handle = nil
	d.allocator.Free(b.alloc)
	d.forget(b)
}
