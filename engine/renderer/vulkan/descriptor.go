package vulkan

import (
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/heap"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

// descriptorSize is the stride reported for every heap kind. Vulkan has no
// descriptor heaps: slots live in host memory and are copied into descriptor
// sets by UpdateTableArray.
const descriptorSize = 64

// nativeView is an image or texel buffer view created for a descriptor. The
// resource it was created from destroys it at the latest.
type nativeView struct {
	image  vk.ImageView
	buffer vk.BufferView
}

func (d *Device) releaseView(v *nativeView) {
	if v == nil {
		return
	}
	if v.image != nil {
		vk.DestroyImageView(d.device(), v.image, d.context.Allocator)
		v.image = nil
	}
	if v.buffer != nil {
		vk.DestroyBufferView(d.device(), v.buffer, d.context.Allocator)
		v.buffer = nil
	}
}

// VulkanDescriptor is the content of one heap slot.
type VulkanDescriptor struct {
	View   backend.View
	Buffer vk.DescriptorBufferInfo
	Image  vk.DescriptorImageInfo
	native *nativeView
	// owned descriptors release native when overwritten.
	owned bool
	valid bool
}

func (v *VulkanDescriptor) texelView() vk.BufferView {
	if v.native == nil {
		return nil
	}
	return v.native.buffer
}

type descriptorHeap struct {
	d     *Device
	desc  heap.Desc
	cpu   uint64
	gpu   uint64
	mu    sync.Mutex
	slots []VulkanDescriptor
}

func (h *descriptorHeap) CPUStart() uint64 {
	return h.cpu
}

func (h *descriptorHeap) GPUStart() uint64 {
	return h.gpu
}

func (h *descriptorHeap) Destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.slots {
		h.clear(uint32(i))
	}
	h.slots = nil
}

func (h *descriptorHeap) clear(index uint32) {
	s := &h.slots[index]
	if s.owned {
		h.d.releaseView(s.native)
	}
	*s = VulkanDescriptor{}
}

func (h *descriptorHeap) get(index uint32) (VulkanDescriptor, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(index) >= len(h.slots) || !h.slots[index].valid {
		return VulkanDescriptor{}, false
	}
	return h.slots[index], true
}

func (h *descriptorHeap) set(index uint32, v VulkanDescriptor) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(index) >= len(h.slots) {
		return errors.Wrapf(core.ErrInvalidArgument, "slot %d outside %s heap of %d", index, h.desc.Kind, len(h.slots))
	}
	h.clear(index)
	v.valid = true
	h.slots[index] = v
	return nil
}

func (d *Device) CreateDescriptorHeap(desc heap.Desc) (heap.Backing, uint32, error) {
	size := uint64(desc.Capacity) * descriptorSize
	h := &descriptorHeap{
		d:     d,
		desc:  desc,
		cpu:   d.address.Add(size) - size,
		slots: make([]VulkanDescriptor, desc.Capacity),
	}
	if desc.ShaderVisible {
		h.gpu = h.cpu | 1<<48
	}
	return h, descriptorSize, nil
}

func backingOf(h *heap.Heap) (*descriptorHeap, error) {
	if h == nil {
		return nil, errors.Wrap(core.ErrInvalidArgument, "nil heap")
	}
	dh, ok := h.Backing().(*descriptorHeap)
	if !ok {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "%s heap is not backed by the vulkan device", h.Kind())
	}
	return dh, nil
}

func (d *Device) WriteDescriptor(h *heap.Heap, index uint32, view backend.View) error {
	dh, err := backingOf(h)
	if err != nil {
		return err
	}
	desc, err := d.buildDescriptor(view)
	if err != nil {
		return err
	}
	if err := dh.set(index, desc); err != nil {
		d.releaseView(desc.native)
		return err
	}
	return nil
}

func (d *Device) ClearDescriptor(h *heap.Heap, index uint32) {
	dh, err := backingOf(h)
	if err != nil {
		return
	}
	dh.mu.Lock()
	if int(index) < len(dh.slots) {
		dh.clear(index)
	}
	dh.mu.Unlock()
}

// bufferRange returns the byte window a buffer view covers.
func bufferRange(v *backend.View) (vk.DeviceSize, vk.DeviceSize) {
	if v.Kind == backend.ViewCBV {
		return 0, vk.DeviceSize(v.Size)
	}
	stride := v.StructStride
	switch {
	case v.Raw:
		stride = 4
	case stride == 0 && v.Format.BytesPerPixel() > 0:
		stride = uint64(v.Format.BytesPerPixel())
	case stride == 0:
		stride = 1
	}
	offset := v.FirstElement * stride
	size := v.ElementCount * stride
	if size == 0 || offset+size > v.Size {
		size = v.Size - offset
	}
	return vk.DeviceSize(offset), vk.DeviceSize(size)
}

// buildDescriptor creates the native objects a view needs.
func (d *Device) buildDescriptor(v backend.View) (VulkanDescriptor, error) {
	out := VulkanDescriptor{View: v, owned: true}
	switch v.Kind {
	case backend.ViewCBV, backend.ViewSRV, backend.ViewUAV:
		if v.Texture != nil {
			return d.buildTextureDescriptor(out)
		}
		buf, ok := v.Buffer.(*VulkanBuffer)
		if !ok {
			return out, errors.Wrapf(core.ErrInvalidArgument, "%s view without a vulkan buffer: %T", v.Kind, v.Buffer)
		}
		offset, size := bufferRange(&v)
		out.Buffer = vk.DescriptorBufferInfo{Buffer: buf.Handle, Offset: offset, Range: size}

		texel := vk.BufferUsageFlags(vk.BufferUsageUniformTexelBufferBit | vk.BufferUsageStorageTexelBufferBit)
		if v.Kind != backend.ViewCBV && !v.Raw && v.StructStride == 0 && v.Format != metadata.FormatUndefined && buf.Usage&texel != 0 {
			viewInfo := vk.BufferViewCreateInfo{
				SType:  vk.StructureTypeBufferViewCreateInfo,
				Buffer: buf.Handle,
				Format: d.vkFormat(v.Format),
				Offset: offset,
				Range:  size,
			}
			var bv vk.BufferView
			if err := check(vk.CreateBufferView(d.device(), &viewInfo, d.context.Allocator, &bv), "vkCreateBufferView"); err != nil {
				return out, err
			}
			out.native = buf.track(&nativeView{buffer: bv})
		}
		return out, nil
	case backend.ViewRTV, backend.ViewDSV:
		return d.buildTextureDescriptor(out)
	case backend.ViewSampler:
		s, ok := v.Sampler.(*VulkanSampler)
		if !ok {
			return out, errors.Wrapf(core.ErrInvalidArgument, "sampler view without a vulkan sampler: %T", v.Sampler)
		}
		out.Image.Sampler = s.Handle
		return out, nil
	}
	return out, errors.Wrapf(core.ErrInvalidArgument, "unknown view kind %d", v.Kind)
}

func (d *Device) buildTextureDescriptor(out VulkanDescriptor) (VulkanDescriptor, error) {
	v := out.View
	img, ok := v.Texture.(*VulkanImage)
	if !ok {
		return out, errors.Wrapf(core.ErrInvalidArgument, "%s view without a vulkan texture: %T", v.Kind, v.Texture)
	}
	// Slices of a 3D image are addressed as layers of a 2D array view.
	total := img.ArrayLayers
	if img.is3D {
		total = img.Depth
	}
	layers := v.ArraySize
	if layers == 0 || v.ArraySlice+layers > total {
		layers = total - v.ArraySlice
	}
	desc := ImageViewDesc{
		Aspect:    img.aspect,
		BaseMip:   v.MipSlice,
		MipCount:  1,
		BaseLayer: v.ArraySlice,
		Layers:    layers,
	}
	switch v.Kind {
	case backend.ViewSRV:
		desc.ViewType = img.shaderViewType(layers, false)
		desc.MipCount = img.MipLevels - v.MipSlice
		desc.Mapping = v.Mapping
		// Depth stencil images are sampled through their depth aspect.
		if img.format.IsDepth() {
			desc.Aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
		}
		out.Image.ImageLayout = vk.ImageLayoutShaderReadOnlyOptimal
	case backend.ViewUAV:
		desc.ViewType = img.shaderViewType(layers, true)
		out.Image.ImageLayout = vk.ImageLayoutGeneral
	case backend.ViewRTV, backend.ViewDSV:
		desc.ViewType = vk.ImageViewType2d
		if layers > 1 {
			desc.ViewType = vk.ImageViewType2dArray
		}
		out.Image.ImageLayout = vk.ImageLayoutColorAttachmentOptimal
		if v.Kind == backend.ViewDSV {
			out.Image.ImageLayout = vk.ImageLayoutDepthStencilAttachmentOptimal
		}
	default:
		return out, errors.Wrapf(core.ErrInvalidArgument, "%s view of a texture", v.Kind)
	}
	if desc.ViewType == vk.ImageViewType3d {
		desc.BaseLayer, desc.Layers = 0, 1
	}
	view, err := d.createImageView(img, desc)
	if err != nil {
		return out, err
	}
	out.Image.ImageView = view
	out.native = img.track(&nativeView{image: view})
	return out, nil
}

// vkDescriptorType maps a table binding type to a Vulkan descriptor type.
func vkDescriptorType(t metadata.DescriptorType) (vk.DescriptorType, bool) {
	switch t {
	case metadata.DescriptorTypeSampler:
		return vk.DescriptorTypeSampler, true
	case metadata.DescriptorTypeTexture, metadata.DescriptorTypeTextureCube:
		return vk.DescriptorTypeSampledImage, true
	case metadata.DescriptorTypeRWTexture:
		return vk.DescriptorTypeStorageImage, true
	case metadata.DescriptorTypeBuffer, metadata.DescriptorTypeBufferRaw,
		metadata.DescriptorTypeRWBuffer, metadata.DescriptorTypeRWBufferRaw:
		return vk.DescriptorTypeStorageBuffer, true
	case metadata.DescriptorTypeUniformBuffer:
		return vk.DescriptorTypeUniformBuffer, true
	case metadata.DescriptorTypeUniformBufferDynamic:
		return vk.DescriptorTypeUniformBufferDynamic, true
	case metadata.DescriptorTypeStorageBufferDynamic:
		return vk.DescriptorTypeStorageBufferDynamic, true
	case metadata.DescriptorTypeTexelBuffer:
		return vk.DescriptorTypeUniformTexelBuffer, true
	case metadata.DescriptorTypeRWTexelBuffer:
		return vk.DescriptorTypeStorageTexelBuffer, true
	case metadata.DescriptorTypeInputAttachment:
		return vk.DescriptorTypeInputAttachment, true
	}
	return vk.DescriptorTypeSampler, false
}

// acceptsView reports whether a descriptor of type t can hold view.
func acceptsView(t metadata.DescriptorType, v *backend.View) bool {
	switch t {
	case metadata.DescriptorTypeSampler:
		return v.Kind == backend.ViewSampler
	case metadata.DescriptorTypeTexture, metadata.DescriptorTypeTextureCube, metadata.DescriptorTypeInputAttachment:
		return v.Kind == backend.ViewSRV && v.Texture != nil
	case metadata.DescriptorTypeRWTexture:
		return v.Kind == backend.ViewUAV && v.Texture != nil
	case metadata.DescriptorTypeUniformBuffer, metadata.DescriptorTypeUniformBufferDynamic:
		return v.Kind == backend.ViewCBV
	case metadata.DescriptorTypeTexelBuffer:
		return v.Kind == backend.ViewSRV && v.Buffer != nil
	case metadata.DescriptorTypeRWTexelBuffer:
		return v.Kind == backend.ViewUAV && v.Buffer != nil
	}
	return (v.Kind == backend.ViewSRV || v.Kind == backend.ViewUAV) && v.Buffer != nil
}

// VulkanTableArray is maxTables descriptor sets of one signature slot.
type VulkanTableArray struct {
	sig  *VulkanSignature
	slot uint32
	pool vk.DescriptorPool
	Sets []vk.DescriptorSet
}

func (d *Device) CreateTableArray(sig interface{}, layout *backend.SignatureLayout, slot, maxTables uint32) (interface{}, error) {
	vs, ok := sig.(*VulkanSignature)
	if !ok {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "not a vulkan root signature: %T", sig)
	}
	if slot >= uint32(len(vs.setLayouts)) {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "slot %d is not used by the signature", slot)
	}

	counts := make(map[vk.DescriptorType]uint32)
	var total uint32
	for _, b := range layout.Slots[slot].Bindings {
		t, _ := vkDescriptorType(b.DescriptorType)
		n := b.DescriptorCount
		if n == 0 {
			n = 1
		}
		counts[t] += n * maxTables
		total += n * maxTables
	}
	if slot == layout.StaticSamplerSlot {
		for _, s := range layout.StaticSamplers {
			counts[vk.DescriptorTypeSampler] += uint32(len(s.Samplers)) * maxTables
			total += uint32(len(s.Samplers)) * maxTables
		}
	}
	if total > d.cfg.MaxDescriptors {
		return nil, errors.Wrapf(core.ErrPoolExhausted, "%d descriptors for %d tables exceed the pool limit of %d", total, maxTables, d.cfg.MaxDescriptors)
	}
	sizes := make([]vk.DescriptorPoolSize, 0, len(counts))
	for t, n := range counts {
		sizes = append(sizes, vk.DescriptorPoolSize{Type: t, DescriptorCount: n})
	}
	if len(sizes) == 0 {
		sizes = append(sizes, vk.DescriptorPoolSize{Type: vk.DescriptorTypeSampler, DescriptorCount: 1})
	}

	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxTables,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	t := &VulkanTableArray{sig: vs, slot: slot, Sets: make([]vk.DescriptorSet, maxTables)}
	if err := check(vk.CreateDescriptorPool(d.device(), &poolInfo, d.context.Allocator, &t.pool), "vkCreateDescriptorPool"); err != nil {
		return nil, err
	}

	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     t.pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{vs.setLayouts[slot]},
	}
	for i := range t.Sets {
		res := vk.AllocateDescriptorSets(d.device(), &allocInfo, &t.Sets[i])
		if res == vk.ErrorOutOfPoolMemory || res == vk.ErrorFragmentedPool {
			d.DestroyTableArray(t)
			return nil, errors.Wrapf(core.ErrPoolExhausted, "allocating descriptor set %d of %d", i, maxTables)
		}
		if err := check(res, "vkAllocateDescriptorSets"); err != nil {
			d.DestroyTableArray(t)
			return nil, err
		}
	}
	return t, nil
}

// UpdateTableArray writes staging descriptors into descriptor sets and
// mirrors them into the shader visible heaps.
func (d *Device) UpdateTableArray(table *backend.TableArray, writes []backend.TableWrite) error {
	t, ok := table.Native.(*VulkanTableArray)
	if !ok {
		return errors.Wrapf(core.ErrInvalidArgument, "not a vulkan table array: %T", table.Native)
	}
	views, err := backingOf(table.ViewHeap)
	if err != nil {
		return err
	}
	samplers, err := backingOf(table.SamplerHeap)
	if err != nil {
		return err
	}

	native := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		if w.TableIndex >= uint32(len(t.Sets)) {
			return errors.Wrapf(core.ErrInvalidUpdate, "table %d outside array of %d", w.TableIndex, len(t.Sets))
		}
		var src VulkanDescriptor
		switch {
		case w.SrcHeap != nil:
			staging, err := backingOf(w.SrcHeap)
			if err != nil {
				return err
			}
			var ok bool
			if src, ok = staging.get(w.Src); !ok {
				return errors.Wrapf(core.ErrInvalidUpdate, "%s staging slot %d holds no descriptor", w.SrcHeap.Kind(), w.Src)
			}
			src.owned = false
		case w.Inline != nil:
			if src, err = d.buildDescriptor(*w.Inline); err != nil {
				return errors.Wrap(err, "creating inline descriptor")
			}
		default:
			return errors.Wrapf(core.ErrInvalidUpdate, "write to binding %d has no source", w.Descriptor.Binding)
		}
		if !acceptsView(w.Descriptor.Type, &src.View) {
			if src.owned {
				d.releaseView(src.native)
			}
			return errors.Wrapf(core.ErrInvalidUpdate, "%s view cannot be written to a %s binding", src.View.Kind, w.Descriptor.Type)
		}

		dst := views
		if w.Descriptor.Sampler {
			dst = samplers
		}
		if err := dst.set(w.Dst, src); err != nil {
			return err
		}

		vt, _ := vkDescriptorType(w.Descriptor.Type)
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          t.Sets[w.TableIndex],
			DstBinding:      w.Descriptor.Binding,
			DstArrayElement: w.ArrayElement,
			DescriptorCount: 1,
			DescriptorType:  vt,
		}
		switch vt {
		case vk.DescriptorTypeSampler, vk.DescriptorTypeSampledImage, vk.DescriptorTypeStorageImage, vk.DescriptorTypeInputAttachment:
			write.PImageInfo = []vk.DescriptorImageInfo{src.Image}
		case vk.DescriptorTypeUniformTexelBuffer, vk.DescriptorTypeStorageTexelBuffer:
			if src.texelView() == nil {
				return errors.Wrapf(core.ErrInvalidUpdate, "binding %d needs a typed buffer view", w.Descriptor.Binding)
			}
			write.PTexelBufferView = []vk.BufferView{src.texelView()}
		default:
			write.PBufferInfo = []vk.DescriptorBufferInfo{src.Buffer}
		}
		native = append(native, write)
	}
	if len(native) == 0 {
		return nil
	}
	return d.context.locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(d.device(), uint32(len(native)), native, 0, nil)
		return nil
	})
}

func (d *Device) DestroyTableArray(table interface{}) {
	t, ok := table.(*VulkanTableArray)
	if !ok || t.pool == nil {
		return
	}
	// Destroying the pool frees its sets.
	vk.DestroyDescriptorPool(d.device(), t.pool, d.context.Allocator)
	t.pool = nil
	t.Sets = nil
}
