package soft

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/heap"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

type buffer struct {
	desc   metadata.BufferDesc
	data   []byte
	state  metadata.ResourceState
	mapped bool
}

type texture struct {
	desc         metadata.TextureDesc
	bpp          uint32
	subresources [][]byte
}

func newTexture(desc *metadata.TextureDesc) (*texture, error) {
	bpp := desc.Format.BytesPerPixel()
	if bpp == 0 {
		return nil, errors.Wrapf(core.ErrUnsupported, "texture format %d", desc.Format)
	}
	t := &texture{desc: *desc, bpp: bpp}
	t.desc.Depth = metadata.Max(t.desc.Depth, 1)
	t.desc.ArraySize = metadata.Max(t.desc.ArraySize, 1)
	t.desc.MipLevels = metadata.Max(t.desc.MipLevels, 1)
	t.subresources = make([][]byte, t.desc.MipLevels*t.desc.ArraySize)
	for layer := uint32(0); layer < t.desc.ArraySize; layer++ {
		for mip := uint32(0); mip < t.desc.MipLevels; mip++ {
			w, h, d := t.extent(mip)
			t.subresources[t.index(mip, layer)] = make([]byte, w*h*d*bpp)
		}
	}
	return t, nil
}

func (t *texture) extent(mip uint32) (uint32, uint32, uint32) {
	return metadata.MipExtent(t.desc.Width, mip), metadata.MipExtent(t.desc.Height, mip), metadata.MipExtent(t.desc.Depth, mip)
}

func (t *texture) index(mip, layer uint32) uint32 {
	return metadata.SubresourceIndex(mip, layer, 0, t.desc.MipLevels, t.desc.ArraySize)
}

// texel returns the bytes of one texel, or nil when out of bounds.
func (t *texture) texel(mip, layer, x, y, z uint32) []byte {
	w, h, d := t.extent(mip)
	if x >= w || y >= h || z >= d || mip >= t.desc.MipLevels || layer >= t.desc.ArraySize {
		return nil
	}
	off := ((z*h+y)*w + x) * t.bpp
	return t.subresources[t.index(mip, layer)][off : off+t.bpp]
}

func (t *texture) load(mip, layer, x, y, z uint32) [4]float32 {
	b := t.texel(mip, layer, x, y, z)
	if b == nil {
		return [4]float32{}
	}
	return decode(t.desc.Format, b)
}

func (t *texture) store(mip, layer, x, y, z uint32, v [4]float32) {
	if b := t.texel(mip, layer, x, y, z); b != nil {
		encode(t.desc.Format, b, v)
	}
}

func (t *texture) fill(mip, layer uint32, v [4]float32) {
	w, h, d := t.extent(mip)
	for z := uint32(0); z < d; z++ {
		for y := uint32(0); y < h; y++ {
			for x := uint32(0); x < w; x++ {
				t.store(mip, layer, x, y, z, v)
			}
		}
	}
}

type sampler struct {
	desc metadata.SamplerDesc
}

// descriptorHeap backs a heap.Heap with one view per slot.
type descriptorHeap struct {
	mu    sync.RWMutex
	desc  heap.Desc
	cpu   uint64
	gpu   uint64
	slots []backend.View
	valid []bool
}

func (h *descriptorHeap) CPUStart() uint64 {
	return h.cpu
}

func (h *descriptorHeap) GPUStart() uint64 {
	return h.gpu
}

func (h *descriptorHeap) Destroy() {
	h.mu.Lock()
	h.slots = nil
	h.valid = nil
	h.mu.Unlock()
}

func (h *descriptorHeap) get(index uint32) (backend.View, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if int(index) >= len(h.slots) || !h.valid[index] {
		return backend.View{}, false
	}
	return h.slots[index], true
}

func (h *descriptorHeap) set(index uint32, v backend.View) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(index) >= len(h.slots) {
		return errors.Wrapf(core.ErrInvalidArgument, "%s slot %d out of range (capacity %d)", h.desc.Kind, index, len(h.slots))
	}
	h.slots[index] = v
	h.valid[index] = true
	return nil
}

func (d *Device) CreateDescriptorHeap(desc heap.Desc) (heap.Backing, uint32, error) {
	size := uint64(desc.Capacity) * descriptorSize
	h := &descriptorHeap{
		desc:  desc,
		cpu:   d.address.Add(size) - size,
		slots: make([]backend.View, desc.Capacity),
		valid: make([]bool, desc.Capacity),
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
		return nil, errors.Wrapf(core.ErrInvalidArgument, "%s heap is not backed by the soft device", h.Kind())
	}
	return dh, nil
}

func (d *Device) WriteDescriptor(h *heap.Heap, index uint32, view backend.View) error {
	dh, err := backingOf(h)
	if err != nil {
		return err
	}
	if err := checkView(&view); err != nil {
		return err
	}
	return dh.set(index, view)
}

func (d *Device) ClearDescriptor(h *heap.Heap, index uint32) {
	dh, err := backingOf(h)
	if err != nil {
		return
	}
	dh.mu.Lock()
	if int(index) < len(dh.valid) {
		dh.valid[index] = false
	}
	dh.mu.Unlock()
}

func checkView(v *backend.View) error {
	var ok bool
	switch v.Kind {
	case backend.ViewCBV:
		_, ok = v.Buffer.(*buffer)
	case backend.ViewSRV, backend.ViewUAV:
		_, isBuffer := v.Buffer.(*buffer)
		_, isTexture := v.Texture.(*texture)
		ok = isBuffer != isTexture
	case backend.ViewRTV, backend.ViewDSV:
		_, ok = v.Texture.(*texture)
	case backend.ViewSampler:
		_, ok = v.Sampler.(*sampler)
	}
	if !ok {
		return errors.Wrapf(core.ErrInvalidArgument, "%s view without a matching soft resource", v.Kind)
	}
	return nil
}

// UpdateTableArray copies staging descriptors into the shader visible heaps.
func (d *Device) UpdateTableArray(table *backend.TableArray, writes []backend.TableWrite) error {
	views, err := backingOf(table.ViewHeap)
	if err != nil {
		return err
	}
	samplers, err := backingOf(table.SamplerHeap)
	if err != nil {
		return err
	}
	for _, w := range writes {
		dst := views
		if w.Descriptor.Sampler {
			dst = samplers
		}
		var v backend.View
		if w.Inline != nil {
			v = *w.Inline
			if err := checkView(&v); err != nil {
				return err
			}
		} else {
			src, err := backingOf(w.SrcHeap)
			if err != nil {
				return err
			}
			var ok bool
			if v, ok = src.get(w.Src); !ok {
				return errors.Wrapf(core.ErrInvalidUpdate, "staging slot %d of %s heap is empty", w.Src, w.SrcHeap.Kind())
			}
		}
		if err := dst.set(w.Dst, v); err != nil {
			return err
		}
	}
	return nil
}
