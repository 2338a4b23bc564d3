package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/heap"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

// DescriptorData writes Count consecutive elements starting at
// DescriptorIndex of table TableIndex. Exactly one of Textures, Buffers or
// Samplers is used, depending on Type.
type DescriptorData struct {
	TableIndex      uint32
	DescriptorIndex uint32
	Type            metadata.DescriptorType
	Textures        []*Texture
	Buffers         []*Buffer
	Samplers        []*Sampler
	// Offsets and Sizes select a sub-range of uniform buffers.
	Offsets     []uint64
	Sizes       []uint64
	UAVMipSlice uint32
	// Count defaults to the number of resources given.
	Count uint32
}

// DescriptorTableArray holds maxTables copies of one slot of a root
// signature in the shader visible heaps.
type DescriptorTableArray struct {
	r         *Renderer
	handle    core.Handle
	sig       *RootSignature
	slot      uint32
	maxTables uint32
	layout    *backend.SlotLayout
	native    interface{}
	views     heap.Range
	samplers  heap.Range
	bound     []shared
	removed   bool
}

func (r *Renderer) AddDescriptorTableArray(sig *RootSignature, slot metadata.DescriptorTableSlot, maxTables uint32) (*DescriptorTableArray, error) {
	if err := r.assert.Check(sig != nil && sig.native != nil, core.ErrInvalidArgument, "descriptor table array needs a live root signature"); err != nil {
		return nil, err
	}
	if err := r.assert.Check(uint32(slot) < metadata.DescriptorTableSlotCount && sig.layout.Slots[slot].Used,
		core.ErrInvalidArgument, "slot %d is not declared by root signature %q", slot, sig.name); err != nil {
		return nil, err
	}
	if err := r.assert.Check(maxTables >= 1, core.ErrInvalidArgument, "maxTables must be at least 1"); err != nil {
		return nil, err
	}
	layout := &sig.layout.Slots[slot]

	views, err := r.heaps.GPUView().Allocate(layout.ViewCount * maxTables)
	if err != nil {
		r.logger.LogError("descriptor table array slot %d: %s", slot, err.Error())
		return nil, err
	}
	samplers, err := r.heaps.GPUSampler().Allocate(layout.SamplerCount * maxTables)
	if err != nil {
		_ = r.heaps.Release(views)
		r.logger.LogError("descriptor table array slot %d: %s", slot, err.Error())
		return nil, err
	}
	native, err := r.device.CreateTableArray(sig.native, sig.layout, uint32(slot), maxTables)
	if err != nil {
		_ = r.heaps.Release(samplers)
		_ = r.heaps.Release(views)
		return nil, errors.Wrapf(err, "creating descriptor table array for slot %d", slot)
	}

	sig.retain()
	t := &DescriptorTableArray{
		r:         r,
		sig:       sig,
		slot:      uint32(slot),
		maxTables: maxTables,
		layout:    layout,
		native:    native,
		views:     views,
		samplers:  samplers,
		bound:     make([]shared, maxTables*(layout.ViewCount+layout.SamplerCount)),
	}
	t.handle = r.tables.Acquire(t)
	return t, nil
}

func (t *DescriptorTableArray) Signature() *RootSignature {
	return t.sig
}

func (t *DescriptorTableArray) Slot() metadata.DescriptorTableSlot {
	return metadata.DescriptorTableSlot(t.slot)
}

func (t *DescriptorTableArray) MaxTables() uint32 {
	return t.maxTables
}

func (t *DescriptorTableArray) ViewRange() heap.Range {
	return t.views
}

func (t *DescriptorTableArray) SamplerRange() heap.Range {
	return t.samplers
}

func (t *DescriptorTableArray) backendTable() *backend.TableArray {
	return &backend.TableArray{
		Native:        t.native,
		Slot:          t.slot,
		MaxTables:     t.maxTables,
		ViewHeap:      t.r.heaps.GPUView(),
		SamplerHeap:   t.r.heaps.GPUSampler(),
		ViewBase:      t.views.Index,
		SamplerBase:   t.samplers.Index,
		ViewStride:    t.layout.ViewCount,
		SamplerStride: t.layout.SamplerCount,
	}
}

// bind builds the native bind for table index.
func (t *DescriptorTableArray) bind(index uint32) backend.TableBind {
	b := backend.TableBind{
		PipelineType:     t.sig.layout.PipelineType,
		Signature:        t.sig.native,
		Slot:             t.slot,
		ViewRootIndex:    t.layout.ViewRootIndex,
		SamplerRootIndex: t.layout.SamplerRootIndex,
		Table:            t.native,
		TableIndex:       index,
	}
	if t.layout.ViewCount > 0 {
		b.ViewIndex = t.views.Index + index*t.layout.ViewCount
		b.ViewHandle = t.r.heaps.GPUView().GPUHandle(b.ViewIndex)
	}
	if t.layout.SamplerCount > 0 {
		b.SamplerIndex = t.samplers.Index + index*t.layout.SamplerCount
		b.SamplerHandle = t.r.heaps.GPUSampler().GPUHandle(b.SamplerIndex)
	}
	return b
}

func (t *DescriptorTableArray) findDescriptor(index uint32) (backend.DescriptorInfo, bool) {
	for _, d := range t.layout.Descriptors {
		if index >= d.FirstArrayElement && index < d.FirstArrayElement+d.ArraySize {
			return d, true
		}
	}
	return backend.DescriptorInfo{}, false
}

type pendingRef struct {
	at  int
	obj shared
}

// UpdateDescriptorTableArray writes descriptors into the array. Invalid
// updates are skipped and reported in the returned error; valid ones are
// still applied.
func (r *Renderer) UpdateDescriptorTableArray(t *DescriptorTableArray, updates []DescriptorData) error {
	if err := r.assert.Check(t != nil && !t.removed, core.ErrInvalidArgument, "update of a removed descriptor table array"); err != nil {
		return err
	}
	var (
		errs    error
		writes  []backend.TableWrite
		pending []pendingRef
	)
	for i := range updates {
		w, p, err := t.prepare(&updates[i])
		if err != nil {
			errs = errors.CombineErrors(errs, err)
			continue
		}
		writes = append(writes, w...)
		pending = append(pending, p...)
	}
	if len(writes) > 0 {
		if err := r.device.UpdateTableArray(t.backendTable(), writes); err != nil {
			return errors.CombineErrors(errors.Wrap(err, "updating descriptor table array"), errs)
		}
	}
	for _, p := range pending {
		if !p.obj.tryRetain() {
			errs = errors.CombineErrors(errs, r.assert.Fail(core.ErrStaleDescriptor, "descriptor %d references a destroyed resource", p.at))
			continue
		}
		if old := t.bound[p.at]; old != nil {
			old.release()
		}
		t.bound[p.at] = p.obj
	}
	return errs
}

func (t *DescriptorTableArray) prepare(d *DescriptorData) ([]backend.TableWrite, []pendingRef, error) {
	a := t.r.assert
	if err := a.Check(d.TableIndex < t.maxTables, core.ErrInvalidUpdate,
		"table index %d out of range (max=%d)", d.TableIndex, t.maxTables); err != nil {
		return nil, nil, err
	}
	info, ok := t.findDescriptor(d.DescriptorIndex)
	if err := a.Check(ok, core.ErrInvalidUpdate, "slot %d has no descriptor %d", t.slot, d.DescriptorIndex); err != nil {
		return nil, nil, err
	}
	if err := a.Check(d.Type == info.Type, core.ErrInvalidUpdate,
		"descriptor %d is %s, update is %s", d.DescriptorIndex, info.Type, d.Type); err != nil {
		return nil, nil, err
	}

	var given int
	switch {
	case info.Sampler:
		given = len(d.Samplers)
	case info.Type.Has(metadata.DescriptorTypeTexture) || info.Type.Has(metadata.DescriptorTypeRWTexture):
		given = len(d.Textures)
	default:
		given = len(d.Buffers)
	}
	count := d.Count
	if count == 0 {
		count = uint32(given)
	}
	count = metadata.Max(count, 1)
	element := d.DescriptorIndex - info.FirstArrayElement
	if err := a.Check(int(count) <= given && element+count <= info.ArraySize, core.ErrInvalidUpdate,
		"descriptor %d: %d elements requested, %d given, array size %d", d.DescriptorIndex, count, given, info.ArraySize-element); err != nil {
		return nil, nil, err
	}

	cpuView := t.r.heaps.CPU(metadata.HeapKindCbvSrvUav)
	cpuSampler := t.r.heaps.CPU(metadata.HeapKindSampler)
	stride, base, bindBase := t.layout.ViewCount, t.views.Index, uint32(0)
	if info.Sampler {
		stride, base, bindBase = t.layout.SamplerCount, t.samplers.Index, t.layout.ViewCount
	}
	total := t.layout.ViewCount + t.layout.SamplerCount

	writes := make([]backend.TableWrite, 0, count)
	refs := make([]pendingRef, 0, count)
	for i := uint32(0); i < count; i++ {
		w := backend.TableWrite{
			TableIndex:   d.TableIndex,
			Descriptor:   info,
			ArrayElement: element + i,
			Dst:          base + d.TableIndex*stride + info.Offset + element + i,
		}
		var obj shared
		switch {
		case info.Sampler:
			s := d.Samplers[i]
			if err := a.Check(s != nil, core.ErrInvalidUpdate, "sampler %d is nil", i); err != nil {
				return nil, nil, err
			}
			if err := a.Check(s.live(), core.ErrStaleDescriptor, "sampler %d was destroyed", i); err != nil {
				return nil, nil, err
			}
			w.SrcHeap, w.Src, obj = cpuSampler, s.view.Index, s

		case info.Type.Has(metadata.DescriptorTypeRWTexture):
			tex := d.Textures[i]
			if err := t.checkTexture(tex, i); err != nil {
				return nil, nil, err
			}
			if err := a.Check(tex.uavStart != noView, core.ErrInvalidUpdate,
				"texture %d has no read write views", i); err != nil {
				return nil, nil, err
			}
			if err := a.Check(d.UAVMipSlice < tex.desc.MipLevels, core.ErrInvalidUpdate,
				"mip slice %d out of range for texture %q (mips=%d)", d.UAVMipSlice, tex.name, tex.desc.MipLevels); err != nil {
				return nil, nil, err
			}
			w.SrcHeap, w.Src, obj = cpuView, tex.views.Index+tex.uavStart+d.UAVMipSlice, tex

		case info.Type.Has(metadata.DescriptorTypeTexture):
			tex := d.Textures[i]
			if err := t.checkTexture(tex, i); err != nil {
				return nil, nil, err
			}
			if err := a.Check(tex.srvOffset != noView, core.ErrInvalidUpdate,
				"texture %d has no shader resource view", i); err != nil {
				return nil, nil, err
			}
			w.SrcHeap, w.Src, obj = cpuView, tex.views.Index+tex.srvOffset, tex

		case info.Type.Has(metadata.DescriptorTypeUniformBuffer):
			b := d.Buffers[i]
			if err := t.checkBuffer(b, i); err != nil {
				return nil, nil, err
			}
			if len(d.Offsets) > 0 || len(d.Sizes) > 0 {
				if err := a.Check(int(i) < len(d.Offsets) && int(i) < len(d.Sizes) && d.Offsets[i]+d.Sizes[i] <= b.desc.Size,
					core.ErrInvalidUpdate, "uniform buffer %d sub-range out of bounds", i); err != nil {
					return nil, nil, err
				}
				w.Inline = &backend.View{Kind: backend.ViewCBV, Buffer: b.native, Offset: d.Offsets[i], Size: d.Sizes[i]}
			} else {
				if err := a.Check(b.hasView(b.cbvOffset), core.ErrInvalidUpdate, "buffer %q has no uniform view", b.name); err != nil {
					return nil, nil, err
				}
				w.SrcHeap, w.Src = cpuView, b.views.Index+b.cbvOffset
			}
			obj = b

		case info.Type.Has(metadata.DescriptorTypeRWBuffer):
			b := d.Buffers[i]
			if err := t.checkBuffer(b, i); err != nil {
				return nil, nil, err
			}
			if err := a.Check(b.hasView(b.uavOffset), core.ErrInvalidUpdate, "buffer %d has no read write view", i); err != nil {
				return nil, nil, err
			}
			w.SrcHeap, w.Src, obj = cpuView, b.views.Index+b.uavOffset, b

		case info.Type.Has(metadata.DescriptorTypeBuffer):
			b := d.Buffers[i]
			if err := t.checkBuffer(b, i); err != nil {
				return nil, nil, err
			}
			if err := a.Check(b.hasView(b.srvOffset), core.ErrInvalidUpdate, "buffer %d has no shader resource view", i); err != nil {
				return nil, nil, err
			}
			w.SrcHeap, w.Src, obj = cpuView, b.views.Index+b.srvOffset, b

		default:
			return nil, nil, a.Fail(core.ErrInvalidUpdate, "descriptor type %s cannot be written to a table", info.Type)
		}
		writes = append(writes, w)
		refs = append(refs, pendingRef{at: int(d.TableIndex*total + bindBase + info.Offset + element + i), obj: obj})
	}
	return writes, refs, nil
}

func (t *DescriptorTableArray) checkBuffer(b *Buffer, i uint32) error {
	if err := t.r.assert.Check(b != nil, core.ErrInvalidUpdate, "buffer %d is nil", i); err != nil {
		return err
	}
	return t.r.assert.Check(b.live(), core.ErrStaleDescriptor, "buffer %q was destroyed", b.name)
}

func (t *DescriptorTableArray) checkTexture(tex *Texture, i uint32) error {
	if err := t.r.assert.Check(tex != nil, core.ErrInvalidUpdate, "texture %d is nil", i); err != nil {
		return err
	}
	return t.r.assert.Check(tex.live(), core.ErrStaleDescriptor, "texture %q was destroyed", tex.name)
}

// RemoveDescriptorTableArray frees both heap ranges and lets go of every
// resource the array references.
func (r *Renderer) RemoveDescriptorTableArray(t *DescriptorTableArray) error {
	if t == nil {
		return nil
	}
	if err := r.assert.Check(!t.removed, core.ErrStaleHandle, "descriptor table array removed twice"); err != nil {
		return err
	}
	t.removed = true
	r.device.DestroyTableArray(t.native)
	if err := r.heaps.Release(t.samplers); err != nil {
		r.logger.LogError("releasing table sampler range: %s", err.Error())
	}
	if err := r.heaps.Release(t.views); err != nil {
		r.logger.LogError("releasing table view range: %s", err.Error())
	}
	for i, obj := range t.bound {
		if obj != nil {
			obj.release()
			t.bound[i] = nil
		}
	}
	t.sig.release()
	return r.tables.Release(t.handle)
}
