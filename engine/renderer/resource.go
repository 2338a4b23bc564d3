package renderer

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/heap"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

// shared is implemented by objects a descriptor table array can hold on to.
type shared interface {
	tryRetain() bool
	release()
}

// refCounted starts with the owner's reference. The object is destroyed when
// the last reference goes, which may be after the owner removed it if a
// table array still points at it.
type refCounted struct {
	refs    atomic.Int32
	removed atomic.Bool
	onZero  func()
}

func (rc *refCounted) init(onZero func()) {
	rc.refs.Store(1)
	rc.onZero = onZero
}

func (rc *refCounted) retain() {
	rc.refs.Add(1)
}

// tryRetain takes a reference unless the object is already gone.
func (rc *refCounted) tryRetain() bool {
	for {
		n := rc.refs.Load()
		if n <= 0 {
			return false
		}
		if rc.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (rc *refCounted) release() {
	if rc.refs.Add(-1) == 0 {
		rc.onZero()
	}
}

// RefCount is the owner reference plus one per table slot holding the object.
func (rc *refCounted) RefCount() int32 {
	return rc.refs.Load()
}

// drop releases the owner reference once.
func (rc *refCounted) drop(a core.Asserter, what string) error {
	if rc.removed.Swap(true) {
		return a.Fail(core.ErrStaleHandle, "%s removed twice", what)
	}
	rc.release()
	return nil
}

type Buffer struct {
	refCounted
	r      *Renderer
	handle core.Handle
	desc   metadata.BufferDesc
	name   string
	native interface{}
	state  metadata.ResourceState

	views     heap.Range
	cbvOffset uint32
	srvOffset uint32
	uavOffset uint32

	mapped     []byte
	persistent bool
}

const noView = ^uint32(0)

func (r *Renderer) AddBuffer(desc metadata.BufferDesc) (*Buffer, error) {
	if desc.Size == 0 {
		return nil, r.assert.Fail(core.ErrInvalidArgument, "buffer size must be greater than zero")
	}
	caps := r.props.Capabilities
	if desc.Descriptors.Has(metadata.DescriptorTypeUniformBuffer) {
		desc.Size = metadata.AlignUp(desc.Size, caps.UniformBufferAlignment)
	}
	state := desc.StartState
	if state == metadata.ResourceStateUndefined {
		switch desc.MemoryUsage {
		case metadata.ResourceMemoryUsageCPUOnly, metadata.ResourceMemoryUsageCPUToGPU:
			state = metadata.ResourceStateGenericRead
		case metadata.ResourceMemoryUsageGPUToCPU:
			state = metadata.ResourceStateCopyDest
		default:
			state = metadata.ResourceStateCommon
		}
	}

	native, err := r.device.CreateBuffer(&desc, state)
	if err != nil {
		r.logger.LogError("failed to create buffer of %d bytes: %s", desc.Size, err.Error())
		return nil, errors.Wrap(err, "creating buffer")
	}

	b := &Buffer{
		r:         r,
		desc:      desc,
		name:      debugName("buffer", desc.Name),
		native:    native,
		state:     state,
		cbvOffset: noView,
		srvOffset: noView,
		uavOffset: noView,
	}
	b.init(b.destroy)
	r.device.SetName(native, b.name)

	if err := b.createViews(); err != nil {
		r.device.DestroyBuffer(native)
		return nil, err
	}

	if desc.Flags&metadata.BufferCreationFlagPersistentMap != 0 && desc.MemoryUsage.HostVisible() {
		mem, err := r.device.MapBuffer(native)
		if err != nil {
			_ = r.heaps.Release(b.views)
			r.device.DestroyBuffer(native)
			return nil, errors.Wrap(err, "persistently mapping buffer")
		}
		b.mapped = mem
		b.persistent = true
	}

	b.handle = r.buffers.Acquire(b)
	return b, nil
}

// viewCount is derived from the description, never from the allocated range.
func bufferViewCount(desc *metadata.BufferDesc) uint32 {
	if desc.Flags&metadata.BufferCreationFlagNoDescriptorViewCreation != 0 ||
		desc.MemoryUsage == metadata.ResourceMemoryUsageGPUToCPU {
		return 0
	}
	var n uint32
	if desc.Descriptors.Has(metadata.DescriptorTypeUniformBuffer) {
		n++
	}
	if desc.Descriptors.Has(metadata.DescriptorTypeBuffer) {
		n++
	}
	if desc.Descriptors.Has(metadata.DescriptorTypeRWBuffer) {
		n++
	}
	return n
}

func (b *Buffer) createViews() error {
	count := bufferViewCount(&b.desc)
	if count == 0 {
		return nil
	}
	h := b.r.heaps.CPU(metadata.HeapKindCbvSrvUav)
	rng, err := h.Allocate(count)
	if err != nil {
		b.r.logger.LogError("no descriptors left for buffer %q: %s", b.name, err.Error())
		return err
	}
	b.views = rng

	next := uint32(0)
	if b.desc.Descriptors.Has(metadata.DescriptorTypeUniformBuffer) {
		b.cbvOffset = next
		next++
	}
	if b.desc.Descriptors.Has(metadata.DescriptorTypeBuffer) {
		b.srvOffset = next
		next++
	}
	if b.desc.Descriptors.Has(metadata.DescriptorTypeRWBuffer) {
		b.uavOffset = next
	}

	write := func(offset uint32, v backend.View) error {
		if offset == noView {
			return nil
		}
		return b.r.device.WriteDescriptor(h, rng.Index+offset, v)
	}
	err = write(b.cbvOffset, backend.View{Kind: backend.ViewCBV, Buffer: b.native, Size: b.desc.Size})
	if err == nil {
		err = write(b.srvOffset, b.elementView(backend.ViewSRV, b.desc.Descriptors.Has(metadata.DescriptorTypeBufferRaw)))
	}
	if err == nil {
		err = write(b.uavOffset, b.elementView(backend.ViewUAV, b.desc.Descriptors.Has(metadata.DescriptorTypeRWBufferRaw)))
	}
	if err != nil {
		_ = h.Release(rng)
		b.views = heap.Range{}
		return errors.Wrapf(err, "creating views for buffer %q", b.name)
	}
	return nil
}

func (b *Buffer) elementView(kind backend.ViewKind, raw bool) backend.View {
	v := backend.View{
		Kind:         kind,
		Buffer:       b.native,
		Size:         b.desc.Size,
		FirstElement: b.desc.FirstElement,
		ElementCount: b.desc.ElementCount,
		StructStride: b.desc.StructStride,
		Format:       b.desc.Format,
		Raw:          raw,
	}
	switch {
	case raw:
		v.StructStride = 0
		v.ElementCount = b.desc.Size / 4
	case v.ElementCount == 0 && v.StructStride > 0:
		v.ElementCount = b.desc.Size / v.StructStride
	case v.ElementCount == 0 && b.desc.Format.BytesPerPixel() > 0:
		v.ElementCount = b.desc.Size / uint64(b.desc.Format.BytesPerPixel())
	}
	return v
}

func (b *Buffer) Size() uint64 {
	return b.desc.Size
}

func (b *Buffer) Desc() metadata.BufferDesc {
	return b.desc
}

func (b *Buffer) Name() string {
	return b.name
}

func (b *Buffer) SetName(name string) {
	b.name = name
	b.r.device.SetName(b.native, name)
}

func (b *Buffer) Native() interface{} {
	return b.native
}

// Views returns the CPU descriptor range owned by the buffer.
func (b *Buffer) Views() heap.Range {
	return b.views
}

// live reports whether the buffer still exists and owns its views.
func (b *Buffer) live() bool {
	return b.native != nil && b.RefCount() > 0 && b.r.liveViews(b.views)
}

func (b *Buffer) hasView(offset uint32) bool {
	return offset != noView && b.views.Valid()
}

// Map returns the buffer memory. Only host visible memory can be mapped.
func (b *Buffer) Map() ([]byte, error) {
	if b.persistent {
		return b.mapped, nil
	}
	if err := b.r.assert.Check(b.desc.MemoryUsage.HostVisible(), core.ErrNotMappable,
		"buffer %q has no host visible memory", b.name); err != nil {
		return nil, err
	}
	mem, err := b.r.device.MapBuffer(b.native)
	if err != nil {
		return nil, errors.Wrapf(err, "mapping buffer %q", b.name)
	}
	b.mapped = mem
	return mem, nil
}

// Unmap is a no-op for persistently mapped buffers.
func (b *Buffer) Unmap() {
	if b.persistent || b.mapped == nil {
		return
	}
	b.r.device.UnmapBuffer(b.native)
	b.mapped = nil
}

func (b *Buffer) destroy() {
	if b.native == nil {
		return
	}
	if b.mapped != nil {
		b.r.device.UnmapBuffer(b.native)
		b.mapped = nil
	}
	if err := b.r.heaps.Release(b.views); err != nil {
		b.r.logger.LogError("releasing views of buffer %q: %s", b.name, err.Error())
	}
	b.views = heap.Range{}
	b.r.device.DestroyBuffer(b.native)
	b.native = nil
	_ = b.r.buffers.Release(b.handle)
}

// liveViews is false when rng was released, even if its slots were handed
// out again since.
func (r *Renderer) liveViews(rng heap.Range) bool {
	if !rng.Valid() {
		return true
	}
	return r.heaps.For(rng).Check(rng) == nil
}

// RemoveBuffer drops the owner reference. Descriptor table arrays that still
// reference the buffer keep it alive until they let go.
func (r *Renderer) RemoveBuffer(b *Buffer) error {
	if b == nil {
		return nil
	}
	return b.drop(r.assert, "buffer "+b.name)
}

type Texture struct {
	refCounted
	r         *Renderer
	handle    core.Handle
	desc      metadata.TextureDesc
	name      string
	native    interface{}
	ownsImage bool
	state     metadata.ResourceState

	views     heap.Range
	srvOffset uint32
	uavStart  uint32

	targets     heap.Range
	targetSlice uint32
}

func (r *Renderer) AddTexture(desc metadata.TextureDesc) (*Texture, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, r.assert.Fail(core.ErrInvalidArgument, "texture extent %dx%d is empty", desc.Width, desc.Height)
	}
	if desc.Format == metadata.FormatUndefined {
		return nil, r.assert.Fail(core.ErrInvalidArgument, "texture format is undefined")
	}
	desc.Depth = metadata.Max(desc.Depth, 1)
	desc.ArraySize = metadata.Max(desc.ArraySize, 1)
	desc.MipLevels = metadata.Max(desc.MipLevels, 1)
	if desc.SampleCount == 0 {
		desc.SampleCount = metadata.SampleCount1
	}

	t := &Texture{
		r:         r,
		desc:      desc,
		name:      debugName("texture", desc.Name),
		srvOffset: noView,
		uavStart:  noView,
		state:     metadata.ResourceStateCommon,
	}
	t.init(t.destroy)
	switch {
	case desc.Descriptors.Has(metadata.DescriptorTypeRenderTarget) && desc.Format.IsDepth():
		t.state = metadata.ResourceStateDepthWrite
	case desc.Descriptors.Has(metadata.DescriptorTypeRenderTarget):
		t.state = metadata.ResourceStateRenderTarget
	}

	if desc.Native != nil {
		t.native = desc.Native
	} else {
		native, err := r.device.CreateTexture(&desc)
		if err != nil {
			r.logger.LogError("failed to create texture %q: %s", t.name, err.Error())
			return nil, errors.Wrap(err, "creating texture")
		}
		t.native = native
		t.ownsImage = true
	}
	r.device.SetName(t.native, t.name)

	if err := t.createViews(); err != nil {
		t.freeImage()
		return nil, err
	}
	if err := t.createTargets(); err != nil {
		_ = r.heaps.Release(t.views)
		t.freeImage()
		return nil, err
	}

	t.handle = r.textures.Acquire(t)
	return t, nil
}

func (t *Texture) createViews() error {
	var count uint32
	wantSRV := t.desc.Descriptors.Has(metadata.DescriptorTypeTexture)
	wantUAV := t.desc.Descriptors.Has(metadata.DescriptorTypeRWTexture)
	if wantSRV {
		t.srvOffset = 0
		count++
	}
	if wantUAV {
		t.uavStart = count
		count += t.desc.MipLevels
	}
	if count == 0 {
		return nil
	}
	h := t.r.heaps.CPU(metadata.HeapKindCbvSrvUav)
	rng, err := h.Allocate(count)
	if err != nil {
		t.r.logger.LogError("no descriptors left for texture %q: %s", t.name, err.Error())
		return err
	}
	t.views = rng

	if wantSRV {
		err = t.r.device.WriteDescriptor(h, rng.Index+t.srvOffset, backend.View{
			Kind:      backend.ViewSRV,
			Texture:   t.native,
			Format:    t.desc.Format,
			ArraySize: t.desc.ArraySize,
			Mapping:   t.desc.ComponentMapping,
		})
	}
	for mip := uint32(0); wantUAV && err == nil && mip < t.desc.MipLevels; mip++ {
		err = t.r.device.WriteDescriptor(h, rng.Index+t.uavStart+mip, backend.View{
			Kind:      backend.ViewUAV,
			Texture:   t.native,
			Format:    t.desc.Format,
			MipSlice:  mip,
			ArraySize: t.desc.ArraySize,
		})
	}
	if err != nil {
		_ = h.Release(rng)
		t.views = heap.Range{}
		return errors.Wrapf(err, "creating views for texture %q", t.name)
	}
	return nil
}

func (t *Texture) createTargets() error {
	if !t.desc.Descriptors.Has(metadata.DescriptorTypeRenderTarget) {
		return nil
	}
	slices := uint32(1)
	switch {
	case t.desc.Descriptors.Has(metadata.DescriptorTypeRenderTargetArraySlices):
		slices = t.desc.ArraySize
	case t.desc.Descriptors.Has(metadata.DescriptorTypeRenderTargetDepthSlices):
		slices = t.desc.Depth
	}
	t.targetSlice = slices

	kind, viewKind := metadata.HeapKindRTV, backend.ViewRTV
	if t.desc.Format.IsDepth() {
		kind, viewKind = metadata.HeapKindDSV, backend.ViewDSV
	}
	h := t.r.heaps.CPU(kind)
	rng, err := h.Allocate(t.desc.MipLevels * slices)
	if err != nil {
		t.r.logger.LogError("no %s descriptors left for texture %q: %s", kind, t.name, err.Error())
		return err
	}
	t.targets = rng
	for mip := uint32(0); mip < t.desc.MipLevels; mip++ {
		for slice := uint32(0); slice < slices; slice++ {
			v := backend.View{Kind: viewKind, Texture: t.native, Format: t.desc.Format, MipSlice: mip, ArraySlice: slice, ArraySize: 1}
			if slices == 1 {
				v.ArraySize = t.desc.ArraySize
			}
			if err := t.r.device.WriteDescriptor(h, rng.Index+mip*slices+slice, v); err != nil {
				_ = h.Release(rng)
				t.targets = heap.Range{}
				return errors.Wrapf(err, "creating target views for texture %q", t.name)
			}
		}
	}
	return nil
}

func (t *Texture) freeImage() {
	if t.ownsImage && t.native != nil {
		t.r.device.DestroyTexture(t.native)
	}
	t.native = nil
}

func (t *Texture) Desc() metadata.TextureDesc {
	return t.desc
}

func (t *Texture) Name() string {
	return t.name
}

func (t *Texture) SetName(name string) {
	t.name = name
	t.r.device.SetName(t.native, name)
}

func (t *Texture) Native() interface{} {
	return t.native
}

// OwnsImage is false for textures wrapping an external native image.
func (t *Texture) OwnsImage() bool {
	return t.ownsImage
}

func (t *Texture) Views() heap.Range {
	return t.views
}

func (t *Texture) TargetViews() heap.Range {
	return t.targets
}

// attachment returns the render target view for mip and slice.
func (t *Texture) attachment(mip, slice uint32) (backend.Attachment, error) {
	if !t.targets.Valid() {
		return backend.Attachment{}, t.r.assert.Fail(core.ErrInvalidArgument, "texture %q has no render target views", t.name)
	}
	if mip >= t.desc.MipLevels || slice >= t.targetSlice {
		return backend.Attachment{}, t.r.assert.Fail(core.ErrInvalidArgument, "texture %q has no target view for mip %d slice %d", t.name, mip, slice)
	}
	return backend.Attachment{
		Texture: t.native,
		Heap:    t.r.heaps.For(t.targets),
		Index:   t.targets.Index + mip*t.targetSlice + slice,
		Mip:     mip,
		Slice:   slice,
	}, nil
}

func (t *Texture) live() bool {
	return t.native != nil && t.RefCount() > 0 && t.r.liveViews(t.views)
}

func (t *Texture) destroy() {
	if t.native == nil {
		return
	}
	if err := t.r.heaps.Release(t.views); err != nil {
		t.r.logger.LogError("releasing views of texture %q: %s", t.name, err.Error())
	}
	if err := t.r.heaps.Release(t.targets); err != nil {
		t.r.logger.LogError("releasing target views of texture %q: %s", t.name, err.Error())
	}
	t.views, t.targets = heap.Range{}, heap.Range{}
	t.freeImage()
	_ = t.r.textures.Release(t.handle)
}

func (r *Renderer) RemoveTexture(t *Texture) error {
	if t == nil {
		return nil
	}
	return t.drop(r.assert, "texture "+t.name)
}

type Sampler struct {
	refCounted
	r      *Renderer
	handle core.Handle
	desc   metadata.SamplerDesc
	native interface{}
	view   heap.Range
}

func (r *Renderer) AddSampler(desc metadata.SamplerDesc) (*Sampler, error) {
	native, err := r.device.CreateSampler(&desc)
	if err != nil {
		return nil, errors.Wrap(err, "creating sampler")
	}
	h := r.heaps.CPU(metadata.HeapKindSampler)
	rng, err := h.Allocate(1)
	if err != nil {
		r.device.DestroySampler(native)
		r.logger.LogError("no sampler descriptors left: %s", err.Error())
		return nil, err
	}
	if err := r.device.WriteDescriptor(h, rng.Index, backend.View{Kind: backend.ViewSampler, Sampler: native}); err != nil {
		_ = h.Release(rng)
		r.device.DestroySampler(native)
		return nil, errors.Wrap(err, "writing sampler descriptor")
	}
	s := &Sampler{r: r, desc: desc, native: native, view: rng}
	s.init(s.destroy)
	s.handle = r.samplers.Acquire(s)
	return s, nil
}

func (s *Sampler) Desc() metadata.SamplerDesc {
	return s.desc
}

func (s *Sampler) Native() interface{} {
	return s.native
}

func (s *Sampler) View() heap.Range {
	return s.view
}

func (s *Sampler) live() bool {
	return s.native != nil && s.RefCount() > 0 && s.r.liveViews(s.view)
}

func (s *Sampler) destroy() {
	if s.native == nil {
		return
	}
	if err := s.r.heaps.Release(s.view); err != nil {
		s.r.logger.LogError("releasing sampler view: %s", err.Error())
	}
	s.view = heap.Range{}
	s.r.device.DestroySampler(s.native)
	s.native = nil
	_ = s.r.samplers.Release(s.handle)
}

func (r *Renderer) RemoveSampler(s *Sampler) error {
	if s == nil {
		return nil
	}
	return s.drop(r.assert, "sampler")
}
