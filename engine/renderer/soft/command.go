package soft

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/heap"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

// ListStats counts the native calls recorded since Begin.
type ListStats struct {
	HeapBinds      int
	SignatureBinds int
	PipelineBinds  int
	TableBinds     int
	PushConstants  int
	Draws          int
	Dispatches     int
	Copies         int
	Barriers       int
}

// CommandList records commands as closures and runs them on submit.
type CommandList struct {
	d         *Device
	secondary bool
	recording bool
	ops       []func(*execState) error
	stats     ListStats
}

func (l *CommandList) Stats() ListStats {
	return l.stats
}

func (l *CommandList) record(op func(*execState) error) {
	l.ops = append(l.ops, op)
}

func (l *CommandList) reset() {
	l.ops = l.ops[:0]
	l.stats = ListStats{}
	l.recording = false
}

func (l *CommandList) Begin() error {
	l.reset()
	l.recording = true
	return nil
}

func (l *CommandList) End() error {
	if !l.recording {
		return errors.Wrap(core.ErrInvalidState, "end without begin")
	}
	l.recording = false
	return nil
}

type vertexBinding struct {
	buffer *buffer
	stride uint32
	offset uint64
}

type activeQuery struct {
	pool  *queryPool
	index uint32
}

type viewport struct {
	x, y, w, h, minDepth, maxDepth float32
}

type rect struct {
	x, y, w, h uint32
}

// execState is the pipeline state while one command list executes.
type execState struct {
	d             *Device
	viewHeap      *descriptorHeap
	samplerHeap   *descriptorHeap
	pipeline      *pipeline
	signatures    [3]*signature
	tables        [3][metadata.DescriptorTableSlotCount]*backend.TableBind
	push          [3]map[int][]byte
	colors        []target
	depth         *target
	viewport      viewport
	scissor       *rect
	vertexBuffers []vertexBinding
	indexBuffer   *buffer
	indexType     metadata.IndexType
	indexOffset   uint64
	queries       []activeQuery
}

type target struct {
	tex   *texture
	mip   uint32
	layer uint32
}

func (l *CommandList) execute() error {
	st := &execState{d: l.d}
	var errs error
	for _, op := range l.ops {
		if err := op(st); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

func (l *CommandList) SetDescriptorHeaps(view, sampler *heap.Heap) {
	l.stats.HeapBinds++
	l.record(func(st *execState) error {
		var err error
		if st.viewHeap, err = backingOf(view); err != nil {
			return err
		}
		st.samplerHeap, err = backingOf(sampler)
		return err
	})
}

func (l *CommandList) SetRootSignature(kind metadata.PipelineType, sig interface{}) {
	l.stats.SignatureBinds++
	s, _ := sig.(*signature)
	l.record(func(st *execState) error {
		if s == nil {
			return errors.Wrapf(core.ErrInvalidArgument, "not a soft root signature: %T", sig)
		}
		st.signatures[kind] = s
		st.tables[kind] = [metadata.DescriptorTableSlotCount]*backend.TableBind{}
		st.push[kind] = make(map[int][]byte)
		return nil
	})
}

func (l *CommandList) BindPipeline(p interface{}) {
	l.stats.PipelineBinds++
	pl, _ := p.(*pipeline)
	l.record(func(st *execState) error {
		if pl == nil {
			return errors.Wrapf(core.ErrInvalidArgument, "not a soft pipeline: %T", p)
		}
		st.pipeline = pl
		return nil
	})
}

func (l *CommandList) SetRootTable(bind backend.TableBind) {
	l.stats.TableBinds++
	l.record(func(st *execState) error {
		if st.signatures[bind.PipelineType] == nil {
			return errors.Wrapf(core.ErrSignatureMismatch, "table for slot %d set before a root signature", bind.Slot)
		}
		b := bind
		st.tables[bind.PipelineType][bind.Slot] = &b
		return nil
	})
}

func (l *CommandList) PushConstants(kind metadata.PipelineType, sig interface{}, param backend.RootParameter, offset uint32, data []byte) {
	l.stats.PushConstants++
	values := append([]byte(nil), data...)
	l.record(func(st *execState) error {
		if st.push[kind] == nil {
			return errors.Wrap(core.ErrSignatureMismatch, "push constants set before a root signature")
		}
		block := st.push[kind][param.Range]
		if block == nil {
			block = make([]byte, param.Num32BitValues*4)
			st.push[kind][param.Range] = block
		}
		copy(block[offset:], values)
		return nil
	})
}

func (l *CommandList) BindRenderTargets(colors []backend.Attachment, depth *backend.Attachment, load *metadata.LoadActionsDesc) {
	colors = append([]backend.Attachment(nil), colors...)
	var ds *backend.Attachment
	if depth != nil {
		a := *depth
		ds = &a
	}
	var actions metadata.LoadActionsDesc
	if load != nil {
		actions = *load
	}
	l.record(func(st *execState) error {
		st.colors = st.colors[:0]
		st.depth = nil
		for i, a := range colors {
			t, err := resolveTarget(a)
			if err != nil {
				return err
			}
			if actions.LoadActionsColor[i] == metadata.LoadActionClear {
				c := actions.ClearColorValues[i]
				t.tex.fill(t.mip, t.layer, [4]float32{c.R, c.G, c.B, c.A})
			}
			st.colors = append(st.colors, t)
		}
		if ds != nil {
			t, err := resolveTarget(*ds)
			if err != nil {
				return err
			}
			if actions.LoadActionDepth == metadata.LoadActionClear {
				t.tex.fill(t.mip, t.layer, [4]float32{actions.ClearDepth.Depth, float32(actions.ClearDepth.Stencil)})
			}
			st.depth = &t
		}
		if len(st.colors) > 0 || st.depth != nil {
			ref := st.depth
			if len(st.colors) > 0 {
				ref = &st.colors[0]
			}
			w, h, _ := ref.tex.extent(ref.mip)
			st.viewport = viewport{w: float32(w), h: float32(h), maxDepth: 1}
			st.scissor = nil
		}
		return nil
	})
}

// resolveTarget reads the render target view written in the RTV or DSV heap.
func resolveTarget(a backend.Attachment) (target, error) {
	dh, err := backingOf(a.Heap)
	if err != nil {
		return target{}, err
	}
	v, ok := dh.get(a.Index)
	if !ok {
		return target{}, errors.Wrapf(core.ErrStaleDescriptor, "render target slot %d is empty", a.Index)
	}
	t, ok := v.Texture.(*texture)
	if !ok || t.subresources == nil {
		return target{}, errors.Wrap(core.ErrInvalidArgument, "render target view without a live texture")
	}
	return target{tex: t, mip: v.MipSlice, layer: v.ArraySlice}, nil
}

func (l *CommandList) SetViewport(x, y, width, height, minDepth, maxDepth float32) {
	l.record(func(st *execState) error {
		st.viewport = viewport{x, y, width, height, minDepth, maxDepth}
		return nil
	})
}

func (l *CommandList) SetScissor(x, y, width, height uint32) {
	l.record(func(st *execState) error {
		st.scissor = &rect{x, y, width, height}
		return nil
	})
}

func (l *CommandList) BindVertexBuffers(buffers []interface{}, strides []uint32, offsets []uint64) {
	bindings := make([]vertexBinding, len(buffers))
	for i, b := range buffers {
		bindings[i].buffer, _ = b.(*buffer)
		bindings[i].stride = strides[i]
		if i < len(offsets) {
			bindings[i].offset = offsets[i]
		}
	}
	l.record(func(st *execState) error {
		st.vertexBuffers = bindings
		return nil
	})
}

func (l *CommandList) BindIndexBuffer(b interface{}, indexType metadata.IndexType, offset uint64) {
	buf, _ := b.(*buffer)
	l.record(func(st *execState) error {
		st.indexBuffer, st.indexType, st.indexOffset = buf, indexType, offset
		return nil
	})
}

func (l *CommandList) Draw(vertexCount, firstVertex, instanceCount, firstInstance uint32) {
	l.stats.Draws++
	l.record(func(st *execState) error {
		return st.draw(vertexCount, instanceCount, firstInstance, func(i uint32) (uint32, bool) {
			return firstVertex + i, true
		})
	})
}

func (l *CommandList) DrawIndexed(indexCount, firstIndex, instanceCount uint32, vertexOffset int32, firstInstance uint32) {
	l.stats.Draws++
	l.record(func(st *execState) error {
		ib := st.indexBuffer
		if ib == nil {
			return errors.Wrap(core.ErrInvalidState, "indexed draw without an index buffer")
		}
		size := st.indexType.Size()
		return st.draw(indexCount, instanceCount, firstInstance, func(i uint32) (uint32, bool) {
			off := st.indexOffset + uint64(firstIndex+i)*size
			if off+size > uint64(len(ib.data)) {
				return 0, false
			}
			var idx uint32
			if size == 2 {
				idx = uint32(binary.LittleEndian.Uint16(ib.data[off:]))
			} else {
				idx = binary.LittleEndian.Uint32(ib.data[off:])
			}
			return uint32(int32(idx) + vertexOffset), true
		})
	})
}

func (l *CommandList) Dispatch(x, y, z uint32) {
	l.stats.Dispatches++
	l.record(func(st *execState) error {
		p := st.pipeline
		if p == nil || p.compute == nil {
			return errors.Wrap(core.ErrInvalidState, "dispatch without a compute pipeline")
		}
		threads := p.desc.NumThreadsPerGroup
		for i := range threads {
			threads[i] = metadata.Max(threads[i], 1)
		}
		ctx := &ShaderContext{st: st, kind: metadata.PipelineTypeCompute, stage: metadata.ShaderStageComp}
		for gz := uint32(0); gz < z; gz++ {
			for gy := uint32(0); gy < y; gy++ {
				for gx := uint32(0); gx < x; gx++ {
					for tz := uint32(0); tz < threads[2]; tz++ {
						for ty := uint32(0); ty < threads[1]; ty++ {
							for tx := uint32(0); tx < threads[0]; tx++ {
								p.compute(ctx, ComputeInput{
									Group:  [3]uint32{gx, gy, gz},
									Thread: [3]uint32{tx, ty, tz},
									Global: [3]uint32{gx*threads[0] + tx, gy*threads[1] + ty, gz*threads[2] + tz},
								})
							}
						}
					}
				}
			}
		}
		return nil
	})
}

func (l *CommandList) CopyBuffer(dst interface{}, dstOffset uint64, src interface{}, srcOffset, size uint64) {
	l.stats.Copies++
	d, _ := dst.(*buffer)
	s, _ := src.(*buffer)
	l.record(func(st *execState) error {
		if d == nil || s == nil {
			return errors.Wrap(core.ErrInvalidArgument, "copy between non soft buffers")
		}
		if srcOffset+size > uint64(len(s.data)) || dstOffset+size > uint64(len(d.data)) {
			return errors.Wrapf(core.ErrInvalidArgument, "copy of %d bytes out of bounds", size)
		}
		copy(d.data[dstOffset:dstOffset+size], s.data[srcOffset:srcOffset+size])
		return nil
	})
}

func (l *CommandList) CopyBufferToTexture(dst interface{}, src interface{}, sub metadata.SubresourceDesc) {
	l.stats.Copies++
	t, _ := dst.(*texture)
	b, _ := src.(*buffer)
	l.record(func(st *execState) error {
		return copyTexels(t, b, sub, true)
	})
}

func (l *CommandList) CopyTextureToBuffer(dst interface{}, src interface{}, sub metadata.SubresourceDesc) {
	l.stats.Copies++
	b, _ := dst.(*buffer)
	t, _ := src.(*texture)
	l.record(func(st *execState) error {
		return copyTexels(t, b, sub, false)
	})
}

// copyTexels moves a region between a buffer and a texture subresource. A
// zero region extent means the whole mip; zero pitches mean tightly packed.
func copyTexels(t *texture, b *buffer, sub metadata.SubresourceDesc, toTexture bool) error {
	if t == nil || b == nil || t.subresources == nil {
		return errors.Wrap(core.ErrInvalidArgument, "texture copy with non soft resources")
	}
	w, h, d := t.extent(sub.MipLevel)
	r := sub.Region
	if r.W == 0 {
		r.W = w - r.X
	}
	if r.H == 0 {
		r.H = h - r.Y
	}
	if r.D == 0 {
		r.D = d - r.Z
	}
	if r.X+r.W > w || r.Y+r.H > h || r.Z+r.D > d {
		return errors.Wrapf(core.ErrInvalidArgument, "copy region exceeds mip %d", sub.MipLevel)
	}
	rowBytes := uint64(r.W * t.bpp)
	rowPitch := uint64(sub.RowPitch)
	if rowPitch == 0 {
		rowPitch = rowBytes
	}
	slicePitch := uint64(sub.SlicePitch)
	if slicePitch == 0 {
		slicePitch = rowPitch * uint64(r.H)
	}
	data := t.subresources[t.index(sub.MipLevel, sub.ArrayLayer)]
	for z := uint32(0); z < r.D; z++ {
		for y := uint32(0); y < r.H; y++ {
			bufOff := sub.BufferOffset + uint64(z)*slicePitch + uint64(y)*rowPitch
			if bufOff+rowBytes > uint64(len(b.data)) {
				return errors.Wrap(core.ErrInvalidArgument, "copy runs past the end of the buffer")
			}
			texOff := uint64(((r.Z+z)*h+r.Y+y)*w+r.X) * uint64(t.bpp)
			if toTexture {
				copy(data[texOff:texOff+rowBytes], b.data[bufOff:bufOff+rowBytes])
			} else {
				copy(b.data[bufOff:bufOff+rowBytes], data[texOff:texOff+rowBytes])
			}
		}
	}
	return nil
}

func (l *CommandList) ResourceBarrier(buffers []backend.BufferBarrier, textures []backend.TextureBarrier) {
	l.stats.Barriers++
	for _, b := range buffers {
		if buf, ok := b.Buffer.(*buffer); ok {
			end := b.EndState
			l.record(func(st *execState) error {
				buf.state = end
				return nil
			})
		}
	}
}

func (l *CommandList) ResetQueryPool(pool interface{}, start, count uint32) {
	p, _ := pool.(*queryPool)
	l.record(func(st *execState) error {
		if p == nil || start+count > uint32(len(p.results)) {
			return errors.Wrap(core.ErrInvalidArgument, "query reset out of range")
		}
		for i := start; i < start+count; i++ {
			p.results[i] = 0
		}
		return nil
	})
}

func (l *CommandList) BeginQuery(pool interface{}, index uint32) {
	p, _ := pool.(*queryPool)
	l.record(func(st *execState) error {
		if p == nil || index >= uint32(len(p.results)) {
			return errors.Wrap(core.ErrInvalidArgument, "query index out of range")
		}
		if p.desc.Type == metadata.QueryTypeTimestamp {
			p.results[index] = st.d.timestamp()
			return nil
		}
		p.results[index] = 0
		st.queries = append(st.queries, activeQuery{pool: p, index: index})
		return nil
	})
}

func (l *CommandList) EndQuery(pool interface{}, index uint32) {
	p, _ := pool.(*queryPool)
	l.record(func(st *execState) error {
		if p == nil || index >= uint32(len(p.results)) {
			return errors.Wrap(core.ErrInvalidArgument, "query index out of range")
		}
		if p.desc.Type == metadata.QueryTypeTimestamp {
			p.results[index] = st.d.timestamp()
			return nil
		}
		for i, q := range st.queries {
			if q.pool == p && q.index == index {
				st.queries = append(st.queries[:i], st.queries[i+1:]...)
				break
			}
		}
		return nil
	})
}

func (l *CommandList) ResolveQuery(pool interface{}, start, count uint32, dst interface{}, dstOffset uint64) {
	p, _ := pool.(*queryPool)
	b, _ := dst.(*buffer)
	l.record(func(st *execState) error {
		if p == nil || b == nil || start+count > uint32(len(p.results)) || dstOffset+uint64(count)*8 > uint64(len(b.data)) {
			return errors.Wrap(core.ErrInvalidArgument, "query resolve out of range")
		}
		for i := uint32(0); i < count; i++ {
			binary.LittleEndian.PutUint64(b.data[dstOffset+uint64(i)*8:], p.results[start+i])
		}
		return nil
	})
}

// countSample feeds the active occlusion queries.
func (st *execState) countSample() {
	for _, q := range st.queries {
		switch q.pool.desc.Type {
		case metadata.QueryTypeOcclusion:
			q.pool.results[q.index]++
		case metadata.QueryTypeBinaryOcclusion:
			q.pool.results[q.index] = 1
		}
	}
}

func (st *execState) countInvocation() {
	for _, q := range st.queries {
		if q.pool.desc.Type == metadata.QueryTypePipelineStatistics {
			q.pool.results[q.index]++
		}
	}
}

func (l *CommandList) BeginDebugMarker(r, g, b float32, name string) {
	l.d.logger.LogDebug("begin marker %q", name)
}

func (l *CommandList) EndDebugMarker() {}

func (l *CommandList) AddDebugMarker(r, g, b float32, name string) {
	l.d.logger.LogDebug("marker %q", name)
}

var _ backend.CommandList = (*CommandList)(nil)
