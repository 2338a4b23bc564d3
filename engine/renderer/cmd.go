package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/rei/engine/containers"
	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

type CmdState int

const (
	COMMAND_BUFFER_STATE_READY CmdState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// cmdRecycleDepth bounds how many freed command lists a pool keeps.
const cmdRecycleDepth = 16

// CmdPool allocates command buffers for one queue. A pool is used from one
// goroutine at a time.
type CmdPool struct {
	r         *Renderer
	queue     *Queue
	native    backend.CommandPool
	transient bool
	recycled  *containers.RingQueue[backend.CommandList]
	live      map[*Cmd]struct{}
}

func (r *Renderer) AddCmdPool(queue *Queue, transient bool) (*CmdPool, error) {
	if err := r.assert.Check(queue != nil && queue.native != nil, core.ErrInvalidArgument, "command pool needs a queue"); err != nil {
		return nil, err
	}
	native, err := r.device.CreateCommandPool(queue.native, transient)
	if err != nil {
		return nil, errors.Wrap(err, "creating command pool")
	}
	return &CmdPool{
		r:         r,
		queue:     queue,
		native:    native,
		transient: transient,
		recycled:  containers.NewRingQueue[backend.CommandList](cmdRecycleDepth),
		live:      make(map[*Cmd]struct{}),
	}, nil
}

// Reset makes every command buffer of the pool ready for recording again.
func (p *CmdPool) Reset() error {
	if err := p.native.Reset(); err != nil {
		return errors.Wrap(err, "resetting command pool")
	}
	for c := range p.live {
		c.State = COMMAND_BUFFER_STATE_READY
	}
	return nil
}

// AddCmd returns a command buffer, reusing a previously removed one when
// possible.
func (p *CmdPool) AddCmd(secondary bool) (*Cmd, error) {
	var list backend.CommandList
	if !secondary && !p.recycled.IsEmpty() {
		list, _ = p.recycled.Dequeue()
	} else {
		var err error
		if list, err = p.native.Allocate(secondary); err != nil {
			return nil, errors.Wrap(err, "allocating command buffer")
		}
	}
	c := &Cmd{
		r:         p.r,
		pool:      p,
		native:    list,
		secondary: secondary,
		State:     COMMAND_BUFFER_STATE_READY,
	}
	p.live[c] = struct{}{}
	return c, nil
}

func (p *CmdPool) RemoveCmd(c *Cmd) {
	if c == nil || c.State == COMMAND_BUFFER_STATE_NOT_ALLOCATED {
		return
	}
	delete(p.live, c)
	if c.secondary || p.recycled.Enqueue(c.native) != nil {
		p.native.Free(c.native)
	}
	c.native = nil
	c.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

// Recycle removes every live command buffer, then resets the pool. The
// command buffers must no longer be in flight.
func (p *CmdPool) Recycle() error {
	for c := range p.live {
		p.RemoveCmd(c)
	}
	return p.Reset()
}

func (r *Renderer) RemoveCmdPool(p *CmdPool) {
	if p == nil || p.native == nil {
		return
	}
	for c := range p.live {
		p.RemoveCmd(c)
	}
	for !p.recycled.IsEmpty() {
		list, _ := p.recycled.Dequeue()
		p.native.Free(list)
	}
	p.native.Destroy()
	p.native = nil
}

// CmdStats counts the native calls a command buffer emitted since Begin.
type CmdStats struct {
	PipelineBinds  int
	SignatureBinds int
	HeapBinds      int
	TableBinds     int
	PushConstants  int
	Draws          int
	Dispatches     int
}

// Cmd records commands and filters redundant pipeline, signature and heap
// bindings.
type Cmd struct {
	r         *Renderer
	pool      *CmdPool
	native    backend.CommandList
	secondary bool
	State     CmdState

	pipeline     *Pipeline
	signature    *RootSignature
	viewStart    uint64
	samplerStart uint64

	stats CmdStats
}

func (c *Cmd) Stats() CmdStats {
	return c.stats
}

func (c *Cmd) recording() error {
	return c.r.assert.Check(c.State == COMMAND_BUFFER_STATE_RECORDING, core.ErrInvalidState,
		"command buffer is not recording (state=%d)", c.State)
}

func (c *Cmd) Begin() error {
	if err := c.r.assert.Check(c.State != COMMAND_BUFFER_STATE_NOT_ALLOCATED && c.State != COMMAND_BUFFER_STATE_RECORDING,
		core.ErrInvalidState, "cannot begin command buffer in state %d", c.State); err != nil {
		return err
	}
	if err := c.native.Begin(); err != nil {
		return errors.Wrap(err, "beginning command buffer")
	}
	c.State = COMMAND_BUFFER_STATE_RECORDING
	c.stats = CmdStats{}
	c.pipeline = nil
	c.signature = nil

	view, sampler := c.r.heaps.GPUView(), c.r.heaps.GPUSampler()
	c.native.SetDescriptorHeaps(view, sampler)
	c.stats.HeapBinds++
	c.viewStart = view.GPUStart()
	c.samplerStart = sampler.GPUStart()
	return nil
}

func (c *Cmd) End() error {
	if err := c.recording(); err != nil {
		return err
	}
	if err := c.native.End(); err != nil {
		return errors.Wrap(err, "ending command buffer")
	}
	c.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

// BindPipeline binds p and its root signature. Binding the current pipeline
// again emits nothing.
func (c *Cmd) BindPipeline(p *Pipeline) error {
	if err := c.recording(); err != nil {
		return err
	}
	if err := c.r.assert.Check(p != nil && p.native != nil, core.ErrInvalidArgument, "bind of a removed pipeline"); err != nil {
		return err
	}
	if p == c.pipeline {
		return nil
	}
	if p.sig != c.signature {
		c.native.SetRootSignature(p.kind, p.sig.native)
		c.signature = p.sig
		c.stats.SignatureBinds++
	}
	c.native.BindPipeline(p.native)
	c.pipeline = p
	c.stats.PipelineBinds++
	return nil
}

// BindDescriptorTable binds table index of t. The array must be built on the
// signature of the bound pipeline.
func (c *Cmd) BindDescriptorTable(index uint32, t *DescriptorTableArray) error {
	if err := c.recording(); err != nil {
		return err
	}
	if err := c.r.assert.Check(t != nil && !t.removed, core.ErrInvalidArgument, "bind of a removed descriptor table array"); err != nil {
		return err
	}
	if err := c.r.assert.Check(t.sig == c.signature, core.ErrSignatureMismatch,
		"table array of %q bound while %q is active", t.sig.name, c.boundSignatureName()); err != nil {
		return err
	}
	if err := c.r.assert.Check(index < t.maxTables, core.ErrInvalidArgument,
		"table index %d out of range (max=%d)", index, t.maxTables); err != nil {
		return err
	}

	view, sampler := c.r.heaps.GPUView(), c.r.heaps.GPUSampler()
	if view.GPUStart() != c.viewStart || sampler.GPUStart() != c.samplerStart {
		c.native.SetDescriptorHeaps(view, sampler)
		c.viewStart = view.GPUStart()
		c.samplerStart = sampler.GPUStart()
		c.stats.HeapBinds++
	}
	c.native.SetRootTable(t.bind(index))
	c.stats.TableBinds++
	return nil
}

func (c *Cmd) boundSignatureName() string {
	if c.signature == nil {
		return "none"
	}
	return c.signature.name
}

// BindPushConstants writes data at byte offset of the range registered for
// stage in sig.
func (c *Cmd) BindPushConstants(sig *RootSignature, stage metadata.ShaderStage, offset uint32, data []byte) error {
	if err := c.recording(); err != nil {
		return err
	}
	if err := c.r.assert.Check(sig != nil, core.ErrInvalidArgument, "push constants without a root signature"); err != nil {
		return err
	}
	if err := c.r.assert.Check(sig == c.signature, core.ErrSignatureMismatch,
		"push constants for signature %q while %q is bound", sig.name, c.boundSignatureName()); err != nil {
		return err
	}
	rng, root, ok := sig.layout.PushConstantRange(stage)
	if err := c.r.assert.Check(ok, core.ErrInvalidArgument, "signature %q has no push constants for stage %#x", sig.name, uint32(stage)); err != nil {
		return err
	}
	if err := c.r.assert.Check(offset%4 == 0 && len(data)%4 == 0 && offset+uint32(len(data)) <= rng.Size, core.ErrInvalidArgument,
		"push constants [%d:%d] outside range of %d bytes", offset, offset+uint32(len(data)), rng.Size); err != nil {
		return err
	}
	c.native.PushConstants(sig.layout.PipelineType, sig.native, sig.layout.Parameters[root], offset, data)
	c.stats.PushConstants++
	return nil
}

// RenderTargetBinding selects one mip and slice of a render target texture.
type RenderTargetBinding struct {
	Texture *Texture
	Mip     uint32
	Slice   uint32
}

func (c *Cmd) BindRenderTargets(colors []RenderTargetBinding, depth *RenderTargetBinding, load *metadata.LoadActionsDesc) error {
	if err := c.recording(); err != nil {
		return err
	}
	if err := c.r.assert.Check(len(colors) <= metadata.MaxRenderTargetAttachments, core.ErrInvalidArgument,
		"%d color targets bound", len(colors)); err != nil {
		return err
	}
	attachments := make([]backend.Attachment, 0, len(colors))
	for _, rt := range colors {
		a, err := rt.Texture.attachment(rt.Mip, rt.Slice)
		if err != nil {
			return err
		}
		attachments = append(attachments, a)
	}
	var ds *backend.Attachment
	if depth != nil {
		a, err := depth.Texture.attachment(depth.Mip, depth.Slice)
		if err != nil {
			return err
		}
		ds = &a
	}
	c.native.BindRenderTargets(attachments, ds, load)
	return nil
}

func (c *Cmd) SetViewport(x, y, width, height, minDepth, maxDepth float32) {
	c.native.SetViewport(x, y, width, height, minDepth, maxDepth)
}

func (c *Cmd) SetScissor(x, y, width, height uint32) {
	c.native.SetScissor(x, y, width, height)
}

func (c *Cmd) BindVertexBuffers(buffers []*Buffer, strides []uint32, offsets []uint64) error {
	if err := c.r.assert.Check(len(buffers) <= metadata.MaxVertexBindings && len(strides) == len(buffers),
		core.ErrInvalidArgument, "%d vertex buffers with %d strides", len(buffers), len(strides)); err != nil {
		return err
	}
	natives := make([]interface{}, len(buffers))
	for i, b := range buffers {
		natives[i] = b.native
	}
	if offsets == nil {
		offsets = make([]uint64, len(buffers))
	}
	c.native.BindVertexBuffers(natives, strides, offsets)
	return nil
}

func (c *Cmd) BindIndexBuffer(b *Buffer, indexType metadata.IndexType, offset uint64) {
	c.native.BindIndexBuffer(b.native, indexType, offset)
}

func (c *Cmd) Draw(vertexCount, firstVertex uint32) {
	c.DrawInstanced(vertexCount, firstVertex, 1, 0)
}

func (c *Cmd) DrawInstanced(vertexCount, firstVertex, instanceCount, firstInstance uint32) {
	c.native.Draw(vertexCount, firstVertex, instanceCount, firstInstance)
	c.stats.Draws++
}

func (c *Cmd) DrawIndexed(indexCount, firstIndex uint32, firstVertex int32) {
	c.DrawIndexedInstanced(indexCount, firstIndex, 1, firstVertex, 0)
}

func (c *Cmd) DrawIndexedInstanced(indexCount, firstIndex, instanceCount uint32, firstVertex int32, firstInstance uint32) {
	c.native.DrawIndexed(indexCount, firstIndex, instanceCount, firstVertex, firstInstance)
	c.stats.Draws++
}

func (c *Cmd) Dispatch(x, y, z uint32) {
	c.native.Dispatch(x, y, z)
	c.stats.Dispatches++
}

func (c *Cmd) CopyBuffer(dst *Buffer, dstOffset uint64, src *Buffer, srcOffset, size uint64) error {
	if err := c.r.assert.Check(srcOffset+size <= src.desc.Size && dstOffset+size <= dst.desc.Size, core.ErrInvalidArgument,
		"copy of %d bytes out of bounds (src %d/%d, dst %d/%d)", size, srcOffset, src.desc.Size, dstOffset, dst.desc.Size); err != nil {
		return err
	}
	c.native.CopyBuffer(dst.native, dstOffset, src.native, srcOffset, size)
	return nil
}

func (c *Cmd) CopyBufferToTexture(dst *Texture, src *Buffer, sub metadata.SubresourceDesc) error {
	if err := c.checkSubresource(dst, sub); err != nil {
		return err
	}
	c.native.CopyBufferToTexture(dst.native, src.native, sub)
	return nil
}

func (c *Cmd) CopyTextureToBuffer(dst *Buffer, src *Texture, sub metadata.SubresourceDesc) error {
	if err := c.checkSubresource(src, sub); err != nil {
		return err
	}
	c.native.CopyTextureToBuffer(dst.native, src.native, sub)
	return nil
}

func (c *Cmd) checkSubresource(t *Texture, sub metadata.SubresourceDesc) error {
	return c.r.assert.Check(sub.MipLevel < t.desc.MipLevels && sub.ArrayLayer < t.desc.ArraySize, core.ErrInvalidArgument,
		"texture %q has no mip %d layer %d", t.name, sub.MipLevel, sub.ArrayLayer)
}

type BufferBarrier struct {
	Buffer   *Buffer
	NewState metadata.ResourceState
}

type TextureBarrier struct {
	Texture  *Texture
	NewState metadata.ResourceState
}

// ResourceBarrier transitions resources from their tracked state.
func (c *Cmd) ResourceBarrier(buffers []BufferBarrier, textures []TextureBarrier) {
	bb := make([]backend.BufferBarrier, 0, len(buffers))
	for _, b := range buffers {
		bb = append(bb, backend.BufferBarrier{Buffer: b.Buffer.native, StartState: b.Buffer.state, EndState: b.NewState})
		b.Buffer.state = b.NewState
	}
	tb := make([]backend.TextureBarrier, 0, len(textures))
	for _, t := range textures {
		tb = append(tb, backend.TextureBarrier{Texture: t.Texture.native, StartState: t.Texture.state, EndState: t.NewState})
		t.Texture.state = t.NewState
	}
	c.native.ResourceBarrier(bb, tb)
}

func (c *Cmd) ResetQueryPool(p *QueryPool, start, count uint32) {
	c.native.ResetQueryPool(p.native, start, count)
}

func (c *Cmd) BeginQuery(p *QueryPool, index uint32) {
	c.native.BeginQuery(p.native, index)
}

func (c *Cmd) EndQuery(p *QueryPool, index uint32) {
	c.native.EndQuery(p.native, index)
}

// ResolveQuery writes count uint64 results starting at dstOffset of dst.
func (c *Cmd) ResolveQuery(p *QueryPool, start, count uint32, dst *Buffer, dstOffset uint64) error {
	if err := c.r.assert.Check(start+count <= p.desc.Count && dstOffset+uint64(count)*8 <= dst.desc.Size, core.ErrInvalidArgument,
		"resolve of queries [%d:%d] does not fit", start, start+count); err != nil {
		return err
	}
	c.native.ResolveQuery(p.native, start, count, dst.native, dstOffset)
	return nil
}

func (c *Cmd) BeginDebugMarker(r, g, b float32, name string) {
	c.native.BeginDebugMarker(r, g, b, name)
}

func (c *Cmd) EndDebugMarker() {
	c.native.EndDebugMarker()
}

func (c *Cmd) AddDebugMarker(r, g, b float32, name string) {
	c.native.AddDebugMarker(r, g, b, name)
}
