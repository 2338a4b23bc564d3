package vulkan

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/heap"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

type VulkanCommandPool struct {
	d         *Device
	Handle    vk.CommandPool
	transient bool
	mu        sync.Mutex
	lists     []*VulkanCommandBuffer
}

func (d *Device) CreateCommandPool(queue backend.Queue, transient bool) (backend.CommandPool, error) {
	q, ok := queue.(*VulkanQueue)
	if !ok {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "not a vulkan queue: %T", queue)
	}
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: q.Family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if transient {
		poolCreateInfo.Flags |= vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit)
	}
	p := &VulkanCommandPool{d: d, transient: transient}
	if err := d.context.locks.SafeCall(CommandPoolManagement, func() error {
		return check(vk.CreateCommandPool(d.device(), &poolCreateInfo, d.context.Allocator, &p.Handle), "vkCreateCommandPool")
	}); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *VulkanCommandPool) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := check(vk.ResetCommandPool(p.d.device(), p.Handle, 0), "vkResetCommandPool"); err != nil {
		return err
	}
	for _, l := range p.lists {
		l.Reset()
	}
	return nil
}

func (p *VulkanCommandPool) Allocate(secondary bool) (backend.CommandList, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	level := vk.CommandBufferLevelPrimary
	if secondary {
		level = vk.CommandBufferLevelSecondary
	}
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.Handle,
		CommandBufferCount: 1,
		Level:              level,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if err := check(vk.AllocateCommandBuffers(p.d.device(), &allocateInfo, buffers), "vkAllocateCommandBuffers"); err != nil {
		return nil, err
	}
	l := &VulkanCommandBuffer{
		d:         p.d,
		pool:      p,
		Handle:    buffers[0],
		State:     COMMAND_BUFFER_STATE_READY,
		secondary: secondary,
	}
	p.lists = append(p.lists, l)
	return l, nil
}

func (p *VulkanCommandPool) Free(list backend.CommandList) {
	l, ok := list.(*VulkanCommandBuffer)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cl := range p.lists {
		if cl == l {
			p.lists = append(p.lists[:i], p.lists[i+1:]...)
			break
		}
	}
	vk.FreeCommandBuffers(p.d.device(), p.Handle, 1, []vk.CommandBuffer{l.Handle})
	l.Handle = nil
	l.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

// Destroy frees the pool and every command list allocated from it.
func (p *VulkanCommandPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Handle == nil {
		return
	}
	_ = p.d.context.locks.SafeCall(CommandPoolManagement, func() error {
		vk.DestroyCommandPool(p.d.device(), p.Handle, p.d.context.Allocator)
		return nil
	})
	for _, l := range p.lists {
		l.Handle = nil
		l.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
	}
	p.lists = nil
	p.Handle = nil
}

// VulkanCommandBuffer records straight into a native command buffer.
// Render passes begin in BindRenderTargets and end implicitly before any
// command that is not allowed inside one. Image layouts are tracked at record
// time, so lists touching the same image must be submitted in record order.
type VulkanCommandBuffer struct {
	d         *Device
	pool      *VulkanCommandPool
	Handle    vk.CommandBuffer
	State     VulkanCommandBufferState
	secondary bool

	// err collects recording errors and is returned by End.
	err error
}

func (l *VulkanCommandBuffer) fail(err error) {
	l.d.logger.LogError("vulkan command list: %s", err.Error())
	l.err = errors.CombineErrors(l.err, err)
}

func (l *VulkanCommandBuffer) Begin() error {
	if l.Handle == nil {
		return errors.Wrap(core.ErrInvalidState, "command list was freed")
	}
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if l.pool.transient {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if l.secondary {
		beginInfo.PInheritanceInfo = []vk.CommandBufferInheritanceInfo{{
			SType: vk.StructureTypeCommandBufferInheritanceInfo,
		}}
	}
	if err := check(vk.BeginCommandBuffer(l.Handle, &beginInfo), "vkBeginCommandBuffer"); err != nil {
		return err
	}
	l.err = nil
	l.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (l *VulkanCommandBuffer) End() error {
	l.endPass()
	if err := check(vk.EndCommandBuffer(l.Handle), "vkEndCommandBuffer"); err != nil {
		return err
	}
	l.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return l.err
}

func (l *VulkanCommandBuffer) UpdateSubmitted() {
	l.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (l *VulkanCommandBuffer) Reset() {
	l.State = COMMAND_BUFFER_STATE_READY
	l.err = nil
}

func (l *VulkanCommandBuffer) endPass() {
	if l.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		vk.CmdEndRenderPass(l.Handle)
		l.State = COMMAND_BUFFER_STATE_RECORDING
	}
}

// SetDescriptorHeaps is a no-op: descriptor sets carry their own storage.
func (l *VulkanCommandBuffer) SetDescriptorHeaps(view, sampler *heap.Heap) {}

// SetRootSignature is a no-op: the pipeline layout is given per bind.
func (l *VulkanCommandBuffer) SetRootSignature(pipelineType metadata.PipelineType, signature interface{}) {}

func (l *VulkanCommandBuffer) BindPipeline(pipeline interface{}) {
	p, ok := pipeline.(*VulkanPipeline)
	if !ok {
		l.fail(errors.Wrapf(core.ErrInvalidArgument, "not a vulkan pipeline: %T", pipeline))
		return
	}
	vk.CmdBindPipeline(l.Handle, p.BindPoint, p.Handle)
}

func (l *VulkanCommandBuffer) SetRootTable(bind backend.TableBind) {
	sig, ok := bind.Signature.(*VulkanSignature)
	if !ok {
		l.fail(errors.Wrapf(core.ErrInvalidArgument, "not a vulkan root signature: %T", bind.Signature))
		return
	}
	t, ok := bind.Table.(*VulkanTableArray)
	if !ok || bind.TableIndex >= uint32(len(t.Sets)) {
		l.fail(errors.Wrapf(core.ErrInvalidArgument, "table %d is not a descriptor set of slot %d", bind.TableIndex, bind.Slot))
		return
	}
	// Dynamic descriptors are bound at offset zero.
	offsets := make([]uint32, sig.dynamic[bind.Slot])
	vk.CmdBindDescriptorSets(l.Handle, sig.BindPoint, sig.Handle, bind.Slot, 1,
		[]vk.DescriptorSet{t.Sets[bind.TableIndex]}, uint32(len(offsets)), offsets)
}

func (l *VulkanCommandBuffer) PushConstants(pipelineType metadata.PipelineType, signature interface{}, param backend.RootParameter, offset uint32, data []byte) {
	sig, ok := signature.(*VulkanSignature)
	if !ok {
		l.fail(errors.Wrapf(core.ErrInvalidArgument, "not a vulkan root signature: %T", signature))
		return
	}
	if len(data) == 0 || param.Range >= len(sig.layout.PushConstants) {
		return
	}
	pc := sig.layout.PushConstants[param.Range]
	// offset is relative to the range.
	vk.CmdPushConstants(l.Handle, sig.Handle, stageFlags(pc.StageFlags, pipelineType),
		param.Offset+offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

// attachmentView returns the image view an RTV or DSV slot holds.
func attachmentView(a *backend.Attachment) (*VulkanImage, vk.ImageView, error) {
	img, ok := a.Texture.(*VulkanImage)
	if !ok {
		return nil, nil, errors.Wrapf(core.ErrInvalidArgument, "not a vulkan texture: %T", a.Texture)
	}
	h, err := backingOf(a.Heap)
	if err != nil {
		return nil, nil, err
	}
	desc, ok := h.get(a.Index)
	if !ok || desc.Image.ImageView == nil {
		return nil, nil, errors.Wrapf(core.ErrStaleDescriptor, "%s slot %d holds no attachment view", a.Heap.Kind(), a.Index)
	}
	return img, desc.Image.ImageView, nil
}

// BindRenderTargets ends the active render pass and begins one on the given
// attachments. No attachments only ends the pass.
func (l *VulkanCommandBuffer) BindRenderTargets(colors []backend.Attachment, depth *backend.Attachment, load *metadata.LoadActionsDesc) {
	l.endPass()
	if len(colors) == 0 && depth == nil {
		return
	}
	if load == nil {
		load = &metadata.LoadActionsDesc{LoadActionDepth: metadata.LoadActionLoad, LoadActionStencil: metadata.LoadActionLoad}
		for i := range load.LoadActionsColor {
			load.LoadActionsColor[i] = metadata.LoadActionLoad
		}
	}

	key := renderpassKey{colorCount: len(colors), depth: vk.FormatUndefined, samples: vk.SampleCount1Bit}
	fbKey := framebufferKey{count: len(colors)}
	images := make([]*VulkanImage, 0, len(colors)+1)
	clearValues := make([]vk.ClearValue, 0, len(colors)+1)
	var width, height uint32

	for i := range colors {
		img, view, err := attachmentView(&colors[i])
		if err != nil {
			l.fail(err)
			return
		}
		l.transition(img, vk.ImageLayoutColorAttachmentOptimal)
		key.colors[i] = img.Format
		key.colorLoad[i] = loadOp(load.LoadActionsColor[i])
		key.samples = img.samples
		fbKey.attachments[i] = view
		images = append(images, img)
		width, height = metadata.MipExtent(img.Width, colors[i].Mip), metadata.MipExtent(img.Height, colors[i].Mip)

		c := load.ClearColorValues[i]
		var cv vk.ClearValue
		cv.SetColor([]float32{c.R, c.G, c.B, c.A})
		clearValues = append(clearValues, cv)
	}
	if depth != nil {
		img, view, err := attachmentView(depth)
		if err != nil {
			l.fail(err)
			return
		}
		l.transition(img, vk.ImageLayoutDepthStencilAttachmentOptimal)
		key.depth = img.Format
		key.depthLoad = loadOp(load.LoadActionDepth)
		key.stencilLoad = loadOp(load.LoadActionStencil)
		key.samples = img.samples
		fbKey.attachments[fbKey.count] = view
		fbKey.count++
		images = append(images, img)
		width, height = metadata.MipExtent(img.Width, depth.Mip), metadata.MipExtent(img.Height, depth.Mip)

		var cv vk.ClearValue
		cv.SetDepthStencil(load.ClearDepth.Depth, load.ClearDepth.Stencil)
		clearValues = append(clearValues, cv)
	}

	renderpass, err := l.d.renderpasses.get(key)
	if err != nil {
		l.fail(err)
		return
	}
	fbKey.renderpass = renderpass
	fbKey.width, fbKey.height = width, height
	framebuffer, err := l.d.framebuffers.get(fbKey, images)
	if err != nil {
		l.fail(err)
		return
	}

	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  renderpass,
		Framebuffer: framebuffer,
		RenderArea: vk.Rect2D{
			Extent: vk.Extent2D{Width: width, Height: height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(l.Handle, &beginInfo, vk.SubpassContentsInline)
	l.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS

	l.SetViewport(0, 0, float32(width), float32(height), 0, 1)
	l.SetScissor(0, 0, width, height)
}

func (l *VulkanCommandBuffer) SetViewport(x, y, width, height, minDepth, maxDepth float32) {
	vk.CmdSetViewport(l.Handle, 0, 1, []vk.Viewport{{
		X: x, Y: y, Width: width, Height: height, MinDepth: minDepth, MaxDepth: maxDepth,
	}})
}

func (l *VulkanCommandBuffer) SetScissor(x, y, width, height uint32) {
	vk.CmdSetScissor(l.Handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: int32(x), Y: int32(y)},
		Extent: vk.Extent2D{Width: width, Height: height},
	}})
}

// BindVertexBuffers ignores strides: they are baked into the pipeline.
func (l *VulkanCommandBuffer) BindVertexBuffers(buffers []interface{}, strides []uint32, offsets []uint64) {
	handles := make([]vk.Buffer, len(buffers))
	offs := make([]vk.DeviceSize, len(buffers))
	for i, b := range buffers {
		vb, ok := b.(*VulkanBuffer)
		if !ok {
			l.fail(errors.Wrapf(core.ErrInvalidArgument, "vertex buffer %d: not a vulkan buffer: %T", i, b))
			return
		}
		handles[i] = vb.Handle
		if i < len(offsets) {
			offs[i] = vk.DeviceSize(offsets[i])
		}
	}
	if len(handles) > 0 {
		vk.CmdBindVertexBuffers(l.Handle, 0, uint32(len(handles)), handles, offs)
	}
}

func (l *VulkanCommandBuffer) BindIndexBuffer(buffer interface{}, indexType metadata.IndexType, offset uint64) {
	b, ok := buffer.(*VulkanBuffer)
	if !ok {
		l.fail(errors.Wrapf(core.ErrInvalidArgument, "not a vulkan buffer: %T", buffer))
		return
	}
	t := vk.IndexTypeUint32
	if indexType == metadata.IndexTypeUint16 {
		t = vk.IndexTypeUint16
	}
	vk.CmdBindIndexBuffer(l.Handle, b.Handle, vk.DeviceSize(offset), t)
}

func (l *VulkanCommandBuffer) inPass(op string) bool {
	if l.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		l.fail(errors.Wrapf(core.ErrInvalidState, "%s without bound render targets", op))
		return false
	}
	return true
}

func (l *VulkanCommandBuffer) Draw(vertexCount, firstVertex, instanceCount, firstInstance uint32) {
	if l.inPass("draw") {
		vk.CmdDraw(l.Handle, vertexCount, instanceCount, firstVertex, firstInstance)
	}
}

func (l *VulkanCommandBuffer) DrawIndexed(indexCount, firstIndex, instanceCount uint32, vertexOffset int32, firstInstance uint32) {
	if l.inPass("indexed draw") {
		vk.CmdDrawIndexed(l.Handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	}
}

func (l *VulkanCommandBuffer) Dispatch(x, y, z uint32) {
	l.endPass()
	vk.CmdDispatch(l.Handle, x, y, z)
}

func (l *VulkanCommandBuffer) CopyBuffer(dst interface{}, dstOffset uint64, src interface{}, srcOffset, size uint64) {
	d, ok1 := dst.(*VulkanBuffer)
	s, ok2 := src.(*VulkanBuffer)
	if !ok1 || !ok2 {
		l.fail(errors.Wrap(core.ErrInvalidArgument, "buffer copy with non vulkan buffers"))
		return
	}
	if srcOffset+size > s.size || dstOffset+size > d.size {
		l.fail(errors.Wrapf(core.ErrInvalidArgument, "copy of %d bytes out of range", size))
		return
	}
	l.endPass()
	vk.CmdCopyBuffer(l.Handle, s.Handle, d.Handle, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}})
}

// bufferImageCopy converts a subresource description. A zero region extent
// means the whole mip; zero pitches mean tightly packed.
func bufferImageCopy(img *VulkanImage, sub *metadata.SubresourceDesc) vk.BufferImageCopy {
	w := metadata.MipExtent(img.Width, sub.MipLevel)
	h := metadata.MipExtent(img.Height, sub.MipLevel)
	d := metadata.MipExtent(img.Depth, sub.MipLevel)
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
	var rowLength, imageHeight uint32
	if bpp := img.format.BytesPerPixel(); bpp > 0 && sub.RowPitch > 0 {
		rowLength = sub.RowPitch / bpp
		if sub.SlicePitch > 0 {
			imageHeight = sub.SlicePitch / sub.RowPitch
		}
	}
	aspect := img.aspect
	if img.format.IsDepth() {
		aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.BufferImageCopy{
		BufferOffset:      vk.DeviceSize(sub.BufferOffset),
		BufferRowLength:   rowLength,
		BufferImageHeight: imageHeight,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     aspect,
			MipLevel:       sub.MipLevel,
			BaseArrayLayer: sub.ArrayLayer,
			LayerCount:     1,
		},
		ImageOffset: vk.Offset3D{X: int32(r.X), Y: int32(r.Y), Z: int32(r.Z)},
		ImageExtent: vk.Extent3D{Width: r.W, Height: r.H, Depth: r.D},
	}
}

func (l *VulkanCommandBuffer) CopyBufferToTexture(dst interface{}, src interface{}, sub metadata.SubresourceDesc) {
	img, ok1 := dst.(*VulkanImage)
	b, ok2 := src.(*VulkanBuffer)
	if !ok1 || !ok2 {
		l.fail(errors.Wrap(core.ErrInvalidArgument, "texture upload with non vulkan resources"))
		return
	}
	l.endPass()
	l.transition(img, vk.ImageLayoutTransferDstOptimal)
	vk.CmdCopyBufferToImage(l.Handle, b.Handle, img.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{bufferImageCopy(img, &sub)})
}

func (l *VulkanCommandBuffer) CopyTextureToBuffer(dst interface{}, src interface{}, sub metadata.SubresourceDesc) {
	b, ok1 := dst.(*VulkanBuffer)
	img, ok2 := src.(*VulkanImage)
	if !ok1 || !ok2 {
		l.fail(errors.Wrap(core.ErrInvalidArgument, "texture readback with non vulkan resources"))
		return
	}
	l.endPass()
	l.transition(img, vk.ImageLayoutTransferSrcOptimal)
	vk.CmdCopyImageToBuffer(l.Handle, img.Handle, vk.ImageLayoutTransferSrcOptimal, b.Handle, 1, []vk.BufferImageCopy{bufferImageCopy(img, &sub)})
}

// transition moves the whole image to layout. It must be called outside a
// render pass.
func (l *VulkanCommandBuffer) transition(img *VulkanImage, layout vk.ImageLayout) {
	old := img.setLayout(layout)
	if old == layout && layout != vk.ImageLayoutGeneral {
		return
	}
	srcAccess, srcStage := layoutAccess(old)
	dstAccess, dstStage := layoutAccess(layout)
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		OldLayout:           old,
		NewLayout:           layout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.Handle,
		SubresourceRange:    img.fullRange(),
	}
	vk.CmdPipelineBarrier(l.Handle, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

const (
	shaderStages   = vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit)
	fragmentTests  = vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit)
	colorOutput    = vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	transferStage  = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	topOfPipe      = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	bottomOfPipe   = vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
	shaderReadOnly = vk.AccessFlags(vk.AccessShaderReadBit)
)

func layoutAccess(layout vk.ImageLayout) (vk.AccessFlags, vk.PipelineStageFlags) {
	switch layout {
	case vk.ImageLayoutGeneral:
		return vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit | vk.AccessTransferReadBit | vk.AccessTransferWriteBit), shaderStages | transferStage
	case vk.ImageLayoutColorAttachmentOptimal:
		return vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit), colorOutput
	case vk.ImageLayoutDepthStencilAttachmentOptimal:
		return vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit), fragmentTests
	case vk.ImageLayoutDepthStencilReadOnlyOptimal:
		return vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit) | shaderReadOnly, fragmentTests | shaderStages
	case vk.ImageLayoutShaderReadOnlyOptimal:
		return shaderReadOnly, shaderStages
	case vk.ImageLayoutTransferSrcOptimal:
		return vk.AccessFlags(vk.AccessTransferReadBit), transferStage
	case vk.ImageLayoutTransferDstOptimal:
		return vk.AccessFlags(vk.AccessTransferWriteBit), transferStage
	case vk.ImageLayoutPreinitialized:
		return vk.AccessFlags(vk.AccessHostWriteBit), vk.PipelineStageFlags(vk.PipelineStageHostBit)
	}
	return 0, topOfPipe
}

// stateLayout maps a resource state to the image layout that serves it.
func stateLayout(s metadata.ResourceState) vk.ImageLayout {
	switch {
	case s&metadata.ResourceStateUnorderedAccess != 0:
		return vk.ImageLayoutGeneral
	case s&metadata.ResourceStateRenderTarget != 0:
		return vk.ImageLayoutColorAttachmentOptimal
	case s&metadata.ResourceStateDepthWrite != 0:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case s&metadata.ResourceStateDepthRead != 0:
		return vk.ImageLayoutDepthStencilReadOnlyOptimal
	case s&metadata.ResourceStateCopyDest != 0:
		return vk.ImageLayoutTransferDstOptimal
	case s&metadata.ResourceStateCopySource != 0 && s&metadata.ResourceStateShaderResource == 0:
		return vk.ImageLayoutTransferSrcOptimal
	case s&metadata.ResourceStateShaderResource != 0:
		return vk.ImageLayoutShaderReadOnlyOptimal
	}
	return vk.ImageLayoutGeneral
}

// stateAccess maps buffer states to access and stage masks.
func stateAccess(s metadata.ResourceState) (vk.AccessFlags, vk.PipelineStageFlags) {
	var access vk.AccessFlags
	var stages vk.PipelineStageFlags
	if s&metadata.ResourceStateVertexAndConstantBuffer != 0 {
		access |= vk.AccessFlags(vk.AccessUniformReadBit | vk.AccessVertexAttributeReadBit)
		stages |= vk.PipelineStageFlags(vk.PipelineStageVertexInputBit) | shaderStages
	}
	if s&metadata.ResourceStateIndexBuffer != 0 {
		access |= vk.AccessFlags(vk.AccessIndexReadBit)
		stages |= vk.PipelineStageFlags(vk.PipelineStageVertexInputBit)
	}
	if s&metadata.ResourceStateUnorderedAccess != 0 {
		access |= vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit)
		stages |= shaderStages
	}
	if s&metadata.ResourceStateShaderResource != 0 {
		access |= shaderReadOnly
		stages |= shaderStages
	}
	if s&metadata.ResourceStateIndirectArgument != 0 {
		access |= vk.AccessFlags(vk.AccessIndirectCommandReadBit)
		stages |= vk.PipelineStageFlags(vk.PipelineStageDrawIndirectBit)
	}
	if s&metadata.ResourceStateCopyDest != 0 {
		access |= vk.AccessFlags(vk.AccessTransferWriteBit)
		stages |= transferStage
	}
	if s&metadata.ResourceStateCopySource != 0 {
		access |= vk.AccessFlags(vk.AccessTransferReadBit)
		stages |= transferStage
	}
	return access, stages
}

func (l *VulkanCommandBuffer) ResourceBarrier(buffers []backend.BufferBarrier, textures []backend.TextureBarrier) {
	if len(buffers) == 0 && len(textures) == 0 {
		return
	}
	l.endPass()
	var srcStages, dstStages vk.PipelineStageFlags
	bufferBarriers := make([]vk.BufferMemoryBarrier, 0, len(buffers))
	for _, b := range buffers {
		buf, ok := b.Buffer.(*VulkanBuffer)
		if !ok {
			l.fail(errors.Wrapf(core.ErrInvalidArgument, "not a vulkan buffer: %T", b.Buffer))
			continue
		}
		srcAccess, src := stateAccess(b.StartState)
		dstAccess, dst := stateAccess(b.EndState)
		srcStages |= src
		dstStages |= dst
		bufferBarriers = append(bufferBarriers, vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       srcAccess,
			DstAccessMask:       dstAccess,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              buf.Handle,
			Size:                vk.DeviceSize(vk.WholeSize),
		})
	}
	imageBarriers := make([]vk.ImageMemoryBarrier, 0, len(textures))
	for _, t := range textures {
		img, ok := t.Texture.(*VulkanImage)
		if !ok {
			l.fail(errors.Wrapf(core.ErrInvalidArgument, "not a vulkan texture: %T", t.Texture))
			continue
		}
		layout := stateLayout(t.EndState)
		old := img.setLayout(layout)
		srcAccess, src := layoutAccess(old)
		dstAccess, dst := layoutAccess(layout)
		srcStages |= src
		dstStages |= dst
		imageBarriers = append(imageBarriers, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       srcAccess,
			DstAccessMask:       dstAccess,
			OldLayout:           old,
			NewLayout:           layout,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.Handle,
			SubresourceRange:    img.fullRange(),
		})
	}
	if srcStages == 0 {
		srcStages = topOfPipe
	}
	if dstStages == 0 {
		dstStages = bottomOfPipe
	}
	vk.CmdPipelineBarrier(l.Handle, srcStages, dstStages, 0,
		0, nil,
		uint32(len(bufferBarriers)), bufferBarriers,
		uint32(len(imageBarriers)), imageBarriers)
}

// Debug markers are logged: the headless instance enables no debug utils.
func (l *VulkanCommandBuffer) BeginDebugMarker(r, g, b float32, name string) {
	l.d.logger.LogDebug("begin marker %q", name)
}

func (l *VulkanCommandBuffer) EndDebugMarker() {}

func (l *VulkanCommandBuffer) AddDebugMarker(r, g, b float32, name string) {
	l.d.logger.LogDebug("marker %q", name)
}

var _ backend.CommandList = (*VulkanCommandBuffer)(nil)
