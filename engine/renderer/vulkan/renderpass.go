package vulkan

import (
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

// renderpassKey identifies a render pass. Pipelines are created against the
// key with every load op set to DontCare, which is compatible with all
// passes of the same formats.
type renderpassKey struct {
	colorCount  int
	colors      [metadata.MaxRenderTargetAttachments]vk.Format
	colorLoad   [metadata.MaxRenderTargetAttachments]vk.AttachmentLoadOp
	depth       vk.Format
	depthLoad   vk.AttachmentLoadOp
	stencilLoad vk.AttachmentLoadOp
	samples     vk.SampleCountFlagBits
}

func loadOp(l metadata.LoadActionType) vk.AttachmentLoadOp {
	switch l {
	case metadata.LoadActionLoad:
		return vk.AttachmentLoadOpLoad
	case metadata.LoadActionClear:
		return vk.AttachmentLoadOpClear
	}
	return vk.AttachmentLoadOpDontCare
}

type renderpassCache struct {
	context *VulkanContext
	mu      sync.Mutex
	passes  map[renderpassKey]vk.RenderPass
}

func newRenderpassCache(context *VulkanContext) *renderpassCache {
	return &renderpassCache{
		context: context,
		passes:  make(map[renderpassKey]vk.RenderPass),
	}
}

func (c *renderpassCache) get(key renderpassKey) (vk.RenderPass, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rp, ok := c.passes[key]; ok {
		return rp, nil
	}
	rp, err := c.create(&key)
	if err != nil {
		return nil, err
	}
	c.passes[key] = rp
	return rp, nil
}

// create builds a single subpass render pass. Attachments are transitioned to
// their attachment layout before the pass begins and stay in it afterwards.
func (c *renderpassCache) create(key *renderpassKey) (vk.RenderPass, error) {
	attachments := make([]vk.AttachmentDescription, 0, key.colorCount+1)
	colorRefs := make([]vk.AttachmentReference, 0, key.colorCount)
	for i := 0; i < key.colorCount; i++ {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         key.colors[i],
			Samples:        key.samples,
			LoadOp:         key.colorLoad[i],
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutColorAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
		})
		colorRefs = append(colorRefs, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}
	if key.depth != vk.FormatUndefined {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         key.depth,
			Samples:        key.samples,
			LoadOp:         key.depthLoad,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  key.stencilLoad,
			StencilStoreOp: vk.AttachmentStoreOpStore,
			InitialLayout:  vk.ImageLayoutDepthStencilAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(key.colorCount),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit | vk.AccessDepthStencilAttachmentWriteBit),
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var rp vk.RenderPass
	err := c.context.locks.SafeCall(RenderpassManagement, func() error {
		return check(vk.CreateRenderPass(c.context.Device.LogicalDevice, &renderpassCreateInfo, c.context.Allocator, &rp), "vkCreateRenderPass")
	})
	if err != nil {
		return nil, err
	}
	c.context.logger.LogDebug("Render pass created with %d color attachments.", key.colorCount)
	return rp, nil
}

func (c *renderpassCache) destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, rp := range c.passes {
		vk.DestroyRenderPass(c.context.Device.LogicalDevice, rp, c.context.Allocator)
		delete(c.passes, key)
	}
}
