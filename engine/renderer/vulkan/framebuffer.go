package vulkan

import (
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

type framebufferKey struct {
	renderpass    vk.RenderPass
	count         int
	attachments   [metadata.MaxRenderTargetAttachments + 1]vk.ImageView
	width, height uint32
}

type VulkanFramebuffer struct {
	Handle vk.Framebuffer
	// images whose destruction invalidates the framebuffer.
	images []*VulkanImage
}

type framebufferCache struct {
	context      *VulkanContext
	mu           sync.Mutex
	framebuffers map[framebufferKey]*VulkanFramebuffer
}

func newFramebufferCache(context *VulkanContext) *framebufferCache {
	return &framebufferCache{
		context:      context,
		framebuffers: make(map[framebufferKey]*VulkanFramebuffer),
	}
}

func (c *framebufferCache) get(key framebufferKey, images []*VulkanImage) (vk.Framebuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fb, ok := c.framebuffers[key]; ok {
		return fb.Handle, nil
	}

	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      key.renderpass,
		AttachmentCount: uint32(key.count),
		PAttachments:    append([]vk.ImageView(nil), key.attachments[:key.count]...),
		Width:           key.width,
		Height:          key.height,
		Layers:          1,
	}
	var handle vk.Framebuffer
	if err := check(vk.CreateFramebuffer(c.context.Device.LogicalDevice, &framebufferCreateInfo, c.context.Allocator, &handle), "vkCreateFramebuffer"); err != nil {
		return nil, err
	}
	c.framebuffers[key] = &VulkanFramebuffer{Handle: handle, images: images}
	return handle, nil
}

// evict destroys every framebuffer that references img.
func (c *framebufferCache) evict(img *VulkanImage) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, fb := range c.framebuffers {
		for _, i := range fb.images {
			if i == img {
				vk.DestroyFramebuffer(c.context.Device.LogicalDevice, fb.Handle, c.context.Allocator)
				delete(c.framebuffers, key)
				break
			}
		}
	}
}

func (c *framebufferCache) destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, fb := range c.framebuffers {
		vk.DestroyFramebuffer(c.context.Device.LogicalDevice, fb.Handle, c.context.Allocator)
		delete(c.framebuffers, key)
	}
}
