package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/rei/engine/core"
)

// VulkanContext holds the instance level state shared by every object the
// device creates.
type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks

	// Only set when validation is enabled.
	debugCallback vk.DebugReportCallback

	Device *VulkanDevice

	locks  *VulkanLockPool
	logger *core.Logger
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that
// has every flag in propertyFlags.
func (vc *VulkanContext) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) (uint32, error) {
	memory := vc.Device.Memory
	for i := uint32(0); i < memory.MemoryTypeCount; i++ {
		memory.MemoryTypes[i].Deref()
		if typeFilter&(1<<i) != 0 && memory.MemoryTypes[i].PropertyFlags&propertyFlags == propertyFlags {
			return i, nil
		}
	}
	return 0, errors.Wrapf(core.ErrNative, "no memory type matches filter %#x with flags %#x", typeFilter, uint32(propertyFlags))
}
