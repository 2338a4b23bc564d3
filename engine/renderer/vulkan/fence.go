package vulkan

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

// fencePoll bounds a single vkWaitForFences call so Wait can notice ctx.
const fencePoll = 2 * time.Millisecond

type VulkanFence struct {
	context *VulkanContext
	Handle  vk.Fence
}

func (d *Device) CreateFence() (backend.Fence, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	f := &VulkanFence{context: d.context}
	if err := check(vk.CreateFence(d.device(), &fenceCreateInfo, d.context.Allocator, &f.Handle), "vkCreateFence"); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *VulkanFence) Status() metadata.FenceStatus {
	if vk.GetFenceStatus(f.context.Device.LogicalDevice, f.Handle) == vk.Success {
		return metadata.FenceStatusComplete
	}
	return metadata.FenceStatusIncomplete
}

func (f *VulkanFence) Wait(ctx context.Context) error {
	for {
		result := vk.WaitForFences(f.context.Device.LogicalDevice, 1, []vk.Fence{f.Handle}, vk.True, uint64(fencePoll.Nanoseconds()))
		switch result {
		case vk.Success:
			return nil
		case vk.Timeout:
			if err := ctx.Err(); err != nil {
				return errors.Wrap(core.ErrTimeout, err.Error())
			}
		case vk.ErrorDeviceLost:
			f.context.logger.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
			return check(result, "vkWaitForFences")
		default:
			return check(result, "vkWaitForFences")
		}
	}
}

func (f *VulkanFence) reset() error {
	return check(vk.ResetFences(f.context.Device.LogicalDevice, 1, []vk.Fence{f.Handle}), "vkResetFences")
}

func (f *VulkanFence) Destroy() {
	if f.Handle != nil {
		vk.DestroyFence(f.context.Device.LogicalDevice, f.Handle, f.context.Allocator)
		f.Handle = nil
	}
}
