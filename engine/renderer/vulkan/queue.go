package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

type VulkanQueue struct {
	context *VulkanContext
	Handle  vk.Queue
	Family  uint32
	Index   uint32
	desc    metadata.QueueDesc
}

// CreateQueue hands out the queues of the selected family round robin.
// Queues sharing an index share the same native queue.
func (d *Device) CreateQueue(desc metadata.QueueDesc) (backend.Queue, error) {
	dev := d.context.Device
	d.mu.Lock()
	index := d.nextQueue % dev.QueueCount
	d.nextQueue++
	d.mu.Unlock()

	q := &VulkanQueue{
		context: d.context,
		Family:  dev.QueueFamilyIndex,
		Index:   index,
		desc:    desc,
	}
	vk.GetDeviceQueue(d.device(), q.Family, q.Index, &q.Handle)
	if q.Handle == nil {
		return nil, errors.Wrapf(core.ErrNative, "no queue %d in family %d", q.Index, q.Family)
	}
	d.logger.LogDebug("Queue %d of family %d obtained.", q.Index, q.Family)
	return q, nil
}

func (q *VulkanQueue) Submit(lists []backend.CommandList, signal backend.Fence) error {
	buffers := make([]vk.CommandBuffer, 0, len(lists))
	for _, l := range lists {
		cl, ok := l.(*VulkanCommandBuffer)
		if !ok {
			return errors.Wrapf(core.ErrInvalidArgument, "not a vulkan command list: %T", l)
		}
		if cl.secondary {
			return errors.Wrap(core.ErrInvalidState, "secondary command lists cannot be submitted")
		}
		if cl.State != COMMAND_BUFFER_STATE_RECORDING_ENDED && cl.State != COMMAND_BUFFER_STATE_SUBMITTED {
			return errors.Wrap(core.ErrInvalidState, "submitting a command list that was not ended")
		}
		buffers = append(buffers, cl.Handle)
	}

	var fence vk.Fence
	if signal != nil {
		f, ok := signal.(*VulkanFence)
		if !ok {
			return errors.Wrapf(core.ErrInvalidArgument, "not a vulkan fence: %T", signal)
		}
		if err := f.reset(); err != nil {
			return err
		}
		fence = f.Handle
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(buffers)),
		PCommandBuffers:    buffers,
	}
	if err := q.context.locks.SafeQueueCall(q.Family, q.Index, func() error {
		return check(vk.QueueSubmit(q.Handle, 1, []vk.SubmitInfo{submitInfo}, fence), "vkQueueSubmit")
	}); err != nil {
		return err
	}
	for _, l := range lists {
		l.(*VulkanCommandBuffer).UpdateSubmitted()
	}
	return nil
}

func (q *VulkanQueue) WaitIdle() error {
	return q.context.locks.SafeQueueCall(q.Family, q.Index, func() error {
		return check(vk.QueueWaitIdle(q.Handle), "vkQueueWaitIdle")
	})
}

func (q *VulkanQueue) TimestampFrequency() float64 {
	period := float64(q.context.Device.Properties.Limits.TimestampPeriod)
	if period <= 0 {
		period = 1
	}
	// TimestampPeriod is in nanoseconds per tick.
	return 1e9 / period
}

// Destroy is a no-op: queues are owned by the logical device.
func (q *VulkanQueue) Destroy() {}
