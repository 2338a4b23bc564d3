package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

// VulkanQueryPool stores one 64 bit result per query. Pipeline statistics
// pools count vertex shader invocations.
type VulkanQueryPool struct {
	Handle  vk.QueryPool
	Type    metadata.QueryType
	Count   uint32
	precise bool
}

func (d *Device) CreateQueryPool(desc metadata.QueryPoolDesc) (interface{}, error) {
	if desc.Count == 0 {
		return nil, errors.Wrap(core.ErrInvalidArgument, "query pool with no queries")
	}
	createInfo := vk.QueryPoolCreateInfo{
		SType:      vk.StructureTypeQueryPoolCreateInfo,
		QueryCount: desc.Count,
	}
	p := &VulkanQueryPool{Type: desc.Type, Count: desc.Count}
	switch desc.Type {
	case metadata.QueryTypeTimestamp:
		if d.context.Device.TimestampBits == 0 {
			return nil, errors.Wrap(core.ErrUnsupported, "the queue family does not support timestamps")
		}
		createInfo.QueryType = vk.QueryTypeTimestamp
	case metadata.QueryTypePipelineStatistics:
		if d.context.Device.Features.PipelineStatisticsQuery != vk.True {
			return nil, errors.Wrap(core.ErrUnsupported, "pipeline statistics queries are not supported")
		}
		createInfo.QueryType = vk.QueryTypePipelineStatistics
		createInfo.PipelineStatistics = vk.QueryPipelineStatisticFlags(vk.QueryPipelineStatisticVertexShaderInvocationsBit)
	case metadata.QueryTypeOcclusion:
		createInfo.QueryType = vk.QueryTypeOcclusion
		p.precise = d.context.Device.Features.OcclusionQueryPrecise == vk.True
	case metadata.QueryTypeBinaryOcclusion:
		createInfo.QueryType = vk.QueryTypeOcclusion
	default:
		return nil, errors.Wrapf(core.ErrInvalidArgument, "unknown query type %d", desc.Type)
	}
	if err := check(vk.CreateQueryPool(d.device(), &createInfo, d.context.Allocator, &p.Handle), "vkCreateQueryPool"); err != nil {
		return nil, err
	}
	return p, nil
}

func (d *Device) DestroyQueryPool(pool interface{}) {
	p, ok := pool.(*VulkanQueryPool)
	if !ok || p.Handle == nil {
		return
	}
	vk.DestroyQueryPool(d.device(), p.Handle, d.context.Allocator)
	p.Handle = nil
	d.forget(p)
}

func queryPoolOf(pool interface{}, start, count uint32) (*VulkanQueryPool, error) {
	p, ok := pool.(*VulkanQueryPool)
	if !ok {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "not a vulkan query pool: %T", pool)
	}
	if start+count > p.Count {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "queries %d..%d outside pool of %d", start, start+count, p.Count)
	}
	return p, nil
}

func (l *VulkanCommandBuffer) ResetQueryPool(pool interface{}, start, count uint32) {
	p, err := queryPoolOf(pool, start, count)
	if err != nil {
		l.fail(err)
		return
	}
	l.endPass()
	vk.CmdResetQueryPool(l.Handle, p.Handle, start, count)
}

// BeginQuery writes the start timestamp of timestamp pools.
func (l *VulkanCommandBuffer) BeginQuery(pool interface{}, index uint32) {
	p, err := queryPoolOf(pool, index, 1)
	if err != nil {
		l.fail(err)
		return
	}
	if p.Type == metadata.QueryTypeTimestamp {
		vk.CmdWriteTimestamp(l.Handle, vk.PipelineStageTopOfPipeBit, p.Handle, index)
		return
	}
	var flags vk.QueryControlFlags
	if p.precise {
		flags = vk.QueryControlFlags(vk.QueryControlPreciseBit)
	}
	vk.CmdBeginQuery(l.Handle, p.Handle, index, flags)
}

func (l *VulkanCommandBuffer) EndQuery(pool interface{}, index uint32) {
	p, err := queryPoolOf(pool, index, 1)
	if err != nil {
		l.fail(err)
		return
	}
	if p.Type == metadata.QueryTypeTimestamp {
		vk.CmdWriteTimestamp(l.Handle, vk.PipelineStageBottomOfPipeBit, p.Handle, index)
		return
	}
	vk.CmdEndQuery(l.Handle, p.Handle, index)
}

// ResolveQuery copies count 64 bit results into dst.
func (l *VulkanCommandBuffer) ResolveQuery(pool interface{}, start, count uint32, dst interface{}, dstOffset uint64) {
	p, err := queryPoolOf(pool, start, count)
	if err != nil {
		l.fail(err)
		return
	}
	b, ok := dst.(*VulkanBuffer)
	if !ok {
		l.fail(errors.Wrapf(core.ErrInvalidArgument, "not a vulkan buffer: %T", dst))
		return
	}
	if dstOffset+uint64(count)*8 > b.size {
		l.fail(errors.Wrap(core.ErrInvalidArgument, "query resolve out of range"))
		return
	}
	l.endPass()
	flags := vk.QueryResultFlags(vk.QueryResult64Bit | vk.QueryResultWaitBit)
	vk.CmdCopyQueryPoolResults(l.Handle, p.Handle, start, count, b.Handle, vk.DeviceSize(dstOffset), 8, flags)
}
