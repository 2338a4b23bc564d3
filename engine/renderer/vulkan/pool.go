package vulkan

import "sync"

type LockGroup string

const (
	DescriptorManagement  LockGroup = "descriptor_management"
	CommandPoolManagement LockGroup = "command_pool_management"
	RenderpassManagement  LockGroup = "renderpass_management"
	PipelineManagement    LockGroup = "pipeline_management"
	MemoryManagement      LockGroup = "memory_management"
)

// VulkanLockPool serializes access to externally synchronized Vulkan objects.
// Queues are locked per queue, everything else per group.
type VulkanLockPool struct {
	mu     sync.Mutex
	locks  map[LockGroup]*sync.Mutex
	queues map[queueKey]*sync.Mutex
}

type queueKey struct {
	family, index uint32
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		locks:  make(map[LockGroup]*sync.Mutex),
		queues: make(map[queueKey]*sync.Mutex),
	}
}

func (vs *VulkanLockPool) groupLock(group LockGroup) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	l, ok := vs.locks[group]
	if !ok {
		l = &sync.Mutex{}
		vs.locks[group] = l
	}
	return l
}

func (vs *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := vs.groupLock(group)
	l.Lock()
	defer l.Unlock()
	return fn()
}

func (vs *VulkanLockPool) queueLock(family, index uint32) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	k := queueKey{family, index}
	l, ok := vs.queues[k]
	if !ok {
		l = &sync.Mutex{}
		vs.queues[k] = l
	}
	return l
}

// SafeQueueCall runs fn while holding the lock of one device queue.
func (vs *VulkanLockPool) SafeQueueCall(family, index uint32, fn func() error) error {
	l := vs.queueLock(family, index)
	l.Lock()
	defer l.Unlock()
	return fn()
}
