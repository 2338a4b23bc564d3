package heap

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/rei/engine/containers"
	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

// Backing is the native storage behind a heap. Devices return one per heap.
type Backing interface {
	CPUStart() uint64
	// GPUStart is zero for heaps that are not shader visible.
	GPUStart() uint64
	Destroy()
}

type Desc struct {
	Kind          metadata.HeapKind
	Capacity      uint32
	ShaderVisible bool
	// Stride is the size of one descriptor in bytes.
	Stride uint32
}

// Range is a contiguous run of slots. The zero Range means "no descriptors".
type Range struct {
	Kind          metadata.HeapKind
	ShaderVisible bool
	Index         uint32
	Count         uint32
	Generation    uint32
}

func (r Range) Valid() bool {
	return r.Count > 0
}

func (r Range) End() uint32 {
	return r.Index + r.Count
}

func (r Range) String() string {
	if !r.Valid() {
		return "none"
	}
	return fmt.Sprintf("%s[%d:%d]#%d", r.Kind, r.Index, r.End(), r.Generation)
}

// Heap hands out contiguous slot ranges from a bitmask free list. First fit,
// no compaction.
type Heap struct {
	mu          sync.Mutex
	desc        Desc
	mask        *containers.Bitmask
	live        map[uint32]uint32
	generations []uint32
	backing     Backing
}

// New rounds the capacity up to a multiple of 32.
func New(desc Desc, backing Backing) *Heap {
	mask := containers.NewBitmask(int(desc.Capacity))
	desc.Capacity = uint32(mask.Len())
	return &Heap{
		desc:        desc,
		mask:        mask,
		live:        make(map[uint32]uint32),
		generations: make([]uint32, desc.Capacity),
		backing:     backing,
	}
}

func (h *Heap) Desc() Desc {
	return h.desc
}

func (h *Heap) Kind() metadata.HeapKind {
	return h.desc.Kind
}

func (h *Heap) Capacity() uint32 {
	return h.desc.Capacity
}

func (h *Heap) Backing() Backing {
	return h.backing
}

// Allocate reserves count contiguous slots. A zero count returns the zero Range.
func (h *Heap) Allocate(count uint32) (Range, error) {
	if count == 0 {
		return Range{}, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	start := h.mask.FindClearRun(int(count))
	if start < 0 {
		return Range{}, errors.Wrapf(core.ErrHeapExhausted, "%s heap: no run of %d free descriptors (used %d of %d)",
			h.desc.Kind, count, h.mask.Count(), h.desc.Capacity)
	}
	for i := start; i < start+int(count); i++ {
		h.mask.Set(i)
	}
	idx := uint32(start)
	h.live[idx] = count
	return Range{
		Kind:          h.desc.Kind,
		ShaderVisible: h.desc.ShaderVisible,
		Index:         idx,
		Count:         count,
		Generation:    h.generations[idx],
	}, nil
}

// Release returns r to the heap. Releasing the zero Range is a no-op.
func (h *Heap) Release(r Range) error {
	if !r.Valid() {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.checkLocked(r); err != nil {
		return err
	}
	for i := r.Index; i < r.End(); i++ {
		h.mask.Clear(int(i))
	}
	delete(h.live, r.Index)
	h.generations[r.Index]++
	return nil
}

// Check reports whether r is currently allocated from this heap.
func (h *Heap) Check(r Range) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.checkLocked(r)
}

func (h *Heap) checkLocked(r Range) error {
	if r.Kind != h.desc.Kind || r.ShaderVisible != h.desc.ShaderVisible {
		return errors.Wrapf(core.ErrStaleDescriptor, "range %s does not belong to %s heap", r, h.desc.Kind)
	}
	if r.End() > h.desc.Capacity {
		return errors.Wrapf(core.ErrStaleDescriptor, "range %s out of bounds (capacity %d)", r, h.desc.Capacity)
	}
	count, ok := h.live[r.Index]
	if !ok || count != r.Count || h.generations[r.Index] != r.Generation {
		return errors.Wrapf(core.ErrStaleDescriptor, "range %s released twice or stale", r)
	}
	return nil
}

// CPUHandle is start + index*stride.
func (h *Heap) CPUHandle(index uint32) uint64 {
	var start uint64
	if h.backing != nil {
		start = h.backing.CPUStart()
	}
	return start + uint64(index)*uint64(h.desc.Stride)
}

// GPUHandle panics on heaps that are not shader visible.
func (h *Heap) GPUHandle(index uint32) uint64 {
	if !h.desc.ShaderVisible {
		panic(errors.AssertionFailedf("GPU handle requested from CPU only %s heap", h.desc.Kind))
	}
	var start uint64
	if h.backing != nil {
		start = h.backing.GPUStart()
	}
	return start + uint64(index)*uint64(h.desc.Stride)
}

func (h *Heap) GPUStart() uint64 {
	if h.backing == nil || !h.desc.ShaderVisible {
		return 0
	}
	return h.backing.GPUStart()
}

func (h *Heap) Used() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return uint32(h.mask.Count())
}

// Ranges returns a snapshot of the live ranges.
func (h *Heap) Ranges() []Range {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Range, 0, len(h.live))
	for idx, count := range h.live {
		out = append(out, Range{
			Kind:          h.desc.Kind,
			ShaderVisible: h.desc.ShaderVisible,
			Index:         idx,
			Count:         count,
			Generation:    h.generations[idx],
		})
	}
	return out
}

func (h *Heap) Destroy() {
	if h.backing != nil {
		h.backing.Destroy()
		h.backing = nil
	}
}
