package heap

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

// BackingFunc creates the native storage for a heap and reports the
// descriptor stride the device uses for that kind.
type BackingFunc func(desc Desc) (Backing, uint32, error)

// Manager owns one CPU staging heap per kind and the two shader visible heaps.
type Manager struct {
	cpu       [metadata.HeapKindCount]*Heap
	gpuView   *Heap
	gpuSample *Heap
	logger    *core.Logger
}

func NewManager(cfg core.HeapConfig, logger *core.Logger, backing BackingFunc) (*Manager, error) {
	if logger == nil {
		logger = core.NopLogger()
	}
	m := &Manager{logger: logger}
	capacities := [metadata.HeapKindCount]uint32{
		metadata.HeapKindCbvSrvUav: cfg.CbvSrvUav,
		metadata.HeapKindSampler:   cfg.Sampler,
		metadata.HeapKindRTV:       cfg.RTV,
		metadata.HeapKindDSV:       cfg.DSV,
	}
	for kind := metadata.HeapKind(0); kind < metadata.HeapKindCount; kind++ {
		h, err := newHeap(Desc{Kind: kind, Capacity: capacities[kind]}, backing)
		if err != nil {
			m.Destroy()
			return nil, err
		}
		m.cpu[kind] = h
	}
	var err error
	if m.gpuView, err = newHeap(Desc{Kind: metadata.HeapKindCbvSrvUav, Capacity: cfg.GPUCbvSrvUav, ShaderVisible: true}, backing); err != nil {
		m.Destroy()
		return nil, err
	}
	if m.gpuSample, err = newHeap(Desc{Kind: metadata.HeapKindSampler, Capacity: cfg.GPUSampler, ShaderVisible: true}, backing); err != nil {
		m.Destroy()
		return nil, err
	}
	logger.LogDebug("descriptor heaps created (view=%d sampler=%d rtv=%d dsv=%d gpu view=%d gpu sampler=%d)",
		m.cpu[metadata.HeapKindCbvSrvUav].Capacity(), m.cpu[metadata.HeapKindSampler].Capacity(),
		m.cpu[metadata.HeapKindRTV].Capacity(), m.cpu[metadata.HeapKindDSV].Capacity(),
		m.gpuView.Capacity(), m.gpuSample.Capacity())
	return m, nil
}

func newHeap(desc Desc, fn BackingFunc) (*Heap, error) {
	if desc.Capacity == 0 {
		desc.Capacity = metadata.DescriptorHeapWordBits
	}
	if fn == nil {
		desc.Stride = 1
		return New(desc, nil), nil
	}
	// The backing is sized for the rounded capacity.
	desc.Capacity = metadata.AlignUp(desc.Capacity, metadata.DescriptorHeapWordBits)
	b, stride, err := fn(desc)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s heap", desc.Kind)
	}
	desc.Stride = stride
	return New(desc, b), nil
}

// CPU returns the staging heap for kind.
func (m *Manager) CPU(kind metadata.HeapKind) *Heap {
	return m.cpu[kind]
}

// GPUView returns the shader visible CBV/SRV/UAV heap.
func (m *Manager) GPUView() *Heap {
	return m.gpuView
}

// GPUSampler returns the shader visible sampler heap.
func (m *Manager) GPUSampler() *Heap {
	return m.gpuSample
}

// For returns the heap a range was allocated from.
func (m *Manager) For(r Range) *Heap {
	if r.ShaderVisible {
		if r.Kind == metadata.HeapKindSampler {
			return m.gpuSample
		}
		return m.gpuView
	}
	return m.cpu[r.Kind]
}

func (m *Manager) Release(r Range) error {
	if !r.Valid() {
		return nil
	}
	return m.For(r).Release(r)
}

func (m *Manager) Destroy() {
	for i, h := range m.cpu {
		if h != nil {
			h.Destroy()
			m.cpu[i] = nil
		}
	}
	if m.gpuView != nil {
		m.gpuView.Destroy()
		m.gpuView = nil
	}
	if m.gpuSample != nil {
		m.gpuSample.Destroy()
		m.gpuSample = nil
	}
}
