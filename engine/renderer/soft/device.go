// Package soft is a software implementation of the render device. It keeps
// descriptors, buffers and textures in host memory and executes recorded
// command lists on submit with a barycentric triangle rasterizer.
package soft

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

// descriptorSize is the stride reported for every heap kind.
const descriptorSize = 32

type Device struct {
	logger  *core.Logger
	epoch   time.Time
	address atomic.Uint64

	mu    sync.Mutex
	names map[interface{}]string
}

func New(logger *core.Logger) *Device {
	if logger == nil {
		logger = core.NopLogger()
	}
	d := &Device{
		logger: logger,
		epoch:  time.Now(),
		names:  make(map[interface{}]string),
	}
	d.address.Store(0x1000)
	logger.LogDebug("software device created")
	return d
}

func (d *Device) Name() string {
	return "soft"
}

func (d *Device) Properties() metadata.DeviceProperties {
	return metadata.DeviceProperties{
		VendorID:     "rei",
		ModelID:      "soft",
		DeviceName:   "Rei software rasterizer",
		Capabilities: metadata.DefaultCapabilities(),
	}
}

func (d *Device) SetName(object interface{}, name string) {
	if object == nil {
		return
	}
	d.mu.Lock()
	d.names[object] = name
	d.mu.Unlock()
}

func (d *Device) nameOf(object interface{}) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.names[object]
}

func (d *Device) forget(object interface{}) {
	d.mu.Lock()
	delete(d.names, object)
	d.mu.Unlock()
}

func (d *Device) CreateBuffer(desc *metadata.BufferDesc, state metadata.ResourceState) (interface{}, error) {
	if desc.Size == 0 {
		return nil, errors.Wrap(core.ErrInvalidArgument, "zero sized buffer")
	}
	return &buffer{desc: *desc, data: make([]byte, desc.Size), state: state}, nil
}

func (d *Device) MapBuffer(b interface{}) ([]byte, error) {
	buf, ok := b.(*buffer)
	if !ok {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "not a soft buffer: %T", b)
	}
	buf.mapped = true
	return buf.data, nil
}

func (d *Device) UnmapBuffer(b interface{}) {
	if buf, ok := b.(*buffer); ok {
		buf.mapped = false
	}
}

func (d *Device) DestroyBuffer(b interface{}) {
	if buf, ok := b.(*buffer); ok {
		buf.data = nil
		d.forget(b)
	}
}

func (d *Device) CreateTexture(desc *metadata.TextureDesc) (interface{}, error) {
	return newTexture(desc)
}

func (d *Device) DestroyTexture(t interface{}) {
	if tex, ok := t.(*texture); ok {
		tex.subresources = nil
		d.forget(t)
	}
}

func (d *Device) CreateSampler(desc *metadata.SamplerDesc) (interface{}, error) {
	return &sampler{desc: *desc}, nil
}

func (d *Device) DestroySampler(s interface{}) {
	d.forget(s)
}

type signature struct {
	layout *backend.SignatureLayout
}

func (d *Device) CreateRootSignature(layout *backend.SignatureLayout) (interface{}, error) {
	return &signature{layout: layout}, nil
}

func (d *Device) DestroyRootSignature(s interface{}) {
	d.forget(s)
}

type pipeline struct {
	desc     backend.PipelineDesc
	vertex   VertexFunc
	fragment FragmentFunc
	compute  ComputeFunc
}

// CreatePipeline expects Go shader functions in ShaderDesc.Program.
func (d *Device) CreatePipeline(desc *backend.PipelineDesc, sig interface{}) (interface{}, error) {
	if _, ok := sig.(*signature); !ok {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "not a soft root signature: %T", sig)
	}
	p := &pipeline{desc: *desc}
	for _, s := range desc.Shaders {
		var ok bool
		switch s.Stage {
		case metadata.ShaderStageVert:
			p.vertex, ok = s.Program.(VertexFunc)
		case metadata.ShaderStageFrag:
			p.fragment, ok = s.Program.(FragmentFunc)
		case metadata.ShaderStageComp:
			p.compute, ok = s.Program.(ComputeFunc)
		}
		if !ok {
			return nil, errors.Wrapf(core.ErrUnsupported, "stage %#x: program %T is not a soft shader", uint32(s.Stage), s.Program)
		}
	}
	return p, nil
}

func (d *Device) DestroyPipeline(p interface{}) {
	d.forget(p)
}

type tableArray struct {
	slot      uint32
	maxTables uint32
}

func (d *Device) CreateTableArray(sig interface{}, layout *backend.SignatureLayout, slot, maxTables uint32) (interface{}, error) {
	return &tableArray{slot: slot, maxTables: maxTables}, nil
}

func (d *Device) DestroyTableArray(t interface{}) {}

func (d *Device) CreateQueue(desc metadata.QueueDesc) (backend.Queue, error) {
	return &queue{d: d, desc: desc}, nil
}

func (d *Device) CreateCommandPool(q backend.Queue, transient bool) (backend.CommandPool, error) {
	if _, ok := q.(*queue); !ok {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "not a soft queue: %T", q)
	}
	return &commandPool{d: d}, nil
}

func (d *Device) CreateFence() (backend.Fence, error) {
	return newFence(), nil
}

func (d *Device) CreateQueryPool(desc metadata.QueryPoolDesc) (interface{}, error) {
	return &queryPool{desc: desc, results: make([]uint64, desc.Count)}, nil
}

func (d *Device) DestroyQueryPool(p interface{}) {}

// WaitIdle returns immediately: submits execute synchronously.
func (d *Device) WaitIdle() error {
	return nil
}

func (d *Device) Destroy() {
	d.mu.Lock()
	d.names = make(map[interface{}]string)
	d.mu.Unlock()
	d.logger.LogDebug("software device destroyed")
}

func (d *Device) timestamp() uint64 {
	return uint64(time.Since(d.epoch).Nanoseconds())
}

type queue struct {
	d    *Device
	desc metadata.QueueDesc
	mu   sync.Mutex
}

func (q *queue) Submit(lists []backend.CommandList, signal backend.Fence) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var f *fence
	if signal != nil {
		f = signal.(*fence)
		f.reset()
	}
	var errs error
	for _, l := range lists {
		cl, ok := l.(*CommandList)
		if !ok {
			return errors.Wrapf(core.ErrInvalidArgument, "not a soft command list: %T", l)
		}
		errs = errors.CombineErrors(errs, cl.execute())
	}
	if f != nil {
		f.signal()
	}
	return errs
}

func (q *queue) WaitIdle() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return nil
}

func (q *queue) TimestampFrequency() float64 {
	return float64(time.Second)
}

func (q *queue) Destroy() {}

type fence struct {
	mu       sync.Mutex
	signaled bool
	done     chan struct{}
}

func newFence() *fence {
	return &fence{done: make(chan struct{})}
}

func (f *fence) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		f.signaled = false
		f.done = make(chan struct{})
	}
}

func (f *fence) signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.signaled {
		f.signaled = true
		close(f.done)
	}
}

func (f *fence) Status() metadata.FenceStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		return metadata.FenceStatusComplete
	}
	return metadata.FenceStatusIncomplete
}

func (f *fence) Wait(ctx context.Context) error {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(core.ErrTimeout, ctx.Err().Error())
	}
}

func (f *fence) Destroy() {}

type commandPool struct {
	d     *Device
	mu    sync.Mutex
	lists []*CommandList
}

func (p *commandPool) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range p.lists {
		l.reset()
	}
	return nil
}

func (p *commandPool) Allocate(secondary bool) (backend.CommandList, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l := &CommandList{d: p.d, secondary: secondary}
	p.lists = append(p.lists, l)
	return l, nil
}

func (p *commandPool) Free(l backend.CommandList) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cl := range p.lists {
		if cl == l {
			p.lists = append(p.lists[:i], p.lists[i+1:]...)
			return
		}
	}
}

func (p *commandPool) Destroy() {
	p.mu.Lock()
	p.lists = nil
	p.mu.Unlock()
}

type queryPool struct {
	desc    metadata.QueryPoolDesc
	results []uint64
}

var _ backend.Device = (*Device)(nil)
