package soft

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/heap"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

func newHeap(t *testing.T, d *Device, kind metadata.HeapKind, visible bool) *heap.Heap {
	t.Helper()
	desc := heap.Desc{Kind: kind, Capacity: 32, ShaderVisible: visible}
	backing, stride, err := d.CreateDescriptorHeap(desc)
	require.NoError(t, err)
	desc.Stride = stride
	return heap.New(desc, backing)
}

func TestFenceWait(t *testing.T) {
	d := New(nil)
	f, err := d.CreateFence()
	require.NoError(t, err)
	assert.Equal(t, metadata.FenceStatusIncomplete, f.Status())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.Wait(ctx), core.ErrTimeout)

	q, err := d.CreateQueue(metadata.QueueDesc{Type: metadata.CmdPoolDirect})
	require.NoError(t, err)
	require.NoError(t, q.Submit(nil, f))
	assert.Equal(t, metadata.FenceStatusComplete, f.Status())
	require.NoError(t, f.Wait(context.Background()))
}

func TestSubmitRejectsForeignLists(t *testing.T) {
	d := New(nil)
	q, err := d.CreateQueue(metadata.QueueDesc{})
	require.NoError(t, err)
	err = q.Submit([]backend.CommandList{nil}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestDescriptorHeaps(t *testing.T) {
	d := New(nil)
	cpu := newHeap(t, d, metadata.HeapKindCbvSrvUav, false)
	gpu := newHeap(t, d, metadata.HeapKindCbvSrvUav, true)
	samplers := newHeap(t, d, metadata.HeapKindSampler, true)

	assert.Zero(t, cpu.GPUStart())
	assert.NotZero(t, gpu.GPUStart())
	assert.NotEqual(t, cpu.CPUHandle(0), gpu.CPUHandle(0), "heaps do not overlap")
	assert.Equal(t, cpu.CPUHandle(0)+descriptorSize, cpu.CPUHandle(1))

	b, err := d.CreateBuffer(&metadata.BufferDesc{Size: 64}, metadata.ResourceStateCommon)
	require.NoError(t, err)
	tex, err := d.CreateTexture(&metadata.TextureDesc{Width: 1, Height: 1, Format: metadata.FormatR8G8B8A8Unorm})
	require.NoError(t, err)

	assert.Error(t, d.WriteDescriptor(cpu, 0, backend.View{Kind: backend.ViewCBV, Buffer: tex}))
	assert.Error(t, d.WriteDescriptor(cpu, 0, backend.View{Kind: backend.ViewSRV, Buffer: b, Texture: tex}))
	assert.Error(t, d.WriteDescriptor(cpu, 99, backend.View{Kind: backend.ViewCBV, Buffer: b}))
	require.NoError(t, d.WriteDescriptor(cpu, 3, backend.View{Kind: backend.ViewSRV, Buffer: b, ElementCount: 16}))

	info := backend.DescriptorInfo{Type: metadata.DescriptorTypeBuffer, ArraySize: 1}
	table := &backend.TableArray{ViewHeap: gpu, SamplerHeap: samplers, MaxTables: 2, ViewStride: 1}
	require.NoError(t, d.UpdateTableArray(table, []backend.TableWrite{
		{Descriptor: info, Dst: 1, SrcHeap: cpu, Src: 3},
		{Descriptor: info, Dst: 0, Inline: &backend.View{Kind: backend.ViewCBV, Buffer: b, Offset: 16, Size: 16}},
	}))

	gv, err := backingOf(gpu)
	require.NoError(t, err)
	v, ok := gv.get(1)
	require.True(t, ok)
	assert.Equal(t, uint64(16), v.ElementCount)
	v, ok = gv.get(0)
	require.True(t, ok)
	assert.Equal(t, uint64(16), v.Offset)

	err = d.UpdateTableArray(table, []backend.TableWrite{{Descriptor: info, Dst: 2, SrcHeap: cpu, Src: 4}})
	assert.ErrorIs(t, err, core.ErrInvalidUpdate)

	d.ClearDescriptor(cpu, 3)
	cv, err := backingOf(cpu)
	require.NoError(t, err)
	_, ok = cv.get(3)
	assert.False(t, ok)
}

func TestCommandListRecordsUntilSubmit(t *testing.T) {
	d := New(nil)
	q, err := d.CreateQueue(metadata.QueueDesc{})
	require.NoError(t, err)
	pool, err := d.CreateCommandPool(q, false)
	require.NoError(t, err)
	l, err := pool.Allocate(false)
	require.NoError(t, err)

	src, err := d.CreateBuffer(&metadata.BufferDesc{Size: 8}, metadata.ResourceStateCommon)
	require.NoError(t, err)
	dst, err := d.CreateBuffer(&metadata.BufferDesc{Size: 8}, metadata.ResourceStateCommon)
	require.NoError(t, err)
	mem, err := d.MapBuffer(src)
	require.NoError(t, err)
	copy(mem, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	assert.ErrorIs(t, l.End(), core.ErrInvalidState)
	require.NoError(t, l.Begin())
	l.CopyBuffer(dst, 2, src, 4, 4)
	require.NoError(t, l.End())

	out, err := d.MapBuffer(dst)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), out, "nothing runs before submit")

	require.NoError(t, q.Submit([]backend.CommandList{l}, nil))
	assert.Equal(t, []byte{0, 0, 5, 6, 7, 8, 0, 0}, out)
}
