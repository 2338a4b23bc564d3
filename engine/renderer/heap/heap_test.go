package heap

import (
	"sort"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

type fakeBacking struct {
	cpu, gpu  uint64
	destroyed bool
}

func (f *fakeBacking) CPUStart() uint64 { return f.cpu }
func (f *fakeBacking) GPUStart() uint64 { return f.gpu }
func (f *fakeBacking) Destroy()         { f.destroyed = true }

func newTestHeap(capacity uint32) *Heap {
	return New(Desc{Kind: metadata.HeapKindCbvSrvUav, Capacity: capacity, ShaderVisible: true, Stride: 32},
		&fakeBacking{cpu: 0x1000, gpu: 0x8000})
}

func TestCapacityRoundsUpToWord(t *testing.T) {
	h := newTestHeap(33)
	assert.Equal(t, uint32(64), h.Capacity())
}

func TestAllocateZeroReturnsNone(t *testing.T) {
	h := newTestHeap(32)
	r, err := h.Allocate(0)
	require.NoError(t, err)
	assert.False(t, r.Valid())
	assert.NoError(t, h.Release(r))
	assert.Equal(t, uint32(0), h.Used())
}

func TestHandles(t *testing.T) {
	h := newTestHeap(32)
	r, err := h.Allocate(4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1000+32*2), h.CPUHandle(r.Index+2))
	assert.Equal(t, uint64(0x8000+32*3), h.GPUHandle(r.Index+3))

	cpuOnly := New(Desc{Kind: metadata.HeapKindRTV, Capacity: 32, Stride: 8}, nil)
	assert.Panics(t, func() { cpuOnly.GPUHandle(0) })
}

func TestFirstFitRestartsOnDiscontinuity(t *testing.T) {
	h := newTestHeap(64)
	a, _ := h.Allocate(10)
	b, _ := h.Allocate(10)
	c, _ := h.Allocate(10)
	require.NoError(t, h.Release(b))

	// A 12 slot run does not fit in b's hole.
	d, err := h.Allocate(12)
	require.NoError(t, err)
	assert.Equal(t, c.End(), d.Index)

	e, err := h.Allocate(10)
	require.NoError(t, err)
	assert.Equal(t, b.Index, e.Index)
	assert.NotEqual(t, b.Generation, e.Generation)
	_ = a
}

func TestExhaustionAllocatesNothing(t *testing.T) {
	h := newTestHeap(32)
	_, err := h.Allocate(30)
	require.NoError(t, err)
	_, err = h.Allocate(3)
	assert.True(t, errors.Is(err, core.ErrHeapExhausted))
	assert.Equal(t, uint32(30), h.Used())
}

func TestDoubleReleaseIsDetected(t *testing.T) {
	h := newTestHeap(32)
	r, _ := h.Allocate(2)
	require.NoError(t, h.Release(r))
	assert.True(t, errors.Is(h.Release(r), core.ErrStaleDescriptor))

	// A new owner of the same slots is not affected by the stale release.
	r2, _ := h.Allocate(2)
	assert.Equal(t, r.Index, r2.Index)
	assert.True(t, errors.Is(h.Release(r), core.ErrStaleDescriptor))
	assert.NoError(t, h.Check(r2))

	wrongKind := r2
	wrongKind.Kind = metadata.HeapKindSampler
	assert.True(t, errors.Is(h.Release(wrongKind), core.ErrStaleDescriptor))
}

func assertDisjoint(t *testing.T, h *Heap) {
	t.Helper()
	ranges := h.Ranges()
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Index < ranges[j].Index })
	var used uint32
	for i, r := range ranges {
		require.LessOrEqual(t, r.End(), h.Capacity())
		if i > 0 {
			require.LessOrEqual(t, ranges[i-1].End(), r.Index, "ranges %s and %s overlap", ranges[i-1], r)
		}
		used += r.Count
	}
	require.Equal(t, used, h.Used())
}

func TestRandomSequencesKeepRangesDisjoint(t *testing.T) {
	for seed := uint64(1); seed <= 8; seed++ {
		rng := rand.New(rand.NewSource(seed))
		h := newTestHeap(256)
		var live []Range
		for step := 0; step < 2000; step++ {
			if len(live) > 0 && rng.Intn(3) == 0 {
				i := rng.Intn(len(live))
				require.NoError(t, h.Release(live[i]))
				live = append(live[:i], live[i+1:]...)
			} else {
				r, err := h.Allocate(uint32(1 + rng.Intn(40)))
				if err != nil {
					require.True(t, errors.Is(err, core.ErrHeapExhausted))
					continue
				}
				live = append(live, r)
			}
			if step%50 == 0 {
				assertDisjoint(t, h)
			}
		}
		assertDisjoint(t, h)
		for _, r := range live {
			require.NoError(t, h.Release(r))
		}
		assert.Equal(t, uint32(0), h.Used())
	}
}

func TestConcurrentAllocateRelease(t *testing.T) {
	h := newTestHeap(1024)
	var g errgroup.Group
	for w := 0; w < 8; w++ {
		w := w
		g.Go(func() error {
			rng := rand.New(rand.NewSource(uint64(w + 100)))
			for i := 0; i < 500; i++ {
				r, err := h.Allocate(uint32(1 + rng.Intn(8)))
				if err != nil {
					return err
				}
				if err := h.Release(r); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, uint32(0), h.Used())
}

func TestManager(t *testing.T) {
	var created []*fakeBacking
	backing := func(d Desc) (Backing, uint32, error) {
		b := &fakeBacking{cpu: uint64(len(created)+1) << 20}
		if d.ShaderVisible {
			b.gpu = uint64(len(created)+1) << 32
		}
		created = append(created, b)
		return b, 16, nil
	}
	cfg := core.DefaultConfig().Heaps
	cfg.RTV = 10
	m, err := NewManager(cfg, nil, backing)
	require.NoError(t, err)
	assert.Len(t, created, 6)
	assert.Equal(t, uint32(32), m.CPU(metadata.HeapKindRTV).Capacity())
	assert.Equal(t, uint32(16), m.GPUView().Desc().Stride)

	r, err := m.GPUSampler().Allocate(3)
	require.NoError(t, err)
	assert.Same(t, m.GPUSampler(), m.For(r))
	require.NoError(t, m.Release(r))

	c, err := m.CPU(metadata.HeapKindDSV).Allocate(1)
	require.NoError(t, err)
	assert.Same(t, m.CPU(metadata.HeapKindDSV), m.For(c))

	m.Destroy()
	for _, b := range created {
		assert.True(t, b.destroyed)
	}
}

func TestManagerBackingFailure(t *testing.T) {
	calls := 0
	backing := func(d Desc) (Backing, uint32, error) {
		calls++
		if d.ShaderVisible {
			return nil, 0, errors.New("out of device memory")
		}
		return &fakeBacking{}, 8, nil
	}
	_, err := NewManager(core.DefaultConfig().Heaps, nil, backing)
	assert.Error(t, err)
	assert.Equal(t, 5, calls)
}
