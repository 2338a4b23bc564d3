package renderer

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
	"github.com/spaghettifunk/rei/engine/renderer/soft"
)

type harness struct {
	r     *Renderer
	queue *Queue
	pool  *CmdPool
}

func newHarness(t *testing.T, heaps core.HeapConfig) *harness {
	t.Helper()
	r, err := New(Config{Backend: "soft", AppName: t.Name(), FramesInFlight: 2, Heaps: heaps})
	require.NoError(t, err)
	t.Cleanup(r.Destroy)

	q, err := r.AddQueue(metadata.QueueDesc{Type: metadata.CmdPoolDirect})
	require.NoError(t, err)
	pool, err := r.AddCmdPool(q, false)
	require.NoError(t, err)
	t.Cleanup(func() {
		r.RemoveCmdPool(pool)
		r.RemoveQueue(q)
	})
	return &harness{r: r, queue: q, pool: pool}
}

// submit records fn into a fresh command buffer and waits for it to finish.
func (h *harness) submit(t *testing.T, fn func(cmd *Cmd)) {
	t.Helper()
	cmd, err := h.pool.AddCmd(false)
	require.NoError(t, err)
	defer h.pool.RemoveCmd(cmd)

	require.NoError(t, cmd.Begin())
	fn(cmd)
	require.NoError(t, cmd.End())

	fence, err := h.r.AddFence()
	require.NoError(t, err)
	defer h.r.RemoveFence(fence)
	require.Equal(t, metadata.FenceStatusNotSubmitted, fence.Status())
	require.NoError(t, h.queue.Submit([]*Cmd{cmd}, fence))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.r.WaitForFences(ctx, fence))
}

func (h *harness) readback(t *testing.T, tex *Texture) []byte {
	t.Helper()
	desc := tex.Desc()
	size := uint64(desc.Width * desc.Height * desc.Format.BytesPerPixel())
	rb, err := h.r.AddBuffer(metadata.BufferDesc{Size: size, MemoryUsage: metadata.ResourceMemoryUsageGPUToCPU})
	require.NoError(t, err)
	defer h.r.RemoveBuffer(rb)

	h.submit(t, func(cmd *Cmd) {
		require.NoError(t, cmd.CopyTextureToBuffer(rb, tex, metadata.SubresourceDesc{}))
	})
	data, err := rb.Map()
	require.NoError(t, err)
	out := append([]byte(nil), data...)
	rb.Unmap()
	return out
}

func (h *harness) renderTarget(t *testing.T, width, height uint32, format metadata.Format) *Texture {
	t.Helper()
	tex, err := h.r.AddTexture(metadata.TextureDesc{
		Width:       width,
		Height:      height,
		Format:      format,
		Descriptors: metadata.DescriptorTypeRenderTarget,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.r.RemoveTexture(tex) })
	return tex
}

// fullscreen covers the viewport with one triangle.
var fullscreen = soft.VertexFunc(func(_ *soft.ShaderContext, in soft.VertexInput) soft.VertexOutput {
	x := float32((in.VertexIndex<<1)&2)*2 - 1
	y := float32(in.VertexIndex&2)*2 - 1
	return soft.VertexOutput{Position: [4]float32{x, y, 0.5, 1}}
})

func graphicsShaders(frag soft.FragmentFunc) []backend.ShaderDesc {
	return []backend.ShaderDesc{
		{Stage: metadata.ShaderStageVert, Program: fullscreen},
		{Stage: metadata.ShaderStageFrag, Program: frag},
	}
}

func clearLoad() *metadata.LoadActionsDesc {
	load := &metadata.LoadActionsDesc{}
	load.LoadActionsColor[0] = metadata.LoadActionClear
	load.ClearColorValues[0] = metadata.ClearValue{A: 1}
	load.LoadActionDepth = metadata.LoadActionClear
	load.ClearDepth = metadata.ClearValue{Depth: 1}
	return load
}

func putFloats(b []byte, values ...float32) {
	for i, v := range values {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
}

func getFloat(b []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
}
