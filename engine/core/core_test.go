package core

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaReusesSlotsWithNewGeneration(t *testing.T) {
	a := NewArena[string](4)
	h0 := a.Acquire("a")
	h1 := a.Acquire("b")
	require.NoError(t, a.Release(h0))

	h2 := a.Acquire("c")
	assert.Equal(t, h0.Index, h2.Index)
	assert.NotEqual(t, h0.Generation, h2.Generation)

	_, ok := a.Get(h0)
	assert.False(t, ok)
	v, ok := a.Get(h2)
	require.True(t, ok)
	assert.Equal(t, "c", v)
	assert.Equal(t, 2, a.Len())

	err := a.Release(h0)
	assert.True(t, errors.Is(err, ErrStaleHandle))
	require.NoError(t, a.Release(h1))
	assert.True(t, errors.Is(a.Release(h1), ErrStaleHandle))
	assert.True(t, errors.Is(a.Release(Handle{Index: 99}), ErrStaleHandle))
}

func TestArenaEach(t *testing.T) {
	a := NewArena[int](0)
	for i := 0; i < 5; i++ {
		a.Acquire(i)
	}
	require.NoError(t, a.Release(Handle{Index: 2, Generation: 1}))
	var seen []int
	a.Each(func(_ Handle, v int) { seen = append(seen, v) })
	assert.Equal(t, []int{0, 1, 3, 4}, seen)
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
[renderer]
backend = "vulkan"
debug = true
frames_in_flight = 3

[heaps]
gpu_sampler = 64
`))
	require.NoError(t, err)
	assert.Equal(t, "vulkan", cfg.Renderer.Backend)
	assert.True(t, cfg.Renderer.Debug)
	assert.Equal(t, 3, cfg.Renderer.FramesInFlight)
	assert.Equal(t, uint32(64), cfg.Heaps.GPUSampler)
	assert.Equal(t, DefaultConfig().Heaps.CbvSrvUav, cfg.Heaps.CbvSrvUav)
}

func TestParseConfigRejectsUnknownKeysAndBackends(t *testing.T) {
	_, err := ParseConfig([]byte("[renderer]\nflavour = \"x\"\n"))
	assert.Error(t, err)

	_, err = ParseConfig([]byte("[renderer]\nbackend = \"d3d9\"\n"))
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestAsserter(t *testing.T) {
	var buf bytes.Buffer
	release := Asserter{Logger: NewLogger(LoggerConfig{Level: "debug", Output: &buf})}
	assert.NoError(t, release.Check(true, ErrInvalidUpdate, "fine"))
	err := release.Fail(ErrInvalidUpdate, "slot %d", 7)
	assert.True(t, errors.Is(err, ErrInvalidUpdate))
	assert.True(t, strings.Contains(buf.String(), "slot 7"))

	buf.Reset()
	_ = release.Fail(ErrInvalidUpdate, "buffer %q", "fill 100%d")
	assert.True(t, strings.Contains(buf.String(), "fill 100%d"), buf.String())
	assert.False(t, strings.Contains(buf.String(), "%!"), buf.String())

	debug := Asserter{Debug: true}
	assert.Panics(t, func() { _ = debug.Fail(ErrInvalidUpdate, "boom") })
}

func TestFrameMetrics(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < avgCount; i++ {
		m.Update(10 * time.Millisecond)
	}
	assert.InDelta(t, 10.0, m.FrameTime(), 1e-9)
	assert.Equal(t, avgCount, m.Frames())
}
