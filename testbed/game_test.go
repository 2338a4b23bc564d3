package testbed

import (
	"context"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/rei/engine"
	"github.com/spaghettifunk/rei/engine/assets"
	"github.com/spaghettifunk/rei/engine/core"
)

func newEngine(t *testing.T, frames, workers int) (*engine.Engine, *TestGame, string) {
	t.Helper()
	out := filepath.Join(t.TempDir(), "frame.bmp")
	cfg := core.DefaultConfig()
	cfg.Log.Output = io.Discard
	cfg.Engine.Frames = frames
	cfg.Engine.Workers = workers
	cfg.Engine.Output = out

	tg := NewTestGame(out)
	e, err := engine.New(cfg, tg.Game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	return e, tg, out
}

func rgba(c [4]float32) color.RGBA {
	return color.RGBA{R: uint8(c[0] * 255), G: uint8(c[1] * 255), B: uint8(c[2] * 255), A: uint8(c[3] * 255)}
}

func TestTestbedRendersRotatedQuadrants(t *testing.T) {
	for _, workers := range []int{1, 3} {
		e, tg, out := newEngine(t, 3, workers)
		require.NoError(t, e.Run(context.Background()))
		assert.Equal(t, 3, e.Metrics().Frames())

		img, err := tg.Image()
		require.NoError(t, err)
		// The last frame has index 2.
		assert.Equal(t, rgba(palette[2]), img.RGBAAt(4, 4))
		assert.Equal(t, rgba(palette[3]), img.RGBAAt(40, 4))
		assert.Equal(t, rgba(palette[0]), img.RGBAAt(4, 40))
		assert.Equal(t, rgba(palette[1]), img.RGBAAt(40, 40))

		require.NoError(t, e.Shutdown())
		f, err := os.Open(out)
		require.NoError(t, err)
		decoded, err := bmp.Decode(f)
		f.Close()
		require.NoError(t, err)
		assert.Equal(t, targetSize, decoded.Bounds().Dx())
		r, g, b, _ := decoded.At(40, 40).RGBA()
		assert.Equal(t, []uint32{0, 0xffff, 0}, []uint32{r, g, b})
	}
}

func TestTestbedLayoutReload(t *testing.T) {
	e, tg, _ := newEngine(t, 1, 1)
	defer e.Shutdown()

	first := tg.state.signature
	desc, err := assets.ParseLayout(quadLayout)
	require.NoError(t, err)
	desc.Name = "quad-reloaded"
	require.NoError(t, tg.OnLayout(quadLayoutName, desc))
	assert.NotSame(t, first, tg.state.signature)
	assert.Equal(t, "quad-reloaded", tg.state.signature.Name())

	// Other layouts and removals leave the bindings alone.
	current := tg.state.signature
	require.NoError(t, tg.OnLayout("other", desc))
	require.NoError(t, tg.OnLayout(quadLayoutName, nil))
	assert.Same(t, current, tg.state.signature)

	require.NoError(t, e.Run(context.Background()))
	img, err := tg.Image()
	require.NoError(t, err)
	assert.Equal(t, rgba(palette[0]), img.RGBAAt(4, 4))
}
