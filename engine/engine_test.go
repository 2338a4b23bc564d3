package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer"
)

func quietConfig(frames int) *core.Config {
	cfg := core.DefaultConfig()
	cfg.Log.Output = io.Discard
	cfg.Engine.Frames = frames
	return cfg
}

type counters struct {
	initialized, updates, renders, shutdowns int
	slots                                    []int
	layouts                                  []string
}

func countingGame(c *counters) *Game {
	return &Game{
		FnInitialize: func(r *renderer.Renderer) error {
			c.initialized++
			return nil
		},
		FnUpdate: func(float64) error {
			c.updates++
			return nil
		},
		FnRender: func(f *Frame) ([]*renderer.Cmd, error) {
			c.renders++
			c.slots = append(c.slots, f.Slot)
			cmd, err := f.Pools[0].AddCmd(false)
			if err != nil {
				return nil, err
			}
			if err := cmd.Begin(); err != nil {
				return nil, err
			}
			return []*renderer.Cmd{cmd}, cmd.End()
		},
		FnOnLayout: func(name string, desc *renderer.RootSignatureDesc) error {
			c.layouts = append(c.layouts, name)
			return nil
		},
		FnShutdown: func() error {
			c.shutdowns++
			return nil
		},
	}
}

func TestEngineLifecycle(t *testing.T) {
	c := &counters{}
	e, err := New(quietConfig(5), countingGame(c))
	require.NoError(t, err)
	assert.Equal(t, EngineStageBootComplete, e.Stage())

	err = e.Run(context.Background())
	assert.True(t, errors.Is(err, core.ErrInvalidState))

	require.NoError(t, e.Initialize())
	assert.Equal(t, EngineStageInitialized, e.Stage())
	assert.Equal(t, 1, c.initialized)
	assert.Len(t, e.frames, 2)
	assert.Len(t, e.frames[0].pools, 2)

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 5, c.updates)
	assert.Equal(t, 5, c.renders)
	assert.Equal(t, []int{0, 1, 0, 1, 0}, c.slots)
	assert.Equal(t, 5, e.Metrics().Frames())

	require.NoError(t, e.Shutdown())
	assert.Equal(t, 1, c.shutdowns)
	assert.Equal(t, EngineStageUninitialized, e.Stage())
	assert.Nil(t, e.Renderer())
	require.NoError(t, e.Shutdown())
}

func TestEngineStopsOnContext(t *testing.T) {
	c := &counters{}
	e, err := New(quietConfig(0), countingGame(c))
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	defer e.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	e.gameInstance.FnUpdate = func(float64) error {
		c.updates++
		if c.updates == 3 {
			cancel()
		}
		return nil
	}
	require.NoError(t, e.Run(ctx))
	assert.Equal(t, 3, c.renders)
}

func TestEngineRenderErrorStops(t *testing.T) {
	boom := errors.New("boom")
	e, err := New(quietConfig(10), &Game{
		FnRender: func(*Frame) ([]*renderer.Cmd, error) { return nil, boom },
	})
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	defer e.Shutdown()

	err = e.Run(context.Background())
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, uint64(0), e.frameIndex)
}

func TestEngineDeliversLayoutsBetweenFrames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blit.layout.toml"), []byte("pipeline = \"compute\"\n"), 0o644))

	cfg := quietConfig(1)
	cfg.Engine.Layouts = dir
	c := &counters{}
	e, err := New(cfg, countingGame(c))
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	defer e.Shutdown()

	desc, ok := e.Layouts().Get("blit")
	require.True(t, ok)
	e.onLayout("blit", &desc)
	e.onLayout("gone", nil)
	assert.Empty(t, c.layouts)

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, []string{"blit", "gone"}, c.layouts)
}

func TestEngineRejectsBadConfig(t *testing.T) {
	cfg := quietConfig(1)
	cfg.Renderer.Backend = "metal"
	_, err := New(cfg, &Game{})
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))

	_, err = New(nil, nil)
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))
}
