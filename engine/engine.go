package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/rei/engine/assets"
	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// fenceTimeout bounds the wait for a frame slot to come back from the GPU.
const fenceTimeout = 10 * time.Second

type layoutEvent struct {
	name string
	desc *renderer.RootSignatureDesc
}

type Engine struct {
	currentStage Stage
	cfg          *core.Config
	gameInstance *Game
	logger       *core.Logger
	isRunning    atomic.Bool

	renderer *renderer.Renderer
	layouts  *assets.LayoutLibrary
	queue    *renderer.Queue
	frames   []*frameResources

	clock      *core.Clock
	metrics    *core.FrameMetrics
	lastTime   time.Duration
	frameIndex uint64

	pendingMu sync.Mutex
	pending   []layoutEvent
}

// New boots an engine. A nil cfg means core.DefaultConfig.
func New(cfg *core.Config, g *Game) (*Engine, error) {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if g == nil {
		return nil, errors.Wrap(core.ErrInvalidArgument, "engine needs a game")
	}
	e := &Engine{
		currentStage: EngineStageBooting,
		cfg:          cfg,
		gameInstance: g,
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e.logger = core.NewLogger(cfg.Log)
	e.currentStage = EngineStageBootComplete
	return e, nil
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) Logger() *core.Logger {
	return e.logger
}

func (e *Engine) Renderer() *renderer.Renderer {
	return e.renderer
}

func (e *Engine) Layouts() *assets.LayoutLibrary {
	return e.layouts
}

func (e *Engine) Metrics() *core.FrameMetrics {
	return e.metrics
}

// Initialize creates the renderer, the frame resources and the layout
// library, then initializes the game. On failure everything created so far
// is released.
func (e *Engine) Initialize() (err error) {
	if e.currentStage != EngineStageBootComplete {
		return errors.Wrapf(core.ErrInvalidState, "initialize in stage %d", e.currentStage)
	}
	e.currentStage = EngineStageInitializing
	defer func() {
		if err != nil {
			e.release()
			e.currentStage = EngineStageBootComplete
		}
	}()

	e.renderer, err = renderer.New(renderer.ConfigFrom(e.cfg, e.logger))
	if err != nil {
		return errors.Wrap(err, "creating renderer")
	}
	e.queue, err = e.renderer.AddQueue(metadata.QueueDesc{Type: metadata.CmdPoolDirect})
	if err != nil {
		return errors.Wrap(err, "creating graphics queue")
	}
	workers := e.cfg.Engine.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < e.renderer.FramesInFlight(); i++ {
		fr, err := newFrameResources(e.renderer, e.queue, workers)
		if err != nil {
			return err
		}
		e.frames = append(e.frames, fr)
	}

	if dir := e.cfg.Engine.Layouts; dir != "" {
		if e.layouts, err = assets.NewLayoutLibrary(e.logger); err != nil {
			return err
		}
		if err = e.layouts.Initialize(dir); err != nil {
			return errors.Wrapf(err, "loading layouts from %s", dir)
		}
		e.layouts.OnReload(e.onLayout)
	}

	if fn := e.gameInstance.FnInitialize; fn != nil {
		if err = fn(e.renderer); err != nil {
			return errors.Wrap(err, "initializing game")
		}
	}
	e.currentStage = EngineStageInitialized
	e.logger.LogInfo("engine %s initialized: %s backend, %d frames in flight, %d workers",
		e.cfg.Engine.Name, e.cfg.Renderer.Backend, len(e.frames), workers)
	return nil
}

// Run renders frames until ctx is done, Stop is called or, when the
// configuration sets a frame count, that many frames were rendered.
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return errors.Wrapf(core.ErrInvalidState, "run in stage %d", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)
	defer func() {
		e.isRunning.Store(false)
		e.currentStage = EngineStageInitialized
	}()

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	limit := uint64(e.cfg.Engine.Frames)
	for e.isRunning.Load() {
		if limit > 0 && e.frameIndex >= limit {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if err := e.frame(ctx); err != nil {
			e.logger.LogError("frame %d failed, stopping: %s", e.frameIndex, err.Error())
			_ = e.renderer.WaitIdle()
			return err
		}
	}

	if err := e.renderer.WaitIdle(); err != nil {
		return errors.Wrap(err, "waiting for the device")
	}
	e.logger.LogInfo("%d frames rendered, %.1f fps, %.3f ms average", e.metrics.Frames(), e.metrics.FPS(), e.metrics.FrameTime())
	return nil
}

func (e *Engine) frame(ctx context.Context) error {
	e.clock.Update()
	current := e.clock.Elapsed()
	delta := (current - e.lastTime).Seconds()
	frameStart := time.Now()

	slot := int(e.frameIndex % uint64(len(e.frames)))
	fr := e.frames[slot]
	waitCtx, cancel := context.WithTimeout(ctx, fenceTimeout)
	err := e.renderer.WaitForFences(waitCtx, fr.fence)
	cancel()
	if err != nil {
		return err
	}
	if err := fr.reset(); err != nil {
		return err
	}

	if err := e.deliverLayouts(); err != nil {
		return err
	}
	if fn := e.gameInstance.FnUpdate; fn != nil {
		if err := fn(delta); err != nil {
			return errors.Wrap(err, "game update")
		}
	}
	if fn := e.gameInstance.FnRender; fn != nil {
		cmds, err := fn(&Frame{
			Index:     e.frameIndex,
			Slot:      slot,
			DeltaTime: delta,
			Renderer:  e.renderer,
			Queue:     e.queue,
			Pools:     fr.pools,
		})
		if err != nil {
			return errors.Wrap(err, "game render")
		}
		if len(cmds) > 0 {
			if err := e.queue.Submit(cmds, fr.fence); err != nil {
				return err
			}
		}
	}

	e.metrics.Update(time.Since(frameStart))
	e.lastTime = current
	e.frameIndex++
	return nil
}

// Stop makes Run return after the current frame. Safe to call from any
// goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

func (e *Engine) onLayout(name string, desc *renderer.RootSignatureDesc) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	e.pending = append(e.pending, layoutEvent{name: name, desc: desc})
}

func (e *Engine) deliverLayouts() error {
	e.pendingMu.Lock()
	events := e.pending
	e.pending = nil
	e.pendingMu.Unlock()

	fn := e.gameInstance.FnOnLayout
	for _, ev := range events {
		e.logger.LogInfo("layout %s changed", ev.name)
		if fn == nil {
			continue
		}
		if err := fn(ev.name, ev.desc); err != nil {
			return errors.Wrapf(err, "reloading layout %s", ev.name)
		}
	}
	return nil
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageRunning {
		return errors.Wrap(core.ErrInvalidState, "shutdown while running, call Stop first")
	}
	if e.currentStage != EngineStageInitialized {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	var err error
	if e.renderer != nil {
		err = e.renderer.WaitIdle()
	}
	if fn := e.gameInstance.FnShutdown; fn != nil {
		err = errors.CombineErrors(err, fn())
	}
	e.release()
	e.currentStage = EngineStageUninitialized
	e.logger.LogInfo("engine %s shut down", e.cfg.Engine.Name)
	return err
}

func (e *Engine) release() {
	if e.layouts != nil {
		if err := e.layouts.Close(); err != nil {
			e.logger.LogWarn("closing layout library: %s", err.Error())
		}
		e.layouts = nil
	}
	if e.renderer == nil {
		return
	}
	for _, fr := range e.frames {
		fr.destroy(e.renderer)
	}
	e.frames = nil
	if e.queue != nil {
		e.renderer.RemoveQueue(e.queue)
		e.queue = nil
	}
	e.renderer.Destroy()
	e.renderer = nil
}
