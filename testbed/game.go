package testbed

import (
	_ "embed"
	"image"
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/image/bmp"
	"golang.org/x/sync/errgroup"

	"github.com/spaghettifunk/rei/engine"
	"github.com/spaghettifunk/rei/engine/assets"
	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

//go:embed layouts/quad.layout.toml
var quadLayout []byte

const (
	quadLayoutName = "quad"
	quadrants      = 4
	targetSize     = 64
)

var palette = [quadrants][4]float32{
	{1, 0, 0, 1},
	{0, 1, 0, 1},
	{0, 0, 1, 1},
	{1, 1, 1, 1},
}

type TestGame struct {
	*engine.Game
	state *gameState
}

type gameState struct {
	r      *renderer.Renderer
	logger *core.Logger
	output string
	// soft is false on devices that cannot run the Go shader programs;
	// frames then only clear the target.
	soft bool

	target   *renderer.Texture
	readback *renderer.Buffer
	colors   []*renderer.Buffer

	signature *renderer.RootSignature
	pipeline  *renderer.Pipeline
	tables    *renderer.DescriptorTableArray

	frames uint64
}

// NewTestGame renders four colored quadrants into an offscreen target, one
// descriptor table per quadrant, and writes the last frame to output as BMP.
func NewTestGame(output string) *TestGame {
	tg := &TestGame{
		Game:  &engine.Game{},
		state: &gameState{output: output, logger: core.NopLogger()},
	}
	tg.State = tg.state
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnLayout = tg.OnLayout
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) Initialize(r *renderer.Renderer) error {
	s := g.state
	s.r = r
	s.logger = r.Logger().Component("testbed")
	s.soft = r.Device().Name() == renderer.Soft.String()

	var err error
	s.target, err = r.AddTexture(metadata.TextureDesc{
		Width:       targetSize,
		Height:      targetSize,
		Format:      metadata.FormatR8G8B8A8Unorm,
		Descriptors: metadata.DescriptorTypeRenderTarget,
		Name:        "testbed-target",
	})
	if err != nil {
		return err
	}
	s.readback, err = r.AddBuffer(metadata.BufferDesc{
		Size:        targetSize * targetSize * 4,
		MemoryUsage: metadata.ResourceMemoryUsageGPUToCPU,
		Name:        "testbed-readback",
	})
	if err != nil {
		return err
	}
	if !s.soft {
		s.logger.LogWarn("%s device has no shader programs for the testbed, frames only clear", r.Device().Name())
		return nil
	}

	for i, c := range palette {
		b, err := r.AddBuffer(metadata.BufferDesc{
			Size:        16,
			MemoryUsage: metadata.ResourceMemoryUsageCPUToGPU,
			Descriptors: metadata.DescriptorTypeUniformBuffer,
		})
		if err != nil {
			return errors.Wrapf(err, "color buffer %d", i)
		}
		mem, err := b.Map()
		if err != nil {
			return err
		}
		putColor(mem, c)
		b.Unmap()
		s.colors = append(s.colors, b)
	}

	desc, err := assets.ParseLayout(quadLayout)
	if err != nil {
		return err
	}
	return g.build(*desc)
}

// build creates the signature, pipeline and table array for desc, replacing
// the previous ones.
func (g *TestGame) build(desc renderer.RootSignatureDesc) error {
	s := g.state
	r := s.r
	sig, err := r.AddRootSignature(desc)
	if err != nil {
		return err
	}
	pipeline, err := r.AddPipeline(renderer.PipelineDesc{
		Type:         metadata.PipelineTypeGraphics,
		Signature:    sig,
		Shaders:      softShaders(),
		ColorFormats: []metadata.Format{metadata.FormatR8G8B8A8Unorm},
		Topology:     metadata.PrimitiveTopoTriList,
		Name:         "testbed-quad",
	})
	if err != nil {
		_ = r.RemoveRootSignature(sig)
		return err
	}
	tables, err := r.AddDescriptorTableArray(sig, 0, quadrants)
	if err != nil {
		_ = r.RemovePipeline(pipeline)
		_ = r.RemoveRootSignature(sig)
		return err
	}
	updates := make([]renderer.DescriptorData, 0, quadrants)
	for i, b := range s.colors {
		updates = append(updates, renderer.DescriptorData{
			TableIndex: uint32(i),
			Type:       metadata.DescriptorTypeUniformBuffer,
			Buffers:    []*renderer.Buffer{b},
		})
	}
	if err := r.UpdateDescriptorTableArray(tables, updates); err != nil {
		_ = r.RemoveDescriptorTableArray(tables)
		_ = r.RemovePipeline(pipeline)
		_ = r.RemoveRootSignature(sig)
		return err
	}

	g.releaseBindings()
	s.signature, s.pipeline, s.tables = sig, pipeline, tables
	return nil
}

func (g *TestGame) releaseBindings() {
	s := g.state
	if s.tables != nil {
		_ = s.r.RemoveDescriptorTableArray(s.tables)
		s.tables = nil
	}
	if s.pipeline != nil {
		_ = s.r.RemovePipeline(s.pipeline)
		s.pipeline = nil
	}
	if s.signature != nil {
		_ = s.r.RemoveRootSignature(s.signature)
		s.signature = nil
	}
}

// OnLayout rebuilds the quad bindings when the quad layout changes on disk.
// Frames in flight keep the previous objects alive until they retire.
func (g *TestGame) OnLayout(name string, desc *renderer.RootSignatureDesc) error {
	if name != quadLayoutName || desc == nil || !g.state.soft {
		return nil
	}
	if err := g.state.r.WaitIdle(); err != nil {
		return err
	}
	if err := g.build(*desc); err != nil {
		g.state.logger.LogError("keeping the previous quad layout: %s", err.Error())
	}
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	return nil
}

// tableFor rotates the colors one quadrant per frame.
func tableFor(quadrant int, frame uint64) uint32 {
	return uint32((uint64(quadrant) + frame) % quadrants)
}

func (g *TestGame) Render(frame *engine.Frame) ([]*renderer.Cmd, error) {
	s := g.state
	s.frames = frame.Index + 1
	if !s.soft {
		return g.renderClear(frame)
	}

	workers := len(frame.Pools)
	cmds := make([]*renderer.Cmd, workers)
	var eg errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		eg.Go(func() error {
			cmd, err := frame.Pools[w].AddCmd(false)
			if err != nil {
				return err
			}
			cmds[w] = cmd
			return g.recordQuadrants(cmd, frame.Index, w, workers)
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	copyCmd, err := frame.Pools[0].AddCmd(false)
	if err != nil {
		return nil, err
	}
	if err := g.recordReadback(copyCmd); err != nil {
		return nil, err
	}
	return append(cmds, copyCmd), nil
}

// recordQuadrants draws every quadrant q with q%workers == worker. Worker 0
// clears the target and must be submitted first.
func (g *TestGame) recordQuadrants(cmd *renderer.Cmd, frame uint64, worker, workers int) error {
	s := g.state
	if err := cmd.Begin(); err != nil {
		return err
	}
	load := &metadata.LoadActionsDesc{}
	load.LoadActionsColor[0] = metadata.LoadActionLoad
	if worker == 0 {
		load.LoadActionsColor[0] = metadata.LoadActionClear
		load.ClearColorValues[0] = metadata.ClearValue{A: 1}
	}
	if err := cmd.BindRenderTargets([]renderer.RenderTargetBinding{{Texture: s.target}}, nil, load); err != nil {
		return err
	}
	cmd.BeginDebugMarker(1, 1, 0, "quadrants")
	if err := cmd.BindPipeline(s.pipeline); err != nil {
		return err
	}
	half := float32(targetSize / 2)
	for q := worker; q < quadrants; q += workers {
		x, y := float32(q%2)*half, float32(q/2)*half
		cmd.SetViewport(x, y, half, half, 0, 1)
		if err := cmd.BindDescriptorTable(tableFor(q, frame), s.tables); err != nil {
			return err
		}
		cmd.Draw(3, 0)
	}
	cmd.EndDebugMarker()
	return cmd.End()
}

func (g *TestGame) recordReadback(cmd *renderer.Cmd) error {
	if err := cmd.Begin(); err != nil {
		return err
	}
	if err := cmd.CopyTextureToBuffer(g.state.readback, g.state.target, metadata.SubresourceDesc{}); err != nil {
		return err
	}
	return cmd.End()
}

func (g *TestGame) renderClear(frame *engine.Frame) ([]*renderer.Cmd, error) {
	s := g.state
	cmd, err := frame.Pools[0].AddCmd(false)
	if err != nil {
		return nil, err
	}
	if err := cmd.Begin(); err != nil {
		return nil, err
	}
	c := palette[frame.Index%quadrants]
	load := &metadata.LoadActionsDesc{}
	load.LoadActionsColor[0] = metadata.LoadActionClear
	load.ClearColorValues[0] = metadata.ClearValue{R: c[0], G: c[1], B: c[2], A: c[3]}
	if err := cmd.BindRenderTargets([]renderer.RenderTargetBinding{{Texture: s.target}}, nil, load); err != nil {
		return nil, err
	}
	if err := cmd.CopyTextureToBuffer(s.readback, s.target, metadata.SubresourceDesc{}); err != nil {
		return nil, err
	}
	if err := cmd.End(); err != nil {
		return nil, err
	}
	return []*renderer.Cmd{cmd}, nil
}

// Image returns the contents of the readback buffer. The device must be idle.
func (g *TestGame) Image() (*image.RGBA, error) {
	s := g.state
	if s.readback == nil {
		return nil, errors.Wrap(core.ErrInvalidState, "testbed is not initialized")
	}
	mem, err := s.readback.Map()
	if err != nil {
		return nil, err
	}
	defer s.readback.Unmap()
	img := image.NewRGBA(image.Rect(0, 0, targetSize, targetSize))
	copy(img.Pix, mem)
	return img, nil
}

func (g *TestGame) writeOutput() error {
	s := g.state
	if s.output == "" || s.frames == 0 {
		return nil
	}
	img, err := g.Image()
	if err != nil {
		return err
	}
	f, err := os.Create(s.output)
	if err != nil {
		return errors.Wrapf(err, "creating %s", s.output)
	}
	if err := bmp.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "encoding %s", s.output)
	}
	s.logger.LogInfo("frame %d written to %s", s.frames-1, s.output)
	return f.Close()
}

func (g *TestGame) Shutdown() error {
	s := g.state
	if s.r == nil {
		return nil
	}
	err := g.writeOutput()
	g.releaseBindings()
	for _, b := range s.colors {
		_ = s.r.RemoveBuffer(b)
	}
	s.colors = nil
	if s.readback != nil {
		_ = s.r.RemoveBuffer(s.readback)
		s.readback = nil
	}
	if s.target != nil {
		_ = s.r.RemoveTexture(s.target)
		s.target = nil
	}
	return err
}
