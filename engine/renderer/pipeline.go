package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

type PipelineDesc struct {
	Type               metadata.PipelineType
	Signature          *RootSignature
	Shaders            []backend.ShaderDesc
	VertexAttribs      []metadata.VertexAttrib
	Rasterizer         metadata.RasterizerStateDesc
	Depth              metadata.DepthStateDesc
	Blend              metadata.BlendStateDesc
	ColorFormats       []metadata.Format
	DepthStencilFormat metadata.Format
	SampleCount        metadata.SampleCount
	Topology           metadata.PrimitiveTopology
	PatchControlPoints uint32
	NumThreadsPerGroup [3]uint32
	Name               string
}

type Pipeline struct {
	r      *Renderer
	handle core.Handle
	name   string
	kind   metadata.PipelineType
	sig    *RootSignature
	native interface{}
}

func (r *Renderer) AddPipeline(desc PipelineDesc) (*Pipeline, error) {
	if err := r.validatePipeline(&desc); err != nil {
		return nil, err
	}
	if desc.SampleCount == 0 {
		desc.SampleCount = metadata.SampleCount1
	}
	native, err := r.device.CreatePipeline(&backend.PipelineDesc{
		Type:               desc.Type,
		Layout:             desc.Signature.layout,
		Shaders:            desc.Shaders,
		VertexAttribs:      desc.VertexAttribs,
		Rasterizer:         desc.Rasterizer,
		Depth:              desc.Depth,
		Blend:              desc.Blend,
		ColorFormats:       desc.ColorFormats,
		DepthStencilFormat: desc.DepthStencilFormat,
		SampleCount:        desc.SampleCount,
		Topology:           desc.Topology,
		PatchControlPoints: desc.PatchControlPoints,
		NumThreadsPerGroup: desc.NumThreadsPerGroup,
	}, desc.Signature.native)
	if err != nil {
		r.logger.LogError("failed to create pipeline %q: %s", desc.Name, err.Error())
		return nil, errors.Wrapf(err, "creating pipeline %q", desc.Name)
	}

	desc.Signature.retain()
	p := &Pipeline{r: r, name: debugName("pipeline", desc.Name), kind: desc.Type, sig: desc.Signature, native: native}
	r.device.SetName(native, p.name)
	p.handle = r.pipelines.Acquire(p)
	return p, nil
}

func (r *Renderer) validatePipeline(desc *PipelineDesc) error {
	a := r.assert
	if err := a.Check(desc.Signature != nil && desc.Signature.native != nil, core.ErrInvalidArgument,
		"pipeline %q needs a live root signature", desc.Name); err != nil {
		return err
	}
	if err := a.Check(desc.Type != metadata.PipelineTypeUndefined && desc.Type == desc.Signature.layout.PipelineType,
		core.ErrSignatureMismatch, "pipeline %q type does not match its root signature", desc.Name); err != nil {
		return err
	}
	var stages metadata.ShaderStage
	for _, s := range desc.Shaders {
		if stages&s.Stage != 0 {
			return a.Fail(core.ErrDuplicateStage, "pipeline %q declares stage %#x twice", desc.Name, uint32(s.Stage))
		}
		stages |= s.Stage
	}
	if desc.Type == metadata.PipelineTypeCompute {
		return a.Check(stages == metadata.ShaderStageComp, core.ErrInvalidArgument,
			"compute pipeline %q needs exactly a compute shader", desc.Name)
	}
	if err := a.Check(stages&metadata.ShaderStageVert != 0 && stages&metadata.ShaderStageComp == 0, core.ErrInvalidArgument,
		"graphics pipeline %q needs a vertex shader and no compute shader", desc.Name); err != nil {
		return err
	}
	return a.Check(len(desc.ColorFormats) <= metadata.MaxRenderTargetAttachments, core.ErrInvalidArgument,
		"pipeline %q has %d color targets", desc.Name, len(desc.ColorFormats))
}

func (p *Pipeline) Type() metadata.PipelineType {
	return p.kind
}

func (p *Pipeline) Signature() *RootSignature {
	return p.sig
}

func (p *Pipeline) Name() string {
	return p.name
}

func (r *Renderer) RemovePipeline(p *Pipeline) error {
	if p == nil {
		return nil
	}
	if err := r.assert.Check(p.native != nil, core.ErrStaleHandle, "pipeline %q removed twice", p.name); err != nil {
		return err
	}
	r.device.DestroyPipeline(p.native)
	p.native = nil
	p.sig.release()
	return r.pipelines.Release(p.handle)
}
