package reflection

import (
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

type TextureDimension int

const (
	TextureDimUndefined TextureDimension = iota
	TextureDim1D
	TextureDim2D
	TextureDim2DMS
	TextureDim3D
	TextureDimCube
	TextureDim1DArray
	TextureDim2DArray
	TextureDim2DMSArray
	TextureDimCubeArray
)

type VertexInput struct {
	// Size of the attribute in bytes.
	Size uint32
	Name string
}

type ShaderResource struct {
	Type metadata.DescriptorType
	// Set is the binding frequency, which maps to a descriptor table slot.
	Set      uint32
	Register uint32
	// Size is the array size for textures and samplers, the byte size for
	// constant buffers.
	Size       uint32
	UsedStages metadata.ShaderStage
	Name       string
	Dim        TextureDimension
}

func (r *ShaderResource) same(o *ShaderResource) bool {
	return r.Type == o.Type && r.Set == o.Set && r.Register == o.Register &&
		(r.Name == "" || o.Name == "" || r.Name == o.Name)
}

// ShaderVariable is a member of a constant buffer.
type ShaderVariable struct {
	// ParentIndex indexes the Resources of the owning reflection.
	ParentIndex uint32
	Offset      uint32
	Size        uint32
	Name        string
	// Used is the compiler's "referenced by the shader" flag.
	Used bool
}

type ShaderReflection struct {
	Stage              metadata.ShaderStage
	VertexInputs       []VertexInput
	Resources          []ShaderResource
	Variables          []ShaderVariable
	NumThreadsPerGroup [3]uint32
	NumControlPoint    uint32
	EntryPoint         string
}

// CountBoundVariables returns the number of constant buffer variables the
// shader actually references.
func (s *ShaderReflection) CountBoundVariables() int {
	n := 0
	for _, v := range s.Variables {
		if v.Used {
			n++
		}
	}
	return n
}

// NewShaderReflection keeps only the variables the shader references.
func NewShaderReflection(stage metadata.ShaderStage, resources []ShaderResource, variables []ShaderVariable) *ShaderReflection {
	r := &ShaderReflection{Stage: stage, Resources: resources}
	for _, v := range variables {
		if v.Used {
			r.Variables = append(r.Variables, v)
		}
	}
	return r
}

type PipelineReflection struct {
	ShaderStages       metadata.ShaderStage
	StageReflections   []ShaderReflection
	VertexStageIndex   int
	HullStageIndex     int
	DomainStageIndex   int
	GeometryStageIndex int
	PixelStageIndex    int
	Resources          []ShaderResource
	Variables          []ShaderVariable
}

// CreatePipelineReflection merges the reflection of each stage. Resources
// with the same type, set and register are merged and their used stages
// combined.
func CreatePipelineReflection(stages ...ShaderReflection) (*PipelineReflection, error) {
	if len(stages) == 0 {
		return nil, errors.Wrap(core.ErrInvalidArgument, "no shader stages to reflect")
	}
	if len(stages) > metadata.MaxShaderStageCount {
		return nil, errors.Wrapf(core.ErrInvalidArgument, "%d shader stages, at most %d supported", len(stages), metadata.MaxShaderStageCount)
	}

	out := &PipelineReflection{
		VertexStageIndex:   -1,
		HullStageIndex:     -1,
		DomainStageIndex:   -1,
		GeometryStageIndex: -1,
		PixelStageIndex:    -1,
	}
	for i, s := range stages {
		if out.ShaderStages&s.Stage != 0 {
			return nil, errors.Wrapf(core.ErrDuplicateStage, "stage %#x", uint32(s.Stage))
		}
		out.ShaderStages |= s.Stage
		switch s.Stage {
		case metadata.ShaderStageVert:
			out.VertexStageIndex = i
		case metadata.ShaderStageTesc:
			out.HullStageIndex = i
		case metadata.ShaderStageTese:
			out.DomainStageIndex = i
		case metadata.ShaderStageGeom:
			out.GeometryStageIndex = i
		case metadata.ShaderStageFrag:
			out.PixelStageIndex = i
		}
	}
	out.StageReflections = append(out.StageReflections, stages...)

	type parented struct {
		v      ShaderVariable
		parent ShaderResource
	}
	var vars []parented

	for _, s := range stages {
		for _, res := range s.Resources {
			merged := false
			for k := range out.Resources {
				if out.Resources[k].same(&res) {
					out.Resources[k].UsedStages |= res.UsedStages | s.Stage
					merged = true
					break
				}
			}
			if !merged {
				res.UsedStages |= s.Stage
				out.Resources = append(out.Resources, res)
			}
		}
		for _, v := range s.Variables {
			if !v.Used {
				continue
			}
			if int(v.ParentIndex) >= len(s.Resources) {
				return nil, errors.Wrapf(core.ErrInvalidArgument, "variable %q has parent %d out of range", v.Name, v.ParentIndex)
			}
			dup := false
			for _, e := range vars {
				if e.v.Offset == v.Offset && e.v.Size == v.Size && e.v.Name == v.Name {
					dup = true
					break
				}
			}
			if !dup {
				vars = append(vars, parented{v: v, parent: s.Resources[v.ParentIndex]})
			}
		}
	}

	for _, e := range vars {
		v := e.v
		for j := range out.Resources {
			if out.Resources[j].same(&e.parent) {
				v.ParentIndex = uint32(j)
				break
			}
		}
		out.Variables = append(out.Variables, v)
	}
	return out, nil
}

// VertexInputs returns the inputs of the vertex stage, if any.
func (p *PipelineReflection) VertexInputs() []VertexInput {
	if p.VertexStageIndex < 0 {
		return nil
	}
	return p.StageReflections[p.VertexStageIndex].VertexInputs
}

// TableLayouts groups the merged resources into one table layout per set.
// Bindings follow the register order inside each set.
func (p *PipelineReflection) TableLayouts() ([]metadata.DescriptorTableLayout, error) {
	bySet := map[uint32]*metadata.DescriptorTableLayout{}
	for _, r := range p.Resources {
		if r.Type == metadata.DescriptorTypeRootConstant {
			continue
		}
		if r.Set >= metadata.DescriptorTableSlotCount {
			return nil, errors.Wrapf(core.ErrInvalidSignature, "resource %q uses set %d", r.Name, r.Set)
		}
		l, ok := bySet[r.Set]
		if !ok {
			l = &metadata.DescriptorTableLayout{Slot: metadata.DescriptorTableSlot(r.Set)}
			bySet[r.Set] = l
		}
		count := uint32(1)
		if r.Type != metadata.DescriptorTypeUniformBuffer && r.Size > 0 {
			count = r.Size
		}
		l.StageFlags |= r.UsedStages
		l.Bindings = append(l.Bindings, metadata.DescriptorBinding{
			DescriptorType:  r.Type,
			Binding:         r.Register,
			Register:        r.Register,
			DescriptorCount: count,
		})
	}
	out := make([]metadata.DescriptorTableLayout, 0, len(bySet))
	for _, l := range bySet {
		sort.Slice(l.Bindings, func(i, j int) bool { return l.Bindings[i].Register < l.Bindings[j].Register })
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}
