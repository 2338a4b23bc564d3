package soft

import (
	"math"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

type screenVertex struct {
	x, y, z  float32
	invW     float32
	varyings Varyings
}

// edge is the signed area of (a, b, p), positive when p is to the right of
// a->b with y pointing down.
func edge(ax, ay, bx, by, px, py float32) float32 {
	return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
}

// draw runs the vertex stage for count vertices per instance and rasterizes
// the resulting triangles. index maps a draw-local index to a vertex index.
func (st *execState) draw(count, instanceCount, firstInstance uint32, index func(uint32) (uint32, bool)) error {
	p := st.pipeline
	if p == nil || p.vertex == nil {
		return errors.Wrap(core.ErrInvalidState, "draw without a graphics pipeline")
	}
	if len(st.colors) == 0 && st.depth == nil {
		return errors.Wrap(core.ErrInvalidState, "draw without render targets")
	}
	switch p.desc.Topology {
	case metadata.PrimitiveTopoTriList, metadata.PrimitiveTopoTriStrip:
	default:
		st.d.logger.LogWarn("soft device only rasterizes triangles, topology %d skipped", p.desc.Topology)
		return nil
	}

	vctx := &ShaderContext{st: st, kind: metadata.PipelineTypeGraphics, stage: metadata.ShaderStageVert}
	fctx := &ShaderContext{st: st, kind: metadata.PipelineTypeGraphics, stage: metadata.ShaderStageFrag}
	verts := make([]screenVertex, 0, count)
	for inst := firstInstance; inst < firstInstance+metadata.Max(instanceCount, 1); inst++ {
		verts = verts[:0]
		for i := uint32(0); i < count; i++ {
			vi, ok := index(i)
			if !ok {
				return errors.Wrap(core.ErrInvalidArgument, "index read past the end of the index buffer")
			}
			vctx.vertex = VertexInput{VertexIndex: vi, InstanceIndex: inst}
			out := p.vertex(vctx, vctx.vertex)
			st.countInvocation()
			verts = append(verts, st.toScreen(out))
		}
		if p.desc.Topology == metadata.PrimitiveTopoTriList {
			for i := 0; i+2 < len(verts); i += 3 {
				st.rasterize(p, fctx, &verts[i], &verts[i+1], &verts[i+2])
			}
			continue
		}
		for i := 0; i+2 < len(verts); i++ {
			if i%2 == 0 {
				st.rasterize(p, fctx, &verts[i], &verts[i+1], &verts[i+2])
			} else {
				st.rasterize(p, fctx, &verts[i+1], &verts[i], &verts[i+2])
			}
		}
	}
	return nil
}

// toScreen applies the perspective divide and the viewport transform. NDC y
// points down, as in Vulkan.
func (st *execState) toScreen(out VertexOutput) screenVertex {
	w := out.Position[3]
	if w == 0 {
		w = 1
	}
	inv := 1 / w
	vp := st.viewport
	return screenVertex{
		x:        vp.x + (out.Position[0]*inv+1)*0.5*vp.w,
		y:        vp.y + (out.Position[1]*inv+1)*0.5*vp.h,
		z:        vp.minDepth + out.Position[2]*inv*(vp.maxDepth-vp.minDepth),
		invW:     inv,
		varyings: out.Varyings,
	}
}

func (st *execState) bounds() (int, int, int, int) {
	var ref *target
	if len(st.colors) > 0 {
		ref = &st.colors[0]
	} else {
		ref = st.depth
	}
	w, h, _ := ref.tex.extent(ref.mip)
	minX, minY := int(math.Max(float64(st.viewport.x), 0)), int(math.Max(float64(st.viewport.y), 0))
	maxX := int(math.Min(float64(st.viewport.x+st.viewport.w), float64(w)))
	maxY := int(math.Min(float64(st.viewport.y+st.viewport.h), float64(h)))
	if s := st.scissor; s != nil {
		minX, minY = max(minX, int(s.x)), max(minY, int(s.y))
		maxX, maxY = min(maxX, int(s.x+s.w)), min(maxY, int(s.y+s.h))
	}
	return minX, minY, maxX, maxY
}

func (st *execState) rasterize(p *pipeline, ctx *ShaderContext, v0, v1, v2 *screenVertex) {
	area := edge(v0.x, v0.y, v1.x, v1.y, v2.x, v2.y)
	if area == 0 {
		return
	}
	// Positive area is clockwise on screen.
	front := (area > 0) == (p.desc.Rasterizer.FrontFace == metadata.FrontFaceCW)
	switch p.desc.Rasterizer.CullMode {
	case metadata.CullModeBack:
		if !front {
			return
		}
	case metadata.CullModeFront:
		if front {
			return
		}
	case metadata.CullModeBoth:
		return
	}
	if area < 0 {
		v1, v2 = v2, v1
		area = -area
	}

	clipX0, clipY0, clipX1, clipY1 := st.bounds()
	minX := max(clipX0, int(math.Floor(float64(min(v0.x, v1.x, v2.x)))))
	minY := max(clipY0, int(math.Floor(float64(min(v0.y, v1.y, v2.y)))))
	maxX := min(clipX1, int(math.Ceil(float64(max(v0.x, v1.x, v2.x)))))
	maxY := min(clipY1, int(math.Ceil(float64(max(v0.y, v1.y, v2.y)))))

	depthState := p.desc.Depth
	for y := minY; y < maxY; y++ {
		for x := minX; x < maxX; x++ {
			px, py := float32(x)+0.5, float32(y)+0.5
			w0 := edge(v1.x, v1.y, v2.x, v2.y, px, py)
			w1 := edge(v2.x, v2.y, v0.x, v0.y, px, py)
			w2 := edge(v0.x, v0.y, v1.x, v1.y, px, py)
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			w0, w1, w2 = w0/area, w1/area, w2/area
			z := w0*v0.z + w1*v1.z + w2*v2.z
			if z < 0 || z > 1 {
				continue
			}
			if st.depth != nil && depthState.DepthTestEnable {
				stored := st.depth.tex.load(st.depth.mip, st.depth.layer, uint32(x), uint32(y), 0)
				if !depthState.DepthCompare.Test(z, stored[0]) {
					continue
				}
			}
			st.countSample()
			if st.depth != nil && depthState.DepthTestEnable && depthState.DepthWriteEnable {
				stored := st.depth.tex.load(st.depth.mip, st.depth.layer, uint32(x), uint32(y), 0)
				stored[0] = z
				st.depth.tex.store(st.depth.mip, st.depth.layer, uint32(x), uint32(y), 0, stored)
			}
			if p.fragment == nil || len(st.colors) == 0 {
				continue
			}

			// Perspective correct interpolation.
			iw := w0*v0.invW + w1*v1.invW + w2*v2.invW
			in := FragmentInput{X: uint32(x), Y: uint32(y), Z: z}
			for i := range in.Varyings {
				in.Varyings[i] = (w0*v0.varyings[i]*v0.invW + w1*v1.varyings[i]*v1.invW + w2*v2.varyings[i]*v2.invW) / iw
			}
			color := p.fragment(ctx, in)
			for _, t := range st.colors {
				st.writeColor(p, &t, uint32(x), uint32(y), color)
			}
		}
	}
}

func (st *execState) writeColor(p *pipeline, t *target, x, y uint32, src [4]float32) {
	blend := p.desc.Blend
	dst := t.tex.load(t.mip, t.layer, x, y, 0)
	out := src
	if blend.Enable {
		a := clamp(src[3], 0, 1)
		for i := 0; i < 3; i++ {
			out[i] = src[i]*a + dst[i]*(1-a)
		}
		out[3] = a + dst[3]*(1-a)
	}
	if mask := blend.WriteMask; mask != 0 {
		for i := 0; i < 4; i++ {
			if mask&(1<<uint(i)) == 0 {
				out[i] = dst[i]
			}
		}
	}
	t.tex.store(t.mip, t.layer, x, y, 0, out)
}
