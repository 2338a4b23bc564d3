package testbed

import (
	"encoding/binary"
	"math"

	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
	"github.com/spaghettifunk/rei/engine/renderer/soft"
)

// fullscreen covers the viewport with one triangle.
var fullscreen = soft.VertexFunc(func(_ *soft.ShaderContext, in soft.VertexInput) soft.VertexOutput {
	x := float32((in.VertexIndex<<1)&2)*2 - 1
	y := float32(in.VertexIndex&2)*2 - 1
	return soft.VertexOutput{Position: [4]float32{x, y, 0.5, 1}}
})

// uniformColor outputs the color of the uniform buffer bound at slot 0.
var uniformColor = soft.FragmentFunc(func(ctx *soft.ShaderContext, _ soft.FragmentInput) [4]float32 {
	b := ctx.Buffer(0, 0, 0)
	if len(b) < 16 {
		return [4]float32{}
	}
	var c [4]float32
	for i := range c {
		c[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return c
})

func softShaders() []backend.ShaderDesc {
	return []backend.ShaderDesc{
		{Stage: metadata.ShaderStageVert, Program: fullscreen, EntryPoint: "main"},
		{Stage: metadata.ShaderStageFrag, Program: uniformColor, EntryPoint: "main"},
	}
}

func putColor(b []byte, c [4]float32) {
	for i, v := range c {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
}
