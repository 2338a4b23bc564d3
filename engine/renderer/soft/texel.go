package soft

import (
	"encoding/binary"
	"math"

	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

func unorm8(b byte) float32 {
	return float32(b) / 255
}

func toUnorm8(v float32) byte {
	return byte(clamp(v, 0, 1)*255 + 0.5)
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func f32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func putF32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

// decode reads one texel or vertex attribute. Missing components are 0 and
// a missing alpha is 1.
func decode(f metadata.Format, b []byte) [4]float32 {
	out := [4]float32{0, 0, 0, 1}
	switch f {
	case metadata.FormatR8Unorm:
		out[0] = unorm8(b[0])
	case metadata.FormatR8G8Unorm:
		out[0], out[1] = unorm8(b[0]), unorm8(b[1])
	case metadata.FormatR8G8B8A8Unorm, metadata.FormatR8G8B8A8Srgb:
		out = [4]float32{unorm8(b[0]), unorm8(b[1]), unorm8(b[2]), unorm8(b[3])}
	case metadata.FormatB8G8R8A8Unorm:
		out = [4]float32{unorm8(b[2]), unorm8(b[1]), unorm8(b[0]), unorm8(b[3])}
	case metadata.FormatR16Uint:
		out[0] = float32(binary.LittleEndian.Uint16(b))
	case metadata.FormatR32Uint:
		out[0] = float32(binary.LittleEndian.Uint32(b))
	case metadata.FormatR32Sfloat, metadata.FormatD32Sfloat:
		out[0] = f32(b)
	case metadata.FormatR32G32Sfloat:
		out[0], out[1] = f32(b), f32(b[4:])
	case metadata.FormatR32G32B32Sfloat:
		out[0], out[1], out[2] = f32(b), f32(b[4:]), f32(b[8:])
	case metadata.FormatR32G32B32A32Sfloat:
		out = [4]float32{f32(b), f32(b[4:]), f32(b[8:]), f32(b[12:])}
	case metadata.FormatD16Unorm:
		out[0] = float32(binary.LittleEndian.Uint16(b)) / math.MaxUint16
	case metadata.FormatD24UnormS8Uint:
		v := binary.LittleEndian.Uint32(b)
		out[0] = float32(v&0xFFFFFF) / 0xFFFFFF
		out[1] = float32(v >> 24)
	}
	return out
}

func encode(f metadata.Format, b []byte, v [4]float32) {
	switch f {
	case metadata.FormatR8Unorm:
		b[0] = toUnorm8(v[0])
	case metadata.FormatR8G8Unorm:
		b[0], b[1] = toUnorm8(v[0]), toUnorm8(v[1])
	case metadata.FormatR8G8B8A8Unorm, metadata.FormatR8G8B8A8Srgb:
		b[0], b[1], b[2], b[3] = toUnorm8(v[0]), toUnorm8(v[1]), toUnorm8(v[2]), toUnorm8(v[3])
	case metadata.FormatB8G8R8A8Unorm:
		b[0], b[1], b[2], b[3] = toUnorm8(v[2]), toUnorm8(v[1]), toUnorm8(v[0]), toUnorm8(v[3])
	case metadata.FormatR16Uint:
		binary.LittleEndian.PutUint16(b, uint16(v[0]))
	case metadata.FormatR32Uint:
		binary.LittleEndian.PutUint32(b, uint32(v[0]))
	case metadata.FormatR32Sfloat, metadata.FormatD32Sfloat:
		putF32(b, v[0])
	case metadata.FormatR32G32Sfloat:
		putF32(b, v[0])
		putF32(b[4:], v[1])
	case metadata.FormatR32G32B32Sfloat:
		putF32(b, v[0])
		putF32(b[4:], v[1])
		putF32(b[8:], v[2])
	case metadata.FormatR32G32B32A32Sfloat:
		for i := 0; i < 4; i++ {
			putF32(b[4*i:], v[i])
		}
	case metadata.FormatD16Unorm:
		binary.LittleEndian.PutUint16(b, uint16(clamp(v[0], 0, 1)*math.MaxUint16+0.5))
	case metadata.FormatD24UnormS8Uint:
		depth := uint32(float64(clamp(v[0], 0, 1))*0xFFFFFF + 0.5)
		if depth > 0xFFFFFF {
			depth = 0xFFFFFF
		}
		binary.LittleEndian.PutUint32(b, depth|(uint32(v[1])&0xFF)<<24)
	}
}

// swizzle applies a shader resource view component mapping.
func swizzle(c [4]float32, m [4]metadata.ComponentMapping) [4]float32 {
	var out [4]float32
	for i, s := range m {
		switch s {
		case metadata.ComponentMappingDefault:
			out[i] = c[i]
		case metadata.ComponentMappingZero:
			out[i] = 0
		case metadata.ComponentMappingOne:
			out[i] = 1
		default:
			out[i] = c[s-metadata.ComponentMappingR]
		}
	}
	return out
}

func wrap(coord int, size uint32, mode metadata.AddressMode) (uint32, bool) {
	n := int(size)
	switch mode {
	case metadata.AddressModeRepeat:
		coord %= n
		if coord < 0 {
			coord += n
		}
	case metadata.AddressModeMirror:
		period := 2 * n
		coord %= period
		if coord < 0 {
			coord += period
		}
		if coord >= n {
			coord = period - 1 - coord
		}
	case metadata.AddressModeClampToBorder:
		if coord < 0 || coord >= n {
			return 0, false
		}
	default:
		if coord < 0 {
			coord = 0
		}
		if coord >= n {
			coord = n - 1
		}
	}
	return uint32(coord), true
}

// sample filters mip 0 of layer at normalized (u, v).
func sample(t *texture, layer uint32, s *metadata.SamplerDesc, u, v float32) [4]float32 {
	w, h, _ := t.extent(0)
	fetch := func(x, y int) [4]float32 {
		tx, okx := wrap(x, w, s.AddressU)
		ty, oky := wrap(y, h, s.AddressV)
		if !okx || !oky {
			return [4]float32{}
		}
		return t.load(0, layer, tx, ty, 0)
	}
	fx := u*float32(w) - 0.5
	fy := v*float32(h) - 0.5
	if s.MagFilter == metadata.FilterNearest {
		return fetch(int(math.Floor(float64(fx+0.5))), int(math.Floor(float64(fy+0.5))))
	}
	x0, y0 := int(math.Floor(float64(fx))), int(math.Floor(float64(fy)))
	ax, ay := fx-float32(x0), fy-float32(y0)
	c00, c10 := fetch(x0, y0), fetch(x0+1, y0)
	c01, c11 := fetch(x0, y0+1), fetch(x0+1, y0+1)
	var out [4]float32
	for i := range out {
		top := c00[i]*(1-ax) + c10[i]*ax
		bottom := c01[i]*(1-ax) + c11[i]*ax
		out[i] = top*(1-ay) + bottom*ay
	}
	return out
}
