package metadata

/** @brief Texel and vertex formats understood by every backend. */
type Format int

const (
	FormatUndefined Format = iota
	FormatR8Unorm
	FormatR8G8Unorm
	FormatR8G8B8A8Unorm
	FormatR8G8B8A8Srgb
	FormatB8G8R8A8Unorm
	FormatR16Uint
	FormatR32Uint
	FormatR32Sfloat
	FormatR32G32Sfloat
	FormatR32G32B32Sfloat
	FormatR32G32B32A32Sfloat
	FormatD16Unorm
	FormatD32Sfloat
	FormatD24UnormS8Uint
	FormatCount
)

// BytesPerPixel returns the size of one texel, or 0 for Undefined.
func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatR8Unorm:
		return 1
	case FormatR8G8Unorm, FormatR16Uint, FormatD16Unorm:
		return 2
	case FormatR8G8B8A8Unorm, FormatR8G8B8A8Srgb, FormatB8G8R8A8Unorm, FormatR32Uint, FormatR32Sfloat, FormatD32Sfloat, FormatD24UnormS8Uint:
		return 4
	case FormatR32G32Sfloat:
		return 8
	case FormatR32G32B32Sfloat:
		return 12
	case FormatR32G32B32A32Sfloat:
		return 16
	}
	return 0
}

// Channels returns the number of color or depth components.
func (f Format) Channels() int {
	switch f {
	case FormatR8Unorm, FormatR16Uint, FormatR32Uint, FormatR32Sfloat, FormatD16Unorm, FormatD32Sfloat:
		return 1
	case FormatR8G8Unorm, FormatR32G32Sfloat, FormatD24UnormS8Uint:
		return 2
	case FormatR32G32B32Sfloat:
		return 3
	case FormatR8G8B8A8Unorm, FormatR8G8B8A8Srgb, FormatB8G8R8A8Unorm, FormatR32G32B32A32Sfloat:
		return 4
	}
	return 0
}

func (f Format) IsDepth() bool {
	return f == FormatD16Unorm || f == FormatD32Sfloat || f == FormatD24UnormS8Uint
}

func (f Format) HasStencil() bool {
	return f == FormatD24UnormS8Uint
}

func ParseFormat(name string) (Format, bool) {
	switch name {
	case "r8_unorm":
		return FormatR8Unorm, true
	case "r8g8_unorm":
		return FormatR8G8Unorm, true
	case "r8g8b8a8_unorm":
		return FormatR8G8B8A8Unorm, true
	case "r8g8b8a8_srgb":
		return FormatR8G8B8A8Srgb, true
	case "b8g8r8a8_unorm":
		return FormatB8G8R8A8Unorm, true
	case "r16_uint":
		return FormatR16Uint, true
	case "r32_uint":
		return FormatR32Uint, true
	case "r32_sfloat":
		return FormatR32Sfloat, true
	case "r32g32_sfloat":
		return FormatR32G32Sfloat, true
	case "r32g32b32_sfloat":
		return FormatR32G32B32Sfloat, true
	case "r32g32b32a32_sfloat":
		return FormatR32G32B32A32Sfloat, true
	case "d16_unorm":
		return FormatD16Unorm, true
	case "d32_sfloat":
		return FormatD32Sfloat, true
	case "d24_unorm_s8_uint":
		return FormatD24UnormS8Uint, true
	}
	return FormatUndefined, false
}
