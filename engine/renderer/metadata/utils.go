package metadata

import "golang.org/x/exp/constraints"

// AlignUp rounds value up to a multiple of alignment. A zero alignment
// returns value unchanged.
func AlignUp[T constraints.Integer](value, alignment T) T {
	if alignment == 0 {
		return value
	}
	return (value + alignment - 1) / alignment * alignment
}

func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// SubresourceIndex is mip + slice*mipLevels + plane*mipLevels*arraySize.
func SubresourceIndex(mip, slice, plane, mipLevels, arraySize uint32) uint32 {
	return mip + slice*mipLevels + plane*mipLevels*arraySize
}

// MipExtent returns the size of a mip level, never below 1.
func MipExtent(size, mip uint32) uint32 {
	return Max(size>>mip, 1)
}
