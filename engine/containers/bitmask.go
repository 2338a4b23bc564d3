package containers

import "math/bits"

// Bitmask is a fixed size set of bits stored in 32 bit words.
type Bitmask struct {
	words []uint32
	size  int
}

// NewBitmask rounds size up to a multiple of 32.
func NewBitmask(size int) *Bitmask {
	n := (size + 31) / 32
	return &Bitmask{words: make([]uint32, n), size: n * 32}
}

func (b *Bitmask) Len() int {
	return b.size
}

func (b *Bitmask) Words() int {
	return len(b.words)
}

func (b *Bitmask) Word(i int) uint32 {
	return b.words[i]
}

func (b *Bitmask) Test(i int) bool {
	return b.words[i/32]&(1<<(uint(i)%32)) != 0
}

func (b *Bitmask) Set(i int) {
	b.words[i/32] |= 1 << (uint(i) % 32)
}

func (b *Bitmask) Clear(i int) {
	b.words[i/32] &^= 1 << (uint(i) % 32)
}

func (b *Bitmask) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount32(w)
	}
	return n
}

// FindClearRun returns the first index of count consecutive clear bits, or -1.
// Full words are skipped and a set bit restarts the run.
func (b *Bitmask) FindClearRun(count int) int {
	if count <= 0 || count > b.size {
		return -1
	}
	start, run := -1, 0
	for w, word := range b.words {
		if word == ^uint32(0) {
			start, run = -1, 0
			continue
		}
		for bit := 0; bit < 32; bit++ {
			idx := w*32 + bit
			if word&(1<<uint(bit)) != 0 {
				start, run = -1, 0
				continue
			}
			if start < 0 {
				start = idx
			}
			run++
			if run == count {
				return start
			}
		}
	}
	return -1
}
