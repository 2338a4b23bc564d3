package core

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
)

// Handle identifies an object stored in an Arena. The generation changes every
// time the slot is reused, so a Handle kept after release is detected.
type Handle struct {
	Index      uint32
	Generation uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.Index, h.Generation)
}

type arenaSlot[T any] struct {
	value      T
	generation uint32
	live       bool
}

// Arena keeps owners in reusable slots. Free slots are reused before the
// arena grows.
type Arena[T any] struct {
	mu    sync.Mutex
	slots []arenaSlot[T]
	free  []uint32
}

func NewArena[T any](capacity int) *Arena[T] {
	return &Arena[T]{slots: make([]arenaSlot[T], 0, capacity)}
}

func (a *Arena[T]) Acquire(owner T) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[idx]
		s.value = owner
		s.live = true
		return Handle{Index: idx, Generation: s.generation}
	}
	a.slots = append(a.slots, arenaSlot[T]{value: owner, generation: 1, live: true})
	return Handle{Index: uint32(len(a.slots) - 1), Generation: 1}
}

func (a *Arena[T]) Get(h Handle) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var zero T
	if int(h.Index) >= len(a.slots) {
		return zero, false
	}
	s := a.slots[h.Index]
	if !s.live || s.generation != h.Generation {
		return zero, false
	}
	return s.value, true
}

func (a *Arena[T]) Release(h Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if int(h.Index) >= len(a.slots) {
		return errors.Wrapf(ErrStaleHandle, "handle %s out of range (max=%d)", h, len(a.slots))
	}
	s := &a.slots[h.Index]
	if !s.live || s.generation != h.Generation {
		return errors.Wrapf(ErrStaleHandle, "handle %s released twice or stale", h)
	}
	var zero T
	s.value = zero
	s.live = false
	s.generation++
	a.free = append(a.free, h.Index)
	return nil
}

// Len returns the number of live entries.
func (a *Arena[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots) - len(a.free)
}

// Each calls fn for every live entry in slot order.
func (a *Arena[T]) Each(fn func(Handle, T)) {
	a.mu.Lock()
	live := make([]struct {
		h Handle
		v T
	}, 0, len(a.slots))
	for i, s := range a.slots {
		if s.live {
			live = append(live, struct {
				h Handle
				v T
			}{Handle{uint32(i), s.generation}, s.value})
		}
	}
	a.mu.Unlock()
	for _, e := range live {
		fn(e.h, e.v)
	}
}
