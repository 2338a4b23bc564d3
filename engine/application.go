package engine

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/rei/engine/renderer"
)

// Frame is what a game records against. Slot cycles through the frames in
// flight; the resources of a slot are free to reuse once Render is called
// with it.
type Frame struct {
	Index     uint64
	Slot      int
	DeltaTime float64
	Renderer  *renderer.Renderer
	Queue     *renderer.Queue
	// Pools holds one command pool per worker. A pool must only be used by
	// one goroutine at a time.
	Pools []*renderer.CmdPool
}

type frameResources struct {
	pools []*renderer.CmdPool
	fence *renderer.Fence
}

func newFrameResources(r *renderer.Renderer, q *renderer.Queue, workers int) (*frameResources, error) {
	fence, err := r.AddFence()
	if err != nil {
		return nil, errors.Wrap(err, "creating frame fence")
	}
	fr := &frameResources{fence: fence}
	for i := 0; i < workers; i++ {
		pool, err := r.AddCmdPool(q, true)
		if err != nil {
			fr.destroy(r)
			return nil, errors.Wrapf(err, "creating command pool %d", i)
		}
		fr.pools = append(fr.pools, pool)
	}
	return fr, nil
}

func (fr *frameResources) reset() error {
	for _, p := range fr.pools {
		if err := p.Recycle(); err != nil {
			return err
		}
	}
	return nil
}

func (fr *frameResources) destroy(r *renderer.Renderer) {
	for _, p := range fr.pools {
		r.RemoveCmdPool(p)
	}
	fr.pools = nil
	if fr.fence != nil {
		r.RemoveFence(fr.fence)
		fr.fence = nil
	}
}
