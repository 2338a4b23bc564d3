package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer/backend"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

type Queue struct {
	r      *Renderer
	desc   metadata.QueueDesc
	native backend.Queue
}

func (r *Renderer) AddQueue(desc metadata.QueueDesc) (*Queue, error) {
	native, err := r.device.CreateQueue(desc)
	if err != nil {
		return nil, errors.Wrap(err, "creating queue")
	}
	return &Queue{r: r, desc: desc, native: native}, nil
}

// Submit executes cmds in order and signals fence, when given, once they
// are done. Every command buffer must have ended recording.
func (q *Queue) Submit(cmds []*Cmd, signal *Fence) error {
	lists := make([]backend.CommandList, 0, len(cmds))
	for i, c := range cmds {
		if err := q.r.assert.Check(c != nil && c.State == COMMAND_BUFFER_STATE_RECORDING_ENDED, core.ErrInvalidState,
			"command buffer %d submitted before End", i); err != nil {
			return err
		}
		lists = append(lists, c.native)
	}
	var fence backend.Fence
	if signal != nil {
		fence = signal.native
	}
	if err := q.native.Submit(lists, fence); err != nil {
		q.r.logger.LogError("queue submit failed: %s", err.Error())
		return errors.Wrap(err, "submitting command buffers")
	}
	for _, c := range cmds {
		c.State = COMMAND_BUFFER_STATE_SUBMITTED
	}
	if signal != nil {
		signal.submitted = true
	}
	return nil
}

func (q *Queue) WaitIdle() error {
	return q.native.WaitIdle()
}

// TimestampFrequency is the number of timestamp ticks per second.
func (q *Queue) TimestampFrequency() float64 {
	return q.native.TimestampFrequency()
}

func (r *Renderer) RemoveQueue(q *Queue) {
	if q == nil || q.native == nil {
		return
	}
	q.native.Destroy()
	q.native = nil
}

type Fence struct {
	native    backend.Fence
	submitted bool
}

func (r *Renderer) AddFence() (*Fence, error) {
	native, err := r.device.CreateFence()
	if err != nil {
		return nil, errors.Wrap(err, "creating fence")
	}
	return &Fence{native: native}, nil
}

// Status reports NOTSUBMITTED until the fence is passed to a Submit. A fence
// observed complete returns to the not submitted state.
func (f *Fence) Status() metadata.FenceStatus {
	if !f.submitted {
		return metadata.FenceStatusNotSubmitted
	}
	s := f.native.Status()
	if s == metadata.FenceStatusComplete {
		f.submitted = false
	}
	return s
}

func (r *Renderer) RemoveFence(f *Fence) {
	if f == nil || f.native == nil {
		return
	}
	f.native.Destroy()
	f.native = nil
}
