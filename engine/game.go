package engine

import (
	"github.com/spaghettifunk/rei/engine/renderer"
)

// Game is the set of callbacks the engine drives. Every callback runs on the
// goroutine that called Engine.Run, Initialize or Shutdown; nil callbacks are
// skipped.
type Game struct {
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnOnLayout   OnLayout
	FnShutdown   Shutdown
}

type Initialize func(r *renderer.Renderer) error
type Update func(deltaTime float64) error

// Render records the command buffers of one frame. The returned buffers are
// submitted in order, signalling the frame fence.
type Render func(frame *Frame) ([]*renderer.Cmd, error)

// OnLayout is called between frames after a layout file changed. desc is nil
// when the layout was removed.
type OnLayout func(name string, desc *renderer.RootSignatureDesc) error
type Shutdown func() error
