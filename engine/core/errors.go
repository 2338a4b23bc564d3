package core

import (
	"github.com/cockroachdb/errors"
)

var (
	// Capacity exhaustion.
	ErrHeapExhausted   = errors.New("descriptor heap exhausted")
	ErrSignatureBudget = errors.New("root signature budget exceeded")
	ErrPoolExhausted   = errors.New("native descriptor pool exhausted")

	// Contract violations.
	ErrInvalidSignature  = errors.New("invalid root signature description")
	ErrSignatureMismatch = errors.New("descriptor table bound with a different root signature than the pipeline")
	ErrStaleDescriptor   = errors.New("descriptor range is stale or already released")
	ErrStaleHandle       = errors.New("handle is stale or already released")
	ErrNotMappable       = errors.New("resource memory is not host visible")
	ErrInvalidUpdate     = errors.New("invalid descriptor update")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidState      = errors.New("command buffer is in an invalid state")
	ErrDuplicateStage    = errors.New("shader stage provided more than once")

	// Native failures.
	ErrNative      = errors.New("native backend call failed")
	ErrUnsupported = errors.New("operation not supported by backend")
	ErrTimeout     = errors.New("timed out")
	ErrUnknown     = errors.New("unknown")
)
