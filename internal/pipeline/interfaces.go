package pipeline

import (
	"context"
	"errors"

	"threshcam/internal/frame"
)

var (
	// ErrEndOfStream is returned by a Source that has no more frames.
	ErrEndOfStream = errors.New("end of stream")

	// ErrNotReady is returned when a runner is built without completed initialization.
	ErrNotReady = errors.New("pipeline not initialized")
)

// Source yields intensity frames one at a time. Pacing and blocking are
// owned by the implementation. The caller owns each returned frame.
type Source interface {
	NextFrame(ctx context.Context) (*frame.Frame, error)
	Close() error
}

// Sink consumes processed frames. It must not keep f after Render returns.
type Sink interface {
	Render(f *frame.Frame) error
	Close() error
}

// Processor is the per-frame transform the runner drives.
type Processor interface {
	Execute(ctx context.Context, input *frame.Frame) (*frame.Frame, error)
}

// Recycler takes frames back once the sink is done with them.
type Recycler interface {
	Put(f *frame.Frame) bool
}
