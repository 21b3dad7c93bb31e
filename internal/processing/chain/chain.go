package chain

import (
	"context"
	"fmt"

	"threshcam/internal/frame"
)

// Stage transforms one frame. A stage may work in place and return its
// input, or return a different frame; it must not keep either after Apply.
type Stage interface {
	Apply(ctx context.Context, input *frame.Frame) (*frame.Frame, error)
	Name() string
}

type ProcessingChain struct {
	steps []Stage
}

func NewProcessingChain(steps ...Stage) *ProcessingChain {
	return &ProcessingChain{
		steps: steps,
	}
}

// Execute runs every stage in order on input and returns the last result.
func (pc *ProcessingChain) Execute(ctx context.Context, input *frame.Frame) (*frame.Frame, error) {
	current := input

	for _, step := range pc.steps {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		result, err := step.Apply(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("step %s failed: %w", step.Name(), err)
		}
		if result == nil {
			return nil, fmt.Errorf("step %s returned no frame", step.Name())
		}
		current = result
	}

	return current, nil
}

func (pc *ProcessingChain) AddStep(step Stage) {
	pc.steps = append(pc.steps, step)
}

func (pc *ProcessingChain) InsertStep(index int, step Stage) error {
	if index < 0 || index > len(pc.steps) {
		return fmt.Errorf("index out of range: %d", index)
	}

	pc.steps = append(pc.steps[:index], append([]Stage{step}, pc.steps[index:]...)...)
	return nil
}

func (pc *ProcessingChain) RemoveStep(index int) error {
	if index < 0 || index >= len(pc.steps) {
		return fmt.Errorf("index out of range: %d", index)
	}

	pc.steps = append(pc.steps[:index], pc.steps[index+1:]...)
	return nil
}

func (pc *ProcessingChain) StepCount() int {
	return len(pc.steps)
}

func (pc *ProcessingChain) StepNames() []string {
	names := make([]string, len(pc.steps))
	for i, step := range pc.steps {
		names[i] = step.Name()
	}
	return names
}

// Func adapts a plain function into a Stage.
type Func struct {
	StageName string
	Fn        func(ctx context.Context, f *frame.Frame) (*frame.Frame, error)
}

func (s Func) Apply(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
	return s.Fn(ctx, f)
}

func (s Func) Name() string {
	return s.StageName
}
