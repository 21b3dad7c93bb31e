package display

import (
	"errors"
	"fmt"

	"threshcam/internal/frame"
	"threshcam/internal/pipeline"
)

// Multi renders each frame to every sink in order.
type Multi struct {
	sinks []pipeline.Sink
}

func NewMulti(sinks ...pipeline.Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Add(s pipeline.Sink) {
	m.sinks = append(m.sinks, s)
}

func (m *Multi) Len() int {
	return len(m.sinks)
}

// Render stops at the first failing sink.
func (m *Multi) Render(f *frame.Frame) error {
	for i, s := range m.sinks {
		if err := s.Render(f); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}

// Close closes every sink, last added first.
func (m *Multi) Close() error {
	var errs []error
	for i := len(m.sinks) - 1; i >= 0; i-- {
		if err := m.sinks[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every frame.
type Discard struct{}

func (Discard) Render(*frame.Frame) error { return nil }

func (Discard) Close() error { return nil }
