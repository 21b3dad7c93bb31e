package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InitStep is one piece of one-time setup that must succeed before frames flow.
type InitStep struct {
	Name string
	Run  func(ctx context.Context) error
}

// InitError names the setup step that failed.
type InitError struct {
	Step string
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initialization step %q failed: %v", e.Step, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Ready proves initialization completed. Only Initialize creates one.
type Ready struct {
	SessionID string
	At        time.Time
	Steps     []string
}

// Initialize runs steps in order and stops at the first failure.
func Initialize(ctx context.Context, steps ...InitStep) (*Ready, error) {
	done := make([]string, 0, len(steps))
	for _, step := range steps {
		select {
		case <-ctx.Done():
			return nil, &InitError{Step: step.Name, Err: ctx.Err()}
		default:
		}
		if step.Run == nil {
			return nil, &InitError{Step: step.Name, Err: fmt.Errorf("step has no function")}
		}
		if err := step.Run(ctx); err != nil {
			return nil, &InitError{Step: step.Name, Err: err}
		}
		done = append(done, step.Name)
	}

	return &Ready{
		SessionID: uuid.NewString(),
		At:        time.Now(),
		Steps:     done,
	}, nil
}
