package chain

import (
	"context"
	"fmt"

	"leaf-lesion-detector/internal/opencv/safe"
)

// ProcessingStep transforms a Mat into a new Mat. The input is never closed
// by the step.
type ProcessingStep interface {
	Apply(ctx context.Context, input *safe.Mat) (*safe.Mat, error)
	Name() string
	ShouldExecute() bool
}

type ProcessingChain struct {
	steps []ProcessingStep
}

func NewProcessingChain(steps ...ProcessingStep) *ProcessingChain {
	return &ProcessingChain{
		steps: steps,
	}
}

// Execute runs every enabled step in order. The result is always a new Mat
// owned by the caller, even when no step executes.
func (pc *ProcessingChain) Execute(ctx context.Context, input *safe.Mat) (*safe.Mat, error) {
	current := input

	release := func() {
		if current != input {
			current.Close()
		}
	}

	for _, step := range pc.steps {
		select {
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		default:
		}

		if !step.ShouldExecute() {
			continue
		}

		result, err := step.Apply(ctx, current)
		if err != nil {
			release()
			return nil, fmt.Errorf("step %s failed: %w", step.Name(), err)
		}

		release()
		current = result
	}

	if current == input {
		return input.Clone()
	}
	return current, nil
}
