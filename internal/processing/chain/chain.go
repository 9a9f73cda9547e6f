package chain

import (
	"context"
	"fmt"
	"time"

	"espresso-flow-vision/internal/opencv/memory"
	"espresso-flow-vision/internal/opencv/safe"
)

// Params carries per-run step settings keyed by name.
type Params map[string]interface{}

func (p Params) Int(key string, fallback int) int {
	if v, ok := p[key].(int); ok {
		return v
	}
	return fallback
}

func (p Params) Float(key string, fallback float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

// ProcessingStep allocates its output through scope; the scope owner releases
// inputs and outputs together.
type ProcessingStep interface {
	Apply(ctx context.Context, scope *memory.Scope, input *safe.Mat, params Params) (*safe.Mat, error)
	Name() string
	ShouldExecute(params Params) bool
}

// StepObserver is told how long each executed step took.
type StepObserver func(step string, elapsed time.Duration)

type ProcessingChain struct {
	steps    []ProcessingStep
	observer StepObserver
}

func NewProcessingChain(steps []ProcessingStep) *ProcessingChain {
	return &ProcessingChain{
		steps: steps,
	}
}

func (pc *ProcessingChain) SetObserver(observer StepObserver) {
	pc.observer = observer
}

func (pc *ProcessingChain) Execute(ctx context.Context, scope *memory.Scope, input *safe.Mat, params Params) (*safe.Mat, error) {
	if scope == nil {
		return nil, fmt.Errorf("processing chain requires a memory scope")
	}

	current := input
	for _, step := range pc.steps {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if !step.ShouldExecute(params) {
			continue
		}

		started := time.Now()
		result, err := step.Apply(ctx, scope, current, params)
		if err != nil {
			return nil, fmt.Errorf("step %s failed: %w", step.Name(), err)
		}
		if pc.observer != nil {
			pc.observer(step.Name(), time.Since(started))
		}

		current = result
	}

	return current, nil
}

func (pc *ProcessingChain) GetStepNames() []string {
	names := make([]string, len(pc.steps))
	for i, step := range pc.steps {
		names[i] = step.Name()
	}
	return names
}
