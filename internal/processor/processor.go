// Package processor implements the step execution engine. Every
// concern wrapping a step (panic recovery, conditions, timeouts,
// logging, tracing, output capture) is a Bootstraper producing a Next
// middleware; the engine chains them around the kind-specific
// executor.
package processor

import (
	"context"

	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
)

type Next func(ctx context.Context, execCtx *ExecutionContext) error

type Bootstraper interface {
	Bootstrap(next Next) (Next, error)
}

type ProcessorBuilder func(spec *v1beta1.Step) Bootstraper

// EventSink receives execution events. The worker backs it with the
// IPC channel; tests use an in-memory recorder.
type EventSink interface {
	StepStarted(stepID, name string)
	StepCompleted(result v1beta1.StepResult)
	LogLine(stepID, line string)
}

// Builder instantiates the processors that apply to the given step.
// Builders returning nil are skipped.
func Builder(spec *v1beta1.Step, builders ...ProcessorBuilder) []Bootstraper {
	var result []Bootstraper
	for _, builder := range builders {
		processor := builder(spec)
		if processor != nil {
			result = append(result, processor)
		}
	}

	return result
}

// Chain folds processors into a single Next, outermost first.
func Chain(s ...Bootstraper) (Next, error) {
	if len(s) == 0 {
		return func(ctx context.Context, execCtx *ExecutionContext) error {
			return nil
		}, nil
	}

	next, err := Chain(s[1:]...)
	if err != nil {
		return nil, err
	}

	return s[0].Bootstrap(next)
}
