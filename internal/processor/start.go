package processor

import (
	"context"
)

// Start announces the step on the event sink. It sits directly above
// the kind executor, so a step rejected earlier in the chain, most
// notably by a false condition, never surfaces a start event.
type Start struct {
	stepID string
	name   string
}

func (s *Start) Bootstrap(next Next) (Next, error) {
	return func(ctx context.Context, execCtx *ExecutionContext) error {
		execCtx.Sink.StepStarted(s.stepID, s.name)
		return next(ctx, execCtx)
	}, nil
}
