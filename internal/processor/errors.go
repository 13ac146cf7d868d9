package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
)

var (
	// ErrConditionFalse is returned instead of executing a step whose
	// condition expression evaluated false.
	ErrConditionFalse = errors.New("conditional step skipped")

	// ErrTimeout marks a step forcibly terminated after exceeding its
	// timeout.
	ErrTimeout = errors.New("step timed out")

	// ErrCompositeDepth rejects composite expansion beyond the
	// configured maximum nesting depth.
	ErrCompositeDepth = errors.New("maximum composite action depth exceeded")

	// ErrCancelled marks a step terminated by job cancellation.
	ErrCancelled = errors.New("step cancelled")

	// ErrJobTimeout marks steps terminated because the job-level
	// timeout expired. The worker installs it as the cancellation
	// cause so results distinguish expiry from an operator cancel.
	ErrJobTimeout = errors.New("job timeout exceeded")
)

// ExitError carries a child process exit code through the chain.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process exited with code %d", e.Code)
}

// Classify folds a chain error into a step outcome. All step-level
// failures terminate here; nothing propagates past the engine boundary
// as a process-fatal error.
func Classify(ctx context.Context, err error) (v1beta1.Outcome, int, string) {
	var exitErr *ExitError

	switch {
	case err == nil:
		return v1beta1.OutcomeSucceeded, 0, ""
	case errors.Is(err, ErrConditionFalse):
		return v1beta1.OutcomeSkipped, 0, ""
	case errors.Is(err, ErrTimeout):
		return v1beta1.OutcomeFailed, -1, err.Error()
	case errors.Is(err, ErrCompositeDepth):
		return v1beta1.OutcomeFailed, -1, err.Error()
	case ctx.Err() != nil && errors.Is(context.Cause(ctx), ErrJobTimeout):
		return v1beta1.OutcomeFailed, -1, context.Cause(ctx).Error()
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled), ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded):
		return v1beta1.OutcomeCancelled, -1, "job cancelled"
	case errors.As(err, &exitErr):
		return v1beta1.OutcomeFailed, exitErr.Code, err.Error()
	default:
		return v1beta1.OutcomeFailed, -1, err.Error()
	}
}
