package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
)

func WithTimeout(defaultTimeout time.Duration) ProcessorBuilder {
	return func(spec *v1beta1.Step) Bootstraper {
		timeout := spec.Timeout.Duration
		if timeout == 0 {
			timeout = defaultTimeout
		}

		if timeout == 0 {
			return nil
		}

		return &Timeout{
			timeout: timeout,
		}
	}
}

// Timeout bounds the wall time of everything below it. Expiry cancels
// the inner context, which forcibly terminates a running child
// process, and is reported as ErrTimeout rather than a plain
// cancellation.
type Timeout struct {
	timeout time.Duration
}

func (s *Timeout) Bootstrap(next Next) (Next, error) {
	return func(ctx context.Context, execCtx *ExecutionContext) error {
		timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		err := next(timeoutCtx, execCtx)

		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w after %s", ErrTimeout, s.timeout)
		}

		return err
	}, nil
}
