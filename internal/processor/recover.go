package processor

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
)

func WithRecover() ProcessorBuilder {
	return func(spec *v1beta1.Step) Bootstraper {
		return &Recover{
			stepName: spec.Name,
		}
	}
}

// Recover converts a panic anywhere below it into a step error so a
// single step's crash never corrupts the job record or the worker.
type Recover struct {
	stepName string
}

func (s *Recover) Bootstrap(next Next) (Next, error) {
	return func(ctx context.Context, execCtx *ExecutionContext) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in step `%s`: %v\n trace:\n%s", s.stepName, r, debug.Stack())
			}
		}()

		err = next(ctx, execCtx)
		return
	}, nil
}
