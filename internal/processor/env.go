package processor

import (
	"context"

	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
)

func WithEnv() ProcessorBuilder {
	return func(spec *v1beta1.Step) Bootstraper {
		if len(spec.Env) == 0 {
			return nil
		}

		return &Env{
			envs: spec.Env,
		}
	}
}

// Env applies the step's environment on top of the job overlay for
// the duration of the step; the overlay is restored at the step
// boundary so step env never leaks into later steps.
type Env struct {
	envs map[string]string
}

func (s *Env) Bootstrap(next Next) (Next, error) {
	return func(ctx context.Context, execCtx *ExecutionContext) error {
		type saved struct {
			value string
			ok    bool
		}

		previous := make(map[string]saved, len(s.envs))
		for k, v := range s.envs {
			old, ok := execCtx.LookupEnv(k)
			previous[k] = saved{value: old, ok: ok}
			execCtx.SetEnv(k, v)
		}

		defer func() {
			for k, prev := range previous {
				if prev.ok {
					execCtx.SetEnv(k, prev.value)
				} else {
					execCtx.UnsetEnv(k)
				}
			}
		}()

		return next(ctx, execCtx)
	}, nil
}
