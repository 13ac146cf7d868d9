package processor

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
)

func WithLogger(logger logr.Logger) ProcessorBuilder {
	return func(spec *v1beta1.Step) Bootstraper {
		if logger.IsZero() {
			return nil
		}

		return &Logger{
			stepID:   spec.ID,
			stepName: spec.Name,
			logger:   logger,
		}
	}
}

type Logger struct {
	stepID   string
	stepName string
	logger   logr.Logger
}

func (s *Logger) Bootstrap(next Next) (Next, error) {
	return func(ctx context.Context, execCtx *ExecutionContext) error {
		logger := s.logger.WithValues("step", s.stepID)
		ctx = logr.NewContext(ctx, logger)

		logger.V(1).Info("step starting", "name", s.stepName)
		err := next(ctx, execCtx)
		logger.V(1).Info("step done", "err", err)

		return err
	}, nil
}
