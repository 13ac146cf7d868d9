package processor

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func WithTrace(tracer trace.Tracer) ProcessorBuilder {
	return func(spec *v1beta1.Step) Bootstraper {
		if tracer == nil {
			return nil
		}

		return &Trace{
			stepID:   spec.ID,
			stepKind: string(spec.Kind),
			tracer:   tracer,
		}
	}
}

type Trace struct {
	stepID   string
	stepKind string
	tracer   trace.Tracer
}

func (s *Trace) Bootstrap(next Next) (Next, error) {
	return func(ctx context.Context, execCtx *ExecutionContext) error {
		ctx, span := s.tracer.Start(ctx, s.stepID, trace.WithSpanKind(trace.SpanKindInternal))
		defer span.End()

		span.SetAttributes(
			attribute.String("job.id", execCtx.JobID),
			attribute.String("step.kind", s.stepKind),
		)

		ctx = logr.NewContext(ctx, logr.FromContextOrDiscard(ctx).WithValues(
			"span-id", span.SpanContext().SpanID(),
			"trace-id", span.SpanContext().TraceID()),
		)

		return next(ctx, execCtx)
	}, nil
}
