package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
)

// NewConditionEnv builds the CEL environment condition expressions are
// compiled against.
func NewConditionEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("job", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("steps", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("env", cel.MapType(cel.StringType, cel.StringType)),
	)
}

func WithCondition(celEnv *cel.Env) ProcessorBuilder {
	return func(spec *v1beta1.Step) Bootstraper {
		return &Condition{
			condition: spec.If,
			celEnv:    celEnv,
		}
	}
}

type Condition struct {
	condition string
	celEnv    *cel.Env
}

// Bootstrap compiles the condition up front so malformed expressions
// fail the step before it ever runs. The status functions always(),
// success(), failure() and cancelled() are rewritten to CEL over the
// aggregate job status; an empty condition defaults to success().
func (s *Condition) Bootstrap(next Next) (Next, error) {
	expr := rewriteStatusFunctions(s.condition)

	ast, issues := s.celEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("condition expression `%s` compilation failed: %w", s.condition, issues.Err())
	}

	prg, err := s.celEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("condition expression `%s` program failed: %w", s.condition, err)
	}

	return func(ctx context.Context, execCtx *ExecutionContext) error {
		out, _, err := prg.Eval(execCtx.conditionVars())
		if err != nil {
			return fmt.Errorf("condition expression `%s` evaluation failed: %w", s.condition, err)
		}

		result, ok := out.Value().(bool)
		if !ok {
			return fmt.Errorf("condition expression `%s` is not boolean", s.condition)
		}

		if !result {
			return ErrConditionFalse
		}

		return next(ctx, execCtx)
	}, nil
}

func rewriteStatusFunctions(condition string) string {
	condition = strings.TrimSpace(condition)

	switch condition {
	case "", "success()":
		return `job.status == "Succeeded"`
	case "always()":
		return "true"
	case "failure()":
		return `job.status == "Failed"`
	case "cancelled()":
		return `job.status == "Cancelled"`
	}

	return condition
}
