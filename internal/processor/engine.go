package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/outpost-run/outpost/internal/runtime"
	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

type EngineOption func(*Engine)

// WithBuilders sets the ambient processors wrapped around every step,
// outermost first. The kind executor is always innermost.
func WithBuilders(builders ...ProcessorBuilder) func(*Engine) {
	return func(e *Engine) {
		e.builders = builders
	}
}

func WithExec(exec runtime.Exec) func(*Engine) {
	return func(e *Engine) {
		e.exec = exec
	}
}

func WithContainer(container runtime.Container) func(*Engine) {
	return func(e *Engine) {
		e.container = container
	}
}

func WithNodeBin(nodeBin string) func(*Engine) {
	return func(e *Engine) {
		e.nodeBin = nodeBin
	}
}

func WithShell(shell string) func(*Engine) {
	return func(e *Engine) {
		e.shell = shell
	}
}

func WithPullPolicy(policy runtime.PullImagePolicy) func(*Engine) {
	return func(e *Engine) {
		e.pullPolicy = policy
	}
}

func WithMaxDepth(depth int) func(*Engine) {
	return func(e *Engine) {
		e.maxDepth = depth
	}
}

func WithPluginHost(host PluginHost) func(*Engine) {
	return func(e *Engine) {
		e.pluginHost = host
	}
}

// ActionResolver turns a manifest directory reference into an
// executable step. Implemented by actions.Resolver.
type ActionResolver interface {
	Resolve(stepID, dir string, inputs map[string]string) (v1beta1.Step, error)
}

func WithActionResolver(resolver ActionResolver) func(*Engine) {
	return func(e *Engine) {
		e.resolver = resolver
	}
}

// Engine executes normalized steps. It never lets a failure escape:
// every invocation produces exactly one StepResult per step.
type Engine struct {
	builders   []ProcessorBuilder
	exec       runtime.Exec
	container  runtime.Container
	pluginHost PluginHost
	resolver   ActionResolver
	nodeBin    string
	shell      string
	pullPolicy runtime.PullImagePolicy
	maxDepth   int
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		exec:       runtime.NewExec(),
		nodeBin:    "node",
		shell:      "bash",
		pullPolicy: runtime.PullImagePolicyMissing,
		maxDepth:   v1beta1.MaxCompositeDepth,
	}

	for _, o := range opts {
		o(e)
	}

	return e
}

// RunSequence executes steps strictly in order. Once the context is
// cancelled the remaining steps are recorded as Cancelled without
// being invoked; the caller decides whether cleanup still runs (with
// a fresh context).
func (e *Engine) RunSequence(ctx context.Context, execCtx *ExecutionContext, steps []v1beta1.Step) []v1beta1.StepResult {
	entryStatus := execCtx.Status()
	results := make([]v1beta1.StepResult, 0, len(steps))

	for _, spec := range steps {
		spec = spec.SetDefaults()

		var result v1beta1.StepResult
		if ctx.Err() != nil {
			reason := "job cancelled"
			if cause := context.Cause(ctx); errors.Is(cause, ErrJobTimeout) {
				reason = cause.Error()
			}

			now := metav1.Now()
			result = v1beta1.StepResult{
				StepID:          spec.ID,
				Name:            spec.Name,
				Outcome:         v1beta1.OutcomeCancelled,
				Reason:          reason,
				ContinueOnError: spec.ContinueOnError,
				StartedAt:       now,
				EndedAt:         now,
			}
			execCtx.Sink.StepCompleted(result)
		} else {
			result = e.RunStep(ctx, execCtx, spec)
		}

		results = append(results, result)
		execCtx.SetStatus(v1beta1.WorstOf(entryStatus, v1beta1.Aggregate(results)))
	}

	return results
}

// RunStep executes one step and returns its result. Runtime failures
// of any kind end up in the result, never as an error.
func (e *Engine) RunStep(ctx context.Context, execCtx *ExecutionContext, spec v1beta1.Step) v1beta1.StepResult {
	spec = spec.SetDefaults()
	startedAt := metav1.Now()

	chainErr := e.runChain(ctx, execCtx, &spec)
	outcome, exitCode, reason := Classify(ctx, chainErr)

	result := v1beta1.StepResult{
		StepID:          spec.ID,
		Name:            spec.Name,
		Outcome:         outcome,
		ExitCode:        exitCode,
		Reason:          reason,
		ContinueOnError: spec.ContinueOnError,
		StartedAt:       startedAt,
		EndedAt:         metav1.Now(),
	}

	// Outputs become visible only once the result is final.
	if outcome == v1beta1.OutcomeSucceeded {
		result.Outputs = execCtx.PublishOutputs(spec.ID)
	} else {
		execCtx.DiscardOutputs()
	}

	execCtx.Sink.StepCompleted(result)
	return result
}

func (e *Engine) runChain(ctx context.Context, execCtx *ExecutionContext, spec *v1beta1.Step) error {
	if spec.Uses != "" {
		if err := e.resolveAction(spec); err != nil {
			return err
		}
	}

	executor, err := e.executorFor(*spec)
	if err != nil {
		return err
	}

	processors := Builder(spec, e.builders...)
	processors = append(processors, &Start{stepID: spec.ID, name: spec.Name}, executor)

	chain, err := Chain(processors...)
	if err != nil {
		return err
	}

	return chain(ctx, execCtx)
}

// resolveAction replaces a `uses` reference with the manifest's step.
// Flow control fields stay with the referencing step; the caller env
// overlays the manifest env.
func (e *Engine) resolveAction(spec *v1beta1.Step) error {
	if e.resolver == nil {
		return fmt.Errorf("no action resolver configured for step %s", spec.ID)
	}

	resolved, err := e.resolver.Resolve(spec.ID, spec.Uses, spec.Inputs)
	if err != nil {
		return fmt.Errorf("resolve action %s: %w", spec.Uses, err)
	}

	resolved.Stage = spec.Stage
	resolved.If = spec.If
	resolved.Timeout = spec.Timeout
	resolved.ContinueOnError = spec.ContinueOnError

	if len(spec.Env) > 0 && resolved.Env == nil {
		resolved.Env = make(map[string]string, len(spec.Env))
	}
	for k, v := range spec.Env {
		resolved.Env[k] = v
	}

	*spec = resolved.SetDefaults()

	return nil
}

func (e *Engine) executorFor(spec v1beta1.Step) (Bootstraper, error) {
	switch spec.Kind {
	case v1beta1.StepKindScript:
		return &Script{spec: spec, exec: e.exec, shell: e.shell}, nil
	case v1beta1.StepKindNodeAction:
		return &Node{spec: spec, exec: e.exec, nodeBin: e.nodeBin}, nil
	case v1beta1.StepKindContainerAction:
		if e.container == nil {
			return nil, fmt.Errorf("no container runtime configured for step %s", spec.ID)
		}

		return &Container{spec: spec, driver: e.container, pullPolicy: e.pullPolicy}, nil
	case v1beta1.StepKindCompositeAction:
		return &Composite{spec: spec, engine: e}, nil
	case v1beta1.StepKindPluginAction:
		if e.pluginHost == nil {
			return nil, fmt.Errorf("no plugin host configured for step %s", spec.ID)
		}

		return &Plugin{spec: spec, host: e.pluginHost}, nil
	}

	return nil, fmt.Errorf("unknown step kind `%s` for step %s", spec.Kind, spec.ID)
}

type depthKey struct{}

func contextWithDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

func depthFromContext(ctx context.Context) int {
	if depth, ok := ctx.Value(depthKey{}).(int); ok {
		return depth
	}

	return 0
}
