package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/outpost-run/outpost/internal/runtime"
	"github.com/outpost-run/outpost/internal/utils"
	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
)

// Script writes the inline script to a temp file and runs it through
// the step's shell on the host, streaming combined output line by
// line.
type Script struct {
	spec  v1beta1.Step
	exec  runtime.Exec
	shell string
}

func (s *Script) Bootstrap(next Next) (Next, error) {
	return func(ctx context.Context, execCtx *ExecutionContext) error {
		scriptFile, err := os.CreateTemp(execCtx.TempDir, "script-*.sh")
		if err != nil {
			return err
		}

		defer os.Remove(scriptFile.Name())

		if _, err := scriptFile.WriteString(s.spec.Run); err != nil {
			_ = scriptFile.Close()
			return err
		}

		if err := scriptFile.Close(); err != nil {
			return err
		}

		if err := os.Chmod(scriptFile.Name(), 0755); err != nil {
			return err
		}

		shell := s.spec.Shell
		if shell == "" {
			shell = s.shell
		}

		cmd := runtime.Command{
			Name: shell,
			Dir:  execCtx.Workspace,
			Env:  execCtx.Env(),
		}

		switch shell {
		case "bash", "sh":
			cmd.Args = []string{"-e", scriptFile.Name()}
		default:
			cmd.Args = []string{scriptFile.Name()}
		}

		w := execCtx.LogWriter(s.spec.ID)
		defer w.Flush()

		code, err := s.exec.Run(ctx, cmd, w, w)
		if err != nil {
			return err
		}

		if code != 0 {
			return &ExitError{Code: code}
		}

		return next(ctx, execCtx)
	}, nil
}

// Node runs a managed node runtime against the action entrypoint.
type Node struct {
	spec    v1beta1.Step
	exec    runtime.Exec
	nodeBin string
}

func (s *Node) Bootstrap(next Next) (Next, error) {
	return func(ctx context.Context, execCtx *ExecutionContext) error {
		entrypoint := s.spec.Entrypoint
		if !filepath.IsAbs(entrypoint) {
			entrypoint = filepath.Join(execCtx.Workspace, entrypoint)
		}

		cmd := runtime.Command{
			Name: s.nodeBin,
			Args: []string{entrypoint},
			Dir:  execCtx.Workspace,
			Env:  execCtx.Env(),
		}

		w := execCtx.LogWriter(s.spec.ID)
		defer w.Flush()

		code, err := s.exec.Run(ctx, cmd, w, w)
		if err != nil {
			return err
		}

		if code != 0 {
			return &ExitError{Code: code}
		}

		return next(ctx, execCtx)
	}, nil
}

// Container delegates to the container runtime, mounting the job
// workspace; same streaming and timeout contract as host steps.
type Container struct {
	spec       v1beta1.Step
	driver     runtime.Container
	pullPolicy runtime.PullImagePolicy
}

func (s *Container) Bootstrap(next Next) (Next, error) {
	return func(ctx context.Context, execCtx *ExecutionContext) error {
		containerSpec := runtime.ContainerSpec{
			Name:       fmt.Sprintf("outpost-%s-%s-%s", execCtx.JobID, s.spec.ID, utils.RandString(5)),
			Image:      s.spec.Image,
			Command:    s.spec.Command,
			Args:       s.spec.Args,
			Env:        execCtx.Env(),
			Workspace:  execCtx.Workspace,
			PullPolicy: s.pullPolicy,
		}

		w := execCtx.LogWriter(s.spec.ID)
		defer w.Flush()

		code, err := s.driver.RunContainer(ctx, containerSpec, w, w)
		if err != nil {
			return fmt.Errorf("container %s failed: %w", containerSpec.Name, err)
		}

		if code != 0 {
			return &ExitError{Code: code}
		}

		return next(ctx, execCtx)
	}, nil
}

// Composite expands the nested step list and drives it through the
// same sequential engine, one nesting level deeper.
type Composite struct {
	spec   v1beta1.Step
	engine *Engine
}

func (s *Composite) Bootstrap(next Next) (Next, error) {
	return func(ctx context.Context, execCtx *ExecutionContext) error {
		depth := depthFromContext(ctx) + 1
		if deepest := depth + compositeDepth(s.spec); deepest > s.engine.maxDepth {
			return fmt.Errorf("%w: depth %d exceeds limit %d", ErrCompositeDepth, deepest, s.engine.maxDepth)
		}

		results := s.engine.RunSequence(contextWithDepth(ctx, depth), execCtx, s.spec.Steps)

		failed := 0
		for _, result := range results {
			if result.ContinueOnError {
				continue
			}

			if result.Outcome == v1beta1.OutcomeFailed {
				failed++
			}
		}

		switch v1beta1.Aggregate(results) {
		case v1beta1.OutcomeCancelled:
			return ErrCancelled
		case v1beta1.OutcomeFailed:
			return fmt.Errorf("%d nested step(s) failed", failed)
		}

		return next(ctx, execCtx)
	}, nil
}

// compositeDepth walks the nested step tree with an explicit stack and
// returns the longest chain of composite steps below the given one. The
// whole subtree is validated before any child runs, so a too-deep tree
// fails at the outermost composite instead of midway through.
func compositeDepth(spec v1beta1.Step) int {
	type frame struct {
		step  v1beta1.Step
		depth int
	}

	deepest := 0
	stack := []frame{{step: spec}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, child := range f.step.Steps {
			if child.Kind != v1beta1.StepKindCompositeAction {
				continue
			}

			d := f.depth + 1
			if d > deepest {
				deepest = d
			}

			stack = append(stack, frame{step: child, depth: d})
		}
	}

	return deepest
}

// PluginHost executes one isolated plugin operation. Implemented by
// pluginhost.Host; tests use an in-process fake.
type PluginHost interface {
	RunOperation(ctx context.Context, operation string, inputs, variables map[string]string, progress func(line string)) (map[string]string, error)
}

// Plugin hands the operation to the plugin host process. Progress
// messages surface as step log lines; outputs are staged like any
// other step output.
type Plugin struct {
	spec v1beta1.Step
	host PluginHost
}

func (s *Plugin) Bootstrap(next Next) (Next, error) {
	return func(ctx context.Context, execCtx *ExecutionContext) error {
		variables := make(map[string]string)
		for _, kv := range execCtx.Env() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				variables[k] = v
			}
		}

		progress := func(line string) {
			execCtx.Sink.LogLine(s.spec.ID, line)
		}

		outputs, err := s.host.RunOperation(ctx, s.spec.Plugin, s.spec.Inputs, variables, progress)
		if err != nil {
			return err
		}

		for k, v := range outputs {
			execCtx.StageOutput(k, v)
		}

		return next(ctx, execCtx)
	}, nil
}
