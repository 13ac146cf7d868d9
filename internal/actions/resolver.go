package actions

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
)

// Resolver normalizes a manifest into an executable step of the
// matching kind. Validation failures surface as step failures, never
// as worker-fatal errors.
type Resolver struct {
	actionsDir string
}

func NewResolver(actionsDir string) *Resolver {
	return &Resolver{actionsDir: actionsDir}
}

// Resolve loads the manifest under dir and converts it into a step
// that replaces the referencing step. Relative references resolve
// against the configured actions directory. Inputs not supplied by
// the caller fall back to the manifest defaults.
func (r *Resolver) Resolve(stepID, dir string, inputs map[string]string) (v1beta1.Step, error) {
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(r.actionsDir, dir)
	}

	manifest, err := LoadManifest(dir)
	if err != nil {
		return v1beta1.Step{}, err
	}

	merged := mergeInputs(manifest.Inputs, inputs)

	switch {
	case manifest.Runs.Using == "composite":
		return r.resolveComposite(stepID, manifest, merged)
	case strings.HasPrefix(manifest.Runs.Using, "node"):
		if manifest.Runs.Main == "" {
			return v1beta1.Step{}, fmt.Errorf("node action %s has no runs.main", manifest.Name)
		}

		return v1beta1.Step{
			ID:         stepID,
			Name:       manifest.Name,
			Kind:       v1beta1.StepKindNodeAction,
			Entrypoint: manifest.Runs.Main,
			Env:        inputEnv(merged, manifest.Runs.Env),
			Inputs:     merged,
		}, nil
	case manifest.Runs.Using == "docker":
		if manifest.Runs.Image == "" {
			return v1beta1.Step{}, fmt.Errorf("container action %s has no runs.image", manifest.Name)
		}

		step := v1beta1.Step{
			ID:     stepID,
			Name:   manifest.Name,
			Kind:   v1beta1.StepKindContainerAction,
			Image:  manifest.Runs.Image,
			Args:   manifest.Runs.Args,
			Env:    inputEnv(merged, manifest.Runs.Env),
			Inputs: merged,
		}

		if manifest.Runs.Entrypoint != "" {
			step.Command = []string{manifest.Runs.Entrypoint}
		}

		return step, nil
	}

	return v1beta1.Step{}, fmt.Errorf("unsupported runs.using `%s` in action %s", manifest.Runs.Using, manifest.Name)
}

func (r *Resolver) resolveComposite(stepID string, manifest *Manifest, inputs map[string]string) (v1beta1.Step, error) {
	step := v1beta1.Step{
		ID:     stepID,
		Name:   manifest.Name,
		Kind:   v1beta1.StepKindCompositeAction,
		Env:    inputEnv(inputs, nil),
		Inputs: inputs,
	}

	for i, child := range manifest.Runs.Steps {
		id := child.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", stepID, i)
		}

		if child.Uses != "" {
			return v1beta1.Step{}, fmt.Errorf("composite action %s step %s: nested `uses` references require resolution before dispatch", manifest.Name, id)
		}

		step.Steps = append(step.Steps, v1beta1.Step{
			ID:              id,
			Name:            child.Name,
			Kind:            v1beta1.StepKindScript,
			If:              child.If,
			ContinueOnError: child.ContinueOnError,
			Run:             child.Run,
			Shell:           child.Shell,
			Env:             child.Env,
			Inputs:          child.With,
		})
	}

	if step.Depth() > v1beta1.MaxCompositeDepth {
		return v1beta1.Step{}, fmt.Errorf("composite action %s exceeds maximum nesting depth %d", manifest.Name, v1beta1.MaxCompositeDepth)
	}

	return step, nil
}

func mergeInputs(specs map[string]InputSpec, supplied map[string]string) map[string]string {
	merged := make(map[string]string, len(specs))
	for name, spec := range specs {
		merged[name] = spec.Default
	}

	for name, value := range supplied {
		merged[name] = value
	}

	return merged
}

// inputEnv exposes inputs as INPUT_* variables the way action runtimes
// expect, merged over any manifest-level env.
func inputEnv(inputs, base map[string]string) map[string]string {
	env := make(map[string]string, len(inputs)+len(base))
	for k, v := range base {
		env[k] = v
	}

	for name, value := range inputs {
		key := "INPUT_" + strings.ToUpper(strings.ReplaceAll(name, " ", "_"))
		env[key] = value
	}

	return env
}
