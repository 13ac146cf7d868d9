/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1beta1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// MaxCompositeDepth bounds the nesting of composite actions. Manifests
// expanding beyond this depth are rejected as malformed.
const MaxCompositeDepth = 9

// Job is a fully resolved unit of work assigned by the orchestration
// service. It is immutable once claimed; the listener hands the whole
// payload to exactly one worker process.
type Job struct {
	ID          string            `json:"id"`
	RequestID   uint64            `json:"requestId,omitempty"`
	DisplayName string            `json:"displayName,omitempty"`
	Timeout     metav1.Duration   `json:"timeout,omitempty"`
	Variables   map[string]string `json:"variables,omitempty"`
	Secrets     map[string]string `json:"secrets,omitempty"`
	Container   *ContainerTarget  `json:"container,omitempty"`
	Workspace   string            `json:"workspace,omitempty"`
	Steps       []Step            `json:"steps,omitempty"`
}

// ContainerTarget describes the container requirements for a job that
// asks to run inside a specific image.
type ContainerTarget struct {
	Image string            `json:"image,omitempty"`
	Env   map[string]string `json:"env,omitempty"`
}

type StepKind string

const (
	StepKindScript          StepKind = "Script"
	StepKindContainerAction StepKind = "ContainerAction"
	StepKindNodeAction      StepKind = "NodeAction"
	StepKindCompositeAction StepKind = "CompositeAction"
	StepKindPluginAction    StepKind = "PluginAction"
)

type StepStage string

const (
	StepStageSetup   StepStage = "Setup"
	StepStageMain    StepStage = "Main"
	StepStageCleanup StepStage = "Cleanup"
)

// Step is one executable unit within a job. Composite steps carry a
// nested ordered step list; all other kinds leave Steps empty.
type Step struct {
	ID              string            `json:"id"`
	Name            string            `json:"name,omitempty"`
	Kind            StepKind          `json:"kind"`
	Stage           StepStage         `json:"stage,omitempty"`
	If              string            `json:"if,omitempty"`
	ContinueOnError bool              `json:"continueOnError,omitempty"`
	Timeout         metav1.Duration   `json:"timeout,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	Inputs          map[string]string `json:"inputs,omitempty"`

	// Uses references a local action directory holding an action.yml
	// manifest. A step carrying it is resolved into the manifest's
	// kind before execution; Kind is ignored in that case.
	Uses string `json:"uses,omitempty"`

	// Script kind
	Run   string `json:"run,omitempty"`
	Shell string `json:"shell,omitempty"`

	// ContainerAction kind
	Image   string   `json:"image,omitempty"`
	Command []string `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// NodeAction kind
	Entrypoint string `json:"entrypoint,omitempty"`

	// PluginAction kind. Named network-bound operation executed in an
	// isolated plugin process.
	Plugin string `json:"plugin,omitempty"`

	// CompositeAction kind
	Steps []Step `json:"steps,omitempty"`
}

func (s Step) SetDefaults() Step {
	if s.Stage == "" {
		s.Stage = StepStageMain
	}

	if s.Name == "" {
		s.Name = s.ID
	}

	return s
}

// Depth returns the maximum composite nesting depth below this step,
// walking iteratively so a pathological manifest cannot exhaust the
// stack before validation rejects it.
func (s Step) Depth() int {
	type frame struct {
		step  Step
		depth int
	}

	max := 0
	stack := []frame{{step: s, depth: 0}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.depth > max {
			max = f.depth
		}

		for _, child := range f.step.Steps {
			stack = append(stack, frame{step: child, depth: f.depth + 1})
		}
	}

	return max
}
