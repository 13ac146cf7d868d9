package runtime

import (
	"context"
	"io"
)

// Exec runs host processes for script and node steps. The returned
// exit code reflects the child; launch failures return an error
// instead.
type Exec interface {
	Run(ctx context.Context, cmd Command, stdout, stderr io.Writer) (int, error)
}

// Container runs a single container for a container action step.
type Container interface {
	RunContainer(ctx context.Context, spec ContainerSpec, stdout, stderr io.Writer) (int, error)
}

type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string
}

type ContainerSpec struct {
	Name       string
	Image      string
	Command    []string
	Args       []string
	Env        []string
	Workspace  string
	PullPolicy PullImagePolicy
}

type PullImagePolicy string

var (
	PullImagePolicyAlways  PullImagePolicy = "Always"
	PullImagePolicyNever   PullImagePolicy = "Never"
	PullImagePolicyMissing PullImagePolicy = "Missing"
)
