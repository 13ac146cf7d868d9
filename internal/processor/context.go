package processor

import (
	"io"
	"maps"

	"github.com/outpost-run/outpost/internal/mask"
	"github.com/outpost-run/outpost/internal/xio"
	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
)

// ExecutionContext is the mutable per-job state inside one worker.
// It is exclusively owned by the job state machine: steps run strictly
// sequentially, so plain fields suffice. Step outputs are staged while
// a step runs and become visible to later steps only once the engine
// publishes them after the step's result is finalized.
type ExecutionContext struct {
	JobID     string
	Workspace string
	TempDir   string
	Sink      EventSink
	Secrets   *mask.SecretStore

	envs    map[string]string
	outputs map[string]map[string]string
	staged  map[string]string
	status  v1beta1.Outcome
}

func NewExecutionContext(job v1beta1.Job, tempDir string, sink EventSink, secrets *mask.SecretStore) *ExecutionContext {
	envs := make(map[string]string, len(job.Variables))
	maps.Copy(envs, job.Variables)

	return &ExecutionContext{
		JobID:     job.ID,
		Workspace: job.Workspace,
		TempDir:   tempDir,
		Sink:      sink,
		Secrets:   secrets,
		envs:      envs,
		outputs:   make(map[string]map[string]string),
		staged:    make(map[string]string),
		status:    v1beta1.OutcomeSucceeded,
	}
}

// Env returns the current environment overlay as KEY=value pairs.
func (c *ExecutionContext) Env() []string {
	envs := make([]string, 0, len(c.envs))
	for k, v := range c.envs {
		envs = append(envs, k+"="+v)
	}

	return envs
}

func (c *ExecutionContext) SetEnv(key, value string) {
	c.envs[key] = value
}

func (c *ExecutionContext) LookupEnv(key string) (string, bool) {
	v, ok := c.envs[key]
	return v, ok
}

func (c *ExecutionContext) UnsetEnv(key string) {
	delete(c.envs, key)
}

// StageOutput records an output of the currently running step. Staged
// values are invisible to the step itself and to condition
// expressions until published.
func (c *ExecutionContext) StageOutput(key, value string) {
	c.staged[key] = value
}

// PublishOutputs moves the staged outputs into the visible output map
// under the producer's step id and returns them.
func (c *ExecutionContext) PublishOutputs(stepID string) map[string]string {
	if len(c.staged) == 0 {
		return nil
	}

	published := c.staged
	c.outputs[stepID] = published
	c.staged = make(map[string]string)
	return published
}

// DiscardOutputs drops anything staged by a step that did not finalize.
func (c *ExecutionContext) DiscardOutputs() {
	c.staged = make(map[string]string)
}

// Outputs returns the published outputs of a completed step.
func (c *ExecutionContext) Outputs(stepID string) map[string]string {
	return c.outputs[stepID]
}

// Status is the aggregate job outcome so far; condition expressions
// such as success() and failure() evaluate against it.
func (c *ExecutionContext) Status() v1beta1.Outcome {
	return c.status
}

func (c *ExecutionContext) SetStatus(status v1beta1.Outcome) {
	c.status = status
}

// LogWriter returns a writer that forwards complete, secret-masked
// lines for the given step to the sink. Callers must Flush when the
// step ends so a trailing unterminated line is not lost.
func (c *ExecutionContext) LogWriter(stepID string) *xio.LineWriter {
	var w io.Writer = &sinkWriter{stepID: stepID, sink: c.Sink}
	if c.Secrets != nil {
		w = c.Secrets.Writer(w)
	}

	return xio.NewLineWriter(w)
}

type sinkWriter struct {
	stepID string
	sink   EventSink
}

func (w *sinkWriter) Write(p []byte) (int, error) {
	line := string(p)
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}

	w.sink.LogLine(w.stepID, line)
	return len(p), nil
}

// conditionVars exposes the visible execution state to CEL condition
// expressions.
func (c *ExecutionContext) conditionVars() map[string]interface{} {
	steps := make(map[string]interface{}, len(c.outputs))
	for stepID, outputs := range c.outputs {
		stepOutputs := make(map[string]interface{}, len(outputs))
		for k, v := range outputs {
			stepOutputs[k] = v
		}

		steps[stepID] = map[string]interface{}{"outputs": stepOutputs}
	}

	envs := make(map[string]interface{}, len(c.envs))
	for k, v := range c.envs {
		envs[k] = v
	}

	return map[string]interface{}{
		"job":   map[string]interface{}{"status": string(c.status)},
		"steps": steps,
		"env":   envs,
	}
}
