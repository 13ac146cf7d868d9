package ipc

import (
	"time"

	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
)

// MessageType tags each frame on the wire. Values are stable across
// releases; listener and worker binaries are versioned independently.
type MessageType uint32

const (
	MessageTypeInvalid MessageType = iota
	MessageTypeJobPayload
	MessageTypeLogLine
	MessageTypeStepStarted
	MessageTypeStepCompleted
	MessageTypeJobCompleted
	MessageTypeCancelRequest
	MessageTypeHeartbeat
	MessageTypePluginRequest
	MessageTypePluginProgress
	MessageTypePluginResult
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeJobPayload:
		return "JobPayload"
	case MessageTypeLogLine:
		return "LogLine"
	case MessageTypeStepStarted:
		return "StepStarted"
	case MessageTypeStepCompleted:
		return "StepCompleted"
	case MessageTypeJobCompleted:
		return "JobCompleted"
	case MessageTypeCancelRequest:
		return "CancelRequest"
	case MessageTypeHeartbeat:
		return "Heartbeat"
	case MessageTypePluginRequest:
		return "PluginRequest"
	case MessageTypePluginProgress:
		return "PluginProgress"
	case MessageTypePluginResult:
		return "PluginResult"
	}

	return "Invalid"
}

// JobPayload carries the full job down to the worker. It is written
// exactly once, immediately after the worker connects.
type JobPayload struct {
	Job v1beta1.Job `cbor:"job"`
}

// LogLine is one line of step output. Lines for a step are always
// relayed before that step's StepCompleted message.
type LogLine struct {
	StepID string    `cbor:"stepId"`
	Line   string    `cbor:"line"`
	Time   time.Time `cbor:"time"`
}

type StepStarted struct {
	StepID string    `cbor:"stepId"`
	Name   string    `cbor:"name,omitempty"`
	Time   time.Time `cbor:"time"`
}

type StepCompleted struct {
	Result v1beta1.StepResult `cbor:"result"`
}

// JobCompleted is the terminal message of every worker. A channel that
// closes without one is treated as a crashed worker.
type JobCompleted struct {
	Result v1beta1.JobResult `cbor:"result"`
}

type CancelRequest struct {
	Reason string `cbor:"reason,omitempty"`
}

type Heartbeat struct {
	Time time.Time `cbor:"time"`
}

// PluginRequest asks the plugin process to perform one artifact
// operation. Inputs mirror the owning step's inputs.
type PluginRequest struct {
	Operation string            `cbor:"operation"`
	Inputs    map[string]string `cbor:"inputs,omitempty"`
	Variables map[string]string `cbor:"variables,omitempty"`
}

type PluginProgress struct {
	Message string `cbor:"message"`
}

// PluginResult is the plugin's terminal message. A plugin exiting
// without one is reported as crashed.
type PluginResult struct {
	Succeeded bool              `cbor:"succeeded"`
	Reason    string            `cbor:"reason,omitempty"`
	Outputs   map[string]string `cbor:"outputs,omitempty"`
}
