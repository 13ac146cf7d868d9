package broker

import "encoding/json"

// Session is the server-side registration of one listener. At most one
// live session exists per runner; a second listener gets a conflict.
type Session struct {
	SessionID string `json:"sessionId"`
	OwnerName string `json:"ownerName,omitempty"`
}

// Message is one long-poll delivery. The body format depends on the
// message type.
type Message struct {
	MessageID uint64          `json:"messageId"`
	Type      string          `json:"messageType"`
	Body      json.RawMessage `json:"body,omitempty"`
}

const (
	MessageTypeJobAvailable  = "JobAvailable"
	MessageTypeJobCancel     = "JobCancel"
	MessageTypeRunnerRefresh = "RunnerRefresh"
)

type jobCancelBody struct {
	JobID  string `json:"jobId"`
	Reason string `json:"reason,omitempty"`
}

type runnerRefreshBody struct {
	TargetVersion string `json:"targetVersion"`
}
