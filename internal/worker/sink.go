package worker

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/outpost-run/outpost/internal/ipc"
	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
)

// channelSink relays execution events to the listener. Send failures
// are logged and dropped; the listener's watchdog handles a dead
// channel, the step itself must not fail because of it.
type channelSink struct {
	ch     *ipc.Channel
	logger logr.Logger
}

func (s *channelSink) StepStarted(stepID, name string) {
	s.send(ipc.MessageTypeStepStarted, ipc.StepStarted{
		StepID: stepID,
		Name:   name,
		Time:   time.Now(),
	})
}

func (s *channelSink) StepCompleted(result v1beta1.StepResult) {
	s.send(ipc.MessageTypeStepCompleted, ipc.StepCompleted{Result: result})
}

func (s *channelSink) LogLine(stepID, line string) {
	s.send(ipc.MessageTypeLogLine, ipc.LogLine{
		StepID: stepID,
		Line:   line,
		Time:   time.Now(),
	})
}

func (s *channelSink) send(t ipc.MessageType, v any) {
	if err := s.ch.Send(t, v); err != nil {
		s.logger.V(1).Error(err, "event send failed", "type", t)
	}
}
