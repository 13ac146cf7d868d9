package processor

import (
	"sync"

	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
)

// recordSink captures emitted events for assertions. Log lines arrive
// from the child output copier goroutine, hence the lock.
type recordSink struct {
	mu        sync.Mutex
	started   []string
	completed []v1beta1.StepResult
	lines     map[string][]string
}

func newRecordSink() *recordSink {
	return &recordSink{
		lines: make(map[string][]string),
	}
}

func (s *recordSink) StepStarted(stepID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, stepID)
}

func (s *recordSink) StepCompleted(result v1beta1.StepResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, result)
}

func (s *recordSink) LogLine(stepID, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines[stepID] = append(s.lines[stepID], line)
}

func (s *recordSink) completedOutcomes() map[string]v1beta1.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcomes := make(map[string]v1beta1.Outcome, len(s.completed))
	for _, result := range s.completed {
		outcomes[result.StepID] = result.Outcome
	}

	return outcomes
}
