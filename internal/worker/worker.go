// Package worker drives a single job from payload to terminal result.
// One worker process executes exactly one job; the listener owns the
// process lifecycle and the IPC socket.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/outpost-run/outpost/internal/ipc"
	"github.com/outpost-run/outpost/internal/mask"
	"github.com/outpost-run/outpost/internal/processor"
	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
)

// DefaultHeartbeatInterval is how often a running worker beats. The
// listener treats a worker silent for several intervals as crashed.
const DefaultHeartbeatInterval = 10 * time.Second

type Phase string

const (
	PhaseInitializing        Phase = "Initializing"
	PhaseRunningSetupSteps   Phase = "RunningSetupSteps"
	PhaseRunningMainSteps    Phase = "RunningMainSteps"
	PhaseRunningCleanupSteps Phase = "RunningCleanupSteps"
	PhaseFinalizing          Phase = "Finalizing"
	PhaseTerminated          Phase = "Terminated"
)

type runnerOption func(*Runner)

func WithLogger(logger logr.Logger) func(*Runner) {
	return func(r *Runner) {
		r.logger = logger
	}
}

func WithHeartbeatInterval(interval time.Duration) func(*Runner) {
	return func(r *Runner) {
		r.heartbeatInterval = interval
	}
}

// WithTempDir sets the scratch directory for script files and output
// files. It is wiped by the listener once the worker exits.
func WithTempDir(dir string) func(*Runner) {
	return func(r *Runner) {
		r.tempDir = dir
	}
}

// Runner is the per-job state machine. Phases advance strictly
// forward; a cancel request skips ahead to the cleanup stage while the
// remaining setup and main steps are recorded as Cancelled.
type Runner struct {
	engine            *processor.Engine
	logger            logr.Logger
	tempDir           string
	heartbeatInterval time.Duration

	mu    sync.Mutex
	phase Phase
}

func NewRunner(engine *processor.Engine, opts ...runnerOption) *Runner {
	r := &Runner{
		engine:            engine,
		logger:            logr.Discard(),
		heartbeatInterval: DefaultHeartbeatInterval,
		phase:             PhaseInitializing,
	}

	for _, o := range opts {
		o(r)
	}

	return r
}

func (r *Runner) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *Runner) setPhase(phase Phase) {
	r.mu.Lock()
	r.phase = phase
	r.mu.Unlock()
	r.logger.V(1).Info("phase transition", "phase", phase)
}

// Run executes the job delivered over the channel and sends the
// terminal JobCompleted message. An error is returned only for
// protocol failures; step failures end up in the job result.
func (r *Runner) Run(ctx context.Context, ch *ipc.Channel) error {
	frame, err := ch.Receive()
	if err != nil {
		return fmt.Errorf("receive job payload: %w", err)
	}

	if frame.Type != ipc.MessageTypeJobPayload {
		return fmt.Errorf("unexpected first message %q, want JobPayload", frame.Type)
	}

	var payload ipc.JobPayload
	if err := frame.Decode(&payload); err != nil {
		return fmt.Errorf("decode job payload: %w", err)
	}

	job := payload.Job
	r.logger.Info("job received", "job", job.ID, "steps", len(job.Steps))

	secrets := mask.NewSecretStore()
	for _, v := range job.Secrets {
		secrets.AddSecrets(v)
	}

	sink := &channelSink{ch: ch, logger: r.logger}
	execCtx := processor.NewExecutionContext(job, r.tempDir, sink, secrets)
	for k, v := range job.Secrets {
		execCtx.SetEnv(k, v)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if job.Timeout.Duration > 0 {
		var timeoutCancel context.CancelFunc
		cause := fmt.Errorf("%w after %s", processor.ErrJobTimeout, job.Timeout.Duration)
		runCtx, timeoutCancel = context.WithTimeoutCause(runCtx, job.Timeout.Duration, cause)
		defer timeoutCancel()
	}

	done := make(chan struct{})
	defer close(done)

	go r.heartbeat(done, ch)
	go r.watchCancel(ch, cancel)

	setup, main, cleanup := splitStages(job.Steps)

	r.setPhase(PhaseRunningSetupSteps)
	results := r.engine.RunSequence(runCtx, execCtx, setup)

	r.setPhase(PhaseRunningMainSteps)
	results = append(results, r.engine.RunSequence(runCtx, execCtx, main)...)

	// Cleanup steps run even after cancellation or job timeout. The
	// detached context keeps values (logger, trace) but no deadline.
	r.setPhase(PhaseRunningCleanupSteps)
	results = append(results, r.engine.RunSequence(context.WithoutCancel(runCtx), execCtx, cleanup)...)

	r.setPhase(PhaseFinalizing)
	result := finalize(job, results, context.Cause(runCtx))

	if err := ch.Send(ipc.MessageTypeJobCompleted, ipc.JobCompleted{Result: result}); err != nil {
		return fmt.Errorf("send job result: %w", err)
	}

	r.setPhase(PhaseTerminated)
	r.logger.Info("job finished", "job", job.ID, "outcome", result.Outcome)
	return nil
}

// heartbeat beats until the job terminates. Send failures are left to
// the listener's watchdog.
func (r *Runner) heartbeat(done <-chan struct{}, ch *ipc.Channel) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			if err := ch.Send(ipc.MessageTypeHeartbeat, ipc.Heartbeat{Time: now}); err != nil {
				r.logger.V(1).Error(err, "heartbeat send failed")
				return
			}
		}
	}
}

// watchCancel drains inbound frames after the payload. The only
// expected message is CancelRequest; it is translated into context
// cancellation so the main flow needs no extra signalling.
func (r *Runner) watchCancel(ch *ipc.Channel, cancel context.CancelFunc) {
	for {
		frame, err := ch.Receive()
		if err != nil {
			return
		}

		if frame.Type != ipc.MessageTypeCancelRequest {
			r.logger.V(1).Info("ignoring unexpected message", "type", frame.Type)
			continue
		}

		var req ipc.CancelRequest
		if err := frame.Decode(&req); err == nil {
			r.logger.Info("cancel requested", "reason", req.Reason)
		}

		cancel()
	}
}

// splitStages partitions steps by stage preserving order. Cleanup
// steps without a condition default to always() so they run after
// failures and cancellation.
func splitStages(steps []v1beta1.Step) (setup, main, cleanup []v1beta1.Step) {
	for _, step := range steps {
		step = step.SetDefaults()

		switch step.Stage {
		case v1beta1.StepStageSetup:
			setup = append(setup, step)
		case v1beta1.StepStageCleanup:
			if step.If == "" {
				step.If = "always()"
			}
			cleanup = append(cleanup, step)
		default:
			main = append(main, step)
		}
	}

	return setup, main, cleanup
}

func finalize(job v1beta1.Job, results []v1beta1.StepResult, cause error) v1beta1.JobResult {
	outcome := v1beta1.Aggregate(results)

	var reason string
	switch outcome {
	case v1beta1.OutcomeCancelled:
		reason = "job cancelled"
		if errors.Is(cause, processor.ErrJobTimeout) {
			reason = cause.Error()
		}
	case v1beta1.OutcomeFailed:
		failed := 0
		for _, result := range results {
			if result.Outcome == v1beta1.OutcomeFailed && !result.ContinueOnError {
				failed++
			}
		}
		reason = fmt.Sprintf("%d step(s) failed", failed)
	}

	return v1beta1.JobResult{
		JobID:     job.ID,
		RequestID: job.RequestID,
		Outcome:   outcome,
		Reason:    reason,
		Steps:     results,
	}
}
