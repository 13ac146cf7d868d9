package dispatch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"

	"github.com/outpost-run/outpost/internal/ipc"
	"github.com/outpost-run/outpost/internal/worker"
	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
)

const (
	defaultAcceptTimeout = 30 * time.Second
	defaultCancelGrace   = 2 * time.Minute
)

type spawnerOption func(*ProcessSpawner)

func WithSpawnerLogger(logger logr.Logger) func(*ProcessSpawner) {
	return func(s *ProcessSpawner) {
		s.logger = logger
	}
}

func WithSocketDir(dir string) func(*ProcessSpawner) {
	return func(s *ProcessSpawner) {
		s.socketDir = dir
	}
}

// WithHeartbeatTimeout sets how long the spawner tolerates silence on
// the channel before declaring the worker dead.
func WithHeartbeatTimeout(timeout time.Duration) func(*ProcessSpawner) {
	return func(s *ProcessSpawner) {
		s.heartbeatTimeout = timeout
	}
}

// WithCancelGrace sets how long a cancelled worker may spend on
// cleanup before it is killed.
func WithCancelGrace(grace time.Duration) func(*ProcessSpawner) {
	return func(s *ProcessSpawner) {
		s.cancelGrace = grace
	}
}

// WithWorkDir sets the folder jobs without an explicit workspace get a
// per-job directory under.
func WithWorkDir(dir string) func(*ProcessSpawner) {
	return func(s *ProcessSpawner) {
		s.workDir = dir
	}
}

// ProcessSpawner runs each job in its own worker process connected
// over a per-job unix socket.
type ProcessSpawner struct {
	workerBin        string
	socketDir        string
	workDir          string
	logger           logr.Logger
	acceptTimeout    time.Duration
	heartbeatTimeout time.Duration
	cancelGrace      time.Duration
}

func NewProcessSpawner(workerBin string, opts ...spawnerOption) *ProcessSpawner {
	s := &ProcessSpawner{
		workerBin:        workerBin,
		socketDir:        os.TempDir(),
		logger:           logr.Discard(),
		acceptTimeout:    defaultAcceptTimeout,
		heartbeatTimeout: 3 * worker.DefaultHeartbeatInterval,
		cancelGrace:      defaultCancelGrace,
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

func (s *ProcessSpawner) Execute(ctx context.Context, job v1beta1.Job) (*v1beta1.JobResult, error) {
	if job.Workspace == "" && s.workDir != "" {
		job.Workspace = filepath.Join(s.workDir, job.ID)
		if err := os.MkdirAll(job.Workspace, 0755); err != nil {
			return nil, fmt.Errorf("create workspace: %w", err)
		}
	}

	listener, err := ipc.NewListener(s.socketDir)
	if err != nil {
		return nil, err
	}
	defer listener.Close()

	// The process is deliberately not bound to ctx: cancellation is
	// relayed over the channel so cleanup steps still run. Only the
	// grace timer and the watchdog kill it.
	cmd := exec.Command(s.workerBin, "--socket", listener.SocketPath())
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	ch, err := listener.Accept(ctx, s.acceptTimeout)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("worker never connected: %w", err)
	}
	defer ch.Close()

	if err := ch.Send(ipc.MessageTypeJobPayload, ipc.JobPayload{Job: job}); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("send job payload: %w", err)
	}

	result, err := s.supervise(ctx, ch, job.ID, func() {
		_ = cmd.Process.Kill()
	})

	_ = cmd.Wait()
	return result, err
}

// supervise relays events until the terminal message. It enforces the
// heartbeat watchdog and translates context cancellation into a
// CancelRequest followed, after the grace period, by a kill.
func (s *ProcessSpawner) supervise(ctx context.Context, ch *ipc.Channel, jobID string, kill func()) (*v1beta1.JobResult, error) {
	done := make(chan struct{})
	defer close(done)

	frames := make(chan ipc.Frame)
	go func() {
		defer close(frames)
		for {
			frame, err := ch.Receive()
			if err != nil {
				return
			}

			select {
			case frames <- frame:
			case <-done:
				return
			}
		}
	}()

	logger := s.logger.WithValues("job", jobID)
	watchdog := time.NewTimer(s.heartbeatTimeout)
	defer watchdog.Stop()

	cancelled := ctx.Done()
	var graceExpired <-chan time.Time

	for {
		select {
		case <-cancelled:
			cancelled = nil
			graceExpired = time.After(s.cancelGrace)
			logger.Info("relaying cancel request")
			if err := ch.Send(ipc.MessageTypeCancelRequest, ipc.CancelRequest{Reason: "cancelled by service"}); err != nil {
				logger.Error(err, "cancel relay failed, killing worker")
				kill()
			}

		case <-graceExpired:
			graceExpired = nil
			logger.Info("cancel grace expired, killing worker")
			kill()

		case <-watchdog.C:
			kill()
			return nil, fmt.Errorf("no heartbeat within %s", s.heartbeatTimeout)

		case frame, ok := <-frames:
			if !ok {
				return nil, fmt.Errorf("channel closed before job result")
			}

			if !watchdog.Stop() {
				<-watchdog.C
			}
			watchdog.Reset(s.heartbeatTimeout)

			switch frame.Type {
			case ipc.MessageTypeHeartbeat:

			case ipc.MessageTypeLogLine:
				var msg ipc.LogLine
				if err := frame.Decode(&msg); err == nil {
					logger.Info(msg.Line, "step", msg.StepID)
				}

			case ipc.MessageTypeStepStarted:
				var msg ipc.StepStarted
				if err := frame.Decode(&msg); err == nil {
					logger.Info("step started", "step", msg.StepID, "name", msg.Name)
				}

			case ipc.MessageTypeStepCompleted:
				var msg ipc.StepCompleted
				if err := frame.Decode(&msg); err == nil {
					logger.Info("step completed", "step", msg.Result.StepID, "outcome", msg.Result.Outcome)
				}

			case ipc.MessageTypeJobCompleted:
				var msg ipc.JobCompleted
				if err := frame.Decode(&msg); err != nil {
					return nil, fmt.Errorf("decode job result: %w", err)
				}
				return &msg.Result, nil

			default:
				logger.V(1).Info("ignoring unexpected message", "type", frame.Type)
			}
		}
	}
}
