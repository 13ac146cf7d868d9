// Package dispatch runs the listener's claim loop: long-poll the
// orchestration service, hand each claimed job to a worker process,
// keep the lease alive and submit the terminal result.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/outpost-run/outpost/internal/broker"
	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
)

// Broker is the orchestration service surface the scheduler needs.
// *broker.Client implements it; tests use a scripted fake.
type Broker interface {
	PollJob(ctx context.Context) (*v1beta1.Job, error)
	RenewLease(ctx context.Context, jobID string) error
	SubmitResult(ctx context.Context, result *v1beta1.JobResult) error
	UpdateAvailable() <-chan string
	CancelRequested() <-chan string
}

// Spawner executes one job in a worker process. Cancelling the context
// requests job cancellation; the worker is still expected to deliver a
// result. An error means the worker died without one.
type Spawner interface {
	Execute(ctx context.Context, job v1beta1.Job) (*v1beta1.JobResult, error)
}

// StopReason tells the binary how to exit after the loop ends.
type StopReason string

const (
	StopReasonShutdown  StopReason = "Shutdown"
	StopReasonEphemeral StopReason = "Ephemeral"
	StopReasonUpdate    StopReason = "Update"
)

type schedulerOption func(*Scheduler)

func WithLogger(logger logr.Logger) func(*Scheduler) {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithSlots bounds how many jobs run concurrently.
func WithSlots(slots int) func(*Scheduler) {
	return func(s *Scheduler) {
		s.slots = slots
	}
}

// WithEphemeral makes the scheduler exit after its first job.
func WithEphemeral(ephemeral bool) func(*Scheduler) {
	return func(s *Scheduler) {
		s.ephemeral = ephemeral
	}
}

func WithPollInterval(interval time.Duration) func(*Scheduler) {
	return func(s *Scheduler) {
		s.pollInterval = interval
	}
}

func WithLeaseInterval(interval time.Duration) func(*Scheduler) {
	return func(s *Scheduler) {
		s.leaseInterval = interval
	}
}

// Scheduler drives the poll/claim/execute cycle. Run owns the loop;
// everything else is internal.
type Scheduler struct {
	broker  Broker
	spawner Spawner
	logger  logr.Logger

	slots         int
	ephemeral     bool
	pollInterval  time.Duration
	leaseInterval time.Duration

	sem chan struct{}
	wg  sync.WaitGroup

	mu     sync.Mutex
	seen   map[string]struct{}
	active map[string]context.CancelFunc
}

func NewScheduler(b Broker, spawner Spawner, opts ...schedulerOption) *Scheduler {
	s := &Scheduler{
		broker:        b,
		spawner:       spawner,
		logger:        logr.Discard(),
		slots:         1,
		pollInterval:  time.Second,
		leaseInterval: 30 * time.Second,
		seen:          make(map[string]struct{}),
		active:        make(map[string]context.CancelFunc),
	}

	for _, o := range opts {
		o(s)
	}

	s.sem = make(chan struct{}, s.slots)
	return s
}

// Run polls until the context ends, the service requests a self-update
// or, in ephemeral mode, the first job finishes. Running jobs are
// always drained before returning.
func (s *Scheduler) Run(ctx context.Context) (StopReason, error) {
	for {
		select {
		case <-ctx.Done():
			s.drain(nil)
			return StopReasonShutdown, nil
		case version := <-s.broker.UpdateAvailable():
			s.logger.Info("self-update requested, draining", "version", version)
			s.drain(ctx.Done())
			return StopReasonUpdate, nil
		default:
		}

		job, err := s.broker.PollJob(ctx)
		s.routeCancels()

		switch {
		case errors.Is(err, context.Canceled):
			continue
		case errors.Is(err, broker.ErrAuth):
			s.drain(nil)
			return StopReasonShutdown, fmt.Errorf("poll: %w", err)
		case err != nil:
			s.logger.Error(err, "poll failed")
			s.sleep(ctx, s.jitter())
			continue
		case job == nil:
			s.sleep(ctx, s.jitter())
			continue
		}

		if !s.claim(job.ID) {
			s.logger.Info("ignoring duplicate job delivery", "job", job.ID)
			continue
		}

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			continue
		}

		s.wg.Add(1)
		go s.execute(ctx, *job)

		if s.ephemeral {
			s.wg.Wait()
			return StopReasonEphemeral, nil
		}
	}
}

// claim records the job ID and reports whether it was first delivery.
// The service redelivers on lost acks; a job must never run twice.
func (s *Scheduler) claim(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[jobID]; ok {
		return false
	}

	s.seen[jobID] = struct{}{}
	return true
}

func (s *Scheduler) execute(ctx context.Context, job v1beta1.Job) {
	defer s.wg.Done()
	defer func() { <-s.sem }()

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.active[job.ID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, job.ID)
		s.mu.Unlock()
	}()

	leaseDone := make(chan struct{})
	go s.renewLease(jobCtx, job.ID, cancel, leaseDone)

	s.logger.Info("job claimed", "job", job.ID, "name", job.DisplayName)

	result, err := s.spawner.Execute(jobCtx, job)
	close(leaseDone)

	if err != nil || result == nil {
		s.logger.Error(err, "worker did not deliver a result", "job", job.ID)
		result = &v1beta1.JobResult{
			JobID:     job.ID,
			RequestID: job.RequestID,
			Outcome:   v1beta1.OutcomeFailed,
			Reason:    fmt.Sprintf("worker crashed: %v", err),
		}
	}

	// The result must reach the service even when we are shutting
	// down; only a hard submit timeout bounds this.
	submitCtx, submitCancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer submitCancel()

	if err := s.broker.SubmitResult(submitCtx, result); err != nil {
		s.logger.Error(err, "result submission failed", "job", job.ID)
		return
	}

	s.logger.Info("job finished", "job", job.ID, "outcome", result.Outcome)
}

// renewLease keeps the claim alive while the worker runs. A lease
// conflict means another runner took over; the local job is cancelled.
func (s *Scheduler) renewLease(ctx context.Context, jobID string, cancel context.CancelFunc, done <-chan struct{}) {
	ticker := time.NewTicker(s.leaseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.broker.RenewLease(ctx, jobID)
			if errors.Is(err, broker.ErrLeaseConflict) {
				s.logger.Info("lease lost, cancelling job", "job", jobID)
				cancel()
				return
			}
			if err != nil {
				s.logger.Error(err, "lease renewal failed", "job", jobID)
			}
		}
	}
}

// routeCancels forwards pending cancel notices to their jobs.
func (s *Scheduler) routeCancels() {
	for {
		select {
		case jobID := <-s.broker.CancelRequested():
			s.mu.Lock()
			cancel, ok := s.active[jobID]
			s.mu.Unlock()

			if ok {
				s.logger.Info("cancelling job", "job", jobID)
				cancel()
			} else {
				s.logger.V(1).Info("cancel for unknown job", "job", jobID)
			}
		default:
			return
		}
	}
}

// drain waits for running jobs, still routing cancels so a shutdown
// cannot deadlock a job waiting for its cancel notice.
func (s *Scheduler) drain(abort <-chan struct{}) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	for {
		select {
		case <-done:
			return
		case <-abort:
			s.cancelAll()
			abort = nil
		case <-time.After(100 * time.Millisecond):
			s.routeCancels()
		}
	}
}

func (s *Scheduler) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cancel := range s.active {
		cancel()
	}
}

func (s *Scheduler) jitter() time.Duration {
	return s.pollInterval/2 + rand.N(s.pollInterval)
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
