package dispatch

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outpost-run/outpost/internal/ipc"
	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
)

func superviseFixture(t *testing.T, opts ...spawnerOption) (*ProcessSpawner, *ipc.Channel, *ipc.Channel, *atomic.Bool) {
	t.Helper()

	listenerConn, workerConn := net.Pipe()
	listenerCh := ipc.NewChannel(listenerConn)
	workerCh := ipc.NewChannel(workerConn)
	t.Cleanup(func() {
		listenerCh.Close()
		workerCh.Close()
	})

	defaults := []spawnerOption{
		WithHeartbeatTimeout(time.Second),
		WithCancelGrace(time.Second),
	}

	spawner := NewProcessSpawner("worker", append(defaults, opts...)...)

	var killed atomic.Bool
	return spawner, listenerCh, workerCh, &killed
}

func TestSuperviseReturnsJobResult(t *testing.T) {
	spawner, listenerCh, workerCh, killed := superviseFixture(t)

	go func() {
		workerCh.Send(ipc.MessageTypeStepStarted, ipc.StepStarted{StepID: "hello", Time: time.Now()})
		workerCh.Send(ipc.MessageTypeLogLine, ipc.LogLine{StepID: "hello", Line: "hello", Time: time.Now()})
		workerCh.Send(ipc.MessageTypeHeartbeat, ipc.Heartbeat{Time: time.Now()})
		workerCh.Send(ipc.MessageTypeStepCompleted, ipc.StepCompleted{
			Result: v1beta1.StepResult{StepID: "hello", Outcome: v1beta1.OutcomeSucceeded},
		})
		workerCh.Send(ipc.MessageTypeJobCompleted, ipc.JobCompleted{
			Result: v1beta1.JobResult{JobID: "job-1", Outcome: v1beta1.OutcomeSucceeded},
		})
	}()

	result, err := spawner.supervise(context.Background(), listenerCh, "job-1", func() { killed.Store(true) })
	require.NoError(t, err)
	assert.Equal(t, v1beta1.OutcomeSucceeded, result.Outcome)
	assert.False(t, killed.Load())
}

func TestSuperviseKillsOnHeartbeatLoss(t *testing.T) {
	spawner, listenerCh, workerCh, killed := superviseFixture(t, WithHeartbeatTimeout(50*time.Millisecond))

	result, err := spawner.supervise(context.Background(), listenerCh, "job-1", func() {
		killed.Store(true)
		workerCh.Close()
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no heartbeat")
	assert.Nil(t, result)
	assert.True(t, killed.Load())
}

func TestSuperviseChannelClosedWithoutResult(t *testing.T) {
	spawner, listenerCh, workerCh, killed := superviseFixture(t)

	workerCh.Close()

	result, err := spawner.supervise(context.Background(), listenerCh, "job-1", func() { killed.Store(true) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed before job result")
	assert.Nil(t, result)
}

func TestSuperviseRelaysCancel(t *testing.T) {
	spawner, listenerCh, workerCh, killed := superviseFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	go func() {
		frame, err := workerCh.Receive()
		if err != nil || frame.Type != ipc.MessageTypeCancelRequest {
			workerCh.Close()
			return
		}

		workerCh.Send(ipc.MessageTypeJobCompleted, ipc.JobCompleted{
			Result: v1beta1.JobResult{JobID: "job-1", Outcome: v1beta1.OutcomeCancelled, Reason: "job cancelled"},
		})
	}()

	result, err := spawner.supervise(ctx, listenerCh, "job-1", func() { killed.Store(true) })
	require.NoError(t, err)
	assert.Equal(t, v1beta1.OutcomeCancelled, result.Outcome)
	assert.False(t, killed.Load())
}

func TestSuperviseKillsAfterCancelGrace(t *testing.T) {
	spawner, listenerCh, workerCh, killed := superviseFixture(t, WithCancelGrace(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	go func() {
		// Accept the cancel request but never finish the job.
		workerCh.Receive()
	}()

	result, err := spawner.supervise(ctx, listenerCh, "job-1", func() {
		killed.Store(true)
		workerCh.Close()
	})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, killed.Load())
}
