package ipc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func testJob() v1beta1.Job {
	return v1beta1.Job{
		ID:          "job-1",
		RequestID:   42,
		DisplayName: "build",
		Timeout:     metav1.Duration{Duration: time.Hour},
		Variables:   map[string]string{"CI": "true"},
		Secrets:     map[string]string{"TOKEN": "hunter2"},
		Steps: []v1beta1.Step{
			{ID: "s1", Kind: v1beta1.StepKindScript, Run: "echo hello"},
			{ID: "s2", Kind: v1beta1.StepKindCompositeAction, Steps: []v1beta1.Step{
				{ID: "s2a", Kind: v1beta1.StepKindScript, Run: "echo a"},
				{ID: "s2b", Kind: v1beta1.StepKindScript, Run: "echo b"},
			}},
			{ID: "s3", Kind: v1beta1.StepKindScript, Stage: v1beta1.StepStageCleanup, Run: "echo done"},
		},
	}
}

func TestJobPayloadRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	tx := NewChannel(client)
	rx := NewChannel(server)

	job := testJob()

	go func() {
		_ = tx.Send(MessageTypeJobPayload, JobPayload{Job: job})
	}()

	frame, err := rx.Receive()
	require.NoError(t, err)
	assert.Equal(t, MessageTypeJobPayload, frame.Type)

	var payload JobPayload
	require.NoError(t, frame.Decode(&payload))
	assert.Equal(t, job, payload.Job)
}

func TestReceiveOrdering(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	tx := NewChannel(client)
	rx := NewChannel(server)

	go func() {
		_ = tx.Send(MessageTypeStepStarted, StepStarted{StepID: "s1"})
		_ = tx.Send(MessageTypeLogLine, LogLine{StepID: "s1", Line: "hello"})
		_ = tx.Send(MessageTypeStepCompleted, StepCompleted{Result: v1beta1.StepResult{StepID: "s1", Outcome: v1beta1.OutcomeSucceeded}})
	}()

	var types []MessageType
	for i := 0; i < 3; i++ {
		frame, err := rx.Receive()
		require.NoError(t, err)
		types = append(types, frame.Type)
	}

	assert.Equal(t, []MessageType{
		MessageTypeStepStarted,
		MessageTypeLogLine,
		MessageTypeStepCompleted,
	}, types)
}

func TestPartialFrameDetected(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	rx := NewChannel(server)

	go func() {
		// Header promising a 100 byte body, then a crash.
		_, _ = client.Write([]byte{0, 0, 0, 2, 0, 0, 0, 100, 1, 2, 3})
		client.Close()
	}()

	_, err := rx.Receive()
	assert.ErrorIs(t, err, ErrPartialFrame)
}

func TestListenerAcceptAndDial(t *testing.T) {
	listener, err := NewListener(t.TempDir())
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		channel, err := Dial(listener.SocketPath())
		if err != nil {
			return
		}

		_ = channel.Send(MessageTypeHeartbeat, Heartbeat{Time: time.Now()})
		channel.Close()
	}()

	channel, err := listener.Accept(context.Background(), 5*time.Second)
	require.NoError(t, err)
	defer channel.Close()

	frame, err := channel.Receive()
	require.NoError(t, err)
	assert.Equal(t, MessageTypeHeartbeat, frame.Type)
}

func TestListenerAcceptTimeout(t *testing.T) {
	listener, err := NewListener(t.TempDir())
	require.NoError(t, err)
	defer listener.Close()

	_, err = listener.Accept(context.Background(), 50*time.Millisecond)
	assert.Error(t, err)
}
