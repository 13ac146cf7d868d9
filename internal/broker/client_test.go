package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(server.URL, "test-token", "runner-under-test",
		WithRetry(time.Millisecond, 2),
		WithPollTimeout(time.Second),
	)
}

func sessionHandler(t *testing.T, mux *http.ServeMux) {
	t.Helper()

	mux.HandleFunc("POST /api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(Session{SessionID: "sess-1"})
	})
}

func TestCreateSession(t *testing.T) {
	mux := http.NewServeMux()
	sessionHandler(t, mux)

	client := testClient(t, mux)
	require.NoError(t, client.CreateSession(context.Background()))
	assert.Equal(t, "sess-1", client.session.SessionID)
}

func TestCreateSessionRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Session{SessionID: "sess-2"})
	})

	client := testClient(t, mux)
	require.NoError(t, client.CreateSession(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestCreateSessionAuthFailureIsFatal(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	client := testClient(t, mux)
	err := client.CreateSession(context.Background())
	require.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, int32(1), calls.Load(), "auth failures must not be retried")
}

func TestCreateSessionConflict(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	client := testClient(t, mux)
	require.ErrorIs(t, client.CreateSession(context.Background()), ErrSessionConflict)
}

func TestPollJob(t *testing.T) {
	job := v1beta1.Job{
		ID:    "job-1",
		Steps: []v1beta1.Step{{ID: "hello", Kind: v1beta1.StepKindScript, Run: "echo hello"}},
	}
	jobBody, err := json.Marshal(job)
	require.NoError(t, err)

	var acked atomic.Int32
	mux := http.NewServeMux()
	sessionHandler(t, mux)
	mux.HandleFunc("GET /api/v1/sessions/sess-1/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0", r.URL.Query().Get("lastMessageId"))
		json.NewEncoder(w).Encode(Message{MessageID: 7, Type: MessageTypeJobAvailable, Body: jobBody})
	})
	mux.HandleFunc("DELETE /api/v1/sessions/sess-1/messages/7", func(w http.ResponseWriter, r *http.Request) {
		acked.Add(1)
	})

	client := testClient(t, mux)
	require.NoError(t, client.CreateSession(context.Background()))

	got, err := client.PollJob(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "job-1", got.ID)
	assert.Equal(t, int32(1), acked.Load())
	assert.Equal(t, uint64(7), client.lastMessageID)
}

func TestPollJobIdleWindow(t *testing.T) {
	mux := http.NewServeMux()
	sessionHandler(t, mux)
	mux.HandleFunc("GET /api/v1/sessions/sess-1/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	client := testClient(t, mux)
	require.NoError(t, client.CreateSession(context.Background()))

	got, err := client.PollJob(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPollJobRoutesCancelAndRefresh(t *testing.T) {
	messages := []Message{
		{MessageID: 1, Type: MessageTypeJobCancel, Body: json.RawMessage(`{"jobId":"job-9"}`)},
		{MessageID: 2, Type: MessageTypeRunnerRefresh, Body: json.RawMessage(`{"targetVersion":"2.300.0"}`)},
	}

	var next atomic.Int32
	mux := http.NewServeMux()
	sessionHandler(t, mux)
	mux.HandleFunc("GET /api/v1/sessions/sess-1/messages", func(w http.ResponseWriter, r *http.Request) {
		i := int(next.Add(1)) - 1
		if i >= len(messages) {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		json.NewEncoder(w).Encode(messages[i])
	})
	mux.HandleFunc("DELETE /api/v1/sessions/sess-1/messages/{id}", func(w http.ResponseWriter, r *http.Request) {})

	client := testClient(t, mux)
	require.NoError(t, client.CreateSession(context.Background()))

	got, err := client.PollJob(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)

	select {
	case jobID := <-client.CancelRequested():
		assert.Equal(t, "job-9", jobID)
	default:
		t.Fatal("expected a cancel notification")
	}

	select {
	case version := <-client.UpdateAvailable():
		assert.Equal(t, "2.300.0", version)
	default:
		t.Fatal("expected an update notification")
	}
}

func TestPollJobWithoutSession(t *testing.T) {
	client := testClient(t, http.NewServeMux())

	_, err := client.PollJob(context.Background())
	require.ErrorIs(t, err, ErrNoSession)
}

func TestRenewLease(t *testing.T) {
	tests := []struct {
		name        string
		statusCode  int
		expectedErr error
	}{
		{name: "renewed", statusCode: http.StatusOK},
		{name: "conflict", statusCode: http.StatusConflict, expectedErr: ErrLeaseConflict},
		{name: "auth rejected", statusCode: http.StatusForbidden, expectedErr: ErrAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("POST /api/v1/jobs/job-1/lease/renew", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			})

			client := testClient(t, mux)
			err := client.RenewLease(context.Background(), "job-1")
			if tt.expectedErr != nil {
				require.ErrorIs(t, err, tt.expectedErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestSubmitResult(t *testing.T) {
	var received v1beta1.JobResult
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/jobs/job-1/result", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	})

	client := testClient(t, mux)
	result := &v1beta1.JobResult{JobID: "job-1", Outcome: v1beta1.OutcomeSucceeded}
	require.NoError(t, client.SubmitResult(context.Background(), result))
	assert.Equal(t, "job-1", received.JobID)
	assert.Equal(t, v1beta1.OutcomeSucceeded, received.Outcome)
}

func TestSubmitResultRetriesUntilExhausted(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/jobs/job-1/result", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	client := testClient(t, mux)
	err := client.SubmitResult(context.Background(), &v1beta1.JobResult{JobID: "job-1"})
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Equal(t, int32(3), calls.Load(), "initial call plus retries")
}
