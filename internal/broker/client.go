// Package broker is the HTTP client for the orchestration service. It
// owns the runner session, long-polls for messages and reports job
// results. Transient failures are retried with exponential backoff;
// credential rejections surface as ErrAuth so the caller can stop
// instead of hammering the service.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/sethvargo/go-retry"

	"github.com/outpost-run/outpost/pkg/apis/core/v1beta1"
)

// DefaultPollTimeout matches the service side long-poll window. The
// request context gets a small grace on top of it.
const DefaultPollTimeout = 30 * time.Second

const (
	apiPrefix         = "/api/v1"
	defaultRetryBase  = 500 * time.Millisecond
	defaultMaxRetries = 5
	maxResponseBody   = 4 << 20
)

type clientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) func(*Client) {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger logr.Logger) func(*Client) {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithPollTimeout(timeout time.Duration) func(*Client) {
	return func(c *Client) {
		c.pollTimeout = timeout
	}
}

func WithRetry(base time.Duration, maxRetries uint64) func(*Client) {
	return func(c *Client) {
		c.retryBase = base
		c.maxRetries = maxRetries
	}
}

// Client talks to one orchestration service on behalf of one runner.
// PollJob must be driven from a single goroutine; the other operations
// are safe to call concurrently with it.
type Client struct {
	baseURL     string
	token       string
	name        string
	httpClient  *http.Client
	logger      logr.Logger
	pollTimeout time.Duration
	retryBase   time.Duration
	maxRetries  uint64

	updates chan string
	cancels chan string

	mu            sync.Mutex
	session       *Session
	lastMessageID uint64
}

func NewClient(serverURL, token, name string, opts ...clientOption) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(serverURL, "/"),
		token:       token,
		name:        name,
		httpClient:  http.DefaultClient,
		logger:      logr.Discard(),
		pollTimeout: DefaultPollTimeout,
		retryBase:   defaultRetryBase,
		maxRetries:  defaultMaxRetries,
		updates:     make(chan string, 1),
		cancels:     make(chan string, 4),
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// UpdateAvailable delivers the target version when the service asks
// the runner to self-update.
func (c *Client) UpdateAvailable() <-chan string {
	return c.updates
}

// CancelRequested delivers job IDs the service asked to cancel.
func (c *Client) CancelRequested() <-chan string {
	return c.cancels
}

// CreateSession registers this listener with the service. A conflict
// means another listener holds the runner; the caller decides whether
// to wait and retry.
func (c *Client) CreateSession(ctx context.Context) error {
	request := map[string]any{
		"ownerName": fmt.Sprintf("runner-%s", c.name),
	}

	var session Session
	err := c.doRetry(ctx, func(ctx context.Context) error {
		body, statusCode, err := c.doRequest(ctx, http.MethodPost, apiPrefix+"/sessions", request)
		if err != nil {
			return retry.RetryableError(err)
		}

		switch {
		case statusCode == http.StatusConflict:
			return ErrSessionConflict
		case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
			return ErrAuth
		case transient(statusCode):
			return retry.RetryableError(&StatusError{StatusCode: statusCode, Body: string(body)})
		case statusCode != http.StatusOK && statusCode != http.StatusCreated:
			return &StatusError{StatusCode: statusCode, Body: string(body)}
		}

		return json.Unmarshal(body, &session)
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	c.mu.Lock()
	c.session = &session
	c.lastMessageID = 0
	c.mu.Unlock()

	c.logger.Info("session created", "session", session.SessionID)
	return nil
}

// DeleteSession releases the session. Best effort, the service also
// expires sessions that stop polling.
func (c *Client) DeleteSession(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	if session == nil {
		return nil
	}

	_, _, err := c.doRequest(ctx, http.MethodDelete, apiPrefix+"/sessions/"+session.SessionID, nil)
	return err
}

// PollJob long-polls for the next job. It returns (nil, nil) when the
// poll window closed without work. Cancel and refresh messages are
// routed to their channels and polling continues.
func (c *Client) PollJob(ctx context.Context) (*v1beta1.Job, error) {
	for {
		msg, err := c.nextMessage(ctx)
		if err != nil || msg == nil {
			return nil, err
		}

		c.ackMessage(ctx, msg.MessageID)

		switch msg.Type {
		case MessageTypeJobAvailable:
			var job v1beta1.Job
			if err := json.Unmarshal(msg.Body, &job); err != nil {
				c.logger.Error(err, "discarding malformed job message", "message", msg.MessageID)
				continue
			}

			return &job, nil

		case MessageTypeJobCancel:
			var body jobCancelBody
			if err := json.Unmarshal(msg.Body, &body); err != nil {
				c.logger.Error(err, "discarding malformed cancel message", "message", msg.MessageID)
				continue
			}

			select {
			case c.cancels <- body.JobID:
			default:
				c.logger.Info("dropping cancel, channel full", "job", body.JobID)
			}

		case MessageTypeRunnerRefresh:
			var body runnerRefreshBody
			if err := json.Unmarshal(msg.Body, &body); err != nil {
				c.logger.Error(err, "discarding malformed refresh message", "message", msg.MessageID)
				continue
			}

			select {
			case c.updates <- body.TargetVersion:
			default:
			}

		default:
			c.logger.V(1).Info("ignoring unknown message type", "type", msg.Type)
		}
	}
}

// RenewLease extends the claim on a running job. A conflict means the
// lease moved; the job must be abandoned.
func (c *Client) RenewLease(ctx context.Context, jobID string) error {
	err := c.doRetry(ctx, func(ctx context.Context) error {
		body, statusCode, err := c.doRequest(ctx, http.MethodPost, apiPrefix+"/jobs/"+jobID+"/lease/renew", nil)
		if err != nil {
			return retry.RetryableError(err)
		}

		switch {
		case statusCode == http.StatusConflict:
			return ErrLeaseConflict
		case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
			return ErrAuth
		case transient(statusCode):
			return retry.RetryableError(&StatusError{StatusCode: statusCode, Body: string(body)})
		case statusCode != http.StatusOK:
			return &StatusError{StatusCode: statusCode, Body: string(body)}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("renew lease for %s: %w", jobID, err)
	}

	return nil
}

// SubmitResult reports the terminal job result. It retries hard, a
// lost result leaves the job hanging on the service side.
func (c *Client) SubmitResult(ctx context.Context, result *v1beta1.JobResult) error {
	err := c.doRetry(ctx, func(ctx context.Context) error {
		body, statusCode, err := c.doRequest(ctx, http.MethodPost, apiPrefix+"/jobs/"+result.JobID+"/result", result)
		if err != nil {
			return retry.RetryableError(err)
		}

		switch {
		case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
			return ErrAuth
		case transient(statusCode):
			return retry.RetryableError(&StatusError{StatusCode: statusCode, Body: string(body)})
		case statusCode != http.StatusOK && statusCode != http.StatusNoContent:
			return &StatusError{StatusCode: statusCode, Body: string(body)}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("submit result for %s: %w", result.JobID, err)
	}

	return nil
}

func (c *Client) nextMessage(ctx context.Context) (*Message, error) {
	c.mu.Lock()
	session := c.session
	lastMessageID := c.lastMessageID
	c.mu.Unlock()

	if session == nil {
		return nil, ErrNoSession
	}

	// The service holds the request open for up to the poll window.
	pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout+5*time.Second)
	defer cancel()

	path := fmt.Sprintf("%s/sessions/%s/messages?lastMessageId=%d", apiPrefix, session.SessionID, lastMessageID)
	body, statusCode, err := c.doRequest(pollCtx, http.MethodGet, path, nil)
	if err != nil {
		// An expired poll window is the idle case, not a failure.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, nil
		}

		return nil, err
	}

	switch {
	case statusCode == http.StatusAccepted || statusCode == http.StatusNoContent:
		return nil, nil
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return nil, ErrAuth
	case statusCode != http.StatusOK:
		return nil, &StatusError{StatusCode: statusCode, Body: string(body)}
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	if msg.MessageID > 0 {
		c.mu.Lock()
		c.lastMessageID = msg.MessageID
		c.mu.Unlock()
	}

	return &msg, nil
}

// ackMessage dequeues a delivered message. Best effort, lastMessageId
// advances regardless.
func (c *Client) ackMessage(ctx context.Context, messageID uint64) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil || messageID == 0 {
		return
	}

	path := fmt.Sprintf("%s/sessions/%s/messages/%d", apiPrefix, session.SessionID, messageID)
	if _, _, err := c.doRequest(ctx, http.MethodDelete, path, nil); err != nil {
		c.logger.V(1).Error(err, "message ack failed", "message", messageID)
	}
}

func (c *Client) doRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.retryBase))
	return retry.Do(ctx, backoff, fn)
}

func (c *Client) doRequest(ctx context.Context, method, path string, requestBody any) ([]byte, int, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, 0, fmt.Errorf("encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, 0, err
	}

	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bearer "+c.token)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBody))
	if err != nil {
		return nil, 0, fmt.Errorf("read response body: %w", err)
	}

	return responseBody, response.StatusCode, nil
}
