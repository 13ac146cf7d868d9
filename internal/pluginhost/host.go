// Package pluginhost runs artifact transfer operations in a dedicated
// short-lived process. Network I/O failures and stalls stay isolated
// from the step engine; the owning step blocks only on the terminal
// result and its own timeout.
package pluginhost

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/go-logr/logr"

	"github.com/outpost-run/outpost/internal/ipc"
)

// ErrPluginCrashed marks a plugin process that exited without sending
// a terminal result.
var ErrPluginCrashed = errors.New("plugin crashed")

const defaultAcceptTimeout = 10 * time.Second

type hostOption func(*Host)

func WithLogger(logger logr.Logger) func(*Host) {
	return func(h *Host) {
		h.logger = logger
	}
}

func WithSocketDir(dir string) func(*Host) {
	return func(h *Host) {
		h.socketDir = dir
	}
}

func WithAcceptTimeout(timeout time.Duration) func(*Host) {
	return func(h *Host) {
		h.acceptTimeout = timeout
	}
}

// Host spawns one plugin process per operation and speaks the framed
// protocol with it over a per-operation socket.
type Host struct {
	pluginBin     string
	socketDir     string
	logger        logr.Logger
	acceptTimeout time.Duration
}

func NewHost(pluginBin string, opts ...hostOption) *Host {
	h := &Host{
		pluginBin:     pluginBin,
		socketDir:     os.TempDir(),
		logger:        logr.Discard(),
		acceptTimeout: defaultAcceptTimeout,
	}

	for _, o := range opts {
		o(h)
	}

	return h
}

// RunOperation executes one plugin operation to completion. Progress
// messages are surfaced through the callback; outputs come back only
// with a successful terminal result. Context cancellation kills the
// plugin process.
func (h *Host) RunOperation(ctx context.Context, operation string, inputs, variables map[string]string, progress func(line string)) (map[string]string, error) {
	listener, err := ipc.NewListener(h.socketDir)
	if err != nil {
		return nil, err
	}
	defer listener.Close()

	cmd := exec.CommandContext(ctx, h.pluginBin, "--socket", listener.SocketPath())
	cmd.Stderr = os.Stderr
	cmd.WaitDelay = 10 * time.Second

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start plugin: %w", err)
	}
	defer cmd.Wait()

	ch, err := listener.Accept(ctx, h.acceptTimeout)
	if err != nil {
		return nil, fmt.Errorf("plugin never connected: %w", err)
	}
	defer ch.Close()

	request := ipc.PluginRequest{
		Operation: operation,
		Inputs:    inputs,
		Variables: variables,
	}
	if err := ch.Send(ipc.MessageTypePluginRequest, request); err != nil {
		return nil, fmt.Errorf("send plugin request: %w", err)
	}

	return h.await(ctx, ch, operation, progress)
}

func (h *Host) await(ctx context.Context, ch *ipc.Channel, operation string, progress func(line string)) (map[string]string, error) {
	for {
		frame, err := ch.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			return nil, fmt.Errorf("%w: %s exited without a result", ErrPluginCrashed, operation)
		}

		switch frame.Type {
		case ipc.MessageTypePluginProgress:
			var msg ipc.PluginProgress
			if err := frame.Decode(&msg); err == nil && progress != nil {
				progress(msg.Message)
			}

		case ipc.MessageTypePluginResult:
			var msg ipc.PluginResult
			if err := frame.Decode(&msg); err != nil {
				return nil, fmt.Errorf("decode plugin result: %w", err)
			}

			if !msg.Succeeded {
				return nil, fmt.Errorf("plugin operation %s failed: %s", operation, msg.Reason)
			}

			return msg.Outputs, nil

		default:
			h.logger.V(1).Info("ignoring unexpected plugin message", "type", frame.Type)
		}
	}
}
