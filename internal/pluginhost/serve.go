package pluginhost

import (
	"context"
	"fmt"

	"github.com/outpost-run/outpost/internal/ipc"
)

// Operation is one plugin-side implementation. It reports progress
// through the callback and returns its outputs on success.
type Operation func(ctx context.Context, inputs, variables map[string]string, progress func(line string)) (map[string]string, error)

// Serve is the plugin process side of the protocol: connect back to
// the host, execute the requested operation and send the terminal
// result. Exactly one operation is served per process.
func Serve(ctx context.Context, socketPath string, operations map[string]Operation) error {
	ch, err := ipc.Dial(socketPath)
	if err != nil {
		return err
	}
	defer ch.Close()

	frame, err := ch.Receive()
	if err != nil {
		return fmt.Errorf("receive plugin request: %w", err)
	}

	if frame.Type != ipc.MessageTypePluginRequest {
		return fmt.Errorf("unexpected first message %q, want PluginRequest", frame.Type)
	}

	var request ipc.PluginRequest
	if err := frame.Decode(&request); err != nil {
		return fmt.Errorf("decode plugin request: %w", err)
	}

	op, ok := operations[request.Operation]
	if !ok {
		return ch.Send(ipc.MessageTypePluginResult, ipc.PluginResult{
			Reason: fmt.Sprintf("unknown operation %q", request.Operation),
		})
	}

	progress := func(line string) {
		_ = ch.Send(ipc.MessageTypePluginProgress, ipc.PluginProgress{Message: line})
	}

	outputs, err := op(ctx, request.Inputs, request.Variables, progress)

	result := ipc.PluginResult{Succeeded: err == nil, Outputs: outputs}
	if err != nil {
		result.Reason = err.Error()
		result.Outputs = nil
	}

	return ch.Send(ipc.MessageTypePluginResult, result)
}
