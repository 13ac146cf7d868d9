package pluginhost

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outpost-run/outpost/internal/ipc"
)

func TestAwaitProgressAndResult(t *testing.T) {
	hostConn, pluginConn := net.Pipe()
	hostCh := ipc.NewChannel(hostConn)
	pluginCh := ipc.NewChannel(pluginConn)
	t.Cleanup(func() {
		hostCh.Close()
		pluginCh.Close()
	})

	go func() {
		pluginCh.Send(ipc.MessageTypePluginProgress, ipc.PluginProgress{Message: "uploading 50%"})
		pluginCh.Send(ipc.MessageTypePluginResult, ipc.PluginResult{
			Succeeded: true,
			Outputs:   map[string]string{"artifact-id": "42"},
		})
	}()

	var lines []string
	host := NewHost("plugin")
	outputs, err := host.await(context.Background(), hostCh, "artifact-upload", func(line string) {
		lines = append(lines, line)
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"artifact-id": "42"}, outputs)
	assert.Equal(t, []string{"uploading 50%"}, lines)
}

func TestAwaitFailedResult(t *testing.T) {
	hostConn, pluginConn := net.Pipe()
	hostCh := ipc.NewChannel(hostConn)
	pluginCh := ipc.NewChannel(pluginConn)
	t.Cleanup(func() {
		hostCh.Close()
		pluginCh.Close()
	})

	go func() {
		pluginCh.Send(ipc.MessageTypePluginResult, ipc.PluginResult{Reason: "upload rejected"})
	}()

	host := NewHost("plugin")
	_, err := host.await(context.Background(), hostCh, "artifact-upload", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload rejected")
}

func TestAwaitPluginCrash(t *testing.T) {
	hostConn, pluginConn := net.Pipe()
	hostCh := ipc.NewChannel(hostConn)
	t.Cleanup(func() { hostCh.Close() })

	pluginConn.Close()

	host := NewHost("plugin")
	_, err := host.await(context.Background(), hostCh, "artifact-upload", nil)
	require.ErrorIs(t, err, ErrPluginCrashed)
}

func TestServe(t *testing.T) {
	listener, err := ipc.NewListener(t.TempDir())
	require.NoError(t, err)
	defer listener.Close()

	operations := map[string]Operation{
		"artifact-download": func(ctx context.Context, inputs, variables map[string]string, progress func(string)) (map[string]string, error) {
			progress(fmt.Sprintf("fetching %s", inputs["url"]))
			return map[string]string{"path": "/work/out.tar"}, nil
		},
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- Serve(context.Background(), listener.SocketPath(), operations)
	}()

	ch, err := listener.Accept(context.Background(), time.Second)
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Send(ipc.MessageTypePluginRequest, ipc.PluginRequest{
		Operation: "artifact-download",
		Inputs:    map[string]string{"url": "https://example.test/blob"},
	}))

	frame, err := ch.Receive()
	require.NoError(t, err)
	require.Equal(t, ipc.MessageTypePluginProgress, frame.Type)

	var progress ipc.PluginProgress
	require.NoError(t, frame.Decode(&progress))
	assert.Equal(t, "fetching https://example.test/blob", progress.Message)

	frame, err = ch.Receive()
	require.NoError(t, err)
	require.Equal(t, ipc.MessageTypePluginResult, frame.Type)

	var result ipc.PluginResult
	require.NoError(t, frame.Decode(&result))
	assert.True(t, result.Succeeded)
	assert.Equal(t, map[string]string{"path": "/work/out.tar"}, result.Outputs)

	require.NoError(t, <-serveErr)
}

func TestServeUnknownOperation(t *testing.T) {
	listener, err := ipc.NewListener(t.TempDir())
	require.NoError(t, err)
	defer listener.Close()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- Serve(context.Background(), listener.SocketPath(), nil)
	}()

	ch, err := listener.Accept(context.Background(), time.Second)
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.Send(ipc.MessageTypePluginRequest, ipc.PluginRequest{Operation: "bogus"}))

	frame, err := ch.Receive()
	require.NoError(t, err)
	require.Equal(t, ipc.MessageTypePluginResult, frame.Type)

	var result ipc.PluginResult
	require.NoError(t, frame.Decode(&result))
	assert.False(t, result.Succeeded)
	assert.Contains(t, result.Reason, "unknown operation")

	require.NoError(t, <-serveErr)
}
