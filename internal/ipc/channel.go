package ipc

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/outpost-run/outpost/internal/utils"
)

// Channel is one side of a duplex listener↔worker connection. Sends
// are serialized; receives are expected from a single reader goroutine.
type Channel struct {
	conn io.ReadWriteCloser
	mu   sync.Mutex
}

func NewChannel(conn io.ReadWriteCloser) *Channel {
	return &Channel{conn: conn}
}

func (c *Channel) Send(t MessageType, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return writeFrame(c.conn, t, v)
}

func (c *Channel) Receive() (Frame, error) {
	return readFrame(c.conn)
}

func (c *Channel) Close() error {
	return c.conn.Close()
}

// Listener is the server side of a channel. The spawning process binds
// a per-job socket and the child connects to it.
type Listener struct {
	socketPath string
	listener   net.Listener
}

// NewListener binds a unix socket under dir. Short random names keep
// the path under the platform socket path limit.
func NewListener(dir string) (*Listener, error) {
	socketPath := filepath.Join(dir, fmt.Sprintf("outpost-%s.sock", utils.RandString(8)))

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("bind ipc socket %s: %w", socketPath, err)
	}

	return &Listener{
		socketPath: socketPath,
		listener:   listener,
	}, nil
}

func (l *Listener) SocketPath() string {
	return l.socketPath
}

// Accept waits for the child process to connect. The deadline guards
// against a child that never comes up.
func (l *Listener) Accept(ctx context.Context, timeout time.Duration) (*Channel, error) {
	type accepted struct {
		conn net.Conn
		err  error
	}

	done := make(chan accepted, 1)
	go func() {
		conn, err := l.listener.Accept()
		done <- accepted{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		l.listener.Close()
		return nil, ctx.Err()
	case <-time.After(timeout):
		l.listener.Close()
		return nil, fmt.Errorf("timed out after %s waiting for connection on %s", timeout, l.socketPath)
	case result := <-done:
		if result.err != nil {
			return nil, result.err
		}

		return NewChannel(result.conn), nil
	}
}

func (l *Listener) Close() error {
	err := l.listener.Close()
	_ = os.Remove(l.socketPath)
	return err
}

// Dial connects the client side of a channel.
func Dial(socketPath string) (*Channel, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect ipc socket %s: %w", socketPath, err)
	}

	return NewChannel(conn), nil
}
