package runtime

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"
)

type execOption func(*hostExec)

func WithKillGracePeriod(d time.Duration) func(*hostExec) {
	return func(e *hostExec) {
		e.killGracePeriod = d
	}
}

// NewExec returns an Exec that runs commands directly on the host.
func NewExec(opts ...execOption) *hostExec {
	e := &hostExec{
		killGracePeriod: 10 * time.Second,
	}

	for _, o := range opts {
		o(e)
	}

	return e
}

type hostExec struct {
	killGracePeriod time.Duration
}

// Run starts the child and waits for it. On context cancellation the
// child receives SIGINT and, after the grace period, SIGKILL. A
// non-zero exit is returned as the exit code, not as an error.
func (e *hostExec) Run(ctx context.Context, cmd Command, stdout, stderr io.Writer) (int, error) {
	child := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	child.Dir = cmd.Dir
	child.Env = append(os.Environ(), cmd.Env...)
	child.Stdout = stdout
	child.Stderr = stderr
	child.Cancel = func() error {
		return child.Process.Signal(os.Interrupt)
	}
	child.WaitDelay = e.killGracePeriod

	if err := child.Start(); err != nil {
		return -1, err
	}

	err := child.Wait()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}

	if err != nil {
		return -1, err
	}

	return 0, nil
}
