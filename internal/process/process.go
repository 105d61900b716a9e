package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/giantswarm/simpool/internal/sentinel"
)

// ErrEmptyName is returned when Run is called without a command name.
const ErrEmptyName = sentinel.Error("command name must not be empty")

// ErrTimedOut is returned when a command outlives its timeout and is
// stopped.
const ErrTimedOut = sentinel.Error("command timed out")

// ErrNonZeroExit is returned when a command exits with a non-zero status.
// The Result still carries the exit code and captured output.
const ErrNonZeroExit = sentinel.Error("command exited with non-zero status")

// DefaultTimeout bounds a command when Command.Timeout is zero.
const DefaultTimeout = 2 * time.Minute

// Command describes one invocation.
type Command struct {
	Name    string
	Args    []string
	Timeout time.Duration // Zero uses DefaultTimeout
	Logger  *slog.Logger  // Defaults to slog.Default()
}

// String renders the command line for logs and errors.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Run starts c, waits for it to exit, and returns its captured output.
//
// A non-zero exit returns the Result together with an error wrapping
// ErrNonZeroExit that includes the trimmed stderr. When the timeout elapses
// or ctx is done, the command is stopped and the error wraps ErrTimedOut or
// the context error respectively.
func Run(ctx context.Context, c Command) (Result, error) {
	if c.Name == "" {
		return Result{}, ErrEmptyName
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log := c.Logger
	if log == nil {
		log = slog.Default()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(c.Name, c.Args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", c.Name, err)
	}

	// cmd.Wait must be called exactly once; stopWithDone consumes the same
	// channel when the command has to be stopped.
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-timer.C:
		stopErr := stopWithDone(cmd, done, termGracePeriod, c.Name)
		log.Warn("command timed out", "cmd", c.String(), "timeout", timeout, "stop_error", stopErr)
		return Result{}, fmt.Errorf("%s after %s: %w", c, timeout, ErrTimedOut)
	case <-ctx.Done():
		stopErr := stopWithDone(cmd, done, termGracePeriod, c.Name)
		log.Debug("command cancelled", "cmd", c.String(), "stop_error", stopErr)
		return Result{}, fmt.Errorf("%s: %w", c, ctx.Err())
	}

	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if waitErr == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return res, fmt.Errorf("%s: %w", c, waitErr)
	}
	res.ExitCode = exitErr.ExitCode()
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		msg = strings.TrimSpace(stdout.String())
	}
	return res, fmt.Errorf("%s: %w (status %d): %s", c, ErrNonZeroExit, res.ExitCode, msg)
}
