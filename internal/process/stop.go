package process

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// termGracePeriod is the maximum time to wait for a command to exit after
// SIGTERM before escalating to SIGKILL.
const termGracePeriod = 2 * time.Second

// killDrainTimeout is the hard upper bound for waiting on the done channel
// after SIGKILL has been sent. SIGKILL cannot be caught, so the process
// should exit almost immediately; the bound guards against cmd.Wait hanging
// on stuck I/O.
const killDrainTimeout = 5 * time.Second

// drainDone reads from the done channel with the given timeout as a hard
// upper bound.
//
// Returns true and the cmd.Wait error if the channel delivered in time,
// or false and a nil error if the timeout elapsed.
func drainDone(done <-chan error, timeout time.Duration) (bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case err := <-done:
		return true, err
	case <-t.C:
		return false, nil
	}
}

// stopWithDone sends SIGTERM to cmd and SIGKILL after grace, then waits for
// the single cmd.Wait goroutine to report through done.
//
// Worst-case blocking duration is grace + killDrainTimeout.
func stopWithDone(cmd *exec.Cmd, done <-chan error, grace time.Duration, name string) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if done == nil {
		return fmt.Errorf("%s: done channel must not be nil", name)
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already exited; collect the status.
		ok, waitErr := drainDone(done, killDrainTimeout)
		if !ok {
			return fmt.Errorf("%s: timed out draining process after signal failure", name)
		}
		return expectSignalExit(waitErr, name)
	}

	select {
	case err := <-done:
		return expectSignalExit(err, name)
	case <-time.After(grace):
	}

	// Kill on a finished process returns "process already finished",
	// which is harmless.
	_ = cmd.Process.Kill()
	ok, waitErr := drainDone(done, killDrainTimeout)
	if !ok {
		return fmt.Errorf("%s: timed out waiting for process to exit after SIGKILL", name)
	}
	return expectSignalExit(waitErr, name)
}

// expectSignalExit interprets an error from cmd.Wait after sending a
// termination signal. Exit errors caused by SIGTERM or SIGKILL are expected
// and treated as successful stops.
func expectSignalExit(err error, name string) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			sig := status.Signal()
			if sig == syscall.SIGTERM || sig == syscall.SIGKILL {
				return nil
			}
		}
	}
	return fmt.Errorf("%s: %w", name, err)
}
