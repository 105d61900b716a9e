package process

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestExpectSignalExit(t *testing.T) {
	t.Parallel()

	type testCase struct {
		err     error
		signal  syscall.Signal
		wantErr bool
	}

	tests := map[string]testCase{
		"nil error returns nil": {
			wantErr: false,
		},
		"SIGTERM exit is expected": {
			signal:  syscall.SIGTERM,
			wantErr: false,
		},
		"SIGKILL exit is expected": {
			signal:  syscall.SIGKILL,
			wantErr: false,
		},
		"other signal is unexpected": {
			signal:  syscall.SIGINT,
			wantErr: true,
		},
		"non-ExitError is unexpected": {
			err:     errors.New("some other error"),
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			inputErr := tc.err
			if inputErr == nil && tc.signal != 0 {
				inputErr = makeSignalExitError(t, tc.signal)
			}

			got := expectSignalExit(inputErr, "test-proc")

			if tc.wantErr && got == nil {
				t.Fatal("expected error, got nil")
			}
			if !tc.wantErr && got != nil {
				t.Fatalf("expected nil, got %v", got)
			}
		})
	}
}

func TestExpectSignalExit_WrapsProcessName(t *testing.T) {
	t.Parallel()

	err := expectSignalExit(errors.New("connection refused"), "my-proc")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := err.Error(); got != "my-proc: connection refused" {
		t.Errorf("error = %q, want %q", got, "my-proc: connection refused")
	}
}

func TestDrainDone_ReceivesValue(t *testing.T) {
	t.Parallel()

	done := make(chan error, 1)
	done <- nil

	ok, err := drainDone(done, time.Second)
	if !ok {
		t.Fatal("expected ok=true when channel has a value")
	}
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestDrainDone_ReceivesError(t *testing.T) {
	t.Parallel()

	done := make(chan error, 1)
	want := errors.New("process crashed")
	done <- want

	ok, err := drainDone(done, time.Second)
	if !ok {
		t.Fatal("expected ok=true when channel has a value")
	}
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestDrainDone_TimesOutOnEmpty(t *testing.T) {
	t.Parallel()

	done := make(chan error) // unbuffered, never written to

	ok, err := drainDone(done, 10*time.Millisecond)
	if ok {
		t.Fatal("expected ok=false when timeout elapses")
	}
	if err != nil {
		t.Fatalf("expected nil error on timeout, got %v", err)
	}
}

func TestRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("captures stdout", func(t *testing.T) {
		t.Parallel()
		res, err := Run(ctx, Command{Name: "sh", Args: []string{"-c", "echo hello"}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := strings.TrimSpace(string(res.Stdout)); got != "hello" {
			t.Errorf("Stdout = %q, want %q", got, "hello")
		}
		if res.ExitCode != 0 {
			t.Errorf("ExitCode = %d, want 0", res.ExitCode)
		}
	})

	t.Run("non-zero exit carries stderr", func(t *testing.T) {
		t.Parallel()
		res, err := Run(ctx, Command{Name: "sh", Args: []string{"-c", "echo oops >&2; exit 3"}})
		if !errors.Is(err, ErrNonZeroExit) {
			t.Fatalf("expected ErrNonZeroExit, got %v", err)
		}
		if res.ExitCode != 3 {
			t.Errorf("ExitCode = %d, want 3", res.ExitCode)
		}
		if !strings.Contains(err.Error(), "oops") {
			t.Errorf("error %q does not contain stderr", err)
		}
	})

	t.Run("empty name", func(t *testing.T) {
		t.Parallel()
		if _, err := Run(ctx, Command{}); !errors.Is(err, ErrEmptyName) {
			t.Fatalf("expected ErrEmptyName, got %v", err)
		}
	})

	t.Run("missing binary", func(t *testing.T) {
		t.Parallel()
		_, err := Run(ctx, Command{Name: "simpool-no-such-binary"})
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if errors.Is(err, ErrNonZeroExit) {
			t.Fatalf("start failure must not look like an exit status: %v", err)
		}
	})
}

func TestRun_Timeout(t *testing.T) {
	t.Parallel()

	start := time.Now()
	_, err := Run(context.Background(), Command{
		Name:    "sleep",
		Args:    []string{"60"},
		Timeout: 50 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("Run returned after %s, want the command stopped promptly", elapsed)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := Run(ctx, Command{Name: "sleep", Args: []string{"60"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCommand_String(t *testing.T) {
	t.Parallel()

	c := Command{Name: "xcrun", Args: []string{"simctl", "list", "-j"}}
	if got := c.String(); got != "xcrun simctl list -j" {
		t.Errorf("String() = %q", got)
	}
}

func TestStopWithDone_NotStarted(t *testing.T) {
	t.Parallel()

	if err := stopWithDone(nil, nil, time.Second, "test"); err != nil {
		t.Fatalf("expected nil for nil cmd, got %v", err)
	}
}

// makeSignalExitError creates an *exec.ExitError with the given signal.
// It uses a real process to generate an authentic WaitStatus.
// Calls t.Fatalf if the process cannot be started, signaled, or does not
// produce an ExitError, since all conditions indicate a broken test environment.
func makeSignalExitError(tb testing.TB, sig syscall.Signal) *exec.ExitError {
	tb.Helper()

	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		tb.Fatalf("test setup: start sleep: %v", err)
	}

	if err := cmd.Process.Signal(sig); err != nil {
		// Kill the process to avoid leaking it, then fail.
		_ = cmd.Process.Kill() // best-effort cleanup
		tb.Fatalf("test setup: signal process with %v: %v", sig, err)
	}

	err := cmd.Wait()

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		tb.Fatalf("test setup: expected *exec.ExitError from signaled process, got %v", err)
	}

	return exitErr
}
