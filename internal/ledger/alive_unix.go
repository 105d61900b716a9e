//go:build unix

package ledger

import (
	"errors"

	"golang.org/x/sys/unix"
)

// processAlive signals pid with 0. EPERM means the process exists but
// belongs to another user.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
