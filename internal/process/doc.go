// Package process runs short-lived external commands under a deadline.
//
// Run captures a command's output and, when the deadline passes or the
// context is cancelled, stops the command with SIGTERM and escalates to
// SIGKILL after a grace period.
package process
