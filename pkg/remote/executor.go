// pkg/remote/executor.go
//
// Package remote is the sole I/O boundary to a target host. Everything the
// engine does to a machine goes through an Executor: run a command, place a
// file, probe for one. Implementations exist for SSH targets and for the
// local machine.

package remote

import (
	"context"
	"fmt"
	"io"
	"time"
)

const DefaultCommandTimeout = 2 * time.Minute

// Options describe one command execution.
type Options struct {
	// Command is a complete shell command line. Callers build it with
	// Quote/BuildCommand so untrusted descriptor fields cannot inject.
	Command string
	// Timeout bounds how long the caller waits. Zero means
	// DefaultCommandTimeout. On expiry the remote process is left running;
	// the next HostState probe reconciles whatever it did.
	Timeout time.Duration
	// Stdin, when set, is streamed to the command.
	Stdin io.Reader
	// Sudo wraps the command for privilege escalation on hosts where the
	// transport user is not root.
	Sudo bool
}

// Result carries exit status, output, and timing for one command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Executor abstracts shell-level operations against a target host.
type Executor interface {
	// Run executes a command and returns its result. A non-zero exit is
	// returned as *CommandError alongside the Result.
	Run(ctx context.Context, opts Options) (Result, error)
	// PutFile writes content to remotePath atomically (temp file + rename)
	// with the given mode and owner. Owner may be empty to leave ownership
	// to the transport user.
	PutFile(ctx context.Context, content []byte, remotePath, mode, owner string) error
	// FileExists reports whether a path exists on the host.
	FileExists(ctx context.Context, path string) (bool, error)
	// ReadFile returns the contents of a remote file.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// Close releases the transport.
	Close() error
}

// ConnectionError means the transport could not be established at all.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to %s: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError means the caller's timeout elapsed while waiting. The remote
// command keeps running; callers must re-probe before assuming anything
// about host state.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command exceeded %s: %s", e.Timeout, e.Command)
}

// CommandError means the command ran and exited non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command exited %d: %s", e.ExitCode, e.Command)
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultCommandTimeout
	}
	return d
}
