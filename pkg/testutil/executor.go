// pkg/testutil/executor.go
//
// Scriptable in-memory Executor for package tests. Commands are matched by
// prefix; files live in a map. No network, no shell.

package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/remote"
	cerr "github.com/cockroachdb/errors"
)

// Response scripts the outcome for commands matching Prefix.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// FakeExecutor implements remote.Executor for tests.
type FakeExecutor struct {
	mu sync.Mutex

	// Responses maps a command prefix to its scripted outcome. First
	// matching prefix (longest first) wins. Unmatched commands succeed
	// with empty output.
	Responses map[string]Response

	// Handler, when set, is consulted before Responses. Tests that model
	// host state converging as commands run use it; returning false falls
	// through to the prefix map.
	Handler func(command string) (Response, bool)

	// Files is the fake filesystem.
	Files map[string][]byte

	// Commands records every command line run, in order.
	Commands []string

	// PutFiles records every PutFile destination, in order.
	PutFiles []string
}

func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{
		Responses: make(map[string]Response),
		Files:     make(map[string][]byte),
	}
}

// Script registers a response for commands starting with prefix.
func (f *FakeExecutor) Script(prefix string, resp Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses[prefix] = resp
}

func (f *FakeExecutor) Run(ctx context.Context, opts remote.Options) (remote.Result, error) {
	if err := ctx.Err(); err != nil {
		return remote.Result{ExitCode: -1}, cerr.WithStack(err)
	}

	f.mu.Lock()
	f.Commands = append(f.Commands, opts.Command)
	handler := f.Handler
	var best string
	for prefix := range f.Responses {
		if strings.HasPrefix(opts.Command, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	resp, scripted := f.Responses[best]
	f.mu.Unlock()

	if handler != nil {
		if handled, ok := handler(opts.Command); ok {
			return f.respond(opts.Command, handled)
		}
	}
	if !scripted || best == "" {
		return remote.Result{ExitCode: 0}, nil
	}
	return f.respond(opts.Command, resp)
}

func (f *FakeExecutor) respond(command string, resp Response) (remote.Result, error) {
	if resp.Err != nil {
		return remote.Result{ExitCode: resp.ExitCode, Stdout: resp.Stdout, Stderr: resp.Stderr}, resp.Err
	}
	if resp.ExitCode != 0 {
		return remote.Result{ExitCode: resp.ExitCode, Stdout: resp.Stdout, Stderr: resp.Stderr},
			cerr.WithStack(&remote.CommandError{Command: command, ExitCode: resp.ExitCode, Stderr: resp.Stderr})
	}
	return remote.Result{ExitCode: 0, Stdout: resp.Stdout, Stderr: resp.Stderr}, nil
}

func (f *FakeExecutor) PutFile(ctx context.Context, content []byte, remotePath, mode, owner string) error {
	if err := ctx.Err(); err != nil {
		return cerr.WithStack(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Files[remotePath] = append([]byte(nil), content...)
	f.PutFiles = append(f.PutFiles, remotePath)
	return nil
}

func (f *FakeExecutor) FileExists(ctx context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Files[path]
	return ok, nil
}

func (f *FakeExecutor) ReadFile(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.Files[path]
	if !ok {
		return nil, cerr.Newf("no such file: %s", path)
	}
	return append([]byte(nil), data...), nil
}

func (f *FakeExecutor) Close() error { return nil }

// SetFile seeds or replaces an entry in the fake filesystem. Handlers use
// it to model filesystem side effects of commands.
func (f *FakeExecutor) SetFile(path string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Files[path] = append([]byte(nil), content...)
}

// RanCommand reports whether any recorded command contains substr.
func (f *FakeExecutor) RanCommand(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Commands {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}
