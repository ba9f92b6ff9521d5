// pkg/remote/ssh.go

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// SSHExecutor implements Executor over an established SSH connection. One
// session is opened per command; the client connection is reused for the
// whole deploy run.
type SSHExecutor struct {
	client *ssh.Client
	target string

	// Sudo wraps every command when the transport user is not root.
	Sudo bool
}

// NewSSHExecutor dials the target and returns a ready executor.
func NewSSHExecutor(cfg DialConfig, sudo bool) (*SSHExecutor, error) {
	client, err := dialSSH(cfg)
	if err != nil {
		return nil, cerr.WithStack(&ConnectionError{Target: cfg.Target, Err: err})
	}
	return &SSHExecutor{client: client, target: cfg.Target, Sudo: sudo}, nil
}

func (e *SSHExecutor) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

type runOutcome struct {
	exitCode int
	err      error
}

// Run executes one command in a fresh session. The caller's timeout and
// context cancellation abort the wait only; the remote process is not
// signalled, and the next HostState probe reconciles whatever it left
// behind.
func (e *SSHExecutor) Run(ctx context.Context, opts Options) (Result, error) {
	logger := otelzap.Ctx(ctx)
	timeout := timeoutOrDefault(opts.Timeout)

	command := opts.Command
	if opts.Sudo || e.Sudo {
		command = sudoWrap(command)
	}

	session, err := e.client.NewSession()
	if err != nil {
		return Result{}, cerr.WithStack(&ConnectionError{Target: e.target, Err: err})
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if opts.Stdin != nil {
		session.Stdin = opts.Stdin
	}

	logger.Debug("Running remote command",
		zap.String("target", e.target),
		zap.String("command", command),
		zap.Duration("timeout", timeout))

	start := time.Now()
	if err := session.Start(command); err != nil {
		return Result{}, cerr.WithStack(&ConnectionError{Target: e.target, Err: err})
	}

	done := make(chan runOutcome, 1)
	go func() {
		err := session.Wait()
		exit := 0
		if err != nil {
			exit = -1
			var ee *ssh.ExitError
			if errors.As(err, &ee) {
				exit = ee.ExitStatus()
			}
		}
		done <- runOutcome{exitCode: exit, err: err}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-waitCtx.Done():
		result := Result{
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
		}
		if ctx.Err() != nil {
			// Cooperative cancellation: stop waiting, leave the host alone.
			return result, cerr.WithStack(ctx.Err())
		}
		logger.Warn("Remote command timed out; process left running",
			zap.String("command", opts.Command),
			zap.Duration("timeout", timeout))
		return result, cerr.WithStack(&TimeoutError{Command: opts.Command, Timeout: timeout})

	case outcome := <-done:
		result := Result{
			ExitCode: outcome.exitCode,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
		}
		if outcome.err != nil {
			return result, cerr.WithStack(&CommandError{
				Command:  opts.Command,
				ExitCode: outcome.exitCode,
				Stderr:   strings.TrimSpace(stderr.String()),
			})
		}
		logger.Debug("Remote command succeeded",
			zap.String("command", opts.Command),
			zap.Duration("duration", result.Duration))
		return result, nil
	}
}

// PutFile writes content atomically: stream to a temporary path, set mode
// and owner, then rename into place. A cancelled transfer leaves only the
// temporary file behind.
func (e *SSHExecutor) PutFile(ctx context.Context, content []byte, remotePath, mode, owner string) error {
	script := buildPutFileScript(remotePath, mode, owner)
	if err := CheckSyntax(script); err != nil {
		return err
	}

	_, err := e.Run(ctx, Options{
		Command: script,
		Stdin:   bytes.NewReader(content),
		Sudo:    e.Sudo,
	})
	if err != nil {
		return cerr.Wrapf(err, "put file %s", remotePath)
	}
	return nil
}

// FileExists probes for a path. Exit 0 and 1 are both well-defined answers;
// anything else is a transport or permission problem.
func (e *SSHExecutor) FileExists(ctx context.Context, path string) (bool, error) {
	_, err := e.Run(ctx, Options{Command: BuildCommand("test", "-e", path)})
	if err == nil {
		return true, nil
	}
	var ce *CommandError
	if cerr.As(err, &ce) && ce.ExitCode == 1 {
		return false, nil
	}
	return false, err
}

func (e *SSHExecutor) ReadFile(ctx context.Context, path string) ([]byte, error) {
	result, err := e.Run(ctx, Options{Command: BuildCommand("cat", path)})
	if err != nil {
		return nil, cerr.Wrapf(err, "read file %s", path)
	}
	return []byte(result.Stdout), nil
}

func buildPutFileScript(remotePath, mode, owner string) string {
	quoted := Quote(remotePath)
	tmp := Quote(remotePath + ".charon-tmp")
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("umask 077 && cat > %s && chmod %s %s", tmp, mode, tmp))
	if owner != "" {
		sb.WriteString(fmt.Sprintf(" && chown %s %s", Quote(owner), tmp))
	}
	sb.WriteString(fmt.Sprintf(" && mv -f %s %s", tmp, quoted))
	return sb.String()
}
