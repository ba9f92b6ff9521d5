// pkg/remote/local.go

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// LocalExecutor runs the same shell-level operations against the machine
// charon itself runs on. Useful for single-box setups and for tests.
type LocalExecutor struct {
	Sudo bool
}

func NewLocalExecutor(sudo bool) *LocalExecutor {
	return &LocalExecutor{Sudo: sudo}
}

func (e *LocalExecutor) Close() error { return nil }

func (e *LocalExecutor) Run(ctx context.Context, opts Options) (Result, error) {
	logger := otelzap.Ctx(ctx)
	timeout := timeoutOrDefault(opts.Timeout)

	command := opts.Command
	if opts.Sudo || e.Sudo {
		command = sudoWrap(command)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	}

	logger.Debug("Running local command",
		zap.String("command", command),
		zap.Duration("timeout", timeout))

	start := time.Now()
	err := cmd.Run()
	result := Result{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			result.ExitCode = -1
			return result, cerr.WithStack(&TimeoutError{Command: opts.Command, Timeout: timeout})
		}
		if ctx.Err() != nil {
			result.ExitCode = -1
			return result, cerr.WithStack(ctx.Err())
		}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			result.ExitCode = ee.ExitCode()
			return result, cerr.WithStack(&CommandError{
				Command:  opts.Command,
				ExitCode: ee.ExitCode(),
				Stderr:   strings.TrimSpace(stderr.String()),
			})
		}
		result.ExitCode = -1
		return result, cerr.WithStack(&ConnectionError{Target: "localhost", Err: err})
	}
	return result, nil
}

// PutFile writes to a temp file in the destination directory and renames it
// into place, so readers never observe a partial write.
func (e *LocalExecutor) PutFile(ctx context.Context, content []byte, remotePath, mode, owner string) error {
	dir := filepath.Dir(remotePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return cerr.Wrapf(err, "create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".charon-tmp-*")
	if err != nil {
		return cerr.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return cerr.Wrap(err, "write temp file")
	}
	if err := tmp.Close(); err != nil {
		return cerr.Wrap(err, "close temp file")
	}

	perm, err := parseMode(mode)
	if err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return cerr.Wrap(err, "chmod temp file")
	}
	if owner != "" {
		// chown needs privileges; go through the shell path so sudo applies.
		if _, err := e.Run(ctx, Options{Command: BuildCommand("chown", owner, tmpName)}); err != nil {
			return cerr.Wrapf(err, "chown %s", tmpName)
		}
	}

	if err := os.Rename(tmpName, remotePath); err != nil {
		return cerr.Wrapf(err, "rename into %s", remotePath)
	}
	return nil
}

func (e *LocalExecutor) FileExists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, cerr.Wrapf(err, "stat %s", path)
}

func (e *LocalExecutor) ReadFile(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerr.Wrapf(err, "read file %s", path)
	}
	return data, nil
}

func parseMode(mode string) (os.FileMode, error) {
	var parsed uint32
	if _, err := fmt.Sscanf(mode, "%o", &parsed); err != nil {
		return 0, cerr.Wrapf(err, "invalid file mode %q", mode)
	}
	return os.FileMode(parsed), nil
}
