// pkg/systemd/systemctl.go

package systemd

import (
	"context"
	"fmt"
	"strings"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/remote"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Systemctl exit codes.
// Reference: systemctl(1) man page. is-active and friends use exit status
// to report state, so non-zero is not automatically an error.
const (
	ExitSuccess     = 0
	ExitGenericFail = 1
	ExitInactive    = 3
	ExitUnknown     = 4
	ExitNotLoaded   = 5
)

// Systemctl runs one systemctl subcommand on the host and returns its
// combined result.
func Systemctl(ctx context.Context, exec remote.Executor, args ...string) (remote.Result, error) {
	logger := otelzap.Ctx(ctx)
	command := remote.BuildCommand("systemctl", args...)

	logger.Debug("Executing systemctl", zap.Strings("args", args))
	result, err := exec.Run(ctx, remote.Options{Command: command})
	if err != nil {
		return result, fmt.Errorf("systemctl %s failed: %w", strings.Join(args, " "), err)
	}
	return result, nil
}

// UnitDiagnostic fetches the supervisor's raw diagnostic for a unit, used
// when surfacing ActivationError. Best effort; status exits non-zero for
// anything but active.
func UnitDiagnostic(ctx context.Context, exec remote.Executor, unit string) string {
	result, _ := exec.Run(ctx, remote.Options{
		Command: remote.BuildCommand("systemctl", "status", "--no-pager", "-l", unit),
	})
	diagnostic := strings.TrimSpace(result.Stdout)
	if diagnostic == "" {
		diagnostic = strings.TrimSpace(result.Stderr)
	}
	if diagnostic == "" {
		diagnostic = "no diagnostic available"
	}
	return diagnostic
}
