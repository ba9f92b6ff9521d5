// pkg/step/runner.go

package step

import (
	"context"
	"time"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/charon_err"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/hoststate"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/remote"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// ProbeFunc re-observes the host. The runner calls it after every action so
// postconditions judge fresh state, never the snapshot the precondition saw.
type ProbeFunc func(ctx context.Context) (*hoststate.Snapshot, error)

// Runner applies single steps idempotently. It never retries; retry policy
// belongs to the plan (and per the engine contract, to the operator).
type Runner struct {
	Probe ProbeFunc
}

func NewRunner(probe ProbeFunc) *Runner {
	return &Runner{Probe: probe}
}

// Apply evaluates the step against snap and, when needed, performs its
// action and verifies the postcondition against a fresh probe.
//
// Applying the same step twice in a row must end skipped the second time;
// a step whose postcondition holds but whose precondition would not
// re-report satisfied is a bug in the step definition, not in the runner.
func (r *Runner) Apply(ctx context.Context, s *Step, snap *hoststate.Snapshot) ExecutionResult {
	logger := otelzap.Ctx(ctx)
	result := ExecutionResult{StepID: s.ID, StartedAt: time.Now()}

	// ASSESS - does the host already satisfy this step?
	satisfied, err := s.Precondition(ctx, snap)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err
		result.Detail = "precondition probe failed: " + err.Error()
		result.Duration = time.Since(result.StartedAt)
		return result
	}
	if satisfied {
		logger.Info("Step skipped, state already satisfied",
			zap.String("step", s.ID))
		result.Outcome = OutcomeSkipped
		result.Duration = time.Since(result.StartedAt)
		return result
	}

	// INTERVENE
	logger.Info("Applying step",
		zap.String("step", s.ID),
		zap.String("description", s.Description))
	output, err := s.Action(ctx)
	result.Stdout = output
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err
		result.Stderr = stderrOf(err)
		result.Detail = charon_err.ExtractSummary(ctx, result.Stderr+"\n"+output, 2)
		result.Duration = time.Since(result.StartedAt)
		logger.Error("Step action failed",
			zap.String("step", s.ID),
			zap.String("detail", result.Detail),
			zap.Error(err))
		return result
	}

	// EVALUATE - re-probe, then prove the action took.
	fresh, err := r.Probe(ctx)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err
		result.Detail = "post-action probe failed: " + err.Error()
		result.Duration = time.Since(result.StartedAt)
		return result
	}
	ok, diagnostic, err := s.Postcondition(ctx, fresh)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err
		result.Detail = "postcondition probe failed: " + err.Error()
		result.Duration = time.Since(result.StartedAt)
		return result
	}
	if !ok {
		result.Outcome = OutcomeFailed
		result.Detail = diagnostic
		result.Duration = time.Since(result.StartedAt)
		logger.Error("Step postcondition unmet",
			zap.String("step", s.ID),
			zap.String("diagnostic", diagnostic))
		return result
	}

	result.Outcome = OutcomeApplied
	result.Duration = time.Since(result.StartedAt)
	logger.Info("Step applied",
		zap.String("step", s.ID),
		zap.Duration("duration", result.Duration))
	return result
}

func stderrOf(err error) string {
	var ce *remote.CommandError
	if cerr.As(err, &ce) {
		return ce.Stderr
	}
	var re *charon_err.RemoteExecutionError
	if cerr.As(err, &re) {
		return re.Stderr
	}
	return err.Error()
}
