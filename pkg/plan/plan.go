// pkg/plan/plan.go
//
// DeploymentPlan state machine:
//
//	Draft -> Validated -> Executing -> Succeeded
//	                                 | Halted       (precondition, no rollback)
//	                                 | RollingBack -> RolledBack
//	                                                | Failed (rollback failed)
//
// A fresh host snapshot is taken before every step; nothing observed
// earlier in the run is trusted, since external actors may mutate the host
// at any time.

package plan

import (
	"context"
	"time"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/certs"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/charon_err"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/hoststate"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/project"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/repo"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/step"
	cerr "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// State of a deployment plan.
type State string

const (
	StateDraft       State = "draft"
	StateValidated   State = "validated"
	StateExecuting   State = "executing"
	StateSucceeded   State = "succeeded"
	StateHalted      State = "halted"
	StateRollingBack State = "rollingBack"
	StateRolledBack  State = "rolledBack"
	StateFailed      State = "failed"
)

// Plan orchestrates one deployment run for one project.
type Plan struct {
	RunID      string
	Descriptor *project.Descriptor
	Steps      []*step.Step
	State      State
	Results    []step.ExecutionResult
	StartedAt  time.Time

	deps      *Deps
	runner    *step.Runner
	locks     *LockRegistry
	auditDir  string
	repoCheck func(ctx context.Context, repoURL string) error

	applied []*step.Step
}

// Option adjusts plan construction.
type Option func(*Plan)

// WithLockRegistry overrides the process-wide registry. Tests use this.
func WithLockRegistry(r *LockRegistry) Option {
	return func(p *Plan) { p.locks = r }
}

// WithAuditDir overrides where the run record is persisted.
func WithAuditDir(dir string) Option {
	return func(p *Plan) { p.auditDir = dir }
}

// WithSteps replaces the generated step set. Callers composing custom
// plans (and tests) use this; the state machine is unchanged.
func WithSteps(steps []*step.Step) Option {
	return func(p *Plan) { p.Steps = steps }
}

// WithProbe replaces the host probe.
func WithProbe(probe step.ProbeFunc) Option {
	return func(p *Plan) { p.runner = step.NewRunner(probe) }
}

// WithRepoCheck replaces the repository reachability check.
func WithRepoCheck(check func(ctx context.Context, repoURL string) error) Option {
	return func(p *Plan) { p.repoCheck = check }
}

// New builds a Draft plan for the descriptor.
func New(d *project.Descriptor, deps *Deps, opts ...Option) *Plan {
	p := &Plan{
		RunID:      uuid.NewString(),
		Descriptor: d,
		Steps:      BuildSteps(d, deps),
		State:      StateDraft,
		deps:       deps,
		locks:      DefaultRegistry(),
		auditDir:   DefaultAuditDir(),
		repoCheck:  repo.CheckReachable,
	}
	p.runner = step.NewRunner(func(ctx context.Context) (*hoststate.Snapshot, error) {
		return hoststate.Probe(ctx, deps.Exec, ProbeSpecFor(d))
	})
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Validate checks the descriptor and repository reachability, then orders
// the steps. Nothing on the host is touched.
func (p *Plan) Validate(ctx context.Context) error {
	if p.State != StateDraft {
		return charon_err.NewValidationError("plan", "already validated")
	}
	if err := p.Descriptor.Validate(); err != nil {
		return err
	}
	if err := p.repoCheck(ctx, p.Descriptor.RepoURL); err != nil {
		return charon_err.NewValidationError("repoUrl", err.Error())
	}
	ordered, err := Order(p.Steps)
	if err != nil {
		return err
	}
	p.Steps = ordered
	p.State = StateValidated

	otelzap.Ctx(ctx).Info("Plan validated",
		zap.String("run_id", p.RunID),
		zap.String("project", p.Descriptor.Name),
		zap.Int("steps", len(p.Steps)))
	return nil
}

// Execute applies the ordered steps sequentially under the plan's resource
// locks. The returned error maps to the CLI exit-code contract.
func (p *Plan) Execute(ctx context.Context) (err error) {
	logger := otelzap.Ctx(ctx)

	if p.State != StateValidated {
		return charon_err.NewValidationError("plan", "must be validated before execution")
	}

	release, err := p.locks.Acquire(ctx, p.resourceSet())
	if err != nil {
		return err
	}
	defer release()

	p.State = StateExecuting
	p.StartedAt = time.Now()
	defer func() {
		if persistErr := p.persistAudit(ctx); persistErr != nil {
			logger.Warn("Failed to persist audit record",
				zap.String("run_id", p.RunID),
				zap.Error(persistErr))
		}
	}()

	for _, s := range p.Steps {
		snap, probeErr := p.runner.Probe(ctx)
		if probeErr != nil {
			return p.failAndRollback(ctx, s.ID, cerr.Wrapf(probeErr, "probe before step %s", s.ID))
		}

		result := p.runner.Apply(ctx, s, snap)
		p.Results = append(p.Results, result)

		switch result.Outcome {
		case step.OutcomeApplied:
			p.applied = append(p.applied, s)
		case step.OutcomeSkipped:
			// nothing to record
		case step.OutcomeFailed:
			if isPreconditionHalt(result.Err) {
				// Prior steps remain valid; the run can simply be re-issued
				// once the world catches up.
				p.State = StateHalted
				logger.Warn("Plan halted on unmet precondition",
					zap.String("run_id", p.RunID),
					zap.String("step", s.ID),
					zap.String("detail", result.Detail))
				return charon_err.NewPreconditionError(s.ID, result.Detail)
			}
			return p.failAndRollback(ctx, s.ID, stepFailure(s.ID, result))
		}
	}

	p.State = StateSucceeded
	logger.Info("Plan succeeded",
		zap.String("run_id", p.RunID),
		zap.String("project", p.Descriptor.Name),
		zap.Int("steps", len(p.Results)))
	return nil
}

// failAndRollback undoes reversible applied steps in reverse order. Only a
// failure inside rollback itself is fatal.
func (p *Plan) failAndRollback(ctx context.Context, stepID string, cause error) error {
	logger := otelzap.Ctx(ctx)

	p.State = StateRollingBack
	logger.Error("Step failed; rolling back reversible steps",
		zap.String("run_id", p.RunID),
		zap.String("step", stepID),
		zap.Error(cause))

	if rbErr := p.rollback(ctx); rbErr != nil {
		p.State = StateFailed
		return cerr.WithStack(&charon_err.RollbackError{RunID: p.RunID, Cause: rbErr})
	}

	p.State = StateRolledBack
	return cerr.Wrapf(cause, "step %s failed, reversible steps rolled back", stepID)
}

func (p *Plan) resourceSet() []string {
	var all []string
	for _, s := range p.Steps {
		all = append(all, s.Resources...)
	}
	return all
}

// stepFailure turns a failed ExecutionResult into the error the CLI maps
// to an exit code, preserving the remote diagnostic.
func stepFailure(stepID string, result step.ExecutionResult) error {
	if result.Err != nil {
		return result.Err
	}
	return cerr.WithStack(&charon_err.RemoteExecutionError{
		StepID: stepID,
		Stderr: result.Detail,
	})
}

// isPreconditionHalt classifies errors that defer the plan instead of
// triggering rollback: the host is fine, the world just is not ready.
func isPreconditionHalt(err error) bool {
	if err == nil {
		return false
	}
	return charon_err.IsPrecondition(err) || certs.IsDNSNotReady(err)
}
