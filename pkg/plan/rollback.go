// pkg/plan/rollback.go

package plan

import (
	"context"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/charon_err"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/step"
	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// rollback undoes reversible applied steps in reverse applied order.
// Non-reversible steps (package installs, checkouts, certificates) are
// left in place and reported. Every undo is attempted even after one
// fails, so the host ends as close to the pre-run state as possible.
func (p *Plan) rollback(ctx context.Context) error {
	logger := otelzap.Ctx(ctx)

	var errs *multierror.Error
	for i := len(p.applied) - 1; i >= 0; i-- {
		s := p.applied[i]
		if !s.Reversible {
			logger.Info("Leaving non-reversible step in place",
				zap.String("step", s.ID))
			continue
		}
		logger.Info("Undoing step", zap.String("step", s.ID))
		if err := s.Undo(ctx); err != nil {
			logger.Error("Undo failed",
				zap.String("step", s.ID),
				zap.Error(err))
			errs = multierror.Append(errs, cerr.Wrapf(err, "undo %s", s.ID))
		}
	}
	return errs.ErrorOrNil()
}

// ReplayRollback undoes a previous run from its persisted record. Used by
// the rollback verb: it walks the record's applied results in reverse and
// replays the undo of every reversible step, using the step set of a
// freshly built plan for the same descriptor.
func ReplayRollback(ctx context.Context, record *RunRecord, p *Plan) error {
	logger := otelzap.Ctx(ctx)

	byID := make(map[string]*step.Step, len(p.Steps))
	for _, s := range p.Steps {
		byID[s.ID] = s
	}

	var errs *multierror.Error
	for i := len(record.Results) - 1; i >= 0; i-- {
		res := record.Results[i]
		if res.Outcome != step.OutcomeApplied {
			continue
		}
		s, ok := byID[res.StepID]
		if !ok || !s.Reversible {
			continue
		}
		logger.Info("Replaying undo",
			zap.String("run_id", record.RunID),
			zap.String("step", s.ID))
		if err := s.Undo(ctx); err != nil {
			errs = multierror.Append(errs, cerr.Wrapf(err, "undo %s", s.ID))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return cerr.WithStack(&charon_err.RollbackError{RunID: record.RunID, Cause: err})
	}
	return nil
}
