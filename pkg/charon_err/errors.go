// pkg/charon_err/errors.go

package charon_err

import (
	"context"
	"fmt"

	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// ValidationError marks descriptor or configuration problems detected before
// any remote mutation. Nothing needs to be rolled back when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NewValidationError wraps a descriptor-level failure.
func NewValidationError(field, reason string) error {
	return cerr.WithStack(&ValidationError{Field: field, Reason: reason})
}

// PreconditionError means the host is not yet in the state a step requires
// (e.g. DNS has not propagated). Prior steps remain valid, so the plan halts
// without rollback.
type PreconditionError struct {
	StepID string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition not met for %s: %s", e.StepID, e.Reason)
}

func NewPreconditionError(stepID, reason string) error {
	return cerr.WithStack(&PreconditionError{StepID: stepID, Reason: reason})
}

// RemoteExecutionError carries the remote diagnostic for a failed command.
// It triggers rollback of reversible steps.
type RemoteExecutionError struct {
	StepID   string
	Command  string
	ExitCode int
	Stderr   string
}

func (e *RemoteExecutionError) Error() string {
	return fmt.Sprintf("remote command failed (exit %d): %s", e.ExitCode, e.Command)
}

// ActivationError means a supervisor or proxy rejected new configuration.
// The previously active configuration must still be live when this is
// returned; callers rely on that.
type ActivationError struct {
	Unit       string
	Diagnostic string
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("activation rejected for %s: %s", e.Unit, e.Diagnostic)
}

func NewActivationError(unit, diagnostic string) error {
	return cerr.WithStack(&ActivationError{Unit: unit, Diagnostic: diagnostic})
}

// RollbackError is the only fatal error class: the host may be half-applied
// and requires operator intervention.
type RollbackError struct {
	RunID string
	Cause error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback failed for run %s: %v", e.RunID, e.Cause)
}

func (e *RollbackError) Unwrap() error { return e.Cause }

// IsValidation reports whether err (or anything it wraps) is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return cerr.As(err, &ve)
}

func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return cerr.As(err, &pe)
}

func IsActivation(err error) bool {
	var ae *ActivationError
	return cerr.As(err, &ae)
}

func IsRollbackFailure(err error) bool {
	var re *RollbackError
	return cerr.As(err, &re)
}

// NewExpectedError marks an error as operator-facing rather than a charon
// bug, and logs it at info level so it is not double-reported.
func NewExpectedError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	otelzap.Ctx(ctx).Info("Expected user error", zap.Error(err))
	return cerr.WithHint(err, "this is an input or environment problem, not a charon defect")
}
