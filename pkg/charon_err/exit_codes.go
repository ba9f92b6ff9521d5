// pkg/charon_err/exit_codes.go
//
// Exit code contract for the charon CLI. Operators script against these,
// so the mapping is part of the public interface.

package charon_err

// CLI exit codes.
const (
	// ExitSuccess - plan reached Succeeded.
	ExitSuccess = 0
	// ExitValidation - descriptor or config rejected before any remote mutation.
	ExitValidation = 1
	// ExitExecutionRolledBack - a step failed and reversible steps were undone.
	ExitExecutionRolledBack = 2
	// ExitRollbackFailed - rollback itself failed; manual cleanup required.
	ExitRollbackFailed = 3
)

// ExitCode maps an error returned from plan execution to the CLI contract.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case IsRollbackFailure(err):
		return ExitRollbackFailed
	case IsValidation(err), IsPrecondition(err):
		// Precondition halts happen before further mutation; prior steps
		// remain valid, so they report like validation stops.
		return ExitValidation
	default:
		return ExitExecutionRolledBack
	}
}
