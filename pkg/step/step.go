// pkg/step/step.go
//
// Package step models one declarative unit of deployment work: a
// precondition over observed host state, an idempotent action, and a
// postcondition that proves the action took. Steps form a DAG; pkg/plan
// orders and executes them.

package step

import (
	"context"
	"time"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/hoststate"
)

// Predicate evaluates against a host snapshot. For preconditions, true
// means the desired state already holds and the step is skipped. For
// postconditions, false fails the step; the string carries the observed vs
// expected diagnostic.
type (
	Precondition  func(ctx context.Context, snap *hoststate.Snapshot) (bool, error)
	Postcondition func(ctx context.Context, snap *hoststate.Snapshot) (bool, string, error)
)

// Step is one idempotent operation in a deployment plan.
type Step struct {
	ID          string
	Description string

	// DependsOn lists step IDs that must be applied or skipped first.
	DependsOn []string

	// Resources names the host resources this step writes (unit name,
	// proxy config path, port). Two plans touching the same resource are
	// serialized on it.
	Resources []string

	// Reversible marks steps that rollback undoes. Package installs are
	// not reversible; service and proxy changes are.
	Reversible bool

	Precondition  Precondition
	Action        func(ctx context.Context) (string, error)
	Postcondition Postcondition

	// Undo reverts the step during rollback. Only consulted when
	// Reversible is set.
	Undo func(ctx context.Context) error
}

// Outcome of applying one step.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// ExecutionResult is the append-only audit record for one step application.
type ExecutionResult struct {
	StepID    string        `yaml:"stepId"`
	Outcome   Outcome       `yaml:"outcome"`
	Stdout    string        `yaml:"stdout,omitempty"`
	Stderr    string        `yaml:"stderr,omitempty"`
	Detail    string        `yaml:"detail,omitempty"`
	StartedAt time.Time     `yaml:"startedAt"`
	Duration  time.Duration `yaml:"duration"`

	// Err carries the causal error for a failed outcome so the plan can
	// classify it (precondition halt vs rollback trigger). Not persisted;
	// Detail holds the operator-facing text.
	Err error `yaml:"-"`
}
