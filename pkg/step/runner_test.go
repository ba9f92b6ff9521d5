// pkg/step/runner_test.go

package step

import (
	"context"
	"testing"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/hoststate"
	cerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hostDouble models the single fact test steps care about.
type hostDouble struct {
	applied bool
}

func (h *hostDouble) snapshot() *hoststate.Snapshot {
	snap := &hoststate.Snapshot{Paths: map[string]bool{"/opt/demo": h.applied}}
	return snap
}

func testStep(h *hostDouble, actionErr error) *Step {
	return &Step{
		ID:          "project-dir",
		Description: "create project directory",
		Reversible:  true,
		Precondition: func(ctx context.Context, snap *hoststate.Snapshot) (bool, error) {
			return snap.Paths["/opt/demo"], nil
		},
		Action: func(ctx context.Context) (string, error) {
			if actionErr != nil {
				return "", actionErr
			}
			h.applied = true
			return "created", nil
		},
		Postcondition: func(ctx context.Context, snap *hoststate.Snapshot) (bool, string, error) {
			if !snap.Paths["/opt/demo"] {
				return false, "expected /opt/demo to exist, observed absent", nil
			}
			return true, "", nil
		},
	}
}

func runnerFor(h *hostDouble) *Runner {
	return NewRunner(func(ctx context.Context) (*hoststate.Snapshot, error) {
		return h.snapshot(), nil
	})
}

func TestApplyThenSkip(t *testing.T) {
	ctx := context.Background()
	h := &hostDouble{}
	r := runnerFor(h)
	s := testStep(h, nil)

	first := r.Apply(ctx, s, h.snapshot())
	assert.Equal(t, OutcomeApplied, first.Outcome)
	assert.Equal(t, "created", first.Stdout)

	// Determinism: a second application against refreshed state skips.
	second := r.Apply(ctx, s, h.snapshot())
	assert.Equal(t, OutcomeSkipped, second.Outcome)

	third := r.Apply(ctx, s, h.snapshot())
	assert.Equal(t, OutcomeSkipped, third.Outcome, "must never oscillate")
}

func TestApplySkipsWithoutSideEffects(t *testing.T) {
	ctx := context.Background()
	h := &hostDouble{applied: true}
	r := runnerFor(h)

	actionRan := false
	s := testStep(h, nil)
	s.Action = func(ctx context.Context) (string, error) {
		actionRan = true
		return "", nil
	}

	result := r.Apply(ctx, s, h.snapshot())
	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.False(t, actionRan, "skipped step must not touch the host")
}

func TestApplyActionFailure(t *testing.T) {
	ctx := context.Background()
	h := &hostDouble{}
	r := runnerFor(h)
	s := testStep(h, cerr.New("apt-get exited 100: Could not get lock"))

	result := r.Apply(ctx, s, h.snapshot())
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Contains(t, result.Detail, "Could not get lock")
}

func TestApplyPostconditionUnmet(t *testing.T) {
	ctx := context.Background()
	h := &hostDouble{}
	r := runnerFor(h)

	s := testStep(h, nil)
	// Action reports success but leaves the host unchanged.
	s.Action = func(ctx context.Context) (string, error) { return "", nil }

	result := r.Apply(ctx, s, h.snapshot())
	require.Equal(t, OutcomeFailed, result.Outcome)
	assert.Contains(t, result.Detail, "expected /opt/demo to exist")
}

func TestApplyPostconditionSeesFreshState(t *testing.T) {
	ctx := context.Background()
	h := &hostDouble{}

	probes := 0
	r := NewRunner(func(ctx context.Context) (*hoststate.Snapshot, error) {
		probes++
		return h.snapshot(), nil
	})

	stale := h.snapshot() // probed before the action ran
	result := r.Apply(ctx, testStep(h, nil), stale)
	assert.Equal(t, OutcomeApplied, result.Outcome)
	assert.Equal(t, 1, probes, "postcondition must re-probe exactly once")
}
