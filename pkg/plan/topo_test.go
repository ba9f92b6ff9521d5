// pkg/plan/topo_test.go

package plan

import (
	"testing"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/charon_err"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/step"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(steps []*step.Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.ID
	}
	return out
}

func TestOrderRespectsDependencies(t *testing.T) {
	t.Parallel()

	steps := []*step.Step{
		{ID: "c", DependsOn: []string{"b"}},
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	}
	ordered, err := Order(steps)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(ordered))
}

func TestOrderIsStable(t *testing.T) {
	t.Parallel()

	// Independent steps keep declaration order.
	steps := []*step.Step{
		{ID: "x"},
		{ID: "y"},
		{ID: "z"},
	}
	ordered, err := Order(steps)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, ids(ordered))
}

func TestOrderDetectsCycle(t *testing.T) {
	t.Parallel()

	steps := []*step.Step{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	}
	_, err := Order(steps)
	require.Error(t, err)
	assert.True(t, charon_err.IsValidation(err))
	assert.Contains(t, err.Error(), "cycle")
}

func TestOrderRejectsUnknownDependency(t *testing.T) {
	t.Parallel()

	steps := []*step.Step{{ID: "a", DependsOn: []string{"ghost"}}}
	_, err := Order(steps)
	require.Error(t, err)
	assert.True(t, charon_err.IsValidation(err))
}

func TestOrderRejectsDuplicateIDs(t *testing.T) {
	t.Parallel()

	steps := []*step.Step{{ID: "a"}, {ID: "a"}}
	_, err := Order(steps)
	require.Error(t, err)
	assert.True(t, charon_err.IsValidation(err))
}
