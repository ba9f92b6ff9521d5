// pkg/plan/topo.go

package plan

import (
	"github.com/CodeMonkeyCybersecurity/charon/pkg/charon_err"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/step"
)

// Order topologically sorts steps by their DependsOn edges. The sort is
// stable: among steps whose dependencies are all satisfied, declaration
// order wins, so plans execute in a predictable sequence.
func Order(steps []*step.Step) ([]*step.Step, error) {
	byID := make(map[string]*step.Step, len(steps))
	for _, s := range steps {
		if _, dup := byID[s.ID]; dup {
			return nil, charon_err.NewValidationError("steps", "duplicate step id "+s.ID)
		}
		byID[s.ID] = s
	}

	indegree := make(map[string]int, len(steps))
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, charon_err.NewValidationError("steps",
					"step "+s.ID+" depends on unknown step "+dep)
			}
			indegree[s.ID]++
		}
	}

	ordered := make([]*step.Step, 0, len(steps))
	done := make(map[string]bool, len(steps))
	for len(ordered) < len(steps) {
		progressed := false
		for _, s := range steps {
			if done[s.ID] || indegree[s.ID] > 0 {
				continue
			}
			ordered = append(ordered, s)
			done[s.ID] = true
			progressed = true
			for _, t := range steps {
				for _, dep := range t.DependsOn {
					if dep == s.ID {
						indegree[t.ID]--
					}
				}
			}
		}
		if !progressed {
			return nil, charon_err.NewValidationError("steps", "dependency cycle detected")
		}
	}
	return ordered, nil
}
