// pkg/plan/locks.go
//
// Per-resource advisory locks. Two plans that would write the same unit
// name, proxy config path, or port are serialized on those names; plans
// with disjoint resource sets run concurrently.

package plan

import (
	"context"
	"sort"
	"sync"

	cerr "github.com/cockroachdb/errors"
)

// LockRegistry serializes access to named host resources within this
// process. Advisory only: nothing on the host enforces it.
type LockRegistry struct {
	mu   sync.Mutex
	cond *sync.Cond
	held map[string]bool
}

var defaultRegistry = NewLockRegistry()

// DefaultRegistry is shared by every plan in the process.
func DefaultRegistry() *LockRegistry { return defaultRegistry }

func NewLockRegistry() *LockRegistry {
	r := &LockRegistry{held: make(map[string]bool)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Acquire blocks until every named resource is free, then claims them all.
// Resources are claimed in sorted order as one atomic set, so two plans
// with overlapping sets cannot deadlock. The returned release function must
// be called exactly once.
func (r *LockRegistry) Acquire(ctx context.Context, resources []string) (func(), error) {
	wanted := dedupeSorted(resources)
	if len(wanted) == 0 {
		return func() {}, nil
	}

	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	for !r.allFree(wanted) {
		if err := ctx.Err(); err != nil {
			return nil, cerr.Wrap(err, "waiting for resource locks")
		}
		r.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return nil, cerr.Wrap(err, "waiting for resource locks")
	}

	for _, res := range wanted {
		r.held[res] = true
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			for _, res := range wanted {
				delete(r.held, res)
			}
			r.cond.Broadcast()
			r.mu.Unlock()
		})
	}
	return release, nil
}

func (r *LockRegistry) allFree(resources []string) bool {
	for _, res := range resources {
		if r.held[res] {
			return false
		}
	}
	return true
}

func dedupeSorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	n := 0
	for i, s := range out {
		if i == 0 || s != out[i-1] {
			out[n] = s
			n++
		}
	}
	return out[:n]
}
