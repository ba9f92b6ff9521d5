// pkg/plan/locks_test.go

package plan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireDisjointResources(t *testing.T) {
	ctx := context.Background()
	r := NewLockRegistry()

	rel1, err := r.Acquire(ctx, []string{"demo.service", "port:8000"})
	require.NoError(t, err)
	defer rel1()

	// A plan for a different project proceeds immediately.
	rel2, err := r.Acquire(ctx, []string{"other.service", "port:9000"})
	require.NoError(t, err)
	rel2()
}

func TestAcquireSerializesOverlap(t *testing.T) {
	ctx := context.Background()
	r := NewLockRegistry()

	rel1, err := r.Acquire(ctx, []string{"demo.service"})
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		rel2, err := r.Acquire(ctx, []string{"demo.service", "port:8000"})
		if err == nil {
			rel2()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("overlapping acquire must block until release")
	case <-time.After(50 * time.Millisecond):
	}

	rel1()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not proceed after release")
	}
}

func TestAcquireHonorsCancellation(t *testing.T) {
	r := NewLockRegistry()

	rel, err := r.Acquire(context.Background(), []string{"demo.service"})
	require.NoError(t, err)
	defer rel()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = r.Acquire(ctx, []string{"demo.service"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := NewLockRegistry()

	rel, err := r.Acquire(ctx, []string{"demo.service"})
	require.NoError(t, err)
	rel()
	rel() // second call must not panic or double-release

	rel2, err := r.Acquire(ctx, []string{"demo.service"})
	require.NoError(t, err)
	rel2()
}

func TestAcquireEmptySet(t *testing.T) {
	r := NewLockRegistry()
	rel, err := r.Acquire(context.Background(), nil)
	require.NoError(t, err)
	rel()
}
