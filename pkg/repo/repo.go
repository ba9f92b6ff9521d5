// pkg/repo/repo.go
//
// Repository pre-checks run locally before the host is touched: an
// unreachable repoURL is a validation failure, not something to discover
// halfway through a deployment.

package repo

import (
	"context"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const listTimeout = 30 * time.Second

// CheckReachable lists the remote's refs without cloning. Empty
// repositories pass; unreachable or unauthorized ones fail.
func CheckReachable(ctx context.Context, repoURL string) error {
	logger := otelzap.Ctx(ctx)

	listCtx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	rem := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{repoURL},
	})
	refs, err := rem.ListContext(listCtx, &git.ListOptions{})
	if cerr.Is(err, transport.ErrEmptyRemoteRepository) {
		return nil
	}
	if err != nil {
		return cerr.Wrapf(err, "repository %s is not reachable", repoURL)
	}

	logger.Debug("Repository reachable",
		zap.String("url", repoURL),
		zap.Int("refs", len(refs)))
	return nil
}

// DefaultBranch reports the branch HEAD points at, falling back to main
// when the remote does not advertise a symbolic HEAD.
func DefaultBranch(ctx context.Context, repoURL string) (string, error) {
	listCtx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	rem := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{repoURL},
	})
	refs, err := rem.ListContext(listCtx, &git.ListOptions{})
	if cerr.Is(err, transport.ErrEmptyRemoteRepository) {
		return "main", nil
	}
	if err != nil {
		return "", cerr.Wrapf(err, "list refs for %s", repoURL)
	}

	for _, ref := range refs {
		if ref.Name() == plumbing.HEAD && ref.Type() == plumbing.SymbolicReference {
			return ref.Target().Short(), nil
		}
	}
	return "main", nil
}
