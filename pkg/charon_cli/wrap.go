// pkg/charon_cli/wrap.go

package charon_cli

import (
	"context"
	"time"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/charon_io"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/logger"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RuntimeContext re-exports the engine context so command files only
// import this package.
type RuntimeContext = charon_io.RuntimeContext

// Wrap turns an engine handler into a cobra RunE with panic recovery,
// tracing, and structured outcome logging.
func Wrap(fn func(rc *RuntimeContext, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		logger.InitFallback()

		rc := charon_io.NewContext(context.Background(), cmd.Name())
		defer rc.End(&err)

		defer func() {
			if r := recover(); r != nil {
				err = cerr.AssertionFailedf("panic: %v", r)
				rc.Log.Error("Panic recovered", zap.Any("panic", r))
			}
		}()

		return fn(rc, cmd, args)
	}
}

// WrapExtended is Wrap with an overall deadline. Deploy runs use it so a
// dead transport can never hang the CLI forever.
func WrapExtended(timeout time.Duration, fn func(rc *RuntimeContext, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		logger.InitFallback()

		rc := charon_io.NewExtendedContext(context.Background(), cmd.Name(), timeout)
		defer rc.End(&err)

		defer func() {
			if r := recover(); r != nil {
				err = cerr.AssertionFailedf("panic: %v", r)
				rc.Log.Error("Panic recovered", zap.Any("panic", r))
			}
		}()

		return fn(rc, cmd, args)
	}
}
