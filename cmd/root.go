/* cmd/root.go */

package cmd

import (
	"fmt"
	"os"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/charon_cli"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/charon_err"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootCmd is the base command for charon.
var RootCmd = &cobra.Command{
	Use:   "charon",
	Short: "Charon deploys web services behind nginx with TLS, idempotently",
	Long: `Charon turns a project descriptor into an ordered, idempotent deployment
plan against a target host: packages, docker, database container, service
unit, reverse proxy, and certificate. Re-running a plan on an unchanged
host is a no-op; a failed run rolls its reversible steps back.`,
	RunE: charon_cli.Wrap(func(rc *charon_cli.RuntimeContext, cmd *cobra.Command, args []string) error {
		return cmd.Help()
	}),
}

// RegisterCommands adds all subcommands to the root command.
func RegisterCommands() {
	for _, subCmd := range []*cobra.Command{
		deployCmd,
		planCmd,
		statusCmd,
		rollbackCmd,
	} {
		RootCmd.AddCommand(subCmd)
	}
}

// Execute runs the CLI and exits with the engine's exit-code contract:
// 0 success, 1 validation or precondition stop, 2 rolled back, 3 rollback
// failed.
func Execute() {
	defer logger.Sync()

	RegisterCommands()

	if err := RootCmd.Execute(); err != nil {
		code := charon_err.ExitCode(err)
		logger.L().Error("charon exiting with error",
			zap.Int("exit_code", code),
			zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(code)
	}
}
