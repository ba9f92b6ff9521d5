/* cmd/deploy.go */

package cmd

import (
	"github.com/CodeMonkeyCybersecurity/charon/pkg/charon_cli"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/config"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/plan"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/project"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var deployFlags targetFlags

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Validate and execute the deployment plan for a project",
	Long: `Deploy expands the descriptor into the ordered step DAG, validates it,
and applies each step idempotently against the target. Steps whose state
already holds are skipped; on the first failure, reversible steps are
undone in reverse order.`,
	RunE: charon_cli.WrapExtended(deployTimeout, func(rc *charon_cli.RuntimeContext, cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(rc.Ctx)
		if err != nil {
			return err
		}
		d, err := project.Load(rc, deployFlags.descriptorPath)
		if err != nil {
			return err
		}

		exec, err := buildExecutor(rc, cfg, &deployFlags)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := exec.Close(); closeErr != nil {
				rc.Log.Warn("Failed to close transport", zap.Error(closeErr))
			}
		}()

		deps, err := buildDeps(rc, cfg, exec, &deployFlags)
		if err != nil {
			return err
		}

		p := plan.New(d, deps, planOptions(cfg)...)
		rc.Log.Info("Deployment run starting",
			zap.String("run_id", p.RunID),
			zap.String("project", d.Name),
			zap.String("domain", d.Domain))

		if err := p.Validate(rc.Ctx); err != nil {
			return err
		}
		return p.Execute(rc.Ctx)
	}),
}

func init() {
	deployFlags.register(deployCmd)
}
