/* cmd/rollback.go */

package cmd

import (
	"github.com/CodeMonkeyCybersecurity/charon/pkg/charon_cli"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/config"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/plan"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/project"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rollbackFlags targetFlags

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Undo the reversible steps of the project's last recorded run",
	Long: `Rollback reads the most recent audit record for the project and replays
the undo of every reversible step that run applied, in reverse order.
Non-reversible work (packages, checkout, certificates) stays in place.`,
	RunE: charon_cli.WrapExtended(deployTimeout, func(rc *charon_cli.RuntimeContext, cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(rc.Ctx)
		if err != nil {
			return err
		}
		d, err := project.Load(rc, rollbackFlags.descriptorPath)
		if err != nil {
			return err
		}

		auditDir := cfg.AuditDir
		if auditDir == "" {
			auditDir = plan.DefaultAuditDir()
		}
		record, err := plan.LoadLatestRecord(rc.Ctx, auditDir, d.Name)
		if err != nil {
			return err
		}
		rc.Log.Info("Rolling back run",
			zap.String("run_id", record.RunID),
			zap.String("state", string(record.State)),
			zap.Time("started_at", record.StartedAt))

		exec, err := buildExecutor(rc, cfg, &rollbackFlags)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := exec.Close(); closeErr != nil {
				rc.Log.Warn("Failed to close transport", zap.Error(closeErr))
			}
		}()

		deps, err := buildDeps(rc, cfg, exec, &rollbackFlags)
		if err != nil {
			return err
		}

		p := plan.New(d, deps, planOptions(cfg)...)
		return plan.ReplayRollback(rc.Ctx, record, p)
	}),
}

func init() {
	rollbackFlags.register(rollbackCmd)
}
