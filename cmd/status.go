/* cmd/status.go */

package cmd

import (
	"time"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/charon_cli"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/config"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/hoststate"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/nginx"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/plan"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/project"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var statusFlags targetFlags

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe the target and reconcile the project's service state",
	Long: `Status re-probes the host exactly the way a deployment run would and
reports each managed artifact. A failed service unit is restarted as part
of reconciliation.`,
	RunE: charon_cli.Wrap(func(rc *charon_cli.RuntimeContext, cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(rc.Ctx)
		if err != nil {
			return err
		}
		d, err := project.Load(rc, statusFlags.descriptorPath)
		if err != nil {
			return err
		}

		exec, err := buildExecutor(rc, cfg, &statusFlags)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := exec.Close(); closeErr != nil {
				rc.Log.Warn("Failed to close transport", zap.Error(closeErr))
			}
		}()

		deps, err := buildDeps(rc, cfg, exec, &statusFlags)
		if err != nil {
			return err
		}

		snap, err := hoststate.Probe(rc.Ctx, exec, plan.ProbeSpecFor(d))
		if err != nil {
			return err
		}

		serviceStatus, err := deps.Units.Reconcile(rc.Ctx, d)
		if err != nil {
			rc.Log.Warn("Service reconciliation failed", zap.Error(err))
			serviceStatus = "failed"
		}

		proxyPath := nginx.ConfigPath(d)
		proxyState := "absent"
		if snap.ProxyFiles[proxyPath] {
			proxyState = "http-only"
			if snap.ProxyTLS[proxyPath] {
				proxyState = "tls"
			}
		}

		certState := "absent"
		if snap.Certificates[d.Domain] {
			certState = "present"
			if remaining, err := deps.Certs.RemainingValidity(rc.Ctx, d.Domain); err == nil {
				certState = "valid for " + remaining.Truncate(24*time.Hour).String()
			}
		}

		dbState := "absent"
		if c := snap.Containers[d.DBContainerName()]; c.Running {
			dbState = "running"
		} else if c.Exists {
			dbState = "stopped"
		}

		cmd.Printf("Project %s (%s)\n", d.Name, d.Domain)
		cmd.Printf("  service     %s\n", serviceStatus)
		cmd.Printf("  database    %s\n", dbState)
		cmd.Printf("  proxy       %s\n", proxyState)
		cmd.Printf("  certificate %s\n", certState)
		cmd.Printf("  checkout    %v\n", snap.Paths[d.AppDir()])
		return nil
	}),
}

func init() {
	statusFlags.register(statusCmd)
}
