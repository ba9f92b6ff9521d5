/* cmd/plan.go */

package cmd

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/charon/pkg/charon_cli"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/config"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/plan"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/project"
	"github.com/CodeMonkeyCybersecurity/charon/pkg/remote"
	"github.com/spf13/cobra"
)

var planFlags targetFlags

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Validate the descriptor and print the ordered steps without executing",
	RunE: charon_cli.Wrap(func(rc *charon_cli.RuntimeContext, cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(rc.Ctx)
		if err != nil {
			return err
		}
		d, err := project.Load(rc, planFlags.descriptorPath)
		if err != nil {
			return err
		}

		// Dry run: nothing is executed, so no transport is opened.
		deps, err := buildDeps(rc, cfg, remote.NewLocalExecutor(false), &planFlags)
		if err != nil {
			return err
		}

		p := plan.New(d, deps, planOptions(cfg)...)
		if err := p.Validate(rc.Ctx); err != nil {
			return err
		}

		cmd.Printf("Plan %s for project %q (%d steps):\n", p.RunID, d.Name, len(p.Steps))
		for i, s := range p.Steps {
			marker := " "
			if s.Reversible {
				marker = "R"
			}
			cmd.Printf("  %2d. [%s] %-16s %s\n", i+1, marker, s.ID, s.Description)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Reversible steps (R) are undone automatically on failure.")
		return nil
	}),
}

func init() {
	planFlags.register(planCmd)
}
