package commands

import (
	"github.com/spf13/cobra"
)

func newApplyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Converge the host",
		Long: `Plan and execute the operations needed to converge the host.

Independent operations run concurrently; an operation whose dependency
failed is skipped. Interrupting the command lets running operations finish
and skips the rest. The exit status is 0 when every resource converged,
1 when any operation failed and 130 when the run was cancelled.`,
		Example: `  # Converge the local host
  provisio apply -f stack.yaml

  # Converge a remote host, four operations at a time
  provisio apply -f stack.yaml --host deploy@10.0.0.5 --workers 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, s, err := a.open(cmd.Context(), "apply", true)
			if err != nil {
				return err
			}
			defer s.Close()

			plan, err := a.plan(ctx, s, !a.flags.json)
			if err != nil {
				return err
			}

			report, err := s.engine.Apply(ctx, plan)
			if err != nil {
				return err
			}
			if err := a.reporter().Report(report); err != nil {
				return err
			}
			return reportExit(report)
		},
	}
}
