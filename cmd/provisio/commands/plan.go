package commands

import (
	"io"

	"github.com/spf13/cobra"
)

func newPlanCommand(a *app) *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what apply would change",
		Long: `Read the host and print the operations needed to converge it.

Nothing is changed. The exit status is 0 when a plan was computed, 2 when
the host could not be read and 1 when the manifest is invalid or a policy
denies the plan.`,
		Example: `  # Plan the local host
  provisio plan -f stack.yaml

  # Plan a remote host with a different server address
  provisio plan -f stack.yaml --host deploy@10.0.0.5 --set serverIP=10.0.0.5

  # Draw the operation graph
  provisio plan -f stack.yaml --dot | dot -Tsvg > plan.svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, s, err := a.open(cmd.Context(), "plan", false)
			if err != nil {
				return err
			}
			defer s.Close()

			if !dot {
				_, err = a.plan(ctx, s, true)
				return err
			}

			plan, err := a.plan(ctx, s, false)
			if plan != nil {
				graph, derr := plan.DOT()
				if derr != nil {
					return derr
				}
				if _, werr := io.WriteString(a.stdout, graph); werr != nil {
					return werr
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "print the operation graph in Graphviz DOT format")
	return cmd
}
