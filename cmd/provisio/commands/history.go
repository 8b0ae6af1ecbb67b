package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/provisio/provisio/pkg/engine"
	"github.com/provisio/provisio/pkg/stores"
)

func newHistoryCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List journaled runs",
		Long: `List the most recent apply runs recorded in the journal, or show every
resource outcome of one run.`,
		Example: `  provisio history
  provisio history --limit 5 --json
  provisio history 3f1c9a2e-7d44-4c55-9a53-1f0c2b7e8d10`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := stores.Open(ctx, stores.Config{Path: a.settings.HistoryPath},
				a.telemetry.Logger.Component("journal"))
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				run, err := store.GetRun(ctx, args[0])
				if errors.Is(err, stores.ErrRunNotFound) {
					return engine.NewValidationError("unknown run", err)
				}
				if err != nil {
					return err
				}
				return a.reporter().Run(run)
			}

			runs, err := store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			return a.reporter().History(runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", stores.DefaultListLimit, "number of runs to list")
	return cmd
}
