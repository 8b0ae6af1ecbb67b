package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/provisio/provisio/pkg/watch"
)

func newWatchCommand(a *app) *cobra.Command {
	var (
		apply    bool
		debounce = watch.DefaultDebounce
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-plan whenever the manifest or policies change",
		Long: `Plan once, then plan again every time the manifest or a file in
--policy-dir changes. With --apply each change is applied instead. Failures
are logged and watching continues until interrupted.`,
		Example: `  provisio watch -f stack.yaml
  provisio watch -f stack.yaml --policy-dir ./policies --apply`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := a.telemetry.Logger.Component("watch")

			cycle := func(ctx context.Context) {
				if err := a.converge(ctx, apply); err != nil {
					logger.Error().Err(err).Int("exit_code", ExitCode(err)).Msg("Cycle failed")
				}
			}
			cycle(ctx)

			paths := []string{a.flags.manifest}
			if a.settings.PolicyDir != "" {
				paths = append(paths, a.settings.PolicyDir)
			}
			return watch.New(logger, debounce).Run(ctx, paths, cycle)
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "apply changes instead of only planning")
	cmd.Flags().DurationVar(&debounce, "debounce", debounce, "quiet period before reacting to changes")
	return cmd
}

// converge runs one plan or apply cycle with a fresh session so manifest
// and policy edits take effect.
func (a *app) converge(ctx context.Context, apply bool) error {
	ctx, s, err := a.open(ctx, "watch", apply)
	if err != nil {
		return err
	}
	defer s.Close()

	plan, err := a.plan(ctx, s, true)
	if err != nil || !apply || plan.IsEmpty() {
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
}
