package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if a.flags.json {
				return a.reporter().JSON(map[string]string{
					"version":    a.info.Version,
					"commit":     a.info.Commit,
					"build_date": a.info.BuildDate,
					"go":         runtime.Version(),
				})
			}
			_, err := fmt.Fprintf(a.stdout, "provisio %s (commit %s, built %s, %s)\n",
				a.info.Version, a.info.Commit, a.info.BuildDate, runtime.Version())
			return err
		},
	}
}
