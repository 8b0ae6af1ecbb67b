package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/provisio/provisio/pkg/engine"
	"github.com/provisio/provisio/pkg/providers"
)

func newValidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the manifest and policies",
		Long: `Validate the manifest, the resources derived from it and any policies in
--policy-dir without contacting the host.`,
		Example: `  provisio validate -f stack.yaml
  provisio validate -f stack.cue --policy-dir ./policies`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, resources, err := a.loadManifest()
			if err != nil {
				return err
			}

			// Validation never touches the host, so handlers get no runner.
			eng := engine.New(providers.Default(nil, a.logger), nil, engine.WithLogger(a.logger))
			if err := eng.Validate(resources); err != nil {
				return err
			}
			if _, err := a.policies(cmd.Context()); err != nil {
				return err
			}

			if a.flags.json {
				return a.reporter().JSON(map[string]any{
					"valid":     true,
					"project":   m.Project,
					"resources": len(resources),
				})
			}
			_, err = fmt.Fprintf(a.stdout, "Manifest %s is valid: project %s, %d resources.\n",
				a.flags.manifest, m.Project, len(resources))
			return err
		},
	}
}
