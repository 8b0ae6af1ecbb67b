package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// VersionInfo describes the build.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, info VersionInfo) int {
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr, info, nil)
}

// run executes args against a fresh command tree. newRunner replaces the
// host runner when non-nil.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, info VersionInfo, newRunner runnerFactory) int {
	a := newApp(info, stdout, stderr)
	if newRunner != nil {
		a.newRunner = newRunner
	}

	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if shutdownErr := a.shutdown(); shutdownErr != nil {
		a.logger.Warn().Err(shutdownErr).Msg("Telemetry shutdown failed")
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return ExitCode(err)
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "provisio",
		Short: "Provisio - declarative host provisioning",
		Long: `Provisio converges a host to a declared application stack: system packages,
a TLS certificate, rendered configuration files, the application image and a
docker compose topology (database, app, nginx proxy, prometheus, grafana).

Every run reads the host, computes a plan of create, update and restart
operations and, for apply, executes it in dependency order. Running apply on
a converged host changes nothing.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", a.info.Version, a.info.Commit, a.info.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	f := rootCmd.PersistentFlags()
	f.StringVarP(&a.flags.manifest, "file", "f", "stack.yaml", "manifest file (.yaml, .json or .cue)")
	f.StringArrayVar(&a.flags.overrides, "set", nil, "override a manifest context option (key=value, repeatable)")
	f.StringVarP(&a.flags.configFile, "config", "c", "", "settings file (default ./provisio.yaml)")
	f.BoolVar(&a.flags.json, "json", false, "output in JSON format")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	f.String("log-format", "console", "log format (console, json)")
	f.String("host", "", "provision a remote host over SSH (user@host[:port])")
	f.String("ssh-key", "", "private key for --host (default: ssh agent or ~/.ssh/id_*)")
	f.String("known-hosts", "", "known_hosts file for --host (default ~/.ssh/known_hosts)")
	f.Int("workers", 4, "number of operations applied concurrently")
	f.String("policy-dir", "", "directory of extra .rego policies")
	f.String("metrics-file", "", "write Prometheus metrics to this textfile on exit")
	f.Bool("no-history", false, "do not record runs in the journal")

	for key, flag := range map[string]string{
		"logging.level":    "log-level",
		"logging.format":   "log-format",
		"ssh.host":         "host",
		"ssh.key_file":     "ssh-key",
		"ssh.known_hosts":  "known-hosts",
		"workers":          "workers",
		"policy_dir":       "policy-dir",
		"metrics.textfile": "metrics-file",
		"no_history":       "no-history",
	} {
		if err := a.viper.BindPFlag(key, f.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(newPlanCommand(a))
	rootCmd.AddCommand(newApplyCommand(a))
	rootCmd.AddCommand(newValidateCommand(a))
	rootCmd.AddCommand(newRenderCommand(a))
	rootCmd.AddCommand(newWatchCommand(a))
	rootCmd.AddCommand(newHistoryCommand(a))
	rootCmd.AddCommand(newVersionCommand(a))

	return rootCmd
}
