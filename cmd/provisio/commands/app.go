package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"

	"github.com/provisio/provisio/pkg/config"
	"github.com/provisio/provisio/pkg/engine"
	"github.com/provisio/provisio/pkg/policy"
	"github.com/provisio/provisio/pkg/providers"
	"github.com/provisio/provisio/pkg/reporting"
	"github.com/provisio/provisio/pkg/stack"
	"github.com/provisio/provisio/pkg/stores"
	"github.com/provisio/provisio/pkg/telemetry"
	"github.com/provisio/provisio/pkg/transports"
	"github.com/provisio/provisio/pkg/transports/ssh"
)

type runnerFactory func(ctx context.Context, a *app) (transports.Runner, error)

type globalFlags struct {
	manifest   string
	overrides  []string
	configFile string
	json       bool
}

// app holds what every command shares: settings, telemetry and output.
type app struct {
	info      VersionInfo
	flags     globalFlags
	viper     *viper.Viper
	stdout    io.Writer
	stderr    io.Writer
	newRunner runnerFactory

	settings  *config.Settings
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
}

func newApp(info VersionInfo, stdout, stderr io.Writer) *app {
	return &app{
		info:      info,
		viper:     viper.New(),
		stdout:    stdout,
		stderr:    stderr,
		newRunner: defaultRunner,
		logger:    zerolog.New(stderr).With().Timestamp().Logger(),
	}
}

// setup loads settings and starts telemetry before any command runs.
func (a *app) setup(_ *cobra.Command) error {
	settings, err := config.LoadSettings(a.viper, a.flags.configFile)
	if err != nil {
		return err
	}

	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = a.info.Version
	cfg.Logging = settings.Logging
	cfg.Tracing = settings.Tracing
	cfg.Metrics = settings.Metrics

	tel, err := telemetry.New(cfg)
	if err != nil {
		return engine.NewValidationError("invalid telemetry settings", err)
	}

	a.settings = settings
	a.telemetry = tel
	a.logger = tel.Logger.Zerolog()
	return nil
}

func (a *app) shutdown() error {
	if a.telemetry == nil {
		return nil
	}
	return a.telemetry.Shutdown(context.Background())
}

func (a *app) reporter() *reporting.Reporter {
	return reporting.New(a.stdout, reporting.Options{JSON: a.flags.json, NoColor: color.NoColor})
}

// loadManifest reads the manifest and builds the desired resources.
func (a *app) loadManifest() (*config.Manifest, []engine.Resource, error) {
	m, err := config.NewLoader().Load(a.flags.manifest, a.flags.overrides...)
	if err != nil {
		return nil, nil, err
	}
	resources, err := stack.Build(*m)
	if err != nil {
		return nil, nil, err
	}
	return m, resources, nil
}

// defaultRunner returns the local runner, or an SSH client when a host is
// configured.
func defaultRunner(ctx context.Context, a *app) (transports.Runner, error) {
	s := a.settings.SSH
	if s.Host == "" {
		return transports.NewLocal(a.telemetry.Logger.Component("local_runner")), nil
	}

	cfg, err := ssh.ParseTarget(s.Host)
	if err != nil {
		return nil, engine.NewValidationError("invalid --host", err)
	}
	switch {
	case s.KeyFile != "":
		cfg.PrivateKeyPath = s.KeyFile
	case os.Getenv("SSH_AUTH_SOCK") != "":
		cfg.AuthMethod = ssh.AuthMethodAgent
	}
	if s.KnownHosts != "" {
		cfg.KnownHostsPath = s.KnownHosts
	}
	if s.Timeout > 0 {
		cfg.ConnectionTimeout = s.Timeout
	}
	cfg.Sudo = s.Sudo

	client, err := ssh.NewClient(cfg, a.logger)
	if err != nil {
		return nil, engine.NewValidationError("invalid ssh settings", err)
	}
	// An unreachable host cannot be read; fail once instead of per probe.
	if err := client.Connect(ctx); err != nil {
		return nil, engine.NewProbeError("cannot reach host", err).WithDetail("host", s.Host)
	}
	return client, nil
}

// policies compiles the built-in policies and those in the policy dir.
func (a *app) policies(ctx context.Context) (*policy.Engine, error) {
	logger := a.telemetry.Logger.Component("policy")
	pe, err := policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	if a.settings.PolicyDir == "" {
		return pe, nil
	}
	extra, err := policy.LoadDir(a.settings.PolicyDir)
	if err != nil {
		return nil, engine.NewValidationError("failed to load policies", err)
	}
	if err := pe.Load(ctx, extra...); err != nil {
		return nil, err
	}
	return pe, nil
}

// journal opens the run journal. A journal that cannot be opened is
// logged and skipped; it never blocks a run.
func (a *app) journal(ctx context.Context, target, project string) *stores.SQLiteStore {
	if a.settings.NoHistory {
		return nil
	}
	store, err := stores.Open(ctx, stores.Config{
		Path:    a.settings.HistoryPath,
		Target:  target,
		Project: project,
	}, a.telemetry.Logger.Component("journal"))
	if err != nil {
		a.logger.Warn().Err(err).Str("path", a.settings.HistoryPath).Msg("Run journal unavailable")
		return nil
	}
	return store
}

// session is everything one plan or apply needs.
type session struct {
	manifest  *config.Manifest
	resources []engine.Resource
	engine    *engine.Engine
	runner    transports.Runner
	journal   *stores.SQLiteStore
	span      trace.Span
}

func (s *session) Close() error {
	if s.span != nil {
		s.span.End()
	}
	var errs []error
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
	}
	if s.runner != nil {
		errs = append(errs, s.runner.Close())
	}
	return errors.Join(errs...)
}

// open loads the manifest and wires the engine against the target host.
// The returned context carries the command span that engine spans nest under.
func (a *app) open(ctx context.Context, command string, withJournal bool) (context.Context, *session, error) {
	m, resources, err := a.loadManifest()
	if err != nil {
		return ctx, nil, err
	}

	pe, err := a.policies(ctx)
	if err != nil {
		return ctx, nil, err
	}

	runner, err := a.newRunner(ctx, a)
	if err != nil {
		return ctx, nil, err
	}
	s := &session{manifest: m, resources: resources, runner: runner}
	ctx, s.span = a.telemetry.Tracer.StartCommand(ctx, command, runner.String(), m.Project)

	opts := []engine.Option{
		engine.WithLogger(a.telemetry.Logger.Component("engine")),
		engine.WithMetrics(a.telemetry.Metrics),
		engine.WithTracer(a.telemetry.Tracer.Tracer()),
		engine.WithWorkers(a.settings.Workers),
		engine.WithProbeConcurrency(a.settings.ProbeConcurrency),
		engine.WithPlanGate(pe.Gate(policy.Scope{
			Project:      m.Project,
			Root:         m.Root,
			ExposedPorts: m.Context.ExposedPorts,
		})),
	}
	if withJournal {
		if s.journal = a.journal(ctx, runner.String(), m.Project); s.journal != nil {
			opts = append(opts, engine.WithRunRecorder(s.journal))
		}
	}

	registry := providers.Default(runner, a.telemetry.Logger.Component("providers"))
	planner := engine.NewPlanner(engine.WithRetryPolicy(a.settings.Retry.Policy()))
	s.engine = engine.New(registry, planner, opts...)

	a.logger.Debug().
		Str("manifest", filepath.Clean(a.flags.manifest)).
		Str("target", runner.String()).
		Int("resources", len(resources)).
		Str("trace_id", telemetry.TraceID(ctx)).
		Msg("Session opened")
	return ctx, s, nil
}

// plan computes and optionally prints the plan. A plan denied by policy is
// still printed before the error is returned.
func (a *app) plan(ctx context.Context, s *session, show bool) (*engine.Plan, error) {
	plan, err := s.engine.Plan(ctx, s.resources)
	if plan != nil && show {
		if rerr := a.reporter().Plan(plan); rerr != nil {
			return nil, fmt.Errorf("failed to print plan: %w", rerr)
		}
	}
	return plan, err
}
