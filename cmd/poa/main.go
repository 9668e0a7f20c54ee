package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/evanschultz/poa/internal/adapters/settlement"
	"github.com/evanschultz/poa/internal/adapters/storage/sqlite"
	"github.com/evanschultz/poa/internal/adapters/wallet"
	"github.com/evanschultz/poa/internal/app"
	"github.com/evanschultz/poa/internal/config"
	"github.com/evanschultz/poa/internal/platform"
)

// version stores a package-level helper value.
var version = "dev"

// program represents program data used by this package.
type program interface {
	Run() (tea.Model, error)
}

// programFactory stores a package-level helper value.
var programFactory = func(m tea.Model) program {
	return tea.NewProgram(m)
}

// main handles main.
func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	dbPath     string
	appName    string
	devMode    bool

	stdout io.Writer
	stderr io.Writer
}

// run runs the requested command flow.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	return fang.Execute(ctx, root, fang.WithVersion(version))
}

// newRootCommand builds the command tree.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	defaultDevMode := version == "dev"
	if envDev, ok := parseBoolEnv("POA_DEV_MODE"); ok {
		defaultDevMode = envDev
	}
	appName := platform.DefaultAppName
	if envApp := strings.TrimSpace(os.Getenv("POA_APP_NAME")); envApp != "" {
		appName = envApp
	}

	root := &cobra.Command{
		Use:   "poa",
		Short: "Proof of Absence: deadline-bound group approvals",
		Long: `Proof of Absence collects approvals from a fixed set of actors before a deadline.
A request is fulfilled once enough actors approve and failed when the deadline
passes without them. Every finalization is sealed with a settlement id.

Run without a command to open the dashboard.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDashboard(cmd.Context(), opts)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config TOML")
	flags.StringVar(&opts.dbPath, "db", "", "path to sqlite database")
	flags.StringVar(&opts.appName, "app", appName, "application name for config/data path resolution")
	flags.BoolVar(&opts.devMode, "dev", defaultDevMode, "use dev mode paths (<app>-dev)")

	root.AddCommand(
		newServeCommand(opts),
		newCreateCommand(opts),
		newApproveCommand(opts),
		newShowCommand(opts),
		newListCommand(opts),
		newStatsCommand(opts),
		newSweepCommand(opts),
		newDemoCommand(opts),
		newConnectCommand(opts),
		newDisconnectCommand(opts),
		newWhoamiCommand(opts),
		newPathsCommand(opts),
		newVersionCommand(opts),
	)
	return root
}

// resolvedPaths holds the config and database locations for one run.
type resolvedPaths struct {
	platform     platform.Paths
	configPath   string
	dbPath       string
	dbOverridden bool
}

// resolvePaths applies flag, env, then platform defaults.
func resolvePaths(opts *rootOptions) (resolvedPaths, error) {
	paths, err := platform.DefaultPathsWithOptions(platform.Options{
		AppName: opts.appName,
		DevMode: opts.devMode,
	})
	if err != nil {
		return resolvedPaths{}, err
	}
	out := resolvedPaths{platform: paths, configPath: opts.configPath, dbPath: opts.dbPath}
	out.dbOverridden = strings.TrimSpace(out.dbPath) != ""
	if out.configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("POA_CONFIG")); envPath != "" {
			out.configPath = envPath
		} else {
			out.configPath = paths.ConfigPath
		}
	}
	if !out.dbOverridden {
		if envPath := strings.TrimSpace(os.Getenv("POA_DB_PATH")); envPath != "" {
			out.dbPath = envPath
			out.dbOverridden = true
		} else {
			out.dbPath = paths.DBPath
		}
	}
	return out, nil
}

// runtimeEnv bundles the collaborators one command needs.
type runtimeEnv struct {
	paths  resolvedPaths
	cfg    config.Config
	logger *runtimeLogger
	repo   *sqlite.Repository
	engine *app.Engine
	wallet *wallet.Wallet
}

// runtimeOptions tweaks runtime construction per command.
type runtimeOptions struct {
	console  bool
	command  string
	observer app.SweepObserver
}

// openRuntime loads config, opens storage and hydrates the engine.
func openRuntime(ctx context.Context, opts *rootOptions, ro runtimeOptions) (*runtimeEnv, error) {
	paths, err := resolvePaths(opts)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.configPath, config.Default(paths.dbPath))
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", paths.configPath, err)
	}
	if paths.dbOverridden {
		cfg.Database.Path = paths.dbPath
	}

	logger, err := newRuntimeLogger(opts.stderr, opts.appName, opts.devMode, cfg.Logging, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	// The dashboard owns the terminal; runtime logs stay in the dev-file sink.
	logger.SetConsoleEnabled(ro.console)

	env := &runtimeEnv{paths: paths, cfg: cfg, logger: logger}
	logger.Info("startup configuration resolved", "app", opts.appName, "dev_mode", opts.devMode, "command", ro.command)
	logger.Debug("runtime paths resolved", "config_path", paths.configPath, "data_dir", paths.platform.DataDir, "db_path", cfg.Database.Path)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}

	logger.Info("opening sqlite repository", "db_path", cfg.Database.Path)
	repo, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("sqlite open failed", "db_path", cfg.Database.Path, "err", err)
		_ = env.Close()
		return nil, fmt.Errorf("open sqlite repository: %w", err)
	}
	env.repo = repo

	env.engine = app.NewEngine(repo, app.NewRequestID, time.Now, app.EngineConfig{
		SweepInterval:       cfg.Engine.SweepInterval.Duration,
		ConfirmationTimeout: cfg.Engine.ConfirmationTimeout.Duration,
		Confirmer:           settlement.SimulatedConfirmer{Delay: cfg.Engine.ConfirmationDelay.Duration},
		Sealer:              settlement.HashChain{},
		Observer:            ro.observer,
		Logger:              logger,
	})
	if err := env.engine.Load(ctx); err != nil {
		logger.Error("engine load failed", "err", err)
		_ = env.Close()
		return nil, fmt.Errorf("load requests: %w", err)
	}

	env.wallet = wallet.New(cfg.Identity.Address, cfg.Identity.Network, config.IdentityFile(paths.configPath), wallet.Config{
		Delay: cfg.Wallet.ConnectDelay.Duration,
	})
	logger.Debug("engine ready", "sweep_interval", cfg.Engine.SweepInterval.Duration, "identity", cfg.Identity.Address)
	return env, nil
}

// Close stops the engine and releases storage and log sinks.
func (env *runtimeEnv) Close() error {
	if env == nil {
		return nil
	}
	if env.engine != nil {
		_ = env.engine.Close()
	}
	if env.repo != nil {
		if err := env.repo.Close(); err != nil {
			env.logger.Warn("sqlite close failed", "db_path", env.cfg.Database.Path, "err", err)
		}
	}
	if err := env.logger.Close(); err != nil && env.logger.shouldLogToSink(env.logger.consoleSink) {
		_, _ = fmt.Fprintf(env.logger.consoleWriter, "warning: close runtime log sink: %v\n", err)
	}
	return nil
}

// withRuntime opens the runtime for one command and closes it afterwards.
func withRuntime(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *runtimeEnv) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	env, err := openRuntime(ctx, opts, runtimeOptions{console: true, command: cmd.Name()})
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	env.logger.Info("command flow start", "command", cmd.Name())
	ctx = app.WithMutationSource(ctx, app.MutationSource{Channel: app.ChannelCLI, Caller: env.wallet.Current().Address})
	if err := fn(ctx, env); err != nil {
		env.logger.Error("command flow failed", "command", cmd.Name(), "err", err)
		return err
	}
	env.logger.Info("command flow complete", "command", cmd.Name())
	return nil
}

// parseBoolEnv parses input into a normalized form.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
