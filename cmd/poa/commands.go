package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/evanschultz/poa/internal/adapters/metrics"
	serveradapter "github.com/evanschultz/poa/internal/adapters/server"
	servercommon "github.com/evanschultz/poa/internal/adapters/server/common"
	"github.com/evanschultz/poa/internal/adapters/wallet"
	"github.com/evanschultz/poa/internal/app"
	"github.com/evanschultz/poa/internal/domain"
	"github.com/evanschultz/poa/internal/tui"
)

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

// runDashboard opens the terminal dashboard.
func runDashboard(ctx context.Context, opts *rootOptions) error {
	env, err := openRuntime(ctx, opts, runtimeOptions{console: false, command: "tui"})
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	env.engine.Start(ctx)

	m := tui.NewModel(env.engine, tui.WithWallet(env.wallet))
	env.logger.Info("starting tui program loop")
	if _, err := programFactory(m).Run(); err != nil {
		env.logger.Error("tui program terminated with error", "err", err)
		return fmt.Errorf("run tui program: %w", err)
	}
	env.logger.Info("command flow complete", "command", "tui")
	return nil
}

// summaryFunc adapts a function to metrics.SummarySource.
type summaryFunc func(context.Context) (domain.Summary, error)

// Summary reports the current analytics.
func (f summaryFunc) Summary(ctx context.Context) (domain.Summary, error) {
	return f(ctx)
}

// newServeCommand builds the serve command.
func newServeCommand(opts *rootOptions) *cobra.Command {
	var bind, apiEndpoint, mcpEndpoint string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API, change stream, MCP tools and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var env *runtimeEnv
			collector := metrics.New(summaryFunc(func(ctx context.Context) (domain.Summary, error) {
				return env.engine.Summary(ctx)
			}))
			env, err := openRuntime(ctx, opts, runtimeOptions{console: true, command: "serve", observer: collector})
			if err != nil {
				return err
			}
			defer func() { _ = env.Close() }()

			events, unsubscribe := env.engine.Subscribe(0)
			defer unsubscribe()
			go collector.Consume(ctx, events)
			env.engine.Start(ctx)

			cfg := serveradapter.Config{
				HTTPBind:      firstNonEmpty(bind, env.cfg.Server.HTTPBind),
				APIEndpoint:   firstNonEmpty(apiEndpoint, env.cfg.Server.APIEndpoint),
				MCPEndpoint:   firstNonEmpty(mcpEndpoint, env.cfg.Server.MCPEndpoint),
				ServerName:    opts.appName,
				ServerVersion: version,
			}
			env.logger.Info("command flow start", "command", "serve", "http_bind", cfg.HTTPBind, "api_endpoint", cfg.APIEndpoint, "mcp_endpoint", cfg.MCPEndpoint)
			err = serveCommandRunner(ctx, cfg, serveradapter.Dependencies{
				Service:   env.engine,
				Metrics:   collector,
				Readiness: env.repo,
			})
			if err != nil {
				env.logger.Error("command flow failed", "command", "serve", "err", err)
				return fmt.Errorf("run serve command: %w", err)
			}
			env.logger.Info("command flow complete", "command", "serve")
			return nil
		},
	}
	cmd.Flags().StringVar(&bind, "http", "", "listen address (overrides server.http_bind)")
	cmd.Flags().StringVar(&apiEndpoint, "api-endpoint", "", "REST API base path (overrides server.api_endpoint)")
	cmd.Flags().StringVar(&mcpEndpoint, "mcp-endpoint", "", "MCP endpoint path (overrides server.mcp_endpoint)")
	return cmd
}

// requestFile is the YAML shape accepted by create --file.
type requestFile struct {
	Title            string         `yaml:"title"`
	Description      string         `yaml:"description"`
	Deadline         string         `yaml:"deadline"`
	DeadlineIn       string         `yaml:"deadline_in"`
	MinimumApprovals int            `yaml:"minimum_approvals"`
	Actors           []requestActor `yaml:"actors"`
}

// requestActor is one actor entry in a request file.
type requestActor struct {
	Address string `yaml:"address"`
	Label   string `yaml:"label"`
}

// readRequestFile decodes one request definition.
func readRequestFile(path string) (requestFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return requestFile{}, fmt.Errorf("read request file: %w", err)
	}
	var out requestFile
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return requestFile{}, fmt.Errorf("decode request file: %w", err)
	}
	return out, nil
}

// newCreateCommand builds the create command.
func newCreateCommand(opts *rootOptions) *cobra.Command {
	var (
		file       string
		in         requestFile
		actorFlags []string
		as         string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an accountability request",
		Example: `  poa create --title "Ship release" --description "Sign off v2" \
    --actor addr_a=Alice --actor addr_b=Bob --min 2 --in 48h
  poa create --file request.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file != "" {
				if cmd.Flags().Changed("title") || cmd.Flags().Changed("actor") {
					return errors.New("use --file or request flags, not both")
				}
				loaded, err := readRequestFile(file)
				if err != nil {
					return err
				}
				in = loaded
			} else {
				for _, raw := range actorFlags {
					addr, label, _ := strings.Cut(raw, "=")
					in.Actors = append(in.Actors, requestActor{Address: addr, Label: label})
				}
			}
			return withRuntime(cmd, opts, func(ctx context.Context, env *runtimeEnv) error {
				creator, err := actingAddress(env.wallet, as)
				if err != nil {
					return err
				}
				deadline, err := servercommon.ResolveDeadline(in.Deadline, in.DeadlineIn, time.Now())
				if err != nil {
					return err
				}
				input := app.CreateRequestInput{
					Title:            in.Title,
					Description:      in.Description,
					Deadline:         deadline,
					MinimumApprovals: in.MinimumApprovals,
					CreatedBy:        creator,
				}
				for _, a := range in.Actors {
					input.Actors = append(input.Actors, domain.ActorInput{Address: a.Address, Label: a.Label})
				}
				ctx = app.WithMutationSource(ctx, app.MutationSource{Channel: app.ChannelCLI, Caller: creator})
				req, err := env.engine.Create(ctx, input)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", req.ID)
				return writeRequest(cmd.OutOrStdout(), req, time.Now())
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&file, "file", "f", "", "YAML request definition")
	flags.StringVar(&in.Title, "title", "", "request title")
	flags.StringVar(&in.Description, "description", "", "request description (markdown)")
	flags.StringArrayVar(&actorFlags, "actor", nil, "actor address, optionally address=Label (repeatable)")
	flags.StringVar(&in.Deadline, "deadline", "", "absolute deadline (RFC3339)")
	flags.StringVar(&in.DeadlineIn, "in", "", "deadline relative to now, e.g. 48h")
	flags.IntVar(&in.MinimumApprovals, "min", 1, "minimum approvals required")
	flags.StringVar(&as, "as", "", "creator address (defaults to the connected wallet)")
	return cmd
}

// newApproveCommand builds the approve command.
func newApproveCommand(opts *rootOptions) *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a request as an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, env *runtimeEnv) error {
				address, err := actingAddress(env.wallet, as)
				if err != nil {
					return err
				}
				ctx = app.WithMutationSource(ctx, app.MutationSource{Channel: app.ChannelCLI, Caller: address})
				req, err := env.engine.Approve(ctx, args[0], address)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if req.Status == domain.StatusFulfilled {
					_, _ = fmt.Fprintf(out, "approved %s; request fulfilled (settlement %s)\n", req.ID, req.TxHash)
					return nil
				}
				_, _ = fmt.Fprintf(out, "approved %s (%d/%d)\n", req.ID, req.ApprovedCount(), req.MinimumApprovals)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "actor address (defaults to the connected wallet)")
	return cmd
}

// newShowCommand builds the show command.
func newShowCommand(opts *rootOptions) *cobra.Command {
	var events int
	cmd := &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show one request with its actors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, env *runtimeEnv) error {
				req, err := env.engine.Get(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if err := writeRequest(out, req, time.Now()); err != nil {
					return err
				}
				if events <= 0 {
					return nil
				}
				history, err := env.engine.History(ctx, req.ID, events)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(out, "events:")
				for _, ev := range history {
					line := fmt.Sprintf("  %s  %-8s %-9s", ev.OccurredAt.Local().Format(time.RFC3339), ev.Operation, ev.Status)
					if ev.Actor != "" {
						line += " " + ev.Actor
					}
					if ch := ev.Metadata["channel"]; ch != "" {
						line += " via " + ch
					}
					_, _ = fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&events, "events", 0, "also print up to N activity events")
	return cmd
}

// newListCommand builds the list command.
func newListCommand(opts *rootOptions) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := domain.NormalizeStatus(domain.Status(status))
			if filter != "" && !domain.IsValidStatus(filter) {
				return fmt.Errorf("invalid --status %q", status)
			}
			return withRuntime(cmd, opts, func(ctx context.Context, env *runtimeEnv) error {
				reqs, err := env.engine.List(ctx)
				if err != nil {
					return err
				}
				now := time.Now()
				rows := make([][]string, 0, len(reqs))
				for _, req := range reqs {
					if filter != "" && req.Status != filter {
						continue
					}
					when := domain.CountdownUntil(req.Deadline, now).String()
					if req.Status.Terminal() {
						when = req.Deadline.Local().Format("2006-01-02 15:04")
					}
					rows = append(rows, []string{
						req.ID,
						req.Title,
						string(req.Status),
						fmt.Sprintf("%d/%d (min %d)", req.ApprovedCount(), len(req.Actors), req.MinimumApprovals),
						when,
					})
				}
				out := cmd.OutOrStdout()
				if len(rows) == 0 {
					_, _ = fmt.Fprintln(out, "no requests")
					return nil
				}
				header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
				cell := lipgloss.NewStyle().Padding(0, 1)
				t := table.New().
					Border(lipgloss.NormalBorder()).
					Headers("ID", "TITLE", "STATUS", "APPROVALS", "DEADLINE").
					Rows(rows...).
					StyleFunc(func(row, _ int) lipgloss.Style {
						if row == table.HeaderRow {
							return header
						}
						return cell
					})
				_, _ = fmt.Fprintln(out, t.String())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status: pending, fulfilled, failed")
	return cmd
}

// newStatsCommand builds the stats command.
func newStatsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show request analytics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, env *runtimeEnv) error {
				s, err := env.engine.Summary(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "requests: %d\n", s.Total)
				_, _ = fmt.Fprintf(out, "pending: %d\n", s.Pending)
				_, _ = fmt.Fprintf(out, "fulfilled: %d\n", s.Fulfilled)
				_, _ = fmt.Fprintf(out, "failed: %d\n", s.Failed)
				_, _ = fmt.Fprintf(out, "approval_rate: %d%%\n", s.ApprovalRate)
				_, _ = fmt.Fprintf(out, "actor_response_rate: %d%%\n", s.ActorResponseRate)
				_, _ = fmt.Fprintf(out, "average_approvals: %s\n", s.AverageApprovalsLabel())
				return nil
			})
		},
	}
}

// newSweepCommand builds the sweep command.
func newSweepCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Finalize every pending request whose deadline has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, env *runtimeEnv) error {
				ids, err := env.engine.Sweep(ctx, time.Now())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "finalized %d request(s)\n", len(ids))
				for _, id := range ids {
					_, _ = fmt.Fprintln(out, "  "+id)
				}
				return nil
			})
		},
	}
}

// newDemoCommand builds the demo command.
func newDemoCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Replace all requests with the demo scenario",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, env *runtimeEnv) error {
				reqs, err := env.engine.LoadDemoScenario(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "loaded %d demo requests\n", len(reqs))
				for _, req := range reqs {
					_, _ = fmt.Fprintf(out, "  %s  %-9s %s\n", req.ID, req.Status, req.Title)
				}
				return nil
			})
		},
	}
}

// newConnectCommand builds the connect command.
func newConnectCommand(opts *rootOptions) *cobra.Command {
	var network string
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect the simulated wallet and remember the identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := wallet.ParseNetwork(network)
			if err != nil {
				return err
			}
			return withRuntime(cmd, opts, func(ctx context.Context, env *runtimeEnv) error {
				id, err := env.wallet.Connect(ctx, n)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "connected %s on %s\n", id.Address, id.Network)
				if id.IsMainnet() {
					_, _ = fmt.Fprintln(out, "warning: mainnet wallet connected; this demo runs on testnet")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&network, "network", string(wallet.NetworkTestnet), "network: testnet or mainnet")
	return cmd
}

// newDisconnectCommand builds the disconnect command.
func newDisconnectCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Forget the connected wallet identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(_ context.Context, env *runtimeEnv) error {
				if err := env.wallet.Disconnect(); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "wallet disconnected")
				return nil
			})
		},
	}
}

// newWhoamiCommand builds the whoami command.
func newWhoamiCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the connected wallet identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(_ context.Context, env *runtimeEnv) error {
				id := env.wallet.Current()
				if !id.Connected {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "not connected")
					return nil
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", id.Address, id.Network)
				return nil
			})
		},
	}
}

// newPathsCommand builds the paths command.
func newPathsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config, data and database paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := resolvePaths(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "app: %s\n", opts.appName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", paths.configPath)
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.platform.DataDir)
			_, _ = fmt.Fprintf(out, "db: %s\n", paths.dbPath)
			_, _ = fmt.Fprintf(out, "log_dir: %s\n", paths.platform.LogDir)
			return nil
		},
	}
}

// newVersionCommand builds the version command.
func newVersionCommand(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "poa %s\n", version)
			return nil
		},
	}
}

// actingAddress returns override when set, else the connected wallet address.
func actingAddress(w *wallet.Wallet, override string) (string, error) {
	if strings.TrimSpace(override) != "" {
		return override, nil
	}
	return w.Address()
}

// writeRequest prints one request with its actors.
func writeRequest(out io.Writer, req domain.Request, now time.Time) error {
	lines := []string{
		"id: " + req.ID,
		"title: " + req.Title,
		"status: " + string(req.Status),
		"deadline: " + req.Deadline.Local().Format(time.RFC3339),
	}
	if req.Status == domain.StatusPending {
		lines = append(lines, "time_left: "+domain.CountdownUntil(req.Deadline, now).String())
	}
	lines = append(lines, fmt.Sprintf("approvals: %d/%d (min %d)", req.ApprovedCount(), len(req.Actors), req.MinimumApprovals))
	if req.CreatedBy != "" {
		lines = append(lines, "created_by: "+req.CreatedBy)
	}
	if req.TxHash != "" {
		lines = append(lines, "settlement: "+req.TxHash)
	}
	if req.FinalizedAt != nil {
		lines = append(lines, "finalized_at: "+req.FinalizedAt.Local().Format(time.RFC3339))
	}
	lines = append(lines, "description: "+req.Description, "actors:")
	for _, a := range req.Actors {
		mark := "[ ]"
		if a.HasApproved {
			mark = "[x]"
		}
		line := fmt.Sprintf("  %s %s", mark, a.Address)
		if a.Label != "" {
			line += " (" + a.Label + ")"
		}
		if a.ApprovedAt != nil {
			line += " approved " + a.ApprovedAt.Local().Format(time.RFC3339)
		}
		lines = append(lines, line)
	}
	_, err := fmt.Fprintln(out, strings.Join(lines, "\n"))
	return err
}

// firstNonEmpty returns the first non-blank value.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
