// Command autopilot wires every internal package into a running
// orchestrator: it loads configuration, constructs the board client,
// registry, slot pool, worktree provider, process supervisor, evaluator,
// and optional epic coordinator, then drives orchestrator.Orchestrator
// until interrupted. Flag parsing follows the corpus's dominant cobra
// idiom (see e.g. URunDEAD-frisbee/cmd/kubectl-frisbee) rather than the
// teacher's own flagless tmux-relaunch entrypoint, since this core is a
// long-running supervisor process, not an interactive TUI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/autopilot/internal/assignment"
	"github.com/kingrea/autopilot/internal/board"
	"github.com/kingrea/autopilot/internal/config"
	"github.com/kingrea/autopilot/internal/epic"
	"github.com/kingrea/autopilot/internal/evaluator"
	"github.com/kingrea/autopilot/internal/lifecycle"
	"github.com/kingrea/autopilot/internal/orchestrator"
	"github.com/kingrea/autopilot/internal/process"
	autopilotregistry "github.com/kingrea/autopilot/internal/registry"
	"github.com/kingrea/autopilot/internal/slot"
	"github.com/kingrea/autopilot/internal/telemetry"
	"github.com/kingrea/autopilot/internal/worktree"
)

// exit codes, per §6: clean shutdown, unrecoverable startup error, interrupt.
const (
	exitOK          = 0
	exitStartupFail = 1
	exitInterrupt   = 130
)

type options struct {
	repo        string
	epicName    string
	autoMerge   bool
	verbose     bool
	metricsAddr string
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts options

	root := &cobra.Command{
		Use:   "autopilot",
		Short: "Autonomous board-driven development orchestrator",
		Long:  "autopilot watches a remote issue board, launches Worker CLI subprocesses in isolated git worktrees, and reconciles their outcomes back to the board.",
	}
	root.Flags().StringVar(&opts.repo, "repo", ".", "repository root to supervise")
	root.Flags().StringVar(&opts.epicName, "epic", "", "restrict assignment to one epic's phase ordering")
	root.Flags().BoolVar(&opts.autoMerge, "auto-merge", false, "treat Dev Complete phase masters as mergeable without waiting for Done")
	root.Flags().BoolVar(&opts.verbose, "verbose", false, "enable debug-level logging")
	root.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "address to serve Prometheus /metrics on, e.g. :9090 (disabled if empty)")

	exitCode := exitOK
	root.RunE = func(cmd *cobra.Command, args []string) error {
		code, err := runOrchestrator(cmd.Context(), opts)
		exitCode = code
		return err
	}
	root.SilenceUsage = true
	root.SilenceErrors = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "autopilot:", err)
		if exitCode == exitOK {
			exitCode = exitStartupFail
		}
	}
	if ctx.Err() != nil && exitCode == exitOK {
		return exitInterrupt
	}
	return exitCode
}

func runOrchestrator(ctx context.Context, opts options) (int, error) {
	cfg, err := config.Load(opts.repo)
	if err != nil {
		return exitStartupFail, fmt.Errorf("load config: %w", err)
	}
	if err := config.InitAutonomousDir(cfg.RepoRoot); err != nil {
		return exitStartupFail, fmt.Errorf("init %s: %w", config.AutonomousDir, err)
	}

	logger, err := telemetry.NewLogger(filepath.Join(cfg.LogsDir(), "orchestrator.log"), opts.verbose)
	if err != nil {
		return exitStartupFail, fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	token := os.Getenv("AUTOPILOT_BOARD_TOKEN")
	if cfg.File.Board.BaseURL == "" {
		return exitStartupFail, fmt.Errorf("config: board.base_url is required")
	}
	boardClient := board.NewHTTPClient(cfg.File.Board.BaseURL, cfg.File.Board.StatusField, cfg.File.Board.AssignedInstanceField, token, logger)
	statusMap := board.DefaultStatusMapping()

	worktreeBase, err := cfg.WorktreeBaseDir()
	if err != nil {
		return exitStartupFail, fmt.Errorf("resolve worktree base dir: %w", err)
	}
	worktreeProvider := worktree.New(cfg.RepoRoot)
	defaultBranch, err := worktreeProvider.DefaultBranch(ctx)
	if err != nil {
		return exitStartupFail, fmt.Errorf("resolve default branch: %w", err)
	}

	reg := autopilotregistry.New()
	slots := slot.New(providerCapacities(cfg))

	var metrics *telemetry.Metrics
	if opts.metricsAddr != "" {
		promReg := prometheus.NewRegistry()
		metrics = telemetry.NewMetrics(promReg)
		go func() {
			if err := telemetry.ServeMetrics(ctx, opts.metricsAddr, promReg); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	supervisor := process.New(logger, nil)

	lcDeps := lifecycle.Deps{
		Registry:    reg,
		Slots:       slots,
		Worktrees:   worktreeProvider,
		Process:     supervisor,
		Board:       boardClient,
		StatusMap:   statusMap,
		ProvidersIn: providerPreferenceOrder(cfg),
		ProviderCmd: func(p assignment.Provider) string { return cfg.ProviderCommand(string(p)) },
		WorktreeDir: func(issue int) string { return filepath.Join(worktreeBase, fmt.Sprintf("issue-%d", issue)) },
		BranchName:  func(issue int) string { return fmt.Sprintf("autopilot/issue-%d", issue) },
		LogPath: func(instanceID string) string {
			return filepath.Join(cfg.LogsDir(), fmt.Sprintf("output-%s.log", instanceID))
		},
		SessionPath: func(instanceID string) string {
			return filepath.Join(cfg.SessionsDir(), fmt.Sprintf("instance-%s.json", instanceID))
		},
		PromptPath: func(instanceID string) string {
			return filepath.Join(cfg.PromptsDir(), fmt.Sprintf("prompt-%s.txt", instanceID))
		},
		Logger:  logger,
		Metrics: metrics,
	}

	var coordinator *epic.Coordinator
	if opts.epicName != "" {
		coordinator = epic.New(opts.epicName)
		coordinator.AutoMerge = opts.autoMerge
		coordinator.Merges = worktreeProvider
		coordinator.BranchName = func(issue int) string { return fmt.Sprintf("autopilot/issue-%d", issue) }
		coordinator.DefaultBranchName = func() string { return defaultBranch }
		coordinator.Logger = logger
	}

	orch := orchestrator.New(orchestrator.Deps{
		Registry:          reg,
		Slots:             slots,
		Board:             boardClient,
		StatusMap:         statusMap,
		Evaluator:         evaluator.New(boardClient, "priority"),
		Epic:              coordinator,
		LifecycleDeps:     lcDeps,
		BaseBranch:        func() string { return defaultBranch },
		TickInterval:      cfg.TickInterval,
		ReconcileInterval: cfg.ReconcileInterval,
		Logger:            logger,
		Metrics:           metrics,
	})

	logger.Info("autopilot: starting",
		zap.String("repo", cfg.RepoRoot),
		zap.String("epic", opts.epicName),
		zap.Bool("auto_merge", opts.autoMerge))

	if err := orch.Run(ctx); err != nil {
		return exitStartupFail, fmt.Errorf("orchestrator: %w", err)
	}
	if ctx.Err() != nil {
		return exitInterrupt, nil
	}
	return exitOK, nil
}

func providerCapacities(cfg *config.Config) map[assignment.Provider]int {
	out := make(map[assignment.Provider]int)
	for name, capacity := range cfg.ProviderCapacities() {
		out[assignment.Provider(name)] = capacity
	}
	return out
}

// providerPreferenceOrder returns the configured provider names in a fixed,
// deterministic order (map iteration order is not) so slot acquisition is
// reproducible run to run.
func providerPreferenceOrder(cfg *config.Config) []assignment.Provider {
	preferred := []assignment.Provider{assignment.ProviderClaude, assignment.ProviderGemini, assignment.ProviderCodex}
	capacities := cfg.ProviderCapacities()
	out := make([]assignment.Provider, 0, len(preferred))
	for _, p := range preferred {
		if _, ok := capacities[string(p)]; ok {
			out = append(out, p)
		}
	}
	return out
}
