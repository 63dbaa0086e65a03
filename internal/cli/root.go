package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/harvester/internal/control"
	"github.com/vietddude/harvester/internal/core/config"
)

var (
	cfgPath string
	isDebug bool

	daemon        bool
	interval      time.Duration
	threshold     int
	reprint       bool
	noScorer      bool
	dryRun        bool
	showAll       bool
	maxIterations int
)

var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "Harvester pulls, scores and emits records from unreliable sources",
	Long: `Harvester periodically pulls records from several sources, scores them,
and emits artifacts for those above a threshold. Every source is isolated
behind retries and a circuit breaker, and a durable ledger guarantees that
re-running never emits the same artifact twice.`,
	Run: withExitCode(runHarvester),
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")

	f := rootCmd.Flags()
	f.BoolVarP(&daemon, "daemon", "d", false, "run continuously")
	f.DurationVarP(&interval, "interval", "i", 5*time.Minute, "time between cycles in daemon mode")
	f.IntVarP(&threshold, "threshold", "t", 70, "minimum score to emit (0-100)")
	f.BoolVar(&reprint, "reprint", false, "ignore the ledger and emit again")
	f.BoolVar(&noScorer, "no-scorer", false, "use local scoring rules only")
	f.BoolVarP(&dryRun, "dry-run", "n", false, "score and report without emitting")
	f.BoolVarP(&showAll, "show-all", "a", false, "log candidates below the threshold")
	f.IntVar(&maxIterations, "max-iterations", 0, "stop after N cycles in daemon mode (0 = unlimited)")
}

// loadConfig reads the config file. A missing default file yields the
// built-in defaults.
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	_ = godotenv.Load()

	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.Parse(nil)
	}
	return config.Load(cfgPath)
}

func setupLogging(cfg *config.AppConfig) {
	slogLevel := slog.LevelInfo
	switch {
	case isDebug || cfg.Logging.Level == "debug":
		slogLevel = slog.LevelDebug
	case cfg.Logging.Level == "warn":
		slogLevel = slog.LevelWarn
	case cfg.Logging.Level == "error":
		slogLevel = slog.LevelError
	}

	if cfg.Logging.Format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})))
		return
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
}

// mustLoad loads configuration and logging or exits.
func mustLoad(cmd *cobra.Command) *config.AppConfig {
	cfg, err := loadConfig(cmd)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg)
	return cfg
}

func applyFlags(cmd *cobra.Command, cfg *config.AppConfig) error {
	flags := cmd.Flags()
	if flags.Changed("interval") {
		cfg.Scheduler.Interval = interval
	}
	if flags.Changed("threshold") {
		cfg.Scheduler.Threshold = threshold
	}
	if flags.Changed("max-iterations") {
		cfg.Scheduler.MaxIterations = maxIterations
	}
	cfg.Scheduler.Reprint = cfg.Scheduler.Reprint || reprint
	cfg.Scheduler.DryRun = cfg.Scheduler.DryRun || dryRun
	cfg.Scheduler.ShowAll = cfg.Scheduler.ShowAll || showAll
	if noScorer {
		cfg.Scorer.Enabled = false
	}
	return cfg.Validate()
}

// withExitCode runs fn and exits with its code once fn's deferred cleanup
// has run.
func withExitCode(fn func(cmd *cobra.Command, args []string) int) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		if code := fn(cmd, args); code != 0 {
			os.Exit(code)
		}
	}
}

func runHarvester(cmd *cobra.Command, args []string) int {
	cfg := mustLoad(cmd)
	if err := applyFlags(cmd, cfg); err != nil {
		slog.Error("Invalid flags", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize Harvester", "error", err)
		return 1
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Warn("Error during close", "error", err)
		}
	}()

	if !daemon {
		stats, err := app.RunOnce(ctx)
		if err != nil {
			slog.Error("Cycle failed", "error", err)
			return 1
		}
		slog.Info("Done", "fetched", stats.Fetched, "filtered", stats.Filtered, "emitted", stats.Emitted)
		return 0
	}

	go handleSignals(ctx, cancel, app, cfg.Scheduler.ShutdownTimeout)

	slog.Info("Harvester started", "config", cfgPath, "interval", cfg.Scheduler.Interval)
	stats, err := app.Run(ctx)
	if stats != nil {
		slog.Info("Final stats",
			"iterations", stats.Iterations,
			"total_emitted", stats.TotalEmitted,
			"cycle_errors", stats.CycleErrors,
		)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Harvester stopped with error", "error", err)
		return 1
	}
	return 0
}

// handleSignals drains on the first signal and aborts on the second or when
// the drain takes longer than timeout.
func handleSignals(ctx context.Context, cancel context.CancelFunc, app *control.Harvester, timeout time.Duration) {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return
	case sig := <-sigChan:
		slog.Info("Received signal, finishing current cycle...", "signal", sig)
		app.Shutdown()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case sig := <-sigChan:
		slog.Warn("Received second signal, aborting", "signal", sig)
		cancel()
	case <-timer.C:
		slog.Warn("Shutdown timed out, aborting", "timeout", timeout)
		cancel()
	}
}
