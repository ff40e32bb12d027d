package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lodestone-mc/lodestone/internal/auth"
	"github.com/lodestone-mc/lodestone/internal/backoff"
	"github.com/lodestone-mc/lodestone/internal/config"
	"github.com/lodestone-mc/lodestone/internal/fetch"
	"github.com/lodestone-mc/lodestone/internal/instance"
	"github.com/lodestone-mc/lodestone/internal/launch"
	"github.com/lodestone-mc/lodestone/internal/mojang"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagDataDir    string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by
// PersistentPreRunE. Available to every subcommand after the root
// pre-run phase completes.
var resolvedCfg *config.Config

// newRootCmd builds and returns the fully-assembled root command with
// all subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "lodestone",
		Short:   "Minecraft launcher CLI",
		Long:    "A CLI launcher for Minecraft: Java Edition. Signs in with a Microsoft account, downloads and verifies game files, and starts the game.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it
		// ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		// Every command needs the resolved config, if only for the
		// data directory and log level.
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "game data directory")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	// Register subcommands.
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newPrepareCmd())
	cmd.AddCommand(newLaunchCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newAuthCmd())
	cmd.AddCommand(newInstanceCmd())
	cmd.AddCommand(newJavaCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override
// chain and stores the result in resolvedCfg for use by subcommands.
func loadConfig() error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		DataDir:    flagDataDir,
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config
// and CLI flags. Config-file log level provides the baseline;
// --verbose and --quiet override it because CLI flags always win.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if resolvedCfg != nil {
		switch resolvedCfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newBroker builds the token broker backed by the per-user credential
// file.
func newBroker(logger *slog.Logger) *auth.Broker {
	store := auth.NewStore(config.CredentialsPath(), logger)

	return auth.NewBroker(store, auth.Options{
		ClientID:     resolvedCfg.ClientID,
		SafetyMargin: resolvedCfg.SafetyMarginDuration(),
	}, logger)
}

// newResolver builds a version resolver for the running platform.
func newResolver(logger *slog.Logger) *mojang.Resolver {
	return mojang.NewResolver(mojang.NewClient(logger), mojang.CurrentPlatform(), logger)
}

// newScheduler builds the download scheduler with the verification
// ledger attached. The returned close func releases the ledger; a
// ledger that cannot be opened degrades to hashing every file instead
// of failing the command.
func newScheduler(logger *slog.Logger, onProgress func(done, total int)) (*fetch.Scheduler, func()) {
	policy := backoff.Default()
	policy.MaxAttempts = resolvedCfg.DownloadAttempts

	ledger, err := fetch.OpenLedger(config.LedgerPath(resolvedCfg.DataDir), logger)
	if err != nil {
		logger.Warn("verification ledger unavailable, hashing every file",
			slog.String("error", err.Error()))
		ledger = nil
	}

	scheduler := fetch.NewScheduler(resolvedCfg.DataDir, fetch.Options{
		Workers:    resolvedCfg.ParallelDownloads,
		Policy:     policy,
		Ledger:     ledger,
		OnProgress: onProgress,
	}, logger)

	closeLedger := func() {
		if ledger == nil {
			return
		}

		if err := ledger.Close(); err != nil {
			logger.Warn("closing verification ledger", slog.String("error", err.Error()))
		}
	}

	return scheduler, closeLedger
}

// newOrchestrator assembles the full preparation pipeline.
func newOrchestrator(logger *slog.Logger, onProgress func(done, total int)) (*launch.Orchestrator, func()) {
	scheduler, closeLedger := newScheduler(logger, onProgress)

	o := launch.NewOrchestrator(newBroker(logger), newResolver(logger), scheduler, resolvedCfg.DataDir, logger)

	return o, closeLedger
}

// newInstanceStore builds the instance store under the data directory.
func newInstanceStore(logger *slog.Logger) *instance.Store {
	return instance.NewStore(config.InstancesDir(resolvedCfg.DataDir), logger)
}

// exitOnError prints a user-friendly error message to stderr and
// exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
