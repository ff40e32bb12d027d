package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lodestone-mc/lodestone/internal/java"
	"github.com/lodestone-mc/lodestone/internal/launch"
)

// newLaunchCmd prepares an instance's version and starts the game.
func newLaunchCmd() *cobra.Command {
	var skipVerification bool

	cmd := &cobra.Command{
		Use:   "launch <instance>",
		Short: "Prepare and start the game for an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			logger := buildLogger()
			ctx := shutdownContext(context.Background(), logger)

			store := newInstanceStore(logger)

			inst, err := store.Load(args[0])
			if err != nil {
				return err
			}

			progress, finishProgress := progressPrinter("downloading")

			orchestrator, closeLedger := newOrchestrator(logger, progress)
			defer closeLedger()

			lc, err := orchestrator.Prepare(ctx, inst.Version, launch.Options{
				SkipVerification: skipVerification,
			})
			finishProgress()

			if err != nil {
				reportPrepareFailure(err)
				return err
			}

			if _, err := launch.ExtractNatives(lc.Resolution, resolvedCfg.DataDir, logger); err != nil {
				return err
			}

			javaPath, err := pickJava(ctx, lc.Resolution.VersionID, lc.Resolution.JavaMajor(), logger)
			if err != nil {
				return err
			}

			memoryMB := resolvedCfg.MemoryMB
			if inst.Settings.MemoryMB > 0 {
				memoryMB = inst.Settings.MemoryMB
			}

			spec, err := launch.BuildSpec(lc, launch.SpecOptions{
				JavaPath:        javaPath,
				GameDir:         store.Dir(inst.Name),
				MemoryMB:        memoryMB,
				ExtraJVMArgs:    inst.Settings.JavaArgs,
				ExtraGameArgs:   inst.Settings.GameArgs,
				Server:          inst.Settings.Server,
				LauncherVersion: version,
			})
			if err != nil {
				return err
			}

			if err := store.Touch(inst.Name); err != nil {
				logger.Warn("updating last-used time", slog.String("error", err.Error()))
			}

			statusf("launching %s as %s\n", lc.Resolution.VersionID, lc.Session.Profile.Name)

			return launch.Run(ctx, spec, logger)
		},
	}

	cmd.Flags().BoolVar(&skipVerification, "skip-verification", false, "trust existing files by size instead of hashing them")

	return cmd
}

// pickJava selects the java executable for a version: the configured
// java_path wins, otherwise discovery picks the best installed
// runtime. descriptorMajor comes from the version descriptor and
// overrides the version-id heuristic when present.
func pickJava(ctx context.Context, versionID string, descriptorMajor int, logger *slog.Logger) (string, error) {
	discoverer := java.NewDiscoverer(logger)

	if resolvedCfg.JavaPath != "" {
		inst, err := discoverer.Probe(ctx, resolvedCfg.JavaPath)
		if err != nil {
			return "", err
		}

		return inst.Path, nil
	}

	required := descriptorMajor
	if required == 0 {
		required = java.RequiredMajor(versionID)
	}

	inst, ok, err := java.Select(discoverer.Discover(ctx), required)
	if err != nil {
		return "", err
	}

	if !ok {
		logger.Warn("no installed java meets the requirement, using the newest available",
			slog.Int("required", required),
			slog.Int("selected", inst.Major()),
			slog.String("path", inst.Path))
	}

	return inst.Path, nil
}
