package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/lodestone-mc/lodestone/internal/launch"
)

// newPrepareCmd downloads and verifies everything a version needs
// without starting the game.
func newPrepareCmd() *cobra.Command {
	var skipVerification bool

	cmd := &cobra.Command{
		Use:   "prepare <version>",
		Short: "Download and verify all files for a game version",
		Long:  "Signs in, resolves the version into its full artifact set, and downloads every missing or corrupt file. Accepts a concrete version id or the aliases latest, latest-release, and latest-snapshot.",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			logger := buildLogger()
			ctx := shutdownContext(context.Background(), logger)

			progress, finishProgress := progressPrinter("downloading")

			orchestrator, closeLedger := newOrchestrator(logger, progress)
			defer closeLedger()

			lc, err := orchestrator.Prepare(ctx, args[0], launch.Options{
				SkipVerification: skipVerification,
			})
			finishProgress()

			if err != nil {
				reportPrepareFailure(err)
				return err
			}

			statusf("%s ready: %s\n", lc.Resolution.VersionID,
				describeReport(lc.Report.Fetched, lc.Report.Reused, lc.Report.Failed, lc.Report.BytesFetched))

			return nil
		},
	}

	cmd.Flags().BoolVar(&skipVerification, "skip-verification", false, "trust existing files by size instead of hashing them")

	return cmd
}

// reportPrepareFailure prints the per-artifact detail of a failed
// fetch phase; other stages already carry their detail in the error.
func reportPrepareFailure(err error) {
	var prepErr *launch.PrepareError
	if !errors.As(err, &prepErr) || prepErr.Report == nil {
		return
	}

	for _, f := range prepErr.Report.Failures {
		statusf("failed: %s: %v\n", f.Artifact.Path, f.Err)
	}
}
