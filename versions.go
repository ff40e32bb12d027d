package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lodestone-mc/lodestone/internal/mojang"
)

// newListCmd lists the versions known to the remote manifest.
func newListCmd() *cobra.Command {
	var (
		releasesOnly bool
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available game versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()
			resolver := newResolver(logger)

			manifest, err := resolver.Manifest(context.Background())
			if err != nil {
				return err
			}

			entries := manifest.Versions
			if releasesOnly {
				entries = filterReleases(entries)
			}

			if limit > 0 && limit < len(entries) {
				entries = entries[:limit]
			}

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(entries)
			}

			statusf("latest release: %s, latest snapshot: %s\n",
				manifest.Latest.Release, manifest.Latest.Snapshot)

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.ID, e.Type, e.ReleaseTime.Format("2006-01-02")})
			}

			printTable(cmd.OutOrStdout(), []string{"VERSION", "TYPE", "RELEASED"}, rows)

			return nil
		},
	}

	cmd.Flags().BoolVar(&releasesOnly, "releases-only", false, "only show release versions")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of versions to show (0 for all)")

	return cmd
}

func filterReleases(entries []mojang.ManifestEntry) []mojang.ManifestEntry {
	var out []mojang.ManifestEntry
	for _, e := range entries {
		if e.Type == mojang.TypeRelease {
			out = append(out, e)
		}
	}

	return out
}

// describeReport renders the one-line outcome of a fetch or verify
// run.
func describeReport(fetched, reused, failed int, bytes int64) string {
	if failed > 0 {
		return fmt.Sprintf("%d fetched, %d reused, %d FAILED (%s downloaded)",
			fetched, reused, failed, formatSize(bytes))
	}

	return fmt.Sprintf("%d fetched, %d reused (%s downloaded)", fetched, reused, formatSize(bytes))
}
