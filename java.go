package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lodestone-mc/lodestone/internal/java"
)

// newJavaCmd groups the Java runtime subcommands.
func newJavaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "java",
		Short: "Inspect installed Java runtimes",
	}

	cmd.AddCommand(newJavaListCmd())
	cmd.AddCommand(newJavaRecommendCmd())

	return cmd
}

// javaListEntry is the JSON shape of `java list --json`.
type javaListEntry struct {
	Path    string `json:"path"`
	Version string `json:"version"`
	Major   int    `json:"major"`
}

func newJavaListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discovered Java installations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			installs := java.NewDiscoverer(logger).Discover(context.Background())

			if flagJSON {
				entries := make([]javaListEntry, 0, len(installs))
				for _, inst := range installs {
					entries = append(entries, javaListEntry{
						Path:    inst.Path,
						Version: inst.Version.String(),
						Major:   inst.Major(),
					})
				}

				return json.NewEncoder(os.Stdout).Encode(entries)
			}

			if len(installs) == 0 {
				statusf("no java installations found\n")
				return nil
			}

			rows := make([][]string, 0, len(installs))
			for _, inst := range installs {
				rows = append(rows, []string{fmt.Sprint(inst.Major()), inst.Version.String(), inst.Path})
			}

			printTable(cmd.OutOrStdout(), []string{"MAJOR", "VERSION", "PATH"}, rows)

			return nil
		},
	}
}

func newJavaRecommendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recommend <version>",
		Short: "Show which Java runtime a game version needs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()
			ctx := context.Background()

			required := java.RequiredMajor(args[0])

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s needs Java %d or newer\n", args[0], required)

			inst, ok, err := java.Select(java.NewDiscoverer(logger).Discover(ctx), required)
			if err != nil {
				fmt.Fprintln(out, "no installed runtime found")
				return nil
			}

			if ok {
				fmt.Fprintf(out, "would use Java %d at %s\n", inst.Major(), inst.Path)
			} else {
				fmt.Fprintf(out, "best installed is Java %d at %s (may not work)\n", inst.Major(), inst.Path)
			}

			return nil
		},
	}
}
