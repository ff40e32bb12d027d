package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// newInstanceCmd groups the instance management subcommands.
func newInstanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Manage named game instances",
		Long:  "Instances keep separate worlds, settings, and launch options under instances/<name> in the data directory.",
	}

	cmd.AddCommand(newInstanceListCmd())
	cmd.AddCommand(newInstanceCreateCmd())
	cmd.AddCommand(newInstanceDeleteCmd())
	cmd.AddCommand(newInstanceInfoCmd())
	cmd.AddCommand(newInstanceMemoryCmd())

	return cmd
}

func newInstanceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			instances, err := newInstanceStore(logger).List()
			if err != nil {
				return err
			}

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(instances)
			}

			if len(instances) == 0 {
				statusf("no instances; create one with: lodestone instance create <name> <version>\n")
				return nil
			}

			rows := make([][]string, 0, len(instances))
			for _, inst := range instances {
				lastUsed := "-"
				if inst.LastUsed != nil {
					lastUsed = formatTime(*inst.LastUsed)
				}

				rows = append(rows, []string{inst.Name, inst.Version, lastUsed, inst.Description})
			}

			printTable(cmd.OutOrStdout(), []string{"NAME", "VERSION", "LAST USED", "DESCRIPTION"}, rows)

			return nil
		},
	}
}

func newInstanceCreateCmd() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "create <name> <version>",
		Short: "Create a new instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			logger := buildLogger()
			name := args[0]

			// Resolve aliases and reject unknown versions before
			// anything lands on disk.
			manifest, err := newResolver(logger).Manifest(context.Background())
			if err != nil {
				return err
			}

			versionID := manifest.ResolveAlias(args[1])
			if _, ok := manifest.Find(versionID); !ok {
				return fmt.Errorf("unknown version %q (see: lodestone list)", args[1])
			}

			inst, err := newInstanceStore(logger).Create(name, versionID, description)
			if err != nil {
				return err
			}

			statusf("created instance %s (%s)\n", inst.Name, inst.Version)

			return nil
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "instance description")

	return cmd
}

func newInstanceDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an instance and its worlds",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			logger := buildLogger()

			if !yes {
				return fmt.Errorf("deleting %q removes its saved worlds; re-run with --yes to confirm", args[0])
			}

			if err := newInstanceStore(logger).Delete(args[0]); err != nil {
				return err
			}

			statusf("deleted instance %s\n", args[0])

			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")

	return cmd
}

func newInstanceInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show one instance's configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger()
			store := newInstanceStore(logger)

			inst, err := store.Load(args[0])
			if err != nil {
				return err
			}

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(inst)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "name:        %s\n", inst.Name)
			fmt.Fprintf(out, "version:     %s\n", inst.Version)
			fmt.Fprintf(out, "directory:   %s\n", store.Dir(inst.Name))

			if inst.Description != "" {
				fmt.Fprintf(out, "description: %s\n", inst.Description)
			}

			fmt.Fprintf(out, "created:     %s\n", formatTime(inst.Created))

			if inst.LastUsed != nil {
				fmt.Fprintf(out, "last used:   %s\n", formatTime(*inst.LastUsed))
			}

			if inst.Settings.MemoryMB > 0 {
				fmt.Fprintf(out, "memory:      %d MB\n", inst.Settings.MemoryMB)
			}

			if inst.Settings.Server != "" {
				fmt.Fprintf(out, "server:      %s\n", inst.Settings.Server)
			}

			return nil
		},
	}
}

func newInstanceMemoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "memory <name> <megabytes>",
		Short: "Set an instance's heap allocation",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			logger := buildLogger()

			memoryMB, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid memory value %q: %w", args[1], err)
			}

			if err := newInstanceStore(logger).SetMemory(args[0], memoryMB); err != nil {
				return err
			}

			statusf("set memory for %s to %d MB\n", args[0], memoryMB)

			return nil
		},
	}
}
