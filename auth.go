package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// newLoginCmd runs the interactive sign-in chain, reusing a still
// valid cached session unless --force is given.
func newLoginCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a Microsoft account",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			logger := buildLogger()
			ctx := shutdownContext(context.Background(), logger)

			broker := newBroker(logger)

			if force {
				if err := broker.ClearSession(ctx); err != nil {
					return err
				}
			}

			sess, err := broker.ObtainValidToken(ctx)
			if err != nil {
				return err
			}

			statusf("signed in as %s (session valid until %s)\n",
				sess.Profile.Name, formatTime(sess.Minecraft.Expiry))

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "discard the cached session and sign in from scratch")

	return cmd
}

// newAuthCmd groups the session management subcommands.
func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the cached game session",
	}

	cmd.AddCommand(newAuthStatusCmd())
	cmd.AddCommand(newAuthRefreshCmd())
	cmd.AddCommand(newAuthClearCmd())

	return cmd
}

// authStatusOutput is the JSON shape of `auth status --json`.
type authStatusOutput struct {
	LoggedIn   bool      `json:"logged_in"`
	Valid      bool      `json:"valid"`
	HasRefresh bool      `json:"has_refresh"`
	Player     string    `json:"player,omitempty"`
	Expiry     time.Time `json:"expiry,omitzero"`
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cached session without touching the network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			status, err := newBroker(logger).Status()
			if err != nil {
				return err
			}

			if flagJSON {
				return json.NewEncoder(os.Stdout).Encode(authStatusOutput{
					LoggedIn:   status.LoggedIn,
					Valid:      status.Valid,
					HasRefresh: status.HasRefresh,
					Player:     status.Profile.Name,
					Expiry:     status.Expiry,
				})
			}

			out := cmd.OutOrStdout()

			if !status.LoggedIn {
				fmt.Fprintln(out, "not signed in")
				return nil
			}

			state := "expired"
			if status.Valid {
				state = "valid"
			}

			fmt.Fprintf(out, "signed in as %s\n", status.Profile.Name)
			fmt.Fprintf(out, "session: %s (expires %s)\n", state, formatTime(status.Expiry))

			if !status.Valid && status.HasRefresh {
				fmt.Fprintln(out, "the session will refresh silently on next use")
			}

			return nil
		},
	}
}

func newAuthRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force a silent refresh of the cached session",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			logger := buildLogger()
			ctx := shutdownContext(context.Background(), logger)

			sess, err := newBroker(logger).Refresh(ctx)
			if err != nil {
				return err
			}

			statusf("session refreshed for %s (valid until %s)\n",
				sess.Profile.Name, formatTime(sess.Minecraft.Expiry))

			return nil
		},
	}
}

func newAuthClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the cached session",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			logger := buildLogger()

			if err := newBroker(logger).ClearSession(context.Background()); err != nil {
				return err
			}

			statusf("session cleared\n")

			return nil
		},
	}
}
