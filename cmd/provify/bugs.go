package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/A-ryanVAT-S/Provify/internal/types"
)

func newAddCmd(a *app) *cobra.Command {
	var appName, appPackage string
	cmd := &cobra.Command{
		Use:   "add <description>",
		Short: "Report a bug",
		Long: `Report a bug for an app. A report that closely matches an existing bug of
the same package is merged into it and the existing bug is shown instead.

Examples:
  provify add --app "My App" --package com.example.myapp "App crashes when uploading photo"
  provify add --app WhatsApp "Voice notes cut off after 3 seconds"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bug, err := a.svc.Store.Intake(cmd.Context(), appName, appPackage, strings.Join(args, " "))
			if err != nil {
				return err
			}
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Fprintf(cmd.OutOrStdout(), "%s Bug %s recorded for %s\n", green("✓"), bug.ID, bug.AppPackage)
			return nil
		},
	}
	cmd.Flags().StringVar(&appName, "app", "", "App name (required)")
	cmd.Flags().StringVar(&appPackage, "package", "", "Android package id (resolved from the app name when omitted)")
	_ = cmd.MarkFlagRequired("app")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var status, appPackage string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bugs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := types.BugFilter{AppPackage: appPackage}
			if status != "" {
				s, err := types.ParseStatus(status)
				if err != nil {
					return err
				}
				filter.Status = &s
			}
			bugs, err := a.svc.Store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				if bugs == nil {
					bugs = []*types.Bug{}
				}
				return writeJSON(cmd.OutOrStdout(), bugs)
			}
			printBugs(cmd.OutOrStdout(), bugs)
			return nil
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "Filter by status (pending, verified, not_reproducible, fixed)")
	cmd.Flags().StringVar(&appPackage, "app", "", "Filter by app package")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one bug with its latest verification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bug, err := a.svc.Store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), bug)
			}
			printBug(cmd.OutOrStdout(), bug)
			if bug.LatestVerification != nil {
				printSummary(cmd.OutOrStdout(), bug.LatestVerification)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show bug counts per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := a.svc.Store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
			yellow := color.New(color.FgYellow).SprintFunc()
			red := color.New(color.FgRed).SprintFunc()
			green := color.New(color.FgGreen).SprintFunc()
			gray := color.New(color.FgHiBlack).SprintFunc()

			fmt.Fprintf(w, "\n%s\n\n", cyan("Bug Statistics"))
			fmt.Fprintf(w, "  Total:            %d\n", stats.Total)
			fmt.Fprintf(w, "  %s          %d\n", yellow("Pending:"), stats.Pending)
			fmt.Fprintf(w, "  %s         %d\n", red("Verified:"), stats.Verified)
			fmt.Fprintf(w, "  %s %d\n", gray("Not reproducible:"), stats.NotReproducible)
			fmt.Fprintf(w, "  %s            %d\n\n", green("Fixed:"), stats.Fixed)
			return nil
		},
	}
}

func newUpdateCmd(a *app) *cobra.Command {
	var status, notes string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a bug's status or notes",
		Long: `Change a bug's status, notes or both. Status changes follow the bug
lifecycle; for example a pending bug cannot be marked fixed.

Examples:
  provify update 1a2b3c4d --status verified --notes "seen on Pixel 7"
  provify update 1a2b3c4d --notes "needs a fresh install to reproduce"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			statusSet := cmd.Flags().Changed("status")
			notesSet := cmd.Flags().Changed("notes")
			if !statusSet && !notesSet {
				return fmt.Errorf("nothing to update: pass --status or --notes")
			}

			var bug *types.Bug
			if statusSet {
				s, err := types.ParseStatus(status)
				if err != nil {
					return err
				}
				if bug, err = a.svc.Store.UpdateStatus(ctx, args[0], s, notes); err != nil {
					return err
				}
			}
			// UpdateStatus keeps the old notes when given none
			if notesSet && (!statusSet || notes == "") {
				var err error
				if bug, err = a.svc.Store.UpdateNotes(ctx, args[0], notes); err != nil {
					return err
				}
			}
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Fprintf(cmd.OutOrStdout(), "%s Bug %s is %s\n", green("✓"), bug.ID, bug.Status)
			return nil
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "New status")
	cmd.Flags().StringVarP(&notes, "notes", "n", "", "New notes")
	return cmd
}

func newFixCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fix <id>",
		Short: "Mark a verified bug as fixed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bug, err := a.svc.MarkFixed(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Fprintf(cmd.OutOrStdout(), "%s Bug %s marked as fixed\n", green("✓"), bug.ID)
			return nil
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a bug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.svc.Store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Fprintf(cmd.OutOrStdout(), "%s Bug %s deleted\n", green("✓"), args[0])
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
