package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/A-ryanVAT-S/Provify/internal/types"
)

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <id>",
		Short: "Reproduce one bug on every available device",
		Long: `Run the reproduction agent for one bug on every available device at once.
The bug becomes verified when more devices reproduced it than did not.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			bug, err := a.svc.Store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			targets := a.svc.Devices.Available(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "Verifying %s on %d device(s): %s\n", bug.ID, len(targets), bug.Description)

			summary, err := a.svc.Engine.VerifyAcrossTargets(ctx, bug, targets)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
}

func newVerifyAllCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-all",
		Short: "Verify every pending bug, one bug at a time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			results, err := a.svc.VerifyPending(cmd.Context())
			printBatch(cmd.OutOrStdout(), results, false)
			return err
		},
	}
}

func newReverifyFixedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reverify-fixed",
		Short: "Re-run every fixed bug to catch regressions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			results, err := a.svc.ReverifyFixed(cmd.Context())
			printBatch(cmd.OutOrStdout(), results, true)
			if err != nil {
				return err
			}
			regressions := 0
			for _, res := range results {
				if res.Regression {
					regressions++
				}
			}
			if regressions > 0 {
				red := color.New(color.FgRed, color.Bold).SprintFunc()
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d fixed bug(s) still reproduce\n", red("⚠"), regressions)
			}
			return nil
		},
	}
}

func newDevicesCmd(a *app) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List devices available for verification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			var targets []types.Target
			if refresh {
				a.svc.Devices.Refresh(ctx)
				targets = a.svc.Devices.Targets()
			} else {
				targets = a.svc.Devices.Available(ctx)
			}
			w := cmd.OutOrStdout()
			if len(targets) == 0 {
				yellow := color.New(color.FgYellow).SprintFunc()
				fmt.Fprintf(w, "%s No devices found\n", yellow("⚠"))
				return nil
			}
			green := color.New(color.FgGreen).SprintFunc()
			for _, t := range targets {
				fmt.Fprintf(w, "  %s %-24s %s\n", green("●"), t.ID, t.DisplayName())
			}
			fmt.Fprintf(w, "\n%d device(s)\n", len(targets))
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Query for devices again")
	return cmd
}
