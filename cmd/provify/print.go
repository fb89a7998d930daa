package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/A-ryanVAT-S/Provify/internal/consensus"
	"github.com/A-ryanVAT-S/Provify/internal/types"
)

// statusColor picks the color a status is printed in
func statusColor(s types.Status) func(a ...interface{}) string {
	switch s {
	case types.StatusPending:
		return color.New(color.FgYellow).SprintFunc()
	case types.StatusVerified:
		return color.New(color.FgRed).SprintFunc()
	case types.StatusFixed:
		return color.New(color.FgGreen).SprintFunc()
	default:
		return color.New(color.FgHiBlack).SprintFunc()
	}
}

func printBugs(w io.Writer, bugs []*types.Bug) {
	if len(bugs) == 0 {
		fmt.Fprintln(w, "No bugs found.")
		return
	}
	cyan := color.New(color.FgCyan).SprintFunc()
	for _, bug := range bugs {
		label := statusColor(bug.Status)(fmt.Sprintf("[%s]", strings.ToUpper(string(bug.Status))))
		fmt.Fprintf(w, "%s %s %s (sev %d)\n", cyan(bug.ID), label, bug.AppPackage, bug.SeverityValue())
		fmt.Fprintf(w, "    %s\n", bug.Description)
	}
	fmt.Fprintf(w, "\n%d bug(s)\n", len(bugs))
}

func printBug(w io.Writer, bug *types.Bug) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(w, "\n%s\n\n", cyan("Bug "+bug.ID))
	fmt.Fprintf(w, "  Status:   %s\n", statusColor(bug.Status)(string(bug.Status)))
	fmt.Fprintf(w, "  App:      %s (%s)\n", bug.AppName, bug.AppPackage)
	fmt.Fprintf(w, "  Bug:      %s\n", bug.Description)
	fmt.Fprintf(w, "  Severity: %d\n", bug.SeverityValue())
	fmt.Fprintf(w, "  Created:  %s\n", bug.CreatedAt.Format("2006-01-02 15:04:05"))
	if bug.LastVerifiedAt != nil {
		fmt.Fprintf(w, "  Verified: %s\n", bug.LastVerifiedAt.Format("2006-01-02 15:04:05"))
	}
	if bug.Notes != "" {
		fmt.Fprintf(w, "  Notes:    %s\n", bug.Notes)
	}
}

func printSummary(w io.Writer, s *types.VerificationSummary) {
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	fmt.Fprintf(w, "\n%s\n", yellow("Latest verification:"))
	fmt.Fprintf(w, "  %s\n", s.SummaryText)
	fmt.Fprintf(w, "  %s\n", gray(fmt.Sprintf("run %s at %s", s.RunID, s.Timestamp.Format("2006-01-02 15:04:05"))))
	for _, a := range s.Attempts {
		mark := color.GreenString("✗ not reproduced")
		switch {
		case a.Failed:
			mark = color.HiBlackString("! attempt failed")
		case a.Reproduced:
			mark = color.RedString("✓ reproduced")
		}
		fmt.Fprintf(w, "  %-20s %s (%d steps, %dms)\n", a.TargetName, mark, len(a.Steps), a.DurationMS)
	}
	fmt.Fprintln(w)
}

// printBatch prints one line per bug of a batch run
func printBatch(w io.Writer, results []consensus.BatchResult, recheck bool) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No bugs to verify.")
		return
	}
	cyan := color.New(color.FgCyan).SprintFunc()
	for _, res := range results {
		var outcome string
		switch {
		case res.Error != "":
			outcome = color.RedString("error: %s", res.Error)
		case res.Regression:
			outcome = color.New(color.FgRed, color.Bold).Sprint("REGRESSION")
		case recheck:
			outcome = color.GreenString("fix confirmed")
		case res.Summary.Reproduced():
			outcome = color.RedString("verified (%s)", res.Summary.Confidence)
		default:
			outcome = fmt.Sprintf("not reproducible (%s)", res.Summary.Confidence)
		}
		fmt.Fprintf(w, "  %s  %s\n", cyan(res.BugID), outcome)
	}
	fmt.Fprintf(w, "\n%d bug(s) processed\n", len(results))
}
