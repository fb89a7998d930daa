package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/A-ryanVAT-S/Provify/internal/storage"
	"github.com/A-ryanVAT-S/Provify/internal/types"
)

// intakeFile is the wrapped form of an intake file: {"bugs": [...]}
type intakeFile struct {
	Bugs []types.BugInput `yaml:"bugs"`
}

// parseIntake reads a list of reports from JSON or YAML. Both a bare list
// and a document with a top-level "bugs" list are accepted.
func parseIntake(data []byte) ([]types.BugInput, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, storage.ErrEmptyBatch
	}

	var inputs []types.BugInput
	if err := yaml.Unmarshal(data, &inputs); err != nil {
		var wrapped intakeFile
		if werr := yaml.Unmarshal(data, &wrapped); werr != nil {
			return nil, fmt.Errorf("failed to parse intake: %w", err)
		}
		inputs = wrapped.Bugs
	}
	if len(inputs) == 0 {
		return nil, storage.ErrEmptyBatch
	}
	for i, in := range inputs {
		if err := in.Validate(); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", storage.ErrInvalidInput, i+1, err)
		}
	}
	return inputs, nil
}

func newImportCmd(a *app) *cobra.Command {
	var queue bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import bug reports from a JSON or YAML file",
		Long: `Import a list of bug reports. Each entry needs app_name and bug; app_package
is resolved from the app name when missing.

With --queue the reports are only appended to the intake queue and are
processed later by 'provify load'.

Example file:
  - app_name: My App
    app_package: com.example.myapp
    bug: App crashes when uploading photo`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			inputs, err := parseIntake(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			green := color.New(color.FgGreen).SprintFunc()
			if queue {
				if err := a.svc.Store.RecordIntake(cmd.Context(), inputs); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Queued %d reports\n", green("✓"), len(inputs))
				return nil
			}

			bugs, err := a.svc.Store.IntakeBatch(cmd.Context(), inputs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Imported %d reports\n", green("✓"), len(bugs))
			printBugs(cmd.OutOrStdout(), uniqueBugs(bugs))
			return nil
		},
	}
	cmd.Flags().BoolVar(&queue, "queue", false, "Append to the intake queue instead of processing now")
	return cmd
}

// uniqueBugs drops repeats, which IntakeBatch returns for merged duplicates.
func uniqueBugs(bugs []*types.Bug) []*types.Bug {
	seen := make(map[string]bool, len(bugs))
	out := make([]*types.Bug, 0, len(bugs))
	for _, b := range bugs {
		if seen[b.ID] {
			continue
		}
		seen[b.ID] = true
		out = append(out, b)
	}
	return out
}

func newLoadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Process every report in the intake queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := a.svc.Store.LoadIntake(cmd.Context())
			if err != nil {
				return err
			}
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Fprintf(cmd.OutOrStdout(), "%s Loaded %d bugs from intake\n", green("✓"), n)
			return nil
		},
	}
}

func newSampleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sample",
		Short: "Replace the intake queue with sample reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.svc.Store.WriteSampleIntake(cmd.Context()); err != nil {
				return err
			}
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Fprintf(cmd.OutOrStdout(), "%s Sample intake created with %d reports. Run 'provify load' to process them.\n",
				green("✓"), len(storage.SampleIntake()))
			return nil
		},
	}
}
