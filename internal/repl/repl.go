package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/A-ryanVAT-S/Provify/internal/service"
	"github.com/A-ryanVAT-S/Provify/internal/types"
)

// lineReader is the part of *readline.Instance the menu needs
type lineReader interface {
	Readline() (string, error)
	SetPrompt(string)
}

// REPL represents the interactive verification menu
type REPL struct {
	svc      *service.Service
	rl       lineReader
	in       io.ReadCloser
	out      io.Writer
	ctx      context.Context
	commands map[string]CommandHandler
}

// CommandHandler handles a menu choice
type CommandHandler func() error

// Config holds REPL configuration
type Config struct {
	Service *service.Service
	// Stdin and Stdout default to the process streams
	Stdin  io.ReadCloser
	Stdout io.Writer
}

const menuPrompt = "provify> "

// New creates a new REPL instance
func New(cfg *Config) (*REPL, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("service is required")
	}

	out := cfg.Stdout
	if out == nil {
		out = os.Stdout
	}

	r := &REPL{
		svc:      cfg.Service,
		in:       cfg.Stdin,
		out:      out,
		commands: make(map[string]CommandHandler),
	}
	r.registerCommands()
	return r, nil
}

// Run starts the menu loop on a readline terminal
func (r *REPL) Run(ctx context.Context) error {
	cyan := color.New(color.FgCyan).SprintFunc()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cyan(menuPrompt),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdin:             r.in,
		Stdout:            r.out,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	return r.loop(ctx, rl)
}

func (r *REPL) loop(ctx context.Context, rl lineReader) error {
	r.ctx = ctx
	r.rl = rl

	r.printWelcome()
	r.printMenu()

	for {
		r.rl.SetPrompt(color.New(color.FgCyan).Sprint(menuPrompt))
		line, err := r.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			} else if errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out, "\nGoodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := r.processInput(line); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			red := color.New(color.FgRed).SprintFunc()
			fmt.Fprintf(r.out, "%s %v\n", red("Error:"), err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// processInput dispatches one menu choice
func (r *REPL) processInput(line string) error {
	choice := strings.ToLower(strings.Fields(line)[0])
	if handler, ok := r.commands[choice]; ok {
		return handler()
	}
	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Fprintf(r.out, "%s Invalid option %q. Type 'help' to see the menu.\n", yellow("Note:"), choice)
	return nil
}

// menuItem is one numbered entry of the menu
type menuItem struct {
	key     string
	label   string
	handler CommandHandler
}

func (r *REPL) menu() []menuItem {
	return []menuItem{
		{"1", "Load bugs from intake", r.cmdLoad},
		{"2", "View all bugs", r.viewer(nil, "All Bugs")},
		{"3", "View pending bugs", r.viewer(statusPtr(types.StatusPending), "Pending Bugs")},
		{"4", "View verified bugs", r.viewer(statusPtr(types.StatusVerified), "Verified Bugs")},
		{"5", "View fixed bugs", r.viewer(statusPtr(types.StatusFixed), "Fixed Bugs")},
		{"6", "Verify a bug", r.cmdVerify},
		{"7", "Verify all pending bugs", r.cmdVerifyAll},
		{"8", "Mark bug as fixed", r.cmdMarkFixed},
		{"9", "Re-verify fixed bugs", r.cmdReverify},
		{"10", "Create sample intake", r.cmdSample},
		{"0", "Exit", r.cmdExit},
	}
}

// registerCommands registers the numbered menu plus word aliases
func (r *REPL) registerCommands() {
	for _, item := range r.menu() {
		r.commands[item.key] = item.handler
	}
	r.commands["help"] = r.cmdHelp
	r.commands["?"] = r.cmdHelp
	r.commands["menu"] = r.cmdHelp
	r.commands["stats"] = r.cmdStats
	r.commands["exit"] = r.cmdExit
	r.commands["quit"] = r.cmdExit
}

// printWelcome prints the banner
func (r *REPL) printWelcome() {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n", cyan("PROVIFY - Bug Verification"))
	fmt.Fprintln(r.out, "Consensus bug reproduction across devices")
	fmt.Fprintln(r.out)
	if err := r.cmdStats(); err != nil {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Fprintf(r.out, "%s %v\n", red("Error:"), err)
	}
}

func (r *REPL) printMenu() {
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintln(r.out)
	for _, item := range r.menu() {
		fmt.Fprintf(r.out, "  %3s. %s\n", green(item.key), item.label)
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "Type a number, 'help' for this menu or 'exit' to quit")
	fmt.Fprintln(r.out)
}

func (r *REPL) cmdHelp() error {
	r.printMenu()
	return nil
}

// cmdStats prints the per-status totals
func (r *REPL) cmdStats() error {
	stats, err := r.svc.Store.Stats(r.ctx)
	if err != nil {
		return fmt.Errorf("failed to get statistics: %w", err)
	}
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(r.out, "  Total: %d | %s: %d | %s: %d | %s: %d | Not reproducible: %d | Devices: %d\n",
		stats.Total,
		yellow("Pending"), stats.Pending,
		red("Verified"), stats.Verified,
		green("Fixed"), stats.Fixed,
		stats.NotReproducible,
		r.svc.Devices.Count())
	return nil
}

func (r *REPL) cmdLoad() error {
	n, err := r.svc.Store.LoadIntake(r.ctx)
	if err != nil {
		return fmt.Errorf("failed to load intake: %w", err)
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "\n%s Loaded %d bugs from intake\n", green("✓"), n)
	return r.cmdStats()
}

func (r *REPL) cmdSample() error {
	if err := r.svc.Store.WriteSampleIntake(r.ctx); err != nil {
		return fmt.Errorf("failed to write sample intake: %w", err)
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "\n%s Sample intake created with %d bugs. Choose 1 to load it.\n", green("✓"), len(r.svc.Store.PendingIntake(r.ctx)))
	return nil
}

// viewer returns a handler listing bugs with the given status (nil for all)
func (r *REPL) viewer(status *types.Status, title string) CommandHandler {
	return func() error {
		bugs, err := r.svc.Store.List(r.ctx, types.BugFilter{Status: status})
		if err != nil {
			return fmt.Errorf("failed to list bugs: %w", err)
		}
		r.displayBugs(bugs, title)
		return nil
	}
}

func (r *REPL) displayBugs(bugs []*types.Bug, title string) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n\n", cyan(fmt.Sprintf("%s (%d bugs)", title, len(bugs))))
	if len(bugs) == 0 {
		fmt.Fprintln(r.out, "  No bugs found.")
		return
	}
	for i, bug := range bugs {
		fmt.Fprintf(r.out, "  %d. [%s] ID: %s\n", i+1, strings.ToUpper(string(bug.Status)), bug.ID)
		fmt.Fprintf(r.out, "     App: %s (%s)\n", bug.AppName, bug.AppPackage)
		fmt.Fprintf(r.out, "     Bug: %s\n", bug.Description)
		fmt.Fprintf(r.out, "     Severity: %d\n", bug.SeverityValue())
		if bug.Notes != "" {
			fmt.Fprintf(r.out, "     Notes: %s\n", bug.Notes)
		}
		fmt.Fprintln(r.out)
	}
}

// ask reads one answer line with its own prompt
func (r *REPL) ask(prompt string) (string, error) {
	r.rl.SetPrompt(prompt)
	line, err := r.rl.Readline()
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// pickBug lists candidates with status and asks for one id
func (r *REPL) pickBug(status types.Status, title, question string) (string, error) {
	bugs, err := r.svc.Store.List(r.ctx, types.BugFilter{Status: &status})
	if err != nil {
		return "", fmt.Errorf("failed to list bugs: %w", err)
	}
	if len(bugs) == 0 {
		fmt.Fprintf(r.out, "\n  No %s bugs.\n", strings.ReplaceAll(string(status), "_", " "))
		return "", nil
	}
	r.displayBugs(bugs, title)
	return r.ask(question)
}

func (r *REPL) cmdVerify() error {
	id, err := r.pickBug(types.StatusPending, "Pending Bugs", "  Enter bug ID to verify: ")
	if err != nil || id == "" {
		return err
	}
	bug, err := r.svc.Store.Get(r.ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(r.out, "\n  Verifying: %s\n", bug.Description)
	fmt.Fprintf(r.out, "  Running the agent on %d device(s)...\n\n", len(r.svc.Devices.Available(r.ctx)))

	summary, err := r.svc.VerifyBug(r.ctx, id)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	r.printSummary(summary)
	return nil
}

func (r *REPL) printSummary(s *types.VerificationSummary) {
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	if s.Reproduced() {
		fmt.Fprintf(r.out, "  %s %s\n", red("BUG VERIFIED:"), s.SummaryText)
	} else {
		fmt.Fprintf(r.out, "  %s %s\n", green("NOT REPRODUCIBLE:"), s.SummaryText)
	}
	for _, a := range s.Attempts {
		mark := "✗"
		if a.Reproduced {
			mark = "✓"
		}
		fmt.Fprintf(r.out, "    %s %s (%d steps)\n", mark, a.TargetName, len(a.Steps))
	}
}

func (r *REPL) cmdVerifyAll() error {
	pending, err := r.svc.Store.Stats(r.ctx)
	if err != nil {
		return fmt.Errorf("failed to get statistics: %w", err)
	}
	if pending.Pending == 0 {
		fmt.Fprintln(r.out, "\n  No pending bugs to verify.")
		return nil
	}
	fmt.Fprintf(r.out, "\n  Verifying %d pending bugs...\n\n", pending.Pending)

	results, err := r.svc.VerifyPending(r.ctx)
	for _, res := range results {
		switch {
		case res.Error != "":
			fmt.Fprintf(r.out, "  %s  %s\n", res.BugID, color.RedString("ERROR: %s", res.Error))
		case res.Summary.Reproduced():
			fmt.Fprintf(r.out, "  %s  VERIFIED (%s)\n", res.BugID, res.Summary.Confidence)
		default:
			fmt.Fprintf(r.out, "  %s  NOT REPRODUCIBLE (%s)\n", res.BugID, res.Summary.Confidence)
		}
	}
	if err != nil {
		return fmt.Errorf("batch verification failed: %w", err)
	}
	fmt.Fprintln(r.out, "\n  All pending bugs processed.")
	return nil
}

func (r *REPL) cmdMarkFixed() error {
	id, err := r.pickBug(types.StatusVerified, "Verified Bugs", "  Enter bug ID to mark as fixed: ")
	if err != nil || id == "" {
		return err
	}
	if _, err := r.svc.MarkFixed(r.ctx, id); err != nil {
		return err
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "  %s Bug %s marked as fixed.\n", green("✓"), id)
	return nil
}

func (r *REPL) cmdReverify() error {
	stats, err := r.svc.Store.Stats(r.ctx)
	if err != nil {
		return fmt.Errorf("failed to get statistics: %w", err)
	}
	if stats.Fixed == 0 {
		fmt.Fprintln(r.out, "\n  No fixed bugs to re-verify.")
		return nil
	}
	fmt.Fprintf(r.out, "\n  Re-verifying %d fixed bugs...\n\n", stats.Fixed)

	results, err := r.svc.ReverifyFixed(r.ctx)
	for _, res := range results {
		switch {
		case res.Error != "":
			fmt.Fprintf(r.out, "  %s  %s\n", res.BugID, color.RedString("ERROR: %s", res.Error))
		case res.Regression:
			fmt.Fprintf(r.out, "  %s  %s\n", res.BugID, color.New(color.FgRed, color.Bold).Sprint("REGRESSION DETECTED!"))
		default:
			fmt.Fprintf(r.out, "  %s  Fix confirmed\n", res.BugID)
		}
	}
	if err != nil {
		return fmt.Errorf("re-verification failed: %w", err)
	}
	fmt.Fprintln(r.out, "\n  Re-verification complete.")
	return nil
}

// cmdExit exits the REPL
func (r *REPL) cmdExit() error {
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "\n%s Goodbye!\n", green("✓"))
	return io.EOF
}

func statusPtr(s types.Status) *types.Status {
	return &s
}
