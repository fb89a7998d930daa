package oracle

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/A-ryanVAT-S/Provify/internal/logging"
	"github.com/A-ryanVAT-S/Provify/internal/types"
)

// Placeholders substituted in AgentConfig.Args
const (
	DevicePlaceholder = "{device}"
	GoalPlaceholder   = "{goal}"
)

const (
	// maxStderrBytes caps the captured stderr tail
	maxStderrBytes = 8 * 1024
	// maxLineBytes is the scanner buffer ceiling for one stdout line
	maxLineBytes = 1 << 20
	waitDelay    = 5 * time.Second
)

// AgentConfig describes the external automation agent
type AgentConfig struct {
	// Command is the agent executable (default "droidrun")
	Command string
	// Args are passed before the device and goal. When no arg contains a
	// placeholder, "--device <serial> <goal>" is appended.
	Args       []string
	WorkingDir string
}

// AgentMessage is one JSON line written by the agent on stdout
type AgentMessage struct {
	Type         string `json:"type"`
	Content      string `json:"content,omitempty"`
	Reproduced   *bool  `json:"bug_reproduced,omitempty"`
	Observations string `json:"observations,omitempty"`
}

// AgentOracle spawns one agent process per attempt.
//
// Stdout is read line by line. {"type":"step"} lines and any non-JSON line are
// progress; the {"type":"result"} line carries the verdict. The process is
// killed when ctx is done.
type AgentOracle struct {
	cfg AgentConfig
	log *slog.Logger
}

// NewAgentOracle creates an oracle backed by cfg.Command
func NewAgentOracle(cfg AgentConfig) *AgentOracle {
	if cfg.Command == "" {
		cfg.Command = "droidrun"
	}
	return &AgentOracle{cfg: cfg, log: logging.New("agent")}
}

// Attempt runs the agent against target
func (a *AgentOracle) Attempt(ctx context.Context, target types.Target, bug *types.Bug, progress ProgressFunc) (*Report, error) {
	if bug == nil {
		return nil, fmt.Errorf("bug is required")
	}
	goal := BuildGoal(bug)

	cmd := exec.CommandContext(ctx, a.cfg.Command, a.buildArgs(target.ID, goal)...)
	cmd.Dir = a.cfg.WorkingDir
	cmd.Env = append(os.Environ(), "ANDROID_SERIAL="+target.ID)
	// grandchildren holding the pipes open must not outlive a kill
	cmd.WaitDelay = waitDelay

	stdout, stdoutW := io.Pipe()
	stderr := &tailWriter{max: maxStderrBytes}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent %q: %w", a.cfg.Command, err)
	}
	a.log.Debug("agent started", "bug_id", bug.ID, "target", target.ID, "pid", cmd.Process.Pid)

	waitCh := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		_ = stdoutW.Close()
		waitCh <- err
	}()

	report := readAgentOutput(stdout, progress)
	waitErr := <-waitCh

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("agent killed: %w", ctxErr)
	}
	if report != nil {
		// a verdict counts even when the agent exits non-zero afterwards
		return report, nil
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("agent exited with code %d: %s", exitErr.ExitCode(), stderr.lastLine())
		}
		return nil, fmt.Errorf("agent failed: %w", waitErr)
	}
	return nil, fmt.Errorf("agent produced no result")
}

func (a *AgentOracle) buildArgs(serial, goal string) []string {
	args := make([]string, 0, len(a.cfg.Args)+3)
	templated := false
	for _, arg := range a.cfg.Args {
		if strings.Contains(arg, DevicePlaceholder) || strings.Contains(arg, GoalPlaceholder) {
			templated = true
		}
		arg = strings.ReplaceAll(arg, DevicePlaceholder, serial)
		arg = strings.ReplaceAll(arg, GoalPlaceholder, goal)
		args = append(args, arg)
	}
	if !templated {
		args = append(args, "--device", serial, goal)
	}
	return args
}

// readAgentOutput consumes stdout until EOF and returns the last verdict seen.
func readAgentOutput(r io.Reader, progress ProgressFunc) *Report {
	var report *Report
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var msg AgentMessage
		if !strings.HasPrefix(line, "{") || json.Unmarshal([]byte(line), &msg) != nil {
			progress(line)
			continue
		}
		switch msg.Type {
		case "result":
			report = &Report{Observations: msg.Observations}
			if msg.Reproduced != nil {
				report.Reproduced = *msg.Reproduced
			}
		case "step":
			progress(msg.Content)
		default:
			if msg.Content != "" {
				progress(msg.Content)
			}
		}
	}
	// drain so the process never blocks on a full pipe
	_, _ = io.Copy(io.Discard, r)
	return report
}

// tailWriter keeps the last max bytes written to it.
type tailWriter struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.max; over > 0 {
		w.buf = w.buf[over:]
	}
	return len(p), nil
}

func (w *tailWriter) lastLine() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	lines := strings.Split(string(w.buf), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			return s
		}
	}
	return "no output"
}

// BuildGoal renders the reproduction instructions given to the agent.
func BuildGoal(bug *types.Bug) string {
	return fmt.Sprintf(`Attempt to reproduce this bug in %s (%s):

BUG: %s

INSTRUCTIONS:
1. Open the app %s
2. Try to reproduce the reported bug
3. Observe the app's behavior carefully
4. Report whether you observed: crashes, freezes, UI glitches, or errors
5. If the bug occurs, describe exactly what you saw
6. If the app behaves normally, report that the bug was not reproduced
7. Don't perform any actions unrelated to bug verification like file handling or social media interactions.
Be thorough and report all observations.`, bug.AppName, bug.AppPackage, bug.Description, bug.AppPackage)
}
