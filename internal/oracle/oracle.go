// Package oracle runs reproduction attempts of a bug on a single target.
//
// An Oracle is the black box that drives a device. Client wraps any Oracle
// and guarantees an Outcome: errors, panics and timeouts are converted into a
// failed, non-reproduced attempt and never escape to the caller.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/A-ryanVAT-S/Provify/internal/logging"
	"github.com/A-ryanVAT-S/Provify/internal/types"
)

// DefaultSteps is reported when an attempt streamed no progress at all.
var DefaultSteps = []string{"launch app", "execute scenario", "observe behavior"}

// FailurePrefix starts the narrative of every failed attempt.
const FailurePrefix = "Verification failed: "

// Report is what an Oracle concludes about one attempt
type Report struct {
	Reproduced   bool   `json:"bug_reproduced"`
	Observations string `json:"observations"`
}

// ProgressFunc receives free-form progress fragments while an attempt runs.
// It may be called from any goroutine.
type ProgressFunc func(fragment string)

// Oracle attempts to reproduce a bug on one target.
type Oracle interface {
	Attempt(ctx context.Context, target types.Target, bug *types.Bug, progress ProgressFunc) (*Report, error)
}

// Func adapts a plain function to the Oracle interface.
type Func func(ctx context.Context, target types.Target, bug *types.Bug, progress ProgressFunc) (*Report, error)

func (f Func) Attempt(ctx context.Context, target types.Target, bug *types.Bug, progress ProgressFunc) (*Report, error) {
	return f(ctx, target, bug, progress)
}

// Outcome is the result of one attempt on one target
type Outcome struct {
	Reproduced bool
	Steps      []string
	Narrative  string
	// Failed is set when the oracle errored, panicked or timed out
	Failed   bool
	Duration time.Duration
}

// Config bounds a single attempt
type Config struct {
	// Timeout per attempt; zero disables it
	Timeout time.Duration
	// MaxSteps caps the number of progress fragments kept
	MaxSteps int
	// MaxStepLength caps each fragment, in bytes
	MaxStepLength int
}

// DefaultConfig returns the default attempt limits
func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Minute,
		MaxSteps:      50,
		MaxStepLength: 500,
	}
}

// Client runs attempts through an Oracle with failure isolation.
type Client struct {
	oracle Oracle
	cfg    Config
	log    *slog.Logger
}

// NewClient wraps o. Zero limits in cfg fall back to DefaultConfig.
func NewClient(o Oracle, cfg Config) *Client {
	def := DefaultConfig()
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = def.MaxSteps
	}
	if cfg.MaxStepLength <= 0 {
		cfg.MaxStepLength = def.MaxStepLength
	}
	return &Client{oracle: o, cfg: cfg, log: logging.New("oracle")}
}

// Verify attempts to reproduce bug on target. It never returns an error.
func (c *Client) Verify(ctx context.Context, target types.Target, bug *types.Bug) Outcome {
	start := time.Now()
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	steps := &stepCollector{max: c.cfg.MaxSteps, maxLen: c.cfg.MaxStepLength}

	type result struct {
		report *Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("oracle panicked: %v", r)}
			}
		}()
		report, err := c.oracle.Attempt(ctx, target, bug, steps.add)
		done <- result{report: report, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res = result{err: fmt.Errorf("attempt aborted: %w", ctx.Err())}
	}

	out := Outcome{Steps: steps.close(), Duration: time.Since(start)}
	switch {
	case res.err != nil:
		out.Failed = true
		out.Narrative = FailurePrefix + res.err.Error()
		c.log.Warn("verification attempt failed", "bug_id", bug.ID, "target", target.ID, "error", res.err)
	case res.report == nil:
		out.Failed = true
		out.Narrative = FailurePrefix + "oracle returned no report"
		c.log.Warn("verification attempt returned no report", "bug_id", bug.ID, "target", target.ID)
	default:
		out.Reproduced = res.report.Reproduced
		out.Narrative = res.report.Observations
		c.log.Info("verification attempt finished", "bug_id", bug.ID, "target", target.ID,
			"reproduced", out.Reproduced, "steps", len(out.Steps), "duration", out.Duration)
	}
	return out
}

// stepCollector keeps bounded progress fragments. Fragments arriving after
// close are dropped; an oracle that ignores cancellation may still be running.
type stepCollector struct {
	mu     sync.Mutex
	steps  []string
	max    int
	maxLen int
	closed bool
}

func (s *stepCollector) add(fragment string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.steps) >= s.max || fragment == "" {
		return
	}
	s.steps = append(s.steps, truncateUTF8(fragment, s.maxLen))
}

func (s *stepCollector) close() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if len(s.steps) == 0 {
		return append([]string(nil), DefaultSteps...)
	}
	return append([]string(nil), s.steps...)
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
