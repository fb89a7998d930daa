// Package consensus runs a bug against several targets at once and turns the
// per-target outcomes into one majority verdict with a confidence level.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/A-ryanVAT-S/Provify/internal/logging"
	"github.com/A-ryanVAT-S/Provify/internal/metrics"
	"github.com/A-ryanVAT-S/Provify/internal/oracle"
	"github.com/A-ryanVAT-S/Provify/internal/types"
)

// ErrNoTargets is returned when a run is requested with no targets available
var ErrNoTargets = errors.New("no verification targets available")

// Verifier runs one attempt on one target. *oracle.Client implements it.
type Verifier interface {
	Verify(ctx context.Context, target types.Target, bug *types.Bug) oracle.Outcome
}

// Store is the part of the bug store the engine writes to.
type Store interface {
	Get(ctx context.Context, id string) (*types.Bug, error)
	List(ctx context.Context, filter types.BugFilter) ([]*types.Bug, error)
	ApplyVerification(ctx context.Context, id string, summary *types.VerificationSummary, notes string) (*types.Bug, error)
}

// Engine fans a bug out to every target, waits for all of them and records
// the majority decision.
type Engine struct {
	store    Store
	verifier Verifier
	metrics  metrics.Recorder
	now      func() time.Time
	newRunID func() string
	log      *slog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithMetrics attaches a metrics recorder
func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) {
		e.metrics = metrics.Or(r)
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithRunIDs overrides the run id generator
func WithRunIDs(gen func() string) Option {
	return func(e *Engine) {
		e.newRunID = gen
	}
}

// NewEngine creates an engine writing results to store
func NewEngine(store Store, verifier Verifier, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		verifier: verifier,
		metrics:  metrics.Or(nil),
		now:      time.Now,
		newRunID: uuid.NewString,
		log:      logging.New("consensus"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// VerifyBug loads the bug by id and runs VerifyAcrossTargets.
func (e *Engine) VerifyBug(ctx context.Context, id string, targets []types.Target) (*types.VerificationSummary, error) {
	bug, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.VerifyAcrossTargets(ctx, bug, targets)
}

// VerifyAcrossTargets attempts bug on every target concurrently, decides by
// majority, updates the bug status and attaches the summary.
//
// With no targets it returns ErrNoTargets and leaves the bug untouched. A
// started run is not cancelled by ctx: every attempt runs to the end of its
// own timeout and the verdict is stored even if the caller has gone away.
func (e *Engine) VerifyAcrossTargets(ctx context.Context, bug *types.Bug, targets []types.Target) (*types.VerificationSummary, error) {
	return e.run(ctx, bug, targets, nil)
}

// annotateFunc rewrites the notes stored with the new status.
type annotateFunc func(bug *types.Bug, summary *types.VerificationSummary) string

func (e *Engine) run(ctx context.Context, bug *types.Bug, targets []types.Target, annotate annotateFunc) (*types.VerificationSummary, error) {
	if bug == nil {
		return nil, fmt.Errorf("bug is required")
	}
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	start := e.now()
	runID := e.newRunID()
	log := e.log.With("bug_id", bug.ID, "run_id", runID)
	log.Info("verification started", "targets", len(targets))

	detached := context.WithoutCancel(ctx)
	attempts := e.fanOut(detached, bug, targets)
	summary := Summarize(attempts)
	summary.RunID = runID
	summary.Timestamp = e.now()

	notes := summary.RawObservations
	if annotate != nil {
		notes = annotate(bug, summary)
	}
	updated, err := e.store.ApplyVerification(detached, bug.ID, summary, notes)
	if err != nil {
		return nil, fmt.Errorf("failed to record verification of bug %s: %w", bug.ID, err)
	}

	elapsed := e.now().Sub(start)
	e.metrics.RecordVerification(string(summary.Outcome), elapsed)
	log.Info("verification finished", "outcome", summary.Outcome, "status", updated.Status,
		"reproduced", summary.ReproducedCount, "targets", summary.TargetsTested,
		"confidence", summary.Confidence, "duration", elapsed)
	return summary, nil
}

// fanOut runs one attempt per target and waits for all. Results keep target
// order regardless of completion order.
func (e *Engine) fanOut(ctx context.Context, bug *types.Bug, targets []types.Target) []types.Attempt {
	attempts := make([]types.Attempt, len(targets))

	var g errgroup.Group
	for i, target := range targets {
		g.Go(func() error {
			attempts[i] = e.attempt(ctx, target, bug)
			return nil
		})
	}
	_ = g.Wait()
	return attempts
}

// attempt never panics; a Verifier that does is recorded as a failed attempt.
func (e *Engine) attempt(ctx context.Context, target types.Target, bug *types.Bug) (a types.Attempt) {
	a = types.Attempt{TargetID: target.ID, TargetName: target.DisplayName()}
	defer func() {
		if r := recover(); r != nil {
			a.Reproduced = false
			a.Failed = true
			a.Steps = append([]string(nil), oracle.DefaultSteps...)
			a.Narrative = oracle.FailurePrefix + fmt.Sprint(r)
			e.log.Error("verifier panicked", "bug_id", bug.ID, "target", target.ID, "panic", r)
		}
		e.metrics.RecordTargetAttempt(a.Reproduced, a.Failed)
	}()

	out := e.verifier.Verify(ctx, target, bug.Clone())
	a.Reproduced = out.Reproduced
	a.Failed = out.Failed
	a.Steps = out.Steps
	a.Narrative = out.Narrative
	a.DurationMS = out.Duration.Milliseconds()
	return a
}

// Summarize applies the majority rule and confidence table to attempts,
// given in target order. RunID and Timestamp are left for the caller.
func Summarize(attempts []types.Attempt) *types.VerificationSummary {
	n := len(attempts)
	summary := &types.VerificationSummary{
		TargetsTested: n,
		Steps:         []string{},
		Attempts:      attempts,
	}

	observations := make([]string, 0, n)
	names := make([]string, 0, n)
	for _, a := range attempts {
		if a.Reproduced {
			summary.ReproducedCount++
		} else {
			summary.NotReproducedCount++
		}
		summary.Steps = append(summary.Steps, a.Steps...)
		observations = append(observations, fmt.Sprintf("[%s] %s", a.TargetName, a.Narrative))
		names = append(names, a.TargetName)
	}

	// ties are not reproduced
	reproduced := summary.ReproducedCount > summary.NotReproducedCount
	summary.Outcome = types.StatusNotReproducible
	if reproduced {
		summary.Outcome = types.StatusVerified
	}
	summary.Confidence = confidence(reproduced, summary.ReproducedCount, n, len(summary.Steps))
	summary.RawObservations = strings.Join(observations, "\n\n")
	summary.TargetNames = strings.Join(names, ", ")
	summary.SummaryText = summaryText(summary)
	return summary
}

func confidence(reproduced bool, reproducedCount, n, steps int) types.Confidence {
	if n == 1 {
		// a lone attempt is judged by how thorough it was
		high, medium := 5, 2
		if reproduced {
			high, medium = 3, 1
		}
		switch {
		case steps >= high:
			return types.ConfidenceHigh
		case steps >= medium:
			return types.ConfidenceMedium
		default:
			return types.ConfidenceLow
		}
	}

	agree := reproducedCount
	if n-reproducedCount > agree {
		agree = n - reproducedCount
	}
	ratio := float64(agree) / float64(n)
	switch {
	case ratio >= 0.8:
		return types.ConfidenceHigh
	case ratio >= 0.5:
		return types.ConfidenceMedium
	default:
		return types.ConfidenceLow
	}
}

func summaryText(s *types.VerificationSummary) string {
	verdict := "Bug reproduced"
	if !s.Reproduced() {
		verdict = "Bug not reproduced"
	}
	return fmt.Sprintf("%s: %d/%d targets reproduced the issue (%s) across %d steps. Confidence: %s.",
		verdict, s.ReproducedCount, s.TargetsTested, s.TargetNames, len(s.Steps), s.Confidence)
}
