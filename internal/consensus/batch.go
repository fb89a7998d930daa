package consensus

import (
	"context"
	"fmt"

	"github.com/A-ryanVAT-S/Provify/internal/types"
)

// Annotation prefixes written to the notes of re-verified fixed bugs
const (
	RegressionPrefix   = "REGRESSION: Bug still exists! "
	FixConfirmedPrefix = "FIX CONFIRMED: "
)

// BatchResult is the outcome for one bug of a batch run
type BatchResult struct {
	BugID      string                     `json:"bug_id"`
	Summary    *types.VerificationSummary `json:"summary,omitempty"`
	Regression bool                       `json:"regression,omitempty"`
	Error      string                     `json:"error,omitempty"`
}

// VerifyPending runs every pending bug, one bug at a time, so at most
// len(targets) attempts are in flight. A failing bug does not stop the batch.
func (e *Engine) VerifyPending(ctx context.Context, targets []types.Target) ([]BatchResult, error) {
	return e.runBatch(ctx, types.StatusPending, targets, nil)
}

// ReverifyFixed runs every fixed bug again. A bug that reproduces is moved
// back to verified and annotated as a regression; otherwise the fix is
// confirmed and the bug stays fixed.
func (e *Engine) ReverifyFixed(ctx context.Context, targets []types.Target) ([]BatchResult, error) {
	return e.runBatch(ctx, types.StatusFixed, targets, annotateRecheck)
}

func annotateRecheck(_ *types.Bug, s *types.VerificationSummary) string {
	if s.Reproduced() {
		return RegressionPrefix + s.RawObservations
	}
	return FixConfirmedPrefix + s.RawObservations
}

func (e *Engine) runBatch(ctx context.Context, status types.Status, targets []types.Target, annotate annotateFunc) ([]BatchResult, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	bugs, err := e.store.List(ctx, types.BugFilter{Status: &status})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s bugs: %w", status, err)
	}

	e.log.Info("batch verification started", "status", status, "bugs", len(bugs), "targets", len(targets))
	results := make([]BatchResult, 0, len(bugs))
	for _, bug := range bugs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := BatchResult{BugID: bug.ID}
		summary, err := e.run(ctx, bug, targets, annotate)
		if err != nil {
			e.log.Error("batch verification failed for bug", "bug_id", bug.ID, "error", err)
			res.Error = err.Error()
		} else {
			res.Summary = summary
			res.Regression = status == types.StatusFixed && summary.Reproduced()
		}
		results = append(results, res)
	}
	return results, nil
}
