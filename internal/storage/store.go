package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/A-ryanVAT-S/Provify/internal/ai"
	"github.com/A-ryanVAT-S/Provify/internal/deduplication"
	"github.com/A-ryanVAT-S/Provify/internal/identity"
	"github.com/A-ryanVAT-S/Provify/internal/logging"
	"github.com/A-ryanVAT-S/Provify/internal/metrics"
	"github.com/A-ryanVAT-S/Provify/internal/types"
)

// ErrInvalidInput is returned when an intake record is missing required fields
var ErrInvalidInput = errors.New("invalid bug input")

// Store owns the authoritative bug collection.
//
// Every mutation runs under one mutex together with its durable write, so a
// read-modify-persist sequence never interleaves with another. If the write
// fails the in-memory change is undone and the error wraps ErrPersistence.
type Store struct {
	mu      sync.Mutex
	backend Backend
	bugs    map[string]*types.Bug
	intake  []types.BugInput

	dedup    deduplication.Deduplicator
	packages ai.PackageResolver
	severity ai.SeverityScorer
	metrics  metrics.Recorder
	now      func() time.Time
	log      *slog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithResolver sets both the package resolver and the severity scorer.
func WithResolver(r ai.Resolver) Option {
	return func(s *Store) {
		s.packages = r
		s.severity = r
	}
}

// WithPackageResolver overrides the package resolver only.
func WithPackageResolver(r ai.PackageResolver) Option {
	return func(s *Store) {
		s.packages = r
	}
}

// WithSeverityScorer overrides the severity scorer only.
func WithSeverityScorer(r ai.SeverityScorer) Option {
	return func(s *Store) {
		s.severity = r
	}
}

// WithDeduplicator replaces the Jaccard deduplicator.
func WithDeduplicator(d deduplication.Deduplicator) Option {
	return func(s *Store) {
		s.dedup = d
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *Store) {
		s.metrics = metrics.Or(r)
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open loads the persisted collections from backend and returns a ready Store.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("storage backend is required")
	}
	s := &Store{
		backend:  backend,
		bugs:     make(map[string]*types.Bug),
		dedup:    deduplication.NewJaccardDeduplicator(),
		packages: ai.Fallback{},
		severity: ai.Fallback{},
		metrics:  metrics.Or(nil),
		now:      time.Now,
		log:      logging.New("store"),
	}
	for _, opt := range opts {
		opt(s)
	}

	bugs, err := backend.LoadBugs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load bugs: %w", err)
	}
	for _, b := range bugs {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("persisted bug %q is invalid: %w", b.ID, err)
		}
		s.bugs[b.ID] = b
	}
	s.intake, err = backend.LoadIntake(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load intake: %w", err)
	}

	s.log.Debug("store opened", "bugs", len(s.bugs), "intake", len(s.intake))
	return s, nil
}

// Close releases the backend
func (s *Store) Close() error {
	return s.backend.Close()
}

// Intake creates a bug, or returns the existing near-duplicate unchanged.
//
// The app name is title-cased. An empty package is resolved from the name,
// falling back to a synthetic "com.<name>" id. Severity is scored once, for
// new bugs only, defaulting to 3.
func (s *Store) Intake(ctx context.Context, appName, appPackage, description string) (*types.Bug, error) {
	in := types.BugInput{AppName: appName, AppPackage: appPackage, Description: description}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	name := identity.NormalizeAppName(appName)
	pkg := strings.TrimSpace(appPackage)
	if pkg == "" {
		pkg = s.resolvePackage(ctx, name)
	}

	if dup := s.findDuplicate(pkg, description); dup != nil {
		return dup, nil
	}

	// Scored outside the lock; the model call can take seconds.
	severity := s.scoreSeverity(ctx, description)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another intake may have created the same bug while we were scoring.
	if dup := s.findDuplicateLocked(pkg, description); dup != nil {
		return dup, nil
	}

	id := identity.AssignID(pkg, description)
	if existing, ok := s.bugs[id]; ok {
		s.log.Warn("id collision, returning existing bug", "bug_id", id, "app_package", pkg)
		s.metrics.RecordIntake(true)
		return existing.Clone(), nil
	}

	bug := &types.Bug{
		ID:          id,
		AppName:     name,
		AppPackage:  pkg,
		Description: description,
		Status:      types.StatusPending,
		Severity:    &severity,
		CreatedAt:   s.now(),
	}
	s.bugs[id] = bug
	if err := s.persistLocked(ctx); err != nil {
		delete(s.bugs, id)
		return nil, err
	}

	s.metrics.RecordIntake(false)
	s.log.Info("bug created", "bug_id", id, "app_package", pkg, "severity", severity)
	return bug.Clone(), nil
}

func (s *Store) findDuplicate(pkg, description string) *types.Bug {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findDuplicateLocked(pkg, description)
}

func (s *Store) findDuplicateLocked(pkg, description string) *types.Bug {
	decision := s.dedup.CheckDuplicate(pkg, description, s.sortedLocked())
	if !decision.IsDuplicate {
		return nil
	}
	existing, ok := s.bugs[decision.DuplicateOf]
	if !ok {
		return nil
	}
	s.metrics.RecordIntake(true)
	s.log.Info("duplicate intake", "bug_id", existing.ID, "similarity", decision.Similarity)
	return existing.Clone()
}

func (s *Store) resolvePackage(ctx context.Context, appName string) string {
	pkg, err := s.packages.ResolvePackage(ctx, appName)
	pkg = strings.TrimSpace(pkg)
	if err != nil || pkg == "" {
		fallback := ai.FallbackPackage(appName)
		s.log.Warn("package resolution unavailable, using fallback", "app_name", appName, "package", fallback, "error", err)
		return fallback
	}
	return pkg
}

func (s *Store) scoreSeverity(ctx context.Context, description string) int {
	sev, err := s.severity.ScoreSeverity(ctx, description)
	if err != nil {
		s.log.Warn("severity scoring unavailable, using default", "severity", types.DefaultSeverity, "error", err)
		return types.DefaultSeverity
	}
	return types.ClampSeverity(sev)
}

// IntakeBatch runs Intake for every record in order. An empty batch is
// rejected with ErrEmptyBatch. On error the bugs processed so far are
// returned with it.
func (s *Store) IntakeBatch(ctx context.Context, inputs []types.BugInput) ([]*types.Bug, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyBatch
	}
	return s.intakeAll(ctx, inputs)
}

func (s *Store) intakeAll(ctx context.Context, inputs []types.BugInput) ([]*types.Bug, error) {
	bugs := make([]*types.Bug, 0, len(inputs))
	for i, in := range inputs {
		bug, err := s.Intake(ctx, in.AppName, in.AppPackage, in.Description)
		if err != nil {
			return bugs, fmt.Errorf("record %d: %w", i, err)
		}
		bugs = append(bugs, bug)
	}
	return bugs, nil
}

// Get returns a copy of the bug
func (s *Store) Get(_ context.Context, id string) (*types.Bug, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bug, ok := s.bugs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return bug.Clone(), nil
}

// List returns matching bugs, newest first
func (s *Store) List(_ context.Context, filter types.BugFilter) ([]*types.Bug, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.Bug
	for _, b := range s.sortedLocked() {
		if filter.Matches(b) {
			out = append(out, b.Clone())
		}
	}
	return out, nil
}

// Stats counts bugs per status
func (s *Store) Stats(_ context.Context) (*types.Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &types.Statistics{Total: len(s.bugs)}
	for _, b := range s.bugs {
		switch b.Status {
		case types.StatusPending:
			stats.Pending++
		case types.StatusVerified:
			stats.Verified++
		case types.StatusNotReproducible:
			stats.NotReproducible++
		case types.StatusFixed:
			stats.Fixed++
		}
	}
	return stats, nil
}

// UpdateStatus moves a bug through the state machine, stamps last_verified_at
// and replaces the notes when notes is non-empty.
func (s *Store) UpdateStatus(ctx context.Context, id string, status types.Status, notes string) (*types.Bug, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bug, ok := s.bugs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := bug.Status.CanTransitionTo(status); err != nil {
		return nil, fmt.Errorf("bug %s: %w", id, err)
	}

	prev := *bug
	now := s.now()
	bug.Status = status
	bug.LastVerifiedAt = &now
	if notes != "" {
		bug.Notes = notes
	}
	if err := s.persistLocked(ctx); err != nil {
		*bug = prev
		return nil, err
	}

	s.log.Info("status updated", "bug_id", id, "from", prev.Status, "to", status)
	return bug.Clone(), nil
}

// UpdateNotes overwrites the free-text notes without touching status.
func (s *Store) UpdateNotes(ctx context.Context, id, notes string) (*types.Bug, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bug, ok := s.bugs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	prev := bug.Notes
	bug.Notes = notes
	if err := s.persistLocked(ctx); err != nil {
		bug.Notes = prev
		return nil, err
	}
	return bug.Clone(), nil
}

// AttachVerificationSummary replaces the bug's latest summary wholesale.
func (s *Store) AttachVerificationSummary(ctx context.Context, id string, summary *types.VerificationSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bug, ok := s.bugs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	prev := bug.LatestVerification
	bug.LatestVerification = summary.Clone()
	if err := s.persistLocked(ctx); err != nil {
		bug.LatestVerification = prev
		return err
	}
	return nil
}

// ApplyVerification records the result of a verification run in one write.
// The next status is chosen from the bug's status at the time of the call,
// not when the run started, so a bug marked fixed mid-run stays fixed when the
// run does not reproduce it. Notes replace the old ones when non-empty.
func (s *Store) ApplyVerification(ctx context.Context, id string, summary *types.VerificationSummary, notes string) (*types.Bug, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bug, ok := s.bugs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := types.VerificationTarget(bug.Status, summary.Reproduced())
	if err := bug.Status.CanTransitionTo(next); err != nil {
		return nil, fmt.Errorf("bug %s: %w", id, err)
	}

	prev := *bug
	now := s.now()
	bug.Status = next
	bug.LastVerifiedAt = &now
	if notes != "" {
		bug.Notes = notes
	}
	bug.LatestVerification = summary.Clone()
	if err := s.persistLocked(ctx); err != nil {
		*bug = prev
		return nil, err
	}

	s.log.Info("verification applied", "bug_id", id, "from", prev.Status, "to", next, "run_id", summary.RunID)
	return bug.Clone(), nil
}

// Delete removes the bug immediately and for good.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bug, ok := s.bugs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.bugs, id)
	if err := s.persistLocked(ctx); err != nil {
		s.bugs[id] = bug
		return err
	}

	s.log.Info("bug deleted", "bug_id", id)
	return nil
}

// RecordIntake appends raw reports to the intake collection.
func (s *Store) RecordIntake(ctx context.Context, inputs []types.BugInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]types.BugInput, 0, len(s.intake)+len(inputs))
	next = append(next, s.intake...)
	next = append(next, inputs...)
	return s.saveIntakeLocked(ctx, next)
}

// WriteSampleIntake replaces the intake collection with SampleIntake.
func (s *Store) WriteSampleIntake(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveIntakeLocked(ctx, SampleIntake())
}

// PendingIntake returns a copy of the raw intake collection.
func (s *Store) PendingIntake(_ context.Context) []types.BugInput {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]types.BugInput(nil), s.intake...)
}

// LoadIntake runs every raw intake record through Intake and returns how
// many were processed, duplicates included.
func (s *Store) LoadIntake(ctx context.Context) (int, error) {
	inputs := s.PendingIntake(ctx)
	bugs, err := s.intakeAll(ctx, inputs)
	return len(bugs), err
}

func (s *Store) saveIntakeLocked(ctx context.Context, inputs []types.BugInput) error {
	if err := s.backend.SaveIntake(ctx, inputs); err != nil {
		s.metrics.RecordPersistFailure()
		return fmt.Errorf("%w: save intake: %w", ErrPersistence, err)
	}
	s.intake = inputs
	return nil
}

// persistLocked writes the full collection, newest first. Caller holds mu.
func (s *Store) persistLocked(ctx context.Context) error {
	if err := s.backend.SaveBugs(ctx, s.sortedLocked()); err != nil {
		s.metrics.RecordPersistFailure()
		s.log.Error("persist failed, rolling back", "error", err)
		return fmt.Errorf("%w: save bugs: %w", ErrPersistence, err)
	}
	return nil
}

func (s *Store) sortedLocked() []*types.Bug {
	out := make([]*types.Bug, 0, len(s.bugs))
	for _, b := range s.bugs {
		out = append(out, b)
	}
	types.SortNewestFirst(out)
	return out
}

// SampleIntake is the example intake written by WriteSampleIntake.
func SampleIntake() []types.BugInput {
	return []types.BugInput{
		{AppName: "My App", AppPackage: "com.example.myapp", Description: "App crashes when uploading photo"},
		{AppName: "My App", AppPackage: "com.example.myapp", Description: "Login button not responding"},
	}
}
