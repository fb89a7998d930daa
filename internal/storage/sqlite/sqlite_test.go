package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/A-ryanVAT-S/Provify/internal/types"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "provify.db"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestFailedSaveKeepsPreviousCollection verifies the IMMEDIATE transaction
// rolls back the DELETE when an insert violates the schema.
func TestFailedSaveKeepsPreviousCollection(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	now := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	good := []*types.Bug{{ID: "11112222", AppPackage: "com.a", Description: "crash", Status: types.StatusPending, CreatedAt: now}}
	if err := s.SaveBugs(ctx, good); err != nil {
		t.Fatalf("SaveBugs failed: %v", err)
	}

	bad := []*types.Bug{
		{ID: "33334444", AppPackage: "com.a", Description: "freeze", Status: types.StatusPending, CreatedAt: now},
		{ID: "55556666", AppPackage: "com.a", Description: "hang", Status: types.Status("archived"), CreatedAt: now},
	}
	if err := s.SaveBugs(ctx, bad); err == nil {
		t.Fatal("expected CHECK constraint failure for unknown status")
	}

	got, err := s.LoadBugs(ctx)
	if err != nil {
		t.Fatalf("LoadBugs failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "11112222" {
		t.Fatalf("previous collection not preserved: %+v", got)
	}
}

func TestNullableColumns(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	verified := time.Date(2025, 2, 3, 5, 0, 0, 123000000, time.UTC)
	sev := 5
	bugs := []*types.Bug{
		{ID: "aaaa0001", AppPackage: "com.a", Description: "bare", Status: types.StatusPending, CreatedAt: verified.Add(-time.Hour)},
		{ID: "aaaa0002", AppPackage: "com.a", Description: "full", Status: types.StatusVerified, Severity: &sev,
			CreatedAt: verified.Add(-2 * time.Hour), LastVerifiedAt: &verified},
	}
	if err := s.SaveBugs(ctx, bugs); err != nil {
		t.Fatalf("SaveBugs failed: %v", err)
	}

	got, err := s.LoadBugs(ctx)
	if err != nil {
		t.Fatalf("LoadBugs failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 bugs, got %d", len(got))
	}
	if got[0].Severity != nil || got[0].LastVerifiedAt != nil || got[0].LatestVerification != nil {
		t.Errorf("bare bug should have nil optional fields: %+v", got[0])
	}
	if got[1].Severity == nil || *got[1].Severity != 5 {
		t.Errorf("severity not restored: %v", got[1].Severity)
	}
	if got[1].LastVerifiedAt == nil || !got[1].LastVerifiedAt.Equal(verified) {
		t.Errorf("last_verified not restored: %v", got[1].LastVerifiedAt)
	}
}

func TestOrderingWithMixedPrecision(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	// ":00Z" sorts after ":00.5Z" as text but is the older timestamp
	base := time.Date(2025, 2, 3, 4, 5, 0, 0, time.UTC)
	bugs := []*types.Bug{
		{ID: "bbbb0001", AppPackage: "com.a", Description: "later", Status: types.StatusPending, CreatedAt: base.Add(500 * time.Millisecond)},
		{ID: "bbbb0002", AppPackage: "com.a", Description: "earlier", Status: types.StatusPending, CreatedAt: base},
	}
	if err := s.SaveBugs(ctx, bugs); err != nil {
		t.Fatalf("SaveBugs failed: %v", err)
	}
	got, err := s.LoadBugs(ctx)
	if err != nil {
		t.Fatalf("LoadBugs failed: %v", err)
	}
	if got[0].ID != "bbbb0001" {
		t.Errorf("expected newest first, got %s then %s", got[0].ID, got[1].ID)
	}
}
