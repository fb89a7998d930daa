package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Bug represents a tracked application defect
type Bug struct {
	ID                 string               `json:"id"`
	AppName            string               `json:"app_name"`
	AppPackage         string               `json:"app_package"`
	Description        string               `json:"bug"`
	Status             Status               `json:"status"`
	Severity           *int                 `json:"severity"`
	CreatedAt          time.Time            `json:"created_at"`
	LastVerifiedAt     *time.Time           `json:"last_verified,omitempty"`
	Notes              string               `json:"notes"`
	LatestVerification *VerificationSummary `json:"latest_verification,omitempty"`
}

// Validate checks if the bug has valid field values
func (b *Bug) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(b.AppPackage) == "" {
		return fmt.Errorf("app_package is required")
	}
	if strings.TrimSpace(b.Description) == "" {
		return fmt.Errorf("description is required")
	}
	if !b.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", b.Status)
	}
	if b.Severity != nil && (*b.Severity < MinSeverity || *b.Severity > MaxSeverity) {
		return fmt.Errorf("severity must be between %d and %d (got %d)", MinSeverity, MaxSeverity, *b.Severity)
	}
	return nil
}

// Clone returns a deep copy so callers never share state with the store.
func (b *Bug) Clone() *Bug {
	if b == nil {
		return nil
	}
	c := *b
	if b.Severity != nil {
		sev := *b.Severity
		c.Severity = &sev
	}
	if b.LastVerifiedAt != nil {
		t := *b.LastVerifiedAt
		c.LastVerifiedAt = &t
	}
	c.LatestVerification = b.LatestVerification.Clone()
	return &c
}

// SeverityValue returns the severity or 0 while it is still unassigned.
func (b *Bug) SeverityValue() int {
	if b.Severity == nil {
		return 0
	}
	return *b.Severity
}

// Severity bounds
const (
	MinSeverity     = 1
	MaxSeverity     = 5
	DefaultSeverity = 3
)

// ClampSeverity forces a score into [MinSeverity, MaxSeverity].
func ClampSeverity(s int) int {
	if s < MinSeverity {
		return MinSeverity
	}
	if s > MaxSeverity {
		return MaxSeverity
	}
	return s
}

// BugInput is a raw intake record as reported by a tester
type BugInput struct {
	AppName     string `json:"app_name" yaml:"app_name"`
	AppPackage  string `json:"app_package,omitempty" yaml:"app_package,omitempty"`
	Description string `json:"bug" yaml:"bug"`
}

// Validate checks the required intake fields
func (in BugInput) Validate() error {
	if strings.TrimSpace(in.AppName) == "" {
		return fmt.Errorf("app_name is required")
	}
	if strings.TrimSpace(in.Description) == "" {
		return fmt.Errorf("bug description is required")
	}
	return nil
}

// Confidence labels how much the targets agreed on a verdict
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// IsValid checks if the confidence value is valid
func (c Confidence) IsValid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// VerificationSummary records one consensus run across targets.
// It is replaced wholesale on every new run.
type VerificationSummary struct {
	RunID              string     `json:"run_id"`
	Timestamp          time.Time  `json:"timestamp"`
	Outcome            Status     `json:"outcome"`
	Steps              []string   `json:"steps"`
	RawObservations    string     `json:"raw_observations"`
	TargetsTested      int        `json:"targets_tested"`
	ReproducedCount    int        `json:"reproduced_count"`
	NotReproducedCount int        `json:"not_reproduced_count"`
	Confidence         Confidence `json:"confidence"`
	SummaryText        string     `json:"summary_text"`
	TargetNames        string     `json:"target_names"`
	Attempts           []Attempt  `json:"attempts,omitempty"`
}

// Reproduced reports whether the run's majority decision was "reproduced".
func (s *VerificationSummary) Reproduced() bool {
	return s != nil && s.Outcome == StatusVerified
}

// Clone returns a deep copy of the summary
func (s *VerificationSummary) Clone() *VerificationSummary {
	if s == nil {
		return nil
	}
	c := *s
	if s.Steps != nil {
		c.Steps = append([]string(nil), s.Steps...)
	}
	if s.Attempts != nil {
		c.Attempts = make([]Attempt, len(s.Attempts))
		for i, a := range s.Attempts {
			c.Attempts[i] = a
			if a.Steps != nil {
				c.Attempts[i].Steps = append([]string(nil), a.Steps...)
			}
		}
	}
	return &c
}

// Attempt is the per-target detail of a consensus run
type Attempt struct {
	TargetID   string   `json:"target_id"`
	TargetName string   `json:"target_name"`
	Reproduced bool     `json:"reproduced"`
	Failed     bool     `json:"failed,omitempty"`
	Steps      []string `json:"steps"`
	Narrative  string   `json:"narrative"`
	DurationMS int64    `json:"duration_ms"`
}

// Target is a device or emulator a reproduction can be attempted on
type Target struct {
	ID   string `json:"target_id"`
	Name string `json:"display_name"`
}

// DisplayName falls back to the target id when no name is known.
func (t Target) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.ID
}

// Statistics provides aggregate counts per status
type Statistics struct {
	Total           int `json:"total"`
	Pending         int `json:"pending"`
	Verified        int `json:"verified"`
	NotReproducible int `json:"not_reproducible"`
	Fixed           int `json:"fixed"`
}

// BugFilter is used to filter bug queries. Nil/empty fields match everything.
type BugFilter struct {
	Status     *Status
	AppPackage string
}

// Matches reports whether the bug satisfies every predicate in the filter.
func (f BugFilter) Matches(b *Bug) bool {
	if f.Status != nil && b.Status != *f.Status {
		return false
	}
	if f.AppPackage != "" && b.AppPackage != f.AppPackage {
		return false
	}
	return true
}

// SortNewestFirst orders bugs by created_at descending, ties broken by id.
func SortNewestFirst(bugs []*Bug) {
	sort.SliceStable(bugs, func(i, j int) bool {
		if !bugs[i].CreatedAt.Equal(bugs[j].CreatedAt) {
			return bugs[i].CreatedAt.After(bugs[j].CreatedAt)
		}
		return bugs[i].ID < bugs[j].ID
	})
}
