package deduplication

import (
	"fmt"

	"github.com/A-ryanVAT-S/Provify/internal/types"
)

// Deduplicator decides whether a new report duplicates an existing bug.
//
// Example usage:
//
//	dedup := NewJaccardDeduplicator()
//	decision := dedup.CheckDuplicate(pkg, description, store.bugsFor(pkg))
//	if decision.IsDuplicate {
//	    return existing[decision.DuplicateOf], nil
//	}
type Deduplicator interface {
	// CheckDuplicate compares the candidate against every existing bug that
	// shares appPackage and returns the best match above the threshold.
	// Bugs for other packages are ignored.
	CheckDuplicate(appPackage, description string, existing []*types.Bug) DuplicateDecision
}

// DuplicateDecision represents the result of checking a single report for duplicates
type DuplicateDecision struct {
	// IsDuplicate is true if the candidate matched an existing bug
	IsDuplicate bool `json:"is_duplicate"`

	// DuplicateOf is the ID of the existing bug.
	// Only set when IsDuplicate is true
	DuplicateOf string `json:"duplicate_of,omitempty"`

	// Similarity is the best score seen, duplicate or not
	Similarity float64 `json:"similarity"`

	// ComparedCount is the number of same-package bugs compared against
	ComparedCount int `json:"compared_count"`
}

// Validate checks if the duplicate decision has valid values
func (d *DuplicateDecision) Validate() error {
	if d.Similarity < 0.0 || d.Similarity > 1.0 {
		return fmt.Errorf("similarity must be between 0.0 and 1.0 (got %.2f)", d.Similarity)
	}
	if d.IsDuplicate && d.DuplicateOf == "" {
		return fmt.Errorf("duplicate_of must be set when is_duplicate is true")
	}
	if !d.IsDuplicate && d.DuplicateOf != "" {
		return fmt.Errorf("duplicate_of should not be set when is_duplicate is false")
	}
	if d.IsDuplicate && d.Similarity <= Threshold {
		return fmt.Errorf("duplicate similarity %.2f does not exceed threshold %.2f", d.Similarity, Threshold)
	}
	if d.ComparedCount < 0 {
		return fmt.Errorf("compared_count cannot be negative (got %d)", d.ComparedCount)
	}
	return nil
}

// JaccardDeduplicator implements Deduplicator with word-set similarity
type JaccardDeduplicator struct{}

// NewJaccardDeduplicator creates the default deduplicator
func NewJaccardDeduplicator() *JaccardDeduplicator {
	return &JaccardDeduplicator{}
}

// CheckDuplicate returns the first existing bug, in slice order, whose
// similarity exceeds Threshold. When none does, Similarity holds the best
// score that was seen.
func (d *JaccardDeduplicator) CheckDuplicate(appPackage, description string, existing []*types.Bug) DuplicateDecision {
	var decision DuplicateDecision
	for _, bug := range existing {
		if bug == nil || bug.AppPackage != appPackage {
			continue
		}
		decision.ComparedCount++
		score := Similarity(description, bug.Description)
		if score > Threshold {
			decision.IsDuplicate = true
			decision.DuplicateOf = bug.ID
			decision.Similarity = score
			return decision
		}
		if score > decision.Similarity {
			decision.Similarity = score
		}
	}
	return decision
}
