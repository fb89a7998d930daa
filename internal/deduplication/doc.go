// Package deduplication detects near-duplicate bug reports.
//
// # Overview
//
// Testers file the same defect many times with slightly different wording.
// Before the bug store creates a new record it asks the deduplicator whether
// an existing bug for the same app package already describes the problem.
//
// # Similarity
//
// Similarity is the Jaccard index of the two descriptions' word sets:
//
//	|words(a) ∩ words(b)| / |words(a) ∪ words(b)|
//
// Words are produced by lower-casing and splitting on whitespace. An empty
// word set on either side scores 0.
//
// # Threshold
//
// A candidate is a duplicate when its similarity to an existing description
// is strictly greater than Threshold (0.7). Only bugs that share the
// candidate's app package are compared.
//
// This is a coarse heuristic. Missed duplicates and occasional over-merging
// are both expected for a triage tool.
//
// # Usage
//
//	dedup := deduplication.NewJaccardDeduplicator()
//	decision := dedup.CheckDuplicate("com.whatsapp", "App crashes on photo upload", existing)
//	if decision.IsDuplicate {
//	    log.Info("duplicate intake", "bug_id", decision.DuplicateOf, "similarity", decision.Similarity)
//	}
package deduplication
