// Package ai provides the LLM-backed package resolver and severity scorer.
//
// Both are strategies behind small interfaces. Callers must treat every error
// as ErrUnavailable and fall back to FallbackPackage and DefaultSeverity;
// a missing or failing model never fails an intake.
package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/A-ryanVAT-S/Provify/internal/types"
)

// ErrUnavailable is returned when a resolver cannot produce a usable answer
var ErrUnavailable = errors.New("resolver unavailable")

// PackageResolver maps an app display name to its Android package id
type PackageResolver interface {
	ResolvePackage(ctx context.Context, appName string) (string, error)
}

// SeverityScorer rates a bug description on the 1 to 5 scale
type SeverityScorer interface {
	ScoreSeverity(ctx context.Context, description string) (int, error)
}

// Resolver is both strategies at once, which is what the store wants.
type Resolver interface {
	PackageResolver
	SeverityScorer
}

// FallbackPackage derives the synthetic package id used when no resolver
// answers: "com." + the lower-cased name with spaces and dashes removed.
func FallbackPackage(appName string) string {
	name := strings.ToLower(strings.TrimSpace(appName))
	name = strings.NewReplacer(" ", "", "-", "").Replace(name)
	return "com." + name
}

// Fallback is the deterministic resolver used when no model is configured.
type Fallback struct{}

func (Fallback) ResolvePackage(_ context.Context, appName string) (string, error) {
	return FallbackPackage(appName), nil
}

func (Fallback) ScoreSeverity(context.Context, string) (int, error) {
	return types.DefaultSeverity, nil
}
