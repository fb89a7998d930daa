package types

import (
	"errors"
	"fmt"
	"strings"
)

// Status represents the verification lifecycle state of a bug
//
// State flow:
//   - pending → verified | not_reproducible (verification outcome)
//   - verified → fixed (developer action)
//   - fixed → verified (regression found on re-verification)
//   - verified ⇄ not_reproducible (re-verification, flapping is allowed)
//   - fixed → fixed (re-verification confirmed the fix)
//
// Nothing ever returns to pending.
type Status string

const (
	StatusPending         Status = "pending"
	StatusVerified        Status = "verified"
	StatusNotReproducible Status = "not_reproducible"
	StatusFixed           Status = "fixed"
)

// AllStatuses lists every status in display order
var AllStatuses = []Status{StatusPending, StatusVerified, StatusNotReproducible, StatusFixed}

var (
	// ErrInvalidStatus is returned for a status outside the lifecycle
	ErrInvalidStatus = errors.New("invalid status")
	// ErrInvalidTransition is returned when the state machine forbids a move
	ErrInvalidTransition = errors.New("invalid status transition")
)

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusVerified:        {},
		StatusNotReproducible: {},
	},
	StatusVerified: {
		StatusVerified:        {},
		StatusNotReproducible: {},
		StatusFixed:           {},
	},
	StatusNotReproducible: {
		StatusVerified:        {},
		StatusNotReproducible: {},
	},
	StatusFixed: {
		StatusVerified: {},
		StatusFixed:    {},
	},
}

// IsValid checks if the status value is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusNotReproducible, StatusFixed:
		return true
	}
	return false
}

// ParseStatus normalises and validates an incoming status string
func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return status, nil
}

// CanTransitionTo verifies whether a transition to the target status is allowed
func (s Status) CanTransitionTo(target Status) error {
	if !s.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	if !target.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}
	if _, ok := allowedTransitions[s][target]; ok {
		return nil
	}
	return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, s, target)
}

// VerificationTarget maps a verification decision onto the next status.
// A fixed bug that does not reproduce stays fixed; every other bug moves to
// verified or not_reproducible.
func VerificationTarget(current Status, reproduced bool) Status {
	if reproduced {
		return StatusVerified
	}
	if current == StatusFixed {
		return StatusFixed
	}
	return StatusNotReproducible
}
