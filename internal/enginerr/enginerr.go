// Package enginerr defines the error-kind taxonomy from spec.md §7 and
// the propagation helpers the rest of the engine uses so that only
// SnapshotUnavailable and ConfigInvalid ever escape a component boundary.
package enginerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error for metrics and propagation policy.
type Kind int

const (
	// InputMalformed: drop the input, count it, never escalate.
	InputMalformed Kind = iota
	// BookGap: triggers an order-book resync.
	BookGap
	// SnapshotUnavailable: escalates to the supervisor.
	SnapshotUnavailable
	// DetectorComputation: caught locally, counted toward that
	// detector's circuit breaker, never surfaced.
	DetectorComputation
	// DownstreamIOTimeout: retried with backoff, counted toward the
	// relevant sink's circuit breaker.
	DownstreamIOTimeout
	// ConfigInvalid: fails only at startup.
	ConfigInvalid
	// Shutdown: cooperative drain in progress.
	Shutdown
)

func (k Kind) String() string {
	switch k {
	case InputMalformed:
		return "input_malformed"
	case BookGap:
		return "book_gap"
	case SnapshotUnavailable:
		return "snapshot_unavailable"
	case DetectorComputation:
		return "detector_computation"
	case DownstreamIOTimeout:
		return "downstream_io_timeout"
	case ConfigInvalid:
		return "config_invalid"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind and the component that
// raised it, so handlers can branch on Kind without string matching.
type Error struct {
	Kind      Kind
	Component string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s[%s]: %v", e.Component, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified Error.
func New(kind Kind, component string, err error) *Error {
	return &Error{Kind: kind, Component: component, Err: err}
}

// Escapes reports whether errors of this kind are allowed to propagate
// out of the engine's cooperative loop per spec.md §7's propagation
// policy — only SnapshotUnavailable and ConfigInvalid escape.
func Escapes(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return true // unclassified errors are treated as escaping, fail loud
	}
	return e.Kind == SnapshotUnavailable || e.Kind == ConfigInvalid
}

// KindOf extracts the Kind from a (possibly wrapped) error, defaulting
// to DetectorComputation for unclassified errors so local recovery is
// the safe default.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return DetectorComputation
}
