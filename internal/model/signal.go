package model

import (
	"time"

	"flowengine/internal/fixedpoint"
)

// SignalType enumerates the candidate kinds spec.md §3 names. A
// compile-time enumerated set, per spec.md §9's redesign of the
// source's dynamic string event topics.
type SignalType string

const (
	SignalAbsorption       SignalType = "absorption"
	SignalExhaustion       SignalType = "exhaustion"
	SignalAccumulation     SignalType = "accumulation"
	SignalDistribution     SignalType = "distribution"
	SignalDeltaCVDConfirm  SignalType = "cvd_confirmation"
	SignalIceberg          SignalType = "iceberg"
)

// SignalCandidate is a detector's raw output before manager-side
// enrichment (spec.md §3).
type SignalCandidate struct {
	ID         string
	Type       SignalType
	Side       Side
	Price      fixedpoint.Value
	Confidence float64
	Timestamp  time.Time
	DetectorID string
	Data       map[string]any
}

// ProcessedSignal is a candidate after the signal manager's enrichment
// pipeline (spec.md §3/§4.9): adjusted confidence, a correlation id
// tying it to any conflicting sibling, and a computed priority.
type ProcessedSignal struct {
	SignalCandidate
	RawConfidence    float64
	AdjustedConfidence float64
	CorrelationID    string
	Priority         float64
	AcceptedAt       time.Time
	PositionSizing   float64
}

// LifecycleEvent enumerates the zone lifecycle events C11's
// ZoneManager emits (spec.md §4.6).
type LifecycleEvent string

const (
	ZoneCreated      LifecycleEvent = "zone_created"
	ZoneUpdated      LifecycleEvent = "zone_updated"
	ZoneStrengthened LifecycleEvent = "zone_strengthened"
	ZoneWeakened     LifecycleEvent = "zone_weakened"
	ZoneCompleted    LifecycleEvent = "zone_completed"
	ZoneInvalidated  LifecycleEvent = "zone_invalidated"
)

// ZoneChangeMetrics carries the strength delta that produced a
// lifecycle event.
type ZoneChangeMetrics struct {
	StrengthChange float64
}

// ZoneSignal is the at-most-one-per-lifecycle-event output of C11
// (spec.md §4.6).
type ZoneSignal struct {
	ZoneID             string
	ActionType         LifecycleEvent
	Urgency            string
	ExpectedDirection  Side
	InvalidationLevel  fixedpoint.Value
	BreakoutTarget     fixedpoint.Value
	StopLossLevel      fixedpoint.Value
	TakeProfitLevel    fixedpoint.Value
	PositionSizing     float64
	ChangeMetrics      ZoneChangeMetrics
	Timestamp          time.Time
}
