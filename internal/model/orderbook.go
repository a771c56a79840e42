package model

import (
	"time"

	"flowengine/internal/fixedpoint"
)

// PassiveLevel is one price level of resting liquidity (spec.md §3).
// Created on first touch, mutated only by the order book, destroyed by
// the pruner or a resync.
type PassiveLevel struct {
	Price       fixedpoint.Value
	Bid         fixedpoint.Value
	Ask         fixedpoint.Value
	Timestamp   time.Time
	AddedBid    fixedpoint.Value
	ConsumedBid fixedpoint.Value
	AddedAsk    fixedpoint.Value
	ConsumedAsk fixedpoint.Value
}

// Prunable reports whether both sides of the level are empty.
func (l PassiveLevel) Prunable() bool {
	return l.Bid.IsZero() && l.Ask.IsZero()
}

// DepthEntry is one (price, quantity) row of a depth delta or snapshot.
type DepthEntry struct {
	Price    fixedpoint.Value
	Quantity fixedpoint.Value
}

// DepthDelta is a differential order-book update (spec.md §4.1/§6).
type DepthDelta struct {
	FirstUpdateID int64
	FinalUpdateID int64
	Bids          []DepthEntry
	Asks          []DepthEntry
	Timestamp     time.Time
}

// DepthSnapshot is a REST-equivalent full snapshot (spec.md §6).
type DepthSnapshot struct {
	LastUpdateID int64
	Bids         []DepthEntry
	Asks         []DepthEntry
	Timestamp    time.Time
}

// OrderBookSnapshot is the derived, read-only view C3 hands to callers
// (spec.md §3). Best-bid < best-ask is an invariant of the book the
// snapshot is read from: a delta that leaves it crossed is followed by
// a resync from a fresh snapshot.
type OrderBookSnapshot struct {
	Timestamp         time.Time
	BestBid           fixedpoint.Value
	BestAsk           fixedpoint.Value
	Spread            fixedpoint.Value
	MidPrice          fixedpoint.Value
	Depth             map[string]PassiveLevel // keyed by Price.String() for a stable map key
	PassiveBidVolume  fixedpoint.Value
	PassiveAskVolume  fixedpoint.Value
	Imbalance         fixedpoint.Value
}

// HealthStatus classifies the book's freshness (spec.md §4.1).
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthStale    HealthStatus = "stale"
)

// BookHealth is C3's health() response.
type BookHealth struct {
	Status           HealthStatus
	LastUpdateMs     int64
	BidLevels        int
	AskLevels        int
	StreamConnected  bool
	TimeoutThreshold time.Duration
}
