// Package model holds the core data-model entities from spec.md §3,
// shared across the order book, preprocessor, detectors and signal
// manager. Keeping them in one package avoids import cycles between
// C3-C13, mirroring the teacher's database/types and
// database/models_pkg split between wire-shaped and domain-shaped
// records.
package model

import (
	"time"

	"flowengine/internal/fixedpoint"
)

// Side is a trade or signal direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// AggressiveTrade is the immutable wire-level trade event (spec.md §3).
type AggressiveTrade struct {
	TradeID      string
	Pair         string
	Price        fixedpoint.Value
	Quantity     fixedpoint.Value
	Timestamp    time.Time
	BuyerIsMaker bool
}

// Side derives the aggressor side: a market buy lifts the ask (maker
// is the seller, so BuyerIsMaker=false means the aggressor bought).
func (t AggressiveTrade) Side() Side {
	if t.BuyerIsMaker {
		return SideSell
	}
	return SideBuy
}

// ZoneSnapshot aggregates aggressive and passive volume within a
// tick-window band around a reference price (spec.md §3).
type ZoneSnapshot struct {
	PriceLevel          fixedpoint.Value
	TickSize            fixedpoint.Value
	TickWindow          int
	AggressiveVolume    fixedpoint.Value
	PassiveVolume       fixedpoint.Value
	AggressiveBuyVolume fixedpoint.Value
	AggressiveSellVolume fixedpoint.Value
	PassiveBidVolume    fixedpoint.Value
	PassiveAskVolume    fixedpoint.Value
	TradeCount          int
	FirstUpdate         time.Time
	LastUpdate          time.Time
	Boundaries          struct {
		Min fixedpoint.Value
		Max fixedpoint.Value
	}
	VolumeWeightedPrice fixedpoint.Value
	sumPriceQty         fixedpoint.Value // running sum of price*qty, internal to VWAP upkeep
}

// Timespan is LastUpdate - FirstUpdate.
func (z ZoneSnapshot) Timespan() time.Duration {
	if z.FirstUpdate.IsZero() {
		return 0
	}
	return z.LastUpdate.Sub(z.FirstUpdate)
}

// ApplyTrade folds one aggressive fill into the zone, maintaining the
// invariants spec.md §3/§4.3 require: aggressive volume splits by
// side, passive buckets are refreshed by the caller (C5 has the live
// book snapshot), and VWAP is updated by a running sum, never a naive
// average-of-averages.
func (z *ZoneSnapshot) ApplyTrade(trade AggressiveTrade) {
	if z.FirstUpdate.IsZero() {
		z.FirstUpdate = trade.Timestamp
	}
	z.LastUpdate = trade.Timestamp
	z.TradeCount++
	z.AggressiveVolume = z.AggressiveVolume.Add(trade.Quantity)
	if trade.Side() == SideBuy {
		z.AggressiveBuyVolume = z.AggressiveBuyVolume.Add(trade.Quantity)
	} else {
		z.AggressiveSellVolume = z.AggressiveSellVolume.Add(trade.Quantity)
	}
	z.sumPriceQty = z.sumPriceQty.Add(trade.Price.Mul(trade.Quantity))
	if !z.AggressiveVolume.IsZero() {
		z.VolumeWeightedPrice = z.sumPriceQty.Div(z.AggressiveVolume)
	}
}

// RefreshPassive overwrites the zone's passive buckets from a live
// book read; C5 calls this every update since passive liquidity is
// owned exclusively by C3.
func (z *ZoneSnapshot) RefreshPassive(bid, ask fixedpoint.Value) {
	z.PassiveBidVolume = bid
	z.PassiveAskVolume = ask
	z.PassiveVolume = bid.Add(ask)
}

// EnrichedTradeEvent extends AggressiveTrade with the passive-liquidity
// and zone context the preprocessor (C5) attaches (spec.md §3).
type EnrichedTradeEvent struct {
	AggressiveTrade

	PassiveBidVolume     fixedpoint.Value
	PassiveAskVolume     fixedpoint.Value
	ZonePassiveBidVolume fixedpoint.Value
	ZonePassiveAskVolume fixedpoint.Value
	BestBid              fixedpoint.Value
	BestAsk              fixedpoint.Value

	// ZoneData is keyed by tick window size (e.g. 5, 10, 20).
	ZoneData map[int]ZoneSnapshot
}

// Zone returns the snapshot for a given tick window, and whether it
// was present.
func (e EnrichedTradeEvent) Zone(ticks int) (ZoneSnapshot, bool) {
	z, ok := e.ZoneData[ticks]
	return z, ok
}
