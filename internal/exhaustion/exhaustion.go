// Package exhaustion implements C10: passive liquidity thinning under
// sustained aggressive pressure, signaling an imminent breakout once
// the resisting side runs out of size (spec.md §4.5).
package exhaustion

import (
	"sync"
	"time"

	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"
	"flowengine/internal/rollingwindow"

	"github.com/google/uuid"
)

// SignalPort is C10's outbound dependency on C13.
type SignalPort interface {
	Submit(model.SignalCandidate)
}

// Features replaces prototype/duck-typed feature flags with an
// explicit named-boolean value type, per spec.md §9.
type Features struct {
	SpreadExpansion bool
	VelocityPenalty bool
}

// Config configures the detector (spec.md §6).
type Config struct {
	ExhaustionThreshold float64
	EventCooldown       time.Duration
	Features            Features
	PrimaryZoneTicks    int
	HistoryCapacity     int
	HistoryRetention    time.Duration
}

// Detector is C10's implementation. It keeps its own per-price-level
// rolling series of total passive volume (spec.md §4.5's "state per
// zone is a rolling series of {total, timestamp} from C5") rather than
// reaching into C4's tracker, and consults the same C6 spoof and C4
// refill read-only capabilities absorption does so it never fires
// while the resisting side is actively refilling or was just spoofed.
type Detector struct {
	mu      sync.Mutex
	cfg     Config
	spoof   model.SpoofCheck
	refill  model.RefillCheck
	signals SignalPort

	history     map[string]*rollingwindow.Window
	lastEventAt map[string]time.Time
}

// New builds a Detector.
func New(cfg Config, spoof model.SpoofCheck, refill model.RefillCheck, signals SignalPort) *Detector {
	return &Detector{
		cfg:         cfg,
		spoof:       spoof,
		refill:      refill,
		signals:     signals,
		history:     make(map[string]*rollingwindow.Window),
		lastEventAt: make(map[string]time.Time),
	}
}

// Process evaluates one enriched trade event.
func (d *Detector) Process(e model.EnrichedTradeEvent) (model.SignalCandidate, bool) {
	zone, ok := e.Zone(d.cfg.PrimaryZoneTicks)
	if !ok {
		return model.SignalCandidate{}, false
	}
	recentAggressive := zone.AggressiveBuyVolume.Add(zone.AggressiveSellVolume)
	if recentAggressive.IsZero() {
		return model.SignalCandidate{}, false
	}

	var side model.Side
	if zone.AggressiveBuyVolume.GreaterThan(zone.AggressiveSellVolume) {
		side = model.SideBuy // resisting ask is thinning, breakout upward expected
	} else {
		side = model.SideSell
	}
	resistingSide := side.Opposite()

	now := e.Timestamp
	d.mu.Lock()
	window := d.historyForLocked(zone.PriceLevel)
	window.Push(now, zone.PassiveVolume)
	first, _ := window.First()
	last, _ := window.Last()
	avgPassive := window.Mean()
	samples := window.Len()
	elapsed := window.SinceFirst()
	d.mu.Unlock()

	if avgPassive.IsZero() {
		return model.SignalCandidate{}, false
	}

	depletionRatio := recentAggressive.Div(avgPassive).Float64()
	passiveRatio := zone.PassiveVolume.Div(avgPassive).Float64()
	gap := last.Value.Sub(first.Value)

	score := depletionScore(depletionRatio) +
		passiveScore(passiveRatio) +
		refillGapScore(gap, avgPassive) +
		imbalanceScore(flowImbalance(zone))

	if d.cfg.Features.SpreadExpansion && !e.BestBid.IsZero() && !e.BestAsk.IsZero() && !zone.PriceLevel.IsZero() {
		spreadPct := e.BestAsk.Sub(e.BestBid).Div(zone.PriceLevel).Float64() * 100
		score += spreadExpansionScore(spreadPct)
	}

	if d.cfg.Features.VelocityPenalty && elapsed > 0 {
		velocity := gap.Float64() / elapsed.Seconds()
		if velocity < -100 {
			score += 0.05
		}
	}

	score = min1(score)
	if samples < 5 {
		score *= 0.7
	}

	if score < d.cfg.ExhaustionThreshold {
		return model.SignalCandidate{}, false
	}
	if d.spoof != nil && d.spoof.WasSpoofed(zone.PriceLevel, resistingSide, now) {
		return model.SignalCandidate{}, false
	}
	if d.refill != nil && d.refill.RefillStatus(zone.PriceLevel, resistingSide) {
		return model.SignalCandidate{}, false
	}

	d.mu.Lock()
	k := cooldownKey(zone.PriceLevel, side)
	if lastAt, ok := d.lastEventAt[k]; ok && now.Sub(lastAt) < d.cfg.EventCooldown {
		d.mu.Unlock()
		return model.SignalCandidate{}, false
	}
	d.lastEventAt[k] = now
	d.mu.Unlock()

	candidate := model.SignalCandidate{
		ID:         uuid.NewString(),
		Type:       model.SignalExhaustion,
		Side:       side,
		Price:      zone.PriceLevel,
		Confidence: score,
		Timestamp:  now,
		DetectorID: "exhaustion",
		Data: map[string]any{
			"depletionRatio": depletionRatio,
			"passiveRatio":   passiveRatio,
			"samples":        samples,
		},
	}
	if d.signals != nil {
		d.signals.Submit(candidate)
	}
	return candidate, true
}

func (d *Detector) historyForLocked(price fixedpoint.Value) *rollingwindow.Window {
	key := price.String()
	w, ok := d.history[key]
	if !ok {
		capacity := d.cfg.HistoryCapacity
		if capacity <= 0 {
			capacity = 64
		}
		w = rollingwindow.New(capacity, d.cfg.HistoryRetention)
		d.history[key] = w
	}
	return w
}

// depletionScore ladders recentAggressive/avgPassive against spec.md
// §4.5's {5,10,20} -> {0.15,0.25,0.35} thresholds, highest met wins.
func depletionScore(ratio float64) float64 {
	switch {
	case ratio >= 20:
		return 0.35
	case ratio >= 10:
		return 0.25
	case ratio >= 5:
		return 0.15
	default:
		return 0
	}
}

// passiveScore ladders currentPassive/avgPassive against spec.md
// §4.5's {0.6,0.4,0.2} -> {0.10,0.15,0.25} thresholds: the thinner the
// current book relative to its own average, the higher the score.
func passiveScore(ratio float64) float64 {
	switch {
	case ratio <= 0.2:
		return 0.25
	case ratio <= 0.4:
		return 0.15
	case ratio <= 0.6:
		return 0.10
	default:
		return 0
	}
}

// refillGapScore scores the window's last-minus-first total passive
// volume: a deeper net drop scores higher, any net rise scores zero.
func refillGapScore(gap, avg fixedpoint.Value) float64 {
	if !gap.IsNegative() {
		return 0
	}
	if gap.Abs().GreaterThan(avg.Mul(fixedpoint.FromFloat(0.5))) {
		return 0.15
	}
	return 0.10
}

func imbalanceScore(imbalance float64) float64 {
	switch {
	case imbalance > 0.8:
		return 0.10
	case imbalance > 0.6:
		return 0.05
	default:
		return 0
	}
}

func spreadExpansionScore(pct float64) float64 {
	switch {
	case pct > 0.5:
		return 0.05
	case pct > 0.2:
		return 0.03
	default:
		return 0
	}
}

func flowImbalance(zone model.ZoneSnapshot) float64 {
	total := zone.AggressiveBuyVolume.Add(zone.AggressiveSellVolume)
	if total.IsZero() {
		return 0
	}
	diff := zone.AggressiveBuyVolume.Sub(zone.AggressiveSellVolume).Abs()
	return diff.Div(total).Float64()
}

func cooldownKey(price fixedpoint.Value, side model.Side) string {
	return price.String() + "|" + string(side)
}

func min1(f float64) float64 {
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
}
