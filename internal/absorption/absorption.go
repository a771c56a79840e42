// Package absorption implements C9: aggressive flow absorbed by a
// passive wall with little resulting price movement (spec.md §4.4).
package absorption

import (
	"sync"
	"time"

	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"

	"github.com/google/uuid"
)

// SignalPort is C9's outbound dependency on C13.
type SignalPort interface {
	Submit(model.SignalCandidate)
}

// Weights are the confidence aggregate's component weights, an open
// configuration slot per spec.md §9 rather than hardcoded constants.
// Callers are responsible for ensuring they sum to 1.
type Weights struct {
	InverseEfficiency     float64
	PassiveRatio          float64
	InstitutionalFraction float64
	ZoneConfluence        float64
}

// Config configures the detector (spec.md §6).
type Config struct {
	MinAggVolume                  fixedpoint.Value
	PassiveAbsorptionThreshold    float64
	MinPassiveMultiplier          float64
	PriceEfficiencyThreshold      float64
	ExpectedMovementScalingFactor float64
	EventCooldown                 time.Duration
	FinalConfidenceRequired       float64
	InstitutionalVolumeThreshold  fixedpoint.Value
	RefillConfidenceBoost         float64
	Weights                       Weights
	PrimaryZoneTicks              int
	SpoofConfidencePenalty        float64
}

// Detector is C9's implementation. It depends only on the narrow
// model.SpoofCheck/model.RefillCheck capabilities, never on C6/C4
// concrete types, per spec.md §9's cyclic-dependency fix.
type Detector struct {
	mu      sync.Mutex
	cfg     Config
	spoof   model.SpoofCheck
	refill  model.RefillCheck
	passive model.PassiveAverageSource
	signals SignalPort

	lastEventAt map[string]time.Time
}

// New builds a Detector. passive supplies the averagePassive baseline
// spec.md §4.4's price-efficiency estimate is measured against.
func New(cfg Config, spoof model.SpoofCheck, refill model.RefillCheck, passive model.PassiveAverageSource, signals SignalPort) *Detector {
	return &Detector{cfg: cfg, spoof: spoof, refill: refill, passive: passive, signals: signals, lastEventAt: make(map[string]time.Time)}
}

// Process evaluates one enriched trade event and returns the
// qualified candidate, if any.
func (d *Detector) Process(e model.EnrichedTradeEvent) (model.SignalCandidate, bool) {
	zone, ok := e.Zone(d.cfg.PrimaryZoneTicks)
	if !ok || zone.AggressiveVolume.LessThan(d.cfg.MinAggVolume) {
		return model.SignalCandidate{}, false
	}

	// Resisting passive side: aggressive buying absorbed by resting
	// asks signals resistance (bearish); aggressive selling absorbed
	// by resting bids signals support (bullish).
	var side model.Side
	var passiveVolume fixedpoint.Value
	if zone.AggressiveBuyVolume.GreaterThan(zone.AggressiveSellVolume) {
		side = model.SideSell
		passiveVolume = zone.PassiveAskVolume
	} else {
		side = model.SideBuy
		passiveVolume = zone.PassiveBidVolume
	}

	passiveRatio := passiveVolume.Div(zone.AggressiveVolume).Float64()
	if passiveRatio < d.cfg.PassiveAbsorptionThreshold {
		return model.SignalCandidate{}, false
	}
	if passiveVolume.LessThan(zone.AggressiveVolume.Mul(fixedpoint.FromFloat(d.cfg.MinPassiveMultiplier))) {
		return model.SignalCandidate{}, false
	}

	var averagePassive fixedpoint.Value
	if d.passive != nil {
		averagePassive = d.passive.AveragePassiveBySide(zone.PriceLevel, side)
	}
	inverseEfficiency, priceEfficiency := d.priceEfficiency(zone, averagePassive)
	if priceEfficiency >= d.cfg.PriceEfficiencyThreshold {
		return model.SignalCandidate{}, false
	}

	institutionalFraction := institutionalFraction(zone.AggressiveVolume, d.cfg.InstitutionalVolumeThreshold)
	confluence := d.zoneConfluence(e, side)

	confidence := d.cfg.Weights.InverseEfficiency*inverseEfficiency +
		d.cfg.Weights.PassiveRatio*min1(passiveRatio) +
		d.cfg.Weights.InstitutionalFraction*institutionalFraction +
		d.cfg.Weights.ZoneConfluence*confluence

	now := e.Timestamp
	if d.spoof != nil && d.spoof.WasSpoofed(zone.PriceLevel, side, now) {
		confidence -= d.cfg.SpoofConfidencePenalty
	}
	if d.refill != nil && d.refill.RefillStatus(zone.PriceLevel, side) {
		confidence += d.cfg.RefillConfidenceBoost
	}
	confidence = min1(confidence)

	if confidence < d.cfg.FinalConfidenceRequired {
		return model.SignalCandidate{}, false
	}

	d.mu.Lock()
	k := cooldownKey(zone.PriceLevel, side)
	if last, ok := d.lastEventAt[k]; ok && now.Sub(last) < d.cfg.EventCooldown {
		d.mu.Unlock()
		return model.SignalCandidate{}, false
	}
	d.lastEventAt[k] = now
	d.mu.Unlock()

	candidate := model.SignalCandidate{
		ID:         uuid.NewString(),
		Type:       model.SignalAbsorption,
		Side:       side,
		Price:      zone.PriceLevel,
		Confidence: confidence,
		Timestamp:  now,
		DetectorID: "absorption",
		Data: map[string]any{
			"priceEfficiency":       priceEfficiency,
			"passiveRatio":          passiveRatio,
			"institutionalFraction": institutionalFraction,
			"zoneConfluence":        confluence,
		},
	}
	if d.signals != nil {
		d.signals.Submit(candidate)
	}
	return candidate, true
}

// priceEfficiency compares the traded price range against the
// movement naively expected for the observed volume relative to the
// resting average on the absorbing side: a wall that absorbs heavy
// volume with little range traversal scores a high inverseEfficiency.
func (d *Detector) priceEfficiency(zone model.ZoneSnapshot, averagePassive fixedpoint.Value) (inverse, efficiency float64) {
	if averagePassive.IsZero() {
		return 0, 1
	}
	expectedMove := zone.AggressiveVolume.Div(averagePassive).Mul(zone.TickSize).Mul(fixedpoint.FromFloat(d.cfg.ExpectedMovementScalingFactor))
	if expectedMove.IsZero() {
		return 0, 1
	}
	actualMove := zone.Boundaries.Max.Sub(zone.Boundaries.Min)
	efficiency = actualMove.Div(expectedMove).Float64()
	return 1 - min1(efficiency), efficiency
}

func institutionalFraction(volume, threshold fixedpoint.Value) float64 {
	if threshold.IsZero() {
		return 0
	}
	return min1(volume.Div(threshold).Float64())
}

// zoneConfluence is the fraction of the event's other tick windows
// that show the same passive-dominance pattern on side.
func (d *Detector) zoneConfluence(e model.EnrichedTradeEvent, side model.Side) float64 {
	total := 0
	agree := 0
	for ticks, zone := range e.ZoneData {
		if ticks == d.cfg.PrimaryZoneTicks {
			continue
		}
		total++
		var passive fixedpoint.Value
		if side == model.SideSell {
			passive = zone.PassiveAskVolume
		} else {
			passive = zone.PassiveBidVolume
		}
		if zone.AggressiveVolume.IsZero() {
			continue
		}
		if passive.Div(zone.AggressiveVolume).GreaterThanOrEqual(fixedpoint.FromFloat(d.cfg.PassiveAbsorptionThreshold)) {
			agree++
		}
	}
	if total == 0 {
		return 0.5
	}
	return float64(agree) / float64(total)
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
