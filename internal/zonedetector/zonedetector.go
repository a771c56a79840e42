// Package zonedetector implements C11: candidate accumulation and
// distribution zones that mature into active zones, strengthen or
// weaken as flow continues, and complete or invalidate over their
// lifecycle (spec.md §4.6).
package zonedetector

import (
	"sync"
	"time"

	"flowengine/internal/config"
	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"

	"github.com/google/uuid"
)

// Kind selects which side of flow a Manager is watching for.
type Kind int

const (
	Accumulation Kind = iota
	Distribution
)

// ZonePort is the outbound dependency for zone lifecycle events.
type ZonePort interface {
	Publish(model.ZoneSignal)
}

// SignalPort is the outbound dependency on C13.
type SignalPort interface {
	Submit(model.SignalCandidate)
}

type zoneState struct {
	id         string
	priceLevel fixedpoint.Value
	volume     fixedpoint.Value
	buyVolume  fixedpoint.Value
	sellVolume fixedpoint.Value
	tradeCount int
	firstAt    time.Time
	lastAt     time.Time
	minPrice   fixedpoint.Value
	maxPrice   fixedpoint.Value
	strength   float64
	active     bool
	completed  bool
}

// Manager is C11's implementation for one side (Accumulation or
// Distribution); the engine wires two instances sharing the same
// detector code with opposite Kind, per spec.md §4.6.
type Manager struct {
	mu       sync.Mutex
	cfg      config.ZoneConfig
	kind     Kind
	tickSize fixedpoint.Value
	ticks    int
	zones    ZonePort
	signals  SignalPort

	states map[string]*zoneState
}

// New builds a Manager. ticks selects which of the preprocessor's
// configured zone windows this detector watches.
func New(cfg config.ZoneConfig, kind Kind, ticks int, zones ZonePort, signals SignalPort) *Manager {
	return &Manager{cfg: cfg, kind: kind, ticks: ticks, zones: zones, signals: signals, states: make(map[string]*zoneState)}
}

func (m *Manager) signalType() model.SignalType {
	if m.kind == Accumulation {
		return model.SignalAccumulation
	}
	return model.SignalDistribution
}

func (m *Manager) direction() model.Side {
	if m.kind == Accumulation {
		return model.SideBuy
	}
	return model.SideSell
}

// Process folds one enriched trade's zone data into the matching
// candidate/active zone and evaluates lifecycle transitions.
func (m *Manager) Process(e model.EnrichedTradeEvent) {
	zone, ok := e.Zone(m.ticks)
	if !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := e.Timestamp
	key := zone.PriceLevel.String()
	st, existed := m.states[key]
	if !existed {
		st = &zoneState{
			id:         uuid.NewString(),
			priceLevel: zone.PriceLevel,
			firstAt:    now,
			minPrice:   zone.Boundaries.Min,
			maxPrice:   zone.Boundaries.Max,
		}
		m.states[key] = st
	}

	st.volume = zone.AggressiveVolume
	st.buyVolume = zone.AggressiveBuyVolume
	st.sellVolume = zone.AggressiveSellVolume
	st.tradeCount = zone.TradeCount
	st.lastAt = now
	st.minPrice = fixedpoint.Min(st.minPrice, zone.Boundaries.Min)
	st.maxPrice = fixedpoint.Max(st.maxPrice, zone.Boundaries.Max)

	m.evictTimedOutLocked(now)

	if st.completed {
		return
	}

	prevStrength := st.strength
	composite, ratio, deviation, priceStability, institutionalScore := m.scoreLocked(st)
	st.strength = composite

	if !st.active {
		if m.qualifiesLocked(st, ratio, deviation, priceStability, institutionalScore, composite, now) {
			st.active = true
			m.publishZoneLocked(st, model.ZoneCreated, composite-prevStrength, now)
			m.enforceCapacityLocked(now)
		}
		return
	}

	if m.invalidatedLocked(st, e.Price) {
		st.completed = true
		delete(m.states, key)
		m.publishZoneLocked(st, model.ZoneInvalidated, composite-prevStrength, now)
		return
	}

	if composite >= m.cfg.CompletionThreshold {
		st.completed = true
		m.publishZoneLocked(st, model.ZoneCompleted, composite-prevStrength, now)
		m.submitSignalLocked(st, composite, now)
		delete(m.states, key)
		return
	}

	delta := composite - prevStrength
	switch {
	case delta >= m.cfg.StrengthChangeThreshold:
		m.publishZoneLocked(st, model.ZoneStrengthened, delta, now)
	case delta <= -m.cfg.StrengthChangeThreshold:
		m.publishZoneLocked(st, model.ZoneWeakened, delta, now)
	default:
		m.publishZoneLocked(st, model.ZoneUpdated, delta, now)
	}
}

// scoreLocked computes the composite zone score plus the individual
// components qualifiesLocked gates on independently (spec.md §4.6):
// buy/sell ratio, price deviation, priceStability (1 - maxRelativeDeviation
// / maxPriceDeviation) and the institutional-score proxy.
func (m *Manager) scoreLocked(st *zoneState) (composite, ratio, deviation, priceStability, institutionalScore float64) {
	if st.volume.IsZero() {
		return 0, 0, 0, 0, 0
	}
	if m.kind == Accumulation {
		ratio = st.buyVolume.Div(st.volume).Float64()
	} else {
		ratio = st.sellVolume.Div(st.volume).Float64()
	}

	volumeScore := min1(st.volume.Div(m.minZoneVolume()).Float64())

	var requiredRatio float64
	if m.kind == Accumulation {
		requiredRatio = m.cfg.MinBuyRatio
	} else {
		requiredRatio = m.cfg.MinSellRatio
	}
	ratioScore := min1(ratio / max(requiredRatio, 0.0001))

	priceRange := st.maxPrice.Sub(st.minPrice)
	if st.priceLevel.IsZero() {
		deviation = 0
	} else {
		deviation = priceRange.Div(st.priceLevel).Float64()
	}
	priceStability = min1(1 - deviation/max(m.cfg.MaxPriceDeviation, 0.0001))

	avgTradeSize := fixedpoint.Zero
	if st.tradeCount > 0 {
		avgTradeSize = st.volume.Div(fixedpoint.FromInt(int64(st.tradeCount)))
	}
	institutionalProxy := m.minZoneVolume().Div(fixedpoint.FromInt(int64(max1i(m.cfg.MinTradeCount))))
	institutionalScore = min1(avgTradeSize.Div(institutionalProxy.Mul(fixedpoint.FromInt(2))).Float64())

	composite = 0.3*volumeScore + 0.3*ratioScore + 0.25*priceStability + 0.15*institutionalScore
	return composite, ratio, deviation, priceStability, institutionalScore
}

func (m *Manager) minZoneVolume() fixedpoint.Value {
	v, err := fixedpoint.FromString(m.cfg.MinZoneVolume)
	if err != nil {
		return fixedpoint.Zero
	}
	return v
}

// qualifiesLocked gates candidate-to-active promotion on spec.md
// §4.6's independent thresholds: minimum volume, minimum trade count,
// minimum candidate age, the buy/sell ratio, the maximum price
// deviation, priceStability ≥ 0.85, institutional score ≥ 0.4 and
// composite score > 0.75. Each is
// checked on its own term rather than folded into a single blended
// strength comparison.
func (m *Manager) qualifiesLocked(st *zoneState, ratio, deviation, priceStability, institutionalScore, composite float64, now time.Time) bool {
	if st.volume.LessThan(m.minZoneVolume()) {
		return false
	}
	if st.tradeCount < m.cfg.MinTradeCount {
		return false
	}
	if now.Sub(st.firstAt) < m.cfg.MinCandidateDuration {
		return false
	}
	var requiredRatio float64
	if m.kind == Accumulation {
		requiredRatio = m.cfg.MinBuyRatio
	} else {
		requiredRatio = m.cfg.MinSellRatio
	}
	if ratio < requiredRatio {
		return false
	}
	if deviation > m.cfg.MaxPriceDeviation {
		return false
	}
	if priceStability < m.cfg.MinPriceStability {
		return false
	}
	if institutionalScore < m.cfg.MinInstitutionalScore {
		return false
	}
	return composite > m.cfg.MinCompositeScore
}

// invalidatedLocked implements spec.md §4.6's literal invalidation
// rule: the current trade price falling below the zone's own recorded
// minimum (accumulation) or rising above its maximum (distribution),
// each by more than the fixed InvalidationBuffer fraction.
func (m *Manager) invalidatedLocked(st *zoneState, price fixedpoint.Value) bool {
	if price.IsZero() {
		return false
	}
	buffer := m.cfg.InvalidationBuffer
	if m.kind == Accumulation {
		threshold := st.minPrice.Mul(fixedpoint.FromFloat(1 - buffer))
		return price.LessThan(threshold)
	}
	threshold := st.maxPrice.Mul(fixedpoint.FromFloat(1 + buffer))
	return price.GreaterThan(threshold)
}

func (m *Manager) evictTimedOutLocked(now time.Time) {
	if m.cfg.ZoneTimeout <= 0 {
		return
	}
	for key, st := range m.states {
		if st.active && !st.completed && now.Sub(st.lastAt) > m.cfg.ZoneTimeout {
			delete(m.states, key)
			m.publishZoneLocked(st, model.ZoneInvalidated, -st.strength, now)
		}
	}
}

// enforceCapacityLocked evicts the weakest active zone when the
// promotion that just happened pushed the manager over MaxActiveZones.
func (m *Manager) enforceCapacityLocked(now time.Time) {
	if m.cfg.MaxActiveZones <= 0 {
		return
	}
	activeCount := 0
	var weakestKey string
	weakestStrength := 2.0
	for key, st := range m.states {
		if !st.active || st.completed {
			continue
		}
		activeCount++
		if st.strength < weakestStrength {
			weakestStrength = st.strength
			weakestKey = key
		}
	}
	if activeCount <= m.cfg.MaxActiveZones {
		return
	}
	if st, ok := m.states[weakestKey]; ok {
		delete(m.states, weakestKey)
		m.publishZoneLocked(st, model.ZoneInvalidated, -st.strength, now)
	}
}

func (m *Manager) publishZoneLocked(st *zoneState, action model.LifecycleEvent, strengthChange float64, now time.Time) {
	if m.zones == nil {
		return
	}
	m.zones.Publish(model.ZoneSignal{
		ZoneID:            st.id,
		ActionType:        action,
		Urgency:           urgencyFor(action),
		ExpectedDirection: m.direction(),
		InvalidationLevel: invalidationLevel(st, m.direction()),
		PositionSizing:    st.strength,
		ChangeMetrics:     model.ZoneChangeMetrics{StrengthChange: strengthChange},
		Timestamp:         now,
	})
}

func (m *Manager) submitSignalLocked(st *zoneState, confidence float64, now time.Time) {
	if m.signals == nil {
		return
	}
	m.signals.Submit(model.SignalCandidate{
		ID:         uuid.NewString(),
		Type:       m.signalType(),
		Side:       m.direction(),
		Price:      st.priceLevel,
		Confidence: confidence,
		Timestamp:  now,
		DetectorID: "zonedetector",
		Data: map[string]any{
			"zoneId":     st.id,
			"tradeCount": st.tradeCount,
			"volume":     st.volume.String(),
		},
	})
}

func urgencyFor(action model.LifecycleEvent) string {
	switch action {
	case model.ZoneCompleted:
		return "high"
	case model.ZoneInvalidated:
		return "high"
	case model.ZoneStrengthened:
		return "medium"
	default:
		return "low"
	}
}

func invalidationLevel(st *zoneState, direction model.Side) fixedpoint.Value {
	if direction == model.SideBuy {
		return st.minPrice
	}
	return st.maxPrice
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

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func max1i(i int) int {
	if i < 1 {
		return 1
	}
	return i
}
