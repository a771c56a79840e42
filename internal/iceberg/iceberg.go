// Package iceberg implements C7, detecting a large order fragmented
// into small, repeatedly refilled pieces at one price level
// (spec.md §4.7, GLOSSARY).
package iceberg

import (
	"sync"
	"time"

	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"

	"github.com/google/uuid"
)

// AnomalyPort forwards a qualified iceberg to C8 (spec.md §4.7).
type AnomalyPort interface {
	Publish(model.AnomalyEvent)
}

// SignalPort emits the iceberg SignalCandidate to C13.
type SignalPort interface {
	Submit(model.SignalCandidate)
}

// Config configures qualification thresholds (spec.md §6).
type Config struct {
	MinRefillCount             int
	MaxSizeVariation           float64
	MinTotalSize               fixedpoint.Value
	MaxRefillTime              time.Duration
	InstitutionalSizeThreshold fixedpoint.Value
	TrackingWindow             time.Duration
	MaxActiveIcebergs          int
	MinConfidence              float64
}

type candidate struct {
	price      fixedpoint.Value
	side       model.Side
	pieces     []fixedpoint.Value
	timestamps []time.Time
	total      fixedpoint.Value
	firstAt    time.Time
	lastAt     time.Time
}

// Detector is C7's implementation, keyed by (normalised price, side).
type Detector struct {
	mu       sync.Mutex
	cfg      Config
	tickSize fixedpoint.Value
	anomaly  AnomalyPort
	signals  SignalPort

	candidates map[string]*candidate
}

// New builds a Detector.
func New(cfg Config, tickSize fixedpoint.Value, anomaly AnomalyPort, signals SignalPort) *Detector {
	return &Detector{cfg: cfg, tickSize: tickSize, anomaly: anomaly, signals: signals, candidates: make(map[string]*candidate)}
}

func (d *Detector) normalise(price fixedpoint.Value) fixedpoint.Value {
	return fixedpoint.FloorToTick(price, d.tickSize)
}

func key(price fixedpoint.Value, side model.Side) string {
	return price.String() + "|" + string(side)
}

// OnFill records one fill against the resting side at price. side is
// the passive side being consumed (bid side = model.SideBuy, ask side
// = model.SideSell), matching the convention used throughout
// internal/orderbook.
func (d *Detector) OnFill(price fixedpoint.Value, side model.Side, qty fixedpoint.Value, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	norm := d.normalise(price)
	k := key(norm, side)
	c, ok := d.candidates[k]
	if ok && d.cfg.MaxRefillTime > 0 && now.Sub(c.lastAt) > d.cfg.MaxRefillTime {
		ok = false // gap too large, start a fresh sequence
	}
	if !ok {
		c = &candidate{price: norm, side: side, firstAt: now}
		d.candidates[k] = c
	}
	c.pieces = append(c.pieces, qty)
	c.timestamps = append(c.timestamps, now)
	c.total = c.total.Add(qty)
	c.lastAt = now

	if d.cfg.TrackingWindow > 0 {
		d.evictExpiredLocked(now)
	}

	d.evaluateLocked(k, c, now)
}

func (d *Detector) evictExpiredLocked(now time.Time) {
	for k, c := range d.candidates {
		if now.Sub(c.lastAt) > d.cfg.TrackingWindow {
			delete(d.candidates, k)
		}
	}
}

func (d *Detector) evaluateLocked(k string, c *candidate, now time.Time) {
	if len(c.pieces) < d.cfg.MinRefillCount {
		return
	}
	if c.total.LessThan(d.cfg.MinTotalSize) {
		return
	}

	cv := sizeCoefficientOfVariation(c.pieces)
	if cv > d.cfg.MaxSizeVariation {
		return
	}

	confidence := d.confidence(c, cv)
	if confidence < d.cfg.MinConfidence {
		return
	}

	d.qualify(c, confidence, now)
	delete(d.candidates, k)
}

func sizeCoefficientOfVariation(pieces []fixedpoint.Value) float64 {
	mean := fixedpoint.Mean(pieces)
	if mean.IsZero() {
		return 0
	}
	stddev := fixedpoint.StdDev(pieces)
	return stddev.Div(mean).Float64()
}

func (d *Detector) confidence(c *candidate, cv float64) float64 {
	sizeConsistency := 1 - min1(cv)
	pieceCountScore := min1(float64(len(c.pieces)) / float64(2*max1i(d.cfg.MinRefillCount)))
	totalSizeScore := min1(c.total.Div(d.cfg.MinTotalSize.Mul(fixedpoint.FromInt(2))).Float64())

	institutionalPieces := 0
	for _, p := range c.pieces {
		if p.GreaterThanOrEqual(d.cfg.InstitutionalSizeThreshold) {
			institutionalPieces++
		}
	}
	institutionalScore := float64(institutionalPieces) / float64(len(c.pieces))

	temporalConsistency := temporalConsistencyScore(c.timestamps)

	return sizeConsistency*0.25 + pieceCountScore*0.2 + totalSizeScore*0.2 + institutionalScore*0.2 + temporalConsistency*0.15
}

func temporalConsistencyScore(timestamps []time.Time) float64 {
	if len(timestamps) < 3 {
		return 0.5
	}
	gaps := make([]fixedpoint.Value, 0, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		gaps = append(gaps, fixedpoint.FromFloat(timestamps[i].Sub(timestamps[i-1]).Seconds()))
	}
	mean := fixedpoint.Mean(gaps)
	if mean.IsZero() {
		return 0.5
	}
	cv := fixedpoint.StdDev(gaps).Div(mean).Float64()
	return 1 - min1(cv)
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

func max1i(i int) int {
	if i < 1 {
		return 1
	}
	return i
}

func (d *Detector) qualify(c *candidate, confidence float64, now time.Time) {
	if d.anomaly != nil {
		d.anomaly.Publish(model.AnomalyEvent{
			Type:      model.AnomalyIceberg,
			Severity:  model.SeverityMedium,
			Price:     c.price,
			Side:      c.side,
			Timestamp: now,
		})
	}
	if d.signals != nil {
		d.signals.Submit(model.SignalCandidate{
			ID:         uuid.NewString(),
			Type:       model.SignalIceberg,
			Side:       c.side,
			Price:      c.price,
			Confidence: confidence,
			Timestamp:  now,
			DetectorID: "iceberg",
			Data: map[string]any{
				"pieces":     len(c.pieces),
				"totalSize":  c.total.String(),
				"durationMs": c.lastAt.Sub(c.firstAt).Milliseconds(),
			},
		})
	}
}

// Active returns the number of live (unqualified) candidates. The
// number of candidates is not capped: MaxActiveIcebergs is not read,
// and candidates leave only by qualifying or by TrackingWindow expiry.
func (d *Detector) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.candidates)
}
