// Package deltacvd implements C12: a z-scored cumulative volume delta
// momentum detector, confirming continuation once the signed order
// flow accelerates beyond its recent distribution (spec.md §4.9's
// data model, signal type cvd_confirmation).
package deltacvd

import (
	"sync"
	"time"

	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"
	"flowengine/internal/rollingwindow"

	"github.com/google/uuid"
)

// SignalPort is C12's outbound dependency on C13.
type SignalPort interface {
	Submit(model.SignalCandidate)
}

// Config configures the detector (spec.md §6).
type Config struct {
	WindowMs        int64
	ZScoreThreshold float64
	MinSamples      int
	MinConfidence   float64
}

// Detector is C12's implementation, one instance per tracked symbol.
type Detector struct {
	mu  sync.Mutex
	cfg Config

	deltas     *rollingwindow.Window
	cumulative fixedpoint.Value
	signals    SignalPort
}

// New builds a Detector. capacity bounds the delta window's backing
// storage; retention is derived from WindowMs.
func New(cfg Config, capacity int, signals SignalPort) *Detector {
	retention := time.Duration(cfg.WindowMs) * time.Millisecond
	return &Detector{
		cfg:     cfg,
		deltas:  rollingwindow.New(capacity, retention),
		signals: signals,
	}
}

// Process folds one trade's signed volume into the cumulative delta
// series and evaluates momentum.
func (d *Detector) Process(trade model.AggressiveTrade) (model.SignalCandidate, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	signed := trade.Quantity
	if trade.Side() == model.SideSell {
		signed = signed.Neg()
	}
	d.cumulative = d.cumulative.Add(signed)
	d.deltas.Push(trade.Timestamp, signed)

	samples := d.deltas.All()
	if len(samples) < d.cfg.MinSamples {
		return model.SignalCandidate{}, false
	}

	values := make([]fixedpoint.Value, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}
	mean := fixedpoint.Mean(values)
	stddev := fixedpoint.StdDev(values)
	z := fixedpoint.ZScore(signed, mean, stddev).Float64()

	if abs(z) < d.cfg.ZScoreThreshold {
		return model.SignalCandidate{}, false
	}

	confidence := confidenceFor(z, d.cfg.ZScoreThreshold, d.cfg.MinConfidence)
	if confidence < d.cfg.MinConfidence {
		return model.SignalCandidate{}, false
	}

	side := model.SideBuy
	if z < 0 {
		side = model.SideSell
	}

	candidate := model.SignalCandidate{
		ID:         uuid.NewString(),
		Type:       model.SignalDeltaCVDConfirm,
		Side:       side,
		Price:      trade.Price,
		Confidence: confidence,
		Timestamp:  trade.Timestamp,
		DetectorID: "deltacvd",
		Data: map[string]any{
			"zScore":     z,
			"cumulative": d.cumulative.String(),
		},
	}
	if d.signals != nil {
		d.signals.Submit(candidate)
	}
	return candidate, true
}

// Cumulative returns the running cumulative delta, for metrics.
func (d *Detector) Cumulative() fixedpoint.Value {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cumulative
}

func confidenceFor(z, threshold, minConfidence float64) float64 {
	if threshold <= 0 {
		return minConfidence
	}
	scaled := minConfidence + (1-minConfidence)*min1((abs(z)-threshold)/threshold)
	return min1(scaled)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
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
