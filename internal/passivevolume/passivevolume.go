// Package passivevolume implements C4, a per-price-level history of
// passive bid/ask volume used for refill detection (spec.md §4.2).
package passivevolume

import (
	"sync"
	"time"

	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"
	"flowengine/internal/rollingwindow"
)

// Config configures window size and refill sensitivity.
type Config struct {
	WindowMs    int64
	Retention   time.Duration
	RefillRatio float64 // e.g. 0.8: return to >=80% of pre-drop level counts as refilled
}

type levelHistory struct {
	bid *rollingwindow.Window
	ask *rollingwindow.Window
}

// Tracker is C4's implementation. Safe for single-writer,
// multi-reader use under the caller's own synchronization per
// spec.md §5; it adds its own mutex since detectors read it
// concurrently with C5's writes between cooperative checkpoints.
type Tracker struct {
	mu  sync.RWMutex
	cfg Config

	capacity int
	history  map[string]*levelHistory
}

// New builds a Tracker. capacity bounds each price level's window.
func New(cfg Config, capacity int) *Tracker {
	if capacity <= 0 {
		capacity = 256
	}
	return &Tracker{cfg: cfg, capacity: capacity, history: make(map[string]*levelHistory)}
}

func (t *Tracker) historyFor(price fixedpoint.Value) *levelHistory {
	key := price.String()
	h, ok := t.history[key]
	if !ok {
		h = &levelHistory{
			bid: rollingwindow.New(t.capacity, t.cfg.Retention),
			ask: rollingwindow.New(t.capacity, t.cfg.Retention),
		}
		t.history[key] = h
	}
	return h
}

// Push records a (bid, ask) sample for price at now, called by C5 for
// every enriched trade (spec.md §4.3 step 4).
func (t *Tracker) Push(now time.Time, price, bid, ask fixedpoint.Value) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.historyFor(price)
	h.bid.Push(now, bid)
	h.ask.Push(now, ask)
}

// AveragePassiveBySide returns the mean passive volume at price for
// side over the configured window.
func (t *Tracker) AveragePassiveBySide(price fixedpoint.Value, side model.Side) fixedpoint.Value {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.history[price.String()]
	if !ok {
		return fixedpoint.Zero
	}
	if side == model.SideBuy {
		return h.bid.Mean()
	}
	return h.ask.Mean()
}

// HasRefilled reports whether the side at price dropped and then
// returned to >= RefillRatio of its pre-drop level inside the window
// (spec.md §4.2).
func (t *Tracker) HasRefilled(price fixedpoint.Value, side model.Side) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.history[price.String()]
	if !ok {
		return false
	}
	var w *rollingwindow.Window
	if side == model.SideBuy {
		w = h.bid
	} else {
		w = h.ask
	}
	samples := w.All()
	if len(samples) < 3 {
		return false
	}
	ratio := t.cfg.RefillRatio
	if ratio <= 0 {
		ratio = 0.8
	}
	// Scan for a local peak, a drop below it, and a later recovery to
	// >= ratio * peak.
	peak := samples[0].Value
	droppedBelow := fixedpoint.Zero
	sawDrop := false
	for i := 1; i < len(samples); i++ {
		v := samples[i].Value
		if v.GreaterThan(peak) {
			peak = v
			sawDrop = false
			continue
		}
		threshold := peak.Mul(fixedpoint.FromFloat(ratio))
		if v.LessThan(threshold) {
			sawDrop = true
			droppedBelow = v
			continue
		}
		if sawDrop && v.GreaterThanOrEqual(threshold) {
			return true
		}
	}
	_ = droppedBelow
	return false
}

// RefillStatus implements model.RefillCheck for detectors, mapping the
// PassiveVolumeTracker into the read-only capability object spec.md §9
// requires to break the absorption/spoofing and iceberg/anomaly
// cyclic dependencies.
func (t *Tracker) RefillStatus(price fixedpoint.Value, side model.Side) bool {
	return t.HasRefilled(price, side)
}

// CheckRefillStatus reports the current quantity at price/side versus
// its rolling average, the ratio detectors use to size a refill
// confidence boost (spec.md §4.2).
func (t *Tracker) CheckRefillStatus(price fixedpoint.Value, side model.Side, currentQty fixedpoint.Value) (ratioToAverage fixedpoint.Value, refilled bool) {
	avg := t.AveragePassiveBySide(price, side)
	return currentQty.Div(avg), t.HasRefilled(price, side)
}
