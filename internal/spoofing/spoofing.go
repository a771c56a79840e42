// Package spoofing implements C6, detecting liquidity placed then
// cancelled near the traded price before being filled (spec.md §4.9
// GLOSSARY, component C6).
package spoofing

import (
	"sync"
	"time"

	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"
)

// AnomalyPort is the outbound-only dependency C6 holds on C8, per
// spec.md §9's interface-only fix for the absorption/spoofing cycle:
// the anomaly detector depends on this port, never the other way.
type AnomalyPort interface {
	Publish(model.AnomalyEvent)
}

// Config configures wall detection sensitivity (spec.md §6).
type Config struct {
	WallTicks        int
	MinWallSize      fixedpoint.Value
	DynamicWallWidth bool
	TickSize         fixedpoint.Value
	CancelWindow     time.Duration // max time between wall placement and cancellation to count as spoofing
	ConfirmWindow    time.Duration // how long a confirmed spoof stays "recent" for WasSpoofed
}

type wallRecord struct {
	price       fixedpoint.Value
	side        model.Side
	addedQty    fixedpoint.Value
	filledQty   fixedpoint.Value
	consumedQty fixedpoint.Value
	firstAddAt  time.Time
}

type confirmedSpoof struct {
	price fixedpoint.Value
	side  model.Side
	at    time.Time
}

// Detector is C6's implementation.
type Detector struct {
	mu      sync.Mutex
	cfg     Config
	anomaly AnomalyPort

	walls     map[string]*wallRecord // key: price|side, live candidates
	confirmed []confirmedSpoof       // recent confirmations, pruned by ConfirmWindow
}

// New builds a Detector publishing confirmed walls to anomaly.
func New(cfg Config, anomaly AnomalyPort) *Detector {
	return &Detector{cfg: cfg, anomaly: anomaly, walls: make(map[string]*wallRecord)}
}

func key(price fixedpoint.Value, side model.Side) string {
	return price.String() + "|" + string(side)
}

// OnLevelChange implements orderbook.LevelObserver. Added quantity
// above MinWallSize starts tracking a wall; consumed quantity not
// attributable to a fill is treated as cancellation.
func (d *Detector) OnLevelChange(price fixedpoint.Value, side model.Side, added, consumed fixedpoint.Value, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := key(price, side)
	rec, ok := d.walls[k]

	if added.GreaterThanOrEqual(d.cfg.MinWallSize) && !added.IsZero() {
		if !ok {
			rec = &wallRecord{price: price, side: side, firstAddAt: now}
			d.walls[k] = rec
			ok = true
		}
		rec.addedQty = rec.addedQty.Add(added)
	}

	if !ok || rec == nil || rec.addedQty.IsZero() {
		return
	}

	if !consumed.IsZero() {
		rec.consumedQty = rec.consumedQty.Add(consumed)
		netCancel := rec.consumedQty.Sub(rec.filledQty)
		cancelled := netCancel.GreaterThanOrEqual(rec.addedQty.Mul(fixedpoint.FromFloat(0.8)))
		fast := d.cfg.CancelWindow <= 0 || now.Sub(rec.firstAddAt) <= d.cfg.CancelWindow
		if cancelled && fast {
			d.confirm(price, side, now)
			delete(d.walls, k)
		}
	}
}

func (d *Detector) confirm(price fixedpoint.Value, side model.Side, now time.Time) {
	d.confirmed = append(d.confirmed, confirmedSpoof{price: price, side: side, at: now})
	d.pruneConfirmedLocked(now)
	if d.anomaly != nil {
		d.anomaly.Publish(model.AnomalyEvent{
			Type:      model.AnomalySpoofing,
			Severity:  model.SeverityHigh,
			Price:     price,
			Side:      side,
			Timestamp: now,
		})
	}
}

func (d *Detector) pruneConfirmedLocked(now time.Time) {
	if d.cfg.ConfirmWindow <= 0 {
		return
	}
	live := d.confirmed[:0]
	for _, c := range d.confirmed {
		if now.Sub(c.at) <= d.cfg.ConfirmWindow {
			live = append(live, c)
		}
	}
	d.confirmed = live
}

// OnTradeFill attributes a fill against the level's wall record so
// genuine executions are never mistaken for cancellation.
func (d *Detector) OnTradeFill(price fixedpoint.Value, side model.Side, qty fixedpoint.Value) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rec, ok := d.walls[key(price, side)]; ok {
		rec.filledQty = rec.filledQty.Add(qty)
	}
}

// WasSpoofed implements model.SpoofCheck: true if a wall within
// WallTicks of price on side was confirmed-cancelled within the
// recent ConfirmWindow.
func (d *Detector) WasSpoofed(price fixedpoint.Value, side model.Side, at time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneConfirmedLocked(at)

	band := d.cfg.TickSize.Mul(fixedpoint.FromInt(int64(d.cfg.WallTicks)))
	for _, c := range d.confirmed {
		if c.side != side {
			continue
		}
		if c.price.Sub(price).Abs().LessThanOrEqual(band) {
			return true
		}
	}
	return false
}
