// Package orderbook implements C3, the authoritative, monotonically
// updated L2 depth-of-book with sequence-gap resync and health
// reporting (spec.md §4.1).
package orderbook

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"flowengine/internal/enginerr"
	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"

	"go.uber.org/zap"
)

// SyncState is the book's resync state machine.
type SyncState int

const (
	StateUnsynced SyncState = iota
	StateSynced
	StateResyncing
)

// SnapshotFetcher is the injected feed dependency used for initialize
// and resync (spec.md §4.1). The exchange REST/websocket transport
// itself is out of scope; only this consumption boundary is specified.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, symbol string) (model.DepthSnapshot, error)
}

// Config configures pruning and staleness thresholds (spec.md §6).
type Config struct {
	MaxLevels        int
	MaxPriceDistance int // in ticks
	TickSize         fixedpoint.Value
	PruneInterval    time.Duration
	StaleThreshold   time.Duration
	MaxErrorRate     float64
}

// Book is C3's implementation. All map/slice mutation happens under
// mu; readers obtain short-lived snapshots per spec.md §5's shared
// resource policy.
// LevelObserver receives per-update add/consume deltas as depth
// entries are applied, so C6 (spoofing) can watch for placed-then-
// cancelled walls without the order book depending on the detector
// package directly (spec.md §9's interface-only dependency fix).
type LevelObserver interface {
	OnLevelChange(price fixedpoint.Value, side model.Side, addedDelta, consumedDelta fixedpoint.Value, now time.Time)
}

type Book struct {
	mu sync.RWMutex

	symbol  string
	cfg     Config
	fetcher SnapshotFetcher
	log     *zap.Logger
	obs     LevelObserver

	state        SyncState
	lastUpdateID int64

	bids map[string]*model.PassiveLevel
	asks map[string]*model.PassiveLevel

	streamConnected bool
	lastUpdateAt    time.Time
	resyncs         int64
}

// SetObserver installs a LevelObserver; nil disables notification.
func (b *Book) SetObserver(obs LevelObserver) {
	b.mu.Lock()
	b.obs = obs
	b.mu.Unlock()
}

// New builds a Book. initialize() must be called before apply() is
// accepted.
func New(symbol string, cfg Config, fetcher SnapshotFetcher, log *zap.Logger) *Book {
	return &Book{
		symbol:  symbol,
		cfg:     cfg,
		fetcher: fetcher,
		log:     log,
		bids:    make(map[string]*model.PassiveLevel),
		asks:    make(map[string]*model.PassiveLevel),
	}
}

// Initialize fetches a depth snapshot and rebuilds the map. Must
// succeed before Apply accepts updates.
func (b *Book) Initialize(ctx context.Context) error {
	snap, err := b.fetcher.FetchSnapshot(ctx, b.symbol)
	if err != nil {
		return enginerr.New(enginerr.SnapshotUnavailable, "orderbook", fmt.Errorf("initialize %s: %w", b.symbol, err))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rebuildLocked(snap)
	b.state = StateSynced
	b.lastUpdateID = snap.LastUpdateID
	b.lastUpdateAt = time.Now()
	return nil
}

func (b *Book) rebuildLocked(snap model.DepthSnapshot) {
	b.bids = make(map[string]*model.PassiveLevel, len(snap.Bids))
	b.asks = make(map[string]*model.PassiveLevel, len(snap.Asks))
	now := time.Now()
	for _, e := range snap.Bids {
		if e.Quantity.IsZero() {
			continue
		}
		b.bids[e.Price.String()] = &model.PassiveLevel{Price: e.Price, Bid: e.Quantity, Timestamp: now}
	}
	for _, e := range snap.Asks {
		if e.Quantity.IsZero() {
			continue
		}
		b.asks[e.Price.String()] = &model.PassiveLevel{Price: e.Price, Ask: e.Quantity, Timestamp: now}
	}
}

// resync discards the current map and re-fetches a fresh snapshot,
// incrementing the resync counter (spec.md §4.1 failure semantics).
func (b *Book) resync(ctx context.Context) error {
	snap, err := b.fetcher.FetchSnapshot(ctx, b.symbol)
	if err != nil {
		b.mu.Lock()
		b.state = StateResyncing
		b.mu.Unlock()
		return enginerr.New(enginerr.SnapshotUnavailable, "orderbook", fmt.Errorf("resync %s: %w", b.symbol, err))
	}
	b.mu.Lock()
	b.rebuildLocked(snap)
	b.lastUpdateID = snap.LastUpdateID
	b.state = StateSynced
	b.resyncs++
	b.lastUpdateAt = time.Now()
	b.mu.Unlock()
	return nil
}

// Apply applies one depth delta per the sequencing rules in spec.md
// §4.1: drop if finalUpdateId <= lastUpdateId; require
// firstUpdateId <= lastUpdateId+1 <= finalUpdateId for the first
// accepted delta after a (re)sync; any gap triggers a resync.
func (b *Book) Apply(ctx context.Context, delta model.DepthDelta) error {
	b.mu.Lock()
	if b.state != StateSynced {
		b.mu.Unlock()
		return enginerr.New(enginerr.BookGap, "orderbook", fmt.Errorf("apply while not synced"))
	}
	if delta.FinalUpdateID <= b.lastUpdateID {
		b.mu.Unlock()
		return nil // drop, stale
	}
	if delta.FirstUpdateID > b.lastUpdateID+1 {
		b.mu.Unlock()
		// sequence gap: drop this delta and all until a fresh snapshot
		if err := b.resync(ctx); err != nil {
			return err
		}
		return enginerr.New(enginerr.BookGap, "orderbook", fmt.Errorf("gap: have %d want <= %d", b.lastUpdateID+1, delta.FirstUpdateID))
	}

	b.applyEntriesLocked(b.bids, delta.Bids, true, delta.Timestamp)
	b.applyEntriesLocked(b.asks, delta.Asks, false, delta.Timestamp)
	b.lastUpdateID = delta.FinalUpdateID
	b.lastUpdateAt = time.Now()
	crossed, bid, ask := b.crossedLocked()
	b.mu.Unlock()

	if crossed {
		if err := b.resync(ctx); err != nil {
			return err
		}
		return enginerr.New(enginerr.BookGap, "orderbook", fmt.Errorf("crossed book: bid %s >= ask %s", bid, ask))
	}
	return nil
}

// crossedLocked reports whether the best-bid < best-ask invariant
// (model.OrderBookSnapshot's construction invariant) is violated. Both
// sides must be live; an empty side never counts as crossed.
func (b *Book) crossedLocked() (crossed bool, bid, ask fixedpoint.Value) {
	bid = b.bestBidLocked()
	ask = b.bestAskLocked()
	if bid.IsZero() || ask.IsZero() {
		return false, bid, ask
	}
	return !bid.LessThan(ask), bid, ask
}

func (b *Book) applyEntriesLocked(side map[string]*model.PassiveLevel, entries []model.DepthEntry, isBid bool, ts time.Time) {
	sideLabel := model.SideSell
	if isBid {
		sideLabel = model.SideBuy
	}
	for _, e := range entries {
		key := e.Price.String()
		if e.Quantity.IsZero() {
			if lvl, ok := side[key]; ok && b.obs != nil {
				if isBid {
					b.notifyLocked(e.Price, sideLabel, fixedpoint.Zero, lvl.Bid, ts)
				} else {
					b.notifyLocked(e.Price, sideLabel, fixedpoint.Zero, lvl.Ask, ts)
				}
			}
			delete(side, key)
			continue
		}
		lvl, ok := side[key]
		if !ok {
			lvl = &model.PassiveLevel{Price: e.Price}
			side[key] = lvl
		}
		var added, consumed fixedpoint.Value
		if isBid {
			if e.Quantity.GreaterThan(lvl.Bid) {
				added = e.Quantity.Sub(lvl.Bid)
				lvl.AddedBid = lvl.AddedBid.Add(added)
			} else {
				consumed = lvl.Bid.Sub(e.Quantity)
				lvl.ConsumedBid = lvl.ConsumedBid.Add(consumed)
			}
			lvl.Bid = e.Quantity
		} else {
			if e.Quantity.GreaterThan(lvl.Ask) {
				added = e.Quantity.Sub(lvl.Ask)
				lvl.AddedAsk = lvl.AddedAsk.Add(added)
			} else {
				consumed = lvl.Ask.Sub(e.Quantity)
				lvl.ConsumedAsk = lvl.ConsumedAsk.Add(consumed)
			}
			lvl.Ask = e.Quantity
		}
		lvl.Timestamp = ts
		b.notifyLocked(e.Price, sideLabel, added, consumed, ts)
	}
}

func (b *Book) notifyLocked(price fixedpoint.Value, side model.Side, added, consumed fixedpoint.Value, ts time.Time) {
	if b.obs == nil {
		return
	}
	if added.IsZero() && consumed.IsZero() {
		return
	}
	b.obs.OnLevelChange(price, side, added, consumed, ts)
}

// sortedPrices returns the live price keys for one side, ordered best
// first (descending for bids, ascending for asks). This is an O(n log n)
// scan rather than a maintained balanced tree: no ordered-map/btree
// library appears anywhere in the retrieval pack, so a sorted-slice
// scan bounded by cfg.MaxLevels is used instead of reaching for the
// standard library's weakest option (a plain map) alone. See DESIGN.md.
func sortedPrices(side map[string]*model.PassiveLevel, descending bool) []*model.PassiveLevel {
	out := make([]*model.PassiveLevel, 0, len(side))
	for _, lvl := range side {
		out = append(out, lvl)
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// BestBid returns the highest live bid price, or zero if none.
func (b *Book) BestBid() fixedpoint.Value {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestBidLocked()
}

func (b *Book) bestBidLocked() fixedpoint.Value {
	best := fixedpoint.Zero
	found := false
	for _, lvl := range b.bids {
		if lvl.Bid.IsZero() {
			continue
		}
		if !found || lvl.Price.GreaterThan(best) {
			best = lvl.Price
			found = true
		}
	}
	return best
}

// BestAsk returns the lowest live ask price, or zero if none.
func (b *Book) BestAsk() fixedpoint.Value {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestAskLocked()
}

func (b *Book) bestAskLocked() fixedpoint.Value {
	best := fixedpoint.Zero
	found := false
	for _, lvl := range b.asks {
		if lvl.Ask.IsZero() {
			continue
		}
		if !found || lvl.Price.LessThan(best) {
			best = lvl.Price
			found = true
		}
	}
	return best
}

// Spread returns BestAsk - BestBid.
func (b *Book) Spread() fixedpoint.Value {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestAskLocked().Sub(b.bestBidLocked())
}

// MidPrice returns (BestBid + BestAsk) / 2.
func (b *Book) MidPrice() fixedpoint.Value {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestBidLocked().Add(b.bestAskLocked()).Div(fixedpoint.FromInt(2))
}

// PassiveAt returns the passive bid/ask quantities resting exactly at
// price, used by C5 to snapshot the trade-price level.
func (b *Book) PassiveAt(price fixedpoint.Value) (bid, ask fixedpoint.Value) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	key := price.String()
	if lvl, ok := b.bids[key]; ok {
		bid = lvl.Bid
	}
	if lvl, ok := b.asks[key]; ok {
		ask = lvl.Ask
	}
	return
}

// Depth returns a read-only snapshot of levels within band ticks of
// mid (spec.md §4.1), used by C5 for zone aggregation.
func (b *Book) Depth(band int) model.OrderBookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.depthLocked(band)
}

func (b *Book) depthLocked(band int) model.OrderBookSnapshot {
	mid := b.bestBidLocked().Add(b.bestAskLocked()).Div(fixedpoint.FromInt(2))
	limit := b.cfg.TickSize.Mul(fixedpoint.FromInt(int64(band)))

	out := model.OrderBookSnapshot{
		Timestamp: b.lastUpdateAt,
		BestBid:   b.bestBidLocked(),
		BestAsk:   b.bestAskLocked(),
		Depth:     make(map[string]model.PassiveLevel),
	}
	out.Spread = out.BestAsk.Sub(out.BestBid)
	out.MidPrice = mid

	for _, lvl := range b.bids {
		if band > 0 && mid.Sub(lvl.Price).Abs().GreaterThan(limit) {
			continue
		}
		out.Depth[lvl.Price.String()] = *lvl
		out.PassiveBidVolume = out.PassiveBidVolume.Add(lvl.Bid)
	}
	for _, lvl := range b.asks {
		if band > 0 && lvl.Price.Sub(mid).Abs().GreaterThan(limit) {
			continue
		}
		existing := out.Depth[lvl.Price.String()]
		existing.Price = lvl.Price
		existing.Ask = lvl.Ask
		existing.Timestamp = lvl.Timestamp
		out.Depth[lvl.Price.String()] = existing
		out.PassiveAskVolume = out.PassiveAskVolume.Add(lvl.Ask)
	}
	total := out.PassiveBidVolume.Add(out.PassiveAskVolume)
	if !total.IsZero() {
		out.Imbalance = out.PassiveBidVolume.Sub(out.PassiveAskVolume).Div(total)
	}
	return out
}

// OnStreamConnected/OnStreamDisconnected toggle the staleness
// threshold multiplier used by Health (spec.md §4.1).
func (b *Book) OnStreamConnected() {
	b.mu.Lock()
	b.streamConnected = true
	b.mu.Unlock()
}

func (b *Book) OnStreamDisconnected(reason string) {
	b.mu.Lock()
	b.streamConnected = false
	b.mu.Unlock()
	if b.log != nil {
		b.log.Warn("stream disconnected", zap.String("component", "orderbook"), zap.String("reason", reason))
	}
}

// Prune removes levels further than MaxPriceDistance ticks from mid or
// empty on both sides, then caps total size by furthest-from-mid
// eviction (spec.md §4.1).
func (b *Book) Prune() {
	b.mu.Lock()
	defer b.mu.Unlock()
	mid := b.bestBidLocked().Add(b.bestAskLocked()).Div(fixedpoint.FromInt(2))
	maxDist := b.cfg.TickSize.Mul(fixedpoint.FromInt(int64(b.cfg.MaxPriceDistance)))

	pruneSide := func(side map[string]*model.PassiveLevel) {
		for key, lvl := range side {
			if lvl.Prunable() {
				delete(side, key)
				continue
			}
			if b.cfg.MaxPriceDistance > 0 && mid.Sub(lvl.Price).Abs().GreaterThan(maxDist) {
				delete(side, key)
			}
		}
	}
	pruneSide(b.bids)
	pruneSide(b.asks)

	if b.cfg.MaxLevels <= 0 {
		return
	}
	capSide := func(side map[string]*model.PassiveLevel, descending bool) {
		if len(side) <= b.cfg.MaxLevels {
			return
		}
		ordered := sortedPrices(side, descending)
		for _, lvl := range ordered[b.cfg.MaxLevels:] {
			delete(side, lvl.Price.String())
		}
	}
	capSide(b.bids, true)
	capSide(b.asks, false)
}

// RunPruner starts a ticker that calls Prune on cfg.PruneInterval
// until ctx is cancelled — the periodic maintenance task spec.md §5
// schedules as a cooperative checkpoint between trade events.
func (b *Book) RunPruner(ctx context.Context) {
	if b.cfg.PruneInterval <= 0 {
		return
	}
	ticker := time.NewTicker(b.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Prune()
		}
	}
}

// Health reports the book's freshness and connectivity (spec.md §4.1).
func (b *Book) Health() model.BookHealth {
	b.mu.RLock()
	defer b.mu.RUnlock()

	threshold := b.cfg.StaleThreshold
	if !b.streamConnected {
		threshold *= 10
	}
	age := time.Since(b.lastUpdateAt)

	status := model.HealthOK
	switch {
	case b.state != StateSynced:
		status = model.HealthStale
	case threshold > 0 && age > threshold:
		status = model.HealthStale
	case threshold > 0 && age > threshold/2:
		status = model.HealthDegraded
	}

	return model.BookHealth{
		Status:           status,
		LastUpdateMs:     b.lastUpdateAt.UnixMilli(),
		BidLevels:        len(b.bids),
		AskLevels:        len(b.asks),
		StreamConnected:  b.streamConnected,
		TimeoutThreshold: threshold,
	}
}

// Resyncs returns the cumulative resync counter, for metrics.
func (b *Book) Resyncs() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.resyncs
}

// State returns the current sync state, for tests and health.
func (b *Book) State() SyncState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}
