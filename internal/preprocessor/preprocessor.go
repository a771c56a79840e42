// Package preprocessor implements C5, the single-threaded cooperative
// pipeline that enriches every aggressive trade with passive liquidity
// and multi-tick zone aggregates before fanning it out to detectors
// (spec.md §4.3).
package preprocessor

import (
	"time"

	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"
	"flowengine/internal/passivevolume"

	"go.uber.org/zap"
)

// BookReader is the slice of orderbook.Book the preprocessor needs —
// an interface so tests can substitute a fake without depending on
// the concrete C3 implementation.
type BookReader interface {
	BestBid() fixedpoint.Value
	BestAsk() fixedpoint.Value
	PassiveAt(price fixedpoint.Value) (bid, ask fixedpoint.Value)
	Depth(bandTicks int) model.OrderBookSnapshot
}

// Config configures zone tick windows and staleness (spec.md §6).
type Config struct {
	TickSize     fixedpoint.Value
	ZoneTicks    []int
	TimeWindowMs int64
}

// Preprocessor is C5. Not safe for concurrent Process calls — it is
// driven by the single cooperative ingress loop (spec.md §5).
type Preprocessor struct {
	cfg     Config
	book    BookReader
	passive *passivevolume.Tracker
	log     *zap.Logger

	// zones[ticks][tickIndex] -> running aggregate
	zones map[int]map[int64]*model.ZoneSnapshot

	consumers []*consumer
}

type consumer struct {
	name    string
	ch      chan model.EnrichedTradeEvent
	dropped int64
}

// New builds a Preprocessor over the given book and passive tracker.
func New(cfg Config, book BookReader, passive *passivevolume.Tracker, log *zap.Logger) *Preprocessor {
	p := &Preprocessor{
		cfg:     cfg,
		book:    book,
		passive: passive,
		log:     log,
		zones:   make(map[int]map[int64]*model.ZoneSnapshot),
	}
	for _, t := range cfg.ZoneTicks {
		p.zones[t] = make(map[int64]*model.ZoneSnapshot)
	}
	return p
}

// Subscribe registers a bounded consumer channel. Backpressure policy
// (spec.md §4.3): if the channel is full, the oldest unread enrichment
// for that consumer is dropped and counted, never the book or C4.
func (p *Preprocessor) Subscribe(name string, buffer int) <-chan model.EnrichedTradeEvent {
	if buffer <= 0 {
		buffer = 1
	}
	c := &consumer{name: name, ch: make(chan model.EnrichedTradeEvent, buffer)}
	p.consumers = append(p.consumers, c)
	return c.ch
}

// DroppedFor returns the drop counter for a named consumer, for
// metrics/tests.
func (p *Preprocessor) DroppedFor(name string) int64 {
	for _, c := range p.consumers {
		if c.name == name {
			return c.dropped
		}
	}
	return 0
}

// Process enriches one trade and fans it out to every subscribed
// consumer (spec.md §4.3's five steps).
func (p *Preprocessor) Process(trade model.AggressiveTrade) model.EnrichedTradeEvent {
	bestBid := p.book.BestBid()
	bestAsk := p.book.BestAsk()
	passiveBid, passiveAsk := p.book.PassiveAt(trade.Price)

	enriched := model.EnrichedTradeEvent{
		AggressiveTrade:  trade,
		PassiveBidVolume: passiveBid,
		PassiveAskVolume: passiveAsk,
		BestBid:          bestBid,
		BestAsk:          bestAsk,
		ZoneData:         make(map[int]model.ZoneSnapshot),
	}

	primaryBand := primaryZoneTicks(p.cfg.ZoneTicks)
	if primaryBand > 0 {
		bandDepth := p.book.Depth(primaryBand)
		enriched.ZonePassiveBidVolume = bandDepth.PassiveBidVolume
		enriched.ZonePassiveAskVolume = bandDepth.PassiveAskVolume
	}

	for _, ticks := range p.cfg.ZoneTicks {
		zone := p.updateZone(ticks, trade, passiveBid, passiveAsk)
		enriched.ZoneData[ticks] = zone
	}

	p.passive.Push(trade.Timestamp, trade.Price, passiveBid, passiveAsk)
	p.retireStale(trade.Timestamp)
	p.publish(enriched)
	return enriched
}

// primaryZoneTicks picks the 10-tick (or middle) configured window as
// the "primary" zone absorption/exhaustion operate on (spec.md §4.4).
func primaryZoneTicks(zoneTicks []int) int {
	for _, t := range zoneTicks {
		if t == 10 {
			return 10
		}
	}
	if len(zoneTicks) > 0 {
		return zoneTicks[len(zoneTicks)/2]
	}
	return 0
}

func (p *Preprocessor) updateZone(ticks int, trade model.AggressiveTrade, passiveBid, passiveAsk fixedpoint.Value) model.ZoneSnapshot {
	tickWindowSize := p.cfg.TickSize.Mul(fixedpoint.FromInt(int64(ticks)))
	idx := fixedpoint.TickIndex(trade.Price, tickWindowSize)

	byIdx, ok := p.zones[ticks]
	if !ok {
		byIdx = make(map[int64]*model.ZoneSnapshot)
		p.zones[ticks] = byIdx
	}
	z, ok := byIdx[idx]
	if !ok {
		min := fixedpoint.FromInt(idx).Mul(tickWindowSize)
		z = &model.ZoneSnapshot{
			PriceLevel: min,
			TickSize:   p.cfg.TickSize,
			TickWindow: ticks,
		}
		z.Boundaries.Min = min
		z.Boundaries.Max = min.Add(tickWindowSize)
		byIdx[idx] = z
	}
	z.ApplyTrade(trade)
	z.RefreshPassive(passiveBid, passiveAsk)
	return *z
}

// retireStale drops zones that have not updated within TimeWindowMs
// (spec.md §4.3 step 3).
func (p *Preprocessor) retireStale(now time.Time) {
	if p.cfg.TimeWindowMs <= 0 {
		return
	}
	cutoff := time.Duration(p.cfg.TimeWindowMs) * time.Millisecond
	for ticks, byIdx := range p.zones {
		for idx, z := range byIdx {
			if now.Sub(z.LastUpdate) > cutoff {
				delete(byIdx, idx)
			}
		}
		p.zones[ticks] = byIdx
	}
}

func (p *Preprocessor) publish(e model.EnrichedTradeEvent) {
	for _, c := range p.consumers {
		select {
		case c.ch <- e:
		default:
			// drop oldest, then retry once
			select {
			case <-c.ch:
				c.dropped++
			default:
			}
			select {
			case c.ch <- e:
			default:
				c.dropped++
			}
		}
	}
}
