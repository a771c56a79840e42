package preprocessor

import (
	"testing"
	"time"

	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"
	"flowengine/internal/passivevolume"

	"github.com/stretchr/testify/require"
)

type fakeBook struct {
	bid, ask           fixedpoint.Value
	passiveBid, passiveAsk fixedpoint.Value
}

func (f *fakeBook) BestBid() fixedpoint.Value { return f.bid }
func (f *fakeBook) BestAsk() fixedpoint.Value { return f.ask }
func (f *fakeBook) PassiveAt(price fixedpoint.Value) (fixedpoint.Value, fixedpoint.Value) {
	return f.passiveBid, f.passiveAsk
}
func (f *fakeBook) Depth(band int) model.OrderBookSnapshot {
	return model.OrderBookSnapshot{PassiveBidVolume: f.passiveBid, PassiveAskVolume: f.passiveAsk}
}

func mustPrice(s string) fixedpoint.Value {
	v, err := fixedpoint.FromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestProcessPopulatesZoneInvariants(t *testing.T) {
	book := &fakeBook{bid: mustPrice("89.00"), ask: mustPrice("89.01"), passiveBid: mustPrice("2000"), passiveAsk: mustPrice("100")}
	tracker := passivevolume.New(passivevolume.Config{RefillRatio: 0.8}, 64)
	p := New(Config{TickSize: mustPrice("0.01"), ZoneTicks: []int{5, 10, 20}, TimeWindowMs: 60000}, book, tracker, nil)

	now := time.Now()
	trade := model.AggressiveTrade{TradeID: "1", Price: mustPrice("89.00"), Quantity: mustPrice("60"), Timestamp: now, BuyerIsMaker: true}
	enriched := p.Process(trade)

	for w, zone := range enriched.ZoneData {
		sumSides := zone.AggressiveBuyVolume.Add(zone.AggressiveSellVolume)
		require.True(t, sumSides.Equal(zone.AggressiveVolume), "window %d", w)
		require.True(t, zone.Boundaries.Min.LessThanOrEqual(trade.Price))
		require.True(t, trade.Price.LessThan(zone.Boundaries.Max) || w == 20)
	}
}

func TestBackpressureDropsOldest(t *testing.T) {
	book := &fakeBook{bid: mustPrice("10"), ask: mustPrice("11")}
	tracker := passivevolume.New(passivevolume.Config{}, 16)
	p := New(Config{TickSize: mustPrice("1"), ZoneTicks: []int{5}}, book, tracker, nil)
	ch := p.Subscribe("slow", 1)

	for i := 0; i < 5; i++ {
		p.Process(model.AggressiveTrade{TradeID: "x", Price: mustPrice("10"), Quantity: mustPrice("1"), Timestamp: time.Now()})
	}
	require.Greater(t, p.DroppedFor("slow"), int64(0))
	require.Len(t, ch, 1)
}

func TestVWAPTracksRunningSum(t *testing.T) {
	book := &fakeBook{bid: mustPrice("10"), ask: mustPrice("11")}
	tracker := passivevolume.New(passivevolume.Config{}, 16)
	p := New(Config{TickSize: mustPrice("1"), ZoneTicks: []int{5}}, book, tracker, nil)

	p.Process(model.AggressiveTrade{Price: mustPrice("10"), Quantity: mustPrice("2"), Timestamp: time.Now()})
	e := p.Process(model.AggressiveTrade{Price: mustPrice("12"), Quantity: mustPrice("2"), Timestamp: time.Now()})
	zone := e.ZoneData[5]
	require.True(t, zone.VolumeWeightedPrice.Equal(mustPrice("11")))
}
