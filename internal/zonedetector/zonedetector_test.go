package zonedetector

import (
	"testing"
	"time"

	"flowengine/internal/config"
	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"

	"github.com/stretchr/testify/require"
)

type recordingZones struct {
	events []model.ZoneSignal
}

func (r *recordingZones) Publish(z model.ZoneSignal) { r.events = append(r.events, z) }

type recordingSignals struct {
	candidates []model.SignalCandidate
}

func (r *recordingSignals) Submit(c model.SignalCandidate) { r.candidates = append(r.candidates, c) }

func mustPrice(s string) fixedpoint.Value {
	v, err := fixedpoint.FromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func baseCfg() config.ZoneConfig {
	return config.ZoneConfig{
		MinZoneVolume:           "1000",
		MinTradeCount:           5,
		MinBuyRatio:             0.7,
		MinSellRatio:            0.7,
		MinCandidateDuration:    0,
		MaxPriceDeviation:       0.05,
		MinZoneStrength:         0.3,
		MaxActiveZones:          5,
		ZoneTimeout:             time.Minute,
		CompletionThreshold:     0.95,
		StrengthChangeThreshold: 0.1,
		MinPriceStability:       0.85,
		MinInstitutionalScore:   0.4,
		MinCompositeScore:       0.75,
		InvalidationBuffer:      0.005,
	}
}

func zoneEvent(price fixedpoint.Value, buy, sell fixedpoint.Value, count int, at time.Time) model.EnrichedTradeEvent {
	z := model.ZoneSnapshot{
		PriceLevel:           price,
		TickSize:             mustPrice("0.01"),
		AggressiveBuyVolume:  buy,
		AggressiveSellVolume: sell,
		AggressiveVolume:     buy.Add(sell),
		TradeCount:           count,
	}
	z.Boundaries.Min = price
	z.Boundaries.Max = price.Add(mustPrice("0.10"))
	return model.EnrichedTradeEvent{
		AggressiveTrade: model.AggressiveTrade{Timestamp: at},
		ZoneData:        map[int]model.ZoneSnapshot{10: z},
	}
}

func TestAccumulationZonePromotesOnSustainedBuying(t *testing.T) {
	zones := &recordingZones{}
	signals := &recordingSignals{}
	m := New(baseCfg(), Accumulation, 10, zones, signals)

	now := time.Now()
	e := zoneEvent(mustPrice("89.00"), mustPrice("900"), mustPrice("100"), 5, now)
	m.Process(e)

	require.NotEmpty(t, zones.events)
	require.Equal(t, model.ZoneCreated, zones.events[0].ActionType)
	require.Equal(t, model.SideBuy, zones.events[0].ExpectedDirection)
}

// TestLowInstitutionalScoreBlocksPromotion checks that a zone whose
// composite score alone would clear MinCompositeScore still fails to
// promote when built from many small trades: the institutional-score
// gate is independent, not folded into the blended composite.
func TestLowInstitutionalScoreBlocksPromotion(t *testing.T) {
	zones := &recordingZones{}
	m := New(baseCfg(), Accumulation, 10, zones, nil)

	now := time.Now()
	e := zoneEvent(mustPrice("89.00"), mustPrice("900"), mustPrice("100"), 100, now)
	m.Process(e)

	require.Empty(t, zones.events)
}

// TestInvalidatesOnPriceBelowZoneFloor checks spec.md §4.6's literal
// invalidation rule: the current trade price falling more than
// InvalidationBuffer below the zone's recorded minimum.
func TestInvalidatesOnPriceBelowZoneFloor(t *testing.T) {
	zones := &recordingZones{}
	m := New(baseCfg(), Accumulation, 10, zones, nil)

	now := time.Now()
	price := mustPrice("89.00")
	m.Process(zoneEvent(price, mustPrice("900"), mustPrice("100"), 5, now))
	require.Equal(t, model.ZoneCreated, zones.events[len(zones.events)-1].ActionType)

	e := zoneEvent(price, mustPrice("900"), mustPrice("100"), 6, now.Add(time.Second))
	e.Price = mustPrice("88.00") // below 89.00 * (1 - 0.005)
	m.Process(e)

	require.Equal(t, model.ZoneInvalidated, zones.events[len(zones.events)-1].ActionType)
}

func TestDistributionDoesNotPromoteOnBuying(t *testing.T) {
	zones := &recordingZones{}
	m := New(baseCfg(), Distribution, 10, zones, nil)

	now := time.Now()
	e := zoneEvent(mustPrice("89.00"), mustPrice("900"), mustPrice("100"), 8, now)
	m.Process(e)

	require.Empty(t, zones.events)
}

func TestBelowVolumeThresholdStaysCandidate(t *testing.T) {
	zones := &recordingZones{}
	m := New(baseCfg(), Accumulation, 10, zones, nil)

	now := time.Now()
	e := zoneEvent(mustPrice("89.00"), mustPrice("50"), mustPrice("10"), 2, now)
	m.Process(e)

	require.Empty(t, zones.events)
}
