package absorption

import (
	"testing"
	"time"

	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"

	"github.com/stretchr/testify/require"
)

type fakeSpoof struct{ spoofed bool }

func (f fakeSpoof) WasSpoofed(price fixedpoint.Value, side model.Side, at time.Time) bool {
	return f.spoofed
}

type fakeRefill struct{ refilled bool }

func (f fakeRefill) RefillStatus(price fixedpoint.Value, side model.Side) bool { return f.refilled }

// fakePassive stands in for C4's AveragePassiveBySide with a fixed
// historical average, well below the zone's current passive wall so
// the expected-movement baseline (spec.md §4.4) is large enough for
// the test's tiny actual price range to read as absorption.
type fakePassive struct{ avg fixedpoint.Value }

func (f fakePassive) AveragePassiveBySide(price fixedpoint.Value, side model.Side) fixedpoint.Value {
	return f.avg
}

func thinHistory() fakePassive { return fakePassive{avg: mustPrice("50")} }

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

func baseConfig() Config {
	return Config{
		MinAggVolume:                  mustPrice("500"),
		PassiveAbsorptionThreshold:    0.65,
		MinPassiveMultiplier:          1.5,
		PriceEfficiencyThreshold:      0.35,
		ExpectedMovementScalingFactor: 1.0,
		EventCooldown:                 15 * time.Second,
		FinalConfidenceRequired:       0.5,
		InstitutionalVolumeThreshold:  mustPrice("1000"),
		RefillConfidenceBoost:         0.05,
		SpoofConfidencePenalty:        0.3,
		PrimaryZoneTicks:              5,
		Weights: Weights{
			InverseEfficiency:     0.35,
			PassiveRatio:          0.30,
			InstitutionalFraction: 0.20,
			ZoneConfluence:        0.15,
		},
	}
}

func zoneWith(aggBuy, aggSell, passiveBid, passiveAsk fixedpoint.Value) model.ZoneSnapshot {
	z := model.ZoneSnapshot{
		PriceLevel:           mustPrice("89.00"),
		TickSize:             mustPrice("0.01"),
		AggressiveBuyVolume:  aggBuy,
		AggressiveSellVolume: aggSell,
		AggressiveVolume:     aggBuy.Add(aggSell),
		PassiveBidVolume:     passiveBid,
		PassiveAskVolume:     passiveAsk,
	}
	z.Boundaries.Min = mustPrice("88.99")
	z.Boundaries.Max = mustPrice("89.00")
	return z
}

func TestHeavyBuyingAbsorbedByAskWallSignalsSell(t *testing.T) {
	signals := &recordingSignals{}
	d := New(baseConfig(), fakeSpoof{}, fakeRefill{}, thinHistory(), signals)

	e := model.EnrichedTradeEvent{
		AggressiveTrade: model.AggressiveTrade{Timestamp: time.Now()},
		ZoneData: map[int]model.ZoneSnapshot{
			5: zoneWith(mustPrice("800"), mustPrice("0"), mustPrice("100"), mustPrice("1200")),
		},
	}

	candidate, ok := d.Process(e)
	require.True(t, ok)
	require.Equal(t, model.SideSell, candidate.Side)
	require.Len(t, signals.candidates, 1)
}

func TestInsufficientPassiveDominanceRejected(t *testing.T) {
	d := New(baseConfig(), fakeSpoof{}, fakeRefill{}, nil, nil)
	e := model.EnrichedTradeEvent{
		AggressiveTrade: model.AggressiveTrade{Timestamp: time.Now()},
		ZoneData: map[int]model.ZoneSnapshot{
			5: zoneWith(mustPrice("800"), mustPrice("0"), mustPrice("0"), mustPrice("200")),
		},
	}
	_, ok := d.Process(e)
	require.False(t, ok)
}

func TestSpoofedWallReducesConfidenceBelowThreshold(t *testing.T) {
	cfg := baseConfig()
	cfg.FinalConfidenceRequired = 0.6
	d := New(cfg, fakeSpoof{spoofed: true}, fakeRefill{}, thinHistory(), nil)
	e := model.EnrichedTradeEvent{
		AggressiveTrade: model.AggressiveTrade{Timestamp: time.Now()},
		ZoneData: map[int]model.ZoneSnapshot{
			5: zoneWith(mustPrice("800"), mustPrice("0"), mustPrice("100"), mustPrice("1200")),
		},
	}
	_, ok := d.Process(e)
	require.False(t, ok)
}

func TestEventCooldownSuppressesRepeat(t *testing.T) {
	d := New(baseConfig(), fakeSpoof{}, fakeRefill{}, thinHistory(), nil)
	now := time.Now()
	e := model.EnrichedTradeEvent{
		AggressiveTrade: model.AggressiveTrade{Timestamp: now},
		ZoneData: map[int]model.ZoneSnapshot{
			5: zoneWith(mustPrice("800"), mustPrice("0"), mustPrice("100"), mustPrice("1200")),
		},
	}
	_, ok := d.Process(e)
	require.True(t, ok)

	e.AggressiveTrade.Timestamp = now.Add(time.Second)
	_, ok = d.Process(e)
	require.False(t, ok)
}
