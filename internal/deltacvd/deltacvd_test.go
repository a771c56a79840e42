package deltacvd

import (
	"testing"
	"time"

	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"

	"github.com/stretchr/testify/require"
)

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

func trade(price, qty string, sell bool, at time.Time) model.AggressiveTrade {
	return model.AggressiveTrade{
		Price:        mustPrice(price),
		Quantity:     mustPrice(qty),
		Timestamp:    at,
		BuyerIsMaker: sell,
	}
}

func TestBelowMinSamplesNeverEmits(t *testing.T) {
	d := New(Config{WindowMs: 60000, ZScoreThreshold: 2, MinSamples: 20, MinConfidence: 0.5}, 64, nil)
	now := time.Now()
	_, ok := d.Process(trade("10", "5", false, now))
	require.False(t, ok)
}

func TestLargeDeltaSpikeConfirmsBuySide(t *testing.T) {
	signals := &recordingSignals{}
	d := New(Config{WindowMs: 60000, ZScoreThreshold: 1.5, MinSamples: 5, MinConfidence: 0.5}, 64, signals)
	now := time.Now()

	for i := 0; i < 10; i++ {
		d.Process(trade("10", "1", i%2 == 0, now.Add(time.Duration(i)*time.Second)))
	}
	candidate, ok := d.Process(trade("10", "500", false, now.Add(11*time.Second)))
	require.True(t, ok)
	require.Equal(t, model.SideBuy, candidate.Side)
	require.Len(t, signals.candidates, 1)
}

func TestCumulativeTracksSignedVolume(t *testing.T) {
	d := New(Config{WindowMs: 60000, ZScoreThreshold: 100, MinSamples: 100, MinConfidence: 0.9}, 64, nil)
	now := time.Now()
	d.Process(trade("10", "5", false, now))
	d.Process(trade("10", "3", true, now.Add(time.Second)))
	require.True(t, d.Cumulative().Equal(mustPrice("2")))
}
