package iceberg

import (
	"testing"
	"time"

	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"

	"github.com/stretchr/testify/require"
)

type recordingAnomaly struct {
	events []model.AnomalyEvent
}

func (r *recordingAnomaly) Publish(e model.AnomalyEvent) { r.events = append(r.events, e) }

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

func newDetector(anomaly AnomalyPort, signals SignalPort) *Detector {
	return New(Config{
		MinRefillCount:             4,
		MaxSizeVariation:           0.3,
		MinTotalSize:               mustPrice("400"),
		MaxRefillTime:              5 * time.Second,
		InstitutionalSizeThreshold: mustPrice("80"),
		TrackingWindow:             time.Minute,
		MinConfidence:              0.5,
	}, mustPrice("0.01"), anomaly, signals)
}

func TestRepeatedUniformRefillsQualify(t *testing.T) {
	anomaly := &recordingAnomaly{}
	signals := &recordingSignals{}
	d := newDetector(anomaly, signals)
	now := time.Now()

	for i := 0; i < 6; i++ {
		d.OnFill(mustPrice("89.00"), model.SideBuy, mustPrice("100"), now.Add(time.Duration(i)*time.Second))
	}

	require.Len(t, anomaly.events, 1)
	require.Equal(t, model.AnomalyIceberg, anomaly.events[0].Type)
	require.Len(t, signals.candidates, 1)
	require.Equal(t, model.SignalIceberg, signals.candidates[0].Type)
	// The 4th fill qualifies and retires the candidate; fills 5 and 6
	// start a new, still unqualified sequence at the same level.
	require.Equal(t, 1, d.Active())
}

func TestGapAboveMaxRefillTimeResetsSequence(t *testing.T) {
	anomaly := &recordingAnomaly{}
	signals := &recordingSignals{}
	d := newDetector(anomaly, signals)
	now := time.Now()

	d.OnFill(mustPrice("89.00"), model.SideBuy, mustPrice("100"), now)
	d.OnFill(mustPrice("89.00"), model.SideBuy, mustPrice("100"), now.Add(10*time.Second))
	d.OnFill(mustPrice("89.00"), model.SideBuy, mustPrice("100"), now.Add(11*time.Second))

	require.Empty(t, anomaly.events)
	require.Equal(t, 1, d.Active())
}

func TestHighVariancePiecesDoNotQualify(t *testing.T) {
	anomaly := &recordingAnomaly{}
	signals := &recordingSignals{}
	d := newDetector(anomaly, signals)
	now := time.Now()

	sizes := []string{"10", "500", "20", "480", "5"}
	for i, s := range sizes {
		d.OnFill(mustPrice("89.00"), model.SideBuy, mustPrice(s), now.Add(time.Duration(i)*time.Second))
	}

	require.Empty(t, anomaly.events)
}

func TestDifferentPriceLevelsTrackedIndependently(t *testing.T) {
	anomaly := &recordingAnomaly{}
	signals := &recordingSignals{}
	d := newDetector(anomaly, signals)
	now := time.Now()

	d.OnFill(mustPrice("89.00"), model.SideBuy, mustPrice("100"), now)
	d.OnFill(mustPrice("90.00"), model.SideSell, mustPrice("100"), now)

	require.Equal(t, 2, d.Active())
}
