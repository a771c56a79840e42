// Package regime classifies the current volatility regime from recent
// mid-price samples, feeding signalmanager.Manager.UpdateRegime's
// {highVolatility, lowVolatility, balanced} lookup in
// config.SignalManagerConfig.SignalPriorityMatrix (spec.md §4.9's
// context-adjustment step).
//
// Grounded on the teacher's app/regime_detector.go classifyRegime: a
// Bollinger-band-width proxy (stddev scaled by price) against
// configurable thresholds. The teacher's richer four-way regime
// (RANGING/VOLATILE/TRENDING_UP/TRENDING_DOWN) is narrowed to the
// three buckets the signal manager's matrix actually keys on — trend
// direction has no consumer in SPEC_FULL.md's detector graph.
package regime

import (
	"flowengine/internal/fixedpoint"
)

const (
	HighVolatility = "highVolatility"
	LowVolatility  = "lowVolatility"
	Balanced       = "balanced"
)

// Config thresholds a Bollinger-band-width-style volatility ratio
// (4*stddev/mean) against the regime boundaries.
type Config struct {
	HighVolatilityWidth float64 `env:"REGIME_HIGH_VOL_WIDTH" envDefault:"0.05"`
	LowVolatilityWidth  float64 `env:"REGIME_LOW_VOL_WIDTH" envDefault:"0.01"`
	MinSamples          int     `env:"REGIME_MIN_SAMPLES" envDefault:"20"`
}

// Classify returns one of HighVolatility, LowVolatility or Balanced
// from a run of mid-price samples, oldest first. Fewer than
// cfg.MinSamples samples always classifies as Balanced — there isn't
// enough history yet to call a regime shift.
func Classify(cfg Config, samples []fixedpoint.Value) string {
	if len(samples) < cfg.MinSamples {
		return Balanced
	}

	mean := fixedpoint.Mean(samples)
	if mean.IsZero() {
		return Balanced
	}
	stddev := fixedpoint.StdDev(samples)
	width := stddev.Mul(fixedpoint.FromInt(4)).Div(mean).Float64()

	switch {
	case width >= cfg.HighVolatilityWidth:
		return HighVolatility
	case width <= cfg.LowVolatilityWidth:
		return LowVolatility
	default:
		return Balanced
	}
}
