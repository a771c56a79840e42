package regime

import (
	"testing"

	"flowengine/internal/fixedpoint"

	"github.com/stretchr/testify/require"
)

func prices(t *testing.T, vals ...string) []fixedpoint.Value {
	t.Helper()
	out := make([]fixedpoint.Value, len(vals))
	for i, v := range vals {
		p, err := fixedpoint.FromString(v)
		require.NoError(t, err)
		out[i] = p
	}
	return out
}

func defaultConfig() Config {
	return Config{HighVolatilityWidth: 0.05, LowVolatilityWidth: 0.01, MinSamples: 5}
}

func TestClassifyReturnsBalancedBelowMinSamples(t *testing.T) {
	require.Equal(t, Balanced, Classify(defaultConfig(), prices(t, "100", "101")))
}

func TestClassifyReturnsLowVolatilityForTightRange(t *testing.T) {
	samples := prices(t, "100.00", "100.01", "99.99", "100.00", "100.01", "99.99")
	require.Equal(t, LowVolatility, Classify(defaultConfig(), samples))
}

func TestClassifyReturnsHighVolatilityForWideSwings(t *testing.T) {
	samples := prices(t, "100", "110", "90", "105", "95", "115")
	require.Equal(t, HighVolatility, Classify(defaultConfig(), samples))
}
