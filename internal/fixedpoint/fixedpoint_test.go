package fixedpoint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDivByZeroIsSafe(t *testing.T) {
	v := FromInt(10)
	require.True(t, v.Div(Zero).IsZero())
}

func TestMeanAndVariance(t *testing.T) {
	vs := []Value{FromInt(2), FromInt(4), FromInt(4), FromInt(4), FromInt(5), FromInt(5), FromInt(7), FromInt(9)}
	mean := Mean(vs)
	require.True(t, mean.Equal(FromFloat(5)))
	variance := Variance(vs)
	require.True(t, variance.Equal(FromFloat(4)))
}

func TestZScoreZeroStdDev(t *testing.T) {
	z := ZScore(FromInt(5), FromInt(5), Zero)
	require.True(t, z.IsZero())
}

func TestFloorToTick(t *testing.T) {
	tick := FromFloat(0.01)
	price, err := FromString("89.004")
	require.NoError(t, err)
	floored := FloorToTick(price, tick)
	require.True(t, floored.Equal(FromFloat(89.00)))

	price2, err := FromString("89.009")
	require.NoError(t, err)
	require.True(t, FloorToTick(price2, tick).Equal(FromFloat(89.00)))
}

func TestTickIndexNegativePrice(t *testing.T) {
	tick := FromInt(1)
	idx := TickIndex(FromFloat(-0.5), tick)
	require.Equal(t, int64(-1), idx)
}

func TestClamp(t *testing.T) {
	require.True(t, Clamp(FromInt(15), FromInt(0), FromInt(10)).Equal(FromInt(10)))
	require.True(t, Clamp(FromInt(-5), FromInt(0), FromInt(10)).Equal(FromInt(0)))
}
