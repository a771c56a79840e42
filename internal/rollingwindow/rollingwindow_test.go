package rollingwindow

import (
	"testing"
	"time"

	"flowengine/internal/fixedpoint"

	"github.com/stretchr/testify/require"
)

func TestWindowEvictsByCapacity(t *testing.T) {
	w := New(3, 0)
	base := time.Unix(0, 0)
	for i := int64(1); i <= 5; i++ {
		w.Push(base.Add(time.Duration(i)*time.Second), fixedpoint.FromInt(i))
	}
	require.Equal(t, 3, w.Len())
	all := w.All()
	require.Equal(t, "3", all[0].Value.String())
	require.Equal(t, "5", all[2].Value.String())
}

func TestWindowEvictsByRetention(t *testing.T) {
	w := New(10, 5*time.Second)
	base := time.Unix(0, 0)
	w.Push(base, fixedpoint.FromInt(1))
	w.Push(base.Add(2*time.Second), fixedpoint.FromInt(2))
	w.Push(base.Add(10*time.Second), fixedpoint.FromInt(3))
	require.Equal(t, 1, w.Len())
	last, ok := w.Last()
	require.True(t, ok)
	require.Equal(t, "3", last.Value.String())
}

func TestWindowMeanAndSum(t *testing.T) {
	w := New(4, 0)
	base := time.Unix(0, 0)
	for i := int64(1); i <= 4; i++ {
		w.Push(base.Add(time.Duration(i)*time.Second), fixedpoint.FromInt(i))
	}
	require.Equal(t, "10", w.Sum().String())
	require.True(t, w.Mean().Equal(fixedpoint.FromFloat(2.5)))
}

func TestWindowMinMax(t *testing.T) {
	w := New(4, 0)
	base := time.Unix(0, 0)
	vals := []int64{5, 1, 9, 3}
	for i, v := range vals {
		w.Push(base.Add(time.Duration(i)*time.Second), fixedpoint.FromInt(v))
	}
	min, _ := w.Min()
	max, _ := w.Max()
	require.Equal(t, "1", min.String())
	require.Equal(t, "9", max.String())
}
