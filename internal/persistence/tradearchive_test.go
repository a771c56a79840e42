package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"

	"github.com/stretchr/testify/require"
)

func openTestArchive(t *testing.T) *TradeArchive {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	a := &TradeArchive{sql: db}
	require.NoError(t, a.migrate())
	return a
}

func priceOf(t *testing.T, s string) fixedpoint.Value {
	t.Helper()
	v, err := fixedpoint.FromString(s)
	require.NoError(t, err)
	return v
}

func TestAppendAndRecentRoundTrip(t *testing.T) {
	a := openTestArchive(t)
	defer a.Close()

	base := time.UnixMilli(1_700_000_000_000)
	for i, id := range []string{"t1", "t2", "t3"} {
		trade := model.AggressiveTrade{
			TradeID:      id,
			Pair:         "BTCUSDT",
			Price:        priceOf(t, "89.00"),
			Quantity:     priceOf(t, "1.0"),
			Timestamp:    base.Add(time.Duration(i) * time.Second),
			BuyerIsMaker: i%2 == 0,
		}
		require.NoError(t, a.Append(context.Background(), trade))
	}

	got, err := a.Recent(context.Background(), "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "t1", got[0].TradeID)
	require.Equal(t, "t3", got[2].TradeID)
}

func TestAppendIgnoresDuplicateTradeID(t *testing.T) {
	a := openTestArchive(t)
	defer a.Close()

	trade := model.AggressiveTrade{TradeID: "dup", Pair: "BTCUSDT", Price: priceOf(t, "1"), Quantity: priceOf(t, "1"), Timestamp: time.Now()}
	require.NoError(t, a.Append(context.Background(), trade))
	require.NoError(t, a.Append(context.Background(), trade))

	got, err := a.Recent(context.Background(), "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
}
