package simulator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"flowengine/internal/fixedpoint"
	"flowengine/internal/orderbook"
	"flowengine/internal/telemetry"

	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func mustPrice(s string) fixedpoint.Value {
	v, err := fixedpoint.FromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestReplayAppliesDeltasAndStreamsTrades(t *testing.T) {
	snapshotCSV := "last_update_id,timestamp_ms,bids,asks\n100,1000,89.00:10,89.01:5\n"
	depthCSV := "first_update_id,final_update_id,timestamp_ms,bids,asks\n101,101,2000,89.00:12,\n"
	tradesCSV := "trade_id,price,quantity,timestamp_ms,buyer_is_maker\nt1,89.00,1.5,1500,false\nt2,89.01,0.5,2500,true\n"

	cfg := Config{
		Symbol:          "BTCUSDT",
		SnapshotPath:    writeFixture(t, "snapshot.csv", snapshotCSV),
		DepthPath:       writeFixture(t, "depth.csv", depthCSV),
		TradesPath:      writeFixture(t, "trades.csv", tradesCSV),
		SpeedMultiplier: 0, // unthrottled
		Book:            orderbook.Config{TickSize: mustPrice("0.01")},
	}

	log, err := telemetry.NewLogger(false)
	require.NoError(t, err)
	sim, err := New(cfg, log)
	require.NoError(t, err)

	var trades []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		for trade := range sim.Trades() {
			trades = append(trades, trade.TradeID)
		}
	}()

	require.NoError(t, sim.Run(context.Background()))
	<-done

	require.Equal(t, []string{"t1", "t2"}, trades)
	require.True(t, sim.Book().BestBid().Equal(mustPrice("89.00")))
}

func TestDateRangeFilteringExcludesOutOfWindowTrades(t *testing.T) {
	snapshotCSV := "last_update_id,timestamp_ms,bids,asks\n1,0,89.00:10,89.01:5\n"
	tradesCSV := "trade_id,price,quantity,timestamp_ms,buyer_is_maker\n" +
		"early,89.00,1,1000,false\n" +
		"inwindow,89.00,1,5000,false\n" +
		"late,89.00,1,9000,false\n"

	cfg := Config{
		Symbol:          "BTCUSDT",
		SnapshotPath:    writeFixture(t, "snapshot.csv", snapshotCSV),
		TradesPath:      writeFixture(t, "trades.csv", tradesCSV),
		SpeedMultiplier: 0,
		From:            time.UnixMilli(4000),
		To:              time.UnixMilli(6000),
		Book:            orderbook.Config{TickSize: mustPrice("0.01")},
	}
	log, err := telemetry.NewLogger(false)
	require.NoError(t, err)
	sim, err := New(cfg, log)
	require.NoError(t, err)
	require.Len(t, sim.events, 1)
	require.Equal(t, "inwindow", sim.events[0].trade.TradeID)
}
