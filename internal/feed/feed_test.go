package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"flowengine/internal/telemetry"

	"github.com/stretchr/testify/require"
)

func TestFetchSnapshotDecodesEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(snapshotResponse{
			LastUpdateID: 42,
			Bids:         [][2]string{{"89.00", "10"}},
			Asks:         [][2]string{{"89.01", "5"}},
		})
	}))
	defer server.Close()

	log, err := telemetry.NewLogger(false)
	require.NoError(t, err)
	f := New(Config{RESTBaseURL: server.URL}, log)

	snap, err := f.FetchSnapshot(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.EqualValues(t, 42, snap.LastUpdateID)
	require.Len(t, snap.Bids, 1)
	require.Len(t, snap.Asks, 1)
}

func TestDispatchRoutesTradeMessage(t *testing.T) {
	log, err := telemetry.NewLogger(false)
	require.NoError(t, err)
	f := New(Config{}, log)

	payload, _ := json.Marshal(tradeMessage{
		Type: "trade", TradeID: "1", Symbol: "BTCUSDT",
		Price: "89.00", Quantity: "1.5", TimestampMs: 1000,
	})
	f.dispatch(payload)

	select {
	case trade := <-f.Trades():
		require.Equal(t, "1", trade.TradeID)
	default:
		t.Fatal("expected a decoded trade")
	}
}

func TestDispatchRoutesDepthMessage(t *testing.T) {
	log, err := telemetry.NewLogger(false)
	require.NoError(t, err)
	f := New(Config{}, log)

	payload, _ := json.Marshal(depthMessage{
		Type: "depth", Symbol: "BTCUSDT", Sequence: 7,
		Bids: [][2]string{{"89.00", "10"}},
	})
	f.dispatch(payload)

	select {
	case delta := <-f.DepthDeltas():
		require.EqualValues(t, 7, delta.FirstUpdateID)
	default:
		t.Fatal("expected a decoded delta")
	}
}
