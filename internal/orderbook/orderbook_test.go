package orderbook

import (
	"context"
	"testing"
	"time"

	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"

	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	snap model.DepthSnapshot
	err  error
	n    int
}

func (f *fakeFetcher) FetchSnapshot(ctx context.Context, symbol string) (model.DepthSnapshot, error) {
	f.n++
	if f.err != nil {
		return model.DepthSnapshot{}, f.err
	}
	return f.snap, nil
}

func price(s string) fixedpoint.Value {
	v, err := fixedpoint.FromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func baseSnapshot() model.DepthSnapshot {
	return model.DepthSnapshot{
		LastUpdateID: 100,
		Bids: []model.DepthEntry{
			{Price: price("89.00"), Quantity: price("10")},
			{Price: price("88.99"), Quantity: price("5")},
		},
		Asks: []model.DepthEntry{
			{Price: price("89.01"), Quantity: price("8")},
			{Price: price("89.02"), Quantity: price("3")},
		},
	}
}

func newTestBook(t *testing.T) (*Book, *fakeFetcher) {
	t.Helper()
	fetcher := &fakeFetcher{snap: baseSnapshot()}
	cfg := Config{MaxLevels: 1000, MaxPriceDistance: 1000, TickSize: price("0.01"), StaleThreshold: time.Minute}
	book := New("BTCUSDT", cfg, fetcher, nil)
	require.NoError(t, book.Initialize(context.Background()))
	return book, fetcher
}

func TestInitializeSetsBestBidAsk(t *testing.T) {
	book, _ := newTestBook(t)
	require.True(t, book.BestBid().Equal(price("89.00")))
	require.True(t, book.BestAsk().Equal(price("89.01")))
	require.True(t, book.BestBid().LessThan(book.BestAsk()))
}

func TestApplyDropsStaleDelta(t *testing.T) {
	book, _ := newTestBook(t)
	err := book.Apply(context.Background(), model.DepthDelta{
		FirstUpdateID: 50, FinalUpdateID: 99,
		Bids: []model.DepthEntry{{Price: price("89.00"), Quantity: price("999")}},
	})
	require.NoError(t, err)
	require.True(t, book.BestBid().Equal(price("89.00")))
	bid, _ := book.PassiveAt(price("89.00"))
	require.True(t, bid.Equal(price("10"))) // unchanged, dropped as stale
}

func TestApplyZeroQuantityDeletesLevel(t *testing.T) {
	book, _ := newTestBook(t)
	err := book.Apply(context.Background(), model.DepthDelta{
		FirstUpdateID: 101, FinalUpdateID: 101,
		Bids: []model.DepthEntry{{Price: price("88.99"), Quantity: price("0")}},
	})
	require.NoError(t, err)
	bid, _ := book.PassiveAt(price("88.99"))
	require.True(t, bid.IsZero())
}

func TestApplyGapTriggersResync(t *testing.T) {
	book, fetcher := newTestBook(t)
	startResyncs := book.Resyncs()
	err := book.Apply(context.Background(), model.DepthDelta{
		FirstUpdateID: 103, FinalUpdateID: 105,
		Bids: []model.DepthEntry{{Price: price("89.00"), Quantity: price("1")}},
	})
	require.Error(t, err)
	require.Equal(t, startResyncs+1, book.Resyncs())
	require.Equal(t, StateSynced, book.State())
	require.Greater(t, fetcher.n, 1)
}

func TestCrossedBookTriggersResync(t *testing.T) {
	book, fetcher := newTestBook(t)
	startResyncs := book.Resyncs()

	// A bid above the current best ask would cross the book.
	err := book.Apply(context.Background(), model.DepthDelta{
		FirstUpdateID: 101, FinalUpdateID: 101,
		Bids: []model.DepthEntry{{Price: price("89.015"), Quantity: price("1")}},
	})
	require.Error(t, err)
	require.Equal(t, startResyncs+1, book.Resyncs())
	require.Equal(t, StateSynced, book.State())
	require.Greater(t, fetcher.n, 1)
	require.True(t, book.BestBid().LessThan(book.BestAsk()))
}

func TestPruneRemovesFarLevels(t *testing.T) {
	book, _ := newTestBook(t)
	book.cfg.MaxPriceDistance = 1
	require.NoError(t, book.Apply(context.Background(), model.DepthDelta{
		FirstUpdateID: 101, FinalUpdateID: 101,
		Bids: []model.DepthEntry{{Price: price("50.00"), Quantity: price("1")}},
	}))
	book.Prune()
	bid, _ := book.PassiveAt(price("50.00"))
	require.True(t, bid.IsZero())
}

func TestHealthStaleWhenSnapshotMissing(t *testing.T) {
	fetcher := &fakeFetcher{err: context.DeadlineExceeded}
	cfg := Config{MaxLevels: 10, TickSize: price("0.01"), StaleThreshold: time.Millisecond}
	book := New("BTCUSDT", cfg, fetcher, nil)
	err := book.Initialize(context.Background())
	require.Error(t, err)
	h := book.Health()
	require.Equal(t, model.HealthStale, h.Status)
}
