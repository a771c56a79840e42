package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"flowengine/internal/config"
	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSource is a minimal SourcePort double: it serves a fixed snapshot
// and emits exactly the trades/deltas it is loaded with. Its channels
// are never closed; Run returns only when ctx is cancelled.
type fakeSource struct {
	trades chan model.AggressiveTrade
	deltas chan model.DepthDelta
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		trades: make(chan model.AggressiveTrade, 8),
		deltas: make(chan model.DepthDelta, 8),
	}
}

func (f *fakeSource) Trades() <-chan model.AggressiveTrade    { return f.trades }
func (f *fakeSource) DepthDeltas() <-chan model.DepthDelta    { return f.deltas }
func (f *fakeSource) FetchSnapshot(ctx context.Context, symbol string) (model.DepthSnapshot, error) {
	price := mustFixed("100")
	qty := mustFixed("50")
	return model.DepthSnapshot{
		LastUpdateID: 1,
		Bids:         []model.DepthEntry{{Price: price, Quantity: qty}},
		Asks:         []model.DepthEntry{{Price: mustFixed("100.1"), Quantity: qty}},
		Timestamp:    time.Now(),
	}, nil
}

func (f *fakeSource) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

type fakePublisher struct {
	mu   sync.Mutex
	seen []model.ProcessedSignal
}

func (p *fakePublisher) Publish(s model.ProcessedSignal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, s)
}

func newTestConfig(t *testing.T) config.EngineConfig {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Symbol = "BTCUSDT"
	return *cfg
}

func TestNewWiresEveryDetector(t *testing.T) {
	source := newFakeSource()
	pub := &fakePublisher{}

	e, err := New(newTestConfig(t), Params{Source: source, Publish: pub}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, e.Book())
	require.NotNil(t, e.SignalManager())
	require.NotNil(t, e.Anomaly())
}

func TestNewRejectsInvalidTickSize(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.TickSize = "not-a-number"
	source := newFakeSource()

	_, err := New(cfg, Params{Source: source, Publish: &fakePublisher{}}, zap.NewNop())
	require.Error(t, err)
}

// TestRunProcessesTradesUntilCancelled exercises the full event loop:
// a trade flowing through preprocessing and every detector, and the
// batch/health-refresh goroutines ticking at least once, all without
// panicking, then shutting down cleanly on context cancellation.
func TestRunProcessesTradesUntilCancelled(t *testing.T) {
	source := newFakeSource()
	pub := &fakePublisher{}

	e, err := New(newTestConfig(t), Params{Source: source, Publish: pub}, zap.NewNop())
	require.NoError(t, err)
	e.batchInterval = 5 * time.Millisecond
	e.metricsTick = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	source.trades <- model.AggressiveTrade{
		TradeID:      "t1",
		Pair:         "BTCUSDT",
		Price:        mustFixed("100.05"),
		Quantity:     mustFixed("12"),
		Timestamp:    time.Now(),
		BuyerIsMaker: false,
	}

	err = e.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMustFixedFallsBackToZeroOnParseError(t *testing.T) {
	require.True(t, mustFixed("garbage").IsZero())
	want, err := fixedpoint.FromString("1.5")
	require.NoError(t, err)
	require.True(t, want.Equal(mustFixed("1.5")))
}

func TestPrimaryZoneTicksPrefersTen(t *testing.T) {
	require.Equal(t, 10, primaryZoneTicks([]int{5, 10, 20}))
	require.Equal(t, 5, primaryZoneTicks([]int{5}))
	require.Equal(t, 0, primaryZoneTicks(nil))
}
