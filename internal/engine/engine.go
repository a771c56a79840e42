// Package engine wires C1-C14 into the cooperative single-pair
// orchestrator spec.md §5 describes: one goroutine drives the
// order book and detector pipeline off the trade/depth streams, while
// a small set of worker goroutines (feed source, book pruning, the
// signal manager's batch publication, health refresh) run alongside
// it, coordinated with golang.org/x/sync/errgroup the way the
// teacher's app.go starts its worker set. The trade archive is not a
// worker: each trade is appended synchronously on the event-loop
// goroutine.
package engine

import (
	"context"
	"fmt"
	"time"

	"flowengine/internal/absorption"
	"flowengine/internal/anomaly"
	"flowengine/internal/config"
	"flowengine/internal/deltacvd"
	"flowengine/internal/exhaustion"
	"flowengine/internal/fixedpoint"
	"flowengine/internal/iceberg"
	"flowengine/internal/model"
	"flowengine/internal/orderbook"
	"flowengine/internal/passivevolume"
	"flowengine/internal/persistence"
	"flowengine/internal/preprocessor"
	"flowengine/internal/regime"
	"flowengine/internal/rollingwindow"
	"flowengine/internal/signalmanager"
	"flowengine/internal/spoofing"
	"flowengine/internal/zonedetector"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SourcePort is the feed boundary the engine drives: a live exchange
// feed (internal/feed.Feed) or a replay source (internal/simulator.Simulator)
// implement it identically (spec.md §4.10).
type SourcePort interface {
	Trades() <-chan model.AggressiveTrade
	DepthDeltas() <-chan model.DepthDelta
	Run(ctx context.Context) error
	orderbook.SnapshotFetcher
}

// TradeSink is the optional append-only trade archive worker sink.
type TradeSink interface {
	Append(ctx context.Context, trade model.AggressiveTrade) error
}

// Engine owns one symbol's full detector pipeline.
type Engine struct {
	cfg config.EngineConfig
	log *zap.Logger

	source SourcePort
	book   *orderbook.Book

	preprocessor *preprocessor.Preprocessor
	passive      *passivevolume.Tracker

	spoof      *spoofing.Detector
	iceberg    *iceberg.Detector
	absorption *absorption.Detector
	exhaustion *exhaustion.Detector
	accum      *zonedetector.Manager
	dist       *zonedetector.Manager
	deltaCVD   *deltacvd.Detector
	anomaly    *anomaly.Detector
	manager    *signalmanager.Manager

	midHistory *rollingwindow.Window
	tradeSink  TradeSink
	regimeCfg  regime.Config

	batchInterval time.Duration
	metricsTick   time.Duration
}

// zoneLogger adapts a *zap.Logger to zonedetector.ZonePort; zone
// lifecycle events have no dedicated downstream sink in SPEC_FULL.md,
// so they are surfaced through structured logs the way the rest of
// the engine's internal-only events are.
type zoneLogger struct {
	log *zap.Logger
}

func (z zoneLogger) Publish(s model.ZoneSignal) {
	z.log.Info("zone lifecycle event",
		zap.String("zoneId", s.ZoneID),
		zap.String("action", string(s.ActionType)),
		zap.String("urgency", s.Urgency),
		zap.String("direction", string(s.ExpectedDirection)),
	)
}

// Params bundles the constructed dependencies an Engine needs beyond
// its own config, keeping New's signature from growing unbounded as
// SPEC_FULL.md's supplemented features add publish sinks.
type Params struct {
	Source    SourcePort
	Publish   signalmanager.PublishPort
	TradeSink TradeSink
}

// New builds and wires every detector per spec.md §9's interface-only
// dependency graph. zero-value fixedpoint conversions of string config
// fields are resolved once, here, rather than on every hot-path call.
func New(cfg config.EngineConfig, params Params, log *zap.Logger) (*Engine, error) {
	tickSize, err := fixedpoint.FromString(cfg.TickSize)
	if err != nil {
		return nil, fmt.Errorf("engine: parse tick size: %w", err)
	}

	bookCfg := orderbook.Config{
		MaxLevels:        cfg.OrderBook.MaxLevels,
		MaxPriceDistance: cfg.OrderBook.MaxPriceDistance,
		TickSize:         tickSize,
		PruneInterval:    cfg.OrderBook.PruneInterval,
		StaleThreshold:   cfg.OrderBook.StaleThreshold,
		MaxErrorRate:     cfg.OrderBook.MaxErrorRate,
	}
	book := orderbook.New(cfg.Symbol, bookCfg, params.Source, log.Named("orderbook"))

	passive := passivevolume.New(passivevolume.Config{
		WindowMs:    cfg.PassiveVolume.WindowMs,
		Retention:   time.Duration(cfg.PassiveVolume.RetentionMs) * time.Millisecond,
		RefillRatio: cfg.PassiveVolume.RefillRatio,
	}, 4096)

	proc := preprocessor.New(preprocessor.Config{
		TickSize:     tickSize,
		ZoneTicks:    cfg.ZoneTicks,
		TimeWindowMs: cfg.WindowMs,
	}, book, passive, log.Named("preprocessor"))

	anomalyDet := anomaly.New(anomaly.Config{
		Window:              time.Duration(cfg.WindowMs) * time.Millisecond,
		MaxRecentForHealthy: cfg.Anomaly.WindowSize,
		CriticalSeverity:    model.SeverityCritical,
		VolatilityUnhealthy: cfg.Anomaly.OrderSizeAnomalyThreshold,
		SpreadBpsUnhealthy:  cfg.Anomaly.NormalSpreadBps * 4,
	})

	manager := signalmanager.New(cfg.SignalManager, anomalyDet, params.Publish)

	spoofDet := spoofing.New(spoofing.Config{
		WallTicks:        cfg.Spoofing.WallTicks,
		MinWallSize:      mustFixed(cfg.Spoofing.MinWallSize),
		DynamicWallWidth: cfg.Spoofing.DynamicWallWidth,
		TickSize:         tickSize,
		CancelWindow:     30 * time.Second,
		ConfirmWindow:    5 * time.Minute,
	}, anomalyDet)
	book.SetObserver(spoofDet)

	icebergDet := iceberg.New(iceberg.Config{
		MinRefillCount:             cfg.Iceberg.MinRefillCount,
		MaxSizeVariation:           cfg.Iceberg.MaxSizeVariation,
		MinTotalSize:               mustFixed(cfg.Iceberg.MinTotalSize),
		MaxRefillTime:              cfg.Iceberg.MaxRefillTime,
		InstitutionalSizeThreshold: mustFixed(cfg.Iceberg.InstitutionalSizeThreshold),
		TrackingWindow:             cfg.Iceberg.TrackingWindow,
		MaxActiveIcebergs:          cfg.Iceberg.MaxActiveIcebergs,
		MinConfidence:              cfg.Iceberg.MinConfidence,
	}, tickSize, anomalyDet, manager)

	absorptionDet := absorption.New(absorption.Config{
		MinAggVolume:                  mustFixed(cfg.Absorption.MinAggVolume),
		PassiveAbsorptionThreshold:    cfg.Absorption.PassiveAbsorptionThreshold,
		MinPassiveMultiplier:          cfg.Absorption.MinPassiveMultiplier,
		PriceEfficiencyThreshold:      cfg.Absorption.PriceEfficiencyThreshold,
		ExpectedMovementScalingFactor: cfg.Absorption.ExpectedMovementScalingFactor,
		EventCooldown:                 cfg.Absorption.EventCooldown,
		FinalConfidenceRequired:       cfg.Absorption.FinalConfidenceRequired,
		InstitutionalVolumeThreshold:  mustFixed(cfg.Absorption.InstitutionalVolumeThreshold),
		RefillConfidenceBoost:         cfg.Absorption.RefillConfidenceBoost,
		Weights: absorption.Weights{
			InverseEfficiency:     cfg.Absorption.Weights.InverseEfficiency,
			PassiveRatio:          cfg.Absorption.Weights.PassiveRatio,
			InstitutionalFraction: cfg.Absorption.Weights.InstitutionalFraction,
			ZoneConfluence:        cfg.Absorption.Weights.ZoneConfluence,
		},
		PrimaryZoneTicks:       primaryZoneTicks(cfg.ZoneTicks),
		SpoofConfidencePenalty: cfg.Absorption.SpoofConfidencePenalty,
	}, spoofDet, passive, passive, manager)

	exhaustionDet := exhaustion.New(exhaustion.Config{
		ExhaustionThreshold: cfg.Exhaustion.ExhaustionThreshold,
		EventCooldown:       cfg.Exhaustion.EventCooldown,
		HistoryCapacity:     cfg.Exhaustion.HistoryCapacity,
		HistoryRetention:    cfg.Exhaustion.HistoryRetention,
		Features: exhaustion.Features{
			SpreadExpansion: cfg.Exhaustion.Features.SpreadExpansion,
			VelocityPenalty: cfg.Exhaustion.Features.VelocityPenalty,
		},
		PrimaryZoneTicks: primaryZoneTicks(cfg.ZoneTicks),
	}, spoofDet, passive, manager)

	zones := zoneLogger{log: log.Named("zonedetector")}
	accum := zonedetector.New(cfg.Accumulation, zonedetector.Accumulation, primaryZoneTicks(cfg.ZoneTicks), zones, manager)
	dist := zonedetector.New(cfg.Distribution, zonedetector.Distribution, primaryZoneTicks(cfg.ZoneTicks), zones, manager)

	deltaCVDDet := deltacvd.New(deltacvd.Config{
		WindowMs:        cfg.DeltaCVD.WindowMs,
		ZScoreThreshold: cfg.DeltaCVD.ZScoreThreshold,
		MinSamples:      cfg.DeltaCVD.MinSamples,
		MinConfidence:   cfg.DeltaCVD.MinConfidence,
	}, 4096, manager)

	return &Engine{
		cfg:           cfg,
		log:           log,
		source:        params.Source,
		book:          book,
		preprocessor:  proc,
		passive:       passive,
		spoof:         spoofDet,
		iceberg:       icebergDet,
		absorption:    absorptionDet,
		exhaustion:    exhaustionDet,
		accum:         accum,
		dist:          dist,
		deltaCVD:      deltaCVDDet,
		anomaly:       anomalyDet,
		manager:       manager,
		midHistory:    rollingwindow.New(256, 10*time.Minute),
		tradeSink:     params.TradeSink,
		regimeCfg: regime.Config{
			HighVolatilityWidth: cfg.Regime.HighVolatilityWidth,
			LowVolatilityWidth:  cfg.Regime.LowVolatilityWidth,
			MinSamples:          cfg.Regime.MinSamples,
		},
		batchInterval: 250 * time.Millisecond,
		metricsTick:   2 * time.Second,
	}, nil
}

func mustFixed(s string) fixedpoint.Value {
	v, err := fixedpoint.FromString(s)
	if err != nil {
		return fixedpoint.Zero
	}
	return v
}

func primaryZoneTicks(zoneTicks []int) int {
	for _, t := range zoneTicks {
		if t == 10 {
			return 10
		}
	}
	if len(zoneTicks) > 0 {
		return zoneTicks[len(zoneTicks)/2]
	}
	return 0
}

// Run drives the engine until ctx is cancelled or an unrecoverable
// error escapes (spec.md §7: only SnapshotUnavailable/ConfigInvalid
// propagate). The feed source, the book's pruner, the signal
// manager's batch loop and the market-health refresher all run as
// sibling goroutines under one errgroup, matching the teacher's
// app.go worker-set startup.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.book.Initialize(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.source.Run(ctx) })
	g.Go(func() error { e.book.RunPruner(ctx); return nil })
	g.Go(func() error { e.runBatchLoop(ctx); return nil })
	g.Go(func() error { e.runHealthRefresher(ctx); return nil })
	g.Go(func() error { return e.runEventLoop(ctx) })

	return g.Wait()
}

// runEventLoop is the single cooperative consumer of trades and depth
// deltas (spec.md §5): no detector call here may block on I/O.
func (e *Engine) runEventLoop(ctx context.Context) error {
	trades := e.source.Trades()
	deltas := e.source.DepthDeltas()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delta, ok := <-deltas:
			if !ok {
				deltas = nil
				continue
			}
			if err := e.book.Apply(ctx, delta); err != nil {
				e.log.Debug("engine: apply depth delta", zap.Error(err))
			}
		case trade, ok := <-trades:
			if !ok {
				trades = nil
				continue
			}
			e.handleTrade(ctx, trade)
		}
	}
}

func (e *Engine) handleTrade(ctx context.Context, trade model.AggressiveTrade) {
	// Passive side consumed by this fill (bid = SideBuy, ask = SideSell).
	side := trade.Side().Opposite()

	e.spoof.OnTradeFill(trade.Price, side, trade.Quantity)
	e.iceberg.OnFill(trade.Price, side, trade.Quantity, trade.Timestamp)

	enriched := e.preprocessor.Process(trade)

	// Each detector submits its own candidates to the signal manager.
	e.absorption.Process(enriched)
	e.exhaustion.Process(enriched)
	e.accum.Process(enriched)
	e.dist.Process(enriched)
	e.deltaCVD.Process(trade)

	mid := e.book.MidPrice()
	if !mid.IsZero() {
		e.midHistory.Push(trade.Timestamp, mid)
	}

	if e.tradeSink != nil {
		if err := e.tradeSink.Append(ctx, trade); err != nil {
			e.log.Warn("engine: trade archive append failed", zap.Error(err))
		}
	}
}

// runBatchLoop drains the signal manager's priority queue on a fixed
// cadence (spec.md §4.9's batch processing model).
func (e *Engine) runBatchLoop(ctx context.Context) {
	ticker := time.NewTicker(e.batchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.manager.ProcessBatch(now)
		}
	}
}

// runHealthRefresher recomputes volatility/spread/imbalance from the
// book and feeds them into C8, the periodic maintenance task spec.md
// §4.8 implies for a health verdict that must age even between trades.
func (e *Engine) runHealthRefresher(ctx context.Context) {
	ticker := time.NewTicker(e.metricsTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			spread := e.book.Spread()
			mid := e.book.MidPrice()
			spreadBps := 0.0
			if !mid.IsZero() {
				spreadBps = spread.Div(mid).Float64() * 10000
			}
			samples := sampleValues(e.midHistory)
			volatility := fixedpoint.StdDev(samples).Float64()
			depth := e.book.Depth(primaryZoneTicks(e.cfg.ZoneTicks))
			e.anomaly.UpdateMarketMetrics(volatility, spreadBps, depth.Imbalance.Float64(), now)
			e.manager.UpdateRegime(regime.Classify(e.regimeCfg, samples))
		}
	}
}

func sampleValues(w *rollingwindow.Window) []fixedpoint.Value {
	samples := w.All()
	out := make([]fixedpoint.Value, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

// Book exposes the order book for the health/metrics HTTP surface.
func (e *Engine) Book() *orderbook.Book { return e.book }

// SignalManager exposes the manager for diagnostics endpoints.
func (e *Engine) SignalManager() *signalmanager.Manager { return e.manager }

// Anomaly exposes C8 for the /healthz market-health surface.
func (e *Engine) Anomaly() *anomaly.Detector { return e.anomaly }

var _ TradeSink = (*persistence.TradeArchive)(nil)
