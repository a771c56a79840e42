// Package simulator implements C14, MarketSimulator: deterministic
// replay of archived trade/depth CSV files against an authoritative
// order book identical to C3 (spec.md §4.10). It is a test surface
// only and must never be imported by cmd/engine.
//
// CSV layout, grounded in the teacher pack's CSV archival conventions
// (market-indikator's internal/logger and internal/state CSV reader):
//
//	trades.csv:  trade_id,price,quantity,timestamp_ms,buyer_is_maker
//	depth.csv:   first_update_id,final_update_id,timestamp_ms,bids,asks
//	snapshot.csv: last_update_id,timestamp_ms,bids,asks (single row)
//
// bids/asks columns are ';'-separated "price:quantity" pairs.
package simulator

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"
	"flowengine/internal/orderbook"

	"go.uber.org/zap"
)

// Config configures a replay run.
type Config struct {
	Symbol          string
	TradesPath      string
	DepthPath       string
	SnapshotPath    string
	SpeedMultiplier float64 // <= 0 means replay as fast as possible
	From, To        time.Time
	Book            orderbook.Config
}

// Progress is emitted periodically as the replay advances.
type Progress struct {
	ProcessedEvents  int
	TotalEvents      int
	CurrentTime      time.Time
	FractionComplete float64
}

type event struct {
	at    time.Time
	trade *model.AggressiveTrade
	delta *model.DepthDelta
}

// Simulator replays archived trades/deltas chronologically against a
// real orderbook.Book, so detectors under test see byte-equivalent
// inputs to production (spec.md §4.10).
type Simulator struct {
	cfg  Config
	log  *zap.Logger
	book *orderbook.Book

	snapshot model.DepthSnapshot
	events   []event

	trades   chan model.AggressiveTrade
	deltas   chan model.DepthDelta
	progress chan Progress
}

// New loads the snapshot, trade and depth files and builds the
// chronological event sequence. Loading happens eagerly; archived
// fixtures are small enough for the test suite to hold in memory.
func New(cfg Config, log *zap.Logger) (*Simulator, error) {
	snap, err := loadSnapshot(cfg.SnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("simulator: load snapshot: %w", err)
	}

	trades, err := loadTrades(cfg.TradesPath, cfg.From, cfg.To)
	if err != nil {
		return nil, fmt.Errorf("simulator: load trades: %w", err)
	}
	deltas, err := loadDeltas(cfg.DepthPath, cfg.From, cfg.To)
	if err != nil {
		return nil, fmt.Errorf("simulator: load depth: %w", err)
	}

	events := make([]event, 0, len(trades)+len(deltas))
	for i := range trades {
		events = append(events, event{at: trades[i].Timestamp, trade: &trades[i]})
	}
	for i := range deltas {
		events = append(events, event{at: deltas[i].Timestamp, delta: &deltas[i]})
	}
	// Deltas sort before trades at an identical timestamp so the book
	// reflects the update before any trade drawn against it is judged.
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].at.Equal(events[j].at) {
			return events[i].delta != nil && events[j].delta == nil
		}
		return events[i].at.Before(events[j].at)
	})

	s := &Simulator{
		cfg:      cfg,
		log:      log,
		snapshot: snap,
		events:   events,
		trades:   make(chan model.AggressiveTrade, 1024),
		deltas:   make(chan model.DepthDelta, 1024),
		progress: make(chan Progress, 16),
	}
	s.book = orderbook.New(cfg.Symbol, cfg.Book, s, log)
	return s, nil
}

// FetchSnapshot implements orderbook.SnapshotFetcher: the replay's
// book is bootstrapped, and resynced after any gap, from the archived
// snapshot file.
func (s *Simulator) FetchSnapshot(ctx context.Context, symbol string) (model.DepthSnapshot, error) {
	return s.snapshot, nil
}

// Book returns the authoritative replay book for assertions.
func (s *Simulator) Book() *orderbook.Book { return s.book }

// Trades returns the replayed aggressive-trade stream.
func (s *Simulator) Trades() <-chan model.AggressiveTrade { return s.trades }

// DepthDeltas returns the replayed depth-delta stream.
func (s *Simulator) DepthDeltas() <-chan model.DepthDelta { return s.deltas }

// Progress returns the replay progress stream.
func (s *Simulator) Progress() <-chan Progress { return s.progress }

// Run replays events in chronological order, pacing delivery by
// SpeedMultiplier (1.0 is wall-clock, <= 0 is unthrottled), applying
// depth deltas directly to the book and publishing both streams for
// detectors under test to consume.
func (s *Simulator) Run(ctx context.Context) error {
	defer close(s.trades)
	defer close(s.deltas)
	defer close(s.progress)

	if err := s.book.Initialize(ctx); err != nil {
		return err
	}

	var last time.Time
	for i, ev := range s.events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !last.IsZero() && s.cfg.SpeedMultiplier > 0 {
			wait := ev.at.Sub(last)
			if wait > 0 {
				scaled := time.Duration(float64(wait) / s.cfg.SpeedMultiplier)
				select {
				case <-time.After(scaled):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		last = ev.at

		if ev.delta != nil {
			if err := s.book.Apply(ctx, *ev.delta); err != nil {
				s.log.Debug("simulator: apply delta", zap.Error(err))
			}
			sendDelta(s.deltas, *ev.delta)
		}
		if ev.trade != nil {
			sendTrade(s.trades, *ev.trade)
		}

		sendProgress(s.progress, Progress{
			ProcessedEvents:  i + 1,
			TotalEvents:      len(s.events),
			CurrentTime:      ev.at,
			FractionComplete: float64(i+1) / float64(len(s.events)),
		})
	}
	return nil
}

// sendTrade/sendDelta/sendProgress are non-blocking sends: a replay
// consumer that falls behind drops events rather than stalling the
// simulator, matching the teacher's async CSV logger's drop-if-full
// channel discipline.
func sendTrade(ch chan<- model.AggressiveTrade, t model.AggressiveTrade) {
	select {
	case ch <- t:
	default:
	}
}

func sendDelta(ch chan<- model.DepthDelta, d model.DepthDelta) {
	select {
	case ch <- d:
	default:
	}
}

func sendProgress(ch chan<- Progress, p Progress) {
	select {
	case ch <- p:
	default:
	}
}

func loadSnapshot(path string) (model.DepthSnapshot, error) {
	if path == "" {
		return model.DepthSnapshot{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return model.DepthSnapshot{}, err
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	if _, err := r.Read(); err != nil { // header
		return model.DepthSnapshot{}, err
	}
	row, err := r.Read()
	if err != nil {
		return model.DepthSnapshot{}, err
	}
	lastUpdateID, _ := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
	tsMs, _ := strconv.ParseInt(strings.TrimSpace(row[1]), 10, 64)
	bids, err := parseEntries(row[2])
	if err != nil {
		return model.DepthSnapshot{}, err
	}
	asks, err := parseEntries(row[3])
	if err != nil {
		return model.DepthSnapshot{}, err
	}
	return model.DepthSnapshot{
		LastUpdateID: lastUpdateID,
		Bids:         bids,
		Asks:         asks,
		Timestamp:    time.UnixMilli(tsMs),
	}, nil
}

func loadTrades(path string, from, to time.Time) ([]model.AggressiveTrade, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReaderSize(f, 1<<20))
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil { // header
		return nil, err
	}

	var out []model.AggressiveTrade
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		price, err := fixedpoint.FromString(strings.TrimSpace(row[1]))
		if err != nil {
			continue
		}
		qty, err := fixedpoint.FromString(strings.TrimSpace(row[2]))
		if err != nil {
			continue
		}
		tsMs, _ := strconv.ParseInt(strings.TrimSpace(row[3]), 10, 64)
		ts := time.UnixMilli(tsMs)
		if inRange(ts, from, to) {
			out = append(out, model.AggressiveTrade{
				TradeID:      strings.TrimSpace(row[0]),
				Price:        price,
				Quantity:     qty,
				Timestamp:    ts,
				BuyerIsMaker: strings.TrimSpace(row[4]) == "true",
			})
		}
	}
	return out, nil
}

func loadDeltas(path string, from, to time.Time) ([]model.DepthDelta, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReaderSize(f, 1<<20))
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil { // header
		return nil, err
	}

	var out []model.DepthDelta
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		first, _ := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
		final, _ := strconv.ParseInt(strings.TrimSpace(row[1]), 10, 64)
		tsMs, _ := strconv.ParseInt(strings.TrimSpace(row[2]), 10, 64)
		ts := time.UnixMilli(tsMs)
		if !inRange(ts, from, to) {
			continue
		}
		bids, err := parseEntries(row[3])
		if err != nil {
			continue
		}
		asks, err := parseEntries(row[4])
		if err != nil {
			continue
		}
		out = append(out, model.DepthDelta{
			FirstUpdateID: first,
			FinalUpdateID: final,
			Bids:          bids,
			Asks:          asks,
			Timestamp:     ts,
		})
	}
	return out, nil
}

func parseEntries(col string) ([]model.DepthEntry, error) {
	col = strings.TrimSpace(col)
	if col == "" {
		return nil, nil
	}
	pairs := strings.Split(col, ";")
	out := make([]model.DepthEntry, 0, len(pairs))
	for _, pair := range pairs {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed depth entry %q", pair)
		}
		price, err := fixedpoint.FromString(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, err
		}
		qty, err := fixedpoint.FromString(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, err
		}
		out = append(out, model.DepthEntry{Price: price, Quantity: qty})
	}
	return out, nil
}

func inRange(ts, from, to time.Time) bool {
	if !from.IsZero() && ts.Before(from) {
		return false
	}
	if !to.IsZero() && ts.After(to) {
		return false
	}
	return true
}
