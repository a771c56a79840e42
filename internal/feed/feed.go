// Package feed implements the exchange websocket ingress boundary:
// dialing, subscribing, decoding trade/depth messages into the domain
// model, and a token-bucket reconnect policy. The exchange transport
// itself is an out-of-scope external collaborator (spec.md §1); this
// package only gives the engine the consumption boundary spec.md §4.1/
// §4.3 assume, grounded in the teacher's websocket.Client
// (connect/ping/read loop) and app.go's reconnect-with-backoff ladder.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// tradeMessage and depthMessage are the wire-shaped JSON payloads this
// feed decodes; the exchange's actual schema is out of scope, so these
// model the minimal shape spec.md §3's AggressiveTrade/DepthDelta need.
type tradeMessage struct {
	Type         string `json:"type"`
	TradeID      string `json:"trade_id"`
	Symbol       string `json:"symbol"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	TimestampMs  int64  `json:"timestamp_ms"`
	BuyerIsMaker bool   `json:"buyer_is_maker"`
}

type depthMessage struct {
	Type     string `json:"type"`
	Symbol   string `json:"symbol"`
	Sequence int64  `json:"sequence"`
	Bids     [][2]string `json:"bids"`
	Asks     [][2]string `json:"asks"`
}

type snapshotResponse struct {
	LastUpdateID int64       `json:"last_update_id"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// Config configures the feed connection and reconnect policy.
type Config struct {
	WSURL              string
	RESTBaseURL        string
	Symbol             string
	AuthToken          string
	PingInterval       time.Duration
	ReconnectRateLimit rate.Limit // tokens/sec
	ReconnectBurst     int
	HTTPTimeout        time.Duration
}

// Feed is the websocket ingress boundary. Trades() and DepthDeltas()
// are the channels C5/C3 consume; FetchSnapshot implements
// orderbook.SnapshotFetcher.
type Feed struct {
	cfg Config
	log *zap.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	trades   chan model.AggressiveTrade
	deltas   chan model.DepthDelta
	reconnect *rate.Limiter

	httpClient *http.Client
}

// New builds a Feed. Channels are buffered at 1024;
// callers drain them promptly, matching spec.md §4.3's cooperative
// single-consumer model.
func New(cfg Config, log *zap.Logger) *Feed {
	if cfg.ReconnectRateLimit <= 0 {
		cfg.ReconnectRateLimit = rate.Every(2 * time.Second)
	}
	if cfg.ReconnectBurst <= 0 {
		cfg.ReconnectBurst = 1
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return &Feed{
		cfg:        cfg,
		log:        log,
		trades:     make(chan model.AggressiveTrade, 1024),
		deltas:     make(chan model.DepthDelta, 1024),
		reconnect:  rate.NewLimiter(cfg.ReconnectRateLimit, cfg.ReconnectBurst),
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// Trades returns the decoded aggressive-trade stream.
func (f *Feed) Trades() <-chan model.AggressiveTrade { return f.trades }

// DepthDeltas returns the decoded order-book delta stream.
func (f *Feed) DepthDeltas() <-chan model.DepthDelta { return f.deltas }

// FetchSnapshot implements orderbook.SnapshotFetcher via a REST call
// to the exchange's depth-snapshot endpoint.
func (f *Feed) FetchSnapshot(ctx context.Context, symbol string) (model.DepthSnapshot, error) {
	url := fmt.Sprintf("%s/depth?symbol=%s", f.cfg.RESTBaseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.DepthSnapshot{}, fmt.Errorf("feed: build snapshot request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return model.DepthSnapshot{}, fmt.Errorf("feed: fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	var body snapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.DepthSnapshot{}, fmt.Errorf("feed: decode snapshot: %w", err)
	}

	snap := model.DepthSnapshot{
		LastUpdateID: body.LastUpdateID,
		Bids:         decodeEntries(body.Bids),
		Asks:         decodeEntries(body.Asks),
		Timestamp:    time.Now(),
	}
	return snap, nil
}

func decodeEntries(raw [][2]string) []model.DepthEntry {
	out := make([]model.DepthEntry, 0, len(raw))
	for _, pair := range raw {
		price, err := fixedpoint.FromString(pair[0])
		if err != nil {
			continue
		}
		qty, err := fixedpoint.FromString(pair[1])
		if err != nil {
			continue
		}
		out = append(out, model.DepthEntry{Price: price, Quantity: qty})
	}
	return out
}

// Run dials, subscribes and reads until ctx is cancelled, reconnecting
// under the token-bucket policy whenever the connection drops — the
// generalized form of the teacher's exponential-backoff reconnect
// ladder (app.go's reconnectWebSocket), replacing unbounded doubling
// with a steady rate limiter so repeated failures cannot spin hot.
func (f *Feed) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.reconnect.Wait(ctx); err != nil {
			return err
		}
		if err := f.connect(); err != nil {
			f.log.Warn("feed: connect failed", zap.Error(err))
			continue
		}
		f.log.Info("feed: connected", zap.String("url", f.cfg.WSURL))
		pingCtx, cancelPing := context.WithCancel(ctx)
		go f.pingLoop(pingCtx)

		err := f.readLoop(ctx)
		cancelPing()
		f.closeConn()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log.Warn("feed: connection dropped, reconnecting", zap.Error(err))
	}
}

func (f *Feed) connect() error {
	header := http.Header{}
	if f.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+f.cfg.AuthToken)
	}
	conn, _, err := websocket.DefaultDialer.Dial(f.cfg.WSURL, header)
	if err != nil {
		return err
	}
	f.conn = conn
	return nil
}

func (f *Feed) closeConn() {
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}

func (f *Feed) pingLoop(ctx context.Context) {
	if f.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.writeMu.Lock()
			err := f.conn.WriteMessage(websocket.PingMessage, nil)
			f.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (f *Feed) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := f.conn.ReadMessage()
		if err != nil {
			return err
		}
		f.dispatch(data)
	}
}

func (f *Feed) dispatch(data []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.log.Debug("feed: undecodable message", zap.Error(err))
		return
	}
	switch envelope.Type {
	case "trade":
		var msg tradeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		trade, err := toTrade(msg)
		if err != nil {
			return
		}
		select {
		case f.trades <- trade:
		default:
			f.log.Warn("feed: trade channel full, dropping")
		}
	case "depth":
		var msg depthMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		delta := toDelta(msg)
		select {
		case f.deltas <- delta:
		default:
			f.log.Warn("feed: depth channel full, dropping")
		}
	}
}

func toTrade(msg tradeMessage) (model.AggressiveTrade, error) {
	price, err := fixedpoint.FromString(msg.Price)
	if err != nil {
		return model.AggressiveTrade{}, err
	}
	qty, err := fixedpoint.FromString(msg.Quantity)
	if err != nil {
		return model.AggressiveTrade{}, err
	}
	return model.AggressiveTrade{
		TradeID:      msg.TradeID,
		Pair:         msg.Symbol,
		Price:        price,
		Quantity:     qty,
		Timestamp:    time.UnixMilli(msg.TimestampMs),
		BuyerIsMaker: msg.BuyerIsMaker,
	}, nil
}

func toDelta(msg depthMessage) model.DepthDelta {
	return model.DepthDelta{
		FirstUpdateID: msg.Sequence,
		FinalUpdateID: msg.Sequence,
		Bids:          decodeEntries(msg.Bids),
		Asks:          decodeEntries(msg.Asks),
		Timestamp:     time.Now(),
	}
}
