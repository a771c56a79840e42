package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"flowengine/internal/cache"
	"flowengine/internal/model"

	"go.uber.org/zap"
)

// WebhookConfig configures the whale-alert-style external webhook
// sink, adapted from the teacher's notifications.WebhookManager.
type WebhookConfig struct {
	URL               string
	Method            string
	AuthHeader        string
	AuthValue         string
	MinConfidence     float64
	MaxRetries        int
	RetryDelay        time.Duration
	RequestTimeout    time.Duration
	DedupTTL          time.Duration
}

// webhookPayload is the JSON body posted to the configured URL.
type webhookPayload struct {
	SignalID        string    `json:"signalId"`
	SignalType      string    `json:"signalType"`
	Side            string    `json:"side"`
	DetectedAt      time.Time `json:"detectedAt"`
	Price           string    `json:"price"`
	ConfidenceScore float64   `json:"confidenceScore"`
	Priority        float64   `json:"priority"`
	CorrelationID   string    `json:"correlationId"`
	Message         string    `json:"message"`
}

// WebhookNotifier is the signalmanager.PublishPort implementation
// that delivers high-confidence signals to an external webhook,
// adapted from the teacher's WebhookManager.deliverWebhook retry loop.
// Delivery is deduplicated by CorrelationID through an optional Redis
// claim so a reconnect-triggered signal replay never double-fires an
// alert.
type WebhookNotifier struct {
	cfg    WebhookConfig
	client *http.Client
	dedup  *cache.RedisClient
	log    *zap.Logger
}

// NewWebhookNotifier builds a notifier. dedup may be nil, in which
// case every call to Publish is delivered (no dedup).
func NewWebhookNotifier(cfg WebhookConfig, dedup *cache.RedisClient, log *zap.Logger) *WebhookNotifier {
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	return &WebhookNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		dedup:  dedup,
		log:    log,
	}
}

// Publish implements signalmanager.PublishPort. Signals below
// MinConfidence never reach the webhook; the signal manager's
// acceptance threshold already filtered noise, this is a second,
// stricter gate for an external, rate-limited integration.
func (w *WebhookNotifier) Publish(p model.ProcessedSignal) {
	if p.AdjustedConfidence < w.cfg.MinConfidence {
		return
	}
	if w.cfg.URL == "" {
		return
	}

	if w.dedup != nil {
		claimed, err := w.dedup.SetIfAbsent(context.Background(), "webhook:signal:"+p.CorrelationID, w.cfg.DedupTTL)
		if err != nil {
			w.log.Warn("publish: webhook dedup check failed, delivering anyway", zap.Error(err))
		} else if !claimed {
			return
		}
	}

	payload := webhookPayload{
		SignalID:        p.ID,
		SignalType:      string(p.Type),
		Side:            string(p.Side),
		DetectedAt:      p.AcceptedAt,
		Price:           p.Price.String(),
		ConfidenceScore: p.AdjustedConfidence,
		Priority:        p.Priority,
		CorrelationID:   p.CorrelationID,
		Message:         fmt.Sprintf("%s %s signal at %s (confidence %.2f)", p.Side, p.Type, p.Price.String(), p.AdjustedConfidence),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		w.log.Warn("publish: marshal webhook payload", zap.Error(err))
		return
	}

	go w.deliver(body, p.CorrelationID)
}

func (w *WebhookNotifier) deliver(body []byte, correlationID string) {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxRetries; attempt++ {
		req, err := http.NewRequest(w.cfg.Method, w.cfg.URL, bytes.NewReader(body))
		if err != nil {
			w.log.Warn("publish: build webhook request", zap.Error(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "flowengine-webhook/1.0")
		if w.cfg.AuthHeader != "" {
			req.Header.Set(w.cfg.AuthHeader, w.cfg.AuthValue)
		}

		resp, err := w.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return
			}
			lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		if attempt < w.cfg.MaxRetries {
			time.Sleep(w.cfg.RetryDelay)
		}
	}
	w.log.Warn("publish: webhook delivery failed", zap.Error(lastErr), zap.String("correlationId", correlationID))
}
