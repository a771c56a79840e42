// Package publish implements the three ProcessedSignal publication
// sinks the engine fans a confirmed signal out to (spec.md §6): a
// Kafka topic for downstream consumers, an SSE broadcaster for live
// dashboards, and a webhook notifier for whale-alert-style external
// integrations.
package publish

import (
	"context"
	"encoding/json"
	"time"

	"flowengine/internal/model"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig configures the Kafka publication sink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// wireSignal is the JSON shape written to the topic (spec.md §6:
// "Signal output: ProcessedSignal ... serialised as JSON on the
// publication channel").
type wireSignal struct {
	ID                 string         `json:"id"`
	Type               string         `json:"type"`
	Side               string         `json:"side"`
	Price              string         `json:"price"`
	RawConfidence      float64        `json:"rawConfidence"`
	AdjustedConfidence float64        `json:"adjustedConfidence"`
	CorrelationID      string         `json:"correlationId"`
	Priority           float64        `json:"priority"`
	PositionSizing     float64        `json:"positionSizing"`
	AcceptedAt         time.Time      `json:"acceptedAt"`
	DetectorID         string         `json:"detectorId"`
	Data               map[string]any `json:"data,omitempty"`
}

func toWire(p model.ProcessedSignal) wireSignal {
	return wireSignal{
		ID:                 p.ID,
		Type:               string(p.Type),
		Side:               string(p.Side),
		Price:              p.Price.String(),
		RawConfidence:      p.RawConfidence,
		AdjustedConfidence: p.AdjustedConfidence,
		CorrelationID:      p.CorrelationID,
		Priority:           p.Priority,
		PositionSizing:     p.PositionSizing,
		AcceptedAt:         p.AcceptedAt,
		DetectorID:         p.DetectorID,
		Data:               p.Data,
	}
}

// KafkaPublisher is the signalmanager.PublishPort implementation
// backing the Kafka sink.
type KafkaPublisher struct {
	writer  *kafka.Writer
	log     *zap.Logger
	timeout time.Duration
}

// NewKafkaPublisher builds a writer against the given brokers/topic.
// kafka-go batches and retries internally; this sink only needs to
// supply a bounded write deadline per spec.md §7's DownstreamIOTimeout.
func NewKafkaPublisher(cfg KafkaConfig, log *zap.Logger) *KafkaPublisher {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		log:     log,
		timeout: timeout,
	}
}

// Publish implements signalmanager.PublishPort. A write failure is
// logged and dropped; it is not reported to the caller and no failure
// count or circuit breaker is kept for this sink. It never blocks the
// signal manager beyond the timeout.
func (k *KafkaPublisher) Publish(p model.ProcessedSignal) {
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()

	payload, err := json.Marshal(toWire(p))
	if err != nil {
		k.log.Warn("publish: marshal signal", zap.Error(err))
		return
	}
	msg := kafka.Message{Key: []byte(p.CorrelationID), Value: payload}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.log.Warn("publish: kafka write failed", zap.Error(err), zap.String("correlationId", p.CorrelationID))
	}
}

// Close flushes and closes the underlying writer.
func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
