package persistence

import (
	"fmt"

	"flowengine/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SignalRecord is the gorm-mapped append-only signal log row, grounded
// on the teacher's database/signals.Repository and its
// models_pkg.TradingSignalDB shape.
type SignalRecord struct {
	ID                 int64   `gorm:"primaryKey;autoIncrement"`
	AcceptedAt         int64   `gorm:"index:idx_signal_time;not null"`
	Type               string  `gorm:"index:idx_type_time,priority:1;not null"`
	Side               string  `gorm:"not null"`
	Price              string  `gorm:"not null"`
	RawConfidence      float64 `gorm:"not null"`
	AdjustedConfidence float64 `gorm:"not null"`
	CorrelationID      string  `gorm:"index"`
	Priority           float64 `gorm:"not null"`
	PositionSizing     float64 `gorm:"not null"`
	DetectorID         string
}

// TableName pins the table name independent of Go naming conventions.
func (SignalRecord) TableName() string {
	return "processed_signals"
}

// ConnectSignalLog opens a GORM/Postgres connection for the signal log,
// mirroring the teacher's database.Connect (gorm.Open with silent
// logging), then auto-migrates the schema.
func ConnectSignalLog(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("persistence: connect signal log: %w", err)
	}
	if err := db.AutoMigrate(&SignalRecord{}); err != nil {
		return nil, fmt.Errorf("persistence: migrate signal log: %w", err)
	}
	return db, nil
}

// SignalLog is the signalmanager.PublishPort implementation backing
// the append-only signal log (spec.md §6).
type SignalLog struct {
	db *gorm.DB
}

// NewSignalLog wraps an already-connected GORM handle.
func NewSignalLog(db *gorm.DB) *SignalLog {
	return &SignalLog{db: db}
}

// Publish implements signalmanager.PublishPort.
func (s *SignalLog) Publish(p model.ProcessedSignal) {
	record := SignalRecord{
		AcceptedAt:         p.AcceptedAt.UnixMilli(),
		Type:               string(p.Type),
		Side:               string(p.Side),
		Price:              p.Price.String(),
		RawConfidence:      p.RawConfidence,
		AdjustedConfidence: p.AdjustedConfidence,
		CorrelationID:      p.CorrelationID,
		Priority:           p.Priority,
		PositionSizing:     p.PositionSizing,
		DetectorID:         p.DetectorID,
	}
	s.db.Create(&record)
}

// Recent retrieves the most recent log rows for a signal type, for
// diagnostics endpoints.
func (s *SignalLog) Recent(signalType string, limit int) ([]SignalRecord, error) {
	var out []SignalRecord
	query := s.db.Order("accepted_at DESC")
	if signalType != "" {
		query = query.Where("type = ?", signalType)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("persistence: recent signals: %w", err)
	}
	return out, nil
}
