// Package config defines the per-symbol configuration surface from
// spec.md §6. Full configuration loading and validation is an
// out-of-scope external collaborator; this package only gives the
// engine a typed value to be constructed with, plus a thin env-backed
// loader for local/dev runs, in the teacher's .env + environment
// variable style (config/config.go) but using struct tags instead of
// hand-rolled getEnvOrDefault helpers.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EngineConfig is the full per-symbol configuration tree. It is passed
// by value into every component (spec.md §9's redesign of the source's
// global mutable configuration singletons). There is no hot-reload:
// Load builds the value once at startup and it is never replaced.
type EngineConfig struct {
	Symbol         string    `env:"SYMBOL" envDefault:"BTCUSDT"`
	PricePrecision int32     `env:"PRICE_PRECISION" envDefault:"8"`
	TickSize       string    `env:"TICK_SIZE" envDefault:"0.01"`
	WindowMs       int64     `env:"WINDOW_MS" envDefault:"60000"`
	ZoneTicks      []int     `env:"ZONE_TICKS" envSeparator:"," envDefault:"5,10,20"`

	OrderBook      OrderBookConfig
	PassiveVolume  PassiveVolumeConfig
	Absorption     AbsorptionConfig
	Exhaustion     ExhaustionConfig
	Accumulation   ZoneConfig
	Distribution   ZoneConfig
	Iceberg        IcebergConfig
	Spoofing       SpoofingConfig
	Anomaly        AnomalyConfig
	DeltaCVD       DeltaCVDConfig
	SignalManager  SignalManagerConfig
	Regime         RegimeConfig
}

// RegimeConfig thresholds the volatility-regime classifier that feeds
// SignalManagerConfig.SignalPriorityMatrix's regime lookup.
type RegimeConfig struct {
	HighVolatilityWidth float64 `env:"REGIME_HIGH_VOL_WIDTH" envDefault:"0.05"`
	LowVolatilityWidth  float64 `env:"REGIME_LOW_VOL_WIDTH" envDefault:"0.01"`
	MinSamples          int     `env:"REGIME_MIN_SAMPLES" envDefault:"20"`
}

type OrderBookConfig struct {
	MaxLevels        int           `env:"OB_MAX_LEVELS" envDefault:"5000"`
	MaxPriceDistance int           `env:"OB_MAX_PRICE_DISTANCE" envDefault:"2000"`
	PruneInterval    time.Duration `env:"OB_PRUNE_INTERVAL" envDefault:"5s"`
	StaleThreshold   time.Duration `env:"OB_STALE_THRESHOLD" envDefault:"5s"`
	MaxErrorRate     float64       `env:"OB_MAX_ERROR_RATE" envDefault:"0.05"`
}

type PassiveVolumeConfig struct {
	WindowMs        int64   `env:"PV_WINDOW_MS" envDefault:"300000"`
	RetentionMs     int64   `env:"PV_RETENTION_MS" envDefault:"900000"`
	RefillRatio     float64 `env:"PV_REFILL_RATIO" envDefault:"0.8"`
}

type AbsorptionConfig struct {
	MinAggVolume                  string        `env:"ABS_MIN_AGG_VOLUME" envDefault:"500"`
	PassiveAbsorptionThreshold    float64       `env:"ABS_PASSIVE_THRESHOLD" envDefault:"0.65"`
	MinPassiveMultiplier          float64       `env:"ABS_MIN_PASSIVE_MULTIPLIER" envDefault:"1.5"`
	PriceEfficiencyThreshold      float64       `env:"ABS_PRICE_EFFICIENCY_THRESHOLD" envDefault:"0.35"`
	ExpectedMovementScalingFactor float64       `env:"ABS_EXPECTED_MOVEMENT_SCALING" envDefault:"1.0"`
	EventCooldown                 time.Duration `env:"ABS_EVENT_COOLDOWN" envDefault:"15s"`
	FinalConfidenceRequired       float64       `env:"ABS_FINAL_CONFIDENCE" envDefault:"0.7"`
	InstitutionalVolumeThreshold  string        `env:"ABS_INSTITUTIONAL_VOLUME" envDefault:"1000"`
	DominanceMargin                float64      `env:"ABS_DOMINANCE_MARGIN" envDefault:"0.2"`
	RefillConfidenceBoost         float64       `env:"ABS_REFILL_BOOST" envDefault:"0.05"`
	SpoofConfidencePenalty        float64       `env:"ABS_SPOOF_PENALTY" envDefault:"0.15"`
	Weights                       AbsorptionWeights
}

// AbsorptionWeights is the unresolved-open-question configuration slot
// from spec.md §9: the confidence aggregate's component weights differ
// between baseline and enhanced detectors in the source and are left
// to configuration rather than hardcoded. Weights must sum to 1.
type AbsorptionWeights struct {
	InverseEfficiency      float64 `env:"ABS_W_EFFICIENCY" envDefault:"0.35"`
	PassiveRatio           float64 `env:"ABS_W_PASSIVE_RATIO" envDefault:"0.30"`
	InstitutionalFraction  float64 `env:"ABS_W_INSTITUTIONAL" envDefault:"0.20"`
	ZoneConfluence         float64 `env:"ABS_W_CONFLUENCE" envDefault:"0.15"`
}

type ExhaustionConfig struct {
	ExhaustionThreshold float64             `env:"EXH_THRESHOLD" envDefault:"0.7"`
	EventCooldown       time.Duration       `env:"EXH_EVENT_COOLDOWN" envDefault:"15s"`
	HistoryCapacity     int                 `env:"EXH_HISTORY_CAPACITY" envDefault:"64"`
	HistoryRetention    time.Duration       `env:"EXH_HISTORY_RETENTION" envDefault:"10m"`
	Features            ExhaustionFeatures
}

// ExhaustionFeatures replaces the source's prototype/duck-typed
// "features" flags per spec.md §9 with an explicit, named boolean
// value type.
type ExhaustionFeatures struct {
	SpreadExpansion bool `env:"EXH_FEATURE_SPREAD_EXPANSION" envDefault:"true"`
	VelocityPenalty bool `env:"EXH_FEATURE_VELOCITY" envDefault:"true"`
}

type ZoneConfig struct {
	MinZoneVolume          string        `env:"ZONE_MIN_VOLUME" envDefault:"5000"`
	MinTradeCount          int           `env:"ZONE_MIN_TRADE_COUNT" envDefault:"10"`
	MinBuyRatio            float64       `env:"ZONE_MIN_BUY_RATIO" envDefault:"0.75"`
	MinSellRatio           float64       `env:"ZONE_MIN_SELL_RATIO" envDefault:"0.75"`
	MinCandidateDuration   time.Duration `env:"ZONE_MIN_CANDIDATE_DURATION" envDefault:"5m"`
	MaxPriceDeviation      float64       `env:"ZONE_MAX_PRICE_DEVIATION" envDefault:"0.005"`
	MinZoneStrength        float64       `env:"ZONE_MIN_STRENGTH" envDefault:"0.6"`
	MaxActiveZones         int           `env:"ZONE_MAX_ACTIVE" envDefault:"20"`
	ZoneTimeout            time.Duration `env:"ZONE_TIMEOUT" envDefault:"30m"`
	CompletionThreshold    float64       `env:"ZONE_COMPLETION_THRESHOLD" envDefault:"0.8"`
	StrengthChangeThreshold float64      `env:"ZONE_STRENGTH_CHANGE_THRESHOLD" envDefault:"0.1"`
	MinPriceStability      float64       `env:"ZONE_MIN_PRICE_STABILITY" envDefault:"0.85"`
	MinInstitutionalScore  float64       `env:"ZONE_MIN_INSTITUTIONAL_SCORE" envDefault:"0.4"`
	MinCompositeScore      float64       `env:"ZONE_MIN_COMPOSITE_SCORE" envDefault:"0.75"`
	InvalidationBuffer     float64       `env:"ZONE_INVALIDATION_BUFFER" envDefault:"0.005"`
}

type IcebergConfig struct {
	MinRefillCount            int           `env:"ICE_MIN_REFILL_COUNT" envDefault:"4"`
	MaxSizeVariation          float64       `env:"ICE_MAX_SIZE_VARIATION" envDefault:"0.25"`
	MinTotalSize              string        `env:"ICE_MIN_TOTAL_SIZE" envDefault:"2000"`
	MaxRefillTime             time.Duration `env:"ICE_MAX_REFILL_TIME" envDefault:"10s"`
	InstitutionalSizeThreshold string       `env:"ICE_INSTITUTIONAL_SIZE" envDefault:"1000"`
	TrackingWindow            time.Duration `env:"ICE_TRACKING_WINDOW" envDefault:"5m"`
	MaxActiveIcebergs         int           `env:"ICE_MAX_ACTIVE" envDefault:"50"`
	MinConfidence             float64       `env:"ICE_MIN_CONFIDENCE" envDefault:"0.6"`
}

type SpoofingConfig struct {
	WallTicks       int     `env:"SPOOF_WALL_TICKS" envDefault:"3"`
	MinWallSize     string  `env:"SPOOF_MIN_WALL_SIZE" envDefault:"3000"`
	DynamicWallWidth bool   `env:"SPOOF_DYNAMIC_WALL_WIDTH" envDefault:"true"`
}

type AnomalyConfig struct {
	WindowSize               int           `env:"ANOM_WINDOW_SIZE" envDefault:"200"`
	AnomalyCooldown          time.Duration `env:"ANOM_COOLDOWN" envDefault:"5s"`
	VolumeImbalanceThreshold float64       `env:"ANOM_VOLUME_IMBALANCE" envDefault:"0.7"`
	NormalSpreadBps          float64       `env:"ANOM_NORMAL_SPREAD_BPS" envDefault:"5"`
	OrderSizeAnomalyThreshold float64      `env:"ANOM_ORDER_SIZE_THRESHOLD" envDefault:"3.0"`
}

type DeltaCVDConfig struct {
	WindowMs         int64   `env:"CVD_WINDOW_MS" envDefault:"60000"`
	ZScoreThreshold  float64 `env:"CVD_ZSCORE_THRESHOLD" envDefault:"2.0"`
	MinSamples       int     `env:"CVD_MIN_SAMPLES" envDefault:"20"`
	MinConfidence    float64 `env:"CVD_MIN_CONFIDENCE" envDefault:"0.55"`
}

type SignalManagerConfig struct {
	ConfidenceThreshold       float64           `env:"SM_CONFIDENCE_THRESHOLD" envDefault:"0.6"`
	MaxQueueSize              int               `env:"SM_MAX_QUEUE_SIZE" envDefault:"1000"`
	ProcessingBatchSize       int               `env:"SM_BATCH_SIZE" envDefault:"50"`
	BackpressureThreshold     int               `env:"SM_BACKPRESSURE_THRESHOLD" envDefault:"800"`
	AdaptiveBatchSizing       bool              `env:"SM_ADAPTIVE_BATCH" envDefault:"true"`
	MinAdaptiveBatchSize      int               `env:"SM_MIN_ADAPTIVE_BATCH" envDefault:"10"`
	MaxAdaptiveBatchSize      int               `env:"SM_MAX_ADAPTIVE_BATCH" envDefault:"200"`
	BackpressureYield         time.Duration     `env:"SM_BACKPRESSURE_YIELD" envDefault:"10ms"`
	PriorityQueueHighThreshold float64          `env:"SM_PRIORITY_HIGH_THRESHOLD" envDefault:"7.0"`
	HighPriorityBypassThreshold float64         `env:"SM_BYPASS_THRESHOLD" envDefault:"8.5"`
	CircuitBreakerThreshold   int               `env:"SM_CB_THRESHOLD" envDefault:"5"`
	CircuitBreakerResetMs     int64             `env:"SM_CB_RESET_MS" envDefault:"30000"`
	SignalTypePriorities      map[string]float64
	DetectorThresholds        map[string]float64
	PositionSizing            PositionSizingConfig
	PriceTolerancePercent     float64           `env:"SM_PRICE_TOLERANCE_PCT" envDefault:"0.003"`
	SignalThrottleMs          int64             `env:"SM_SIGNAL_THROTTLE_MS" envDefault:"30000"`
	CorrelationWindowMs       int64             `env:"SM_CORRELATION_WINDOW_MS" envDefault:"60000"`
	MaxHistorySize            int               `env:"SM_MAX_HISTORY" envDefault:"5000"`
	ConflictResolution        ConflictResolutionConfig
	SignalPriorityMatrix      map[string]map[string]float64
}

type PositionSizingConfig struct {
	FullSize    float64 `env:"SM_POSITION_FULL" envDefault:"1.0"`
	ReducedSize float64 `env:"SM_POSITION_REDUCED" envDefault:"0.5"`
}

type ConflictResolutionConfig struct {
	Enabled                     bool    `env:"SM_CONFLICT_ENABLED" envDefault:"true"`
	Strategy                    string  `env:"SM_CONFLICT_STRATEGY" envDefault:"confidence_weighted"`
	MinimumSeparationMs         int64   `env:"SM_CONFLICT_MIN_SEPARATION_MS" envDefault:"1000"`
	ContradictionPenaltyFactor  float64 `env:"SM_CONFLICT_PENALTY" envDefault:"0.5"`
	PriceTolerance              float64 `env:"SM_CONFLICT_PRICE_TOLERANCE" envDefault:"0.003"`
	VolatilityNormalizationFactor float64 `env:"SM_CONFLICT_VOL_NORM" envDefault:"1.0"`
}

// DefaultSignalTypePriorities matches spec.md §4.9's stated defaults.
func DefaultSignalTypePriorities() map[string]float64 {
	return map[string]float64{
		"absorption":   10,
		"exhaustion":   9,
		"cvd_confirmation": 8,
		"accumulation": 7,
		"distribution": 7,
		"iceberg":      6,
	}
}

// DefaultDetectorThresholds gives each signal type a default minimum
// confidence gate, tunable per deployment.
func DefaultDetectorThresholds() map[string]float64 {
	return map[string]float64{
		"absorption":   0.7,
		"exhaustion":   0.7,
		"cvd_confirmation": 0.55,
		"accumulation": 0.6,
		"distribution": 0.6,
		"iceberg":      0.6,
	}
}

// DefaultSignalPriorityMatrix gives a regime factor per {regime, type},
// used by the signal manager's context-adjustment step.
func DefaultSignalPriorityMatrix() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"highVolatility": {"absorption": 0.85, "exhaustion": 1.1, "cvd_confirmation": 1.0, "accumulation": 0.8, "distribution": 0.8, "iceberg": 0.9},
		"lowVolatility":  {"absorption": 1.1, "exhaustion": 0.9, "cvd_confirmation": 0.95, "accumulation": 1.1, "distribution": 1.1, "iceberg": 1.0},
		"balanced":       {"absorption": 1.0, "exhaustion": 1.0, "cvd_confirmation": 1.0, "accumulation": 1.0, "distribution": 1.0, "iceberg": 1.0},
	}
}

// Load reads a .env file (if present, exactly like the teacher's
// config.LoadFromEnv) and then overlays environment variables parsed
// via struct tags. It performs no business-rule validation — that
// stays an out-of-scope collaborator's job — only type coercion and
// the struct-tag defaults above.
func Load() (*EngineConfig, error) {
	_ = godotenv.Load() // absence is not an error, matches teacher behavior

	cfg := &EngineConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.SignalManager.SignalTypePriorities == nil {
		cfg.SignalManager.SignalTypePriorities = DefaultSignalTypePriorities()
	}
	if cfg.SignalManager.DetectorThresholds == nil {
		cfg.SignalManager.DetectorThresholds = DefaultDetectorThresholds()
	}
	if cfg.SignalManager.SignalPriorityMatrix == nil {
		cfg.SignalManager.SignalPriorityMatrix = DefaultSignalPriorityMatrix()
	}
	return cfg, nil
}
