// Package signalmanager implements C13: the single choke point every
// detector candidate passes through before publication — confidence
// gating, market-health gating, throttling, circuit breaking, a
// priority queue, conflict resolution between simultaneous opposing
// candidates, and position-size context adjustment (spec.md §4.9).
package signalmanager

import (
	"container/heap"
	"sync"
	"time"

	"flowengine/internal/config"
	"flowengine/internal/fixedpoint"
	"flowengine/internal/model"

	"github.com/google/uuid"
)

// HealthPort is C13's read dependency on C8.
type HealthPort interface {
	GetMarketHealth(now time.Time) model.MarketHealth
}

// PublishPort is C13's outbound dependency (SSE broadcast, Kafka, or
// both — wired by the engine, spec.md §6).
type PublishPort interface {
	Publish(model.ProcessedSignal)
}

// Stats are cumulative counters exposed for metrics/tests.
type Stats struct {
	Submitted  int64
	Rejected   int64
	Throttled  int64
	Conflicted int64
	Published  int64
}

type queueItem struct {
	candidate model.SignalCandidate
	priority  float64
	index     int
}

type priorityQueue []*queueItem

func (q priorityQueue) Len() int            { return len(q) }
func (q priorityQueue) Less(i, j int) bool  { return q[i].priority > q[j].priority } // max-heap
func (q priorityQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *priorityQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*q)
	*q = append(*q, item)
}
func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

type breaker struct {
	failures  int
	openUntil time.Time
}

// Manager is C13's implementation.
type Manager struct {
	mu      sync.Mutex
	cfg     config.SignalManagerConfig
	health  HealthPort
	publish PublishPort

	queue      priorityQueue
	breakers   map[model.SignalType]*breaker
	recentSent []model.ProcessedSignal
	stats      Stats
	regime     string
}

// New builds a Manager. The engine calls UpdateRegime as its
// volatility classifier changes (spec.md §4.9's context-adjustment
// step).
func New(cfg config.SignalManagerConfig, health HealthPort, publish PublishPort) *Manager {
	return &Manager{
		cfg:      cfg,
		health:   health,
		publish:  publish,
		breakers: make(map[model.SignalType]*breaker),
		regime:   "balanced",
	}
}

// UpdateRegime sets the volatility regime used to look up
// SignalPriorityMatrix row (spec.md §4.9).
func (m *Manager) UpdateRegime(regime string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regime = regime
}

// Submit implements every detector's SignalPort: the candidate passes
// through confidence, health, throttle and circuit-breaker gates
// before entering the priority queue.
func (m *Manager) Submit(candidate model.SignalCandidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Submitted++

	now := candidate.Timestamp
	threshold := m.cfg.DetectorThresholds[string(candidate.Type)]
	if threshold == 0 {
		threshold = m.cfg.ConfidenceThreshold
	}
	if candidate.Confidence < threshold {
		m.stats.Rejected++
		return
	}

	if b, ok := m.breakers[candidate.Type]; ok && now.Before(b.openUntil) {
		m.stats.Rejected++
		return
	}

	if m.throttledLocked(candidate, now) {
		m.stats.Throttled++
		return
	}

	health := m.healthLocked(now)
	if !health.IsHealthy {
		switch health.Recommendation {
		case model.RecommendPause, model.RecommendClosePositions:
			m.stats.Rejected++
			return
		}
	}

	priority := m.priorityLocked(candidate, health)
	if priority >= m.cfg.HighPriorityBypassThreshold {
		conflict := m.findConflictLocked(candidate, now)
		if processed, ok := m.processLocked(candidate, priority, health, conflict); ok {
			m.publishLocked(processed, now)
		}
		return
	}

	heap.Push(&m.queue, &queueItem{candidate: candidate, priority: priority})
	m.enforceQueueCapacityLocked()
}

func (m *Manager) healthLocked(now time.Time) model.MarketHealth {
	if m.health == nil {
		return model.MarketHealth{IsHealthy: true, Recommendation: model.RecommendContinue}
	}
	return m.health.GetMarketHealth(now)
}

func (m *Manager) priorityLocked(candidate model.SignalCandidate, health model.MarketHealth) float64 {
	base := m.cfg.SignalTypePriorities[string(candidate.Type)]
	if base == 0 {
		base = 1
	}
	regimeFactor := 1.0
	if row, ok := m.cfg.SignalPriorityMatrix[m.regime]; ok {
		if f, ok := row[string(candidate.Type)]; ok {
			regimeFactor = f
		}
	}
	return base * regimeFactor * candidate.Confidence
}

// enforceQueueCapacityLocked drops the lowest-priority queued
// candidate once MaxQueueSize is exceeded (spec.md §4.9 backpressure).
func (m *Manager) enforceQueueCapacityLocked() {
	if m.cfg.MaxQueueSize <= 0 {
		return
	}
	for m.queue.Len() > m.cfg.MaxQueueSize {
		worst := 0
		for i := 1; i < m.queue.Len(); i++ {
			if m.queue[i].priority < m.queue[worst].priority {
				worst = i
			}
		}
		heap.Remove(&m.queue, worst)
		m.stats.Rejected++
	}
}

// ProcessBatch pops up to the configured (or adaptively sized) batch
// from the priority queue, resolves conflicts between opposing
// candidates close in time and price, and publishes the survivors.
func (m *Manager) ProcessBatch(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	batchSize := m.cfg.ProcessingBatchSize
	if m.cfg.AdaptiveBatchSizing {
		batchSize = m.adaptiveBatchSizeLocked()
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	health := m.healthLocked(now)
	popped := make([]model.SignalCandidate, 0, batchSize)
	for i := 0; i < batchSize && m.queue.Len() > 0; i++ {
		item := heap.Pop(&m.queue).(*queueItem)
		popped = append(popped, item.candidate)
	}

	published := 0
	for _, candidate := range popped {
		priority := m.priorityLocked(candidate, health)
		conflict := m.findConflictLocked(candidate, now)
		processed, ok := m.processLocked(candidate, priority, health, conflict)
		if !ok {
			continue
		}
		m.publishLocked(processed, now)
		published++
	}
	return published
}

func (m *Manager) adaptiveBatchSizeLocked() int {
	depth := m.queue.Len()
	if m.cfg.BackpressureThreshold > 0 && depth > m.cfg.BackpressureThreshold {
		return m.cfg.MaxAdaptiveBatchSize
	}
	if depth < m.cfg.MinAdaptiveBatchSize {
		return m.cfg.MinAdaptiveBatchSize
	}
	if depth > m.cfg.MaxAdaptiveBatchSize {
		return m.cfg.MaxAdaptiveBatchSize
	}
	return depth
}

// throttledLocked reports whether a same-type, same-side signal within
// a price bucket of candidate was already published within
// SignalThrottleMs (spec.md §4.9 step 3) — bucketed on type, side and
// price rather than type alone, so an opposing-side signal at the same
// price or a same-side signal at a different price never gets
// throttled against it.
func (m *Manager) throttledLocked(candidate model.SignalCandidate, now time.Time) bool {
	throttle := time.Duration(m.cfg.SignalThrottleMs) * time.Millisecond
	if throttle <= 0 {
		return false
	}
	for i := len(m.recentSent) - 1; i >= 0; i-- {
		prior := m.recentSent[i]
		if now.Sub(prior.Timestamp) > throttle {
			break
		}
		if prior.Type != candidate.Type || prior.Side != candidate.Side {
			continue
		}
		if withinTolerance(prior.Price, candidate.Price, m.cfg.PriceTolerancePercent) {
			return true
		}
	}
	return false
}

// findConflictLocked returns a recently-sent opposing-side signal
// within CorrelationWindowMs and PriceTolerancePercent, if any
// (spec.md §4.9's conflict resolution).
func (m *Manager) findConflictLocked(candidate model.SignalCandidate, now time.Time) *model.ProcessedSignal {
	if !m.cfg.ConflictResolution.Enabled {
		return nil
	}
	window := time.Duration(m.cfg.CorrelationWindowMs) * time.Millisecond
	tolerance := m.cfg.ConflictResolution.PriceTolerance
	for i := len(m.recentSent) - 1; i >= 0; i-- {
		prior := m.recentSent[i]
		if now.Sub(prior.Timestamp) > window {
			break
		}
		if prior.Side == candidate.Side {
			continue
		}
		if !withinTolerance(prior.Price, candidate.Price, tolerance) {
			continue
		}
		return &prior
	}
	return nil
}

// withinTolerance reports whether b is within tol (a fraction of a)
// of a.
func withinTolerance(a, b fixedpoint.Value, tol float64) bool {
	if a.IsZero() {
		return b.IsZero()
	}
	diff := a.Sub(b).Abs()
	return diff.Div(a).Float64() <= tol
}

// processLocked builds the ProcessedSignal for candidate, applying the
// conflict-resolution contradiction penalty when conflict is set. Per
// spec.md §8's confidence_weighted strategy, only max(candidate.adj,
// conflict.AdjustedConfidence) survives: if the penalized candidate
// still does not beat the already-published conflicting signal, it is
// rejected outright rather than published alongside it.
func (m *Manager) processLocked(candidate model.SignalCandidate, priority float64, health model.MarketHealth, conflict *model.ProcessedSignal) (model.ProcessedSignal, bool) {
	adjusted := candidate.Confidence
	correlationID := uuid.NewString()

	if conflict != nil {
		m.stats.Conflicted++
		adjusted *= (1 - m.cfg.ConflictResolution.ContradictionPenaltyFactor)
		if adjusted <= conflict.AdjustedConfidence {
			m.stats.Rejected++
			return model.ProcessedSignal{}, false
		}
		if conflict.CorrelationID != "" {
			correlationID = conflict.CorrelationID
		}
	}

	sizing := m.cfg.PositionSizing.FullSize
	if health.Recommendation == model.RecommendReduceSize {
		sizing = m.cfg.PositionSizing.ReducedSize
	}

	return model.ProcessedSignal{
		SignalCandidate:    candidate,
		RawConfidence:      candidate.Confidence,
		AdjustedConfidence: adjusted,
		CorrelationID:      correlationID,
		Priority:           priority,
		AcceptedAt:         candidate.Timestamp,
		PositionSizing:     sizing,
	}, true
}

func (m *Manager) publishLocked(processed model.ProcessedSignal, now time.Time) {
	m.recentSent = append(m.recentSent, processed)
	m.trimRecentLocked(now)
	m.stats.Published++
	if m.publish != nil {
		m.publish.Publish(processed)
	}
}

func (m *Manager) trimRecentLocked(now time.Time) {
	window := time.Duration(m.cfg.CorrelationWindowMs) * time.Millisecond
	cut := 0
	for i, p := range m.recentSent {
		if window <= 0 || now.Sub(p.Timestamp) <= window {
			cut = i
			break
		}
		cut = i + 1
	}
	if cut > 0 {
		m.recentSent = m.recentSent[cut:]
	}
	if max := m.cfg.MaxHistorySize; max > 0 && len(m.recentSent) > max {
		m.recentSent = m.recentSent[len(m.recentSent)-max:]
	}
}

// RecordFailure opens the circuit breaker for a signal type after
// CircuitBreakerThreshold consecutive detector-reported failures,
// auto-resetting after CircuitBreakerResetMs (spec.md §4.9).
func (m *Manager) RecordFailure(signalType model.SignalType, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[signalType]
	if !ok {
		b = &breaker{}
		m.breakers[signalType] = b
	}
	b.failures++
	if b.failures >= m.cfg.CircuitBreakerThreshold {
		b.openUntil = now.Add(time.Duration(m.cfg.CircuitBreakerResetMs) * time.Millisecond)
		b.failures = 0
	}
}

// RecordSuccess resets the failure counter for a signal type.
func (m *Manager) RecordSuccess(signalType model.SignalType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[signalType]; ok {
		b.failures = 0
	}
}

// QueueDepth reports the current backlog, for metrics.
func (m *Manager) QueueDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

// Snapshot returns a copy of the cumulative statistics.
func (m *Manager) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
