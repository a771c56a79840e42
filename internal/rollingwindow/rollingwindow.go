// Package rollingwindow implements a bounded, time-ordered sample store
// with O(1) push/evict and aggregate queries. It backs the passive
// volume history (C4) and the zone/score series several detectors
// maintain.
package rollingwindow

import (
	"time"

	"flowengine/internal/fixedpoint"
)

// Sample is a single timestamped observation.
type Sample struct {
	Timestamp time.Time
	Value     fixedpoint.Value
}

// Window is a bounded ring of samples, evicted both by capacity and by
// a retention duration. It is not safe for concurrent use; callers
// (C3, C4, detectors) own their own locking per spec.md §5.
type Window struct {
	capacity  int
	retention time.Duration
	samples   []Sample // append-only circular slice, oldest at head
	head      int
	size      int
}

// New creates a Window holding at most capacity samples, each evicted
// once older than retention (0 disables time-based eviction).
func New(capacity int, retention time.Duration) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	return &Window{
		capacity:  capacity,
		retention: retention,
		samples:   make([]Sample, capacity),
	}
}

// Push appends a sample, evicting the oldest by capacity, then by
// retention relative to now.
func (w *Window) Push(now time.Time, v fixedpoint.Value) {
	idx := (w.head + w.size) % w.capacity
	if w.size < w.capacity {
		w.size++
	} else {
		w.head = (w.head + 1) % w.capacity
	}
	w.samples[idx] = Sample{Timestamp: now, Value: v}
	w.evictStale(now)
}

// evictStale drops samples older than retention from the head.
func (w *Window) evictStale(now time.Time) {
	if w.retention <= 0 {
		return
	}
	for w.size > 0 {
		oldest := w.samples[w.head]
		if now.Sub(oldest.Timestamp) <= w.retention {
			break
		}
		w.head = (w.head + 1) % w.capacity
		w.size--
	}
}

// Len returns the current number of live samples.
func (w *Window) Len() int { return w.size }

// All returns samples oldest-first. The returned slice is a fresh copy
// safe for the caller to retain.
func (w *Window) All() []Sample {
	out := make([]Sample, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.samples[(w.head+i)%w.capacity]
	}
	return out
}

// First returns the oldest live sample.
func (w *Window) First() (Sample, bool) {
	if w.size == 0 {
		return Sample{}, false
	}
	return w.samples[w.head], true
}

// Last returns the most recently pushed live sample.
func (w *Window) Last() (Sample, bool) {
	if w.size == 0 {
		return Sample{}, false
	}
	idx := (w.head + w.size - 1) % w.capacity
	return w.samples[idx], true
}

// Sum adds every live sample's value.
func (w *Window) Sum() fixedpoint.Value {
	total := fixedpoint.Zero
	for i := 0; i < w.size; i++ {
		total = total.Add(w.samples[(w.head+i)%w.capacity].Value)
	}
	return total
}

// Mean computes Sum()/Len(), returning Zero when empty.
func (w *Window) Mean() fixedpoint.Value {
	if w.size == 0 {
		return fixedpoint.Zero
	}
	return w.Sum().Div(fixedpoint.FromInt(int64(w.size)))
}

// Min returns the smallest live value.
func (w *Window) Min() (fixedpoint.Value, bool) {
	if w.size == 0 {
		return fixedpoint.Zero, false
	}
	min := w.samples[w.head].Value
	for i := 1; i < w.size; i++ {
		v := w.samples[(w.head+i)%w.capacity].Value
		if v.LessThan(min) {
			min = v
		}
	}
	return min, true
}

// Max returns the largest live value.
func (w *Window) Max() (fixedpoint.Value, bool) {
	if w.size == 0 {
		return fixedpoint.Zero, false
	}
	max := w.samples[w.head].Value
	for i := 1; i < w.size; i++ {
		v := w.samples[(w.head+i)%w.capacity].Value
		if v.GreaterThan(max) {
			max = v
		}
	}
	return max, true
}

// SinceFirst returns the span between the oldest and newest live
// samples, or 0 if fewer than two samples are present.
func (w *Window) SinceFirst() time.Duration {
	first, ok1 := w.First()
	last, ok2 := w.Last()
	if !ok1 || !ok2 {
		return 0
	}
	return last.Timestamp.Sub(first.Timestamp)
}
