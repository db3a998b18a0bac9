// Package health implements a time-bucketed event counter: per-key
// counters with minute/hour/day granularity, used by the cascade client
// both for exponential skip/back-off and for fallback ordering. Counts
// must be read back synchronously to make skip decisions, which rules out
// recording them only through the Prometheus client library; increments
// are mirrored into Prometheus separately (see metrics.go).
package health

import (
	"context"
	"sync"
	"time"
)

// Metric names the three dimensions tracked per key.
type Metric string

const (
	MetricSuccess Metric = "success"
	MetricError   Metric = "error"
	MetricSkip    Metric = "skip"
)

const (
	minuteRetention = 60  // minutes
	hourRetention   = 24  // hours
	dayRetention    = 30  // days
)

type bucket struct {
	ts    int64 // bucket-aligned unix seconds
	count int64
}

type series struct {
	minutes []bucket
	hours   []bucket
	days    []bucket
}

func (s *series) total() int64 {
	var sum int64
	for _, b := range s.minutes {
		sum += b.count
	}
	for _, b := range s.hours {
		sum += b.count
	}
	for _, b := range s.days {
		sum += b.count
	}
	return sum
}

func (s *series) since(threshold time.Time) int64 {
	cutoff := threshold.Unix()
	var sum int64
	for _, b := range s.minutes {
		if b.ts >= cutoff {
			sum += b.count
		}
	}
	for _, b := range s.hours {
		if b.ts >= cutoff {
			sum += b.count
		}
	}
	for _, b := range s.days {
		if b.ts >= cutoff {
			sum += b.count
		}
	}
	return sum
}

type key struct {
	Key    string
	Metric Metric
}

// Counter is the bucketed, writer-serialized store. Callers are expected
// to funnel writes through one logical task, but the mutex makes the
// store itself safe for concurrent use regardless.
type Counter struct {
	mu          sync.Mutex
	series      map[key]*series
	onIncrement func(key string, metric Metric, amount int64)
	store       Store
}

// New returns an empty Counter. onIncrement, if non-nil, is invoked after
// every successful increment — wired to mirror events into a Prometheus
// CounterVec as an ambient metrics export (see internal/health/metrics.go).
func New(onIncrement func(key string, metric Metric, amount int64)) *Counter {
	return &Counter{series: make(map[key]*series), onIncrement: onIncrement}
}

// Increment lands amount in the current minute bucket for (k, metric),
// then performs the rollup in the same critical section: minute buckets
// older than 60m roll into hour buckets, hour buckets older than 24h roll
// into day buckets, day buckets older than 30d are dropped. Writes are
// the sole aggregator; reads never mutate.
func (c *Counter) Increment(k string, metric Metric, amount int64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sk := key{Key: k, Metric: metric}
	s, ok := c.series[sk]
	if !ok {
		s = &series{}
		c.series[sk] = s
	}

	minuteTS := now.Truncate(time.Minute).Unix()
	s.minutes = addBucket(s.minutes, minuteTS, amount)
	c.rollup(s, now)

	if c.store != nil {
		// Best-effort: a failed persist degrades to in-memory-only behavior
		// for this event rather than blocking the caller's cascade decision.
		_ = c.store.Append(context.Background(), k, metric, minuteTS, amount)
	}
	if c.onIncrement != nil {
		c.onIncrement(k, metric, amount)
	}
}

func addBucket(buckets []bucket, ts int64, amount int64) []bucket {
	for i := range buckets {
		if buckets[i].ts == ts {
			buckets[i].count += amount
			return buckets
		}
	}
	return append(buckets, bucket{ts: ts, count: amount})
}

func (c *Counter) rollup(s *series, now time.Time) {
	minuteCutoff := now.Add(-time.Duration(minuteRetention) * time.Minute).Unix()
	kept := s.minutes[:0:0]
	for _, b := range s.minutes {
		if b.ts >= minuteCutoff {
			kept = append(kept, b)
			continue
		}
		hourTS := time.Unix(b.ts, 0).Truncate(time.Hour).Unix()
		s.hours = addBucket(s.hours, hourTS, b.count)
	}
	s.minutes = kept

	hourCutoff := now.Add(-time.Duration(hourRetention) * time.Hour).Unix()
	keptHours := s.hours[:0:0]
	for _, b := range s.hours {
		if b.ts >= hourCutoff {
			keptHours = append(keptHours, b)
			continue
		}
		dayTS := time.Unix(b.ts, 0).Truncate(24 * time.Hour).Unix()
		s.days = addBucket(s.days, dayTS, b.count)
	}
	s.hours = keptHours

	dayCutoff := now.Add(-time.Duration(dayRetention) * 24 * time.Hour).Unix()
	keptDays := s.days[:0:0]
	for _, b := range s.days {
		if b.ts >= dayCutoff {
			keptDays = append(keptDays, b)
		}
	}
	s.days = keptDays
}

// Stats summarizes one metric's counts for a key.
type Stats struct {
	Total    int64
	LastHour int64
	LastDay  int64
}

// GetStats returns per-metric stats for k. Reads never mutate.
func (c *Counter) GetStats(k string, now time.Time) map[Metric]Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[Metric]Stats)
	for _, metric := range []Metric{MetricSuccess, MetricError, MetricSkip} {
		s, ok := c.series[key{Key: k, Metric: metric}]
		if !ok {
			out[metric] = Stats{}
			continue
		}
		out[metric] = Stats{
			Total:    s.total(),
			LastHour: s.since(now.Add(-time.Hour)),
			LastDay:  s.since(now.Add(-24 * time.Hour)),
		}
	}
	return out
}

// Reset clears one key (all its metrics), or everything when k == "".
func (c *Counter) Reset(k string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if k == "" {
		c.series = make(map[key]*series)
		return
	}
	for _, metric := range []Metric{MetricSuccess, MetricError, MetricSkip} {
		delete(c.series, key{Key: k, Metric: metric})
	}
}
