// Package metrics provides an in-process metrics registry with counters,
// gauges, and ring-buffer histograms.
//
// The registry backs the get-metrics introspection tool: tool handlers record
// counts and durations, and snapshots derive min/max/mean and p50/p95/p99
// from the recorded samples. A Prometheus mirror (see prometheus.go) exposes
// the same signals for external scraping.
package metrics

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// histogramCap bounds the number of samples retained per histogram key.
// Older samples are overwritten ring-buffer style.
const histogramCap = 1000

// Registry collects counters, gauges, and histograms keyed by metric name
// plus a sorted tag set. All operations are safe for concurrent use.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string]*ring
	startedAt  time.Time
}

// ring is a fixed-capacity ring buffer of duration samples in milliseconds.
type ring struct {
	samples []float64
	next    int
	full    bool
}

func (r *ring) record(v float64) {
	if len(r.samples) < histogramCap && !r.full {
		r.samples = append(r.samples, v)
		if len(r.samples) == histogramCap {
			r.full = true
		}
		return
	}
	r.samples[r.next] = v
	r.next = (r.next + 1) % histogramCap
}

// NewRegistry creates an empty registry with the uptime clock started now.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string]*ring),
		startedAt:  time.Now(),
	}
}

// metricKey builds a stable key from a name and tags. Tags are sorted so
// that {a:1,b:2} and {b:2,a:1} address the same series.
func metricKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	pairs := make([]string, 0, len(tags))
	for k, v := range tags {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}

// IncrementCounter adds delta to the counter identified by name and tags.
// Negative deltas are ignored; counters are monotone.
func (r *Registry) IncrementCounter(name string, delta float64, tags map[string]string) {
	if delta < 0 {
		return
	}
	key := metricKey(name, tags)
	r.mu.Lock()
	r.counters[key] += delta
	r.mu.Unlock()
}

// RecordDuration records a duration sample for the histogram identified by
// name and tags.
func (r *Registry) RecordDuration(name string, d time.Duration, tags map[string]string) {
	key := metricKey(name, tags)
	r.mu.Lock()
	h, ok := r.histograms[key]
	if !ok {
		h = &ring{}
		r.histograms[key] = h
	}
	h.record(float64(d.Milliseconds()))
	r.mu.Unlock()
}

// SetGauge sets the gauge identified by name and tags. Last write wins.
func (r *Registry) SetGauge(name string, value float64, tags map[string]string) {
	key := metricKey(name, tags)
	r.mu.Lock()
	r.gauges[key] = value
	r.mu.Unlock()
}

// Reset drops every series and restarts the uptime clock.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.counters = make(map[string]float64)
	r.gauges = make(map[string]float64)
	r.histograms = make(map[string]*ring)
	r.startedAt = time.Now()
	r.mu.Unlock()
}

// HistogramStats summarizes the retained samples of one histogram series.
type HistogramStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Snapshot is a point-in-time copy of every series in the registry.
type Snapshot struct {
	Counters      map[string]float64        `json:"counters"`
	Gauges        map[string]float64        `json:"gauges"`
	Histograms    map[string]HistogramStats `json:"histograms"`
	UptimeSeconds float64                   `json:"uptime_seconds"`
}

// Snapshot returns a copy of all series. Histogram statistics are derived at
// snapshot time from the retained samples.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Counters:      make(map[string]float64, len(r.counters)),
		Gauges:        make(map[string]float64, len(r.gauges)),
		Histograms:    make(map[string]HistogramStats, len(r.histograms)),
		UptimeSeconds: time.Since(r.startedAt).Seconds(),
	}
	for k, v := range r.counters {
		snap.Counters[k] = v
	}
	for k, v := range r.gauges {
		snap.Gauges[k] = v
	}
	for k, h := range r.histograms {
		snap.Histograms[k] = summarize(h.samples)
	}
	return snap
}

func summarize(samples []float64) HistogramStats {
	if len(samples) == 0 {
		return HistogramStats{}
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return HistogramStats{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / float64(len(sorted)),
		P50:   percentile(sorted, 50),
		P95:   percentile(sorted, 95),
		P99:   percentile(sorted, 99),
	}
}

// percentile uses nearest-rank on an ascending slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
