// Package metrics provides Prometheus collectors for the audio cache and the
// playback session.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "glow_audio"

var (
	// cacheLookupsTotal counts cache lookups by result.
	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Total number of cache lookups",
		},
		[]string{"result"}, // result: hit, miss
	)

	// cacheEvictionsTotal counts evicted entries by trigger.
	cacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of evicted cache entries",
		},
		[]string{"trigger"}, // trigger: put, sweep, manual
	)

	// cacheBytes is the current payload byte total.
	cacheBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_bytes",
			Help:      "Current total payload bytes held by the cache",
		},
	)

	// cacheEntries is the current entry count.
	cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Current number of cache entries",
		},
	)

	// probeDuration is a histogram of metadata probe latency.
	probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Duration of metadata probes in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5},
		},
		[]string{"status"}, // status: success, error, timeout
	)

	// playbackStartsTotal counts play requests by outcome.
	playbackStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_starts_total",
			Help:      "Total number of playback start requests",
		},
		[]string{"status"}, // status: success, failed, canceled
	)

	// playbackRetriesTotal counts failed start attempts that were retried.
	playbackRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_start_retries_total",
			Help:      "Total number of failed playback start attempts",
		},
	)

	// playbackTransitionsTotal counts session state transitions.
	playbackTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_transitions_total",
			Help:      "Total number of playback state transitions",
		},
		[]string{"from", "to"},
	)

	// handlesLive is the number of outstanding resource handles.
	handlesLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "handles_live",
			Help:      "Number of live resource handles",
		},
		[]string{"kind"},
	)

	// handleReleasesTotal counts released handles.
	handleReleasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handle_releases_total",
			Help:      "Total number of released resource handles",
		},
		[]string{"kind"},
	)

	allMetrics = []prometheus.Collector{
		cacheLookupsTotal,
		cacheEvictionsTotal,
		cacheBytes,
		cacheEntries,
		probeDuration,
		playbackStartsTotal,
		playbackRetriesTotal,
		playbackTransitionsTotal,
		handlesLive,
		handleReleasesTotal,
	}
)

// Collectors returns every collector defined by this package.
func Collectors() []prometheus.Collector {
	out := make([]prometheus.Collector, len(allMetrics))
	copy(out, allMetrics)
	return out
}

// RecordCacheHit records a cache hit.
func RecordCacheHit() {
	cacheLookupsTotal.WithLabelValues("hit").Inc()
}

// RecordCacheMiss records a cache miss.
func RecordCacheMiss() {
	cacheLookupsTotal.WithLabelValues("miss").Inc()
}

// RecordEviction records an evicted entry.
func RecordEviction(trigger string) {
	cacheEvictionsTotal.WithLabelValues(trigger).Inc()
}

// SetCacheUsage updates the cache usage gauges.
func SetCacheUsage(bytes int64, entries int) {
	cacheBytes.Set(float64(bytes))
	cacheEntries.Set(float64(entries))
}

// RecordProbe records a metadata probe outcome and its latency in seconds.
func RecordProbe(status string, seconds float64) {
	probeDuration.WithLabelValues(status).Observe(seconds)
}

// RecordPlaybackStart records the outcome of a play request.
func RecordPlaybackStart(status string) {
	playbackStartsTotal.WithLabelValues(status).Inc()
}

// RecordStartRetry records a failed start attempt.
func RecordStartRetry() {
	playbackRetriesTotal.Inc()
}

// RecordTransition records a session state transition.
func RecordTransition(from, to string) {
	playbackTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordHandleAcquired records a newly registered handle.
func RecordHandleAcquired(kind string) {
	handlesLive.WithLabelValues(kind).Inc()
}

// RecordHandleReleased records a released handle.
func RecordHandleReleased(kind string) {
	handlesLive.WithLabelValues(kind).Dec()
	handleReleasesTotal.WithLabelValues(kind).Inc()
}
