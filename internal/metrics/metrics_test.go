package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCacheLookups(t *testing.T) {
	cacheLookupsTotal.Reset()

	RecordCacheHit()
	RecordCacheHit()
	RecordCacheMiss()

	hits := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit"))
	misses := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("miss"))
	if hits != 2 {
		t.Errorf("Expected 2 hits, got %f", hits)
	}
	if misses != 1 {
		t.Errorf("Expected 1 miss, got %f", misses)
	}
}

func TestSetCacheUsage(t *testing.T) {
	SetCacheUsage(2048, 3)

	if got := testutil.ToFloat64(cacheBytes); got != 2048 {
		t.Errorf("cache bytes = %f, want 2048", got)
	}
	if got := testutil.ToFloat64(cacheEntries); got != 3 {
		t.Errorf("cache entries = %f, want 3", got)
	}
}

func TestHandleGauges(t *testing.T) {
	handlesLive.Reset()
	handleReleasesTotal.Reset()

	RecordHandleAcquired("probe")
	RecordHandleAcquired("probe")
	RecordHandleReleased("probe")

	if got := testutil.ToFloat64(handlesLive.WithLabelValues("probe")); got != 1 {
		t.Errorf("live probe handles = %f, want 1", got)
	}
	if got := testutil.ToFloat64(handleReleasesTotal.WithLabelValues("probe")); got != 1 {
		t.Errorf("probe releases = %f, want 1", got)
	}
}

func TestPlaybackCounters(t *testing.T) {
	playbackStartsTotal.Reset()
	playbackTransitionsTotal.Reset()

	RecordPlaybackStart("success")
	RecordPlaybackStart("failed")
	RecordStartRetry()
	RecordTransition("idle", "loading")
	RecordProbe("timeout", 5)
	RecordEviction("put")

	if got := testutil.ToFloat64(playbackStartsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed starts = %f, want 1", got)
	}
	if got := testutil.ToFloat64(playbackTransitionsTotal.WithLabelValues("idle", "loading")); got != 1 {
		t.Errorf("idle->loading = %f, want 1", got)
	}
	if testutil.CollectAndCount(probeDuration) == 0 {
		t.Error("Expected probe observations")
	}
}

func TestExporterHandler(t *testing.T) {
	e := NewExporter("127.0.0.1:0")
	RecordCacheHit()

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "glow_audio_cache_lookups_total") {
		t.Error("metrics output should include cache lookups")
	}
	if len(Collectors()) != len(allMetrics) {
		t.Error("Collectors should expose every collector")
	}
}
