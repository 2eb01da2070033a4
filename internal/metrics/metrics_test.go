package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(CacheHits.WithLabelValues("metrics_test"))
	misses := testutil.ToFloat64(CacheMisses.WithLabelValues("metrics_test"))

	RecordCacheLookup("metrics_test", true)
	RecordCacheLookup("metrics_test", false)
	RecordCacheLookup("metrics_test", false)

	assert.InDelta(t, hits+1, testutil.ToFloat64(CacheHits.WithLabelValues("metrics_test")), 0.001)
	assert.InDelta(t, misses+2, testutil.ToFloat64(CacheMisses.WithLabelValues("metrics_test")), 0.001)
}

func TestRecordJob(t *testing.T) {
	before := testutil.ToFloat64(JobsProcessed.WithLabelValues("metrics_test", "failed"))

	RecordJob("metrics_test", "failed", 50*time.Millisecond)

	assert.InDelta(t, before+1, testutil.ToFloat64(JobsProcessed.WithLabelValues("metrics_test", "failed")), 0.001)
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequests.WithLabelValues("/metrics_test", "GET", "200"))

	RecordAPIRequest("/metrics_test", "GET", "200", 10*time.Millisecond)

	assert.InDelta(t, before+1, testutil.ToFloat64(APIRequests.WithLabelValues("/metrics_test", "GET", "200")), 0.001)
}
