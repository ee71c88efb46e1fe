package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics

	require.NotPanics(t, func() {
		m.RecordOutcome("b", "completed", 100, time.Second)
		m.SetQueueDepth("pending", 5)
		m.SetActiveWorkers("b", 2)
		m.RecordScan("b", 10)
	})
	assert.NotNil(t, m.Handler())
}

func TestMetricsExposition(t *testing.T) {
	m := New()

	m.RecordOutcome("photos", "completed", 1024, 250*time.Millisecond)
	m.RecordOutcome("photos", "conflict", 0, 10*time.Millisecond)
	m.RecordOutcome("photos", "integrity_error", 512, time.Second)
	m.SetQueueDepth("pending", 42)
	m.SetActiveWorkers("photos", 3)
	m.RecordScan("photos", 7)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, `mirrorq_files_completed_total{bucket="photos"} 1`)
	assert.Contains(t, body, `mirrorq_conflicts_total{bucket="photos"} 1`)
	assert.Contains(t, body, `mirrorq_files_errored_total{bucket="photos"} 1`)
	assert.Contains(t, body, `mirrorq_bytes_copied_total{bucket="photos"} 1536`)
	assert.Contains(t, body, `mirrorq_queue_depth{status="pending"} 42`)
	assert.Contains(t, body, `mirrorq_active_workers{bucket="photos"} 3`)
	assert.Contains(t, body, `mirrorq_files_queued_total{bucket="photos"} 7`)
}
