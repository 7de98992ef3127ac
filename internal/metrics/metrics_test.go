package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCleanupRun("ok", time.Second)
		m.TaskStarted()
		m.TaskFinished()
		m.MessagesDeleted("bulk", 3)
		m.DeleteFailed("single")
		m.BackupEnqueued()
		m.DownloadFailed()
		m.RecordUpload("success")
		m.SetQueueCounts(map[string]int{"pending": 1})
	})
}

func TestMetrics_Counters(t *testing.T) {
	m := New("sweepbot", prometheus.NewRegistry())

	m.MessagesDeleted("bulk", 3)
	m.MessagesDeleted("bulk", 2)
	m.MessagesDeleted("single", 0)
	m.RecordUpload("failure")
	m.SetQueueCounts(map[string]int{"pending": 4, "failed": 1})

	assert.Equal(t, 5.0, testutil.ToFloat64(m.messagesDeleted.WithLabelValues("bulk")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("failure")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.queueEntries.WithLabelValues("pending")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New("sweepbot", nil)
	m.BackupEnqueued()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "sweepbot_backups_enqueued_total 1"))
}
