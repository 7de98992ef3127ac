// Package metrics exposes Prometheus collectors for the cleanup pipeline and
// the backup worker. All methods are safe to call on a nil *Metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered for one process.
type Metrics struct {
	gatherer         prometheus.Gatherer
	cleanupRuns      *prometheus.CounterVec
	cleanupDuration  prometheus.Histogram
	tasksRunning     prometheus.Gauge
	messagesDeleted  *prometheus.CounterVec
	deleteFailures   *prometheus.CounterVec
	backupsEnqueued  prometheus.Counter
	downloadFailures prometheus.Counter
	uploads          *prometheus.CounterVec
	queueEntries     *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh registry so tests can create several instances.
func New(namespace string, reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		gatherer: reg,
		cleanupRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_runs_total",
				Help:      "Cleanup passes by result: ok, error, cancelled",
			},
			[]string{"result"},
		),
		cleanupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cleanup_run_duration_seconds",
				Help:      "Duration of one cleanup pass for one channel",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		tasksRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cleanup_tasks_running",
				Help:      "Number of channels with a cleanup pass in flight",
			},
		),
		messagesDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_deleted_total",
				Help:      "Messages deleted, by mode: bulk, single, after_backup",
			},
			[]string{"mode"},
		),
		deleteFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "message_delete_failures_total",
				Help:      "Failed delete calls, by mode",
			},
			[]string{"mode"},
		),
		backupsEnqueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backups_enqueued_total",
				Help:      "Downloaded files added to the backup queue",
			},
		),
		downloadFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "media_download_failures_total",
				Help:      "Messages whose media could not be downloaded",
			},
		),
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_total",
				Help:      "Upload attempts by result: success, failure, missing",
			},
			[]string{"result"},
		),
		queueEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "backup_queue_entries",
				Help:      "Backup queue entries by status",
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(
		m.cleanupRuns,
		m.cleanupDuration,
		m.tasksRunning,
		m.messagesDeleted,
		m.deleteFailures,
		m.backupsEnqueued,
		m.downloadFailures,
		m.uploads,
		m.queueEntries,
	)

	return m
}

// RecordCleanupRun records the outcome and duration of one cleanup pass.
func (m *Metrics) RecordCleanupRun(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.cleanupRuns.WithLabelValues(result).Inc()
	m.cleanupDuration.Observe(duration.Seconds())
}

// TaskStarted increments the running-task gauge.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.tasksRunning.Inc()
}

// TaskFinished decrements the running-task gauge.
func (m *Metrics) TaskFinished() {
	if m == nil {
		return
	}
	m.tasksRunning.Dec()
}

// MessagesDeleted adds n deleted messages for mode.
func (m *Metrics) MessagesDeleted(mode string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.messagesDeleted.WithLabelValues(mode).Add(float64(n))
}

// DeleteFailed counts one failed delete call for mode.
func (m *Metrics) DeleteFailed(mode string) {
	if m == nil {
		return
	}
	m.deleteFailures.WithLabelValues(mode).Inc()
}

// BackupEnqueued counts one file added to the backup queue.
func (m *Metrics) BackupEnqueued() {
	if m == nil {
		return
	}
	m.backupsEnqueued.Inc()
}

// DownloadFailed counts one message whose media download failed.
func (m *Metrics) DownloadFailed() {
	if m == nil {
		return
	}
	m.downloadFailures.Inc()
}

// RecordUpload counts one upload attempt by result.
func (m *Metrics) RecordUpload(result string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
}

// SetQueueCounts sets the backup queue gauge for each status.
func (m *Metrics) SetQueueCounts(counts map[string]int) {
	if m == nil {
		return
	}
	for status, n := range counts {
		m.queueEntries.WithLabelValues(status).Set(float64(n))
	}
}

// Handler returns the HTTP handler serving the registered collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
