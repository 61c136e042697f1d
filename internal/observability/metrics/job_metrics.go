package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	JobErrorTypeDeadlineExceeded = "deadline_exceeded"
	JobErrorTypeDB               = "db"
	JobErrorTypeBusinessRule     = "business_rule"
	JobErrorTypeUnknown          = "unknown"
)

// JobMetrics captures reconciliation scheduler health signals.
type JobMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	anomaliesFound *prometheus.CounterVec
	runLoopLag     prometheus.Observer
	dbLockWait     *prometheus.HistogramVec
}

var (
	jobMetricsOnce sync.Once
	jobMetrics     *JobMetrics
)

// Jobs returns the singleton job metrics registry.
func Jobs() *JobMetrics {
	jobMetricsOnce.Do(func() {
		jobMetrics = newJobMetrics(prometheus.DefaultRegisterer)
	})
	return jobMetrics
}

// ResetJobMetricsForTest resets the job metrics singleton for tests.
func ResetJobMetricsForTest() {
	jobMetricsOnce = sync.Once{}
	jobMetrics = nil
}

func newJobMetrics(registerer prometheus.Registerer) *JobMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kirimaja_job_runs_total",
		Help: "Background job runs by name.",
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kirimaja_job_duration_seconds",
		Help:    "Background job latency to keep reconciliation within its window.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kirimaja_job_timeouts_total",
		Help: "Background job timeouts.",
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kirimaja_job_errors_total",
		Help: "Background job errors by low-cardinality type.",
	}, []string{"job", "error_type"})
	anomaliesFound := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kirimaja_job_anomalies_total",
		Help: "Reconciliation anomalies raised per run, by severity.",
	}, []string{"job", "severity"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kirimaja_job_runloop_lag_seconds",
		Help:    "Scheduler run loop lag beyond the configured interval.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
	dbLockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kirimaja_db_lock_wait_seconds",
		Help:    "DB lock wait time for row-level aggregate locks.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"resource"})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		anomaliesFound,
		runLoopLag,
		dbLockWait,
	)

	return &JobMetrics{
		jobRuns:        jobRuns,
		jobDuration:    jobDuration,
		jobTimeouts:    jobTimeouts,
		jobErrors:      jobErrors,
		anomaliesFound: anomaliesFound,
		runLoopLag:     runLoopLag,
		dbLockWait:     dbLockWait,
	}
}

func (m *JobMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *JobMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *JobMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *JobMetrics) IncJobError(job string, errorType string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, errorType).Inc()
}

func (m *JobMetrics) IncAnomaly(job string, severity string) {
	if m == nil {
		return
	}
	m.anomaliesFound.WithLabelValues(job, severity).Inc()
}

func (m *JobMetrics) ObserveRunLoopLag(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.runLoopLag.Observe(d.Seconds())
}

func (m *JobMetrics) ObserveDBLockWait(resource string, d time.Duration) {
	if m == nil {
		return
	}
	m.dbLockWait.WithLabelValues(resource).Observe(d.Seconds())
}

// ClassifyJobError maps an error to a low-cardinality type label.
func ClassifyJobError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return JobErrorTypeDeadlineExceeded
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return JobErrorTypeDB
	}
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return JobErrorTypeDB
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return JobErrorTypeDB
	}

	return JobErrorTypeUnknown
}
