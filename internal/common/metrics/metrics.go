// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	// MergePairs counts evaluated (row, rule) pairs by outcome: sent, failed or skipped.
	MergePairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailmerge_pairs_total",
			Help: "Mail-merge pairs by topic and outcome",
		},
		[]string{"topic", "outcome"},
	)

	MergeStageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailmerge_stage_failures_total",
			Help: "Failed pairs by pipeline stage and error code",
		},
		[]string{"stage", "error_code"},
	)

	StatusWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailmerge_status_write_failures_total",
			Help: "Outcome cells that could not be written back",
		},
	)

	// LedgerTransactions counts fetched transactions by result: appended or duplicate.
	LedgerTransactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Ledger transactions seen by the ingestor",
		},
		[]string{"result"},
	)
)
