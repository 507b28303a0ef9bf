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

	StageAdvances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_advances_total",
			Help: "Stages completed successfully, by the stage that was left",
		},
		[]string{"stage"},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_failures_total",
			Help: "Failed stage attempts by stage and failure class",
		},
		[]string{"stage", "class"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Wall time of one stage attempt",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	TransactionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_transactions_finished_total",
			Help: "Transactions reaching a terminal status",
		},
		[]string{"kind", "status"},
	)

	LockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_lock_contention_total",
			Help: "Processing attempts rejected because another worker held the transaction",
		},
	)

	ResolverDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_decisions_total",
			Help: "Entity resolution outcomes by entity kind",
		},
		[]string{"kind", "decision"},
	)

	RatingStrategyUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rating_strategy_used_total",
			Help: "Rating attempts by strategy",
		},
		[]string{"strategy"},
	)
)
