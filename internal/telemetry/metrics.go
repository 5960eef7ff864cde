package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counter/gauge/histogram sink for the core. Every
// terminal failure increments ErrorsTotal tagged with its error class.
type Metrics struct {
	registry *prometheus.Registry

	// Attribution
	EventsIngested  prometheus.Counter
	IngestConflicts prometheus.Counter
	ROICalculations *prometheus.CounterVec

	// Matchmaking
	MatchesScored  prometheus.Counter
	RecalcFanouts  *prometheus.CounterVec

	// Scheduler
	JobExecutions        *prometheus.CounterVec
	JobExecutionDuration *prometheus.HistogramVec
	JobQueueDepth        prometheus.Gauge

	// Automation
	ETLHealthStatus *prometheus.GaugeVec
	AutomationRuns  *prometheus.CounterVec

	// Errors by class
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the full metric set on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		EventsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attribution_events_ingested_total",
			Help: "Total attribution events ingested",
		}),
		IngestConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attribution_ingest_conflicts_total",
			Help: "Ingest upserts that hit an existing event_id",
		}),
		ROICalculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roi_calculations_total",
			Help: "ROI calculations by method",
		}, []string{"method"}),
		MatchesScored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchmaking_scores_total",
			Help: "Total advertiser/podcast pairs scored",
		}),
		RecalcFanouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchmaking_recalc_fanouts_total",
			Help: "Match recalculation fanouts by mode",
		}, []string{"mode"}),
		JobExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "job_executions_total",
			Help: "Job executions reaching a terminal status",
		}, []string{"job", "status"}),
		JobExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "job_execution_duration_seconds",
			Help:    "Wall time of job executions by terminal status",
			Buckets: prometheus.DefBuckets,
		}, []string{"job", "status"}),
		JobQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "job_queue_depth",
			Help: "Executions waiting in the scheduler queue",
		}),
		ETLHealthStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "etl_health_status",
			Help: "ETL health per tenant: 1 healthy, 0.5 degraded, 0 unhealthy",
		}, []string{"tenant"}),
		AutomationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automation_runs_total",
			Help: "Automation job runs by job and outcome",
		}, []string{"job", "outcome"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Terminal failures by error class",
		}, []string{"class"}),
	}

	reg.MustRegister(
		m.EventsIngested, m.IngestConflicts, m.ROICalculations,
		m.MatchesScored, m.RecalcFanouts,
		m.JobExecutions, m.JobExecutionDuration, m.JobQueueDepth,
		m.ETLHealthStatus, m.AutomationRuns, m.ErrorsTotal,
	)
	return m
}

// Gatherer exposes the registry for the /metrics endpoint.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// Registerer exposes the registry for collaborator packages.
func (m *Metrics) Registerer() prometheus.Registerer { return m.registry }
