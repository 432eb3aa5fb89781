package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for dispatch
type Metrics struct {
	// Run metrics
	Runs        *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
	PlanTasks   prometheus.Histogram
	PlanLayers  prometheus.Histogram
	PlanRejects *prometheus.CounterVec

	// Task metrics
	Tasks          *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
	TaskAttempts   *prometheus.CounterVec
	WorkerTimeouts *prometheus.CounterVec
	InFlight       prometheus.Gauge

	// Context assembly metrics
	EnvelopeTokens *prometheus.HistogramVec
	BudgetExceeded *prometheus.CounterVec

	// Validation metrics
	Verdicts   *prometheus.CounterVec
	Redactions *prometheus.CounterVec

	// Evaluation metrics
	EvaluationScore *prometheus.HistogramVec

	// Audit metrics
	AuditEvents      *prometheus.CounterVec
	AuditWriteErrors prometheus.Counter

	// Error metrics (by error code from structured errors)
	Errors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_runs_total",
				Help: "Total number of runs by final status",
			},
			[]string{"status"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_run_duration_seconds",
				Help:    "Run duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"mode"},
		),
		PlanTasks: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dispatch_plan_tasks",
				Help:    "Number of tasks per compiled plan",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
			},
		),
		PlanLayers: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dispatch_plan_layers",
				Help:    "Number of execution layers per compiled plan",
				Buckets: []float64{1, 2, 3, 4, 6, 8, 12},
			},
		),
		PlanRejects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_plan_rejects_total",
				Help: "Total number of plans rejected at compile time",
			},
			[]string{"kind"},
		),

		Tasks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_tasks_total",
				Help: "Total number of settled tasks by final state",
			},
			[]string{"capability", "state"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_task_duration_seconds",
				Help:    "Task duration in seconds across all attempts",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"capability"},
		),
		TaskAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_task_attempts_total",
				Help: "Total number of worker invocations by outcome",
			},
			[]string{"capability", "outcome"},
		),
		WorkerTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_worker_timeouts_total",
				Help: "Total number of worker invocations that hit the task timeout",
			},
			[]string{"capability"},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dispatch_worker_invocations_in_flight",
				Help: "Number of worker invocations currently running",
			},
		),

		EnvelopeTokens: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_envelope_tokens",
				Help:    "Estimated tokens consumed per envelope section",
				Buckets: []float64{16, 64, 256, 512, 1024, 2048, 4096, 8192},
			},
			[]string{"section"},
		),
		BudgetExceeded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_budget_exceeded_total",
				Help: "Total number of envelopes rejected for exceeding the budget",
			},
			[]string{"section"},
		),

		Verdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_verdicts_total",
				Help: "Total number of validation verdicts",
			},
			[]string{"passed", "policy_id", "severity"},
		),
		Redactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_redactions_total",
				Help: "Total number of redacted spans by pattern",
			},
			[]string{"policy_id"},
		),

		EvaluationScore: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_evaluation_score",
				Help:    "Evaluation score of executed tasks",
				Buckets: []float64{20, 40, 50, 60, 70, 80, 90, 100},
			},
			[]string{"capability"},
		),

		AuditEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_audit_events_total",
				Help: "Total number of audit events written",
			},
			[]string{"event_type"},
		),
		AuditWriteErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dispatch_audit_write_errors_total",
				Help: "Total number of failed audit writes",
			},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatch_errors_total",
				Help: "Total number of errors by error code",
			},
			[]string{"error_code", "component"},
		),
	}
}

// RecordRun records the outcome of one run.
func (m *Metrics) RecordRun(mode, status string, d time.Duration) {
	m.Runs.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordPlan records the shape of a compiled plan.
func (m *Metrics) RecordPlan(tasks, layers int) {
	m.PlanTasks.Observe(float64(tasks))
	m.PlanLayers.Observe(float64(layers))
}

// RecordTask records a settled task.
func (m *Metrics) RecordTask(capability, state string, d time.Duration) {
	m.Tasks.WithLabelValues(capability, state).Inc()
	m.TaskDuration.WithLabelValues(capability).Observe(d.Seconds())
}

// RecordAttempt records one worker invocation. outcome is ok, error or timeout.
func (m *Metrics) RecordAttempt(capability, outcome string) {
	m.TaskAttempts.WithLabelValues(capability, outcome).Inc()
	if outcome == "timeout" {
		m.WorkerTimeouts.WithLabelValues(capability).Inc()
	}
}

// RecordVerdict records a validation verdict and its redactions.
func (m *Metrics) RecordVerdict(passed bool, policyID, severity string, redactionIDs []string) {
	p := "false"
	if passed {
		p = "true"
	}
	m.Verdicts.WithLabelValues(p, policyID, severity).Inc()
	for _, id := range redactionIDs {
		m.Redactions.WithLabelValues(id).Inc()
	}
}

// RecordError counts a coded error.
func (m *Metrics) RecordError(code, component string) {
	if code == "" {
		code = "uncoded"
	}
	m.Errors.WithLabelValues(code, component).Inc()
}
