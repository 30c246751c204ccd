// Package metrics exposes Prometheus instrumentation for connection workflows,
// background tasks and realtime clients.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Workflow outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeEnqueued = "enqueued"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	Workflows       *prometheus.CounterVec
	StepDuration    *prometheus.HistogramVec
	ConnectionState *prometheus.CounterVec
	Tasks           *prometheus.CounterVec
	TaskDuration    *prometheus.HistogramVec
	RealtimeClients prometheus.Gauge
	RejectedActions *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Workflows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collect_workflows_total",
			Help: "Connection workflows by operation and outcome",
		}, []string{"operation", "outcome"}),

		StepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collect_workflow_step_duration_seconds",
			Help:    "Duration of connect workflow steps",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"step", "outcome"}),

		ConnectionState: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collect_connection_results_total",
			Help: "Konnector execution results recorded by the store",
		}, []string{"state"}),

		Tasks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collect_tasks_total",
			Help: "Background tasks processed by type and outcome",
		}, []string{"type", "outcome"}),

		TaskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collect_task_duration_seconds",
			Help:    "Background task processing time",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),

		RealtimeClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "collect_realtime_clients",
			Help: "Connected realtime websocket clients",
		}),

		RejectedActions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "collect_rejected_actions_total",
			Help: "Connection actions the reducer rejected as malformed",
		}, []string{"type"}),
	}
}

// RecordWorkflow counts a finished or enqueued workflow.
func (m *Metrics) RecordWorkflow(operation, outcome string) {
	if m == nil {
		return
	}
	m.Workflows.WithLabelValues(operation, outcome).Inc()
}

// RecordStep observes a workflow step.
func (m *Metrics) RecordStep(step string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	m.StepDuration.WithLabelValues(step, outcome).Observe(d.Seconds())
}

// RecordResult counts a konnector result.
func (m *Metrics) RecordResult(state string) {
	if m == nil {
		return
	}
	m.ConnectionState.WithLabelValues(state).Inc()
}

// RecordTask counts a processed background task.
func (m *Metrics) RecordTask(taskType string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	m.Tasks.WithLabelValues(taskType, outcome).Inc()
	m.TaskDuration.WithLabelValues(taskType).Observe(d.Seconds())
}

// RealtimeConnected tracks websocket clients.
func (m *Metrics) RealtimeConnected(delta int) {
	if m == nil {
		return
	}
	m.RealtimeClients.Add(float64(delta))
}

// RecordRejectedAction counts a malformed connection action.
func (m *Metrics) RecordRejectedAction(actionType string) {
	if m == nil {
		return
	}
	m.RejectedActions.WithLabelValues(actionType).Inc()
}
