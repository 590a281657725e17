// Package metrics exposes Prometheus counters, gauges, and histograms for
// the incident core, the Record*/Set*/Increment*/Decrement* helpers that
// update them, and the HTTP server that serves them at /metrics. No package
// outside metrics calls those helpers, so the pipeline itself does not
// update any of these series.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IncidentsReceivedTotal counts every Alert IncidentCoordinator.Handle
	// accepted (a duplicate submission does not increment this).
	IncidentsReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "incident_core_incidents_received_total",
		Help: "Total incidents accepted by the coordinator.",
	})

	// IncidentsByStatusTotal breaks down terminal Results by status.
	IncidentsByStatusTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incident_core_incidents_by_status_total",
		Help: "Total incidents reaching each terminal status.",
	}, []string{"status"})

	// IncidentsInFlight is the current number of non-terminal incidents.
	IncidentsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "incident_core_incidents_in_flight",
		Help: "Incidents currently being handled.",
	})

	// ActionsExecutedTotal counts successful adapter ExecuteAction calls by
	// action kind (§4.8).
	ActionsExecutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incident_core_actions_executed_total",
		Help: "Resolution actions executed, by action kind.",
	}, []string{"action"})

	// ActionExecutionErrorsTotal counts ExecuteAction failures by action kind
	// and a coarse error category.
	ActionExecutionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incident_core_action_execution_errors_total",
		Help: "Resolution action execution failures, by action kind and error type.",
	}, []string{"action", "error_type"})

	// ActionDuration records how long each executed action's ExecuteAction
	// call took, by action kind.
	ActionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "incident_core_action_duration_seconds",
		Help:    "Duration of adapter ExecuteAction calls, by action kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// GateDecisionsTotal counts CommandGate.Evaluate outcomes (§4.3/§4.8).
	GateDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incident_core_gate_decisions_total",
		Help: "CommandGate decisions, by outcome (execute/refused/approval_required/circuit_open).",
	}, []string{"decision"})

	// ApprovalsTotal counts ApprovalRequest resolutions by outcome.
	ApprovalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incident_core_approvals_total",
		Help: "Approval requests resolved, by outcome (approved/rejected/expired).",
	}, []string{"outcome"})

	// CircuitBreakerState mirrors one breaker's current CircuitState as a
	// gauge (0=closed, 1=half_open, 2=open), labeled by breaker name.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "incident_core_circuit_breaker_state",
		Help: "Current CircuitBreaker state (0=closed, 1=half_open, 2=open), by breaker name.",
	}, []string{"breaker"})

	// LLMCallsTotal counts LLMClient.Generate invocations by provider.
	LLMCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incident_core_llm_calls_total",
		Help: "LLM Generate calls issued, by provider.",
	}, []string{"provider"})

	// LLMCallErrorsTotal counts LLMClient.Generate failures by provider and
	// error type (e.g. "circuit_open").
	LLMCallErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incident_core_llm_call_errors_total",
		Help: "LLM Generate call failures, by provider and error type.",
	}, []string{"provider", "error_type"})

	// LLMAnalysisDuration records the narrative-generation call latency.
	LLMAnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "incident_core_llm_analysis_duration_seconds",
		Help:    "Duration of the per-incident LLM narrative call.",
		Buckets: prometheus.DefBuckets,
	})

	// BackendContextFetchesTotal counts FetchContext attempts by backend
	// name and outcome (success/error), per §3's ContextBundle invariant.
	BackendContextFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incident_core_backend_context_fetches_total",
		Help: "FetchContext attempts, by backend and outcome.",
	}, []string{"backend", "outcome"})
)

// RecordIncidentReceived increments IncidentsReceivedTotal.
func RecordIncidentReceived() {
	IncidentsReceivedTotal.Inc()
}

// RecordIncidentTerminal records one incident reaching status.
func RecordIncidentTerminal(status string) {
	IncidentsByStatusTotal.WithLabelValues(status).Inc()
}

// IncrementIncidentsInFlight marks one more incident as in flight.
func IncrementIncidentsInFlight() { IncidentsInFlight.Inc() }

// DecrementIncidentsInFlight marks one incident as no longer in flight.
func DecrementIncidentsInFlight() { IncidentsInFlight.Dec() }

// RecordAction increments ActionsExecutedTotal and observes duration for
// action.
func RecordAction(action string, duration time.Duration) {
	ActionsExecutedTotal.WithLabelValues(action).Inc()
	ActionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordActionError increments ActionExecutionErrorsTotal for action.
func RecordActionError(action, errorType string) {
	ActionExecutionErrorsTotal.WithLabelValues(action, errorType).Inc()
}

// RecordGateDecision increments GateDecisionsTotal for decision.
func RecordGateDecision(decision string) {
	GateDecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordApproval increments ApprovalsTotal for outcome.
func RecordApproval(outcome string) {
	ApprovalsTotal.WithLabelValues(outcome).Inc()
}

// circuitStateValue maps a CircuitState name onto the gauge's numeric scale.
var circuitStateValue = map[string]float64{
	"closed":    0,
	"half_open": 1,
	"open":      2,
}

// SetCircuitBreakerState sets breaker's gauge to state's numeric value.
// Unrecognized state names are ignored.
func SetCircuitBreakerState(breaker, state string) {
	v, ok := circuitStateValue[state]
	if !ok {
		return
	}
	CircuitBreakerState.WithLabelValues(breaker).Set(v)
}

// RecordLLMCall increments LLMCallsTotal for provider.
func RecordLLMCall(provider string) {
	LLMCallsTotal.WithLabelValues(provider).Inc()
}

// RecordLLMCallError increments LLMCallErrorsTotal for provider/errorType.
func RecordLLMCallError(provider, errorType string) {
	LLMCallErrorsTotal.WithLabelValues(provider, errorType).Inc()
}

// RecordLLMAnalysis observes one narrative call's duration.
func RecordLLMAnalysis(duration time.Duration) {
	LLMAnalysisDuration.Observe(duration.Seconds())
}

// RecordContextFetch increments BackendContextFetchesTotal for backend,
// outcome being "success" or "error".
func RecordContextFetch(backend string, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	BackendContextFetchesTotal.WithLabelValues(backend, outcome).Inc()
}

// Timer measures elapsed wall time from its creation and reports it through
// one of the Record* helpers above.
type Timer struct {
	start time.Time
}

// NewTimer starts a new Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the Timer was created.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// RecordAction reports the Timer's elapsed time via RecordAction.
func (t *Timer) RecordAction(action string) {
	RecordAction(action, t.Elapsed())
}

// RecordLLMAnalysis reports the Timer's elapsed time via RecordLLMAnalysis.
func (t *Timer) RecordLLMAnalysis() {
	RecordLLMAnalysis(t.Elapsed())
}
