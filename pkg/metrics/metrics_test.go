package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordIncidentReceived(t *testing.T) {
	initial := testutil.ToFloat64(IncidentsReceivedTotal)

	RecordIncidentReceived()
	RecordIncidentReceived()

	final := testutil.ToFloat64(IncidentsReceivedTotal)
	assert.Equal(t, initial+2.0, final)
}

func TestRecordIncidentTerminal(t *testing.T) {
	initial := testutil.ToFloat64(IncidentsByStatusTotal.WithLabelValues("analyzed_and_executed"))

	RecordIncidentTerminal("analyzed_and_executed")

	final := testutil.ToFloat64(IncidentsByStatusTotal.WithLabelValues("analyzed_and_executed"))
	assert.Equal(t, initial+1.0, final)
}

func TestIncidentsInFlightGauge(t *testing.T) {
	initial := testutil.ToFloat64(IncidentsInFlight)

	IncrementIncidentsInFlight()
	IncrementIncidentsInFlight()
	assert.Equal(t, initial+2.0, testutil.ToFloat64(IncidentsInFlight))

	DecrementIncidentsInFlight()
	assert.Equal(t, initial+1.0, testutil.ToFloat64(IncidentsInFlight))
}

func TestRecordAction(t *testing.T) {
	action := "test_restart_pod"
	initial := testutil.ToFloat64(ActionsExecutedTotal.WithLabelValues(action))

	RecordAction(action, 250*time.Millisecond)

	final := testutil.ToFloat64(ActionsExecutedTotal.WithLabelValues(action))
	assert.Equal(t, initial+1.0, final)

	metric := &dto.Metric{}
	ActionDuration.WithLabelValues(action).Write(metric)
	assert.True(t, metric.GetHistogram().GetSampleCount() > 0)
}

func TestRecordActionError(t *testing.T) {
	action, errType := "test_scale_deployment", "adapter_unavailable"
	initial := testutil.ToFloat64(ActionExecutionErrorsTotal.WithLabelValues(action, errType))

	RecordActionError(action, errType)

	final := testutil.ToFloat64(ActionExecutionErrorsTotal.WithLabelValues(action, errType))
	assert.Equal(t, initial+1.0, final)
}

func TestRecordGateDecision(t *testing.T) {
	initial := testutil.ToFloat64(GateDecisionsTotal.WithLabelValues("auto_policy_refused"))

	RecordGateDecision("auto_policy_refused")

	final := testutil.ToFloat64(GateDecisionsTotal.WithLabelValues("auto_policy_refused"))
	assert.Equal(t, initial+1.0, final)
}

func TestRecordApproval(t *testing.T) {
	initial := testutil.ToFloat64(ApprovalsTotal.WithLabelValues("expired"))

	RecordApproval("expired")

	final := testutil.ToFloat64(ApprovalsTotal.WithLabelValues("expired"))
	assert.Equal(t, initial+1.0, final)
}

func TestSetCircuitBreakerState(t *testing.T) {
	SetCircuitBreakerState("test-breaker", "open")
	assert.Equal(t, 2.0, testutil.ToFloat64(CircuitBreakerState.WithLabelValues("test-breaker")))

	SetCircuitBreakerState("test-breaker", "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(CircuitBreakerState.WithLabelValues("test-breaker")))

	// Unrecognized state names are ignored, not zeroed out.
	SetCircuitBreakerState("test-breaker", "bogus")
	assert.Equal(t, 0.0, testutil.ToFloat64(CircuitBreakerState.WithLabelValues("test-breaker")))
}

func TestRecordLLMCallAndError(t *testing.T) {
	provider := "test_claude"
	initialCalls := testutil.ToFloat64(LLMCallsTotal.WithLabelValues(provider))
	initialErrs := testutil.ToFloat64(LLMCallErrorsTotal.WithLabelValues(provider, "circuit_open"))

	RecordLLMCall(provider)
	RecordLLMCallError(provider, "circuit_open")

	assert.Equal(t, initialCalls+1.0, testutil.ToFloat64(LLMCallsTotal.WithLabelValues(provider)))
	assert.Equal(t, initialErrs+1.0, testutil.ToFloat64(LLMCallErrorsTotal.WithLabelValues(provider, "circuit_open")))
}

func TestRecordLLMAnalysis(t *testing.T) {
	RecordLLMAnalysis(2 * time.Second)

	metric := &dto.Metric{}
	LLMAnalysisDuration.Write(metric)
	assert.True(t, metric.GetHistogram().GetSampleCount() > 0)
}

func TestRecordContextFetch(t *testing.T) {
	initialOK := testutil.ToFloat64(BackendContextFetchesTotal.WithLabelValues("test_kubernetes", "success"))
	initialErr := testutil.ToFloat64(BackendContextFetchesTotal.WithLabelValues("test_kubernetes", "error"))

	RecordContextFetch("test_kubernetes", true)
	RecordContextFetch("test_kubernetes", false)

	assert.Equal(t, initialOK+1.0, testutil.ToFloat64(BackendContextFetchesTotal.WithLabelValues("test_kubernetes", "success")))
	assert.Equal(t, initialErr+1.0, testutil.ToFloat64(BackendContextFetchesTotal.WithLabelValues("test_kubernetes", "error")))
}

func TestTimer(t *testing.T) {
	timer := NewTimer()
	assert.NotNil(t, timer)
	assert.False(t, timer.start.IsZero())

	time.Sleep(10 * time.Millisecond)

	elapsed := timer.Elapsed()
	assert.True(t, elapsed >= 10*time.Millisecond)
	assert.True(t, elapsed < time.Second)
}

func TestTimerRecordAction(t *testing.T) {
	timer := NewTimer()
	action := "test_timer_action"
	initial := testutil.ToFloat64(ActionsExecutedTotal.WithLabelValues(action))

	time.Sleep(5 * time.Millisecond)
	timer.RecordAction(action)

	final := testutil.ToFloat64(ActionsExecutedTotal.WithLabelValues(action))
	assert.Equal(t, initial+1.0, final)
}

func TestTimerRecordLLMAnalysis(t *testing.T) {
	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer.RecordLLMAnalysis()

	metric := &dto.Metric{}
	LLMAnalysisDuration.Write(metric)
	assert.True(t, metric.GetHistogram().GetSampleCount() > 0)
}
