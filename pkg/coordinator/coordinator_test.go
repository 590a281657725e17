package coordinator_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncallops/incident-core/internal/config"
	"github.com/oncallops/incident-core/pkg/adapters"
	"github.com/oncallops/incident-core/pkg/circuitbreaker"
	"github.com/oncallops/incident-core/pkg/coordinator"
	"github.com/oncallops/incident-core/pkg/eventbus"
	"github.com/oncallops/incident-core/pkg/executor"
	"github.com/oncallops/incident-core/pkg/gate"
	"github.com/oncallops/incident-core/pkg/types"
)

// fakeK8s is a minimal in-memory kubernetes-shaped BackendAdapter double.
type fakeK8s struct {
	healthy     bool
	fetchErr    error
	previewText string
	executed    []string
	blockOnCh   chan struct{} // if set, FetchContext blocks until this closes

	mu             sync.Mutex
	requestedKinds []string // FetchContext kinds requested, guarded by mu
}

func (f *fakeK8s) Name() string                    { return "kubernetes" }
func (f *fakeK8s) Connect(context.Context) error   { return nil }
func (f *fakeK8s) Disconnect(context.Context) error { return nil }
func (f *fakeK8s) HealthCheck(context.Context) bool { return f.healthy }
func (f *fakeK8s) Capabilities() adapters.Capabilities {
	return adapters.Capabilities{ContextKinds: []string{"pods"}, ActionKinds: []string{"restart_pod"}}
}

func (f *fakeK8s) FetchContext(ctx context.Context, kind string, _ map[string]interface{}) (json.RawMessage, error) {
	f.mu.Lock()
	f.requestedKinds = append(f.requestedKinds, kind)
	f.mu.Unlock()

	if f.blockOnCh != nil {
		select {
		case <-f.blockOnCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if kind == "logs" {
		return json.RawMessage(`{"logs":"Out of memory: Killed process"}`), nil
	}
	return json.RawMessage(`{"pods":1}`), nil
}

func (f *fakeK8s) requestedKindsSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requestedKinds))
	copy(out, f.requestedKinds)
	return out
}

func (f *fakeK8s) PreviewCommand(_ context.Context, kind string, _ map[string]interface{}) (string, error) {
	if f.previewText != "" {
		return f.previewText, nil
	}
	return "kubectl get pods -n default", nil
}

func (f *fakeK8s) ExecuteAction(_ context.Context, kind string, _ map[string]interface{}) (adapters.ActionResult, error) {
	f.executed = append(f.executed, kind)
	return adapters.ActionResult{Data: map[string]interface{}{"kind": kind}}, nil
}

func (f *fakeK8s) Verify(context.Context, string, map[string]interface{}, time.Duration) types.VerificationResult {
	return types.VerificationResult{Verified: true}
}

// fakeLLM is a canned-response llm.Client double.
type fakeLLM struct {
	text string
	err  error
}

func (f *fakeLLM) Generate(context.Context, string, int) (string, error) {
	return f.text, f.err
}

func newCoordinator(t *testing.T, k8s *fakeK8s, bus *eventbus.Bus, llmClient *fakeLLM) *coordinator.Coordinator {
	t.Helper()
	breaker := circuitbreaker.New("test-exec", config.CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 1}, nil)
	g := gate.New(nil, time.Second)
	backends := map[string]adapters.BackendAdapter{"kubernetes": k8s}
	exec := executor.New(backends, g, breaker, bus, config.ExecutorConfig{})

	var client interface {
		Generate(context.Context, string, int) (string, error)
	}
	if llmClient != nil {
		client = llmClient
	}

	return coordinator.New(coordinator.Config{
		Bus:                bus,
		Adapters:           backends,
		GatherDeadline:     2 * time.Second,
		LLM:                client,
		LLMTimeout:         2 * time.Second,
		LLMMaxTokens:       256,
		Executor:           exec,
		DestructiveEnabled: false,
	})
}

func podCrashAlert(id string) types.Alert {
	return types.Alert{
		ID:          id,
		Service:     "checkout",
		Severity:    types.SeverityHigh,
		Description: "pod checkout-abc is crash looping",
		Timestamp:   time.Now(),
		Metadata:    map[string]interface{}{"namespace": "default", "pod": "checkout-abc", "deployment": "checkout"},
	}
}

func TestHandle_PlanModeNeverExecutesAndReturnsAnalyzed(t *testing.T) {
	k8s := &fakeK8s{healthy: true}
	co := newCoordinator(t, k8s, nil, &fakeLLM{text: "summary"})

	result := co.Handle(context.Background(), podCrashAlert("inc-plan-1"), types.ModePlan)

	assert.Equal(t, types.StatusAnalyzed, result.Status)
	assert.NotEmpty(t, result.Plan)
	assert.Empty(t, k8s.executed)
	for _, r := range result.Records {
		assert.False(t, r.Executed)
	}
}

func TestHandle_AutoModeExecutesLowRiskPlan(t *testing.T) {
	k8s := &fakeK8s{healthy: true, previewText: "get pods -n default"}
	co := newCoordinator(t, k8s, nil, &fakeLLM{text: "summary"})

	result := co.Handle(context.Background(), podCrashAlert("inc-auto-1"), types.ModeAuto)

	assert.Equal(t, types.StatusAnalyzedAndExecuted, result.Status)
	assert.NotEmpty(t, k8s.executed)
	assert.Equal(t, result.ExecutionSummary.ActionsExecuted, result.ExecutionSummary.ActionsSuccessful)
}

func TestHandle_DuplicateSubmissionWhileInFlightIsRejectedWithoutSideEffects(t *testing.T) {
	block := make(chan struct{})
	k8s := &fakeK8s{healthy: true, blockOnCh: block}
	co := newCoordinator(t, k8s, nil, &fakeLLM{text: "summary"})

	alert := podCrashAlert("inc-dup-1")

	var wg sync.WaitGroup
	var first types.Result
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = co.Handle(context.Background(), alert, types.ModePlan)
	}()

	// Give the first Handle time to register as in-flight before the blocked
	// FetchContext call releases.
	time.Sleep(50 * time.Millisecond)
	second := co.Handle(context.Background(), alert, types.ModePlan)
	close(block)
	wg.Wait()

	assert.Equal(t, types.StatusDuplicate, second.Status)
	assert.Empty(t, second.Records)
	assert.NotEqual(t, types.StatusDuplicate, first.Status)
}

func TestHandle_LLMFailureDegradesButStillPlansAndExecutes(t *testing.T) {
	k8s := &fakeK8s{healthy: true, previewText: "get pods -n default"}
	co := newCoordinator(t, k8s, nil, &fakeLLM{err: assertErr("llm unavailable")})

	result := co.Handle(context.Background(), podCrashAlert("inc-llm-fail"), types.ModeAuto)

	assert.Empty(t, result.Analysis)
	assert.NotEmpty(t, result.Plan)
	assert.Equal(t, types.StatusAnalyzedAndExecuted, result.Status)
}

func TestHandle_UnhealthyBackendIsNeverAttempted(t *testing.T) {
	k8s := &fakeK8s{healthy: false}
	bus := eventbus.New(nil, 10, 50)
	co := newCoordinator(t, k8s, bus, nil)

	result := co.Handle(context.Background(), podCrashAlert("inc-unhealthy-1"), types.ModePlan)

	// kubernetes was never attempted, so context gathering contributed
	// nothing; the planner degrades to its context-independent defaults
	// rather than failing the incident.
	assert.Equal(t, types.StatusAnalyzed, result.Status)
}

func TestHandle_EmitsReceivedFirstAndExactlyOneTerminalEventLast(t *testing.T) {
	k8s := &fakeK8s{healthy: true, previewText: "get pods -n default"}
	bus := eventbus.New(nil, 100, 100)
	sub := bus.Subscribe("inc-trace-1")
	co := newCoordinator(t, k8s, bus, &fakeLLM{text: "summary"})

	co.Handle(context.Background(), podCrashAlert("inc-trace-1"), types.ModeAuto)

	var events []types.Event
drain:
	for {
		select {
		case e := <-sub.Events:
			events = append(events, e)
		default:
			break drain
		}
	}

	require.NotEmpty(t, events)
	assert.Equal(t, types.StageReceived, events[0].Stage)

	terminalCount := 0
	last := events[len(events)-1]
	for _, e := range events {
		if e.Stage == types.StageComplete || e.Stage == types.StageFailed {
			terminalCount++
		}
	}
	assert.Equal(t, 1, terminalCount)
	assert.Contains(t, []types.Stage{types.StageComplete, types.StageFailed}, last.Stage)

	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.Before(events[i-1].Timestamp), "events must be monotonically timestamped")
	}
}

func TestHandle_InvalidAlertIsRejectedWithoutRunningThePipeline(t *testing.T) {
	bus := eventbus.New(nil, 10, 10)
	k8s := &fakeK8s{healthy: true}
	co := newCoordinator(t, k8s, bus, &fakeLLM{})

	invalid := types.Alert{ID: "inc-invalid-1"} // missing severity/service/description/timestamp
	result := co.Handle(context.Background(), invalid, types.ModePlan)

	assert.Equal(t, types.StatusRejected, result.Status)
	assert.Empty(t, k8s.executed)

	// A second call with the same id must not be treated as a duplicate: a
	// rejected alert was never admitted to the in-flight set.
	result2 := co.Handle(context.Background(), invalid, types.ModePlan)
	assert.Equal(t, types.StatusRejected, result2.Status)
}

// pod_crash alerts must pull the crashing pod's own logs, not just the pod
// list: the planner's OOM/config signals (pkg/planner/signals.go) only fire
// off a "logs" bundle entry, which the default context requests never issued.
func TestHandle_PodCrashAlsoFetchesLogs(t *testing.T) {
	k8s := &fakeK8s{healthy: true, previewText: "get pods -n default"}
	co := newCoordinator(t, k8s, nil, &fakeLLM{text: "summary"})

	co.Handle(context.Background(), podCrashAlert("inc-logs-1"), types.ModePlan)

	kinds := k8s.requestedKindsSnapshot()
	assert.Contains(t, kinds, "pods")
	assert.Contains(t, kinds, "logs")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
