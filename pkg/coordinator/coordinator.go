// Package coordinator implements the IncidentCoordinator (§4.1): the single
// orchestrator that drives one incident from ingest to a terminal status,
// Received -> Classifying -> GatheringContext -> Analyzing -> Planning ->
// Executing -> {analyzed, analyzed_and_executed, partially_resolved,
// failed, duplicate}. Transitions are linear; there is no loop back.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sirupsen/logrus"

	"github.com/oncallops/incident-core/pkg/adapters"
	"github.com/oncallops/incident-core/pkg/classifier"
	"github.com/oncallops/incident-core/pkg/eventbus"
	"github.com/oncallops/incident-core/pkg/executor"
	"github.com/oncallops/incident-core/pkg/llm"
	"github.com/oncallops/incident-core/pkg/planner"
	"github.com/oncallops/incident-core/pkg/shared/logging"
	"github.com/oncallops/incident-core/pkg/types"
)

// contextRequest is one FetchContext call issued to a backend during
// gathering; Params is derived per-alert.
type contextRequest struct {
	adapter string
	kind    string
	params  func(types.Alert) map[string]interface{}
}

// defaultContextRequests names, for each adapter this core knows about, the
// one FetchContext kind/params shape the gathering stage issues to it by
// default. The bundle key matches the adapter name.
var defaultContextRequests = map[string]contextRequest{
	"kubernetes": {"kubernetes", "pods", func(a types.Alert) map[string]interface{} {
		return map[string]interface{}{"namespace": a.MetaString("namespace")}
	}},
	"observability": {"observability", "alerts", func(types.Alert) map[string]interface{} { return nil }},
	"sourcehosting": {"sourcehosting", "repo_info", func(types.Alert) map[string]interface{} { return nil }},
	"documentation": {"documentation", "search", func(a types.Alert) map[string]interface{} {
		return map[string]interface{}{"query": a.Description}
	}},
}

// podLogsParams targets the crashing pod's own log stream, identified by
// the alert's "namespace"/"pod" metadata.
func podLogsParams(a types.Alert) map[string]interface{} {
	return map[string]interface{}{"namespace": a.MetaString("namespace"), "name": a.MetaString("pod")}
}

// kindContextRequests names additional bundle-key -> contextRequest entries
// issued only for specific AlertKinds, on top of defaultContextRequests.
// pod_crash and oom_kill both pull the pod's logs so the planner's
// logsIndicateOOM/logsIndicateConfig signals (pkg/planner/signals.go) have
// something to read instead of always falling through to the
// restart-count-only branches.
var kindContextRequests = map[types.AlertKind]map[string]contextRequest{
	types.KindPodCrash: {"kubernetes_logs": {"kubernetes", "logs", podLogsParams}},
	types.KindOOMKill:  {"kubernetes_logs": {"kubernetes", "logs", podLogsParams}},
}

// relevantBackends maps each classified AlertKind onto the adapter names
// worth consulting for it (§4.1: "every healthy BackendAdapter deemed
// relevant for the classified kind"). documentation is relevant to every
// kind: a matching runbook helps regardless of what broke.
var relevantBackends = map[types.AlertKind][]string{
	types.KindPodCrash:         {"kubernetes", "documentation"},
	types.KindOOMKill:          {"kubernetes", "documentation"},
	types.KindImagePull:        {"kubernetes", "sourcehosting", "documentation"},
	types.KindHighMemory:       {"kubernetes", "observability", "documentation"},
	types.KindHighCPU:          {"kubernetes", "observability", "documentation"},
	types.KindServiceDown:      {"kubernetes", "observability", "documentation"},
	types.KindDeploymentFailed: {"kubernetes", "sourcehosting", "documentation"},
	types.KindNodeIssue:        {"kubernetes", "observability", "documentation"},
	types.KindUnknown:          {"kubernetes", "documentation"},
}

// Coordinator orchestrates incidents. One instance is shared process-wide
// (by composition, not a language-level global, per §9 Design Notes).
type Coordinator struct {
	bus                *eventbus.Bus
	adapters           map[string]adapters.BackendAdapter
	gatherDeadline     time.Duration
	llmClient          llm.Client
	llmTimeout         time.Duration
	llmMaxTokens       int
	executor           *executor.Executor
	destructiveEnabled bool
	log                *logrus.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// Config bundles the Coordinator's construction-time dependencies.
type Config struct {
	Bus                *eventbus.Bus
	Adapters           map[string]adapters.BackendAdapter
	GatherDeadline     time.Duration
	LLM                llm.Client
	LLMTimeout         time.Duration
	LLMMaxTokens       int
	Executor           *executor.Executor
	DestructiveEnabled bool
	Log                *logrus.Logger
}

// New constructs a Coordinator.
func New(cfg Config) *Coordinator {
	gatherDeadline := cfg.GatherDeadline
	if gatherDeadline <= 0 {
		gatherDeadline = 30 * time.Second
	}
	llmTimeout := cfg.LLMTimeout
	if llmTimeout <= 0 {
		llmTimeout = 60 * time.Second
	}
	maxTokens := cfg.LLMMaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{
		bus:                cfg.Bus,
		adapters:           cfg.Adapters,
		gatherDeadline:     gatherDeadline,
		llmClient:          cfg.LLM,
		llmTimeout:         llmTimeout,
		llmMaxTokens:       maxTokens,
		executor:           cfg.Executor,
		destructiveEnabled: cfg.DestructiveEnabled,
		log:                log,
		inFlight:           make(map[string]bool),
	}
}

// Handle drives alert through every stage and returns its terminal Result.
// A second Handle call for an alert.id already in flight returns
// StatusDuplicate without any side effect (§4.1 dedup invariant).
func (c *Coordinator) Handle(ctx context.Context, alert types.Alert, mode types.OperatingMode) types.Result {
	if err := alert.Validate(); err != nil {
		c.emit(alert.ID, types.StageReceived, types.EventError, "rejected invalid alert: "+err.Error())
		return types.Result{Status: types.StatusRejected, TraceID: alert.ID}
	}

	if !c.begin(alert.ID) {
		return types.Result{Status: types.StatusDuplicate, TraceID: alert.ID}
	}
	defer c.finish(alert.ID)

	c.emit(alert.ID, types.StageReceived, types.EventInfo, "incident received: "+alert.Description)

	c.emit(alert.ID, types.StageClassifying, types.EventInfo, "classifying")
	kind := classifier.Classify(alert.Description)
	c.emit(alert.ID, types.StageClassifying, types.EventInfo, "classified as "+string(kind))

	c.emit(alert.ID, types.StageGatheringContext, types.EventInfo, "gathering context")
	bundle := c.gatherContext(ctx, alert, kind)

	// The plan is computed ahead of the narrative step because the
	// narrative prompt references the planner's top candidate action; the
	// trace still records "analyzing" before "planning" to match the
	// documented state machine (§4.1), and the Planner itself never calls
	// the LLM (§9 Open Question: narrative-only, planner LLM-independent).
	plan := planner.Plan(alert, kind, bundle)

	c.emit(alert.ID, types.StageAnalyzing, types.EventInfo, "analyzing")
	analysis, err := c.narrate(ctx, alert, kind, bundle, plan, mode)
	if err != nil {
		c.emit(alert.ID, types.StageAnalyzing, types.EventWarning, "analyzing_failed: "+err.Error())
	}

	c.emit(alert.ID, types.StagePlanning, types.EventInfo,
		fmt.Sprintf("planning produced %d candidate action(s)", len(plan)))

	summary := types.ExecutionSummary{ActionsPlanned: len(plan)}
	var records []types.ExecutionRecord
	status := types.StatusAnalyzed

	if len(plan) > 0 {
		c.emit(alert.ID, types.StageExecuting, types.EventInfo, "executing plan")
		records = c.executor.Execute(ctx, alert.ID, alert, plan, mode, c.destructiveEnabled)
		summary = summarize(records, len(plan))
		status = deriveStatus(summary, mode)
	}

	terminalStage, terminalLevel := types.StageComplete, types.EventSuccess
	if status == types.StatusFailed {
		terminalStage, terminalLevel = types.StageFailed, types.EventError
	}
	c.emit(alert.ID, terminalStage, terminalLevel, "incident "+string(status))

	return types.Result{
		Status:           status,
		TraceID:          alert.ID,
		Analysis:         analysis,
		Plan:             plan,
		ExecutionSummary: summary,
		Records:          records,
	}
}

func (c *Coordinator) begin(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight[id] {
		return false
	}
	c.inFlight[id] = true
	return true
}

func (c *Coordinator) finish(id string) {
	c.mu.Lock()
	delete(c.inFlight, id)
	c.mu.Unlock()
}

// gatherContext issues one FetchContext per relevant, healthy backend in
// parallel, bounded by a single stage deadline. Per-backend goroutines
// always return nil to the errgroup and instead record their outcome into
// the mutex-guarded bundle: a backend failure must never fail the incident
// (§4.1), only errgroup.Wait()'s own wall-clock bound matters here.
func (c *Coordinator) gatherContext(ctx context.Context, alert types.Alert, kind types.AlertKind) types.ContextBundle {
	names := relevantBackends[kind]
	if len(names) == 0 {
		names = relevantBackends[types.KindUnknown]
	}
	relevant := make(map[string]bool, len(names))
	for _, n := range names {
		relevant[n] = true
	}

	// requests is keyed by bundle key, not adapter name: a kind-specific
	// request (e.g. "kubernetes_logs") can target the same adapter as the
	// default request ("kubernetes") without overwriting it in the bundle.
	requests := make(map[string]contextRequest)
	for name := range relevant {
		if req, ok := defaultContextRequests[name]; ok {
			requests[name] = req
		}
	}
	for bundleKey, req := range kindContextRequests[kind] {
		if relevant[req.adapter] {
			requests[bundleKey] = req
		}
	}

	gctx, cancel := context.WithTimeout(ctx, c.gatherDeadline)
	defer cancel()

	var mu sync.Mutex
	bundle := make(types.ContextBundle)
	g, gctx := errgroup.WithContext(gctx)

	for bundleKey, request := range requests {
		adapter, ok := c.adapters[request.adapter]
		if !ok || !adapter.HealthCheck(ctx) {
			continue // unhealthy/unconfigured: never attempted, so absent from the bundle
		}
		bundleKey, adapter, request := bundleKey, adapter, request
		g.Go(func() error {
			payload, err := adapter.FetchContext(gctx, request.kind, request.params(alert))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				bundle[bundleKey] = types.BackendResult{Err: err, ErrText: err.Error()}
			} else {
				bundle[bundleKey] = types.BackendResult{Payload: payload}
			}
			return nil
		})
	}
	_ = g.Wait()
	return bundle
}

// narrate builds the user-facing analysis via a single LLM call. A failure
// here degrades the incident rather than failing it (§4.1, §4.10): the
// Planner already ran independently of this call.
func (c *Coordinator) narrate(ctx context.Context, alert types.Alert, kind types.AlertKind, bundle types.ContextBundle, plan []types.ResolutionAction, mode types.OperatingMode) (string, error) {
	if c.llmClient == nil {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.llmTimeout)
	defer cancel()

	prompt := buildPrompt(alert, kind, bundle, plan, mode)
	text, err := c.llmClient.Generate(ctx, prompt, c.llmMaxTokens)
	if err != nil {
		return "", err
	}
	return text, nil
}

func buildPrompt(alert types.Alert, kind types.AlertKind, bundle types.ContextBundle, plan []types.ResolutionAction, mode types.OperatingMode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Incident %s on service %q (severity %s): %s\n", alert.ID, alert.Service, alert.Severity, alert.Description)
	fmt.Fprintf(&b, "Classified as %s. Operating mode: %s.\n", kind, mode)

	if ok := bundle.Successful(); len(ok) > 0 {
		fmt.Fprintf(&b, "Context gathered from: %s.\n", strings.Join(ok, ", "))
	}
	if failed := bundle.Failed(); len(failed) > 0 {
		fmt.Fprintf(&b, "Context unavailable from: %s.\n", strings.Join(failed, ", "))
	}

	if len(plan) > 0 {
		top := plan[0]
		fmt.Fprintf(&b, "Top candidate remediation: %s (confidence %.2f, risk %s). State whether you agree or flag a concern.\n",
			top.Kind, top.Confidence, top.Risk)
	} else {
		b.WriteString("No automatic remediation action was identified.\n")
	}

	b.WriteString("Write a short on-call-friendly summary of the incident and what is being done about it.")
	return b.String()
}

func (c *Coordinator) emit(incidentID string, stage types.Stage, level types.EventLevel, message string) {
	if c.bus != nil {
		c.bus.Publish(types.Event{Level: level, Message: message, IncidentID: incidentID, Stage: stage})
	}
	if c.log == nil {
		return
	}
	fields := logging.NewFields().Component("coordinator").Incident(incidentID).Stage(string(stage)).Logrus()
	switch level {
	case types.EventError, types.EventAlert:
		c.log.WithFields(fields).Error(message)
	case types.EventWarning:
		c.log.WithFields(fields).Warn(message)
	default:
		c.log.WithFields(fields).Info(message)
	}
}

func summarize(records []types.ExecutionRecord, planned int) types.ExecutionSummary {
	s := types.ExecutionSummary{ActionsPlanned: planned}
	for _, r := range records {
		switch {
		case r.Executed && r.Error == "" && (r.Verification == nil || r.Verification.Verified):
			s.ActionsExecuted++
			s.ActionsSuccessful++
		case r.Executed:
			s.ActionsExecuted++
			s.ActionsFailed++
		case r.SkipReason != "":
			s.ActionsSkipped++
		}
	}
	return s
}

func deriveStatus(s types.ExecutionSummary, mode types.OperatingMode) types.IncidentStatus {
	if mode == types.ModePlan || s.ActionsExecuted == 0 {
		return types.StatusAnalyzed
	}
	switch {
	case s.ActionsFailed > 0 && s.ActionsSuccessful > 0:
		return types.StatusPartiallyResolved
	case s.ActionsFailed > 0:
		return types.StatusFailed
	default:
		return types.StatusAnalyzedAndExecuted
	}
}
