// Package executor implements the Executor (§4.8): given an ordered plan
// of ResolutionActions, it drives each one through CircuitBreaker ->
// CommandGate -> the owning BackendAdapter -> optional post-condition
// verification, appending an ExecutionRecord for every action it reaches,
// whatever the outcome; once the §4.8 step 8 hard stop fires, the remaining
// actions get no record.
//
// The planner emits domain verbs (e.g. "increase_memory_limit",
// "rollback_image_version") that don't literally match any adapter's
// declared ActionKinds; routes below is the translation table from a
// planner Kind to the adapter name/action kind/param-builder that actually
// carries it out. A few verbs name a check a human (or a future automated
// check) must perform rather than a safe concrete mutation
// ("check_configmaps_secrets" and friends) — those are recorded as
// advisories without ever reaching an adapter, the same as a planner-marked
// NonExecutable action.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/oncallops/incident-core/internal/config"
	"github.com/oncallops/incident-core/pkg/adapters"
	"github.com/oncallops/incident-core/pkg/circuitbreaker"
	"github.com/oncallops/incident-core/pkg/eventbus"
	"github.com/oncallops/incident-core/pkg/gate"
	"github.com/oncallops/incident-core/pkg/types"
)

// verifiableKinds is the §4.8 step 6 verifiable adapter-action set.
var verifiableKinds = map[string]bool{
	"restart_pod":         true,
	"scale_deployment":    true,
	"rollback_deployment": true,
}

// advisoryKinds have no safe concrete backend mutation defined for them:
// they ask a human, or a future dedicated check, to confirm something.
// Executor records them as completed advisories without calling an adapter.
var advisoryKinds = map[string]bool{
	"check_configmaps_secrets": true,
	"verify_image_pull_secret": true,
	"verify_image_exists":      true,
}

// Verifier is satisfied by adapters that can confirm a mutating action's
// post-condition. Adapters with no meaningful post-condition simply don't
// implement it; Executor then records the action as executed without a
// Verification entry.
type Verifier interface {
	Verify(ctx context.Context, kind string, params map[string]interface{}, timeout time.Duration) types.VerificationResult
}

// route maps one planner Kind onto the adapter name/action kind that
// carries it out, and how to derive that adapter's params from the alert
// and the planner's own action.Params.
type route struct {
	adapter string
	kind    string
	build   func(alert types.Alert, action types.ResolutionAction) map[string]interface{}
}

var routes = map[string]route{
	"restart_pod":            {"kubernetes", "restart_pod", buildPodParams},
	"fix_pod_issues":         {"kubernetes", "restart_pod", buildPodParams},
	"scale_deployment":       {"kubernetes", "scale_deployment", buildScaleParams},
	"deploy_missing_pods":    {"kubernetes", "scale_deployment", buildRedeployParams},
	"rollback_deployment":    {"kubernetes", "rollback_deployment", buildDeploymentParams},
	"rollback_image_version": {"kubernetes", "patch_resource", buildImagePatchParams},
	"increase_memory_limit":  {"kubernetes", "patch_resource", resourcePatchBuilder("memory")},
	"increase_memory_limits": {"kubernetes", "patch_resource", resourcePatchBuilder("memory")},
	"increase_cpu_limits":    {"kubernetes", "patch_resource", resourcePatchBuilder("cpu")},
}

// Executor runs one incident's plan to completion or to its hard stop.
type Executor struct {
	adapters      map[string]adapters.BackendAdapter
	gate          *gate.Gate
	breaker       *circuitbreaker.Breaker
	bus           *eventbus.Bus
	verifyTimeout time.Duration
	maxFailures   int
}

// New constructs an Executor. backends is keyed by adapter Name(); gate and
// breaker are the shared CommandGate and execution-pipeline CircuitBreaker
// (distinct from the LLM's own breaker, per §4.10). bus may be nil in
// tests that don't care about published events.
func New(backends map[string]adapters.BackendAdapter, g *gate.Gate, breaker *circuitbreaker.Breaker, bus *eventbus.Bus, cfg config.ExecutorConfig) *Executor {
	return &Executor{
		adapters:      backends,
		gate:          g,
		breaker:       breaker,
		bus:           bus,
		verifyTimeout: cfg.VerifyTimeoutDuration(),
		maxFailures:   cfg.MaxFailuresOrDefault(),
	}
}

// Execute runs plan for incidentID under mode, returning the
// ExecutionRecords produced so far even when it aborts early on the §4.8
// step 8 hard stop.
func (e *Executor) Execute(ctx context.Context, incidentID string, alert types.Alert, plan []types.ResolutionAction, mode types.OperatingMode, destructiveEnabled bool) []types.ExecutionRecord {
	records := make([]types.ExecutionRecord, 0, len(plan))
	failures := 0

	for i, action := range plan {
		record := types.ExecutionRecord{Timestamp: time.Now(), Action: action}
		e.publish(incidentID, types.StageGating, types.EventInfo, "gating action: "+action.Kind, action.Kind)

		if action.NonExecutable || advisoryKinds[action.Kind] {
			record.SkipReason = "non_executable"
			record.Result = map[string]interface{}{"note": "recorded for human follow-up; no adapter call made"}
			records = append(records, record)
			continue
		}

		// Step 2 (§4.8): consult the CircuitBreaker before building the
		// command or asking CommandGate. An open breaker means ExecuteAction
		// would be refused regardless of what the gate or a human approver
		// decides, so there is no point creating an ApprovalRequest (and
		// blocking the caller on it) for an action that can never run.
		if !e.breaker.Allow() {
			record.SkipReason = "circuit_open"
			record.Error = circuitbreaker.ErrOpen.Error()
			records = append(records, record)
			continue
		}

		rt, ok := routes[action.Kind]
		if !ok {
			record.SkipReason = "no_adapter_route"
			record.Error = fmt.Sprintf("no adapter route for action kind %q", action.Kind)
			records = append(records, record)
			continue
		}
		adapter, ok := e.adapters[rt.adapter]
		if !ok {
			record.SkipReason = "adapter_unavailable"
			record.Error = fmt.Sprintf("adapter %q not configured", rt.adapter)
			records = append(records, record)
			continue
		}

		params := rt.build(alert, action)

		preview, err := adapter.PreviewCommand(ctx, rt.kind, params)
		if err != nil {
			record.SkipReason = "preview_failed"
			record.Error = err.Error()
			records = append(records, record)
			if e.countFailure(&failures, incidentID, len(plan)-i-1) {
				return records
			}
			continue
		}

		decision, err := e.gate.Evaluate(ctx, incidentID, preview, action, mode, destructiveEnabled)
		record.RiskAssessment = decision.Assessment
		if err != nil {
			record.SkipReason = "gate_error"
			record.Error = err.Error()
			records = append(records, record)
			if e.countFailure(&failures, incidentID, len(plan)-i-1) {
				return records
			}
			continue
		}
		if !decision.Execute {
			record.SkipReason = decision.Reason
			records = append(records, record)
			continue
		}

		e.publish(incidentID, types.StageExecuting, types.EventInfo, "executing action: "+action.Kind, action.Kind)

		var result adapters.ActionResult
		var verification *types.VerificationResult
		circuitErr := e.breaker.Call(func() error {
			var execErr error
			result, execErr = adapter.ExecuteAction(ctx, rt.kind, params)
			if execErr != nil {
				return execErr
			}
			if verifiableKinds[rt.kind] {
				e.publish(incidentID, types.StageVerifying, types.EventInfo, "verifying action: "+action.Kind, action.Kind)
				if verifier, ok := adapter.(Verifier); ok {
					vr := verifier.Verify(ctx, rt.kind, params, e.verifyTimeout)
					verification = &vr
				}
			}
			return nil
		})

		if circuitErr == circuitbreaker.ErrOpen {
			record.SkipReason = "circuit_open"
			record.Error = circuitErr.Error()
			records = append(records, record)
			continue
		}
		if circuitErr != nil {
			record.Error = circuitErr.Error()
			records = append(records, record)
			if e.countFailure(&failures, incidentID, len(plan)-i-1) {
				return records
			}
			continue
		}

		record.Executed = true
		record.Result = result.Data
		record.Verification = verification
		records = append(records, record)
	}

	return records
}

// countFailure increments the per-plan failure counter and, once it
// reaches the configured ceiling, publishes the §4.8 step 8 hard-stop
// event. It returns true when the caller should abort the remaining plan.
func (e *Executor) countFailure(failures *int, incidentID string, remaining int) bool {
	*failures++
	if *failures < e.maxFailures {
		return false
	}
	e.publish(incidentID, types.StageFailed, types.EventError,
		fmt.Sprintf("too_many_failures: %d action failures, aborting %d remaining plan actions", *failures, remaining), "")
	return true
}

func (e *Executor) publish(incidentID string, stage types.Stage, level types.EventLevel, message, actionKind string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(types.Event{
		Level:      level,
		Message:    message,
		IncidentID: incidentID,
		Stage:      stage,
		Action:     actionKind,
	})
}

func buildPodParams(alert types.Alert, action types.ResolutionAction) map[string]interface{} {
	p := cloneParams(action.Params)
	p["namespace"] = namespaceOf(alert)
	if pod, ok := action.Params["pod"].(string); ok && pod != "" {
		p["name"] = pod
	} else {
		p["name"] = alert.MetaString("pod")
	}
	return p
}

func buildDeploymentParams(alert types.Alert, action types.ResolutionAction) map[string]interface{} {
	p := cloneParams(action.Params)
	p["namespace"] = namespaceOf(alert)
	p["name"] = deploymentOf(alert)
	return p
}

func buildScaleParams(alert types.Alert, action types.ResolutionAction) map[string]interface{} {
	p := buildDeploymentParams(alert, action)
	delta := intFrom(action.Params, "delta", 1)
	cap := intFrom(action.Params, "cap", 10)
	replicas := alert.MetaInt("replicas") + delta
	if replicas > cap {
		replicas = cap
	}
	if replicas < 1 {
		replicas = 1
	}
	p["replicas"] = replicas
	return p
}

// buildRedeployParams handles "deploy_missing_pods": there are, by
// definition, no running replicas to add to, so it requests a single
// replica rather than computing a delta off an absent current count.
func buildRedeployParams(alert types.Alert, action types.ResolutionAction) map[string]interface{} {
	p := buildDeploymentParams(alert, action)
	p["replicas"] = 1
	return p
}

// buildImagePatchParams builds a merge patch recording the rollback
// request as an annotation; the adapter's job is to surface a uniform
// ExecuteAction, not to re-derive the last-known-good tag (that's the
// planner's job via from_tag, itself sourced from context gathering).
func buildImagePatchParams(alert types.Alert, action types.ResolutionAction) map[string]interface{} {
	p := buildDeploymentParams(alert, action)
	fromTag, _ := action.Params["from_tag"].(string)
	p["patch"] = fmt.Sprintf(
		`{"metadata":{"annotations":{"incident-core/rollback-from-tag":%q}}}`, fromTag)
	return p
}

func resourcePatchBuilder(resource string) func(types.Alert, types.ResolutionAction) map[string]interface{} {
	return func(alert types.Alert, action types.ResolutionAction) map[string]interface{} {
		p := buildDeploymentParams(alert, action)
		factor, _ := action.Params["factor"].(float64)
		if factor <= 0 {
			factor = 1.5
		}
		p["patch"] = fmt.Sprintf(
			`{"metadata":{"annotations":{"incident-core/requested-%s-factor":"%.2f"}}}`, resource, factor)
		return p
	}
}

func namespaceOf(alert types.Alert) string {
	if ns := alert.MetaString("namespace"); ns != "" {
		return ns
	}
	return "default"
}

func deploymentOf(alert types.Alert) string {
	if d := alert.MetaString("deployment"); d != "" {
		return d
	}
	return alert.Service
}

func cloneParams(src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(src)+2)
	for k, v := range src {
		out[k] = v
	}
	return out
}

func intFrom(params map[string]interface{}, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}
