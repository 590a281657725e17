// Package planner implements the ResolutionPlanner: given a classified
// AlertKind and the gathered ContextBundle, it emits an ordered list of
// candidate ResolutionActions (§4.7). Each supported kind has its own
// strategy function; Plan orders the combined output by descending
// confidence, ties broken by ascending risk then insertion order, using a
// stable sort so within-strategy emission order survives equal-rank ties.
package planner

import (
	"sort"
	"time"

	"github.com/oncallops/incident-core/pkg/types"
)

var riskRank = map[types.RiskLevel]int{
	types.RiskLow:    0,
	types.RiskMedium: 1,
	types.RiskHigh:   2,
}

// Plan produces the ordered candidate action list for one incident.
func Plan(alert types.Alert, kind types.AlertKind, bundle types.ContextBundle) []types.ResolutionAction {
	s := gatherSignals(alert, bundle)

	var actions []types.ResolutionAction
	switch kind {
	case types.KindPodCrash, types.KindOOMKill:
		actions = planPodCrash(s)
	case types.KindImagePull:
		actions = planImagePull(s)
	case types.KindHighMemory:
		actions = planHighResource(s, "memory")
	case types.KindHighCPU:
		actions = planHighResource(s, "cpu")
	case types.KindServiceDown:
		actions = planServiceDown(s)
	case types.KindDeploymentFailed:
		actions = planDeploymentFailed(s)
	default:
		return nil
	}

	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].Confidence != actions[j].Confidence {
			return actions[i].Confidence > actions[j].Confidence
		}
		return riskRank[actions[i].Risk] < riskRank[actions[j].Risk]
	})
	return actions
}

func planPodCrash(s signals) []types.ResolutionAction {
	if s.logsIndicateOOM {
		return []types.ResolutionAction{{
			Kind:              "increase_memory_limit",
			Description:       "Increase pod memory limit by 50%",
			Params:            map[string]interface{}{"factor": 1.5},
			Confidence:        0.8,
			Risk:              types.RiskLow,
			EstimatedDuration: 30 * time.Second,
			RollbackPossible:  true,
		}}
	}
	if s.logsIndicateConfig {
		return []types.ResolutionAction{{
			Kind:              "check_configmaps_secrets",
			Description:       "Verify referenced ConfigMaps and Secrets exist and are mounted correctly",
			Confidence:        0.7,
			Risk:              types.RiskLow,
			EstimatedDuration: 15 * time.Second,
			RollbackPossible:  true,
		}}
	}
	if s.hasRestartCount && s.restartCount >= 5 {
		return []types.ResolutionAction{{
			Kind:              "manual_investigation",
			Description:       "Restart count exceeds automatic-remediation threshold; needs a human look",
			Confidence:        0.9,
			Risk:              types.RiskLow,
			RollbackPossible:  true,
			NonExecutable:     true,
		}}
	}
	return []types.ResolutionAction{{
		Kind:              "restart_pod",
		Description:       "Restart the crash-looping pod",
		Confidence:        0.6,
		Risk:              types.RiskLow,
		EstimatedDuration: 10 * time.Second,
		RollbackPossible:  false,
		Preconditions:     []string{"managed_by_controller"},
	}}
}

func planImagePull(s signals) []types.ResolutionAction {
	actions := []types.ResolutionAction{
		{
			Kind:              "verify_image_pull_secret",
			Description:       "Verify the image pull secret is present and valid",
			Confidence:        0.7,
			Risk:              types.RiskMedium,
			EstimatedDuration: 15 * time.Second,
			RollbackPossible:  true,
		},
		{
			Kind:              "verify_image_exists",
			Description:       "Verify the referenced image tag exists in the registry",
			Confidence:        0.7,
			Risk:              types.RiskMedium,
			EstimatedDuration: 15 * time.Second,
			RollbackPossible:  true,
		},
	}
	if s.imageTag != "" {
		actions = append(actions, types.ResolutionAction{
			Kind:              "rollback_image_version",
			Description:       "Roll back to the last known-good image tag",
			Params:            map[string]interface{}{"from_tag": s.imageTag},
			Confidence:        0.7,
			Risk:              types.RiskMedium,
			EstimatedDuration: 30 * time.Second,
			RollbackPossible:  true,
		})
	}
	return actions
}

func planHighResource(s signals, resource string) []types.ResolutionAction {
	var actions []types.ResolutionAction
	if !s.hasReplicas || s.replicas < 10 {
		actions = append(actions, types.ResolutionAction{
			Kind:              "scale_deployment",
			Description:       "Scale out by 2 replicas (capped at 10)",
			Params:            map[string]interface{}{"delta": 2, "cap": 10},
			Confidence:        0.8,
			Risk:              types.RiskLow,
			EstimatedDuration: 30 * time.Second,
			RollbackPossible:  true,
		})
	}
	actions = append(actions, types.ResolutionAction{
		Kind:              "increase_" + resource + "_limits",
		Description:       "Increase " + resource + " limits by 50%",
		Params:            map[string]interface{}{"resource": resource, "factor": 1.5},
		Confidence:        0.7,
		Risk:              types.RiskMedium,
		EstimatedDuration: 30 * time.Second,
		RollbackPossible:  true,
	})
	return actions
}

func planServiceDown(s signals) []types.ResolutionAction {
	if s.hasEndpointCount && s.endpointCount == 0 && !s.matchingPodsAvailable {
		return []types.ResolutionAction{{
			Kind:              "deploy_missing_pods",
			Description:       "No endpoints and no matching pods found; redeploy",
			Confidence:        0.9,
			Risk:              types.RiskLow,
			EstimatedDuration: time.Minute,
			RollbackPossible:  true,
		}}
	}

	var actions []types.ResolutionAction
	for _, pod := range s.nonRunningPods {
		actions = append(actions, types.ResolutionAction{
			Kind:              "fix_pod_issues",
			Description:       "Investigate and fix non-Running pod " + pod,
			Params:            map[string]interface{}{"pod": pod},
			Confidence:        0.8,
			Risk:              types.RiskLow,
			EstimatedDuration: 30 * time.Second,
			RollbackPossible:  true,
		})
	}
	if len(actions) == 0 {
		actions = append(actions, types.ResolutionAction{
			Kind:              "fix_pod_issues",
			Description:       "Investigate service endpoints; no specific pod identified yet",
			Confidence:        0.8,
			Risk:              types.RiskLow,
			EstimatedDuration: 30 * time.Second,
			RollbackPossible:  true,
		})
	}
	return actions
}

func planDeploymentFailed(s signals) []types.ResolutionAction {
	// The alert itself is already classified deployment_failed; treat the
	// deployment as unhealthy unless a backend explicitly says otherwise.
	if s.hasUnhealthy && !s.unhealthy {
		return nil
	}
	return []types.ResolutionAction{{
		Kind:              "rollback_deployment",
		Description:       "Roll back the deployment to its last healthy revision",
		Confidence:        0.9,
		Risk:              types.RiskLow,
		EstimatedDuration: time.Minute,
		RollbackPossible:  true,
	}}
}
