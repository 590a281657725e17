package planner

import (
	"encoding/json"
	"strings"

	"github.com/oncallops/incident-core/pkg/types"
)

// signals is the set of plan-relevant facts the strategies in planner.go
// read. Backend payloads are opaque JSON blobs (§3); a signal is true if
// either the Alert's own metadata or any successful backend payload
// contains the matching key. This keeps the planner decoupled from any one
// adapter's concrete schema while still honoring the example contracts in
// spec.md §4.7.
type signals struct {
	logsIndicateOOM       bool
	logsIndicateConfig    bool
	restartCount          int
	hasRestartCount       bool
	replicas              int
	hasReplicas           bool
	endpointCount         int
	hasEndpointCount      bool
	imageTag              string
	unhealthy             bool
	hasUnhealthy          bool
	nonRunningPods        []string
	matchingPodsAvailable bool
}

func gatherSignals(alert types.Alert, bundle types.ContextBundle) signals {
	s := signals{matchingPodsAvailable: true}

	apply := func(raw map[string]interface{}) {
		if v, ok := raw["logs"].(string); ok {
			lower := strings.ToLower(v)
			if strings.Contains(lower, "out of memory") || strings.Contains(lower, "oom") {
				s.logsIndicateOOM = true
			}
			if strings.Contains(lower, "permission denied") || strings.Contains(lower, "forbidden") || strings.Contains(lower, "configmap") || strings.Contains(lower, "secret") {
				s.logsIndicateConfig = true
			}
		}
		if n, ok := intValue(raw["restart_count"]); ok {
			s.restartCount, s.hasRestartCount = n, true
		}
		if n, ok := intValue(raw["replicas"]); ok {
			s.replicas, s.hasReplicas = n, true
		}
		if n, ok := intValue(raw["endpoint_count"]); ok {
			s.endpointCount, s.hasEndpointCount = n, true
		}
		if v, ok := raw["tag"].(string); ok && v != "" {
			s.imageTag = v
		}
		if v, ok := raw["unhealthy"].(bool); ok {
			s.unhealthy, s.hasUnhealthy = v, true
		}
		if v, ok := raw["matching_pods_available"].(bool); ok {
			s.matchingPodsAvailable = v
		}
		if v, ok := raw["non_running_pods"].([]interface{}); ok {
			for _, p := range v {
				if name, ok := p.(string); ok {
					s.nonRunningPods = append(s.nonRunningPods, name)
				}
			}
		}
	}

	apply(alert.Metadata)

	for _, result := range bundle {
		if !result.Success() || len(result.Payload) == 0 {
			continue
		}
		var raw map[string]interface{}
		if err := json.Unmarshal(result.Payload, &raw); err != nil {
			continue
		}
		apply(raw)
	}

	return s
}

func intValue(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
