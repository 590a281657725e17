package gate

import (
	"strings"

	"github.com/oncallops/incident-core/pkg/types"
)

// forbidden holds substrings that unconditionally block execution,
// regardless of mode, confidence, or destructive-enabled (§4.3 rule 1).
// Matching is case-insensitive and applied before any other rule.
var forbidden = []string{
	"delete namespace",
	"delete node",
	"delete persistentvolume",
	"delete pv ",
	"delete pv\n",
	"delete crd",
	"delete customresourcedefinition",
	"delete clusterrole",
	"delete clusterrolebinding",
}

var lowRiskVerbs = map[string]bool{
	"get": true, "describe": true, "list": true, "logs": true,
	"top": true, "watch": true, "explain": true,
}

var mediumRiskVerbs = map[string]bool{
	"scale": true, "rollout": true, "restart": true,
	"replace": true, "update": true, "annotate": true, "label": true,
}

var highRiskVerbs = map[string]bool{
	"delete": true, "patch": true, "exec": true, "execute": true,
	"remove": true, "drop": true, "cordon": true, "drain": true,
}

var systemNamespaces = map[string]bool{
	"kube-system": true, "kube-public": true, "kube-node-lease": true,
}

// programNames are leading tokens that name the CLI itself rather than its
// verb (e.g. adapter previews rendered as "kubectl delete pod ..."); rule 2
// classifies on the verb that follows one of these, not the program name.
var programNames = map[string]bool{
	"kubectl": true,
}

// Assess classifies command by risk, purely from its text. No I/O, no
// access to confidence or mode: those belong to the mode-policy step in
// Gate.Evaluate.
func Assess(command string) types.RiskAssessment {
	lower := strings.ToLower(command)

	for _, substr := range forbidden {
		if strings.Contains(lower, strings.TrimSpace(substr)) {
			return types.RiskAssessment{
				Level:     types.RiskHigh,
				Forbidden: true,
				Reason:    "matches forbidden command list: " + substr,
			}
		}
	}

	fields := strings.Fields(lower)
	if len(fields) > 1 && programNames[fields[0]] {
		fields = fields[1:]
	}
	level := types.RiskHigh
	reason := "unrecognized verb defaults to high risk"
	if len(fields) > 0 {
		verb := fields[0]
		switch {
		case lowRiskVerbs[verb]:
			level, reason = types.RiskLow, "read-like verb"
		case mediumRiskVerbs[verb]:
			level, reason = types.RiskMedium, "modifying verb (replace/scale class)"
		case highRiskVerbs[verb]:
			level, reason = types.RiskHigh, "destructive verb (delete/patch/execute class)"
		}
	}

	affectsAll := strings.Contains(lower, "--all-namespaces") || strings.Contains(lower, "--all")
	targetsSystem := false
	for ns := range systemNamespaces {
		if strings.Contains(lower, ns) {
			targetsSystem = true
			break
		}
	}
	targetsProduction := strings.Contains(lower, "production") || strings.Contains(lower, "prod-") || strings.Contains(lower, "-prod")

	if level != types.RiskHigh && (affectsAll || targetsSystem || targetsProduction) {
		level = types.RiskHigh
		switch {
		case affectsAll:
			reason = "escalated: targets --all / --all-namespaces"
		case targetsSystem:
			reason = "escalated: targets a system namespace"
		case targetsProduction:
			reason = "escalated: targets a production-identified resource"
		}
	}

	return types.RiskAssessment{
		Level:      level,
		Forbidden:  false,
		Reason:     reason,
		AffectsAll: affectsAll,
	}
}
