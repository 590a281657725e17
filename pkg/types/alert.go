// Package types holds the data model shared across the incident core:
// Alert, AlertKind, ContextBundle, ResolutionAction, RiskAssessment,
// ApprovalRequest, ExecutionRecord, IncidentTrace, and OperatingMode.
package types

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var alertValidator = validator.New()

// Severity is the fixed alert-severity enumeration.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Alert is the inbound incident report. It is immutable after ingest: no
// component mutates an Alert's fields once IncidentCoordinator.Handle has
// accepted it.
type Alert struct {
	ID          string                 `json:"id" validate:"required"`
	Severity    Severity               `json:"severity" validate:"required,oneof=critical high medium low info"`
	Service     string                 `json:"service" validate:"required"`
	Description string                 `json:"description" validate:"required"`
	Timestamp   time.Time              `json:"timestamp" validate:"required"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Validate enforces the struct tags above: non-empty id/service/description,
// a recognized severity, and a non-zero timestamp. This is the core's only
// validation boundary, since it has no HTTP layer of its own;
// Coordinator.Handle calls it first and returns StatusRejected for an Alert
// that fails it.
func (a Alert) Validate() error {
	return alertValidator.Struct(a)
}

// MetaString reads a string-valued metadata entry, returning "" if absent or
// of another type.
func (a Alert) MetaString(key string) string {
	v, ok := a.Metadata[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// MetaInt reads an int-valued metadata entry (tolerating the float64 shape
// produced by JSON decoding), returning 0 if absent.
func (a Alert) MetaInt(key string) int {
	v, ok := a.Metadata[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}

// AlertKind is the fixed classification enumeration the Classifier maps
// alert descriptions onto.
type AlertKind string

const (
	KindPodCrash         AlertKind = "pod_crash"
	KindImagePull        AlertKind = "image_pull"
	KindHighMemory       AlertKind = "high_memory"
	KindHighCPU          AlertKind = "high_cpu"
	KindServiceDown      AlertKind = "service_down"
	KindDeploymentFailed AlertKind = "deployment_failed"
	KindNodeIssue        AlertKind = "node_issue"
	KindOOMKill          AlertKind = "oom_kill"
	KindUnknown          AlertKind = "unknown"
)
