package types

import "time"

// VerificationResult records the outcome of an Executor post-condition poll
// for one executed action.
type VerificationResult struct {
	Verified bool          `json:"verified"`
	Detail   string        `json:"detail,omitempty"`
	Waited   time.Duration `json:"waited"`
}

// ExecutionRecord is one append-only entry in an incident's execution
// history (§3).
type ExecutionRecord struct {
	Timestamp      time.Time            `json:"timestamp"`
	Action         ResolutionAction     `json:"action"`
	RiskAssessment RiskAssessment       `json:"risk_assessment"`
	Executed       bool                 `json:"executed"`
	SkipReason     string               `json:"skip_reason,omitempty"`
	Result         map[string]interface{} `json:"result,omitempty"`
	Verification   *VerificationResult  `json:"verification,omitempty"`
	Error          string               `json:"error,omitempty"`
}

// Stage is the fixed enumeration of IncidentTrace/EventBus stages.
type Stage string

const (
	StageReceived         Stage = "received"
	StageClassifying      Stage = "classifying"
	StageGatheringContext Stage = "gathering_context"
	StageAnalyzing        Stage = "analyzing"
	StagePlanning         Stage = "planning"
	StageGating           Stage = "gating"
	StageExecuting        Stage = "executing"
	StageVerifying        Stage = "verifying"
	StageComplete         Stage = "complete"
	StageFailed           Stage = "failed"
)

// TraceLevel is the fixed log-level enumeration for IncidentTrace entries.
type TraceLevel string

const (
	TraceDebug TraceLevel = "debug"
	TraceInfo  TraceLevel = "info"
	TraceWarn  TraceLevel = "warning"
	TraceError TraceLevel = "error"
)

// TraceEntry is one append-only IncidentTrace record.
type TraceEntry struct {
	Timestamp  time.Time              `json:"timestamp"`
	Level      TraceLevel             `json:"level"`
	Stage      Stage                  `json:"stage"`
	Message    string                 `json:"message"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// IncidentStatus is the fixed terminal/near-terminal status enumeration
// surfaced in Result (§7).
type IncidentStatus string

const (
	StatusAnalyzed            IncidentStatus = "analyzed"
	StatusAnalyzedAndExecuted IncidentStatus = "analyzed_and_executed"
	StatusPartiallyResolved   IncidentStatus = "partially_resolved"
	StatusFailed              IncidentStatus = "failed"
	StatusDuplicate           IncidentStatus = "duplicate"
	StatusRejected            IncidentStatus = "rejected"
)

// ExecutionSummary aggregates ExecutionRecords for the Result returned from
// IncidentCoordinator.Handle.
type ExecutionSummary struct {
	ActionsPlanned    int `json:"actions_planned"`
	ActionsExecuted   int `json:"actions_executed"`
	ActionsSuccessful int `json:"actions_successful"`
	ActionsSkipped    int `json:"actions_skipped"`
	ActionsFailed     int `json:"actions_failed"`
}

// Result is returned by IncidentCoordinator.Handle.
type Result struct {
	Status           IncidentStatus     `json:"status"`
	TraceID          string             `json:"trace_id"`
	Analysis         string             `json:"analysis,omitempty"`
	Plan             []ResolutionAction `json:"plan,omitempty"`
	ExecutionSummary ExecutionSummary   `json:"execution_summary"`
	Records          []ExecutionRecord  `json:"records,omitempty"`
}

// OperatingMode controls CommandGate policy.
type OperatingMode string

const (
	ModePlan     OperatingMode = "PLAN"
	ModeApproval OperatingMode = "APPROVAL"
	ModeAuto     OperatingMode = "AUTO"
)
