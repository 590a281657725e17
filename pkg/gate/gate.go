// Package gate implements the CommandGate: a pure risk classifier
// (Assess, in assess.go) plus the operating-mode policy that decides
// whether a proposed command executes, is refused, or waits for approval
// (§4.3). The only non-determinism in the whole component is the approval
// wait; everything else is a stateless function of its inputs.
package gate

import (
	"context"
	"time"

	"github.com/oncallops/incident-core/pkg/gate/policy"
	"github.com/oncallops/incident-core/pkg/types"
)

// Approvals is the subset of approval.Registry the Gate needs, accepted as
// an interface so tests can substitute a fake without a Redis or in-process
// store behind it.
type Approvals interface {
	Request(ctx context.Context, incidentID string, plan []types.ResolutionAction, timeout time.Duration) (types.ApprovalRequest, error)
	Wait(ctx context.Context, id string, timeout time.Duration) (types.ApprovalStatus, error)
}

// Decision is the CommandGate's verdict for one proposed command.
type Decision struct {
	Execute          bool
	Reason           string
	Assessment       types.RiskAssessment
	RequiredApproval *types.ApprovalRequest
}

// Gate evaluates commands under an OperatingMode policy.
type Gate struct {
	approvals       Approvals
	approvalTimeout time.Duration
	policy          *policy.Evaluator
}

// New constructs a Gate. approvalTimeout is the per-request wait ceiling
// used in APPROVAL mode, defaulting to 300s. policyEvaluator is optional —
// nil means no Rego policy override layer runs, and Evaluate behaves
// exactly as the mode/risk rules below describe. When given, its verdict
// can only escalate a decision (force approval, or forbid outright), never
// loosen one Assess or the mode policy already made.
func New(approvals Approvals, approvalTimeout time.Duration, policyEvaluator ...*policy.Evaluator) *Gate {
	if approvalTimeout <= 0 {
		approvalTimeout = 300 * time.Second
	}
	g := &Gate{approvals: approvals, approvalTimeout: approvalTimeout}
	if len(policyEvaluator) > 0 {
		g.policy = policyEvaluator[0]
	}
	return g
}

// Evaluate classifies command and applies mode to decide whether the
// action identified by action may run. In APPROVAL mode for a medium/high
// risk action, Evaluate blocks until the ApprovalRegistry resolves the
// request or the timeout fires.
func (g *Gate) Evaluate(ctx context.Context, incidentID, command string, action types.ResolutionAction, mode types.OperatingMode, destructiveEnabled bool) (Decision, error) {
	assessment := Assess(command)

	// Rule precedence: forbidden wins over everything, including a
	// would-be risk=high escalation (§9 Open Question).
	if assessment.Forbidden {
		return Decision{Execute: false, Reason: "forbidden", Assessment: assessment}, nil
	}

	requireApproval := false
	if g.policy != nil {
		verdict, err := g.policy.Evaluate(ctx, policy.Input{
			Command:            command,
			RiskLevel:          string(assessment.Level),
			Confidence:         action.Confidence,
			DestructiveEnabled: destructiveEnabled,
			Mode:               string(mode),
		})
		if err == nil && verdict.Forbidden {
			return Decision{Execute: false, Reason: "policy_forbidden: " + verdict.Reason, Assessment: assessment}, nil
		}
		if err == nil {
			requireApproval = verdict.RequireApproval
		}
	}

	// A policy-mandated approval only ever adds restriction: PLAN mode
	// never executes regardless. In AUTO and APPROVAL mode, forced=true
	// bypasses evaluateApproval's own low-risk fast path below, since the
	// policy specifically escalated this command past what Assess alone
	// would have allowed.
	if requireApproval && (mode == types.ModeAuto || mode == types.ModeApproval) {
		return g.evaluateApproval(ctx, incidentID, assessment, action, true)
	}

	switch mode {
	case types.ModePlan:
		return Decision{Execute: false, Reason: "plan_mode", Assessment: assessment}, nil

	case types.ModeAuto:
		return g.evaluateAuto(assessment, action, destructiveEnabled), nil

	case types.ModeApproval:
		return g.evaluateApproval(ctx, incidentID, assessment, action, false)

	default:
		return Decision{Execute: false, Reason: "unknown_operating_mode", Assessment: assessment}, nil
	}
}

func (g *Gate) evaluateAuto(assessment types.RiskAssessment, action types.ResolutionAction, destructiveEnabled bool) Decision {
	switch assessment.Level {
	case types.RiskLow:
		return Decision{Execute: true, Reason: "auto_low_risk", Assessment: assessment}
	case types.RiskMedium:
		if action.Confidence >= 0.7 {
			return Decision{Execute: true, Reason: "auto_medium_risk_high_confidence", Assessment: assessment}
		}
	case types.RiskHigh:
		// §9 Open Question: AUTO never executes risk=high while destructive
		// actions are disabled, even at high confidence.
		if action.Confidence >= 0.9 && destructiveEnabled {
			return Decision{Execute: true, Reason: "auto_high_risk_confident_and_destructive_enabled", Assessment: assessment}
		}
	}
	return Decision{Execute: false, Reason: "auto_policy_refused", Assessment: assessment}
}

func (g *Gate) evaluateApproval(ctx context.Context, incidentID string, assessment types.RiskAssessment, action types.ResolutionAction, forced bool) (Decision, error) {
	if assessment.Level == types.RiskLow && !forced {
		return Decision{Execute: true, Reason: "approval_mode_low_risk", Assessment: assessment}, nil
	}

	req, err := g.approvals.Request(ctx, incidentID, []types.ResolutionAction{action}, g.approvalTimeout)
	if err != nil {
		return Decision{}, err
	}

	status, err := g.approvals.Wait(ctx, req.ID, g.approvalTimeout)
	if err != nil {
		return Decision{Execute: false, Reason: "approval_wait_error", Assessment: assessment, RequiredApproval: &req}, err
	}

	req.Status = status
	switch status {
	case types.ApprovalApproved:
		return Decision{Execute: true, Reason: "approved", Assessment: assessment, RequiredApproval: &req}, nil
	case types.ApprovalRejected:
		return Decision{Execute: false, Reason: "rejected", Assessment: assessment, RequiredApproval: &req}, nil
	default:
		return Decision{Execute: false, Reason: "approval_expired", Assessment: assessment, RequiredApproval: &req}, nil
	}
}
