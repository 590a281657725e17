package types

import "time"

// ApprovalStatus is the fixed one-shot-transition enumeration for an
// ApprovalRequest.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// ApprovalRequest is created in ApprovalPending; its Status transition is
// one-shot and monotonic (pending -> {approved, rejected, expired}).
type ApprovalRequest struct {
	ID          string             `json:"id"`
	IncidentID  string             `json:"incident_id"`
	ActionPlan  []ResolutionAction `json:"action_plan"`
	RequestedAt time.Time          `json:"requested_at"`
	TimeoutAt   time.Time          `json:"timeout_at"`
	Status      ApprovalStatus     `json:"status"`
	Comments    string             `json:"comments,omitempty"`
}

// IsTerminal reports whether the request has left ApprovalPending.
func (r ApprovalRequest) IsTerminal() bool {
	return r.Status != ApprovalPending
}
