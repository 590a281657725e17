// Package adapters defines the uniform BackendAdapter capability contract
// (§4.2) implemented by every concrete integration under its subpackages
// (kubernetes, sourcehosting, observability, documentation, pager).
package adapters

import (
	"context"
	"encoding/json"
)

// Capabilities is the static description an adapter reports so the
// IncidentCoordinator and ResolutionPlanner know which backends are
// relevant to a given AlertKind.
type Capabilities struct {
	ContextKinds []string
	ActionKinds  []string
	Features     []string
}

// ActionResult is the outcome of ExecuteAction. Data is adapter-shaped,
// opaque to the Executor beyond presence/absence. DryRun mirrors the
// request's dry_run flag back so callers can tell a real effect from a
// preview without inspecting Data.
type ActionResult struct {
	Data   map[string]interface{}
	DryRun bool
}

// BackendAdapter is the uniform contract every integration implements (§4.2).
// FetchContext MUST NOT mutate external state; ExecuteAction MAY. Params for
// ExecuteAction always carry an explicit "dry_run" bool.
type BackendAdapter interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	HealthCheck(ctx context.Context) bool
	Capabilities() Capabilities
	FetchContext(ctx context.Context, kind string, params map[string]interface{}) (json.RawMessage, error)
	ExecuteAction(ctx context.Context, kind string, params map[string]interface{}) (ActionResult, error)
	// PreviewCommand renders the effective command/request text ExecuteAction
	// would issue for (kind, params), without performing it, so CommandGate
	// can classify it (§4.8 step 3; §9 Supplemented features).
	PreviewCommand(ctx context.Context, kind string, params map[string]interface{}) (string, error)
}

// IsDryRun reads the conventional "dry_run" param, defaulting to false.
func IsDryRun(params map[string]interface{}) bool {
	v, ok := params["dry_run"].(bool)
	return ok && v
}

// IdempotencyKey reads the conventional "idempotency_key" param, used to
// decide whether a mutating ExecuteAction call may be retried (§4.2).
func IdempotencyKey(params map[string]interface{}) (string, bool) {
	v, ok := params["idempotency_key"].(string)
	return v, ok && v != ""
}
