// Package pager implements the BackendAdapter contract against a
// PagerDuty-shaped incident paging API (§4.2), using
// github.com/PagerDuty/go-pagerduty: the Events API v2 client for
// acknowledge/resolve/trigger_event, and the REST API v2 client for
// add_note.
package pager

import (
	"context"
	"encoding/json"

	"github.com/PagerDuty/go-pagerduty"

	"github.com/oncallops/incident-core/internal/apperrors"
	"github.com/oncallops/incident-core/pkg/adapters"
)

// Config configures the adapter. RoutingKey is the Events API v2
// integration key; APIToken is the REST API v2 token used only for
// add_note, which operates on an incident rather than an event.
type Config struct {
	RoutingKey string
	APIToken   string
	ClientName string
}

type Adapter struct {
	routingKey string
	clientName string
	rest       *pagerduty.Client
}

func New(cfg Config) (*Adapter, error) {
	if cfg.RoutingKey == "" {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "pager: RoutingKey is required")
	}
	clientName := cfg.ClientName
	if clientName == "" {
		clientName = "incident-core"
	}
	var rest *pagerduty.Client
	if cfg.APIToken != "" {
		rest = pagerduty.NewClient(cfg.APIToken)
	}
	return &Adapter{routingKey: cfg.RoutingKey, clientName: clientName, rest: rest}, nil
}

func (a *Adapter) Name() string { return "pager" }

func (a *Adapter) Connect(context.Context) error    { return nil }
func (a *Adapter) Disconnect(context.Context) error { return nil }
func (a *Adapter) HealthCheck(context.Context) bool { return a.routingKey != "" }

func (a *Adapter) Capabilities() adapters.Capabilities {
	return adapters.Capabilities{
		ContextKinds: []string{},
		ActionKinds:  []string{"acknowledge", "resolve", "add_note", "trigger_event"},
	}
}

func (a *Adapter) FetchContext(context.Context, string, map[string]interface{}) (json.RawMessage, error) {
	return nil, apperrors.New(apperrors.ErrorTypeValidation, "pager: adapter has no context kinds, actions only")
}

func (a *Adapter) ExecuteAction(ctx context.Context, kind string, params map[string]interface{}) (adapters.ActionResult, error) {
	preview, err := a.PreviewCommand(ctx, kind, params)
	if err != nil {
		return adapters.ActionResult{}, err
	}
	if adapters.IsDryRun(params) {
		return adapters.ActionResult{DryRun: true, Data: map[string]interface{}{"preview": preview}}, nil
	}

	switch kind {
	case "acknowledge":
		return a.manageEvent(ctx, "acknowledge", params)
	case "resolve":
		return a.manageEvent(ctx, "resolve", params)
	case "trigger_event":
		return a.manageEvent(ctx, "trigger", params)
	case "add_note":
		return a.addNote(ctx, params)
	default:
		return adapters.ActionResult{}, apperrors.Newf(apperrors.ErrorTypeValidation, "pager: unsupported action kind %q", kind)
	}
}

func (a *Adapter) manageEvent(ctx context.Context, action string, params map[string]interface{}) (adapters.ActionResult, error) {
	dedupKey := stringParam(params, "dedup_key")
	event := pagerduty.V2Event{
		RoutingKey: a.routingKey,
		Action:     action,
		DedupKey:   dedupKey,
		Client:     a.clientName,
	}
	if action == "trigger" {
		summary := stringParam(params, "summary")
		if summary == "" {
			return adapters.ActionResult{}, apperrors.New(apperrors.ErrorTypeValidation, "trigger_event requires params.summary")
		}
		severity := stringParam(params, "severity")
		if severity == "" {
			severity = "warning"
		}
		event.Payload = &pagerduty.V2Payload{
			Summary:  summary,
			Source:   stringParam(params, "source"),
			Severity: severity,
		}
	} else if dedupKey == "" {
		return adapters.ActionResult{}, apperrors.Newf(apperrors.ErrorTypeValidation, "%s requires params.dedup_key", action)
	}

	resp, err := pagerduty.ManageEventWithContext(ctx, event)
	if err != nil {
		return adapters.ActionResult{}, apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "pager: %s event", action)
	}
	return adapters.ActionResult{Data: map[string]interface{}{"status": resp.Status, "dedup_key": resp.DedupKey}}, nil
}

func (a *Adapter) addNote(ctx context.Context, params map[string]interface{}) (adapters.ActionResult, error) {
	if a.rest == nil {
		return adapters.ActionResult{}, apperrors.New(apperrors.ErrorTypeValidation, "pager: add_note requires APIToken (REST API v2) to be configured")
	}
	incidentID := stringParam(params, "incident_id")
	content := stringParam(params, "content")
	if incidentID == "" || content == "" {
		return adapters.ActionResult{}, apperrors.New(apperrors.ErrorTypeValidation, "add_note requires params.incident_id and params.content")
	}
	note, err := a.rest.CreateIncidentNoteWithContext(ctx, incidentID, pagerduty.IncidentNote{Content: content})
	if err != nil {
		return adapters.ActionResult{}, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "pager: add_note")
	}
	return adapters.ActionResult{Data: map[string]interface{}{"id": note.ID, "content": note.Content}}, nil
}

// PreviewCommand renders the PagerDuty call ExecuteAction would issue, for
// CommandGate classification (§4.8 step 3; §9 Supplemented features).
func (a *Adapter) PreviewCommand(_ context.Context, kind string, params map[string]interface{}) (string, error) {
	switch kind {
	case "acknowledge", "resolve", "trigger_event":
		return "POST /v2/enqueue action=" + actionName(kind), nil
	case "add_note":
		return "POST /incidents/" + stringParam(params, "incident_id") + "/notes", nil
	default:
		return "", apperrors.Newf(apperrors.ErrorTypeValidation, "pager: unsupported action kind %q", kind)
	}
}

func actionName(kind string) string {
	if kind == "trigger_event" {
		return "trigger"
	}
	return kind
}

func stringParam(params map[string]interface{}, key string) string {
	v, _ := params[key].(string)
	return v
}
