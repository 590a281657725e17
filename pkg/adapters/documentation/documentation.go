// Package documentation implements the BackendAdapter contract against a
// generic wiki-shaped HTTP API (search, get_page, create_page, append_blocks).
// No wiki/knowledge-base client library appears anywhere in the example
// corpus, so this adapter talks REST directly over net/http (see DESIGN.md).
// Per §4.2 it MUST tolerate the backend being offline, degrading every
// operation to a clearly flagged mock record rather than failing the
// containing incident.
package documentation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oncallops/incident-core/internal/apperrors"
	"github.com/oncallops/incident-core/pkg/adapters"
)

// Config configures the adapter. An empty BaseURL means "no wiki backend
// configured"; the adapter still satisfies the BackendAdapter contract and
// degrades every call to a mock record rather than erroring.
type Config struct {
	BaseURL    string
	APIToken   string
	HTTPClient *http.Client
	Timeout    time.Duration
	Log        *logrus.Logger
}

type Adapter struct {
	baseURL string
	token   string
	http    *http.Client
	timeout time.Duration
	offline bool
	log     *logrus.Logger
}

func New(cfg Config) *Adapter {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Adapter{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.APIToken,
		http:    httpClient,
		timeout: timeout,
		offline: cfg.BaseURL == "",
		log:     log,
	}
}

func (a *Adapter) Name() string { return "documentation" }

func (a *Adapter) Connect(ctx context.Context) error {
	if a.offline {
		return nil // offline by configuration; tolerated, not an error (§4.2)
	}
	if !a.probe(ctx) {
		a.log.Warn("documentation backend unreachable, degrading to mock mode")
		a.offline = true
	}
	return nil
}

func (a *Adapter) Disconnect(context.Context) error { return nil }

func (a *Adapter) HealthCheck(ctx context.Context) bool {
	if a.offline {
		return false
	}
	return a.probe(ctx)
}

func (a *Adapter) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/ping", nil)
	if err != nil {
		return false
	}
	a.authorize(req)
	resp, err := a.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 300
}

func (a *Adapter) authorize(req *http.Request) {
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
}

func (a *Adapter) Capabilities() adapters.Capabilities {
	return adapters.Capabilities{
		ContextKinds: []string{"search", "get_page"},
		ActionKinds:  []string{"create_page", "append_blocks"},
		Features:     []string{"offline_degrade"},
	}
}

func (a *Adapter) FetchContext(ctx context.Context, kind string, params map[string]interface{}) (json.RawMessage, error) {
	if a.offline {
		return a.mockContext(kind, params), nil
	}
	switch kind {
	case "search":
		return a.doGet(ctx, "/api/search?q="+queryParam(params, "query"))
	case "get_page":
		return a.doGet(ctx, "/api/pages/"+queryParam(params, "page_id"))
	default:
		return nil, apperrors.Newf(apperrors.ErrorTypeValidation, "documentation: unsupported context kind %q", kind)
	}
}

func (a *Adapter) ExecuteAction(ctx context.Context, kind string, params map[string]interface{}) (adapters.ActionResult, error) {
	if adapters.IsDryRun(params) {
		preview, err := a.PreviewCommand(ctx, kind, params)
		if err != nil {
			return adapters.ActionResult{}, err
		}
		return adapters.ActionResult{DryRun: true, Data: map[string]interface{}{"preview": preview}}, nil
	}
	if a.offline {
		return a.mockAction(kind, params), nil
	}

	switch kind {
	case "create_page":
		return a.doPost(ctx, "/api/pages", params)
	case "append_blocks":
		pageID := queryParam(params, "page_id")
		return a.doPost(ctx, "/api/pages/"+pageID+"/blocks", params)
	default:
		return adapters.ActionResult{}, apperrors.Newf(apperrors.ErrorTypeValidation, "documentation: unsupported action kind %q", kind)
	}
}

func (a *Adapter) PreviewCommand(_ context.Context, kind string, params map[string]interface{}) (string, error) {
	switch kind {
	case "create_page":
		return "POST " + a.baseURL + "/api/pages title=" + queryParam(params, "title"), nil
	case "append_blocks":
		return "POST " + a.baseURL + "/api/pages/" + queryParam(params, "page_id") + "/blocks", nil
	default:
		return "", apperrors.Newf(apperrors.ErrorTypeValidation, "documentation: unsupported action kind %q", kind)
	}
}

func (a *Adapter) doGet(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	a.authorize(req)
	resp, err := a.http.Do(req)
	if err != nil {
		a.offline = true
		return a.mockContext("search", nil), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, apperrors.Newf(apperrors.ErrorTypeNetwork, "documentation: backend returned status %s", resp.Status)
	}
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (a *Adapter) doPost(ctx context.Context, path string, params map[string]interface{}) (adapters.ActionResult, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return adapters.ActionResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return adapters.ActionResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	a.authorize(req)

	resp, err := a.http.Do(req)
	if err != nil {
		a.offline = true
		return a.mockAction(path, params), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return adapters.ActionResult{}, apperrors.Newf(apperrors.ErrorTypeNetwork, "documentation: backend returned status %s", resp.Status)
	}
	var data map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&data)
	return adapters.ActionResult{Data: data}, nil
}

// mockContext and mockAction implement the §4.2 tolerance requirement: a
// documentation backend that is offline, unconfigured, or unreachable never
// fails the containing incident. Callers can distinguish a mock from a real
// record via the "mock": true field.
func (a *Adapter) mockContext(kind string, params map[string]interface{}) json.RawMessage {
	payload, _ := json.Marshal(map[string]interface{}{
		"mock": true,
		"kind": kind,
		"note": "documentation backend offline; no runbook content available",
	})
	return payload
}

func (a *Adapter) mockAction(kind string, params map[string]interface{}) adapters.ActionResult {
	return adapters.ActionResult{Data: map[string]interface{}{
		"mock": true,
		"kind": kind,
		"note": "documentation backend offline; action recorded as a no-op",
	}}
}

func queryParam(params map[string]interface{}, key string) string {
	v, _ := params[key].(string)
	return v
}
