// Package observability implements the BackendAdapter contract against a
// Prometheus-shaped metrics/alerting API (metrics_query, alerts) and a
// Grafana-shaped dashboard/datasource catalog (dashboards, datasources).
// §4.2 describes this adapter's actions as "primarily read-only"; no
// mutating action kind is currently wired.
package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"

	"github.com/oncallops/incident-core/internal/apperrors"
	"github.com/oncallops/incident-core/pkg/adapters"
)

// Config configures the adapter. GrafanaClient defaults to http.DefaultClient
// and is overridable so tests can redirect it at an httptest.Server.
type Config struct {
	PrometheusAddress string
	GrafanaBaseURL    string
	GrafanaAPIKey     string
	GrafanaClient     *http.Client
}

// Adapter is the observability BackendAdapter implementation.
type Adapter struct {
	promAPI promv1.API
	grafana *grafanaClient
}

func New(cfg Config) (*Adapter, error) {
	if cfg.PrometheusAddress == "" {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "observability: PrometheusAddress is required")
	}
	client, err := promapi.NewClient(promapi.Config{Address: cfg.PrometheusAddress})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "observability: construct prometheus client")
	}
	return &Adapter{
		promAPI: promv1.NewAPI(client),
		grafana: newGrafanaClient(cfg.GrafanaBaseURL, cfg.GrafanaAPIKey, cfg.GrafanaClient),
	}, nil
}

func (a *Adapter) Name() string { return "observability" }

func (a *Adapter) Connect(ctx context.Context) error {
	_, err := a.promAPI.Runtimeinfo(ctx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "observability: connect")
	}
	return nil
}

func (a *Adapter) Disconnect(context.Context) error { return nil }

func (a *Adapter) HealthCheck(ctx context.Context) bool {
	_, err := a.promAPI.Runtimeinfo(ctx)
	return err == nil
}

func (a *Adapter) Capabilities() adapters.Capabilities {
	return adapters.Capabilities{
		ContextKinds: []string{"dashboards", "metrics_query", "alerts", "datasources"},
		ActionKinds:  []string{},
		Features:     []string{"retry"},
	}
}

func (a *Adapter) FetchContext(ctx context.Context, kind string, params map[string]interface{}) (json.RawMessage, error) {
	policy := adapters.DefaultRetryPolicy()
	switch kind {
	case "metrics_query":
		return adapters.WithRetry(ctx, policy, func() (json.RawMessage, error) { return a.fetchMetricsQuery(ctx, params) })
	case "alerts":
		return adapters.WithRetry(ctx, policy, func() (json.RawMessage, error) { return a.fetchAlerts(ctx) })
	case "dashboards":
		return adapters.WithRetry(ctx, policy, func() (json.RawMessage, error) { return a.grafana.searchDashboards(ctx) })
	case "datasources":
		return adapters.WithRetry(ctx, policy, func() (json.RawMessage, error) { return a.grafana.listDatasources(ctx) })
	default:
		return nil, apperrors.Newf(apperrors.ErrorTypeValidation, "observability: unsupported context kind %q", kind)
	}
}

func (a *Adapter) fetchMetricsQuery(ctx context.Context, params map[string]interface{}) (json.RawMessage, error) {
	query, _ := params["query"].(string)
	if query == "" {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "metrics_query requires params.query")
	}
	value, warnings, err := a.promAPI.Query(ctx, query, time.Now())
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "fetch metrics_query")
	}
	return json.Marshal(map[string]interface{}{
		"result":   value.String(),
		"warnings": []string(warnings),
	})
}

func (a *Adapter) fetchAlerts(ctx context.Context) (json.RawMessage, error) {
	result, err := a.promAPI.Alerts(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "fetch alerts")
	}
	out := make([]map[string]interface{}, 0, len(result.Alerts))
	for _, al := range result.Alerts {
		out = append(out, map[string]interface{}{
			"labels": al.Labels,
			"state":  string(al.State),
			"active_at": al.ActiveAt,
		})
	}
	return json.Marshal(map[string]interface{}{"alerts": out})
}

// ExecuteAction always refuses: this adapter is read-only per §4.2.
func (a *Adapter) ExecuteAction(_ context.Context, kind string, _ map[string]interface{}) (adapters.ActionResult, error) {
	return adapters.ActionResult{}, apperrors.Newf(apperrors.ErrorTypeValidation, "observability: adapter is read-only, unsupported action kind %q", kind)
}

// PreviewCommand has nothing to preview since ExecuteAction never mutates.
func (a *Adapter) PreviewCommand(_ context.Context, kind string, _ map[string]interface{}) (string, error) {
	return "", apperrors.Newf(apperrors.ErrorTypeValidation, "observability: adapter is read-only, unsupported action kind %q", kind)
}
