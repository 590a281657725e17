package observability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncallops/incident-core/pkg/adapters/observability"
)

func newTestPrometheus(t *testing.T, mux *http.ServeMux) string {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestAdapter_Capabilities(t *testing.T) {
	mux := http.NewServeMux()
	a, err := observability.New(observability.Config{PrometheusAddress: newTestPrometheus(t, mux)})
	require.NoError(t, err)

	caps := a.Capabilities()
	assert.Contains(t, caps.ContextKinds, "metrics_query")
	assert.Contains(t, caps.ContextKinds, "alerts")
	assert.Contains(t, caps.ContextKinds, "dashboards")
	assert.Empty(t, caps.ActionKinds, "observability adapter is read-only")
}

func TestAdapter_FetchContext_MetricsQuery(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/query", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[{"metric":{"__name__":"up"},"value":[1700000000,"1"]}]}}`))
	})
	a, err := observability.New(observability.Config{PrometheusAddress: newTestPrometheus(t, mux)})
	require.NoError(t, err)

	payload, err := a.FetchContext(context.Background(), "metrics_query", map[string]interface{}{"query": "up"})
	require.NoError(t, err)
	assert.Contains(t, string(payload), "result")
}

func TestAdapter_FetchContext_MetricsQueryRequiresQuery(t *testing.T) {
	mux := http.NewServeMux()
	a, err := observability.New(observability.Config{PrometheusAddress: newTestPrometheus(t, mux)})
	require.NoError(t, err)

	_, err = a.FetchContext(context.Background(), "metrics_query", nil)
	assert.Error(t, err)
}

func TestAdapter_FetchContext_Alerts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":{"alerts":[{"labels":{"alertname":"HighMemory"},"state":"firing","activeAt":"2026-07-30T00:00:00Z","value":"1"}]}}`))
	})
	a, err := observability.New(observability.Config{PrometheusAddress: newTestPrometheus(t, mux)})
	require.NoError(t, err)

	payload, err := a.FetchContext(context.Background(), "alerts", nil)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "HighMemory")
	assert.Contains(t, string(payload), "firing")
}

func TestAdapter_FetchContext_Dashboards(t *testing.T) {
	promMux := http.NewServeMux()
	grafanaMux := http.NewServeMux()
	grafanaMux.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dash-db", r.URL.Query().Get("type"))
		_, _ = w.Write([]byte(`[{"id":1,"uid":"abc","title":"Checkout Overview"}]`))
	})
	grafanaSrv := httptest.NewServer(grafanaMux)
	t.Cleanup(grafanaSrv.Close)

	a, err := observability.New(observability.Config{
		PrometheusAddress: newTestPrometheus(t, promMux),
		GrafanaBaseURL:    grafanaSrv.URL,
	})
	require.NoError(t, err)

	payload, err := a.FetchContext(context.Background(), "dashboards", nil)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "Checkout Overview")
}

func TestAdapter_FetchContext_DatasourcesWithoutGrafanaConfigured(t *testing.T) {
	mux := http.NewServeMux()
	a, err := observability.New(observability.Config{PrometheusAddress: newTestPrometheus(t, mux)})
	require.NoError(t, err)

	_, err = a.FetchContext(context.Background(), "datasources", nil)
	assert.Error(t, err, "datasources requires GrafanaBaseURL to be configured")
}

func TestAdapter_FetchContext_UnsupportedKind(t *testing.T) {
	mux := http.NewServeMux()
	a, err := observability.New(observability.Config{PrometheusAddress: newTestPrometheus(t, mux)})
	require.NoError(t, err)

	_, err = a.FetchContext(context.Background(), "bogus", nil)
	assert.Error(t, err)
}

func TestAdapter_ExecuteAction_AlwaysRefuses(t *testing.T) {
	mux := http.NewServeMux()
	a, err := observability.New(observability.Config{PrometheusAddress: newTestPrometheus(t, mux)})
	require.NoError(t, err)

	_, err = a.ExecuteAction(context.Background(), "anything", nil)
	assert.Error(t, err)
}

func TestNew_RequiresPrometheusAddress(t *testing.T) {
	_, err := observability.New(observability.Config{})
	assert.Error(t, err)
}
