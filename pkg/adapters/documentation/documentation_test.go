package documentation_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncallops/incident-core/pkg/adapters/documentation"
)

func TestAdapter_Capabilities(t *testing.T) {
	a := documentation.New(documentation.Config{})
	caps := a.Capabilities()
	assert.Contains(t, caps.ContextKinds, "search")
	assert.Contains(t, caps.ActionKinds, "create_page")
}

func TestAdapter_UnconfiguredBackendDegradesToMock(t *testing.T) {
	a := documentation.New(documentation.Config{})
	require.NoError(t, a.Connect(context.Background()))
	assert.False(t, a.HealthCheck(context.Background()))

	payload, err := a.FetchContext(context.Background(), "search", map[string]interface{}{"query": "oom"})
	require.NoError(t, err, "an unconfigured backend must never fail FetchContext")
	assert.Contains(t, string(payload), `"mock":true`)
}

func TestAdapter_UnconfiguredBackendMockActionNeverErrors(t *testing.T) {
	a := documentation.New(documentation.Config{})

	result, err := a.ExecuteAction(context.Background(), "create_page", map[string]interface{}{"title": "postmortem"})
	require.NoError(t, err)
	assert.Equal(t, true, result.Data["mock"])
}

func TestAdapter_UnreachableBackendDegradesRatherThanErrors(t *testing.T) {
	a := documentation.New(documentation.Config{BaseURL: "http://127.0.0.1:0"})

	payload, err := a.FetchContext(context.Background(), "search", map[string]interface{}{"query": "oom"})
	require.NoError(t, err, "an unreachable backend must degrade, not error")
	assert.Contains(t, string(payload), "mock")
}

func TestAdapter_FetchContext_SearchHitsConfiguredBackend(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "oom", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"title":"OOM runbook"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	a := documentation.New(documentation.Config{BaseURL: srv.URL})
	payload, err := a.FetchContext(context.Background(), "search", map[string]interface{}{"query": "oom"})
	require.NoError(t, err)
	assert.Contains(t, string(payload), "OOM runbook")
}

func TestAdapter_ExecuteAction_DryRunNeverHitsBackend(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/pages", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("dry_run must not hit the pages endpoint")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	a := documentation.New(documentation.Config{BaseURL: srv.URL})
	result, err := a.ExecuteAction(context.Background(), "create_page", map[string]interface{}{
		"title": "postmortem", "dry_run": true,
	})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
}

func TestAdapter_ExecuteAction_CreatePageHitsConfiguredBackend(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/pages", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"page_id":"p-1"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	a := documentation.New(documentation.Config{BaseURL: srv.URL})
	result, err := a.ExecuteAction(context.Background(), "create_page", map[string]interface{}{"title": "postmortem"})
	require.NoError(t, err)
	assert.Equal(t, "p-1", result.Data["page_id"])
}
