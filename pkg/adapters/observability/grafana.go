package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/oncallops/incident-core/internal/apperrors"
)

// grafanaClient is a minimal client for the stable Grafana HTTP API
// surfaces this adapter needs (dashboard search, datasource listing). It is
// a thin hand-rolled REST client rather than a wrapper around a published
// Grafana SDK — see DESIGN.md for why.
type grafanaClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newGrafanaClient(baseURL, apiKey string, httpClient *http.Client) *grafanaClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &grafanaClient{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: httpClient}
}

func (c *grafanaClient) do(ctx context.Context, path string) (json.RawMessage, error) {
	if c.baseURL == "" {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "observability: GrafanaBaseURL is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "observability: build grafana request")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "observability: grafana request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, apperrors.Newf(apperrors.ErrorTypeNetwork, "observability: grafana returned status %d for %s", resp.StatusCode, path)
	}
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "observability: decode grafana response")
	}
	return raw, nil
}

func (c *grafanaClient) searchDashboards(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, "/api/search?type=dash-db")
}

func (c *grafanaClient) listDatasources(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, "/api/datasources")
}
