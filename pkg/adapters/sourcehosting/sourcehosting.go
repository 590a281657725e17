// Package sourcehosting implements the BackendAdapter contract against a
// GitHub-shaped source-hosting API (§4.2), using github.com/google/go-github
// as the REST client.
package sourcehosting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v73/github"

	"github.com/oncallops/incident-core/internal/apperrors"
	"github.com/oncallops/incident-core/pkg/adapters"
)

// Config configures the adapter. HTTPClient is overridable so tests can
// point it at an httptest.Server; production callers leave it nil and rely
// on Token for auth.
type Config struct {
	Owner      string
	Repo       string
	Token      string
	BaseURL    string // overrides github.com, e.g. for httptest or GHE
	HTTPClient *http.Client
	Cache      *CloneCache // optional deeper-mode clone cache
}

// Adapter is the source-hosting BackendAdapter implementation.
type Adapter struct {
	owner  string
	repo   string
	client *github.Client
	cache  *CloneCache
}

// New constructs an Adapter. cfg.Cache is kept on the Adapter, but no
// method reads it: FetchContext serves every context kind
// (repo_info/commits_since/etc) from the REST API whether or not a cache
// is given.
func New(cfg Config) (*Adapter, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "sourcehosting: owner and repo are required")
	}
	client := github.NewClient(cfg.HTTPClient)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		base, err := parseBaseURL(cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		client.BaseURL = base
	}
	return &Adapter{owner: cfg.Owner, repo: cfg.Repo, client: client, cache: cfg.Cache}, nil
}

func (a *Adapter) Name() string { return "sourcehosting" }

func (a *Adapter) Connect(ctx context.Context) error {
	_, _, err := a.client.Repositories.Get(ctx, a.owner, a.repo)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "sourcehosting: connect")
	}
	return nil
}

func (a *Adapter) Disconnect(context.Context) error { return nil }

func (a *Adapter) HealthCheck(ctx context.Context) bool {
	_, _, err := a.client.Repositories.Get(ctx, a.owner, a.repo)
	return err == nil
}

func (a *Adapter) Capabilities() adapters.Capabilities {
	return adapters.Capabilities{
		ContextKinds: []string{"repo_info", "commits_since", "open_issues", "pull_requests", "workflow_runs", "file_contents", "code_search"},
		ActionKinds:  []string{"create_issue", "add_comment"},
		Features:     []string{"retry", "clone_cache"},
	}
}

func (a *Adapter) FetchContext(ctx context.Context, kind string, params map[string]interface{}) (json.RawMessage, error) {
	policy := adapters.DefaultRetryPolicy()
	switch kind {
	case "repo_info":
		return adapters.WithRetry(ctx, policy, func() (json.RawMessage, error) { return a.fetchRepoInfo(ctx) })
	case "commits_since":
		return adapters.WithRetry(ctx, policy, func() (json.RawMessage, error) { return a.fetchCommitsSince(ctx, params) })
	case "open_issues":
		return adapters.WithRetry(ctx, policy, func() (json.RawMessage, error) { return a.fetchOpenIssues(ctx) })
	case "pull_requests":
		return adapters.WithRetry(ctx, policy, func() (json.RawMessage, error) { return a.fetchPullRequests(ctx) })
	case "workflow_runs":
		return adapters.WithRetry(ctx, policy, func() (json.RawMessage, error) { return a.fetchWorkflowRuns(ctx) })
	case "file_contents":
		return adapters.WithRetry(ctx, policy, func() (json.RawMessage, error) { return a.fetchFileContents(ctx, params) })
	case "code_search":
		return adapters.WithRetry(ctx, policy, func() (json.RawMessage, error) { return a.fetchCodeSearch(ctx, params) })
	default:
		return nil, apperrors.Newf(apperrors.ErrorTypeValidation, "sourcehosting: unsupported context kind %q", kind)
	}
}

func (a *Adapter) fetchRepoInfo(ctx context.Context) (json.RawMessage, error) {
	repo, _, err := a.client.Repositories.Get(ctx, a.owner, a.repo)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "fetch repo_info")
	}
	return json.Marshal(map[string]interface{}{
		"full_name":      repo.GetFullName(),
		"default_branch": repo.GetDefaultBranch(),
		"open_issues":    repo.GetOpenIssuesCount(),
		"archived":       repo.GetArchived(),
		"pushed_at":      repo.GetPushedAt().String(),
		"html_url":       repo.GetHTMLURL(),
	})
}

func (a *Adapter) fetchCommitsSince(ctx context.Context, params map[string]interface{}) (json.RawMessage, error) {
	since := stringParam(params, "since")
	opts := &github.CommitsListOptions{}
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err == nil {
			opts.Since = t
		}
	}
	commits, _, err := a.client.Repositories.ListCommits(ctx, a.owner, a.repo, opts)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "fetch commits_since")
	}
	out := make([]map[string]interface{}, 0, len(commits))
	for _, c := range commits {
		out = append(out, map[string]interface{}{
			"sha":     c.GetSHA(),
			"message": c.GetCommit().GetMessage(),
			"author":  c.GetCommit().GetAuthor().GetName(),
		})
	}
	return json.Marshal(map[string]interface{}{"commits": out})
}

func (a *Adapter) fetchOpenIssues(ctx context.Context) (json.RawMessage, error) {
	issues, _, err := a.client.Issues.ListByRepo(ctx, a.owner, a.repo, &github.IssueListByRepoOptions{State: "open"})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "fetch open_issues")
	}
	out := make([]map[string]interface{}, 0, len(issues))
	for _, i := range issues {
		if i.IsPullRequest() {
			continue
		}
		out = append(out, map[string]interface{}{"number": i.GetNumber(), "title": i.GetTitle(), "labels": labelNames(i.Labels)})
	}
	return json.Marshal(map[string]interface{}{"issues": out})
}

func (a *Adapter) fetchPullRequests(ctx context.Context) (json.RawMessage, error) {
	prs, _, err := a.client.PullRequests.List(ctx, a.owner, a.repo, &github.PullRequestListOptions{State: "open"})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "fetch pull_requests")
	}
	out := make([]map[string]interface{}, 0, len(prs))
	for _, p := range prs {
		out = append(out, map[string]interface{}{"number": p.GetNumber(), "title": p.GetTitle(), "mergeable": p.GetMergeable()})
	}
	return json.Marshal(map[string]interface{}{"pull_requests": out})
}

func (a *Adapter) fetchWorkflowRuns(ctx context.Context) (json.RawMessage, error) {
	runs, _, err := a.client.Actions.ListRepositoryWorkflowRuns(ctx, a.owner, a.repo, &github.ListWorkflowRunsOptions{})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "fetch workflow_runs")
	}
	out := make([]map[string]interface{}, 0, len(runs.WorkflowRuns))
	for _, r := range runs.WorkflowRuns {
		out = append(out, map[string]interface{}{"id": r.GetID(), "status": r.GetStatus(), "conclusion": r.GetConclusion(), "name": r.GetName()})
	}
	return json.Marshal(map[string]interface{}{"workflow_runs": out})
}

func (a *Adapter) fetchFileContents(ctx context.Context, params map[string]interface{}) (json.RawMessage, error) {
	path := stringParam(params, "path")
	if path == "" {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "file_contents requires params.path")
	}
	ref := stringParam(params, "ref")
	var opts *github.RepositoryContentGetOptions
	if ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: ref}
	}
	content, _, _, err := a.client.Repositories.GetContents(ctx, a.owner, a.repo, path, opts)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "fetch file_contents")
	}
	decoded, err := content.GetContent()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "decode file_contents")
	}
	return json.Marshal(map[string]interface{}{"path": path, "content": decoded})
}

func (a *Adapter) fetchCodeSearch(ctx context.Context, params map[string]interface{}) (json.RawMessage, error) {
	query := stringParam(params, "query")
	if query == "" {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "code_search requires params.query")
	}
	q := query + " repo:" + a.owner + "/" + a.repo
	result, _, err := a.client.Search.Code(ctx, q, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "fetch code_search")
	}
	out := make([]map[string]interface{}, 0, len(result.CodeResults))
	for _, r := range result.CodeResults {
		out = append(out, map[string]interface{}{"path": r.GetPath(), "sha": r.GetSHA()})
	}
	return json.Marshal(map[string]interface{}{"total_count": result.GetTotal(), "items": out})
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
	case "create_issue":
		return a.createIssue(ctx, params)
	case "add_comment":
		return a.addComment(ctx, params)
	default:
		return adapters.ActionResult{}, apperrors.Newf(apperrors.ErrorTypeValidation, "sourcehosting: unsupported action kind %q", kind)
	}
}

func (a *Adapter) createIssue(ctx context.Context, params map[string]interface{}) (adapters.ActionResult, error) {
	title := stringParam(params, "title")
	if title == "" {
		return adapters.ActionResult{}, apperrors.New(apperrors.ErrorTypeValidation, "create_issue requires params.title")
	}
	body := stringParam(params, "body")
	issue, _, err := a.client.Issues.Create(ctx, a.owner, a.repo, &github.IssueRequest{Title: &title, Body: &body})
	if err != nil {
		return adapters.ActionResult{}, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "create_issue")
	}
	return adapters.ActionResult{Data: map[string]interface{}{"number": issue.GetNumber(), "html_url": issue.GetHTMLURL()}}, nil
}

func (a *Adapter) addComment(ctx context.Context, params map[string]interface{}) (adapters.ActionResult, error) {
	number := intParam(params, "issue_number")
	body := stringParam(params, "body")
	if number == 0 || body == "" {
		return adapters.ActionResult{}, apperrors.New(apperrors.ErrorTypeValidation, "add_comment requires params.issue_number and params.body")
	}
	comment, _, err := a.client.Issues.CreateComment(ctx, a.owner, a.repo, number, &github.IssueComment{Body: &body})
	if err != nil {
		return adapters.ActionResult{}, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "add_comment")
	}
	return adapters.ActionResult{Data: map[string]interface{}{"id": comment.GetID(), "html_url": comment.GetHTMLURL()}}, nil
}

// PreviewCommand renders the GitHub REST call ExecuteAction would issue, for
// CommandGate classification (§4.8 step 3; §9 Supplemented features).
func (a *Adapter) PreviewCommand(_ context.Context, kind string, params map[string]interface{}) (string, error) {
	switch kind {
	case "create_issue":
		return "POST /repos/" + a.owner + "/" + a.repo + "/issues title=" + stringParam(params, "title"), nil
	case "add_comment":
		return "POST /repos/" + a.owner + "/" + a.repo + "/issues/" + strconv.Itoa(intParam(params, "issue_number")) + "/comments", nil
	default:
		return "", apperrors.Newf(apperrors.ErrorTypeValidation, "sourcehosting: unsupported action kind %q", kind)
	}
}

func labelNames(labels []*github.Label) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, l.GetName())
	}
	return out
}

func stringParam(params map[string]interface{}, key string) string {
	v, _ := params[key].(string)
	return v
}

func intParam(params map[string]interface{}, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "sourcehosting: invalid base URL")
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u, nil
}
