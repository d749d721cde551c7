package tracker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ShayCichocki/crew/pkg/models"
)

const (
	defaultAPIEndpoint  = "https://api.github.com"
	defaultBranch       = "main"
	maxReadResponseSize = 8 << 20
	issuesPerPage       = 100
)

// HTTPClient is the subset of *http.Client used by GitHub.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// GitHubConfig configures the GitHub backend.
type GitHubConfig struct {
	Owner       string
	Repo        string
	Token       string
	APIEndpoint string
	// Branch receives artifacts and is the release target.
	Branch     string
	HTTPClient HTTPClient
}

// GitHub implements Backend on top of the GitHub REST API.
type GitHub struct {
	owner       string
	repo        string
	token       string
	apiEndpoint string
	branch      string
	client      HTTPClient
}

type githubIssuePayload struct {
	Number      int                  `json:"number"`
	Title       string               `json:"title"`
	Body        string               `json:"body"`
	State       string               `json:"state"`
	Labels      []githubLabelPayload `json:"labels"`
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request"`
}

type githubLabelPayload struct {
	Name string `json:"name"`
}

type githubContentPayload struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type githubReleasePayload struct {
	ID        int64  `json:"id"`
	TagName   string `json:"tag_name"`
	Name      string `json:"name"`
	UploadURL string `json:"upload_url"`
}

// APIError is a non-2xx response from GitHub.
type APIError struct {
	Op      string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: request failed with status %d: %s", e.Op, e.Status, e.Message)
}

// NewGitHub validates cfg and returns a GitHub backend. It performs no network calls; see Probe.
func NewGitHub(cfg GitHubConfig) (*GitHub, error) {
	owner := strings.TrimSpace(cfg.Owner)
	if owner == "" {
		return nil, errors.New("github owner is required")
	}
	repo := strings.TrimSpace(cfg.Repo)
	if repo == "" {
		return nil, errors.New("github repository is required")
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("github auth token is required")
	}

	endpoint := strings.TrimSpace(cfg.APIEndpoint)
	if endpoint == "" {
		endpoint = defaultAPIEndpoint
	}
	branch := strings.TrimSpace(cfg.Branch)
	if branch == "" {
		branch = defaultBranch
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &GitHub{
		owner:       owner,
		repo:        repo,
		token:       token,
		apiEndpoint: strings.TrimRight(endpoint, "/"),
		branch:      branch,
		client:      client,
	}, nil
}

// Probe checks that the token can read the configured repository.
func (g *GitHub) Probe(ctx context.Context) error {
	var probe struct {
		FullName string `json:"full_name"`
	}
	status, body, err := g.do(ctx, http.MethodGet, g.repoURL(""), nil)
	if err != nil {
		return fmt.Errorf("github auth validation failed: %w", err)
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("github auth validation failed: %w", apiError("probe", status, body))
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return fmt.Errorf("github auth validation failed: cannot parse probe response: %w", err)
	}
	expected := strings.ToLower(g.owner + "/" + g.repo)
	if strings.ToLower(strings.TrimSpace(probe.FullName)) != expected {
		return fmt.Errorf("github auth validation failed: expected repository %q, got %q", expected, probe.FullName)
	}
	return nil
}

// CreateTask opens an issue.
func (g *GitHub) CreateTask(ctx context.Context, draft models.TaskDraft) (models.Task, error) {
	labels := draft.Labels
	if labels == nil {
		labels = []string{}
	}
	payload := map[string]any{"title": draft.Title, "body": draft.Body, "labels": labels}

	var issue githubIssuePayload
	if err := g.call(ctx, "create issue", http.MethodPost, g.repoURL("/issues"), payload, &issue); err != nil {
		return models.Task{}, err
	}
	return taskFromIssue(issue), nil
}

// ListOpenTasks pages through open issues, skipping pull requests.
func (g *GitHub) ListOpenTasks(ctx context.Context) ([]models.Task, error) {
	tasks := []models.Task{}
	for page := 1; ; page++ {
		requestURL := g.repoURL("/issues") + "?state=open&per_page=" + strconv.Itoa(issuesPerPage) + "&page=" + strconv.Itoa(page)
		var pageIssues []githubIssuePayload
		if err := g.call(ctx, fmt.Sprintf("list issues page %d", page), http.MethodGet, requestURL, nil, &pageIssues); err != nil {
			return nil, err
		}
		for _, issue := range pageIssues {
			if issue.PullRequest != nil {
				continue
			}
			tasks = append(tasks, taskFromIssue(issue))
		}
		if len(pageIssues) < issuesPerPage {
			break
		}
	}
	return tasks, nil
}

// UpdateLabels replaces the labels of an issue.
func (g *GitHub) UpdateLabels(ctx context.Context, id int, labels []string) error {
	if labels == nil {
		labels = []string{}
	}
	op := fmt.Sprintf("update labels of issue %d", id)
	return g.call(ctx, op, http.MethodPatch, g.issueURL(id, ""), map[string]any{"labels": labels}, nil)
}

// CloseTask closes an issue.
func (g *GitHub) CloseTask(ctx context.Context, id int) error {
	op := fmt.Sprintf("close issue %d", id)
	return g.call(ctx, op, http.MethodPatch, g.issueURL(id, ""), map[string]any{"state": "closed"}, nil)
}

// Comment adds a comment to an issue.
func (g *GitHub) Comment(ctx context.Context, id int, body string) error {
	op := fmt.Sprintf("comment on issue %d", id)
	return g.call(ctx, op, http.MethodPost, g.issueURL(id, "/comments"), map[string]any{"body": body}, nil)
}

// GetArtifact reads a file through the contents API on the configured branch.
func (g *GitHub) GetArtifact(ctx context.Context, path string) (string, bool, error) {
	content, found, err := g.content(ctx, path)
	if err != nil || !found {
		return "", found, err
	}
	if content.Encoding != "" && content.Encoding != "base64" {
		return "", false, fmt.Errorf("get artifact %s: unsupported encoding %q", path, content.Encoding)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
	if err != nil {
		return "", false, fmt.Errorf("get artifact %s: decode content: %w", path, err)
	}
	return string(decoded), true, nil
}

// PutArtifact creates or updates a file through the contents API.
func (g *GitHub) PutArtifact(ctx context.Context, path, content, message string) error {
	existing, found, err := g.content(ctx, path)
	if err != nil {
		return err
	}
	if message == "" {
		message = "Update " + path
	}
	payload := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  g.branch,
	}
	if found {
		payload["sha"] = existing.SHA
	}
	return g.call(ctx, "put artifact "+path, http.MethodPut, g.contentsURL(path), payload, nil)
}

func (g *GitHub) content(ctx context.Context, path string) (githubContentPayload, bool, error) {
	var content githubContentPayload
	requestURL := g.contentsURL(path) + "?ref=" + url.QueryEscape(g.branch)
	status, body, err := g.do(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return content, false, fmt.Errorf("get artifact %s: %w", path, err)
	}
	if status == http.StatusNotFound {
		return content, false, nil
	}
	if status >= http.StatusBadRequest {
		return content, false, apiError("get artifact "+path, status, body)
	}
	if err := json.Unmarshal(body, &content); err != nil {
		return content, false, fmt.Errorf("get artifact %s: cannot parse response: %w", path, err)
	}
	return content, true, nil
}

// HeadCommit returns the SHA at the head of the configured branch.
func (g *GitHub) HeadCommit(ctx context.Context) (string, bool, error) {
	status, body, err := g.do(ctx, http.MethodGet, g.repoURL("/commits/"+url.PathEscape(g.branch)), nil)
	if err != nil {
		return "", false, fmt.Errorf("get head commit: %w", err)
	}
	// An empty repository answers 409.
	if status == http.StatusNotFound || status == http.StatusConflict {
		return "", false, nil
	}
	if status >= http.StatusBadRequest {
		return "", false, apiError("get head commit", status, body)
	}
	var commit struct {
		SHA string `json:"sha"`
	}
	if err := json.Unmarshal(body, &commit); err != nil {
		return "", false, fmt.Errorf("get head commit: cannot parse response: %w", err)
	}
	return commit.SHA, commit.SHA != "", nil
}

// ListTags returns the tags of existing releases.
func (g *GitHub) ListTags(ctx context.Context) ([]string, error) {
	var tags []string
	for page := 1; ; page++ {
		requestURL := g.repoURL("/releases") + "?per_page=" + strconv.Itoa(issuesPerPage) + "&page=" + strconv.Itoa(page)
		var releases []githubReleasePayload
		if err := g.call(ctx, fmt.Sprintf("list releases page %d", page), http.MethodGet, requestURL, nil, &releases); err != nil {
			return nil, err
		}
		for _, r := range releases {
			if r.TagName != "" {
				tags = append(tags, r.TagName)
			}
		}
		if len(releases) < issuesPerPage {
			break
		}
	}
	return tags, nil
}

// CreateRelease publishes a release targeting the configured branch.
func (g *GitHub) CreateRelease(ctx context.Context, tag, name, body string) (Release, error) {
	payload := map[string]any{
		"tag_name":         tag,
		"target_commitish": g.branch,
		"name":             name,
		"body":             body,
		"draft":            false,
		"prerelease":       false,
	}
	var r githubReleasePayload
	if err := g.call(ctx, "create release "+tag, http.MethodPost, g.repoURL("/releases"), payload, &r); err != nil {
		return Release{}, err
	}
	return Release{ID: r.ID, Tag: r.TagName, Name: r.Name, UploadURL: r.UploadURL}, nil
}

// UploadAsset uploads data to the release's upload URL.
func (g *GitHub) UploadAsset(ctx context.Context, release Release, name string, data []byte) error {
	if release.UploadURL == "" {
		return fmt.Errorf("upload asset %s: release %s has no upload url", name, release.Tag)
	}
	// upload_url is a URI template such as ".../assets{?name,label}".
	base, _, _ := strings.Cut(release.UploadURL, "{")
	requestURL := base + "?name=" + url.QueryEscape(name)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("upload asset %s: cannot build request: %w", name, err)
	}
	g.authorize(req)
	req.Header.Set("Content-Type", "application/octet-stream")

	status, body, err := g.send(req)
	if err != nil {
		return fmt.Errorf("upload asset %s: %w", name, err)
	}
	if status >= http.StatusBadRequest {
		return apiError("upload asset "+name, status, body)
	}
	return nil
}

func (g *GitHub) repoURL(suffix string) string {
	return g.apiEndpoint + "/repos/" + url.PathEscape(g.owner) + "/" + url.PathEscape(g.repo) + suffix
}

func (g *GitHub) issueURL(id int, suffix string) string {
	return g.repoURL("/issues/" + strconv.Itoa(id) + suffix)
}

func (g *GitHub) contentsURL(path string) string {
	segments := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return g.repoURL("/contents/" + strings.Join(segments, "/"))
}

// call sends a JSON request and decodes a JSON response into out when non-nil.
// A 404 maps to ErrNotFound.
func (g *GitHub) call(ctx context.Context, op, method, requestURL string, payload, out any) error {
	status, body, err := g.do(ctx, method, requestURL, payload)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if status >= http.StatusBadRequest {
		return apiError(op, status, body)
	}
	if out == nil || strings.TrimSpace(string(body)) == "" {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: cannot parse response: %w", op, err)
	}
	return nil
}

func (g *GitHub) do(ctx context.Context, method, requestURL string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("cannot encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("cannot build request: %w", err)
	}
	g.authorize(req)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return g.send(req)
}

func (g *GitHub) authorize(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
}

func (g *GitHub) send(req *http.Request) (int, []byte, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReadResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("cannot read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func taskFromIssue(issue githubIssuePayload) models.Task {
	state := models.TaskStateOpen
	if strings.EqualFold(strings.TrimSpace(issue.State), "closed") {
		state = models.TaskStateClosed
	}
	return models.Task{
		ID:     issue.Number,
		Title:  issue.Title,
		Body:   issue.Body,
		Labels: labelNames(issue.Labels),
		State:  state,
	}
}

func labelNames(labels []githubLabelPayload) []string {
	names := make([]string, 0, len(labels))
	for _, label := range labels {
		name := strings.TrimSpace(label.Name)
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}

func apiError(op string, status int, body []byte) *APIError {
	return &APIError{Op: op, Status: status, Message: firstAPIError(body)}
}

func firstAPIError(body []byte) string {
	bodyText := strings.TrimSpace(string(body))
	if bodyText == "" {
		return "unknown error"
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && strings.TrimSpace(payload.Message) != "" {
		return strings.TrimSpace(payload.Message)
	}
	return bodyText
}

var _ Backend = (*GitHub)(nil)
