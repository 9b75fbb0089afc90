package ado

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/crestline/adowork/internal/cache"
	"github.com/crestline/adowork/internal/retry"
)

const apiVersion = "7.1"

// TokenProvider supplies a bearer token for each request.
type TokenProvider interface {
	GetToken(ctx context.Context) (string, error)
}

// Client is the surface of the ADO REST API that the core consumes.
// The bulk engine and query tools depend on this interface; tests supply
// in-memory fakes.
type Client interface {
	GetWorkItem(ctx context.Context, id int, expandRelations bool) (*WorkItem, error)
	UpdateWorkItem(ctx context.Context, id int, ops []PatchOp) (*WorkItem, error)
	AddComment(ctx context.Context, id int, text string) (*Comment, error)
	QueryWIQL(ctx context.Context, wiql string) (*WIQLResult, error)
	QueryOData(ctx context.Context, query string) (*ODataResult, error)
	ValidateIterationPath(ctx context.Context, path string) error
	GetChildIDs(ctx context.Context, id int) ([]int, error)
	GetRelations(ctx context.Context, id int) ([]Relation, error)
	AddRelation(ctx context.Context, id int, relType, targetURL string) error
	WorkItemURL(id int) string
}

// HTTPClient is the concrete Client over dev.azure.com.
type HTTPClient struct {
	organization string
	project      string
	tokens       TokenProvider
	http         *http.Client
	logger       *slog.Logger
	retryConf    retry.Config
	knownPaths   *cache.ValidatedSet

	// hostOverride redirects requests to a test server when non-empty.
	hostOverride string
}

// NewHTTPClient creates a client for one organization and project.
// Organization and project names may contain spaces; they are
// percent-encoded on every URL.
func NewHTTPClient(organization, project string, tokens TokenProvider, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		organization: organization,
		project:      project,
		tokens:       tokens,
		http:         &http.Client{Timeout: 30 * time.Second},
		logger:       logger.With("component", "ado"),
		retryConf:    retry.DefaultConfig(),
		knownPaths:   cache.NewValidatedSet(5*time.Minute, 128),
	}
}

// baseURL builds https://dev.azure.com/{org}/{project} with escaping.
func (c *HTTPClient) baseURL() string {
	host := "https://dev.azure.com"
	if c.hostOverride != "" {
		host = c.hostOverride
	}
	return host + "/" + url.PathEscape(c.organization) + "/" + url.PathEscape(c.project)
}

// analyticsURL builds the Analytics OData endpoint for the project.
func (c *HTTPClient) analyticsURL() string {
	host := "https://analytics.dev.azure.com"
	if c.hostOverride != "" {
		host = c.hostOverride
	}
	return host + "/" + url.PathEscape(c.organization) + "/" + url.PathEscape(c.project) + "/_odata/v4.0-preview"
}

// do executes one HTTP exchange with auth, classification, and bounded
// retry on transient statuses.
func (c *HTTPClient) do(ctx context.Context, method, rawURL, contentType string, body []byte, out any) error {
	op := func() error {
		token, err := c.tokens.GetToken(ctx)
		if err != nil {
			return retry.Permanent(fmt.Errorf("get token: %w", err))
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// Network-level failures are transient.
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			statusErr := newStatusError(resp.StatusCode, extractErrorMessage(data))
			if statusErr.Retryable() {
				return statusErr
			}
			return retry.Permanent(statusErr)
		}
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return retry.Permanent(fmt.Errorf("decode response: %w", err))
			}
		}
		return nil
	}

	if err := retry.Do(ctx, c.retryConf, op); err != nil {
		c.logger.Debug("request failed", "method", method, "url", rawURL, "error", err)
		return err
	}
	return nil
}

// extractErrorMessage pulls the message field out of an ADO error body.
func extractErrorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		return body.Message
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// GetWorkItem fetches one work item, optionally with its relations.
func (c *HTTPClient) GetWorkItem(ctx context.Context, id int, expandRelations bool) (*WorkItem, error) {
	u := fmt.Sprintf("%s/_apis/wit/workitems/%d?api-version=%s", c.baseURL(), id, apiVersion)
	if expandRelations {
		u += "&$expand=relations"
	}
	var item WorkItem
	if err := c.do(ctx, http.MethodGet, u, "", nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateWorkItem applies JSON-patch operations to a work item.
func (c *HTTPClient) UpdateWorkItem(ctx context.Context, id int, ops []PatchOp) (*WorkItem, error) {
	u := fmt.Sprintf("%s/_apis/wit/workitems/%d?api-version=%s", c.baseURL(), id, apiVersion)
	body, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("marshal patch: %w", err)
	}
	var item WorkItem
	if err := c.do(ctx, http.MethodPatch, u, "application/json-patch+json", body, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// AddComment appends a discussion comment to a work item.
func (c *HTTPClient) AddComment(ctx context.Context, id int, text string) (*Comment, error) {
	u := fmt.Sprintf("%s/_apis/wit/workItems/%d/comments?api-version=%s-preview.4", c.baseURL(), id, apiVersion)
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("marshal comment: %w", err)
	}
	var comment Comment
	if err := c.do(ctx, http.MethodPost, u, "application/json", body, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// QueryWIQL forwards a WIQL string to the backend unmodified.
func (c *HTTPClient) QueryWIQL(ctx context.Context, wiql string) (*WIQLResult, error) {
	u := fmt.Sprintf("%s/_apis/wit/wiql?api-version=%s", c.baseURL(), apiVersion)
	body, err := json.Marshal(map[string]string{"query": wiql})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}
	var result WIQLResult
	if err := c.do(ctx, http.MethodPost, u, "application/json", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// QueryOData forwards an Analytics OData query string unmodified.
func (c *HTTPClient) QueryOData(ctx context.Context, query string) (*ODataResult, error) {
	u := c.analyticsURL() + "/" + query
	var result ODataResult
	if err := c.do(ctx, http.MethodGet, u, "", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ValidateIterationPath checks that an iteration path exists.
// The path's leading project segment is stripped before hitting the
// classification-node endpoint. Paths that validated recently are
// answered from a local cache; failures are never cached.
func (c *HTTPClient) ValidateIterationPath(ctx context.Context, path string) error {
	if c.knownPaths.Contains(path) {
		return nil
	}
	trimmed := path
	if i := strings.Index(trimmed, "\\"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	segments := strings.Split(trimmed, "\\")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	u := fmt.Sprintf("%s/_apis/wit/classificationnodes/Iterations/%s?api-version=%s",
		c.baseURL(), strings.Join(segments, "/"), apiVersion)
	if err := c.do(ctx, http.MethodGet, u, "", nil, nil); err != nil {
		return err
	}
	c.knownPaths.Mark(path)
	return nil
}

// GetChildIDs returns ids of work items linked by a forward hierarchy
// relation from the given item.
func (c *HTTPClient) GetChildIDs(ctx context.Context, id int) ([]int, error) {
	item, err := c.GetWorkItem(ctx, id, true)
	if err != nil {
		return nil, err
	}
	var children []int
	for _, rel := range item.Relations {
		if rel.Rel != "System.LinkTypes.Hierarchy-Forward" {
			continue
		}
		if childID, ok := workItemIDFromURL(rel.URL); ok {
			children = append(children, childID)
		}
	}
	return children, nil
}

// GetRelations returns the current relations of a work item.
func (c *HTTPClient) GetRelations(ctx context.Context, id int) ([]Relation, error) {
	item, err := c.GetWorkItem(ctx, id, true)
	if err != nil {
		return nil, err
	}
	return item.Relations, nil
}

// AddRelation appends one typed relation to a work item.
func (c *HTTPClient) AddRelation(ctx context.Context, id int, relType, targetURL string) error {
	_, err := c.UpdateWorkItem(ctx, id, []PatchOp{{
		Op:   "add",
		Path: "/relations/-",
		Value: map[string]any{
			"rel": relType,
			"url": targetURL,
		},
	}})
	return err
}

// WorkItemURL builds the canonical API URL of a work item, used as the
// target of relation links.
func (c *HTTPClient) WorkItemURL(id int) string {
	return fmt.Sprintf("%s/_apis/wit/workItems/%d", c.baseURL(), id)
}

// workItemIDFromURL parses the trailing id segment of a work-item API URL.
func workItemIDFromURL(rawURL string) (int, bool) {
	i := strings.LastIndex(rawURL, "/")
	if i < 0 || i == len(rawURL)-1 {
		return 0, false
	}
	id, err := strconv.Atoi(rawURL[i+1:])
	if err != nil {
		return 0, false
	}
	return id, true
}
