package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pipeplane/pkg/api"
)

// Client handles API calls to the pipeplane controller.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new client with the given base URL and bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// do sends a JSON request and decodes the response into out when out is non-nil.
// Any status other than want is returned as an *APIError.
func (c *Client) do(method, path string, body, out interface{}, want int) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

// CreateTenant sends POST /api/tenants. The client token must be the internal secret.
func (c *Client) CreateTenant(req api.CreateTenantRequest) (*api.CreateTenantResponse, error) {
	var result api.CreateTenantResponse
	if err := c.do(http.MethodPost, "/api/tenants", req, &result, http.StatusCreated); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) CreatePipeline(req api.CreatePipelineRequest) (*api.PipelineResponse, error) {
	var result api.PipelineResponse
	if err := c.do(http.MethodPost, "/api/pipelines", req, &result, http.StatusCreated); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ListPipelines(limit, offset int) (*api.ListResponse[api.PipelineResponse], error) {
	var result api.ListResponse[api.PipelineResponse]
	path := "/api/pipelines?" + pageQuery(url.Values{}, limit, offset).Encode()
	if err := c.do(http.MethodGet, path, nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) CreateVersion(req api.CreatePipelineVersionRequest) (*api.PipelineVersionResponse, error) {
	var result api.PipelineVersionResponse
	if err := c.do(http.MethodPost, "/api/pipeline-versions", req, &result, http.StatusCreated); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListVersions sends GET /api/pipeline-versions. Empty filters are omitted.
func (c *Client) ListVersions(pipelineID, status string, limit, offset int) (*api.ListResponse[api.PipelineVersionResponse], error) {
	q := url.Values{}
	if pipelineID != "" {
		q.Set("pipeline_id", pipelineID)
	}
	if status != "" {
		q.Set("status", status)
	}

	var result api.ListResponse[api.PipelineVersionResponse]
	path := "/api/pipeline-versions?" + pageQuery(q, limit, offset).Encode()
	if err := c.do(http.MethodGet, path, nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetVersion(id string) (*api.PipelineVersionResponse, error) {
	var result api.PipelineVersionResponse
	if err := c.do(http.MethodGet, "/api/pipeline-versions/"+url.PathEscape(id), nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) SetVersionStatus(id, status string) (*api.PipelineVersionResponse, error) {
	var result api.PipelineVersionResponse
	path := "/api/pipeline-versions/" + url.PathEscape(id) + "/status"
	if err := c.do(http.MethodPost, path, api.SetVersionStatusRequest{Status: status}, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) CreateRun(req api.CreateRunRequest) (*api.RunResponse, error) {
	var result api.RunResponse
	if err := c.do(http.MethodPost, "/api/runs", req, &result, http.StatusCreated); err != nil {
		return nil, err
	}
	return &result, nil
}

// RunListOptions filters GET /api/runs.
type RunListOptions struct {
	Statuses          []string
	PipelineVersionID string
	RootRunID         string
	Limit             int
	Offset            int
}

func (c *Client) ListRuns(opts RunListOptions) (*api.ListResponse[api.RunResponse], error) {
	q := url.Values{}
	for _, s := range opts.Statuses {
		q.Add("status", s)
	}
	if opts.PipelineVersionID != "" {
		q.Set("pipeline_version_id", opts.PipelineVersionID)
	}
	if opts.RootRunID != "" {
		q.Set("root_run_id", opts.RootRunID)
	}

	var result api.ListResponse[api.RunResponse]
	path := "/api/runs?" + pageQuery(q, opts.Limit, opts.Offset).Encode()
	if err := c.do(http.MethodGet, path, nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetRun(id string) (*api.RunResponse, error) {
	var result api.RunResponse
	if err := c.do(http.MethodGet, "/api/runs/"+url.PathEscape(id), nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// RetryRun sends POST /api/runs/{id}/retry and returns the new run.
func (c *Client) RetryRun(id string) (*api.RunResponse, error) {
	var result api.RunResponse
	if err := c.do(http.MethodPost, "/api/runs/"+url.PathEscape(id)+"/retry", nil, &result, http.StatusCreated); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetLineage(id string) (*api.LineageResponse, error) {
	var result api.LineageResponse
	if err := c.do(http.MethodGet, "/api/runs/"+url.PathEscape(id)+"/lineage", nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetEvents(id string) (*api.RunEventsResponse, error) {
	var result api.RunEventsResponse
	if err := c.do(http.MethodGet, "/api/runs/"+url.PathEscape(id)+"/events", nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

func pageQuery(q url.Values, limit, offset int) url.Values {
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}
	return q
}
