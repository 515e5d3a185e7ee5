package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pipeplane/pkg/api"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ErrClaimLost means the controller no longer considers this worker the owner of the run.
// The worker must abandon the run without reporting an outcome.
var ErrClaimLost = errors.New("claim lost")

// Controller is the worker's view of the controller's internal API.
type Controller interface {
	// Claim returns the next run of the tenant, or nil when there is no work.
	Claim(ctx context.Context, tenantID uuid.UUID, workerID string) (*api.RunResponse, error)
	Heartbeat(ctx context.Context, runID uuid.UUID, workerID string) (time.Time, error)
	Complete(ctx context.Context, runID uuid.UUID, req api.CompleteRunRequest) error
}

// Client calls the controller's /internal routes with the shared secret.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// NewClient creates a controller client.
func NewClient(baseURL, secret string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// statusError is a non-2xx controller response.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("controller returned status %d: %s", e.code, e.msg)
}

func (c *Client) Claim(ctx context.Context, tenantID uuid.UUID, workerID string) (*api.RunResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/internal/runs/claim", api.ClaimRunRequest{
		TenantID: tenantID.String(),
		WorkerID: workerID,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		var run api.RunResponse
		if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
			return nil, fmt.Errorf("decode claimed run: %w", err)
		}
		return &run, nil
	default:
		return nil, readStatusError(resp)
	}
}

func (c *Client) Heartbeat(ctx context.Context, runID uuid.UUID, workerID string) (time.Time, error) {
	resp, err := c.do(ctx, http.MethodPut, "/internal/runs/"+runID.String()+"/heartbeat", api.HeartbeatRequest{WorkerID: workerID})
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()

	if err := checkClaim(resp); err != nil {
		return time.Time{}, err
	}
	var hb api.HeartbeatResponse
	if err := json.NewDecoder(resp.Body).Decode(&hb); err != nil {
		return time.Time{}, fmt.Errorf("decode heartbeat: %w", err)
	}
	return hb.LeaseExpiresAt, nil
}

func (c *Client) Complete(ctx context.Context, runID uuid.UUID, req api.CompleteRunRequest) error {
	resp, err := c.do(ctx, http.MethodPost, "/internal/runs/"+runID.String()+"/complete", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkClaim(resp)
}

// checkClaim maps 404 and 409 to ErrClaimLost.
func checkClaim(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusConflict, resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrClaimLost, readStatusError(resp))
	default:
		return readStatusError(resp)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secret)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	return c.httpClient.Do(req)
}

func readStatusError(resp *http.Response) error {
	var e api.ErrorResponse
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(b, &e); err != nil || e.Error == "" {
		e.Error = strings.TrimSpace(string(b))
	}
	return &statusError{code: resp.StatusCode, msg: e.Error}
}
