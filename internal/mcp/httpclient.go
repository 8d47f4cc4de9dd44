package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/milnet2/coxswain/internal/models"
	"github.com/milnet2/coxswain/internal/session"
	"github.com/milnet2/coxswain/internal/workout"
)

// HTTPClient implements Backend by calling the coxswain REST API.
// Used for remote MCP mode where the binary runs locally (stdio) but
// the rowing machine is attached to another host (reached over Tailscale).
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Compile-time check: HTTPClient satisfies Backend.
var _ Backend = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient targeting the given base URL. The API
// key is sent on mutating requests when set.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, params url.Values, body any, want int) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("httpclient: encode body: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, fmt.Errorf("httpclient: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" && method != http.MethodGet {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpclient: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: read body: %w", err)
	}

	if resp.StatusCode != want {
		return nil, fmt.Errorf("httpclient: %s %s returned %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}

func decodeInto[T any](data []byte, what string) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("httpclient: decode %s: %w", what, err)
	}
	return &v, nil
}

func (c *HTTPClient) Status(ctx context.Context) (*session.Status, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return decodeInto[session.Status](body, "status")
}

func (c *HTTPClient) Programs(ctx context.Context) ([]workout.Program, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/programs", nil, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	programs, err := decodeInto[[]workout.Program](body, "programs")
	if err != nil {
		return nil, err
	}
	return *programs, nil
}

func (c *HTTPClient) SelectProgram(ctx context.Context, id uuid.UUID) (*session.Status, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/v1/programs/"+id.String()+"/select", nil, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return decodeInto[session.Status](body, "status")
}

func (c *HTTPClient) Deselect(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/v1/selection", nil, nil, http.StatusNoContent)
	return err
}

func (c *HTTPClient) StartSession(ctx context.Context, device string) (*session.Status, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/v1/session", nil, map[string]string{"device": device}, http.StatusAccepted)
	if err != nil {
		return nil, err
	}
	return decodeInto[session.Status](body, "status")
}

func (c *HTTPClient) StopSession(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/v1/session", nil, nil, http.StatusAccepted)
	return err
}

func (c *HTTPClient) Workouts(ctx context.Context, start, end time.Time) ([]models.WorkoutRow, error) {
	params := url.Values{}
	params.Set("start", start.Format(time.RFC3339))
	params.Set("end", end.Format(time.RFC3339))

	body, err := c.do(ctx, http.MethodGet, "/api/v1/workouts", params, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	rows, err := decodeInto[[]models.WorkoutRow](body, "workouts")
	if err != nil {
		return nil, err
	}
	return *rows, nil
}
