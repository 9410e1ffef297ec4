// Package client provides a Go client for a remote moira API server.
//
// Usage:
//
//	c := client.New("https://moira.example.com",
//	    client.WithOwner("lab-42"),
//	)
//
//	// Submit a job and wait for it.
//	acc, err := c.Submit(ctx, client.SubmitRequest{...})
//	st, err := c.WaitForTerminal(ctx, acc.JobID)
//
//	// Or watch its events live.
//	events, err := c.Watch(ctx, acc.JobID)
//	for evt := range events {
//	    fmt.Println(evt.Type)
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/api"
	"github.com/hyunkyoun/moira/backoff"
	"github.com/hyunkyoun/moira/job"
)

// Client talks to a moira API server over HTTP and WebSocket.
type Client struct {
	baseURL     string
	owner       string
	ownerHeader string
	format      string
	httpClient  *http.Client
	logger      *slog.Logger

	polling backoff.Strategy

	// Reconnection for Watch.
	maxRetries int
	redial     backoff.Strategy
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		ownerHeader: api.DefaultOwnerHeader,
		format:      "json",
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      slog.Default(),
		polling:     backoff.DefaultPolling(),
		maxRetries:  5,
		redial:      backoff.NewExponentialWithJitter(time.Second, 30*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response. It matches the moira sentinel error
// corresponding to its code, so callers can use errors.Is across the wire.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Detail     json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("moira/client: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap returns the sentinel matching the error code, if any.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "job_not_found":
		return moira.ErrJobNotFound
	case "artifact_not_found":
		return moira.ErrArtifactNotFound
	case "forbidden":
		return moira.ErrForbidden
	case "not_ready":
		return moira.ErrNotReady
	case "job_cancelled":
		return moira.ErrJobCancelled
	case "invalid_state":
		return moira.ErrInvalidState
	case "job_failed":
		return moira.ErrJobFailed
	case "unsatisfied_dependency":
		return moira.ErrUnsatisfiedDependency
	case "unknown_step":
		return moira.ErrUnknownStep
	case "invalid_plan":
		return moira.ErrInvalidPlan
	}
	return nil
}

// FailureDetail decodes the failure detail of a job_failed error.
func (e *APIError) FailureDetail() (*job.ErrorDetail, bool) {
	if e.Code != "job_failed" || len(e.Detail) == 0 {
		return nil, false
	}
	var d job.ErrorDetail
	if err := json.Unmarshal(e.Detail, &d); err != nil {
		return nil, false
	}
	return &d, true
}

// do sends a request and decodes a JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("moira/client: decode %s %s: %w", method, path, err)
	}
	return nil
}

// send performs the request and converts non-2xx responses to *APIError.
// The caller closes the body of a successful response.
func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("moira/client: marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("moira/client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.owner != "" {
		req.Header.Set(c.ownerHeader, c.owner)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("moira/client: %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeAPIError(resp)
}

// decodeAPIError builds an *APIError from a non-2xx response.
func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var er struct {
		Error  string          `json:"error"`
		Code   string          `json:"code"`
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		apiErr.Code = "unknown"
		apiErr.Message = http.StatusText(resp.StatusCode)
		return apiErr
	}
	apiErr.Code, apiErr.Message, apiErr.Detail = er.Code, er.Error, er.Detail
	return apiErr
}

// Health reports the server's version.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var h api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// IsRateLimited reports whether err is a 429 from the server.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}
