package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hyunkyoun/moira/api"
	"github.com/hyunkyoun/moira/artifact"
	"github.com/hyunkyoun/moira/backoff"
	"github.com/hyunkyoun/moira/job"
	"github.com/hyunkyoun/moira/plan"
	"github.com/hyunkyoun/moira/step"
)

// SubmitRequest is the body of a job submission.
type SubmitRequest = api.SubmitJobRequest

// ListOptions filters List.
type ListOptions struct {
	States []job.State
	Limit  int
	Offset int
}

func jobPath(jobID string, suffix ...string) string {
	return "/v1/jobs/" + url.PathEscape(jobID) + strings.Join(suffix, "")
}

// Submit creates a job. It returns as soon as the server has persisted it.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*api.JobAccepted, error) {
	var acc api.JobAccepted
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", req, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// ValidatePlan checks a plan without creating a job.
func (c *Client) ValidatePlan(ctx context.Context, in plan.Input) (*api.ValidatePlanResponse, error) {
	var resp api.ValidatePlanResponse
	if err := c.do(ctx, http.MethodPost, "/v1/plans/validate", api.ValidatePlanRequest{Plan: &in}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Steps lists the steps the server can run.
func (c *Client) Steps(ctx context.Context) ([]*step.Definition, error) {
	var resp api.StepsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/steps", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Steps, nil
}

// Status returns the polling view of a job.
func (c *Client) Status(ctx context.Context, jobID string) (*job.Status, error) {
	var st job.Status
	if err := c.do(ctx, http.MethodGet, jobPath(jobID), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// List returns the caller's jobs.
func (c *Client) List(ctx context.Context, opts ListOptions) (*api.ListJobsResponse, error) {
	q := url.Values{}
	if len(opts.States) > 0 {
		states := make([]string, len(opts.States))
		for i, s := range opts.States {
			states[i] = string(s)
		}
		q.Set("state", strings.Join(states, ","))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	path := "/v1/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp api.ListJobsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Result returns the reportable outputs of a completed job. For other
// states the error matches moira.ErrNotReady, moira.ErrJobFailed or
// moira.ErrJobCancelled.
func (c *Client) Result(ctx context.Context, jobID string) (map[string]map[string]any, error) {
	var resp api.ResultResponse
	if err := c.do(ctx, http.MethodGet, jobPath(jobID, "/result"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Artifacts lists the handles of a job's artifacts.
func (c *Client) Artifacts(ctx context.Context, jobID string) ([]artifact.Handle, error) {
	var resp api.ArtifactsResponse
	if err := c.do(ctx, http.MethodGet, jobPath(jobID, "/artifacts"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Artifacts, nil
}

// Artifact downloads one artifact and returns its bytes and content type.
func (c *Client) Artifact(ctx context.Context, jobID, name string) ([]byte, string, error) {
	resp, err := c.send(ctx, http.MethodGet, jobPath(jobID, "/artifacts/", url.PathEscape(name)), nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("moira/client: read artifact %q: %w", name, err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// Cancel requests cancellation. It is honored at the next step boundary.
func (c *Client) Cancel(ctx context.Context, jobID string) (*job.Status, error) {
	var st job.Status
	if err := c.do(ctx, http.MethodPost, jobPath(jobID, "/cancel"), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Resubmit creates a new job from a failed or cancelled one.
func (c *Client) Resubmit(ctx context.Context, jobID string) (*api.JobAccepted, error) {
	var acc api.JobAccepted
	if err := c.do(ctx, http.MethodPost, jobPath(jobID, "/resubmit"), nil, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// WaitForTerminal polls the job until it completes, fails or is
// cancelled, and returns its final status.
func (c *Client) WaitForTerminal(ctx context.Context, jobID string) (*job.Status, error) {
	var last *job.Status
	err := backoff.Poll(ctx, c.polling, func(ctx context.Context) (bool, error) {
		st, err := c.Status(ctx, jobID)
		if err != nil {
			return false, err
		}
		last = st
		return st.State.IsTerminal(), nil
	})
	if err != nil {
		return last, err
	}
	return last, nil
}
