package api

import (
	"github.com/hyunkyoun/moira/artifact"
	"github.com/hyunkyoun/moira/job"
	"github.com/hyunkyoun/moira/plan"
	"github.com/hyunkyoun/moira/step"
)

// SubmitJobRequest is the body of POST /v1/jobs. Exactly one of Plan and
// PlannerResponse is expected; PlannerResponse is the planner's raw reply
// and is normalized server-side.
type SubmitJobRequest struct {
	DatasetRef      string      `json:"dataset_ref"`
	SamplesheetRef  string      `json:"samplesheet_ref"`
	Plan            *plan.Input `json:"plan,omitempty"`
	PlannerResponse string      `json:"planner_response,omitempty"`
}

// ValidatePlanRequest is the body of POST /v1/plans/validate.
type ValidatePlanRequest struct {
	Plan            *plan.Input `json:"plan,omitempty"`
	PlannerResponse string      `json:"planner_response,omitempty"`
}

// ValidatePlanResponse describes a plan that passed validation.
type ValidatePlanResponse struct {
	Steps          []string          `json:"steps"`
	ColumnMappings map[string]string `json:"column_mappings"`
}

// JobAccepted is returned when a job is created.
type JobAccepted struct {
	JobID           string    `json:"job_id"`
	State           job.State `json:"status"`
	Plan            []string  `json:"plan"`
	ResubmittedFrom string    `json:"resubmitted_from,omitempty"`
}

// ListJobsResponse is the body of GET /v1/jobs.
type ListJobsResponse struct {
	Jobs  []job.Status `json:"jobs"`
	Total int64        `json:"total"`
}

// ResultResponse is the body of GET /v1/jobs/{jobId}/result.
type ResultResponse struct {
	JobID  string                    `json:"job_id"`
	Result map[string]map[string]any `json:"result"`
}

// ArtifactsResponse is the body of GET /v1/jobs/{jobId}/artifacts.
type ArtifactsResponse struct {
	Artifacts []artifact.Handle `json:"artifacts"`
}

// StepsResponse is the body of GET /v1/steps.
type StepsResponse struct {
	Steps []*step.Definition `json:"steps"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func accepted(j *job.Job) JobAccepted {
	resp := JobAccepted{JobID: j.ID.String(), State: j.State, Plan: j.Plan}
	if !j.ResubmittedFrom.IsNil() {
		resp.ResubmittedFrom = j.ResubmittedFrom.String()
	}
	return resp
}

// planInput picks the structured plan or parses the planner reply.
func planInput(in *plan.Input, raw string) (plan.Input, error) {
	if in != nil {
		return *in, nil
	}
	if raw == "" {
		return plan.Input{}, &plan.InvalidPlanError{Reason: "a plan or planner response is required"}
	}
	return plan.ParseResponse(raw)
}
