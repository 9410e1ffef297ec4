package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/artifact"
	"github.com/hyunkyoun/moira/id"
	"github.com/hyunkyoun/moira/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:moira_jobs"`

	ID              string                    `bun:"id,pk"`
	OwnerID         string                    `bun:"owner_id,notnull"`
	DatasetRef      string                    `bun:"dataset_ref,notnull,default:''"`
	SamplesheetRef  string                    `bun:"samplesheet_ref,notnull,default:''"`
	State           string                    `bun:"state,notnull,default:'queued'"`
	Plan            []string                  `bun:"plan,type:jsonb,notnull"`
	StepIndex       int                       `bun:"step_index,notnull,default:0"`
	ColumnMappings  map[string]string         `bun:"column_mappings,type:jsonb"`
	StepResults     map[string]job.StepResult `bun:"step_results,type:jsonb"`
	Result          map[string]map[string]any `bun:"result,type:jsonb"`
	Artifacts       []artifact.Handle         `bun:"artifacts,type:jsonb"`
	Context         []job.ContextEntry        `bun:"context,type:jsonb"`
	Error           *job.ErrorDetail          `bun:"error,type:jsonb"`
	ResubmittedFrom string                    `bun:"resubmitted_from,notnull,default:''"`
	StartedAt       *time.Time                `bun:"started_at"`
	CompletedAt     *time.Time                `bun:"completed_at"`
	CreatedAt       time.Time                 `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt       time.Time                 `bun:"updated_at,notnull,default:current_timestamp"`
}

func toJobModel(j *job.Job) *jobModel {
	m := &jobModel{
		ID:             j.ID.String(),
		OwnerID:        j.OwnerID,
		DatasetRef:     j.DatasetRef,
		SamplesheetRef: j.SamplesheetRef,
		State:          string(j.State),
		Plan:           j.Plan,
		StepIndex:      j.StepIndex,
		ColumnMappings: j.ColumnMappings,
		StepResults:    j.StepResults,
		Result:         j.Result,
		Artifacts:      j.Artifacts,
		Context:        j.Context,
		Error:          j.Error,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
	if m.Plan == nil {
		m.Plan = []string{}
	}
	if !j.ResubmittedFrom.IsNil() {
		m.ResubmittedFrom = j.ResubmittedFrom.String()
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("moira/bun: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: moira.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:             parsedID,
		OwnerID:        m.OwnerID,
		DatasetRef:     m.DatasetRef,
		SamplesheetRef: m.SamplesheetRef,
		State:          job.State(m.State),
		Plan:           m.Plan,
		StepIndex:      m.StepIndex,
		ColumnMappings: m.ColumnMappings,
		StepResults:    m.StepResults,
		Result:         m.Result,
		Artifacts:      m.Artifacts,
		Context:        m.Context,
		Error:          m.Error,
		StartedAt:      utc(m.StartedAt),
		CompletedAt:    utc(m.CompletedAt),
	}
	if m.ResubmittedFrom != "" {
		if j.ResubmittedFrom, err = id.ParseJobID(m.ResubmittedFrom); err != nil {
			return nil, fmt.Errorf("moira/bun: parse resubmitted_from %q: %w", m.ResubmittedFrom, err)
		}
	}
	if j.StepResults == nil {
		j.StepResults = make(map[string]job.StepResult)
	}
	return j, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
