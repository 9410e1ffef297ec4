package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/id"
	"github.com/hyunkyoun/moira/job"
)

// ── Job row ───────────────────────────────────────────────────────

// jobRow is the column form of a job. Structured fields are pre-encoded
// JSON so pgx writes them straight into JSONB.
type jobRow struct {
	ID              string
	OwnerID         string
	DatasetRef      string
	SamplesheetRef  string
	State           string
	Plan            []byte
	StepIndex       int
	ColumnMappings  []byte
	StepResults     []byte
	Result          []byte
	Artifacts       []byte
	Context         []byte
	Error           []byte
	ResubmittedFrom string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func toRow(j *job.Job) (*jobRow, error) {
	r := &jobRow{
		ID:             j.ID.String(),
		OwnerID:        j.OwnerID,
		DatasetRef:     j.DatasetRef,
		SamplesheetRef: j.SamplesheetRef,
		State:          string(j.State),
		StepIndex:      j.StepIndex,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
	if !j.ResubmittedFrom.IsNil() {
		r.ResubmittedFrom = j.ResubmittedFrom.String()
	}

	plan := j.Plan
	if plan == nil {
		plan = []string{}
	}
	fields := []struct {
		dst *[]byte
		src any
	}{
		{&r.Plan, plan},
		{&r.ColumnMappings, j.ColumnMappings},
		{&r.StepResults, j.StepResults},
		{&r.Result, j.Result},
		{&r.Artifacts, j.Artifacts},
		{&r.Context, j.Context},
		{&r.Error, j.Error},
	}
	for _, f := range fields {
		data, err := jsonColumn(f.src)
		if err != nil {
			return nil, fmt.Errorf("moira/postgres: encode job %s: %w", j.ID, err)
		}
		*f.dst = data
	}
	return r, nil
}

// args returns the row in jobColumns order.
func (r *jobRow) args() []any {
	return []any{
		r.ID, r.OwnerID, r.DatasetRef, r.SamplesheetRef, r.State, r.Plan, r.StepIndex,
		r.ColumnMappings, r.StepResults, r.Result, r.Artifacts, r.Context, r.Error,
		r.ResubmittedFrom, r.StartedAt, r.CompletedAt, r.CreatedAt, r.UpdatedAt,
	}
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var r jobRow
	err := row.Scan(
		&r.ID, &r.OwnerID, &r.DatasetRef, &r.SamplesheetRef, &r.State, &r.Plan, &r.StepIndex,
		&r.ColumnMappings, &r.StepResults, &r.Result, &r.Artifacts, &r.Context, &r.Error,
		&r.ResubmittedFrom, &r.StartedAt, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return fromRow(&r)
}

func fromRow(r *jobRow) (*job.Job, error) {
	jobID, err := id.ParseJobID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("moira/postgres: parse job id %q: %w", r.ID, err)
	}

	j := &job.Job{
		Entity: moira.Entity{
			CreatedAt: r.CreatedAt.UTC(),
			UpdatedAt: r.UpdatedAt.UTC(),
		},
		ID:             jobID,
		OwnerID:        r.OwnerID,
		DatasetRef:     r.DatasetRef,
		SamplesheetRef: r.SamplesheetRef,
		State:          job.State(r.State),
		StepIndex:      r.StepIndex,
		StartedAt:      utc(r.StartedAt),
		CompletedAt:    utc(r.CompletedAt),
	}
	if r.ResubmittedFrom != "" {
		if j.ResubmittedFrom, err = id.ParseJobID(r.ResubmittedFrom); err != nil {
			return nil, fmt.Errorf("moira/postgres: parse resubmitted_from %q: %w", r.ResubmittedFrom, err)
		}
	}

	fields := []struct {
		src []byte
		dst any
	}{
		{r.Plan, &j.Plan},
		{r.ColumnMappings, &j.ColumnMappings},
		{r.StepResults, &j.StepResults},
		{r.Result, &j.Result},
		{r.Artifacts, &j.Artifacts},
		{r.Context, &j.Context},
		{r.Error, &j.Error},
	}
	for _, f := range fields {
		if err := scanJSON(f.src, f.dst); err != nil {
			return nil, fmt.Errorf("moira/postgres: decode job %s: %w", r.ID, err)
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

// jsonColumn encodes v for a JSONB column. Nil maps, slices and pointers
// are stored as NULL.
func jsonColumn(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return nil, err
	}
	return data, nil
}

// scanJSON decodes a JSONB column into dst, leaving dst alone for NULL.
func scanJSON(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
