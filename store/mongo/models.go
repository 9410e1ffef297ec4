package mongo

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/artifact"
	"github.com/hyunkyoun/moira/id"
	"github.com/hyunkyoun/moira/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	ID              string                    `bson:"_id"`
	OwnerID         string                    `bson:"owner_id"`
	DatasetRef      string                    `bson:"dataset_ref"`
	SamplesheetRef  string                    `bson:"samplesheet_ref"`
	State           string                    `bson:"state"`
	Plan            []string                  `bson:"plan"`
	StepIndex       int                       `bson:"step_index"`
	ColumnMappings  map[string]string         `bson:"column_mappings,omitempty"`
	StepResults     map[string]job.StepResult `bson:"step_results,omitempty"`
	Result          map[string]map[string]any `bson:"result,omitempty"`
	Artifacts       []artifactModel           `bson:"artifacts,omitempty"`
	Context         []job.ContextEntry        `bson:"context,omitempty"`
	Error           *job.ErrorDetail          `bson:"error,omitempty"`
	ResubmittedFrom string                    `bson:"resubmitted_from,omitempty"`
	StartedAt       *time.Time                `bson:"started_at,omitempty"`
	CompletedAt     *time.Time                `bson:"completed_at,omitempty"`
	CreatedAt       time.Time                 `bson:"created_at"`
	UpdatedAt       time.Time                 `bson:"updated_at"`
}

// artifactModel mirrors artifact.Handle with the job ID as a string.
type artifactModel struct {
	JobID       string    `bson:"job_id"`
	Name        string    `bson:"name"`
	Size        int64     `bson:"size"`
	Digest      string    `bson:"digest"`
	ContentType string    `bson:"content_type"`
	StoredAt    time.Time `bson:"stored_at"`
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
		Context:        j.Context,
		Error:          j.Error,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
	if !j.ResubmittedFrom.IsNil() {
		m.ResubmittedFrom = j.ResubmittedFrom.String()
	}
	for _, h := range j.Artifacts {
		m.Artifacts = append(m.Artifacts, artifactModel{
			JobID:       h.JobID.String(),
			Name:        h.Name,
			Size:        h.Size,
			Digest:      h.Digest,
			ContentType: h.ContentType,
			StoredAt:    h.StoredAt,
		})
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("moira/mongo: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: moira.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:             jobID,
		OwnerID:        m.OwnerID,
		DatasetRef:     m.DatasetRef,
		SamplesheetRef: m.SamplesheetRef,
		State:          job.State(m.State),
		Plan:           m.Plan,
		StepIndex:      m.StepIndex,
		ColumnMappings: m.ColumnMappings,
		StepResults:    make(map[string]job.StepResult, len(m.StepResults)),
		Error:          m.Error,
		StartedAt:      utc(m.StartedAt),
		CompletedAt:    utc(m.CompletedAt),
	}
	if m.ResubmittedFrom != "" {
		if j.ResubmittedFrom, err = id.ParseJobID(m.ResubmittedFrom); err != nil {
			return nil, fmt.Errorf("moira/mongo: parse resubmitted_from %q: %w", m.ResubmittedFrom, err)
		}
	}

	for name, r := range m.StepResults {
		r.Outputs = plainMap(r.Outputs)
		r.StartedAt = r.StartedAt.UTC()
		r.CompletedAt = r.CompletedAt.UTC()
		j.StepResults[name] = r
	}
	if m.Result != nil {
		j.Result = make(map[string]map[string]any, len(m.Result))
		for step, outs := range m.Result {
			j.Result[step] = plainMap(outs)
		}
	}
	for _, e := range m.Context {
		e.Value = plain(e.Value)
		j.Context = append(j.Context, e)
	}
	for _, a := range m.Artifacts {
		h := artifact.Handle{
			Name:        a.Name,
			Size:        a.Size,
			Digest:      a.Digest,
			ContentType: a.ContentType,
			StoredAt:    a.StoredAt.UTC(),
		}
		if h.JobID, err = id.ParseJobID(a.JobID); err != nil {
			return nil, fmt.Errorf("moira/mongo: parse artifact job id %q: %w", a.JobID, err)
		}
		j.Artifacts = append(j.Artifacts, h)
	}
	return j, nil
}

// plain converts decoded BSON containers into the map and slice shapes
// the JSON encoder and step code expect.
func plain(v any) any {
	switch t := v.(type) {
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = plain(e.Value)
		}
		return m
	case map[string]any:
		return plainMap(t)
	case bson.A:
		out := make([]any, len(t))
		for i := range t {
			out[i] = plain(t[i])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = plain(t[i])
		}
		return out
	case bson.DateTime:
		return t.Time().UTC()
	default:
		return v
	}
}

func plainMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plain(v)
	}
	return out
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
