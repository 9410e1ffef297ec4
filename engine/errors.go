package engine

import (
	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/id"
	"github.com/hyunkyoun/moira/job"
)

// FailedError is returned by Result for a failed job. It matches
// moira.ErrJobFailed.
type FailedError struct {
	JobID  id.JobID
	Detail *job.ErrorDetail
}

func (e *FailedError) Error() string {
	if e.Detail == nil {
		return "moira: job " + e.JobID.String() + " failed"
	}
	return "moira: job " + e.JobID.String() + " failed: " + e.Detail.String()
}

// Unwrap returns moira.ErrJobFailed.
func (e *FailedError) Unwrap() error { return moira.ErrJobFailed }
