package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/engine"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Detail any    `json:"detail,omitempty"`
}

// statusFor maps moira errors to HTTP status codes and stable codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, moira.ErrJobNotFound):
		return http.StatusNotFound, "job_not_found"
	case errors.Is(err, moira.ErrArtifactNotFound):
		return http.StatusNotFound, "artifact_not_found"
	case errors.Is(err, moira.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, moira.ErrNotReady):
		return http.StatusConflict, "not_ready"
	case errors.Is(err, moira.ErrJobCancelled):
		return http.StatusConflict, "job_cancelled"
	case errors.Is(err, moira.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, moira.ErrJobFailed):
		return http.StatusUnprocessableEntity, "job_failed"
	case errors.Is(err, moira.ErrUnsatisfiedDependency):
		return http.StatusUnprocessableEntity, "unsatisfied_dependency"
	case errors.Is(err, moira.ErrUnknownStep):
		return http.StatusUnprocessableEntity, "unknown_step"
	case errors.Is(err, moira.ErrInvalidPlan):
		return http.StatusUnprocessableEntity, "invalid_plan"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// respondError writes err with its mapped status. Internal errors are
// logged and their message is not exposed.
func (a *API) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, status, code, "internal server error", nil)
		return
	}

	var detail any
	var failed *engine.FailedError
	if errors.As(err, &failed) {
		detail = failed.Detail
	}
	writeError(w, status, code, err.Error(), detail)
}

func writeError(w http.ResponseWriter, status int, code, msg string, detail any) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client gone
}
