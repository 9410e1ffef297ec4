package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hyunkyoun/moira/engine"
	"github.com/hyunkyoun/moira/id"
	"github.com/hyunkyoun/moira/job"
	"github.com/hyunkyoun/moira/scope"
	"github.com/hyunkyoun/moira/stream"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// maxBodyBytes bounds request bodies; planner replies can be verbose.
	maxBodyBytes = 1 << 20
)

// identify attaches the owner from the trusted header to the context.
func (a *API) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(a.ownerHeader))
		if owner == "" && a.requireOwner {
			writeError(w, http.StatusUnauthorized, "unauthenticated",
				fmt.Sprintf("missing %s header", a.ownerHeader), nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(scope.WithOwner(r.Context(), owner)))
	})
}

func (a *API) submitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if !decodeBody(w, r, &req) {
		return
	}

	in, err := planInput(req.Plan, req.PlannerResponse)
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	j, err := a.eng.Submit(r.Context(), engine.SubmitRequest{
		DatasetRef:     req.DatasetRef,
		SamplesheetRef: req.SamplesheetRef,
		Plan:           in,
	})
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/jobs/"+j.ID.String())
	writeJSON(w, http.StatusAccepted, accepted(j))
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := job.ListOpts{Limit: defaultListLimit}

	if raw := q.Get("state"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			state := job.State(strings.TrimSpace(s))
			if !state.Valid() {
				writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown state %q", s), nil)
				return
			}
			opts.States = append(opts.States, state)
		}
	}
	limit, ok := intParam(w, q.Get("limit"), "limit")
	if !ok {
		return
	}
	if limit > 0 {
		opts.Limit = min(limit, maxListLimit)
	}
	if opts.Offset, ok = intParam(w, q.Get("offset"), "offset"); !ok {
		return
	}

	jobs, total, err := a.eng.ListJobs(r.Context(), opts)
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	resp := ListJobsResponse{Jobs: make([]job.Status, 0, len(jobs)), Total: total}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, j.Status())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}

	st, err := a.eng.Status(r.Context(), jobID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) getResult(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}

	result, err := a.eng.Result(r.Context(), jobID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ResultResponse{JobID: jobID.String(), Result: result})
}

func (a *API) listArtifacts(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}

	handles, err := a.eng.Artifacts(r.Context(), jobID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ArtifactsResponse{Artifacts: handles})
}

func (a *API) getArtifact(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}

	data, h, err := a.eng.Artifact(r.Context(), jobID, chi.URLParam(r, "name"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", h.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("ETag", strconv.Quote(h.Digest))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", h.Name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data) //nolint:errcheck // client gone
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}

	j, err := a.eng.Cancel(r.Context(), jobID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, j.Status())
}

func (a *API) resubmitJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}

	j, err := a.eng.Resubmit(r.Context(), jobID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/jobs/"+j.ID.String())
	writeJSON(w, http.StatusAccepted, accepted(j))
}

// streamEvents upgrades to a WebSocket carrying the job's lifecycle
// events, starting with a status snapshot.
func (a *API) streamEvents(w http.ResponseWriter, r *http.Request) {
	if a.broker == nil {
		writeError(w, http.StatusNotImplemented, "not_implemented", "event streaming is not enabled", nil)
		return
	}
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}

	j, err := a.eng.Job(r.Context(), jobID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	// The job is read again once subscribed; a job finishing in between
	// would otherwise leave the watcher on a stale snapshot.
	snapshot := func(ctx context.Context) (*stream.Event, error) {
		cur, err := a.eng.Job(ctx, j.ID)
		if err != nil {
			return nil, err
		}
		return stream.StatusEvent(cur), nil
	}
	if err := a.broker.Serve(w, r, stream.JobTopic(j.ID.String()), snapshot); err != nil {
		// After a failed upgrade the handshake has already answered.
		a.logger.DebugContext(r.Context(), "event stream ended",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func jobIDParam(w http.ResponseWriter, r *http.Request) (id.JobID, bool) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid job ID: %v", err), nil)
		return id.Nil, false
	}
	return jobID, true
}

func intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid %s %q", name, raw), nil)
		return 0, false
	}
	return n, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large", nil)
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid request body: %v", err), nil)
		return false
	}
	return true
}
