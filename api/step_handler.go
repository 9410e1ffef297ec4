package api

import (
	"net/http"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/plan"
)

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: moira.Version})
}

func (a *API) listSteps(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StepsResponse{Steps: a.eng.Steps()})
}

// validatePlan dry-runs plan validation. The references are placeholders
// since nothing is executed.
func (a *API) validatePlan(w http.ResponseWriter, r *http.Request) {
	var req ValidatePlanRequest
	if !decodeBody(w, r, &req) {
		return
	}

	in, err := planInput(req.Plan, req.PlannerResponse)
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	p, err := a.eng.ValidatePlan(in, plan.Refs{Dataset: "dataset", Samplesheet: "samplesheet"})
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ValidatePlanResponse{Steps: p.Steps, ColumnMappings: p.ColumnMappings})
}
