package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-health/readmit/internal/domain"
	"github.com/opensource-health/readmit/internal/risk"
	"github.com/opensource-health/readmit/internal/roi"
)

// ListScenarios returns the dataset's stored intervention programs, or the
// built-in programs when none are stored.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	scenarios, err := h.repo.ListScenarios(r.Context(), GetDatasetID(r.Context()))
	if err != nil {
		writeError(w, "failed to list scenarios", err)
		return
	}

	source := "dataset"
	if len(scenarios) == 0 {
		scenarios = roi.DefaultScenarios()
		source = "default"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"interventions": scenarios,
		"count":         len(scenarios),
		"source":        source,
	})
}

// SaveScenario creates or replaces an intervention program.
func (h *Handler) SaveScenario(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()

	var in domain.Intervention
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if err := roi.ValidateOne(in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.repo.SaveScenario(ctx, GetDatasetID(ctx), &in); err != nil {
		writeError(w, "failed to save scenario", err)
		return
	}

	slog.Info("scenario saved", "dataset_id", GetDatasetID(ctx), "name", in.Name)
	writeJSON(w, http.StatusCreated, in)
}

// DeleteScenario removes an intervention program.
func (h *Handler) DeleteScenario(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	if err := h.repo.DeleteScenario(ctx, GetDatasetID(ctx), name); err != nil {
		writeError(w, "scenario not found", err)
		return
	}

	slog.Info("scenario deleted", "dataset_id", GetDatasetID(ctx), "name", name)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "scenario deleted",
	})
}

// SimulateRequest is the request body for POST /runs/{id}/simulate.
type SimulateRequest struct {
	Interventions []domain.Intervention `json:"interventions"`
}

// Simulate re-runs the ROI projection against a completed run. Without a
// body it uses the dataset's stored programs, then the built-in ones.
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	datasetID := GetDatasetID(ctx)

	var req SimulateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	run, ok := h.completedRun(w, r)
	if !ok {
		return
	}

	scenarios := req.Interventions
	if len(scenarios) == 0 {
		stored, err := h.repo.ListScenarios(ctx, datasetID)
		if err != nil {
			writeError(w, "failed to list scenarios", err)
			return
		}
		scenarios = stored
	}
	if len(scenarios) == 0 {
		scenarios = roi.DefaultScenarios()
	}
	if err := roi.Validate(scenarios); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	kpi, err := h.repo.GetKPI(ctx, datasetID, run.ID)
	if err != nil {
		writeError(w, "failed to load kpi", err)
		return
	}

	results := roi.Simulate(kpi.PreventableReadmissionPaid, kpi.HighRiskMembers, scenarios)
	writeJSON(w, http.StatusOK, map[string]any{
		"runId":           run.ID,
		"baseline":        kpi.PreventableReadmissionPaid,
		"highRiskMembers": kpi.HighRiskMembers,
		"touchedMembers":  roi.TouchedMembers(kpi.HighRiskMembers),
		"interventions":   results,
	})
}

// ExplainRisk returns one member's score with its per-predictor breakdown.
func (h *Handler) ExplainRisk(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()

	run, ok := h.completedRun(w, r)
	if !ok {
		return
	}

	memberID := chi.URLParam(r, "memberId")
	rec, err := h.repo.GetRiskScore(ctx, GetDatasetID(ctx), run.ID, memberID)
	if err != nil {
		writeError(w, "member not found", err)
		return
	}

	explanation := risk.Explain(*rec, risk.PopulationStats{MaxRaw: run.Stats.MaxRawScore})
	writeJSON(w, http.StatusOK, map[string]any{
		"record":      rec,
		"explanation": explanation,
	})
}
