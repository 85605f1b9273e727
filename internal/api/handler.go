package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-health/readmit/internal/cache"
	"github.com/opensource-health/readmit/internal/domain"
	"github.com/opensource-health/readmit/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	pipeline domain.PipelineConfig
	cacheTTL time.Duration
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, c domain.Cache, bus domain.EventBus, pipeline domain.PipelineConfig, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    c,
		bus:      bus,
		pipeline: pipeline,
		cacheTTL: 10 * time.Minute,
		version:  version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// CreateRunRequest is the request body for POST /runs. RawDir and OutDir
// are relative to the configured pipeline directories.
type CreateRunRequest struct {
	RawDir string `json:"rawDir,omitempty"`
	AsOf   string `json:"asOf,omitempty"`
	OutDir string `json:"outDir,omitempty"`
}

// CreateRun records a pending run and asks a worker to build it.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	datasetID := GetDatasetID(ctx)

	if h.repo == nil || h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "run processing not available",
		})
		return
	}

	var req CreateRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}
	if req.AsOf != "" {
		if _, err := domain.ParseDate(req.AsOf); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "asOf must be a YYYY-MM-DD date",
			})
			return
		}
	}
	rawDir, err := resolveUnder(h.pipeline.RawDir, req.RawDir)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rawDir " + err.Error(),
		})
		return
	}
	outDir, err := resolveUnder(h.pipeline.OutDir, req.OutDir)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "outDir " + err.Error(),
		})
		return
	}
	req.RawDir, req.OutDir = rawDir, outDir

	run := &domain.Run{
		ID:     uuid.New().String(),
		RawDir: req.RawDir,
		Status: domain.RunStatusPending,
	}
	if err := h.repo.CreateRun(ctx, datasetID, run); err != nil {
		writeError(w, "failed to create run", err)
		return
	}

	payload, _ := json.Marshal(domain.RunRequest{
		RunID:     run.ID,
		DatasetID: datasetID,
		RawDir:    req.RawDir,
		AsOf:      req.AsOf,
		OutDir:    req.OutDir,
	})
	if err := h.bus.Publish(ctx, datasetID, domain.TopicRunRequested, payload); err != nil {
		slog.Error("failed to publish run request", "run_id", run.ID, "error", err)
		if ferr := h.repo.FailRun(ctx, datasetID, run.ID, err.Error()); ferr != nil {
			slog.Error("failed to record run failure", "run_id", run.ID, "error", ferr)
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue run",
		})
		return
	}

	slog.Info("run queued", "run_id", run.ID, "dataset_id", datasetID, "raw_dir", req.RawDir)
	writeJSON(w, http.StatusAccepted, run)
}

// ListRuns returns the dataset's runs, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	runs, err := h.repo.ListRuns(r.Context(), GetDatasetID(r.Context()))
	if err != nil {
		writeError(w, "failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []*domain.Run{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun retrieves a run by ID.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	run, err := h.repo.GetRun(r.Context(), GetDatasetID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "run not found", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetKPI returns the KPI snapshot of a completed run.
func (h *Handler) GetKPI(w http.ResponseWriter, r *http.Request) {
	serveTable(h, w, r, "kpi", func(ctx context.Context, datasetID, runID string) (*domain.KPISnapshot, error) {
		return h.repo.GetKPI(ctx, datasetID, runID)
	})
}

// ListDiagnosis returns the diagnosis summary of a completed run.
func (h *Handler) ListDiagnosis(w http.ResponseWriter, r *http.Request) {
	serveTable(h, w, r, "diagnosis", func(ctx context.Context, datasetID, runID string) ([]domain.DiagnosisSummary, error) {
		return h.repo.ListDiagnosisSummary(ctx, datasetID, runID)
	})
}

// ListHospitals returns the hospital summary of a completed run.
func (h *Handler) ListHospitals(w http.ResponseWriter, r *http.Request) {
	serveTable(h, w, r, "hospitals", func(ctx context.Context, datasetID, runID string) ([]domain.HospitalSummary, error) {
		return h.repo.ListHospitalSummary(ctx, datasetID, runID)
	})
}

// ListInterventions returns the intervention ROI table of a completed run.
func (h *Handler) ListInterventions(w http.ResponseWriter, r *http.Request) {
	serveTable(h, w, r, "interventions", func(ctx context.Context, datasetID, runID string) ([]domain.InterventionResult, error) {
		return h.repo.ListInterventionResults(ctx, datasetID, runID)
	})
}

// ListRisk returns a completed run's risk scores, optionally for one tier.
func (h *Handler) ListRisk(w http.ResponseWriter, r *http.Request) {
	tier := domain.RiskTier(r.URL.Query().Get("tier"))
	switch tier {
	case "", domain.TierLow, domain.TierMedium, domain.TierHigh:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "tier must be Low, Medium or High",
		})
		return
	}

	serveTable(h, w, r, "risk:"+string(tier), func(ctx context.Context, datasetID, runID string) ([]domain.RiskRecord, error) {
		return h.repo.ListRiskScores(ctx, datasetID, runID, tier)
	})
}

// serveTable writes one stored table of a completed run. Tables of completed
// runs never change, so they are served from the cache when present.
func serveTable[T any](h *Handler, w http.ResponseWriter, r *http.Request, name string, load func(ctx context.Context, datasetID, runID string) (T, error)) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	datasetID := GetDatasetID(ctx)

	run, ok := h.completedRun(w, r)
	if !ok {
		return
	}
	key := cache.TableKey(run.ID, name)

	if h.cache != nil {
		v, hit, err := cache.GetJSON[T](ctx, h.cache, datasetID, key)
		if err != nil {
			slog.Warn("cache read failed", "key", key, "error", err)
		}
		if hit {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}

	v, err := load(ctx, datasetID, run.ID)
	if err != nil {
		writeError(w, "failed to load "+name, err)
		return
	}

	if h.cache != nil {
		if err := cache.SetJSON(ctx, h.cache, datasetID, key, v, h.cacheTTL); err != nil {
			slog.Warn("cache write failed", "key", key, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, v)
}

// completedRun loads the run named in the path and checks it finished.
func (h *Handler) completedRun(w http.ResponseWriter, r *http.Request) (*domain.Run, bool) {
	run, err := h.repo.GetRun(r.Context(), GetDatasetID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "run not found", err)
		return nil, false
	}
	if run.Status != domain.RunStatusCompleted {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "run is not completed",
			"status": run.Status,
		})
		return nil, false
	}
	return run, true
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return false
	}
	return true
}

var errOutsideRoot = errors.New("must stay inside the configured directory")

// resolveUnder joins p onto root and rejects results that leave root.
// An empty p selects root itself.
func resolveUnder(root, p string) (string, error) {
	if p == "" {
		return root, nil
	}
	joined := filepath.Join(root, p)
	if filepath.IsAbs(p) {
		joined = filepath.Clean(p)
	}
	rel, err := filepath.Rel(root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideRoot
	}
	return joined, nil
}

// writeError maps repository errors to HTTP status codes.
func writeError(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrInvalidInput):
		status = http.StatusBadRequest
	default:
		slog.Error(msg, "error", err)
	}
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
