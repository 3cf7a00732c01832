package analysis

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/alerting"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/logger"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/issues"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/scoring"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/snapshot"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/workbooks"
)

// maxWorkbookBytes caps uploads at 32 MiB, ample for trial workbooks.
const maxWorkbookBytes = 32 << 20

type Handler struct {
	service   *Service
	issues    *issues.Repository
	alerts    *alerting.Repository
	trend     *scoring.TrendRepository
	workbooks *workbooks.Repository
}

func NewHandler(service *Service, issueRepo *issues.Repository, alertRepo *alerting.Repository, trendRepo *scoring.TrendRepository, workbookRepo *workbooks.Repository) *Handler {
	return &Handler{
		service:   service,
		issues:    issueRepo,
		alerts:    alertRepo,
		trend:     trendRepo,
		workbooks: workbookRepo,
	}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/studies/{id}/runs", h.handleStartRun).Methods(http.MethodPost)
	r.HandleFunc("/studies/{id}/runs/current", h.handleCurrentRun).Methods(http.MethodGet)
	r.HandleFunc("/studies/{id}/runs/current", h.handleCancelRun).Methods(http.MethodDelete)
	r.HandleFunc("/studies/{id}/snapshot", h.handleGetSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/studies/{id}/issues", h.handleListIssues).Methods(http.MethodGet)
	r.HandleFunc("/studies/{id}/trend", h.handleTrend).Methods(http.MethodGet)
	r.HandleFunc("/studies/{id}/alerts", h.handleListAlerts).Methods(http.MethodGet)
	r.HandleFunc("/studies/{id}/workbooks", h.handleUploadWorkbook).Methods(http.MethodPost)
	r.HandleFunc("/studies/{id}/workbooks", h.handleListWorkbooks).Methods(http.MethodGet)
	r.HandleFunc("/rules/reload", h.handleReloadRules).Methods(http.MethodPost)
}

func (h *Handler) handleStartRun(w http.ResponseWriter, r *http.Request) {
	studyID := mux.Vars(r)["id"]
	run, err := h.service.StartRun(r.Context(), studyID)
	if errors.Is(err, ErrRunConflict) {
		http.Error(w, "analysis already running for study", http.StatusConflict)
		return
	}
	if err != nil {
		logger.WithStudy(studyID).WithError(err).Error("failed to start run")
		http.Error(w, "failed to start run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"run": run})
}

func (h *Handler) handleCurrentRun(w http.ResponseWriter, r *http.Request) {
	studyID := mux.Vars(r)["id"]
	run, err := h.service.CurrentRun(r.Context(), studyID)
	if errors.Is(err, ErrNoActiveRun) {
		http.Error(w, "no runs for study", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.WithStudy(studyID).WithError(err).Error("failed to read run state")
		http.Error(w, "failed to read run state", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"run": run})
}

func (h *Handler) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	studyID := mux.Vars(r)["id"]
	run, err := h.service.CancelRun(r.Context(), studyID)
	if errors.Is(err, ErrNoActiveRun) {
		http.Error(w, "no active run for study", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.WithStudy(studyID).WithError(err).Error("failed to cancel run")
		http.Error(w, "failed to cancel run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"run": run})
}

func (h *Handler) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	studyID := mux.Vars(r)["id"]
	snap, err := h.service.GetSnapshot(r.Context(), studyID)
	if errors.Is(err, snapshot.ErrNotFound) {
		http.Error(w, "no snapshot for study", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.WithStudy(studyID).WithError(err).Error("failed to load snapshot")
		http.Error(w, "failed to load snapshot", http.StatusInternalServerError)
		return
	}
	// Run state rides along so callers can tell a fresh snapshot from one
	// being recomputed right now.
	payload := map[string]interface{}{"snapshot": snap}
	if run, err := h.service.CurrentRun(r.Context(), studyID); err == nil {
		payload["run"] = run
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleListIssues(w http.ResponseWriter, r *http.Request) {
	studyID := mux.Vars(r)["id"]
	var (
		items []issues.Issue
		err   error
	)
	if r.URL.Query().Get("status") == string(issues.StatusOpen) {
		items, err = h.issues.ListOpenByStudy(r.Context(), studyID)
	} else {
		items, err = h.issues.ListByStudy(r.Context(), studyID)
	}
	if err != nil {
		logger.WithStudy(studyID).WithError(err).Error("failed to list issues")
		http.Error(w, "failed to list issues", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handler) handleTrend(w http.ResponseWriter, r *http.Request) {
	studyID := mux.Vars(r)["id"]
	points, err := h.trend.History(r.Context(), studyID, parseLimit(r, 50))
	if err != nil {
		logger.WithStudy(studyID).WithError(err).Error("failed to load trend")
		http.Error(w, "failed to load trend", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": points})
}

func (h *Handler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	studyID := mux.Vars(r)["id"]
	alerts, err := h.alerts.ListByStudy(r.Context(), studyID, parseLimit(r, 50))
	if err != nil {
		logger.WithStudy(studyID).WithError(err).Error("failed to list alerts")
		http.Error(w, "failed to list alerts", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": alerts})
}

func (h *Handler) handleUploadWorkbook(w http.ResponseWriter, r *http.Request) {
	studyID := mux.Vars(r)["id"]
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		http.Error(w, "filename query parameter is required", http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxWorkbookBytes+1))
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "empty upload", http.StatusBadRequest)
		return
	}
	if len(data) > maxWorkbookBytes {
		http.Error(w, "workbook too large", http.StatusRequestEntityTooLarge)
		return
	}
	wb, created, err := h.workbooks.Save(r.Context(), studyID, filename, data)
	if err != nil {
		logger.WithStudy(studyID).WithError(err).Error("failed to store workbook")
		http.Error(w, "failed to store workbook", http.StatusInternalServerError)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]interface{}{"workbook": wb, "created": created})
}

func (h *Handler) handleListWorkbooks(w http.ResponseWriter, r *http.Request) {
	studyID := mux.Vars(r)["id"]
	wbs, err := h.workbooks.ListByStudy(r.Context(), studyID)
	if err != nil {
		logger.WithStudy(studyID).WithError(err).Error("failed to list workbooks")
		http.Error(w, "failed to list workbooks", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": wbs})
}

func (h *Handler) handleReloadRules(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.ReloadRules()
	if err != nil {
		logger.Log.WithError(err).Error("failed to reload rules")
		http.Error(w, "failed to reload rules", http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": snap.Version,
		"report":  snap.Report,
	})
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
