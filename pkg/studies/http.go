package studies

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/logger"
	"github.com/sagar-grv/clinical-trial-intelligence-nest2.0/pkg/common/models"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/studies", h.handleCreateStudy).Methods(http.MethodPost)
	r.HandleFunc("/studies", h.handleListStudies).Methods(http.MethodGet)
	r.HandleFunc("/studies/{id}", h.handleGetStudy).Methods(http.MethodGet)
}

func (h *Handler) handleCreateStudy(w http.ResponseWriter, r *http.Request) {
	var req models.CreateStudyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	study, err := h.service.CreateStudy(r.Context(), req)
	if err != nil {
		logger.Log.WithError(err).Error("failed to create study")
		http.Error(w, "failed to create study", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"study": study})
}

func (h *Handler) handleListStudies(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	studies, err := h.service.ListStudies(r.Context(), limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list studies")
		http.Error(w, "failed to list studies", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": studies})
}

func (h *Handler) handleGetStudy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	study, err := h.service.GetStudy(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "study not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("failed to get study")
		http.Error(w, "failed to get study", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"study": study})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
