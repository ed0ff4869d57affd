package roster

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/shiksha-erp/shiksha-erp/internal/platform/httpx"
)

// Handler exposes student roster endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes registers roster routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/students", h.register)
	r.Get("/students", h.list)
	r.Get("/students/{id}", h.get)
	r.Get("/students/{id}/dues", h.dues)
	r.Get("/reports/defaulters", h.defaulters)
}

type registerRequest struct {
	AdmissionNo      string `json:"admission_no" validate:"required"`
	Name             string `json:"name" validate:"required"`
	GuardianName     string `json:"guardian_name"`
	ClassLevel       int    `json:"class_level" validate:"required,gt=0"`
	TransportRouteID *int64 `json:"transport_route_id"`
	TransportMonths  int    `json:"transport_months" validate:"gte=0,lte=11"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	student, err := h.service.RegisterStudent(r.Context(), CreateStudentInput{
		AdmissionNo:      req.AdmissionNo,
		Name:             req.Name,
		GuardianName:     req.GuardianName,
		ClassLevel:       req.ClassLevel,
		TransportRouteID: req.TransportRouteID,
		TransportMonths:  req.TransportMonths,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateAdmissionNo) {
			httpx.Problem(w, http.StatusConflict, "Duplicate admission number", err.Error())
			return
		}
		h.logger.Error("student registration failed", slog.Any("error", err), slog.String("admission_no", req.AdmissionNo))
		httpx.Problem(w, http.StatusInternalServerError, "Student registration failed", "")
		return
	}
	httpx.JSON(w, http.StatusCreated, student)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	classLevel, _ := strconv.Atoi(r.URL.Query().Get("class_level"))
	students, err := h.service.ListActive(r.Context(), classLevel)
	if err != nil {
		h.logger.Error("student listing failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Student listing failed", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"students": students})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid student id", "")
		return
	}
	student, err := h.service.GetStudent(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Student not found", "")
			return
		}
		h.logger.Error("student lookup failed", slog.Any("error", err), slog.Int64("student_id", id))
		httpx.Problem(w, http.StatusInternalServerError, "Student lookup failed", "")
		return
	}
	httpx.JSON(w, http.StatusOK, student)
}

func (h *Handler) dues(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid student id", "")
		return
	}
	sessionID, err := strconv.ParseInt(r.URL.Query().Get("session_id"), 10, 64)
	if err != nil || sessionID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid session id", "session_id query parameter is required")
		return
	}
	summary, err := h.service.Dues(r.Context(), id, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Student not found", "")
			return
		}
		h.logger.Error("dues lookup failed", slog.Any("error", err), slog.Int64("student_id", id))
		httpx.Problem(w, http.StatusInternalServerError, "Dues lookup failed", "")
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) defaulters(w http.ResponseWriter, r *http.Request) {
	sessionID, err := strconv.ParseInt(r.URL.Query().Get("session_id"), 10, 64)
	if err != nil || sessionID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid session id", "session_id query parameter is required")
		return
	}
	defaulters, err := h.service.Defaulters(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("defaulter report failed", slog.Any("error", err), slog.Int64("session_id", sessionID))
		httpx.Problem(w, http.StatusInternalServerError, "Defaulter report failed", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "defaulters": defaulters})
}
