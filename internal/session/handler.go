package session

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/shiksha-erp/shiksha-erp/internal/platform/httpx"
)

// Handler exposes academic session endpoints.
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

// MountRoutes registers session routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sessions", h.create)
	r.Get("/sessions", h.list)
	r.Get("/sessions/current", h.current)
	r.Post("/sessions/{id}/set-current", h.setCurrent)
}

type createRequest struct {
	Name      string `json:"name" validate:"required"`
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
}

type sessionResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	IsCurrent bool      `json:"is_current"`
}

func toSessionResponse(s AcademicSession) sessionResponse {
	return sessionResponse{
		ID:        s.ID,
		Name:      s.Name,
		StartDate: s.StartDate,
		EndDate:   s.EndDate,
		IsCurrent: s.IsCurrent,
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", "start_date must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", "end_date must be YYYY-MM-DD")
		return
	}
	sess, err := h.service.CreateSession(r.Context(), CreateSessionInput{Name: req.Name, StartDate: start, EndDate: end})
	if err != nil {
		if errors.Is(err, ErrOverlap) {
			httpx.Problem(w, http.StatusConflict, "Session overlap", err.Error())
			return
		}
		h.logger.Error("session creation failed", slog.Any("error", err), slog.String("name", req.Name))
		httpx.Problem(w, http.StatusInternalServerError, "Session creation failed", "")
		return
	}
	httpx.JSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.service.ListSessions(r.Context())
	if err != nil {
		h.logger.Error("session listing failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Session listing failed", "")
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResponse(s))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Current(r.Context())
	if err != nil {
		if errors.Is(err, ErrNoCurrent) {
			httpx.Problem(w, http.StatusNotFound, "No current session", "")
			return
		}
		h.logger.Error("current session lookup failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Session lookup failed", "")
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(sess))
}

func (h *Handler) setCurrent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid session id", "")
		return
	}
	if err := h.service.SetCurrent(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Session not found", "")
			return
		}
		h.logger.Error("set current session failed", slog.Any("error", err), slog.Int64("session_id", id))
		httpx.Problem(w, http.StatusInternalServerError, "Session update failed", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"session_id": id, "is_current": true})
}
