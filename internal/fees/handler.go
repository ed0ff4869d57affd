package fees

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/shiksha-erp/shiksha-erp/internal/platform/httpx"
)

// Handler exposes fee structure endpoints.
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

// MountRoutes registers fee routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Put("/fee-structures", h.upsert)
	r.Get("/sessions/{id}/fee-structures", h.listForSession)
	r.Get("/transport-routes", h.listRoutes)
}

type upsertRequest struct {
	SessionID       int64   `json:"session_id" validate:"required"`
	ClassLevel      int     `json:"class_level" validate:"required,gt=0"`
	MonthlyFee      float64 `json:"monthly_fee" validate:"gte=0"`
	AnnualFee       float64 `json:"annual_fee" validate:"gte=0"`
	AdmissionFee    float64 `json:"admission_fee" validate:"gte=0"`
	RegistrationFee float64 `json:"registration_fee" validate:"gte=0"`
}

func (h *Handler) upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	structure, err := h.service.DefineStructure(r.Context(), StructureInput{
		SessionID:       req.SessionID,
		ClassLevel:      req.ClassLevel,
		MonthlyFee:      req.MonthlyFee,
		AnnualFee:       req.AnnualFee,
		AdmissionFee:    req.AdmissionFee,
		RegistrationFee: req.RegistrationFee,
	})
	if err != nil {
		h.logger.Error("fee structure upsert failed", slog.Any("error", err), slog.Int64("session_id", req.SessionID))
		httpx.Problem(w, http.StatusInternalServerError, "Fee structure update failed", "")
		return
	}
	httpx.JSON(w, http.StatusOK, structure)
}

func (h *Handler) listForSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || sessionID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid session id", "")
		return
	}
	structures, err := h.service.StructuresForSession(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("fee structure listing failed", slog.Any("error", err), slog.Int64("session_id", sessionID))
		httpx.Problem(w, http.StatusInternalServerError, "Fee structure listing failed", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"fee_structures": structures})
}

func (h *Handler) listRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.service.Routes(r.Context())
	if err != nil {
		h.logger.Error("transport route listing failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Transport route listing failed", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transport_routes": routes})
}
