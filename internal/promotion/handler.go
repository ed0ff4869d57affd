package promotion

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/shiksha-erp/shiksha-erp/internal/observability"
	"github.com/shiksha-erp/shiksha-erp/internal/platform/httpx"
)

// Handler exposes promotion and revert endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	metrics   *observability.Metrics

	terminalClass int
	batchSize     int
}

// NewHandler builds Handler instance. terminalClass and batchSize come from
// configuration and fill the options a request leaves unset; metrics may be
// nil.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics, terminalClass, batchSize int) *Handler {
	return &Handler{
		logger:        logger,
		service:       service,
		validator:     validator.New(),
		metrics:       metrics,
		terminalClass: terminalClass,
		batchSize:     batchSize,
	}
}

func (h *Handler) countRun(operation, outcome string) {
	if h.metrics == nil {
		return
	}
	h.metrics.PromotionRunsTotal.WithLabelValues(operation, outcome).Inc()
}

// MountRoutes registers promotion routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/promotions", h.promote)
	r.Get("/promotions", h.list)
	r.Get("/promotions/{id}", h.get)
	r.Get("/promotions/{id}/revert-safety", h.revertSafety)
	r.Post("/promotions/{id}/revert", h.revert)
}

type promoteRequest struct {
	SourceSessionID int64 `json:"source_session_id" validate:"required"`
	TargetSessionID int64 `json:"target_session_id" validate:"required"`

	CopyFeeStructures   bool `json:"copy_fee_structures"`
	CarryForwardDues    bool `json:"carry_forward_dues"`
	DeactivateGraduates bool `json:"deactivate_graduates"`
	PromoteClasses      bool `json:"promote_classes"`
	AddSessionFees      bool `json:"add_session_fees"`
	SetCurrentSession   bool `json:"set_current_session"`
}

func (h *Handler) promote(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	promo, err := h.service.Promote(r.Context(), Options{
		SourceSessionID:     req.SourceSessionID,
		TargetSessionID:     req.TargetSessionID,
		CopyFeeStructures:   req.CopyFeeStructures,
		CarryForwardDues:    req.CarryForwardDues,
		DeactivateGraduates: req.DeactivateGraduates,
		PromoteClasses:      req.PromoteClasses,
		AddSessionFees:      req.AddSessionFees,
		SetCurrentSession:   req.SetCurrentSession,
		TerminalClass:       h.terminalClass,
		BatchSize:           h.batchSize,
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyPromoted) {
			h.countRun("promote", "conflict")
			httpx.Problem(w, http.StatusConflict, "Already promoted", err.Error())
			return
		}
		h.countRun("promote", "error")
		h.logger.Error("promotion failed", slog.Any("error", err),
			slog.Int64("source_session_id", req.SourceSessionID),
			slog.Int64("target_session_id", req.TargetSessionID))
		httpx.Problem(w, http.StatusInternalServerError, "Promotion failed", "")
		return
	}
	h.countRun("promote", "success")
	httpx.JSON(w, http.StatusCreated, promo)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	promos, err := h.service.ListPromotions(r.Context())
	if err != nil {
		h.logger.Error("promotion listing failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Promotion listing failed", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"promotions": promos})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.promotionID(w, r)
	if !ok {
		return
	}
	promo, err := h.service.GetPromotion(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Promotion not found", "")
			return
		}
		h.logger.Error("promotion lookup failed", slog.Any("error", err), slog.Int64("promotion_id", id))
		httpx.Problem(w, http.StatusInternalServerError, "Promotion lookup failed", "")
		return
	}
	httpx.JSON(w, http.StatusOK, promo)
}

func (h *Handler) revertSafety(w http.ResponseWriter, r *http.Request) {
	id, ok := h.promotionID(w, r)
	if !ok {
		return
	}
	report, err := h.service.CheckRevertSafety(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Promotion not found", "")
			return
		}
		h.logger.Error("revert safety check failed", slog.Any("error", err), slog.Int64("promotion_id", id))
		httpx.Problem(w, http.StatusInternalServerError, "Safety check failed", "")
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

type revertRequest struct {
	ForceDelete bool   `json:"force_delete"`
	Reason      string `json:"reason" validate:"required"`
}

func (h *Handler) revert(w http.ResponseWriter, r *http.Request) {
	id, ok := h.promotionID(w, r)
	if !ok {
		return
	}
	var req revertRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	result, err := h.service.ExecuteRevert(r.Context(), id, req.ForceDelete, req.Reason)
	if err != nil {
		h.countRun("revert", "error")
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Promotion not found", "")
		case errors.Is(err, ErrAlreadyReverted):
			httpx.Problem(w, http.StatusConflict, "Already reverted", err.Error())
		case errors.Is(err, ErrUnsafeRevert):
			httpx.Problem(w, http.StatusConflict, "Revert is not safe",
				"the revert would destroy data recorded after the promotion; re-run the safety check or pass force_delete")
		default:
			h.logger.Error("revert failed", slog.Any("error", err), slog.Int64("promotion_id", id))
			httpx.Problem(w, http.StatusInternalServerError, "Revert failed", "")
		}
		return
	}
	h.countRun("revert", "success")
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) promotionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid promotion id", "")
		return 0, false
	}
	return id, true
}
