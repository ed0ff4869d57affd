package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/shiksha-erp/shiksha-erp/internal/observability"
	"github.com/shiksha-erp/shiksha-erp/internal/platform/httpx"
)

// Handler exposes ledger endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	metrics   *observability.Metrics
}

// NewHandler builds Handler instance. metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
		metrics:   metrics,
	}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/students/{id}/statement", h.statement)
	r.Get("/students/{id}/balance", h.balance)
	r.Post("/adjustments", h.postAdjustment)
	r.Post("/students/{id}/recalculate", h.recalculate)
	r.Get("/students/{id}/verify", h.verify)
}

type entryResponse struct {
	ID            int64     `json:"id"`
	EntryDate     time.Time `json:"entry_date"`
	Particulars   string    `json:"particulars"`
	Type          string    `json:"entry_type"`
	Debit         float64   `json:"debit"`
	Credit        float64   `json:"credit"`
	Balance       float64   `json:"balance"`
	ReferenceType string    `json:"reference_type"`
	ReferenceID   int64     `json:"reference_id,omitempty"`
	IsReversed    bool      `json:"is_reversed"`
}

func toEntryResponse(e Entry) entryResponse {
	return entryResponse{
		ID:            e.ID,
		EntryDate:     e.EntryDate,
		Particulars:   e.Particulars,
		Type:          string(e.Type),
		Debit:         e.Debit,
		Credit:        e.Credit,
		Balance:       e.Balance,
		ReferenceType: string(e.ReferenceType),
		ReferenceID:   e.ReferenceID,
		IsReversed:    e.IsReversed,
	}
}

func (h *Handler) statement(w http.ResponseWriter, r *http.Request) {
	studentID, sessionID, ok := h.scope(w, r)
	if !ok {
		return
	}
	entries, err := h.service.Statement(r.Context(), studentID, sessionID)
	if err != nil {
		h.logger.Error("ledger statement failed", slog.Any("error", err), slog.Int64("student_id", studentID))
		httpx.Problem(w, http.StatusInternalServerError, "Statement unavailable", "")
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"student_id": studentID,
		"session_id": sessionID,
		"entries":    out,
	})
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	studentID, sessionID, ok := h.scope(w, r)
	if !ok {
		return
	}
	debits, credits, balance, err := h.service.Totals(r.Context(), studentID, sessionID)
	if err != nil {
		h.logger.Error("ledger totals failed", slog.Any("error", err), slog.Int64("student_id", studentID))
		httpx.Problem(w, http.StatusInternalServerError, "Balance unavailable", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"student_id":    studentID,
		"session_id":    sessionID,
		"total_debits":  debits,
		"total_credits": credits,
		"balance":       balance,
	})
}

type adjustmentRequest struct {
	StudentID   int64   `json:"student_id" validate:"required"`
	SessionID   int64   `json:"session_id" validate:"required"`
	EntryDate   string  `json:"entry_date" validate:"required"`
	Particulars string  `json:"particulars" validate:"required"`
	EntryType   string  `json:"entry_type" validate:"required,oneof=DEBIT CREDIT"`
	Amount      float64 `json:"amount" validate:"gt=0"`
}

func (h *Handler) postAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	entryDate, err := time.Parse("2006-01-02", req.EntryDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", "entry_date must be YYYY-MM-DD")
		return
	}
	entry, err := h.service.RecordAdjustment(r.Context(), AppendInput{
		StudentID:   req.StudentID,
		SessionID:   req.SessionID,
		EntryDate:   entryDate,
		Particulars: req.Particulars,
		Type:        EntryType(req.EntryType),
		Amount:      req.Amount,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid adjustment", err.Error())
			return
		}
		h.logger.Error("adjustment failed", slog.Any("error", err), slog.Int64("student_id", req.StudentID))
		httpx.Problem(w, http.StatusInternalServerError, "Adjustment failed", "")
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (h *Handler) recalculate(w http.ResponseWriter, r *http.Request) {
	studentID, sessionID, ok := h.scope(w, r)
	if !ok {
		return
	}
	updated, err := h.service.Recalculate(r.Context(), studentID, sessionID)
	if err != nil {
		h.logger.Error("recalculation failed", slog.Any("error", err), slog.Int64("student_id", studentID))
		httpx.Problem(w, http.StatusInternalServerError, "Recalculation failed", "")
		return
	}
	if h.metrics != nil {
		h.metrics.RecalculationsTotal.Inc()
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"student_id":      studentID,
		"session_id":      sessionID,
		"entries_updated": updated,
	})
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	studentID, sessionID, ok := h.scope(w, r)
	if !ok {
		return
	}
	drifts, err := h.service.Verify(r.Context(), studentID, sessionID)
	if err != nil {
		h.logger.Error("ledger verification failed", slog.Any("error", err), slog.Int64("student_id", studentID))
		httpx.Problem(w, http.StatusInternalServerError, "Verification failed", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"student_id": studentID,
		"session_id": sessionID,
		"consistent": len(drifts) == 0,
		"drifts":     drifts,
	})
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (studentID, sessionID int64, ok bool) {
	studentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || studentID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid student id", "")
		return 0, 0, false
	}
	sessionID, err = strconv.ParseInt(r.URL.Query().Get("session_id"), 10, 64)
	if err != nil || sessionID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid session id", "session_id query parameter is required")
		return 0, 0, false
	}
	return studentID, sessionID, true
}
