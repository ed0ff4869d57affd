package receipt

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

// Handler exposes receipt endpoints.
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

// MountRoutes registers receipt routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/receipts", h.create)
	r.Get("/receipts", h.list)
	r.Get("/receipts/{id}", h.get)
	r.Post("/receipts/{id}/cancel", h.cancel)
}

type createRequest struct {
	Number         string      `json:"receipt_no" validate:"required"`
	StudentID      int64       `json:"student_id" validate:"required"`
	SessionID      int64       `json:"session_id" validate:"required"`
	ReceiptDate    string      `json:"receipt_date" validate:"required"`
	TotalAmount    float64     `json:"total_amount" validate:"gt=0"`
	DiscountAmount float64     `json:"discount_amount" validate:"gte=0"`
	NetAmount      float64     `json:"net_amount" validate:"gt=0"`
	PaymentMode    string      `json:"payment_mode" validate:"required,oneof=CASH CHEQUE ONLINE UPI"`
	Items          []ItemInput `json:"items" validate:"omitempty,dive"`
}

type receiptResponse struct {
	ID                 int64      `json:"id"`
	UID                string     `json:"uid"`
	Number             string     `json:"receipt_no"`
	StudentID          int64      `json:"student_id"`
	SessionID          int64      `json:"session_id"`
	ReceiptDate        time.Time  `json:"receipt_date"`
	TotalAmount        float64    `json:"total_amount"`
	DiscountAmount     float64    `json:"discount_amount"`
	NetAmount          float64    `json:"net_amount"`
	PaymentMode        string     `json:"payment_mode"`
	IsCancelled        bool       `json:"is_cancelled"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	Items              []Item     `json:"items,omitempty"`
}

func toReceiptResponse(rec Receipt) receiptResponse {
	return receiptResponse{
		ID:                 rec.ID,
		UID:                rec.UID.String(),
		Number:             rec.Number,
		StudentID:          rec.StudentID,
		SessionID:          rec.SessionID,
		ReceiptDate:        rec.ReceiptDate,
		TotalAmount:        rec.TotalAmount,
		DiscountAmount:     rec.DiscountAmount,
		NetAmount:          rec.NetAmount,
		PaymentMode:        rec.PaymentMode,
		IsCancelled:        rec.IsCancelled,
		CancelledAt:        rec.CancelledAt,
		CancellationReason: rec.CancellationReason,
		Items:              rec.Items,
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
	receiptDate, err := time.Parse("2006-01-02", req.ReceiptDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", "receipt_date must be YYYY-MM-DD")
		return
	}
	rec, err := h.service.CreateReceipt(r.Context(), CreateReceiptInput{
		Number:         req.Number,
		StudentID:      req.StudentID,
		SessionID:      req.SessionID,
		ReceiptDate:    receiptDate,
		TotalAmount:    req.TotalAmount,
		DiscountAmount: req.DiscountAmount,
		NetAmount:      req.NetAmount,
		PaymentMode:    req.PaymentMode,
		Items:          req.Items,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateNumber):
			httpx.Problem(w, http.StatusConflict, "Duplicate receipt number", err.Error())
		case errors.Is(err, ErrInvalidAmount):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid amounts", err.Error())
		default:
			h.logger.Error("receipt creation failed", slog.Any("error", err), slog.String("receipt_no", req.Number))
			httpx.Problem(w, http.StatusInternalServerError, "Receipt creation failed", "")
		}
		return
	}
	httpx.JSON(w, http.StatusCreated, toReceiptResponse(rec))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Limit: 50}
	if v, err := strconv.ParseInt(q.Get("student_id"), 10, 64); err == nil {
		filter.StudentID = v
	}
	if v, err := strconv.ParseInt(q.Get("session_id"), 10, 64); err == nil {
		filter.SessionID = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v <= 200 {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v >= 0 {
		filter.Offset = v
	}
	filter.IncludeVoided = q.Get("include_cancelled") == "true"

	receipts, err := h.service.ListReceipts(r.Context(), filter)
	if err != nil {
		h.logger.Error("receipt listing failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Receipt listing failed", "")
		return
	}
	out := make([]receiptResponse, 0, len(receipts))
	for _, rec := range receipts {
		out = append(out, toReceiptResponse(rec))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"receipts": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid receipt id", "")
		return
	}
	rec, err := h.service.GetReceipt(r.Context(), id)
	if err != nil {
		h.logger.Error("receipt lookup failed", slog.Any("error", err), slog.Int64("receipt_id", id))
		httpx.Problem(w, http.StatusInternalServerError, "Receipt lookup failed", "")
		return
	}
	if rec == nil {
		httpx.Problem(w, http.StatusNotFound, "Receipt not found", "")
		return
	}
	httpx.JSON(w, http.StatusOK, toReceiptResponse(*rec))
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid receipt id", "")
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	rec, err := h.service.CancelReceipt(r.Context(), id, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Receipt not found", "")
		case errors.Is(err, ErrAlreadyCancelled):
			httpx.Problem(w, http.StatusConflict, "Receipt already cancelled", err.Error())
		default:
			h.logger.Error("receipt cancellation failed", slog.Any("error", err), slog.Int64("receipt_id", id))
			httpx.Problem(w, http.StatusInternalServerError, "Receipt cancellation failed", "")
		}
		return
	}
	httpx.JSON(w, http.StatusOK, toReceiptResponse(rec))
}
