package report

import (
	"bytes"
	"context"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/shiksha-erp/shiksha-erp/internal/receipt"
	"github.com/shiksha-erp/shiksha-erp/internal/roster"
	"github.com/shiksha-erp/shiksha-erp/internal/session"
	"github.com/shiksha-erp/shiksha-erp/internal/shared"
)

// ReceiptSource loads receipts for printing.
type ReceiptSource interface {
	GetReceipt(ctx context.Context, id int64) (*receipt.Receipt, error)
}

// StudentSource loads the student named on a receipt.
type StudentSource interface {
	GetStudent(ctx context.Context, id int64) (roster.Student, error)
}

// SessionSource loads the session a receipt belongs to.
type SessionSource interface {
	GetSession(ctx context.Context, id int64) (session.AcademicSession, error)
}

// Handler manages printable report endpoints.
type Handler struct {
	client   *Client
	receipts ReceiptSource
	students StudentSource
	sessions SessionSource
	logger   *slog.Logger
}

// NewHandler creates a report handler.
func NewHandler(client *Client, receipts ReceiptSource, students StudentSource, sessions SessionSource, logger *slog.Logger) *Handler {
	return &Handler{
		client:   client,
		receipts: receipts,
		students: students,
		sessions: sessions,
		logger:   logger,
	}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ping", h.ping)
	r.Get("/receipts/{id}", h.receiptPDF)
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	if err := h.client.Ping(r.Context()); err != nil {
		h.logger.Warn("gotenberg ping failed", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

var receiptTemplate = template.Must(template.New("receipt").Parse(`<html>
<head><title>Fee Receipt {{.Number}}</title></head>
<body>
<h1>Fee Receipt</h1>
<p><strong>Receipt No:</strong> {{.Number}}{{if .Cancelled}} <strong>(CANCELLED)</strong>{{end}}</p>
<p><strong>Date:</strong> {{.Date}}</p>
<p><strong>Session:</strong> {{.Session}}</p>
<p><strong>Student:</strong> {{.Student}} ({{.AdmissionNo}})</p>
<p><strong>Guardian:</strong> {{.Guardian}}</p>
<table border="1" cellpadding="6" cellspacing="0">
<tr><th>Fee Type</th><th>Amount</th></tr>
{{range .Items}}<tr><td>{{.FeeType}}</td><td>{{.Amount}}</td></tr>
{{end}}</table>
<p><strong>Total:</strong> {{.Total}}</p>
<p><strong>Discount:</strong> {{.Discount}}</p>
<p><strong>Net Paid:</strong> {{.Net}} ({{.PaymentMode}})</p>
</body>
</html>`))

type receiptView struct {
	Number      string
	Cancelled   bool
	Date        string
	Session     string
	Student     string
	AdmissionNo string
	Guardian    string
	Items       []receiptItemView
	Total       string
	Discount    string
	Net         string
	PaymentMode string
}

type receiptItemView struct {
	FeeType string
	Amount  string
}

func (h *Handler) receiptPDF(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	rec, err := h.receipts.GetReceipt(r.Context(), id)
	if err != nil {
		h.logger.Error("load receipt for print", slog.Any("error", err), slog.Int64("receipt_id", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	student, err := h.students.GetStudent(r.Context(), rec.StudentID)
	if err != nil {
		h.logger.Error("load student for print", slog.Any("error", err), slog.Int64("student_id", rec.StudentID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	sess, err := h.sessions.GetSession(r.Context(), rec.SessionID)
	if err != nil {
		h.logger.Error("load session for print", slog.Any("error", err), slog.Int64("session_id", rec.SessionID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	view := receiptView{
		Number:      rec.Number,
		Cancelled:   rec.IsCancelled,
		Date:        rec.ReceiptDate.Format("02 Jan 2006"),
		Session:     sess.Name,
		Student:     student.Name,
		AdmissionNo: student.AdmissionNo,
		Guardian:    student.GuardianName,
		Total:       shared.FormatAmount(rec.TotalAmount),
		Discount:    shared.FormatAmount(rec.DiscountAmount),
		Net:         shared.FormatAmount(rec.NetAmount),
		PaymentMode: rec.PaymentMode,
	}
	for _, item := range rec.Items {
		view.Items = append(view.Items, receiptItemView{
			FeeType: item.FeeType,
			Amount:  shared.FormatAmount(item.Amount),
		})
	}

	var html bytes.Buffer
	if err := receiptTemplate.Execute(&html, view); err != nil {
		h.logger.Error("render receipt html", slog.Any("error", err), slog.Int64("receipt_id", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	pdf, err := h.client.RenderHTML(r.Context(), html.String())
	if err != nil {
		h.logger.Error("render receipt pdf", slog.Any("error", err), slog.Int64("receipt_id", id))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "inline; filename=receipt-"+rec.Number+".pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
