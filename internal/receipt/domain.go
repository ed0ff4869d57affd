package receipt

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Receipt is a payment event. Cancellation never deletes it or its ledger
// entries; it flips the cancelled flag and posts compensating debits.
type Receipt struct {
	ID                 int64
	UID                uuid.UUID
	Number             string
	StudentID          int64
	SessionID          int64
	ReceiptDate        time.Time
	TotalAmount        float64
	DiscountAmount     float64
	NetAmount          float64
	PaymentMode        string
	IsCancelled        bool
	CancelledAt        *time.Time
	CancellationReason string
	CreatedAt          time.Time
	Items              []Item
}

// Item is a fee-type line on a receipt, for display only; the ledger carries
// the accounting weight.
type Item struct {
	ID        int64
	ReceiptID int64
	FeeType   string
	Amount    float64
}

// ItemInput describes a line item on a new receipt.
type ItemInput struct {
	FeeType string  `json:"fee_type" validate:"required"`
	Amount  float64 `json:"amount" validate:"gt=0"`
}

// CreateReceiptInput captures a new payment event.
type CreateReceiptInput struct {
	Number         string
	StudentID      int64
	SessionID      int64
	ReceiptDate    time.Time
	TotalAmount    float64
	DiscountAmount float64
	NetAmount      float64
	PaymentMode    string
	Items          []ItemInput
}

const amountEpsilon = 1e-9

// Validate enforces the receipt arithmetic before anything is persisted.
func (in CreateReceiptInput) Validate() error {
	if strings.TrimSpace(in.Number) == "" {
		return errors.New("receipt: receipt number required")
	}
	if in.StudentID == 0 {
		return errors.New("receipt: student id required")
	}
	if in.SessionID == 0 {
		return errors.New("receipt: session id required")
	}
	if in.ReceiptDate.IsZero() {
		return errors.New("receipt: receipt date required")
	}
	if in.DiscountAmount < 0 {
		return ErrInvalidAmount
	}
	if math.Abs(in.NetAmount-(in.TotalAmount-in.DiscountAmount)) > amountEpsilon {
		return ErrInvalidAmount
	}
	if in.NetAmount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

var (
	// ErrDuplicateNumber indicates the receipt number is already in use.
	ErrDuplicateNumber = errors.New("receipt: receipt number already exists")
	// ErrInvalidAmount indicates the amounts do not form a valid receipt.
	ErrInvalidAmount = errors.New("receipt: invalid amount")
	// ErrAlreadyCancelled indicates a second cancellation attempt.
	ErrAlreadyCancelled = errors.New("receipt: already cancelled")
	// ErrNotFound indicates the receipt does not exist.
	ErrNotFound = errors.New("receipt: not found")
)
