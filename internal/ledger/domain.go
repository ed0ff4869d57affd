package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EntryType distinguishes charges from payments.
type EntryType string

const (
	EntryTypeDebit  EntryType = "DEBIT"
	EntryTypeCredit EntryType = "CREDIT"
)

// ReferenceType identifies the event that produced an entry.
type ReferenceType string

const (
	RefFeeCharge      ReferenceType = "FEE_CHARGE"
	RefReceipt        ReferenceType = "RECEIPT"
	RefAdjustment     ReferenceType = "ADJUSTMENT"
	RefReversal       ReferenceType = "REVERSAL"
	RefOpeningBalance ReferenceType = "OPENING_BALANCE"
	RefDiscount       ReferenceType = "DISCOUNT"
)

// Entry is one line in a student's running account. Once written only the
// stored balance (recalculation) and the reversed flag (receipt cancellation)
// may change. The ID is a monotonic insertion sequence and acts as the
// tie-break for entries sharing an effective date; CreatedAt is informational
// and never an ordering key.
type Entry struct {
	ID            int64
	StudentID     int64
	SessionID     int64
	EntryDate     time.Time
	Particulars   string
	Type          EntryType
	Debit         float64
	Credit        float64
	Balance       float64
	ReferenceType ReferenceType
	ReferenceID   int64
	IsReversed    bool
	CreatedAt     time.Time
}

// Amount returns the signed effect of the entry on the running balance.
func (e Entry) Amount() float64 {
	return e.Debit - e.Credit
}

// AppendInput captures a new entry before the engine assigns its balance.
type AppendInput struct {
	StudentID     int64
	SessionID     int64
	EntryDate     time.Time
	Particulars   string
	Type          EntryType
	Amount        float64
	ReferenceType ReferenceType
	ReferenceID   int64
}

// Validate ensures the input forms a well-typed single-sided entry.
func (in AppendInput) Validate() error {
	if in.StudentID == 0 {
		return errors.New("ledger: student id required")
	}
	if in.SessionID == 0 {
		return errors.New("ledger: session id required")
	}
	if in.EntryDate.IsZero() {
		return errors.New("ledger: entry date required")
	}
	if strings.TrimSpace(in.Particulars) == "" {
		return errors.New("ledger: particulars required")
	}
	if in.Type != EntryTypeDebit && in.Type != EntryTypeCredit {
		return fmt.Errorf("ledger: unknown entry type %q", in.Type)
	}
	if in.Amount <= 0 {
		return ErrInvalidAmount
	}
	switch in.ReferenceType {
	case RefFeeCharge, RefReceipt, RefAdjustment, RefReversal, RefOpeningBalance, RefDiscount:
	default:
		return fmt.Errorf("ledger: unknown reference type %q", in.ReferenceType)
	}
	return nil
}

// Drift reports an entry whose stored balance disagrees with the
// chronological prefix sum.
type Drift struct {
	EntryID  int64
	Stored   float64
	Expected float64
}

// StudentSession identifies one student's ledger within one session.
type StudentSession struct {
	StudentID int64
	SessionID int64
}

// ErrInvalidAmount is returned for zero or negative amounts.
var ErrInvalidAmount = errors.New("ledger: amount must be positive")

// ErrNotFound indicates the requested entry does not exist.
var ErrNotFound = errors.New("ledger: not found")
