package receipt

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shiksha-erp/shiksha-erp/internal/ledger"
	"github.com/shiksha-erp/shiksha-erp/internal/shared"
)

// TxStore groups the transaction-scoped operations receipt workflows need.
type TxStore interface {
	// Ledger exposes the ledger store bound to the same transaction so
	// receipt and ledger effects commit or roll back together.
	Ledger() ledger.Store
	InsertReceipt(ctx context.Context, in CreateReceiptInput) (Receipt, error)
	InsertItems(ctx context.Context, receiptID int64, items []ItemInput) ([]Item, error)
	ReceiptNumberExists(ctx context.Context, number string) (bool, error)
	GetReceiptForUpdate(ctx context.Context, id int64) (*Receipt, error)
	MarkCancelled(ctx context.Context, id int64, at time.Time, reason string) error
	// ActiveCreditEntries returns the not-yet-reversed CREDIT entries tied to
	// the receipt (the payment credit and, if present, the discount credit).
	ActiveCreditEntries(ctx context.Context, receiptID int64) ([]ledger.Entry, error)
	MarkEntriesReversed(ctx context.Context, entryIDs []int64) error
}

// RepositoryPort defines data access for receipts.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error
	GetReceipt(ctx context.Context, id int64) (*Receipt, error)
	ListReceipts(ctx context.Context, filter ListFilter) ([]Receipt, error)
}

// ListFilter narrows receipt listings.
type ListFilter struct {
	StudentID     int64
	SessionID     int64
	IncludeVoided bool
	Limit         int
	Offset        int
}

// Service translates payment events into atomic ledger effects.
type Service struct {
	repo  RepositoryPort
	audit *shared.AuditLogger
	cache *ledger.BalanceCache
	now   func() time.Time
}

// NewService builds a Service instance. audit and cache may be nil.
func NewService(repo RepositoryPort, audit *shared.AuditLogger, cache *ledger.BalanceCache) *Service {
	return &Service{repo: repo, audit: audit, cache: cache, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateReceipt validates and persists a receipt together with its ledger
// credits in one transaction. A backdated receipt date triggers a full
// recalculation inside that same transaction.
func (s *Service) CreateReceipt(ctx context.Context, in CreateReceiptInput) (Receipt, error) {
	if err := in.Validate(); err != nil {
		return Receipt{}, err
	}
	var created Receipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		exists, err := tx.ReceiptNumberExists(ctx, in.Number)
		if err != nil {
			return fmt.Errorf("receipt: check number: %w", err)
		}
		if exists {
			return ErrDuplicateNumber
		}
		created, err = tx.InsertReceipt(ctx, in)
		if err != nil {
			return err
		}
		created.Items, err = tx.InsertItems(ctx, created.ID, in.Items)
		if err != nil {
			return fmt.Errorf("receipt: insert items: %w", err)
		}

		engine := ledger.NewEngine(tx.Ledger())
		if _, err := engine.Append(ctx, ledger.AppendInput{
			StudentID:     in.StudentID,
			SessionID:     in.SessionID,
			EntryDate:     in.ReceiptDate,
			Particulars:   "Receipt No. " + in.Number,
			Type:          ledger.EntryTypeCredit,
			Amount:        in.NetAmount,
			ReferenceType: ledger.RefReceipt,
			ReferenceID:   created.ID,
		}); err != nil {
			return err
		}
		if in.DiscountAmount > 0 {
			if _, err := engine.Append(ctx, ledger.AppendInput{
				StudentID:     in.StudentID,
				SessionID:     in.SessionID,
				EntryDate:     in.ReceiptDate,
				Particulars:   "Discount on Receipt No. " + in.Number,
				Type:          ledger.EntryTypeCredit,
				Amount:        in.DiscountAmount,
				ReferenceType: ledger.RefDiscount,
				ReferenceID:   created.ID,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	s.cache.Invalidate(ctx, in.StudentID, in.SessionID)
	return created, nil
}

// CancelReceipt voids a receipt by posting compensating REVERSAL debits for
// every active credit it produced. The originals stay untouched apart from
// their reversed flag; cancellation always takes effect "now", never
// backdated.
func (s *Service) CancelReceipt(ctx context.Context, id int64, reason string) (Receipt, error) {
	var cancelled Receipt
	cancelledAt := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		existing, err := tx.GetReceiptForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrNotFound
		}
		if existing.IsCancelled {
			return ErrAlreadyCancelled
		}
		if err := tx.MarkCancelled(ctx, id, cancelledAt, reason); err != nil {
			return fmt.Errorf("receipt: mark cancelled: %w", err)
		}
		credits, err := tx.ActiveCreditEntries(ctx, id)
		if err != nil {
			return fmt.Errorf("receipt: load credits: %w", err)
		}
		engine := ledger.NewEngine(tx.Ledger())
		reversedIDs := make([]int64, 0, len(credits))
		for _, credit := range credits {
			if _, err := engine.Append(ctx, ledger.AppendInput{
				StudentID:     credit.StudentID,
				SessionID:     credit.SessionID,
				EntryDate:     cancelledAt,
				Particulars:   "Cancellation of Receipt No. " + existing.Number,
				Type:          ledger.EntryTypeDebit,
				Amount:        credit.Credit,
				ReferenceType: ledger.RefReversal,
				ReferenceID:   id,
			}); err != nil {
				return err
			}
			reversedIDs = append(reversedIDs, credit.ID)
		}
		if err := tx.MarkEntriesReversed(ctx, reversedIDs); err != nil {
			return fmt.Errorf("receipt: mark entries reversed: %w", err)
		}
		cancelled = *existing
		cancelled.IsCancelled = true
		cancelled.CancelledAt = &cancelledAt
		cancelled.CancellationReason = reason
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	s.cache.Invalidate(ctx, cancelled.StudentID, cancelled.SessionID)
	// Auditing must not undo a committed cancellation.
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   shared.AuditActionReceiptCancelled,
		Entity:   "receipt",
		EntityID: strconv.FormatInt(id, 10),
		Meta: map[string]any{
			"receipt_no": cancelled.Number,
			"student_id": cancelled.StudentID,
			"reason":     reason,
			"amount":     shared.FormatAmount(cancelled.NetAmount),
		},
		At: cancelledAt,
	})
	return cancelled, nil
}

// GetReceipt returns a receipt with its items.
func (s *Service) GetReceipt(ctx context.Context, id int64) (*Receipt, error) {
	return s.repo.GetReceipt(ctx, id)
}

// ListReceipts returns receipts matching the filter.
func (s *Service) ListReceipts(ctx context.Context, filter ListFilter) ([]Receipt, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 100
	}
	return s.repo.ListReceipts(ctx, filter)
}
