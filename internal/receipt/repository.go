package receipt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiksha-erp/shiksha-erp/internal/ledger"
)

// Repository provides PostgreSQL backed persistence for receipts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction; the receipt row, its
// items, and every ledger entry commit together or not at all.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("receipt: repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("receipt: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(ctx, &txStore{tx: tx, ledger: ledger.BindTx(tx)}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("receipt: commit tx: %w", err)
	}
	return nil
}

const receiptColumns = `id, uid, receipt_no, student_id, session_id, receipt_date, total_amount, discount_amount, net_amount, payment_mode, is_cancelled, cancelled_at, cancellation_reason, created_at`

// GetReceipt loads a receipt and its items.
func (r *Repository) GetReceipt(ctx context.Context, id int64) (*Receipt, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id)
	rec, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, receipt_id, fee_type, amount FROM receipt_items WHERE receipt_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.ReceiptID, &item.FeeType, &item.Amount); err != nil {
			return nil, err
		}
		rec.Items = append(rec.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListReceipts returns receipts matching the filter, newest first.
func (r *Repository) ListReceipts(ctx context.Context, filter ListFilter) ([]Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE 1=1`
	args := []any{}
	idx := 1
	if filter.StudentID != 0 {
		query += fmt.Sprintf(" AND student_id = $%d", idx)
		args = append(args, filter.StudentID)
		idx++
	}
	if filter.SessionID != 0 {
		query += fmt.Sprintf(" AND session_id = $%d", idx)
		args = append(args, filter.SessionID)
		idx++
	}
	if !filter.IncludeVoided {
		query += " AND NOT is_cancelled"
	}
	query += fmt.Sprintf(" ORDER BY receipt_date DESC, id DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var receipts []Receipt
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, rec)
	}
	return receipts, rows.Err()
}

type txStore struct {
	tx     pgx.Tx
	ledger ledger.Store
}

func (s *txStore) Ledger() ledger.Store {
	return s.ledger
}

func (s *txStore) InsertReceipt(ctx context.Context, in CreateReceiptInput) (Receipt, error) {
	row := s.tx.QueryRow(ctx, `INSERT INTO receipts (uid, receipt_no, student_id, session_id, receipt_date, total_amount, discount_amount, net_amount, payment_mode, is_cancelled, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, NOW())
RETURNING `+receiptColumns,
		uuid.New(), in.Number, in.StudentID, in.SessionID, in.ReceiptDate, in.TotalAmount, in.DiscountAmount, in.NetAmount, in.PaymentMode)
	rec, err := scanReceipt(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Receipt{}, ErrDuplicateNumber
		}
		return Receipt{}, fmt.Errorf("receipt: insert: %w", err)
	}
	return rec, nil
}

func (s *txStore) InsertItems(ctx context.Context, receiptID int64, items []ItemInput) ([]Item, error) {
	inserted := make([]Item, 0, len(items))
	for _, in := range items {
		var item Item
		err := s.tx.QueryRow(ctx, `INSERT INTO receipt_items (receipt_id, fee_type, amount) VALUES ($1, $2, $3) RETURNING id, receipt_id, fee_type, amount`,
			receiptID, in.FeeType, in.Amount).Scan(&item.ID, &item.ReceiptID, &item.FeeType, &item.Amount)
		if err != nil {
			return nil, err
		}
		inserted = append(inserted, item)
	}
	return inserted, nil
}

func (s *txStore) ReceiptNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := s.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM receipts WHERE receipt_no = $1)`, number).Scan(&exists)
	return exists, err
}

func (s *txStore) GetReceiptForUpdate(ctx context.Context, id int64) (*Receipt, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1 FOR UPDATE`, id)
	rec, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *txStore) MarkCancelled(ctx context.Context, id int64, at time.Time, reason string) error {
	tag, err := s.tx.Exec(ctx, `UPDATE receipts SET is_cancelled = TRUE, cancelled_at = $2, cancellation_reason = $3 WHERE id = $1`, id, at, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *txStore) ActiveCreditEntries(ctx context.Context, receiptID int64) ([]ledger.Entry, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, student_id, session_id, entry_date, particulars, entry_type, debit, credit, balance, reference_type, reference_id, is_reversed, created_at
FROM ledger_entries
WHERE reference_id = $1 AND reference_type IN ($2, $3) AND entry_type = $4 AND NOT is_reversed
ORDER BY id`, receiptID, ledger.RefReceipt, ledger.RefDiscount, ledger.EntryTypeCredit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var refID *int64
		if err := rows.Scan(&e.ID, &e.StudentID, &e.SessionID, &e.EntryDate, &e.Particulars, &e.Type, &e.Debit, &e.Credit, &e.Balance, &e.ReferenceType, &refID, &e.IsReversed, &e.CreatedAt); err != nil {
			return nil, err
		}
		if refID != nil {
			e.ReferenceID = *refID
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *txStore) MarkEntriesReversed(ctx context.Context, entryIDs []int64) error {
	if len(entryIDs) == 0 {
		return nil
	}
	_, err := s.tx.Exec(ctx, `UPDATE ledger_entries SET is_reversed = TRUE WHERE id = ANY($1)`, entryIDs)
	return err
}

func scanReceipt(row pgx.Row) (Receipt, error) {
	var rec Receipt
	var cancelledAt *time.Time
	var reason *string
	if err := row.Scan(&rec.ID, &rec.UID, &rec.Number, &rec.StudentID, &rec.SessionID, &rec.ReceiptDate, &rec.TotalAmount, &rec.DiscountAmount, &rec.NetAmount, &rec.PaymentMode, &rec.IsCancelled, &cancelledAt, &reason, &rec.CreatedAt); err != nil {
		return Receipt{}, err
	}
	rec.CancelledAt = cancelledAt
	if reason != nil {
		rec.CancellationReason = *reason
	}
	return rec, nil
}
