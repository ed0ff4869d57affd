package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx so the same queries can
// run pooled or inside a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for ledger entries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn against a transaction-bound store inside a
// repeatable-read transaction. Every ledger-mutating operation goes through
// here so a failure mid-recalculation rolls the whole call back.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("ledger: repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(ctx, &sqlStore{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit tx: %w", err)
	}
	return nil
}

// Store returns a pool-backed store for read paths that need no transaction.
func (r *Repository) Store() Store {
	return &sqlStore{db: r.pool}
}

// BindTx wraps an externally-managed transaction, letting the receipt and
// promotion repositories drive the engine inside their own transactional
// scope.
func BindTx(tx pgx.Tx) Store {
	return &sqlStore{db: tx}
}

type sqlStore struct {
	db dbtx
}

const entryColumns = `id, student_id, session_id, entry_date, particulars, entry_type, debit, credit, balance, reference_type, reference_id, is_reversed, created_at`

func (s *sqlStore) InsertEntry(ctx context.Context, in AppendInput, balance float64) (Entry, error) {
	debit, credit := 0.0, 0.0
	if in.Type == EntryTypeDebit {
		debit = in.Amount
	} else {
		credit = in.Amount
	}
	row := s.db.QueryRow(ctx, `INSERT INTO ledger_entries (student_id, session_id, entry_date, particulars, entry_type, debit, credit, balance, reference_type, reference_id, is_reversed, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, NOW())
RETURNING `+entryColumns,
		in.StudentID, in.SessionID, in.EntryDate, in.Particulars, in.Type, debit, credit, balance, in.ReferenceType, nullableID(in.ReferenceID))
	return scanEntry(row)
}

func (s *sqlStore) EntriesByStudent(ctx context.Context, studentID, sessionID int64) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE student_id = $1 AND session_id = $2 ORDER BY entry_date, id`, studentID, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *sqlStore) LastEntry(ctx context.Context, studentID, sessionID int64) (*Entry, error) {
	row := s.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE student_id = $1 AND session_id = $2 ORDER BY entry_date DESC, id DESC LIMIT 1`, studentID, sessionID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (s *sqlStore) UpdateBalance(ctx context.Context, entryID int64, balance float64) error {
	tag, err := s.db.Exec(ctx, `UPDATE ledger_entries SET balance = $2 WHERE id = $1`, entryID, balance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) SumDebits(ctx context.Context, studentID, sessionID int64) (float64, error) {
	var total float64
	err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(debit), 0) FROM ledger_entries WHERE student_id = $1 AND session_id = $2`, studentID, sessionID).Scan(&total)
	return total, err
}

func (s *sqlStore) SumCredits(ctx context.Context, studentID, sessionID int64) (float64, error) {
	var total float64
	err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(credit), 0) FROM ledger_entries WHERE student_id = $1 AND session_id = $2`, studentID, sessionID).Scan(&total)
	return total, err
}

// StudentSessionPairs lists every (student, session) combination holding at
// least one entry. The integrity job walks these.
func (r *Repository) StudentSessionPairs(ctx context.Context) ([]StudentSession, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT student_id, session_id FROM ledger_entries ORDER BY student_id, session_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pairs []StudentSession
	for rows.Next() {
		var p StudentSession
		if err := rows.Scan(&p.StudentID, &p.SessionID); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var refID *int64
	if err := row.Scan(&e.ID, &e.StudentID, &e.SessionID, &e.EntryDate, &e.Particulars, &e.Type, &e.Debit, &e.Credit, &e.Balance, &e.ReferenceType, &refID, &e.IsReversed, &e.CreatedAt); err != nil {
		return Entry{}, err
	}
	if refID != nil {
		e.ReferenceID = *refID
	}
	return e, nil
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
