package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for academic sessions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sessionColumns = `id, name, start_date, end_date, is_current, created_at, updated_at`

// Insert persists a new session.
func (r *Repository) Insert(ctx context.Context, in CreateSessionInput) (AcademicSession, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO academic_sessions (name, start_date, end_date, is_current, created_at, updated_at)
VALUES ($1, $2, $3, FALSE, NOW(), NOW()) RETURNING `+sessionColumns, in.Name, in.StartDate, in.EndDate)
	return scanSession(row)
}

// Get loads one session by id.
func (r *Repository) Get(ctx context.Context, id int64) (AcademicSession, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM academic_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AcademicSession{}, ErrNotFound
		}
		return AcademicSession{}, err
	}
	return s, nil
}

// List returns every session, oldest first.
func (r *Repository) List(ctx context.Context) ([]AcademicSession, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM academic_sessions ORDER BY start_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []AcademicSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Current returns the session marked current.
func (r *Repository) Current(ctx context.Context) (AcademicSession, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM academic_sessions WHERE is_current LIMIT 1`)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AcademicSession{}, ErrNoCurrent
		}
		return AcademicSession{}, err
	}
	return s, nil
}

// SetCurrent repoints the single current-session marker in one transaction.
func (r *Repository) SetCurrent(ctx context.Context, id int64) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("session: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if _, err := tx.Exec(ctx, `UPDATE academic_sessions SET is_current = FALSE, updated_at = NOW() WHERE is_current`); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE academic_sessions SET is_current = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

// RangeConflict reports whether the window overlaps an existing session.
func (r *Repository) RangeConflict(ctx context.Context, in CreateSessionInput) (bool, error) {
	var conflict bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM academic_sessions WHERE start_date <= $2 AND end_date >= $1)`, in.StartDate, in.EndDate).Scan(&conflict)
	return conflict, err
}

func scanSession(row pgx.Row) (AcademicSession, error) {
	var s AcademicSession
	if err := row.Scan(&s.ID, &s.Name, &s.StartDate, &s.EndDate, &s.IsCurrent, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return AcademicSession{}, err
	}
	return s, nil
}
