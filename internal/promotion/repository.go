package promotion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiksha-erp/shiksha-erp/internal/fees"
	"github.com/shiksha-erp/shiksha-erp/internal/ledger"
	"github.com/shiksha-erp/shiksha-erp/internal/roster"
	"github.com/shiksha-erp/shiksha-erp/internal/session"
)

// Repository provides PostgreSQL backed persistence for promotions and the
// cross-table bulk operations the pipeline runs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction spanning the roster,
// fee, session, and ledger tables.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("promotion: repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("promotion: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(ctx, &txStore{tx: tx, ledger: ledger.BindTx(tx)}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("promotion: commit tx: %w", err)
	}
	return nil
}

const promotionColumns = `id, uid, source_session_id, target_session_id, steps, result, executed_at, is_reverted, reverted_at, revert_reason`

// GetPromotion loads one promotion record.
func (r *Repository) GetPromotion(ctx context.Context, id int64) (*SessionPromotion, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+promotionColumns+` FROM session_promotions WHERE id = $1`, id)
	return scanPromotion(row)
}

// ListPromotions returns all promotion records, newest first.
func (r *Repository) ListPromotions(ctx context.Context) ([]SessionPromotion, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+promotionColumns+` FROM session_promotions ORDER BY executed_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var promos []SessionPromotion
	for rows.Next() {
		promo, err := scanPromotion(rows)
		if err != nil {
			return nil, err
		}
		promos = append(promos, *promo)
	}
	return promos, rows.Err()
}

type txStore struct {
	tx     pgx.Tx
	ledger ledger.Store
}

func (s *txStore) Ledger() ledger.Store {
	return s.ledger
}

func (s *txStore) CopyFeeStructures(ctx context.Context, sourceSessionID, targetSessionID int64) (int, error) {
	tag, err := s.tx.Exec(ctx, `INSERT INTO fee_structures (session_id, class_level, monthly_fee, annual_fee, admission_fee, registration_fee, created_at, updated_at)
SELECT $2, class_level, monthly_fee, annual_fee, admission_fee, registration_fee, NOW(), NOW()
FROM fee_structures
WHERE session_id = $1
ON CONFLICT (session_id, class_level) DO NOTHING`, sourceSessionID, targetSessionID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *txStore) FeeStructureForClass(ctx context.Context, sessionID int64, classLevel int) (*fees.Structure, error) {
	var st fees.Structure
	err := s.tx.QueryRow(ctx, `SELECT id, session_id, class_level, monthly_fee, annual_fee, admission_fee, registration_fee, created_at, updated_at
FROM fee_structures WHERE session_id = $1 AND class_level = $2`, sessionID, classLevel).
		Scan(&st.ID, &st.SessionID, &st.ClassLevel, &st.MonthlyFee, &st.AnnualFee, &st.AdmissionFee, &st.RegistrationFee, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

func (s *txStore) TransportFee(ctx context.Context, routeID int64, classLevel int) (float64, error) {
	var amount float64
	err := s.tx.QueryRow(ctx, `SELECT amount FROM transport_route_fees WHERE route_id = $1 AND class_level = $2`, routeID, classLevel).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return amount, nil
}

func (s *txStore) DeleteFeeStructures(ctx context.Context, sessionID int64) (int, error) {
	tag, err := s.tx.Exec(ctx, `DELETE FROM fee_structures WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

const studentColumns = `id, admission_no, name, guardian_name, class_level, transport_route_id, transport_months, is_active, admitted_at, created_at, updated_at`

func (s *txStore) ListActiveStudents(ctx context.Context) ([]roster.Student, error) {
	return s.queryStudents(ctx, `SELECT `+studentColumns+` FROM students WHERE is_active ORDER BY id`)
}

func (s *txStore) ListStudentsInClass(ctx context.Context, classLevel int) ([]roster.Student, error) {
	return s.queryStudents(ctx, `SELECT `+studentColumns+` FROM students WHERE is_active AND class_level = $1 ORDER BY id`, classLevel)
}

func (s *txStore) ListDeactivatedGraduates(ctx context.Context) ([]roster.Student, error) {
	return s.queryStudents(ctx, `SELECT `+studentColumns+` FROM students WHERE NOT is_active AND admission_no LIKE $1 ORDER BY id`, roster.GraduatePrefixPattern())
}

func (s *txStore) queryStudents(ctx context.Context, query string, args ...any) ([]roster.Student, error) {
	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var students []roster.Student
	for rows.Next() {
		var st roster.Student
		if err := rows.Scan(&st.ID, &st.AdmissionNo, &st.Name, &st.GuardianName, &st.ClassLevel, &st.TransportRouteID, &st.TransportMonths, &st.IsActive, &st.AdmittedAt, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

func (s *txStore) PromoteClass(ctx context.Context, fromClass int) (int, error) {
	tag, err := s.tx.Exec(ctx, `UPDATE students SET class_level = class_level + 1, updated_at = NOW() WHERE is_active AND class_level = $1`, fromClass)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *txStore) DemoteClass(ctx context.Context, fromClass int) (int, error) {
	tag, err := s.tx.Exec(ctx, `UPDATE students SET class_level = class_level - 1, updated_at = NOW() WHERE is_active AND class_level = $1`, fromClass)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *txStore) DeactivateGraduate(ctx context.Context, studentID int64, prefixedNo string) error {
	tag, err := s.tx.Exec(ctx, `UPDATE students SET is_active = FALSE, admission_no = $2, updated_at = NOW() WHERE id = $1 AND is_active`, studentID, prefixedNo)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return roster.ErrNotFound
	}
	return nil
}

func (s *txStore) ReactivateGraduate(ctx context.Context, studentID int64, originalNo string) error {
	tag, err := s.tx.Exec(ctx, `UPDATE students SET is_active = TRUE, admission_no = $2, updated_at = NOW() WHERE id = $1 AND NOT is_active`, studentID, originalNo)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return roster.ErrNotFound
	}
	return nil
}

func (s *txStore) AdmissionNoInUse(ctx context.Context, admissionNo string) (bool, error) {
	var exists bool
	err := s.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM students WHERE admission_no = $1)`, admissionNo).Scan(&exists)
	return exists, err
}

func (s *txStore) FeeChargeExists(ctx context.Context, studentID, sessionID int64) (bool, error) {
	return s.entryExists(ctx, studentID, sessionID, ledger.RefFeeCharge)
}

func (s *txStore) OpeningBalanceExists(ctx context.Context, studentID, sessionID int64) (bool, error) {
	return s.entryExists(ctx, studentID, sessionID, ledger.RefOpeningBalance)
}

func (s *txStore) entryExists(ctx context.Context, studentID, sessionID int64, ref ledger.ReferenceType) (bool, error) {
	var exists bool
	err := s.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE student_id = $1 AND session_id = $2 AND reference_type = $3)`,
		studentID, sessionID, ref).Scan(&exists)
	return exists, err
}

func (s *txStore) GetSession(ctx context.Context, id int64) (session.AcademicSession, error) {
	var sess session.AcademicSession
	err := s.tx.QueryRow(ctx, `SELECT id, name, start_date, end_date, is_current, created_at, updated_at FROM academic_sessions WHERE id = $1`, id).
		Scan(&sess.ID, &sess.Name, &sess.StartDate, &sess.EndDate, &sess.IsCurrent, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.AcademicSession{}, session.ErrNotFound
		}
		return session.AcademicSession{}, err
	}
	return sess, nil
}

func (s *txStore) SetCurrentSession(ctx context.Context, id int64) error {
	if _, err := s.tx.Exec(ctx, `UPDATE academic_sessions SET is_current = FALSE, updated_at = NOW() WHERE is_current`); err != nil {
		return err
	}
	tag, err := s.tx.Exec(ctx, `UPDATE academic_sessions SET is_current = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *txStore) InsertPromotion(ctx context.Context, promo SessionPromotion) (SessionPromotion, error) {
	stepsJSON, err := json.Marshal(promo.Steps)
	if err != nil {
		return SessionPromotion{}, err
	}
	resultJSON, err := json.Marshal(promo.Result)
	if err != nil {
		return SessionPromotion{}, err
	}
	row := s.tx.QueryRow(ctx, `INSERT INTO session_promotions (uid, source_session_id, target_session_id, steps, result, executed_at, is_reverted)
VALUES ($1, $2, $3, $4, $5, $6, FALSE)
RETURNING `+promotionColumns,
		promo.UID, promo.SourceSessionID, promo.TargetSessionID, stepsJSON, resultJSON, promo.ExecutedAt)
	inserted, err := scanPromotion(row)
	if err != nil {
		return SessionPromotion{}, fmt.Errorf("promotion: insert: %w", err)
	}
	return *inserted, nil
}

func (s *txStore) ActivePromotionForTarget(ctx context.Context, targetSessionID int64) (*SessionPromotion, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+promotionColumns+` FROM session_promotions WHERE target_session_id = $1 AND NOT is_reverted ORDER BY executed_at DESC LIMIT 1`, targetSessionID)
	promo, err := scanPromotion(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return promo, err
}

func (s *txStore) GetPromotion(ctx context.Context, id int64) (*SessionPromotion, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+promotionColumns+` FROM session_promotions WHERE id = $1 FOR UPDATE`, id)
	promo, err := scanPromotion(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return promo, err
}

func (s *txStore) MarkReverted(ctx context.Context, id int64, at time.Time, reason string) error {
	tag, err := s.tx.Exec(ctx, `UPDATE session_promotions SET is_reverted = TRUE, reverted_at = $2, revert_reason = $3 WHERE id = $1 AND NOT is_reverted`, id, at, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyReverted
	}
	return nil
}

// CountReceiptsInSession counts every receipt in the session, cancelled ones
// included: a cancelled receipt and its reversal entries would still be
// destroyed by a forced revert, so it must block an unforced one.
func (s *txStore) CountReceiptsInSession(ctx context.Context, sessionID int64) (int, float64, error) {
	var count int
	var amount float64
	err := s.tx.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(net_amount), 0) FROM receipts WHERE session_id = $1`, sessionID).Scan(&count, &amount)
	return count, amount, err
}

func (s *txStore) CountStudentsAdmittedAfter(ctx context.Context, t time.Time) (int, error) {
	var count int
	err := s.tx.QueryRow(ctx, `SELECT COUNT(*) FROM students WHERE admitted_at > $1`, t).Scan(&count)
	return count, err
}

func (s *txStore) DeleteReceiptsInSession(ctx context.Context, sessionID int64) (int, error) {
	if _, err := s.tx.Exec(ctx, `DELETE FROM ledger_entries
WHERE session_id = $1 AND reference_type IN ($2, $3, $4)`, sessionID, ledger.RefReceipt, ledger.RefDiscount, ledger.RefReversal); err != nil {
		return 0, err
	}
	if _, err := s.tx.Exec(ctx, `DELETE FROM receipt_items WHERE receipt_id IN (SELECT id FROM receipts WHERE session_id = $1)`, sessionID); err != nil {
		return 0, err
	}
	tag, err := s.tx.Exec(ctx, `DELETE FROM receipts WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *txStore) DeleteStudentsAdmittedAfter(ctx context.Context, t time.Time) (int, error) {
	if _, err := s.tx.Exec(ctx, `DELETE FROM ledger_entries WHERE student_id IN (SELECT id FROM students WHERE admitted_at > $1)`, t); err != nil {
		return 0, err
	}
	if _, err := s.tx.Exec(ctx, `DELETE FROM receipt_items WHERE receipt_id IN (SELECT id FROM receipts WHERE student_id IN (SELECT id FROM students WHERE admitted_at > $1))`, t); err != nil {
		return 0, err
	}
	if _, err := s.tx.Exec(ctx, `DELETE FROM receipts WHERE student_id IN (SELECT id FROM students WHERE admitted_at > $1)`, t); err != nil {
		return 0, err
	}
	tag, err := s.tx.Exec(ctx, `DELETE FROM students WHERE admitted_at > $1`, t)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *txStore) DeleteEntriesByReference(ctx context.Context, sessionID int64, ref ledger.ReferenceType) (int, error) {
	tag, err := s.tx.Exec(ctx, `DELETE FROM ledger_entries WHERE session_id = $1 AND reference_type = $2`, sessionID, ref)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanPromotion(row pgx.Row) (*SessionPromotion, error) {
	var promo SessionPromotion
	var stepsJSON, resultJSON []byte
	var revertedAt *time.Time
	var reason *string
	err := row.Scan(&promo.ID, &promo.UID, &promo.SourceSessionID, &promo.TargetSessionID, &stepsJSON, &resultJSON, &promo.ExecutedAt, &promo.IsReverted, &revertedAt, &reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(stepsJSON, &promo.Steps); err != nil {
		return nil, fmt.Errorf("promotion: decode steps: %w", err)
	}
	if err := json.Unmarshal(resultJSON, &promo.Result); err != nil {
		return nil, fmt.Errorf("promotion: decode result: %w", err)
	}
	promo.RevertedAt = revertedAt
	if reason != nil {
		promo.RevertReason = *reason
	}
	return &promo, nil
}
