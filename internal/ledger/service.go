package ledger

import (
	"context"
	"strconv"
	"time"

	"github.com/shiksha-erp/shiksha-erp/internal/shared"
)

// RepositoryPort defines the persistence surface the service needs.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
	Store() Store
}

// Service exposes the engine's public operations outside a larger
// transaction: manual adjustments, statements, balances, and the
// recalculation entry point used for data repair.
type Service struct {
	repo  RepositoryPort
	audit *shared.AuditLogger
	cache *BalanceCache
	now   func() time.Time
}

// NewService builds a Service instance. audit and cache may be nil.
func NewService(repo RepositoryPort, audit *shared.AuditLogger, cache *BalanceCache) *Service {
	return &Service{repo: repo, audit: audit, cache: cache, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RecordAdjustment appends a manual ADJUSTMENT entry, recalculating when the
// adjustment is backdated.
func (s *Service) RecordAdjustment(ctx context.Context, in AppendInput) (Entry, error) {
	in.ReferenceType = RefAdjustment
	if in.EntryDate.IsZero() {
		in.EntryDate = s.now()
	}
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		var err error
		entry, err = NewEngine(store).Append(ctx, in)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.cache.Invalidate(ctx, in.StudentID, in.SessionID)
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   shared.AuditActionAdjustmentPosted,
		Entity:   "ledger_entry",
		EntityID: strconv.FormatInt(entry.ID, 10),
		Meta: map[string]any{
			"student_id":  in.StudentID,
			"session_id":  in.SessionID,
			"entry_type":  string(in.Type),
			"amount":      shared.FormatAmount(in.Amount),
			"particulars": in.Particulars,
		},
		At: entry.EntryDate,
	})
	return entry, nil
}

// Statement returns the student's entries in chronological order.
func (s *Service) Statement(ctx context.Context, studentID, sessionID int64) ([]Entry, error) {
	return s.repo.Store().EntriesByStudent(ctx, studentID, sessionID)
}

// CurrentBalance reads through the balance cache to the chronologically last
// entry's stored balance.
func (s *Service) CurrentBalance(ctx context.Context, studentID, sessionID int64) (float64, error) {
	if balance, ok := s.cache.Get(ctx, studentID, sessionID); ok {
		return balance, nil
	}
	balance, err := NewEngine(s.repo.Store()).CurrentBalance(ctx, studentID, sessionID)
	if err != nil {
		return 0, err
	}
	s.cache.Set(ctx, studentID, sessionID, balance)
	return balance, nil
}

// Totals aggregates debits, credits, and the current balance.
func (s *Service) Totals(ctx context.Context, studentID, sessionID int64) (debits, credits, balance float64, err error) {
	engine := NewEngine(s.repo.Store())
	if debits, err = engine.TotalDebits(ctx, studentID, sessionID); err != nil {
		return
	}
	if credits, err = engine.TotalCredits(ctx, studentID, sessionID); err != nil {
		return
	}
	balance, err = s.CurrentBalance(ctx, studentID, sessionID)
	return
}

// Recalculate rewrites stored balances for the student, all-or-nothing, and
// returns how many entries changed.
func (s *Service) Recalculate(ctx context.Context, studentID, sessionID int64) (int, error) {
	var updated int
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		var err error
		updated, err = NewEngine(store).Recalculate(ctx, studentID, sessionID)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.cache.Invalidate(ctx, studentID, sessionID)
	return updated, nil
}

// Verify replays the student's ledger without writing.
func (s *Service) Verify(ctx context.Context, studentID, sessionID int64) ([]Drift, error) {
	return NewEngine(s.repo.Store()).Verify(ctx, studentID, sessionID)
}
