package roster

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"
)

// RepositoryPort defines data access for students.
type RepositoryPort interface {
	Insert(ctx context.Context, in CreateStudentInput) (Student, error)
	Get(ctx context.Context, id int64) (Student, error)
	ListActive(ctx context.Context, classLevel int) ([]Student, error)
}

// LedgerPort is the slice of the ledger service the roster reports need.
type LedgerPort interface {
	Totals(ctx context.Context, studentID, sessionID int64) (debits, credits, balance float64, err error)
}

// Service handles roster business logic and dues reporting.
type Service struct {
	repo   RepositoryPort
	ledger LedgerPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, ledger LedgerPort) *Service {
	return &Service{repo: repo, ledger: ledger}
}

// RegisterStudent admits a new student.
func (s *Service) RegisterStudent(ctx context.Context, in CreateStudentInput) (Student, error) {
	if err := in.Validate(); err != nil {
		return Student{}, err
	}
	return s.repo.Insert(ctx, in)
}

// GetStudent returns one student.
func (s *Service) GetStudent(ctx context.Context, id int64) (Student, error) {
	return s.repo.Get(ctx, id)
}

// ListActive returns active students, optionally filtered by class.
func (s *Service) ListActive(ctx context.Context, classLevel int) ([]Student, error) {
	return s.repo.ListActive(ctx, classLevel)
}

// Dues returns the student's aggregate financial state in a session.
func (s *Service) Dues(ctx context.Context, studentID, sessionID int64) (DuesSummary, error) {
	student, err := s.repo.Get(ctx, studentID)
	if err != nil {
		return DuesSummary{}, err
	}
	debits, credits, balance, err := s.ledger.Totals(ctx, studentID, sessionID)
	if err != nil {
		return DuesSummary{}, err
	}
	return DuesSummary{Student: student, TotalDebits: debits, TotalCredits: credits, Balance: balance}, nil
}

// defaultersConcurrency bounds parallel balance lookups; the report covers
// hundreds of students and the lookups are independent reads.
const defaultersConcurrency = 8

// Defaulters lists active students carrying a positive balance in the
// session, largest dues first.
func (s *Service) Defaulters(ctx context.Context, sessionID int64) ([]DuesSummary, error) {
	students, err := s.repo.ListActive(ctx, 0)
	if err != nil {
		return nil, err
	}
	summaries := make([]DuesSummary, len(students))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultersConcurrency)
	for i, student := range students {
		g.Go(func() error {
			debits, credits, balance, err := s.ledger.Totals(gctx, student.ID, sessionID)
			if err != nil {
				return err
			}
			summaries[i] = DuesSummary{Student: student, TotalDebits: debits, TotalCredits: credits, Balance: balance}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	defaulters := summaries[:0]
	for _, summary := range summaries {
		if summary.Balance > 0 {
			defaulters = append(defaulters, summary)
		}
	}
	sort.Slice(defaulters, func(i, j int) bool {
		return defaulters[i].Balance > defaulters[j].Balance
	})
	return defaulters, nil
}
