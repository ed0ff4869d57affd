package promotion

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shiksha-erp/shiksha-erp/internal/fees"
	"github.com/shiksha-erp/shiksha-erp/internal/ledger"
	"github.com/shiksha-erp/shiksha-erp/internal/roster"
	"github.com/shiksha-erp/shiksha-erp/internal/session"
	"github.com/shiksha-erp/shiksha-erp/internal/shared"
)

// TxStore groups the transaction-scoped operations the promotion and revert
// pipelines need. One implementation binds all of them to a single
// transaction so each all-or-nothing chunk spans roster, fees, sessions, and
// the ledger together.
type TxStore interface {
	Ledger() ledger.Store

	CopyFeeStructures(ctx context.Context, sourceSessionID, targetSessionID int64) (int, error)
	FeeStructureForClass(ctx context.Context, sessionID int64, classLevel int) (*fees.Structure, error)
	TransportFee(ctx context.Context, routeID int64, classLevel int) (float64, error)
	DeleteFeeStructures(ctx context.Context, sessionID int64) (int, error)

	ListActiveStudents(ctx context.Context) ([]roster.Student, error)
	ListStudentsInClass(ctx context.Context, classLevel int) ([]roster.Student, error)
	PromoteClass(ctx context.Context, fromClass int) (int, error)
	DemoteClass(ctx context.Context, fromClass int) (int, error)
	DeactivateGraduate(ctx context.Context, studentID int64, prefixedNo string) error
	ListDeactivatedGraduates(ctx context.Context) ([]roster.Student, error)
	ReactivateGraduate(ctx context.Context, studentID int64, originalNo string) error
	AdmissionNoInUse(ctx context.Context, admissionNo string) (bool, error)

	FeeChargeExists(ctx context.Context, studentID, sessionID int64) (bool, error)
	OpeningBalanceExists(ctx context.Context, studentID, sessionID int64) (bool, error)
	GetSession(ctx context.Context, id int64) (session.AcademicSession, error)
	SetCurrentSession(ctx context.Context, id int64) error

	InsertPromotion(ctx context.Context, promo SessionPromotion) (SessionPromotion, error)
	ActivePromotionForTarget(ctx context.Context, targetSessionID int64) (*SessionPromotion, error)
	GetPromotion(ctx context.Context, id int64) (*SessionPromotion, error)
	MarkReverted(ctx context.Context, id int64, at time.Time, reason string) error

	CountReceiptsInSession(ctx context.Context, sessionID int64) (int, float64, error)
	CountStudentsAdmittedAfter(ctx context.Context, t time.Time) (int, error)
	DeleteReceiptsInSession(ctx context.Context, sessionID int64) (int, error)
	DeleteStudentsAdmittedAfter(ctx context.Context, t time.Time) (int, error)
	DeleteEntriesByReference(ctx context.Context, sessionID int64, ref ledger.ReferenceType) (int, error)
}

// RepositoryPort defines data access for promotions.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error
	GetPromotion(ctx context.Context, id int64) (*SessionPromotion, error)
	ListPromotions(ctx context.Context) ([]SessionPromotion, error)
}

// Service orchestrates session promotion and its guarded revert.
type Service struct {
	repo  RepositoryPort
	audit *shared.AuditLogger
	now   func() time.Time
}

// NewService builds a Service instance. audit may be nil.
func NewService(repo RepositoryPort, audit *shared.AuditLogger) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// GetPromotion returns one promotion record.
func (s *Service) GetPromotion(ctx context.Context, id int64) (*SessionPromotion, error) {
	return s.repo.GetPromotion(ctx, id)
}

// ListPromotions returns all promotion records, newest first.
func (s *Service) ListPromotions(ctx context.Context) ([]SessionPromotion, error) {
	return s.repo.ListPromotions(ctx)
}

const carryEpsilon = 1e-9

// Promote runs the configured steps in their fixed order. Bulk steps are
// chunked so no single transaction touches more than BatchSize students;
// every chunk is all-or-nothing and the per-student guards make a retry after
// a mid-pipeline failure safe.
func (s *Service) Promote(ctx context.Context, opts Options) (SessionPromotion, error) {
	if err := opts.Validate(); err != nil {
		return SessionPromotion{}, err
	}

	var source, target session.AcademicSession
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		existing, err := tx.ActivePromotionForTarget(ctx, opts.TargetSessionID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyPromoted
		}
		if source, err = tx.GetSession(ctx, opts.SourceSessionID); err != nil {
			return err
		}
		target, err = tx.GetSession(ctx, opts.TargetSessionID)
		return err
	})
	if err != nil {
		return SessionPromotion{}, err
	}

	var result Result

	if opts.CopyFeeStructures {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
			copied, err := tx.CopyFeeStructures(ctx, source.ID, target.ID)
			if err != nil {
				return fmt.Errorf("promotion: copy fee structures: %w", err)
			}
			result.FeeStructuresCopied = copied
			return nil
		})
		if err != nil {
			return SessionPromotion{}, err
		}
	}

	if opts.CarryForwardDues {
		if err := s.carryForwardDues(ctx, opts, source, target, &result); err != nil {
			return SessionPromotion{}, err
		}
	}

	if opts.DeactivateGraduates {
		if err := s.deactivateGraduates(ctx, opts, &result); err != nil {
			return SessionPromotion{}, err
		}
	}

	if opts.PromoteClasses {
		// Highest class first so a freshly promoted student is never matched
		// again by a later pass.
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
			for class := opts.TerminalClass - 1; class >= 1; class-- {
				moved, err := tx.PromoteClass(ctx, class)
				if err != nil {
					return fmt.Errorf("promotion: promote class %d: %w", class, err)
				}
				result.StudentsPromoted += moved
			}
			return nil
		})
		if err != nil {
			return SessionPromotion{}, err
		}
	}

	if opts.AddSessionFees {
		if err := s.addSessionFees(ctx, opts, target, &result); err != nil {
			return SessionPromotion{}, err
		}
	}

	executedAt := s.now()
	promo := SessionPromotion{
		UID:             uuid.New(),
		SourceSessionID: source.ID,
		TargetSessionID: target.ID,
		Steps: StepFlags{
			CopiedFeeStructures:  opts.CopyFeeStructures,
			CarriedForwardDues:   opts.CarryForwardDues,
			DeactivatedGraduates: opts.DeactivateGraduates,
			PromotedClasses:      opts.PromoteClasses,
			AddedSessionFees:     opts.AddSessionFees,
			SetCurrentSession:    opts.SetCurrentSession,
			TerminalClass:        opts.TerminalClass,
		},
		Result:     result,
		ExecutedAt: executedAt,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if opts.SetCurrentSession {
			if err := tx.SetCurrentSession(ctx, target.ID); err != nil {
				return fmt.Errorf("promotion: set current session: %w", err)
			}
		}
		var err error
		promo, err = tx.InsertPromotion(ctx, promo)
		return err
	})
	if err != nil {
		return SessionPromotion{}, err
	}

	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   shared.AuditActionSessionPromoted,
		Entity:   "session_promotion",
		EntityID: strconv.FormatInt(promo.ID, 10),
		Meta: map[string]any{
			"source_session": source.Name,
			"target_session": target.Name,
			"dues_carried":   shared.FormatAmount(result.DuesCarriedAmount),
			"fees_charged":   shared.FormatAmount(result.FeeChargesAmount),
		},
		At: executedAt,
	})
	return promo, nil
}

func (s *Service) carryForwardDues(ctx context.Context, opts Options, source, target session.AcademicSession, result *Result) error {
	var students []roster.Student
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		students, err = tx.ListActiveStudents(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("promotion: list students: %w", err)
	}

	for _, chunk := range chunkStudents(students, opts.BatchSize) {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
			engine := ledger.NewEngine(tx.Ledger())
			for _, student := range chunk {
				balance, err := engine.CurrentBalance(ctx, student.ID, source.ID)
				if err != nil {
					return err
				}
				if math.Abs(balance) <= carryEpsilon {
					continue
				}
				opened, err := tx.OpeningBalanceExists(ctx, student.ID, target.ID)
				if err != nil {
					return err
				}
				if opened {
					// Retry after a mid-pipeline failure: this student's
					// target ledger was already opened.
					continue
				}
				in := ledger.AppendInput{
					StudentID:     student.ID,
					SessionID:     target.ID,
					EntryDate:     target.StartDate,
					Particulars:   "Balance carried forward from " + source.Name,
					Type:          ledger.EntryTypeDebit,
					Amount:        balance,
					ReferenceType: ledger.RefOpeningBalance,
				}
				if balance < 0 {
					// Advance payments carry forward as an opening credit.
					in.Type = ledger.EntryTypeCredit
					in.Amount = -balance
					in.Particulars = "Advance carried forward from " + source.Name
				}
				if _, err := engine.Append(ctx, in); err != nil {
					return err
				}
				result.DuesCarriedCount++
				result.DuesCarriedAmount += balance
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) deactivateGraduates(ctx context.Context, opts Options, result *Result) error {
	var graduates []roster.Student
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		graduates, err = tx.ListStudentsInClass(ctx, opts.TerminalClass)
		return err
	})
	if err != nil {
		return fmt.Errorf("promotion: list graduates: %w", err)
	}

	for _, chunk := range chunkStudents(graduates, opts.BatchSize) {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
			for _, student := range chunk {
				if err := tx.DeactivateGraduate(ctx, student.ID, roster.MarkGraduated(student.AdmissionNo)); err != nil {
					return fmt.Errorf("promotion: deactivate student %d: %w", student.ID, err)
				}
				result.GraduatesDeactivated++
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) addSessionFees(ctx context.Context, opts Options, target session.AcademicSession, result *Result) error {
	var students []roster.Student
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		students, err = tx.ListActiveStudents(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("promotion: list students: %w", err)
	}

	for _, chunk := range chunkStudents(students, opts.BatchSize) {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
			engine := ledger.NewEngine(tx.Ledger())
			for _, student := range chunk {
				exists, err := tx.FeeChargeExists(ctx, student.ID, target.ID)
				if err != nil {
					return err
				}
				if exists {
					result.StudentsSkipped++
					continue
				}
				structure, err := tx.FeeStructureForClass(ctx, target.ID, student.ClassLevel)
				if err != nil {
					return err
				}
				if structure == nil || structure.MonthlyFee <= 0 {
					result.StudentsSkipped++
					continue
				}
				tuition := structure.MonthlyFee * 12
				if _, err := engine.Append(ctx, ledger.AppendInput{
					StudentID:     student.ID,
					SessionID:     target.ID,
					EntryDate:     target.StartDate,
					Particulars:   fmt.Sprintf("Tuition fee %s (12 months)", target.Name),
					Type:          ledger.EntryTypeDebit,
					Amount:        tuition,
					ReferenceType: ledger.RefFeeCharge,
				}); err != nil {
					return err
				}
				result.FeeChargesCreated++
				result.FeeChargesAmount += tuition

				if student.TransportRouteID != nil && student.TransportMonths > 0 {
					monthly, err := tx.TransportFee(ctx, *student.TransportRouteID, student.ClassLevel)
					if err != nil {
						return err
					}
					if monthly > 0 {
						months := student.TransportMonths
						if months > 11 {
							months = 11
						}
						transport := monthly * float64(months)
						if _, err := engine.Append(ctx, ledger.AppendInput{
							StudentID:     student.ID,
							SessionID:     target.ID,
							EntryDate:     target.StartDate,
							Particulars:   fmt.Sprintf("Transport fee %s (%d months)", target.Name, months),
							Type:          ledger.EntryTypeDebit,
							Amount:        transport,
							ReferenceType: ledger.RefFeeCharge,
						}); err != nil {
							return err
						}
						result.FeeChargesCreated++
						result.FeeChargesAmount += transport
					}
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func chunkStudents(students []roster.Student, size int) [][]roster.Student {
	if size <= 0 {
		return [][]roster.Student{students}
	}
	var chunks [][]roster.Student
	for start := 0; start < len(students); start += size {
		end := start + size
		if end > len(students) {
			end = len(students)
		}
		chunks = append(chunks, students[start:end])
	}
	return chunks
}
