package promotion

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shiksha-erp/shiksha-erp/internal/fees"
	"github.com/shiksha-erp/shiksha-erp/internal/ledger"
	"github.com/shiksha-erp/shiksha-erp/internal/roster"
	"github.com/shiksha-erp/shiksha-erp/internal/session"
)

type memoryLedger struct {
	entries []ledger.Entry
	nextID  int64
}

func (s *memoryLedger) InsertEntry(ctx context.Context, in ledger.AppendInput, balance float64) (ledger.Entry, error) {
	s.nextID++
	debit, credit := 0.0, 0.0
	if in.Type == ledger.EntryTypeDebit {
		debit = in.Amount
	} else {
		credit = in.Amount
	}
	entry := ledger.Entry{
		ID:            s.nextID,
		StudentID:     in.StudentID,
		SessionID:     in.SessionID,
		EntryDate:     in.EntryDate,
		Particulars:   in.Particulars,
		Type:          in.Type,
		Debit:         debit,
		Credit:        credit,
		Balance:       balance,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
	}
	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *memoryLedger) EntriesByStudent(ctx context.Context, studentID, sessionID int64) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for _, e := range s.entries {
		if e.StudentID == studentID && e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].EntryDate.Equal(out[j].EntryDate) {
			return out[i].EntryDate.Before(out[j].EntryDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memoryLedger) LastEntry(ctx context.Context, studentID, sessionID int64) (*ledger.Entry, error) {
	entries, _ := s.EntriesByStudent(ctx, studentID, sessionID)
	if len(entries) == 0 {
		return nil, nil
	}
	last := entries[len(entries)-1]
	return &last, nil
}

func (s *memoryLedger) UpdateBalance(ctx context.Context, entryID int64, balance float64) error {
	for i := range s.entries {
		if s.entries[i].ID == entryID {
			s.entries[i].Balance = balance
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (s *memoryLedger) SumDebits(ctx context.Context, studentID, sessionID int64) (float64, error) {
	total := 0.0
	for _, e := range s.entries {
		if e.StudentID == studentID && e.SessionID == sessionID {
			total += e.Debit
		}
	}
	return total, nil
}

func (s *memoryLedger) SumCredits(ctx context.Context, studentID, sessionID int64) (float64, error) {
	total := 0.0
	for _, e := range s.entries {
		if e.StudentID == studentID && e.SessionID == sessionID {
			total += e.Credit
		}
	}
	return total, nil
}

// memoryRepo implements RepositoryPort and TxStore over in-process state.
// WithTx runs the callback directly; transactional boundaries are the
// repository's concern and are not re-tested here.
type memoryRepo struct {
	ledger     *memoryLedger
	structures []fees.Structure
	routeFees  map[int64]float64
	students   map[int64]*roster.Student
	sessions   map[int64]*session.AcademicSession
	promotions map[int64]*SessionPromotion

	receiptCount  map[int64]int
	receiptAmount map[int64]float64

	nextStructureID int64
	nextPromotionID int64
}

func newPromotionRepo() *memoryRepo {
	return &memoryRepo{
		ledger:        &memoryLedger{},
		routeFees:     make(map[int64]float64),
		students:      make(map[int64]*roster.Student),
		sessions:      make(map[int64]*session.AcademicSession),
		promotions:    make(map[int64]*SessionPromotion),
		receiptCount:  make(map[int64]int),
		receiptAmount: make(map[int64]float64),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) Ledger() ledger.Store { return r.ledger }

func (r *memoryRepo) CopyFeeStructures(ctx context.Context, sourceSessionID, targetSessionID int64) (int, error) {
	copied := 0
	for _, structure := range r.structures {
		if structure.SessionID != sourceSessionID {
			continue
		}
		if existing, _ := r.FeeStructureForClass(ctx, targetSessionID, structure.ClassLevel); existing != nil {
			continue
		}
		r.nextStructureID++
		clone := structure
		clone.ID = r.nextStructureID
		clone.SessionID = targetSessionID
		r.structures = append(r.structures, clone)
		copied++
	}
	return copied, nil
}

func (r *memoryRepo) FeeStructureForClass(ctx context.Context, sessionID int64, classLevel int) (*fees.Structure, error) {
	for _, structure := range r.structures {
		if structure.SessionID == sessionID && structure.ClassLevel == classLevel {
			clone := structure
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *memoryRepo) TransportFee(ctx context.Context, routeID int64, classLevel int) (float64, error) {
	return r.routeFees[routeID], nil
}

func (r *memoryRepo) DeleteFeeStructures(ctx context.Context, sessionID int64) (int, error) {
	var kept []fees.Structure
	deleted := 0
	for _, structure := range r.structures {
		if structure.SessionID == sessionID {
			deleted++
			continue
		}
		kept = append(kept, structure)
	}
	r.structures = kept
	return deleted, nil
}

func (r *memoryRepo) ListActiveStudents(ctx context.Context) ([]roster.Student, error) {
	var out []roster.Student
	for _, student := range r.students {
		if student.IsActive {
			out = append(out, *student)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListStudentsInClass(ctx context.Context, classLevel int) ([]roster.Student, error) {
	var out []roster.Student
	for _, student := range r.students {
		if student.IsActive && student.ClassLevel == classLevel {
			out = append(out, *student)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) PromoteClass(ctx context.Context, fromClass int) (int, error) {
	moved := 0
	for _, student := range r.students {
		if student.IsActive && student.ClassLevel == fromClass {
			student.ClassLevel++
			moved++
		}
	}
	return moved, nil
}

func (r *memoryRepo) DemoteClass(ctx context.Context, fromClass int) (int, error) {
	moved := 0
	for _, student := range r.students {
		if student.IsActive && student.ClassLevel == fromClass {
			student.ClassLevel--
			moved++
		}
	}
	return moved, nil
}

func (r *memoryRepo) DeactivateGraduate(ctx context.Context, studentID int64, prefixedNo string) error {
	student, ok := r.students[studentID]
	if !ok {
		return roster.ErrNotFound
	}
	student.IsActive = false
	student.AdmissionNo = prefixedNo
	return nil
}

func (r *memoryRepo) ListDeactivatedGraduates(ctx context.Context) ([]roster.Student, error) {
	var out []roster.Student
	for _, student := range r.students {
		if !student.IsActive {
			out = append(out, *student)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ReactivateGraduate(ctx context.Context, studentID int64, originalNo string) error {
	student, ok := r.students[studentID]
	if !ok {
		return roster.ErrNotFound
	}
	student.IsActive = true
	student.AdmissionNo = originalNo
	return nil
}

func (r *memoryRepo) AdmissionNoInUse(ctx context.Context, admissionNo string) (bool, error) {
	for _, student := range r.students {
		if student.IsActive && student.AdmissionNo == admissionNo {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) entryExists(studentID, sessionID int64, ref ledger.ReferenceType) bool {
	for _, e := range r.ledger.entries {
		if e.StudentID == studentID && e.SessionID == sessionID && e.ReferenceType == ref {
			return true
		}
	}
	return false
}

func (r *memoryRepo) FeeChargeExists(ctx context.Context, studentID, sessionID int64) (bool, error) {
	return r.entryExists(studentID, sessionID, ledger.RefFeeCharge), nil
}

func (r *memoryRepo) OpeningBalanceExists(ctx context.Context, studentID, sessionID int64) (bool, error) {
	return r.entryExists(studentID, sessionID, ledger.RefOpeningBalance), nil
}

func (r *memoryRepo) GetSession(ctx context.Context, id int64) (session.AcademicSession, error) {
	s, ok := r.sessions[id]
	if !ok {
		return session.AcademicSession{}, session.ErrNotFound
	}
	return *s, nil
}

func (r *memoryRepo) SetCurrentSession(ctx context.Context, id int64) error {
	if _, ok := r.sessions[id]; !ok {
		return session.ErrNotFound
	}
	for _, s := range r.sessions {
		s.IsCurrent = s.ID == id
	}
	return nil
}

func (r *memoryRepo) InsertPromotion(ctx context.Context, promo SessionPromotion) (SessionPromotion, error) {
	r.nextPromotionID++
	promo.ID = r.nextPromotionID
	stored := promo
	r.promotions[promo.ID] = &stored
	return promo, nil
}

func (r *memoryRepo) ActivePromotionForTarget(ctx context.Context, targetSessionID int64) (*SessionPromotion, error) {
	for _, promo := range r.promotions {
		if promo.TargetSessionID == targetSessionID && !promo.IsReverted {
			clone := *promo
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *memoryRepo) GetPromotion(ctx context.Context, id int64) (*SessionPromotion, error) {
	promo, ok := r.promotions[id]
	if !ok {
		return nil, nil
	}
	clone := *promo
	return &clone, nil
}

func (r *memoryRepo) ListPromotions(ctx context.Context) ([]SessionPromotion, error) {
	var out []SessionPromotion
	for _, promo := range r.promotions {
		out = append(out, *promo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *memoryRepo) MarkReverted(ctx context.Context, id int64, at time.Time, reason string) error {
	promo, ok := r.promotions[id]
	if !ok {
		return ErrNotFound
	}
	if promo.IsReverted {
		return ErrAlreadyReverted
	}
	promo.IsReverted = true
	promo.RevertedAt = &at
	promo.RevertReason = reason
	return nil
}

func (r *memoryRepo) CountReceiptsInSession(ctx context.Context, sessionID int64) (int, float64, error) {
	return r.receiptCount[sessionID], r.receiptAmount[sessionID], nil
}

func (r *memoryRepo) CountStudentsAdmittedAfter(ctx context.Context, t time.Time) (int, error) {
	count := 0
	for _, student := range r.students {
		if student.AdmittedAt.After(t) {
			count++
		}
	}
	return count, nil
}

func (r *memoryRepo) DeleteReceiptsInSession(ctx context.Context, sessionID int64) (int, error) {
	deleted := r.receiptCount[sessionID]
	r.receiptCount[sessionID] = 0
	r.receiptAmount[sessionID] = 0
	var kept []ledger.Entry
	for _, e := range r.ledger.entries {
		refReceipt := e.ReferenceType == ledger.RefReceipt ||
			e.ReferenceType == ledger.RefDiscount ||
			e.ReferenceType == ledger.RefReversal
		if e.SessionID == sessionID && refReceipt {
			continue
		}
		kept = append(kept, e)
	}
	r.ledger.entries = kept
	return deleted, nil
}

func (r *memoryRepo) DeleteStudentsAdmittedAfter(ctx context.Context, t time.Time) (int, error) {
	deleted := 0
	for id, student := range r.students {
		if student.AdmittedAt.After(t) {
			delete(r.students, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *memoryRepo) DeleteEntriesByReference(ctx context.Context, sessionID int64, ref ledger.ReferenceType) (int, error) {
	var kept []ledger.Entry
	deleted := 0
	for _, e := range r.ledger.entries {
		if e.SessionID == sessionID && e.ReferenceType == ref {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	r.ledger.entries = kept
	return deleted, nil
}

func routeID(id int64) *int64 { return &id }

// promotionFixture sets up two sessions, three students, and a source-session
// ledger: student 1 owes 2000, student 2 is 5000 in advance, student 3 is
// settled. Classes run 1..3 with class 3 terminal.
func promotionFixture(t *testing.T) (*memoryRepo, Options) {
	t.Helper()
	repo := newPromotionRepo()
	admitted := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	repo.sessions[1] = &session.AcademicSession{
		ID: 1, Name: "2024-25",
		StartDate: time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC),
		IsCurrent: true,
	}
	repo.sessions[2] = &session.AcademicSession{
		ID: 2, Name: "2025-26",
		StartDate: time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC),
	}

	repo.students[1] = &roster.Student{ID: 1, AdmissionNo: "ADM-001", Name: "Aarav Sharma", ClassLevel: 1, IsActive: true, AdmittedAt: admitted}
	repo.students[2] = &roster.Student{ID: 2, AdmissionNo: "ADM-002", Name: "Diya Patel", ClassLevel: 2, TransportRouteID: routeID(1), TransportMonths: 12, IsActive: true, AdmittedAt: admitted}
	repo.students[3] = &roster.Student{ID: 3, AdmissionNo: "ADM-003", Name: "Rohan Gupta", ClassLevel: 3, IsActive: true, AdmittedAt: admitted}

	repo.structures = []fees.Structure{
		{ID: 1, SessionID: 1, ClassLevel: 1, MonthlyFee: 800},
		{ID: 2, SessionID: 1, ClassLevel: 2, MonthlyFee: 900},
		{ID: 3, SessionID: 1, ClassLevel: 3, MonthlyFee: 1000},
	}
	repo.nextStructureID = 3
	repo.routeFees[1] = 500

	engine := ledger.NewEngine(repo.ledger)
	ctx := context.Background()
	charge := func(studentID int64, amount float64) {
		_, err := engine.Append(ctx, ledger.AppendInput{
			StudentID: studentID, SessionID: 1,
			EntryDate:   repo.sessions[1].StartDate,
			Particulars: "Tuition fee", Type: ledger.EntryTypeDebit,
			Amount: amount, ReferenceType: ledger.RefFeeCharge,
		})
		require.NoError(t, err)
	}
	pay := func(studentID int64, amount float64) {
		_, err := engine.Append(ctx, ledger.AppendInput{
			StudentID: studentID, SessionID: 1,
			EntryDate:   time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
			Particulars: "Receipt", Type: ledger.EntryTypeCredit,
			Amount: amount, ReferenceType: ledger.RefReceipt, ReferenceID: studentID,
		})
		require.NoError(t, err)
	}
	charge(1, 12000)
	pay(1, 10000)
	charge(2, 5000)
	pay(2, 10000)
	charge(3, 1000)
	pay(3, 1000)

	opts := Options{
		SourceSessionID:     1,
		TargetSessionID:     2,
		CopyFeeStructures:   true,
		CarryForwardDues:    true,
		DeactivateGraduates: true,
		PromoteClasses:      true,
		AddSessionFees:      true,
		SetCurrentSession:   true,
		TerminalClass:       3,
		BatchSize:           2,
	}
	return repo, opts
}

func TestPromoteFullPipeline(t *testing.T) {
	repo, opts := promotionFixture(t)
	service := NewService(repo, nil)
	executedAt := time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)
	service.WithNow(func() time.Time { return executedAt })
	ctx := context.Background()

	promo, err := service.Promote(ctx, opts)
	require.NoError(t, err)
	require.NotZero(t, promo.ID)
	require.True(t, promo.ExecutedAt.Equal(executedAt))
	require.True(t, promo.Steps.PromotedClasses)
	require.Equal(t, 3, promo.Steps.TerminalClass)

	require.Equal(t, 3, promo.Result.FeeStructuresCopied)
	require.Equal(t, 2, promo.Result.DuesCarriedCount)
	require.InDelta(t, -3000, promo.Result.DuesCarriedAmount, 1e-9)
	require.Equal(t, 1, promo.Result.GraduatesDeactivated)
	require.Equal(t, 2, promo.Result.StudentsPromoted)
	require.Equal(t, 3, promo.Result.FeeChargesCreated)
	require.InDelta(t, 28300, promo.Result.FeeChargesAmount, 1e-9)
	require.Zero(t, promo.Result.StudentsSkipped)

	// Graduate is parked under the reversible marker.
	require.False(t, repo.students[3].IsActive)
	require.Equal(t, "ALUM-ADM-003", repo.students[3].AdmissionNo)

	// Highest class first, so nobody moves up twice.
	require.Equal(t, 2, repo.students[1].ClassLevel)
	require.Equal(t, 3, repo.students[2].ClassLevel)

	require.True(t, repo.sessions[2].IsCurrent)
	require.False(t, repo.sessions[1].IsCurrent)

	engine := ledger.NewEngine(repo.ledger)
	// 2000 carried + 10800 tuition for class 2.
	balance, err := engine.CurrentBalance(ctx, 1, 2)
	require.NoError(t, err)
	require.InDelta(t, 12800, balance, 1e-9)
	// -5000 advance + 12000 tuition + 5500 transport (12 months capped at 11).
	balance, err = engine.CurrentBalance(ctx, 2, 2)
	require.NoError(t, err)
	require.InDelta(t, 12500, balance, 1e-9)
	// Settled students carry nothing forward.
	balance, err = engine.CurrentBalance(ctx, 3, 2)
	require.NoError(t, err)
	require.InDelta(t, 0, balance, 1e-9)
}

func TestPromoteRejectsSecondRunForTarget(t *testing.T) {
	repo, opts := promotionFixture(t)
	service := NewService(repo, nil)
	ctx := context.Background()

	_, err := service.Promote(ctx, opts)
	require.NoError(t, err)
	_, err = service.Promote(ctx, opts)
	require.ErrorIs(t, err, ErrAlreadyPromoted)
}

func TestPromoteAfterRevertIsAllowed(t *testing.T) {
	repo, opts := promotionFixture(t)
	service := NewService(repo, nil)
	ctx := context.Background()

	promo, err := service.Promote(ctx, opts)
	require.NoError(t, err)
	_, err = service.ExecuteRevert(ctx, promo.ID, false, "redo with fixed fee structures")
	require.NoError(t, err)

	_, err = service.Promote(ctx, opts)
	require.NoError(t, err)
}

func TestPromoteRetrySkipsAlreadyProcessedStudents(t *testing.T) {
	repo, opts := promotionFixture(t)
	service := NewService(repo, nil)
	ctx := context.Background()
	engine := ledger.NewEngine(repo.ledger)

	// Simulate a partially completed earlier run: student 1 already has an
	// opening balance and a fee charge in the target session.
	_, err := engine.Append(ctx, ledger.AppendInput{
		StudentID: 1, SessionID: 2,
		EntryDate:   repo.sessions[2].StartDate,
		Particulars: "Balance carried forward from 2024-25",
		Type:        ledger.EntryTypeDebit, Amount: 2000,
		ReferenceType: ledger.RefOpeningBalance,
	})
	require.NoError(t, err)
	_, err = engine.Append(ctx, ledger.AppendInput{
		StudentID: 1, SessionID: 2,
		EntryDate:   repo.sessions[2].StartDate,
		Particulars: "Tuition fee 2025-26 (12 months)",
		Type:        ledger.EntryTypeDebit, Amount: 10800,
		ReferenceType: ledger.RefFeeCharge,
	})
	require.NoError(t, err)

	promo, err := service.Promote(ctx, opts)
	require.NoError(t, err)

	// Only student 2's advance is carried; student 1's ledger is untouched.
	require.Equal(t, 1, promo.Result.DuesCarriedCount)
	require.Equal(t, 1, promo.Result.StudentsSkipped)
	balance, err := engine.CurrentBalance(ctx, 1, 2)
	require.NoError(t, err)
	require.InDelta(t, 12800, balance, 1e-9)
}

func TestPromoteOptionValidation(t *testing.T) {
	repo, opts := promotionFixture(t)
	service := NewService(repo, nil)
	ctx := context.Background()

	bad := opts
	bad.TargetSessionID = bad.SourceSessionID
	_, err := service.Promote(ctx, bad)
	require.Error(t, err)

	bad = opts
	bad.TerminalClass = 1
	_, err = service.Promote(ctx, bad)
	require.Error(t, err)

	bad = opts
	bad.BatchSize = 0
	_, err = service.Promote(ctx, bad)
	require.Error(t, err)
}
