package ledger

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	entries []Entry
	nextID  int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{}
}

func (s *memoryStore) InsertEntry(ctx context.Context, in AppendInput, balance float64) (Entry, error) {
	s.nextID++
	debit, credit := 0.0, 0.0
	if in.Type == EntryTypeDebit {
		debit = in.Amount
	} else {
		credit = in.Amount
	}
	entry := Entry{
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
		CreatedAt:     time.Now(),
	}
	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *memoryStore) EntriesByStudent(ctx context.Context, studentID, sessionID int64) ([]Entry, error) {
	var out []Entry
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

func (s *memoryStore) LastEntry(ctx context.Context, studentID, sessionID int64) (*Entry, error) {
	entries, _ := s.EntriesByStudent(ctx, studentID, sessionID)
	if len(entries) == 0 {
		return nil, nil
	}
	last := entries[len(entries)-1]
	return &last, nil
}

func (s *memoryStore) UpdateBalance(ctx context.Context, entryID int64, balance float64) error {
	for i := range s.entries {
		if s.entries[i].ID == entryID {
			s.entries[i].Balance = balance
			return nil
		}
	}
	return ErrNotFound
}

func (s *memoryStore) SumDebits(ctx context.Context, studentID, sessionID int64) (float64, error) {
	total := 0.0
	for _, e := range s.entries {
		if e.StudentID == studentID && e.SessionID == sessionID {
			total += e.Debit
		}
	}
	return total, nil
}

func (s *memoryStore) SumCredits(ctx context.Context, studentID, sessionID int64) (float64, error) {
	total := 0.0
	for _, e := range s.entries {
		if e.StudentID == studentID && e.SessionID == sessionID {
			total += e.Credit
		}
	}
	return total, nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAppendInOrder(t *testing.T) {
	store := newMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()

	first, err := engine.Append(ctx, AppendInput{
		StudentID: 1, SessionID: 1, EntryDate: date(2025, time.April, 1),
		Particulars: "Tuition fee", Type: EntryTypeDebit, Amount: 12000, ReferenceType: RefFeeCharge,
	})
	require.NoError(t, err)
	require.InDelta(t, 12000, first.Balance, 1e-9)

	second, err := engine.Append(ctx, AppendInput{
		StudentID: 1, SessionID: 1, EntryDate: date(2025, time.June, 1),
		Particulars: "Receipt No. R-1", Type: EntryTypeCredit, Amount: 10000, ReferenceType: RefReceipt, ReferenceID: 1,
	})
	require.NoError(t, err)
	require.InDelta(t, 2000, second.Balance, 1e-9)

	balance, err := engine.CurrentBalance(ctx, 1, 1)
	require.NoError(t, err)
	require.InDelta(t, 2000, balance, 1e-9)
}

func TestAppendBackdatedRecalculates(t *testing.T) {
	store := newMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()

	_, err := engine.Append(ctx, AppendInput{
		StudentID: 1, SessionID: 1, EntryDate: date(2025, time.April, 1),
		Particulars: "Tuition fee", Type: EntryTypeDebit, Amount: 12000, ReferenceType: RefFeeCharge,
	})
	require.NoError(t, err)
	_, err = engine.Append(ctx, AppendInput{
		StudentID: 1, SessionID: 1, EntryDate: date(2025, time.June, 1),
		Particulars: "Receipt No. R-1", Type: EntryTypeCredit, Amount: 10000, ReferenceType: RefReceipt, ReferenceID: 1,
	})
	require.NoError(t, err)

	// Backdated between the two existing entries.
	backdated, err := engine.Append(ctx, AppendInput{
		StudentID: 1, SessionID: 1, EntryDate: date(2025, time.May, 1),
		Particulars: "Transport fee", Type: EntryTypeDebit, Amount: 7000, ReferenceType: RefFeeCharge,
	})
	require.NoError(t, err)
	require.InDelta(t, 19000, backdated.Balance, 1e-9)

	entries, err := store.EntriesByStudent(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.InDelta(t, 12000, entries[0].Balance, 1e-9)
	require.InDelta(t, 19000, entries[1].Balance, 1e-9)
	require.InDelta(t, 9000, entries[2].Balance, 1e-9)

	balance, err := engine.CurrentBalance(ctx, 1, 1)
	require.NoError(t, err)
	require.InDelta(t, 9000, balance, 1e-9)
}

func TestSameDayEntriesKeepInsertionOrder(t *testing.T) {
	store := newMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()
	day := date(2025, time.April, 1)

	_, err := engine.Append(ctx, AppendInput{
		StudentID: 1, SessionID: 1, EntryDate: day,
		Particulars: "Tuition fee", Type: EntryTypeDebit, Amount: 5000, ReferenceType: RefFeeCharge,
	})
	require.NoError(t, err)
	second, err := engine.Append(ctx, AppendInput{
		StudentID: 1, SessionID: 1, EntryDate: day,
		Particulars: "Receipt No. R-1", Type: EntryTypeCredit, Amount: 2000, ReferenceType: RefReceipt, ReferenceID: 1,
	})
	require.NoError(t, err)
	require.InDelta(t, 3000, second.Balance, 1e-9)

	entries, err := store.EntriesByStudent(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, "Tuition fee", entries[0].Particulars)
	require.Equal(t, "Receipt No. R-1", entries[1].Particulars)
}

func TestBackdatedEntryLandsAfterSameDayEntries(t *testing.T) {
	store := newMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()

	_, err := engine.Append(ctx, AppendInput{
		StudentID: 1, SessionID: 1, EntryDate: date(2025, time.April, 1),
		Particulars: "Tuition fee", Type: EntryTypeDebit, Amount: 12000, ReferenceType: RefFeeCharge,
	})
	require.NoError(t, err)
	_, err = engine.Append(ctx, AppendInput{
		StudentID: 1, SessionID: 1, EntryDate: date(2025, time.April, 2),
		Particulars: "Receipt No. R-1", Type: EntryTypeCredit, Amount: 3000, ReferenceType: RefReceipt, ReferenceID: 1,
	})
	require.NoError(t, err)

	// Backdated onto the first day: the insertion sequence places it after
	// that day's existing entry, so it is second chronologically.
	_, err = engine.Append(ctx, AppendInput{
		StudentID: 1, SessionID: 1, EntryDate: date(2025, time.April, 1),
		Particulars: "Receipt No. R-2", Type: EntryTypeCredit, Amount: 2000, ReferenceType: RefReceipt, ReferenceID: 2,
	})
	require.NoError(t, err)

	entries, err := store.EntriesByStudent(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "Tuition fee", entries[0].Particulars)
	require.Equal(t, "Receipt No. R-2", entries[1].Particulars)
	require.Equal(t, "Receipt No. R-1", entries[2].Particulars)
	require.InDelta(t, 12000, entries[0].Balance, 1e-9)
	require.InDelta(t, 10000, entries[1].Balance, 1e-9)
	require.InDelta(t, 7000, entries[2].Balance, 1e-9)

	updated, err := engine.Recalculate(ctx, 1, 1)
	require.NoError(t, err)
	require.Zero(t, updated)
}

func TestRecalculateIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()

	_, err := engine.Append(ctx, AppendInput{
		StudentID: 1, SessionID: 1, EntryDate: date(2025, time.April, 1),
		Particulars: "Tuition fee", Type: EntryTypeDebit, Amount: 12000, ReferenceType: RefFeeCharge,
	})
	require.NoError(t, err)
	_, err = engine.Append(ctx, AppendInput{
		StudentID: 1, SessionID: 1, EntryDate: date(2025, time.March, 15),
		Particulars: "Admission fee", Type: EntryTypeDebit, Amount: 5000, ReferenceType: RefFeeCharge,
	})
	require.NoError(t, err)

	updated, err := engine.Recalculate(ctx, 1, 1)
	require.NoError(t, err)
	require.Zero(t, updated)
}

func TestVerifyReportsDrift(t *testing.T) {
	store := newMemoryStore()
	engine := NewEngine(store)
	ctx := context.Background()

	entry, err := engine.Append(ctx, AppendInput{
		StudentID: 1, SessionID: 1, EntryDate: date(2025, time.April, 1),
		Particulars: "Tuition fee", Type: EntryTypeDebit, Amount: 12000, ReferenceType: RefFeeCharge,
	})
	require.NoError(t, err)

	drifts, err := engine.Verify(ctx, 1, 1)
	require.NoError(t, err)
	require.Empty(t, drifts)

	require.NoError(t, store.UpdateBalance(ctx, entry.ID, 999))
	drifts, err = engine.Verify(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	require.Equal(t, entry.ID, drifts[0].EntryID)
	require.InDelta(t, 999, drifts[0].Stored, 1e-9)
	require.InDelta(t, 12000, drifts[0].Expected, 1e-9)

	updated, err := engine.Recalculate(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 1, updated)
	drifts, err = engine.Verify(ctx, 1, 1)
	require.NoError(t, err)
	require.Empty(t, drifts)
}

func TestAppendInputValidation(t *testing.T) {
	engine := NewEngine(newMemoryStore())
	ctx := context.Background()

	_, err := engine.Append(ctx, AppendInput{
		StudentID: 1, SessionID: 1, EntryDate: date(2025, time.April, 1),
		Particulars: "Bad", Type: EntryTypeDebit, Amount: 0, ReferenceType: RefAdjustment,
	})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = engine.Append(ctx, AppendInput{
		StudentID: 1, SessionID: 1, EntryDate: date(2025, time.April, 1),
		Particulars: "Bad", Type: "TRANSFER", Amount: 100, ReferenceType: RefAdjustment,
	})
	require.Error(t, err)
}
