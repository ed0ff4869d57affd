package ledger

import (
	"context"
	"fmt"
	"math"
)

// Store is the transaction-scoped persistence surface the engine drives.
// Implementations bind either a pool or an open transaction; every method
// observes the strict total order (entry_date, id).
type Store interface {
	// InsertEntry persists a new entry with the supplied running balance and
	// returns it with its insertion sequence assigned.
	InsertEntry(ctx context.Context, in AppendInput, balance float64) (Entry, error)
	// EntriesByStudent returns every entry for the student in the session,
	// ordered by (entry_date, id) ascending.
	EntriesByStudent(ctx context.Context, studentID, sessionID int64) ([]Entry, error)
	// LastEntry returns the chronologically last entry, or nil when the
	// student has no entries in the session.
	LastEntry(ctx context.Context, studentID, sessionID int64) (*Entry, error)
	// UpdateBalance rewrites the stored balance of a single entry.
	UpdateBalance(ctx context.Context, entryID int64, balance float64) error
	// SumDebits and SumCredits aggregate independently of ordering.
	SumDebits(ctx context.Context, studentID, sessionID int64) (float64, error)
	SumCredits(ctx context.Context, studentID, sessionID int64) (float64, error)
}

// Engine maintains the running-balance invariant: ordering a student's
// entries by (entry_date, id) and prefix-summing debit-credit must reproduce
// every stored balance. Construct one per transaction over the tx-bound
// store; the engine itself holds no state.
type Engine struct {
	store Store
}

// NewEngine binds an engine to a store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// balanceEpsilon absorbs float accumulation noise when deciding whether a
// stored balance needs rewriting.
const balanceEpsilon = 1e-9

// Append inserts a new entry. In-order entries take the O(1) fast path
// (previous balance plus the signed amount); a backdated entry invalidates
// every later stored balance and forces a full recalculation. The backdated
// check runs against the store the engine was constructed with, so inside a
// transaction it sees the transactional snapshot, not a stale pre-tx read.
func (e *Engine) Append(ctx context.Context, in AppendInput) (Entry, error) {
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	last, err := e.store.LastEntry(ctx, in.StudentID, in.SessionID)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: load last entry: %w", err)
	}

	signed := in.Amount
	if in.Type == EntryTypeCredit {
		signed = -in.Amount
	}

	if last == nil || !in.EntryDate.Before(last.EntryDate) {
		// Same-day entries land after existing ones by insertion sequence,
		// so the fast path stays valid on date ties.
		prev := 0.0
		if last != nil {
			prev = last.Balance
		}
		entry, err := e.store.InsertEntry(ctx, in, prev+signed)
		if err != nil {
			return Entry{}, fmt.Errorf("ledger: insert entry: %w", err)
		}
		return entry, nil
	}

	entry, err := e.store.InsertEntry(ctx, in, 0)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: insert backdated entry: %w", err)
	}
	if _, err := e.Recalculate(ctx, in.StudentID, in.SessionID); err != nil {
		return Entry{}, err
	}
	// Reload so the caller sees the recalculated balance.
	entries, err := e.store.EntriesByStudent(ctx, in.StudentID, in.SessionID)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: reload after recalculation: %w", err)
	}
	for _, candidate := range entries {
		if candidate.ID == entry.ID {
			return candidate, nil
		}
	}
	return Entry{}, fmt.Errorf("ledger: entry %d missing after recalculation", entry.ID)
}

// Recalculate walks the student's entries in (entry_date, id) order and
// rewrites every stored balance that disagrees with the running total. It is
// idempotent: a second run right after a successful one updates nothing.
// Callers must run it inside the same transaction as the write that made it
// necessary; a failure aborts the whole call rather than leaving a partially
// rewritten ledger.
func (e *Engine) Recalculate(ctx context.Context, studentID, sessionID int64) (int, error) {
	entries, err := e.store.EntriesByStudent(ctx, studentID, sessionID)
	if err != nil {
		return 0, fmt.Errorf("ledger: load entries: %w", err)
	}
	updated := 0
	running := 0.0
	for _, entry := range entries {
		running += entry.Amount()
		if math.Abs(entry.Balance-running) <= balanceEpsilon {
			continue
		}
		if err := e.store.UpdateBalance(ctx, entry.ID, running); err != nil {
			return updated, fmt.Errorf("ledger: rewrite balance for entry %d: %w", entry.ID, err)
		}
		updated++
	}
	return updated, nil
}

// CurrentBalance returns the stored balance of the chronologically last
// entry, which can differ from the most recently inserted one when backdated
// entries exist. Positive means the student owes money, negative is advance
// credit, zero is settled.
func (e *Engine) CurrentBalance(ctx context.Context, studentID, sessionID int64) (float64, error) {
	last, err := e.store.LastEntry(ctx, studentID, sessionID)
	if err != nil {
		return 0, fmt.Errorf("ledger: load last entry: %w", err)
	}
	if last == nil {
		return 0, nil
	}
	return last.Balance, nil
}

// TotalDebits sums every debit for the student in the session.
func (e *Engine) TotalDebits(ctx context.Context, studentID, sessionID int64) (float64, error) {
	return e.store.SumDebits(ctx, studentID, sessionID)
}

// TotalCredits sums every credit for the student in the session.
func (e *Engine) TotalCredits(ctx context.Context, studentID, sessionID int64) (float64, error) {
	return e.store.SumCredits(ctx, studentID, sessionID)
}

// Verify replays the ledger without writing and reports entries whose stored
// balance drifted from the chronological prefix sum. Used by the nightly
// integrity job.
func (e *Engine) Verify(ctx context.Context, studentID, sessionID int64) ([]Drift, error) {
	entries, err := e.store.EntriesByStudent(ctx, studentID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ledger: load entries: %w", err)
	}
	var drifts []Drift
	running := 0.0
	for _, entry := range entries {
		running += entry.Amount()
		if math.Abs(entry.Balance-running) > balanceEpsilon {
			drifts = append(drifts, Drift{EntryID: entry.ID, Stored: entry.Balance, Expected: running})
		}
	}
	return drifts, nil
}
