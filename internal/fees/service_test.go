package fees

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	structures map[int64]map[int]Structure
	routeFees  map[int64]float64
	nextID     int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		structures: make(map[int64]map[int]Structure),
		routeFees:  make(map[int64]float64),
	}
}

func (r *memoryRepo) Upsert(ctx context.Context, in StructureInput) (Structure, error) {
	byClass, ok := r.structures[in.SessionID]
	if !ok {
		byClass = make(map[int]Structure)
		r.structures[in.SessionID] = byClass
	}
	s, ok := byClass[in.ClassLevel]
	if !ok {
		r.nextID++
		s = Structure{ID: r.nextID, SessionID: in.SessionID, ClassLevel: in.ClassLevel}
	}
	s.MonthlyFee = in.MonthlyFee
	s.AnnualFee = in.AnnualFee
	s.AdmissionFee = in.AdmissionFee
	s.RegistrationFee = in.RegistrationFee
	byClass[in.ClassLevel] = s
	return s, nil
}

func (r *memoryRepo) ForClass(ctx context.Context, sessionID int64, classLevel int) (Structure, error) {
	s, ok := r.structures[sessionID][classLevel]
	if !ok {
		return Structure{}, fmt.Errorf("fees: class %d in session %d: %w", classLevel, sessionID, ErrNotFound)
	}
	return s, nil
}

func (r *memoryRepo) ListBySession(ctx context.Context, sessionID int64) ([]Structure, error) {
	var out []Structure
	for _, s := range r.structures[sessionID] {
		out = append(out, s)
	}
	return out, nil
}

func (r *memoryRepo) TransportFee(ctx context.Context, routeID int64, classLevel int) (float64, error) {
	return r.routeFees[routeID], nil
}

func (r *memoryRepo) ListRoutes(ctx context.Context) ([]TransportRoute, error) {
	return nil, nil
}

func TestFeeForClass(t *testing.T) {
	repo := newMemoryRepo()
	service := NewService(repo)
	ctx := context.Background()

	_, err := service.DefineStructure(ctx, StructureInput{SessionID: 1, ClassLevel: 5, MonthlyFee: 1200, AdmissionFee: 5000})
	require.NoError(t, err)

	amount, ok, err := service.FeeForClass(ctx, 1, 5, FeeTypeMonthly)
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 1200, amount, 1e-9)

	// Missing structures report not-ok even when the repository wraps the
	// sentinel with query context.
	_, ok, err = service.FeeForClass(ctx, 1, 6, FeeTypeMonthly)
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = service.FeeForClass(ctx, 1, 5, FeeType("WEEKLY"))
	require.Error(t, err)
}

func TestDefineStructureValidation(t *testing.T) {
	service := NewService(newMemoryRepo())
	ctx := context.Background()

	_, err := service.DefineStructure(ctx, StructureInput{SessionID: 0, ClassLevel: 5})
	require.Error(t, err)
	_, err = service.DefineStructure(ctx, StructureInput{SessionID: 1, ClassLevel: 5, MonthlyFee: -10})
	require.Error(t, err)
}
