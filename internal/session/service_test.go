package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	sessions []AcademicSession
	nextID   int64
}

func (r *memoryRepo) Insert(ctx context.Context, in CreateSessionInput) (AcademicSession, error) {
	r.nextID++
	s := AcademicSession{ID: r.nextID, Name: in.Name, StartDate: in.StartDate, EndDate: in.EndDate}
	r.sessions = append(r.sessions, s)
	return s, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (AcademicSession, error) {
	for _, s := range r.sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return AcademicSession{}, ErrNotFound
}

func (r *memoryRepo) List(ctx context.Context) ([]AcademicSession, error) {
	return append([]AcademicSession(nil), r.sessions...), nil
}

func (r *memoryRepo) Current(ctx context.Context) (AcademicSession, error) {
	for _, s := range r.sessions {
		if s.IsCurrent {
			return s, nil
		}
	}
	return AcademicSession{}, ErrNoCurrent
}

func (r *memoryRepo) SetCurrent(ctx context.Context, id int64) error {
	for i := range r.sessions {
		r.sessions[i].IsCurrent = r.sessions[i].ID == id
	}
	return nil
}

func (r *memoryRepo) RangeConflict(ctx context.Context, in CreateSessionInput) (bool, error) {
	for _, s := range r.sessions {
		if in.StartDate.Before(s.EndDate) && s.StartDate.Before(in.EndDate) {
			return true, nil
		}
	}
	return false, nil
}

func april(year int) time.Time {
	return time.Date(year, time.April, 1, 0, 0, 0, 0, time.UTC)
}

func march(year int) time.Time {
	return time.Date(year, time.March, 31, 0, 0, 0, 0, time.UTC)
}

func TestCreateSessionRejectsOverlap(t *testing.T) {
	repo := &memoryRepo{}
	service := NewService(repo)
	ctx := context.Background()

	_, err := service.CreateSession(ctx, CreateSessionInput{Name: "2024-25", StartDate: april(2024), EndDate: march(2025)})
	require.NoError(t, err)

	_, err = service.CreateSession(ctx, CreateSessionInput{Name: "2024-25 bis", StartDate: time.Date(2024, time.October, 1, 0, 0, 0, 0, time.UTC), EndDate: march(2026)})
	require.ErrorIs(t, err, ErrOverlap)

	// Adjacent windows are fine.
	_, err = service.CreateSession(ctx, CreateSessionInput{Name: "2025-26", StartDate: april(2025), EndDate: march(2026)})
	require.NoError(t, err)
}

func TestCreateSessionValidatesWindow(t *testing.T) {
	service := NewService(&memoryRepo{})
	ctx := context.Background()

	_, err := service.CreateSession(ctx, CreateSessionInput{Name: "", StartDate: april(2024), EndDate: march(2025)})
	require.Error(t, err)
	_, err = service.CreateSession(ctx, CreateSessionInput{Name: "2024-25", StartDate: march(2025), EndDate: april(2024)})
	require.Error(t, err)
}

func TestSetCurrent(t *testing.T) {
	repo := &memoryRepo{}
	service := NewService(repo)
	ctx := context.Background()

	first, err := service.CreateSession(ctx, CreateSessionInput{Name: "2024-25", StartDate: april(2024), EndDate: march(2025)})
	require.NoError(t, err)
	second, err := service.CreateSession(ctx, CreateSessionInput{Name: "2025-26", StartDate: april(2025), EndDate: march(2026)})
	require.NoError(t, err)

	_, err = service.Current(ctx)
	require.ErrorIs(t, err, ErrNoCurrent)

	require.NoError(t, service.SetCurrent(ctx, first.ID))
	current, err := service.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ID, current.ID)

	require.NoError(t, service.SetCurrent(ctx, second.ID))
	current, err = service.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, second.ID, current.ID)

	require.ErrorIs(t, service.SetCurrent(ctx, 999), ErrNotFound)
}
