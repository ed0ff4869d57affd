package session

import "context"

// RepositoryPort defines data access for academic sessions.
type RepositoryPort interface {
	Insert(ctx context.Context, in CreateSessionInput) (AcademicSession, error)
	Get(ctx context.Context, id int64) (AcademicSession, error)
	List(ctx context.Context) ([]AcademicSession, error)
	Current(ctx context.Context) (AcademicSession, error)
	SetCurrent(ctx context.Context, id int64) error
	RangeConflict(ctx context.Context, in CreateSessionInput) (bool, error)
}

// Service handles academic session business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// CreateSession inserts a new session after validating overlap.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (AcademicSession, error) {
	if err := in.Validate(); err != nil {
		return AcademicSession{}, err
	}
	conflict, err := s.repo.RangeConflict(ctx, in)
	if err != nil {
		return AcademicSession{}, err
	}
	if conflict {
		return AcademicSession{}, ErrOverlap
	}
	return s.repo.Insert(ctx, in)
}

// GetSession returns a single session.
func (s *Service) GetSession(ctx context.Context, id int64) (AcademicSession, error) {
	return s.repo.Get(ctx, id)
}

// ListSessions returns all sessions.
func (s *Service) ListSessions(ctx context.Context) ([]AcademicSession, error) {
	return s.repo.List(ctx)
}

// Current returns the session marked current.
func (s *Service) Current(ctx context.Context) (AcademicSession, error) {
	return s.repo.Current(ctx)
}

// SetCurrent points the current-session marker at the given session.
func (s *Service) SetCurrent(ctx context.Context, id int64) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	return s.repo.SetCurrent(ctx, id)
}
