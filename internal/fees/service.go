package fees

import (
	"context"
	"errors"
)

// RepositoryPort defines data access for fee structures.
type RepositoryPort interface {
	Upsert(ctx context.Context, in StructureInput) (Structure, error)
	ForClass(ctx context.Context, sessionID int64, classLevel int) (Structure, error)
	ListBySession(ctx context.Context, sessionID int64) ([]Structure, error)
	TransportFee(ctx context.Context, routeID int64, classLevel int) (float64, error)
	ListRoutes(ctx context.Context) ([]TransportRoute, error)
}

// Service resolves fee amounts per class and session.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// DefineStructure creates or replaces the fee structure for a class.
func (s *Service) DefineStructure(ctx context.Context, in StructureInput) (Structure, error) {
	if err := in.Validate(); err != nil {
		return Structure{}, err
	}
	return s.repo.Upsert(ctx, in)
}

// FeeForClass resolves one fee amount; ok is false when the class has no
// structure in the session.
func (s *Service) FeeForClass(ctx context.Context, sessionID int64, classLevel int, feeType FeeType) (amount float64, ok bool, err error) {
	structure, err := s.repo.ForClass(ctx, sessionID, classLevel)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	amount, err = structure.Amount(feeType)
	if err != nil {
		return 0, false, err
	}
	return amount, true, nil
}

// TransportFeeForClass resolves the monthly transport amount for a route.
func (s *Service) TransportFeeForClass(ctx context.Context, routeID int64, classLevel int) (float64, error) {
	return s.repo.TransportFee(ctx, routeID, classLevel)
}

// StructuresForSession lists the session's fee structures by class.
func (s *Service) StructuresForSession(ctx context.Context, sessionID int64) ([]Structure, error) {
	return s.repo.ListBySession(ctx, sessionID)
}

// Routes lists transport routes.
func (s *Service) Routes(ctx context.Context) ([]TransportRoute, error) {
	return s.repo.ListRoutes(ctx)
}
