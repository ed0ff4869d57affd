package fees

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for fee structures.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const structureColumns = `id, session_id, class_level, monthly_fee, annual_fee, admission_fee, registration_fee, created_at, updated_at`

// Upsert creates or replaces the fee structure for (session, class).
func (r *Repository) Upsert(ctx context.Context, in StructureInput) (Structure, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO fee_structures (session_id, class_level, monthly_fee, annual_fee, admission_fee, registration_fee, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
ON CONFLICT (session_id, class_level) DO UPDATE SET
	monthly_fee = EXCLUDED.monthly_fee,
	annual_fee = EXCLUDED.annual_fee,
	admission_fee = EXCLUDED.admission_fee,
	registration_fee = EXCLUDED.registration_fee,
	updated_at = NOW()
RETURNING `+structureColumns,
		in.SessionID, in.ClassLevel, in.MonthlyFee, in.AnnualFee, in.AdmissionFee, in.RegistrationFee)
	return scanStructure(row)
}

// ForClass returns the structure for (session, class).
func (r *Repository) ForClass(ctx context.Context, sessionID int64, classLevel int) (Structure, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+structureColumns+` FROM fee_structures WHERE session_id = $1 AND class_level = $2`, sessionID, classLevel)
	s, err := scanStructure(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Structure{}, ErrNotFound
		}
		return Structure{}, err
	}
	return s, nil
}

// ListBySession returns all structures for a session ordered by class.
func (r *Repository) ListBySession(ctx context.Context, sessionID int64) ([]Structure, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+structureColumns+` FROM fee_structures WHERE session_id = $1 ORDER BY class_level`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var structures []Structure
	for rows.Next() {
		s, err := scanStructure(rows)
		if err != nil {
			return nil, err
		}
		structures = append(structures, s)
	}
	return structures, rows.Err()
}

// TransportFee returns the monthly transport amount for (route, class).
func (r *Repository) TransportFee(ctx context.Context, routeID int64, classLevel int) (float64, error) {
	var amount float64
	err := r.pool.QueryRow(ctx, `SELECT amount FROM transport_route_fees WHERE route_id = $1 AND class_level = $2`, routeID, classLevel).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return amount, nil
}

// ListRoutes returns all transport routes.
func (r *Repository) ListRoutes(ctx context.Context) ([]TransportRoute, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, created_at FROM transport_routes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var routes []TransportRoute
	for rows.Next() {
		var route TransportRoute
		if err := rows.Scan(&route.ID, &route.Name, &route.CreatedAt); err != nil {
			return nil, err
		}
		routes = append(routes, route)
	}
	return routes, rows.Err()
}

func scanStructure(row pgx.Row) (Structure, error) {
	var s Structure
	if err := row.Scan(&s.ID, &s.SessionID, &s.ClassLevel, &s.MonthlyFee, &s.AnnualFee, &s.AdmissionFee, &s.RegistrationFee, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Structure{}, err
	}
	return s, nil
}
