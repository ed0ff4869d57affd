package roster

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for students.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const studentColumns = `id, admission_no, name, guardian_name, class_level, transport_route_id, transport_months, is_active, admitted_at, created_at, updated_at`

// Insert persists a new student.
func (r *Repository) Insert(ctx context.Context, in CreateStudentInput) (Student, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO students (admission_no, name, guardian_name, class_level, transport_route_id, transport_months, is_active, admitted_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, TRUE, NOW(), NOW(), NOW()) RETURNING `+studentColumns,
		in.AdmissionNo, in.Name, in.GuardianName, in.ClassLevel, in.TransportRouteID, in.TransportMonths)
	student, err := scanStudent(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Student{}, ErrDuplicateAdmissionNo
		}
		return Student{}, err
	}
	return student, nil
}

// Get loads one student.
func (r *Repository) Get(ctx context.Context, id int64) (Student, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id)
	student, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Student{}, ErrNotFound
		}
		return Student{}, err
	}
	return student, nil
}

// ListActive returns active students, optionally limited to one class.
func (r *Repository) ListActive(ctx context.Context, classLevel int) ([]Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE is_active`
	args := []any{}
	if classLevel > 0 {
		query += ` AND class_level = $1`
		args = append(args, classLevel)
	}
	query += ` ORDER BY class_level, admission_no`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var students []Student
	for rows.Next() {
		student, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, student)
	}
	return students, rows.Err()
}

func scanStudent(row pgx.Row) (Student, error) {
	var s Student
	var guardian *string
	if err := row.Scan(&s.ID, &s.AdmissionNo, &s.Name, &guardian, &s.ClassLevel, &s.TransportRouteID, &s.TransportMonths, &s.IsActive, &s.AdmittedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Student{}, err
	}
	if guardian != nil {
		s.GuardianName = *guardian
	}
	return s, nil
}
