package roster

import (
	"errors"
	"strings"
	"time"
)

// graduatePrefix marks a deactivated graduate's admission number so the
// original identifier is freed for new admissions and can be restored on
// promotion revert.
const graduatePrefix = "ALUM-"

// Student is one roster record. AdmissionNo is externally unique among
// active identifiers.
type Student struct {
	ID               int64
	AdmissionNo      string
	Name             string
	GuardianName     string
	ClassLevel       int
	TransportRouteID *int64
	TransportMonths  int
	IsActive         bool
	AdmittedAt       time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CreateStudentInput captures a new admission.
type CreateStudentInput struct {
	AdmissionNo      string
	Name             string
	GuardianName     string
	ClassLevel       int
	TransportRouteID *int64
	TransportMonths  int
}

// Validate ensures the admission input is coherent.
func (in CreateStudentInput) Validate() error {
	if strings.TrimSpace(in.AdmissionNo) == "" {
		return errors.New("roster: admission number required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return errors.New("roster: name required")
	}
	if in.ClassLevel <= 0 {
		return errors.New("roster: class level required")
	}
	if in.TransportMonths < 0 || in.TransportMonths > 11 {
		return errors.New("roster: transport months must be between 0 and 11")
	}
	return nil
}

// MarkGraduated prefixes the admission number with the reversible marker.
func MarkGraduated(admissionNo string) string {
	return graduatePrefix + admissionNo
}

// GraduatePrefixPattern returns the SQL LIKE pattern matching marked
// admission numbers, so queries cannot drift from the marker itself.
func GraduatePrefixPattern() string {
	return graduatePrefix + "%"
}

// OriginalAdmissionNo strips the graduate marker; ok is false when the
// identifier carries no marker (e.g. it was hand-edited after promotion).
func OriginalAdmissionNo(admissionNo string) (string, bool) {
	if !strings.HasPrefix(admissionNo, graduatePrefix) {
		return admissionNo, false
	}
	return strings.TrimPrefix(admissionNo, graduatePrefix), true
}

// DuesSummary aggregates a student's financial state in one session.
type DuesSummary struct {
	Student      Student
	TotalDebits  float64
	TotalCredits float64
	Balance      float64
}

var (
	// ErrNotFound indicates the student does not exist.
	ErrNotFound = errors.New("roster: not found")
	// ErrDuplicateAdmissionNo indicates the admission number is taken.
	ErrDuplicateAdmissionNo = errors.New("roster: admission number already exists")
)
