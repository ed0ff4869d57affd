package fees

import (
	"errors"
	"fmt"
	"time"
)

// FeeType enumerates the charge categories a class carries per session.
type FeeType string

const (
	FeeTypeMonthly      FeeType = "MONTHLY"
	FeeTypeAnnual       FeeType = "ANNUAL"
	FeeTypeAdmission    FeeType = "ADMISSION"
	FeeTypeRegistration FeeType = "REGISTRATION"
)

// Structure holds the per-class fee amounts for one session.
type Structure struct {
	ID              int64
	SessionID       int64
	ClassLevel      int
	MonthlyFee      float64
	AnnualFee       float64
	AdmissionFee    float64
	RegistrationFee float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Amount returns the amount for a fee type.
func (s Structure) Amount(feeType FeeType) (float64, error) {
	switch feeType {
	case FeeTypeMonthly:
		return s.MonthlyFee, nil
	case FeeTypeAnnual:
		return s.AnnualFee, nil
	case FeeTypeAdmission:
		return s.AdmissionFee, nil
	case FeeTypeRegistration:
		return s.RegistrationFee, nil
	default:
		return 0, fmt.Errorf("fees: unknown fee type %q", feeType)
	}
}

// StructureInput creates or replaces a class fee structure.
type StructureInput struct {
	SessionID       int64
	ClassLevel      int
	MonthlyFee      float64
	AnnualFee       float64
	AdmissionFee    float64
	RegistrationFee float64
}

// Validate ensures the structure input is coherent.
func (in StructureInput) Validate() error {
	if in.SessionID == 0 {
		return errors.New("fees: session id required")
	}
	if in.ClassLevel <= 0 {
		return errors.New("fees: class level required")
	}
	if in.MonthlyFee < 0 || in.AnnualFee < 0 || in.AdmissionFee < 0 || in.RegistrationFee < 0 {
		return errors.New("fees: amounts cannot be negative")
	}
	return nil
}

// TransportRoute is a named bus route with per-class monthly tiers.
type TransportRoute struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// RouteFee is the monthly transport amount for one class on one route.
type RouteFee struct {
	RouteID    int64
	ClassLevel int
	Amount     float64
}

// ErrNotFound indicates no fee structure or route matched.
var ErrNotFound = errors.New("fees: not found")
