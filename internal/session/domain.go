package session

import (
	"errors"
	"strings"
	"time"
)

// AcademicSession is a fixed-length school year window. At most one session
// is current at a time; the pointer lives in a single config row and is
// passed by value into operations that need it, never read ambiently.
type AcademicSession struct {
	ID        int64
	Name      string
	StartDate time.Time
	EndDate   time.Time
	IsCurrent bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateSessionInput captures validation rules for new sessions.
type CreateSessionInput struct {
	Name      string
	StartDate time.Time
	EndDate   time.Time
}

// Validate ensures the session window is coherent.
func (in CreateSessionInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return errors.New("session: name required")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return errors.New("session: start and end date required")
	}
	if !in.StartDate.Before(in.EndDate) {
		return errors.New("session: start date must precede end date")
	}
	return nil
}

var (
	// ErrNotFound indicates the session does not exist.
	ErrNotFound = errors.New("session: not found")
	// ErrNoCurrent indicates no session is marked current.
	ErrNoCurrent = errors.New("session: no current session configured")
	// ErrOverlap indicates the window conflicts with an existing session.
	ErrOverlap = errors.New("session: window overlaps an existing session")
)
