package promotion

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Options selects which promotion steps run. The steps execute in a fixed
// order because later steps depend on earlier ones; every flag defaults to
// off so the caller states each bulk mutation explicitly.
type Options struct {
	SourceSessionID int64
	TargetSessionID int64

	CopyFeeStructures   bool
	CarryForwardDues    bool
	DeactivateGraduates bool
	PromoteClasses      bool
	AddSessionFees      bool
	SetCurrentSession   bool

	// TerminalClass is the class whose students graduate instead of moving
	// up. BatchSize bounds how many students one transaction touches.
	TerminalClass int
	BatchSize     int
}

// Validate ensures the options are coherent.
func (o Options) Validate() error {
	if o.SourceSessionID == 0 || o.TargetSessionID == 0 {
		return errors.New("promotion: source and target session required")
	}
	if o.SourceSessionID == o.TargetSessionID {
		return errors.New("promotion: source and target must differ")
	}
	if o.TerminalClass <= 1 {
		return errors.New("promotion: terminal class must be greater than 1")
	}
	if o.BatchSize <= 0 {
		return errors.New("promotion: batch size must be positive")
	}
	return nil
}

// Result captures the quantitative outcome of each executed step. It is
// persisted on the promotion record and drives the revert, so completeness
// here is a correctness requirement, not a log.
type Result struct {
	FeeStructuresCopied  int     `json:"fee_structures_copied"`
	DuesCarriedCount     int     `json:"dues_carried_count"`
	DuesCarriedAmount    float64 `json:"dues_carried_amount"`
	GraduatesDeactivated int     `json:"graduates_deactivated"`
	StudentsPromoted     int     `json:"students_promoted"`
	FeeChargesCreated    int     `json:"fee_charges_created"`
	FeeChargesAmount     float64 `json:"fee_charges_amount"`
	StudentsSkipped      int     `json:"students_skipped"`
}

// SessionPromotion records a completed bulk transition between sessions.
// Reverting marks it, never deletes it; the record stays as the audit trail
// and blocks a redundant second revert.
type SessionPromotion struct {
	ID              int64
	UID             uuid.UUID
	SourceSessionID int64
	TargetSessionID int64
	Steps           StepFlags
	Result          Result
	ExecutedAt      time.Time
	IsReverted      bool
	RevertedAt      *time.Time
	RevertReason    string
}

// StepFlags records which optional steps actually ran.
type StepFlags struct {
	CopiedFeeStructures  bool `json:"copied_fee_structures"`
	CarriedForwardDues   bool `json:"carried_forward_dues"`
	DeactivatedGraduates bool `json:"deactivated_graduates"`
	PromotedClasses      bool `json:"promoted_classes"`
	AddedSessionFees     bool `json:"added_session_fees"`
	SetCurrentSession    bool `json:"set_current_session"`

	TerminalClass int `json:"terminal_class"`
}

// SafetyReport describes what a revert would destroy.
type SafetyReport struct {
	CanRevertSafely       bool     `json:"can_revert_safely"`
	ReceiptsInNewSession  int      `json:"receipts_in_new_session"`
	ReceiptsAmount        float64  `json:"receipts_amount"`
	StudentsAddedAfter    int      `json:"students_added_after"`
	AdmissionNoCollisions []string `json:"admission_no_collisions"`
	Warnings              []string `json:"warnings"`
}

// RevertResult captures what the revert removed and restored.
type RevertResult struct {
	ReceiptsDeleted        int `json:"receipts_deleted"`
	StudentsDeleted        int `json:"students_deleted"`
	FeeChargesDeleted      int `json:"fee_charges_deleted"`
	OpeningBalancesDeleted int `json:"opening_balances_deleted"`
	StudentsDemoted        int `json:"students_demoted"`
	GraduatesReactivated   int `json:"graduates_reactivated"`
	GraduatesSkipped       int `json:"graduates_skipped"`
	FeeStructuresDeleted   int `json:"fee_structures_deleted"`
}

var (
	// ErrAlreadyPromoted indicates the target session was already produced
	// by a promotion that has not been reverted.
	ErrAlreadyPromoted = errors.New("promotion: target session already promoted")
	// ErrUnsafeRevert indicates the revert would destroy data and force was
	// not given.
	ErrUnsafeRevert = errors.New("promotion: revert is not safe")
	// ErrAlreadyReverted indicates a second revert attempt.
	ErrAlreadyReverted = errors.New("promotion: already reverted")
	// ErrNotFound indicates the promotion record does not exist.
	ErrNotFound = errors.New("promotion: not found")
)
