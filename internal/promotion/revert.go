package promotion

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shiksha-erp/shiksha-erp/internal/ledger"
	"github.com/shiksha-erp/shiksha-erp/internal/roster"
	"github.com/shiksha-erp/shiksha-erp/internal/shared"
)

// CheckRevertSafety reports what a revert of the promotion would destroy.
// The revert is unsafe when the target session gathered receipts, when
// students were admitted after the promotion completed, or when a graduate's
// original admission number was reissued to a new admission.
func (s *Service) CheckRevertSafety(ctx context.Context, promotionID int64) (SafetyReport, error) {
	var report SafetyReport
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		promo, err := tx.GetPromotion(ctx, promotionID)
		if err != nil {
			return err
		}
		if promo == nil {
			return ErrNotFound
		}
		var inner error
		report, inner = s.safetyReport(ctx, tx, promo)
		return inner
	})
	if err != nil {
		return SafetyReport{}, err
	}
	return report, nil
}

func (s *Service) safetyReport(ctx context.Context, tx TxStore, promo *SessionPromotion) (SafetyReport, error) {
	report := SafetyReport{CanRevertSafely: true}

	count, amount, err := tx.CountReceiptsInSession(ctx, promo.TargetSessionID)
	if err != nil {
		return report, fmt.Errorf("promotion: count receipts: %w", err)
	}
	report.ReceiptsInNewSession = count
	report.ReceiptsAmount = amount
	if count > 0 {
		report.CanRevertSafely = false
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%d receipt(s) totalling %s in the new session would be deleted", count, shared.FormatAmount(amount)))
	}

	added, err := tx.CountStudentsAdmittedAfter(ctx, promo.ExecutedAt)
	if err != nil {
		return report, fmt.Errorf("promotion: count new admissions: %w", err)
	}
	report.StudentsAddedAfter = added
	if added > 0 {
		report.CanRevertSafely = false
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%d student(s) admitted after the promotion would be deleted", added))
	}

	if promo.Steps.DeactivatedGraduates {
		graduates, err := tx.ListDeactivatedGraduates(ctx)
		if err != nil {
			return report, fmt.Errorf("promotion: list graduates: %w", err)
		}
		for _, graduate := range graduates {
			original, ok := roster.OriginalAdmissionNo(graduate.AdmissionNo)
			if !ok {
				continue
			}
			inUse, err := tx.AdmissionNoInUse(ctx, original)
			if err != nil {
				return report, err
			}
			if inUse {
				report.CanRevertSafely = false
				report.AdmissionNoCollisions = append(report.AdmissionNoCollisions, original)
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("admission number %s was reissued; reactivating its graduate would collide", original))
			}
		}
	}
	return report, nil
}

// ExecuteRevert inverts the promotion. The order is not simply the reverse
// of promotion: classes are demoted before graduates are reactivated, since
// a reactivated terminal-class student must not be caught by the demotion
// pass. Without forceDelete the call refuses to destroy post-promotion data
// and mutates nothing. The whole revert runs in one transaction.
func (s *Service) ExecuteRevert(ctx context.Context, promotionID int64, forceDelete bool, reason string) (RevertResult, error) {
	var result RevertResult
	revertedAt := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		promo, err := tx.GetPromotion(ctx, promotionID)
		if err != nil {
			return err
		}
		if promo == nil {
			return ErrNotFound
		}
		if promo.IsReverted {
			return ErrAlreadyReverted
		}

		report, err := s.safetyReport(ctx, tx, promo)
		if err != nil {
			return err
		}
		if !report.CanRevertSafely && !forceDelete {
			return ErrUnsafeRevert
		}

		if forceDelete {
			if result.ReceiptsDeleted, err = tx.DeleteReceiptsInSession(ctx, promo.TargetSessionID); err != nil {
				return fmt.Errorf("promotion: delete receipts: %w", err)
			}
			if result.StudentsDeleted, err = tx.DeleteStudentsAdmittedAfter(ctx, promo.ExecutedAt); err != nil {
				return fmt.Errorf("promotion: delete new admissions: %w", err)
			}
		}

		if promo.Steps.AddedSessionFees {
			if result.FeeChargesDeleted, err = tx.DeleteEntriesByReference(ctx, promo.TargetSessionID, ledger.RefFeeCharge); err != nil {
				return fmt.Errorf("promotion: delete fee charges: %w", err)
			}
		}
		if promo.Steps.CarriedForwardDues {
			if result.OpeningBalancesDeleted, err = tx.DeleteEntriesByReference(ctx, promo.TargetSessionID, ledger.RefOpeningBalance); err != nil {
				return fmt.Errorf("promotion: delete opening balances: %w", err)
			}
		}

		if promo.Steps.PromotedClasses {
			// Lowest affected class first, mirroring promotion's
			// double-application rule in the other direction.
			for class := 2; class <= promo.Steps.TerminalClass; class++ {
				moved, err := tx.DemoteClass(ctx, class)
				if err != nil {
					return fmt.Errorf("promotion: demote class %d: %w", class, err)
				}
				result.StudentsDemoted += moved
			}
		}

		if promo.Steps.DeactivatedGraduates {
			graduates, err := tx.ListDeactivatedGraduates(ctx)
			if err != nil {
				return err
			}
			for _, graduate := range graduates {
				original, ok := roster.OriginalAdmissionNo(graduate.AdmissionNo)
				if !ok {
					// Identifier was hand-edited during the promoted period;
					// leave it for manual reconciliation.
					result.GraduatesSkipped++
					continue
				}
				if err := tx.ReactivateGraduate(ctx, graduate.ID, original); err != nil {
					return fmt.Errorf("promotion: reactivate student %d: %w", graduate.ID, err)
				}
				result.GraduatesReactivated++
			}
		}

		if promo.Steps.CopiedFeeStructures {
			if result.FeeStructuresDeleted, err = tx.DeleteFeeStructures(ctx, promo.TargetSessionID); err != nil {
				return fmt.Errorf("promotion: delete fee structures: %w", err)
			}
		}

		if promo.Steps.SetCurrentSession {
			if err := tx.SetCurrentSession(ctx, promo.SourceSessionID); err != nil {
				return fmt.Errorf("promotion: restore current session: %w", err)
			}
		}

		return tx.MarkReverted(ctx, promo.ID, revertedAt, reason)
	})
	if err != nil {
		return RevertResult{}, err
	}

	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   shared.AuditActionPromotionReverted,
		Entity:   "session_promotion",
		EntityID: strconv.FormatInt(promotionID, 10),
		Meta: map[string]any{
			"reason":             reason,
			"forced":             forceDelete,
			"receipts_deleted":   result.ReceiptsDeleted,
			"students_demoted":   result.StudentsDemoted,
			"graduates_restored": result.GraduatesReactivated,
		},
		At: revertedAt,
	})
	return result, nil
}
