package order

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chetanchaudhari789/MOBO-sub004/audit"
	"github.com/chetanchaudhari789/MOBO-sub004/fault"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
)

// requiredSteps derives the verification steps an order must clear from
// the deal types across its items. The order step is always required;
// returnWindow applies to every non-Discount deal.
func requiredSteps(items []models.OrderItem) map[models.ProofType]bool {
	required := map[models.ProofType]bool{models.ProofOrder: true}
	for _, item := range items {
		if item.DealType == nil {
			continue
		}
		switch *item.DealType {
		case models.DealReview:
			required[models.ProofReview] = true
			required[models.ProofReturnWindow] = true
		case models.DealRating:
			required[models.ProofRating] = true
			required[models.ProofReturnWindow] = true
		}
	}
	return required
}

// SubmitProofInput carries one proof upload with its oracle report.
type SubmitProofInput struct {
	OrderID   uuid.UUID
	Actor     uuid.UUID
	ProofType models.ProofType
	ImageRef  string
	MimeType  string
	Report    *models.AIReport
}

// SubmitProof stores a proof blob and its verification report, drives
// ORDERED→PROOF_SUBMITTED→UNDER_REVIEW, and applies auto-verification
// and finalization where the report clears the confidence threshold.
func (e *Engine) SubmitProof(in SubmitProofInput) (*models.Order, error) {
	if in.ImageRef == "" {
		return nil, fault.InvalidProofImage("proof image reference required")
	}
	var result *models.Order
	err := e.db.Transaction(func(tx *gorm.DB) error {
		ord, err := e.Get(tx, in.OrderID)
		if err != nil {
			return err
		}
		if ord.Frozen {
			return fault.OrderFrozen()
		}
		if affiliateTerminal(ord.AffiliateStatus) {
			return terminalFault(ord.AffiliateStatus)
		}
		items, err := models.DecodeItems(ord.Items)
		if err != nil {
			return err
		}
		verification, err := models.DecodeVerification(ord.Verification)
		if err != nil {
			return err
		}
		if err := checkStepGate(in.ProofType, requiredSteps(items), &verification); err != nil {
			return err
		}

		updates := map[string]any{"updated_at": e.now().UTC()}
		if err := e.attachProof(ord, in, updates); err != nil {
			return err
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", ord.ID).
			Updates(updates).Error; err != nil {
			return err
		}

		switch ord.WorkflowStatus {
		case models.StateOrdered:
			if err := e.casTransition(tx, ord, models.StateProofSubmitted, &in.Actor, nil); err != nil {
				return err
			}
			if err := e.casTransition(tx, ord, models.StateUnderReview, &in.Actor, nil); err != nil {
				return err
			}
		case models.StateProofSubmitted:
			if err := e.casTransition(tx, ord, models.StateUnderReview, &in.Actor, nil); err != nil {
				return err
			}
		case models.StateUnderReview:
			// additional proof on an order already in review
		default:
			return fault.InvalidWorkflowState(string(ord.WorkflowStatus), string(models.StateOrdered))
		}

		if in.Report != nil && in.Report.ConfidenceScore >= e.autoVerifyThreshold {
			if err := e.autoVerify(tx, ord, in.ProofType, in.Report.ConfidenceScore); err != nil {
				return err
			}
		}
		if err := e.finalize(tx, ord, &in.Actor); err != nil {
			return err
		}
		e.auditor.Write(tx, audit.Entry{
			Actor:      &in.Actor,
			Action:     "PROOF_SUBMITTED",
			EntityType: "order",
			EntityID:   ord.ID.String(),
			Metadata:   map[string]any{"proofType": in.ProofType},
		})
		result = ord
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.announce(result, "ORDER_UPDATED")
	return result, nil
}

func checkStepGate(p models.ProofType, required map[models.ProofType]bool, v *models.Verification) error {
	if !required[p] && p != models.ProofPayment {
		return fault.NotRequired(string(p))
	}
	switch p {
	case models.ProofReview, models.ProofRating:
		if v.Order.VerifiedAt == nil {
			return fault.PurchaseNotVerified()
		}
	case models.ProofReturnWindow:
		if v.Order.VerifiedAt == nil {
			return fault.PurchaseNotVerified()
		}
		if required[models.ProofRating] && v.Rating.VerifiedAt == nil {
			return fault.RatingNotVerified()
		}
		if required[models.ProofReview] && v.Review.VerifiedAt == nil {
			return fault.ReviewNotVerified()
		}
	}
	return nil
}

// attachProof merges the upload and report into the order's JSON
// columns, recording the new column values in updates.
func (e *Engine) attachProof(ord *models.Order, in SubmitProofInput, updates map[string]any) error {
	proofs, err := models.DecodeProofs(ord.Proofs)
	if err != nil {
		return err
	}
	proofs[in.ProofType] = models.ProofUpload{
		ImageRef: in.ImageRef,
		MimeType: in.MimeType,
		At:       e.now().UTC(),
	}
	encodedProofs, err := json.Marshal(proofs)
	if err != nil {
		return fmt.Errorf("order: encode proofs: %w", err)
	}
	ord.Proofs = encodedProofs
	updates["proofs"] = json.RawMessage(encodedProofs)

	if in.Report != nil {
		reports, err := models.DecodeReports(ord.AIReports)
		if err != nil {
			return err
		}
		report := *in.Report
		report.ProofType = in.ProofType
		if report.At.IsZero() {
			report.At = e.now().UTC()
		}
		reports = append(reports, report)
		encodedReports, err := json.Marshal(reports)
		if err != nil {
			return fmt.Errorf("order: encode reports: %w", err)
		}
		ord.AIReports = encodedReports
		updates["ai_reports"] = json.RawMessage(encodedReports)
	}
	return nil
}

// autoVerify marks the step verified by the oracle when the order is in
// review and the step is still open.
func (e *Engine) autoVerify(tx *gorm.DB, ord *models.Order, p models.ProofType, score float64) error {
	if ord.WorkflowStatus != models.StateUnderReview {
		return nil
	}
	return e.markVerified(tx, ord, p, models.SystemAIActor, true, &score, nil)
}

// VerifyStep records a manual verification by an operator.
func (e *Engine) VerifyStep(orderID uuid.UUID, p models.ProofType, actor uuid.UUID) (*models.Order, error) {
	var result *models.Order
	err := e.db.Transaction(func(tx *gorm.DB) error {
		ord, err := e.Get(tx, orderID)
		if err != nil {
			return err
		}
		if ord.Frozen {
			return fault.OrderFrozen()
		}
		if affiliateTerminal(ord.AffiliateStatus) {
			return terminalFault(ord.AffiliateStatus)
		}
		if err := e.markVerified(tx, ord, p, actor.String(), false, nil, &actor); err != nil {
			return err
		}
		if err := e.finalize(tx, ord, &actor); err != nil {
			return err
		}
		result = ord
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.announce(result, "ORDER_UPDATED")
	return result, nil
}

func (e *Engine) markVerified(tx *gorm.DB, ord *models.Order, p models.ProofType, verifiedBy string, auto bool, score *float64, actor *uuid.UUID) error {
	verification, err := models.DecodeVerification(ord.Verification)
	if err != nil {
		return err
	}
	step := verification.Step(p)
	if step == nil {
		return fault.InvalidProofType(string(p))
	}
	if step.VerifiedAt != nil {
		return nil
	}
	now := e.now().UTC()
	step.VerifiedAt = &now
	step.VerifiedBy = verifiedBy
	step.AutoVerified = auto
	step.AIConfidenceScore = score

	encoded, err := json.Marshal(verification)
	if err != nil {
		return fmt.Errorf("order: encode verification: %w", err)
	}
	events, err := e.appendEvent(ord.Events, "VERIFIED", actor, map[string]any{"proofType": p, "verifiedBy": verifiedBy})
	if err != nil {
		return err
	}
	if err := tx.Model(&models.Order{}).Where("id = ?", ord.ID).
		Updates(map[string]any{
			"verification": json.RawMessage(encoded),
			"events":       events,
			"updated_at":   now,
		}).Error; err != nil {
		return err
	}
	ord.Verification = encoded
	ord.Events = events
	return nil
}

// finalize moves UNDER_REVIEW → APPROVED once every required step is
// verified, and parks the affiliate status for the cooling window.
func (e *Engine) finalize(tx *gorm.DB, ord *models.Order, actor *uuid.UUID) error {
	if ord.WorkflowStatus != models.StateUnderReview {
		return nil
	}
	items, err := models.DecodeItems(ord.Items)
	if err != nil {
		return err
	}
	verification, err := models.DecodeVerification(ord.Verification)
	if err != nil {
		return err
	}
	for p := range requiredSteps(items) {
		if step := verification.Step(p); step == nil || step.VerifiedAt == nil {
			return nil
		}
	}
	if err := e.casTransition(tx, ord, models.StateApproved, actor, nil); err != nil {
		return err
	}
	if err := tx.Model(&models.Order{}).Where("id = ? AND affiliate_status = ?", ord.ID, models.AffiliateUnchecked).
		Update("affiliate_status", models.AffiliatePendingCooling).Error; err != nil {
		return err
	}
	ord.AffiliateStatus = models.AffiliatePendingCooling
	return nil
}

// Freeze suspends all workflow transitions on an order.
func (e *Engine) Freeze(orderID uuid.UUID, reason string, actor uuid.UUID) (*models.Order, error) {
	var result *models.Order
	err := e.db.Transaction(func(tx *gorm.DB) error {
		ord, err := e.Get(tx, orderID)
		if err != nil {
			return err
		}
		if ord.Frozen {
			return nil
		}
		now := e.now().UTC()
		events, err := e.appendEvent(ord.Events, "FROZEN", &actor, map[string]any{"reason": reason})
		if err != nil {
			return err
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", ord.ID).
			Updates(map[string]any{
				"frozen":        true,
				"frozen_at":     now,
				"frozen_reason": reason,
				"events":        events,
				"updated_at":    now,
			}).Error; err != nil {
			return err
		}
		ord.Frozen = true
		ord.FrozenAt = &now
		ord.FrozenReason = reason
		ord.Events = events
		e.auditor.Write(tx, audit.Entry{
			Actor:      &actor,
			Action:     "ORDER_FROZEN",
			EntityType: "order",
			EntityID:   ord.ID.String(),
			Metadata:   map[string]any{"reason": reason},
		})
		result = ord
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.announce(result, "ORDER_UPDATED")
	return result, nil
}

// Reactivate clears a freeze.
func (e *Engine) Reactivate(orderID uuid.UUID, actor uuid.UUID) (*models.Order, error) {
	var result *models.Order
	err := e.db.Transaction(func(tx *gorm.DB) error {
		ord, err := e.Get(tx, orderID)
		if err != nil {
			return err
		}
		if !ord.Frozen {
			result = ord
			return nil
		}
		now := e.now().UTC()
		events, err := e.appendEvent(ord.Events, "REACTIVATED", &actor, nil)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", ord.ID).
			Updates(map[string]any{
				"frozen":         false,
				"frozen_reason":  "",
				"reactivated_at": now,
				"events":         events,
				"updated_at":     now,
			}).Error; err != nil {
			return err
		}
		ord.Frozen = false
		ord.FrozenReason = ""
		ord.ReactivatedAt = &now
		ord.Events = events
		e.auditor.Write(tx, audit.Entry{
			Actor:      &actor,
			Action:     "ORDER_REACTIVATED",
			EntityType: "order",
			EntityID:   ord.ID.String(),
		})
		result = ord
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.announce(result, "ORDER_UPDATED")
	return result, nil
}

// Reject moves an order under review to REJECTED with a recorded
// reason. A fraud-typed rejection locks the order as Fraud_Alert; later
// mutations fail ORDER_FRAUD_FLAGGED instead of ORDER_FINALIZED.
func (e *Engine) Reject(orderID uuid.UUID, rejectionType, reason string, actor uuid.UUID) (*models.Order, error) {
	var result *models.Order
	err := e.db.Transaction(func(tx *gorm.DB) error {
		ord, err := e.Get(tx, orderID)
		if err != nil {
			return err
		}
		if err := e.casTransition(tx, ord, models.StateRejected, &actor, map[string]any{"reason": reason}); err != nil {
			return err
		}
		rejection, err := json.Marshal(models.Rejection{
			Type:   rejectionType,
			Reason: reason,
			Actor:  actor.String(),
			At:     e.now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("order: encode rejection: %w", err)
		}
		affiliate := models.AffiliateRejected
		if strings.EqualFold(rejectionType, "fraud") {
			affiliate = models.AffiliateFraudAlert
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", ord.ID).
			Updates(map[string]any{
				"rejection":        json.RawMessage(rejection),
				"affiliate_status": affiliate,
			}).Error; err != nil {
			return err
		}
		ord.Rejection = rejection
		ord.AffiliateStatus = affiliate
		e.auditor.Write(tx, audit.Entry{
			Actor:      &actor,
			Action:     "ORDER_REJECTED",
			EntityType: "order",
			EntityID:   ord.ID.String(),
			Metadata:   map[string]any{"type": rejectionType, "reason": reason},
		})
		result = ord
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.announce(result, "ORDER_UPDATED")
	return result, nil
}

// MarkFailed force-fails a non-terminal order on behalf of the system.
func (e *Engine) MarkFailed(orderID uuid.UUID, reason string) (*models.Order, error) {
	var result *models.Order
	err := e.db.Transaction(func(tx *gorm.DB) error {
		ord, err := e.Get(tx, orderID)
		if err != nil {
			return err
		}
		if Terminal(ord.WorkflowStatus) {
			return fault.InvalidWorkflowState(string(ord.WorkflowStatus), "non-terminal")
		}
		if err := e.casTransition(tx, ord, models.StateFailed, nil, map[string]any{"reason": reason}); err != nil {
			return err
		}
		result = ord
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.announce(result, "ORDER_UPDATED")
	return result, nil
}

// RequestMissingProof records an operator's ask for a proof the buyer
// has not supplied yet.
func (e *Engine) RequestMissingProof(orderID uuid.UUID, p models.ProofType, note string, actor uuid.UUID) (*models.Order, error) {
	var result *models.Order
	err := e.db.Transaction(func(tx *gorm.DB) error {
		ord, err := e.Get(tx, orderID)
		if err != nil {
			return err
		}
		if ord.Frozen {
			return fault.OrderFrozen()
		}
		requests, err := models.DecodeMissingProofRequests(ord.MissingProofRequests)
		if err != nil {
			return err
		}
		requests = append(requests, models.MissingProofRequest{
			ProofType:   p,
			RequestedBy: actor,
			Note:        note,
			At:          e.now().UTC(),
		})
		encoded, err := json.Marshal(requests)
		if err != nil {
			return fmt.Errorf("order: encode missing proof requests: %w", err)
		}
		events, err := e.appendEvent(ord.Events, "MISSING_PROOF_REQUESTED", &actor, map[string]any{"proofType": p})
		if err != nil {
			return err
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", ord.ID).
			Updates(map[string]any{
				"missing_proof_requests": json.RawMessage(encoded),
				"events":                 events,
				"updated_at":             e.now().UTC(),
			}).Error; err != nil {
			return err
		}
		ord.MissingProofRequests = encoded
		ord.Events = events
		result = ord
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.announce(result, "ORDER_UPDATED")
	return result, nil
}
