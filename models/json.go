package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SystemAIActor marks verification steps performed by the scoring oracle.
const SystemAIActor = "SYSTEM_AI"

// ProofType identifies a verification step on an order.
type ProofType string

const (
	ProofOrder        ProofType = "order"
	ProofPayment      ProofType = "payment"
	ProofReview       ProofType = "review"
	ProofRating       ProofType = "rating"
	ProofReturnWindow ProofType = "returnWindow"
)

// OrderItem is one purchased line on an order.
type OrderItem struct {
	ProductID            string    `json:"productId"`
	Title                string    `json:"title"`
	Image                string    `json:"image,omitempty"`
	PriceAtPurchasePaise int64     `json:"priceAtPurchasePaise"`
	CommissionPaise      int64     `json:"commissionPaise"`
	CampaignID           uuid.UUID `json:"campaignId"`
	Quantity             int64     `json:"quantity"`
	DealType             *DealType `json:"dealType,omitempty"`
	Platform             string    `json:"platform,omitempty"`
	BrandName            string    `json:"brandName,omitempty"`
}

// OrderEvent is one entry in an order's append-only event log.
type OrderEvent struct {
	Type        string          `json:"type"`
	At          time.Time       `json:"at"`
	ActorUserID *uuid.UUID      `json:"actorUserId,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// VerificationStep captures who verified a proof step and when.
type VerificationStep struct {
	VerifiedAt        *time.Time `json:"verifiedAt,omitempty"`
	VerifiedBy        string     `json:"verifiedBy,omitempty"`
	AutoVerified      bool       `json:"autoVerified,omitempty"`
	AIConfidenceScore *float64   `json:"aiConfidenceScore,omitempty"`
}

// Verification is the per-order verification record across all proof steps.
type Verification struct {
	Order        VerificationStep `json:"order"`
	Review       VerificationStep `json:"review"`
	Rating       VerificationStep `json:"rating"`
	ReturnWindow VerificationStep `json:"returnWindow"`
}

// Step returns the verification record for a proof type.
func (v *Verification) Step(p ProofType) *VerificationStep {
	switch p {
	case ProofOrder, ProofPayment:
		return &v.Order
	case ProofReview:
		return &v.Review
	case ProofRating:
		return &v.Rating
	case ProofReturnWindow:
		return &v.ReturnWindow
	default:
		return nil
	}
}

// AIReport is the match report returned by the proof-verification oracle.
type AIReport struct {
	ProofType       ProofType `json:"proofType"`
	OrderIDMatch    bool      `json:"orderIdMatch"`
	AmountMatch     bool      `json:"amountMatch"`
	DetectedOrderID string    `json:"detectedOrderId,omitempty"`
	DetectedAmount  int64     `json:"detectedAmount,omitempty"`
	ConfidenceScore float64   `json:"confidenceScore"`
	DiscrepancyNote string    `json:"discrepancyNote,omitempty"`
	At              time.Time `json:"at"`
}

// Rejection records why and by whom an order was rejected.
type Rejection struct {
	Type   string    `json:"type"`
	Reason string    `json:"reason"`
	Actor  string    `json:"actor"`
	At     time.Time `json:"at"`
}

// MissingProofRequest asks a buyer to supply a proof type.
type MissingProofRequest struct {
	ProofType   ProofType `json:"proofType"`
	RequestedBy uuid.UUID `json:"requestedBy"`
	Note        string    `json:"note,omitempty"`
	At          time.Time `json:"at"`
}

// InviteUse is one consumption of an invite code.
type InviteUse struct {
	UsedBy uuid.UUID `json:"usedBy"`
	UsedAt time.Time `json:"usedAt"`
}

// Assignment is a per-partner allocation of campaign slots. The stored
// form is either a bare integer limit or an object with optional payout
// and commission overrides; both decode into this struct.
type Assignment struct {
	Limit           int64  `json:"limit"`
	PayoutPaise     *int64 `json:"payout,omitempty"`
	CommissionPaise *int64 `json:"commissionPaise,omitempty"`
}

// UnmarshalJSON accepts either a bare integer or the object form.
func (a *Assignment) UnmarshalJSON(data []byte) error {
	var limit int64
	if err := json.Unmarshal(data, &limit); err == nil {
		*a = Assignment{Limit: limit}
		return nil
	}
	type plain Assignment
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("assignment must be an integer or an object: %w", err)
	}
	*a = Assignment(obj)
	return nil
}

// AssignmentMap maps partner codes to their slot allocation.
type AssignmentMap map[string]Assignment

// DecodeAssignments parses a campaign's assignments column. A nil or
// empty column yields an empty map.
func DecodeAssignments(raw json.RawMessage) (AssignmentMap, error) {
	if len(raw) == 0 {
		return AssignmentMap{}, nil
	}
	out := AssignmentMap{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeEvents parses an order's event log column.
func DecodeEvents(raw json.RawMessage) ([]OrderEvent, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []OrderEvent
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AppendEvent re-encodes the event log with one more entry.
func AppendEvent(raw json.RawMessage, evt OrderEvent) (json.RawMessage, error) {
	events, err := DecodeEvents(raw)
	if err != nil {
		return nil, err
	}
	events = append(events, evt)
	return json.Marshal(events)
}

// DecodeVerification parses an order's verification column.
func DecodeVerification(raw json.RawMessage) (Verification, error) {
	var v Verification
	if len(raw) == 0 {
		return v, nil
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

// DecodeUses parses an invite's consumption log.
func DecodeUses(raw json.RawMessage) ([]InviteUse, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []InviteUse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeItems parses an order's item lines.
func DecodeItems(raw json.RawMessage) ([]OrderItem, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []OrderItem
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProofUpload is a stored proof screenshot reference.
type ProofUpload struct {
	ImageRef string    `json:"imageRef"`
	MimeType string    `json:"mimeType,omitempty"`
	At       time.Time `json:"at"`
}

// DecodeProofs parses an order's per-type proof uploads.
func DecodeProofs(raw json.RawMessage) (map[ProofType]ProofUpload, error) {
	if len(raw) == 0 {
		return map[ProofType]ProofUpload{}, nil
	}
	var out map[ProofType]ProofUpload
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[ProofType]ProofUpload{}
	}
	return out, nil
}

// DecodeReports parses an order's AI verification reports.
func DecodeReports(raw json.RawMessage) ([]AIReport, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []AIReport
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeMissingProofRequests parses an order's outstanding proof asks.
func DecodeMissingProofRequests(raw json.RawMessage) ([]MissingProofRequest, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []MissingProofRequest
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ItemTotalPaise computes the itemised total for invariance checks.
func ItemTotalPaise(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.PriceAtPurchasePaise * item.Quantity
	}
	return total
}
