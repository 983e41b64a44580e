package server

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chetanchaudhari789/MOBO-sub004/ai"
	"github.com/chetanchaudhari789/MOBO-sub004/fault"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
	"github.com/chetanchaudhari789/MOBO-sub004/order"
)

func parseProofType(raw string) (models.ProofType, error) {
	switch strings.ToLower(raw) {
	case "order":
		return models.ProofOrder, nil
	case "payment":
		return models.ProofPayment, nil
	case "review":
		return models.ProofReview, nil
	case "rating":
		return models.ProofRating, nil
	case "returnwindow":
		return models.ProofReturnWindow, nil
	default:
		return "", fault.InvalidProofType("unknown proof type " + raw)
	}
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fault.InvalidOrderID("malformed id in path")
	}
	return id, nil
}

// ListUserOrders returns a user's orders, newest first, subject to the
// role visibility gates.
func (s *Server) ListUserOrders(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	userID, err := pathUUID(r, "userId")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !requester.CanActFor(userID) {
		s.respondError(w, r, fault.Forbidden("cannot view another user's orders"))
		return
	}
	var orders []models.Order
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").Limit(200).Find(&orders).Error; err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"orders": orders})
}

type createOrderRequest struct {
	CampaignID      string  `json:"campaignId"`
	Quantity        int64   `json:"quantity"`
	ExternalOrderID *string `json:"externalOrderId"`
	Redirect        bool    `json:"redirect"`
}

// CreateOrder starts a purchase for the calling buyer.
func (s *Server) CreateOrder(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req createOrderRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	campaignID, err := uuid.Parse(req.CampaignID)
	if err != nil {
		s.respondError(w, r, fault.InvalidOrderID("malformed campaignId"))
		return
	}
	ord, err := s.engine.Create(order.CreateInput{
		Buyer:           requester.User,
		CampaignID:      campaignID,
		Quantity:        req.Quantity,
		ExternalOrderID: req.ExternalOrderID,
		Redirect:        req.Redirect,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]any{"order": ord})
}

type claimOrderRequest struct {
	PreOrderID      string  `json:"preOrderId"`
	ExternalOrderID *string `json:"externalOrderId"`
}

// ClaimOrder upgrades a redirect-tracked pre-order into a real order.
func (s *Server) ClaimOrder(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req claimOrderRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	preOrderID, err := uuid.Parse(req.PreOrderID)
	if err != nil {
		s.respondError(w, r, fault.InvalidOrderID("malformed preOrderId"))
		return
	}
	ord, err := s.engine.Create(order.CreateInput{
		Buyer:           requester.User,
		PreOrderID:      &preOrderID,
		ExternalOrderID: req.ExternalOrderID,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"order": ord})
}

type uploadProofRequest struct {
	ImageBase64 string `json:"imageBase64"`
	MimeType    string `json:"mimeType"`
}

// UploadProof verifies a proof screenshot with the oracle and feeds the
// report into the workflow engine.
func (s *Server) UploadProof(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	orderID, err := pathUUID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	proofType, err := parseProofType(chi.URLParam(r, "type"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req uploadProofRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil || len(image) == 0 {
		s.respondError(w, r, fault.InvalidProofImage("image must be base64-encoded"))
		return
	}
	if int64(len(image)) > s.maxProofBytes {
		s.respondError(w, r, fault.ProofTooLarge("proof image exceeds the size limit"))
		return
	}
	switch strings.ToLower(req.MimeType) {
	case "", "image/jpeg", "image/png", "image/webp":
	default:
		s.respondError(w, r, fault.UnsupportedProofFormat())
		return
	}

	ord, err := s.engine.Get(nil, orderID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !requester.CanActFor(ord.UserID) {
		s.respondError(w, r, fault.Forbidden("cannot submit proof for another user's order"))
		return
	}

	expectedOrderID := ""
	if ord.ExternalOrderID != nil {
		expectedOrderID = *ord.ExternalOrderID
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.aiTimeout)
	defer cancel()
	report, err := s.verifier.VerifyProof(ctx, ai.Request{
		ProofType:       proofType,
		Image:           image,
		MimeType:        req.MimeType,
		ExpectedOrderID: expectedOrderID,
		ExpectedAmount:  ord.TotalPaise,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if report.ConfidenceScore < s.aiConfidenceMin {
		if proofType == models.ProofRating {
			s.respondError(w, r, fault.RatingVerificationFailed("rating proof did not meet the confidence threshold"))
			return
		}
		s.respondError(w, r, fault.InvalidOrderProof("proof did not meet the confidence threshold"))
		return
	}

	updated, err := s.engine.SubmitProof(order.SubmitProofInput{
		OrderID:   orderID,
		Actor:     requester.UserID,
		ProofType: proofType,
		ImageRef:  storeProofRef(orderID, proofType),
		MimeType:  req.MimeType,
		Report:    report,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"order": updated, "report": report})
}

// storeProofRef names the stored blob; the image itself lives in the
// object store under this key.
func storeProofRef(orderID uuid.UUID, proofType models.ProofType) string {
	return "proofs/" + orderID.String() + "/" + string(proofType)
}

type proofView struct {
	ProofType   models.ProofType    `json:"proofType"`
	Upload      *models.ProofUpload `json:"upload,omitempty"`
	Reports     []models.AIReport   `json:"reports,omitempty"`
	BuyerName   string              `json:"buyerName,omitempty"`
	BuyerMobile string              `json:"buyerMobile,omitempty"`
}

// GetProof returns proof metadata for an order. Brands get a PII-free
// view: no buyer name or mobile.
func (s *Server) GetProof(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	orderID, err := pathUUID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	proofType, err := parseProofType(chi.URLParam(r, "type"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	ord, err := s.engine.Get(nil, orderID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !s.auth.CanAccessOrder(requester, ord) {
		s.respondError(w, r, fault.Forbidden("no access to this order"))
		return
	}

	proofs, err := models.DecodeProofs(ord.Proofs)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	upload, ok := proofs[proofType]
	if !ok {
		s.respondError(w, r, fault.NotFound("proof not uploaded"))
		return
	}
	reports, err := models.DecodeReports(ord.AIReports)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var matching []models.AIReport
	for _, report := range reports {
		if report.ProofType == proofType {
			matching = append(matching, report)
		}
	}

	view := proofView{ProofType: proofType, Upload: &upload, Reports: matching}
	if !requester.HasRole(models.RoleBrand) || requester.IsPrivileged() {
		view.BuyerName = ord.BuyerName
		view.BuyerMobile = ord.BuyerMobile
	}
	s.respond(w, http.StatusOK, map[string]any{"proof": view})
}

type freezeRequest struct {
	Reason string `json:"reason"`
}

// FreezeOrder suspends all transitions on an order.
func (s *Server) FreezeOrder(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	orderID, err := pathUUID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req freezeRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	ord, err := s.engine.Freeze(orderID, req.Reason, requester.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"order": ord})
}

// ReactivateOrder clears a freeze.
func (s *Server) ReactivateOrder(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	orderID, err := pathUUID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	ord, err := s.engine.Reactivate(orderID, requester.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"order": ord})
}
