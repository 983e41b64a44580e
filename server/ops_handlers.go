package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/chetanchaudhari789/MOBO-sub004/audit"
	"github.com/chetanchaudhari789/MOBO-sub004/campaign"
	"github.com/chetanchaudhari789/MOBO-sub004/fault"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
	"github.com/chetanchaudhari789/MOBO-sub004/wallet"
)

type opsVerifyRequest struct {
	OrderID   string `json:"orderId"`
	ProofType string `json:"proofType"`
}

// OpsVerify records a manual verification of one proof step.
func (s *Server) OpsVerify(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req opsVerifyRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		s.respondError(w, r, fault.InvalidOrderID("malformed orderId"))
		return
	}
	proofType, err := parseProofType(req.ProofType)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	ord, err := s.engine.VerifyStep(orderID, proofType, requester.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"order": ord})
}

type orderRefRequest struct {
	OrderID string `json:"orderId"`
}

// OpsSettle settles an approved order.
func (s *Server) OpsSettle(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req orderRefRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		s.respondError(w, r, fault.InvalidOrderID("malformed orderId"))
		return
	}
	ord, err := s.settlement.Settle(orderID, requester.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"order": ord})
}

// OpsUnsettle reverses a settlement.
func (s *Server) OpsUnsettle(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req orderRefRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		s.respondError(w, r, fault.InvalidOrderID("malformed orderId"))
		return
	}
	ord, err := s.settlement.Unsettle(orderID, requester.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"order": ord})
}

type opsRejectRequest struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// OpsReject rejects an order under review.
func (s *Server) OpsReject(w http.ResponseWriter, r *http.Request) {
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
	var req opsRejectRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	ord, err := s.engine.Reject(orderID, req.Type, req.Reason, requester.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"order": ord})
}

type opsFailRequest struct {
	Reason string `json:"reason"`
}

// OpsFailOrder force-fails a non-terminal order.
func (s *Server) OpsFailOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req opsFailRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	ord, err := s.engine.MarkFailed(orderID, req.Reason)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"order": ord})
}

type opsRequestProofRequest struct {
	ProofType string `json:"proofType"`
	Note      string `json:"note"`
}

// OpsRequestProof asks the buyer for a missing proof type.
func (s *Server) OpsRequestProof(w http.ResponseWriter, r *http.Request) {
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
	var req opsRequestProofRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	proofType, err := parseProofType(req.ProofType)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	ord, err := s.engine.RequestMissingProof(orderID, proofType, req.Note, requester.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"order": ord})
}

type createCampaignRequest struct {
	Title              string  `json:"title"`
	BrandUserID        string  `json:"brandUserId"`
	ProductID          string  `json:"productId"`
	BrandName          string  `json:"brandName"`
	Platform           string  `json:"platform"`
	ImageURL           string  `json:"imageUrl"`
	OriginalPricePaise int64   `json:"originalPricePaise"`
	PricePaise         int64   `json:"pricePaise"`
	PayoutPaise        int64   `json:"payoutPaise"`
	ReturnWindowDays   int     `json:"returnWindowDays"`
	DealType           *string `json:"dealType"`
	TotalSlots         int64   `json:"totalSlots"`
	AllowedAgencyCodes string  `json:"allowedAgencyCodes"`
}

// OpsCreateCampaign publishes brand inventory.
func (s *Server) OpsCreateCampaign(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req createCampaignRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	brandUserID, err := uuid.Parse(req.BrandUserID)
	if err != nil {
		s.respondError(w, r, fault.InvalidOrderID("malformed brandUserId"))
		return
	}
	var dealType *models.DealType
	if req.DealType != nil {
		dt := models.DealType(*req.DealType)
		dealType = &dt
	}
	c, err := s.campaigns.Create(campaign.CreateInput{
		Title:              req.Title,
		BrandUserID:        brandUserID,
		ProductID:          req.ProductID,
		BrandName:          req.BrandName,
		Platform:           req.Platform,
		ImageURL:           req.ImageURL,
		OriginalPricePaise: req.OriginalPricePaise,
		PricePaise:         req.PricePaise,
		PayoutPaise:        req.PayoutPaise,
		ReturnWindowDays:   req.ReturnWindowDays,
		DealType:           dealType,
		TotalSlots:         req.TotalSlots,
		AllowedAgencyCodes: req.AllowedAgencyCodes,
		Actor:              requester.UserID,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]any{"campaign": c})
}

type assignCampaignRequest struct {
	CampaignID      string `json:"campaignId"`
	PartnerCode     string `json:"partnerCode"`
	Limit           int64  `json:"limit"`
	PayoutPaise     *int64 `json:"payout"`
	CommissionPaise *int64 `json:"commissionPaise"`
}

// OpsAssignCampaign allocates campaign slots to a partner.
func (s *Server) OpsAssignCampaign(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req assignCampaignRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	campaignID, err := uuid.Parse(req.CampaignID)
	if err != nil {
		s.respondError(w, r, fault.InvalidOrderID("malformed campaignId"))
		return
	}
	c, err := s.campaigns.Assign(campaignID, strings.TrimSpace(req.PartnerCode), models.Assignment{
		Limit:           req.Limit,
		PayoutPaise:     req.PayoutPaise,
		CommissionPaise: req.CommissionPaise,
	}, requester.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"campaign": c})
}

type publishDealRequest struct {
	CampaignID      string `json:"campaignId"`
	MediatorCode    string `json:"mediatorCode"`
	CommissionPaise int64  `json:"commissionPaise"`
	Category        string `json:"category"`
}

// OpsPublishDeal upserts a mediator's deal on a campaign.
func (s *Server) OpsPublishDeal(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req publishDealRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	campaignID, err := uuid.Parse(req.CampaignID)
	if err != nil {
		s.respondError(w, r, fault.InvalidOrderID("malformed campaignId"))
		return
	}
	deal, err := s.campaigns.PublishDeal(campaignID, strings.TrimSpace(req.MediatorCode), req.CommissionPaise, req.Category, requester.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]any{"deal": deal})
}

type connectBrandRequest struct {
	BrandUserID  string `json:"brandUserId"`
	AgencyCode   string `json:"agencyCode"`
	ConnectionID string `json:"connectionId"`
	Accept       *bool  `json:"accept"`
}

// OpsConnectBrand either files a connection request or resolves one.
func (s *Server) OpsConnectBrand(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req connectBrandRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.ConnectionID != "" && req.Accept != nil {
		connID, err := uuid.Parse(req.ConnectionID)
		if err != nil {
			s.respondError(w, r, fault.InvalidOrderID("malformed connectionId"))
			return
		}
		if err := s.campaigns.ResolveConnection(connID, *req.Accept, requester.UserID); err != nil {
			s.respondError(w, r, err)
			return
		}
		s.respond(w, http.StatusOK, map[string]any{"resolved": true})
		return
	}
	brandUserID, err := uuid.Parse(req.BrandUserID)
	if err != nil {
		s.respondError(w, r, fault.InvalidOrderID("malformed brandUserId"))
		return
	}
	conn, err := s.campaigns.RequestConnection(brandUserID, strings.TrimSpace(req.AgencyCode), requester.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusAccepted, map[string]any{"connection": conn})
}

type createPayoutRequest struct {
	UserID      string `json:"userId"`
	AmountPaise int64  `json:"amountPaise"`
	Provider    string `json:"provider"`
}

// OpsCreatePayout requests a disbursement from a user's wallet.
func (s *Server) OpsCreatePayout(w http.ResponseWriter, r *http.Request) {
	var req createPayoutRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		s.respondError(w, r, fault.InvalidOrderID("malformed userId"))
		return
	}
	payout, err := s.settlement.RequestPayout(userID, req.AmountPaise, req.Provider)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]any{"payout": payout})
}

type completePayoutRequest struct {
	ProviderRef string `json:"providerRef"`
}

// OpsCompletePayout records a provider success callback.
func (s *Server) OpsCompletePayout(w http.ResponseWriter, r *http.Request) {
	payoutID, err := pathUUID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req completePayoutRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	payout, err := s.settlement.CompletePayout(payoutID, req.ProviderRef)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"payout": payout})
}

type failPayoutRequest struct {
	Reason string `json:"reason"`
}

// OpsFailPayout records a provider failure and refunds the wallet.
func (s *Server) OpsFailPayout(w http.ResponseWriter, r *http.Request) {
	payoutID, err := pathUUID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req failPayoutRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	payout, err := s.settlement.FailPayout(payoutID, req.Reason)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"payout": payout})
}

// GetSystemConfig returns all config rows.
func (s *Server) GetSystemConfig(w http.ResponseWriter, r *http.Request) {
	var rows []models.SystemConfig
	if err := s.db.Order("key").Find(&rows).Error; err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"config": rows})
}

type putConfigRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PutSystemConfig upserts one config row.
func (s *Server) PutSystemConfig(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req putConfigRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	key := strings.TrimSpace(req.Key)
	if key == "" {
		s.respondError(w, r, fault.New("INVALID_PAYLOAD", http.StatusBadRequest, "config key required"))
		return
	}
	var row models.SystemConfig
	err = s.db.Where("key = ?", key).First(&row).Error
	if err == nil {
		err = s.db.Model(&models.SystemConfig{}).Where("key = ?", key).
			Updates(map[string]any{"value": req.Value, "updated_by": requester.UserID}).Error
	} else {
		row = models.SystemConfig{Key: key, Value: req.Value, UpdatedBy: requester.UserID}
		err = s.db.Create(&row).Error
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.auditor.Write(nil, audit.Entry{
		Actor:      &requester.UserID,
		Action:     "CONFIG_UPDATED",
		EntityType: "system_config",
		EntityID:   key,
	})
	s.respond(w, http.StatusOK, map[string]any{"key": key, "value": req.Value})
}

type suspendRequest struct {
	Reason string `json:"reason"`
}

// SuspendUser marks a user suspended and records the decision.
func (s *Server) SuspendUser(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	userID, err := pathUUID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req suspendRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.setUserStatus(r, userID, models.UserSuspended, req.Reason, requester.UserID); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"status": models.UserSuspended})
}

// ReinstateUser reverses a suspension.
func (s *Server) ReinstateUser(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	userID, err := pathUUID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.setUserStatus(r, userID, models.UserActive, "", requester.UserID); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"status": models.UserActive})
}

func (s *Server) setUserStatus(r *http.Request, userID uuid.UUID, status models.UserStatus, reason string, actor uuid.UUID) error {
	res := s.db.Model(&models.User{}).Where("id = ?", userID).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fault.NotFound("user not found")
	}
	if status == models.UserSuspended {
		suspension := models.Suspension{
			ID:      uuid.New(),
			UserID:  userID,
			ActorID: actor,
			Reason:  reason,
		}
		if err := s.db.Create(&suspension).Error; err != nil {
			return err
		}
	}
	s.auditor.Write(nil, audit.Entry{
		Actor:      &actor,
		Action:     "USER_STATUS_CHANGED",
		EntityType: "user",
		EntityID:   userID.String(),
		IP:         r.RemoteAddr,
		Metadata:   map[string]any{"status": status, "reason": reason},
	})
	return nil
}

type adjustWalletRequest struct {
	UserID         string `json:"userId"`
	AmountPaise    int64  `json:"amountPaise"`
	Direction      string `json:"direction"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// OpsAdjustWallet applies a manual credit or debit to a user's wallet
// (admin only). Replays on the same idempotency key return the original
// ledger entry.
func (s *Server) OpsAdjustWallet(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req adjustWalletRequest
	if err := s.decode(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		s.respondError(w, r, fault.InvalidOrderID("malformed userId"))
		return
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = "adjust:" + uuid.NewString()
	}
	input := wallet.Input{
		IdempotencyKey: key,
		Type:           models.TxAdminAdjust,
		OwnerUserID:    userID,
		AmountPaise:    req.AmountPaise,
		Metadata:       map[string]any{"reason": req.Reason, "adjustedBy": requester.UserID.String()},
	}
	var entry *models.Transaction
	switch req.Direction {
	case "credit":
		if _, err := s.ledger.EnsureWallet(userID); err != nil {
			s.respondError(w, r, err)
			return
		}
		entry, err = s.ledger.Credit(input)
	case "debit":
		entry, err = s.ledger.Debit(input)
	default:
		s.respondError(w, r, fault.New("INVALID_PAYLOAD", http.StatusBadRequest, "direction must be credit or debit"))
		return
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"transaction": entry})
}

// DeleteUser soft-deletes a user and their wallet (admin only). The
// rows stay queryable through the unscoped history views; the user can
// no longer authenticate and their wallet refuses further movement.
func (s *Server) DeleteUser(w http.ResponseWriter, r *http.Request) {
	requester, err := s.requester(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	userID, err := pathUUID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if userID == requester.UserID {
		s.respondError(w, r, fault.Forbidden("cannot delete your own account"))
		return
	}
	res := s.db.Delete(&models.User{}, "id = ?", userID)
	if res.Error != nil {
		s.respondError(w, r, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		s.respondError(w, r, fault.NotFound("user not found"))
		return
	}
	if err := s.db.Delete(&models.Wallet{}, "owner_user_id = ?", userID).Error; err != nil {
		s.respondError(w, r, err)
		return
	}
	actor := requester.UserID
	s.auditor.Write(nil, audit.Entry{
		Actor:      &actor,
		Action:     "USER_DELETED",
		EntityType: "user",
		EntityID:   userID.String(),
		IP:         r.RemoteAddr,
	})
	s.respond(w, http.StatusOK, map[string]any{"deleted": true})
}
