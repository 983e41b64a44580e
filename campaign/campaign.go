// Package campaign manages purchasable inventory: the oversell-free
// slot ledger, per-partner assignments, mediator deal publishing, and
// brand/agency connections.
package campaign

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chetanchaudhari789/MOBO-sub004/audit"
	"github.com/chetanchaudhari789/MOBO-sub004/fault"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
)

// Service coordinates campaign state.
type Service struct {
	db      *gorm.DB
	auditor *audit.Writer
	now     func() time.Time
}

// New constructs the campaign service.
func New(db *gorm.DB, auditor *audit.Writer) *Service {
	return &Service{db: db, auditor: auditor, now: time.Now}
}

// ClaimSlot atomically consumes one global slot. It must run inside the
// transaction that creates the order row; zero rows affected means the
// campaign is sold out.
func (s *Service) ClaimSlot(tx *gorm.DB, campaignID uuid.UUID) error {
	res := tx.Model(&models.Campaign{}).
		Where("id = ? AND used_slots < total_slots AND status = ?", campaignID, models.CampaignActive).
		Updates(map[string]any{
			"used_slots": gorm.Expr("used_slots + 1"),
			"updated_at": s.now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fault.SoldOut()
	}
	return nil
}

// ReleaseSlot returns one slot, flooring at zero. Used by admin
// corrections; settlement reversals deliberately leave slots consumed.
func (s *Service) ReleaseSlot(tx *gorm.DB, campaignID uuid.UUID) error {
	res := tx.Model(&models.Campaign{}).
		Where("id = ? AND used_slots > 0", campaignID).
		Updates(map[string]any{
			"used_slots": gorm.Expr("used_slots - 1"),
			"updated_at": s.now().UTC(),
		})
	return res.Error
}

// CheckPartnerCap enforces the advisory per-partner limit by counting
// the mediator's live orders on this campaign. The count runs outside
// the atomic claim, so a narrow race may allow one overshoot; the
// global cap stays strict.
func (s *Service) CheckPartnerCap(db *gorm.DB, c *models.Campaign, mediatorCode string) error {
	assignments, err := models.DecodeAssignments(c.Assignments)
	if err != nil {
		return err
	}
	assigned, ok := assignments[mediatorCode]
	if !ok {
		return nil
	}
	var sales int64
	err = db.Model(&models.Order{}).
		Where("manager_name = ? AND status <> ? AND items LIKE ?",
			mediatorCode, models.OrderCancelled, "%"+c.ID.String()+"%").
		Count(&sales).Error
	if err != nil {
		return err
	}
	if assigned.Limit > 0 && sales >= assigned.Limit {
		return fault.SoldOutForPartner()
	}
	return nil
}

// Get loads a campaign by id.
func (s *Service) Get(db *gorm.DB, id uuid.UUID) (*models.Campaign, error) {
	var c models.Campaign
	if err := db.Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.NotFound("campaign not found")
		}
		return nil, err
	}
	return &c, nil
}

// CreateInput describes a new campaign.
type CreateInput struct {
	Title              string
	BrandUserID        uuid.UUID
	ProductID          string
	BrandName          string
	Platform           string
	ImageURL           string
	OriginalPricePaise int64
	PricePaise         int64
	PayoutPaise        int64
	ReturnWindowDays   int
	DealType           *models.DealType
	TotalSlots         int64
	AllowedAgencyCodes string
	Actor              uuid.UUID
}

// Create persists a new draft campaign.
func (s *Service) Create(in CreateInput) (*models.Campaign, error) {
	if in.PricePaise <= 0 || in.PayoutPaise < 0 || in.TotalSlots <= 0 {
		return nil, fault.InvalidAmount("campaign pricing and slots must be positive")
	}
	if in.ReturnWindowDays <= 0 {
		in.ReturnWindowDays = 14
	}
	c := models.Campaign{
		ID:                 uuid.New(),
		Title:              in.Title,
		BrandUserID:        in.BrandUserID,
		ProductID:          in.ProductID,
		BrandName:          in.BrandName,
		Platform:           in.Platform,
		ImageURL:           in.ImageURL,
		OriginalPricePaise: in.OriginalPricePaise,
		PricePaise:         in.PricePaise,
		PayoutPaise:        in.PayoutPaise,
		ReturnWindowDays:   in.ReturnWindowDays,
		DealType:           in.DealType,
		TotalSlots:         in.TotalSlots,
		Status:             models.CampaignActive,
		AllowedAgencyCodes: in.AllowedAgencyCodes,
		CreatedAt:          s.now().UTC(),
		UpdatedAt:          s.now().UTC(),
	}
	if err := s.db.Create(&c).Error; err != nil {
		return nil, err
	}
	actor := in.Actor
	s.auditor.Write(nil, audit.Entry{
		Actor:      &actor,
		Action:     "campaign.created",
		EntityType: "campaign",
		EntityID:   c.ID.String(),
		Metadata:   map[string]any{"totalSlots": c.TotalSlots, "pricePaise": c.PricePaise},
	})
	return &c, nil
}

// Assign replaces one partner's allocation on a campaign. Assigning on
// a locked campaign fails.
func (s *Service) Assign(campaignID uuid.UUID, partnerCode string, assignment models.Assignment, actor uuid.UUID) (*models.Campaign, error) {
	var out *models.Campaign
	err := s.db.Transaction(func(tx *gorm.DB) error {
		c, err := s.Get(tx, campaignID)
		if err != nil {
			return err
		}
		if c.Locked {
			return fault.Forbidden("campaign assignments are locked")
		}
		assignments, err := models.DecodeAssignments(c.Assignments)
		if err != nil {
			return err
		}
		assignments[partnerCode] = assignment
		encoded, err := json.Marshal(assignments)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.Campaign{}).Where("id = ?", c.ID).
			Updates(map[string]any{"assignments": json.RawMessage(encoded), "updated_at": s.now().UTC()}).Error; err != nil {
			return err
		}
		c.Assignments = encoded
		out = c
		s.auditor.Write(tx, audit.Entry{
			Actor:      &actor,
			Action:     "campaign.assigned",
			EntityType: "campaign",
			EntityID:   c.ID.String(),
			Metadata:   map[string]any{"partnerCode": partnerCode, "limit": assignment.Limit},
		})
		return nil
	})
	return out, err
}

// PublishDeal creates or refreshes a mediator's published view of a
// campaign. One deal per (campaign, mediator).
func (s *Service) PublishDeal(campaignID uuid.UUID, mediatorCode string, commissionPaise int64, category string, actor uuid.UUID) (*models.Deal, error) {
	if commissionPaise < 0 {
		return nil, fault.InvalidAmount("commission must not be negative")
	}
	var deal models.Deal
	err := s.db.Transaction(func(tx *gorm.DB) error {
		c, err := s.Get(tx, campaignID)
		if err != nil {
			return err
		}
		err = tx.Where("campaign_id = ? AND mediator_code = ?", campaignID, mediatorCode).First(&deal).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			deal = models.Deal{
				ID:              uuid.New(),
				CampaignID:      campaignID,
				MediatorCode:    mediatorCode,
				Title:           c.Title,
				PricePaise:      c.PricePaise,
				PayoutPaise:     c.PayoutPaise,
				CommissionPaise: commissionPaise,
				Category:        category,
				Active:          true,
				CreatedAt:       s.now().UTC(),
				UpdatedAt:       s.now().UTC(),
			}
			return tx.Create(&deal).Error
		case err != nil:
			return err
		default:
			deal.CommissionPaise = commissionPaise
			deal.Category = category
			deal.Active = true
			deal.UpdatedAt = s.now().UTC()
			return tx.Save(&deal).Error
		}
	})
	if err != nil {
		return nil, err
	}
	s.auditor.Write(nil, audit.Entry{
		Actor:      &actor,
		Action:     "deal.published",
		EntityType: "deal",
		EntityID:   deal.ID.String(),
		Metadata:   map[string]any{"campaignId": campaignID.String(), "mediatorCode": mediatorCode},
	})
	return &deal, nil
}

// RequestConnection records an agency's request to work with a brand.
// A pending duplicate fails ALREADY_REQUESTED.
func (s *Service) RequestConnection(brandUserID uuid.UUID, agencyCode string, actor uuid.UUID) (*models.PendingConnection, error) {
	var existing models.PendingConnection
	err := s.db.Where("brand_user_id = ? AND agency_code = ?", brandUserID, agencyCode).First(&existing).Error
	switch {
	case err == nil:
		if existing.Status == models.ConnectionPending {
			return nil, fault.AlreadyRequested()
		}
		existing.Status = models.ConnectionPending
		existing.UpdatedAt = s.now().UTC()
		if err := s.db.Save(&existing).Error; err != nil {
			return nil, err
		}
		return &existing, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, err
	}
	conn := models.PendingConnection{
		ID:          uuid.New(),
		BrandUserID: brandUserID,
		AgencyCode:  agencyCode,
		Status:      models.ConnectionPending,
		CreatedAt:   s.now().UTC(),
		UpdatedAt:   s.now().UTC(),
	}
	if err := s.db.Create(&conn).Error; err != nil {
		return nil, fault.AlreadyRequested()
	}
	s.auditor.Write(nil, audit.Entry{
		Actor:      &actor,
		Action:     "connection.requested",
		EntityType: "connection",
		EntityID:   conn.ID.String(),
		Metadata:   map[string]any{"brandUserId": brandUserID.String(), "agencyCode": agencyCode},
	})
	return &conn, nil
}

// ResolveConnection accepts or rejects a pending request and, on
// acceptance, adds the agency to the brand's connected set.
func (s *Service) ResolveConnection(connID uuid.UUID, accept bool, actor uuid.UUID) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var conn models.PendingConnection
		if err := tx.Where("id = ?", connID).First(&conn).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fault.NotFound("connection request not found")
			}
			return err
		}
		if conn.Status != models.ConnectionPending {
			return fault.AlreadyRequested()
		}
		status := models.ConnectionRejected
		if accept {
			status = models.ConnectionAccepted
		}
		if err := tx.Model(&models.PendingConnection{}).Where("id = ?", conn.ID).
			Updates(map[string]any{"status": status, "updated_at": s.now().UTC()}).Error; err != nil {
			return err
		}
		if accept {
			var brand models.User
			if err := tx.Where("id = ?", conn.BrandUserID).First(&brand).Error; err != nil {
				return err
			}
			if !brand.HasRole(models.RoleBrand) {
				return fault.Forbidden("connection target is not a brand")
			}
			connected := brand.ConnectedAgencies
			if connected != "" {
				connected += ","
			}
			connected += conn.AgencyCode
			if err := tx.Model(&models.User{}).Where("id = ?", brand.ID).
				Update("connected_agencies", connected).Error; err != nil {
				return err
			}
		}
		s.auditor.Write(tx, audit.Entry{
			Actor:      &actor,
			Action:     "connection.resolved",
			EntityType: "connection",
			EntityID:   conn.ID.String(),
			Metadata:   map[string]any{"accepted": accept},
		})
		return nil
	})
}
