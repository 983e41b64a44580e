// Package order is the per-order workflow engine: a strict state
// machine with an append-only event log, AI-gated proof verification,
// and freeze/reactivate semantics for disputes.
package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chetanchaudhari789/MOBO-sub004/audit"
	"github.com/chetanchaudhari789/MOBO-sub004/campaign"
	"github.com/chetanchaudhari789/MOBO-sub004/fault"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
	"github.com/chetanchaudhari789/MOBO-sub004/observability"
	"github.com/chetanchaudhari789/MOBO-sub004/realtime"
)

// Velocity limits on order creation.
const (
	maxOrdersPerHour = 10
	maxOrdersPerDay  = 30
)

// Engine drives the order workflow.
type Engine struct {
	db        *gorm.DB
	campaigns *campaign.Service
	auditor   *audit.Writer
	sink      *observability.Sink
	hub       *realtime.Hub

	autoVerifyThreshold float64
	now                 func() time.Time
}

// Config bundles engine dependencies.
type Config struct {
	DB                  *gorm.DB
	Campaigns           *campaign.Service
	Auditor             *audit.Writer
	Sink                *observability.Sink
	Hub                 *realtime.Hub
	AutoVerifyThreshold float64
}

// NewEngine constructs the workflow engine.
func NewEngine(cfg Config) *Engine {
	if cfg.AutoVerifyThreshold <= 0 {
		cfg.AutoVerifyThreshold = 90
	}
	return &Engine{
		db:                  cfg.DB,
		campaigns:           cfg.Campaigns,
		auditor:             cfg.Auditor,
		sink:                cfg.Sink,
		hub:                 cfg.Hub,
		autoVerifyThreshold: cfg.AutoVerifyThreshold,
		now:                 time.Now,
	}
}

// SetNowFunc overrides the time source for tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	e.now = now
}

// Get loads an order by id.
func (e *Engine) Get(db *gorm.DB, id uuid.UUID) (*models.Order, error) {
	if db == nil {
		db = e.db
	}
	var ord models.Order
	if err := db.Where("id = ?", id).First(&ord).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.NotFound("order not found")
		}
		return nil, err
	}
	return &ord, nil
}

// TransitionInput parameterises one workflow move.
type TransitionInput struct {
	OrderID  uuid.UUID
	From     models.WorkflowStatus
	To       models.WorkflowStatus
	Actor    *uuid.UUID
	Metadata map[string]any
	Tx       *gorm.DB
}

// Transition performs an atomic compare-and-set on workflowStatus and
// appends a typed event. Concurrent transitions cannot interleave: at
// most one succeeds, the rest observe INVALID_WORKFLOW_STATE.
func (e *Engine) Transition(in TransitionInput) (*models.Order, error) {
	db := in.Tx
	if db == nil {
		db = e.db
	}
	ord, err := e.Get(db, in.OrderID)
	if err != nil {
		return nil, err
	}
	if ord.WorkflowStatus != in.From {
		return nil, fault.InvalidWorkflowState(string(ord.WorkflowStatus), string(in.From))
	}
	if err := e.casTransition(db, ord, in.To, in.Actor, in.Metadata); err != nil {
		return nil, err
	}
	return ord, nil
}

// casTransition validates the move and applies it with a guarded update;
// ord is refreshed in place on success.
func (e *Engine) casTransition(tx *gorm.DB, ord *models.Order, to models.WorkflowStatus, actor *uuid.UUID, metadata map[string]any) error {
	if ord.Frozen {
		return fault.OrderFrozen()
	}
	if affiliateTerminal(ord.AffiliateStatus) {
		return terminalFault(ord.AffiliateStatus)
	}
	if err := ValidateTransition(ord.WorkflowStatus, to); err != nil {
		return err
	}
	events, err := e.appendEvent(ord.Events, string(to), actor, metadata)
	if err != nil {
		return err
	}
	now := e.now().UTC()
	res := tx.Model(&models.Order{}).
		Where("id = ? AND workflow_status = ? AND frozen = ?", ord.ID, ord.WorkflowStatus, false).
		Updates(map[string]any{
			"workflow_status": to,
			"events":          events,
			"updated_at":      now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		observed, readErr := e.Get(tx, ord.ID)
		if readErr != nil {
			return readErr
		}
		if observed.Frozen {
			return fault.OrderFrozen()
		}
		return fault.InvalidWorkflowState(string(observed.WorkflowStatus), string(ord.WorkflowStatus))
	}
	ord.WorkflowStatus = to
	ord.Events = events
	ord.UpdatedAt = now
	return nil
}

func (e *Engine) appendEvent(raw json.RawMessage, eventType string, actor *uuid.UUID, metadata map[string]any) (json.RawMessage, error) {
	var encoded json.RawMessage
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("order: encode event metadata: %w", err)
		}
		encoded = data
	}
	return models.AppendEvent(raw, models.OrderEvent{
		Type:        eventType,
		At:          e.now().UTC(),
		ActorUserID: actor,
		Metadata:    encoded,
	})
}

// CreateInput describes a purchase attempt.
type CreateInput struct {
	Buyer           *models.User
	CampaignID      uuid.UUID
	Quantity        int64
	ExternalOrderID *string
	PreOrderID      *uuid.UUID
	Redirect        bool // create a redirect-tracked pre-order, no slot claim
}

// Create runs the anti-fraud and velocity guards, claims a campaign
// slot, and persists the order — all inside one transaction. Supplying
// PreOrderID upgrades a redirect-tracked pre-order instead.
func (e *Engine) Create(in CreateInput) (*models.Order, error) {
	if in.Buyer == nil {
		return nil, fault.Unauthenticated("buyer identity required")
	}
	if in.Quantity <= 0 {
		in.Quantity = 1
	}

	if in.PreOrderID != nil {
		return e.upgradePreOrder(in)
	}

	c, err := e.campaigns.Get(e.db, in.CampaignID)
	if err != nil {
		return nil, err
	}
	if err := e.creationGuards(in, c); err != nil {
		return nil, err
	}

	var created *models.Order
	err = e.db.Transaction(func(tx *gorm.DB) error {
		ord, err := e.buildOrder(tx, in, c)
		if err != nil {
			return err
		}
		if err := tx.Create(ord).Error; err != nil {
			return err
		}
		if in.Redirect {
			if err := e.casTransition(tx, ord, models.StateRedirected, &in.Buyer.ID, nil); err != nil {
				return err
			}
		} else {
			if err := e.campaigns.CheckPartnerCap(tx, c, ord.ManagerName); err != nil {
				return err
			}
			if err := e.campaigns.ClaimSlot(tx, c.ID); err != nil {
				return err
			}
			if err := e.casTransition(tx, ord, models.StateOrdered, &in.Buyer.ID, nil); err != nil {
				return err
			}
		}
		e.auditor.Write(tx, audit.Entry{
			Actor:      &in.Buyer.ID,
			Action:     "ORDER_CREATED",
			EntityType: "order",
			EntityID:   ord.ID.String(),
			Metadata:   map[string]any{"campaignId": c.ID.String(), "totalPaise": ord.TotalPaise},
		})
		created = ord
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.announce(created, "ORDER_CREATED")
	return created, nil
}

// upgradePreOrder turns a REDIRECTED pre-order into a real order,
// claiming the slot at upgrade time.
func (e *Engine) upgradePreOrder(in CreateInput) (*models.Order, error) {
	var upgraded *models.Order
	err := e.db.Transaction(func(tx *gorm.DB) error {
		ord, err := e.Get(tx, *in.PreOrderID)
		if err != nil {
			return err
		}
		if ord.UserID != in.Buyer.ID {
			return fault.Forbidden("pre-order belongs to another buyer")
		}
		if ord.WorkflowStatus != models.StateRedirected {
			return fault.InvalidWorkflowState(string(ord.WorkflowStatus), string(models.StateRedirected))
		}
		items, err := models.DecodeItems(ord.Items)
		if err != nil || len(items) == 0 {
			return fault.InvalidOrderID("pre-order has no items")
		}
		c, err := e.campaigns.Get(tx, items[0].CampaignID)
		if err != nil {
			return err
		}
		if in.ExternalOrderID != nil {
			if err := e.checkExternalOrderID(tx, *in.ExternalOrderID); err != nil {
				return err
			}
			if err := tx.Model(&models.Order{}).Where("id = ?", ord.ID).
				Update("external_order_id", *in.ExternalOrderID).Error; err != nil {
				return err
			}
			ord.ExternalOrderID = in.ExternalOrderID
		}
		if err := e.campaigns.CheckPartnerCap(tx, c, ord.ManagerName); err != nil {
			return err
		}
		if err := e.campaigns.ClaimSlot(tx, c.ID); err != nil {
			return err
		}
		if err := e.casTransition(tx, ord, models.StateOrdered, &in.Buyer.ID, nil); err != nil {
			return err
		}
		upgraded = ord
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.announce(upgraded, "ORDER_CLAIMED")
	return upgraded, nil
}

func (e *Engine) creationGuards(in CreateInput, c *models.Campaign) error {
	if in.ExternalOrderID != nil {
		if err := e.checkExternalOrderID(e.db, *in.ExternalOrderID); err != nil {
			return err
		}
	}

	// One live order per buyer per product.
	var open int64
	err := e.db.Model(&models.Order{}).
		Where("user_id = ? AND workflow_status NOT IN ? AND items LIKE ?",
			in.Buyer.ID,
			[]models.WorkflowStatus{models.StateCompleted, models.StateFailed, models.StateRejected},
			`%"productId":"`+c.ProductID+`"%`).
		Count(&open).Error
	if err != nil {
		return err
	}
	if open > 0 {
		return fault.DuplicateDealOrder()
	}

	now := e.now().UTC()
	var lastHour, lastDay int64
	if err := e.db.Model(&models.Order{}).
		Where("user_id = ? AND created_at > ?", in.Buyer.ID, now.Add(-time.Hour)).
		Count(&lastHour).Error; err != nil {
		return err
	}
	if err := e.db.Model(&models.Order{}).
		Where("user_id = ? AND created_at > ?", in.Buyer.ID, now.Add(-24*time.Hour)).
		Count(&lastDay).Error; err != nil {
		return err
	}
	if lastHour >= maxOrdersPerHour || lastDay >= maxOrdersPerDay {
		return fault.VelocityLimit()
	}
	return nil
}

func (e *Engine) checkExternalOrderID(db *gorm.DB, externalID string) error {
	if externalID == "" {
		return nil
	}
	var count int64
	if err := db.Model(&models.Order{}).
		Where("external_order_id = ?", externalID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fault.DuplicateExternalOrderID()
	}
	return nil
}

func (e *Engine) buildOrder(tx *gorm.DB, in CreateInput, c *models.Campaign) (*models.Order, error) {
	buyer := in.Buyer
	mediatorCode := buyer.ParentCode
	if mediatorCode == "" {
		return nil, fault.Forbidden("buyer has no managing mediator")
	}
	var mediator models.User
	if err := tx.Where("mediator_code = ? AND role = ?", mediatorCode, models.RoleMediator).
		First(&mediator).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.Forbidden("managing mediator not found")
		}
		return nil, err
	}

	commission := e.resolveCommission(tx, c, mediatorCode)

	item := models.OrderItem{
		ProductID:            c.ProductID,
		Title:                c.Title,
		Image:                c.ImageURL,
		PriceAtPurchasePaise: c.PricePaise,
		CommissionPaise:      commission,
		CampaignID:           c.ID,
		Quantity:             in.Quantity,
		DealType:             c.DealType,
		Platform:             c.Platform,
		BrandName:            c.BrandName,
	}
	items, err := json.Marshal([]models.OrderItem{item})
	if err != nil {
		return nil, fmt.Errorf("order: encode items: %w", err)
	}
	events, err := e.appendEvent(nil, "ORDER_CREATED", &buyer.ID, nil)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	expected := now.AddDate(0, 0, c.ReturnWindowDays)
	return &models.Order{
		ID:                     uuid.New(),
		UserID:                 buyer.ID,
		BrandUserID:            c.BrandUserID,
		Items:                  items,
		TotalPaise:             models.ItemTotalPaise([]models.OrderItem{item}),
		WorkflowStatus:         models.StateCreated,
		Status:                 models.OrderOrdered,
		PaymentStatus:          models.PaymentPending,
		AffiliateStatus:        models.AffiliateUnchecked,
		ExternalOrderID:        in.ExternalOrderID,
		Events:                 events,
		ManagerName:            mediatorCode,
		AgencyName:             mediator.ParentCode,
		BuyerName:              buyer.Name,
		BuyerMobile:            buyer.Mobile,
		BrandName:              c.BrandName,
		SettlementMode:         models.SettleWallet,
		ExpectedSettlementDate: &expected,
		CreatedAt:              now,
		UpdatedAt:              now,
	}, nil
}

// resolveCommission snapshots the commission at creation time: the
// mediator's Deal row wins, then the assignment object, then zero.
func (e *Engine) resolveCommission(tx *gorm.DB, c *models.Campaign, mediatorCode string) int64 {
	var deal models.Deal
	if err := tx.Where("campaign_id = ? AND mediator_code = ?", c.ID, mediatorCode).
		First(&deal).Error; err == nil {
		return deal.CommissionPaise
	}
	if assignments, err := models.DecodeAssignments(c.Assignments); err == nil {
		if assigned, ok := assignments[mediatorCode]; ok && assigned.CommissionPaise != nil {
			return *assigned.CommissionPaise
		}
	}
	return 0
}

func (e *Engine) announce(ord *models.Order, eventType string) {
	if ord == nil {
		return
	}
	e.hub.Publish(realtime.Event{
		Type:    eventType,
		Payload: map[string]any{"orderId": ord.ID.String(), "workflowStatus": ord.WorkflowStatus},
		Audience: realtime.Audience{
			UserIDs:       []string{ord.UserID.String(), ord.BrandUserID.String()},
			MediatorCodes: []string{ord.ManagerName},
			AgencyCodes:   []string{ord.AgencyName},
		},
	})
	e.sink.Emit(observability.Event{
		Domain:   observability.DomainBusiness,
		Category: observability.CategoryChange,
		Name:     eventType,
		UserID:   ord.UserID.String(),
		Metadata: map[string]any{"orderId": ord.ID.String(), "workflowStatus": ord.WorkflowStatus},
	})
}
