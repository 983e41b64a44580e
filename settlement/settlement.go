// Package settlement moves money for finished orders: the five-step
// settle flow, its reversal, and the payout lifecycle. Every monetary
// step is idempotency-keyed on the order so replays are safe.
package settlement

import (
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
	"github.com/chetanchaudhari789/MOBO-sub004/order"
	"github.com/chetanchaudhari789/MOBO-sub004/realtime"
	"github.com/chetanchaudhari789/MOBO-sub004/wallet"
)

// Orchestrator settles approved orders and processes payouts.
type Orchestrator struct {
	db        *gorm.DB
	ledger    *wallet.Ledger
	engine    *order.Engine
	campaigns *campaign.Service
	auditor   *audit.Writer
	sink      *observability.Sink
	hub       *realtime.Hub
	now       func() time.Time
}

// Config bundles orchestrator dependencies.
type Config struct {
	DB        *gorm.DB
	Ledger    *wallet.Ledger
	Engine    *order.Engine
	Campaigns *campaign.Service
	Auditor   *audit.Writer
	Sink      *observability.Sink
	Hub       *realtime.Hub
}

// New constructs the orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		db:        cfg.DB,
		ledger:    cfg.Ledger,
		engine:    cfg.Engine,
		campaigns: cfg.Campaigns,
		auditor:   cfg.Auditor,
		sink:      cfg.Sink,
		hub:       cfg.Hub,
		now:       time.Now,
	}
}

// SetNowFunc overrides the time source for tests.
func (o *Orchestrator) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	o.now = now
}

// split is the resolved money movement for one order.
type split struct {
	BuyerPayoutPaise   int64
	MediatorCommission int64
	MarginPaise        int64
	BrandDebitPaise    int64
	MediatorUserID     uuid.UUID
	CampaignID         uuid.UUID
}

// Settle runs the five-step settlement of an approved order inside one
// transaction. Replays keyed on the same order are no-ops in the wallet
// ledger, so calling Settle twice cannot double-pay.
func (o *Orchestrator) Settle(orderID uuid.UUID, actor uuid.UUID) (*models.Order, error) {
	var settled *models.Order
	err := o.db.Transaction(func(tx *gorm.DB) error {
		ord, err := o.engine.Get(tx, orderID)
		if err != nil {
			return err
		}
		if ord.AffiliateStatus == models.AffiliateSettled {
			settled = ord
			return nil
		}
		if ord.WorkflowStatus != models.StateApproved && ord.WorkflowStatus != models.StateRewardPending {
			return fault.InvalidWorkflowState(string(ord.WorkflowStatus), string(models.StateApproved))
		}

		// Step 1: buyer active, no open dispute.
		if err := o.assertSettleable(tx, ord); err != nil {
			return err
		}

		sp, err := o.resolveSplit(tx, ord)
		if err != nil {
			return err
		}

		// Cap re-check: an over-cap order parks as Cap_Exceeded
		// instead of settling.
		if capped, err := o.overPartnerCap(tx, ord, sp.CampaignID); err != nil {
			return err
		} else if capped {
			if err := tx.Model(&models.Order{}).Where("id = ?", ord.ID).
				Update("affiliate_status", models.AffiliateCapExceeded).Error; err != nil {
				return err
			}
			ord.AffiliateStatus = models.AffiliateCapExceeded
			settled = ord
			return nil
		}

		// Step 2: brand debit.
		if _, err := o.ledger.Debit(wallet.Input{
			IdempotencyKey: fmt.Sprintf("settle:%s:brand_debit", ord.ID),
			Type:           models.TxSettlementDebit,
			OwnerUserID:    ord.BrandUserID,
			AmountPaise:    sp.BrandDebitPaise,
			OrderID:        &ord.ID,
			CampaignID:     &sp.CampaignID,
			Tx:             tx,
		}); err != nil {
			return err
		}

		// Step 3: buyer payout and mediator commission.
		if sp.BuyerPayoutPaise > 0 {
			if _, err := o.ledger.Credit(wallet.Input{
				IdempotencyKey: fmt.Sprintf("settle:%s:cashback", ord.ID),
				Type:           models.TxCashbackSettle,
				OwnerUserID:    ord.UserID,
				AmountPaise:    sp.BuyerPayoutPaise,
				FromUserID:     &ord.BrandUserID,
				OrderID:        &ord.ID,
				CampaignID:     &sp.CampaignID,
				Tx:             tx,
			}); err != nil {
				return err
			}
		}
		if sp.MediatorCommission > 0 {
			if _, err := o.ledger.Credit(wallet.Input{
				IdempotencyKey: fmt.Sprintf("settle:%s:commission", ord.ID),
				Type:           models.TxCommissionSettle,
				OwnerUserID:    sp.MediatorUserID,
				AmountPaise:    sp.MediatorCommission,
				FromUserID:     &ord.BrandUserID,
				OrderID:        &ord.ID,
				CampaignID:     &sp.CampaignID,
				Tx:             tx,
			}); err != nil {
				return err
			}
		}

		// Step 4: finalize the order row.
		ref := fmt.Sprintf("settle:%s:%d", ord.ID, o.now().UTC().Unix())
		if err := tx.Model(&models.Order{}).Where("id = ?", ord.ID).
			Updates(map[string]any{
				"affiliate_status": models.AffiliateSettled,
				"payment_status":   models.PaymentPaid,
				"settlement_ref":   ref,
				"settlement_mode":  models.SettleWallet,
				"updated_at":       o.now().UTC(),
			}).Error; err != nil {
			return err
		}
		ord.AffiliateStatus = models.AffiliateSettled
		ord.PaymentStatus = models.PaymentPaid
		ord.SettlementRef = ref

		// Step 5: SETTLED event and audit row.
		events, err := models.AppendEvent(ord.Events, models.OrderEvent{
			Type:        "SETTLED",
			At:          o.now().UTC(),
			ActorUserID: &actor,
		})
		if err != nil {
			return err
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", ord.ID).
			Update("events", events).Error; err != nil {
			return err
		}
		ord.Events = events
		o.auditor.Write(tx, audit.Entry{
			Actor:      &actor,
			Action:     "SETTLED",
			EntityType: "order",
			EntityID:   ord.ID.String(),
			Metadata: map[string]any{
				"brandDebitPaise":  sp.BrandDebitPaise,
				"buyerPayoutPaise": sp.BuyerPayoutPaise,
				"commissionPaise":  sp.MediatorCommission,
				"marginPaise":      sp.MarginPaise,
			},
		})
		settled = ord
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.publish(settled, "ORDER_SETTLED")
	return settled, nil
}

// assertSettleable freezes the order as disputed when the buyer is not
// active or an open dispute ticket exists against it.
func (o *Orchestrator) assertSettleable(tx *gorm.DB, ord *models.Order) error {
	var buyer models.User
	if err := tx.Where("id = ?", ord.UserID).First(&buyer).Error; err != nil {
		return err
	}
	var openTickets int64
	if err := tx.Model(&models.Ticket{}).
		Where("order_id = ? AND status = ?", ord.ID, models.TicketOpen).
		Count(&openTickets).Error; err != nil {
		return err
	}
	if buyer.Status == models.UserActive && openTickets == 0 {
		return nil
	}
	// Persist the freeze outside the settle transaction so it survives
	// the rollback triggered by the fault below.
	now := o.now().UTC()
	if err := o.db.Model(&models.Order{}).Where("id = ?", ord.ID).
		Updates(map[string]any{
			"affiliate_status": models.AffiliateFrozenDisputed,
			"frozen":           true,
			"frozen_at":        now,
			"frozen_reason":    "settlement blocked by dispute or inactive buyer",
		}).Error; err != nil {
		return err
	}
	return fault.OrderFrozen()
}

// resolveSplit computes the money movement: the Deal row's commission
// wins, then the assignment override, then the item snapshot; an
// assignment payout override above the buyer payout becomes platform
// margin on the brand debit.
func (o *Orchestrator) resolveSplit(tx *gorm.DB, ord *models.Order) (*split, error) {
	items, err := models.DecodeItems(ord.Items)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fault.InvalidOrderID("order has no items")
	}
	item := items[0]

	c, err := o.campaigns.Get(tx, item.CampaignID)
	if err != nil {
		return nil, err
	}

	var mediator models.User
	if err := tx.Where("mediator_code = ? AND role = ?", ord.ManagerName, models.RoleMediator).
		First(&mediator).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.NotFound("managing mediator not found")
		}
		return nil, err
	}

	commission := item.CommissionPaise * item.Quantity
	brandPayout := c.PayoutPaise * item.Quantity
	buyerPayout := brandPayout

	var deal models.Deal
	if err := tx.Where("campaign_id = ? AND mediator_code = ?", c.ID, ord.ManagerName).
		First(&deal).Error; err == nil {
		commission = deal.CommissionPaise * item.Quantity
	} else if assignments, aerr := models.DecodeAssignments(c.Assignments); aerr == nil {
		if assigned, ok := assignments[ord.ManagerName]; ok {
			if assigned.CommissionPaise != nil {
				commission = *assigned.CommissionPaise * item.Quantity
			}
			if assigned.PayoutPaise != nil {
				brandPayout = *assigned.PayoutPaise * item.Quantity
			}
		}
	}
	if brandPayout < buyerPayout {
		brandPayout = buyerPayout
	}
	return &split{
		BuyerPayoutPaise:   buyerPayout,
		MediatorCommission: commission,
		MarginPaise:        brandPayout - buyerPayout,
		BrandDebitPaise:    commission + brandPayout,
		MediatorUserID:     mediator.ID,
		CampaignID:         c.ID,
	}, nil
}

// overPartnerCap re-checks the partner allocation at settle time against
// orders that already settled; the order in flight does not count against
// itself.
func (o *Orchestrator) overPartnerCap(tx *gorm.DB, ord *models.Order, campaignID uuid.UUID) (bool, error) {
	c, err := o.campaigns.Get(tx, campaignID)
	if err != nil {
		return false, err
	}
	assignments, err := models.DecodeAssignments(c.Assignments)
	if err != nil {
		return false, err
	}
	assigned, ok := assignments[ord.ManagerName]
	if !ok || assigned.Limit <= 0 {
		return false, nil
	}
	var settled int64
	err = tx.Model(&models.Order{}).
		Where("manager_name = ? AND affiliate_status = ? AND items LIKE ?",
			ord.ManagerName, models.AffiliateSettled, "%"+c.ID.String()+"%").
		Count(&settled).Error
	if err != nil {
		return false, err
	}
	return settled >= assigned.Limit, nil
}

// Unsettle reverses steps 2–4 with matching reversal transaction types.
// Cap_Exceeded stays sticky: unsettlement never clears the flag.
func (o *Orchestrator) Unsettle(orderID uuid.UUID, actor uuid.UUID) (*models.Order, error) {
	var reversed *models.Order
	err := o.db.Transaction(func(tx *gorm.DB) error {
		ord, err := o.engine.Get(tx, orderID)
		if err != nil {
			return err
		}
		if ord.AffiliateStatus != models.AffiliateSettled {
			return fault.OrderFinalized()
		}
		sp, err := o.resolveSplit(tx, ord)
		if err != nil {
			return err
		}

		if sp.BuyerPayoutPaise > 0 {
			if _, err := o.ledger.Debit(wallet.Input{
				IdempotencyKey: fmt.Sprintf("unsettle:%s:cashback", ord.ID),
				Type:           models.TxRefund,
				OwnerUserID:    ord.UserID,
				AmountPaise:    sp.BuyerPayoutPaise,
				ToUserID:       &ord.BrandUserID,
				OrderID:        &ord.ID,
				Tx:             tx,
			}); err != nil {
				return err
			}
		}
		if sp.MediatorCommission > 0 {
			if _, err := o.ledger.Debit(wallet.Input{
				IdempotencyKey: fmt.Sprintf("unsettle:%s:commission", ord.ID),
				Type:           models.TxCommissionRevert,
				OwnerUserID:    sp.MediatorUserID,
				AmountPaise:    sp.MediatorCommission,
				ToUserID:       &ord.BrandUserID,
				OrderID:        &ord.ID,
				Tx:             tx,
			}); err != nil {
				return err
			}
		}
		if _, err := o.ledger.Credit(wallet.Input{
			IdempotencyKey: fmt.Sprintf("unsettle:%s:brand_credit", ord.ID),
			Type:           models.TxMarginRevert,
			OwnerUserID:    ord.BrandUserID,
			AmountPaise:    sp.BrandDebitPaise,
			OrderID:        &ord.ID,
			Tx:             tx,
		}); err != nil {
			return err
		}

		events, err := models.AppendEvent(ord.Events, models.OrderEvent{
			Type:        "UNSETTLED",
			At:          o.now().UTC(),
			ActorUserID: &actor,
		})
		if err != nil {
			return err
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", ord.ID).
			Updates(map[string]any{
				"affiliate_status": models.AffiliatePendingCooling,
				"payment_status":   models.PaymentRefunded,
				"settlement_ref":   "",
				"events":           events,
				"updated_at":       o.now().UTC(),
			}).Error; err != nil {
			return err
		}
		ord.AffiliateStatus = models.AffiliatePendingCooling
		ord.PaymentStatus = models.PaymentRefunded
		ord.SettlementRef = ""
		ord.Events = events
		o.auditor.Write(tx, audit.Entry{
			Actor:      &actor,
			Action:     "UNSETTLED",
			EntityType: "order",
			EntityID:   ord.ID.String(),
		})
		reversed = ord
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.publish(reversed, "ORDER_UNSETTLED")
	return reversed, nil
}

// ReleaseSlot hands a rejected or failed order's campaign slot back.
// The workflow engine never releases slots itself.
func (o *Orchestrator) ReleaseSlot(orderID uuid.UUID, actor uuid.UUID) error {
	return o.db.Transaction(func(tx *gorm.DB) error {
		ord, err := o.engine.Get(tx, orderID)
		if err != nil {
			return err
		}
		if ord.WorkflowStatus != models.StateRejected && ord.WorkflowStatus != models.StateFailed {
			return fault.InvalidWorkflowState(string(ord.WorkflowStatus), string(models.StateRejected))
		}
		items, err := models.DecodeItems(ord.Items)
		if err != nil || len(items) == 0 {
			return fault.InvalidOrderID("order has no items")
		}
		if err := o.campaigns.ReleaseSlot(tx, items[0].CampaignID); err != nil {
			return err
		}
		o.auditor.Write(tx, audit.Entry{
			Actor:      &actor,
			Action:     "SLOT_RELEASED",
			EntityType: "order",
			EntityID:   ord.ID.String(),
			Metadata:   map[string]any{"campaignId": items[0].CampaignID.String()},
		})
		return nil
	})
}

// RequestPayout atomically composes the payout row, the wallet debit,
// and its ledger entry.
func (o *Orchestrator) RequestPayout(userID uuid.UUID, amountPaise int64, provider string) (*models.Payout, error) {
	if amountPaise <= 0 {
		return nil, fault.InvalidAmount("payout amount must be a positive integer in paise")
	}
	payout := &models.Payout{
		ID:          uuid.New(),
		UserID:      userID,
		AmountPaise: amountPaise,
		Status:      models.PayoutRequested,
		Provider:    provider,
		CreatedAt:   o.now().UTC(),
		UpdatedAt:   o.now().UTC(),
	}
	err := o.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(payout).Error; err != nil {
			return err
		}
		if _, err := o.ledger.Debit(wallet.Input{
			IdempotencyKey: fmt.Sprintf("payout:%s:request", payout.ID),
			Type:           models.TxPayoutRequest,
			OwnerUserID:    userID,
			AmountPaise:    amountPaise,
			PayoutID:       &payout.ID,
			Tx:             tx,
		}); err != nil {
			return err
		}
		o.auditor.Write(tx, audit.Entry{
			Actor:      &userID,
			Action:     "PAYOUT_REQUESTED",
			EntityType: "payout",
			EntityID:   payout.ID.String(),
			Metadata:   map[string]any{"amountPaise": amountPaise},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

// CompletePayout records a provider success callback.
func (o *Orchestrator) CompletePayout(payoutID uuid.UUID, providerRef string) (*models.Payout, error) {
	return o.resolvePayout(payoutID, func(tx *gorm.DB, p *models.Payout) error {
		p.Status = models.PayoutPaid
		p.ProviderRef = providerRef
		return nil
	})
}

// FailPayout records a provider failure and refunds the wallet.
func (o *Orchestrator) FailPayout(payoutID uuid.UUID, reason string) (*models.Payout, error) {
	return o.resolvePayout(payoutID, func(tx *gorm.DB, p *models.Payout) error {
		p.Status = models.PayoutFailed
		p.FailReason = reason
		_, err := o.ledger.Credit(wallet.Input{
			IdempotencyKey: fmt.Sprintf("payout:%s:refund", p.ID),
			Type:           models.TxPayoutFailed,
			OwnerUserID:    p.UserID,
			AmountPaise:    p.AmountPaise,
			PayoutID:       &p.ID,
			Tx:             tx,
		})
		return err
	})
}

func (o *Orchestrator) resolvePayout(payoutID uuid.UUID, mutate func(tx *gorm.DB, p *models.Payout) error) (*models.Payout, error) {
	var payout models.Payout
	err := o.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", payoutID).First(&payout).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fault.NotFound("payout not found")
			}
			return err
		}
		if payout.Status != models.PayoutRequested && payout.Status != models.PayoutProcessing {
			return fault.AlreadyRequested()
		}
		if err := mutate(tx, &payout); err != nil {
			return err
		}
		payout.UpdatedAt = o.now().UTC()
		return tx.Save(&payout).Error
	})
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func (o *Orchestrator) publish(ord *models.Order, eventType string) {
	if ord == nil {
		return
	}
	o.hub.Publish(realtime.Event{
		Type:    eventType,
		Payload: map[string]any{"orderId": ord.ID.String(), "affiliateStatus": ord.AffiliateStatus},
		Audience: realtime.Audience{
			UserIDs:       []string{ord.UserID.String(), ord.BrandUserID.String()},
			MediatorCodes: []string{ord.ManagerName},
			AgencyCodes:   []string{ord.AgencyName},
		},
	})
	o.sink.Emit(observability.Event{
		Domain:   observability.DomainBusiness,
		Category: observability.CategoryChange,
		Name:     eventType,
		UserID:   ord.UserID.String(),
		Metadata: map[string]any{"orderId": ord.ID.String(), "affiliateStatus": ord.AffiliateStatus},
	})
}
