package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role enumerations for persistence.
type Role string

const (
	RoleBuyer    Role = "buyer"
	RoleMediator Role = "mediator"
	RoleAgency   Role = "agency"
	RoleBrand    Role = "brand"
	RoleAdmin    Role = "admin"
	RoleOps      Role = "ops"
)

// UserStatus tracks account liveness.
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
	UserPending   UserStatus = "pending"
)

// WorkflowStatus is the per-order state machine label.
type WorkflowStatus string

// All workflow states.
const (
	StateCreated        WorkflowStatus = "CREATED"
	StateRedirected     WorkflowStatus = "REDIRECTED"
	StateOrdered        WorkflowStatus = "ORDERED"
	StateProofSubmitted WorkflowStatus = "PROOF_SUBMITTED"
	StateUnderReview    WorkflowStatus = "UNDER_REVIEW"
	StateApproved       WorkflowStatus = "APPROVED"
	StateRejected       WorkflowStatus = "REJECTED"
	StateRewardPending  WorkflowStatus = "REWARD_PENDING"
	StateCompleted      WorkflowStatus = "COMPLETED"
	StateFailed         WorkflowStatus = "FAILED"
)

// OrderStatus mirrors the marketplace fulfilment state.
type OrderStatus string

const (
	OrderOrdered   OrderStatus = "Ordered"
	OrderShipped   OrderStatus = "Shipped"
	OrderDelivered OrderStatus = "Delivered"
	OrderCancelled OrderStatus = "Cancelled"
	OrderReturned  OrderStatus = "Returned"
)

// PaymentStatus tracks buyer-facing payment state.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "Pending"
	PaymentPaid     PaymentStatus = "Paid"
	PaymentRefunded PaymentStatus = "Refunded"
	PaymentFailed   PaymentStatus = "Failed"
)

// AffiliateStatus is the orthogonal finalization label.
type AffiliateStatus string

const (
	AffiliateUnchecked      AffiliateStatus = "Unchecked"
	AffiliatePendingCooling AffiliateStatus = "Pending_Cooling"
	AffiliateSettled        AffiliateStatus = "Approved_Settled"
	AffiliateRejected       AffiliateStatus = "Rejected"
	AffiliateFraudAlert     AffiliateStatus = "Fraud_Alert"
	AffiliateCapExceeded    AffiliateStatus = "Cap_Exceeded"
	AffiliateFrozenDisputed AffiliateStatus = "Frozen_Disputed"
)

// CampaignStatus tracks campaign availability.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// DealType selects the proof steps a deal requires.
type DealType string

const (
	DealDiscount DealType = "Discount"
	DealReview   DealType = "Review"
	DealRating   DealType = "Rating"
)

// TransactionType enumerates ledger entry kinds.
type TransactionType string

const (
	TxBrandDeposit      TransactionType = "brand_deposit"
	TxPlatformFee       TransactionType = "platform_fee"
	TxCommissionLock    TransactionType = "commission_lock"
	TxCommissionSettle  TransactionType = "commission_settle"
	TxCashbackLock      TransactionType = "cashback_lock"
	TxCashbackSettle    TransactionType = "cashback_settle"
	TxSettlementDebit   TransactionType = "order_settlement_debit"
	TxCommissionRevert  TransactionType = "commission_reversal"
	TxMarginRevert      TransactionType = "margin_reversal"
	TxAgencyPayout      TransactionType = "agency_payout"
	TxAgencyReceipt     TransactionType = "agency_receipt"
	TxAdminAdjust       TransactionType = "admin_adjustment"
	TxPayoutRequest     TransactionType = "payout_request"
	TxPayoutComplete    TransactionType = "payout_complete"
	TxPayoutFailed      TransactionType = "payout_failed"
	TxRefund            TransactionType = "refund"
)

// TransactionStatus tracks ledger entry resolution.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
	TxReversed  TransactionStatus = "reversed"
)

// InviteStatus tracks activation token lifecycle.
type InviteStatus string

const (
	InviteActive  InviteStatus = "active"
	InviteUsed    InviteStatus = "used"
	InviteRevoked InviteStatus = "revoked"
	InviteExpired InviteStatus = "expired"
)

// PayoutStatus tracks beneficiary disbursements.
type PayoutStatus string

const (
	PayoutRequested  PayoutStatus = "requested"
	PayoutProcessing PayoutStatus = "processing"
	PayoutPaid       PayoutStatus = "paid"
	PayoutFailed     PayoutStatus = "failed"
	PayoutCanceled   PayoutStatus = "canceled"
	PayoutRecorded   PayoutStatus = "recorded"
)

// SettlementMode selects how an approved order is paid out.
type SettlementMode string

const (
	SettleWallet   SettlementMode = "wallet"
	SettleExternal SettlementMode = "external"
)

// TicketStatus tracks support records.
type TicketStatus string

const (
	TicketOpen   TicketStatus = "open"
	TicketClosed TicketStatus = "closed"
)

// ConnectionStatus tracks brand-side agency requests.
type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionAccepted ConnectionStatus = "accepted"
	ConnectionRejected ConnectionStatus = "rejected"
)

// User is the actor record shared by all roles.
type User struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name                string     `gorm:"size:128" json:"name"`
	Role                Role       `gorm:"size:16;index" json:"role"`
	Roles               string     `gorm:"size:128" json:"roles"` // comma-joined multi-role set, always contains Role
	Status              UserStatus `gorm:"size:16;index" json:"status"`
	Mobile              string     `gorm:"size:10;uniqueIndex" json:"mobile"`
	Username            *string    `gorm:"size:64;uniqueIndex" json:"username,omitempty"`
	PasswordHash        string     `gorm:"size:128" json:"-"`
	MediatorCode        string     `gorm:"size:32;index" json:"mediatorCode,omitempty"`
	ParentCode          string     `gorm:"size:32;index" json:"parentCode,omitempty"`
	BrandCode           string     `gorm:"size:32;index" json:"brandCode,omitempty"`
	ConnectedAgencies   string     `gorm:"size:512" json:"connectedAgencies,omitempty"` // comma-joined agency codes
	KYCStatus           string     `gorm:"size:16" json:"kycStatus,omitempty"`
	UPIID               string     `gorm:"size:64" json:"upiId,omitempty"`
	BankAccount         string     `gorm:"size:64" json:"-"`
	BankIFSC            string     `gorm:"size:16" json:"-"`
	FailedLoginAttempts int        `json:"-"`
	LockoutUntil        *time.Time `json:"-"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`
}

// HasRole reports membership of the multi-role set.
func (u *User) HasRole(role Role) bool {
	if u.Role == role {
		return true
	}
	for _, entry := range strings.Split(u.Roles, ",") {
		if Role(strings.TrimSpace(entry)) == role {
			return true
		}
	}
	return false
}

// RoleList returns the multi-role set as a slice.
func (u *User) RoleList() []Role {
	seen := map[Role]struct{}{u.Role: {}}
	out := []Role{u.Role}
	for _, entry := range strings.Split(u.Roles, ",") {
		role := Role(strings.TrimSpace(entry))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

// Wallet holds one user's balances in paise.
type Wallet struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID    uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"ownerUserId"`
	AvailablePaise int64     `gorm:"not null;default:0" json:"availablePaise"`
	PendingPaise   int64     `gorm:"not null;default:0" json:"pendingPaise"`
	LockedPaise    int64     `gorm:"not null;default:0" json:"lockedPaise"`
	Version        int64     `gorm:"not null;default:0" json:"version"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// Transaction is an append-only ledger entry keyed by idempotency key.
type Transaction struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	IdempotencyKey string            `gorm:"size:160;uniqueIndex" json:"idempotencyKey"`
	Type           TransactionType   `gorm:"size:32;index" json:"type"`
	Status         TransactionStatus `gorm:"size:16;index" json:"status"`
	AmountPaise    int64             `gorm:"not null" json:"amountPaise"`
	WalletID       uuid.UUID         `gorm:"type:uuid;index" json:"walletId"`
	FromUserID     *uuid.UUID        `gorm:"type:uuid" json:"fromUserId,omitempty"`
	ToUserID       *uuid.UUID        `gorm:"type:uuid" json:"toUserId,omitempty"`
	OrderID        *uuid.UUID        `gorm:"type:uuid;index" json:"orderId,omitempty"`
	CampaignID     *uuid.UUID        `gorm:"type:uuid" json:"campaignId,omitempty"`
	PayoutID       *uuid.UUID        `gorm:"type:uuid" json:"payoutId,omitempty"`
	Metadata       json.RawMessage   `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// Campaign is purchasable inventory published by a brand.
type Campaign struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Title              string          `gorm:"size:256" json:"title"`
	BrandUserID        uuid.UUID       `gorm:"type:uuid;index:idx_campaign_brand,priority:2" json:"brandUserId"`
	ProductID          string          `gorm:"size:64;index" json:"productId"`
	BrandName          string          `gorm:"size:128" json:"brandName"`
	Platform           string          `gorm:"size:64" json:"platform"`
	ImageURL           string          `gorm:"size:512" json:"imageUrl,omitempty"`
	OriginalPricePaise int64           `json:"originalPricePaise"`
	PricePaise         int64           `json:"pricePaise"`
	PayoutPaise        int64           `json:"payoutPaise"`
	ReturnWindowDays   int             `gorm:"default:14" json:"returnWindowDays"`
	DealType           *DealType       `gorm:"size:16" json:"dealType,omitempty"`
	TotalSlots         int64           `gorm:"not null" json:"totalSlots"`
	UsedSlots          int64           `gorm:"not null;default:0" json:"usedSlots"`
	Status             CampaignStatus  `gorm:"size:16;index:idx_campaign_brand,priority:1" json:"status"`
	AllowedAgencyCodes string          `gorm:"size:512" json:"allowedAgencyCodes,omitempty"` // comma-joined
	Assignments        json.RawMessage `gorm:"type:jsonb" json:"assignments,omitempty"`
	Locked             bool            `json:"locked"`
	CreatedAt          time.Time       `gorm:"index:idx_campaign_brand,priority:3,sort:desc" json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
	DeletedAt          gorm.DeletedAt  `gorm:"index" json:"-"`
}

// Deal is a mediator-published view on a campaign, unique per mediator.
type Deal struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CampaignID      uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_deal_campaign_mediator" json:"campaignId"`
	MediatorCode    string    `gorm:"size:32;uniqueIndex:idx_deal_campaign_mediator" json:"mediatorCode"`
	Title           string    `gorm:"size:256" json:"title"`
	PricePaise      int64     `json:"pricePaise"`
	PayoutPaise     int64     `json:"payoutPaise"`
	CommissionPaise int64     `json:"commissionPaise"`
	Category        string    `gorm:"size:64" json:"category,omitempty"`
	Rating          float64   `json:"rating,omitempty"`
	Active          bool      `gorm:"index" json:"active"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// Order is a buyer's purchase attempt and its full verification trail.
type Order struct {
	ID                     uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID                 uuid.UUID       `gorm:"type:uuid;index:idx_order_user,priority:1" json:"userId"`
	BrandUserID            uuid.UUID       `gorm:"type:uuid;index:idx_order_brand,priority:1" json:"brandUserId"`
	Items                  json.RawMessage `gorm:"type:jsonb" json:"items"`
	TotalPaise             int64           `json:"totalPaise"`
	WorkflowStatus         WorkflowStatus  `gorm:"size:24;index:idx_order_brand,priority:2" json:"workflowStatus"`
	Status                 OrderStatus     `gorm:"size:16" json:"status"`
	PaymentStatus          PaymentStatus   `gorm:"size:16" json:"paymentStatus"`
	AffiliateStatus        AffiliateStatus `gorm:"size:24;index" json:"affiliateStatus"`
	Frozen                 bool            `json:"frozen"`
	FrozenAt               *time.Time      `json:"frozenAt,omitempty"`
	FrozenReason           string          `gorm:"size:256" json:"frozenReason,omitempty"`
	ReactivatedAt          *time.Time      `json:"reactivatedAt,omitempty"`
	ExternalOrderID        *string         `gorm:"size:64;uniqueIndex" json:"externalOrderId,omitempty"`
	Proofs                 json.RawMessage `gorm:"type:jsonb" json:"proofs,omitempty"`
	ReviewLink             string          `gorm:"size:512" json:"reviewLink,omitempty"`
	Verification           json.RawMessage `gorm:"type:jsonb" json:"verification,omitempty"`
	AIReports              json.RawMessage `gorm:"type:jsonb" json:"aiReports,omitempty"`
	Rejection              json.RawMessage `gorm:"type:jsonb" json:"rejection,omitempty"`
	MissingProofRequests   json.RawMessage `gorm:"type:jsonb" json:"missingProofRequests,omitempty"`
	Events                 json.RawMessage `gorm:"type:jsonb" json:"events,omitempty"`
	ManagerName            string          `gorm:"size:32;index:idx_order_manager,priority:1" json:"managerName"`
	AgencyName             string          `gorm:"size:32;index" json:"agencyName,omitempty"`
	BuyerName              string          `gorm:"size:128" json:"buyerName,omitempty"`
	BuyerMobile            string          `gorm:"size:10" json:"buyerMobile,omitempty"`
	ReviewerName           string          `gorm:"size:128" json:"reviewerName,omitempty"`
	BrandName              string          `gorm:"size:128" json:"brandName,omitempty"`
	SettlementMode         SettlementMode  `gorm:"size:16" json:"settlementMode,omitempty"`
	SettlementRef          string          `gorm:"size:128" json:"settlementRef,omitempty"`
	ExpectedSettlementDate *time.Time      `json:"expectedSettlementDate,omitempty"`
	CreatedAt              time.Time       `gorm:"index:idx_order_user,priority:2,sort:desc;index:idx_order_manager,priority:2,sort:desc" json:"createdAt"`
	UpdatedAt              time.Time       `json:"updatedAt"`
	DeletedAt              gorm.DeletedAt  `gorm:"index:idx_order_brand,priority:3;index" json:"-"`
}

// Invite is a single-shot or bounded-multi-use activation token.
type Invite struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Code         string          `gorm:"size:32;uniqueIndex" json:"code"`
	Role         Role            `gorm:"size:16" json:"role"`
	ParentCode   string          `gorm:"size:32" json:"parentCode,omitempty"`
	ParentUserID *uuid.UUID      `gorm:"type:uuid" json:"parentUserId,omitempty"`
	CreatedBy    uuid.UUID       `gorm:"type:uuid;index" json:"createdBy"`
	Status       InviteStatus    `gorm:"size:16;index" json:"status"`
	MaxUses      int             `gorm:"not null;default:1" json:"maxUses"`
	UseCount     int             `gorm:"not null;default:0" json:"useCount"`
	ExpiresAt    *time.Time      `json:"expiresAt,omitempty"`
	Uses         json.RawMessage `gorm:"type:jsonb" json:"uses,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Payout is a beneficiary disbursement request.
type Payout struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID       `gorm:"type:uuid;index" json:"userId"`
	AmountPaise int64           `gorm:"not null" json:"amountPaise"`
	Status      PayoutStatus    `gorm:"size:16;index" json:"status"`
	Provider    string          `gorm:"size:32;uniqueIndex:idx_payout_provider_ref" json:"provider,omitempty"`
	ProviderRef string          `gorm:"size:128;uniqueIndex:idx_payout_provider_ref" json:"providerRef,omitempty"`
	FailReason  string          `gorm:"size:256" json:"failReason,omitempty"`
	Metadata    json.RawMessage `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// PendingConnection is the brand-side inbox of requesting agencies.
type PendingConnection struct {
	ID          uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	BrandUserID uuid.UUID        `gorm:"type:uuid;uniqueIndex:idx_conn_brand_agency" json:"brandUserId"`
	AgencyCode  string           `gorm:"size:32;uniqueIndex:idx_conn_brand_agency" json:"agencyCode"`
	Status      ConnectionStatus `gorm:"size:16;index" json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// Ticket is a support record; open tickets against an order block settlement.
type Ticket struct {
	ID        uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID    `gorm:"type:uuid;index" json:"userId"`
	OrderID   *uuid.UUID   `gorm:"type:uuid;index" json:"orderId,omitempty"`
	Subject   string       `gorm:"size:256" json:"subject"`
	Body      string       `gorm:"type:text" json:"body,omitempty"`
	Status    TicketStatus `gorm:"size:16;index" json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Suspension records an administrative suspension decision.
type Suspension struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;index" json:"userId"`
	ActorID   uuid.UUID  `gorm:"type:uuid" json:"actorId"`
	Reason    string     `gorm:"size:512" json:"reason"`
	LiftedAt  *time.Time `json:"liftedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// AuditLog is the append-only audit trail.
type AuditLog struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ActorID    *uuid.UUID      `gorm:"type:uuid;index" json:"actorId,omitempty"`
	Action     string          `gorm:"size:64;index" json:"action"`
	EntityType string          `gorm:"size:32;index:idx_audit_entity,priority:1" json:"entityType"`
	EntityID   string          `gorm:"size:64;index:idx_audit_entity,priority:2" json:"entityId"`
	IP         string          `gorm:"size:64" json:"ip,omitempty"`
	UserAgent  string          `gorm:"size:256" json:"userAgent,omitempty"`
	Metadata   json.RawMessage `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt  time.Time       `gorm:"index:idx_audit_entity,priority:3,sort:desc" json:"createdAt"`
}

// SystemConfig is an admin-writable key/value record.
type SystemConfig struct {
	Key       string    `gorm:"primaryKey;size:64" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedBy uuid.UUID `gorm:"type:uuid" json:"updatedBy"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PushSubscription is a webpush endpoint per (user, app).
type PushSubscription struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_push_user_app" json:"userId"`
	App       string    `gorm:"size:32;uniqueIndex:idx_push_user_app" json:"app"`
	Endpoint  string    `gorm:"size:512" json:"endpoint"`
	Keys      json.RawMessage `gorm:"type:jsonb" json:"keys,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Wallet{},
		&Transaction{},
		&Campaign{},
		&Deal{},
		&Order{},
		&Invite{},
		&Payout{},
		&PendingConnection{},
		&Ticket{},
		&Suspension{},
		&AuditLog{},
		&SystemConfig{},
		&PushSubscription{},
	)
}

