package order

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chetanchaudhari789/MOBO-sub004/audit"
	"github.com/chetanchaudhari789/MOBO-sub004/campaign"
	"github.com/chetanchaudhari789/MOBO-sub004/fault"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
	"github.com/chetanchaudhari789/MOBO-sub004/observability"
	"github.com/chetanchaudhari789/MOBO-sub004/realtime"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

type engineFixture struct {
	db        *gorm.DB
	engine    *Engine
	campaigns *campaign.Service
	agency    *models.User
	mediator  *models.User
	buyer     *models.User
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	db := setupTestDB(t)
	logger := slog.Default()
	sink := observability.NewSink(observability.SinkConfig{Logger: logger})
	t.Cleanup(func() { sink.Close() })
	hub := realtime.NewHub()
	t.Cleanup(hub.Close)
	auditor := audit.NewWriter(db, logger)
	campaigns := campaign.New(db, auditor)
	engine := NewEngine(Config{
		DB:        db,
		Campaigns: campaigns,
		Auditor:   auditor,
		Sink:      sink,
		Hub:       hub,
	})

	f := &engineFixture{db: db, engine: engine, campaigns: campaigns}
	f.agency = f.seedUser(t, models.RoleAgency, "AG-1", "")
	f.mediator = f.seedUser(t, models.RoleMediator, "MD-1", "AG-1")
	f.buyer = f.seedUser(t, models.RoleBuyer, "", "MD-1")
	return f
}

func (f *engineFixture) seedUser(t *testing.T, role models.Role, mediatorCode, parentCode string) *models.User {
	t.Helper()
	user := models.User{
		ID:           uuid.New(),
		Name:         string(role) + " user",
		Mobile:       fmt.Sprintf("9%09d", time.Now().UnixNano()%1_000_000_000),
		Role:         role,
		Roles:        string(role),
		Status:       models.UserActive,
		MediatorCode: mediatorCode,
		ParentCode:   parentCode,
	}
	if err := f.db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return &user
}

func (f *engineFixture) seedCampaign(t *testing.T, dealType *models.DealType, slots int64) *models.Campaign {
	t.Helper()
	c, err := f.campaigns.Create(campaign.CreateInput{
		Title:       "Wireless Earbuds",
		BrandUserID: uuid.New(),
		ProductID:   "SKU-" + uuid.NewString()[:8],
		BrandName:   "Acme",
		Platform:    "amazon",
		PricePaise:  99900,
		PayoutPaise: 15000,
		DealType:    dealType,
		TotalSlots:  slots,
		Actor:       uuid.New(),
	})
	if err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	return c
}

func dealTypePtr(d models.DealType) *models.DealType { return &d }

func TestCreateClaimsSlotAndLandsOrdered(t *testing.T) {
	f := newEngineFixture(t)
	c := f.seedCampaign(t, nil, 5)

	ord, err := f.engine.Create(CreateInput{Buyer: f.buyer, CampaignID: c.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ord.WorkflowStatus != models.StateOrdered {
		t.Fatalf("expected ORDERED, got %s", ord.WorkflowStatus)
	}
	if ord.ManagerName != "MD-1" || ord.AgencyName != "AG-1" {
		t.Fatalf("lineage snapshot wrong: manager %q agency %q", ord.ManagerName, ord.AgencyName)
	}

	fresh, err := f.campaigns.Get(f.db, c.ID)
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if fresh.UsedSlots != 1 {
		t.Fatalf("expected 1 used slot, got %d", fresh.UsedSlots)
	}

	var auditRows int64
	f.db.Model(&models.AuditLog{}).
		Where("action = ? AND entity_id = ?", "ORDER_CREATED", ord.ID.String()).
		Count(&auditRows)
	if auditRows != 1 {
		t.Fatalf("expected exactly 1 ORDER_CREATED audit row, got %d", auditRows)
	}
}

func TestCreateSnapshotsDealCommission(t *testing.T) {
	f := newEngineFixture(t)
	c := f.seedCampaign(t, nil, 5)
	if _, err := f.campaigns.PublishDeal(c.ID, "MD-1", 5000, "electronics", uuid.New()); err != nil {
		t.Fatalf("publish deal: %v", err)
	}

	ord, err := f.engine.Create(CreateInput{Buyer: f.buyer, CampaignID: c.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	items, err := models.DecodeItems(ord.Items)
	if err != nil {
		t.Fatalf("decode items: %v", err)
	}
	if items[0].CommissionPaise != 5000 {
		t.Fatalf("expected snapshot commission 5000, got %d", items[0].CommissionPaise)
	}
}

func TestCreateRejectsDuplicateLiveOrder(t *testing.T) {
	f := newEngineFixture(t)
	c := f.seedCampaign(t, nil, 5)

	if _, err := f.engine.Create(CreateInput{Buyer: f.buyer, CampaignID: c.ID}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := f.engine.Create(CreateInput{Buyer: f.buyer, CampaignID: c.ID})
	if !fault.Is(err, "DUPLICATE_DEAL_ORDER") {
		t.Fatalf("expected DUPLICATE_DEAL_ORDER, got %v", err)
	}
}

func TestCreateRejectsDuplicateExternalOrderID(t *testing.T) {
	f := newEngineFixture(t)
	first := f.seedCampaign(t, nil, 5)
	second := f.seedCampaign(t, nil, 5)

	ext := "171-7777777-0000001"
	if _, err := f.engine.Create(CreateInput{Buyer: f.buyer, CampaignID: first.ID, ExternalOrderID: &ext}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := f.engine.Create(CreateInput{Buyer: f.buyer, CampaignID: second.ID, ExternalOrderID: &ext})
	if !fault.Is(err, "DUPLICATE_EXTERNAL_ORDER_ID") {
		t.Fatalf("expected DUPLICATE_EXTERNAL_ORDER_ID, got %v", err)
	}
}

func TestCreateVelocityLimit(t *testing.T) {
	f := newEngineFixture(t)
	c := f.seedCampaign(t, nil, 50)

	// Backfill the hourly window to the limit.
	now := time.Now().UTC()
	for i := 0; i < maxOrdersPerHour; i++ {
		row := models.Order{
			ID:             uuid.New(),
			UserID:         f.buyer.ID,
			WorkflowStatus: models.StateCompleted,
			Status:         models.OrderOrdered,
			CreatedAt:      now.Add(-time.Minute * time.Duration(i+1)),
		}
		if err := f.db.Create(&row).Error; err != nil {
			t.Fatalf("seed order %d: %v", i, err)
		}
	}

	_, err := f.engine.Create(CreateInput{Buyer: f.buyer, CampaignID: c.ID})
	if !fault.Is(err, "VELOCITY_LIMIT") {
		t.Fatalf("expected VELOCITY_LIMIT, got %v", err)
	}
}

func TestRedirectPreOrderClaimsSlotOnUpgrade(t *testing.T) {
	f := newEngineFixture(t)
	c := f.seedCampaign(t, nil, 5)

	pre, err := f.engine.Create(CreateInput{Buyer: f.buyer, CampaignID: c.ID, Redirect: true})
	if err != nil {
		t.Fatalf("redirect create: %v", err)
	}
	if pre.WorkflowStatus != models.StateRedirected {
		t.Fatalf("expected REDIRECTED, got %s", pre.WorkflowStatus)
	}
	fresh, _ := f.campaigns.Get(f.db, c.ID)
	if fresh.UsedSlots != 0 {
		t.Fatalf("redirect must not claim a slot, used %d", fresh.UsedSlots)
	}

	ext := "171-7777777-0000002"
	upgraded, err := f.engine.Create(CreateInput{
		Buyer:           f.buyer,
		PreOrderID:      &pre.ID,
		ExternalOrderID: &ext,
	})
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if upgraded.WorkflowStatus != models.StateOrdered {
		t.Fatalf("expected ORDERED after upgrade, got %s", upgraded.WorkflowStatus)
	}
	fresh, _ = f.campaigns.Get(f.db, c.ID)
	if fresh.UsedSlots != 1 {
		t.Fatalf("upgrade must claim exactly one slot, used %d", fresh.UsedSlots)
	}
}

func TestUpgradeRejectsForeignPreOrder(t *testing.T) {
	f := newEngineFixture(t)
	c := f.seedCampaign(t, nil, 5)
	other := f.seedUser(t, models.RoleBuyer, "", "MD-1")

	pre, err := f.engine.Create(CreateInput{Buyer: f.buyer, CampaignID: c.ID, Redirect: true})
	if err != nil {
		t.Fatalf("redirect create: %v", err)
	}
	_, err = f.engine.Create(CreateInput{Buyer: other, PreOrderID: &pre.ID})
	if !fault.Is(err, "FORBIDDEN") {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	f := newEngineFixture(t)
	c := f.seedCampaign(t, nil, 5)
	ord, err := f.engine.Create(CreateInput{Buyer: f.buyer, CampaignID: c.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = f.engine.Transition(TransitionInput{
		OrderID: ord.ID,
		From:    models.StateOrdered,
		To:      models.StateCompleted,
	})
	if !fault.Is(err, "INVALID_WORKFLOW_STATE") {
		t.Fatalf("expected INVALID_WORKFLOW_STATE, got %v", err)
	}

	// Stale From snapshot is also refused.
	_, err = f.engine.Transition(TransitionInput{
		OrderID: ord.ID,
		From:    models.StateCreated,
		To:      models.StateOrdered,
	})
	if !fault.Is(err, "INVALID_WORKFLOW_STATE") {
		t.Fatalf("expected INVALID_WORKFLOW_STATE on stale from, got %v", err)
	}
}

func TestFreezeBlocksWorkflow(t *testing.T) {
	f := newEngineFixture(t)
	c := f.seedCampaign(t, nil, 5)
	ord, err := f.engine.Create(CreateInput{Buyer: f.buyer, CampaignID: c.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.engine.Freeze(ord.ID, "manual dispute review", uuid.New()); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	_, err = f.engine.SubmitProof(SubmitProofInput{
		OrderID:   ord.ID,
		Actor:     f.buyer.ID,
		ProofType: models.ProofOrder,
		ImageRef:  "proofs/x/order",
		MimeType:  "image/jpeg",
	})
	if !fault.Is(err, "ORDER_FROZEN") {
		t.Fatalf("expected ORDER_FROZEN, got %v", err)
	}

	if _, err := f.engine.Reactivate(ord.ID, uuid.New()); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if _, err := f.engine.SubmitProof(SubmitProofInput{
		OrderID:   ord.ID,
		Actor:     f.buyer.ID,
		ProofType: models.ProofOrder,
		ImageRef:  "proofs/x/order",
		MimeType:  "image/jpeg",
	}); err != nil {
		t.Fatalf("submit after reactivate: %v", err)
	}
}

func TestProofGateOrdering(t *testing.T) {
	f := newEngineFixture(t)
	c := f.seedCampaign(t, dealTypePtr(models.DealRating), 5)
	ord, err := f.engine.Create(CreateInput{Buyer: f.buyer, CampaignID: c.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Rating before purchase verification is refused.
	_, err = f.engine.SubmitProof(SubmitProofInput{
		OrderID:   ord.ID,
		Actor:     f.buyer.ID,
		ProofType: models.ProofRating,
		ImageRef:  "proofs/x/rating",
		MimeType:  "image/jpeg",
	})
	if !fault.Is(err, "PURCHASE_NOT_VERIFIED") {
		t.Fatalf("expected PURCHASE_NOT_VERIFIED, got %v", err)
	}

	// A review proof is not part of a Rating deal at all.
	_, err = f.engine.SubmitProof(SubmitProofInput{
		OrderID:   ord.ID,
		Actor:     f.buyer.ID,
		ProofType: models.ProofReview,
		ImageRef:  "proofs/x/review",
		MimeType:  "image/jpeg",
	})
	if !fault.Is(err, "NOT_REQUIRED") {
		t.Fatalf("expected NOT_REQUIRED, got %v", err)
	}

	// Verify the order step, then return-window still needs the rating.
	if _, err := f.engine.SubmitProof(SubmitProofInput{
		OrderID:   ord.ID,
		Actor:     f.buyer.ID,
		ProofType: models.ProofOrder,
		ImageRef:  "proofs/x/order",
		MimeType:  "image/jpeg",
	}); err != nil {
		t.Fatalf("order proof: %v", err)
	}
	if _, err := f.engine.VerifyStep(ord.ID, models.ProofOrder, uuid.New()); err != nil {
		t.Fatalf("verify order step: %v", err)
	}
	_, err = f.engine.SubmitProof(SubmitProofInput{
		OrderID:   ord.ID,
		Actor:     f.buyer.ID,
		ProofType: models.ProofReturnWindow,
		ImageRef:  "proofs/x/returnwindow",
		MimeType:  "image/jpeg",
	})
	if !fault.Is(err, "RATING_NOT_VERIFIED") {
		t.Fatalf("expected RATING_NOT_VERIFIED, got %v", err)
	}
}

func TestAutoVerifyFinalizesOrder(t *testing.T) {
	f := newEngineFixture(t)
	c := f.seedCampaign(t, dealTypePtr(models.DealRating), 5)
	ord, err := f.engine.Create(CreateInput{Buyer: f.buyer, CampaignID: c.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	submit := func(p models.ProofType, score float64) (*models.Order, error) {
		return f.engine.SubmitProof(SubmitProofInput{
			OrderID:   ord.ID,
			Actor:     f.buyer.ID,
			ProofType: p,
			ImageRef:  "proofs/x/" + string(p),
			MimeType:  "image/jpeg",
			Report:    &models.AIReport{ProofType: p, ConfidenceScore: score, OrderIDMatch: true, AmountMatch: true},
		})
	}

	if _, err := submit(models.ProofOrder, 96); err != nil {
		t.Fatalf("order proof: %v", err)
	}
	if _, err := submit(models.ProofRating, 93); err != nil {
		t.Fatalf("rating proof: %v", err)
	}
	final, err := submit(models.ProofReturnWindow, 95)
	if err != nil {
		t.Fatalf("return window proof: %v", err)
	}
	if final.WorkflowStatus != models.StateApproved {
		t.Fatalf("expected APPROVED, got %s", final.WorkflowStatus)
	}
	if final.AffiliateStatus != models.AffiliatePendingCooling {
		t.Fatalf("expected Pending_Cooling, got %s", final.AffiliateStatus)
	}

	verification, err := models.DecodeVerification(final.Verification)
	if err != nil {
		t.Fatalf("decode verification: %v", err)
	}
	step := verification.Step(models.ProofOrder)
	if step == nil || step.VerifiedAt == nil || !step.AutoVerified || step.VerifiedBy != models.SystemAIActor {
		t.Fatalf("order step not auto-verified: %+v", step)
	}
}

func TestLowConfidenceReportStaysUnderReview(t *testing.T) {
	f := newEngineFixture(t)
	c := f.seedCampaign(t, nil, 5)
	ord, err := f.engine.Create(CreateInput{Buyer: f.buyer, CampaignID: c.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	after, err := f.engine.SubmitProof(SubmitProofInput{
		OrderID:   ord.ID,
		Actor:     f.buyer.ID,
		ProofType: models.ProofOrder,
		ImageRef:  "proofs/x/order",
		MimeType:  "image/jpeg",
		Report:    &models.AIReport{ProofType: models.ProofOrder, ConfidenceScore: 55, DiscrepancyNote: "amount partially obscured"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if after.WorkflowStatus != models.StateUnderReview {
		t.Fatalf("expected UNDER_REVIEW, got %s", after.WorkflowStatus)
	}
	verification, _ := models.DecodeVerification(after.Verification)
	if step := verification.Step(models.ProofOrder); step != nil && step.VerifiedAt != nil {
		t.Fatalf("low-confidence report must not auto-verify")
	}
}

func TestRejectLocksOrder(t *testing.T) {
	f := newEngineFixture(t)
	c := f.seedCampaign(t, nil, 5)
	ord, err := f.engine.Create(CreateInput{Buyer: f.buyer, CampaignID: c.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.SubmitProof(SubmitProofInput{
		OrderID:   ord.ID,
		Actor:     f.buyer.ID,
		ProofType: models.ProofOrder,
		ImageRef:  "proofs/x/order",
		MimeType:  "image/jpeg",
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	actor := uuid.New()
	rejected, err := f.engine.Reject(ord.ID, "fake_proof", "screenshot does not match the order", actor)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.WorkflowStatus != models.StateRejected {
		t.Fatalf("expected REJECTED, got %s", rejected.WorkflowStatus)
	}
	if rejected.AffiliateStatus != models.AffiliateRejected {
		t.Fatalf("expected affiliate Rejected, got %s", rejected.AffiliateStatus)
	}

	// The terminal affiliate label locks the order against further proof.
	_, err = f.engine.SubmitProof(SubmitProofInput{
		OrderID:   ord.ID,
		Actor:     f.buyer.ID,
		ProofType: models.ProofOrder,
		ImageRef:  "proofs/x/order",
		MimeType:  "image/jpeg",
	})
	if !fault.Is(err, "ORDER_FINALIZED") {
		t.Fatalf("expected ORDER_FINALIZED, got %v", err)
	}
}

func TestFraudRejectionFlagsOrder(t *testing.T) {
	f := newEngineFixture(t)
	c := f.seedCampaign(t, nil, 5)
	ord, err := f.engine.Create(CreateInput{Buyer: f.buyer, CampaignID: c.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.SubmitProof(SubmitProofInput{
		OrderID:   ord.ID,
		Actor:     f.buyer.ID,
		ProofType: models.ProofOrder,
		ImageRef:  "proofs/x/order",
		MimeType:  "image/jpeg",
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	actor := uuid.New()
	rejected, err := f.engine.Reject(ord.ID, "fraud", "reused screenshot across accounts", actor)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.AffiliateStatus != models.AffiliateFraudAlert {
		t.Fatalf("expected affiliate Fraud_Alert, got %s", rejected.AffiliateStatus)
	}

	_, err = f.engine.SubmitProof(SubmitProofInput{
		OrderID:   ord.ID,
		Actor:     f.buyer.ID,
		ProofType: models.ProofOrder,
		ImageRef:  "proofs/x/order",
		MimeType:  "image/jpeg",
	})
	if !fault.Is(err, "ORDER_FRAUD_FLAGGED") {
		t.Fatalf("expected ORDER_FRAUD_FLAGGED, got %v", err)
	}
}

func TestRequestMissingProofAppends(t *testing.T) {
	f := newEngineFixture(t)
	c := f.seedCampaign(t, nil, 5)
	ord, err := f.engine.Create(CreateInput{Buyer: f.buyer, CampaignID: c.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ops := uuid.New()
	after, err := f.engine.RequestMissingProof(ord.ID, models.ProofPayment, "UPI screenshot is cropped", ops)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	requests, err := models.DecodeMissingProofRequests(after.MissingProofRequests)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(requests) != 1 || requests[0].ProofType != models.ProofPayment || requests[0].RequestedBy != ops {
		t.Fatalf("unexpected requests: %+v", requests)
	}
}
