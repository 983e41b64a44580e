package campaign

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chetanchaudhari789/MOBO-sub004/audit"
	"github.com/chetanchaudhari789/MOBO-sub004/fault"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
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

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	return New(db, audit.NewWriter(db, slog.Default())), db
}

func seedCampaign(t *testing.T, svc *Service, slots int64) *models.Campaign {
	t.Helper()
	c, err := svc.Create(CreateInput{
		Title:       "Steel Water Bottle",
		BrandUserID: uuid.New(),
		ProductID:   "SKU-1001",
		BrandName:   "Acme",
		Platform:    "amazon",
		PricePaise:  49900,
		PayoutPaise: 5000,
		TotalSlots:  slots,
		Actor:       uuid.New(),
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return c
}

func TestClaimSlotExhaustsAtTotal(t *testing.T) {
	svc, db := newTestService(t)
	c := seedCampaign(t, svc, 2)

	for i := 0; i < 2; i++ {
		if err := svc.ClaimSlot(db, c.ID); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
	}
	if err := svc.ClaimSlot(db, c.ID); !fault.Is(err, "SOLD_OUT") {
		t.Fatalf("expected SOLD_OUT, got %v", err)
	}

	fresh, err := svc.Get(db, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fresh.UsedSlots != 2 {
		t.Fatalf("expected used slots 2, got %d", fresh.UsedSlots)
	}
}

func TestConcurrentClaimsNeverOversell(t *testing.T) {
	svc, db := newTestService(t)
	c := seedCampaign(t, svc, 3)

	const attempts = 10
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.ClaimSlot(db, c.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		}
	}
	if succeeded > 3 {
		t.Fatalf("oversold: %d claims on 3 slots", succeeded)
	}
	fresh, err := svc.Get(db, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fresh.UsedSlots > fresh.TotalSlots {
		t.Fatalf("used %d exceeds total %d", fresh.UsedSlots, fresh.TotalSlots)
	}
	if fresh.UsedSlots != int64(succeeded) {
		t.Fatalf("used %d does not match %d successful claims", fresh.UsedSlots, succeeded)
	}
}

func TestReleaseSlotFloorsAtZero(t *testing.T) {
	svc, db := newTestService(t)
	c := seedCampaign(t, svc, 2)

	if err := svc.ClaimSlot(db, c.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := svc.ReleaseSlot(db, c.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := svc.ReleaseSlot(db, c.ID); err != nil {
		t.Fatalf("release at zero: %v", err)
	}
	fresh, _ := svc.Get(db, c.ID)
	if fresh.UsedSlots != 0 {
		t.Fatalf("expected used slots 0, got %d", fresh.UsedSlots)
	}
}

func TestPartnerCapBlocksAtLimit(t *testing.T) {
	svc, db := newTestService(t)
	c := seedCampaign(t, svc, 10)

	updated, err := svc.Assign(c.ID, "MD-1", models.Assignment{Limit: 1}, uuid.New())
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	// One live order by the mediator on this campaign hits the cap.
	items, _ := json.Marshal([]models.OrderItem{{ProductID: c.ProductID, CampaignID: c.ID, Quantity: 1}})
	order := models.Order{
		ID:             uuid.New(),
		Status:         models.OrderOrdered,
		WorkflowStatus: models.StateOrdered,
		ManagerName:    "MD-1",
		Items:          items,
	}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}

	err = svc.CheckPartnerCap(db, updated, "MD-1")
	if !fault.Is(err, "SOLD_OUT_FOR_PARTNER") {
		t.Fatalf("expected SOLD_OUT_FOR_PARTNER, got %v", err)
	}
	// Unassigned partners stay unconstrained.
	if err := svc.CheckPartnerCap(db, updated, "MD-2"); err != nil {
		t.Fatalf("unassigned partner should pass: %v", err)
	}
}

func TestAssignRejectsLockedCampaign(t *testing.T) {
	svc, db := newTestService(t)
	c := seedCampaign(t, svc, 5)

	if err := db.Model(&models.Campaign{}).Where("id = ?", c.ID).Update("locked", true).Error; err != nil {
		t.Fatalf("lock: %v", err)
	}
	_, err := svc.Assign(c.ID, "MD-1", models.Assignment{Limit: 2}, uuid.New())
	if !fault.Is(err, "FORBIDDEN") {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func TestPublishDealUpsertsPerMediator(t *testing.T) {
	svc, db := newTestService(t)
	c := seedCampaign(t, svc, 5)

	first, err := svc.PublishDeal(c.ID, "MD-1", 4000, "kitchen", uuid.New())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	second, err := svc.PublishDeal(c.ID, "MD-1", 6000, "kitchen", uuid.New())
	if err != nil {
		t.Fatalf("republish: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("republish created a new deal")
	}
	if second.CommissionPaise != 6000 {
		t.Fatalf("expected refreshed commission 6000, got %d", second.CommissionPaise)
	}
	var count int64
	db.Model(&models.Deal{}).Where("campaign_id = ?", c.ID).Count(&count)
	if count != 1 {
		t.Fatalf("expected 1 deal row, got %d", count)
	}
}

func TestConnectionLifecycle(t *testing.T) {
	svc, db := newTestService(t)
	brand := models.User{
		ID:     uuid.New(),
		Name:   "Acme",
		Mobile: "9000000100",
		Role:   models.RoleBrand,
		Roles:  string(models.RoleBrand),
		Status: models.UserActive,
	}
	if err := db.Create(&brand).Error; err != nil {
		t.Fatalf("seed brand: %v", err)
	}

	conn, err := svc.RequestConnection(brand.ID, "AG-1", uuid.New())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.RequestConnection(brand.ID, "AG-1", uuid.New()); !fault.Is(err, "ALREADY_REQUESTED") {
		t.Fatalf("expected ALREADY_REQUESTED on pending duplicate, got %v", err)
	}
	if err := svc.ResolveConnection(conn.ID, true, uuid.New()); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var fresh models.User
	if err := db.Where("id = ?", brand.ID).First(&fresh).Error; err != nil {
		t.Fatalf("reload brand: %v", err)
	}
	if fresh.ConnectedAgencies != "AG-1" {
		t.Fatalf("expected connected agencies AG-1, got %q", fresh.ConnectedAgencies)
	}
	if err := svc.ResolveConnection(conn.ID, true, uuid.New()); !fault.Is(err, "ALREADY_REQUESTED") {
		t.Fatalf("expected ALREADY_REQUESTED on resolved connection, got %v", err)
	}
}
