package wallet

import (
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
	"github.com/chetanchaudhari789/MOBO-sub004/observability"
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

func newTestLedger(t *testing.T, maxPaise int64) (*Ledger, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	logger := slog.Default()
	sink := observability.NewSink(observability.SinkConfig{Logger: logger})
	t.Cleanup(func() { sink.Close() })
	return New(db, audit.NewWriter(db, logger), sink, maxPaise), db
}

func newFundedOwner(t *testing.T, ledger *Ledger) uuid.UUID {
	t.Helper()
	owner := uuid.New()
	if _, err := ledger.EnsureWallet(owner); err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}
	return owner
}

func TestCreditDebitRoundTrip(t *testing.T) {
	ledger, _ := newTestLedger(t, 10_000_000)
	owner := newFundedOwner(t, ledger)

	if _, err := ledger.Credit(Input{
		IdempotencyKey: "c1",
		Type:           models.TxBrandDeposit,
		OwnerUserID:    owner,
		AmountPaise:    50_000,
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := ledger.Debit(Input{
		IdempotencyKey: "d1",
		Type:           models.TxPayoutRequest,
		OwnerUserID:    owner,
		AmountPaise:    20_000,
	}); err != nil {
		t.Fatalf("debit: %v", err)
	}
	wallet, err := ledger.Balance(owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if wallet.AvailablePaise != 30_000 {
		t.Fatalf("expected balance 30000, got %d", wallet.AvailablePaise)
	}
}

func TestIdempotentReplayReturnsSameEntry(t *testing.T) {
	ledger, db := newTestLedger(t, 10_000_000)
	owner := newFundedOwner(t, ledger)

	first, err := ledger.Credit(Input{
		IdempotencyKey: "replay",
		Type:           models.TxBrandDeposit,
		OwnerUserID:    owner,
		AmountPaise:    10_000,
	})
	if err != nil {
		t.Fatalf("first credit: %v", err)
	}
	second, err := ledger.Credit(Input{
		IdempotencyKey: "replay",
		Type:           models.TxBrandDeposit,
		OwnerUserID:    owner,
		AmountPaise:    10_000,
	})
	if err != nil {
		t.Fatalf("replay credit: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("replay created a new ledger entry: %s vs %s", first.ID, second.ID)
	}
	wallet, err := ledger.Balance(owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if wallet.AvailablePaise != 10_000 {
		t.Fatalf("replay moved money twice: balance %d", wallet.AvailablePaise)
	}
	var count int64
	if err := db.Model(&models.Transaction{}).Where("idempotency_key = ?", "replay").Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 transaction row, got %d", count)
	}
}

func TestDebitInsufficientFunds(t *testing.T) {
	ledger, _ := newTestLedger(t, 10_000_000)
	owner := newFundedOwner(t, ledger)
	if _, err := ledger.Credit(Input{
		IdempotencyKey: "seed",
		Type:           models.TxBrandDeposit,
		OwnerUserID:    owner,
		AmountPaise:    5_000,
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	_, err := ledger.Debit(Input{
		IdempotencyKey: "over",
		Type:           models.TxPayoutRequest,
		OwnerUserID:    owner,
		AmountPaise:    5_001,
	})
	if !fault.Is(err, "INSUFFICIENT_FUNDS") {
		t.Fatalf("expected INSUFFICIENT_FUNDS, got %v", err)
	}
	wallet, _ := ledger.Balance(owner)
	if wallet.AvailablePaise != 5_000 {
		t.Fatalf("failed debit mutated balance: %d", wallet.AvailablePaise)
	}
}

func TestCreditCeiling(t *testing.T) {
	ledger, _ := newTestLedger(t, 10_000)
	owner := newFundedOwner(t, ledger)
	if _, err := ledger.Credit(Input{
		IdempotencyKey: "fill",
		Type:           models.TxBrandDeposit,
		OwnerUserID:    owner,
		AmountPaise:    9_000,
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	_, err := ledger.Credit(Input{
		IdempotencyKey: "spill",
		Type:           models.TxBrandDeposit,
		OwnerUserID:    owner,
		AmountPaise:    1_001,
	})
	if !fault.Is(err, "BALANCE_LIMIT_EXCEEDED") {
		t.Fatalf("expected BALANCE_LIMIT_EXCEEDED, got %v", err)
	}
}

func TestDebitMissingWallet(t *testing.T) {
	ledger, _ := newTestLedger(t, 10_000_000)
	_, err := ledger.Debit(Input{
		IdempotencyKey: "ghost",
		Type:           models.TxPayoutRequest,
		OwnerUserID:    uuid.New(),
		AmountPaise:    100,
	})
	if !fault.Is(err, "WALLET_NOT_FOUND") {
		t.Fatalf("expected WALLET_NOT_FOUND, got %v", err)
	}
}

func TestRejectsNonPositiveAmount(t *testing.T) {
	ledger, _ := newTestLedger(t, 10_000_000)
	_, err := ledger.Credit(Input{
		IdempotencyKey: "zero",
		Type:           models.TxBrandDeposit,
		OwnerUserID:    uuid.New(),
		AmountPaise:    0,
	})
	if !fault.Is(err, "INVALID_AMOUNT") {
		t.Fatalf("expected INVALID_AMOUNT, got %v", err)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ledger, _ := newTestLedger(t, 10_000_000)
	owner := newFundedOwner(t, ledger)
	if _, err := ledger.Credit(Input{
		IdempotencyKey: "seed",
		Type:           models.TxBrandDeposit,
		OwnerUserID:    owner,
		AmountPaise:    10_000,
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = ledger.Debit(Input{
				IdempotencyKey: fmt.Sprintf("race-%d", i),
				Type:           models.TxPayoutRequest,
				OwnerUserID:    owner,
				AmountPaise:    3_000,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if !fault.Is(err, "INSUFFICIENT_FUNDS") {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded > 3 {
		t.Fatalf("overdrew wallet: %d debits of 3000 from 10000", succeeded)
	}
	wallet, _ := ledger.Balance(owner)
	if wallet.AvailablePaise != 10_000-int64(succeeded)*3_000 {
		t.Fatalf("balance %d does not match %d successful debits", wallet.AvailablePaise, succeeded)
	}
	if wallet.AvailablePaise < 0 {
		t.Fatalf("negative balance: %d", wallet.AvailablePaise)
	}
}

func TestDeletedWalletRefusesMovement(t *testing.T) {
	ledger, db := newTestLedger(t, 10_000_000)
	owner := newFundedOwner(t, ledger)

	if _, err := ledger.Credit(Input{
		IdempotencyKey: "c1",
		Type:           models.TxBrandDeposit,
		OwnerUserID:    owner,
		AmountPaise:    10_000,
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := db.Delete(&models.Wallet{}, "owner_user_id = ?", owner).Error; err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	_, err := ledger.Credit(Input{
		IdempotencyKey: "c2",
		Type:           models.TxBrandDeposit,
		OwnerUserID:    owner,
		AmountPaise:    1_000,
	})
	if !fault.Is(err, "WALLET_DELETED") {
		t.Fatalf("expected WALLET_DELETED on credit, got %v", err)
	}
	_, err = ledger.Debit(Input{
		IdempotencyKey: "d1",
		Type:           models.TxPayoutRequest,
		OwnerUserID:    owner,
		AmountPaise:    1_000,
	})
	if !fault.Is(err, "WALLET_DELETED") {
		t.Fatalf("expected WALLET_DELETED on debit, got %v", err)
	}
}
