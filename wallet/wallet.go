// Package wallet is the double-entry-style monetary subsystem. Balances
// are strict integers in paise, mutations are single conditional SQL
// updates, and every mutation is keyed by a caller-supplied idempotency
// key so replays are safe.
package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chetanchaudhari789/MOBO-sub004/audit"
	"github.com/chetanchaudhari789/MOBO-sub004/fault"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
	"github.com/chetanchaudhari789/MOBO-sub004/observability"
)

// Ledger applies idempotent credits and debits against user wallets.
type Ledger struct {
	db       *gorm.DB
	auditor  *audit.Writer
	sink     *observability.Sink
	maxPaise int64
	now      func() time.Time
}

// New constructs a ledger. maxPaise is the wallet balance ceiling.
func New(db *gorm.DB, auditor *audit.Writer, sink *observability.Sink, maxPaise int64) *Ledger {
	return &Ledger{db: db, auditor: auditor, sink: sink, maxPaise: maxPaise, now: time.Now}
}

// SetNowFunc overrides the time source; tests use this for determinism.
func (l *Ledger) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	l.now = now
}

// Input describes one credit or debit.
type Input struct {
	IdempotencyKey string
	Type           models.TransactionType
	OwnerUserID    uuid.UUID
	AmountPaise    int64
	FromUserID     *uuid.UUID
	ToUserID       *uuid.UUID
	OrderID        *uuid.UUID
	CampaignID     *uuid.UUID
	PayoutID       *uuid.UUID
	Metadata       map[string]any
	Tx             *gorm.DB
}

func (in *Input) validate() error {
	if in.IdempotencyKey == "" {
		return fmt.Errorf("wallet: idempotency key required")
	}
	if in.AmountPaise <= 0 {
		return fault.InvalidAmount("amount must be a positive integer in paise")
	}
	return nil
}

// EnsureWallet upserts a zero-balance wallet for the user. A concurrent
// first creation loses the unique-index race and re-reads the winner.
func (l *Ledger) EnsureWallet(userID uuid.UUID) (*models.Wallet, error) {
	var existing models.Wallet
	err := l.db.Where("owner_user_id = ?", userID).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	row := models.Wallet{
		ID:          uuid.New(),
		OwnerUserID: userID,
		CreatedAt:   l.now().UTC(),
		UpdatedAt:   l.now().UTC(),
	}
	if err := l.db.Create(&row).Error; err != nil {
		// Lost the creation race; the winning row must exist now.
		if readErr := l.db.Where("owner_user_id = ?", userID).First(&existing).Error; readErr == nil {
			return &existing, nil
		}
		return nil, err
	}
	return &row, nil
}

// Credit atomically increments the wallet balance iff the ceiling holds.
func (l *Ledger) Credit(in Input) (*models.Transaction, error) {
	return l.apply(in, true)
}

// Debit atomically decrements the wallet balance iff funds suffice.
func (l *Ledger) Debit(in Input) (*models.Transaction, error) {
	return l.apply(in, false)
}

func (l *Ledger) apply(in Input, credit bool) (*models.Transaction, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var result *models.Transaction
	run := func(tx *gorm.DB) error {
		// Idempotency: a prior entry under the same key wins unchanged.
		var prior models.Transaction
		err := tx.Where("idempotency_key = ?", in.IdempotencyKey).First(&prior).Error
		if err == nil {
			result = &prior
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		guarded := tx.Model(&models.Wallet{}).
			Where("owner_user_id = ?", in.OwnerUserID)
		if credit {
			guarded = guarded.Where("available_paise <= ?", l.maxPaise-in.AmountPaise)
		} else {
			guarded = guarded.Where("available_paise >= ?", in.AmountPaise)
		}
		delta := in.AmountPaise
		if !credit {
			delta = -delta
		}
		res := guarded.Updates(map[string]any{
			"available_paise": gorm.Expr("available_paise + ?", delta),
			"version":         gorm.Expr("version + 1"),
			"updated_at":      l.now().UTC(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return l.classifyGuardMiss(tx, in, credit)
		}

		var wallet models.Wallet
		if err := tx.Where("owner_user_id = ?", in.OwnerUserID).First(&wallet).Error; err != nil {
			return err
		}

		entry, err := l.newEntry(in, wallet.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(entry).Error; err != nil {
			// A concurrent replay may have inserted the key after our
			// lookup; surfacing that as a conflict keeps the tx atomic.
			return err
		}
		result = entry

		l.auditor.Write(tx, audit.Entry{
			Actor:      actorFor(in),
			Action:     "wallet." + string(in.Type),
			EntityType: "wallet",
			EntityID:   wallet.ID.String(),
			Metadata: map[string]any{
				"amountPaise":    in.AmountPaise,
				"credit":         credit,
				"idempotencyKey": in.IdempotencyKey,
			},
		})
		return nil
	}

	var err error
	if in.Tx != nil {
		err = run(in.Tx)
	} else {
		err = l.db.Transaction(run)
	}
	if err != nil {
		return nil, err
	}

	if result != nil {
		l.sink.Emit(observability.Event{
			Domain:   observability.DomainBusiness,
			Category: observability.CategoryChange,
			Name:     "WALLET_" + string(in.Type),
			UserID:   in.OwnerUserID.String(),
			Metadata: map[string]any{"amountPaise": in.AmountPaise, "transactionId": result.ID.String()},
		})
	}
	return result, nil
}

// classifyGuardMiss decides which fault a zero-row conditional update
// means: the wallet may be missing, soft-deleted, or merely out of range.
func (l *Ledger) classifyGuardMiss(tx *gorm.DB, in Input, credit bool) error {
	var wallet models.Wallet
	err := tx.Unscoped().Where("owner_user_id = ?", in.OwnerUserID).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fault.WalletNotFound()
	}
	if err != nil {
		return err
	}
	if wallet.DeletedAt.Valid {
		return fault.WalletDeleted()
	}
	if credit {
		return fault.BalanceLimitExceeded()
	}
	return fault.InsufficientFunds()
}

func (l *Ledger) newEntry(in Input, walletID uuid.UUID) (*models.Transaction, error) {
	var metadata json.RawMessage
	if len(in.Metadata) > 0 {
		encoded, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, fmt.Errorf("wallet: encode metadata: %w", err)
		}
		metadata = encoded
	}
	return &models.Transaction{
		ID:             uuid.New(),
		IdempotencyKey: in.IdempotencyKey,
		Type:           in.Type,
		Status:         models.TxCompleted,
		AmountPaise:    in.AmountPaise,
		WalletID:       walletID,
		FromUserID:     in.FromUserID,
		ToUserID:       in.ToUserID,
		OrderID:        in.OrderID,
		CampaignID:     in.CampaignID,
		PayoutID:       in.PayoutID,
		Metadata:       metadata,
		CreatedAt:      l.now().UTC(),
	}, nil
}

func actorFor(in Input) *uuid.UUID {
	if in.FromUserID != nil {
		return in.FromUserID
	}
	if in.ToUserID != nil {
		return in.ToUserID
	}
	owner := in.OwnerUserID
	return &owner
}

// Balance reads the current wallet row for a user.
func (l *Ledger) Balance(userID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := l.db.Where("owner_user_id = ?", userID).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.WalletNotFound()
		}
		return nil, err
	}
	return &wallet, nil
}
