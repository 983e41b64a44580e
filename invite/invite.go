// Package invite resolves activation tokens. Consumption is a single
// predicate-guarded update so concurrent consumers can never exceed the
// invite's use budget.
package invite

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chetanchaudhari789/MOBO-sub004/audit"
	"github.com/chetanchaudhari789/MOBO-sub004/fault"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
)

// Resolver validates, consumes, and revokes invites.
type Resolver struct {
	db      *gorm.DB
	auditor *audit.Writer
	now     func() time.Time
}

// New constructs a resolver.
func New(db *gorm.DB, auditor *audit.Writer) *Resolver {
	return &Resolver{db: db, auditor: auditor, now: time.Now}
}

// SetNowFunc overrides the time source for tests.
func (r *Resolver) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	r.now = now
}

// ConsumeInput parameterises one consumption attempt.
type ConsumeInput struct {
	Code                string
	Role                models.Role
	UsedByUserID        uuid.UUID
	RequireActiveIssuer bool
	Tx                  *gorm.DB
}

// Consume validates the invite chain and atomically burns one use.
func (r *Resolver) Consume(in ConsumeInput) (*models.Invite, error) {
	db := in.Tx
	if db == nil {
		db = r.db
	}
	now := r.now().UTC()

	var inv models.Invite
	if err := db.Where("code = ?", in.Code).First(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.InvalidInvite()
		}
		return nil, err
	}
	if inv.Role != in.Role {
		return nil, fault.InviteRoleMismatch()
	}
	if inv.Status != models.InviteActive {
		return nil, fault.InvalidInvite()
	}
	if inv.ExpiresAt != nil && !inv.ExpiresAt.After(now) {
		// Persist expiry outside the caller's transaction so the state
		// survives even when the enclosing registration rolls back.
		r.db.Model(&models.Invite{}).
			Where("id = ? AND status = ?", inv.ID, models.InviteActive).
			Update("status", models.InviteExpired)
		return nil, fault.InviteExpired()
	}
	if inv.UseCount >= inv.MaxUses {
		return nil, fault.InvalidInvite()
	}
	if in.RequireActiveIssuer {
		if err := r.checkLineage(db, &inv); err != nil {
			return nil, err
		}
	}

	// The exhaustion decision lives in the guarded UPDATE itself: CASE
	// reads the row's current use_count under the row lock, so two
	// consumers racing on a multi-use invite cannot both leave it
	// active. The use log is then appended from the post-burn row while
	// the lock is still held, so no consumer's entry is lost.
	burn := func(tx *gorm.DB) error {
		res := tx.Model(&models.Invite{}).
			Where("id = ? AND status = ? AND use_count < max_uses AND (expires_at IS NULL OR expires_at > ?)",
				inv.ID, models.InviteActive, now).
			Updates(map[string]any{
				"use_count":  gorm.Expr("use_count + 1"),
				"status":     gorm.Expr("CASE WHEN use_count + 1 >= max_uses THEN ? ELSE status END", models.InviteUsed),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// A concurrent consumer won the guarded update.
			return fault.InvalidInvite()
		}

		if err := tx.Where("id = ?", inv.ID).First(&inv).Error; err != nil {
			return err
		}
		uses, err := models.DecodeUses(inv.Uses)
		if err != nil {
			return fmt.Errorf("invite: decode uses: %w", err)
		}
		uses = append(uses, models.InviteUse{UsedBy: in.UsedByUserID, UsedAt: now})
		encodedUses, err := json.Marshal(uses)
		if err != nil {
			return fmt.Errorf("invite: encode uses: %w", err)
		}
		if err := tx.Model(&models.Invite{}).Where("id = ?", inv.ID).
			Update("uses", encodedUses).Error; err != nil {
			return err
		}
		inv.Uses = encodedUses
		return nil
	}
	if in.Tx != nil {
		if err := burn(in.Tx); err != nil {
			return nil, err
		}
	} else if err := r.db.Transaction(burn); err != nil {
		return nil, err
	}
	actor := in.UsedByUserID
	r.auditor.Write(in.Tx, audit.Entry{
		Actor:      &actor,
		Action:     "invite.consumed",
		EntityType: "invite",
		EntityID:   inv.Code,
		Metadata:   map[string]any{"useCount": inv.UseCount, "maxUses": inv.MaxUses},
	})
	return &inv, nil
}

// checkLineage asserts the issuing chain is live: the creator must be
// active, and the parent chain must resolve to active partners all the
// way up to the agency.
func (r *Resolver) checkLineage(db *gorm.DB, inv *models.Invite) error {
	var creator models.User
	if err := db.Where("id = ?", inv.CreatedBy).First(&creator).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fault.InviteParentNotActive()
		}
		return err
	}
	if creator.Status != models.UserActive {
		return fault.InviteParentNotActive()
	}

	switch inv.Role {
	case models.RoleBuyer:
		mediator, err := r.activePartner(db, inv.ParentCode, models.RoleMediator)
		if err != nil {
			return err
		}
		if _, err := r.activePartner(db, mediator.ParentCode, models.RoleAgency); err != nil {
			return fault.InviteUpstreamNotActive()
		}
	case models.RoleMediator:
		if _, err := r.activePartner(db, inv.ParentCode, models.RoleAgency); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) activePartner(db *gorm.DB, code string, role models.Role) (*models.User, error) {
	if code == "" {
		return nil, fault.InviteParentNotActive()
	}
	var partner models.User
	err := db.Where("mediator_code = ? AND role = ?", code, role).First(&partner).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.InviteParentNotActive()
		}
		return nil, err
	}
	if partner.Status != models.UserActive {
		return nil, fault.InviteParentNotActive()
	}
	return &partner, nil
}

// Revoke marks an active invite revoked.
func (r *Resolver) Revoke(code string, actor uuid.UUID) error {
	res := r.db.Model(&models.Invite{}).
		Where("code = ? AND status = ?", code, models.InviteActive).
		Updates(map[string]any{"status": models.InviteRevoked, "updated_at": r.now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fault.InviteNotActive()
	}
	r.auditor.Write(nil, audit.Entry{
		Actor:      &actor,
		Action:     "invite.revoked",
		EntityType: "invite",
		EntityID:   code,
	})
	return nil
}

// CreateInput parameterises a new invite.
type CreateInput struct {
	Role         models.Role
	ParentCode   string
	ParentUserID *uuid.UUID
	CreatedBy    uuid.UUID
	MaxUses      int
	ExpiresAt    *time.Time
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Create issues a new invite with a unique short code.
func (r *Resolver) Create(in CreateInput) (*models.Invite, error) {
	if in.MaxUses <= 0 {
		in.MaxUses = 1
	}
	for attempt := 0; attempt < 5; attempt++ {
		code, err := randomCode(8)
		if err != nil {
			return nil, fault.CodeGenerationFailed()
		}
		inv := models.Invite{
			ID:           uuid.New(),
			Code:         code,
			Role:         in.Role,
			ParentCode:   in.ParentCode,
			ParentUserID: in.ParentUserID,
			CreatedBy:    in.CreatedBy,
			Status:       models.InviteActive,
			MaxUses:      in.MaxUses,
			ExpiresAt:    in.ExpiresAt,
			CreatedAt:    r.now().UTC(),
			UpdatedAt:    r.now().UTC(),
		}
		if err := r.db.Create(&inv).Error; err != nil {
			continue // code collision; retry with a fresh one
		}
		return &inv, nil
	}
	return nil, fault.CodeGenerationFailed()
}

func randomCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}
