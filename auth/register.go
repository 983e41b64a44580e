package auth

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chetanchaudhari789/MOBO-sub004/audit"
	"github.com/chetanchaudhari789/MOBO-sub004/fault"
	"github.com/chetanchaudhari789/MOBO-sub004/invite"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
	"github.com/chetanchaudhari789/MOBO-sub004/wallet"
)

var mobilePattern = regexp.MustCompile(`^[6-9]\d{9}$`)

// Registrar creates accounts. Buyer and mediator sign-ups burn an
// invite inside the same transaction that creates the user, so a
// failed registration never consumes an invite use.
type Registrar struct {
	db      *gorm.DB
	auth    *Service
	invites *invite.Resolver
	ledger  *wallet.Ledger
	auditor *audit.Writer
}

// NewRegistrar constructs the registrar.
func NewRegistrar(db *gorm.DB, auth *Service, invites *invite.Resolver, ledger *wallet.Ledger, auditor *audit.Writer) *Registrar {
	return &Registrar{db: db, auth: auth, invites: invites, ledger: ledger, auditor: auditor}
}

// RegisterInput is an invite-gated sign-up.
type RegisterInput struct {
	Name       string
	Mobile     string
	Password   string
	Role       models.Role
	InviteCode string
}

// Register creates a buyer or mediator account from an invite.
func (r *Registrar) Register(in RegisterInput) (*models.User, *TokenPair, error) {
	if in.Role != models.RoleBuyer && in.Role != models.RoleMediator {
		return nil, nil, fault.Forbidden("role not open for self-registration")
	}
	if !mobilePattern.MatchString(in.Mobile) {
		return nil, nil, fault.InvalidCredentials()
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, nil, err
	}

	user := &models.User{
		ID:           uuid.New(),
		Name:         strings.TrimSpace(in.Name),
		Role:         in.Role,
		Roles:        string(in.Role),
		Status:       models.UserActive,
		Mobile:       in.Mobile,
		PasswordHash: hash,
	}
	if in.Role == models.RoleMediator {
		user.MediatorCode = "M-" + strings.ToUpper(uuid.NewString()[:8])
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		inv, err := r.invites.Consume(invite.ConsumeInput{
			Code:                in.InviteCode,
			Role:                in.Role,
			UsedByUserID:        user.ID,
			RequireActiveIssuer: true,
			Tx:                  tx,
		})
		if err != nil {
			return err
		}
		user.ParentCode = inv.ParentCode
		if err := tx.Create(user).Error; err != nil {
			if isUniqueViolation(err) {
				return fault.InvalidCredentials()
			}
			return err
		}
		r.auditor.Write(tx, audit.Entry{
			Actor:      &user.ID,
			Action:     "USER_REGISTERED",
			EntityType: "user",
			EntityID:   user.ID.String(),
			Metadata:   map[string]any{"role": in.Role, "inviteCode": in.InviteCode},
		})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if _, err := r.ledger.EnsureWallet(user.ID); err != nil {
		return nil, nil, err
	}
	pair, err := r.auth.minter.Mint(user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// RegisterOpsInput creates a username-authenticated back-office account.
type RegisterOpsInput struct {
	Name     string
	Mobile   string
	Username string
	Password string
	Role     models.Role // ops or agency
	Actor    uuid.UUID
}

// RegisterOps is the admin-only path for ops and agency accounts.
func (r *Registrar) RegisterOps(in RegisterOpsInput) (*models.User, error) {
	if in.Role != models.RoleOps && in.Role != models.RoleAgency {
		return nil, fault.Forbidden("role not allowed on this path")
	}
	if strings.TrimSpace(in.Username) == "" {
		return nil, fault.UsernameRequired()
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	username := strings.TrimSpace(in.Username)
	user := &models.User{
		ID:           uuid.New(),
		Name:         strings.TrimSpace(in.Name),
		Role:         in.Role,
		Roles:        string(in.Role),
		Status:       models.UserActive,
		Mobile:       in.Mobile,
		Username:     &username,
		PasswordHash: hash,
	}
	if in.Role == models.RoleAgency {
		user.MediatorCode = "A-" + strings.ToUpper(uuid.NewString()[:8])
	}
	err = r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			if isUniqueViolation(err) {
				return fault.InvalidCredentials()
			}
			return err
		}
		r.auditor.Write(tx, audit.Entry{
			Actor:      &in.Actor,
			Action:     "USER_REGISTERED",
			EntityType: "user",
			EntityID:   user.ID.String(),
			Metadata:   map[string]any{"role": in.Role},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := r.ledger.EnsureWallet(user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

// RegisterBrandInput creates a brand account with its own code.
type RegisterBrandInput struct {
	Name      string
	Mobile    string
	Username  string
	Password  string
	BrandName string
	Actor     uuid.UUID
}

// RegisterBrand is the admin-only path for brand accounts.
func (r *Registrar) RegisterBrand(in RegisterBrandInput) (*models.User, error) {
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		ID:           uuid.New(),
		Name:         strings.TrimSpace(in.BrandName),
		Role:         models.RoleBrand,
		Roles:        string(models.RoleBrand),
		Status:       models.UserActive,
		Mobile:       in.Mobile,
		PasswordHash: hash,
		BrandCode:    "B-" + strings.ToUpper(uuid.NewString()[:8]),
	}
	if username := strings.TrimSpace(in.Username); username != "" {
		user.Username = &username
	}
	err = r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			if isUniqueViolation(err) {
				return fault.InvalidCredentials()
			}
			return err
		}
		r.auditor.Write(tx, audit.Entry{
			Actor:      &in.Actor,
			Action:     "USER_REGISTERED",
			EntityType: "user",
			EntityID:   user.ID.String(),
			Metadata:   map[string]any{"role": models.RoleBrand},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := r.ledger.EnsureWallet(user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
