// Package auth resolves who is calling and what they may touch: login
// with lockout, token issuance, and the per-request requester derived
// from a verified bearer token plus a fresh User row read.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/chetanchaudhari789/MOBO-sub004/audit"
	"github.com/chetanchaudhari789/MOBO-sub004/fault"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
	"github.com/chetanchaudhari789/MOBO-sub004/observability"
)

// Service authenticates users and resolves requesters.
type Service struct {
	db      *gorm.DB
	minter  *Minter
	auditor *audit.Writer
	sink    *observability.Sink

	maxFailedAttempts int
	lockoutDuration   time.Duration
	now               func() time.Time
}

// Config bundles service dependencies.
type Config struct {
	DB                *gorm.DB
	Minter            *Minter
	Auditor           *audit.Writer
	Sink              *observability.Sink
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// New constructs the auth service.
func New(cfg Config) *Service {
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = 7
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = 15 * time.Minute
	}
	return &Service{
		db:                cfg.DB,
		minter:            cfg.Minter,
		auditor:           cfg.Auditor,
		sink:              cfg.Sink,
		maxFailedAttempts: cfg.MaxFailedAttempts,
		lockoutDuration:   cfg.LockoutDuration,
		now:               time.Now,
	}
}

// SetNowFunc overrides the time source for tests.
func (s *Service) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// HashPassword derives the stored credential hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// LoginInput is one credential presentation.
type LoginInput struct {
	Mobile   string
	Username string
	Password string
	IP       string
}

// Login authenticates by mobile or username. Admin and ops accounts
// must present a username; a mobile login for them fails
// USERNAME_REQUIRED before the password is even checked.
func (s *Service) Login(in LoginInput) (*models.User, *TokenPair, error) {
	var user models.User
	var err error
	switch {
	case in.Username != "":
		err = s.db.Where("username = ?", in.Username).First(&user).Error
	case in.Mobile != "":
		err = s.db.Where("mobile = ?", in.Mobile).First(&user).Error
	default:
		return nil, nil, fault.InvalidCredentials()
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fault.InvalidCredentials()
		}
		return nil, nil, err
	}

	if in.Username == "" && (user.HasRole(models.RoleAdmin) || user.HasRole(models.RoleOps)) {
		return nil, nil, fault.UsernameRequired()
	}

	now := s.now().UTC()
	if user.LockoutUntil != nil && now.Before(*user.LockoutUntil) {
		s.sink.Emit(observability.Event{
			Level:    observability.LevelWarn,
			Domain:   observability.DomainSecurity,
			Category: observability.CategorySecurity,
			Name:     "BRUTE_FORCE_DETECTED",
			UserID:   user.ID.String(),
			IP:       in.IP,
		})
		return nil, nil, fault.AccountLocked()
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)) != nil {
		if err := s.recordFailure(&user, in.IP); err != nil {
			return nil, nil, err
		}
		return nil, nil, fault.InvalidCredentials()
	}

	if user.Status != models.UserActive {
		return nil, nil, fault.UserNotActive()
	}

	// Success clears the failure counter and any expired lockout.
	if user.FailedLoginAttempts > 0 || user.LockoutUntil != nil {
		if err := s.db.Model(&models.User{}).Where("id = ?", user.ID).
			Updates(map[string]any{
				"failed_login_attempts": 0,
				"lockout_until":         nil,
			}).Error; err != nil {
			return nil, nil, err
		}
		user.FailedLoginAttempts = 0
		user.LockoutUntil = nil
	}

	pair, err := s.minter.Mint(&user)
	if err != nil {
		return nil, nil, err
	}
	s.auditor.Write(nil, audit.Entry{
		Actor:      &user.ID,
		Action:     "LOGIN",
		EntityType: "user",
		EntityID:   user.ID.String(),
		IP:         in.IP,
	})
	s.sink.Emit(observability.Event{
		Domain:   observability.DomainAuth,
		Category: observability.CategoryAuthentication,
		Name:     "LOGIN_SUCCESS",
		UserID:   user.ID.String(),
		Role:     string(user.Role),
		IP:       in.IP,
	})
	return &user, pair, nil
}

func (s *Service) recordFailure(user *models.User, ip string) error {
	attempts := user.FailedLoginAttempts + 1
	updates := map[string]any{"failed_login_attempts": attempts}
	if attempts >= s.maxFailedAttempts {
		until := s.now().UTC().Add(s.lockoutDuration)
		updates["lockout_until"] = until
	}
	if err := s.db.Model(&models.User{}).Where("id = ?", user.ID).
		Updates(updates).Error; err != nil {
		return err
	}
	s.sink.Emit(observability.Event{
		Level:    observability.LevelWarn,
		Domain:   observability.DomainAuth,
		Category: observability.CategoryAuthentication,
		Name:     "LOGIN_FAILED",
		UserID:   user.ID.String(),
		IP:       ip,
		Metadata: map[string]any{"attempts": attempts},
	})
	return nil
}

// Refresh exchanges a valid refresh token for a fresh pair.
func (s *Service) Refresh(refreshToken string) (*models.User, *TokenPair, error) {
	userID, _, err := s.minter.Verify(refreshToken, TokenRefresh)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.loadActive(userID)
	if err != nil {
		return nil, nil, err
	}
	pair, err := s.minter.Mint(user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Requester is the resolved caller identity for one request.
type Requester struct {
	UserID uuid.UUID
	Roles  []models.Role
	User   *models.User
}

// IsPrivileged reports admin or ops membership.
func (r *Requester) IsPrivileged() bool {
	for _, role := range r.Roles {
		if role == models.RoleAdmin || role == models.RoleOps {
			return true
		}
	}
	return false
}

// HasRole reports membership of one role.
func (r *Requester) HasRole(role models.Role) bool {
	for _, candidate := range r.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

// Resolve verifies a bearer token and re-reads the User row so role or
// status changes take effect immediately.
func (s *Service) Resolve(authorization string) (*Requester, error) {
	if !strings.HasPrefix(authorization, "Bearer ") {
		return nil, fault.Unauthenticated("bearer token required")
	}
	token := strings.TrimSpace(strings.TrimPrefix(authorization, "Bearer "))
	if token == "" {
		return nil, fault.Unauthenticated("bearer token required")
	}
	userID, _, err := s.minter.Verify(token, TokenAccess)
	if err != nil {
		return nil, err
	}
	user, err := s.loadActive(userID)
	if err != nil {
		return nil, err
	}
	return &Requester{UserID: user.ID, Roles: user.RoleList(), User: user}, nil
}

func (s *Service) loadActive(userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.Unauthenticated("user no longer exists")
		}
		return nil, err
	}
	if user.Status != models.UserActive {
		return nil, fault.Unauthenticated("user is not active")
	}
	return &user, nil
}

// CanAccessOrder implements the per-role order visibility gates.
func (s *Service) CanAccessOrder(r *Requester, ord *models.Order) bool {
	if r.IsPrivileged() {
		return true
	}
	switch {
	case r.HasRole(models.RoleBuyer) && ord.UserID == r.UserID:
		return true
	case r.HasRole(models.RoleMediator) && ord.ManagerName == r.User.MediatorCode:
		return true
	case r.HasRole(models.RoleBrand) && (ord.BrandUserID == r.UserID || ord.BrandName == r.User.Name):
		return true
	case r.HasRole(models.RoleAgency):
		// Agency sees orders under any mediator in its tree.
		var count int64
		if err := s.db.Model(&models.User{}).
			Where("mediator_code = ? AND parent_code = ?", ord.ManagerName, r.User.MediatorCode).
			Count(&count).Error; err != nil {
			return false
		}
		return count > 0
	}
	return false
}

// CanActFor enforces exactly-self-or-privileged.
func (r *Requester) CanActFor(userID uuid.UUID) bool {
	return r.UserID == userID || r.IsPrivileged()
}
