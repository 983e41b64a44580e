package auth

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chetanchaudhari789/MOBO-sub004/audit"
	"github.com/chetanchaudhari789/MOBO-sub004/fault"
	"github.com/chetanchaudhari789/MOBO-sub004/invite"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
	"github.com/chetanchaudhari789/MOBO-sub004/observability"
	"github.com/chetanchaudhari789/MOBO-sub004/wallet"
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

type authFixture struct {
	db        *gorm.DB
	service   *Service
	registrar *Registrar
	invites   *invite.Resolver
	ledger    *wallet.Ledger
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	db := setupTestDB(t)
	logger := slog.Default()
	sink := observability.NewSink(observability.SinkConfig{Logger: logger})
	t.Cleanup(func() { sink.Close() })
	auditor := audit.NewWriter(db, logger)
	minter := NewMinter("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour)
	service := New(Config{
		DB:                db,
		Minter:            minter,
		Auditor:           auditor,
		Sink:              sink,
		MaxFailedAttempts: 3,
		LockoutDuration:   15 * time.Minute,
	})
	invites := invite.New(db, auditor)
	ledger := wallet.New(db, auditor, sink, 100_000_000)
	registrar := NewRegistrar(db, service, invites, ledger, auditor)
	return &authFixture{db: db, service: service, registrar: registrar, invites: invites, ledger: ledger}
}

func (f *authFixture) seedUser(t *testing.T, role models.Role, mobile, username, password string) *models.User {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := models.User{
		ID:           uuid.New(),
		Name:         string(role) + " user",
		Mobile:       mobile,
		Role:         role,
		Roles:        string(role),
		Status:       models.UserActive,
		PasswordHash: hash,
	}
	if username != "" {
		user.Username = &username
	}
	if err := f.db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return &user
}

func TestLoginAndTokenRoundTrip(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, models.RoleBuyer, "9876543210", "", "s3cret-pass")

	user, pair, err := f.service.Login(LoginInput{Mobile: "9876543210", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("token pair incomplete")
	}

	requester, err := f.service.Resolve("Bearer " + pair.AccessToken)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if requester.UserID != user.ID {
		t.Fatalf("resolved wrong user: %s", requester.UserID)
	}
	if requester.IsPrivileged() {
		t.Fatal("buyer must not be privileged")
	}

	if _, _, err := f.service.Refresh(pair.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}
}

func TestTokenKindIsEnforced(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, models.RoleBuyer, "9876543210", "", "s3cret-pass")

	_, pair, err := f.service.Login(LoginInput{Mobile: "9876543210", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := f.service.Resolve("Bearer " + pair.RefreshToken); !fault.Is(err, "UNAUTHENTICATED") {
		t.Fatalf("refresh token must not pass as access token, got %v", err)
	}
	if _, _, err := f.service.Refresh(pair.AccessToken); !fault.Is(err, "UNAUTHENTICATED") {
		t.Fatalf("access token must not pass as refresh token, got %v", err)
	}
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, models.RoleBuyer, "9876543210", "", "s3cret-pass")

	for i := 0; i < 3; i++ {
		_, _, err := f.service.Login(LoginInput{Mobile: "9876543210", Password: "wrong"})
		if !fault.Is(err, "INVALID_CREDENTIALS") {
			t.Fatalf("attempt %d: expected INVALID_CREDENTIALS, got %v", i, err)
		}
	}

	// Even the correct password is refused while locked.
	_, _, err := f.service.Login(LoginInput{Mobile: "9876543210", Password: "s3cret-pass"})
	if !fault.Is(err, "ACCOUNT_LOCKED") {
		t.Fatalf("expected ACCOUNT_LOCKED, got %v", err)
	}

	// Past the lockout window the counter resets on success.
	f.service.SetNowFunc(func() time.Time { return time.Now().Add(16 * time.Minute) })
	user, _, err := f.service.Login(LoginInput{Mobile: "9876543210", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("login after lockout: %v", err)
	}
	var fresh models.User
	if err := f.db.Where("id = ?", user.ID).First(&fresh).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if fresh.FailedLoginAttempts != 0 || fresh.LockoutUntil != nil {
		t.Fatalf("lockout state not cleared: attempts=%d until=%v", fresh.FailedLoginAttempts, fresh.LockoutUntil)
	}
}

func TestOpsMobileLoginRequiresUsername(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, models.RoleOps, "9876500000", "back-office", "s3cret-pass")

	_, _, err := f.service.Login(LoginInput{Mobile: "9876500000", Password: "s3cret-pass"})
	if !fault.Is(err, "USERNAME_REQUIRED") {
		t.Fatalf("expected USERNAME_REQUIRED, got %v", err)
	}
	if _, _, err := f.service.Login(LoginInput{Username: "back-office", Password: "s3cret-pass"}); err != nil {
		t.Fatalf("username login: %v", err)
	}
}

func TestResolveReflectsSuspensionImmediately(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, models.RoleBuyer, "9876543210", "", "s3cret-pass")

	_, pair, err := f.service.Login(LoginInput{Mobile: "9876543210", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := f.db.Model(&models.User{}).Where("id = ?", user.ID).
		Update("status", models.UserSuspended).Error; err != nil {
		t.Fatalf("suspend: %v", err)
	}
	_, err = f.service.Resolve("Bearer " + pair.AccessToken)
	if !fault.Is(err, "UNAUTHENTICATED") {
		t.Fatalf("expected UNAUTHENTICATED for suspended user, got %v", err)
	}
}

func TestRegisterConsumesInviteAndBuildsLineage(t *testing.T) {
	f := newAuthFixture(t)
	agency := f.seedUser(t, models.RoleAgency, "9000000001", "agency-1", "s3cret-pass")
	agency.MediatorCode = "AG-1"
	if err := f.db.Model(&models.User{}).Where("id = ?", agency.ID).
		Update("mediator_code", "AG-1").Error; err != nil {
		t.Fatalf("set agency code: %v", err)
	}

	inv, err := f.invites.Create(invite.CreateInput{
		Role:       models.RoleMediator,
		ParentCode: "AG-1",
		CreatedBy:  agency.ID,
	})
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	mediator, pair, err := f.registrar.Register(RegisterInput{
		Name:       "New Mediator",
		Mobile:     "9123456780",
		Password:   "s3cret-pass",
		Role:       models.RoleMediator,
		InviteCode: inv.Code,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if mediator.ParentCode != "AG-1" {
		t.Fatalf("parent code %q, want AG-1", mediator.ParentCode)
	}
	if mediator.MediatorCode == "" {
		t.Fatal("mediator code not issued")
	}
	if pair.AccessToken == "" {
		t.Fatal("sign-up must return tokens")
	}
	if _, err := f.ledger.Balance(mediator.ID); err != nil {
		t.Fatalf("wallet not provisioned: %v", err)
	}

	// The single-use invite is spent.
	_, err = f.invites.Consume(invite.ConsumeInput{
		Code:         inv.Code,
		Role:         models.RoleMediator,
		UsedByUserID: uuid.New(),
	})
	if !fault.Is(err, "INVALID_INVITE") {
		t.Fatalf("expected spent invite, got %v", err)
	}
}

func TestRegisterRejectsBadMobileAndClosedRoles(t *testing.T) {
	f := newAuthFixture(t)

	_, _, err := f.registrar.Register(RegisterInput{
		Name: "X", Mobile: "12345", Password: "pw", Role: models.RoleBuyer, InviteCode: "ZZZZZZZZ",
	})
	if !fault.Is(err, "INVALID_CREDENTIALS") {
		t.Fatalf("expected INVALID_CREDENTIALS for bad mobile, got %v", err)
	}
	_, _, err = f.registrar.Register(RegisterInput{
		Name: "X", Mobile: "9123456780", Password: "pw", Role: models.RoleAdmin, InviteCode: "ZZZZZZZZ",
	})
	if !fault.Is(err, "FORBIDDEN") {
		t.Fatalf("expected FORBIDDEN for admin self-signup, got %v", err)
	}
}

func TestCanAccessOrderGates(t *testing.T) {
	f := newAuthFixture(t)
	buyer := f.seedUser(t, models.RoleBuyer, "9876543210", "", "pw")
	stranger := f.seedUser(t, models.RoleBuyer, "9876543211", "", "pw")
	mediator := f.seedUser(t, models.RoleMediator, "9876543212", "", "pw")
	f.db.Model(&models.User{}).Where("id = ?", mediator.ID).Update("mediator_code", "MD-1")
	mediator.MediatorCode = "MD-1"
	agency := f.seedUser(t, models.RoleAgency, "9876543213", "", "pw")
	f.db.Model(&models.User{}).Where("id = ?", agency.ID).Update("mediator_code", "AG-1")
	agency.MediatorCode = "AG-1"
	f.db.Model(&models.User{}).Where("id = ?", mediator.ID).Update("parent_code", "AG-1")

	ord := &models.Order{
		ID:          uuid.New(),
		UserID:      buyer.ID,
		ManagerName: "MD-1",
	}

	req := func(u *models.User) *Requester {
		return &Requester{UserID: u.ID, Roles: u.RoleList(), User: u}
	}
	if !f.service.CanAccessOrder(req(buyer), ord) {
		t.Fatal("buyer must see own order")
	}
	if f.service.CanAccessOrder(req(stranger), ord) {
		t.Fatal("stranger must not see order")
	}
	if !f.service.CanAccessOrder(req(mediator), ord) {
		t.Fatal("managing mediator must see order")
	}
	if !f.service.CanAccessOrder(req(agency), ord) {
		t.Fatal("upstream agency must see order")
	}
}
