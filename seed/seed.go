// Package seed provisions opt-in fixture data before the server starts
// accepting traffic: the bootstrap admin, end-to-end test accounts, and
// a dev dataset.
package seed

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chetanchaudhari789/MOBO-sub004/auth"
	"github.com/chetanchaudhari789/MOBO-sub004/config"
	"github.com/chetanchaudhari789/MOBO-sub004/models"
)

// Run executes the seeding stages enabled in cfg. Dev fixtures are
// refused in production.
func Run(db *gorm.DB, cfg *config.Config, logger *slog.Logger) error {
	if cfg.SeedAdmin {
		if err := Admin(db, cfg); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		logger.Info("admin bootstrap complete")
	}
	if cfg.SeedE2E {
		if err := E2E(db); err != nil {
			return fmt.Errorf("seed e2e: %w", err)
		}
		logger.Info("e2e fixtures seeded")
	}
	if cfg.SeedDev {
		if cfg.IsProduction() {
			return errors.New("dev fixtures refused in production")
		}
		if err := Dev(db); err != nil {
			return fmt.Errorf("seed dev: %w", err)
		}
		logger.Info("dev fixtures seeded")
	}
	return nil
}

// Admin creates the bootstrap admin account if it does not exist.
func Admin(db *gorm.DB, cfg *config.Config) error {
	if cfg.AdminSeedUsername == "" || cfg.AdminSeedPassword == "" {
		return errors.New("admin seed credentials not configured")
	}
	var count int64
	if err := db.Model(&models.User{}).
		Where("username = ?", cfg.AdminSeedUsername).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	hash, err := auth.HashPassword(cfg.AdminSeedPassword)
	if err != nil {
		return err
	}
	username := cfg.AdminSeedUsername
	admin := models.User{
		ID:           uuid.New(),
		Name:         cfg.AdminSeedName,
		Role:         models.RoleAdmin,
		Roles:        string(models.RoleAdmin) + "," + string(models.RoleOps),
		Status:       models.UserActive,
		Mobile:       cfg.AdminSeedMobile,
		Username:     &username,
		PasswordHash: hash,
	}
	return db.Create(&admin).Error
}

// E2E provisions the deterministic accounts the end-to-end suite logs
// in with: one of each role, wired into a single partner chain.
func E2E(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		agency, err := ensureUser(tx, models.User{
			Name:         "E2E Agency",
			Role:         models.RoleAgency,
			Status:       models.UserActive,
			Mobile:       "9000000001",
			MediatorCode: "AG-E2E",
		}, "e2e-agency")
		if err != nil {
			return err
		}
		mediator, err := ensureUser(tx, models.User{
			Name:         "E2E Mediator",
			Role:         models.RoleMediator,
			Status:       models.UserActive,
			Mobile:       "9000000002",
			MediatorCode: "MD-E2E",
			ParentCode:   agency.MediatorCode,
		}, "")
		if err != nil {
			return err
		}
		if _, err := ensureUser(tx, models.User{
			Name:       "E2E Buyer",
			Role:       models.RoleBuyer,
			Status:     models.UserActive,
			Mobile:     "9000000003",
			ParentCode: mediator.MediatorCode,
		}, ""); err != nil {
			return err
		}
		brand, err := ensureUser(tx, models.User{
			Name:              "E2E Brand",
			Role:              models.RoleBrand,
			Status:            models.UserActive,
			Mobile:            "9000000004",
			BrandCode:         "BR-E2E",
			ConnectedAgencies: agency.MediatorCode,
		}, "e2e-brand")
		if err != nil {
			return err
		}
		return ensureWallet(tx, brand.ID, 10_000_00)
	})
}

// Dev layers a small browsable dataset on top of the e2e chain.
func Dev(db *gorm.DB) error {
	if err := E2E(db); err != nil {
		return err
	}
	return db.Transaction(func(tx *gorm.DB) error {
		var brand models.User
		if err := tx.Where("brand_code = ?", "BR-E2E").First(&brand).Error; err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&models.Campaign{}).
			Where("brand_user_id = ?", brand.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		dealType := models.DealRating
		c := models.Campaign{
			ID:                 uuid.New(),
			Title:              "Dev Sample Campaign",
			BrandUserID:        brand.ID,
			ProductID:          "DEV-SKU-1",
			BrandName:          brand.Name,
			Platform:           "amazon",
			OriginalPricePaise: 149900,
			PricePaise:         99900,
			PayoutPaise:        15000,
			ReturnWindowDays:   14,
			DealType:           &dealType,
			TotalSlots:         50,
			Status:             models.CampaignActive,
		}
		if err := tx.Create(&c).Error; err != nil {
			return err
		}
		deal := models.Deal{
			ID:              uuid.New(),
			CampaignID:      c.ID,
			MediatorCode:    "MD-E2E",
			PricePaise:      c.PricePaise,
			CommissionPaise: 5000,
			Active:          true,
		}
		return tx.Create(&deal).Error
	})
}

func ensureUser(db *gorm.DB, user models.User, username string) (*models.User, error) {
	var existing models.User
	err := db.Where("mobile = ?", user.Mobile).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	hash, err := auth.HashPassword("e2e-password")
	if err != nil {
		return nil, err
	}
	user.ID = uuid.New()
	user.Roles = string(user.Role)
	user.PasswordHash = hash
	if username != "" {
		user.Username = &username
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, err
	}
	if err := ensureWallet(db, user.ID, 0); err != nil {
		return nil, err
	}
	return &user, nil
}

func ensureWallet(db *gorm.DB, userID uuid.UUID, balancePaise int64) error {
	var existing models.Wallet
	err := db.Where("owner_user_id = ?", userID).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	wallet := models.Wallet{
		ID:             uuid.New(),
		OwnerUserID:    userID,
		AvailablePaise: balancePaise,
	}
	return db.Create(&wallet).Error
}
