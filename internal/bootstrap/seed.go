package bootstrap

import (
	"errors"

	"anoa.com/trafficexchange/internal/entity"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&entity.User{},
		&entity.Site{},
		&entity.ViewSession{},
		&entity.PointsLedgerEntry{},
		&entity.ReferralBonus{},
		&entity.EarningsLedgerEntry{},
		&entity.FraudFlag{},
		&entity.RateLimitKey{},
	)
}

// SeedDevelopment creates an admin account and one active site so a fresh
// development database can serve the view flow end to end.
func SeedDevelopment(db *gorm.DB, log *zap.Logger) error {
	var admin entity.User
	err := db.Where("username = ?", "admin").First(&admin).Error
	switch {
	case err == nil:
		log.Info("admin user already exists, skipping seed")
		return nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	admin = entity.User{
		Username:     "admin",
		Role:         entity.RoleAdmin,
		ReferralCode: "ADMIN",
	}
	if err := db.Create(&admin).Error; err != nil {
		return err
	}

	site := entity.Site{
		OwnerID: admin.ID,
		URL:     "https://example.com",
		Active:  true,
	}
	if err := db.Create(&site).Error; err != nil {
		return err
	}

	log.Info("seeded development data",
		zap.String("admin_id", admin.ID.String()),
		zap.String("site_id", site.ID.String()))
	return nil
}
