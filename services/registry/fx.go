package registry

import (
	"convtrack/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("registry.service",
	fx.Provide(NewResolver),
	fx.Invoke(autoMigrate),
)

func autoMigrate(db *gorm.DB, cfg *config.Config) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	if err := db.AutoMigrate(&Vertical{}, &Offer{}); err != nil {
		zap.L().Error("failed to migrate registry tables", zap.Error(err))
		return err
	}
	return nil
}
