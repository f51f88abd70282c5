package conversion

import (
	"convtrack/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("conversion.service",
	fx.Provide(
		NewStore,
		NewAudit,
		NewProcessor,
		NewSweeper,
		NewHandler,
		NewScheduler,
		NewTaskHandler,
	),
	fx.Invoke(
		autoMigrate,
		RegisterRoutes,
		RegisterTaskHandlers,
		StartScheduler,
	),
)

func autoMigrate(db *gorm.DB, cfg *config.Config) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}
	if err := db.AutoMigrate(&PendingConversion{}, &DecisionLog{}, &PostbackAttempt{}); err != nil {
		zap.L().Error("failed to migrate conversion tables", zap.Error(err))
		return err
	}
	return nil
}
