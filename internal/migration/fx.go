package migration

import (
	"context"

	bookdomain "github.com/smallbiznis/bookvault/internal/book/domain"
	"github.com/smallbiznis/bookvault/internal/config"
	orderdomain "github.com/smallbiznis/bookvault/internal/order/domain"
	paymentdomain "github.com/smallbiznis/bookvault/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func runOnStart(lc fx.Lifecycle, cfg config.Config, gdb *gorm.DB, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_ = ctx
			if cfg.DBType == "postgres" {
				sqlDB, err := gdb.DB()
				if err != nil {
					return err
				}
				if err := RunMigrations(sqlDB); err != nil {
					return err
				}
				log.Info("schema migrations applied")
				return nil
			}

			// Non-postgres deployments (local sqlite, mysql) rely on model
			// AutoMigrate instead of versioned SQL.
			if err := gdb.AutoMigrate(
				&bookdomain.Book{},
				&orderdomain.Order{},
				&orderdomain.Purchase{},
				&orderdomain.RateLimitBucket{},
				&paymentdomain.WebhookEvent{},
				&paymentdomain.PaymentLog{},
				&paymentdomain.Refund{},
			); err != nil {
				return err
			}
			log.Info("schema auto-migrated", zap.String("db", cfg.DBType))
			return nil
		},
	})
}

var Module = fx.Module("migration",
	fx.Invoke(runOnStart),
)
